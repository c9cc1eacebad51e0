// Package wire defines the push-channel wire protocol for courier: the
// frame envelope exchanged over the render service's messaging socket, the
// codecs that serialize it, and the strict parser that turns inbound event
// payloads into typed records.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"go.jetify.com/typeid/v2"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the message envelope. Every message exchanged over the push
// channel is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "subscribe").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Channel identifies the subscription channel for event/subscribe frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Data carries the method- or event-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// MethodAuth performs the login handshake.
	MethodAuth = "auth"

	// MethodSubscribe attaches the session to a job-scoped channel.
	MethodSubscribe = "subscribe"

	// MethodUnsubscribe detaches the session from a channel.
	MethodUnsubscribe = "unsubscribe"
)

// ── Channel naming ──────────────────────────────────

// ChannelPrefix is the fixed exchange prefix for job-scoped channels.
// The queue name for a job is derived deterministically from it so that
// client and server agree on the channel without negotiation.
const ChannelPrefix = "render"

// ChannelForJob returns the subscription channel name for a job.
func ChannelForJob(jobID string) string {
	return ChannelPrefix + ":" + jobID
}

// ── Handshake payloads ──────────────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default), "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// SubscribeRequest subscribes the session to a channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// ── Frame constructors ──────────────────────────────

// NewRequestFrame creates a request frame with a marshaled payload.
func NewRequestFrame(method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       NewFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// framePrefix is the TypeID prefix for frame identifiers.
const framePrefix = "frm"

// NewFrameID returns a new globally unique, K-sortable frame ID.
func NewFrameID() string {
	tid, err := typeid.Generate(framePrefix)
	if err != nil {
		panic(fmt.Sprintf("wire: invalid frame prefix %q: %v", framePrefix, err))
	}
	return tid.String()
}
