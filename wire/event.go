package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind identifies the kind of job lifecycle event carried by an
// event frame. The set is closed: inbound payloads are parsed into
// exactly one of these kinds or rejected with a ParseError. Kinds the
// client does not recognize map to KindUnknown and are ignored, so the
// server can add event types without breaking older clients.
type EventKind string

const (
	// KindComplete signals that no further events will arrive for the job.
	KindComplete EventKind = "experience.complete"

	// KindStatus carries a human-readable render progress update.
	KindStatus EventKind = "experience.status"

	// KindScene delivers the finished experience record.
	KindScene EventKind = "experience.scene"

	// KindUnknown is any server-side event type this client predates.
	KindUnknown EventKind = ""
)

// ModerationStatus is the server-assigned content classification.
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// Experience is the server-side result record for one render job.
type Experience struct {
	ID               string           `json:"id"`
	Rendering        bool             `json:"rendering"`
	ModerationStatus ModerationStatus `json:"moderation_status"`
	Output           map[string]any   `json:"output,omitempty"`

	// SceneID and ActID are optional routing identifiers forwarded at
	// stream-trigger time in some deployments.
	SceneID string `json:"scene_id,omitempty"`
	ActID   string `json:"act_id,omitempty"`
}

// Resolved reports whether the experience carries a final output.
func (e *Experience) Resolved() bool {
	return !e.Rendering && len(e.Output) > 0
}

// Rejected reports whether moderation rejected the experience.
// A rejected record must never be delivered as a success.
func (e *Experience) Rejected() bool {
	return e.ModerationStatus == ModerationRejected
}

// JobEvent is a fully parsed push event for one render job.
// Exactly one of Status or Experience is populated, depending on Kind.
type JobEvent struct {
	Kind       EventKind
	Status     string      // set for KindStatus
	Experience *Experience // set for KindScene
}

// ParseError indicates a payload that failed to parse as a well-formed
// job event. Parse failures are surfaced, never retried or dropped.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: parse event: %s: %v", e.Reason, e.Err)
	}
	return "wire: parse event: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// rawEvent mirrors the server's event payload before validation.
type rawEvent struct {
	Event      string      `json:"event"`
	Status     string      `json:"status,omitempty"`
	Experience *Experience `json:"experience,omitempty"`
}

// ParseEvent validates an event frame payload and produces a typed
// JobEvent. It is the single parse/validate step for inbound payloads:
// callers get either a well-formed record or a *ParseError, never
// partial access into an untyped structure.
func ParseEvent(data []byte) (*JobEvent, error) {
	if len(data) == 0 {
		return nil, &ParseError{Reason: "empty payload"}
	}

	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Reason: "malformed payload", Err: err}
	}
	if raw.Event == "" {
		return nil, &ParseError{Reason: "missing event tag"}
	}

	switch EventKind(raw.Event) {
	case KindComplete:
		return &JobEvent{Kind: KindComplete}, nil

	case KindStatus:
		if raw.Status == "" {
			return nil, &ParseError{Reason: "status event without status"}
		}
		return &JobEvent{Kind: KindStatus, Status: raw.Status}, nil

	case KindScene:
		if raw.Experience == nil {
			return nil, &ParseError{Reason: "scene event without experience"}
		}
		if err := validateExperience(raw.Experience); err != nil {
			return nil, err
		}
		return &JobEvent{Kind: KindScene, Experience: raw.Experience}, nil

	default:
		return &JobEvent{Kind: KindUnknown}, nil
	}
}

// validateExperience enforces the structural invariants of an experience
// record. Moderation rejection is NOT a parse error; classification of
// rejected content happens one layer up.
func validateExperience(e *Experience) error {
	if e.ID == "" {
		return &ParseError{Reason: "experience without id"}
	}
	switch e.ModerationStatus {
	case ModerationPending, ModerationApproved, ModerationRejected:
	default:
		return &ParseError{Reason: fmt.Sprintf("unknown moderation status %q", e.ModerationStatus)}
	}
	// Output is only valid once rendering has finished.
	if e.Rendering && len(e.Output) > 0 {
		return &ParseError{Reason: "output present on a rendering experience"}
	}
	return nil
}

// serverFailureStatus is the sentinel status string the render service
// emits when a job dies server-side. It is an error, not a progress
// update.
const serverFailureStatus = "server failure"

// IsServerFailure reports whether a status message is the server-side
// failure sentinel.
func IsServerFailure(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), serverFailureStatus)
}
