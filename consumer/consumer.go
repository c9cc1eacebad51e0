// Package consumer implements the push consumer for one render job:
// reconnect policy over the transport socket plus classification of
// inbound frames into typed delivery callbacks.
//
// A Consumer moves through the states
//
//	Idle → Connecting → Subscribed → (Delivering | Reconnecting) → Closed
//
// Reconnects happen at a fixed cadence up to a hard ceiling. The retry
// counter belongs to the instance and is never reset; recovering from an
// exhausted budget requires constructing a fresh Consumer.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.jetify.com/typeid/v2"

	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/transport"
	"github.com/xraph/courier/wire"
)

// State is the consumer lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribed
	StateDelivering
	StateReconnecting
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDelivering:
		return "delivering"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives classified delivery events. The set of methods is
// closed so a new server event kind cannot silently no-op its way past
// the compiler.
type Handler interface {
	// OnComplete is called when the server signals that no further
	// events will arrive for the job. The consumer has already torn
	// itself down gracefully.
	OnComplete()

	// OnStatus is called for each render progress update.
	OnStatus(msg string)

	// OnExperience is called with the terminal success record. Rejected
	// experiences never reach it; they go to OnError.
	OnExperience(exp *wire.Experience)

	// OnError is called for parse errors, server-side failures,
	// moderation rejections, and terminal socket failures.
	OnError(err error)
}

// SocketFailureError is the terminal error raised when the reconnect
// budget is exhausted. The owning pipe treats it as the trigger for a
// permanent fallback to polling.
type SocketFailureError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *SocketFailureError) Error() string {
	return fmt.Sprintf("consumer: push channel for job %s failed after %d reconnect attempts: %v", e.JobID, e.Attempts, e.Err)
}

func (e *SocketFailureError) Unwrap() error { return e.Err }

// ModerationError is raised when the finished experience was rejected by
// moderation. Always terminal, never a success.
type ModerationError struct {
	Experience *wire.Experience
}

func (e *ModerationError) Error() string {
	return "consumer: experience " + e.Experience.ID + " rejected by moderation"
}

// ErrServerFailure is raised when the server reports that the render
// died on its side.
var ErrServerFailure = errors.New("consumer: server reported render failure")

// consumerPrefix is the TypeID prefix for consumer instance ids.
const consumerPrefix = "cons"

// Consumer owns one transport socket for one job id.
type Consumer struct {
	id      string
	jobID   string
	sock    *transport.Socket
	handler Handler
	logger  *slog.Logger

	maxReconnects int
	cadence       backoff.Strategy

	state atomic.Int32

	mu      sync.Mutex
	retries int

	killed atomic.Bool
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// WithMaxReconnects sets the reconnect ceiling.
func WithMaxReconnects(n int) Option {
	return func(c *Consumer) { c.maxReconnects = n }
}

// WithCadence sets the delay strategy between reconnect attempts.
func WithCadence(s backoff.Strategy) Option {
	return func(c *Consumer) { c.cadence = s }
}

// New creates a consumer bound to one job id. The socket must be fresh;
// the consumer registers its own frame and close handlers on it.
func New(jobID string, sock *transport.Socket, handler Handler, opts ...Option) *Consumer {
	c := &Consumer{
		id:            newConsumerID(),
		jobID:         jobID,
		sock:          sock,
		handler:       handler,
		logger:        slog.Default(),
		maxReconnects: 5,
		cadence:       backoff.DefaultReconnect(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(int32(StateIdle))
	sock.HandleFrame(c.onFrame)
	sock.HandleClose(c.onSocketClose)
	return c
}

// ID returns the consumer instance id.
func (c *Consumer) ID() string { return c.id }

// JobID returns the job this consumer is bound to.
func (c *Consumer) JobID() string { return c.jobID }

// State returns the current lifecycle state.
func (c *Consumer) State() State { return State(c.state.Load()) }

// Connect dials and subscribes, retrying connection failures within the
// instance's reconnect budget. On success the consumer is Subscribed and
// the caller may trigger the server-side render. On budget exhaustion it
// returns a *SocketFailureError and the consumer is Closed; no handler
// callback fires for failures reported synchronously here.
func (c *Consumer) Connect(ctx context.Context) error {
	for {
		c.state.Store(int32(StateConnecting))
		err := c.sock.Connect(ctx, c.jobID)
		if err == nil {
			c.state.Store(int32(StateSubscribed))
			return nil
		}
		if ctx.Err() != nil {
			c.state.Store(int32(StateClosed))
			return ctx.Err()
		}

		attempt, ok := c.nextAttempt()
		if !ok {
			c.state.Store(int32(StateClosed))
			return &SocketFailureError{JobID: c.jobID, Attempts: c.maxReconnects, Err: err}
		}
		c.logger.Warn("push channel connect failed, retrying",
			slog.String("job_id", c.jobID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(c.cadence.Delay(attempt)):
		case <-ctx.Done():
			c.state.Store(int32(StateClosed))
			return ctx.Err()
		}
	}
}

// nextAttempt consumes one unit of the reconnect budget. The counter is
// shared between synchronous connect retries and unclean-close recovery,
// and never resets within an instance.
func (c *Consumer) nextAttempt() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retries >= c.maxReconnects {
		return c.retries, false
	}
	c.retries++
	return c.retries, true
}

// onSocketClose handles an unclean close while subscribed. It reconnects
// with the same job id until the budget runs out, then raises the
// terminal socket failure to the handler.
func (c *Consumer) onSocketClose(cause error) {
	if c.killed.Load() {
		return
	}
	c.state.Store(int32(StateReconnecting))

	for {
		attempt, ok := c.nextAttempt()
		if !ok {
			c.state.Store(int32(StateClosed))
			c.handler.OnError(&SocketFailureError{JobID: c.jobID, Attempts: c.maxReconnects, Err: cause})
			return
		}
		c.logger.Warn("push channel reconnecting",
			slog.String("job_id", c.jobID),
			slog.Int("attempt", attempt),
		)
		time.Sleep(c.cadence.Delay(attempt))
		if c.killed.Load() {
			c.state.Store(int32(StateClosed))
			return
		}

		c.state.Store(int32(StateConnecting))
		err := c.sock.Connect(context.Background(), c.jobID)
		if err == nil {
			c.state.Store(int32(StateSubscribed))
			return
		}
		cause = err
		c.state.Store(int32(StateReconnecting))
	}
}

// onFrame classifies one inbound event frame. Frames arrive in order;
// the transport read loop calls this synchronously.
func (c *Consumer) onFrame(frame *wire.Frame) {
	if frame.Type != wire.FrameEvent || c.killed.Load() {
		return
	}
	c.state.Store(int32(StateDelivering))

	evt, err := wire.ParseEvent(frame.Data)
	if err != nil {
		c.handler.OnError(err)
		c.state.Store(int32(StateSubscribed))
		return
	}

	switch evt.Kind {
	case wire.KindComplete:
		// No further events expected; tear down gracefully.
		c.shutdown()
		c.handler.OnComplete()

	case wire.KindStatus:
		if wire.IsServerFailure(evt.Status) {
			c.shutdown()
			c.handler.OnError(fmt.Errorf("%w: %s", ErrServerFailure, evt.Status))
			return
		}
		c.handler.OnStatus(evt.Status)
		c.state.Store(int32(StateSubscribed))

	case wire.KindScene:
		c.shutdown()
		if evt.Experience.Rejected() {
			c.handler.OnError(&ModerationError{Experience: evt.Experience})
			return
		}
		c.handler.OnExperience(evt.Experience)

	default:
		// Unrecognized event kind: ignore for forward compatibility.
		c.state.Store(int32(StateSubscribed))
	}
}

// shutdown closes the socket gracefully and parks the consumer in the
// Closed state. Safe to call more than once.
func (c *Consumer) shutdown() {
	if c.killed.Swap(true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sock.Disconnect(ctx); err != nil {
		c.logger.Warn("push channel disconnect failed",
			slog.String("job_id", c.jobID),
			slog.String("error", err.Error()),
		)
	}
	c.state.Store(int32(StateClosed))
}

// Kill tears the consumer down synchronously. The owning pipe calls it
// before creating a replacement so two sockets never race on the same
// job channel.
func (c *Consumer) Kill(ctx context.Context) error {
	if c.killed.Swap(true) {
		return nil
	}
	err := c.sock.Disconnect(ctx)
	c.state.Store(int32(StateClosed))
	return err
}

func newConsumerID() string {
	tid, err := typeid.Generate(consumerPrefix)
	if err != nil {
		panic(fmt.Sprintf("consumer: invalid prefix %q: %v", consumerPrefix, err))
	}
	return tid.String()
}
