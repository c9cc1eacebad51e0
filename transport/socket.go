// Package transport owns the persistent push-channel socket for a single
// render job: one websocket connection and one job-scoped subscription.
//
// The Socket is a dumb primitive: it performs the login handshake,
// subscribes, reads frames, and reports unclean closes. It never retries
// anything itself; reconnect policy and budgets live in the consumer
// layer so the transport stays reusable.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/courier/wire"
)

// ErrHandshakeTimeout indicates the server did not answer the auth or
// subscribe request in time.
var ErrHandshakeTimeout = errors.New("transport: handshake timeout")

// Config holds the fixed connection parameters for the push channel.
type Config struct {
	// URL is the websocket endpoint of the render service's messaging
	// gateway (e.g. "wss://render.example.com/push").
	URL string

	// Token is the fixed service credential sent on the auth frame.
	Token string

	// Format selects the wire codec: "json" (default) or "msgpack".
	Format string

	// HandshakeTimeout bounds each handshake round trip (auth,
	// subscribe, and the response read for either).
	HandshakeTimeout time.Duration
}

// Socket is a single websocket connection plus one job-scoped
// subscription. It is not safe to Connect concurrently from multiple
// goroutines; the consumer serializes access.
type Socket struct {
	cfg    Config
	codec  wire.Codec
	logger *slog.Logger

	onFrame func(*wire.Frame)
	onClose func(error)

	mu         sync.Mutex // guards conn/channel/sessionID
	wmu        sync.Mutex // serializes frame writes
	conn       net.Conn
	channel    string
	sessionID  string
	closed     atomic.Bool
	subscribed atomic.Bool
}

// New creates a Socket. Callbacks must be registered with HandleFrame
// and HandleClose before Connect.
func New(cfg Config, opts ...Option) *Socket {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	s := &Socket{
		cfg:    cfg,
		codec:  wire.GetCodec(cfg.Format),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a Socket.
type Option func(*Socket)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Socket) { s.logger = logger }
}

// WithCodec overrides the codec selected by Config.Format.
func WithCodec(codec wire.Codec) Option {
	return func(s *Socket) { s.codec = codec }
}

// HandleFrame registers the callback invoked for each inbound event
// frame, in arrival order.
func (s *Socket) HandleFrame(fn func(*wire.Frame)) { s.onFrame = fn }

// HandleClose registers the callback invoked on unclean close. A
// graceful Disconnect never triggers it.
func (s *Socket) HandleClose(fn func(error)) { s.onClose = fn }

// Connect opens the socket, performs the login handshake, and subscribes
// to the job-scoped channel. It returns only once the subscription
// acknowledgement has been received, not merely once the socket opens.
// The ordering is load-bearing: callers must not trigger the server-side
// action that produces messages until Connect has returned, or messages
// could be published before any listener exists.
func (s *Socket) Connect(ctx context.Context, jobID string) error {
	conn, _, _, err := ws.Dial(ctx, s.cfg.URL)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", s.cfg.URL, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.channel = wire.ChannelForJob(jobID)
	s.mu.Unlock()
	s.closed.Store(false)
	s.subscribed.Store(false)

	if err := s.authenticate(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	if err := s.subscribe(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	s.subscribed.Store(true)

	go s.readLoop(conn)

	s.logger.Debug("push channel subscribed",
		slog.String("channel", wire.ChannelForJob(jobID)),
		slog.String("session_id", s.SessionID()),
	)
	return nil
}

// authenticate sends the auth frame and awaits the server's response.
// The response is read directly off the connection because the read loop
// has not started yet.
func (s *Socket) authenticate(ctx context.Context, conn net.Conn) error {
	frame, err := wire.NewRequestFrame(wire.MethodAuth, wire.AuthRequest{
		Token:  s.cfg.Token,
		Format: s.codec.Name(),
	})
	if err != nil {
		return fmt.Errorf("transport: marshal auth request: %w", err)
	}
	frame.Token = s.cfg.Token

	if err := s.writeFrame(conn, frame); err != nil {
		return fmt.Errorf("transport: write auth frame: %w", err)
	}

	resp, err := s.awaitFrame(ctx, conn)
	if err != nil {
		return fmt.Errorf("transport: auth: %w", err)
	}
	if resp.Type == wire.FrameErr {
		return fmt.Errorf("transport: auth rejected: %s", errMessage(resp))
	}

	var authResp wire.AuthResponse
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &authResp); err != nil {
			s.logger.Warn("unreadable auth response payload", slog.String("error", err.Error()))
		}
	}
	s.mu.Lock()
	s.sessionID = authResp.SessionID
	s.mu.Unlock()
	return nil
}

// subscribe attaches the session to the job channel and awaits the ack.
func (s *Socket) subscribe(ctx context.Context, conn net.Conn) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	frame, err := wire.NewRequestFrame(wire.MethodSubscribe, wire.SubscribeRequest{
		Channel: channel,
	})
	if err != nil {
		return fmt.Errorf("transport: marshal subscribe request: %w", err)
	}
	frame.Channel = channel

	if err := s.writeFrame(conn, frame); err != nil {
		return fmt.Errorf("transport: write subscribe frame: %w", err)
	}

	resp, err := s.awaitFrame(ctx, conn)
	if err != nil {
		return fmt.Errorf("transport: subscribe %q: %w", channel, err)
	}
	if resp.Type == wire.FrameErr {
		return fmt.Errorf("transport: subscribe %q rejected: %s", channel, errMessage(resp))
	}
	return nil
}

// awaitFrame reads one frame off the connection with a handshake
// timeout. Used only before the read loop starts.
func (s *Socket) awaitFrame(ctx context.Context, conn net.Conn) (*wire.Frame, error) {
	type result struct {
		frame *wire.Frame
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			ch <- result{err: err}
			return
		}
		frame, derr := s.codec.Decode(data)
		ch <- result{frame: frame, err: derr}
	}()

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.cfg.HandshakeTimeout):
		return nil, ErrHandshakeTimeout
	}
}

// readLoop reads frames until the connection closes. Event frames go to
// the frame callback in arrival order; an unclean close goes to the
// close callback.
func (s *Socket) readLoop(conn net.Conn) {
	for {
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if s.closed.Load() {
				return // graceful disconnect
			}
			s.subscribed.Store(false)
			s.logger.Warn("push channel closed uncleanly", slog.String("error", err.Error()))
			if s.onClose != nil {
				s.onClose(err)
			}
			return
		}

		frame, derr := s.codec.Decode(data)
		if derr != nil {
			// Not silently dropped: a frame that cannot even be decoded
			// is surfaced as a synthetic parse-error event.
			if s.onFrame != nil {
				s.onFrame(&wire.Frame{Type: wire.FrameEvent, Data: data})
			}
			continue
		}

		switch frame.Type {
		case wire.FrameEvent:
			if s.onFrame != nil {
				s.onFrame(frame)
			}
		case wire.FramePing:
			pong := &wire.Frame{ID: wire.NewFrameID(), Type: wire.FramePong, Timestamp: time.Now().UTC()}
			_ = s.writeFrame(conn, pong)
		default:
			// Late responses after the handshake are not interesting.
		}
	}
}

// Disconnect unsubscribes and closes the session. It is idempotent: if
// the socket is already at or past the closed state it returns nil
// immediately.
func (s *Socket) Disconnect(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.subscribed.Store(false)

	s.mu.Lock()
	conn := s.conn
	channel := s.channel
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	// Best-effort unsubscribe before the close handshake.
	if channel != "" {
		if frame, err := wire.NewRequestFrame(wire.MethodUnsubscribe, wire.UnsubscribeRequest{Channel: channel}); err == nil {
			_ = s.writeFrame(conn, frame)
		}
	}

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	if err := wsutil.WriteClientMessage(conn, ws.OpClose, body); err != nil {
		_ = conn.Close()
		return nil
	}
	return conn.Close()
}

// Subscribed reports whether the job subscription is currently live.
func (s *Socket) Subscribed() bool { return s.subscribed.Load() }

// SessionID returns the session ID assigned on the last successful auth.
func (s *Socket) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// writeFrame encodes and sends a frame over the websocket.
func (s *Socket) writeFrame(conn net.Conn, frame *wire.Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	data, err := s.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}
	op := ws.OpText
	if s.codec.Name() == wire.CodecNameMsgpack {
		op = ws.OpBinary
	}
	return wsutil.WriteClientMessage(conn, op, data)
}

func errMessage(frame *wire.Frame) string {
	if frame.Error != nil {
		return frame.Error.Message
	}
	return "unknown error"
}
