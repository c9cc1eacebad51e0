package courier

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for a delivery Pipe.
type Config struct {
	// APIURL is the base URL of the render service's HTTP API.
	APIURL string

	// SocketURL is the websocket endpoint of the push-channel gateway.
	SocketURL string

	// Token is the fixed service credential for both surfaces.
	Token string

	// Format selects the push-channel wire format: "json" or "msgpack".
	Format string

	// HandshakeTimeout bounds each push-channel handshake round trip.
	HandshakeTimeout time.Duration

	// MaxReconnects is the push consumer's reconnect ceiling. The
	// counter is per consumer instance and never resets.
	MaxReconnects int

	// ReconnectDelay is the fixed cadence between reconnect attempts.
	ReconnectDelay time.Duration

	// ConflictRetries bounds resubmissions after a correlation-id
	// collision.
	ConflictRetries int

	// TransientRetries bounds resubmissions after transient network
	// failures. Quota errors are never retried.
	TransientRetries int

	// RetryDelay is the fixed cadence between submission retries.
	RetryDelay time.Duration

	// PollInterval is the retrieval cadence of the polling fallback.
	PollInterval time.Duration

	// RenderPollInterval is the longer refresh cadence used once the
	// server reports the experience is mid-render.
	RenderPollInterval time.Duration

	// PollTimeout is the overall ceiling after which polling is
	// abandoned and a terminal error raised.
	PollTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Format:             "json",
		HandshakeTimeout:   10 * time.Second,
		MaxReconnects:      5,
		ReconnectDelay:     2 * time.Second,
		ConflictRetries:    3,
		TransientRetries:   3,
		RetryDelay:         2 * time.Second,
		PollInterval:       3 * time.Second,
		RenderPollInterval: 10 * time.Second,
		PollTimeout:        4 * time.Minute,
	}
}

// ConfigFromEnv loads configuration from COURIER_* environment
// variables, reading a .env file first if one exists. Unset variables
// keep their defaults.
func ConfigFromEnv() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if v := os.Getenv("COURIER_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("COURIER_SOCKET_URL"); v != "" {
		cfg.SocketURL = v
	}
	if v := os.Getenv("COURIER_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("COURIER_FORMAT"); v != "" {
		cfg.Format = v
	}
	if n, err := strconv.Atoi(os.Getenv("COURIER_MAX_RECONNECTS")); err == nil {
		cfg.MaxReconnects = n
	}
	if d, err := time.ParseDuration(os.Getenv("COURIER_RECONNECT_DELAY")); err == nil {
		cfg.ReconnectDelay = d
	}
	if d, err := time.ParseDuration(os.Getenv("COURIER_POLL_INTERVAL")); err == nil {
		cfg.PollInterval = d
	}
	if d, err := time.ParseDuration(os.Getenv("COURIER_POLL_TIMEOUT")); err == nil {
		cfg.PollTimeout = d
	}
	return cfg
}
