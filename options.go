package courier

import (
	"context"
	"log/slog"

	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/consumer"
	"github.com/xraph/courier/transport"
)

// Option configures a Pipe.
type Option func(*Pipe) error

// Consumer is the pipe's view of a live push consumer: connect until
// subscribed, and synchronous teardown.
type Consumer interface {
	Connect(ctx context.Context) error
	Kill(ctx context.Context) error
}

// ConsumerFactory builds a push consumer bound to a job id. The default
// factory wires a fresh transport socket to a consumer.Consumer; tests
// and embedders may substitute their own.
type ConsumerFactory func(jobID string, h consumer.Handler) Consumer

// WithConfig sets the pipe configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipe) error {
		p.cfg = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipe) error {
		p.logger = logger
		return nil
	}
}

// WithMode sets the initial delivery mode. The default is ModePush.
func WithMode(mode DeliveryMode) Option {
	return func(p *Pipe) error {
		p.mode = mode
		return nil
	}
}

// WithConsumerFactory overrides how push consumers are constructed.
func WithConsumerFactory(f ConsumerFactory) Option {
	return func(p *Pipe) error {
		p.newConsumer = f
		return nil
	}
}

// defaultConsumerFactory builds a consumer over a fresh websocket using
// the pipe's configuration.
func (p *Pipe) defaultConsumerFactory(jobID string, h consumer.Handler) Consumer {
	sock := transport.New(transport.Config{
		URL:              p.cfg.SocketURL,
		Token:            p.cfg.Token,
		Format:           p.cfg.Format,
		HandshakeTimeout: p.cfg.HandshakeTimeout,
	}, transport.WithLogger(p.logger))

	return consumer.New(jobID, sock, h,
		consumer.WithLogger(p.logger),
		consumer.WithMaxReconnects(p.cfg.MaxReconnects),
		consumer.WithCadence(backoff.NewConstant(p.cfg.ReconnectDelay)),
	)
}
