package courier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/courier/api"
	"github.com/xraph/courier/consumer"
	"github.com/xraph/courier/wire"
)

// DeliveryMode selects how completion events reach the pipe.
type DeliveryMode int32

const (
	// ModePush receives completion events over the push channel.
	ModePush DeliveryMode = iota

	// ModePoll retrieves the experience record on a fixed interval.
	ModePoll
)

// String returns the lowercase mode name.
func (m DeliveryMode) String() string {
	if m == ModePoll {
		return "poll"
	}
	return "push"
}

// Pipe is the single entry and exit point for job creation and
// retrieval. It decides per job whether results arrive over the push
// channel or by polling, caches creation parameters for replay, and
// owns at most one live push consumer at a time.
//
// A Pipe is an explicit instance: construct one per logical client and
// pass it by reference. Multiple pipes coexist without shared state.
type Pipe struct {
	cfg         Config
	logger      *slog.Logger
	api         api.Client
	hooks       Hooks
	newConsumer ConsumerFactory
	cache       *configCache
	done        chan struct{}
	closeOnce   sync.Once

	// terminalRetention is how long a job's terminal mark is kept to
	// absorb stray duplicate events before the entry is pruned.
	terminalRetention time.Duration

	mu       sync.Mutex
	mode     DeliveryMode
	cur      Consumer
	terminal map[string]bool // job key → terminal callback delivered
}

// New creates a delivery pipe over the given submission client.
func New(client api.Client, hooks Hooks, opts ...Option) (*Pipe, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	p := &Pipe{
		cfg:               DefaultConfig(),
		logger:            slog.Default(),
		api:               client,
		hooks:             hooks,
		mode:              ModePush,
		cache:             newConfigCache(),
		done:              make(chan struct{}),
		terminal:          make(map[string]bool),
		terminalRetention: time.Minute,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.newConsumer == nil {
		p.newConsumer = p.defaultConsumerFactory
	}
	return p, nil
}

// Mode returns the current delivery mode. Once the pipe falls back to
// ModePoll it never reverts.
func (p *Pipe) Mode() DeliveryMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Close tears down the live consumer and stops any poll loops. The pipe
// must not be used afterwards.
func (p *Pipe) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		cur := p.cur
		p.cur = nil
		p.mu.Unlock()
		if cur != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = cur.Kill(ctx)
		}
	})
	return err
}

// CreateExperience submits a new render job and returns the correlation
// id assigned to it. Delivery of the eventual result happens through the
// pipe's hooks; the returned error mirrors what OnInternalError receives
// when submission itself fails.
//
// With render=false the job is fire-and-forget: a single creation call,
// no completion tracking, no consumer. With render=true the pipe caches
// the creation parameters, ensures a listener is in place (push mode
// subscribes before submitting, so no completion event can be missed),
// and then submits.
func (p *Pipe) CreateExperience(ctx context.Context, inventory json.RawMessage, render bool, onProgress func(float64)) (string, error) {
	correlID := uuid.NewString()

	if !render {
		exp, err := p.submit(ctx, &CreateConfig{Inventory: inventory, UUID: correlID, OnProgress: onProgress})
		if err != nil {
			return correlID, p.fail(correlID, err)
		}
		p.hooks.experienceCreated(exp)
		return correlID, nil
	}

	cfg := &CreateConfig{Inventory: inventory, Render: true, UUID: correlID, OnProgress: onProgress}
	p.cache.put(cfg)

	if p.Mode() == ModePoll {
		return correlID, p.createPolling(ctx, cfg)
	}
	return correlID, p.createPush(ctx, cfg)
}

// createPush subscribes a consumer to the correlation-scoped channel and
// only then submits, preserving the subscribe-before-trigger ordering.
func (p *Pipe) createPush(ctx context.Context, cfg *CreateConfig) error {
	cons, err := p.startConsumer(ctx, cfg.UUID)
	if err != nil {
		// The push path is unreliable in this network: fall back for
		// good and recover the in-flight job from the cache.
		return p.fallbackCreate(ctx, cfg, err)
	}

	exp, err := p.submit(ctx, cfg)
	if err != nil {
		p.dropConsumer(ctx, cons)
		return p.fail(cfg.UUID, err)
	}
	p.hooks.experienceCreated(exp)
	return nil
}

// createPolling submits and begins polling the resulting experience id.
func (p *Pipe) createPolling(ctx context.Context, cfg *CreateConfig) error {
	exp, err := p.submit(ctx, cfg)
	if err != nil {
		return p.fail(cfg.UUID, err)
	}
	p.hooks.experienceCreated(exp)
	go p.poll(context.Background(), cfg.UUID, exp.ID)
	return nil
}

// GetExperience retrieves an existing job and resumes delivery for it.
// A resolved record is forwarded immediately; an idle record is
// triggered and then watched; a mid-render record is watched without
// re-triggering.
func (p *Pipe) GetExperience(ctx context.Context, experienceID string) error {
	exp, err := p.getWithRetry(ctx, experienceID)
	if err != nil {
		return p.fail(experienceID, err)
	}

	switch {
	case exp.Rejected():
		return p.fail(experienceID, &consumer.ModerationError{Experience: exp})

	case exp.Resolved():
		p.succeed(experienceID, exp)
		return nil

	case !exp.Rendering:
		// No output yet and not rendering: the render must be triggered.
		return p.attach(ctx, exp, true)

	default:
		// Mid-render: resume watching without re-triggering.
		return p.attach(ctx, exp, false)
	}
}

// attach puts a listener in place for an existing experience and, when
// trigger is set, starts the server-side render. In push mode the
// consumer is subscribed strictly before the trigger call.
func (p *Pipe) attach(ctx context.Context, exp *wire.Experience, trigger bool) error {
	if p.Mode() == ModePush {
		cons, err := p.startConsumer(ctx, exp.ID)
		if err != nil {
			p.switchToPoll(err)
		} else {
			if trigger {
				if terr := p.triggerWithRetry(ctx, exp); terr != nil {
					p.dropConsumer(ctx, cons)
					return p.fail(exp.ID, terr)
				}
			}
			return nil
		}
	}

	if trigger {
		if terr := p.triggerWithRetry(ctx, exp); terr != nil {
			return p.fail(exp.ID, terr)
		}
	}
	go p.poll(context.Background(), "", exp.ID)
	return nil
}

// submit performs the creation call with the bounded retry policy:
// conflicts are resubmitted verbatim, transient failures retried at a
// fixed cadence, quota errors surfaced immediately.
func (p *Pipe) submit(ctx context.Context, cfg *CreateConfig) (*wire.Experience, error) {
	req := &api.CreateRequest{
		Inventory:  cfg.Inventory,
		Render:     cfg.Render,
		CorrelID:   cfg.UUID,
		OnProgress: cfg.OnProgress,
	}

	var conflicts, transients int
	for {
		exp, err := p.api.CreateExperience(ctx, req)
		if err == nil {
			return exp, nil
		}

		switch {
		case api.IsQuotaExceeded(err):
			return nil, err
		case api.IsConflict(err):
			conflicts++
			if conflicts > p.cfg.ConflictRetries {
				return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			}
			p.logger.Warn("correlation id collision, resubmitting",
				slog.String("correl_id", cfg.UUID),
				slog.Int("attempt", conflicts),
			)
		case api.IsTransient(err):
			transients++
			if transients > p.cfg.TransientRetries {
				return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			}
		default:
			return nil, err
		}

		select {
		case <-time.After(p.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrClosed
		}
	}
}

// triggerWithRetry starts the server-side render, retrying transient
// failures at the same bounded cadence as submission.
func (p *Pipe) triggerWithRetry(ctx context.Context, exp *wire.Experience) error {
	var transients int
	for {
		err := p.api.TriggerRender(ctx, exp.ID, exp.SceneID, exp.ActID)
		if err == nil {
			return nil
		}
		if !api.IsTransient(err) {
			return err
		}
		transients++
		if transients > p.cfg.TransientRetries {
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		select {
		case <-time.After(p.cfg.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrClosed
		}
	}
}

// getWithRetry performs a retrieval call, retrying transient failures.
func (p *Pipe) getWithRetry(ctx context.Context, experienceID string) (*wire.Experience, error) {
	var transients int
	for {
		exp, err := p.api.GetExperience(ctx, experienceID)
		if err == nil {
			return exp, nil
		}
		if !api.IsTransient(err) {
			return nil, err
		}
		transients++
		if transients > p.cfg.TransientRetries {
			return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		select {
		case <-time.After(p.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
			return nil, ErrClosed
		}
	}
}

// startConsumer tears down any existing consumer, then connects a fresh
// one bound to jobID. Teardown completes before the new consumer dials,
// so two sockets never hold overlapping subscriptions on one pipe.
func (p *Pipe) startConsumer(ctx context.Context, jobID string) (Consumer, error) {
	p.mu.Lock()
	prev := p.cur
	p.cur = nil
	p.mu.Unlock()

	if prev != nil {
		if err := prev.Kill(ctx); err != nil {
			p.logger.Warn("previous consumer teardown failed", slog.String("error", err.Error()))
		}
	}

	cons := p.newConsumer(jobID, &pipeHandler{pipe: p, key: jobID})
	if err := cons.Connect(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cur = cons
	p.mu.Unlock()
	return cons, nil
}

// dropConsumer kills a consumer and clears it from the pipe if current.
func (p *Pipe) dropConsumer(ctx context.Context, cons Consumer) {
	p.mu.Lock()
	if p.cur == cons {
		p.cur = nil
	}
	p.mu.Unlock()
	if err := cons.Kill(ctx); err != nil {
		p.logger.Warn("consumer teardown failed", slog.String("error", err.Error()))
	}
}

// switchToPoll flips the pipe into polling mode for the remainder of its
// lifetime and surfaces the cause as a non-fatal warning. The mode is
// never reverted automatically: flapping between push and poll under a
// degraded network helps nobody.
func (p *Pipe) switchToPoll(cause error) {
	p.mu.Lock()
	already := p.mode == ModePoll
	p.mode = ModePoll
	p.cur = nil
	p.mu.Unlock()

	if !already {
		p.logger.Warn("push channel failed permanently, switching to polling",
			slog.String("error", cause.Error()),
		)
		p.hooks.internalError(cause)
	}
}

// fallbackCreate handles a terminal socket failure before the creation
// call was ever issued: switch to polling and replay the cached config.
func (p *Pipe) fallbackCreate(ctx context.Context, cfg *CreateConfig, cause error) error {
	p.switchToPoll(cause)
	return p.createPolling(ctx, cfg)
}

// fallback recovers an in-flight job after a terminal socket failure.
// If the job's creation parameters are still cached the submission never
// succeeded or its result may have been missed, so the config is
// resubmitted with polling enabled from the start; otherwise the pipe
// polls the existing job id directly.
func (p *Pipe) fallback(key string, cause error) {
	p.switchToPoll(cause)

	if cfg, ok := p.cache.get(key); ok {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PollTimeout)
		defer cancel()
		_ = p.createPolling(ctx, cfg)
		return
	}
	go p.poll(context.Background(), "", key)
}

// terminalKey picks the map key for terminal-once bookkeeping.
func terminalKey(correlID, expID string) string {
	if correlID != "" {
		return correlID
	}
	return expID
}

// markTerminal records terminal delivery for a job. Returns false if the
// job already resolved, in which case no further callback may fire. The
// entry is pruned after a grace period so a long-lived pipe does not
// grow one entry per job forever.
func (p *Pipe) markTerminal(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal[key] {
		return false
	}
	p.terminal[key] = true
	time.AfterFunc(p.terminalRetention, func() {
		p.mu.Lock()
		delete(p.terminal, key)
		p.mu.Unlock()
	})
	return true
}

// fail delivers a terminal error for a job exactly once and returns the
// error for the synchronous caller.
func (p *Pipe) fail(key string, err error) error {
	p.cache.delete(key)
	if p.markTerminal(key) {
		p.hooks.internalError(err)
	}
	return err
}

// succeed delivers the terminal success record for a job exactly once.
func (p *Pipe) succeed(key string, exp *wire.Experience) {
	p.cache.delete(key)
	if p.markTerminal(key) {
		p.hooks.gotExperience(exp)
	}
}

// ── Consumer event routing ──────────────────────────

// pipeHandler adapts consumer callbacks onto one pipe and job key. The
// key is the correlation id on the create path and the experience id on
// the retrieval path; the cache distinguishes the two during recovery.
type pipeHandler struct {
	pipe *Pipe
	key  string
}

func (h *pipeHandler) OnComplete() {
	h.pipe.logger.Debug("push channel complete", slog.String("job", h.key))
	h.pipe.clearCurrent()
	// The server will send nothing further for this job. If no result
	// arrived first the job can never resolve, so it terminates now;
	// after a normal scene delivery this is a suppressed no-op.
	_ = h.pipe.fail(h.key, fmt.Errorf("%w: job %s", ErrNoResult, h.key))
}

func (h *pipeHandler) OnStatus(msg string) {
	h.pipe.hooks.statusUpdate(msg)
}

func (h *pipeHandler) OnExperience(exp *wire.Experience) {
	h.pipe.clearCurrent()
	h.pipe.succeed(h.key, exp)
}

func (h *pipeHandler) OnError(err error) {
	var sockErr *consumer.SocketFailureError
	if errors.As(err, &sockErr) {
		h.pipe.fallback(h.key, err)
		return
	}

	var modErr *consumer.ModerationError
	switch {
	case errors.As(err, &modErr), errors.Is(err, consumer.ErrServerFailure):
		// Terminal: the job is dead.
		h.pipe.clearCurrent()
		_ = h.pipe.fail(h.key, err)
	default:
		// Parse errors are surfaced but not terminal; later frames for
		// the job may still be well-formed.
		h.pipe.hooks.internalError(err)
	}
}

// clearCurrent forgets the live consumer reference after it closed
// itself.
func (p *Pipe) clearCurrent() {
	p.mu.Lock()
	p.cur = nil
	p.mu.Unlock()
}
