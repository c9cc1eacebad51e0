package courier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/api"
	"github.com/xraph/courier/consumer"
)

// poll retrieves the experience on a fixed interval until it resolves or
// the overall deadline passes. correlID is empty on the retrieval path;
// when set, it keys the cache entry and the terminal bookkeeping.
//
// Transient retrieval failures are absorbed by the next tick; only the
// deadline or an inherently terminal condition ends the loop with an
// error.
func (p *Pipe) poll(ctx context.Context, correlID, expID string) {
	key := terminalKey(correlID, expID)
	deadline := time.Now().Add(p.cfg.PollTimeout)
	interval := p.cfg.PollInterval

	p.logger.Debug("polling experience",
		slog.String("experience_id", expID),
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		case <-p.done:
			return
		}

		if time.Now().After(deadline) {
			_ = p.fail(key, fmt.Errorf("%w: experience %s", ErrPollTimeout, expID))
			return
		}

		exp, err := p.api.GetExperience(ctx, expID)
		if err != nil {
			if api.IsTransient(err) {
				continue
			}
			_ = p.fail(key, err)
			return
		}

		switch {
		case exp.Rejected():
			_ = p.fail(key, &consumer.ModerationError{Experience: exp})
			return
		case exp.Resolved():
			p.succeed(key, exp)
			return
		case exp.Rendering:
			// Mid-render: refresh less aggressively.
			interval = p.cfg.RenderPollInterval
		}
	}
}
