package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/social-dispatch/internal/cache"
	"github.com/LeventeLantos/social-dispatch/internal/model"
	"github.com/LeventeLantos/social-dispatch/internal/provider"
	"github.com/LeventeLantos/social-dispatch/internal/repo"
)

const maxScanPages = 10

type RetryPolicyConfig struct {
	BatchSize   int
	MaxAttempts int
	StuckAfter  time.Duration
}

// RetryPolicy is the opt-in automated caller of Dispatcher.Retry. Each tick
// retries a batch of Failed messages whose last error is transient, and
// reports messages that have been sending for too long. Those are never
// resent: their outcome is unknown.
type RetryPolicy struct {
	dispatcher *Dispatcher
	messages   repo.MessageRepository
	sent       cache.MessageCache
	cfg        RetryPolicyConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewRetryPolicy(d *Dispatcher, messages repo.MessageRepository, cfg RetryPolicyConfig, logger *slog.Logger) *RetryPolicy {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryPolicy{
		dispatcher: d,
		messages:   messages,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (p *RetryPolicy) WithCache(c cache.MessageCache) *RetryPolicy {
	p.sent = c
	return p
}

type TickReport struct {
	Retried int
	Sent    int
	Failed  int
	Stuck   int
}

// Tick has the signature the scheduler expects.
func (p *RetryPolicy) Tick(ctx context.Context) {
	r := p.Run(ctx)
	p.logger.Info("retry policy tick",
		"retried", r.Retried,
		"sent", r.Sent,
		"failed", r.Failed,
		"stuck", r.Stuck,
	)
}

func (p *RetryPolicy) Run(ctx context.Context) TickReport {
	var r TickReport

	candidates, err := p.retryable(ctx)
	if err != nil {
		p.logger.Error("retry policy: list failed messages", "error", err)
	}

	for _, m := range candidates {
		if ctx.Err() != nil {
			break
		}
		out, err := p.dispatcher.Retry(ctx, m.ID)
		if err != nil {
			// Someone else retried it first, or it is no longer valid.
			p.logger.Warn("retry policy: retry rejected", "message_id", m.ID, "error", err)
			continue
		}
		r.Retried++
		if out.Status == model.Sent {
			r.Sent++
		} else {
			r.Failed++
		}
	}

	if p.cfg.StuckAfter > 0 {
		r.Stuck = p.reportStuck(ctx)
	}
	return r
}

func (p *RetryPolicy) retryable(ctx context.Context) ([]model.Message, error) {
	var out []model.Message

	for page := 0; page < maxScanPages && len(out) < p.cfg.BatchSize; page++ {
		msgs, err := p.messages.List(ctx, repo.Filter{
			Status: model.Failed,
			Limit:  p.cfg.BatchSize,
			Offset: page * p.cfg.BatchSize,
		})
		if err != nil {
			return out, err
		}

		for _, m := range msgs {
			if m.LastError == nil || !provider.IsRetryable(m.LastError.Code) {
				continue
			}
			if m.AttemptCount >= p.cfg.MaxAttempts {
				continue
			}
			out = append(out, m)
			if len(out) == p.cfg.BatchSize {
				break
			}
		}

		if len(msgs) < p.cfg.BatchSize {
			break
		}
	}
	return out, nil
}

func (p *RetryPolicy) reportStuck(ctx context.Context) int {
	stuck, err := p.messages.List(ctx, repo.Filter{
		Status:        model.Sending,
		UpdatedBefore: p.now().Add(-p.cfg.StuckAfter),
		Limit:         p.cfg.BatchSize,
	})
	if err != nil {
		p.logger.Error("retry policy: list sending messages", "error", err)
		return 0
	}

	for _, m := range stuck {
		attrs := []any{
			"message_id", m.ID,
			"platform", m.Platform,
			"attempt", m.AttemptCount,
			"sending_since", m.UpdatedAt,
		}
		if p.sent != nil {
			rec, ok, err := p.sent.LookupSent(ctx, m.ID)
			switch {
			case err != nil:
				attrs = append(attrs, "cache_error", err.Error())
			case ok:
				attrs = append(attrs, "provider_message_id", rec.ProviderMessageID, "provider_accepted_at", rec.SentAt)
			}
		}
		p.logger.Warn("message stuck in sending; outcome inconclusive, needs reconciliation", attrs...)
	}
	return len(stuck)
}
