// Package ratelimit implements the per user daily task quota.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// Status is the quota status of a user for the current UTC day.
type Status struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Unlimited is set when no quota is configured.
	Unlimited bool
}

// LimiterConfig is the configuration of the limiter.
type LimiterConfig struct {
	Repo storage.QuotaRepository
	// DailyLimit is the number of tasks a user can create per UTC day, 0 is unlimited.
	DailyLimit int
	// Now returns the current time (optional).
	Now    func() time.Time
	Logger log.Logger
}

func (c *LimiterConfig) defaults() error {
	if c.Repo == nil {
		return fmt.Errorf("quota repository is required")
	}
	if c.DailyLimit < 0 {
		return fmt.Errorf("daily limit can't be negative")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "ratelimit.Limiter"})
	return nil
}

// Limiter checks and consumes the user daily quota. Counters live in the record store
// so every process shares them.
type Limiter struct {
	repo   storage.QuotaRepository
	limit  int
	now    func() time.Time
	logger log.Logger
}

// NewLimiter returns a new limiter.
func NewLimiter(cfg LimiterConfig) (*Limiter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Limiter{
		repo:   cfg.Repo,
		limit:  cfg.DailyLimit,
		now:    cfg.Now,
		logger: cfg.Logger,
	}, nil
}

// Check consumes one unit of the user quota. When the quota is exhausted it returns
// the status with an error wrapping model.ErrRateLimited and nothing is consumed.
func (l *Limiter) Check(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, fmt.Errorf("user id is required: %w", model.ErrNotValid)
	}
	now := l.now().UTC()
	if l.limit == 0 {
		return Status{Unlimited: true, ResetAt: resetAt(now)}, nil
	}

	count, ok, err := l.repo.Increment(ctx, userID, now, l.limit)
	if err != nil {
		return Status{}, fmt.Errorf("could not increment quota: %w", err)
	}

	st := l.status(count, now)
	if !ok {
		l.logger.WithValues(log.Kv{"user-id": userID}).Infof("Daily quota of %d tasks exhausted", l.limit)
		return st, fmt.Errorf("daily quota of %d tasks exhausted, resets at %s: %w", l.limit, st.ResetAt.Format(time.RFC3339), model.ErrRateLimited)
	}

	return st, nil
}

// Release gives back the unit a successful Check consumed, st is the status that Check
// returned so the unit goes back to the day it was taken from.
func (l *Limiter) Release(ctx context.Context, userID string, st Status) error {
	if st.Unlimited || st.Limit == 0 {
		return nil
	}
	if userID == "" {
		return fmt.Errorf("user id is required: %w", model.ErrNotValid)
	}

	day := st.ResetAt.Add(-24 * time.Hour)
	if _, err := l.repo.Decrement(ctx, userID, day); err != nil {
		return fmt.Errorf("could not decrement quota: %w", err)
	}
	return nil
}

// Peek returns the user quota status without consuming it.
func (l *Limiter) Peek(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, fmt.Errorf("user id is required: %w", model.ErrNotValid)
	}
	now := l.now().UTC()
	if l.limit == 0 {
		return Status{Unlimited: true, ResetAt: resetAt(now)}, nil
	}

	count, err := l.repo.Count(ctx, userID, now)
	if err != nil {
		return Status{}, fmt.Errorf("could not get quota: %w", err)
	}
	return l.status(count, now), nil
}

func (l *Limiter) status(count int, now time.Time) Status {
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Status{Limit: l.limit, Remaining: remaining, ResetAt: resetAt(now)}
}

// resetAt returns the start of the next UTC day.
func resetAt(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
