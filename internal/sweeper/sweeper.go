// Package sweeper periodically repairs the tasks a crashed or restarted process left behind:
// tasks stuck processing past their max duration are failed and their sandboxes removed,
// and finished tasks whose retained sandbox expired lose their sandbox reference.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/metrics"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/storage"
)

// DefaultSchedule runs the sweeper every minute.
const DefaultSchedule = "@every 1m"

// HandleRegistry keeps the live sandbox handles of tasks.
type HandleRegistry interface {
	Unregister(taskID string) (sandbox.Sandbox, bool)
	KeepAlive(taskID string) bool
	Tasks() []string
}

// SweeperConfig is the configuration of the sweeper.
type SweeperConfig struct {
	Repository storage.TaskRepository
	Engine     sandbox.Engine
	Registry   HandleRegistry
	// Schedule is a cron spec or descriptor, defaults to DefaultSchedule.
	Schedule string
	// Grace is added to the task max duration before a processing task is considered stuck.
	Grace   time.Duration
	Now     func() time.Time
	Metrics metrics.Recorder
	Logger  log.Logger
}

func (c *SweeperConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	if c.Grace == 0 {
		c.Grace = 5 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sweeper.Sweeper"})
	return nil
}

// Sweeper repairs abandoned tasks on a cron schedule.
type Sweeper struct {
	repo     storage.TaskRepository
	engine   sandbox.Engine
	registry HandleRegistry
	schedule string
	grace    time.Duration
	now      func() time.Time
	metrics  metrics.Recorder
	logger   log.Logger
}

// NewSweeper returns a new sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Sweeper{
		repo:     cfg.Repository,
		engine:   cfg.Engine,
		registry: cfg.Registry,
		schedule: cfg.Schedule,
		grace:    cfg.Grace,
		now:      cfg.Now,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// Run sweeps on schedule until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Errorf("Sweep failed: %s", err)
		}
	})
	if err != nil {
		return fmt.Errorf("could not schedule sweeper: %w", err)
	}

	s.logger.Infof("Sweeper started (schedule: %s)", s.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Infof("Sweeper stopped")

	return nil
}

// Sweep runs a single sweep and returns the number of failed stuck tasks.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()

	stuck, err := s.repo.ListTasks(ctx, storage.ListTasksOpts{Statuses: []model.TaskStatus{model.TaskStatusProcessing}})
	if err != nil {
		return 0, fmt.Errorf("could not list processing tasks: %w", err)
	}

	swept := 0
	for _, t := range stuck {
		maxDur := t.MaxDuration
		if maxDur <= 0 {
			maxDur = model.DefaultTaskMaxDuration
		}
		if now.Sub(t.UpdatedAt) <= maxDur+s.grace {
			continue
		}

		ok, err := s.failStuck(ctx, t.ID, maxDur, now)
		if err != nil {
			s.logger.Warningf("Could not fail stuck task %s: %s", t.ID, err)
			continue
		}
		if !ok {
			continue
		}
		swept++
		if t.SandboxID != "" {
			s.removeSandbox(ctx, t.ID, t.SandboxID)
		}
		s.logger.Infof("Failed stuck task %s", t.ID)
	}
	s.metrics.AddSweptTasks(swept)

	finished, err := s.repo.ListTasks(ctx, storage.ListTasksOpts{Statuses: []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusError}})
	if err != nil {
		return swept, fmt.Errorf("could not list finished tasks: %w", err)
	}
	for _, t := range finished {
		if !t.HasSandbox() {
			continue
		}
		_, err := s.engine.Get(ctx, t.SandboxID)
		if !errors.Is(err, model.ErrNotFound) {
			continue
		}
		s.registry.Unregister(t.ID)
		_, err = s.repo.UpdateTask(ctx, t.ID, func(t *model.Task) error {
			t.ClearSandbox()
			return nil
		})
		if err != nil {
			s.logger.Warningf("Could not clear expired sandbox of task %s: %s", t.ID, err)
			continue
		}
		s.logger.Debugf("Cleared expired sandbox of task %s", t.ID)
	}

	for _, taskID := range s.registry.Tasks() {
		if !s.registry.KeepAlive(taskID) {
			s.removeLeaked(ctx, taskID)
		}
	}

	return swept, nil
}

// removeLeaked removes a registered sandbox that is not kept alive once its task is
// finished or gone.
func (s *Sweeper) removeLeaked(ctx context.Context, taskID string) {
	t, err := s.repo.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		t = nil
	case err != nil:
		s.logger.Warningf("Could not get task %s of registered sandbox: %s", taskID, err)
		return
	case !t.Status.IsFinal():
		return
	}

	sb, ok := s.registry.Unregister(taskID)
	if !ok {
		return
	}
	if err := s.engine.Remove(ctx, sb.ID()); err != nil {
		s.logger.Warningf("Could not remove leaked sandbox %s of task %s: %s", sb.ID(), taskID, err)
	}
	s.logger.Infof("Removed leaked sandbox %s of task %s", sb.ID(), taskID)

	if t == nil || t.SandboxID != sb.ID() {
		return
	}
	_, err = s.repo.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.ClearSandbox()
		return nil
	})
	if err != nil {
		s.logger.Warningf("Could not clear leaked sandbox of task %s: %s", taskID, err)
	}
}

func (s *Sweeper) failStuck(ctx context.Context, taskID string, maxDur time.Duration, now time.Time) (bool, error) {
	failed := false
	_, err := s.repo.UpdateTask(ctx, taskID, func(t *model.Task) error {
		if t.Status != model.TaskStatusProcessing {
			return nil
		}
		msg := fmt.Sprintf("Task exceeded its max duration of %s and was stopped", maxDur)
		t.AppendLog(model.LogEntry{Type: model.LogTypeError, Message: msg, Timestamp: now})
		t.Error = msg
		t.ClearSandbox()
		failed = true
		return t.TransitionTo(model.TaskStatusError)
	})
	return failed, err
}

func (s *Sweeper) removeSandbox(ctx context.Context, taskID, sandboxID string) {
	s.registry.Unregister(taskID)
	if err := s.engine.Remove(ctx, sandboxID); err != nil {
		s.logger.Warningf("Could not remove sandbox %s of stuck task %s: %s", sandboxID, taskID, err)
	}
}
