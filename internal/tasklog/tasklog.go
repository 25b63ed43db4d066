// Package tasklog records the user visible log, progress and status of tasks.
package tasklog

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/storage"
)

// TaskLogger is the logger of a single task. Persistence failures never reach the caller.
type TaskLogger interface {
	Info(ctx context.Context, msg string)
	Command(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
	Success(ctx context.Context, msg string)
	// UpdateProgress appends an info entry and sets the progress in one step.
	UpdateProgress(ctx context.Context, progress int, msg string)
	// UpdateStatus appends an optional info entry and sets the status in one step.
	UpdateStatus(ctx context.Context, status model.TaskStatus, msg string)
	// Fail appends an error entry, sets the error status and the task error message.
	Fail(ctx context.Context, msg string)
}

// Noop is a task logger that does nothing.
var Noop TaskLogger = noop{}

type noop struct{}

func (noop) Info(context.Context, string)                           {}
func (noop) Command(context.Context, string)                        {}
func (noop) Error(context.Context, string)                          {}
func (noop) Success(context.Context, string)                        {}
func (noop) UpdateProgress(context.Context, int, string)            {}
func (noop) UpdateStatus(context.Context, model.TaskStatus, string) {}
func (noop) Fail(context.Context, string)                           {}

// ServiceConfig is the configuration of the task log service.
type ServiceConfig struct {
	Repo   storage.TaskRepository
	Logger log.Logger
	// Now is used to timestamp the entries (optional).
	Now func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Repo == nil {
		return fmt.Errorf("task repository is required")
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "tasklog.Service"})
	return nil
}

const lockStripes = 64

// Service creates task loggers. All the loggers of the same service serialize the
// updates of the same task.
type Service struct {
	repo   storage.TaskRepository
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
	logger log.Logger
}

// NewService returns a new task log service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repo,
		now:    cfg.Now,
		logger: cfg.Logger,
	}, nil
}

// For returns the logger of a task.
func (s *Service) For(taskID string) TaskLogger {
	return &taskLogger{
		svc:    s,
		taskID: taskID,
		logger: s.logger.WithValues(log.Kv{"task-id": taskID}),
	}
}

func (s *Service) lock(taskID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Service) update(ctx context.Context, logger log.Logger, taskID string, fn func(t *model.Task)) {
	mu := s.lock(taskID)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.repo.UpdateTask(ctx, taskID, func(t *model.Task) error {
		fn(t)
		return nil
	})
	if err != nil {
		logger.Errorf("Could not persist task log: %s", err)
	}
}

type taskLogger struct {
	svc    *Service
	taskID string
	logger log.Logger
}

func (l *taskLogger) entry(typ model.LogType, msg string) model.LogEntry {
	return model.LogEntry{Type: typ, Message: redact.String(msg), Timestamp: l.svc.now()}
}

func (l *taskLogger) append(ctx context.Context, typ model.LogType, msg string) {
	e := l.entry(typ, msg)
	l.logger.Debugf("[%s] %s", typ, e.Message)
	l.svc.update(ctx, l.logger, l.taskID, func(t *model.Task) { t.AppendLog(e) })
}

func (l *taskLogger) Info(ctx context.Context, msg string) { l.append(ctx, model.LogTypeInfo, msg) }
func (l *taskLogger) Command(ctx context.Context, msg string) {
	l.append(ctx, model.LogTypeCommand, msg)
}
func (l *taskLogger) Error(ctx context.Context, msg string) { l.append(ctx, model.LogTypeError, msg) }
func (l *taskLogger) Success(ctx context.Context, msg string) {
	l.append(ctx, model.LogTypeSuccess, msg)
}

func (l *taskLogger) UpdateProgress(ctx context.Context, progress int, msg string) {
	e := l.entry(model.LogTypeInfo, msg)
	l.logger.Debugf("[progress %d%%] %s", progress, e.Message)
	l.svc.update(ctx, l.logger, l.taskID, func(t *model.Task) {
		t.AppendLog(e)
		t.SetProgress(progress)
	})
}

func (l *taskLogger) UpdateStatus(ctx context.Context, status model.TaskStatus, msg string) {
	var e *model.LogEntry
	if msg != "" {
		entry := l.entry(model.LogTypeInfo, msg)
		e = &entry
	}

	l.svc.update(ctx, l.logger, l.taskID, func(t *model.Task) {
		if e != nil {
			t.AppendLog(*e)
		}
		if err := t.TransitionTo(status); err != nil {
			l.logger.Warningf("Ignoring task status update: %s", err)
		}
	})
}

func (l *taskLogger) Fail(ctx context.Context, msg string) {
	e := l.entry(model.LogTypeError, msg)
	l.logger.Debugf("[failed] %s", e.Message)
	l.svc.update(ctx, l.logger, l.taskID, func(t *model.Task) {
		t.AppendLog(e)
		t.Error = e.Message
		if err := t.TransitionTo(model.TaskStatusError); err != nil {
			l.logger.Warningf("Ignoring task status update: %s", err)
		}
	})
}
