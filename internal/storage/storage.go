package storage

import (
	"context"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// ListTasksOpts are the task list filters.
type ListTasksOpts struct {
	// UserID filters by owner (optional).
	UserID string
	// Statuses filters by status (optional).
	Statuses []model.TaskStatus
}

// TaskRepository is the interface for task persistence.
type TaskRepository interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, opts ListTasksOpts) ([]model.Task, error)
	// UpdateTask applies fn to the stored task as a single atomic read-modify-write,
	// returning the updated task. If fn fails nothing is written.
	UpdateTask(ctx context.Context, id string, fn func(t *model.Task) error) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// MessageRepository is the interface for task chat message persistence.
type MessageRepository interface {
	CreateMessage(ctx context.Context, m model.Message) error
	// AppendMessageContent appends a text delta to the message content atomically.
	AppendMessageContent(ctx context.Context, id string, delta string) error
	SetMessageContent(ctx context.Context, id string, content string) error
	ListMessages(ctx context.Context, taskID string) ([]model.Message, error)
}

// ConnectorRepository is the interface for user connector persistence.
type ConnectorRepository interface {
	// UpsertConnector creates or replaces the connector with the same user and name.
	UpsertConnector(ctx context.Context, c model.Connector) error
	ListConnectors(ctx context.Context, userID string) ([]model.Connector, error)
	DeleteConnector(ctx context.Context, userID, name string) error
}

// QuotaRepository is the interface for per user daily usage counters.
type QuotaRepository interface {
	// Increment increments the user counter of the UTC day only if it is below limit.
	// It returns the counter after the operation and whether it was incremented.
	Increment(ctx context.Context, userID string, day time.Time, limit int) (count int, ok bool, err error)
	// Decrement decrements the user counter of the UTC day, never below zero.
	// It returns the counter after the operation.
	Decrement(ctx context.Context, userID string, day time.Time) (count int, err error)
	// Count returns the user counter of the UTC day.
	Count(ctx context.Context, userID string, day time.Time) (int, error)
}

// Repository groups all the record store repositories.
type Repository interface {
	TaskRepository
	MessageRepository
	ConnectorRepository
	QuotaRepository
}

// DayKey returns the UTC day key used by quota counters.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }
