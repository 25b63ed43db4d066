package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	tasks      map[string]model.Task
	messages   map[string][]model.Message
	msgTask    map[string]string
	connectors map[string]model.Connector
	quotas     map[string]int
	mu         sync.RWMutex
	logger     log.Logger
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:      map[string]model.Task{},
		messages:   map[string][]model.Message{},
		msgTask:    map[string]string{},
		connectors: map[string]model.Connector{},
		quotas:     map[string]int{},
		logger:     cfg.Logger,
	}, nil
}

func copyTask(t model.Task) model.Task {
	t.Logs = slices.Clone(t.Logs)
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	return t
}

// CreateTask creates a new task.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}

	r.tasks[t.ID] = copyTask(t)
	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	t = copyTask(t)
	return &t, nil
}

// ListTasks returns the tasks matching the filters, newest first.
func (r *Repository) ListTasks(ctx context.Context, opts storage.ListTasksOpts) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := []model.Task{}
	for _, t := range r.tasks {
		if opts.UserID != "" && t.UserID != opts.UserID {
			continue
		}
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, t.Status) {
			continue
		}
		tasks = append(tasks, copyTask(t))
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// UpdateTask applies fn to the task atomically.
func (r *Repository) UpdateTask(ctx context.Context, id string, fn func(t *model.Task) error) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	t := copyTask(stored)
	if err := fn(&t); err != nil {
		return nil, err
	}
	t.ID = id
	t.UpdatedAt = time.Now().UTC()
	r.tasks[id] = copyTask(t)

	return &t, nil
}

// DeleteTask deletes a task and its messages.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	delete(r.tasks, id)
	for _, m := range r.messages[id] {
		delete(r.msgTask, m.ID)
	}
	delete(r.messages, id)

	r.logger.Debugf("Deleted task from repository: %s", id)
	return nil
}

// CreateMessage creates a new task message.
func (r *Repository) CreateMessage(ctx context.Context, m model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[m.TaskID]; !ok {
		return fmt.Errorf("task %s: %w", m.TaskID, model.ErrNotFound)
	}
	if _, ok := r.msgTask[m.ID]; ok {
		return fmt.Errorf("message %s: %w", m.ID, model.ErrAlreadyExists)
	}

	r.messages[m.TaskID] = append(r.messages[m.TaskID], m)
	r.msgTask[m.ID] = m.TaskID
	return nil
}

func (r *Repository) updateMessage(id string, fn func(m *model.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	taskID, ok := r.msgTask[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}

	msgs := r.messages[taskID]
	for i := range msgs {
		if msgs[i].ID == id {
			fn(&msgs[i])
			msgs[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}

	return fmt.Errorf("message %s: %w", id, model.ErrNotFound)
}

// AppendMessageContent appends a delta to a message content.
func (r *Repository) AppendMessageContent(ctx context.Context, id string, delta string) error {
	return r.updateMessage(id, func(m *model.Message) { m.Content += delta })
}

// SetMessageContent replaces a message content.
func (r *Repository) SetMessageContent(ctx context.Context, id string, content string) error {
	return r.updateMessage(id, func(m *model.Message) { m.Content = content })
}

// ListMessages returns the task messages in creation order.
func (r *Repository) ListMessages(ctx context.Context, taskID string) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.Message{}, r.messages[taskID]...), nil
}

func connectorKey(userID, name string) string { return userID + "/" + name }

// UpsertConnector creates or replaces a user connector.
func (r *Repository) UpsertConnector(ctx context.Context, c model.Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.Args = slices.Clone(c.Args)
	c.Sealed = slices.Clone(c.Sealed)
	r.connectors[connectorKey(c.UserID, c.Name)] = c
	return nil
}

// ListConnectors returns the user connectors sorted by name.
func (r *Repository) ListConnectors(ctx context.Context, userID string) ([]model.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cs := []model.Connector{}
	for _, c := range r.connectors {
		if c.UserID == userID {
			cs = append(cs, c)
		}
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })

	return cs, nil
}

// DeleteConnector deletes a user connector.
func (r *Repository) DeleteConnector(ctx context.Context, userID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := connectorKey(userID, name)
	if _, ok := r.connectors[key]; !ok {
		return fmt.Errorf("connector %s: %w", name, model.ErrNotFound)
	}
	delete(r.connectors, key)
	return nil
}

func quotaKey(userID string, day time.Time) string { return userID + "/" + storage.DayKey(day) }

// Increment increments the user daily counter if it is below the limit.
func (r *Repository) Increment(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := quotaKey(userID, day)
	count := r.quotas[key]
	if count >= limit {
		return count, false, nil
	}
	count++
	r.quotas[key] = count

	return count, true, nil
}

// Decrement decrements the user daily counter if it is above zero.
func (r *Repository) Decrement(ctx context.Context, userID string, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := quotaKey(userID, day)
	count := r.quotas[key]
	if count > 0 {
		count--
		r.quotas[key] = count
	}

	return count, nil
}

// Count returns the user daily counter.
func (r *Repository) Count(ctx context.Context, userID string, day time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quotas[quotaKey(userID, day)], nil
}
