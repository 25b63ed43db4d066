package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task has been accepted and waits to be run.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusProcessing indicates the task is being run.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusError indicates the task finished with an error.
	TaskStatusError TaskStatus = "error"
)

// IsFinal returns true when the status is a terminal one.
func (s TaskStatus) IsFinal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// LogType is the kind of a task log entry.
type LogType string

const (
	LogTypeInfo    LogType = "info"
	LogTypeCommand LogType = "command"
	LogTypeError   LogType = "error"
	LogTypeSuccess LogType = "success"
)

// LogEntry is a single immutable task log line.
type LogEntry struct {
	Type      LogType   `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultTaskMaxDuration is the max wall-clock time of a task run when none is set.
const DefaultTaskMaxDuration = 60 * time.Minute

// Task is one unit of requested work tied to one sandbox lineage.
type Task struct {
	ID                  string
	UserID              string
	Prompt              string
	Agent               AgentVariant
	Model               string
	RepoURL             string
	BranchName          string
	InstallDependencies bool
	KeepAlive           bool
	MaxDuration         time.Duration
	Status              TaskStatus
	Progress            int
	Logs                []LogEntry
	Error               string
	AgentSessionID      string

	// SandboxID is a weak reference to the remote sandbox, the provider owns its lifetime.
	SandboxID  string
	SandboxURL string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// HasSandbox returns true if the task has a sandbox handle reference.
func (t Task) HasSandbox() bool { return t.SandboxID != "" }

// TransitionTo moves the task to a new status enforcing the task state machine.
func (t *Task) TransitionTo(status TaskStatus) error {
	if t.Status == status {
		return nil
	}

	allowed := false
	switch t.Status {
	case "", TaskStatusQueued:
		allowed = status == TaskStatusProcessing || status == TaskStatusError
	case TaskStatusProcessing:
		allowed = status == TaskStatusCompleted || status == TaskStatusError
	case TaskStatusCompleted, TaskStatusError:
		// Follow-up instructions on a retained sandbox.
		allowed = status == TaskStatusProcessing
	}
	if !allowed {
		return fmt.Errorf("invalid task status transition %q -> %q: %w", t.Status, status, ErrNotValid)
	}

	t.Status = status
	if status.IsFinal() {
		now := time.Now().UTC()
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}

	return nil
}

// AppendLog appends a log entry, entries are never mutated after being appended.
func (t *Task) AppendLog(e LogEntry) {
	t.Logs = append(t.Logs, e)
}

// SetProgress sets the task progress clamped to [0, 100].
func (t *Task) SetProgress(p int) {
	switch {
	case p < 0:
		p = 0
	case p > 100:
		p = 100
	}
	t.Progress = p
}

// ClearSandbox removes the sandbox handle fields from the task.
func (t *Task) ClearSandbox() {
	t.SandboxID = ""
	t.SandboxURL = ""
}

// Validate validates the task model.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if t.UserID == "" {
		return fmt.Errorf("user id is required: %w", ErrNotValid)
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return fmt.Errorf("prompt is required: %w", ErrNotValid)
	}
	if err := ValidateRepoURL(t.RepoURL); err != nil {
		return err
	}
	if !t.Agent.IsValid() {
		return fmt.Errorf("unknown agent %q: %w", t.Agent, ErrNotValid)
	}
	if t.MaxDuration < 0 {
		return fmt.Errorf("max duration can't be negative: %w", ErrNotValid)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("progress must be in [0, 100]: %w", ErrNotValid)
	}
	return nil
}

// ValidateRepoURL checks the repository URL is an http(s) git remote.
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return fmt.Errorf("repository url is required: %w", ErrNotValid)
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return fmt.Errorf("invalid repository url: %w", ErrNotValid)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("repository url scheme must be http or https, got %q: %w", u.Scheme, ErrNotValid)
	}
	if u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("repository url must include host and path: %w", ErrNotValid)
	}

	return nil
}
