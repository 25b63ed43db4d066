package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

var _ Printer = &JSONPrinter{}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Agent      string    `json:"agent"`
	Progress   int       `json:"progress"`
	BranchName string    `json:"branch_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// taskOutput represents the full task status output.
type taskOutput struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	Progress       int              `json:"progress"`
	Prompt         string           `json:"prompt"`
	Agent          string           `json:"agent"`
	Model          string           `json:"model,omitempty"`
	RepoURL        string           `json:"repo_url"`
	BranchName     string           `json:"branch_name,omitempty"`
	SandboxID      string           `json:"sandbox_id,omitempty"`
	SandboxURL     string           `json:"sandbox_url,omitempty"`
	AgentSessionID string           `json:"agent_session_id,omitempty"`
	KeepAlive      bool             `json:"keep_alive"`
	Error          string           `json:"error,omitempty"`
	Logs           []model.LogEntry `json:"logs"`
	Messages       []messageItem    `json:"messages,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at"`
}

type messageItem struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type checkItem struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintTaskList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintTaskList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, t := range tasks {
		items[i] = listItem{
			ID:         t.ID,
			Status:     string(t.Status),
			Agent:      string(t.Agent),
			Progress:   t.Progress,
			BranchName: t.BranchName,
			CreatedAt:  t.CreatedAt.UTC(),
		}
	}

	return j.encode(items)
}

// PrintTask prints the detailed task status in JSON format.
func (j *JSONPrinter) PrintTask(task model.Task, messages []model.Message) error {
	output := taskOutput{
		ID:             task.ID,
		Status:         string(task.Status),
		Progress:       task.Progress,
		Prompt:         task.Prompt,
		Agent:          string(task.Agent),
		Model:          task.Model,
		RepoURL:        task.RepoURL,
		BranchName:     task.BranchName,
		SandboxID:      task.SandboxID,
		SandboxURL:     task.SandboxURL,
		AgentSessionID: task.AgentSessionID,
		KeepAlive:      task.KeepAlive,
		Error:          task.Error,
		Logs:           task.Logs,
		CreatedAt:      task.CreatedAt.UTC(),
	}
	if output.Logs == nil {
		output.Logs = []model.LogEntry{}
	}

	for _, m := range messages {
		output.Messages = append(output.Messages, messageItem{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}

	if task.CompletedAt != nil {
		utcTime := task.CompletedAt.UTC()
		output.CompletedAt = &utcTime
	}

	return j.encode(output)
}

// PrintFiles prints file changes in JSON format, including the directory tree.
func (j *JSONPrinter) PrintFiles(files []model.FileChange) error {
	if files == nil {
		files = []model.FileChange{}
	}
	tree := model.BuildFileTree(files)
	if tree == nil {
		tree = []*model.FileNode{}
	}

	return j.encode(struct {
		Files []model.FileChange `json:"files"`
		Tree  []*model.FileNode  `json:"tree"`
	}{Files: files, Tree: tree})
}

// PrintChecks prints preflight check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	items := make([]checkItem, len(results))
	for i, r := range results {
		items[i] = checkItem{ID: r.ID, Status: string(r.Status), Message: r.Message}
	}

	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
