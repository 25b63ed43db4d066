package httpapi

import (
	"time"

	"github.com/slok/agentbox/internal/model"
)

type createTaskReq struct {
	Prompt              string `json:"prompt"`
	RepoURL             string `json:"repoUrl"`
	Agent               string `json:"agent"`
	Model               string `json:"model,omitempty"`
	BranchName          string `json:"branchName,omitempty"`
	InstallDependencies bool   `json:"installDependencies"`
	// MaxDuration is in minutes.
	MaxDuration int  `json:"maxDuration"`
	KeepAlive   bool `json:"keepAlive"`
}

type continueTaskReq struct {
	Instruction string `json:"instruction"`
	Model       string `json:"model,omitempty"`
}

type putConnectorReq struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type taskIDResp struct {
	TaskID string `json:"taskId"`
}

type errorResp struct {
	Error string `json:"error"`
}

type rateLimitedResp struct {
	Error     string    `json:"error"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type quotaResp struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Unlimited bool      `json:"unlimited"`
}

type logEntryJSON struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type taskJSON struct {
	ID                  string         `json:"id"`
	UserID              string         `json:"userId"`
	Prompt              string         `json:"prompt"`
	Agent               string         `json:"agent"`
	Model               string         `json:"model,omitempty"`
	RepoURL             string         `json:"repoUrl"`
	BranchName          string         `json:"branchName,omitempty"`
	SandboxID           string         `json:"sandboxId,omitempty"`
	SandboxURL          string         `json:"sandboxUrl,omitempty"`
	Status              string         `json:"status"`
	Progress            int            `json:"progress"`
	Logs                []logEntryJSON `json:"logs"`
	Error               string         `json:"error,omitempty"`
	InstallDependencies bool           `json:"installDependencies"`
	KeepAlive           bool           `json:"keepAlive"`
	MaxDuration         int            `json:"maxDuration"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
}

func toTaskJSON(t model.Task) taskJSON {
	logs := make([]logEntryJSON, 0, len(t.Logs))
	for _, l := range t.Logs {
		logs = append(logs, logEntryJSON{Type: string(l.Type), Message: l.Message, Timestamp: l.Timestamp})
	}

	return taskJSON{
		ID:                  t.ID,
		UserID:              t.UserID,
		Prompt:              t.Prompt,
		Agent:               string(t.Agent),
		Model:               t.Model,
		RepoURL:             t.RepoURL,
		BranchName:          t.BranchName,
		SandboxID:           t.SandboxID,
		SandboxURL:          t.SandboxURL,
		Status:              string(t.Status),
		Progress:            t.Progress,
		Logs:                logs,
		Error:               t.Error,
		InstallDependencies: t.InstallDependencies,
		KeepAlive:           t.KeepAlive,
		MaxDuration:         int(t.MaxDuration / time.Minute),
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
		CompletedAt:         t.CompletedAt,
	}
}

type messageJSON struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type connectorJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Command   string    `json:"command,omitempty"`
	Args      []string  `json:"args,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toConnectorJSON(c model.Connector) connectorJSON {
	return connectorJSON{
		ID:        c.ID,
		Name:      c.Name,
		Type:      string(c.Type),
		Command:   c.Command,
		Args:      c.Args,
		URL:       c.URL,
		CreatedAt: c.CreatedAt,
	}
}
