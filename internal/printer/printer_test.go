package printer_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/printer"
)

func taskFixture() model.Task {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	completedAt := createdAt.Add(5 * time.Minute)
	return model.Task{
		ID:          "01HQZX3Y7K1M2N3P4Q5R6S7T8V",
		UserID:      "user-1",
		Prompt:      "Add a README",
		Agent:       model.AgentClaude,
		Model:       "sonnet",
		RepoURL:     "https://github.com/org/repo",
		BranchName:  "agentbox/add-readme-1a2b3c4d",
		Status:      model.TaskStatusCompleted,
		Progress:    100,
		SandboxID:   "sbx-1",
		SandboxURL:  "http://localhost:3000",
		KeepAlive:   true,
		CreatedAt:   createdAt,
		CompletedAt: &completedAt,
		Logs: []model.LogEntry{
			{Type: model.LogTypeCommand, Message: "git push origin agentbox/add-readme-1a2b3c4d", Timestamp: createdAt},
		},
	}
}

func TestTablePrinterPrintTask(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	msgs := []model.Message{{Role: model.MessageRoleAgent, Content: "Done.\n"}}
	err := p.PrintTask(taskFixture(), msgs)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Status:     completed")
	assert.Contains(t, out, "Branch:     agentbox/add-readme-1a2b3c4d")
	assert.Contains(t, out, "URL:        http://localhost:3000")
	assert.Contains(t, out, "Completed:  2026-01-30 10:05:00 UTC")
	assert.Contains(t, out, "10:00:00 command  git push origin")
	assert.Contains(t, out, "[agent] Done.")
	assert.NotContains(t, out, "Error:")
}

func TestTablePrinterPrintTaskList(t *testing.T) {
	tests := map[string]struct {
		tasks  []model.Task
		expOut []string
	}{
		"No tasks should print nothing.": {},

		"Tasks should be printed in rows.": {
			tasks: []model.Task{taskFixture(), {ID: "t2", Status: model.TaskStatusQueued, Agent: model.AgentCodex}},
			expOut: []string{
				"ID                          STATUS     AGENT   PROGRESS  BRANCH",
				"01HQZX3Y7K1M2N3P4Q5R6S7T8V  completed  claude  100%      agentbox/add-readme-1a2b3c4d",
				"t2                          queued     codex   0%        -",
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.NewTablePrinter(&buf)

			err := p.PrintTaskList(test.tasks)
			require.NoError(t, err)

			if len(test.expOut) == 0 {
				assert.Empty(t, buf.String())
			}
			for _, exp := range test.expOut {
				assert.Contains(t, buf.String(), exp)
			}
		})
	}
}

func TestTablePrinterPrintChecks(t *testing.T) {
	tests := map[string]struct {
		results []model.CheckResult
		expOut  string
	}{
		"All passed checks should print the success summary.": {
			results: []model.CheckResult{{ID: "docker_daemon", Status: model.CheckStatusOK, Message: "reachable"}},
			expOut:  "All checks passed!",
		},

		"Failed checks should print the counts.": {
			results: []model.CheckResult{
				{ID: "docker_daemon", Status: model.CheckStatusError, Message: "unreachable"},
				{ID: "credentials", Status: model.CheckStatusWarning, Message: "missing"},
			},
			expOut: "1 error(s), 1 warning(s)",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.NewTablePrinter(&buf)

			err := p.PrintChecks(test.results)
			require.NoError(t, err)
			assert.Contains(t, buf.String(), test.expOut)
		})
	}
}

func TestTablePrinterPrintFiles(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintFiles([]model.FileChange{{Filename: "README.md", Status: model.FileStatusAdded, Additions: 3}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "README.md  added   +3         -0")
}

func TestJSONPrinterPrintTask(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintTask(taskFixture(), nil)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"status": "completed"`)
	assert.Contains(t, out, `"sandbox_id": "sbx-1"`)
	assert.Contains(t, out, `"completed_at": "2026-01-30T10:05:00Z"`)
	assert.NotContains(t, out, `"messages"`)
}

func TestJSONPrinterPrintFiles(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintFiles(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"files":[],"tree":[]}`, buf.String())
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}
