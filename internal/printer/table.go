package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/agentbox/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

var _ Printer = &TablePrinter{}

// PrintTaskList prints tasks in a table format.
func (t *TablePrinter) PrintTaskList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, "ID\tSTATUS\tAGENT\tPROGRESS\tBRANCH\tCREATED")

	// Print rows.
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			task.ID,
			task.Status,
			task.Agent,
			task.Progress,
			orDash(task.BranchName),
			TimeAgo(task.CreatedAt),
		)
	}

	return nil
}

// PrintTask prints the detailed task status, its logs and its chat messages.
func (t *TablePrinter) PrintTask(task model.Task, messages []model.Message) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", task.ID)
	fmt.Fprintf(t.writer, "Status:     %s\n", task.Status)
	fmt.Fprintf(t.writer, "Progress:   %d%%\n", task.Progress)
	fmt.Fprintf(t.writer, "Agent:      %s\n", task.Agent)
	if task.Model != "" {
		fmt.Fprintf(t.writer, "Model:      %s\n", task.Model)
	}
	fmt.Fprintf(t.writer, "Repository: %s\n", task.RepoURL)
	fmt.Fprintf(t.writer, "Branch:     %s\n", orDash(task.BranchName))
	fmt.Fprintf(t.writer, "Sandbox:    %s\n", orDash(task.SandboxID))
	if task.SandboxURL != "" {
		fmt.Fprintf(t.writer, "URL:        %s\n", task.SandboxURL)
	}
	fmt.Fprintf(t.writer, "Keep alive: %t\n", task.KeepAlive)
	fmt.Fprintf(t.writer, "Max time:   %s\n", FormatDuration(task.MaxDuration))
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(task.CreatedAt))
	if task.CompletedAt != nil {
		fmt.Fprintf(t.writer, "Completed:  %s (took %s)\n", FormatTimestamp(*task.CompletedAt), FormatDuration(task.CompletedAt.Sub(task.CreatedAt)))
	}
	if task.Error != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", task.Error)
	}

	if len(task.Logs) > 0 {
		fmt.Fprintf(t.writer, "\nLogs:\n")
		for _, l := range task.Logs {
			fmt.Fprintf(t.writer, "  %s %-8s %s\n", l.Timestamp.UTC().Format("15:04:05"), l.Type, l.Message)
		}
	}

	if len(messages) > 0 {
		fmt.Fprintf(t.writer, "\nMessages:\n")
		for _, m := range messages {
			fmt.Fprintf(t.writer, "  [%s] %s\n", m.Role, strings.TrimSpace(m.Content))
		}
	}

	return nil
}

// PrintFiles prints file changes in a table format.
func (t *TablePrinter) PrintFiles(files []model.FileChange) error {
	if len(files) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, "FILE\tSTATUS\tADDITIONS\tDELETIONS")

	// Print rows.
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t+%d\t-%d\n", f.Filename, f.Status, f.Additions, f.Deletions)
	}

	return nil
}

// PrintChecks prints preflight check results and a summary.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	for _, r := range results {
		fmt.Fprintf(t.writer, "  %s %-20s %s\n", statusIcon(r.Status), r.ID, r.Message)
	}

	fmt.Fprintln(t.writer)
	_, warns, errs := model.CountByStatus(results)
	if errs == 0 && warns == 0 {
		fmt.Fprintln(t.writer, "All checks passed!")
		return nil
	}

	var summary []string
	if errs > 0 {
		summary = append(summary, fmt.Sprintf("%d error(s)", errs))
	}
	if warns > 0 {
		summary = append(summary, fmt.Sprintf("%d warning(s)", warns))
	}
	fmt.Fprintln(t.writer, strings.Join(summary, ", "))

	return nil
}

// PrintMessage prints a simple message.
func (t *TablePrinter) PrintMessage(msg string) error {
	_, err := fmt.Fprintln(t.writer, msg)
	return err
}

func statusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
