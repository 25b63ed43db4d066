package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/tasklist"
	"github.com/slok/agentbox/internal/model"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	statusFilter []string
	format       string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the user tasks.")
	c.Cmd.Flag("status", "Filter by status (queued, processing, completed, error), repeatable.").StringsVar(&c.statusFilter)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	// Parse status filter if provided.
	var statusFilter []model.TaskStatus
	for _, f := range c.statusFilter {
		status := model.TaskStatus(strings.ToLower(f))
		switch status {
		case model.TaskStatusQueued, model.TaskStatusProcessing, model.TaskStatusCompleted, model.TaskStatusError:
			statusFilter = append(statusFilter, status)
		default:
			return fmt.Errorf("invalid status filter: %s (must be: queued, processing, completed, error)", f)
		}
	}

	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	tasks, err := s.taskList.Run(ctx, tasklist.Request{
		UserID:       c.rootCmd.UserID,
		StatusFilter: statusFilter,
	})
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintTaskList(tasks); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
