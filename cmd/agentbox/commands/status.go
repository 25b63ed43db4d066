package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/taskstatus"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID   string
	messages bool
	format   string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Get the detailed status and logs of a task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("messages", "Include the task chat messages.").Default("true").BoolVar(&c.messages)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.taskStatus.Run(ctx, taskstatus.Request{
		UserID:       c.rootCmd.UserID,
		TaskID:       c.taskID,
		WithMessages: c.messages,
	})
	if err != nil {
		return fmt.Errorf("could not get task status: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintTask(res.Task, res.Messages); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
