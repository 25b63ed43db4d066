package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/continuetask"
	"github.com/slok/agentbox/internal/app/taskrun"
	"github.com/slok/agentbox/internal/app/taskstatus"
)

type ContinueCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID      string
	instruction string
	model       string
	format      string
}

// NewContinueCommand returns the continue command.
func NewContinueCommand(rootCmd *RootCommand, app *kingpin.Application) *ContinueCommand {
	c := &ContinueCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("continue", "Run a follow up instruction on the retained sandbox of a task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Arg("instruction", "Follow up instruction for the coding agent.").Required().StringVar(&c.instruction)
	c.Cmd.Flag("model", "Agent model override (optional).").StringVar(&c.model)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ContinueCommand) Name() string { return c.Cmd.FullCommand() }

func (c ContinueCommand) Run(ctx context.Context) error {
	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.continueTask.Prepare(ctx, continuetask.Request{
		UserID:      c.rootCmd.UserID,
		TaskID:      c.taskID,
		Instruction: c.instruction,
		Model:       c.model,
	})
	if err != nil {
		return fmt.Errorf("could not continue task: %w", err)
	}

	runErr := s.runner.RunContinue(ctx, taskrun.ContinueRequest{
		TaskID:      t.ID,
		Instruction: c.instruction,
		Model:       c.model,
	})

	res, err := s.taskStatus.Run(ctx, taskstatus.Request{
		UserID:       c.rootCmd.UserID,
		TaskID:       t.ID,
		WithMessages: true,
	})
	if err != nil {
		return fmt.Errorf("could not get task status: %w", err)
	}
	if err := newPrinter(c.format, c.rootCmd).PrintTask(res.Task, res.Messages); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	if runErr != nil {
		return fmt.Errorf("follow up failed: %w", runErr)
	}
	return nil
}
