package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/taskfiles"
)

type FilesCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	mode   string
	format string
}

// NewFilesCommand returns the files command.
func NewFilesCommand(rootCmd *RootCommand, app *kingpin.Application) *FilesCommand {
	c := &FilesCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("files", "Show the files changed by a task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("mode", "Read the changes from the sandbox (local) or the remote branch (remote).").Default(string(taskfiles.ModeRemote)).EnumVar(&c.mode, string(taskfiles.ModeLocal), string(taskfiles.ModeRemote))
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c FilesCommand) Name() string { return c.Cmd.FullCommand() }

func (c FilesCommand) Run(ctx context.Context) error {
	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.taskFiles.Run(ctx, taskfiles.Request{
		UserID: c.rootCmd.UserID,
		TaskID: c.taskID,
		Mode:   taskfiles.Mode(c.mode),
	})
	if err != nil {
		return fmt.Errorf("could not get task files: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintFiles(res.Files); err != nil {
		return fmt.Errorf("could not print files: %w", err)
	}

	return nil
}
