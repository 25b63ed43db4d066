package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/createtask"
	"github.com/slok/agentbox/internal/app/taskstatus"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/utils/env"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	prompt      string
	repoURL     string
	agent       string
	model       string
	branch      string
	installDeps bool
	keepAlive   bool
	maxDuration time.Duration
	envSpecs    []string
	format      string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	variants := make([]string, 0, len(model.AgentVariants()))
	for _, v := range model.AgentVariants() {
		variants = append(variants, string(v))
	}

	c.Cmd = app.Command("run", "Create a task and run it until the agent changes are published.")
	c.Cmd.Arg("prompt", "Instruction for the coding agent.").Required().StringVar(&c.prompt)
	c.Cmd.Flag("repo", "Repository URL the agent works on.").Short('r').Required().StringVar(&c.repoURL)
	c.Cmd.Flag("agent", "Coding agent.").Short('a').Default(string(model.AgentClaude)).EnumVar(&c.agent, variants...)
	c.Cmd.Flag("model", "Agent model (optional).").StringVar(&c.model)
	c.Cmd.Flag("branch", "Existing branch to work on, a new one is created when empty.").StringVar(&c.branch)
	c.Cmd.Flag("install-deps", "Install the project dependencies before running the agent.").BoolVar(&c.installDeps)
	c.Cmd.Flag("keep-alive", "Keep the sandbox running after the task so it can be continued.").BoolVar(&c.keepAlive)
	c.Cmd.Flag("max-duration", "Max wall-clock duration of the task.").Default(model.DefaultTaskMaxDuration.String()).DurationVar(&c.maxDuration)
	c.Cmd.Flag("env", "Extra agent environment variable in KEY=VALUE format (repeatable).").StringsVar(&c.envSpecs)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	extraEnv, err := env.ParseSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid --env value: %w", err)
	}

	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	// The services share the env map, extra values reach the credentials check and the sandbox.
	for k, v := range extraEnv {
		s.env[k] = v
	}

	created, err := s.createTask.Create(ctx, createtask.Request{
		UserID:              c.rootCmd.UserID,
		Prompt:              c.prompt,
		RepoURL:             c.repoURL,
		Agent:               model.AgentVariant(c.agent),
		Model:               c.model,
		BranchName:          c.branch,
		InstallDependencies: c.installDeps,
		KeepAlive:           c.keepAlive,
		MaxDuration:         c.maxDuration,
	})
	if err != nil {
		if errors.Is(err, model.ErrRateLimited) && created != nil {
			return fmt.Errorf("daily task quota exhausted, resets at %s: %w", created.Quota.ResetAt.Format(time.RFC3339), err)
		}
		return fmt.Errorf("could not create task: %w", err)
	}
	c.rootCmd.Logger.Infof("Task %s created", created.Task.ID)

	runErr := s.runner.RunNew(ctx, created.Task.ID)

	res, err := s.taskStatus.Run(ctx, taskstatus.Request{
		UserID:       c.rootCmd.UserID,
		TaskID:       created.Task.ID,
		WithMessages: true,
	})
	if err != nil {
		return fmt.Errorf("could not get task status: %w", err)
	}
	if err := newPrinter(c.format, c.rootCmd).PrintTask(res.Task, res.Messages); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	if runErr != nil {
		return fmt.Errorf("task failed: %w", runErr)
	}
	return nil
}
