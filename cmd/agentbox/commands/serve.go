package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slok/agentbox/internal/httpapi"
	"github.com/slok/agentbox/internal/metrics"
	"github.com/slok/agentbox/internal/sweeper"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr    string
	sweepSchedule string
	noSweeper     bool
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Serve the HTTP API and run the accepted tasks.")
	c.Cmd.Flag("listen-address", "Address where the HTTP API listens.").Default(":8080").StringVar(&c.listenAddr)
	c.Cmd.Flag("sweep-schedule", "Cron schedule of the stuck tasks sweeper.").Default(sweeper.DefaultSchedule).StringVar(&c.sweepSchedule)
	c.Cmd.Flag("no-sweeper", "Disable the stuck tasks sweeper.").BoolVar(&c.noSweeper)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheus(reg)

	s, err := newStack(ctx, c.rootCmd, rec)
	if err != nil {
		return err
	}
	defer s.Close()

	handler, err := httpapi.NewHandler(httpapi.HandlerConfig{
		CreateTask:   s.createTask,
		ContinueTask: s.continueTask,
		TaskFiles:    s.taskFiles,
		TaskStatus:   s.taskStatus,
		TaskList:     s.taskList,
		TaskRemove:   s.taskRemove,
		Connectors:   s.connectors,
		Quota:        s.limiter,
		Runner:       s.runner,
		RunContext:   ctx,
		Gatherer:     reg,
		Metrics:      rec,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("could not create http handler: %w", err)
	}

	var g run.Group

	// HTTP API.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return httpapi.ListenAndServe(ctx, c.listenAddr, handler, logger)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Stuck tasks sweeper.
	if !c.noSweeper {
		sw, err := sweeper.NewSweeper(sweeper.SweeperConfig{
			Repository: s.repo,
			Engine:     s.engine,
			Registry:   s.registry,
			Schedule:   c.sweepSchedule,
			Metrics:    rec,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("could not create sweeper: %w", err)
		}

		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return sw.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}
