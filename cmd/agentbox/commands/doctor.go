package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/model"
	utilsenv "github.com/slok/agentbox/internal/utils/env"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for the sandbox engine, record store and credentials.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	var results []model.CheckResult
	results = append(results, s.engine.Check(ctx)...)
	results = append(results, c.storeCheck(ctx, s))
	results = append(results, credentialChecks(s.agents, model.AgentVariants(), s.env)...)
	results = append(results, configChecks(c.rootCmd)...)

	if err := newPrinter(c.format, c.rootCmd).PrintChecks(results); err != nil {
		return fmt.Errorf("could not print checks: %w", err)
	}

	if model.HasErrors(results) {
		_, _, errs := model.CountByStatus(results)
		return fmt.Errorf("preflight checks failed with %d error(s)", errs)
	}

	return nil
}

func (c DoctorCommand) storeCheck(ctx context.Context, s *stack) model.CheckResult {
	if s.sqlite == nil {
		return model.CheckResult{ID: "record_store", Message: "Memory store, records are lost on exit", Status: model.CheckStatusWarning}
	}

	version, err := s.sqlite.SchemaVersion(ctx)
	if err != nil {
		return model.CheckResult{ID: "record_store", Message: fmt.Sprintf("SQLite schema is not usable: %s", err), Status: model.CheckStatusError}
	}
	return model.CheckResult{ID: "record_store", Message: fmt.Sprintf("SQLite at %s (schema v%d)", c.rootCmd.DBPath, version), Status: model.CheckStatusOK}
}

type credentialsResolver interface {
	RequiredEnv(v model.AgentVariant) ([]string, error)
}

// credentialChecks returns one check per agent, an error is returned only when no agent
// can authenticate.
func credentialChecks(reg credentialsResolver, variants []model.AgentVariant, env map[string]string) []model.CheckResult {
	var results []model.CheckResult
	ready := 0
	for _, v := range variants {
		keys, err := reg.RequiredEnv(v)
		if err != nil {
			results = append(results, model.CheckResult{ID: fmt.Sprintf("agent_%s", v), Message: err.Error(), Status: model.CheckStatusError})
			continue
		}

		missing := utilsenv.Missing(env, keys)
		if len(missing) > 0 {
			results = append(results, model.CheckResult{
				ID:      fmt.Sprintf("agent_%s", v),
				Message: fmt.Sprintf("Missing credentials: %s", strings.Join(missing, ", ")),
				Status:  model.CheckStatusWarning,
			})
			continue
		}

		ready++
		results = append(results, model.CheckResult{ID: fmt.Sprintf("agent_%s", v), Message: "Credentials found", Status: model.CheckStatusOK})
	}

	if ready == 0 {
		results = append(results, model.CheckResult{ID: "agents", Message: "No agent has credentials, tasks can't run", Status: model.CheckStatusError})
	}

	return results
}

// configChecks checks the optional global configuration.
func configChecks(root *RootCommand) []model.CheckResult {
	results := []model.CheckResult{}

	if root.GitHubToken == "" {
		results = append(results, model.CheckResult{ID: "github_token", Message: "GITHUB_TOKEN not set, only public repositories can be cloned and pushes will fail", Status: model.CheckStatusWarning})
	} else {
		results = append(results, model.CheckResult{ID: "github_token", Message: "GitHub token configured", Status: model.CheckStatusOK})
	}

	if root.AgeIdentity == "" {
		results = append(results, model.CheckResult{ID: "age_identity", Message: "AGENTBOX_AGE_IDENTITY not set, connector credentials won't survive a restart", Status: model.CheckStatusWarning})
	} else {
		results = append(results, model.CheckResult{ID: "age_identity", Message: "Connector encryption identity configured", Status: model.CheckStatusOK})
	}

	return results
}
