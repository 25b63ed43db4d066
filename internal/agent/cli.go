package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/tasklog"
	"github.com/slok/agentbox/internal/utils/env"
)

// CLI describes how a coding-agent CLI is installed, configured and run.
type CLI struct {
	Variant model.AgentVariant
	// Binary is the executable name checked with `which`.
	Binary string
	// InstallCommand is the shell script that installs the CLI.
	InstallCommand string
	RequiredEnv    []string
	// Args returns the full command line of a run.
	Args func(req ExecuteRequest) []string
	// Parser translates the CLI stdout lines, PlainText if missing.
	Parser LineParser
	// Connectors writes the CLI tool configuration, connectors are skipped if missing.
	Connectors *ConnectorConfig
	// PollInterval is the streaming completion poll interval (optional).
	PollInterval time.Duration
	Logger       log.Logger
}

// Run executes an instruction with the CLI, it is the shared Adapter.Execute implementation.
func Run(ctx context.Context, cli CLI, req ExecuteRequest) (*Result, error) {
	if req.Sandbox == nil {
		return nil, fmt.Errorf("sandbox is required: %w", model.ErrNotValid)
	}
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("instruction is required: %w", model.ErrNotValid)
	}
	if cli.Args == nil {
		return nil, fmt.Errorf("%s command line builder is required: %w", cli.Variant, model.ErrNotValid)
	}
	if req.Logger == nil {
		req.Logger = tasklog.Noop
	}
	logger := cli.Logger
	if logger == nil {
		logger = log.Noop
	}
	logger = logger.WithValues(log.Kv{"agent": cli.Variant, "task-id": req.TaskID})
	tl := req.Logger

	if err := CheckCredentials(cli.Variant, cli.RequiredEnv, req.Env); err != nil {
		return nil, err
	}

	if err := EnsureInstalled(ctx, req.Sandbox, tl, cli.Binary, cli.InstallCommand); err != nil {
		return nil, err
	}

	if len(req.Connectors) > 0 {
		if cli.Connectors == nil {
			tl.Info(ctx, fmt.Sprintf("%s does not support connectors, skipping %d connectors", cli.Variant, len(req.Connectors)))
		} else if err := ConfigureConnectors(ctx, req, *cli.Connectors); err != nil {
			return nil, err
		}
	}

	streaming := req.MessageID != "" && req.Messages != nil
	if streaming {
		err := req.Messages.CreateMessage(ctx, model.Message{
			ID:     req.MessageID,
			TaskID: req.TaskID,
			Role:   model.MessageRoleAgent,
		})
		if err != nil {
			logger.Warningf("could not create agent placeholder message, output will not be streamed: %s", redact.Error(err))
			streaming = false
		}
	}

	sinkCfg := StreamSinkConfig{Parser: cli.Parser, Logger: logger}
	if streaming {
		sinkCfg.Messages = req.Messages
		sinkCfg.MessageID = req.MessageID
	}
	sink := NewStreamSink(ctx, sinkCfg)

	args := cli.Args(req)
	tl.Command(ctx, strings.Join(redact.Args(args), " "))
	if req.IsResumed {
		if req.SessionID != "" {
			tl.Info(ctx, fmt.Sprintf("Resuming %s session %s", cli.Variant, req.SessionID))
		} else {
			tl.Info(ctx, fmt.Sprintf("Resuming most recent %s session", cli.Variant))
		}
	}

	res, err := RunStreaming(ctx, req.Sandbox, args, req.Env, sink, cli.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("%s run: %s: %w", cli.Variant, redact.Error(err), model.ErrAgentExecution)
	}
	if msg := sink.Err(); msg != "" {
		return nil, fmt.Errorf("%s reported an error: %s: %w", cli.Variant, msg, model.ErrAgentExecution)
	}
	if !res.Completed && res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = lastLine(sink.Output())
		}
		return nil, fmt.Errorf("%s exited with code %d: %s: %w", cli.Variant, res.ExitCode, detail, model.ErrAgentExecution)
	}

	response := sink.Response()
	if streaming && response != strings.TrimSpace(sink.Streamed()) {
		if err := req.Messages.SetMessageContent(ctx, req.MessageID, response); err != nil {
			logger.Warningf("could not set final agent message content: %s", redact.Error(err))
		}
	}

	changes, err := DetectChanges(ctx, req.Sandbox)
	if err != nil {
		tl.Error(ctx, fmt.Sprintf("Could not detect changes: %s", redact.Error(err)))
	}

	sessionID := sink.SessionID()
	if sessionID == "" {
		sessionID = req.SessionID
	}

	tl.Success(ctx, fmt.Sprintf("%s finished", cli.Variant))
	return &Result{
		Success:         true,
		Output:          sink.Output(),
		AgentResponse:   response,
		ChangesDetected: changes,
		SessionID:       sessionID,
	}, nil
}

// CheckCredentials checks the required env vars are set. The error wraps
// model.ErrAgentCredentials and model.ErrMissingConfig.
func CheckCredentials(v model.AgentVariant, required []string, vars map[string]string) error {
	missing := env.Missing(vars, required)
	if len(missing) > 0 {
		return fmt.Errorf("%s requires %s: %w: %w", v, strings.Join(missing, ", "), model.ErrAgentCredentials, model.ErrMissingConfig)
	}
	return nil
}

// EnsureInstalled installs the CLI only when the binary is not found.
func EnsureInstalled(ctx context.Context, sb sandbox.Sandbox, tl tasklog.TaskLogger, binary, installCommand string) error {
	if res := command.Run(ctx, sb, "which", binary); res.Success {
		tl.Info(ctx, fmt.Sprintf("%s CLI already installed", binary))
		return nil
	}

	if installCommand == "" {
		return fmt.Errorf("%s is not installed and there is no install command: %w", binary, model.ErrAgentInstall)
	}

	tl.Command(ctx, redact.String(installCommand))
	res := command.Shell(ctx, sb, installCommand)
	if !res.Success {
		return fmt.Errorf("installing %s (exit %d): %s: %w", binary, res.ExitCode, redact.String(lastLine(res.Error)), model.ErrAgentInstall)
	}
	if res := command.Run(ctx, sb, "which", binary); !res.Success {
		return fmt.Errorf("%s not found after install: %w", binary, model.ErrAgentInstall)
	}
	tl.Success(ctx, fmt.Sprintf("%s CLI installed", binary))

	return nil
}

// DetectChanges returns true when the sandbox working tree has pending changes.
func DetectChanges(ctx context.Context, sb sandbox.Sandbox) (bool, error) {
	res := command.Run(ctx, sb, "git", "status", "--porcelain")
	if !res.Success {
		return false, fmt.Errorf("git status failed (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Error))
	}
	return strings.TrimSpace(res.Output) != "", nil
}

// ResumeArgs returns the session resume flags of CLIs that take a session flag and a
// "continue most recent" flag.
func ResumeArgs(req ExecuteRequest, sessionFlag, continueFlag string) []string {
	if !req.IsResumed {
		return nil
	}
	if req.SessionID != "" {
		return []string{sessionFlag, req.SessionID}
	}
	return []string{continueFlag}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
