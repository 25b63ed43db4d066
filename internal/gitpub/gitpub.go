// Package gitpub publishes the sandbox working tree changes to the task branch.
package gitpub

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/tasklog"
)

// Outcome is the result kind of a publication.
type Outcome string

const (
	// OutcomeNothingToPush means the working tree had no changes, it is not an error.
	OutcomeNothingToPush Outcome = "nothing-to-push"
	// OutcomePushed means the changes were committed and pushed.
	OutcomePushed Outcome = "pushed"
	// OutcomePushFailed means the changes were committed but the push failed,
	// the commit is kept in the sandbox.
	OutcomePushFailed Outcome = "push-failed"
)

// Result is a publication result.
type Result struct {
	Outcome Outcome
	// CommitSHA is the created commit (empty when there was nothing to push).
	CommitSHA string
}

// PublisherConfig is the configuration of the publisher.
type PublisherConfig struct {
	// Remote is the git remote pushed to (optional).
	Remote string
	Logger log.Logger
}

func (c *PublisherConfig) defaults() error {
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "gitpub.Publisher"})
	return nil
}

// Publisher commits and pushes sandbox changes.
type Publisher struct {
	remote string
	logger log.Logger
}

// NewPublisher returns a new publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Publisher{
		remote: cfg.Remote,
		logger: cfg.Logger,
	}, nil
}

// Publish stages every working tree change, commits it and pushes it to the branch.
// A push failure returns OutcomePushFailed with an error wrapping model.ErrPushFailed.
// Push failures are not retried.
func (p *Publisher) Publish(ctx context.Context, sb sandbox.Sandbox, tl tasklog.TaskLogger, branch, message string) (*Result, error) {
	if branch == "" {
		return nil, fmt.Errorf("branch is required: %w", model.ErrNotValid)
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("commit message is required: %w", model.ErrNotValid)
	}
	if tl == nil {
		tl = tasklog.Noop
	}

	tl.Command(ctx, "git add -A")
	if res := command.Run(ctx, sb, "git", "add", "-A"); !res.Success {
		return nil, fmt.Errorf("git add failed (exit %d): %s", res.ExitCode, redact.String(strings.TrimSpace(res.Error)))
	}

	status := command.Run(ctx, sb, "git", "status", "--porcelain")
	if !status.Success {
		return nil, fmt.Errorf("git status failed (exit %d): %s", status.ExitCode, redact.String(strings.TrimSpace(status.Error)))
	}
	if strings.TrimSpace(status.Output) == "" {
		tl.Info(ctx, "No changes to commit")
		return &Result{Outcome: OutcomeNothingToPush}, nil
	}

	tl.Command(ctx, "git commit -m "+command.Quote(message))
	if res := command.Run(ctx, sb, "git", "commit", "-m", message); !res.Success {
		return nil, fmt.Errorf("git commit failed (exit %d): %s", res.ExitCode, redact.String(detail(res)))
	}

	sha := ""
	if res := command.Run(ctx, sb, "git", "rev-parse", "HEAD"); res.Success {
		sha = strings.TrimSpace(res.Output)
	}

	tl.Command(ctx, fmt.Sprintf("git push %s %s", p.remote, branch))
	res := command.Run(ctx, sb, "git", "push", p.remote, branch)
	if !res.Success {
		msg := redact.String(detail(res))
		tl.Error(ctx, fmt.Sprintf("Push to %s failed, the changes are committed in the sandbox: %s", branch, msg))
		p.logger.Warningf("Push of %s to %s failed: %s", sha, branch, msg)
		return &Result{Outcome: OutcomePushFailed, CommitSHA: sha}, fmt.Errorf("push to %s failed: %s: %w", branch, msg, model.ErrPushFailed)
	}

	tl.Success(ctx, fmt.Sprintf("Changes pushed to %s", branch))
	return &Result{Outcome: OutcomePushed, CommitSHA: sha}, nil
}

func detail(res command.Result) string {
	if s := strings.TrimSpace(res.Error); s != "" {
		return s
	}
	return strings.TrimSpace(res.Output)
}
