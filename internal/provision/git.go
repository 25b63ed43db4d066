package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/tasklog"
)

// NewGitAuthorProvisioner returns a provisioner that sets the repository commit identity.
// Empty author fields are not set.
func NewGitAuthorProvisioner(sb sandbox.Sandbox, tl tasklog.TaskLogger, author model.GitAuthor) Provisioner {
	return ProvisionerFunc(func(ctx context.Context) error {
		settings := [][2]string{{"user.name", author.Name}, {"user.email", author.Email}}
		for _, kv := range settings {
			if kv[1] == "" {
				continue
			}
			res := command.Run(ctx, sb, "git", "config", kv[0], kv[1])
			if !res.Success {
				return fmt.Errorf("git config %s failed (exit %d): %s", kv[0], res.ExitCode, redact.String(strings.TrimSpace(res.Error)))
			}
		}
		if author.Name != "" || author.Email != "" {
			tl.Info(ctx, fmt.Sprintf("Git author set to %s <%s>", author.Name, author.Email))
		}
		return nil
	})
}

// NewBranchProvisioner returns a provisioner that creates and checks out the working
// branch. If the branch can't be created the fallback branch is used, the resulting
// branch name is stored in branch.
func NewBranchProvisioner(sb sandbox.Sandbox, tl tasklog.TaskLogger, branch *string, fallback func() string) Provisioner {
	return ProvisionerFunc(func(ctx context.Context) error {
		name := *branch
		res := command.Run(ctx, sb, "git", "checkout", "-b", name)
		if res.Success {
			tl.Info(ctx, fmt.Sprintf("Created branch %s", name))
			return nil
		}

		fb := fallback()
		tl.Error(ctx, fmt.Sprintf("Could not create branch %s: %s, using %s", name, redact.String(strings.TrimSpace(res.Error)), fb))
		res = command.Run(ctx, sb, "git", "checkout", "-b", fb)
		if !res.Success {
			return fmt.Errorf("could not create fallback branch %s (exit %d): %s", fb, res.ExitCode, redact.String(strings.TrimSpace(res.Error)))
		}

		*branch = fb
		tl.Info(ctx, fmt.Sprintf("Created branch %s", fb))
		return nil
	})
}
