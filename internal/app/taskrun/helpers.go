package taskrun

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/tasklog"
)

const (
	maxBranchSlug    = 40
	maxCommitSubject = 72
	devServerLog     = "/tmp/agentbox-dev-server.log"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// BranchName returns a new working branch name for a prompt: the prefix, a slug of
// the prompt and a random suffix.
func BranchName(prompt string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(prompt), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxBranchSlug {
		slug = strings.Trim(slug[:maxBranchSlug], "-")
	}

	suffix := uuid.NewString()[:8]
	if slug == "" {
		return conventions.BranchPrefix + "/" + suffix
	}
	return conventions.BranchPrefix + "/" + slug + "-" + suffix
}

// CommitMessage returns the commit message of the changes an agent made for an instruction.
func CommitMessage(v model.AgentVariant, instruction string) string {
	subject := strings.TrimSpace(instruction)
	if i := strings.IndexByte(subject, '\n'); i >= 0 {
		subject = strings.TrimSpace(subject[:i])
	}
	if len(subject) > maxCommitSubject {
		subject = strings.TrimSpace(subject[:maxCommitSubject-3]) + "..."
	}
	if subject == "" {
		subject = "Apply agent changes"
	}

	return fmt.Sprintf("%s\n\nChanges made by %s agent with agentbox.", subject, v)
}

// devServerCommand returns the dev server command of the project, empty if unknown.
func devServerCommand(ctx context.Context, sb sandbox.Sandbox, override string, port int) string {
	if override != "" {
		return override
	}

	res := command.Run(ctx, sb, "cat", "package.json")
	if !res.Success {
		return ""
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal([]byte(res.Output), &pkg); err != nil {
		return ""
	}

	for _, script := range []string{"dev", "start"} {
		if _, ok := pkg.Scripts[script]; ok {
			return fmt.Sprintf("PORT=%d HOST=0.0.0.0 npm run %s", port, script)
		}
	}
	return ""
}

// startDevServer starts the project dev server detached, failures are only logged.
func (s *Service) startDevServer(ctx context.Context, sb sandbox.Sandbox, tl tasklog.TaskLogger, logger log.Logger) {
	port := s.settings.DevServer.Port
	if port <= 0 {
		return
	}

	cmd := devServerCommand(ctx, sb, s.settings.DevServer.Command, port)
	if cmd == "" {
		tl.Info(ctx, "No dev server command found, skipping dev server")
		return
	}

	tl.Command(ctx, cmd)
	_, err := sb.Exec(ctx, []string{"sh", "-c", fmt.Sprintf("%s > %s 2>&1", cmd, devServerLog)}, model.ExecOpts{
		WorkingDir: sandbox.WorkDir,
		Detach:     true,
	})
	if err != nil {
		tl.Error(ctx, fmt.Sprintf("Warning: could not start dev server: %s", redact.Error(err)))
		logger.Warningf("Could not start dev server: %s", redact.Error(err))
		return
	}
	tl.Info(ctx, fmt.Sprintf("Dev server started on port %d", port))
}
