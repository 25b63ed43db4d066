package gitpub

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
)

// LocalChanges returns the files changed in the sandbox working tree compared with the
// point where the working branch forked from the remote default branch. Committed,
// uncommitted and untracked changes are included.
func LocalChanges(ctx context.Context, sb sandbox.Sandbox) ([]model.FileChange, error) {
	base := "HEAD"
	if res := command.Run(ctx, sb, "git", "merge-base", "HEAD", "origin/HEAD"); res.Success && strings.TrimSpace(res.Output) != "" {
		base = strings.TrimSpace(res.Output)
	}

	names := command.Run(ctx, sb, "git", "diff", "--name-status", "-M", "-z", base)
	if !names.Success {
		return nil, fmt.Errorf("git diff failed (exit %d): %s", names.ExitCode, redact.String(strings.TrimSpace(names.Error)))
	}
	stats := command.Run(ctx, sb, "git", "diff", "--numstat", "-M", "-z", base)
	if !stats.Success {
		return nil, fmt.Errorf("git diff failed (exit %d): %s", stats.ExitCode, redact.String(strings.TrimSpace(stats.Error)))
	}

	changes := parseNameStatus(names.Output)
	counts := parseNumstat(stats.Output)
	for i := range changes {
		if c, ok := counts[changes[i].Filename]; ok {
			changes[i].Additions, changes[i].Deletions = c[0], c[1]
			changes[i].Changes = c[0] + c[1]
		}
	}

	untracked := command.Run(ctx, sb, "git", "ls-files", "--others", "--exclude-standard", "-z")
	if !untracked.Success {
		return nil, fmt.Errorf("git ls-files failed (exit %d): %s", untracked.ExitCode, redact.String(strings.TrimSpace(untracked.Error)))
	}
	for _, f := range strings.Split(untracked.Output, "\x00") {
		if f == "" {
			continue
		}
		lines := 0
		if res := command.Run(ctx, sb, "wc", "-l", "--", f); res.Success {
			if fields := strings.Fields(res.Output); len(fields) > 0 {
				lines, _ = strconv.Atoi(fields[0])
			}
		}
		changes = append(changes, model.FileChange{Filename: f, Status: model.FileStatusAdded, Additions: lines, Changes: lines})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Filename < changes[j].Filename })
	return changes, nil
}

// parseNameStatus parses `git diff --name-status -z` output.
func parseNameStatus(out string) []model.FileChange {
	var changes []model.FileChange
	tokens := strings.Split(out, "\x00")
	for i := 0; i < len(tokens); {
		st := tokens[i]
		if st == "" {
			i++
			continue
		}

		switch st[0] {
		case 'R', 'C':
			if i+2 >= len(tokens) {
				return changes
			}
			status := model.FileStatusRenamed
			if st[0] == 'C' {
				status = model.FileStatusAdded
			}
			changes = append(changes, model.FileChange{Filename: tokens[i+2], Status: status})
			i += 3
		default:
			if i+1 >= len(tokens) {
				return changes
			}
			status := model.FileStatusModified
			switch st[0] {
			case 'A':
				status = model.FileStatusAdded
			case 'D':
				status = model.FileStatusDeleted
			}
			changes = append(changes, model.FileChange{Filename: tokens[i+1], Status: status})
			i += 2
		}
	}
	return changes
}

// parseNumstat parses `git diff --numstat -z` output into additions and deletions by file.
// Binary files count as zero.
func parseNumstat(out string) map[string][2]int {
	counts := map[string][2]int{}
	tokens := strings.Split(out, "\x00")
	for i := 0; i < len(tokens); {
		fields := strings.SplitN(tokens[i], "\t", 3)
		if len(fields) < 3 {
			i++
			continue
		}

		path := fields[2]
		if path == "" {
			// Renames and copies: "add\tdel\t\0old\0new".
			if i+2 >= len(tokens) {
				return counts
			}
			path = tokens[i+2]
			i += 3
		} else {
			i++
		}

		add, _ := strconv.Atoi(fields[0])
		del, _ := strconv.Atoi(fields[1])
		counts[path] = [2]int{add, del}
	}
	return counts
}
