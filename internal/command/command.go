// Package command runs single buffered commands inside sandboxes.
package command

import (
	"bytes"
	"context"
	"strings"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox"
)

// Result is the outcome of a command run. Callers inspect Success instead of
// receiving an error.
type Result struct {
	Success  bool
	ExitCode int
	// Output is the buffered stdout.
	Output string
	// Error is the buffered stderr, or the transport failure message.
	Error string
}

// Opts are the optional command run settings.
type Opts struct {
	WorkingDir string
	Env        map[string]string
	Stdin      string
}

// Run runs a command once in the sandbox working directory.
func Run(ctx context.Context, sb sandbox.Sandbox, name string, args ...string) Result {
	return RunOpts(ctx, sb, Opts{WorkingDir: sandbox.WorkDir}, name, args...)
}

// RunOpts runs a command once with custom options. Non zero exits return Success=false
// with the exit code, transport failures return Success=false with ExitCode -1.
func RunOpts(ctx context.Context, sb sandbox.Sandbox, opts Opts, name string, args ...string) Result {
	var stdout, stderr bytes.Buffer
	execOpts := model.ExecOpts{
		WorkingDir: opts.WorkingDir,
		Env:        opts.Env,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if opts.Stdin != "" {
		execOpts.Stdin = strings.NewReader(opts.Stdin)
	}

	res, err := sb.Exec(ctx, append([]string{name}, args...), execOpts)
	if err != nil {
		return Result{Success: false, ExitCode: -1, Output: stdout.String(), Error: err.Error()}
	}

	return Result{
		Success:  res.ExitCode == 0,
		ExitCode: res.ExitCode,
		Output:   stdout.String(),
		Error:    stderr.String(),
	}
}

// Shell runs a shell script with `sh -c` in the sandbox working directory.
func Shell(ctx context.Context, sb sandbox.Sandbox, script string) Result {
	return Run(ctx, sb, "sh", "-c", script)
}

// Quote quotes a string to be used as a single shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
