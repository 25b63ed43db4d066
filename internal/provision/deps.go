package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
	"github.com/slok/agentbox/internal/tasklog"
)

// PackageManager is a project dependency manager.
type PackageManager string

const (
	PackageManagerNone PackageManager = ""
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerPNPM PackageManager = "pnpm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPip  PackageManager = "pip"
)

var installCommands = map[PackageManager]string{
	PackageManagerNPM:  "npm install --no-audit --no-fund",
	PackageManagerPNPM: "corepack enable pnpm && pnpm install",
	PackageManagerYarn: "corepack enable yarn && yarn install",
	PackageManagerPip:  "pip install -r requirements.txt",
}

// DetectPackageManager returns the package manager of a project from its root file names.
func DetectPackageManager(files []string) PackageManager {
	set := map[string]bool{}
	for _, f := range files {
		set[strings.TrimSpace(f)] = true
	}

	switch {
	case set["package.json"] && set["pnpm-lock.yaml"]:
		return PackageManagerPNPM
	case set["package.json"] && set["yarn.lock"]:
		return PackageManagerYarn
	case set["package.json"]:
		return PackageManagerNPM
	case set["requirements.txt"]:
		return PackageManagerPip
	}
	return PackageManagerNone
}

// NewDependenciesProvisioner returns a provisioner that installs the project dependencies
// with the detected package manager. JS projects with a non npm manager are retried once
// with npm. Failures are logged as warnings and never fail the provisioning.
func NewDependenciesProvisioner(sb sandbox.Sandbox, tl tasklog.TaskLogger) Provisioner {
	return ProvisionerFunc(func(ctx context.Context) error {
		ls := command.Run(ctx, sb, "ls", "-1A")
		if !ls.Success {
			tl.Error(ctx, fmt.Sprintf("Warning: could not list project files: %s", redact.String(strings.TrimSpace(ls.Error))))
			return nil
		}

		pm := DetectPackageManager(strings.Split(ls.Output, "\n"))
		if pm == PackageManagerNone {
			tl.Info(ctx, "No dependency manifest found, skipping dependency install")
			return nil
		}

		if install(ctx, sb, tl, pm) {
			return nil
		}
		if pm == PackageManagerPNPM || pm == PackageManagerYarn {
			tl.Info(ctx, fmt.Sprintf("Retrying dependency install with npm after %s failed", pm))
			if install(ctx, sb, tl, PackageManagerNPM) {
				return nil
			}
		}
		tl.Error(ctx, "Warning: dependency install failed, continuing without dependencies")

		return nil
	})
}

func install(ctx context.Context, sb sandbox.Sandbox, tl tasklog.TaskLogger, pm PackageManager) bool {
	cmd := installCommands[pm]
	tl.Command(ctx, cmd)
	res := command.Shell(ctx, sb, cmd)
	if !res.Success {
		tl.Error(ctx, fmt.Sprintf("%s install failed (exit %d): %s", pm, res.ExitCode, redact.String(tail(res.Error))))
		return false
	}
	tl.Success(ctx, fmt.Sprintf("Dependencies installed with %s", pm))
	return true
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, " | ")
}
