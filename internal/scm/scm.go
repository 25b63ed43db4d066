// Package scm has the source control hosting abstractions.
package scm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/slok/agentbox/internal/model"
)

// Provider is a source control hosting service.
type Provider interface {
	// DefaultBranch returns the default branch of a repository.
	DefaultBranch(ctx context.Context, repoURL string) (string, error)
	// BranchExists returns true if the branch exists on the remote repository.
	BranchExists(ctx context.Context, repoURL, branch string) (bool, error)
	// Compare returns the changed files of head compared with base.
	Compare(ctx context.Context, repoURL, base, head string) ([]model.FileChange, error)
}

// Repo is a hosted repository coordinate.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepo returns the owner and name of an http(s) repository url.
func ParseRepo(repoURL string) (Repo, error) {
	if err := model.ValidateRepoURL(repoURL); err != nil {
		return Repo{}, err
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return Repo{}, fmt.Errorf("invalid repository url: %w", model.ErrNotValid)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("repository url path must be owner/name: %w", model.ErrNotValid)
	}
	return Repo{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}
