// Package github implements scm.Provider with the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/scm"
)

const defaultAPIBase = "https://api.github.com"

var errNotFound = errors.New("http not found")

// ProviderConfig is the configuration of the GitHub provider.
type ProviderConfig struct {
	// Token authenticates the API requests (optional, public repositories work without it).
	Token      string
	HTTPClient *http.Client
	Logger     log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "scm.GitHub"})
	return nil
}

// Provider is the GitHub source control provider.
type Provider struct {
	token      string
	httpClient *http.Client
	logger     log.Logger
	apiBaseURL string
}

var _ scm.Provider = &Provider{}

// NewProvider returns a new GitHub provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Provider{
		token:      cfg.Token,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		apiBaseURL: defaultAPIBase,
	}, nil
}

// NewProviderWithBaseURL returns a provider with a custom API base URL (for testing).
func NewProviderWithBaseURL(cfg ProviderConfig, apiBaseURL string) (*Provider, error) {
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	p.apiBaseURL = apiBaseURL
	return p, nil
}

type ghRepo struct {
	DefaultBranch string `json:"default_branch"`
}

type ghCompare struct {
	Files []ghFile `json:"files"`
}

type ghFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
}

func (f ghFile) toModel() model.FileChange {
	status := model.FileStatusModified
	switch f.Status {
	case "added":
		status = model.FileStatusAdded
	case "removed":
		status = model.FileStatusDeleted
	case "renamed":
		status = model.FileStatusRenamed
	}
	return model.FileChange{
		Filename:  f.Filename,
		Status:    status,
		Additions: f.Additions,
		Deletions: f.Deletions,
		Changes:   f.Changes,
	}
}

func (p *Provider) DefaultBranch(ctx context.Context, repoURL string) (string, error) {
	repo, err := scm.ParseRepo(repoURL)
	if err != nil {
		return "", err
	}

	var r ghRepo
	if err := p.getJSON(ctx, fmt.Sprintf("%s/repos/%s", p.apiBaseURL, repo), &r); err != nil {
		if errors.Is(err, errNotFound) {
			return "", fmt.Errorf("repository %s: %w", repo, model.ErrNotFound)
		}
		return "", fmt.Errorf("fetching repository %s: %w", repo, err)
	}
	if r.DefaultBranch == "" {
		return "", fmt.Errorf("repository %s has no default branch: %w", repo, model.ErrNotFound)
	}

	return r.DefaultBranch, nil
}

func (p *Provider) BranchExists(ctx context.Context, repoURL, branch string) (bool, error) {
	repo, err := scm.ParseRepo(repoURL)
	if err != nil {
		return false, err
	}

	u := fmt.Sprintf("%s/repos/%s/branches/%s", p.apiBaseURL, repo, url.PathEscape(branch))
	if err := p.getJSON(ctx, u, nil); err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetching branch %s of %s: %w", branch, repo, err)
	}

	return true, nil
}

func (p *Provider) Compare(ctx context.Context, repoURL, base, head string) ([]model.FileChange, error) {
	repo, err := scm.ParseRepo(repoURL)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/repos/%s/compare/%s...%s", p.apiBaseURL, repo, url.PathEscape(base), url.PathEscape(head))
	var c ghCompare
	if err := p.getJSON(ctx, u, &c); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("comparing %s...%s of %s: %w", base, head, repo, model.ErrNotFound)
		}
		return nil, fmt.Errorf("comparing %s...%s of %s: %w", base, head, repo, err)
	}

	files := make([]model.FileChange, 0, len(c.Files))
	for _, f := range c.Files {
		files = append(files, f.toModel())
	}
	return files, nil
}

func (p *Provider) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
