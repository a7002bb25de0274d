// Package gitenv detects the CI environment an analysis runs in and gives
// the analyzer a unified view of the change under review: repository
// identity, pull/merge request coordinates, the changed files with their
// patches, and the ability to post a summary comment back on the change.
package gitenv

import (
	"context"

	"github.com/authwatchio/authwatch/pkg/diffparse"
	"github.com/authwatchio/authwatch/pkg/errors"
)

const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
	ProviderManual = "manual"
)

// GitEnv is the unified change-host interface. Implementations read
// CI-specific environment variables and talk to the host API.
type GitEnv interface {
	// Provider returns the provider name (github, gitlab, manual).
	Provider() string

	// IsActive returns true if this CI environment is detected.
	IsActive() bool

	// Repository info
	ProjectID() string
	ProjectName() string
	ProjectURL() string

	// CanonicalRepoName returns the full canonical repository name
	// including the provider domain, {domain}/{owner}/{repo}, e.g.
	// github.com/acme/api. Scores and audit records for the same repo
	// on different hosts must never collide.
	CanonicalRepoName() string

	// Commit info
	CommitSha() string
	CommitBranch() string
	DefaultBranch() string

	// MR/PR info
	MergeRequestID() string
	MergeRequestTitle() string
	MergeRequestURL() string
	SourceBranch() string
	TargetBranch() string

	// CI info
	JobURL() string

	// ChangedFiles fetches the per-file patches of the pull/merge
	// request under review from the host API.
	ChangedFiles(ctx context.Context) ([]diffparse.HostFile, error)

	// CreateSummaryComment posts a summary comment on the change.
	CreateSummaryComment(title, body string) error
}

// ManualEnv is used when no CI is detected: repository identity comes
// from the local checkout (or flags) and the diff is supplied directly,
// so the host-API operations report missing change context.
type ManualEnv struct {
	repoName  string
	branch    string
	commitSha string
}

// NewManualEnv creates a manual environment with the given identity.
func NewManualEnv(repoName, branch, commitSha string) *ManualEnv {
	return &ManualEnv{
		repoName:  repoName,
		branch:    branch,
		commitSha: commitSha,
	}
}

func (m *ManualEnv) Provider() string          { return ProviderManual }
func (m *ManualEnv) IsActive() bool            { return true }
func (m *ManualEnv) ProjectID() string         { return "" }
func (m *ManualEnv) ProjectName() string       { return m.repoName }
func (m *ManualEnv) ProjectURL() string        { return "" }
func (m *ManualEnv) CanonicalRepoName() string { return m.repoName }
func (m *ManualEnv) CommitSha() string         { return m.commitSha }
func (m *ManualEnv) CommitBranch() string      { return m.branch }
func (m *ManualEnv) DefaultBranch() string     { return "main" }
func (m *ManualEnv) MergeRequestID() string    { return "" }
func (m *ManualEnv) MergeRequestTitle() string { return "" }
func (m *ManualEnv) MergeRequestURL() string   { return "" }
func (m *ManualEnv) SourceBranch() string      { return "" }
func (m *ManualEnv) TargetBranch() string      { return "" }
func (m *ManualEnv) JobURL() string            { return "" }

// ChangedFiles always fails; manual runs supply the diff themselves.
func (m *ManualEnv) ChangedFiles(_ context.Context) ([]diffparse.HostFile, error) {
	return nil, errors.ErrNoChangeContext
}

// CreateSummaryComment always fails; there is no change to comment on.
func (m *ManualEnv) CreateSummaryComment(_, _ string) error {
	return errors.ErrNoChangeContext
}
