package gitenv

import (
	"context"
	"fmt"
	"os"
	"strconv"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/authwatchio/authwatch/pkg/diffparse"
	"github.com/authwatchio/authwatch/pkg/errors"
)

// GitLabEnv reads change context from GitLab CI predefined variables
// and talks to the GitLab API for diff listings and MR notes.
type GitLabEnv struct {
	token   string
	server  string
	client  *gitlab.Client
	verbose bool
}

// NewGitLab builds a GitLabEnv from GITLAB_TOKEN and CI_SERVER_URL.
// Without both, the API client stays nil and only the predefined
// variables are available.
func NewGitLab() (*GitLabEnv, error) {
	token := os.Getenv("GITLAB_TOKEN")
	server := os.Getenv("CI_SERVER_URL")

	env := &GitLabEnv{token: token, server: server}
	if token != "" && server != "" {
		client, err := gitlab.NewClient(token, gitlab.WithBaseURL(server))
		if err != nil {
			return nil, errors.E(errors.KindInternal, "gitenv.gitlab", "create client", err)
		}
		env.client = client
	}
	return env, nil
}

// SetVerbose enables console diagnostics.
func (g *GitLabEnv) SetVerbose(v bool) { g.verbose = v }

func (g *GitLabEnv) logf(format string, args ...interface{}) {
	if g.verbose {
		fmt.Printf("[gitenv] "+format+"\n", args...)
	}
}

// IsActive reports whether the process runs inside GitLab CI.
func (g *GitLabEnv) IsActive() bool {
	if os.Getenv("GITLAB_CI") != "true" {
		return false
	}
	g.logf("GitLab CI environment detected")
	if g.token == "" {
		g.logf("Warning: GITLAB_TOKEN is not set. Diff listing and MR comments will not work.")
	}
	return true
}

// Provider returns ProviderGitLab.
func (g *GitLabEnv) Provider() string { return ProviderGitLab }

// ProjectID returns the numeric project ID.
func (g *GitLabEnv) ProjectID() string { return os.Getenv("CI_PROJECT_ID") }

// ProjectName returns the project name without its namespace.
func (g *GitLabEnv) ProjectName() string { return os.Getenv("CI_PROJECT_NAME") }

// ProjectURL returns the project's web URL.
func (g *GitLabEnv) ProjectURL() string { return os.Getenv("CI_PROJECT_URL") }

// CanonicalRepoName returns {domain}/{namespace}/{project} derived from
// CI_PROJECT_URL, e.g. gitlab.com/acme/api.
func (g *GitLabEnv) CanonicalRepoName() string {
	return normalizeGitURL(g.ProjectURL())
}

// CommitSha returns the pipeline's commit SHA.
func (g *GitLabEnv) CommitSha() string { return os.Getenv("CI_COMMIT_SHA") }

// CommitBranch returns the pipeline's branch.
func (g *GitLabEnv) CommitBranch() string { return os.Getenv("CI_COMMIT_BRANCH") }

// DefaultBranch returns the project's default branch.
func (g *GitLabEnv) DefaultBranch() string { return os.Getenv("CI_DEFAULT_BRANCH") }

// MergeRequestID returns the MR IID, or "" outside MR pipelines.
func (g *GitLabEnv) MergeRequestID() string { return os.Getenv("CI_MERGE_REQUEST_IID") }

// MergeRequestTitle returns the MR title.
func (g *GitLabEnv) MergeRequestTitle() string { return os.Getenv("CI_MERGE_REQUEST_TITLE") }

// MergeRequestURL returns the MR's web URL.
func (g *GitLabEnv) MergeRequestURL() string {
	iid := g.MergeRequestID()
	if iid == "" {
		return ""
	}
	return g.ProjectURL() + "/-/merge_requests/" + iid
}

// SourceBranch returns the MR source branch.
func (g *GitLabEnv) SourceBranch() string {
	return os.Getenv("CI_MERGE_REQUEST_SOURCE_BRANCH_NAME")
}

// TargetBranch returns the MR target branch.
func (g *GitLabEnv) TargetBranch() string {
	return os.Getenv("CI_MERGE_REQUEST_TARGET_BRANCH_NAME")
}

// JobURL returns the web URL of the current CI job.
func (g *GitLabEnv) JobURL() string { return os.Getenv("CI_JOB_URL") }

// mrContext resolves the project ID and MR IID, or fails with
// ErrNoChangeContext outside an MR pipeline.
func (g *GitLabEnv) mrContext() (string, int, error) {
	projectID := g.ProjectID()
	if projectID == "" {
		return "", 0, errors.ErrNoChangeContext
	}
	iidStr := g.MergeRequestID()
	if iidStr == "" {
		return "", 0, errors.ErrNoChangeContext
	}
	iid, err := strconv.Atoi(iidStr)
	if err != nil {
		return "", 0, errors.E(errors.KindInvalidInput, "gitenv.gitlab",
			fmt.Sprintf("invalid CI_MERGE_REQUEST_IID: %q", iidStr))
	}
	return projectID, iid, nil
}

// diffStatus maps the API's boolean diff flags onto the status strings
// the parser expects.
func diffStatus(d *gitlab.MergeRequestDiff) string {
	switch {
	case d.NewFile:
		return "added"
	case d.DeletedFile:
		return "removed"
	case d.RenamedFile:
		return "renamed"
	default:
		return "modified"
	}
}

// ChangedFiles lists the MR's changed files with their diffs, following
// API pagination.
func (g *GitLabEnv) ChangedFiles(ctx context.Context) ([]diffparse.HostFile, error) {
	if g.client == nil {
		return nil, errors.ErrMissingToken
	}
	projectID, iid, err := g.mrContext()
	if err != nil {
		return nil, err
	}

	var files []diffparse.HostFile
	opts := &gitlab.ListMergeRequestDiffsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		diffs, resp, err := g.client.MergeRequests.ListMergeRequestDiffs(
			projectID, iid, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, errors.E(errors.KindNetwork, "gitenv.gitlab", "list MR diffs", err)
		}
		for _, d := range diffs {
			name := d.NewPath
			if name == "" {
				name = d.OldPath
			}
			files = append(files, diffparse.HostFile{
				Filename: name,
				Status:   diffStatus(d),
				Patch:    d.Diff,
			})
		}
		if resp.NextPage == 0 {
			return files, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateSummaryComment posts a note on the merge request.
func (g *GitLabEnv) CreateSummaryComment(title, body string) error {
	if g.client == nil {
		return errors.ErrMissingToken
	}
	projectID, iid, err := g.mrContext()
	if err != nil {
		return err
	}

	_, _, err = g.client.Notes.CreateMergeRequestNote(projectID, iid,
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)})
	if err != nil {
		g.logf("Failed to create MR note: %v", err)
		return errors.E(errors.KindNetwork, "gitenv.gitlab", "create MR note", err)
	}

	g.logf("Created MR note: %s", title)
	return nil
}
