package gitenv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/authwatchio/authwatch/pkg/diffparse"
	"github.com/authwatchio/authwatch/pkg/errors"
)

// GitHubEnv reads change context from GitHub Actions and talks to the
// GitHub API for file listings and PR comments.
type GitHubEnv struct {
	token   string
	client  *github.Client
	ctx     context.Context
	event   ghEvent
	verbose bool
}

// NewGitHub builds a GitHubEnv from the GITHUB_TOKEN in the
// environment. Without a token the client can still resolve context
// from workflow variables but cannot call the API.
func NewGitHub() (*GitHubEnv, error) {
	token := os.Getenv("GITHUB_TOKEN")
	ctx := context.Background()

	var httpClient = github.NewClient(nil)
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = github.NewClient(oauth2.NewClient(ctx, src))
	}

	return &GitHubEnv{token: token, client: httpClient, ctx: ctx}, nil
}

// SetVerbose enables console diagnostics.
func (g *GitHubEnv) SetVerbose(v bool) { g.verbose = v }

func (g *GitHubEnv) logf(format string, args ...interface{}) {
	if g.verbose {
		fmt.Printf("[gitenv] "+format+"\n", args...)
	}
}

// IsActive reports whether the process runs inside GitHub Actions.
// On a hit the workflow event payload is parsed for PR context.
func (g *GitHubEnv) IsActive() bool {
	if os.Getenv("GITHUB_ACTIONS") != "true" {
		return false
	}
	g.logf("GitHub Actions environment detected")
	if g.token == "" {
		g.logf("Warning: GITHUB_TOKEN is not set. File listing and PR comments will not work.")
	}
	g.readEvent()
	return true
}

// readEvent parses the workflow event file named by GITHUB_EVENT_PATH.
// Missing or malformed payloads degrade to env-var-only context.
func (g *GitHubEnv) readEvent() {
	path := os.Getenv("GITHUB_EVENT_PATH")
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		g.logf("Warning: Could not read GITHUB_EVENT_PATH: %v", err)
		return
	}
	if err := json.Unmarshal(raw, &g.event); err != nil {
		g.logf("Warning: Could not parse event payload: %v", err)
	}
}

// serverHost returns the GitHub host, honoring GITHUB_SERVER_URL for
// Enterprise installs.
func serverHost() string {
	server := os.Getenv("GITHUB_SERVER_URL")
	if server == "" {
		return "github.com"
	}
	host := strings.TrimPrefix(server, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

// Provider returns ProviderGitHub.
func (g *GitHubEnv) Provider() string { return ProviderGitHub }

// ProjectID returns the numeric repository ID.
func (g *GitHubEnv) ProjectID() string { return os.Getenv("GITHUB_REPOSITORY_ID") }

// ProjectName returns the repository in owner/repo form.
func (g *GitHubEnv) ProjectName() string { return os.Getenv("GITHUB_REPOSITORY") }

// CanonicalRepoName returns {host}/{owner}/{repo}.
func (g *GitHubEnv) CanonicalRepoName() string {
	name := g.ProjectName()
	if name == "" {
		return ""
	}
	return serverHost() + "/" + name
}

// ProjectURL returns the repository's web URL.
func (g *GitHubEnv) ProjectURL() string {
	return "https://" + serverHost() + "/" + g.ProjectName()
}

// CommitSha returns the SHA the workflow ran against.
func (g *GitHubEnv) CommitSha() string { return os.Getenv("GITHUB_SHA") }

// CommitBranch returns the branch under analysis. For PR events this is
// the head branch rather than the synthetic merge ref.
func (g *GitHubEnv) CommitBranch() string {
	if g.MergeRequestID() != "" && g.event.PullRequest != nil {
		return g.event.PullRequest.Head.Ref
	}
	if os.Getenv("GITHUB_REF_TYPE") == "branch" {
		return os.Getenv("GITHUB_REF_NAME")
	}
	return ""
}

// DefaultBranch returns the repository default branch, falling back to
// "main" when neither the environment nor the event payload carries it.
func (g *GitHubEnv) DefaultBranch() string {
	if b := os.Getenv("GITHUB_DEFAULT_BRANCH"); b != "" {
		return b
	}
	if r := g.event.Repository; r != nil && r.DefaultBranch != "" {
		return r.DefaultBranch
	}
	return "main"
}

// MergeRequestID returns the PR number, or "" outside PR events.
func (g *GitHubEnv) MergeRequestID() string {
	if n := os.Getenv("GITHUB_PR_NUMBER"); n != "" {
		return n
	}
	if pr := g.event.PullRequest; pr != nil {
		return strconv.Itoa(pr.Number)
	}
	return ""
}

// MergeRequestTitle returns the PR title, or "" outside PR events.
func (g *GitHubEnv) MergeRequestTitle() string {
	if t := os.Getenv("GITHUB_PR_TITLE"); t != "" {
		return t
	}
	if pr := g.event.PullRequest; pr != nil {
		return pr.Title
	}
	return ""
}

// MergeRequestURL returns the PR's web URL.
func (g *GitHubEnv) MergeRequestURL() string {
	id := g.MergeRequestID()
	if id == "" {
		return ""
	}
	return g.ProjectURL() + "/pull/" + id
}

// SourceBranch returns the PR head branch.
func (g *GitHubEnv) SourceBranch() string { return os.Getenv("GITHUB_HEAD_REF") }

// TargetBranch returns the PR base branch.
func (g *GitHubEnv) TargetBranch() string { return os.Getenv("GITHUB_BASE_REF") }

// JobURL returns the web URL of the current workflow run.
func (g *GitHubEnv) JobURL() string {
	runID := os.Getenv("GITHUB_RUN_ID")
	if g.ProjectName() == "" || runID == "" {
		return ""
	}
	return g.ProjectURL() + "/actions/runs/" + runID
}

func (g *GitHubEnv) ownerRepo() (string, string, error) {
	name := g.ProjectName()
	owner, repo, ok := strings.Cut(name, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", errors.E(errors.KindInvalidInput, "gitenv.github",
			fmt.Sprintf("invalid GITHUB_REPOSITORY format: %q", name))
	}
	return owner, repo, nil
}

func (g *GitHubEnv) prNumber() (int, error) {
	id := g.MergeRequestID()
	if id == "" {
		return 0, errors.ErrNoChangeContext
	}
	return strconv.Atoi(id)
}

// ChangedFiles lists the PR's changed files with their unified-diff
// patches, following API pagination.
func (g *GitHubEnv) ChangedFiles(ctx context.Context) ([]diffparse.HostFile, error) {
	if g.token == "" {
		return nil, errors.ErrMissingToken
	}

	owner, repo, err := g.ownerRepo()
	if err != nil {
		return nil, err
	}
	number, err := g.prNumber()
	if err != nil {
		return nil, err
	}

	var files []diffparse.HostFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, errors.E(errors.KindNetwork, "gitenv.github", "list PR files", err)
		}
		for _, f := range page {
			files = append(files, diffparse.HostFile{
				Filename: f.GetFilename(),
				Status:   f.GetStatus(),
				Patch:    f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			return files, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateSummaryComment posts an issue comment on the pull request.
func (g *GitHubEnv) CreateSummaryComment(title, body string) error {
	if g.token == "" {
		return errors.ErrMissingToken
	}

	owner, repo, err := g.ownerRepo()
	if err != nil {
		return err
	}
	number, err := g.prNumber()
	if err != nil {
		return err
	}

	comment := &github.IssueComment{Body: github.Ptr(body)}
	if _, _, err := g.client.Issues.CreateComment(g.ctx, owner, repo, number, comment); err != nil {
		g.logf("Failed to create PR comment: %v", err)
		return errors.E(errors.KindNetwork, "gitenv.github", "create PR comment", err)
	}

	g.logf("Created PR comment: %s", title)
	return nil
}

// Subset of the workflow event payload that carries PR context.
type ghEvent struct {
	PullRequest *ghPullRequest `json:"pull_request"`
	Repository  *ghRepository  `json:"repository"`
}

type ghRef struct {
	Ref string `json:"ref"`
	Sha string `json:"sha"`
}

type ghPullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Base   ghRef  `json:"base"`
	Head   ghRef  `json:"head"`
}

type ghRepository struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
}
