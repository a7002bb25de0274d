package gitenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/authwatchio/authwatch/pkg/errors"
)

func TestNormalizeGitURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"git@github.com:acme/api.git", "github.com/acme/api"},
		{"https://github.com/acme/api.git", "github.com/acme/api"},
		{"https://gitlab.com/acme/api/", "gitlab.com/acme/api"},
		{"http://git.internal/acme/api", "git.internal/acme/api"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeGitURL(tt.in); got != tt.want {
			t.Errorf("normalizeGitURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// writeGitMetadata lays out a minimal .git directory with an origin
// remote and a branch checked out.
func writeGitMetadata(t *testing.T, dir, remoteURL, branch, sha string) {
	t.Helper()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}

	config := "[core]\n\trepositoryformatversion = 0\n[remote \"origin\"]\n\turl = " + remoteURL + "\n\tfetch = +refs/heads/*:refs/remotes/origin/*\n"
	if err := os.WriteFile(filepath.Join(gitDir, "config"), []byte(config), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/"+branch+"\n"), 0644); err != nil {
		t.Fatalf("write HEAD: %v", err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "refs", "heads", branch), []byte(sha+"\n"), 0644); err != nil {
		t.Fatalf("write ref: %v", err)
	}
}

func TestDetectFromDirectoryReadsGitMetadata(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("GITLAB_CI", "")

	dir := t.TempDir()
	writeGitMetadata(t, dir, "git@github.com:acme/api.git", "main", "abc1234def5678")

	env := DetectFromDirectory(dir, false)
	if env == nil {
		t.Fatal("DetectFromDirectory returned nil")
	}
	if env.Provider() != ProviderManual {
		t.Errorf("Provider() = %q, want %q", env.Provider(), ProviderManual)
	}
	if env.CanonicalRepoName() != "github.com/acme/api" {
		t.Errorf("CanonicalRepoName() = %q, want github.com/acme/api", env.CanonicalRepoName())
	}
	if env.CommitBranch() != "main" {
		t.Errorf("CommitBranch() = %q, want main", env.CommitBranch())
	}
	if env.CommitSha() != "abc1234def5678" {
		t.Errorf("CommitSha() = %q", env.CommitSha())
	}
}

func TestDetectFromDirectoryWithoutGitDir(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("GITLAB_CI", "")

	env := DetectFromDirectory(t.TempDir(), false)
	if env == nil {
		t.Fatal("DetectFromDirectory returned nil")
	}
	if env.CanonicalRepoName() != "" || env.CommitBranch() != "" {
		t.Errorf("bare directory must yield an empty identity: %q %q",
			env.CanonicalRepoName(), env.CommitBranch())
	}
}

func TestManualEnvHasNoChangeContext(t *testing.T) {
	env := NewManualEnv("github.com/acme/api", "feature/sso", "abc1234")

	if env.Provider() != ProviderManual {
		t.Errorf("Provider() = %q, want %q", env.Provider(), ProviderManual)
	}
	if env.CanonicalRepoName() != "github.com/acme/api" {
		t.Errorf("CanonicalRepoName() = %q", env.CanonicalRepoName())
	}

	if _, err := env.ChangedFiles(context.Background()); err != errors.ErrNoChangeContext {
		t.Errorf("ChangedFiles() err = %v, want ErrNoChangeContext", err)
	}
	if err := env.CreateSummaryComment("t", "b"); err != errors.ErrNoChangeContext {
		t.Errorf("CreateSummaryComment() err = %v, want ErrNoChangeContext", err)
	}
}
