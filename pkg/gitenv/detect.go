package gitenv

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Detect probes for a supported CI environment and returns it, or nil
// when the process runs outside CI.
func Detect() GitEnv {
	return DetectWithVerbose(false)
}

// DetectWithVerbose is Detect with optional console diagnostics.
// GitHub Actions is probed before GitLab CI.
func DetectWithVerbose(verbose bool) GitEnv {
	if gh, err := NewGitHub(); err == nil {
		gh.SetVerbose(verbose)
		if gh.IsActive() {
			return gh
		}
	}

	if gl, err := NewGitLab(); err == nil {
		gl.SetVerbose(verbose)
		if gl.IsActive() {
			return gl
		}
	}

	if verbose {
		fmt.Println("[gitenv] No CI environment detected, running in manual mode")
	}
	return nil
}

// DetectFromDirectory resolves repository identity for manual runs
// where the diff comes from a file. CI detection still wins when a CI
// environment is present; otherwise the local .git metadata is read.
func DetectFromDirectory(dir string, verbose bool) GitEnv {
	if env := DetectWithVerbose(verbose); env != nil {
		return env
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	gitDir := filepath.Join(abs, ".git")

	repo := normalizeGitURL(originURL(filepath.Join(gitDir, "config")))
	branch, sha := headState(gitDir)

	if verbose {
		if repo != "" {
			fmt.Printf("[gitenv] Detected repo: %s\n", repo)
		}
		if branch != "" {
			fmt.Printf("[gitenv] Detected branch: %s\n", branch)
		}
	}

	return NewManualEnv(repo, branch, sha)
}

// originURL extracts the origin remote URL from a .git/config file.
func originURL(configPath string) string {
	f, err := os.Open(configPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	var inOrigin bool
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == `[remote "origin"]`:
			inOrigin = true
		case strings.HasPrefix(line, "["):
			if inOrigin {
				return ""
			}
		case inOrigin && strings.HasPrefix(line, "url = "):
			return strings.TrimPrefix(line, "url = ")
		}
	}
	return ""
}

// headState reads .git/HEAD and resolves the current branch and commit
// SHA. On a detached HEAD the branch is the abbreviated SHA.
func headState(gitDir string) (branch, sha string) {
	raw, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", ""
	}
	head := strings.TrimSpace(string(raw))

	if ref, ok := strings.CutPrefix(head, "ref: "); ok {
		branch = strings.TrimPrefix(ref, "refs/heads/")
		if raw, err := os.ReadFile(filepath.Join(gitDir, ref)); err == nil {
			sha = strings.TrimSpace(string(raw))
		}
		return branch, sha
	}

	// Detached HEAD: the file holds the SHA itself.
	if len(head) >= 7 {
		return head[:7], head
	}
	return "", head
}

// normalizeGitURL reduces a git remote URL to {domain}/{owner}/{repo}.
func normalizeGitURL(url string) string {
	if url == "" {
		return ""
	}

	// git@github.com:org/repo.git becomes github.com/org/repo.
	if rest, ok := strings.CutPrefix(url, "git@"); ok {
		url = strings.Replace(rest, ":", "/", 1)
	}

	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimSuffix(url, ".git")
	return strings.TrimSuffix(url, "/")
}
