package diffparse

import (
	"strings"
	"testing"

	"github.com/authwatchio/authwatch/pkg/sensitivity"
)

const sampleDiff = `diff --git a/app/controllers/sessions_controller.rb b/app/controllers/sessions_controller.rb
index 3f1a2b4..9c8d7e6 100644
--- a/app/controllers/sessions_controller.rb
+++ b/app/controllers/sessions_controller.rb
@@ -10,4 +10,5 @@ class SessionsController < ApplicationController
   def create
     user = User.authenticate(params[:email], params[:password])
+session[:access_token] = token
     redirect_to root_path
   end
diff --git a/lib/auth/oauth_handler.rb b/lib/auth/oauth_handler.rb
new file mode 100644
index 0000000..b2c3d4e
--- /dev/null
+++ b/lib/auth/oauth_handler.rb
@@ -0,0 +1,3 @@
+module Auth
+  class OauthHandler
+end
diff --git a/README.md b/README.md
index 1111111..2222222 100644
--- a/README.md
+++ b/README.md
@@ -1,1 +1,1 @@
-Old title
+New title
`

func newTestParser() *Parser {
	return NewParser(sensitivity.NewDefaultClassifier())
}

func TestParseEmpty(t *testing.T) {
	p := newTestParser()
	for _, input := range []string{"", "   ", "\n\n"} {
		if got := p.Parse(input); len(got) != 0 {
			t.Errorf("Parse(%q) = %d records, want 0", input, len(got))
		}
	}
}

func TestParseSampleDiff(t *testing.T) {
	p := newTestParser()
	changes := p.Parse(sampleDiff)

	if len(changes) != 3 {
		t.Fatalf("got %d records, want 3", len(changes))
	}

	sessions := changes[0]
	if sessions.Filename != "app/controllers/sessions_controller.rb" {
		t.Errorf("filename = %q", sessions.Filename)
	}
	if sessions.Status != StatusAdded {
		t.Errorf("status = %q, want added (only added lines)", sessions.Status)
	}
	if len(sessions.AddedLines) != 1 || !strings.Contains(sessions.AddedLines[0], "session[:access_token]") {
		t.Errorf("added lines = %v", sessions.AddedLines)
	}
	if !sessions.AuthSensitive {
		t.Error("sessions_controller.rb should be auth-sensitive")
	}

	handler := changes[1]
	if handler.Filename != "lib/auth/oauth_handler.rb" {
		t.Errorf("filename = %q", handler.Filename)
	}
	if !handler.AuthSensitive {
		t.Error("lib/auth/oauth_handler.rb should be auth-sensitive")
	}
	if handler.Status != StatusAdded {
		t.Errorf("status = %q, want added", handler.Status)
	}

	readme := changes[2]
	if readme.AuthSensitive {
		t.Error("README.md should not be auth-sensitive")
	}
	if readme.Status != StatusModified {
		t.Errorf("status = %q, want modified", readme.Status)
	}
	if len(readme.RemovedLines) != 1 || readme.RemovedLines[0] != "Old title" {
		t.Errorf("removed lines = %v", readme.RemovedLines)
	}

	if got := CountAuthSensitive(changes); got != 2 {
		t.Errorf("CountAuthSensitive = %d, want 2", got)
	}
}

func TestParseMalformedNeverFails(t *testing.T) {
	p := newTestParser()

	malformed := "diff --git a/foo.rb b/foo.rb\n" +
		"this is not a valid hunk header\n" +
		"+added line\n" +
		"-removed line\n" +
		"random trailing garbage"

	changes := p.Parse(malformed)
	if len(changes) != 1 {
		t.Fatalf("got %d records, want 1 (one header present)", len(changes))
	}
	if changes[0].Filename != "foo.rb" {
		t.Errorf("filename = %q", changes[0].Filename)
	}
	if len(changes[0].AddedLines) != 1 || changes[0].AddedLines[0] != "added line" {
		t.Errorf("added lines = %v", changes[0].AddedLines)
	}
	if len(changes[0].RemovedLines) != 1 || changes[0].RemovedLines[0] != "removed line" {
		t.Errorf("removed lines = %v", changes[0].RemovedLines)
	}
}

func TestParseNeverFewerThanHeaders(t *testing.T) {
	p := newTestParser()

	inputs := []string{
		sampleDiff,
		"diff --git a/x b/x\ndiff --git a/y b/y\n",
		"prose before\ndiff --git a/one.go b/one.go\n+a\ngarbage\ndiff --git a/two.go b/two.go\n-b\n",
	}
	for _, input := range inputs {
		headers := strings.Count(input, "diff --git ")
		if got := len(p.Parse(input)); got < headers {
			t.Errorf("got %d records for %d headers", got, headers)
		}
	}
}

func TestParseContentBeforeFirstHeaderDropped(t *testing.T) {
	p := newTestParser()
	changes := p.Parse("+orphan added\n-orphan removed\ndiff --git a/a.go b/a.go\nbroken\n+real\n")
	if len(changes) != 1 {
		t.Fatalf("got %d records, want 1", len(changes))
	}
	if len(changes[0].AddedLines) != 1 || changes[0].AddedLines[0] != "real" {
		t.Errorf("added lines = %v", changes[0].AddedLines)
	}
}

func TestParseHeaderOnlyBlockIsModified(t *testing.T) {
	p := newTestParser()
	changes := p.Parse("diff --git a/renamed.go b/renamed.go\nsimilarity index 100%\n")
	if len(changes) != 1 {
		t.Fatalf("got %d records, want 1", len(changes))
	}
	if changes[0].Status != StatusModified {
		t.Errorf("status = %q, want modified for empty block", changes[0].Status)
	}
}

func TestParseFileList(t *testing.T) {
	p := newTestParser()

	files := []HostFile{
		{
			Filename: "app/controllers/sessions_controller.rb",
			Status:   "modified",
			Patch:    "@@ -1,3 +1,4 @@\n context\n+session[:access_token] = token\n-legacy_line\n",
		},
		{
			Filename: "docs/guide.md",
			Status:   "added",
			Patch:    "@@ -0,0 +1,2 @@\n+hello\n+world\n",
		},
	}

	changes := p.ParseFileList(files)
	if len(changes) != 2 {
		t.Fatalf("got %d records, want 2", len(changes))
	}

	first := changes[0]
	if !first.AuthSensitive {
		t.Error("sessions controller should be auth-sensitive")
	}
	if first.Status != StatusModified {
		t.Errorf("status = %q, want modified", first.Status)
	}
	if first.RawPatch == "" {
		t.Error("host-supplied patch should be retained")
	}

	second := changes[1]
	if second.Status != StatusAdded {
		t.Errorf("status = %q, want added", second.Status)
	}
	if len(second.AddedLines) != 2 {
		t.Errorf("added lines = %v", second.AddedLines)
	}
}

func TestExtractChangesForAnalysis(t *testing.T) {
	p := newTestParser()
	changes := p.Parse(sampleDiff)

	out := ExtractChangesForAnalysis(changes)

	want := []string{
		"File: app/controllers/sessions_controller.rb " + SensitiveAnnotation,
		"File: lib/auth/oauth_handler.rb " + SensitiveAnnotation,
		"File: README.md",
		"Added lines:",
		"+ session[:access_token] = token",
		"Removed lines:",
		"- Old title",
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q\n%s", w, out)
		}
	}

	// README has no removed-only section beyond its own; ensure the README
	// block does not carry the sensitivity annotation.
	if strings.Contains(out, "File: README.md "+SensitiveAnnotation) {
		t.Error("README.md must not be annotated as auth-sensitive")
	}

	// Order of blocks matches input order.
	iSessions := strings.Index(out, "sessions_controller")
	iHandler := strings.Index(out, "oauth_handler")
	iReadme := strings.Index(out, "README.md")
	if !(iSessions < iHandler && iHandler < iReadme) {
		t.Error("blocks out of order")
	}

	// Deterministic: same input, same output.
	if out != ExtractChangesForAnalysis(changes) {
		t.Error("serialization must be deterministic")
	}
}

func TestExtractOmitsEmptySections(t *testing.T) {
	changes := []FileChange{{Filename: "a.go", Status: StatusModified}}
	out := ExtractChangesForAnalysis(changes)
	if strings.Contains(out, "Added lines:") || strings.Contains(out, "Removed lines:") {
		t.Errorf("empty sections must be omitted:\n%s", out)
	}
}

func TestSensitiveFilenames(t *testing.T) {
	p := newTestParser()
	changes := p.Parse(sampleDiff)
	names := SensitiveFilenames(changes)
	if len(names) != 2 {
		t.Fatalf("got %v", names)
	}
	if names[0] != "app/controllers/sessions_controller.rb" || names[1] != "lib/auth/oauth_handler.rb" {
		t.Errorf("names = %v", names)
	}
}
