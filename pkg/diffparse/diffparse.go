// Package diffparse turns unified-diff text or change-host file listings
// into ordered per-file change records.
//
// Parsing is best-effort by contract: Parse never fails, returns an empty
// slice for nil/empty input, and degrades to a tolerant line scanner when
// the diff is too malformed for structural parsing. Records appear in the
// order of first appearance in the input.
package diffparse

import (
	"regexp"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/authwatchio/authwatch/pkg/sensitivity"
)

// Status describes how a file changed.
type Status string

const (
	StatusAdded    Status = "added"
	StatusRemoved  Status = "removed"
	StatusModified Status = "modified"
)

// FileChange is one changed file extracted from a diff.
// It is created once by the parser and never mutated afterward.
type FileChange struct {
	// Filename is the repo-relative path (post-change path for renames).
	Filename string `json:"filename"`

	// Status is derived from the added/removed buffers: added-only files
	// are "added", removed-only are "removed", everything else (including
	// files with no content lines, such as pure renames) is "modified".
	Status Status `json:"status"`

	// AddedLines are the post-change lines, in order, "+" marker stripped.
	AddedLines []string `json:"added_lines"`

	// RemovedLines are the pre-change lines, in order, "-" marker stripped.
	RemovedLines []string `json:"removed_lines"`

	// RawPatch is the original patch text when the input supplied one.
	RawPatch string `json:"raw_patch,omitempty"`

	// AuthSensitive is true when the path matches a sensitivity rule.
	AuthSensitive bool `json:"auth_sensitive"`
}

// HostFile is a pre-split per-file patch block as supplied by a
// change-host file-listing API.
type HostFile struct {
	Filename string
	Status   string
	Patch    string
}

// Parser converts diff input into FileChange records, classifying each
// path with the supplied sensitivity classifier.
type Parser struct {
	classifier *sensitivity.Classifier
}

// NewParser creates a parser. A nil classifier leaves AuthSensitive false
// on every record.
func NewParser(classifier *sensitivity.Classifier) *Parser {
	return &Parser{classifier: classifier}
}

var headerRe = regexp.MustCompile(`^diff --git a/(.+?) b/(.+)$`)

// Parse parses git-style unified diff text. It never fails: structural
// parsing via go-gitdiff is attempted first, and any error or shortfall
// falls back to a tolerant line scanner, so the result always contains at
// least one record per "diff --git" header present in the input.
func (p *Parser) Parse(diffText string) []FileChange {
	if strings.TrimSpace(diffText) == "" {
		return []FileChange{}
	}

	headers := countHeaders(diffText)

	files, _, err := gitdiff.Parse(strings.NewReader(diffText))
	if err == nil && len(files) >= headers {
		changes := make([]FileChange, 0, len(files))
		for _, f := range files {
			changes = append(changes, p.fromGitdiff(f))
		}
		return changes
	}

	return p.scan(diffText)
}

// ParseFileList converts pre-split per-file patch blocks, applying the
// same line-classification logic per file without header parsing.
func (p *Parser) ParseFileList(files []HostFile) []FileChange {
	changes := make([]FileChange, 0, len(files))
	for _, f := range files {
		var added, removed []string
		for _, line := range strings.Split(f.Patch, "\n") {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			case strings.HasPrefix(line, "+"):
				added = append(added, line[1:])
			case strings.HasPrefix(line, "-"):
				removed = append(removed, line[1:])
			}
		}
		changes = append(changes, p.newChange(f.Filename, added, removed, f.Patch))
	}
	return changes
}

// fromGitdiff maps one structurally parsed file into a FileChange.
func (p *Parser) fromGitdiff(f *gitdiff.File) FileChange {
	name := f.NewName
	if name == "" {
		name = f.OldName
	}

	var added, removed []string
	for _, frag := range f.TextFragments {
		for _, line := range frag.Lines {
			switch line.Op {
			case gitdiff.OpAdd:
				added = append(added, strings.TrimSuffix(line.Line, "\n"))
			case gitdiff.OpDelete:
				removed = append(removed, strings.TrimSuffix(line.Line, "\n"))
			}
		}
	}
	return p.newChange(name, added, removed, "")
}

// scan is the tolerant fallback: a straight line scanner that never
// rejects input. Content lines outside any file block are dropped.
func (p *Parser) scan(diffText string) []FileChange {
	var (
		changes []FileChange
		current string
		added   []string
		removed []string
		inBlock bool
	)

	flush := func() {
		if !inBlock {
			return
		}
		changes = append(changes, p.newChange(current, added, removed, ""))
		added, removed = nil, nil
	}

	for _, line := range strings.Split(diffText, "\n") {
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			current = m[2]
			inBlock = true
			continue
		}
		if !inBlock {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added = append(added, line[1:])
		case strings.HasPrefix(line, "-"):
			removed = append(removed, line[1:])
		}
	}
	flush()

	if changes == nil {
		return []FileChange{}
	}
	return changes
}

func (p *Parser) newChange(filename string, added, removed []string, rawPatch string) FileChange {
	sensitive := false
	if p.classifier != nil {
		sensitive = p.classifier.IsSensitive(filename)
	}
	return FileChange{
		Filename:      filename,
		Status:        deriveStatus(added, removed),
		AddedLines:    added,
		RemovedLines:  removed,
		RawPatch:      rawPatch,
		AuthSensitive: sensitive,
	}
}

// deriveStatus computes the status from the line buffers. Both-empty
// (pure rename, mode change) is modified by convention.
func deriveStatus(added, removed []string) Status {
	switch {
	case len(added) > 0 && len(removed) == 0:
		return StatusAdded
	case len(removed) > 0 && len(added) == 0:
		return StatusRemoved
	default:
		return StatusModified
	}
}

// CountAuthSensitive returns the number of auth-sensitive records.
func CountAuthSensitive(changes []FileChange) int {
	n := 0
	for _, c := range changes {
		if c.AuthSensitive {
			n++
		}
	}
	return n
}

func countHeaders(diffText string) int {
	n := 0
	for _, line := range strings.Split(diffText, "\n") {
		if headerRe.MatchString(line) {
			n++
		}
	}
	return n
}
