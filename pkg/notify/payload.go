package notify

import (
	"fmt"
	"strings"

	"github.com/authwatchio/authwatch/pkg/detector"
	"github.com/authwatchio/authwatch/pkg/scoring"
)

// Payload is the delivery-agnostic summary of one scored analysis run.
// Transports render it into their own wire format.
type Payload struct {
	// RunID is the analysis run UUID, for correlation with audit logs.
	RunID string `json:"run_id"`

	// Repo is the canonical repository name.
	Repo string `json:"repo"`

	// ChangeID identifies the pull/merge request.
	ChangeID string `json:"change_id"`

	// ChangeURL links back to the change, when known.
	ChangeURL string `json:"change_url,omitempty"`

	// Title is the change title, when known.
	Title string `json:"title,omitempty"`

	// Result is the scored outcome, breakdown included.
	Result scoring.Result `json:"result"`

	// Summary is the detector's prose summary.
	Summary string `json:"summary"`

	// Findings are the detector findings, in order.
	Findings []detector.Finding `json:"findings,omitempty"`

	// SensitiveFiles are the auth-sensitive paths that changed.
	SensitiveFiles []string `json:"sensitive_files,omitempty"`
}

// Markdown renders the payload as a PR/MR comment body.
func (p *Payload) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Authentication change review: %s (%d/100)\n\n", p.Result.Label, p.Result.Score)
	if p.Summary != "" {
		b.WriteString(p.Summary)
		b.WriteString("\n\n")
	}

	if len(p.SensitiveFiles) > 0 {
		b.WriteString("**Auth-sensitive files**\n\n")
		for _, f := range p.SensitiveFiles {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
	}

	if len(p.Findings) > 0 {
		b.WriteString("**Findings**\n\n")
		b.WriteString("| Risk | Category | File | Description |\n")
		b.WriteString("|------|----------|------|-------------|\n")
		for _, f := range p.Findings {
			file := f.File
			if file == "" {
				file = "-"
			}
			fmt.Fprintf(&b, "| %s | %s | `%s` | %s |\n",
				strings.ToUpper(f.RiskLevel.String()), f.Category, file, f.Description)
		}
		b.WriteString("\n")
	}

	bd := p.Result.Breakdown
	fmt.Fprintf(&b, "<details><summary>Score breakdown</summary>\n\n")
	fmt.Fprintf(&b, "- Base score: %d (highest risk: %s)\n", bd.BaseScore, bd.HighestRisk)
	for _, m := range bd.Modifiers {
		fmt.Fprintf(&b, "- %s: +%d (%s)\n", m.Name, m.Points, m.Reason)
	}
	fmt.Fprintf(&b, "- Final: %d\n\n</details>\n", p.Result.Score)

	b.WriteString("\n*Advisory only; this check does not block merges.*\n")
	return b.String()
}

// ShortText renders a one-line summary for chat notifications.
func (p *Payload) ShortText() string {
	loc := p.Repo
	if p.ChangeID != "" {
		loc = fmt.Sprintf("%s!%s", p.Repo, p.ChangeID)
	}
	return fmt.Sprintf("[%s] auth-change risk %d/100 in %s", p.Result.Label, p.Result.Score, loc)
}
