package detector

import (
	"strings"

	"github.com/authwatchio/authwatch/pkg/diffparse"
)

// DefaultPromptTemplate is the prompt handed to the detector. The
// {keywords} placeholder is substituted with a comma-joined keyword list;
// the formatted change blocks and the auth-sensitive file listing are
// appended after it.
const DefaultPromptTemplate = `You are a security reviewer focused exclusively on authentication and authorization changes.

Review the following code changes and report any modification that affects how users are authenticated, how sessions or tokens are issued or validated, or how credentials are stored or transmitted. Pay particular attention to: {keywords}.

Respond with a single JSON object and nothing else:
{
  "findings": [
    {
      "type": "category tag",
      "file": "path or null",
      "code_section": "offending excerpt or null",
      "description": "what changed",
      "security_relevance": "why it matters",
      "risk_level": "none|low|medium|high|critical",
      "recommendation": "suggested action or null"
    }
  ],
  "summary": "one-paragraph overview",
  "auth_changes_detected": true,
  "highest_risk": "none|low|medium|high|critical"
}

Code changes:
`

// BuildPrompt renders the prompt for one analysis run. A nil or empty
// template uses DefaultPromptTemplate; keywords default likewise.
func BuildPrompt(template string, keywords []string, changes []diffparse.FileChange) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(template, "{keywords}", strings.Join(keywords, ", ")))
	b.WriteString(diffparse.ExtractChangesForAnalysis(changes))

	if sensitive := diffparse.SensitiveFilenames(changes); len(sensitive) > 0 {
		b.WriteString("\n\nAuth-sensitive files changed:\n")
		for _, name := range sensitive {
			b.WriteString("- ")
			b.WriteString(name)
			b.WriteString("\n")
		}
	}
	return b.String()
}
