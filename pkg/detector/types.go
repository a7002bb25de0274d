// Package detector invokes the external authentication-change detector
// (an LLM behind a chat-completion API) and extracts structured detection
// results from its free-text responses.
//
// The response parser is the hardened part: detector output is untrusted
// prose that usually, but not always, embeds a JSON object. ParseResponse
// never fails for any input string; irrecoverable malformation degrades to
// a documented fallback result that keeps the raw response for audit.
package detector

import (
	"github.com/authwatchio/authwatch/pkg/shared/risk"
)

// Finding is a single authentication-relevant observation reported by the
// detector. Immutable once constructed from detector output.
type Finding struct {
	// Category is the detector's free-text type tag (wire key "type").
	Category string `json:"type"`

	// File is the path the finding points at, if any.
	File string `json:"file,omitempty"`

	// CodeExcerpt is the offending code section, if quoted.
	CodeExcerpt string `json:"code_section,omitempty"`

	// Description explains the observation.
	Description string `json:"description"`

	// SecurityRelevance explains why the change matters, if provided.
	SecurityRelevance string `json:"security_relevance,omitempty"`

	// RiskLevel is the normalized per-finding risk level.
	RiskLevel risk.Level `json:"risk_level"`

	// Recommendation is the suggested remediation, if provided.
	Recommendation string `json:"recommendation,omitempty"`
}

// DetectionResult is the structured outcome of one detector invocation.
type DetectionResult struct {
	// Findings are the reported observations, in detector order.
	Findings []Finding `json:"findings"`

	// Summary is the detector's prose summary.
	Summary string `json:"summary"`

	// AuthChangesDetected is the detector's primary signal.
	AuthChangesDetected bool `json:"auth_changes_detected"`

	// HighestRisk is the detector-reported overall risk level.
	HighestRisk risk.Level `json:"highest_risk"`

	// RawResponse is the untouched detector output, kept for diagnostics.
	RawResponse string `json:"raw_response,omitempty"`

	// ParseFailure names the decode failure when this result came from a
	// fallback. Empty for cleanly decoded responses.
	ParseFailure string `json:"parse_failure,omitempty"`
}

// Defaults applied when the decoded JSON omits a field.
const (
	DefaultSummary = "Analysis complete."
)

// DefaultKeywords is the base keyword list substituted into the detector
// prompt and used by the keyword fallback policy. Configuration may extend
// it; merged lists are unioned uniquely.
func DefaultKeywords() []string {
	return []string{
		"authentication",
		"authorization",
		"login",
		"logout",
		"session",
		"token",
		"password",
		"credential",
		"oauth",
		"saml",
		"oidc",
		"sso",
		"jwt",
		"mfa",
		"2fa",
		"api_key",
		"secret",
	}
}
