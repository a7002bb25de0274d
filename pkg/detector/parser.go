package detector

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/authwatchio/authwatch/pkg/shared/risk"
)

// FallbackPolicy selects what ParseResponse returns when the detector
// response cannot be decoded. The two policies produce materially
// different downstream risk scores for the same malformed input, so the
// choice is surfaced as configuration rather than hard-coded.
type FallbackPolicy string

const (
	// FallbackNeutral returns an empty result whose summary names the
	// parse failure. The default.
	FallbackNeutral FallbackPolicy = "neutral"

	// FallbackKeyword re-derives auth_changes_detected by scanning the
	// raw text for auth keywords, producing a best-effort summary.
	FallbackKeyword FallbackPolicy = "keyword"
)

// ResponseParser extracts a DetectionResult from raw detector output.
type ResponseParser struct {
	fallback FallbackPolicy
	keywords []string
}

// NewResponseParser creates a parser with the given fallback policy.
// An empty policy or keyword list falls back to the defaults.
func NewResponseParser(policy FallbackPolicy, keywords []string) *ResponseParser {
	if policy == "" {
		policy = FallbackNeutral
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	return &ResponseParser{fallback: policy, keywords: keywords}
}

// Policy returns the configured fallback policy.
func (p *ResponseParser) Policy() FallbackPolicy {
	return p.fallback
}

// wireResult mirrors the JSON shape the detector is prompted to produce.
type wireResult struct {
	Findings []struct {
		Type              string `json:"type"`
		File              string `json:"file"`
		CodeSection       string `json:"code_section"`
		Description       string `json:"description"`
		SecurityRelevance string `json:"security_relevance"`
		RiskLevel         string `json:"risk_level"`
		Recommendation    string `json:"recommendation"`
	} `json:"findings"`
	Summary             *string `json:"summary"`
	AuthChangesDetected *bool   `json:"auth_changes_detected"`
	HighestRisk         string  `json:"highest_risk"`
}

// decodeOutcome is the tagged internal result of structured decoding:
// either ok with a result, or malformed with a reason. Collapsing to the
// fallback DetectionResult happens only at the ParseResponse boundary so
// the ambiguous-parse path stays unit-testable on its own.
type decodeOutcome struct {
	ok     bool
	result DetectionResult
	reason string
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)```")

// ParseResponse extracts a DetectionResult from raw detector output.
// It never fails: any irrecoverable malformation produces the configured
// fallback result, retaining the raw response for audit.
func (p *ResponseParser) ParseResponse(raw string) DetectionResult {
	outcome := decode(raw)
	if outcome.ok {
		outcome.result.RawResponse = raw
		return outcome.result
	}
	return p.fallbackResult(raw, outcome.reason)
}

// decode applies the extraction heuristics in order, first success wins:
//  1. interior of a fenced code block
//  2. first "{" to last "}" substring, only when it contains a
//     recognizable key (guards against braces in prose)
//  3. the trimmed raw text itself
func decode(raw string) decodeOutcome {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decodeOutcome{reason: "empty response"}
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if out := decodeJSON(m[1]); out.ok {
			return out
		}
		// A fenced block that fails to decode is already a strong signal
		// of malformation, but the other heuristics still get a chance.
	}

	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if strings.Contains(candidate, `"findings"`) || strings.Contains(candidate, `"summary"`) {
			if out := decodeJSON(candidate); out.ok {
				return out
			}
		}
	}

	return decodeJSON(trimmed)
}

func decodeJSON(text string) decodeOutcome {
	var wire wireResult
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return decodeOutcome{reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	result := DetectionResult{
		Summary:     DefaultSummary,
		HighestRisk: risk.FromString(wire.HighestRisk),
	}
	if wire.Summary != nil {
		result.Summary = *wire.Summary
	}
	if wire.AuthChangesDetected != nil {
		result.AuthChangesDetected = *wire.AuthChangesDetected
	}
	for _, f := range wire.Findings {
		result.Findings = append(result.Findings, Finding{
			Category:          f.Type,
			File:              f.File,
			CodeExcerpt:       f.CodeSection,
			Description:       f.Description,
			SecurityRelevance: f.SecurityRelevance,
			RiskLevel:         risk.FromString(f.RiskLevel),
			Recommendation:    f.Recommendation,
		})
	}
	return decodeOutcome{ok: true, result: result}
}

// fallbackResult builds the documented degraded result for undecodable
// responses. Both policies keep findings empty and highest risk at none,
// preserving the invariant that highest_risk is none whenever findings
// are empty and no auth changes were detected.
func (p *ResponseParser) fallbackResult(raw, reason string) DetectionResult {
	result := DetectionResult{
		HighestRisk:  risk.None,
		RawResponse:  raw,
		ParseFailure: reason,
	}

	switch p.fallback {
	case FallbackKeyword:
		lowered := strings.ToLower(raw)
		var hits []string
		for _, kw := range p.keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				hits = append(hits, kw)
			}
		}
		if len(hits) > 0 {
			result.AuthChangesDetected = true
			result.Summary = fmt.Sprintf(
				"Detector response could not be parsed (%s); auth-related keywords present in raw output: %s.",
				reason, strings.Join(hits, ", "))
		} else {
			result.Summary = fmt.Sprintf(
				"Detector response could not be parsed (%s); no auth-related keywords found in raw output.", reason)
		}
	default:
		result.Summary = fmt.Sprintf("Unable to parse detector response: %s.", reason)
	}

	return result
}
