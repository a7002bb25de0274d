package scoring

import "strings"

// Signals is the boolean alternative to numeric scoring: two independent
// bits derived from the same underlying analysis.
type Signals struct {
	// DetectorFlagged is true when the external detector reported an
	// authentication change.
	DetectorFlagged bool `json:"detector_flagged"`

	// KeywordMatched is true when a configured keyword literally appears
	// in the diff text.
	KeywordMatched bool `json:"keyword_matched"`
}

// SignalPolicy is the 2x2 decision table for signal mode. Both signals
// true always notifies; both false never notifies; a single signal
// notifies only when explicitly widened here.
type SignalPolicy struct {
	// NotifyOnDetectorOnly widens notification to detector-only hits.
	NotifyOnDetectorOnly bool `yaml:"notify_on_detector_only" json:"notify_on_detector_only"`

	// NotifyOnKeywordOnly widens notification to keyword-only hits.
	NotifyOnKeywordOnly bool `yaml:"notify_on_keyword_only" json:"notify_on_keyword_only"`
}

// ShouldNotify resolves the policy table for the given signals.
func (p SignalPolicy) ShouldNotify(s Signals) bool {
	switch {
	case s.DetectorFlagged && s.KeywordMatched:
		return true
	case s.DetectorFlagged:
		return p.NotifyOnDetectorOnly
	case s.KeywordMatched:
		return p.NotifyOnKeywordOnly
	default:
		return false
	}
}

// KeywordInText reports whether any keyword literally appears in the
// text, case-insensitively. Callers pass the raw diff text to derive the
// KeywordMatched signal.
func KeywordInText(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
