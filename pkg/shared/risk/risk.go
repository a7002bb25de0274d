// Package risk provides unified risk level definitions and mappings for
// authentication-change findings across the SDK and the notification layer.
//
// The level domain matches what the external detector reports for a finding:
// none, low, medium, high, critical. Unrecognized input normalizes to None
// rather than failing, since detector output is untrusted free text.
package risk

import "strings"

// Level represents the risk level of an authentication-change finding.
type Level string

const (
	// Critical - change almost certainly weakens authentication if wrong.
	Critical Level = "critical"

	// High - serious authentication impact, review urgently.
	High Level = "high"

	// Medium - moderate authentication impact.
	Medium Level = "medium"

	// Low - minor or indirect authentication impact.
	Low Level = "low"

	// None - no authentication impact detected.
	None Level = "none"
)

// String returns the string representation of the risk level.
func (l Level) String() string {
	return string(l)
}

// Priority orders levels numerically, none lowest at 0 and critical
// highest at 4.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// FromString normalizes a risk level string from detector output.
// Anything unrecognized (including empty) maps to None.
func FromString(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit":
		return Critical
	case "high", "severe":
		return High
	case "medium", "moderate", "med":
		return Medium
	case "low":
		return Low
	default:
		return None
	}
}

// CountByLevel counts findings by risk level.
type CountByLevel struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	None     int `json:"none"`
	Total    int `json:"total"`
}

// Increment increases the count for the given risk level.
func (c *CountByLevel) Increment(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	default:
		c.None++
	}
}

// HighestLevel returns the highest risk level that has a non-zero count.
func (c *CountByLevel) HighestLevel() Level {
	if c.Critical > 0 {
		return Critical
	}
	if c.High > 0 {
		return High
	}
	if c.Medium > 0 {
		return Medium
	}
	if c.Low > 0 {
		return Low
	}
	return None
}
