// Package options holds the functional options for the analyzer.
package options

import (
	"time"
)

// AnalyzerConfig is the resolved analyzer configuration after all
// options have been applied.
type AnalyzerConfig struct {
	// AgentID is included in audit events and notifications.
	AgentID string

	Timeout time.Duration

	// MaxFiles caps the changed files sent to the detector, 0 meaning
	// unlimited.
	MaxFiles int

	DryRun           bool
	ArchiveResponses bool
	Verbose          bool
}

// AnalyzerOption mutates one AnalyzerConfig field.
type AnalyzerOption func(*AnalyzerConfig)

// DefaultAnalyzerConfig returns the defaults: a 2 minute run timeout
// and at most 200 files per analysis.
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		Timeout:  2 * time.Minute,
		MaxFiles: 200,
	}
}

// ApplyAnalyzerOptions applies opts to cfg in order.
func ApplyAnalyzerOptions(cfg *AnalyzerConfig, opts ...AnalyzerOption) {
	for _, opt := range opts {
		opt(cfg)
	}
}

// WithAgentID sets the agent identity recorded with each run.
func WithAgentID(id string) AnalyzerOption {
	return func(c *AnalyzerConfig) { c.AgentID = id }
}

// WithTimeout sets the per-run timeout.
func WithTimeout(d time.Duration) AnalyzerOption {
	return func(c *AnalyzerConfig) { c.Timeout = d }
}

// WithMaxFiles caps the number of changed files sent to the detector.
func WithMaxFiles(n int) AnalyzerOption {
	return func(c *AnalyzerConfig) { c.MaxFiles = n }
}

// WithDryRun disables delivery; the run is scored and reported only.
func WithDryRun(dryRun bool) AnalyzerOption {
	return func(c *AnalyzerConfig) { c.DryRun = dryRun }
}

// WithResponseArchive enables archiving of raw detector responses.
func WithResponseArchive(enabled bool) AnalyzerOption {
	return func(c *AnalyzerConfig) { c.ArchiveResponses = enabled }
}

// WithVerbose enables console diagnostics.
func WithVerbose(v bool) AnalyzerOption {
	return func(c *AnalyzerConfig) { c.Verbose = v }
}
