// Package analyzer orchestrates one analysis run: parse the change,
// invoke the detector, score the result, resolve per-channel decisions
// and dispatch the approved notifications.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/authwatchio/authwatch/pkg/audit"
	"github.com/authwatchio/authwatch/pkg/core"
	"github.com/authwatchio/authwatch/pkg/detector"
	"github.com/authwatchio/authwatch/pkg/diffparse"
	"github.com/authwatchio/authwatch/pkg/errors"
	"github.com/authwatchio/authwatch/pkg/metrics"
	"github.com/authwatchio/authwatch/pkg/notify"
	"github.com/authwatchio/authwatch/pkg/options"
	"github.com/authwatchio/authwatch/pkg/scoring"
	"github.com/authwatchio/authwatch/pkg/shared/fingerprint"
	"github.com/authwatchio/authwatch/pkg/shared/risk"
)

// Config wires an Analyzer's collaborators. Parser and Detector are
// required; everything else has a working default.
type Config struct {
	// Options holds the run-level tunables.
	Options *options.AnalyzerConfig

	// Parser turns diff text or host file lists into change records.
	Parser *diffparse.Parser

	// Detector runs the external detection and response parsing.
	Detector *detector.Service

	// Scorer computes the risk score. Nil uses the default tables.
	Scorer *scoring.Scorer

	// Gate resolves per-channel decisions. Nil decides nothing.
	Gate *notify.Gate

	// Dispatcher delivers approved notifications. Nil skips delivery,
	// leaving the gate decisions untouched (same as dry-run).
	Dispatcher *notify.Dispatcher

	// SignalMode switches the gate to the boolean-signal policy.
	SignalMode bool

	// Keywords derive the keyword signal from the diff text in signal
	// mode. Empty falls back to the detector's default keyword list.
	Keywords []string

	// Audit receives run events when set.
	Audit *audit.Logger

	// Archive stores raw detector responses when set.
	Archive *audit.ResponseArchive

	// Collector receives run metrics. Nil uses the default collector.
	Collector metrics.Collector

	// Logger defaults to a no-op logger.
	Logger core.Logger
}

// Input identifies and carries one change to analyze. Exactly one of
// DiffText and Files should be populated; Files wins when both are.
type Input struct {
	// Provider names the change host: "github", "gitlab" or "manual".
	Provider string

	// Repo is the canonical repository name.
	Repo string

	// ChangeID identifies the pull/merge request, when known.
	ChangeID string

	// ChangeURL links back to the change, when known.
	ChangeURL string

	// Title is the change title, when known.
	Title string

	// DiffText is raw unified diff text.
	DiffText string

	// Files are pre-split per-file patches from a change-host API.
	Files []diffparse.HostFile
}

// RunResult is the full outcome of one analysis run.
type RunResult struct {
	RunID         string                            `json:"run_id"`
	Provider      string                            `json:"provider"`
	Repo          string                            `json:"repo"`
	ChangeID      string                            `json:"change_id,omitempty"`
	Changes       []diffparse.FileChange            `json:"changes"`
	Detection     detector.DetectionResult          `json:"detection"`
	FindingCounts risk.CountByLevel                 `json:"finding_counts"`
	Result        scoring.Result                    `json:"result"`
	Signals       *scoring.Signals                  `json:"signals,omitempty"`
	Decisions     map[string]notify.ChannelDecision `json:"decisions"`
	Duration      time.Duration                     `json:"duration_ms"`
}

// Analyzer runs analyses end to end.
type Analyzer struct {
	cfg       *Config
	opts      *options.AnalyzerConfig
	collector metrics.Collector
	logger    core.Logger
}

// New creates an analyzer. Config.Parser and Config.Detector are
// required.
func New(cfg *Config, opts ...options.AnalyzerOption) (*Analyzer, error) {
	if cfg == nil || cfg.Parser == nil || cfg.Detector == nil {
		return nil, errors.E(errors.KindInvalidInput, "analyzer.New", "parser and detector are required")
	}

	runOpts := cfg.Options
	if runOpts == nil {
		runOpts = options.DefaultAnalyzerConfig()
	}
	options.ApplyAnalyzerOptions(runOpts, opts...)

	collector := cfg.Collector
	if collector == nil {
		collector = metrics.GetDefaultCollector()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}

	return &Analyzer{
		cfg:       cfg,
		opts:      runOpts,
		collector: collector,
		logger:    logger,
	}, nil
}

// Run executes one analysis. The returned error is transport-level only
// (a detector failure); parse and score stages never fail.
func (a *Analyzer) Run(ctx context.Context, input Input) (*RunResult, error) {
	runID := uuid.NewString()
	started := time.Now()
	provider := input.Provider
	if provider == "" {
		provider = "manual"
	}

	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	var runLog *audit.RunLogger
	if a.cfg.Audit != nil {
		runLog = a.cfg.Audit.WithRun(runID, input.Repo, input.ChangeID)
		a.cfg.Audit.AnalysisStarted(runID, input.Repo, input.ChangeID, map[string]interface{}{
			"provider": provider,
		})
	}

	changes := a.parse(input)
	sensitive := diffparse.CountAuthSensitive(changes)
	a.collector.CounterAdd(metrics.SensitiveFilesTotal.Name, float64(sensitive))
	a.logger.Info("run %s: %d changed files, %d auth-sensitive", runID, len(changes), sensitive)

	det, err := a.detect(ctx, runID, runLog, changes)
	if err != nil {
		a.collector.CounterInc(metrics.AnalysesTotal.Name, "provider", provider, "status", "failed")
		if a.cfg.Audit != nil {
			a.cfg.Audit.AnalysisFailed(runID, input.Repo, input.ChangeID, err)
		}
		return nil, errors.Wrap(err, "analyzer.Run")
	}

	a.auditFindings(runLog, input, det)

	result := a.score(det, changes)
	a.collector.HistogramObserve(metrics.RiskScore.Name, float64(result.Score))

	var counts risk.CountByLevel
	for _, f := range det.Findings {
		counts.Increment(f.RiskLevel)
	}

	run := &RunResult{
		RunID:         runID,
		Provider:      provider,
		Repo:          input.Repo,
		ChangeID:      input.ChangeID,
		Changes:       changes,
		Detection:     det,
		FindingCounts: counts,
		Result:        result,
	}

	run.Decisions = a.decide(ctx, run, input)

	run.Duration = time.Since(started)
	a.collector.CounterInc(metrics.AnalysesTotal.Name, "provider", provider, "status", "ok")
	a.collector.HistogramObserve(metrics.AnalysisDuration.Name, run.Duration.Seconds(), "provider", provider)
	if a.cfg.Audit != nil {
		a.cfg.Audit.AnalysisCompleted(runID, input.Repo, input.ChangeID,
			result.Score, string(result.Label), run.Duration)
	}
	return run, nil
}

// parse turns the input into change records, capping the file count when
// configured.
func (a *Analyzer) parse(input Input) []diffparse.FileChange {
	var changes []diffparse.FileChange
	if len(input.Files) > 0 {
		changes = a.cfg.Parser.ParseFileList(input.Files)
	} else {
		changes = a.cfg.Parser.Parse(input.DiffText)
	}

	if a.opts.MaxFiles > 0 && len(changes) > a.opts.MaxFiles {
		a.logger.Warn("change has %d files, truncating to %d", len(changes), a.opts.MaxFiles)
		changes = changes[:a.opts.MaxFiles]
	}
	return changes
}

func (a *Analyzer) detect(ctx context.Context, runID string, runLog *audit.RunLogger, changes []diffparse.FileChange) (detector.DetectionResult, error) {
	timer := metrics.NewTimer(a.collector, metrics.DetectorCallDuration.Name)

	det, err := a.cfg.Detector.Detect(ctx, changes)
	timer.ObserveDuration()
	if err != nil {
		a.collector.CounterInc(metrics.DetectorCallsTotal.Name, "status", "error")
		return detector.DetectionResult{}, err
	}
	a.collector.CounterInc(metrics.DetectorCallsTotal.Name, "status", "ok")

	for _, f := range det.Findings {
		a.collector.CounterInc(metrics.DetectorFindingsTotal.Name, "risk_level", f.RiskLevel.String())
	}
	if det.ParseFailure != "" {
		a.collector.CounterInc(metrics.DetectorParseFallbacks.Name, "policy", string(a.fallbackPolicy()))
		if runLog != nil {
			runLog.Info(audit.EventDetectorParseFallback, det.ParseFailure, nil)
		}
	}

	if a.cfg.Archive != nil && a.opts.ArchiveResponses && det.RawResponse != "" {
		if archErr := a.cfg.Archive.Store(runID, det.RawResponse); archErr != nil {
			a.logger.Warn("archive detector response: %v", archErr)
		}
	}
	return det, nil
}

// auditFindings records each finding's stable fingerprint so the trail
// can correlate findings across detector invocations for one change.
func (a *Analyzer) auditFindings(runLog *audit.RunLogger, input Input, det detector.DetectionResult) {
	if runLog == nil || len(det.Findings) == 0 {
		return
	}

	fps := make([]string, 0, len(det.Findings))
	for _, f := range det.Findings {
		fps = append(fps, fingerprint.Generate(fingerprint.Input{
			Repo:     input.Repo,
			ChangeID: input.ChangeID,
			Category: f.Category,
			FilePath: f.File,
			Excerpt:  f.CodeExcerpt,
		}))
	}
	runLog.Info(audit.EventDetectorCalled,
		fmt.Sprintf("Detector reported %d findings", len(det.Findings)),
		map[string]interface{}{"finding_fingerprints": fps})
}

func (a *Analyzer) fallbackPolicy() detector.FallbackPolicy {
	return a.cfg.Detector.Parser().Policy()
}

func (a *Analyzer) score(det detector.DetectionResult, changes []diffparse.FileChange) scoring.Result {
	scorer := a.cfg.Scorer
	if scorer == nil {
		scorer = scoring.NewScorer(nil)
	}
	return scorer.Score(det, changes)
}

// decide resolves gate decisions and dispatches approved deliveries.
// In dry-run mode, or without a dispatcher, the gate decisions are
// returned as-is.
func (a *Analyzer) decide(ctx context.Context, run *RunResult, input Input) map[string]notify.ChannelDecision {
	if a.cfg.Gate == nil {
		return nil
	}

	var decisions map[string]notify.ChannelDecision
	if a.cfg.SignalMode {
		keywords := a.cfg.Keywords
		if len(keywords) == 0 {
			keywords = detector.DefaultKeywords()
		}
		signals := scoring.Signals{
			DetectorFlagged: run.Detection.AuthChangesDetected,
			KeywordMatched:  scoring.KeywordInText(diffText(input, run.Changes), keywords),
		}
		run.Signals = &signals
		decisions = a.cfg.Gate.DecideSignals(signals)
	} else {
		decisions = a.cfg.Gate.Decide(run.Result)
	}

	if a.cfg.Dispatcher != nil && !a.opts.DryRun {
		payload := a.payload(run, input)
		decisions = a.cfg.Dispatcher.Dispatch(ctx, payload, decisions)
	}

	for name, d := range decisions {
		a.collector.CounterInc(metrics.NotificationsTotal.Name, "channel", name, "action", string(d.Action))
		if a.cfg.Audit != nil {
			a.cfg.Audit.NotificationDecision(run.RunID, name, string(d.Action), d.Reason)
		}
	}
	return decisions
}

func (a *Analyzer) payload(run *RunResult, input Input) *notify.Payload {
	return &notify.Payload{
		RunID:          run.RunID,
		Repo:           input.Repo,
		ChangeID:       input.ChangeID,
		ChangeURL:      input.ChangeURL,
		Title:          input.Title,
		Result:         run.Result,
		Summary:        run.Detection.Summary,
		Findings:       run.Detection.Findings,
		SensitiveFiles: diffparse.SensitiveFilenames(run.Changes),
	}
}

// diffText recovers the raw text the keyword signal scans: the original
// diff when present, otherwise the per-file patches.
func diffText(input Input, changes []diffparse.FileChange) string {
	if input.DiffText != "" {
		return input.DiffText
	}
	return diffparse.ExtractChangesForAnalysis(changes)
}
