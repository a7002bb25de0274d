// Authwatch Agent - Authentication Change Risk Analyzer
//
// This agent supports two input modes:
//
//  1. CI MODE (auto-detected):
//     authwatch-agent -config authwatch.yaml
//     Reads the pull/merge request context from GitHub Actions or
//     GitLab CI and fetches the changed files from the change host.
//
//  2. DIFF MODE (local/manual):
//     authwatch-agent -diff change.patch -repo acme/app -dry-run
//
// The agent is advisory: it scores the change, notifies the configured
// channels, and always exits 0 for scoring outcomes. Only operational
// failures (bad config, unreachable detector) exit non-zero.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/authwatchio/authwatch/pkg/analyzer"
	"github.com/authwatchio/authwatch/pkg/audit"
	"github.com/authwatchio/authwatch/pkg/config"
	"github.com/authwatchio/authwatch/pkg/core"
	"github.com/authwatchio/authwatch/pkg/detector"
	"github.com/authwatchio/authwatch/pkg/diffparse"
	"github.com/authwatchio/authwatch/pkg/gitenv"
	"github.com/authwatchio/authwatch/pkg/metrics"
	"github.com/authwatchio/authwatch/pkg/notify"
	"github.com/authwatchio/authwatch/pkg/options"
	"github.com/authwatchio/authwatch/pkg/retry"
	"github.com/authwatchio/authwatch/pkg/scoring"
	"github.com/authwatchio/authwatch/pkg/sensitivity"
	grpctransport "github.com/authwatchio/authwatch/pkg/transport/grpc"
)

const (
	appName    = "authwatch-agent"
	appVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	overridePath := flag.String("config-override", "", "Path to override config file (merged on top)")
	diffPath := flag.String("diff", "", "Path to a unified diff file to analyze")
	repo := flag.String("repo", "", "Repository name (for -diff mode)")
	changeID := flag.String("change-id", "", "Pull/merge request ID (for -diff mode)")
	apiKey := flag.String("api-key", "", "Detector API key (or OPENAI_API_KEY env)")
	dryRun := flag.Bool("dry-run", false, "Score only, do not deliver notifications")
	outputJSON := flag.Bool("json", false, "Output the full run result as JSON")
	outputFile := flag.String("output", "", "Output file path (instead of stdout)")
	autoDetectCI := flag.Bool("auto-ci", true, "Auto-detect CI environment (GitHub Actions, GitLab CI)")
	verbose := flag.Bool("verbose", false, "Verbose output")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	cfg, err := config.LoadWithOverride(*configPath, *overridePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Agent.Verbose = true
	}
	if *apiKey != "" {
		cfg.Detector.APIKey = *apiKey
	}

	logLevel := core.LogLevelWarn
	if cfg.Agent.Verbose {
		logLevel = core.LogLevelDebug
	}
	logger := core.NewDefaultLogger("authwatch", logLevel)

	// Auto-detect CI environment
	var ciEnv gitenv.GitEnv
	if *autoDetectCI && *diffPath == "" {
		ciEnv = gitenv.DetectWithVerbose(cfg.Agent.Verbose)
		if ciEnv != nil && cfg.Agent.Verbose {
			fmt.Printf("[CI] Detected: %s\n", ciEnv.Provider())
			if ciEnv.CanonicalRepoName() != "" {
				fmt.Printf("[CI] Repository: %s\n", ciEnv.CanonicalRepoName())
			}
			if ciEnv.MergeRequestID() != "" {
				fmt.Printf("[CI] MR/PR: #%s\n", ciEnv.MergeRequestID())
			}
		}
	}

	input, err := buildInput(ctx, cfg, ciEnv, *diffPath, *repo, *changeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Metrics
	collector := buildCollector(cfg)

	// Audit log and response archive
	auditLogger, archive := buildAudit(cfg)
	if auditLogger != nil {
		auditLogger.Start()
		defer auditLogger.Stop()
	}

	// Diff parsing with configured extra sensitivity rules
	extraRules, err := cfg.SensitivityRules()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in sensitivity config: %v\n", err)
		os.Exit(1)
	}
	parser := diffparse.NewParser(sensitivity.NewDefaultClassifier(extraRules...))

	// Detector
	client, err := detector.NewOpenAIClient(cfg.OpenAIConfig(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating detector client: %v\n", err)
		fmt.Fprintf(os.Stderr, "Set detector.api_key in the config or the OPENAI_API_KEY env var.\n")
		os.Exit(1)
	}
	service := detector.NewService(client, &detector.ServiceConfig{
		PromptTemplate: cfg.Detector.PromptTemplate,
		Keywords:       cfg.Detector.Keywords,
		Fallback:       cfg.FallbackPolicy(),
		Logger:         logger,
	})

	// Notification transports
	transports, closeTransports, err := buildTransports(cfg, ciEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring channels: %v\n", err)
		os.Exit(1)
	}
	defer closeTransports()

	dispatcherOpts := []notify.DispatcherOption{
		notify.WithDispatcherLogger(logger),
		notify.WithDispatcherCollector(collector),
	}

	// Delivery retry queue
	var queue *retry.FileQueue
	if cfg.Retry.Enabled {
		queue, err = retry.NewFileQueue(&retry.FileQueueConfig{
			Dir:           cfg.Retry.Dir,
			Deduplication: true,
			Verbose:       cfg.Agent.Verbose,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening retry queue: %v\n", err)
			os.Exit(1)
		}
		defer queue.Close()
		dispatcherOpts = append(dispatcherOpts,
			notify.WithRetryQueue(retry.NewEnqueuer(queue, cfg.Retry.MaxAttempts)))
	}

	a, err := analyzer.New(&analyzer.Config{
		Options: &options.AnalyzerConfig{
			AgentID:          cfg.Agent.ID,
			Timeout:          cfg.Agent.Timeout,
			MaxFiles:         cfg.Agent.MaxFiles,
			DryRun:           *dryRun,
			ArchiveResponses: cfg.Audit.ArchiveResponses,
			Verbose:          cfg.Agent.Verbose,
		},
		Parser:     parser,
		Detector:   service,
		Scorer:     scoring.NewScorer(&cfg.Scoring),
		Gate:       notify.NewGate(cfg.GateConfig()),
		Dispatcher: notify.NewDispatcher(transports, dispatcherOpts...),
		SignalMode: cfg.Notify.SignalMode,
		Keywords:   cfg.Detector.Keywords,
		Audit:      auditLogger,
		Archive:    archive,
		Collector:  collector,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	run, err := a.Run(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		os.Exit(1)
	}

	// Drain previously failed deliveries that are due for retry
	if queue != nil && !*dryRun {
		drainRetryQueue(ctx, cfg, queue, transports, collector)
	}

	if *outputJSON {
		writeJSON(run, *outputFile)
	} else {
		printSummary(run)
	}
}

// buildInput resolves where the change comes from: an explicit diff file
// or the detected CI change context.
func buildInput(ctx context.Context, cfg *config.Config, ciEnv gitenv.GitEnv, diffPath, repo, changeID string) (analyzer.Input, error) {
	if diffPath != "" {
		data, err := os.ReadFile(diffPath)
		if err != nil {
			return analyzer.Input{}, fmt.Errorf("read diff: %w", err)
		}
		if repo == "" {
			// No -repo flag: fall back to the local checkout's identity.
			if env := gitenv.DetectFromDirectory(".", cfg.Agent.Verbose); env != nil {
				repo = env.CanonicalRepoName()
			}
		}
		return analyzer.Input{
			Provider: gitenv.ProviderManual,
			Repo:     repo,
			ChangeID: changeID,
			DiffText: string(data),
		}, nil
	}

	if ciEnv == nil {
		return analyzer.Input{}, fmt.Errorf("no change to analyze: not in a recognized CI environment and no -diff given")
	}

	files, err := ciEnv.ChangedFiles(ctx)
	if err != nil {
		return analyzer.Input{}, fmt.Errorf("fetch changed files from %s: %w", ciEnv.Provider(), err)
	}
	return analyzer.Input{
		Provider:  ciEnv.Provider(),
		Repo:      ciEnv.CanonicalRepoName(),
		ChangeID:  ciEnv.MergeRequestID(),
		ChangeURL: ciEnv.MergeRequestURL(),
		Title:     ciEnv.MergeRequestTitle(),
		Files:     files,
	}, nil
}

func buildCollector(cfg *config.Config) metrics.Collector {
	if !cfg.Metrics.Enabled {
		return metrics.GetDefaultCollector()
	}

	collector := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{
		RegisterDefaultMetrics: true,
	})
	if cfg.Metrics.Listen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				fmt.Fprintf(os.Stderr, "Metrics server error: %v\n", err)
			}
		}()
	}
	return collector
}

func buildAudit(cfg *config.Config) (*audit.Logger, *audit.ResponseArchive) {
	auditLogger, err := audit.NewLogger(&audit.LoggerConfig{
		AgentID: cfg.Agent.ID,
		LogFile: cfg.Audit.LogFile,
		Verbose: cfg.Agent.Verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: audit log unavailable: %v\n", err)
		auditLogger = nil
	}

	var archive *audit.ResponseArchive
	if cfg.Audit.ArchiveResponses {
		archive, err = audit.NewResponseArchive(cfg.Audit.ArchiveDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: response archive unavailable: %v\n", err)
		}
	}
	return auditLogger, archive
}

// buildTransports creates one transport per configured channel. The
// returned closer shuts down shared connections.
func buildTransports(cfg *config.Config, ciEnv gitenv.GitEnv) ([]notify.Transport, func(), error) {
	var transports []notify.Transport
	var gateway *grpctransport.Transport

	for _, ch := range cfg.Notify.Channels {
		switch ch.Type {
		case "webhook", "":
			t, err := notify.NewWebhookTransport(&notify.WebhookConfig{
				Channel:           ch.Name,
				URL:               ch.URL,
				RequestsPerMinute: ch.RequestsPerMinute,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("channel %s: %w", ch.Name, err)
			}
			transports = append(transports, t)

		case "comment":
			var commenter notify.Commenter
			if ciEnv != nil {
				commenter = ciEnv
			}
			transports = append(transports, notify.NewCommentTransport(ch.Name, commenter))

		case "gateway":
			if gateway == nil {
				gateway = grpctransport.NewTransport(&grpctransport.Config{
					Address:            cfg.Gateway.Address,
					APIKey:             cfg.Gateway.APIKey,
					AgentID:            cfg.Agent.ID,
					UseTLS:             cfg.Gateway.TLSEnabled(),
					InsecureSkipVerify: cfg.Gateway.InsecureSkipVerify,
					Timeout:            cfg.Gateway.Timeout,
					Verbose:            cfg.Agent.Verbose,
				})
			}
			transports = append(transports, grpctransport.NewGatewayTransport(ch.Name, gateway))

		default:
			return nil, nil, fmt.Errorf("channel %s: unknown type %q", ch.Name, ch.Type)
		}
	}

	closer := func() {
		if gateway != nil {
			gateway.Close()
		}
	}
	return transports, closer, nil
}

// transportSender adapts the channel transports for the retry worker.
type transportSender struct {
	transports map[string]notify.Transport
}

func (s *transportSender) SendTo(ctx context.Context, channel string, payload *notify.Payload) error {
	t, ok := s.transports[channel]
	if !ok {
		return fmt.Errorf("no transport configured for channel %s", channel)
	}
	return t.Send(ctx, payload)
}

// drainRetryQueue re-attempts previously failed deliveries that are due.
func drainRetryQueue(ctx context.Context, cfg *config.Config, queue *retry.FileQueue, transports []notify.Transport, collector metrics.Collector) {
	byName := make(map[string]notify.Transport, len(transports))
	for _, t := range transports {
		byName[t.Name()] = t
	}

	worker := retry.NewWorker(&retry.WorkerConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Verbose:     cfg.Agent.Verbose,
	}, queue, &transportSender{transports: byName})

	worker.OnSuccess(func(item *retry.QueueItem, result *retry.RetryResult) {
		collector.CounterInc(metrics.RetryDeliveries.Name, "status", "ok")
	})
	worker.OnFail(func(item *retry.QueueItem, result *retry.RetryResult) {
		collector.CounterInc(metrics.RetryDeliveries.Name, "status", "failed")
	})

	if err := worker.ProcessNow(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Retry queue processing error: %v\n", err)
	}
	if size, err := queue.Size(ctx); err == nil {
		collector.GaugeSet(metrics.RetryQueueSize.Name, float64(size))
	}
}

func writeJSON(run *analyzer.RunResult, outputFile string) {
	data, _ := json.MarshalIndent(run, "", "  ")
	if outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Results written to %s\n", outputFile)
		return
	}
	fmt.Println(string(data))
}

func printSummary(run *analyzer.RunResult) {
	loc := run.Repo
	if run.ChangeID != "" {
		loc = fmt.Sprintf("%s!%s", run.Repo, run.ChangeID)
	}
	fmt.Printf("Analyzed %s: %d files, %d auth-sensitive\n",
		loc, len(run.Changes), diffparse.CountAuthSensitive(run.Changes))
	fmt.Printf("Risk: %s (%d/100)\n", run.Result.Label, run.Result.Score)

	if run.Detection.Summary != "" {
		fmt.Printf("Summary: %s\n", run.Detection.Summary)
	}

	bd := run.Result.Breakdown
	fmt.Printf("  Base score: %d (highest risk: %s)\n", bd.BaseScore, bd.HighestRisk)
	for _, m := range bd.Modifiers {
		fmt.Printf("  +%d %s (%s)\n", m.Points, m.Name, m.Reason)
	}

	if len(run.Detection.Findings) > 0 {
		c := run.FindingCounts
		fmt.Printf("Findings: %d (%d critical, %d high, %d medium, %d low)\n",
			c.Total, c.Critical, c.High, c.Medium, c.Low)
		for _, f := range run.Detection.Findings {
			file := f.File
			if file == "" {
				file = "-"
			}
			fmt.Printf("  [%s] %s %s: %s\n", strings.ToUpper(f.RiskLevel.String()), f.Category, file, f.Description)
		}
	}

	if len(run.Decisions) > 0 {
		names := make([]string, 0, len(run.Decisions))
		for name := range run.Decisions {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("Channels:\n")
		for _, name := range names {
			d := run.Decisions[name]
			if d.Reason != "" {
				fmt.Printf("  %-12s %s (%s)\n", name, d.Action, d.Reason)
			} else {
				fmt.Printf("  %-12s %s\n", name, d.Action)
			}
		}
	}
}
