package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// newTestLogger builds a started logger writing into a temp directory
// and returns it with its log path.
func newTestLogger(t *testing.T, cfg LoggerConfig) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg.LogFile = path
	logger, err := NewLogger(&cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Start()
	return logger, path
}

// firstEvent stops the logger and decodes the first JSONL line.
func firstEvent(t *testing.T, logger *Logger, path string) Event {
	t.Helper()
	if err := logger.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(raw)), "\n")
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("decode event: %v (line: %s)", err, line)
	}
	return ev
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "\n"))
}

func TestDefaultLoggerConfigValues(t *testing.T) {
	cfg := DefaultLoggerConfig()
	if cfg == nil {
		t.Fatal("DefaultLoggerConfig() = nil")
	}

	if cfg.MaxSizeMB != 100 || cfg.MaxAgeDays != 30 || cfg.BufferSize != 100 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if !strings.Contains(cfg.LogFile, ".authwatch") {
		t.Errorf("LogFile %q not under .authwatch", cfg.LogFile)
	}
}

func TestNewLoggerCreatesFile(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{AgentID: "ci-agent-1"})
	defer logger.Stop()

	if logger.config.AgentID != "ci-agent-1" {
		t.Errorf("AgentID = %q", logger.config.AgentID)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

func TestNewLoggerNilConfigUsesDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger(nil): %v", err)
	}
	defer logger.Stop()

	if logger.config == nil || logger.config.BufferSize != 100 {
		t.Errorf("nil config not replaced with defaults: %+v", logger.config)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	logger, _ := newTestLogger(t, LoggerConfig{FlushInterval: 50 * time.Millisecond})

	if !logger.running {
		t.Error("not running after Start")
	}
	logger.Start() // second Start is a no-op

	if err := logger.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if logger.running {
		t.Error("still running after Stop")
	}
	if err := logger.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestLogStampsAgentAndTimestamp(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{AgentID: "ci-agent-1", BufferSize: 1})

	logger.Log(Event{
		Type:     EventAnalysisStarted,
		Severity: SeverityInfo,
		RunID:    "run-7",
		Repo:     "github.com/acme/payments",
		ChangeID: "311",
		Message:  "Analysis started",
		Details:  map[string]interface{}{"files": 4},
	})
	time.Sleep(100 * time.Millisecond)

	ev := firstEvent(t, logger, path)
	if ev.Type != EventAnalysisStarted || ev.RunID != "run-7" || ev.ChangeID != "311" {
		t.Errorf("event identity wrong: %+v", ev)
	}
	if ev.AgentID != "ci-agent-1" {
		t.Errorf("AgentID = %q, want the config value", ev.AgentID)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
}

func TestErrorCapturesCause(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{BufferSize: 1})

	logger.Error(EventDetectorCalled, "Detector call failed", errors.New("connection reset"), nil)
	time.Sleep(50 * time.Millisecond)

	ev := firstEvent(t, logger, path)
	if ev.Severity != SeverityError {
		t.Errorf("Severity = %s", ev.Severity)
	}
	if ev.Error != "connection reset" {
		t.Errorf("Error = %q", ev.Error)
	}
}

func TestAnalysisCompletedMessage(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{BufferSize: 1})

	logger.AnalysisCompleted("run-7", "github.com/acme/payments", "311", 75, "CRITICAL", 5*time.Second)
	time.Sleep(50 * time.Millisecond)

	ev := firstEvent(t, logger, path)
	if ev.Type != EventAnalysisCompleted {
		t.Errorf("Type = %s", ev.Type)
	}
	if ev.Duration != 5*time.Second {
		t.Errorf("Duration = %v", ev.Duration)
	}
	if !strings.Contains(ev.Message, "CRITICAL (75/100)") {
		t.Errorf("Message = %q, want label and score", ev.Message)
	}
}

func TestAnalysisFailedCapturesCause(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{BufferSize: 1})

	logger.AnalysisFailed("run-7", "github.com/acme/payments", "311", errors.New("detector unreachable"))
	time.Sleep(50 * time.Millisecond)

	ev := firstEvent(t, logger, path)
	if ev.Type != EventAnalysisFailed {
		t.Errorf("Type = %s", ev.Type)
	}
	if ev.Error != "detector unreachable" {
		t.Errorf("Error = %q", ev.Error)
	}
}

func TestNotificationDecisionMapsActions(t *testing.T) {
	tests := []struct {
		action       string
		wantType     EventType
		wantSeverity Severity
	}{
		{"sent", EventNotificationSent, SeverityInfo},
		{"skipped", EventNotificationSkipped, SeverityInfo},
		{"failed", EventNotificationFailed, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			logger, path := newTestLogger(t, LoggerConfig{BufferSize: 1})

			logger.NotificationDecision("run-7", "chat_a", tt.action, "score 40 below threshold 50")
			time.Sleep(50 * time.Millisecond)

			ev := firstEvent(t, logger, path)
			if ev.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", ev.Type, tt.wantType)
			}
			if ev.Severity != tt.wantSeverity {
				t.Errorf("Severity = %s, want %s", ev.Severity, tt.wantSeverity)
			}
			if ev.Details["channel"] != "chat_a" {
				t.Errorf("channel = %v", ev.Details["channel"])
			}
		})
	}
}

func TestExplicitFlushWritesBuffered(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{
		BufferSize:    100,
		FlushInterval: time.Hour,
	})

	for i := 0; i < 10; i++ {
		logger.Info(EventAnalysisStarted, "warm-up", nil)
	}
	logger.Flush()

	if n := countLines(t, path); n != 10 {
		t.Errorf("lines = %d, want 10", n)
	}
	logger.Stop()
}

func TestFullBufferTriggersFlush(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{
		BufferSize:    5,
		FlushInterval: time.Hour,
	})

	for i := 0; i < 10; i++ {
		logger.Info(EventAnalysisStarted, "warm-up", nil)
	}
	time.Sleep(100 * time.Millisecond)
	logger.Stop()

	if n := countLines(t, path); n != 10 {
		t.Errorf("lines = %d, want 10", n)
	}
}

func TestConcurrentLoggingLosesNothing(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{
		BufferSize:    10,
		FlushInterval: 50 * time.Millisecond,
	})

	const workers, perWorker = 10, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				logger.Info(EventAnalysisStarted, "concurrent", map[string]interface{}{
					"worker": w,
					"seq":    i,
				})
			}
		}(w)
	}
	wg.Wait()

	logger.Flush()
	logger.Stop()

	if n := countLines(t, path); n != workers*perWorker {
		t.Errorf("lines = %d, want %d", n, workers*perWorker)
	}
}

func TestRunLoggerCarriesIdentity(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{BufferSize: 1})

	rl := logger.WithRun("run-7", "github.com/acme/payments", "311")
	rl.Info(EventDetectorCalled, "Detector invoked", nil)
	time.Sleep(50 * time.Millisecond)

	ev := firstEvent(t, logger, path)
	if ev.RunID != "run-7" || ev.Repo != "github.com/acme/payments" || ev.ChangeID != "311" {
		t.Errorf("run identity not carried: %+v", ev)
	}
}

func TestRunLoggerErrorSeverity(t *testing.T) {
	logger, path := newTestLogger(t, LoggerConfig{BufferSize: 1})

	rl := logger.WithRun("run-7", "github.com/acme/payments", "311")
	rl.Error(EventNotificationFailed, "Delivery failed", errors.New("502 from webhook"), nil)
	time.Sleep(50 * time.Millisecond)

	ev := firstEvent(t, logger, path)
	if ev.Severity != SeverityError {
		t.Errorf("Severity = %s", ev.Severity)
	}
	if ev.Error != "502 from webhook" {
		t.Errorf("Error = %q", ev.Error)
	}
}

func TestEventTypeConstantsUnique(t *testing.T) {
	all := []EventType{
		EventAgentStart, EventAgentStop, EventAgentError,
		EventAnalysisStarted, EventAnalysisCompleted, EventAnalysisFailed,
		EventDetectorCalled, EventDetectorParseFallback,
		EventNotificationSent, EventNotificationSkipped, EventNotificationFailed,
		EventNotificationRetry, EventCommentPosted,
		EventAuthFailed, EventRateLimited, EventValidationError,
	}

	seen := make(map[EventType]bool, len(all))
	for _, et := range all {
		if seen[et] {
			t.Errorf("duplicate event type %q", et)
		}
		seen[et] = true
	}
}

func TestResponseArchiveRoundTrip(t *testing.T) {
	archive, err := NewResponseArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewResponseArchive: %v", err)
	}

	raw := `Here is my analysis: {"findings": [], "summary": "No auth changes."}`
	if err := archive.Store("run-123", raw); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := archive.Load("run-123")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != raw {
		t.Errorf("Load = %q, want %q", got, raw)
	}
}

func TestResponseArchiveRequiresRunID(t *testing.T) {
	archive, err := NewResponseArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewResponseArchive: %v", err)
	}
	if err := archive.Store("", "raw"); err == nil {
		t.Error("Store with empty run ID must fail")
	}
}
