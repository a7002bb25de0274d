// Package audit records analysis runs as an append-only JSONL trail.
// Each run writes events keyed by run ID, so any score, gate decision,
// or parse fallback can be reconstructed after the fact for incident
// review or compliance.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Severity is the log severity of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// EventType identifies what happened.
type EventType string

// Agent lifecycle.
const (
	EventAgentStart EventType = "agent_start"
	EventAgentStop  EventType = "agent_stop"
	EventAgentError EventType = "agent_error"
)

// Analysis runs.
const (
	EventAnalysisStarted   EventType = "analysis_started"
	EventAnalysisCompleted EventType = "analysis_completed"
	EventAnalysisFailed    EventType = "analysis_failed"
)

// Detector calls.
const (
	EventDetectorCalled        EventType = "detector_called"
	EventDetectorParseFallback EventType = "detector_parse_fallback"
)

// Notification outcomes.
const (
	EventNotificationSent    EventType = "notification_sent"
	EventNotificationSkipped EventType = "notification_skipped"
	EventNotificationFailed  EventType = "notification_failed"
	EventNotificationRetry   EventType = "notification_retry_enqueued"
	EventCommentPosted       EventType = "comment_posted"
)

// Security.
const (
	EventAuthFailed      EventType = "auth_failed"
	EventRateLimited     EventType = "rate_limited"
	EventValidationError EventType = "validation_error"
)

// Event is one line of the audit trail.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	AgentID   string                 `json:"agent_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Repo      string                 `json:"repo,omitempty"`
	ChangeID  string                 `json:"change_id,omitempty"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// LoggerConfig configures the audit logger. Zero values fall back to
// the DefaultLoggerConfig equivalents.
type LoggerConfig struct {
	// AgentID is stamped onto every event that does not set its own.
	AgentID string

	// LogFile is the JSONL file to append to.
	// Defaults to ~/.authwatch/audit.log.
	LogFile string

	// MaxSizeMB is the file size ceiling before rotation.
	MaxSizeMB int

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int

	// BufferSize is how many events accumulate before a write.
	BufferSize int

	// FlushInterval bounds how long an event can sit in the buffer.
	FlushInterval time.Duration

	// Verbose mirrors events to stdout.
	Verbose bool
}

// DefaultLoggerConfig returns the standard settings: a log under
// ~/.authwatch, 100MB rotation, 30 day retention, and a 100-event
// buffer flushed at least every 5 seconds.
func DefaultLoggerConfig() *LoggerConfig {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}

	return &LoggerConfig{
		LogFile:       filepath.Join(home, ".authwatch", "audit.log"),
		MaxSizeMB:     100,
		MaxAgeDays:    30,
		BufferSize:    100,
		FlushInterval: 5 * time.Second,
	}
}

// Logger buffers audit events and appends them to the log file, either
// when the buffer fills or on the flush interval.
type Logger struct {
	config *LoggerConfig

	mu   sync.Mutex // guards file and running
	file *os.File

	bufferMu sync.Mutex
	buffer   []Event

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLogger opens the log file for append, creating its directory as
// needed. A nil config uses DefaultLoggerConfig.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	defaults := DefaultLoggerConfig()
	if config.LogFile == "" {
		config.LogFile = defaults.LogFile
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}

	if err := os.MkdirAll(filepath.Dir(config.LogFile), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// 0640: the trail may carry repo names and error text.
	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		config: config,
		file:   file,
		buffer: make([]Event, 0, config.BufferSize),
		stopCh: make(chan struct{}),
	}, nil
}

// Start launches the periodic flusher. Calling Start twice is a no-op.
func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.config.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.Flush()
			}
		}
	}()
}

// Stop flushes whatever is buffered and closes the file.
func (l *Logger) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
	l.Flush()

	return l.file.Close()
}

// Log stamps the event and queues it for writing. When the buffer
// reaches BufferSize a flush is kicked off in the background.
func (l *Logger) Log(event Event) {
	event.Timestamp = time.Now()
	if event.AgentID == "" {
		event.AgentID = l.config.AgentID
	}

	l.bufferMu.Lock()
	l.buffer = append(l.buffer, event)
	full := len(l.buffer) >= l.config.BufferSize
	l.bufferMu.Unlock()

	if l.config.Verbose {
		line := fmt.Sprintf("[%s] [%s] %s: %s",
			event.Timestamp.Format("2006-01-02 15:04:05"), event.Severity, event.Type, event.Message)
		if event.Error != "" {
			line += "\n  Error: " + event.Error
		}
		fmt.Println(line)
	}

	if full {
		go l.Flush()
	}
}

// Flush writes all buffered events to disk as JSONL and syncs the file.
func (l *Logger) Flush() {
	l.bufferMu.Lock()
	pending := l.buffer
	l.buffer = make([]Event, 0, l.config.BufferSize)
	l.bufferMu.Unlock()

	if len(pending) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	enc := json.NewEncoder(l.file)
	for _, event := range pending {
		// Encode appends the trailing newline. Unserializable events
		// are dropped rather than corrupting the trail.
		_ = enc.Encode(event)
	}
	_ = l.file.Sync()
}

// Info logs an event at INFO severity.
func (l *Logger) Info(eventType EventType, message string, details map[string]interface{}) {
	l.Log(Event{Type: eventType, Severity: SeverityInfo, Message: message, Details: details})
}

// Error logs an event at ERROR severity, capturing err when non-nil.
func (l *Logger) Error(eventType EventType, message string, err error, details map[string]interface{}) {
	e := Event{Type: eventType, Severity: SeverityError, Message: message, Details: details}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}

// AnalysisStarted marks the beginning of a run.
func (l *Logger) AnalysisStarted(runID, repo, changeID string, details map[string]interface{}) {
	l.Log(Event{
		Type:     EventAnalysisStarted,
		Severity: SeverityInfo,
		RunID:    runID,
		Repo:     repo,
		ChangeID: changeID,
		Message:  "Analysis started",
		Details:  details,
	})
}

// AnalysisCompleted records a finished run with its final score.
func (l *Logger) AnalysisCompleted(runID, repo, changeID string, score int, label string, duration time.Duration) {
	l.Log(Event{
		Type:     EventAnalysisCompleted,
		Severity: SeverityInfo,
		RunID:    runID,
		Repo:     repo,
		ChangeID: changeID,
		Message:  fmt.Sprintf("Analysis completed: %s (%d/100)", label, score),
		Duration: duration,
		Details:  map[string]interface{}{"score": score, "label": label},
	})
}

// AnalysisFailed records a run that errored out.
func (l *Logger) AnalysisFailed(runID, repo, changeID string, err error) {
	e := Event{
		Type:     EventAnalysisFailed,
		Severity: SeverityError,
		RunID:    runID,
		Repo:     repo,
		ChangeID: changeID,
		Message:  "Analysis failed",
	}
	if err != nil {
		e.Error = err.Error()
	}
	l.Log(e)
}

// NotificationDecision records one per-channel gate outcome. The action
// is one of "sent", "skipped", or "failed".
func (l *Logger) NotificationDecision(runID, channel, action, reason string) {
	var eventType EventType
	severity := SeverityInfo
	switch action {
	case "skipped":
		eventType = EventNotificationSkipped
	case "failed":
		eventType = EventNotificationFailed
		severity = SeverityWarning
	default:
		eventType = EventNotificationSent
	}

	l.Log(Event{
		Type:     eventType,
		Severity: severity,
		RunID:    runID,
		Message:  fmt.Sprintf("Notification %s for channel %s", action, channel),
		Details: map[string]interface{}{
			"channel": channel,
			"action":  action,
			"reason":  reason,
		},
	})
}

// WithRun binds the run identity to a RunLogger so per-run events do
// not repeat it at every call site.
func (l *Logger) WithRun(runID, repo, changeID string) *RunLogger {
	return &RunLogger{
		logger: l,
		scope:  Event{RunID: runID, Repo: repo, ChangeID: changeID},
	}
}

// RunLogger logs events pre-filled with one run's identity.
type RunLogger struct {
	logger *Logger
	scope  Event
}

func (rl *RunLogger) emit(eventType EventType, severity Severity, message string, err error, details map[string]interface{}) {
	e := rl.scope
	e.Type = eventType
	e.Severity = severity
	e.Message = message
	e.Details = details
	if err != nil {
		e.Error = err.Error()
	}
	rl.logger.Log(e)
}

// Info logs an INFO event carrying the run identity.
func (rl *RunLogger) Info(eventType EventType, message string, details map[string]interface{}) {
	rl.emit(eventType, SeverityInfo, message, nil, details)
}

// Error logs an ERROR event carrying the run identity.
func (rl *RunLogger) Error(eventType EventType, message string, err error, details map[string]interface{}) {
	rl.emit(eventType, SeverityError, message, err, details)
}
