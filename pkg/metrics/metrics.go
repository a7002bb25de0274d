// Package metrics defines the collector interface the agent reports
// into, the standard authwatch metric set, and two built-in backends:
// a no-op collector and an in-memory one for tests. The Prometheus
// backend lives in prometheus.go.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Collector receives metric updates. Labels are passed as alternating
// key/value pairs. Handler exposes the backend's scrape endpoint;
// backends without one return http.NotFoundHandler. Reset exists for
// tests.
type Collector interface {
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	HistogramObserve(name string, value float64, labels ...string)
	SummaryObserve(name string, value float64, labels ...string)

	Handler() http.Handler
	Reset()
}

// MetricType selects the metric kind a definition registers as.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
	MetricTypeSummary   MetricType = "summary"
)

// MetricDefinition declares one metric: its name, kind, help text, and
// label names, plus bucket or objective tuning for the observation
// kinds.
type MetricDefinition struct {
	Name       string     `json:"name"`
	Type       MetricType `json:"type"`
	Help       string     `json:"help"`
	Labels     []string   `json:"labels,omitempty"`
	Buckets    []float64  `json:"buckets,omitempty"`
	Objectives []float64  `json:"objectives,omitempty"`
	MaxAge     int        `json:"max_age,omitempty"`
	AgeBuckets int        `json:"age_buckets,omitempty"`
}

// The standard authwatch metric set, registered by the Prometheus
// collector when RegisterDefaultMetrics is on.
var (
	AnalysesTotal = MetricDefinition{
		Name:   "authwatch_analyses_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of change analyses executed",
		Labels: []string{"provider", "status"},
	}
	AnalysisDuration = MetricDefinition{
		Name:    "authwatch_analysis_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "End-to-end duration of change analyses in seconds",
		Labels:  []string{"provider"},
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	}
	RiskScore = MetricDefinition{
		Name:    "authwatch_risk_score",
		Type:    MetricTypeHistogram,
		Help:    "Distribution of final risk scores",
		Labels:  []string{},
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}
	SensitiveFilesTotal = MetricDefinition{
		Name:   "authwatch_sensitive_files_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of auth-sensitive files seen in analyzed changes",
		Labels: []string{},
	}

	DetectorCallsTotal = MetricDefinition{
		Name:   "authwatch_detector_calls_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of detector invocations",
		Labels: []string{"status"},
	}
	DetectorCallDuration = MetricDefinition{
		Name:    "authwatch_detector_call_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of detector invocations in seconds",
		Labels:  []string{},
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}
	DetectorParseFallbacks = MetricDefinition{
		Name:   "authwatch_detector_parse_fallbacks_total",
		Type:   MetricTypeCounter,
		Help:   "Detector responses that degraded to a fallback result",
		Labels: []string{"policy"},
	}
	DetectorFindingsTotal = MetricDefinition{
		Name:   "authwatch_detector_findings_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of detector findings by risk level",
		Labels: []string{"risk_level"},
	}

	NotificationsTotal = MetricDefinition{
		Name:   "authwatch_notifications_total",
		Type:   MetricTypeCounter,
		Help:   "Per-channel notification decisions",
		Labels: []string{"channel", "action"},
	}
	NotificationSendDuration = MetricDefinition{
		Name:    "authwatch_notification_send_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of notification deliveries in seconds",
		Labels:  []string{"channel"},
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}

	RetryQueueSize = MetricDefinition{
		Name:   "authwatch_retry_queue_size",
		Type:   MetricTypeGauge,
		Help:   "Current number of undelivered notifications in the retry queue",
		Labels: []string{},
	}
	RetryDeliveries = MetricDefinition{
		Name:   "authwatch_retry_deliveries_total",
		Type:   MetricTypeCounter,
		Help:   "Redelivery attempts from the retry queue",
		Labels: []string{"status"},
	}
)

// NopCollector discards every update. It is the default backend when
// metrics are disabled.
type NopCollector struct{}

func (c *NopCollector) CounterInc(string, ...string)          {}
func (c *NopCollector) CounterAdd(string, float64, ...string) {}
func (c *NopCollector) GaugeSet(string, float64, ...string)   {}
func (c *NopCollector) GaugeInc(string, ...string)            {}
func (c *NopCollector) GaugeDec(string, ...string)            {}

func (c *NopCollector) HistogramObserve(string, float64, ...string) {}
func (c *NopCollector) SummaryObserve(string, float64, ...string)   {}

func (c *NopCollector) Handler() http.Handler { return http.NotFoundHandler() }
func (c *NopCollector) Reset()                {}

// InMemoryCollector accumulates metrics in maps for test assertions.
// Counters and gauges keep a single value per series, histograms and
// summaries keep every observation.
type InMemoryCollector struct {
	mu     sync.RWMutex
	values map[string]float64
	obs    map[string][]float64
}

// NewInMemoryCollector returns an empty in-memory collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		values: make(map[string]float64),
		obs:    make(map[string][]float64),
	}
}

// seriesKey identifies one series. The kind prefix keeps a counter and
// a gauge of the same name apart.
func seriesKey(kind, name string, labels []string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('|')
	b.WriteString(name)
	for i := 0; i+1 < len(labels); i += 2 {
		b.WriteByte(',')
		b.WriteString(labels[i])
		b.WriteByte('=')
		b.WriteString(labels[i+1])
	}
	return b.String()
}

func (c *InMemoryCollector) addValue(kind, name string, labels []string, delta float64) {
	c.mu.Lock()
	c.values[seriesKey(kind, name, labels)] += delta
	c.mu.Unlock()
}

func (c *InMemoryCollector) observe(kind, name string, labels []string, v float64) {
	c.mu.Lock()
	k := seriesKey(kind, name, labels)
	c.obs[k] = append(c.obs[k], v)
	c.mu.Unlock()
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.addValue("counter", name, labels, 1)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.addValue("counter", name, labels, value)
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	c.values[seriesKey("gauge", name, labels)] = value
	c.mu.Unlock()
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.addValue("gauge", name, labels, 1)
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.addValue("gauge", name, labels, -1)
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.observe("histogram", name, labels, value)
}

func (c *InMemoryCollector) SummaryObserve(name string, value float64, labels ...string) {
	c.observe("summary", name, labels, value)
}

func (c *InMemoryCollector) Handler() http.Handler { return http.NotFoundHandler() }

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	c.values = make(map[string]float64)
	c.obs = make(map[string][]float64)
	c.mu.Unlock()
}

// GetCounter returns the accumulated counter value for the series.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[seriesKey("counter", name, labels)]
}

// GetGauge returns the current gauge value for the series.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[seriesKey("gauge", name, labels)]
}

// GetHistogram returns every histogram observation for the series.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.obs[seriesKey("histogram", name, labels)]
}

// GetSummary returns every summary observation for the series.
func (c *InMemoryCollector) GetSummary(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.obs[seriesKey("summary", name, labels)]
}

// Timer measures one operation and records the elapsed seconds into a
// histogram.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer starts timing against the named histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{start: time.Now(), collector: collector, name: name, labels: labels}
}

// ObserveDuration records the elapsed time and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

// The process-wide collector. Packages that are not handed a Collector
// explicitly report here; it defaults to discarding.
var (
	defaultCollectorMu sync.RWMutex
	defaultCollector   Collector = &NopCollector{}
)

// SetDefaultCollector installs the process-wide collector. A nil
// collector reinstates the no-op default.
func SetDefaultCollector(collector Collector) {
	defaultCollectorMu.Lock()
	defer defaultCollectorMu.Unlock()
	if collector == nil {
		collector = &NopCollector{}
	}
	defaultCollector = collector
}

// GetDefaultCollector returns the process-wide collector.
func GetDefaultCollector() Collector {
	defaultCollectorMu.RLock()
	defer defaultCollectorMu.RUnlock()
	return defaultCollector
}

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
