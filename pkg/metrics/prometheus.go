package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector over a Prometheus registry.
// Metrics must be registered before use; operations on unregistered
// names are dropped silently so instrumented code paths never fail.
type PrometheusCollector struct {
	mu sync.RWMutex

	registry *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	summaries  map[string]*prometheus.SummaryVec

	namespace string
	subsystem string
}

// PrometheusConfig configures the collector's registry and naming.
type PrometheusConfig struct {
	// Namespace and Subsystem prefix every metric name in that order.
	Namespace string
	Subsystem string

	// Registry receives the metrics. When nil a fresh registry is
	// created with the Go runtime and process collectors attached.
	Registry *prometheus.Registry

	// RegisterDefaultMetrics pre-registers the standard authwatch set.
	RegisterDefaultMetrics bool
}

// NewPrometheusCollector builds a collector over cfg's registry.
func NewPrometheusCollector(cfg *PrometheusConfig) *PrometheusCollector {
	if cfg == nil {
		cfg = &PrometheusConfig{}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &PrometheusCollector{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		summaries:  make(map[string]*prometheus.SummaryVec),
		namespace:  cfg.Namespace,
		subsystem:  cfg.Subsystem,
	}

	if cfg.RegisterDefaultMetrics {
		c.registerDefaultMetrics()
	}
	return c
}

func (c *PrometheusCollector) registerDefaultMetrics() {
	// Analysis metrics
	_ = c.RegisterCounter(AnalysesTotal)
	_ = c.RegisterHistogram(AnalysisDuration)
	_ = c.RegisterHistogram(RiskScore)
	_ = c.RegisterCounter(SensitiveFilesTotal)

	// Detector metrics
	_ = c.RegisterCounter(DetectorCallsTotal)
	_ = c.RegisterHistogram(DetectorCallDuration)
	_ = c.RegisterCounter(DetectorParseFallbacks)
	_ = c.RegisterCounter(DetectorFindingsTotal)

	// Notification metrics
	_ = c.RegisterCounter(NotificationsTotal)
	_ = c.RegisterHistogram(NotificationSendDuration)

	// Retry queue metrics
	_ = c.RegisterGauge(RetryQueueSize)
	_ = c.RegisterCounter(RetryDeliveries)
}

func (c *PrometheusCollector) opts(def MetricDefinition) prometheus.Opts {
	return prometheus.Opts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      def.Name,
		Help:      def.Help,
	}
}

// RegisterCounter registers a counter metric. Re-registration is a no-op.
func (c *PrometheusCollector) RegisterCounter(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.counters[def.Name]; exists {
		return nil
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts(c.opts(def)), def.Labels)
	if err := c.registry.Register(vec); err != nil {
		return err
	}
	c.counters[def.Name] = vec
	return nil
}

// RegisterGauge registers a gauge metric. Re-registration is a no-op.
func (c *PrometheusCollector) RegisterGauge(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.gauges[def.Name]; exists {
		return nil
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts(c.opts(def)), def.Labels)
	if err := c.registry.Register(vec); err != nil {
		return err
	}
	c.gauges[def.Name] = vec
	return nil
}

// RegisterHistogram registers a histogram metric. Buckets default to
// prometheus.DefBuckets.
func (c *PrometheusCollector) RegisterHistogram(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.histograms[def.Name]; exists {
		return nil
	}
	buckets := def.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      def.Name,
		Help:      def.Help,
		Buckets:   buckets,
	}, def.Labels)
	if err := c.registry.Register(vec); err != nil {
		return err
	}
	c.histograms[def.Name] = vec
	return nil
}

// RegisterSummary registers a summary metric with the definition's
// quantile objectives, defaulting to p50/p90/p99.
func (c *PrometheusCollector) RegisterSummary(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.summaries[def.Name]; exists {
		return nil
	}
	objectives := make(map[float64]float64, len(def.Objectives))
	for _, q := range def.Objectives {
		objectives[q] = 0.001
	}
	if len(objectives) == 0 {
		objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}
	}
	vec := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  c.namespace,
		Subsystem:  c.subsystem,
		Name:       def.Name,
		Help:       def.Help,
		Objectives: objectives,
	}, def.Labels)
	if err := c.registry.Register(vec); err != nil {
		return err
	}
	c.summaries[def.Name] = vec
	return nil
}

func (c *PrometheusCollector) counter(name string) (*prometheus.CounterVec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.counters[name]
	return v, ok
}

func (c *PrometheusCollector) gauge(name string) (*prometheus.GaugeVec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.gauges[name]
	return v, ok
}

func (c *PrometheusCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *PrometheusCollector) CounterAdd(name string, value float64, labels ...string) {
	if v, ok := c.counter(name); ok {
		v.WithLabelValues(labelsToValues(labels)...).Add(value)
	}
}

func (c *PrometheusCollector) GaugeSet(name string, value float64, labels ...string) {
	if v, ok := c.gauge(name); ok {
		v.WithLabelValues(labelsToValues(labels)...).Set(value)
	}
}

func (c *PrometheusCollector) GaugeInc(name string, labels ...string) {
	if v, ok := c.gauge(name); ok {
		v.WithLabelValues(labelsToValues(labels)...).Inc()
	}
}

func (c *PrometheusCollector) GaugeDec(name string, labels ...string) {
	if v, ok := c.gauge(name); ok {
		v.WithLabelValues(labelsToValues(labels)...).Dec()
	}
}

func (c *PrometheusCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.RLock()
	v, ok := c.histograms[name]
	c.mu.RUnlock()
	if ok {
		v.WithLabelValues(labelsToValues(labels)...).Observe(value)
	}
}

func (c *PrometheusCollector) SummaryObserve(name string, value float64, labels ...string) {
	c.mu.RLock()
	v, ok := c.summaries[name]
	c.mu.RUnlock()
	if ok {
		v.WithLabelValues(labelsToValues(labels)...).Observe(value)
	}
}

// Handler returns the /metrics endpoint handler.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Reset resets counters. Gauges and histograms cannot be reset through
// the Prometheus client; create a new collector for a full reset.
func (c *PrometheusCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.counters {
		v.Reset()
	}
}

// Registry exposes the backing registry for additional registrations.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// labelsToValues converts ["k1", "v1", "k2", "v2"] pairs to the value
// positions Prometheus vectors expect.
func labelsToValues(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	values := make([]string, 0, len(labels)/2)
	for i := 1; i < len(labels); i += 2 {
		values = append(values, labels[i])
	}
	return values
}

var _ Collector = (*PrometheusCollector)(nil)
