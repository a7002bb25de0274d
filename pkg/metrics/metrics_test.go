package metrics

import (
	"testing"
	"time"
)

func TestInMemoryCounter(t *testing.T) {
	c := NewInMemoryCollector()

	c.CounterInc(AnalysesTotal.Name, "provider", "github")
	c.CounterInc(AnalysesTotal.Name, "provider", "github")
	c.CounterAdd(AnalysesTotal.Name, 3, "provider", "github")

	if got := c.GetCounter(AnalysesTotal.Name, "provider", "github"); got != 5 {
		t.Errorf("counter = %v, want 5", got)
	}

	// A different label set is a different series.
	if got := c.GetCounter(AnalysesTotal.Name, "provider", "gitlab"); got != 0 {
		t.Errorf("unrelated series = %v, want 0", got)
	}
}

func TestInMemoryGauge(t *testing.T) {
	c := NewInMemoryCollector()

	c.GaugeSet(RetryQueueSize.Name, 7)
	c.GaugeInc(RetryQueueSize.Name)
	c.GaugeInc(RetryQueueSize.Name)
	c.GaugeDec(RetryQueueSize.Name)

	if got := c.GetGauge(RetryQueueSize.Name); got != 8 {
		t.Errorf("gauge = %v, want 8", got)
	}
}

func TestInMemoryObservations(t *testing.T) {
	c := NewInMemoryCollector()

	for _, v := range []float64{10, 55, 80} {
		c.HistogramObserve(RiskScore.Name, v)
	}
	c.SummaryObserve(DetectorCallDuration.Name, 1.2)

	if got := c.GetHistogram(RiskScore.Name); len(got) != 3 {
		t.Errorf("histogram observations = %d, want 3", len(got))
	}
	if got := c.GetSummary(DetectorCallDuration.Name); len(got) != 1 {
		t.Errorf("summary observations = %d, want 1", len(got))
	}
}

func TestInMemoryReset(t *testing.T) {
	c := NewInMemoryCollector()
	c.CounterInc(AnalysesTotal.Name, "provider", "github")
	c.GaugeSet(RetryQueueSize.Name, 4)

	c.Reset()

	if c.GetCounter(AnalysesTotal.Name, "provider", "github") != 0 {
		t.Error("counter survived Reset")
	}
	if c.GetGauge(RetryQueueSize.Name) != 0 {
		t.Error("gauge survived Reset")
	}
}

func TestNopCollectorDiscards(t *testing.T) {
	var c NopCollector

	c.CounterInc("x", "a", "b")
	c.CounterAdd("x", 5)
	c.GaugeSet("x", 42)
	c.GaugeInc("x")
	c.GaugeDec("x")
	c.HistogramObserve("x", 1.5)
	c.SummaryObserve("x", 1.5)
	c.Reset()

	if c.Handler() == nil {
		t.Error("Handler() = nil")
	}
}

func TestTimerRecordsHistogram(t *testing.T) {
	c := NewInMemoryCollector()
	timer := NewTimer(c, AnalysisDuration.Name, "provider", "github")

	time.Sleep(10 * time.Millisecond)

	if d := timer.ObserveDuration(); d < 10*time.Millisecond {
		t.Errorf("duration = %v, want >= 10ms", d)
	}
	if obs := c.GetHistogram(AnalysisDuration.Name, "provider", "github"); len(obs) != 1 {
		t.Errorf("histogram observations = %d, want 1", len(obs))
	}
}

func TestDefaultCollectorSwap(t *testing.T) {
	custom := NewInMemoryCollector()
	SetDefaultCollector(custom)
	if GetDefaultCollector() != custom {
		t.Error("GetDefaultCollector did not return the installed collector")
	}

	SetDefaultCollector(nil)
	if _, ok := GetDefaultCollector().(*NopCollector); !ok {
		t.Error("nil install should fall back to NopCollector")
	}
}

func TestStandardDefinitionsComplete(t *testing.T) {
	for _, def := range []MetricDefinition{
		AnalysesTotal, AnalysisDuration, RiskScore, SensitiveFilesTotal,
		DetectorCallsTotal, DetectorCallDuration, DetectorParseFallbacks,
		DetectorFindingsTotal, NotificationsTotal, NotificationSendDuration,
		RetryQueueSize, RetryDeliveries,
	} {
		if def.Name == "" || def.Type == "" || def.Help == "" {
			t.Errorf("incomplete definition: %+v", def)
		}
	}
}

func TestLabelsToValues(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   []string
	}{
		{"empty", nil, nil},
		{"one pair", []string{"provider", "github"}, []string{"github"}},
		{"two pairs", []string{"channel", "ops", "action", "sent"}, []string{"ops", "sent"}},
		{"dangling key dropped", []string{"channel", "ops", "action"}, []string{"ops"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := labelsToValues(tt.labels)
			if len(got) != len(tt.want) {
				t.Fatalf("labelsToValues(%v) = %v, want %v", tt.labels, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("value[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
