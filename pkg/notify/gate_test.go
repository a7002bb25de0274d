package notify

import (
	"testing"

	"github.com/authwatchio/authwatch/pkg/scoring"
)

func intPtr(v int) *int { return &v }

func TestGateDecidePerChannelThresholds(t *testing.T) {
	gate := NewGate(&GateConfig{
		DefaultThreshold: 50,
		Channels: map[string]ChannelConfig{
			"chat_a":   {Threshold: intPtr(30)},
			"chat_b":   {Threshold: intPtr(50)},
			"security": {Threshold: intPtr(70)},
		},
	})

	decisions := gate.Decide(scoring.Result{Score: 55, Label: scoring.LabelHigh})

	want := map[string]Action{
		"chat_a":   ActionSent,
		"chat_b":   ActionSent,
		"security": ActionSkipped,
	}
	for channel, action := range want {
		got, ok := decisions[channel]
		if !ok {
			t.Fatalf("no decision for channel %s", channel)
		}
		if got.Action != action {
			t.Errorf("channel %s: got %s, want %s", channel, got.Action, action)
		}
	}
	if decisions["security"].Reason == "" {
		t.Error("skipped decision must carry a reason")
	}
}

func TestGateDefaultThreshold(t *testing.T) {
	gate := NewGate(&GateConfig{
		Channels: map[string]ChannelConfig{
			"chat": {},
		},
	})

	if d := gate.Decide(scoring.Result{Score: 49}); d["chat"].Action != ActionSkipped {
		t.Errorf("score 49 with default threshold: got %s, want skipped", d["chat"].Action)
	}
	if d := gate.Decide(scoring.Result{Score: 50}); d["chat"].Action != ActionSent {
		t.Errorf("score 50 with default threshold: got %s, want sent", d["chat"].Action)
	}
}

func TestGateThresholdIsInclusive(t *testing.T) {
	gate := NewGate(&GateConfig{
		Channels: map[string]ChannelConfig{
			"chat": {Threshold: intPtr(75)},
		},
	})

	if d := gate.Decide(scoring.Result{Score: 75}); d["chat"].Action != ActionSent {
		t.Error("score equal to threshold must notify")
	}
	if d := gate.Decide(scoring.Result{Score: 74}); d["chat"].Action != ActionSkipped {
		t.Error("score one below threshold must not notify")
	}
}

func TestGateChannelsAreIndependent(t *testing.T) {
	gate := NewGate(&GateConfig{
		Channels: map[string]ChannelConfig{
			"low":  {Threshold: intPtr(10)},
			"high": {Threshold: intPtr(90)},
		},
	})

	decisions := gate.Decide(scoring.Result{Score: 40})
	if decisions["low"].Action != ActionSent {
		t.Error("low-threshold channel must notify")
	}
	if decisions["high"].Action != ActionSkipped {
		t.Error("high-threshold channel must stay quiet")
	}
}

func TestGateNilConfig(t *testing.T) {
	gate := NewGate(nil)
	if d := gate.Decide(scoring.Result{Score: 100}); len(d) != 0 {
		t.Errorf("no channels configured, got %d decisions", len(d))
	}
}

func TestGateDecideSignals(t *testing.T) {
	gate := NewGate(&GateConfig{
		Policy: scoring.SignalPolicy{},
		Channels: map[string]ChannelConfig{
			"strict": {},
			"wide":   {Policy: &scoring.SignalPolicy{NotifyOnKeywordOnly: true}},
		},
	})

	decisions := gate.DecideSignals(scoring.Signals{DetectorFlagged: false, KeywordMatched: true})
	if decisions["strict"].Action != ActionSkipped {
		t.Error("global strict policy must suppress a keyword-only signal")
	}
	if decisions["wide"].Action != ActionSent {
		t.Error("channel policy override must widen to keyword-only")
	}
}
