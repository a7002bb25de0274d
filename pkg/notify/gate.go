// Package notify resolves per-channel notification decisions for a scored
// analysis run and delivers the resulting payloads.
//
// The gate itself is synchronous and side-effect-free: it computes every
// channel decision once, and the dispatcher hands the "sent" ones to
// however many concurrent delivery transports the deployment uses.
// Channels are evaluated independently; one channel's threshold never
// affects another's decision.
package notify

import (
	"fmt"

	"github.com/authwatchio/authwatch/pkg/scoring"
)

// Action is the recorded outcome for one channel.
type Action string

const (
	// ActionSent means the gate decided to notify; delivery success or
	// failure is recorded after the fact by the dispatcher.
	ActionSent Action = "sent"

	// ActionSkipped means the threshold or policy suppressed delivery.
	ActionSkipped Action = "skipped"

	// ActionFailed means delivery was attempted and failed.
	ActionFailed Action = "failed"
)

// ChannelDecision is the per-channel outcome of one run.
type ChannelDecision struct {
	Channel string `json:"channel"`
	Action  Action `json:"action"`

	// Reason is populated for skipped and failed decisions.
	Reason string `json:"reason,omitempty"`
}

// ChannelConfig configures one notification channel. Only channels
// present in the gate configuration are evaluated at all.
type ChannelConfig struct {
	// Threshold overrides the global default when set.
	Threshold *int `yaml:"threshold" json:"threshold"`

	// Policy overrides the global signal policy when set (signal mode).
	Policy *scoring.SignalPolicy `yaml:"policy" json:"policy"`

	// WebhookURL is the delivery endpoint for webhook channels.
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
}

// GateConfig holds the gate's tunables.
type GateConfig struct {
	// DefaultThreshold applies to channels without their own threshold.
	// Zero falls back to DefaultThreshold (50).
	DefaultThreshold int `yaml:"default_threshold" json:"default_threshold"`

	// Policy is the global signal-mode policy.
	Policy scoring.SignalPolicy `yaml:"policy" json:"policy"`

	// Channels maps channel name to its configuration.
	Channels map[string]ChannelConfig `yaml:"channels" json:"channels"`
}

// DefaultThreshold is the built-in global threshold.
const DefaultThreshold = 50

// Gate decides, per configured channel, whether a scored run notifies.
type Gate struct {
	cfg *GateConfig
}

// NewGate creates a gate. A nil config yields a gate with no channels,
// which decides nothing.
func NewGate(cfg *GateConfig) *Gate {
	if cfg == nil {
		cfg = &GateConfig{}
	}
	if cfg.DefaultThreshold == 0 {
		cfg.DefaultThreshold = DefaultThreshold
	}
	return &Gate{cfg: cfg}
}

// Decide resolves the numeric-score mode: each configured channel
// compares the score against its effective threshold.
func (g *Gate) Decide(result scoring.Result) map[string]ChannelDecision {
	decisions := make(map[string]ChannelDecision, len(g.cfg.Channels))
	for name, ch := range g.cfg.Channels {
		threshold := g.cfg.DefaultThreshold
		if ch.Threshold != nil {
			threshold = *ch.Threshold
		}
		if result.Score >= threshold {
			decisions[name] = ChannelDecision{Channel: name, Action: ActionSent}
		} else {
			decisions[name] = ChannelDecision{
				Channel: name,
				Action:  ActionSkipped,
				Reason:  fmt.Sprintf("score %d below threshold %d", result.Score, threshold),
			}
		}
	}
	return decisions
}

// DecideSignals resolves the boolean-signal mode through the same
// per-channel interface; a channel-specific policy overrides the global
// one.
func (g *Gate) DecideSignals(signals scoring.Signals) map[string]ChannelDecision {
	decisions := make(map[string]ChannelDecision, len(g.cfg.Channels))
	for name, ch := range g.cfg.Channels {
		policy := g.cfg.Policy
		if ch.Policy != nil {
			policy = *ch.Policy
		}
		if policy.ShouldNotify(signals) {
			decisions[name] = ChannelDecision{Channel: name, Action: ActionSent}
		} else {
			decisions[name] = ChannelDecision{
				Channel: name,
				Action:  ActionSkipped,
				Reason: fmt.Sprintf("signals detector=%v keyword=%v suppressed by policy",
					signals.DetectorFlagged, signals.KeywordMatched),
			}
		}
	}
	return decisions
}

// Channels returns the configured channel map.
func (g *Gate) Channels() map[string]ChannelConfig {
	return g.cfg.Channels
}
