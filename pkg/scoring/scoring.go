// Package scoring turns a detection result and the changed-file records
// into a bounded 0-100 risk score with an itemized, auditable breakdown.
//
// Scoring is pure: no I/O, no shared state, deterministic for a given
// configuration. Absence of a positive detection signal short-circuits
// everything to the zero result regardless of the file changes.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/authwatchio/authwatch/pkg/detector"
	"github.com/authwatchio/authwatch/pkg/diffparse"
	"github.com/authwatchio/authwatch/pkg/shared/risk"
)

// Label buckets a numeric score for presentation and gating.
type Label string

const (
	LabelNone     Label = "NONE"
	LabelLow      Label = "LOW"
	LabelMedium   Label = "MEDIUM"
	LabelHigh     Label = "HIGH"
	LabelCritical Label = "CRITICAL"

	// LabelUnknown is returned for a score no configured range covers.
	// A correctly configured table covers 0-100 with no gaps, so this is
	// a test-visible degenerate case that should never occur in production.
	LabelUnknown Label = "UNKNOWN"
)

// Modifier is one additive point adjustment with its audit trail entry.
type Modifier struct {
	// Name is the stable identifier of the modifier.
	Name string `json:"name"`

	// Points is the applied adjustment.
	Points int `json:"points"`

	// Reason is the human-readable explanation.
	Reason string `json:"reason"`
}

// Modifier names, stable across configuration changes.
const (
	ModifierMultipleAuthFiles      = "multiple_auth_files"
	ModifierIdentityProviderChange = "identity_provider_change"
	ModifierCredentialHandling     = "credential_handling"
)

// Breakdown itemizes how a score was computed.
type Breakdown struct {
	BaseScore     int        `json:"base_score"`
	HighestRisk   risk.Level `json:"highest_risk"`
	Modifiers     []Modifier `json:"modifiers"`
	ModifierTotal int        `json:"modifier_total"`
}

// Result is the scored outcome of one analysis run.
type Result struct {
	Score     int       `json:"score"`
	Label     Label     `json:"label"`
	Color     string    `json:"color"`
	Breakdown Breakdown `json:"breakdown"`
}

// LabelRange maps an inclusive score range to a label.
type LabelRange struct {
	Min   int    `yaml:"min" json:"min"`
	Max   int    `yaml:"max" json:"max"`
	Label Label  `yaml:"label" json:"label"`
	Color string `yaml:"color" json:"color"`
}

// ModifierPoints configures the point value of each modifier.
type ModifierPoints struct {
	MultipleAuthFiles      int `yaml:"multiple_auth_files" json:"multiple_auth_files"`
	IdentityProviderChange int `yaml:"identity_provider_change" json:"identity_provider_change"`
	CredentialHandling     int `yaml:"credential_handling" json:"credential_handling"`
}

// Config holds every scoring tunable. Zero values fall back to defaults;
// configuration absence is never fatal.
type Config struct {
	// RiskScores maps a risk level to its base score contribution.
	RiskScores map[risk.Level]int `yaml:"risk_scores" json:"risk_scores"`

	// Modifiers holds the per-modifier point values.
	Modifiers ModifierPoints `yaml:"modifiers" json:"modifiers"`

	// Labels are the inclusive score ranges, expected to cover 0-100.
	Labels []LabelRange `yaml:"labels" json:"labels"`

	// IdentityProviderKeywords trigger the identity_provider_change
	// modifier when present in the detection text.
	IdentityProviderKeywords []string `yaml:"identity_provider_keywords" json:"identity_provider_keywords"`

	// CredentialKeywords trigger the credential_handling modifier.
	CredentialKeywords []string `yaml:"credential_keywords" json:"credential_keywords"`
}

// DefaultConfig returns the built-in scoring configuration.
func DefaultConfig() *Config {
	return &Config{
		RiskScores: map[risk.Level]int{
			risk.None:     0,
			risk.Low:      20,
			risk.Medium:   40,
			risk.High:     65,
			risk.Critical: 85,
		},
		Modifiers: ModifierPoints{
			MultipleAuthFiles:      10,
			IdentityProviderChange: 15,
			CredentialHandling:     20,
		},
		Labels: []LabelRange{
			{Min: 0, Max: 24, Label: LabelLow, Color: "#2eb67d"},
			{Min: 25, Max: 49, Label: LabelMedium, Color: "#ecb22e"},
			{Min: 50, Max: 74, Label: LabelHigh, Color: "#e01563"},
			{Min: 75, Max: 100, Label: LabelCritical, Color: "#8b0000"},
		},
		IdentityProviderKeywords: []string{
			"okta", "auth0", "cognito", "azure_ad", "active_directory",
			"keycloak", "ping_identity", "onelogin", "duo", "firebase_auth",
			"ldap", "saml", "oidc",
		},
		CredentialKeywords: []string{
			"password", "secret", "credential", "api_key", "private_key",
			"access_token", "refresh_token", "secret_key", "passwd",
		},
	}
}

// Scorer computes risk scores from detection results and file changes.
type Scorer struct {
	cfg *Config
}

// NewScorer creates a scorer. A nil config uses DefaultConfig; partially
// filled configs have their zero-valued fields defaulted.
func NewScorer(cfg *Config) *Scorer {
	def := DefaultConfig()
	if cfg == nil {
		return &Scorer{cfg: def}
	}
	merged := *cfg
	if merged.RiskScores == nil {
		merged.RiskScores = def.RiskScores
	}
	if merged.Modifiers == (ModifierPoints{}) {
		merged.Modifiers = def.Modifiers
	}
	if len(merged.Labels) == 0 {
		merged.Labels = def.Labels
	}
	if len(merged.IdentityProviderKeywords) == 0 {
		merged.IdentityProviderKeywords = def.IdentityProviderKeywords
	}
	if len(merged.CredentialKeywords) == 0 {
		merged.CredentialKeywords = def.CredentialKeywords
	}
	return &Scorer{cfg: &merged}
}

// Score computes the bounded risk score for one analysis run.
func (s *Scorer) Score(det detector.DetectionResult, changes []diffparse.FileChange) Result {
	if !det.AuthChangesDetected {
		return Result{
			Score: 0,
			Label: LabelNone,
			Breakdown: Breakdown{
				HighestRisk: risk.None,
			},
		}
	}

	base := s.baseScore(det)
	modifiers := s.applyModifiers(det, changes)

	total := 0
	for _, m := range modifiers {
		total += m.Points
	}

	score := base + total
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	label, color := s.labelFor(score)

	return Result{
		Score: score,
		Label: label,
		Color: color,
		Breakdown: Breakdown{
			BaseScore:     base,
			HighestRisk:   det.HighestRisk,
			Modifiers:     modifiers,
			ModifierTotal: total,
		},
	}
}

// baseScore is max(table[highest_risk], mean of per-finding scores): a
// single severe finding buried among trivial ones is not diluted, while a
// body of findings collectively worse than the reported highest still
// counts.
func (s *Scorer) baseScore(det detector.DetectionResult) int {
	highest := s.cfg.RiskScores[det.HighestRisk]

	if len(det.Findings) == 0 {
		return highest
	}

	sum := 0
	for _, f := range det.Findings {
		sum += s.cfg.RiskScores[f.RiskLevel]
	}
	mean := int(math.Round(float64(sum) / float64(len(det.Findings))))

	if mean > highest {
		return mean
	}
	return highest
}

func (s *Scorer) applyModifiers(det detector.DetectionResult, changes []diffparse.FileChange) []Modifier {
	var modifiers []Modifier

	if n := diffparse.CountAuthSensitive(changes); n >= 2 {
		modifiers = append(modifiers, Modifier{
			Name:   ModifierMultipleAuthFiles,
			Points: s.cfg.Modifiers.MultipleAuthFiles,
			Reason: fmt.Sprintf("%d auth-sensitive files changed", n),
		})
	}

	text := detectionText(det)

	if kw, ok := matchAny(text, s.cfg.IdentityProviderKeywords); ok {
		modifiers = append(modifiers, Modifier{
			Name:   ModifierIdentityProviderChange,
			Points: s.cfg.Modifiers.IdentityProviderChange,
			Reason: fmt.Sprintf("identity provider referenced: %s", kw),
		})
	}

	if kw, ok := matchAny(text, s.cfg.CredentialKeywords); ok {
		modifiers = append(modifiers, Modifier{
			Name:   ModifierCredentialHandling,
			Points: s.cfg.Modifiers.CredentialHandling,
			Reason: fmt.Sprintf("credential handling referenced: %s", kw),
		})
	}

	return modifiers
}

// detectionText is the lower-cased concatenation of the summary and each
// finding's category, description and security relevance. The keyword
// modifiers scan this text, not the diff itself.
func detectionText(det detector.DetectionResult) string {
	var b strings.Builder
	b.WriteString(det.Summary)
	for _, f := range det.Findings {
		b.WriteString(" ")
		b.WriteString(f.Category)
		b.WriteString(" ")
		b.WriteString(f.Description)
		b.WriteString(" ")
		b.WriteString(f.SecurityRelevance)
	}
	return strings.ToLower(b.String())
}

func matchAny(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func (s *Scorer) labelFor(score int) (Label, string) {
	for _, r := range s.cfg.Labels {
		if score >= r.Min && score <= r.Max {
			return r.Label, r.Color
		}
	}
	return LabelUnknown, ""
}
