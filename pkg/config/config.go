// Package config loads and merges agent configuration from YAML files,
// environment variables, and built-in defaults. Absence of any tunable is
// never fatal; every component falls back to its default.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/authwatchio/authwatch/pkg/detector"
	"github.com/authwatchio/authwatch/pkg/notify"
	"github.com/authwatchio/authwatch/pkg/scoring"
	"github.com/authwatchio/authwatch/pkg/sensitivity"
)

// Config is the full agent configuration.
type Config struct {
	// Agent settings
	Agent struct {
		ID       string        `yaml:"id"`
		Timeout  time.Duration `yaml:"timeout"`
		MaxFiles int           `yaml:"max_files"`
		Verbose  bool          `yaml:"verbose"`
	} `yaml:"agent"`

	// Detector settings
	Detector DetectorConfig `yaml:"detector"`

	// Scoring tables and keyword lists
	Scoring scoring.Config `yaml:"scoring"`

	// Sensitivity rules appended after the built-ins
	Sensitivity SensitivityConfig `yaml:"sensitivity"`

	// Notification gate and channels
	Notify NotifyConfig `yaml:"notify"`

	// Notification gateway (gRPC) connection
	Gateway GatewayConfig `yaml:"gateway"`

	// Delivery retry queue
	Retry RetryConfig `yaml:"retry"`

	// Audit logging and response archive
	Audit AuditConfig `yaml:"audit"`

	// Metrics exposition
	Metrics MetricsConfig `yaml:"metrics"`
}

// DetectorConfig configures the external detector client and parser.
type DetectorConfig struct {
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	Temperature       float32       `yaml:"temperature"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`

	// Fallback is the malformed-response policy: "neutral" or "keyword".
	Fallback string `yaml:"fallback"`

	// Keywords merge with the built-in keyword list (union, unique).
	Keywords []string `yaml:"keywords"`

	// PromptTemplate overrides the built-in template when non-empty.
	PromptTemplate string `yaml:"prompt_template"`
}

// SensitivityRule is one configured sensitivity pattern.
type SensitivityRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// SensitivityConfig holds extra sensitivity rules. They are appended
// after the built-in rules, never replacing them.
type SensitivityConfig struct {
	ExtraRules []SensitivityRule `yaml:"extra_rules"`
}

// ChannelConfig configures one notification channel.
type ChannelConfig struct {
	Name string `yaml:"name"`

	// Type selects the transport: "webhook", "comment" or "gateway".
	Type string `yaml:"type"`

	// URL is the webhook endpoint for webhook channels.
	URL string `yaml:"url"`

	// Threshold overrides the default threshold when set.
	Threshold *int `yaml:"threshold"`

	// Policy overrides the global signal policy when set (signal mode).
	Policy *scoring.SignalPolicy `yaml:"policy"`

	// RequestsPerMinute rate-limits webhook deliveries (0 = unlimited).
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// NotifyConfig configures the gate and its channels.
type NotifyConfig struct {
	DefaultThreshold int                  `yaml:"default_threshold"`
	SignalMode       bool                 `yaml:"signal_mode"`
	Policy           scoring.SignalPolicy `yaml:"policy"`
	Channels         []ChannelConfig      `yaml:"channels"`
}

// GatewayConfig configures the gRPC notification gateway connection.
type GatewayConfig struct {
	Address string `yaml:"address"`
	APIKey  string `yaml:"api_key"`

	// UseTLS is a pointer so an explicit `use_tls: false` survives the
	// merge against the TLS-on default.
	UseTLS             *bool         `yaml:"use_tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
}

// TLSEnabled reports whether the gateway connection uses TLS. On unless
// explicitly disabled.
func (g *GatewayConfig) TLSEnabled() bool {
	return g.UseTLS == nil || *g.UseTLS
}

// RetryConfig configures the delivery retry queue.
type RetryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// AuditConfig configures audit logging and the response archive.
type AuditConfig struct {
	LogFile          string `yaml:"log_file"`
	ArchiveResponses bool   `yaml:"archive_responses"`
	ArchiveDir       string `yaml:"archive_dir"`
}

// MetricsConfig configures metrics exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Agent.Timeout = 2 * time.Minute
	cfg.Agent.MaxFiles = 200
	cfg.Detector.Model = detector.DefaultModel
	cfg.Detector.Timeout = 60 * time.Second
	cfg.Detector.Fallback = string(detector.FallbackNeutral)
	cfg.Notify.DefaultThreshold = notify.DefaultThreshold
	cfg.Gateway.Address = "localhost:9090"
	cfg.Gateway.Timeout = 30 * time.Second
	cfg.Retry.MaxAttempts = 10
	cfg.Retry.RetryInterval = 5 * time.Minute
	cfg.Metrics.Listen = ":9464"
	return cfg
}

// Load reads one YAML file over the defaults and applies env fallbacks.
// Environment variables referenced as ${VAR} in the file are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		cfg = Merge(cfg, loaded)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadWithOverride reads a base file and an override file, merging the
// override on top: scalars override, keyword lists union uniquely.
func LoadWithOverride(basePath, overridePath string) (*Config, error) {
	cfg, err := Load(basePath)
	if err != nil {
		return nil, err
	}
	if overridePath != "" {
		override, err := parseFile(overridePath)
		if err != nil {
			return nil, err
		}
		cfg = Merge(cfg, override)
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables in config
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Merge layers override on top of base. Non-zero override scalars win;
// keyword lists union uniquely; channels and sensitivity rules merge by
// name with the override replacing a same-named entry.
func Merge(base, override *Config) *Config {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}
	out := *base

	if override.Agent.ID != "" {
		out.Agent.ID = override.Agent.ID
	}
	if override.Agent.Timeout != 0 {
		out.Agent.Timeout = override.Agent.Timeout
	}
	if override.Agent.MaxFiles != 0 {
		out.Agent.MaxFiles = override.Agent.MaxFiles
	}
	if override.Agent.Verbose {
		out.Agent.Verbose = true
	}

	if override.Detector.APIKey != "" {
		out.Detector.APIKey = override.Detector.APIKey
	}
	if override.Detector.Model != "" {
		out.Detector.Model = override.Detector.Model
	}
	if override.Detector.BaseURL != "" {
		out.Detector.BaseURL = override.Detector.BaseURL
	}
	if override.Detector.Temperature != 0 {
		out.Detector.Temperature = override.Detector.Temperature
	}
	if override.Detector.RequestsPerMinute != 0 {
		out.Detector.RequestsPerMinute = override.Detector.RequestsPerMinute
	}
	if override.Detector.Timeout != 0 {
		out.Detector.Timeout = override.Detector.Timeout
	}
	if override.Detector.Fallback != "" {
		out.Detector.Fallback = override.Detector.Fallback
	}
	if override.Detector.PromptTemplate != "" {
		out.Detector.PromptTemplate = override.Detector.PromptTemplate
	}
	out.Detector.Keywords = unionUnique(base.Detector.Keywords, override.Detector.Keywords)

	out.Scoring = mergeScoring(base.Scoring, override.Scoring)

	out.Sensitivity.ExtraRules = mergeRules(base.Sensitivity.ExtraRules, override.Sensitivity.ExtraRules)

	if override.Notify.DefaultThreshold != 0 {
		out.Notify.DefaultThreshold = override.Notify.DefaultThreshold
	}
	if override.Notify.SignalMode {
		out.Notify.SignalMode = true
	}
	if override.Notify.Policy != (scoring.SignalPolicy{}) {
		out.Notify.Policy = override.Notify.Policy
	}
	out.Notify.Channels = mergeChannels(base.Notify.Channels, override.Notify.Channels)

	if override.Gateway.Address != "" {
		out.Gateway.Address = override.Gateway.Address
	}
	if override.Gateway.APIKey != "" {
		out.Gateway.APIKey = override.Gateway.APIKey
	}
	if override.Gateway.UseTLS != nil {
		out.Gateway.UseTLS = override.Gateway.UseTLS
	}
	if override.Gateway.InsecureSkipVerify {
		out.Gateway.InsecureSkipVerify = true
	}
	if override.Gateway.Timeout != 0 {
		out.Gateway.Timeout = override.Gateway.Timeout
	}

	if override.Retry.Enabled {
		out.Retry.Enabled = true
	}
	if override.Retry.Dir != "" {
		out.Retry.Dir = override.Retry.Dir
	}
	if override.Retry.MaxAttempts != 0 {
		out.Retry.MaxAttempts = override.Retry.MaxAttempts
	}
	if override.Retry.RetryInterval != 0 {
		out.Retry.RetryInterval = override.Retry.RetryInterval
	}

	if override.Audit.LogFile != "" {
		out.Audit.LogFile = override.Audit.LogFile
	}
	if override.Audit.ArchiveResponses {
		out.Audit.ArchiveResponses = true
	}
	if override.Audit.ArchiveDir != "" {
		out.Audit.ArchiveDir = override.Audit.ArchiveDir
	}

	if override.Metrics.Enabled {
		out.Metrics.Enabled = true
	}
	if override.Metrics.Listen != "" {
		out.Metrics.Listen = override.Metrics.Listen
	}

	return &out
}

func mergeScoring(base, override scoring.Config) scoring.Config {
	out := base
	if len(override.RiskScores) > 0 {
		out.RiskScores = override.RiskScores
	}
	if override.Modifiers != (scoring.ModifierPoints{}) {
		out.Modifiers = override.Modifiers
	}
	if len(override.Labels) > 0 {
		out.Labels = override.Labels
	}
	out.IdentityProviderKeywords = unionUnique(base.IdentityProviderKeywords, override.IdentityProviderKeywords)
	out.CredentialKeywords = unionUnique(base.CredentialKeywords, override.CredentialKeywords)
	return out
}

func mergeRules(base, override []SensitivityRule) []SensitivityRule {
	out := make([]SensitivityRule, len(base))
	copy(out, base)
	for _, r := range override {
		replaced := false
		for i, existing := range out {
			if existing.Name == r.Name {
				out[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, r)
		}
	}
	return out
}

func mergeChannels(base, override []ChannelConfig) []ChannelConfig {
	out := make([]ChannelConfig, len(base))
	copy(out, base)
	for _, ch := range override {
		replaced := false
		for i, existing := range out {
			if existing.Name == ch.Name {
				out[i] = ch
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, ch)
		}
	}
	return out
}

// unionUnique merges two string lists, preserving first-seen order and
// dropping duplicates.
func unionUnique(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range b {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// applyEnv fills credentials and identifiers from the environment when
// the file left them empty.
func (c *Config) applyEnv() {
	if c.Agent.ID == "" {
		c.Agent.ID = os.Getenv("AUTHWATCH_AGENT_ID")
	}
	if c.Detector.APIKey == "" {
		c.Detector.APIKey = os.Getenv("AUTHWATCH_OPENAI_API_KEY")
	}
	if c.Detector.APIKey == "" {
		c.Detector.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Gateway.APIKey == "" {
		c.Gateway.APIKey = os.Getenv("AUTHWATCH_GATEWAY_API_KEY")
	}
}

// GateConfig maps the notify section onto the gate's configuration.
func (c *Config) GateConfig() *notify.GateConfig {
	channels := make(map[string]notify.ChannelConfig, len(c.Notify.Channels))
	for _, ch := range c.Notify.Channels {
		channels[ch.Name] = notify.ChannelConfig{
			Threshold:  ch.Threshold,
			Policy:     ch.Policy,
			WebhookURL: ch.URL,
		}
	}
	return &notify.GateConfig{
		DefaultThreshold: c.Notify.DefaultThreshold,
		Policy:           c.Notify.Policy,
		Channels:         channels,
	}
}

// OpenAIConfig maps the detector section onto the OpenAI client config.
func (c *Config) OpenAIConfig() *detector.OpenAIConfig {
	return &detector.OpenAIConfig{
		APIKey:            c.Detector.APIKey,
		Model:             c.Detector.Model,
		BaseURL:           c.Detector.BaseURL,
		Temperature:       c.Detector.Temperature,
		RequestsPerMinute: c.Detector.RequestsPerMinute,
		Timeout:           c.Detector.Timeout,
	}
}

// FallbackPolicy resolves the configured malformed-response policy.
func (c *Config) FallbackPolicy() detector.FallbackPolicy {
	if c.Detector.Fallback == string(detector.FallbackKeyword) {
		return detector.FallbackKeyword
	}
	return detector.FallbackNeutral
}

// SensitivityRules compiles the configured extra rules. An invalid
// pattern is an error; built-in rules are never affected.
func (c *Config) SensitivityRules() ([]sensitivity.Rule, error) {
	var rules []sensitivity.Rule
	for _, r := range c.Sensitivity.ExtraRules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sensitivity rule %q: %w", r.Name, err)
		}
		rules = append(rules, sensitivity.Rule{Name: r.Name, Pattern: re})
	}
	return rules, nil
}
