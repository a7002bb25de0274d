// Package sensitivity classifies changed file paths as
// authentication-sensitive via an ordered list of pattern rules.
//
// The rule set is deliberately blunt: any path containing "auth" matches,
// which means a file named author.rb is flagged too. That imprecision is a
// documented compatibility decision, not a bug; adding a rule is always a
// pure addition and never a behavioral change to existing rules.
package sensitivity

import "regexp"

// Rule is a single named sensitivity pattern. Rules are evaluated in order
// and any match classifies the path as sensitive.
type Rule struct {
	// Name identifies the rule in match reports and configuration.
	Name string

	// Pattern is the compiled, case-insensitive path pattern.
	Pattern *regexp.Regexp
}

// Classifier evaluates file paths against an ordered rule list.
// It is pure and safe for concurrent use after construction.
type Classifier struct {
	rules []Rule
}

// DefaultRules returns the built-in rule list, ordered from most specific
// to most general.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "auth_controller",
			Pattern: regexp.MustCompile(`(?i)(sessions?|registrations?|passwords?|logins?|users?|accounts?|two_factor|mfa)_controller`),
		},
		{
			Name:    "auth_route",
			Pattern: regexp.MustCompile(`(?i)routes?.*(auth|login|session|sign_?in|sign_?up|password)`),
		},
		{
			Name:    "middleware",
			Pattern: regexp.MustCompile(`(?i)middlewares?[/_].*(auth|session|token|identity)|(auth|session|token|identity).*middlewares?`),
		},
		{
			Name:    "identity_model",
			Pattern: regexp.MustCompile(`(?i)models?/(users?|accounts?|credentials?|tokens?|sessions?|identit(y|ies)|roles?|permissions?)`),
		},
		{
			Name:    "auth_path",
			Pattern: regexp.MustCompile(`(?i)(auth|security|identity)`),
		},
		{
			Name:    "auth_library_config",
			Pattern: regexp.MustCompile(`(?i)(config|initializers?|settings?).*(devise|omniauth|oauth|saml|oidc|jwt|passport|clearance|sorcery|warden|cancancan|pundit|doorkeeper)|(devise|omniauth|oauth|saml|oidc|jwt|passport|clearance|sorcery|warden|doorkeeper)`),
		},
	}
}

// NewClassifier creates a classifier from the given rules.
// Pass DefaultRules() for the built-in behavior; configuration-supplied
// rules are appended after the built-ins, never replacing them.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// NewDefaultClassifier creates a classifier with the built-in rules plus
// any extra rules appended.
func NewDefaultClassifier(extra ...Rule) *Classifier {
	return &Classifier{rules: append(DefaultRules(), extra...)}
}

// IsSensitive reports whether the file path matches any rule.
func (c *Classifier) IsSensitive(filename string) bool {
	_, ok := c.Match(filename)
	return ok
}

// Match returns the first rule that matches the file path.
func (c *Classifier) Match(filename string) (Rule, bool) {
	if filename == "" {
		return Rule{}, false
	}
	for _, r := range c.rules {
		if r.Pattern.MatchString(filename) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns the classifier's rule list in evaluation order.
func (c *Classifier) Rules() []Rule {
	return c.rules
}
