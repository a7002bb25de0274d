package sensitivity

import (
	"regexp"
	"testing"
)

func TestIsSensitive(t *testing.T) {
	c := NewDefaultClassifier()

	tests := []struct {
		filename string
		want     bool
	}{
		// Controllers and routes
		{"app/controllers/sessions_controller.rb", true},
		{"app/controllers/registrations_controller.rb", true},
		{"app/controllers/users_controller.rb", true},
		{"config/routes/auth.rb", true},

		// Middleware
		{"app/middleware/auth_middleware.go", true},
		{"middleware/session_check.py", true},

		// Models
		{"app/models/user.rb", true},
		{"app/models/credential.rb", true},
		{"src/models/sessions.ts", true},

		// Plain auth paths
		{"lib/auth/oauth_handler.rb", true},
		{"internal/security/hasher.go", true},
		{"services/identity/provider.py", true},

		// Library configuration
		{"config/initializers/devise.rb", true},
		{"config/initializers/omniauth.rb", true},
		{"config/saml_settings.yml", true},

		// Known false positive, kept for compatibility: "author" contains "auth"
		{"app/models/author.rb", true},

		// Control set
		{"app/controllers/products_controller.rb", false},
		{"README.md", false},
		{"lib/tasks/cleanup.rake", false},
		{"app/views/orders/index.html.erb", false},
		{"internal/billing/invoice.go", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := c.IsSensitive(tt.filename); got != tt.want {
				t.Errorf("IsSensitive(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestMatchReportsFirstRule(t *testing.T) {
	c := NewDefaultClassifier()

	rule, ok := c.Match("app/controllers/sessions_controller.rb")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Name != "auth_controller" {
		t.Errorf("rule = %q, want auth_controller", rule.Name)
	}

	rule, ok = c.Match("lib/auth/oauth_handler.rb")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Name != "auth_path" {
		t.Errorf("rule = %q, want auth_path", rule.Name)
	}
}

func TestExtraRulesAreAppended(t *testing.T) {
	extra := Rule{
		Name:    "custom_sso_gateway",
		Pattern: regexp.MustCompile(`(?i)sso_gateway`),
	}
	c := NewDefaultClassifier(extra)

	if !c.IsSensitive("lib/sso_gateway/client.go") {
		t.Error("extra rule should match")
	}
	// Built-ins still apply unchanged.
	if !c.IsSensitive("app/controllers/sessions_controller.rb") {
		t.Error("built-in rules must survive extra rules")
	}
	if got := len(c.Rules()); got != len(DefaultRules())+1 {
		t.Errorf("rule count = %d, want %d", got, len(DefaultRules())+1)
	}
}
