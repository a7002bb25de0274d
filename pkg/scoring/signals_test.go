package scoring

import "testing"

func TestSignalPolicyTable(t *testing.T) {
	tests := []struct {
		name    string
		policy  SignalPolicy
		signals Signals
		want    bool
	}{
		{"both true, strict policy", SignalPolicy{}, Signals{true, true}, true},
		{"both false, strict policy", SignalPolicy{}, Signals{false, false}, false},
		{"detector only, strict policy", SignalPolicy{}, Signals{true, false}, false},
		{"keyword only, strict policy", SignalPolicy{}, Signals{false, true}, false},
		{"detector only, widened", SignalPolicy{NotifyOnDetectorOnly: true}, Signals{true, false}, true},
		{"keyword only, widened", SignalPolicy{NotifyOnKeywordOnly: true}, Signals{false, true}, true},
		{"keyword only, wrong widening", SignalPolicy{NotifyOnDetectorOnly: true}, Signals{false, true}, false},
		{"both false, fully widened", SignalPolicy{NotifyOnDetectorOnly: true, NotifyOnKeywordOnly: true}, Signals{false, false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ShouldNotify(tt.signals); got != tt.want {
				t.Errorf("ShouldNotify(%+v) = %v, want %v", tt.signals, got, tt.want)
			}
		})
	}
}

func TestKeywordInText(t *testing.T) {
	keywords := []string{"oauth", "Session"}

	tests := []struct {
		text string
		want bool
	}{
		{"+  session[:user_id] = user.id", true},
		{"refactored the OAuth callback", true},
		{"renamed variable from foo to bar", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := KeywordInText(tt.text, keywords); got != tt.want {
			t.Errorf("KeywordInText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	if KeywordInText("anything", nil) {
		t.Error("no keywords should never match")
	}
	if KeywordInText("anything", []string{""}) {
		t.Error("empty keyword must be ignored")
	}
}
