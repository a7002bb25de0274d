package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "op, message and wrapped error",
			err:  &Error{Op: "detector.Analyze", Message: "request failed", Err: errors.New("boom")},
			want: "detector.Analyze: request failed: boom",
		},
		{
			name: "op and message",
			err:  &Error{Op: "gitenv.ListChangedFiles", Message: "no PR context"},
			want: "gitenv.ListChangedFiles: no PR context",
		},
		{
			name: "message and wrapped error",
			err:  &Error{Message: "delivery failed", Err: errors.New("dial tcp")},
			want: "delivery failed: dial tcp",
		},
		{
			name: "message only",
			err:  &Error{Message: "bad input"},
			want: "bad input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestE(t *testing.T) {
	underlying := errors.New("underlying")
	err := E(KindNetwork, "notify.Send", "webhook unreachable", underlying)

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("E did not produce *Error")
	}
	if e.Kind != KindNetwork {
		t.Errorf("Kind = %v, want KindNetwork", e.Kind)
	}
	if e.Op != "notify.Send" {
		t.Errorf("Op = %q, want notify.Send", e.Op)
	}
	if e.Message != "webhook unreachable" {
		t.Errorf("Message = %q", e.Message)
	}
	if !errors.Is(err, err) {
		t.Error("error should match itself")
	}
	if e.Unwrap() != underlying {
		t.Error("Unwrap should return the underlying error")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "op") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithMessage(nil, "msg") != nil {
		t.Error("WrapWithMessage(nil) should return nil")
	}
}

func TestGetKind(t *testing.T) {
	if got := GetKind(E(KindRateLimit, "op", "m")); got != KindRateLimit {
		t.Errorf("GetKind = %v, want KindRateLimit", got)
	}
	if got := GetKind(errors.New("plain")); got != KindUnknown {
		t.Errorf("GetKind(plain) = %v, want KindUnknown", got)
	}
	wrapped := fmt.Errorf("outer: %w", E(KindTimeout, "op", "m"))
	if got := GetKind(wrapped); got != KindTimeout {
		t.Errorf("GetKind(wrapped) = %v, want KindTimeout", got)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInvalidInput, "invalid_input"},
		{KindAuthentication, "authentication"},
		{KindRateLimit, "rate_limit"},
		{KindNetwork, "network"},
		{Kind(200), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestTransportError(t *testing.T) {
	te := &TransportError{Channel: "slack", StatusCode: http.StatusBadGateway, Message: "upstream error"}
	if got := te.Error(); got != "[slack] Bad Gateway: upstream error" {
		t.Errorf("Error() = %q", got)
	}

	got, ok := IsTransportError(fmt.Errorf("send: %w", te))
	if !ok || got.Channel != "slack" {
		t.Error("IsTransportError should find wrapped TransportError")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited kind", ErrRateLimited, true},
		{"network kind", E(KindNetwork, "op", "m"), true},
		{"timeout kind", ErrTimeout, true},
		{"transport 429", &TransportError{Channel: "slack", StatusCode: 429, Message: "slow down"}, true},
		{"transport 503", &TransportError{Channel: "slack", StatusCode: 503, Message: "unavailable"}, true},
		{"transport 501", &TransportError{Channel: "slack", StatusCode: 501, Message: "nope"}, false},
		{"transport 400", &TransportError{Channel: "slack", StatusCode: 400, Message: "bad payload"}, false},
		{"invalid config", ErrInvalidConfig, false},
		{"plain error", errors.New("whatever"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAuthenticationError(t *testing.T) {
	if !IsAuthenticationError(ErrMissingToken) {
		t.Error("ErrMissingToken should be an authentication error")
	}
	if !IsAuthenticationError(&TransportError{Channel: "pr_comment", StatusCode: 401, Message: "bad credentials"}) {
		t.Error("401 transport error should be an authentication error")
	}
	if IsAuthenticationError(ErrTimeout) {
		t.Error("timeout should not be an authentication error")
	}
}
