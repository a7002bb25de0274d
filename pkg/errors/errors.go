// Package errors provides the error types used across authwatch.
//
// The core analysis engine (diff parsing, detection-result parsing, scoring,
// gating) never returns errors; these types are for the collaborator
// boundary: change-host clients, the detector client, and notification
// transports.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes an Error for retry and reporting decisions.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindAuthentication
	KindNotFound
	KindRateLimit
	KindTimeout
	KindNetwork
	KindServer
	KindInternal
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindInvalidInput:   "invalid_input",
	KindAuthentication: "authentication",
	KindNotFound:       "not_found",
	KindRateLimit:      "rate_limit",
	KindTimeout:        "timeout",
	KindNetwork:        "network",
	KindServer:         "server",
	KindInternal:       "internal",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// Error is the error type authwatch components return. Op names the
// failing operation (e.g. "detector.Analyze"), Message describes what
// went wrong, and Err carries the cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error renders "op: message: cause", omitting empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Kind == t.Kind
}

// TransportError represents a failed notification delivery attempt.
// It carries enough context for the dispatcher to record the failure as a
// ChannelDecision and for the retry queue to decide whether to re-enqueue.
type TransportError struct {
	// Channel is the notification channel that failed.
	Channel string `json:"channel"`

	// StatusCode is the HTTP status, zero for non-HTTP transports.
	StatusCode int `json:"status_code,omitempty"`

	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("[%s] %s: %s", e.Channel, http.StatusText(e.StatusCode), e.Message)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Channel, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Channel, e.Message)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// E builds an *Error from its arguments by type: a Kind sets the kind,
// the first string sets Op, the second sets Message, and an error sets
// the cause.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New returns an *Error carrying only a message.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap annotates err with the failing operation. A nil err stays nil.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapWithMessage annotates err with a description. A nil err stays nil.
func WrapWithMessage(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// GetKind extracts the Kind from anywhere in err's chain, or
// KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransportError extracts a *TransportError from err's chain.
func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRateLimitError reports whether err is a rate limit, by Kind or by
// a 429 transport status.
func IsRateLimitError(err error) bool {
	if GetKind(err) == KindRateLimit {
		return true
	}
	te, ok := IsTransportError(err)
	return ok && te.StatusCode == http.StatusTooManyRequests
}

// IsAuthenticationError reports whether err is an auth failure, by
// Kind or by a 401/403 transport status.
func IsAuthenticationError(err error) bool {
	if GetKind(err) == KindAuthentication {
		return true
	}
	te, ok := IsTransportError(err)
	return ok && (te.StatusCode == http.StatusUnauthorized || te.StatusCode == http.StatusForbidden)
}

// IsNetworkError reports whether err carries KindNetwork.
func IsNetworkError(err error) bool {
	return GetKind(err) == KindNetwork
}

// IsTimeoutError reports whether err carries KindTimeout.
func IsTimeoutError(err error) bool {
	return GetKind(err) == KindTimeout
}

// IsRetryable reports whether a failed delivery is worth re-enqueueing:
// rate limits, network faults, timeouts, and 5xx transport statuses
// other than 501 Not Implemented.
func IsRetryable(err error) bool {
	if IsRateLimitError(err) || IsNetworkError(err) || IsTimeoutError(err) {
		return true
	}
	te, ok := IsTransportError(err)
	return ok && te.StatusCode >= 500 && te.StatusCode != http.StatusNotImplemented
}

// Sentinels for conditions callers branch on.
var (
	ErrTimeout           = &Error{Kind: KindTimeout, Message: "operation timed out"}
	ErrRateLimited       = &Error{Kind: KindRateLimit, Message: "rate limited"}
	ErrInvalidConfig     = &Error{Kind: KindInvalidInput, Message: "invalid configuration"}
	ErrMissingToken      = &Error{Kind: KindAuthentication, Message: "access token is required"}
	ErrMissingWebhookURL = &Error{Kind: KindInvalidInput, Message: "webhook URL is required"}
	ErrNoChangeContext   = &Error{Kind: KindNotFound, Message: "no pull/merge request context"}
)
