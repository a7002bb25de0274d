package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/authwatchio/authwatch/pkg/core"
	"github.com/authwatchio/authwatch/pkg/errors"
	"github.com/authwatchio/authwatch/pkg/metrics"
	"github.com/authwatchio/authwatch/pkg/scoring"
)

type fakeTransport struct {
	name  string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(ctx context.Context, payload *Payload) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

type fakeQueue struct {
	mu       sync.Mutex
	channels []string
}

func (q *fakeQueue) Enqueue(channel string, payload *Payload, cause error) error {
	q.mu.Lock()
	q.channels = append(q.channels, channel)
	q.mu.Unlock()
	return nil
}

func testPayload() *Payload {
	return &Payload{
		Repo:     "org/app",
		ChangeID: "42",
		Result:   scoring.Result{Score: 60, Label: scoring.LabelHigh},
		Summary:  "Session handling changed.",
	}
}

func TestDispatchDeliversOnlyApproved(t *testing.T) {
	sent := &fakeTransport{name: "chat_a"}
	quiet := &fakeTransport{name: "chat_b"}
	d := NewDispatcher([]Transport{sent, quiet}, WithDispatcherLogger(core.NewNopLogger()))

	decisions := map[string]ChannelDecision{
		"chat_a": {Channel: "chat_a", Action: ActionSent},
		"chat_b": {Channel: "chat_b", Action: ActionSkipped, Reason: "score 40 below threshold 50"},
	}

	final := d.Dispatch(context.Background(), testPayload(), decisions)

	if sent.calls != 1 {
		t.Errorf("approved channel delivered %d times, want 1", sent.calls)
	}
	if quiet.calls != 0 {
		t.Errorf("skipped channel delivered %d times, want 0", quiet.calls)
	}
	if final["chat_a"].Action != ActionSent {
		t.Errorf("chat_a: got %s, want sent", final["chat_a"].Action)
	}
	if final["chat_b"].Action != ActionSkipped || final["chat_b"].Reason == "" {
		t.Error("skipped decision must pass through with its reason")
	}
}

func TestDispatchRecordsFailure(t *testing.T) {
	failing := &fakeTransport{
		name: "chat",
		err:  &errors.TransportError{Channel: "chat", StatusCode: 400, Message: "invalid_payload"},
	}
	d := NewDispatcher([]Transport{failing}, WithDispatcherLogger(core.NewNopLogger()))

	final := d.Dispatch(context.Background(), testPayload(), map[string]ChannelDecision{
		"chat": {Channel: "chat", Action: ActionSent},
	})

	if final["chat"].Action != ActionFailed {
		t.Fatalf("got %s, want failed", final["chat"].Action)
	}
	if !strings.Contains(final["chat"].Reason, "invalid_payload") {
		t.Errorf("failure reason %q must carry the transport error", final["chat"].Reason)
	}
}

func TestDispatchEnqueuesRetryableFailures(t *testing.T) {
	retryable := &fakeTransport{
		name: "flaky",
		err:  &errors.TransportError{Channel: "flaky", StatusCode: 503, Message: "unavailable"},
	}
	permanent := &fakeTransport{
		name: "broken",
		err:  &errors.TransportError{Channel: "broken", StatusCode: 400, Message: "bad request"},
	}
	queue := &fakeQueue{}
	d := NewDispatcher([]Transport{retryable, permanent},
		WithRetryQueue(queue), WithDispatcherLogger(core.NewNopLogger()))

	d.Dispatch(context.Background(), testPayload(), map[string]ChannelDecision{
		"flaky":  {Channel: "flaky", Action: ActionSent},
		"broken": {Channel: "broken", Action: ActionSent},
	})

	if len(queue.channels) != 1 || queue.channels[0] != "flaky" {
		t.Errorf("queue got %v, want only the retryable failure", queue.channels)
	}
}

// A mix of in-flight deliveries and pass-through decisions writes the
// result map from the main goroutine and the senders; run under -race.
func TestDispatchMixedDecisionsConcurrently(t *testing.T) {
	var transports []Transport
	decisions := make(map[string]ChannelDecision)
	for i := 0; i < 8; i++ {
		sent := fmt.Sprintf("sent_%d", i)
		skipped := fmt.Sprintf("skipped_%d", i)
		transports = append(transports, &fakeTransport{name: sent, delay: 5 * time.Millisecond})
		decisions[sent] = ChannelDecision{Channel: sent, Action: ActionSent}
		decisions[skipped] = ChannelDecision{Channel: skipped, Action: ActionSkipped, Reason: "below threshold"}
	}
	d := NewDispatcher(transports, WithDispatcherLogger(core.NewNopLogger()))

	final := d.Dispatch(context.Background(), testPayload(), decisions)

	if len(final) != 16 {
		t.Fatalf("final decisions = %d, want 16", len(final))
	}
	for i := 0; i < 8; i++ {
		if got := final[fmt.Sprintf("sent_%d", i)].Action; got != ActionSent {
			t.Errorf("sent_%d = %s, want sent", i, got)
		}
		if got := final[fmt.Sprintf("skipped_%d", i)].Action; got != ActionSkipped {
			t.Errorf("skipped_%d = %s, want skipped", i, got)
		}
	}
}

func TestDispatchObservesSendDuration(t *testing.T) {
	collector := metrics.NewInMemoryCollector()
	d := NewDispatcher([]Transport{&fakeTransport{name: "chat_a"}},
		WithDispatcherLogger(core.NewNopLogger()), WithDispatcherCollector(collector))

	d.Dispatch(context.Background(), testPayload(), map[string]ChannelDecision{
		"chat_a": {Channel: "chat_a", Action: ActionSent},
	})

	obs := collector.GetHistogram(metrics.NotificationSendDuration.Name, "channel", "chat_a")
	if len(obs) != 1 {
		t.Fatalf("send duration observations = %d, want 1", len(obs))
	}
}

func TestDispatchMissingTransport(t *testing.T) {
	d := NewDispatcher(nil, WithDispatcherLogger(core.NewNopLogger()))

	final := d.Dispatch(context.Background(), testPayload(), map[string]ChannelDecision{
		"ghost": {Channel: "ghost", Action: ActionSent},
	})

	if final["ghost"].Action != ActionFailed {
		t.Errorf("got %s, want failed when no transport is registered", final["ghost"].Action)
	}
}

func TestWebhookTransportSend(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewWebhookTransport(&WebhookConfig{Channel: "chat", URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookTransport: %v", err)
	}

	if err := transport.Send(context.Background(), testPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(gotBody, "auth-change risk 60/100") {
		t.Errorf("webhook body missing summary line: %s", gotBody)
	}
	if !strings.Contains(gotBody, "org/app!42") {
		t.Errorf("webhook body missing change locator: %s", gotBody)
	}
}

func TestWebhookTransportServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel_not_found", http.StatusNotFound)
	}))
	defer server.Close()

	transport, err := NewWebhookTransport(&WebhookConfig{Channel: "chat", URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookTransport: %v", err)
	}

	sendErr := transport.Send(context.Background(), testPayload())
	if sendErr == nil {
		t.Fatal("expected an error for a 404 response")
	}
	tErr, ok := errors.IsTransportError(sendErr)
	if !ok {
		t.Fatalf("expected TransportError, got %T", sendErr)
	}
	if tErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", tErr.StatusCode)
	}
}

func TestWebhookTransportMissingURL(t *testing.T) {
	if _, err := NewWebhookTransport(&WebhookConfig{Channel: "chat"}); err == nil {
		t.Error("expected an error when the webhook URL is empty")
	}
}
