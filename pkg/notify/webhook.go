package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/authwatchio/authwatch/pkg/errors"
)

// Transport delivers a payload to one notification channel.
type Transport interface {
	// Name returns the channel name this transport serves.
	Name() string

	// Send delivers the payload. Failures should be TransportErrors so
	// the dispatcher and retry queue can classify them.
	Send(ctx context.Context, payload *Payload) error
}

// WebhookConfig configures a Slack-compatible incoming-webhook transport.
type WebhookConfig struct {
	// Channel is the channel name (e.g., "chat_a").
	Channel string `yaml:"channel" json:"channel"`

	// URL is the webhook endpoint.
	URL string `yaml:"url" json:"url"`

	// Timeout per request (default: 15s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RequestsPerMinute rate-limits deliveries (0 = unlimited).
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// WebhookTransport posts Slack-style attachment messages to an
// incoming-webhook URL.
type WebhookTransport struct {
	cfg        *WebhookConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewWebhookTransport creates a webhook transport.
func NewWebhookTransport(cfg *WebhookConfig) (*WebhookTransport, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.ErrMissingWebhookURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &WebhookTransport{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}, nil
}

// Name returns the channel name.
func (t *WebhookTransport) Name() string {
	return t.cfg.Channel
}

// webhookMessage is the Slack-compatible wire format.
type webhookMessage struct {
	Text        string              `json:"text"`
	Attachments []webhookAttachment `json:"attachments,omitempty"`
}

type webhookAttachment struct {
	Color  string         `json:"color,omitempty"`
	Title  string         `json:"title,omitempty"`
	Text   string         `json:"text,omitempty"`
	Fields []webhookField `json:"fields,omitempty"`
}

type webhookField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Send posts the payload as an attachment message.
func (t *WebhookTransport) Send(ctx context.Context, payload *Payload) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return &errors.TransportError{Channel: t.cfg.Channel, Message: "rate limiter wait", Err: err}
		}
	}

	fields := []webhookField{
		{Title: "Score", Value: fmt.Sprintf("%d/100 (%s)", payload.Result.Score, payload.Result.Label), Short: true},
		{Title: "Highest risk", Value: payload.Result.Breakdown.HighestRisk.String(), Short: true},
	}
	if len(payload.SensitiveFiles) > 0 {
		fields = append(fields, webhookField{
			Title: "Auth-sensitive files",
			Value: fmt.Sprintf("%d", len(payload.SensitiveFiles)),
			Short: true,
		})
	}

	title := payload.Title
	if title == "" {
		title = payload.ChangeID
	}

	msg := webhookMessage{
		Text: payload.ShortText(),
		Attachments: []webhookAttachment{
			{
				Color:  payload.Result.Color,
				Title:  title,
				Text:   payload.Summary,
				Fields: fields,
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return &errors.TransportError{Channel: t.cfg.Channel, Message: "encode message", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &errors.TransportError{Channel: t.cfg.Channel, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &errors.TransportError{Channel: t.cfg.Channel, Message: "post webhook", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &errors.TransportError{
			Channel:    t.cfg.Channel,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	return nil
}
