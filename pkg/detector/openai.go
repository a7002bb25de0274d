package detector

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/authwatchio/authwatch/pkg/core"
	"github.com/authwatchio/authwatch/pkg/errors"
)

// Client is the transport interface to the external detector. It takes a
// rendered prompt and returns the raw free-text response.
type Client interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// OpenAIConfig configures the OpenAI-backed detector client.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Model is the chat model to use (default: gpt-4o-mini).
	Model string `yaml:"model" json:"model"`

	// BaseURL overrides the API endpoint, for proxies or compatible
	// self-hosted servers.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Temperature for the completion (default 0: deterministic-ish).
	Temperature float32 `yaml:"temperature" json:"temperature"`

	// RequestsPerMinute rate-limits detector calls (0 = unlimited).
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`

	// Timeout per request (default: 60s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAIClient calls the OpenAI chat-completion API as the detector.
type OpenAIClient struct {
	client  *openai.Client
	cfg     *OpenAIConfig
	limiter *rate.Limiter
	logger  core.Logger
}

// NewOpenAIClient creates a new OpenAI-backed detector client.
func NewOpenAIClient(cfg *OpenAIConfig, logger core.Logger) (*OpenAIClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.E(errors.KindAuthentication, "detector.NewOpenAIClient", "API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = core.NewNopLogger()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Analyze sends the prompt to the detector and returns the raw response
// text. Transport failures are wrapped with pkg/errors kinds so callers
// can distinguish rate limiting from hard failures.
func (c *OpenAIClient) Analyze(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", errors.E(errors.KindRateLimit, "detector.Analyze", "rate limiter wait", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	c.logger.Debug("calling detector model %s (%d byte prompt)", c.cfg.Model, len(prompt))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an authentication security analyst. Respond only with the requested JSON object.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", errors.E(errors.KindNetwork, "detector.Analyze", "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.E(errors.KindServer, "detector.Analyze", "detector returned no choices")
	}

	c.logger.Debug("detector responded, finish_reason=%s", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
