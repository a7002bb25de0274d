package detector

import (
	"context"

	"github.com/authwatchio/authwatch/pkg/core"
	"github.com/authwatchio/authwatch/pkg/diffparse"
	"github.com/authwatchio/authwatch/pkg/errors"
)

// Service combines a detector client with the response parser and prompt
// rendering for one-call analysis of a change set.
type Service struct {
	client   Client
	parser   *ResponseParser
	template string
	keywords []string
	logger   core.Logger
}

// ServiceConfig configures a detector Service.
type ServiceConfig struct {
	// PromptTemplate overrides DefaultPromptTemplate when non-empty.
	PromptTemplate string

	// Keywords overrides DefaultKeywords when non-empty.
	Keywords []string

	// Fallback selects the malformed-response policy.
	Fallback FallbackPolicy

	// Logger defaults to a no-op logger.
	Logger core.Logger
}

// NewService creates a detector service around the given client.
func NewService(client Client, cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Service{
		client:   client,
		parser:   NewResponseParser(cfg.Fallback, cfg.Keywords),
		template: cfg.PromptTemplate,
		keywords: cfg.Keywords,
		logger:   logger,
	}
}

// Parser exposes the response parser, mainly for tests and for callers
// that already hold a raw response.
func (s *Service) Parser() *ResponseParser {
	return s.parser
}

// Detect runs one detector invocation over the change set. The returned
// error is transport-level only; any response, however malformed, yields
// a DetectionResult.
func (s *Service) Detect(ctx context.Context, changes []diffparse.FileChange) (DetectionResult, error) {
	prompt := BuildPrompt(s.template, s.keywords, changes)

	raw, err := s.client.Analyze(ctx, prompt)
	if err != nil {
		return DetectionResult{}, errors.Wrap(err, "detector.Detect")
	}

	result := s.parser.ParseResponse(raw)
	s.logger.Debug("detector result: detected=%v findings=%d highest=%s",
		result.AuthChangesDetected, len(result.Findings), result.HighestRisk)
	return result, nil
}
