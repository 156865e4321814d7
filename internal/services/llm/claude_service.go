package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/interfaces"
)

// ClaudeService implements the CompletionProvider interface using the
// Anthropic Claude API. It is the preferred synthesis backend.
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    *anthropic.Client
	retry     *RetryConfig
	timeout   time.Duration
	maxTokens int
}

// NewClaudeService creates a new Claude completion provider.
//
// Returns a service even when no API key is configured; Configured()
// reports false in that case and the fallback chain skips it.
func NewClaudeService(claudeConfig *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if claudeConfig.Model == "" {
		claudeConfig.Model = "claude-sonnet-4-20250514"
	}

	timeout, err := time.ParseDuration(claudeConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", claudeConfig.Timeout, err)
	}

	maxTokens := claudeConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	retry := NewDefaultRetryConfig()
	if claudeConfig.MaxRetries > 0 {
		retry.MaxRetries = claudeConfig.MaxRetries
	}

	service := &ClaudeService{
		config:    claudeConfig,
		logger:    logger,
		retry:     retry,
		timeout:   timeout,
		maxTokens: maxTokens,
	}

	if claudeConfig.APIKey != "" {
		client := anthropic.NewClient(
			option.WithAPIKey(claudeConfig.APIKey),
		)
		service.client = &client
	}

	logger.Debug().
		Str("model", claudeConfig.Model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Bool("configured", service.Configured()).
		Msg("Claude completion provider initialized")

	return service, nil
}

// Name identifies the provider in logs and error messages.
func (s *ClaudeService) Name() string {
	return "claude"
}

// Configured reports whether an API key was provided.
func (s *ClaudeService) Configured() bool {
	return s.client != nil
}

// Complete executes a structured completion call against the Claude API,
// retrying transient failures per the retry policy.
func (s *ClaudeService) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("Claude provider is not configured (set ANTHROPIC_API_KEY or claude.api_key)")
	}
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty for completion")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Int("prompt_length", len(req.Prompt)).
		Msg("Starting Claude completion")

	response, err := s.retry.WithRetries(timeoutCtx, func() (string, error) {
		return s.generateCompletion(timeoutCtx, req)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("model", s.config.Model).
			Msg("Claude completion failed")
		return "", fmt.Errorf("claude completion failed: %w", err)
	}

	s.logger.Debug().
		Int("response_length", len(response)).
		Dur("duration", time.Since(startTime)).
		Msg("Claude completion completed successfully")

	return response, nil
}

func (s *ClaudeService) generateCompletion(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	return response.String(), nil
}
