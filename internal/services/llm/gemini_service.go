package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiService implements the CompletionProvider interface using the
// Google Gemini API. It runs every specialist extraction pass and backs
// up Claude for synthesis.
type GeminiService struct {
	config    *common.GeminiConfig
	logger    arbor.ILogger
	client    *genai.Client
	retry     *RetryConfig
	timeout   time.Duration
	maxTokens int
}

// NewGeminiService creates a new Gemini completion provider.
//
// Returns a service even when no API key is configured; Configured()
// reports false in that case and the fallback chain skips it.
func NewGeminiService(ctx context.Context, geminiConfig *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if geminiConfig.Model == "" {
		geminiConfig.Model = "gemini-2.5-flash"
	}

	timeout, err := time.ParseDuration(geminiConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", geminiConfig.Timeout, err)
	}

	maxTokens := geminiConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	retry := NewDefaultRetryConfig()
	if geminiConfig.MaxRetries > 0 {
		retry.MaxRetries = geminiConfig.MaxRetries
	}

	service := &GeminiService{
		config:    geminiConfig,
		logger:    logger,
		retry:     retry,
		timeout:   timeout,
		maxTokens: maxTokens,
	}

	if geminiConfig.APIKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  geminiConfig.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize genai client: %w", err)
		}
		service.client = client
	}

	logger.Debug().
		Str("model", geminiConfig.Model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Bool("configured", service.Configured()).
		Msg("Gemini completion provider initialized")

	return service, nil
}

// Name identifies the provider in logs and error messages.
func (s *GeminiService) Name() string {
	return "gemini"
}

// Configured reports whether an API key was provided.
func (s *GeminiService) Configured() bool {
	return s.client != nil
}

// Complete executes a structured completion call against the Gemini API,
// retrying transient failures per the retry policy.
func (s *GeminiService) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("Gemini provider is not configured (set GEMINI_API_KEY or gemini.api_key)")
	}
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty for completion")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Int("prompt_length", len(req.Prompt)).
		Msg("Starting Gemini completion")

	response, err := s.retry.WithRetries(timeoutCtx, func() (string, error) {
		return s.generateCompletion(timeoutCtx, req)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("model", s.config.Model).
			Msg("Gemini completion failed")
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	s.logger.Debug().
		Int("response_length", len(response)).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini completion completed successfully")

	return response, nil
}

func (s *GeminiService) generateCompletion(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(maxTokens),
	}

	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	// Constrained JSON output avoids most fence and prose wrapping.
	if req.JSONOnly {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.config.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("content generation failed: %w", err)
	}

	// Iterate candidates until non-empty text is found.
	var response strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from model")
	}

	return response.String(), nil
}
