package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/interfaces"
)

// Providers bundles the completion backends the refresh pipeline needs:
// a specialist provider for evidence extraction and a synthesis chain
// with fallback.
type Providers struct {
	// Specialist runs the evidence extraction pass. Always Gemini.
	Specialist interfaces.CompletionProvider

	// Synthesis runs the hypothesis synthesis pass. A fallback chain
	// ordered by the configured primary provider.
	Synthesis interfaces.CompletionProvider
}

// NewProviders builds both backends from configuration. The synthesis
// chain is ordered claude-then-gemini unless config selects gemini as
// the primary synthesis provider.
func NewProviders(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*Providers, error) {
	gemini, err := NewGeminiService(ctx, &cfg.Gemini, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini service: %w", err)
	}

	claude, err := NewClaudeService(&cfg.Claude, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create claude service: %w", err)
	}

	var synthesis *Chain
	if cfg.LLM.SynthesisProvider == common.LLMProviderGemini {
		synthesis = NewChain(logger, gemini, claude)
	} else {
		synthesis = NewChain(logger, claude, gemini)
	}

	if !gemini.Configured() && !claude.Configured() {
		logger.Warn().Msg("No LLM provider is configured, refreshes will run with analysis stages degraded")
	}

	return &Providers{
		Specialist: gemini,
		Synthesis:  synthesis,
	}, nil
}
