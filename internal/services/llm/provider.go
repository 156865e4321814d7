// Package llm provides completion providers for the refresh pipeline and
// the fallback chain that orders them.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/interfaces"
)

// Chain tries each configured provider in order until one returns a
// usable response. Provider-unavailable failures move to the next link;
// only when every link fails does the chain report an error.
type Chain struct {
	providers []interfaces.CompletionProvider
	logger    arbor.ILogger
}

// NewChain builds a fallback chain over the given providers. Order is
// priority order; unconfigured providers are skipped at call time.
func NewChain(logger arbor.ILogger, providers ...interfaces.CompletionProvider) *Chain {
	return &Chain{providers: providers, logger: logger}
}

// Name identifies the chain by its links.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, "->")
}

// Configured reports whether at least one link can be attempted.
func (c *Chain) Configured() bool {
	for _, p := range c.providers {
		if p.Configured() {
			return true
		}
	}
	return false
}

// Complete runs the request through the chain.
func (c *Chain) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		if !p.Configured() {
			c.logger.Debug().
				Str("provider", p.Name()).
				Msg("Skipping unconfigured provider")
			continue
		}
		text, err := p.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn().
			Err(err).
			Str("provider", p.Name()).
			Msg("Provider failed, trying next in chain")
		lastErr = err
	}
	if lastErr == nil {
		return "", fmt.Errorf("no completion provider is configured")
	}
	return "", fmt.Errorf("all completion providers failed: %w", lastErr)
}

// DecodeJSON parses model output into dst, tolerating markdown code
// fences and leading prose around the JSON document. Returns an error
// when no parsable JSON object can be recovered.
func DecodeJSON(text string, dst interface{}) error {
	cleaned := StripFences(text)
	if err := json.Unmarshal([]byte(cleaned), dst); err == nil {
		return nil
	}

	// Fall back to the outermost braced region. Models sometimes wrap
	// the document in commentary despite instructions.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object found in model output")
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), dst); err != nil {
		return fmt.Errorf("failed to parse model output as JSON: %w", err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, with or without
// a language tag, and trims whitespace.
func StripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```")
	if idx := strings.Index(cleaned, "\n"); idx >= 0 {
		first := strings.TrimSpace(cleaned[:idx])
		// Drop a language tag like "json" on the fence line.
		if first != "" && !strings.ContainsAny(first, "{[") {
			cleaned = cleaned[idx+1:]
		}
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
