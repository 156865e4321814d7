package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for provider API failures. Rate
// limit errors wait out the quota window with exponential backoff;
// transient server errors retry quickly; anything else gets one more
// attempt before the error surfaces.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts for rate limit
	// errors (default: 5)
	MaxRetries int

	// InitialBackoff is the initial wait time before the first rate
	// limit retry (default: 45s, matching the quota window).
	InitialBackoff time.Duration

	// MaxBackoff is the maximum wait time between retries (default: 90s)
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to backoff on each retry (default: 1.5)
	BackoffMultiplier float64

	// ServerErrorBackoff is the fixed wait after a 5xx response
	// (default: 5s).
	ServerErrorBackoff time.Duration
}

const (
	DefaultMaxRetries         = 5
	DefaultInitialBackoff     = 45 * time.Second
	DefaultMaxBackoff         = 90 * time.Second
	DefaultBackoffMultiplier  = 1.5
	DefaultServerErrorBackoff = 5 * time.Second
)

// NewDefaultRetryConfig returns a RetryConfig with defaults tuned for
// per-minute token quotas.
func NewDefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:         DefaultMaxRetries,
		InitialBackoff:     DefaultInitialBackoff,
		MaxBackoff:         DefaultMaxBackoff,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		ServerErrorBackoff: DefaultServerErrorBackoff,
	}
}

// IsRateLimitError checks if an error is a provider rate limit error.
// Matches 429 status codes and RESOURCE_EXHAUSTED / quota errors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota")
}

// IsServerError checks if an error is a transient provider-side failure.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "UNAVAILABLE")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from a rate
// limit error. Returns 0 if no delay is found in the error message.
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff computes the backoff duration for a given attempt.
// If apiDelay > 0 (from ExtractRetryDelay), it is used as the base,
// otherwise InitialBackoff. The result is capped at MaxBackoff.
func (c *RetryConfig) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay + 5*time.Second
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	return backoff
}

// WithRetries invokes call, retrying according to the error class until
// MaxRetries is exhausted or the context is cancelled. Rate limit errors
// back off exponentially, server errors wait a short fixed interval, and
// any other failure is retried exactly once.
func (c *RetryConfig) WithRetries(ctx context.Context, call func() (string, error)) (string, error) {
	var lastErr error
	otherAttempts := 0
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case IsRateLimitError(err):
			wait = c.CalculateBackoff(attempt, ExtractRetryDelay(err))
		case IsServerError(err):
			wait = c.ServerErrorBackoff
		default:
			if otherAttempts >= 1 {
				return "", err
			}
			otherAttempts++
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}
