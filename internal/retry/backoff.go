package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxRetries int           `json:"max_retries"` // Maximum number of retry attempts
	BaseDelay  time.Duration `json:"base_delay"`  // Base delay between retries
	MaxDelay   time.Duration `json:"max_delay"`   // Maximum delay between retries
	Multiplier float64       `json:"multiplier"`  // Exponential backoff multiplier
	Jitter     bool          `json:"jitter"`      // Add random jitter to prevent thundering herd
}

// DefaultConfig returns a retry configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// TransportConfig returns a retry configuration sized for interactive client
// calls, where long waits stall the user.
func TransportConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// None disables retries.
func None() Config {
	return Config{MaxRetries: 0}
}

// Do executes op with exponential backoff, returning nil on the first success
// or the last error once attempts are exhausted or the context is done.
func Do(ctx context.Context, cfg Config, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delayFor(cfg, attempt)):
		}
	}
	return lastErr
}

// delayFor calculates the delay for the next retry attempt.
func delayFor(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		// up to 10% random jitter either way
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(delay)
}

// IsRetryableError reports whether an error looks like a transient network
// failure worth another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"no such host",
		"network unreachable",
		"broken pipe",
		"eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
