package llmgen

import "time"

// RetryConfig controls per-endpoint retry behavior within Client.Complete.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig matches the teacher's llm.DefaultRetryConfig: three
// attempts per endpoint, exponential backoff from 2s capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
