package rleconfig

import "time"

// RetryConfig controls ModelClient's exponential back-off policy and the
// pacing of outbound calls (including retries) against RequestsPerMinute.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	Multiplier        float64       `yaml:"multiplier"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // 0 means unlimited
}

// DefaultRetryConfig is the conservative default back-off policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     60_000 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Delay returns the back-off delay before retry attempt n (0-indexed),
// capped at MaxDelay.
func (r RetryConfig) Delay(attempt int) time.Duration {
	d := r.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * r.Multiplier)
		if d > r.MaxDelay {
			return r.MaxDelay
		}
	}
	if d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// RecursionConfig bounds sub-query recursion depth.
type RecursionConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// DefaultRecursionConfig limits recursion to a shallow, predictable depth.
func DefaultRecursionConfig() RecursionConfig {
	return RecursionConfig{MaxDepth: 3}
}

// StoreConfig controls the knowledge store's on-disk layout.
type StoreConfig struct {
	BasePath           string `yaml:"base_path"`
	FlushOnEveryAppend bool   `yaml:"flush_on_every_append"`
}

// TimeoutConfig bounds a single model call.
type TimeoutConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultTimeoutConfig returns a conservative 180s request timeout.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{RequestTimeout: 180_000 * time.Millisecond}
}
