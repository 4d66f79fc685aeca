package gateway

import "time"

// DefaultBackoffCeiling is used when a descriptor leaves the ceiling unset.
const DefaultBackoffCeiling = 10

// Backoff returns the reconnect delay in whole seconds for attempt n:
// min(2^n - 1, ceiling). Attempts below 1 are treated as 1 and a negative
// ceiling as 0.
func Backoff(n, ceiling int) int {
	if ceiling < 0 {
		ceiling = 0
	}
	if n < 1 {
		n = 1
	}
	// 2^62 - 1 already exceeds any sane ceiling; avoid shifting past int width.
	if n >= 62 {
		return ceiling
	}
	d := (1 << uint(n)) - 1
	if d > ceiling {
		return ceiling
	}
	return d
}

// BackoffDuration is Backoff expressed as a time.Duration.
func BackoffDuration(n, ceiling int) time.Duration {
	return time.Duration(Backoff(n, ceiling)) * time.Second
}
