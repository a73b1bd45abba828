package apperrors

import (
	"math/rand"
	"time"
)

// Backoff computes an exponential backoff delay with jitter for the
// given retry attempt (0-indexed), capped at max. Used by PositionStore's
// persist retries and by PredictionClient RPC retries (spec §5: capped
// at 10s delay).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base << attempt
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}
