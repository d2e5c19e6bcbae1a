package dispatch

import "time"

/* Fixed retry delays, deliberately not multiplicative. The protocol
 * documentation promises integrators these literal timings, so retries
 * beyond the third reuse the last delay instead of growing further.
 */
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Backoff returns the delay before the next attempt, given how many
// attempts have already been made (>= 1).
func Backoff(attemptCount int) time.Duration {
	if attemptCount < 1 {
		return 0
	}
	if attemptCount > len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[attemptCount-1]
}
