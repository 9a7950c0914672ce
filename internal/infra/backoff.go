package infra

import (
	"math/rand"
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a given retry
// count: baseDelay * 2^retryCount, capped at maxDelay.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}

	// 2^30 seconds already far exceeds maxDelay; cap early to avoid overflow.
	if retryCount > 30 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retryCount)
	if backoff > maxDelay {
		return maxDelay
	}

	return backoff
}

// JitteredBackoff spreads CalculateBackoff over [d/2, d*3/2) so a fleet of
// reconnecting clients does not hammer the feed in lockstep.
func JitteredBackoff(retryCount int) time.Duration {
	d := CalculateBackoff(retryCount)
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
