package services

import "time"

// Delay is the deterministic backoff formula: base * multiplier^retryCount.
// Kept separate from the jitter source so the schedule is testable without
// randomness.
func Delay(base time.Duration, multiplier float64, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(base)
	for i := 0; i < retryCount; i++ {
		d *= multiplier
	}
	return time.Duration(d)
}

// Jittered spreads a delay uniformly across ±frac of itself. The random
// source yields values in [0, 1) and is injected by the caller.
func Jittered(d time.Duration, frac float64, random func() float64) time.Duration {
	if frac <= 0 || random == nil {
		return d
	}
	span := float64(d) * frac
	return time.Duration(float64(d) - span + 2*span*random())
}
