// Package backoff provides retry delays and a context-aware retry loop.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Factor is the exponential factor applied per attempt. 1 gives a fixed delay.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// Compute returns the delay after the given attempt (1-indexed):
// min(Max, Initial*Factor^(attempt-1) + jitter).
func (p Policy) Compute(attempt int) time.Duration {
	return p.computeWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) computeWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}

	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// Fixed returns a policy that always waits d.
func Fixed(d time.Duration) Policy {
	return Policy{Initial: d, Max: d, Factor: 1}
}
