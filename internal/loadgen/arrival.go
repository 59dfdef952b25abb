// internal/loadgen/arrival.go
package loadgen

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ArrivalScheduler yields exponentially distributed inter-arrival waits for
// an open-loop Poisson process. It is not safe for concurrent use.
type ArrivalScheduler struct {
	rate float64
	rng  *rand.Rand
}

// NewArrivalScheduler returns a scheduler with mean wait 1/ratePerSecond.
func NewArrivalScheduler(ratePerSecond float64, rng *rand.Rand) (*ArrivalScheduler, error) {
	if !(ratePerSecond > 0) || math.IsInf(ratePerSecond, 0) {
		return nil, fmt.Errorf("arrival rate must be positive and finite, got %v", ratePerSecond)
	}
	if rng == nil {
		return nil, fmt.Errorf("arrival scheduler requires a random source")
	}
	return &ArrivalScheduler{rate: ratePerSecond, rng: rng}, nil
}

// Rate returns the configured arrival rate in requests per second.
func (s *ArrivalScheduler) Rate() float64 { return s.rate }

// NextSeconds draws the next wait in seconds.
func (s *ArrivalScheduler) NextSeconds() float64 {
	return s.rng.ExpFloat64() / s.rate
}

// Next draws the next wait as a duration.
func (s *ArrivalScheduler) Next() time.Duration {
	return time.Duration(s.NextSeconds() * float64(time.Second))
}
