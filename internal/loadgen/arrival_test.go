package loadgen

import (
	"math"
	"math/rand"
	"testing"
)

func TestArrivalScheduler_MeanWait_MatchesRate(t *testing.T) {
	// GIVEN a scheduler at 10 req/sec
	sched, err := NewArrivalScheduler(10, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("NewArrivalScheduler: %v", err)
	}

	// WHEN 20000 waits are drawn
	n := 20000
	sum := 0.0
	for i := 0; i < n; i++ {
		w := sched.NextSeconds()
		if w < 0 {
			t.Fatalf("negative wait %f", w)
		}
		sum += w
	}
	mean := sum / float64(n)

	// THEN the mean wait is 1/rate within 5%
	if math.Abs(mean-0.1)/0.1 > 0.05 {
		t.Errorf("mean wait = %.4fs, want ≈ 0.1s (within 5%%)", mean)
	}
}

func TestArrivalScheduler_SameSeedSameSequence(t *testing.T) {
	a, _ := NewArrivalScheduler(3, rand.New(rand.NewSource(7)))
	b, _ := NewArrivalScheduler(3, rand.New(rand.NewSource(7)))
	for i := 0; i < 100; i++ {
		if a.Next() != b.Next() {
			t.Fatalf("sequences diverged at %d", i)
		}
	}
}

func TestArrivalScheduler_RejectsNonPositiveRate(t *testing.T) {
	for _, rate := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewArrivalScheduler(rate, rand.New(rand.NewSource(1))); err == nil {
			t.Errorf("rate %v: expected error", rate)
		}
	}
}
