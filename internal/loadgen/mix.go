// internal/loadgen/mix.go
package loadgen

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/schema"
)

// MixSampler draws prompts from length buckets in proportion to the mix
// weights. Buckets that are empty or have zero weight never qualify.
type MixSampler struct {
	buckets []schema.LengthBucket
	weights []float64
	total   float64
	pools   map[schema.LengthBucket][]schema.PromptInput
	rng     *rand.Rand
}

// NewMixSampler validates prompts and mix and returns a sampler over the
// qualifying buckets.
func NewMixSampler(prompts []schema.PromptInput, mix appconfig.MixConfig, rng *rand.Rand) (*MixSampler, error) {
	if len(prompts) == 0 {
		return nil, errors.New("prompt list is empty")
	}
	if rng == nil {
		return nil, errors.New("mix sampler requires a random source")
	}
	pools := make(map[schema.LengthBucket][]schema.PromptInput)
	for _, p := range prompts {
		if !p.LengthBucket.Valid() {
			return nil, fmt.Errorf("prompt %s has no length bucket", p.PromptID)
		}
		pools[p.LengthBucket] = append(pools[p.LengthBucket], p)
	}

	weightOf := map[schema.LengthBucket]float64{
		schema.BucketShort: mix.Short,
		schema.BucketMed:   mix.Med,
		schema.BucketLong:  mix.Long,
	}
	s := &MixSampler{pools: pools, rng: rng}
	for _, b := range schema.Buckets {
		w := weightOf[b]
		if w < 0 {
			return nil, fmt.Errorf("mix weight for %s is negative", b)
		}
		if w == 0 || len(pools[b]) == 0 {
			continue
		}
		s.buckets = append(s.buckets, b)
		s.weights = append(s.weights, w)
		s.total += w
	}
	if len(s.buckets) == 0 {
		return nil, errors.New("no prompt bucket is both non-empty and positively weighted")
	}
	return s, nil
}

// Buckets returns the qualifying buckets in sampling order.
func (s *MixSampler) Buckets() []schema.LengthBucket {
	return append([]schema.LengthBucket(nil), s.buckets...)
}

// Sample draws a bucket by weight, then a prompt uniformly within it.
func (s *MixSampler) Sample() schema.PromptInput {
	r := s.rng.Float64() * s.total
	idx := len(s.buckets) - 1
	for i, w := range s.weights {
		if r < w {
			idx = i
			break
		}
		r -= w
	}
	pool := s.pools[s.buckets[idx]]
	return pool[s.rng.Intn(len(pool))]
}

// pendingItem is one scheduled issue of a prompt.
type pendingItem struct {
	prompt    schema.PromptInput
	repeatIdx int
}

// repeatQueue issues each sampled prompt repeats times, with increasing
// repeat indices, before drawing again.
type repeatQueue struct {
	sampler *MixSampler
	repeats int
	pending []pendingItem
}

func newRepeatQueue(sampler *MixSampler, repeats int) (*repeatQueue, error) {
	if repeats <= 0 {
		return nil, fmt.Errorf("repeats must be positive, got %d", repeats)
	}
	return &repeatQueue{sampler: sampler, repeats: repeats}, nil
}

func (q *repeatQueue) next() pendingItem {
	if len(q.pending) == 0 {
		p := q.sampler.Sample()
		for i := 0; i < q.repeats; i++ {
			q.pending = append(q.pending, pendingItem{prompt: p, repeatIdx: i})
		}
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item
}
