package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleArgmaxAtZeroTemperature(t *testing.T) {
	s := New(0, 0.9, 1)
	logits := []float32{1, 5, 2, 0}
	assert.Equal(t, 1, s.Sample(logits))
}

func TestSampleDeterministicWithSameSeed(t *testing.T) {
	logits1 := []float32{1, 2, 3, 0.5, 4}
	logits2 := append([]float32{}, logits1...)

	s1 := New(1.0, 0.9, 0x1234)
	s2 := New(1.0, 0.9, 0x1234)

	got1 := s1.Sample(logits1)
	got2 := s2.Sample(logits2)
	assert.Equal(t, got1, got2)
}

func TestSampleDiffersAcrossSeedsEventually(t *testing.T) {
	logits := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	seen := map[int]bool{}
	for seed := uint64(1); seed < 30; seed++ {
		s := New(1.0, 0.9, seed)
		l := append([]float32{}, logits...)
		seen[s.Sample(l)] = true
	}
	assert.True(t, len(seen) > 1, "expected sampling to vary across seeds for a uniform distribution")
}

func TestSampleTopPRestrictsToPrefix(t *testing.T) {
	// One dominant logit; with a tight top-p the dominant token should
	// always win regardless of seed.
	logits := []float32{10, 0, 0, 0, 0}
	for seed := uint64(1); seed < 10; seed++ {
		s := New(1.0, 0.1, seed)
		l := append([]float32{}, logits...)
		assert.Equal(t, 0, s.Sample(l))
	}
}

func TestXorshift64NeverSticksAtZero(t *testing.T) {
	rng := newXorshift64(0)
	for i := 0; i < 100; i++ {
		assert.NotEqual(t, uint64(0), rng.next())
	}
}
