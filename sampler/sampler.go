// Package sampler implements temperature scaling and top-p (nucleus)
// selection over logits using a deterministic seeded PRNG, per spec §4.6.
package sampler

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Sampler holds one session's sampling parameters and PRNG state. State is
// per-session so runs are reproducible given the same seed and prompt.
type Sampler struct {
	Temperature float32
	TopP        float32
	rng         *xorshift64
}

// New returns a Sampler seeded from seed if nonzero, else from monotonic
// time, per spec §4.6.
func New(temperature, topP float32, seed uint64) *Sampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Sampler{Temperature: temperature, TopP: topP, rng: newXorshift64(seed)}
}

// Sample selects a token id from logits, mutating logits in place
// (temperature scaling + softmax), per spec §4.6:
//   - temperature == 0: argmax
//   - else: softmax(logits/temperature), then top-p restriction if
//     TopP is in (0,1), else direct sampling from the full distribution.
func (s *Sampler) Sample(logits []float32) int {
	if s.Temperature == 0 {
		return argmax(logits)
	}
	for i := range logits {
		logits[i] /= s.Temperature
	}
	softmaxInPlace(logits)

	if s.TopP > 0 && s.TopP < 1 {
		return s.sampleTopP(logits)
	}
	return s.sampleFull(logits)
}

func argmax(x []float32) int {
	best, bestV := 0, x[0]
	for i, v := range x[1:] {
		if v > bestV {
			best, bestV = i+1, v
		}
	}
	return best
}

func softmaxInPlace(x []float32) {
	max := x[0]
	for _, v := range x[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range x {
		e := float32(math.Exp(float64(v - max)))
		x[i] = e
		sum += e
	}
	for i := range x {
		x[i] /= sum
	}
}

// sampleFull draws directly from the full distribution p using the
// cumulative-distribution method: cumSum builds the running total once
// (O(n)), then a uniform draw picks the first index whose cumulative
// probability exceeds it.
func (s *Sampler) sampleFull(p []float32) int {
	cum := cumSum(p)
	r := s.rng.Float64()
	for i, c := range cum {
		if r < float64(c) {
			return i
		}
	}
	return len(p) - 1
}

// sampleTopP restricts sampling to the smallest prefix (by descending
// probability) whose cumulative mass reaches TopP, renormalizes it, and
// samples from that prefix by cumulative distribution, per spec §4.6.
func (s *Sampler) sampleTopP(p []float32) int {
	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] > p[idx[b]] })

	var cumMass float32
	cutoff := len(idx)
	for i, id := range idx {
		cumMass += p[id]
		if cumMass >= s.TopP {
			cutoff = i + 1
			break
		}
	}
	prefix := idx[:cutoff]

	probs := make([]float32, cutoff)
	for i, id := range prefix {
		probs[i] = p[id]
	}
	total := floats.Sum(toFloat64(probs))
	for i := range probs {
		probs[i] /= float32(total)
	}

	cum := cumSum(probs)
	r := s.rng.Float64()
	for i, c := range cum {
		if r < float64(c) {
			return prefix[i]
		}
	}
	return prefix[len(prefix)-1]
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func cumSum(p []float32) []float32 {
	out := make([]float32, len(p))
	var running float32
	for i, v := range p {
		running += v
		out[i] = running
	}
	return out
}
