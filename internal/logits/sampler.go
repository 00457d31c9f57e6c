package logits

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// ErrEmptyLogits is returned when Sample is handed a zero-length vector.
var ErrEmptyLogits = errors.New("logits: empty logits vector")

// greedyEpsilon is the temperature below which sampling degenerates to argmax.
const greedyEpsilon = 1e-7

// SamplerConfig configures the behaviour of a Sampler. A nil Temperature
// selects greedy decoding. A nil TopP, or a value outside (0, 1), disables
// nucleus truncation.
type SamplerConfig struct {
	Seed        uint64
	Temperature *float64
	TopP        *float64
	TopK        int
	MinP        float32
}

// Sampler picks the next token id from a logits vector. It owns a seeded
// random source, so a Sampler must not be shared between goroutines.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	temp   float64
	topP   float64
	idx    []int
	prob   []float64
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	s := &Sampler{
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		cfg:  cfg,
		topP: 1,
	}
	if cfg.Temperature == nil || *cfg.Temperature < greedyEpsilon {
		s.greedy = true
	} else {
		s.temp = *cfg.Temperature
	}
	if cfg.TopP != nil && *cfg.TopP > 0 && *cfg.TopP < 1 {
		s.topP = *cfg.TopP
	}
	return s
}

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws a single index from logits:
//
//  1. Greedy samplers return the argmax.
//  2. Otherwise logits are divided by the temperature and softmaxed.
//  3. TopK > 0 keeps only the K most likely candidates.
//  4. MinP > 0 drops candidates below MinP times the best probability.
//  5. With TopP set, the smallest prefix of the descending distribution
//     whose cumulative mass reaches TopP is kept.
//  6. A uniform draw selects an index from what remains.
func (s *Sampler) Sample(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, ErrEmptyLogits
	}
	if s.greedy {
		return argmax(logits)
	}

	prob, err := s.softmax(logits)
	if err != nil {
		return 0, err
	}

	truncate := s.cfg.TopK > 0 || s.cfg.MinP > 0 || s.topP < 1
	if !truncate {
		return s.draw(nil, prob), nil
	}

	idx := s.sortedIndices(prob)
	if s.cfg.TopK > 0 && s.cfg.TopK < len(idx) {
		idx = idx[:s.cfg.TopK]
	}
	if s.cfg.MinP > 0 {
		threshold := prob[idx[0]] * float64(s.cfg.MinP)
		keep := 1
		for keep < len(idx) && prob[idx[keep]] >= threshold {
			keep++
		}
		idx = idx[:keep]
	}
	if s.topP < 1 {
		var c float64
		for i, id := range idx {
			c += prob[id]
			if c >= s.topP {
				idx = idx[:i+1]
				break
			}
		}
	}
	return s.draw(idx, prob), nil
}

// softmax fills s.prob with the temperature-scaled distribution.
func (s *Sampler) softmax(logits []float32) ([]float64, error) {
	if cap(s.prob) < len(logits) {
		s.prob = make([]float64, len(logits))
	}
	prob := s.prob[:len(logits)]

	maxv := math.Inf(-1)
	for _, l := range logits {
		v := float64(l)
		if math.IsNaN(v) {
			return nil, fmt.Errorf("logits: NaN in logits vector")
		}
		maxv = math.Max(maxv, v)
	}
	if math.IsInf(maxv, 0) {
		return nil, fmt.Errorf("logits: no finite maximum (max=%v)", maxv)
	}

	invTemp := 1 / s.temp
	var sum float64
	for i, l := range logits {
		e := math.Exp((float64(l) - maxv) * invTemp)
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return nil, fmt.Errorf("logits: degenerate distribution (sum=%v)", sum)
	}
	for i := range prob {
		prob[i] /= sum
	}
	return prob, nil
}

// sortedIndices returns token ids ordered by descending probability, ties
// broken by the lower id.
func (s *Sampler) sortedIndices(prob []float64) []int {
	if cap(s.idx) < len(prob) {
		s.idx = make([]int, len(prob))
	}
	idx := s.idx[:len(prob)]
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		if c := cmp.Compare(prob[b], prob[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return idx
}

// draw samples from prob restricted to idx, or from the full vector when
// idx is nil. The kept mass is renormalised implicitly.
func (s *Sampler) draw(idx []int, prob []float64) int {
	if idx == nil {
		r := s.rng.Float64()
		var c float64
		for i, p := range prob {
			c += p
			if r < c {
				return i
			}
		}
		return len(prob) - 1
	}
	var total float64
	for _, id := range idx {
		total += prob[id]
	}
	r := s.rng.Float64() * total
	var c float64
	for _, id := range idx {
		c += prob[id]
		if r < c {
			return id
		}
	}
	return idx[len(idx)-1]
}

// argmax returns the index of the first maximum. NaN entries are skipped.
func argmax(x []float32) (int, error) {
	best := -1
	var bestV float32
	for i, v := range x {
		if v != v {
			continue
		}
		if best < 0 || v > bestV {
			best = i
			bestV = v
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("logits: no comparable value in %d logits", len(x))
	}
	return best, nil
}
