// Package simulate produces synthetic labelled traffic: a seeded feature
// sampler and an event source that mimics a mixed benign/flood stream.
package simulate

import (
	"math"
	"math/rand/v2"

	"firestige.xyz/floodgate/internal/core"
)

// Sampler draws feature vectors from the benign and flood profiles.
// A Sampler is not safe for concurrent use.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler seeded with seed.
func NewSampler(seed uint64) *Sampler {
	return &Sampler{rng: newRand(seed)}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Sample draws one vector for label.
func (s *Sampler) Sample(label core.Label) core.FeatureVector {
	if label == core.Attack {
		return s.flood()
	}
	return s.benign()
}

func (s *Sampler) benign() core.FeatureVector {
	var f core.FeatureVector
	f[core.PacketRate] = atLeast(s.normal(20, 5), 1)
	f[core.ByteRate] = atLeast(s.normal(2000, 800), 100)
	f[core.AvgPktSize] = atLeast(s.normal(100, 20), 40)
	f[core.FlowDuration] = clip(s.exponential(10), 0.1, 300)
	f[core.SrcIPEntropy] = clip(s.normal(0.3, 0.1), 0, 1)
	f[core.SynRatio] = clip(s.normal(0.05, 0.02), 0, 1)
	f[core.DistinctDstPorts] = float64(s.poisson(2))
	f[core.ConcurrentConnections] = float64(s.poisson(3))
	return f
}

func (s *Sampler) flood() core.FeatureVector {
	var f core.FeatureVector
	f[core.PacketRate] = atLeast(s.normal(800, 300), 10)
	f[core.ByteRate] = atLeast(s.normal(200000, 100000), 1000)
	f[core.AvgPktSize] = atLeast(s.normal(150, 30), 40)
	f[core.FlowDuration] = clip(s.exponential(2), 0.01, 300)
	f[core.SrcIPEntropy] = clip(s.normal(0.9, 0.15), 0, 1)
	f[core.SynRatio] = clip(s.normal(0.6, 0.25), 0, 1)
	f[core.DistinctDstPorts] = float64(s.poisson(1))
	f[core.ConcurrentConnections] = float64(s.poisson(200))
	return f
}

func (s *Sampler) normal(mean, stddev float64) float64 {
	return s.rng.NormFloat64()*stddev + mean
}

func (s *Sampler) exponential(scale float64) float64 {
	return s.rng.ExpFloat64() * scale
}

// poisson uses Knuth's multiplication method; fine for the small lambdas
// used here (exp(-200) is still a normal float64).
func (s *Sampler) poisson(lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	p := s.rng.Float64()
	for p > limit {
		k++
		p *= s.rng.Float64()
	}
	return k
}

func atLeast(v, lo float64) float64 {
	return math.Max(v, lo)
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
