package simulate

import "firestige.xyz/floodgate/internal/core"

// Sample is one labelled feature vector.
type Sample struct {
	Features core.FeatureVector
	Label    core.Label
}

// Dataset draws normal benign and attack flood samples and shuffles them.
// The same seed yields the same dataset.
func Dataset(normal, attack int, seed uint64) []Sample {
	s := NewSampler(seed)
	out := make([]Sample, 0, max(normal, 0)+max(attack, 0))
	for i := 0; i < normal; i++ {
		out = append(out, Sample{Features: s.Sample(core.Normal), Label: core.Normal})
	}
	for i := 0; i < attack; i++ {
		out = append(out, Sample{Features: s.Sample(core.Attack), Label: core.Attack})
	}
	rng := newRand(seed ^ 0x5bd1e995)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
