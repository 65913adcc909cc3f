package classifier

import (
	"context"
	"sort"

	"firestige.xyz/floodgate/internal/core"
)

// DefaultThresholds sit between the typical benign and flood profiles of
// each channel.
var DefaultThresholds = map[string]float64{
	"packet_rate":            300,
	"byte_rate":              50000,
	"src_ip_entropy":         0.7,
	"syn_ratio":              0.3,
	"concurrent_connections": 50,
}

// ThresholdParams configures the rule vote classifier.
type ThresholdParams struct {
	// Thresholds maps a channel name to the value at or above which the
	// channel votes attack. Empty means DefaultThresholds.
	Thresholds map[string]float64 `mapstructure:"thresholds"`
	// MinVotes is the number of votes needed for an attack verdict.
	MinVotes int `mapstructure:"min_votes"`
}

type rule struct {
	index int
	limit float64
}

// Threshold is a rule based classifier. Each rule compares one channel
// against a limit; the verdict is Attack once MinVotes rules fire.
// NaN never fires a rule.
type Threshold struct {
	rules    []rule
	minVotes int
}

// NewThreshold validates p and builds the classifier.
func NewThreshold(p ThresholdParams) (*Threshold, error) {
	thresholds := p.Thresholds
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	if p.MinVotes == 0 {
		p.MinVotes = 2
	}
	if p.MinVotes < 0 || p.MinVotes > len(thresholds) {
		return nil, core.NewConfigError("classifier.params.min_votes",
			"must be between 1 and %d, got %d", len(thresholds), p.MinVotes)
	}

	rules := make([]rule, 0, len(thresholds))
	for name, limit := range thresholds {
		i, ok := core.FeatureIndex(name)
		if !ok {
			return nil, core.NewConfigError("classifier.params.thresholds", "unknown feature %q", name)
		}
		rules = append(rules, rule{index: i, limit: limit})
	}
	sort.Slice(rules, func(a, b int) bool { return rules[a].index < rules[b].index })

	return &Threshold{rules: rules, minVotes: p.MinVotes}, nil
}

// Name returns "threshold".
func (t *Threshold) Name() string { return KindThreshold }

// Predict counts rule votes.
func (t *Threshold) Predict(ctx context.Context, f core.FeatureVector) (core.Label, error) {
	if err := ctx.Err(); err != nil {
		return core.Normal, err
	}
	return t.label(f), nil
}

func (t *Threshold) label(f core.FeatureVector) core.Label {
	votes := 0
	for _, r := range t.rules {
		if f[r.index] >= r.limit {
			votes++
			if votes >= t.minVotes {
				return core.Attack
			}
		}
	}
	return core.Normal
}
