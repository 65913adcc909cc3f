// Package classifier defines the traffic classifier contract and the
// built-in implementations.
package classifier

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/floodgate/internal/core"
)

// Classifier labels a feature vector. Predict must be deterministic for a
// fixed input and model state, must not modify its input and should return
// promptly once ctx is done.
type Classifier interface {
	Name() string
	Predict(ctx context.Context, features core.FeatureVector) (core.Label, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, features core.FeatureVector) (core.Label, error)

// Name returns "func".
func (f Func) Name() string { return "func" }

// Predict calls f.
func (f Func) Predict(ctx context.Context, features core.FeatureVector) (core.Label, error) {
	return f(ctx, features)
}

// Kinds understood by New.
const (
	KindThreshold = "threshold"
	KindRemote    = "remote"
)

// New builds a classifier of the given kind from its parameter map.
func New(kind string, params map[string]any) (Classifier, error) {
	switch kind {
	case KindThreshold, "":
		var p ThresholdParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewThreshold(p)
	case KindRemote:
		var p RemoteParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewRemote(p)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownClassifier, kind)
	}
}

// decodeParams maps a loosely typed YAML section onto a params struct.
// Durations may be given as strings ("250ms").
func decodeParams(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return core.NewConfigError("classifier.params", "%v", err)
	}
	return nil
}
