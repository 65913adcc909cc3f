package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/floodgate/internal/core"
)

func TestTypeAliases(t *testing.T) {
	t.Run("Event", func(t *testing.T) {
		var ev Event
		ev.Source = Source("10.0.0.1")
		ev.Features[0] = 42
		ev.At = time.Unix(1_700_000_000, 0)

		var coreEv core.Event = ev
		assert.Equal(t, core.Source("10.0.0.1"), coreEv.Source)
		assert.Equal(t, 42.0, coreEv.Features[0])
	})

	t.Run("Label", func(t *testing.T) {
		var l core.Label = Attack
		assert.Equal(t, "attack", l.String())
		assert.Equal(t, core.Normal, Normal)
	})

	t.Run("FeatureVector", func(t *testing.T) {
		var f FeatureVector
		assert.Len(t, f, NumFeatures)
		assert.Equal(t, core.FeatureNames, FeatureNames)
	})
}
