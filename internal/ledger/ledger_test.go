package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/floodgate/internal/core"
)

func TestLedger_RecordAndGet(t *testing.T) {
	l := New(time.Minute)
	now := time.Now()

	l.Record(Detection{Source: "172.16.0.7", Reason: core.ReasonDetection, At: now})
	l.Record(Detection{Source: "172.16.0.7", Reason: core.ReasonDetection, At: now.Add(time.Second)})

	d, ok := l.Get("172.16.0.7")
	require.True(t, ok)
	assert.Equal(t, 2, d.Count)
	assert.Equal(t, now.Add(time.Second), d.At)
	assert.Equal(t, 1, l.Len())
}

func TestLedger_IgnoresEmptySource(t *testing.T) {
	l := New(time.Minute)
	l.Record(Detection{})
	assert.Equal(t, 0, l.Len())
}

func TestLedger_SnapshotNewestFirst(t *testing.T) {
	l := New(time.Minute)
	now := time.Now()
	l.Record(Detection{Source: "a", Reason: core.ReasonDetection, At: now})
	l.Record(Detection{Source: "b", Reason: core.ReasonFailClosed, At: now.Add(time.Second)})

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, core.Source("b"), snap[0].Source)

	s := l.Summary()
	assert.Equal(t, 2, s.ActiveSources)
	assert.Equal(t, 1, s.ByReason[core.ReasonDetection])
	assert.Equal(t, 1, s.ByReason[core.ReasonFailClosed])
	assert.Equal(t, now.Add(time.Second), s.LastUpdated)
}

func TestLedger_Expiry(t *testing.T) {
	l := New(50 * time.Millisecond)
	l.Record(Detection{Source: "a", Reason: core.ReasonDetection, At: time.Now()})

	assert.Eventually(t, func() bool {
		_, ok := l.Get("a")
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, l.Snapshot())
}

func TestLedger_Flush(t *testing.T) {
	l := New(0)
	l.Record(Detection{Source: "a"})
	l.Flush()
	assert.Equal(t, 0, l.Len())
}
