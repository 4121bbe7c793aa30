package state

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryStartOnce(t *testing.T) {
	t.Parallel()
	s := New()
	var started int32
	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryStart(ActivityListener) {
				atomic.AddInt32(&started, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), started)
	assert.True(t, s.Running(ActivityListener))
	assert.False(t, s.Running(ActivityScheduler))

	s.Finish(ActivityListener)
	assert.True(t, s.TryStart(ActivityListener))
}

func TestListener(t *testing.T) {
	t.Parallel()
	s := New()
	assert.Equal(t, ListenerUnconfigured, s.Listener())
	assert.False(t, s.CompareSetListener(ListenerSubscribed, ListenerReconnecting))
	s.SetListener(ListenerSubscribed)
	assert.True(t, s.CompareSetListener(ListenerSubscribed, ListenerReconnecting))
	assert.Equal(t, "reconnecting", s.Listener().String())
	assert.Equal(t, "invalid", Listener(42).String())

	snap := s.Snapshot()
	assert.Equal(t, "reconnecting", snap.Listener)
	assert.Nil(t, snap.LastUplink)
	s.LastUplink.SetNow()
	assert.NotNil(t, s.Snapshot().LastUplink)
}

func TestSnapshotTimes(t *testing.T) {
	t.Parallel()
	s := New()
	snap := s.Snapshot()
	assert.Nil(t, snap.LastUplink)
	assert.Nil(t, snap.LastDownlink)
	assert.Nil(t, snap.LastReport)

	s.LastUplink.SetNow()
	s.LastReport.SetNow()
	snap = s.Snapshot()
	require.NotNil(t, snap.LastUplink)
	assert.WithinDuration(t, time.Now(), *snap.LastUplink, time.Second)
	assert.Nil(t, snap.LastDownlink)
	require.NotNil(t, snap.LastReport)
	assert.False(t, snap.LastReport.Before(snap.LastUplink.Add(-time.Second)))

	// encodes as RFC3339
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"last_uplink":"`+snap.LastUplink.Format(time.RFC3339Nano)+`"`)
	assert.NotContains(t, string(b), "last_downlink")
}
