package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerArmFiresOnce(t *testing.T) {
	s := newScheduler(10*time.Millisecond, nil, NewStats())
	defer s.stop()

	fired := make(chan struct{}, 1)
	s.arm("k1", func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestSchedulerArmCancelsPriorTimer(t *testing.T) {
	s := newScheduler(2*time.Second, nil, NewStats())
	defer s.stop()

	fires := make(chan int, 4)
	s.arm("k1", func() { fires <- 1 })
	// Re-arming before the first fires must cancel it outright, and the
	// cancel below removes the second, so nothing may fire for this key.
	s.arm("k1", func() { fires <- 2 })
	s.cancel("k1")

	select {
	case v := <-fires:
		t.Fatalf("expected no fire after cancel, got %d", v)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSchedulerZeroIntervalDisablesFiring(t *testing.T) {
	s := newScheduler(0, nil, NewStats())
	defer s.stop()

	fired := false
	s.arm("k1", func() { fired = true })

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired)
}

func TestSchedulerStopPreventsFutureFires(t *testing.T) {
	s := newScheduler(10*time.Millisecond, nil, NewStats())

	fires := make(chan struct{}, 4)
	s.arm("k1", func() { fires <- struct{}{} })
	s.stop()

	select {
	case <-fires:
		t.Fatal("no timer may fire after stop")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSchedulerRecordsStatsOnFire(t *testing.T) {
	stats := NewStats()
	s := newScheduler(5*time.Millisecond, nil, stats)
	defer s.stop()

	done := make(chan struct{})
	s.arm("k1", func() { close(done) })

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timer never fired")
	}

	// Give the stats update (which runs after the thunk, inside the same
	// work-queue closure) a moment to land.
	require.Eventually(t, func() bool {
		return s.statsFireCount() > 0
	}, time.Second, 5*time.Millisecond)
}

// statsFireCount is a tiny test-only accessor so the assertion above does
// not need to reach past Stats' exported Snapshot just to poll one field.
func (s *scheduler) statsFireCount() int {
	if s.stats == nil {
		return 0
	}
	return s.stats.Snapshot().SchedulerFires
}

func TestBucketAndStorageTimerKeysAreDistinctNamespaces(t *testing.T) {
	k := DeriveKey("foo", 64)
	assert.NotEqual(t, bucketTimerKey(5), storageTimerKey(k))
}
