package dht

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// refreshMargin bounds the jitter window around the configured refresh
// interval: each firing schedules the next at a uniformly random instant
// in [target-margin/2, target+margin/2].
const refreshMargin = 4 * time.Second

// scheduler fires jittered, single-slot bucket-refresh and
// storage-republish timers. A single work queue per scheduler serializes
// every fired thunk so one peer never probes or refreshes itself
// concurrently (self-DoS prevention); cross-peer coordination is not
// attempted.
type scheduler struct {
	interval time.Duration
	tp       TimeProvider

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	work chan func()
	done chan struct{}
	wg   sync.WaitGroup

	stats *Stats
}

func newScheduler(interval time.Duration, tp TimeProvider, stats *Stats) *scheduler {
	if tp == nil {
		tp = GetDefaultTimeProvider()
	}
	s := &scheduler{
		interval: interval,
		tp:       tp,
		timers:   make(map[string]*time.Timer),
		work:     make(chan func(), 64),
		done:     make(chan struct{}),
		stats:    stats,
	}
	s.wg.Add(1)
	go s.runWorker()
	return s
}

func (s *scheduler) runWorker() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.done:
			return
		}
	}
}

// jitteredDelay returns a uniformly random duration in
// [interval-margin/2, interval+margin/2], floored at zero.
func (s *scheduler) jitteredDelay() time.Duration {
	half := refreshMargin / 2
	low := s.interval - half
	if low < 0 {
		low = 0
	}
	span := int64(s.interval + half - low)
	if span <= 0 {
		return low
	}
	return low + time.Duration(rand.Int63n(span))
}

// arm (re)schedules the single-slot timer identified by key to invoke fn
// after a jittered delay. Arming cancels any existing timer at the same
// key. A zero interval or a stopped scheduler silently cancels instead
// of scheduling.
func (s *scheduler) arm(key string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
		delete(s.timers, key)
	}

	if s.stopped || s.interval <= 0 {
		return
	}

	delay := s.jitteredDelay()
	scheduledFor := s.tp.Now().Add(delay)

	s.timers[key] = time.AfterFunc(delay, func() {
		s.fire(key, scheduledFor, fn)
	})
}

func (s *scheduler) fire(key string, scheduledFor time.Time, fn func()) {
	s.mu.Lock()
	delete(s.timers, key)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	select {
	case s.work <- func() {
		fired := s.tp.Now()
		fn()
		elapsed := s.tp.Since(fired)
		lag := fired.Sub(scheduledFor)
		if s.stats != nil {
			s.stats.RecordSchedulerFire(lag)
		}
		if lag > 250*time.Millisecond {
			logrus.WithFields(logrus.Fields{
				"component":      "scheduler",
				"key":            key,
				"lag_ms":         lag.Milliseconds(),
				"thunk_duration": elapsed.String(),
			}).Warn("scheduler fire lag exceeds 250ms, possible system overload")
		}
	}:
	case <-s.done:
	}
}

// cancel stops the timer at key, if any, without rearming it.
func (s *scheduler) cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[key]; ok {
		existing.Stop()
		delete(s.timers, key)
	}
}

// stop cancels all future fires. Already-running thunks complete.
func (s *scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
}

func bucketTimerKey(index int) string {
	return "bucket:" + strconv.Itoa(index)
}

func storageTimerKey(key Key) string {
	return "storage:" + key.String()
}
