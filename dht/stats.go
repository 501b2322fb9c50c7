package dht

import (
	"sync"
	"time"
)

// Stats confines the engine's global mutable counters to a single
// reference-passed sink, rather than process-wide state: tests inject a
// fresh Stats per peer. It counts RPCs by method, bucket and storage
// refresh firings, and tracks scheduler lag samples.
type Stats struct {
	mu sync.Mutex

	rpcSent     map[string]int
	rpcReceived map[string]int

	bucketRefreshes  int
	storageRefreshes int

	schedulerFires int
	lagSamples     []time.Duration
}

// NewStats creates an empty counter sink.
func NewStats() *Stats {
	return &Stats{
		rpcSent:     make(map[string]int),
		rpcReceived: make(map[string]int),
	}
}

// RecordRPCSent increments the sent counter for method.
func (s *Stats) RecordRPCSent(method string) {
	s.mu.Lock()
	s.rpcSent[method]++
	s.mu.Unlock()
}

// RecordRPCReceived increments the received counter for method.
func (s *Stats) RecordRPCReceived(method string) {
	s.mu.Lock()
	s.rpcReceived[method]++
	s.mu.Unlock()
}

// RecordBucketRefresh increments the bucket-refresh fire counter.
func (s *Stats) RecordBucketRefresh() {
	s.mu.Lock()
	s.bucketRefreshes++
	s.mu.Unlock()
}

// RecordStorageRefresh increments the storage-republish fire counter.
func (s *Stats) RecordStorageRefresh() {
	s.mu.Lock()
	s.storageRefreshes++
	s.mu.Unlock()
}

// RecordSchedulerFire records one scheduler firing's lag (fired time
// minus scheduled time).
func (s *Stats) RecordSchedulerFire(lag time.Duration) {
	s.mu.Lock()
	s.schedulerFires++
	s.lagSamples = append(s.lagSamples, lag)
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters, safe to inspect
// without holding the Stats lock.
type Snapshot struct {
	RPCSent          map[string]int
	RPCReceived      map[string]int
	BucketRefreshes  int
	StorageRefreshes int
	SchedulerFires   int
	MaxLag           time.Duration
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent := make(map[string]int, len(s.rpcSent))
	for k, v := range s.rpcSent {
		sent[k] = v
	}
	received := make(map[string]int, len(s.rpcReceived))
	for k, v := range s.rpcReceived {
		received[k] = v
	}

	var maxLag time.Duration
	for _, l := range s.lagSamples {
		if l > maxLag {
			maxLag = l
		}
	}

	return Snapshot{
		RPCSent:          sent,
		RPCReceived:      received,
		BucketRefreshes:  s.bucketRefreshes,
		StorageRefreshes: s.storageRefreshes,
		SchedulerFires:   s.schedulerFires,
		MaxLag:           maxLag,
	}
}
