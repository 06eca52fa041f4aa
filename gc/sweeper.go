package gc

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Sweeper: Periodic cycle collection
// ---------------------------------------------------------------------------

// DefaultSweepInterval is the default interval between collections.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically runs Collect on a collector so that reference
// cycles in long-running programs are reclaimed without explicit calls.
type Sweeper struct {
	collector *Collector
	interval  time.Duration
	enabled   atomic.Bool
	stop      chan struct{}
	stopped   chan struct{}
	mu        sync.Mutex // protects start/stop lifecycle

	sweepCount atomic.Uint64
	lastStats  atomic.Pointer[Stats]
}

// NewSweeper creates a sweeper for c. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(c *Collector, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		collector: c,
		interval:  interval,
	}
	s.enabled.Store(true)
	return s
}

// Start begins the sweep goroutine. Calling Start on a running sweeper
// does nothing.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	// Capture locally so the goroutine never reads fields Stop has cleared.
	stopCh := s.stop
	stoppedCh := s.stopped
	go s.loop(stopCh, stoppedCh)
}

// Stop halts the sweep goroutine and waits for it to exit. It is safe to
// call Stop more than once or on a sweeper that was never started.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled toggles sweeping without stopping the goroutine.
func (s *Sweeper) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// IsEnabled reports whether sweeping is enabled.
func (s *Sweeper) IsEnabled() bool {
	return s.enabled.Load()
}

// Interval returns the sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// SweepCount returns the number of sweeps performed.
func (s *Sweeper) SweepCount() uint64 {
	return s.sweepCount.Load()
}

// LastStats returns the statistics of the latest sweep, or nil.
func (s *Sweeper) LastStats() *Stats {
	return s.lastStats.Load()
}

// SweepNow runs a sweep immediately.
func (s *Sweeper) SweepNow() *Stats {
	return s.sweep()
}

func (s *Sweeper) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() {
				s.sweep()
			}
		}
	}
}

func (s *Sweeper) sweep() *Stats {
	stats := s.collector.Collect()
	s.sweepCount.Add(1)
	s.lastStats.Store(stats)
	return stats
}
