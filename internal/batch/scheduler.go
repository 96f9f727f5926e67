package batch

import (
	"sync"
	"time"
)

// SchedulerConfig bounds the adaptive flush policy.
type SchedulerConfig struct {
	// MinTarget is the smallest adaptive batch size, used under peak load
	// to favor latency.
	MinTarget int
	// MaxEntries is the host ledger's hard per-transaction entry ceiling;
	// the adaptive target never exceeds it and oversized pools are split.
	MaxEntries int
	// MaxWindow forces a flush when the oldest pending intent has waited
	// this long, regardless of pool size.
	MaxWindow time.Duration
	// HighLoadRate is the arrival rate (intents/second) at which the target
	// bottoms out at MinTarget.
	HighLoadRate float64
}

// DefaultSchedulerConfig mirrors the host ledger's limits.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MinTarget:    32,
		MaxEntries:   512,
		MaxWindow:    2 * time.Second,
		HighLoadRate: 500,
	}
}

// Scheduler decides flush timing and target batch size from observed load.
// High submission rates shrink the target (latency wins); quiet periods grow
// it toward the ledger ceiling (compression and cost win).
type Scheduler struct {
	mu  sync.Mutex
	cfg SchedulerConfig

	rate      float64 // EWMA of intents/second
	lastObs   time.Time
	lastFlush time.Time
}

const ewmaAlpha = 0.2

// NewScheduler creates a scheduler; zero config fields fall back to the
// defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.MinTarget <= 0 {
		cfg.MinTarget = def.MinTarget
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MinTarget > cfg.MaxEntries {
		cfg.MinTarget = cfg.MaxEntries
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	if cfg.HighLoadRate <= 0 {
		cfg.HighLoadRate = def.HighLoadRate
	}
	now := time.Now()
	return &Scheduler{cfg: cfg, lastObs: now, lastFlush: now}
}

// Observe records n intent arrivals and updates the load estimate.
func (s *Scheduler) Observe(n int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := now.Sub(s.lastObs).Seconds()
	if dt <= 0 {
		dt = 1e-3
	}
	instant := float64(n) / dt
	s.rate = ewmaAlpha*instant + (1-ewmaAlpha)*s.rate
	s.lastObs = now
}

// TargetSize returns the current adaptive batch size, interpolated between
// MaxEntries at zero load and MinTarget at HighLoadRate.
func (s *Scheduler) TargetSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetLocked()
}

func (s *Scheduler) targetLocked() int {
	load := s.rate / s.cfg.HighLoadRate
	if load > 1 {
		load = 1
	}
	span := float64(s.cfg.MaxEntries - s.cfg.MinTarget)
	target := s.cfg.MaxEntries - int(load*span)
	if target < s.cfg.MinTarget {
		target = s.cfg.MinTarget
	}
	return target
}

// ShouldFlush reports whether the pending pool is due: either it reached
// the adaptive target, or the window since the last flush elapsed while
// intents are waiting.
func (s *Scheduler) ShouldFlush(pending int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending <= 0 {
		return false
	}
	if pending >= s.targetLocked() {
		return true
	}
	return now.Sub(s.lastFlush) >= s.cfg.MaxWindow
}

// MarkFlushed resets the window timer after a flush.
func (s *Scheduler) MarkFlushed(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = now
}

// MaxEntries exposes the configured ledger ceiling.
func (s *Scheduler) MaxEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxEntries
}
