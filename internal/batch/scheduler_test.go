package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetShrinksUnderLoad(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	now := time.Now()

	idle := s.TargetSize()
	assert.Equal(t, 512, idle, "an idle engine batches as large as the ledger allows")

	// Sustained arrivals at well above HighLoadRate.
	for i := 0; i < 200; i++ {
		now = now.Add(time.Millisecond)
		s.Observe(1, now)
	}
	busy := s.TargetSize()
	assert.Less(t, busy, idle)
	assert.GreaterOrEqual(t, busy, 32)
}

func TestTargetRecoversWhenLoadDrops(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	now := time.Now()

	for i := 0; i < 200; i++ {
		now = now.Add(time.Millisecond)
		s.Observe(1, now)
	}
	busy := s.TargetSize()

	// A long quiet gap decays the estimate.
	for i := 0; i < 20; i++ {
		now = now.Add(5 * time.Second)
		s.Observe(0, now)
	}
	assert.Greater(t, s.TargetSize(), busy)
}

func TestShouldFlushOnTarget(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MinTarget: 4, MaxEntries: 8, MaxWindow: time.Hour, HighLoadRate: 100})
	now := time.Now()

	assert.False(t, s.ShouldFlush(7, now))
	assert.True(t, s.ShouldFlush(8, now))
}

func TestShouldFlushOnWindowExpiry(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MinTarget: 4, MaxEntries: 512, MaxWindow: 2 * time.Second, HighLoadRate: 100})
	now := time.Now()
	s.MarkFlushed(now)

	assert.False(t, s.ShouldFlush(1, now.Add(time.Second)))
	assert.True(t, s.ShouldFlush(1, now.Add(2*time.Second)), "a lone intent must not wait past the window")
	assert.False(t, s.ShouldFlush(0, now.Add(time.Hour)), "an empty pool never flushes")
}
