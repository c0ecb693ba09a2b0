package market

import (
	"sync"
	"time"
)

// Clock supplies wall time and the number of whole interest periods elapsed
// since a loan started.
type Clock interface {
	Now() time.Time
	ElapsedPeriods(since time.Time) uint64
}

// PeriodClock counts whole periods of a fixed length against wall time.
type PeriodClock struct {
	Period time.Duration
	NowFn  func() time.Time
}

// NewPeriodClock returns a wall clock with the supplied period. Non-positive
// periods fall back to one day.
func NewPeriodClock(period time.Duration) PeriodClock {
	if period <= 0 {
		period = 24 * time.Hour
	}
	return PeriodClock{Period: period, NowFn: time.Now}
}

func (c PeriodClock) Now() time.Time {
	if c.NowFn == nil {
		return time.Now().UTC()
	}
	return c.NowFn().UTC()
}

func (c PeriodClock) ElapsedPeriods(since time.Time) uint64 {
	return elapsedPeriods(c.Now(), since, c.Period)
}

func elapsedPeriods(now, since time.Time, period time.Duration) uint64 {
	if period <= 0 || !now.After(since) {
		return 0
	}
	return uint64(now.Sub(since) / period)
}

// ManualClock is a Clock whose time only moves when told to.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	period time.Duration
}

// NewManualClock returns a manual clock starting at start.
func NewManualClock(start time.Time, period time.Duration) *ManualClock {
	if period <= 0 {
		period = 24 * time.Hour
	}
	return &ManualClock{now: start.UTC(), period: period}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) ElapsedPeriods(since time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return elapsedPeriods(c.now, since, c.period)
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AdvancePeriods moves the clock forward by n whole periods.
func (c *ManualClock) AdvancePeriods(n uint64) {
	c.mu.Lock()
	c.now = c.now.Add(time.Duration(n) * c.period)
	c.mu.Unlock()
}
