// Package timer is the kernel timebase: a monotonic uptime clock plus a
// millisecond tick counter fed by the HAL.
package timer

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock measures uptime since boot.
type Clock struct {
	boot  time.Time
	since func(time.Time) time.Duration
	ticks atomic.Uint64
}

// New starts a clock at the current instant.
func New() *Clock {
	return &Clock{boot: time.Now(), since: time.Since}
}

// NewFake returns a clock whose uptime is read from now. Tests use it to
// control time.
func NewFake(now func() time.Duration) *Clock {
	return &Clock{since: func(time.Time) time.Duration { return now() }}
}

// Uptime is the time since boot.
func (c *Clock) Uptime() time.Duration { return c.since(c.boot) }

// Ticks returns the tick count (1ms per tick).
func (c *Clock) Ticks() uint64 { return c.ticks.Load() }

// StartTick increments the tick counter from a 1ms host ticker until ctx
// is done.
func (c *Clock) StartTick(ctx context.Context) {
	go func() {
		t := time.NewTicker(time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.ticks.Add(1)
			}
		}
	}()
}

// Pump follows a HAL tick channel, keeping the highest sequence number
// seen, until ctx is done or the channel closes.
func (c *Clock) Pump(ctx context.Context, ticks <-chan uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case seq, ok := <-ticks:
			if !ok {
				return
			}
			for {
				cur := c.ticks.Load()
				if seq <= cur || c.ticks.CompareAndSwap(cur, seq) {
					break
				}
			}
		}
	}
}

// TimeVal splits d into whole seconds and the remaining microseconds.
func TimeVal(d time.Duration) (sec, usec uint64) {
	us := uint64(d / time.Microsecond)
	return us / 1_000_000, us % 1_000_000
}
