//go:build !tinygo

package hal

import "time"

const tickDur = time.Millisecond

// hostTime converts frame steps into 1ms ticks by measuring the wall time
// between steps. Ticks are dropped, never queued, when nobody reads.
type hostTime struct {
	ch  chan uint64
	seq uint64

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step is called once per frame; the first call emits n ticks.
func (t *hostTime) step(n uint64) {
	now := time.Now()
	if t.last.IsZero() {
		t.last = now
		t.emit(n)
		return
	}
	t.acc += now.Sub(t.last)
	t.last = now
	if ticks := uint64(t.acc / tickDur); ticks > 0 {
		t.acc %= tickDur
		t.emit(ticks)
	}
}

func (t *hostTime) emit(n uint64) {
	for ; n > 0; n-- {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
