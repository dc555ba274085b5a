package timer

import (
	"context"
	"testing"
	"time"
)

func TestTimeValSplit(t *testing.T) {
	sec, usec := TimeVal(3*time.Second + 250*time.Microsecond)
	if sec != 3 || usec != 250 {
		t.Fatalf("expected 3s 250us, got %ds %dus", sec, usec)
	}
}

func TestFakeClock(t *testing.T) {
	now := 5 * time.Millisecond
	c := NewFake(func() time.Duration { return now })
	if c.Uptime() != 5*time.Millisecond {
		t.Fatalf("expected 5ms, got %v", c.Uptime())
	}
	now = time.Second
	if c.Uptime() != time.Second {
		t.Fatalf("expected 1s, got %v", c.Uptime())
	}
}

func TestPumpKeepsHighestTick(t *testing.T) {
	c := New()
	ch := make(chan uint64, 4)
	ch <- 3
	ch <- 1
	ch <- 7
	close(ch)
	c.Pump(context.Background(), ch)
	if c.Ticks() != 7 {
		t.Fatalf("expected 7 ticks, got %d", c.Ticks())
	}
}

func TestStartTickAdvances(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartTick(ctx)
	deadline := time.After(2 * time.Second)
	for c.Ticks() == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected ticks to advance")
		case <-time.After(time.Millisecond):
		}
	}
}
