package term

import (
	"context"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"tide/hal"
)

type memFB struct {
	w, h     int
	buf      []byte
	presents atomic.Int32
}

func newMemFB(w, h int) *memFB { return &memFB{w: w, h: h, buf: make([]byte, w*h*2)} }

func (f *memFB) Width() int              { return f.w }
func (f *memFB) Height() int             { return f.h }
func (f *memFB) Format() hal.PixelFormat { return hal.PixelFormatRGB565 }
func (f *memFB) StrideBytes() int        { return f.w * 2 }
func (f *memFB) Buffer() []byte          { return f.buf }
func (f *memFB) Present() error          { f.presents.Add(1); return nil }
func (f *memFB) ClearRGB(r, g, b uint8) {
	p := hal.RGB565(r, g, b)
	for i := 0; i < len(f.buf); i += 2 {
		f.buf[i], f.buf[i+1] = byte(p), byte(p>>8)
	}
}

func lit(buf []byte) int {
	n := 0
	for i := 0; i < len(buf); i += 2 {
		if buf[i] != 0 || buf[i+1] != 0 {
			n++
		}
	}
	return n
}

// drive runs s until fb has been presented want times.
func drive(t *testing.T, s *Service, fb *memFB, want int32, feed func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan uint64)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ticks) }()
	feed()
	deadline := time.After(5 * time.Second)
	for seq := uint64(1); fb.presents.Load() < want; seq++ {
		select {
		case ticks <- seq:
		case <-deadline:
			cancel()
			t.Fatalf("expected %d presents, got %d", want, fb.presents.Load())
		}
	}
	cancel()
	<-done
}

func TestConsoleRendersText(t *testing.T) {
	fb := newMemFB(120, 40)
	s := New(fb)
	drive(t, s, fb, 2, func() {
		if n, err := s.Write([]byte("hi")); n != 2 || err != nil {
			t.Errorf("expected 2 bytes accepted, got %d (%v)", n, err)
		}
	})
	if lit(fb.buf) == 0 {
		t.Fatalf("expected text pixels on screen")
	}
}

func TestWriteDropsWhenFull(t *testing.T) {
	s := New(newMemFB(8, 8))
	for i := 0; i < queueDepth+3; i++ {
		s.Write([]byte("x"))
	}
	if s.Dropped() != 3 {
		t.Fatalf("expected 3 dropped writes, got %d", s.Dropped())
	}
}

func TestHaltScreen(t *testing.T) {
	fb := newMemFB(60, 30)
	s := New(fb)
	drive(t, s, fb, 2, func() { s.Halt([]string{"Tide halt:", "no ready task"}) })
	if n := lit(fb.buf); n == 0 || n == len(fb.buf)/2 {
		t.Fatalf("expected dark text on a white screen, got %d lit pixels of %d", n, len(fb.buf)/2)
	}
}

func TestScrollUpClearsBottom(t *testing.T) {
	fb := newMemFB(4, 4)
	d := &fbDisplay{fb: fb}
	fb.ClearRGB(255, 255, 255)
	if err := d.ScrollUp(1, color.RGBA{}); err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if lit(fb.buf[3*8:]) != 0 || lit(fb.buf[:3*8]) != 12 {
		t.Fatalf("expected the bottom row cleared and the rest kept")
	}
}

func TestTakeRunes(t *testing.T) {
	p, r := takeRunes("héllo", 2)
	if p != "hé" || r != "llo" {
		t.Fatalf("expected hé|llo, got %q|%q", p, r)
	}
	p, r = takeRunes("ab", 5)
	if p != "ab" || r != "" {
		t.Fatalf("expected ab|, got %q|%q", p, r)
	}
}
