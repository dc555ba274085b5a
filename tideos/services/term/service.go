// Package term is the console: it renders task output on the HAL
// framebuffer through a tinyterm VT100 terminal.
package term

import (
	"context"
	"image/color"
	"sync/atomic"
	"unicode/utf8"

	"tide/hal"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

const queueDepth = 256

// Service owns the terminal. Writes come from the kernel goroutine; Run
// drains them on the renderer goroutine, so the two never share the
// framebuffer.
type Service struct {
	fb hal.Framebuffer
	d  *fbDisplay
	t  *tinyterm.Terminal

	in      chan []byte
	halt    chan []string
	dropped atomic.Uint64
}

// New returns a console drawing on fb.
func New(fb hal.Framebuffer) *Service {
	return &Service{fb: fb, d: &fbDisplay{fb: fb}, in: make(chan []byte, queueDepth), halt: make(chan []string, 1)}
}

// Write queues p for rendering. It never blocks: output arriving while the
// queue is full is dropped and counted.
func (s *Service) Write(p []byte) (int, error) {
	select {
	case s.in <- append([]byte(nil), p...):
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped reports how many writes were lost to a full queue.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

// Run renders queued output and refreshes the screen on each tick until
// ctx is done.
func (s *Service) Run(ctx context.Context, ticks <-chan uint64) error {
	s.reset()
	dirty, halted := false, false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lines := <-s.halt:
			s.paintHalt(lines)
			halted = true
		case <-ticks:
			if halted {
				continue
			}
			if dirty {
				s.t.Display()
				dirty = false
			}
		case p := <-s.in:
			if halted {
				continue
			}
			_, _ = s.t.Write(p)
			dirty = true
		}
	}
}

func (s *Service) reset() {
	s.t = tinyterm.NewTerminal(s.d)
	s.t.Configure(&tinyterm.Config{
		Font:              &proggy.TinySZ8pt7b,
		FontHeight:        10,
		FontOffset:        6,
		UseSoftwareScroll: true,
	})
	s.fb.ClearRGB(0, 0, 0)
	_ = s.fb.Present()
}

// Halt replaces the console with a halt screen showing lines. Later output
// is discarded.
func (s *Service) Halt(lines []string) {
	select {
	case s.halt <- lines:
	default:
	}
}

const (
	glyphW = 6
	lineH  = 10
)

func (s *Service) paintHalt(lines []string) {
	s.fb.ClearRGB(255, 255, 255)
	fg := color.RGBA{A: 255}
	cols := max(s.fb.Width()/glyphW, 1)
	y := int16(lineH)
	for _, line := range lines {
		for line != "" && int(y) <= s.fb.Height() {
			var chunk string
			chunk, line = takeRunes(line, cols)
			tinyfont.WriteLine(s.d, &proggy.TinySZ8pt7b, 0, y, chunk, fg)
			y += lineH
		}
	}
	_ = s.fb.Present()
}

// takeRunes splits s after n runes.
func takeRunes(s string, n int) (prefix, rest string) {
	i := 0
	for count := 0; i < len(s) && count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], s[i:]
}
