// Package hal is the only contact point between the Tide machine and the
// host: log sink, console framebuffer, keyboard, serial line, tick source
// and the shutdown device.
package hal

import (
	"io"
	"sync"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// RGB565 packs an 8-bit-per-channel color.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// KeyCode is a minimal key identifier.
type KeyCode uint16

const (
	KeyUnknown KeyCode = iota
	KeyEnter
	KeyBackspace
	KeyTab
	KeyEscape
)

// KeyEvent is a keyboard event. Text input carries a Rune and no Code.
type KeyEvent struct {
	Code  KeyCode
	Press bool
	Rune  rune
}

// Keyboard provides key events.
type Keyboard interface {
	Events() <-chan KeyEvent
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Input provides access to input devices (if available).
type Input interface {
	Keyboard() Keyboard
}

// Time provides a 1ms tick stream.
type Time interface {
	Ticks() <-chan uint64
}

// Serial is the host terminal line. Bytes typed at the terminal arrive on
// RX, which is closed when the line hangs up.
type Serial interface {
	io.Writer
	RX() <-chan byte
}

// Finisher is the machine's shutdown device. The machine reports its exit
// status once; the host runner stops at the end of that frame and returns
// the status.
type Finisher interface {
	Finish(code int32)
	Status() (code int32, ok bool)
}

// HAL bundles the host devices. Display and Input are nil on a headless
// host.
type HAL interface {
	Logger() Logger
	Display() Display
	Input() Input
	Time() Time
	Serial() Serial
	Finisher() Finisher
}

// ExitLatch is a Finisher that keeps the first status it is given.
type ExitLatch struct {
	mu   sync.Mutex
	set  bool
	code int32
}

func (l *ExitLatch) Finish(code int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.set {
		l.set, l.code = true, code
	}
}

func (l *ExitLatch) Status() (int32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code, l.set
}

// LogWriter adapts a Logger to io.Writer, one line per non-empty line
// written. hclog writes whole lines, so partial lines are not buffered.
type LogWriter struct {
	L Logger
}

func (w LogWriter) Write(p []byte) (int, error) {
	start := 0
	for i, c := range p {
		if c != '\n' {
			continue
		}
		if i > start {
			w.L.WriteLineBytes(p[start:i])
		}
		start = i + 1
	}
	if start < len(p) {
		w.L.WriteLineBytes(p[start:])
	}
	return len(p), nil
}

// KeyBytes turns a key event into the bytes a console reader sees, or nil.
func KeyBytes(ev KeyEvent) []byte {
	if !ev.Press {
		return nil
	}
	if ev.Rune != 0 {
		if ev.Rune < 0x80 {
			return []byte{byte(ev.Rune)}
		}
		return []byte(string(ev.Rune))
	}
	switch ev.Code {
	case KeyEnter:
		return []byte{'\r'}
	case KeyBackspace:
		return []byte{0x7f}
	case KeyTab:
		return []byte{'\t'}
	case KeyEscape:
		return []byte{0x1b}
	}
	return nil
}
