//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Host console geometry in pixels.
const (
	hostWidth  = 480
	hostHeight = 320
)

type hostHAL struct {
	logger *hostLogger
	fb     *hostFramebuffer
	kbd    *hostKeyboard
	t      *hostTime
	serial *hostSerial
	fin    ExitLatch
}

// New returns the host HAL the window runner uses. Logs go to stderr so
// stdout is left to the serial line.
func New() HAL { return newHost(true, os.Stdin, os.Stdout) }

// newHost builds a host machine. Without a window there is no framebuffer
// or keyboard, so the console falls back to the serial line.
func newHost(window bool, stdin io.Reader, stdout io.Writer) *hostHAL {
	h := &hostHAL{
		logger: &hostLogger{w: os.Stderr},
		t:      newHostTime(),
		serial: newHostSerial(stdin, stdout),
	}
	if window {
		h.fb = newHostFramebuffer(hostWidth, hostHeight)
		h.kbd = newHostKeyboard()
	}
	return h
}

func (h *hostHAL) Logger() Logger     { return h.logger }
func (h *hostHAL) Time() Time         { return h.t }
func (h *hostHAL) Serial() Serial     { return h.serial }
func (h *hostHAL) Finisher() Finisher { return &h.fin }

func (h *hostHAL) Display() Display {
	if h.fb == nil {
		return nil
	}
	return hostDisplay{fb: h.fb}
}

func (h *hostHAL) Input() Input {
	if h.kbd == nil {
		return nil
	}
	return hostInput{kbd: h.kbd}
}

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostInput struct {
	kbd *hostKeyboard
}

func (in hostInput) Keyboard() Keyboard { return in.kbd }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

// hostSerial is a terminal line over a reader and a writer. The reader is
// started the first time someone listens on RX.
type hostSerial struct {
	mu    sync.Mutex
	w     io.Writer
	r     io.Reader
	rx    chan byte
	start sync.Once
}

func newHostSerial(r io.Reader, w io.Writer) *hostSerial {
	return &hostSerial{r: r, w: w, rx: make(chan byte, 256)}
}

func (s *hostSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *hostSerial) RX() <-chan byte {
	s.start.Do(func() { go s.receive() })
	return s.rx
}

// receive blocks in Read without a deadline, so it lives until the line
// hangs up or the process ends.
func (s *hostSerial) receive() {
	defer close(s.rx)
	if s.r == nil {
		return
	}
	buf := make([]byte, 64)
	for {
		n, err := s.r.Read(buf)
		for _, b := range buf[:n] {
			s.rx <- b
		}
		if err != nil {
			return
		}
	}
}
