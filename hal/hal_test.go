package hal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type lineRecorder struct{ lines []string }

func (r *lineRecorder) WriteLineString(s string) { r.lines = append(r.lines, s) }
func (r *lineRecorder) WriteLineBytes(b []byte)  { r.lines = append(r.lines, string(b)) }

func TestLogWriterSplitsLines(t *testing.T) {
	rec := &lineRecorder{}
	w := LogWriter{L: rec}
	n, err := w.Write([]byte("one\ntwo\n\nthree"))
	if err != nil || n != 14 {
		t.Fatalf("expected 14 bytes written, got %d (%v)", n, err)
	}
	want := []string{"one", "two", "three"}
	if len(rec.lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.lines)
	}
	for i := range want {
		if rec.lines[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, rec.lines)
		}
	}
}

func TestKeyBytes(t *testing.T) {
	tests := []struct {
		ev   KeyEvent
		want []byte
	}{
		{KeyEvent{Press: true, Rune: 'a'}, []byte("a")},
		{KeyEvent{Press: true, Rune: 'é'}, []byte("é")},
		{KeyEvent{Press: true, Code: KeyEnter}, []byte{'\r'}},
		{KeyEvent{Press: true, Code: KeyBackspace}, []byte{0x7f}},
		{KeyEvent{Press: false, Code: KeyEnter}, nil},
		{KeyEvent{Press: true, Code: KeyUnknown}, nil},
	}
	for _, tt := range tests {
		if got := KeyBytes(tt.ev); !bytes.Equal(got, tt.want) {
			t.Fatalf("%+v: expected %q, got %q", tt.ev, tt.want, got)
		}
	}
}

func TestRGB565(t *testing.T) {
	if got := RGB565(255, 255, 255); got != 0xFFFF {
		t.Fatalf("expected 0xFFFF, got %#x", got)
	}
	r, g, b := rgb888From565(RGB565(255, 0, 255))
	if r != 255 || g != 0 || b != 255 {
		t.Fatalf("expected magenta, got %d %d %d", r, g, b)
	}
}

func TestFramebufferConvertsPresentedFrames(t *testing.T) {
	fb := newHostFramebuffer(4, 2)
	pix := make([]byte, 4*2*4)
	var seen uint64
	fb.ClearRGB(255, 255, 255)
	if fb.frontRGBA(pix, &seen) {
		t.Fatalf("expected nothing to convert before Present")
	}
	if err := fb.Present(); err != nil {
		t.Fatalf("present: %v", err)
	}
	if !fb.frontRGBA(pix, &seen) {
		t.Fatalf("expected the presented frame to convert")
	}
	if pix[0] != 0xff || pix[1] != 0xff || pix[2] != 0xff || pix[3] != 0xff {
		t.Fatalf("expected opaque white, got %v", pix[:4])
	}
	if fb.frontRGBA(pix, &seen) {
		t.Fatalf("expected the same frame not to convert twice")
	}
}

func TestExitLatchKeepsFirstStatus(t *testing.T) {
	var l ExitLatch
	if _, ok := l.Status(); ok {
		t.Fatalf("expected no status before Finish")
	}
	l.Finish(3)
	l.Finish(7)
	if code, ok := l.Status(); !ok || code != 3 {
		t.Fatalf("expected status 3, got %d (%v)", code, ok)
	}
}

func TestRunHeadlessServesSerialConsole(t *testing.T) {
	var out bytes.Buffer
	cfg := HeadlessConfig{Hz: 1000, Stdin: strings.NewReader("ping"), Stdout: &out}
	code, err := RunHeadless(context.Background(), func(h HAL) func() error {
		if h.Display() != nil || h.Input() != nil {
			t.Fatalf("expected no display or keyboard when headless")
		}
		rx := h.Serial().RX()
		var got []byte
		drain := func() {
			for {
				select {
				case b, ok := <-rx:
					if !ok {
						return
					}
					got = append(got, b)
				default:
					return
				}
			}
		}
		return func() error {
			drain()
			if string(got) == "ping" {
				h.Serial().Write([]byte("pong"))
				h.Finisher().Finish(3)
			}
			return nil
		}
	}, cfg)
	if err != nil || code != 3 {
		t.Fatalf("expected status 3, got %d (%v)", code, err)
	}
	if out.String() != "pong" {
		t.Fatalf("expected pong on the serial line, got %q", out.String())
	}
}

func TestRunHeadlessStops(t *testing.T) {
	cfg := HeadlessConfig{Hz: 1000, Ticks: 3, Stdin: strings.NewReader(""), Stdout: io.Discard}
	steps := 0
	code, err := RunHeadless(context.Background(), func(HAL) func() error {
		return func() error { steps++; return nil }
	}, cfg)
	if err != nil || code != 0 || steps != 3 {
		t.Fatalf("expected 3 clean steps, got %d steps, status %d (%v)", steps, code, err)
	}

	boom := errors.New("boom")
	_, err = RunHeadless(context.Background(), func(HAL) func() error {
		return func() error { return boom }
	}, cfg)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the step error, got %v", err)
	}
}

func TestHostTimeFirstStepEmits(t *testing.T) {
	ht := newHostTime()
	ht.step(3)
	for want := uint64(1); want <= 3; want++ {
		if got := <-ht.Ticks(); got != want {
			t.Fatalf("expected tick %d, got %d", want, got)
		}
	}
}
