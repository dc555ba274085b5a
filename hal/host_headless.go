//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	// Hz is the frame rate; each frame is one step and one tick burst.
	Hz int
	// Ticks stops the run after that many frames when non-zero.
	Ticks uint64
	// Stdin and Stdout carry the serial console. They default to the
	// process's own.
	Stdin  io.Reader
	Stdout io.Writer
}

// RunHeadless runs the machine with no framebuffer or keyboard, so its
// console is the serial line over Stdin and Stdout. step is called once per
// frame. The run ends with the machine's status once it calls Finish, with
// the first step error, with ctx's error, or with status 0 when the frame
// limit is reached.
func RunHeadless(ctx context.Context, newApp func(HAL) func() error, cfg HeadlessConfig) (int, error) {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return 0, fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	h := newHost(false, cfg.Stdin, cfg.Stdout)
	step := newApp(h)

	t := time.NewTicker(d)
	defer t.Stop()

	for frame := uint64(1); ; frame++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
		}
		h.t.step(1)
		if step != nil {
			if err := step(); err != nil {
				return 0, err
			}
		}
		if code, ok := h.fin.Status(); ok {
			return int(code), nil
		}
		if cfg.Ticks > 0 && frame >= cfg.Ticks {
			return 0, nil
		}
	}
}
