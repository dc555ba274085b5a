// Package app wires a HAL to a Tide kernel: console output, keyboard and
// serial input, the tick stream, the shutdown device and the halt screen.
package app

import (
	"context"
	"errors"
	"io"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"tide/hal"
	"tide/internal/buildinfo"
	"tide/tideos/kernel"
	"tide/tideos/services/term"
	"tide/tideos/timer"
)

// ErrShutdown is reported by the step function once the machine is gone
// without reporting an exit status, e.g. after Stop.
var ErrShutdown = errors.New("app: shut down")

// errPoweredOff ends the run group once init's status is with the
// Finisher.
var errPoweredOff = errors.New("app: powered off")

type Config struct {
	Boot kernel.Config
}

// System is one running machine on one HAL.
type System struct {
	h     hal.HAL
	cfg   Config
	log   hclog.Logger
	k     *kernel.Kernel
	con   *term.Service
	clock *timer.Clock
	input chan byte
}

// New boots a kernel on h. The console is the framebuffer when h has one
// and the serial line otherwise. Nothing runs until Run.
func New(h hal.HAL, cfg Config) (*System, error) {
	s := &System{
		h:     h,
		cfg:   cfg,
		clock: timer.New(),
		input: make(chan byte, 256),
	}
	s.log = hclog.New(&hclog.LoggerOptions{
		Name:   "tide",
		Level:  cfg.Boot.LogLevel,
		Output: hal.LogWriter{L: h.Logger()},
	})

	var stdout io.Writer = io.Discard
	if sr := h.Serial(); sr != nil {
		stdout = sr
	}
	if d := h.Display(); d != nil && d.Framebuffer() != nil {
		s.con = term.New(d.Framebuffer())
		stdout = s.con
	}

	s.log.Info(buildinfo.String())
	k, err := kernel.New(kernel.Options{
		Config: cfg.Boot,
		Log:    s.log.Named("kernel"),
		Stdout: stdout,
		Input:  s.input,
		Clock:  s.clock,
		OnHalt: s.onHalt,
	})
	if err != nil {
		return nil, err
	}
	s.k = k
	return s, nil
}

// Run drives the machine until init exits, the kernel halts, or ctx is
// done. Init's exit code goes to the HAL's Finisher and Run returns nil.
// After a halt with a screen attached it keeps the halt screen up until
// ctx is done; without one it returns the halt error.
func (s *System) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	clockTicks := make(chan uint64, 64)
	conTicks := make(chan uint64, 64)
	g.Go(func() error {
		s.fanOutTicks(ctx, clockTicks, conTicks)
		return nil
	})
	g.Go(func() error {
		s.clock.Pump(ctx, clockTicks)
		return nil
	})
	if s.con != nil {
		g.Go(func() error {
			if err := s.con.Run(ctx, conTicks); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if in := s.h.Input(); in != nil && in.Keyboard() != nil {
		g.Go(func() error {
			s.pumpKeys(ctx, in.Keyboard().Events())
			return nil
		})
	}
	if sr := s.h.Serial(); sr != nil {
		g.Go(func() error {
			s.pumpSerial(ctx, sr.RX())
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		s.k.Stop()
		return nil
	})
	g.Go(func() error {
		code, err := s.k.Run()
		s.log.Info("kernel finished", "ticks", s.clock.Ticks(), "uptime", s.clock.Uptime())
		switch {
		case err == nil:
			if fin := s.h.Finisher(); fin != nil {
				fin.Finish(code)
			}
			return errPoweredOff
		case errors.Is(err, kernel.ErrStopped):
			return nil
		case s.con != nil:
			<-ctx.Done()
			return nil
		default:
			return err
		}
	})
	if err := g.Wait(); !errors.Is(err, errPoweredOff) {
		return err
	}
	return nil
}

// Start runs a System in the background and returns the per-frame step
// function the HAL runners expect. The step returns nil while the machine
// runs and after it has reported its exit status; a failed boot or halt
// is returned as is, and a run that ended any other way as ErrShutdown.
func Start(ctx context.Context, h hal.HAL, cfg Config) func() error {
	s, err := New(h, cfg)
	if err != nil {
		return func() error { return err }
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	var (
		result error
		ended  bool
	)
	return func() error {
		if !ended {
			select {
			case err := <-done:
				ended, result = true, err
				if result == nil && !finished(h) {
					result = ErrShutdown
				}
			default:
			}
		}
		return result
	}
}

func finished(h hal.HAL) bool {
	fin := h.Finisher()
	if fin == nil {
		return false
	}
	_, ok := fin.Status()
	return ok
}

func (s *System) fanOutTicks(ctx context.Context, outs ...chan uint64) {
	ht := s.h.Time()
	if ht == nil {
		return
	}
	ticks := ht.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case seq, ok := <-ticks:
			if !ok {
				return
			}
			for _, out := range outs {
				select {
				case out <- seq:
				default:
				}
			}
		}
	}
}

func (s *System) feed(ctx context.Context, p []byte) bool {
	for _, b := range p {
		select {
		case s.input <- b:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (s *System) pumpKeys(ctx context.Context, events <-chan hal.KeyEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !s.feed(ctx, hal.KeyBytes(ev)) {
				return
			}
		}
	}
}

func (s *System) pumpSerial(ctx context.Context, rx <-chan byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-rx:
			if !ok {
				s.log.Debug("serial line hung up")
				return
			}
			if !s.feed(ctx, []byte{b}) {
				return
			}
		}
	}
}
