// Package kernel builds a Tide machine from its parts and runs it: physical
// memory, the task table, the filesystem with the bundled programs, the
// processor, the syscall layer and the trap handler.
package kernel

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"tide/tideos/fs"
	"tide/tideos/loader"
	"tide/tideos/mm"
	"tide/tideos/syscall"
	"tide/tideos/task"
	"tide/tideos/timer"
	"tide/tideos/trap"
)

// ErrStopped is returned by Run when Stop ended the machine.
var ErrStopped = errors.New("kernel: stopped")

// idleWait bounds how long the core sleeps for console input when every
// ready task is waiting on stdin.
const idleWait = 10 * time.Millisecond

// HaltInfo describes a fatal kernel condition.
type HaltInfo struct {
	Reason string
	Stack  []byte
}

// Options wire a kernel to its host.
type Options struct {
	Config Config
	// Log receives kernel logs. Nil builds an hclog logger writing to
	// LogOutput.
	Log       hclog.Logger
	LogOutput io.Writer
	// Stdout receives everything tasks write to fds 1 and 2.
	Stdout io.Writer
	// Input delivers console bytes for fd 0.
	Input <-chan byte
	Clock *timer.Clock
	// OnHalt is called once on a fatal condition, from the kernel goroutine.
	OnHalt func(HaltInfo)
}

// Kernel is one booted machine.
type Kernel struct {
	cfg   Config
	log   hclog.Logger
	mem   *mm.PhysMemory
	table *task.Table
	fs    *fs.FS
	clock *timer.Clock
	proc  *task.Processor
	sys   *syscall.Layer
	trap  *trap.Handler
	con   *console

	onHalt   func(HaltInfo)
	haltOnce sync.Once
}

// New boots a kernel: it installs the bundled programs and loads
// cfg.Init as the root task. Run starts scheduling.
func New(opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg.Init == "" {
		cfg = DefaultConfig()
	}
	log := opts.Log
	if log == nil {
		out := opts.LogOutput
		if out == nil {
			out = io.Discard
		}
		log = hclog.New(&hclog.LoggerOptions{
			Name:   "kernel",
			Level:  cfg.LogLevel,
			Output: out,
		})
	}
	clock := opts.Clock
	if clock == nil {
		clock = timer.New()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	k := &Kernel{
		cfg:    cfg,
		log:    log,
		mem:    mm.NewPhysMemory(cfg.Frames * mm.PageSize),
		table:  task.NewTable(),
		fs:     fs.New(),
		clock:  clock,
		onHalt: opts.OnHalt,
	}
	if err := loader.Install(k.fs); err != nil {
		return nil, err
	}

	k.con = &console{k: k, in: opts.Input}
	out := &fs.Stdout{Out: stdout}
	env := &task.Env{
		Mem:   k.mem,
		Table: k.table,
		Stdio: [3]fs.File{&fs.Stdin{Poll: k.con.poll, Yield: k.con.idle}, out, out},
		Now:   clock.Uptime,
		Log:   log.Named("task"),
	}

	var ready task.Manager = task.NewStride()
	if cfg.Sched == "fifo" {
		ready = task.NewFIFO()
	}
	k.proc = task.NewProcessor(env, ready)
	k.sys = syscall.New(k.proc, k.fs, clock, log.Named("syscall"))
	k.trap = trap.New(k.proc, k.sys, log.Named("trap"))
	k.proc.SetEntry(k.trap.Return)
	k.proc.OnHalt(k.halt)

	img, err := k.fs.ReadFile(cfg.Init)
	if err != nil {
		return nil, fmt.Errorf("kernel: init program %q: %w", cfg.Init, err)
	}
	root, err := task.New(env, img)
	if err != nil {
		return nil, fmt.Errorf("kernel: load %q: %w", cfg.Init, err)
	}
	k.proc.Add(root)
	log.Info("booted", "init", cfg.Init, "sched", cfg.Sched, "frames", cfg.Frames, "apps", len(k.fs.Names()))
	return k, nil
}

// Run schedules tasks until the root task exits and returns its exit
// code. A fatal condition returns an error wrapping task.ErrHalted; Stop
// returns ErrStopped.
func (k *Kernel) Run() (int32, error) {
	code, err := k.proc.Run()
	if err != nil && k.trap.Stopped() {
		return 0, ErrStopped
	}
	if err == nil {
		k.log.Info("init exited, shutting down", "code", code)
	}
	return code, err
}

// Stop ends Run at the next instruction budget or console poll. Safe from
// any goroutine.
func (k *Kernel) Stop() { k.trap.Stop() }

// FS returns the root filesystem.
func (k *Kernel) FS() *fs.FS { return k.fs }

// FreeFrames reports unallocated physical frames.
func (k *Kernel) FreeFrames() int { return k.mem.FreeFrames() }

// halt is the once-only fatal handler.
func (k *Kernel) halt(reason string) {
	k.haltOnce.Do(func() {
		if k.trap.Stopped() {
			return
		}
		info := HaltInfo{Reason: reason, Stack: debug.Stack()}
		k.log.Error("halt", "reason", reason)
		if k.onHalt != nil {
			k.onHalt(info)
		}
	})
}

// console backs fd 0.
type console struct {
	k       *Kernel
	in      <-chan byte
	pending []byte
}

func (c *console) poll() (byte, bool) {
	if c.k.trap.Stopped() {
		c.k.proc.Halt("stop requested")
	}
	if len(c.pending) > 0 {
		b := c.pending[0]
		c.pending = c.pending[1:]
		return b, true
	}
	select {
	case b, ok := <-c.in:
		if ok {
			return b, true
		}
	default:
	}
	return 0, false
}

// idle gives the core away while a reader waits. When nobody else is
// ready it sleeps on the input channel first so the host does not spin.
func (c *console) idle() {
	if c.k.proc.ReadyLen() == 0 && c.in != nil {
		t := time.NewTimer(idleWait)
		select {
		case b, ok := <-c.in:
			if ok {
				c.pending = append(c.pending, b)
			}
		case <-t.C:
		}
		t.Stop()
	}
	c.k.proc.Yield()
}
