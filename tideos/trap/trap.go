// Package trap runs a task's user code on the hart and answers every trap
// it raises: ecalls go to the syscall layer, faults kill the task.
package trap

import (
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"tide/tideos/hart"
	"tide/tideos/mm"
	"tide/tideos/riscv"
	"tide/tideos/syscall"
	"tide/tideos/task"
)

// Budget is how many instructions the hart runs before the loop checks
// for a stop request.
const Budget = 1 << 14

// Exit codes given to tasks killed by the kernel.
const (
	ExitPageFault   = -2
	ExitIllegalInst = -3
)

// Handler owns the user/kernel boundary for every task.
type Handler struct {
	proc    *task.Processor
	sys     *syscall.Layer
	log     hclog.Logger
	stopped atomic.Bool
}

// New returns a trap handler dispatching syscalls to sys.
func New(proc *task.Processor, sys *syscall.Layer, log hclog.Logger) *Handler {
	return &Handler{proc: proc, sys: sys, log: log}
}

// Stop asks every task to halt at its next budget boundary. Safe from any
// goroutine.
func (h *Handler) Stop() { h.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (h *Handler) Stopped() bool { return h.stopped.Load() }

// Return is the trap-return entry: it resumes t in user mode and handles
// traps until the task exits. It does not return.
func (h *Handler) Return(t *task.TCB) {
	for {
		var (
			cx riscv.TrapContext
			pt *mm.PageTable
		)
		t.With(func(in *task.Inner) {
			cx = in.TrapCx
			pt = in.MemorySet.PageTable()
		})
		tr, trapped := hart.New(pt, &cx).Run(Budget)
		t.With(func(in *task.Inner) { in.TrapCx = cx })
		if h.stopped.Load() {
			h.proc.Halt("stop requested")
		}
		if trapped {
			h.handle(t, tr, &cx)
		}
	}
}

func (h *Handler) handle(t *task.TCB, tr riscv.Trap, cx *riscv.TrapContext) {
	switch {
	case tr.Cause == riscv.CauseUserEnvCall:
		t.With(func(in *task.Inner) { in.TrapCx.Sepc += 4 })
		var args syscall.Args
		copy(args[:], cx.X[riscv.A0:riscv.A5+1])
		ret := h.sys.Dispatch(cx.X[riscv.A7], args)
		// exec may have replaced the context, so write a0 into whatever
		// context the task holds now.
		t.With(func(in *task.Inner) { in.TrapCx.X[riscv.A0] = uint64(ret) })
	case tr.Cause.IsPageFault():
		h.log.Info("killed task on memory fault", "pid", t.Pid, "cause", tr.Cause.String(),
			"addr", hclog.Fmt("%#x", tr.Tval), "pc", hclog.Fmt("%#x", cx.Sepc))
		h.proc.Exit(ExitPageFault)
	default:
		h.log.Info("killed task on bad instruction", "pid", t.Pid, "cause", tr.Cause.String(),
			"tval", hclog.Fmt("%#x", tr.Tval), "pc", hclog.Fmt("%#x", cx.Sepc))
		h.proc.Exit(ExitIllegalInst)
	}
}
