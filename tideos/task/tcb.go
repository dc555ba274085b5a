package task

import (
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"

	"tide/tideos/fs"
	"tide/tideos/mm"
	"tide/tideos/riscv"
	"tide/tideos/upsafe"
)

// MaxSyscallNum bounds the syscall ids that are counted per task.
const MaxSyscallNum = 500

// Status is a task's scheduling state.
type Status uint32

const (
	UnInit Status = iota
	Ready
	Running
	Zombie
)

func (s Status) String() string {
	switch s {
	case UnInit:
		return "uninit"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// Env is what task construction needs from the rest of the kernel.
type Env struct {
	Mem   *mm.PhysMemory
	Table *Table
	// Stdio seeds fds 0, 1 and 2 of every new task.
	Stdio [3]fs.File
	Now   func() time.Duration
	Log   hclog.Logger
}

// Inner is the mutable part of a TCB, reachable only through TCB.With.
type Inner struct {
	Status     Status
	MemorySet  *mm.MemorySet
	TrapCx     riscv.TrapContext
	HeapBottom uint64
	ProgramBrk uint64

	// Parent is a lookup key into the task table, valid when HasParent.
	Parent    Pid
	HasParent bool
	Children  []Pid

	FdTable []fs.File

	Priority uint64
	Stride   uint64
	Pass     uint64

	SyscallTimes [MaxSyscallNum]uint32
	StartTime    time.Duration
	Started      bool
	ExitCode     int32
}

// AllocFd returns the lowest free descriptor, growing the table if needed.
func (in *Inner) AllocFd() int {
	for fd, f := range in.FdTable {
		if f == nil {
			return fd
		}
	}
	in.FdTable = append(in.FdTable, nil)
	return len(in.FdTable) - 1
}

// SetPriority updates priority and pass. Priorities below 2 are refused.
func (in *Inner) SetPriority(prio int64) bool {
	if prio < 2 {
		return false
	}
	in.Priority = uint64(prio)
	in.Pass = BigStride / in.Priority
	return true
}

// TCB is a task control block.
type TCB struct {
	Pid   Pid
	env   *Env
	cx    Context
	inner *upsafe.Cell[Inner]
}

func newTCB(env *Env, pid Pid, in Inner) *TCB {
	t := &TCB{
		Pid:   pid,
		env:   env,
		cx:    newContext(),
		inner: upsafe.New(fmt.Sprintf("tcb %d", pid), in),
	}
	env.Table.insert(t)
	return t
}

// With runs fn with exclusive access to the task's mutable state. fn must
// not switch contexts.
func (t *TCB) With(fn func(in *Inner)) { t.inner.With(fn) }

// Stride returns the task's current stride.
func (t *TCB) Stride() uint64 {
	return upsafe.Get(t.inner, func(in *Inner) uint64 { return in.Stride })
}

// Status returns the task's scheduling state.
func (t *TCB) Status() Status {
	return upsafe.Get(t.inner, func(in *Inner) Status { return in.Status })
}

// Token returns the satp value of the task's address space.
func (t *TCB) Token() uint64 {
	return upsafe.Get(t.inner, func(in *Inner) uint64 { return in.MemorySet.Token() })
}

func freshInner(env *Env, img mm.Image) Inner {
	return Inner{
		Status:     Ready,
		MemorySet:  img.Set,
		TrapCx:     riscv.AppInitContext(img.Entry, img.UserSP),
		HeapBottom: img.HeapStart,
		ProgramBrk: img.HeapStart,
		FdTable:    []fs.File{env.Stdio[0], env.Stdio[1], env.Stdio[2]},
		Priority:   DefaultPriority,
		Pass:       BigStride / DefaultPriority,
	}
}

// New loads an ELF image into a fresh Ready task with no parent.
func New(env *Env, image []byte) (*TCB, error) {
	img, err := mm.FromELF(env.Mem, image)
	if err != nil {
		return nil, err
	}
	pid := env.Table.allocPid()
	t := newTCB(env, pid, freshInner(env, img))
	env.Log.Debug("task created", "pid", pid, "entry", hclog.Fmt("%#x", img.Entry))
	return t, nil
}

// Fork duplicates the task. The child gets a deep copy of every mapped
// area, shares the parent's open files, keeps its priority, and starts
// from stride zero. The caller sets the child's return value.
func (t *TCB) Fork() (*TCB, error) {
	var (
		child Inner
		err   error
	)
	t.With(func(in *Inner) {
		var ms *mm.MemorySet
		if ms, err = mm.FromExisted(in.MemorySet); err != nil {
			return
		}
		child = Inner{
			Status:     Ready,
			MemorySet:  ms,
			TrapCx:     in.TrapCx,
			HeapBottom: in.HeapBottom,
			ProgramBrk: in.ProgramBrk,
			Parent:     t.Pid,
			HasParent:  true,
			FdTable:    slices.Clone(in.FdTable),
			Priority:   in.Priority,
			Pass:       BigStride / in.Priority,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fork %d: %w", t.Pid, err)
	}
	pid := t.env.Table.allocPid()
	c := newTCB(t.env, pid, child)
	t.With(func(in *Inner) { in.Children = append(in.Children, pid) })
	t.env.Log.Debug("fork", "parent", t.Pid, "child", pid)
	return c, nil
}

// Exec replaces the address space and trap context with a new image. On
// failure the task is left exactly as it was.
func (t *TCB) Exec(image []byte) error {
	img, err := mm.FromELF(t.env.Mem, image)
	if err != nil {
		return fmt.Errorf("exec %d: %w", t.Pid, err)
	}
	var old *mm.MemorySet
	t.With(func(in *Inner) {
		old = in.MemorySet
		in.MemorySet = img.Set
		in.TrapCx = riscv.AppInitContext(img.Entry, img.UserSP)
		in.HeapBottom = img.HeapStart
		in.ProgramBrk = img.HeapStart
	})
	old.Recycle()
	t.env.Log.Debug("exec", "pid", t.Pid, "entry", hclog.Fmt("%#x", img.Entry))
	return nil
}

// Spawn builds a child directly from an image without copying this task's
// address space. The child is returned un-enqueued.
func (t *TCB) Spawn(image []byte) (*TCB, error) {
	img, err := mm.FromELF(t.env.Mem, image)
	if err != nil {
		return nil, fmt.Errorf("spawn from %d: %w", t.Pid, err)
	}
	in := freshInner(t.env, img)
	in.Parent, in.HasParent = t.Pid, true
	pid := t.env.Table.allocPid()
	c := newTCB(t.env, pid, in)
	t.With(func(in *Inner) { in.Children = append(in.Children, pid) })
	t.env.Log.Debug("spawn", "parent", t.Pid, "child", pid)
	return c, nil
}

// ChangeProgramBrk moves the heap break by delta bytes and returns the old
// break. It fails below the heap base or when growth would hit another
// area.
func (t *TCB) ChangeProgramBrk(delta int32) (uint64, bool) {
	var (
		old uint64
		ok  bool
	)
	t.With(func(in *Inner) {
		old = in.ProgramBrk
		next := int64(in.ProgramBrk) + int64(delta)
		if next < int64(in.HeapBottom) {
			return
		}
		if delta < 0 {
			ok = in.MemorySet.ShrinkTo(mm.VirtAddr(in.HeapBottom), mm.VirtAddr(next))
		} else {
			ok = in.MemorySet.AppendTo(mm.VirtAddr(in.HeapBottom), mm.VirtAddr(next))
		}
		if ok {
			in.ProgramBrk = uint64(next)
		}
	})
	return old, ok
}

// destroy releases the address space, the fd table and the pid.
func (t *TCB) destroy() {
	var ms *mm.MemorySet
	t.With(func(in *Inner) {
		ms = in.MemorySet
		in.MemorySet = nil
		in.FdTable = nil
	})
	if ms != nil {
		ms.Recycle()
	}
	t.env.Table.remove(t.Pid)
}
