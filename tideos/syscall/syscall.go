// Package syscall decodes user ecalls and carries them out against the
// current task.
package syscall

import (
	"github.com/hashicorp/go-hclog"

	"tide/tideos/fs"
	"tide/tideos/task"
	"tide/tideos/timer"
)

// Syscall ids.
const (
	SysUnlinkat    = 35
	SysLinkat      = 37
	SysOpen        = 56
	SysClose       = 57
	SysRead        = 63
	SysWrite       = 64
	SysFstat       = 80
	SysExit        = 93
	SysYield       = 124
	SysSetPriority = 140
	SysGetTime     = 169
	SysGetpid      = 172
	SysSbrk        = 214
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysSpawn       = 400
	SysTaskInfo    = 410
)

// Args are the raw argument registers a0..a5.
type Args [6]uint64

type sysentry struct {
	name string
	impl func(l *Layer, t *task.TCB, a Args) int64
}

var sysent = [task.MaxSyscallNum]sysentry{
	SysUnlinkat:    {"unlinkat", sysUnlinkat},
	SysLinkat:      {"linkat", sysLinkat},
	SysOpen:        {"open", sysOpen},
	SysClose:       {"close", sysClose},
	SysRead:        {"read", sysRead},
	SysWrite:       {"write", sysWrite},
	SysFstat:       {"fstat", sysFstat},
	SysExit:        {"exit", sysExit},
	SysYield:       {"yield", sysYield},
	SysSetPriority: {"set_priority", sysSetPriority},
	SysGetTime:     {"get_time", sysGetTime},
	SysGetpid:      {"getpid", sysGetpid},
	SysSbrk:        {"sbrk", sysSbrk},
	SysMunmap:      {"munmap", sysMunmap},
	SysFork:        {"fork", sysFork},
	SysExec:        {"exec", sysExec},
	SysMmap:        {"mmap", sysMmap},
	SysWaitpid:     {"waitpid", sysWaitpid},
	SysSpawn:       {"spawn", sysSpawn},
	SysTaskInfo:    {"task_info", sysTaskInfo},
}

// Name returns the name of a syscall id, or "" if it is not implemented.
func Name(id uint64) string {
	if id >= uint64(len(sysent)) {
		return ""
	}
	return sysent[id].name
}

// Layer is the syscall layer of one kernel instance.
type Layer struct {
	proc  *task.Processor
	fs    *fs.FS
	clock *timer.Clock
	log   hclog.Logger
}

// New wires the syscall layer to the processor, filesystem and clock.
func New(proc *task.Processor, fsys *fs.FS, clock *timer.Clock, log hclog.Logger) *Layer {
	return &Layer{proc: proc, fs: fsys, clock: clock, log: log}
}

// Dispatch runs syscall id for the current task and returns the value for
// a0. The per-task counter for id is bumped before the handler runs, and
// only while the task is Running.
func (l *Layer) Dispatch(id uint64, a Args) int64 {
	t := l.proc.Current()
	if t == nil {
		l.proc.Halt("syscall with no current task")
		return -1
	}
	if id < task.MaxSyscallNum {
		t.With(func(in *task.Inner) {
			if in.Status == task.Running {
				in.SyscallTimes[id]++
			}
		})
	}
	e := sysentry{}
	if id < uint64(len(sysent)) {
		e = sysent[id]
	}
	if e.impl == nil {
		l.log.Warn("unsupported syscall", "pid", t.Pid, "id", id)
		return -1
	}
	if l.log.IsTrace() {
		l.log.Trace("syscall", "pid", t.Pid, "name", e.name, "a0", hclog.Fmt("%#x", a[0]), "a1", hclog.Fmt("%#x", a[1]), "a2", hclog.Fmt("%#x", a[2]))
	}
	return e.impl(l, t, a)
}
