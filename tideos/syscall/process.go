package syscall

import (
	"encoding/binary"
	"time"

	"tide/tideos/fs"
	"tide/tideos/mm"
	"tide/tideos/riscv"
	"tide/tideos/task"
	"tide/tideos/timer"
)

// PathMax bounds path strings read from user memory.
const PathMax = 256

// TaskInfoSize is the byte size of the task_info record.
const TaskInfoSize = 4 + 4*task.MaxSyscallNum + 4 + 8

// TaskInfo is the task_info record.
type TaskInfo struct {
	Status       task.Status
	SyscallTimes [task.MaxSyscallNum]uint32
	// Time is milliseconds since the task was first scheduled.
	Time uint64
}

// Bytes encodes the record in its little-endian user layout.
func (ti *TaskInfo) Bytes() []byte {
	b := make([]byte, TaskInfoSize)
	binary.LittleEndian.PutUint32(b, uint32(ti.Status))
	for i, n := range ti.SyscallTimes {
		binary.LittleEndian.PutUint32(b[4+4*i:], n)
	}
	binary.LittleEndian.PutUint64(b[TaskInfoSize-8:], ti.Time)
	return b
}

// copyOut writes data into the task's address space.
func copyOut(t *task.TCB, va uint64, data []byte) error {
	var err error
	t.With(func(in *task.Inner) { err = in.MemorySet.CopyOut(va, data) })
	return err
}

func readPath(t *task.TCB, va uint64) (string, error) {
	var (
		s   string
		err error
	)
	t.With(func(in *task.Inner) { s, err = in.MemorySet.ReadCString(va, PathMax) })
	return s, err
}

// loadImage resolves a path through the filesystem and reads the image.
func (l *Layer) loadImage(t *task.TCB, va uint64) ([]byte, string, bool) {
	path, err := readPath(t, va)
	if err != nil {
		l.log.Debug("bad path pointer", "pid", t.Pid, "error", err)
		return nil, "", false
	}
	f, ok := l.fs.Open(path, fs.RDONLY)
	if !ok {
		return nil, path, false
	}
	return f.ReadAll(), path, true
}

func sysExit(l *Layer, t *task.TCB, a Args) int64 {
	l.proc.Exit(int32(a[0]))
	panic("unreachable")
}

func sysYield(l *Layer, t *task.TCB, a Args) int64 {
	l.proc.Yield()
	return 0
}

func sysGetpid(l *Layer, t *task.TCB, a Args) int64 { return int64(t.Pid) }

func sysFork(l *Layer, t *task.TCB, a Args) int64 {
	child, err := t.Fork()
	if err != nil {
		l.log.Warn("fork failed", "pid", t.Pid, "error", err)
		return -1
	}
	child.With(func(in *task.Inner) { in.TrapCx.X[riscv.A0] = 0 })
	l.proc.Add(child)
	return int64(child.Pid)
}

func sysExec(l *Layer, t *task.TCB, a Args) int64 {
	image, path, ok := l.loadImage(t, a[0])
	if !ok {
		return -1
	}
	if err := t.Exec(image); err != nil {
		l.log.Debug("exec failed", "pid", t.Pid, "path", path, "error", err)
		return -1
	}
	return 0
}

func sysSpawn(l *Layer, t *task.TCB, a Args) int64 {
	image, path, ok := l.loadImage(t, a[0])
	if !ok {
		return -1
	}
	child, err := t.Spawn(image)
	if err != nil {
		l.log.Debug("spawn failed", "pid", t.Pid, "path", path, "error", err)
		return -1
	}
	l.proc.Add(child)
	return int64(child.Pid)
}

func sysWaitpid(l *Layer, t *task.TCB, a Args) int64 {
	child, res := l.proc.FindChild(t, int64(a[0]))
	if child == nil {
		return int64(res)
	}
	var code int32
	child.With(func(in *task.Inner) { code = in.ExitCode })
	if a[1] != 0 {
		if err := copyOut(t, a[1], binary.LittleEndian.AppendUint32(nil, uint32(code))); err != nil {
			return -1
		}
	}
	l.proc.Reap(t, child)
	return int64(child.Pid)
}

func sysSetPriority(l *Layer, t *task.TCB, a Args) int64 {
	prio := int64(a[0])
	ok := false
	t.With(func(in *task.Inner) { ok = in.SetPriority(prio) })
	if !ok {
		return -1
	}
	return prio
}

func sysSbrk(l *Layer, t *task.TCB, a Args) int64 {
	old, ok := t.ChangeProgramBrk(int32(a[0]))
	if !ok {
		return -1
	}
	return int64(old)
}

func sysMmap(l *Layer, t *task.TCB, a Args) int64 {
	start, length, port := a[0], a[1], a[2]
	if port&^7 != 0 || port&7 == 0 || !mm.IsPageAligned(start) || length == 0 {
		return -1
	}
	perm := mm.MapPermission(port<<1) | mm.PermU
	var err error
	t.With(func(in *task.Inner) {
		err = in.MemorySet.InsertFramedArea(mm.VirtAddr(start), mm.VirtAddr(start+length), perm)
	})
	if err != nil {
		l.log.Debug("mmap refused", "pid", t.Pid, "start", start, "len", length, "error", err)
		return -1
	}
	return 0
}

func sysMunmap(l *Layer, t *task.TCB, a Args) int64 {
	start, length := a[0], a[1]
	if !mm.IsPageAligned(start) || !mm.IsPageAligned(length) {
		return -1
	}
	var err error
	t.With(func(in *task.Inner) { err = in.MemorySet.Unmap(start, length) })
	if err != nil {
		l.log.Debug("munmap refused", "pid", t.Pid, "start", start, "len", length, "error", err)
		return -1
	}
	return 0
}

func sysGetTime(l *Layer, t *task.TCB, a Args) int64 {
	sec, usec := timer.TimeVal(l.clock.Uptime())
	buf := binary.LittleEndian.AppendUint64(nil, sec)
	buf = binary.LittleEndian.AppendUint64(buf, usec)
	if err := copyOut(t, a[0], buf); err != nil {
		return -1
	}
	return 0
}

func sysTaskInfo(l *Layer, t *task.TCB, a Args) int64 {
	if a[0] == 0 {
		return -1
	}
	info := &TaskInfo{}
	now := l.clock.Uptime()
	t.With(func(in *task.Inner) {
		info.Status = in.Status
		info.SyscallTimes = in.SyscallTimes
		if in.Started {
			info.Time = uint64((now - in.StartTime) / time.Millisecond)
		}
	})
	if err := copyOut(t, a[0], info.Bytes()); err != nil {
		return -1
	}
	return 0
}
