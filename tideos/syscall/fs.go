package syscall

import (
	"tide/tideos/fs"
	"tide/tideos/mm"
	"tide/tideos/task"
)

// fileAt returns the open file at fd, if any.
func fileAt(in *task.Inner, fd uint64) fs.File {
	if fd >= uint64(len(in.FdTable)) {
		return nil
	}
	return in.FdTable[fd]
}

func sysOpen(l *Layer, t *task.TCB, a Args) int64 {
	path, err := readPath(t, a[0])
	if err != nil {
		return -1
	}
	f, ok := l.fs.Open(path, fs.OpenFlags(a[1]))
	if !ok {
		return -1
	}
	var fd int
	t.With(func(in *task.Inner) {
		fd = in.AllocFd()
		in.FdTable[fd] = f
	})
	return int64(fd)
}

func sysClose(l *Layer, t *task.TCB, a Args) int64 {
	ret := int64(-1)
	t.With(func(in *task.Inner) {
		if fileAt(in, a[0]) != nil {
			in.FdTable[a[0]] = nil
			ret = 0
		}
	})
	return ret
}

// userFile resolves fd and translates the user buffer under one guard.
// The file operation itself runs after the guard is released because a
// read from stdin may yield.
func userFile(t *task.TCB, fd, buf, n uint64, write bool) (fs.File, mm.UserBuffer, bool) {
	var (
		f   fs.File
		ub  mm.UserBuffer
		err error
	)
	t.With(func(in *task.Inner) {
		f = fileAt(in, fd)
		if f == nil {
			return
		}
		access := mm.AccessWrite
		if write {
			access = mm.AccessRead
		}
		ub, err = in.MemorySet.NewUserBuffer(buf, int(n), access)
	})
	if f == nil || err != nil {
		return nil, mm.UserBuffer{}, false
	}
	return f, ub, true
}

func sysRead(l *Layer, t *task.TCB, a Args) int64 {
	f, ub, ok := userFile(t, a[0], a[1], a[2], false)
	if !ok || !f.Readable() {
		return -1
	}
	return int64(f.Read(ub))
}

func sysWrite(l *Layer, t *task.TCB, a Args) int64 {
	f, ub, ok := userFile(t, a[0], a[1], a[2], true)
	if !ok || !f.Writable() {
		return -1
	}
	return int64(f.Write(ub))
}

func sysFstat(l *Layer, t *task.TCB, a Args) int64 {
	var f fs.File
	t.With(func(in *task.Inner) { f = fileAt(in, a[0]) })
	if f == nil {
		return -1
	}
	st, ok := f.Stat()
	if !ok {
		return -1
	}
	if err := copyOut(t, a[1], st.Bytes()); err != nil {
		return -1
	}
	return 0
}

// sysLinkat takes (olddirfd, oldpath, newdirfd, newpath, flags); only the
// root directory exists so the dirfds and flags are ignored.
func sysLinkat(l *Layer, t *task.TCB, a Args) int64 {
	oldPath, err := readPath(t, a[1])
	if err != nil {
		return -1
	}
	newPath, err := readPath(t, a[3])
	if err != nil {
		return -1
	}
	if err := l.fs.Link(oldPath, newPath); err != nil {
		l.log.Debug("linkat refused", "pid", t.Pid, "error", err)
		return -1
	}
	return 0
}

// sysUnlinkat takes (dirfd, path, flags).
func sysUnlinkat(l *Layer, t *task.TCB, a Args) int64 {
	path, err := readPath(t, a[1])
	if err != nil {
		return -1
	}
	if err := l.fs.Unlink(path); err != nil {
		return -1
	}
	return 0
}
