package task

import (
	"fmt"
	"slices"
)

// Pid identifies a task.
type Pid uint64

// InitPid is the pid of the first task created at boot.
const InitPid Pid = 0

// pidAllocator hands out pids in increasing order and reuses a pid only
// after its task has been destroyed.
type pidAllocator struct {
	current  Pid
	recycled []Pid
}

func (a *pidAllocator) alloc() Pid {
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return pid
	}
	pid := a.current
	a.current++
	return pid
}

func (a *pidAllocator) dealloc(pid Pid) {
	if pid >= a.current || slices.Contains(a.recycled, pid) {
		panic(fmt.Sprintf("task: pid %d has not been allocated", pid))
	}
	a.recycled = append(a.recycled, pid)
}
