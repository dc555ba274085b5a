package task

import (
	"sort"

	"tide/tideos/upsafe"
)

type tableState struct {
	pids  pidAllocator
	tasks map[Pid]*TCB
}

// Table is the arena that owns every live TCB. Parents and children refer
// to each other by pid and resolve through the table.
type Table struct {
	cell *upsafe.Cell[tableState]
}

// NewTable returns an empty task table.
func NewTable() *Table {
	return &Table{cell: upsafe.New("task table", tableState{tasks: make(map[Pid]*TCB)})}
}

func (t *Table) allocPid() Pid {
	return upsafe.Get(t.cell, func(s *tableState) Pid { return s.pids.alloc() })
}

func (t *Table) insert(task *TCB) {
	t.cell.With(func(s *tableState) { s.tasks[task.Pid] = task })
}

// remove drops pid from the arena and recycles it.
func (t *Table) remove(pid Pid) {
	t.cell.With(func(s *tableState) {
		delete(s.tasks, pid)
		s.pids.dealloc(pid)
	})
}

// Get looks a task up by pid.
func (t *Table) Get(pid Pid) (*TCB, bool) {
	var (
		task *TCB
		ok   bool
	)
	t.cell.With(func(s *tableState) { task, ok = s.tasks[pid] })
	return task, ok
}

// Len is the number of live tasks, zombies included.
func (t *Table) Len() int {
	return upsafe.Get(t.cell, func(s *tableState) int { return len(s.tasks) })
}

// Pids lists live pids in increasing order.
func (t *Table) Pids() []Pid {
	return upsafe.Get(t.cell, func(s *tableState) []Pid {
		out := make([]Pid, 0, len(s.tasks))
		for pid := range s.tasks {
			out = append(out, pid)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	})
}
