// Package upsafe provides the exclusive-access cell used for all mutable
// kernel state on the single simulated core.
//
// Access is closure scoped: the guard exists only while the callback runs, so
// it cannot be stored or carried across a context switch. A nested borrow of
// the same cell panics, and Held reports whether any guard is live so the
// switch path can refuse to suspend while one is.
package upsafe

import (
	"fmt"
	"sync/atomic"
)

var live atomic.Int32

// Held reports the number of guards currently live across all cells.
func Held() int { return int(live.Load()) }

// Cell wraps a value that must only be touched by one borrower at a time.
type Cell[T any] struct {
	name     string
	borrowed atomic.Bool
	v        T
}

// New wraps v. The name shows up in borrow panics.
func New[T any](name string, v T) *Cell[T] {
	return &Cell[T]{name: name, v: v}
}

// With runs fn with exclusive access to the value.
func (c *Cell[T]) With(fn func(v *T)) {
	c.acquire()
	defer c.release()
	fn(&c.v)
}

// Borrowed reports whether a guard on this cell is live.
func (c *Cell[T]) Borrowed() bool { return c.borrowed.Load() }

func (c *Cell[T]) acquire() {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("upsafe: %s already borrowed", c.name))
	}
	live.Add(1)
}

func (c *Cell[T]) release() {
	live.Add(-1)
	c.borrowed.Store(false)
}

// Get runs fn under the cell's guard and returns its result.
func Get[T, R any](c *Cell[T], fn func(v *T) R) R {
	var r R
	c.With(func(v *T) { r = fn(v) })
	return r
}
