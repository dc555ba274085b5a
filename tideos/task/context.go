package task

import (
	"fmt"
	"runtime"

	"tide/tideos/upsafe"
)

// Context is the kernel-side execution context of a task. Each task's
// kernel half runs on its own goroutine; exactly one goroutine holds the
// baton at a time and the others are parked in Switch.
type Context struct {
	wake     chan struct{}
	started  bool
	finished bool
	dead     bool
	// start is the trap-return entry run the first time the context is
	// switched to.
	start func()
	// exitTo receives the baton when the goroutine ends.
	exitTo *Context
}

func newContext() Context {
	return Context{wake: make(chan struct{}, 1)}
}

// newIdleContext wraps the goroutine that is already running.
func newIdleContext() Context {
	c := newContext()
	c.started = true
	return c
}

func (c *Context) resume() {
	if !c.started {
		c.started = true
		go c.run()
	}
	c.wake <- struct{}{}
}

func (c *Context) run() {
	defer func() {
		c.finished = true
		if c.exitTo != nil {
			c.exitTo.resume()
		}
	}()
	<-c.wake
	if c.dead {
		return
	}
	c.start()
}

// Switch parks current and hands the core to next. It returns when a later
// Switch hands the core back to current. Switching while any exclusive
// access guard is live panics.
func Switch(current, next *Context) {
	if n := upsafe.Held(); n != 0 {
		panic(fmt.Sprintf("task: context switch with %d exclusive guard(s) held", n))
	}
	next.resume()
	<-current.wake
	if current.dead {
		runtime.Goexit()
	}
}

// kill ends a parked context without running it further.
func (c *Context) kill() {
	c.dead = true
	c.exitTo = nil
	if c.started && !c.finished {
		c.wake <- struct{}{}
	}
}
