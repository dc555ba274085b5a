package task

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"tide/tideos/upsafe"
)

// ErrHalted is returned by Run after a fatal kernel condition.
var ErrHalted = errors.New("task: kernel halted")

// Wait results reported by FindChild when no zombie is ready.
const (
	WaitNoChild  = -1
	WaitNotReady = -2
)

type procState struct {
	ready   Manager
	current *TCB
}

// Processor drives the single simulated core: it owns the ready set, tracks
// the running task, and runs the idle loop that picks the next task.
type Processor struct {
	env   *Env
	state *upsafe.Cell[procState]
	idle  Context

	// running is the task whose goroutine holds the core, nil while the
	// idle loop does.
	running *TCB

	entry  func(t *TCB)
	onHalt func(reason string)

	shutdown bool
	exitCode int32
	halted   error
}

// NewProcessor builds a processor scheduling with ready.
func NewProcessor(env *Env, ready Manager) *Processor {
	return &Processor{
		env:   env,
		state: upsafe.New("processor", procState{ready: ready}),
		idle:  newIdleContext(),
		entry: func(t *TCB) { panic(fmt.Sprintf("task %d: no trap return entry", t.Pid)) },
	}
}

// Env returns the construction environment shared by all tasks.
func (p *Processor) Env() *Env { return p.env }

// SetEntry installs the trap-return routine a task runs when first
// scheduled. It must not return.
func (p *Processor) SetEntry(fn func(t *TCB)) { p.entry = fn }

// OnHalt registers a hook called once when the kernel halts.
func (p *Processor) OnHalt(fn func(reason string)) { p.onHalt = fn }

// Add makes t ready to run.
func (p *Processor) Add(t *TCB) {
	p.state.With(func(s *procState) { s.ready.Add(t) })
}

// ReadyLen is the size of the ready set.
func (p *Processor) ReadyLen() int {
	return upsafe.Get(p.state, func(s *procState) int { return s.ready.Len() })
}

// Current returns the running task, or nil.
func (p *Processor) Current() *TCB {
	return upsafe.Get(p.state, func(s *procState) *TCB { return s.current })
}

func (p *Processor) takeCurrent() *TCB {
	t := upsafe.Get(p.state, func(s *procState) *TCB {
		t := s.current
		s.current = nil
		return t
	})
	if t == nil {
		panic("task: no current task")
	}
	return t
}

// Run is the idle loop. It returns the init task's exit code once init
// exits, or ErrHalted after a fatal condition.
func (p *Processor) Run() (code int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.recordHalt(fmt.Sprint(r))
			p.killAll()
			code, err = 0, p.halted
		}
	}()
	for {
		if p.halted != nil {
			p.killAll()
			return 0, p.halted
		}
		if p.shutdown {
			p.killAll()
			return p.exitCode, nil
		}
		t := upsafe.Get(p.state, func(s *procState) *TCB { return s.ready.Fetch() })
		if t == nil {
			p.recordHalt("no ready task")
			continue
		}
		now := p.env.Now()
		t.With(func(in *Inner) {
			in.Status = Running
			if !in.Started {
				in.StartTime, in.Started = now, true
			}
		})
		p.state.With(func(s *procState) { s.current = t })
		if !t.cx.started {
			t.cx.start = p.taskMain(t)
		}
		p.running = t
		Switch(&p.idle, &t.cx)
		p.running = nil
	}
}

func (p *Processor) taskMain(t *TCB) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				p.recordHalt(fmt.Sprintf("pid %d: %v", t.Pid, r))
				t.cx.exitTo = &p.idle
			}
		}()
		p.entry(t)
		p.recordHalt(fmt.Sprintf("pid %d: trap return entry returned", t.Pid))
		t.cx.exitTo = &p.idle
	}
}

// Yield puts the current task back in the ready set and switches to the
// idle loop. It returns when the task is next scheduled.
func (p *Processor) Yield() {
	t := p.takeCurrent()
	t.With(func(in *Inner) { in.Status = Ready })
	p.Add(t)
	Switch(&t.cx, &p.idle)
}

// Exit turns the current task into a zombie holding code and gives up the
// core for good. Its children are handed to the init task. When init
// itself exits the processor shuts down.
func (p *Processor) Exit(code int32) {
	t := p.takeCurrent()
	var children []Pid
	t.With(func(in *Inner) {
		in.Status = Zombie
		in.ExitCode = code
		if t.Pid != InitPid {
			children, in.Children = in.Children, nil
		}
	})
	p.env.Log.Debug("exit", "pid", t.Pid, "code", code)
	if t.Pid == InitPid {
		p.shutdown, p.exitCode = true, code
	} else {
		p.reparent(children)
	}
	t.cx.exitTo = &p.idle
	runtime.Goexit()
}

func (p *Processor) reparent(children []Pid) {
	if len(children) == 0 {
		return
	}
	root, ok := p.env.Table.Get(InitPid)
	for _, pid := range children {
		c, found := p.env.Table.Get(pid)
		if !found {
			continue
		}
		c.With(func(in *Inner) { in.Parent, in.HasParent = InitPid, ok })
	}
	if ok {
		root.With(func(in *Inner) { in.Children = append(in.Children, children...) })
	}
}

// FindChild looks among parent's children for a zombie matching pid (-1
// matches any). It returns WaitNoChild when nothing matches and
// WaitNotReady when matches exist but none has exited.
func (p *Processor) FindChild(parent *TCB, pid int64) (*TCB, int) {
	var children []Pid
	parent.With(func(in *Inner) { children = slices.Clone(in.Children) })
	found := false
	for _, cpid := range children {
		if pid != -1 && Pid(pid) != cpid {
			continue
		}
		found = true
		if c, ok := p.env.Table.Get(cpid); ok && c.Status() == Zombie {
			return c, 0
		}
	}
	if !found {
		return nil, WaitNoChild
	}
	return nil, WaitNotReady
}

// Reap removes a zombie child from parent and destroys it, returning its
// exit code. A child that is still scheduled halts the kernel.
func (p *Processor) Reap(parent, child *TCB) int32 {
	parent.With(func(in *Inner) {
		for i, pid := range in.Children {
			if pid == child.Pid {
				in.Children = append(in.Children[:i], in.Children[i+1:]...)
				break
			}
		}
	})
	var code int32
	status := Zombie
	child.With(func(in *Inner) { code, status = in.ExitCode, in.Status })
	if status != Zombie || child == p.Current() || child == p.running {
		p.Halt(fmt.Sprintf("reaped task %d is still owned (status %s)", child.Pid, status))
	}
	child.destroy()
	p.env.Log.Debug("reaped", "parent", parent.Pid, "child", child.Pid, "code", code)
	return code
}

// Halt stops the kernel after a fatal condition. Called from a task it does
// not return.
func (p *Processor) Halt(reason string) {
	p.recordHalt(reason)
	if p.running == nil {
		return
	}
	p.running.cx.exitTo = &p.idle
	runtime.Goexit()
}

// Halted reports the halt error, if any.
func (p *Processor) Halted() error { return p.halted }

func (p *Processor) recordHalt(reason string) {
	if p.halted != nil {
		return
	}
	p.halted = fmt.Errorf("%w: %s", ErrHalted, reason)
	p.env.Log.Error("kernel halted", "reason", reason)
	if p.onHalt != nil {
		p.onHalt(reason)
	}
}

// killAll ends every parked task goroutine.
func (p *Processor) killAll() {
	for _, pid := range p.env.Table.Pids() {
		if t, ok := p.env.Table.Get(pid); ok {
			t.cx.kill()
		}
	}
}
