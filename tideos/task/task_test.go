package task

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"tide/tideos/asm"
	"tide/tideos/mm"
	"tide/tideos/upsafe"
)

func testImage(t *testing.T) []byte {
	t.Helper()
	img, err := asm.Build(`
_start:
	j _start
.data
counter:
	.dword 0
`)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return img
}

func newEnv() *Env {
	start := time.Now()
	return &Env{
		Mem:   mm.NewPhysMemory(512 * mm.PageSize),
		Table: NewTable(),
		Now:   func() time.Duration { return time.Since(start) },
		Log:   hclog.NewNullLogger(),
	}
}

func mustNew(t *testing.T, env *Env) *TCB {
	t.Helper()
	task, err := New(env, testImage(t))
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestStrideFetchPicksMinimum(t *testing.T) {
	env := newEnv()
	m := NewStride()
	var tasks []*TCB
	for _, s := range []uint64{10, 3, 7} {
		task := mustNew(t, env)
		task.With(func(in *Inner) { in.Stride = s })
		m.Add(task)
		tasks = append(tasks, task)
	}
	got := m.Fetch()
	if got != tasks[1] {
		t.Fatalf("expected the stride-3 task, got pid %d", got.Pid)
	}
	if got.Stride() != 3+BigStride/DefaultPriority {
		t.Fatalf("expected stride %d, got %d", 3+BigStride/DefaultPriority, got.Stride())
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 tasks left, got %d", m.Len())
	}
}

func TestStrideTiesGoToQueueOrder(t *testing.T) {
	env := newEnv()
	m := NewStride()
	a, b := mustNew(t, env), mustNew(t, env)
	m.Add(a)
	m.Add(b)
	if m.Fetch() != a {
		t.Fatalf("expected first queued task to win a tie")
	}
	if m.Fetch() != b || m.Fetch() != nil {
		t.Fatalf("expected b then empty")
	}
}

func TestFIFOOrder(t *testing.T) {
	env := newEnv()
	m := NewFIFO()
	a, b := mustNew(t, env), mustNew(t, env)
	m.Add(b)
	m.Add(a)
	if m.Fetch() != b || m.Fetch() != a || m.Fetch() != nil {
		t.Fatalf("expected FIFO order")
	}
}

func TestSetPriority(t *testing.T) {
	env := newEnv()
	task := mustNew(t, env)
	task.With(func(in *Inner) {
		before := *in
		if in.SetPriority(1) {
			t.Fatalf("expected priority 1 to be refused")
		}
		if in.Pass != before.Pass || in.Stride != before.Stride || in.Priority != before.Priority {
			t.Fatalf("expected no change after refused priority")
		}
		if !in.SetPriority(4) || in.Pass != BigStride/4 {
			t.Fatalf("expected pass %d, got %d", BigStride/4, in.Pass)
		}
	})
}

func TestForkIsolatesMemory(t *testing.T) {
	env := newEnv()
	parent := mustNew(t, env)
	const addr = 0x11000
	parent.With(func(in *Inner) {
		if err := in.MemorySet.CopyOut(addr, []byte{1}); err != nil {
			t.Fatalf("copy out: %v", err)
		}
		in.SetPriority(8)
		in.Stride = 1234
	})
	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if child.Pid == parent.Pid {
		t.Fatalf("expected distinct pids")
	}
	child.With(func(in *Inner) {
		if err := in.MemorySet.CopyOut(addr, []byte{2}); err != nil {
			t.Fatalf("copy out child: %v", err)
		}
		if !in.HasParent || in.Parent != parent.Pid {
			t.Fatalf("expected parent link to %d", parent.Pid)
		}
		if in.Priority != 8 || in.Stride != 0 || in.Pass != BigStride/8 {
			t.Fatalf("unexpected scheduling fields %d/%d/%d", in.Priority, in.Stride, in.Pass)
		}
		if len(in.FdTable) != 3 {
			t.Fatalf("expected 3 fds, got %d", len(in.FdTable))
		}
	})
	parent.With(func(in *Inner) {
		got, _ := in.MemorySet.CopyIn(addr, 1)
		if got[0] != 1 {
			t.Fatalf("expected parent page untouched, got %d", got[0])
		}
		if len(in.Children) != 1 || in.Children[0] != child.Pid {
			t.Fatalf("expected child recorded, got %v", in.Children)
		}
	})
}

func TestExecFailureLeavesTaskIntact(t *testing.T) {
	env := newEnv()
	task := mustNew(t, env)
	token := task.Token()
	if err := task.Exec([]byte("garbage")); !errors.Is(err, mm.ErrBadELF) {
		t.Fatalf("expected ErrBadELF, got %v", err)
	}
	if task.Token() != token {
		t.Fatalf("expected address space untouched")
	}
	if err := task.Exec(testImage(t)); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if task.Token() == token {
		t.Fatalf("expected a new address space")
	}
}

func TestSpawnDoesNotEnqueue(t *testing.T) {
	env := newEnv()
	p := NewProcessor(env, NewStride())
	parent := mustNew(t, env)
	child, err := parent.Spawn(testImage(t))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if p.ReadyLen() != 0 {
		t.Fatalf("expected spawn to leave the ready set alone")
	}
	if child.Token() == parent.Token() {
		t.Fatalf("expected a separate address space")
	}
	child.With(func(in *Inner) {
		if in.Parent != parent.Pid || in.Status != Ready {
			t.Fatalf("unexpected child state %+v", in.Status)
		}
	})
}

func TestChangeProgramBrk(t *testing.T) {
	env := newEnv()
	task := mustNew(t, env)
	var base uint64
	task.With(func(in *Inner) { base = in.HeapBottom })
	old, ok := task.ChangeProgramBrk(4096)
	if !ok || old != base {
		t.Fatalf("expected old break %#x, got %#x (%v)", base, old, ok)
	}
	task.With(func(in *Inner) {
		if err := in.MemorySet.CopyOut(base+4000, []byte("x")); err != nil {
			t.Fatalf("expected grown heap writable: %v", err)
		}
	})
	if _, ok := task.ChangeProgramBrk(-8192); ok {
		t.Fatalf("expected shrink below the heap base to fail")
	}
	if old, ok := task.ChangeProgramBrk(-4096); !ok || old != base+4096 {
		t.Fatalf("expected shrink back to succeed, got %#x %v", old, ok)
	}
}

func TestPidRecycledAfterReap(t *testing.T) {
	var a pidAllocator
	p0, p1 := a.alloc(), a.alloc()
	if p0 != 0 || p1 != 1 {
		t.Fatalf("expected 0 and 1, got %d %d", p0, p1)
	}
	a.dealloc(p0)
	if got := a.alloc(); got != 0 {
		t.Fatalf("expected recycled pid 0, got %d", got)
	}
	if got := a.alloc(); got != 2 {
		t.Fatalf("expected fresh pid 2, got %d", got)
	}
}

// runScript boots tasks whose kernel halves follow script instead of
// running user code.
func runScript(t *testing.T, env *Env, m Manager, script func(p *Processor, self *TCB)) (*Processor, int32, error) {
	t.Helper()
	p := NewProcessor(env, m)
	p.SetEntry(func(self *TCB) { script(p, self) })
	done := make(chan struct{})
	var (
		code int32
		err  error
	)
	go func() {
		defer close(done)
		code, err = p.Run()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("processor did not stop")
	}
	return p, code, err
}

func TestProcessorWaitAndShutdown(t *testing.T) {
	env := newEnv()
	root := mustNew(t, env)
	var events []string
	var reaped []Pid
	script := func(p *Processor, self *TCB) {
		if self.Pid == InitPid {
			for i := 0; i < 2; i++ {
				c, err := self.Spawn(testImage(t))
				if err != nil {
					p.Halt(err.Error())
				}
				p.Add(c)
			}
			for {
				child, res := p.FindChild(self, -1)
				switch res {
				case WaitNoChild:
					p.Exit(7)
				case WaitNotReady:
					p.Yield()
				default:
					code := p.Reap(self, child)
					reaped = append(reaped, child.Pid)
					events = append(events, fmt.Sprintf("reap %d=%d", child.Pid, code))
				}
			}
		}
		events = append(events, fmt.Sprintf("run %d", self.Pid))
		p.Yield()
		events = append(events, fmt.Sprintf("resume %d", self.Pid))
		p.Exit(int32(self.Pid) * 10)
	}
	m := NewFIFO()
	m.Add(root)
	p, code, err := runScript(t, env, m, script)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected init exit code 7, got %d", code)
	}
	want := []string{"run 1", "run 2", "resume 1", "resume 2", "reap 1=10", "reap 2=20"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	if env.Table.Len() != 1 {
		t.Fatalf("expected only the init zombie left, got %v", env.Table.Pids())
	}
	if p.Halted() != nil {
		t.Fatalf("expected clean shutdown, got %v", p.Halted())
	}
}

func TestOrphansGoToInit(t *testing.T) {
	env := newEnv()
	root := mustNew(t, env)
	var grandchild Pid
	script := func(p *Processor, self *TCB) {
		switch self.Pid {
		case InitPid:
			c, _ := self.Spawn(testImage(t))
			p.Add(c)
			for {
				child, res := p.FindChild(self, -1)
				switch res {
				case WaitNoChild:
					p.Exit(0)
				case WaitNotReady:
					p.Yield()
				default:
					p.Reap(self, child)
				}
			}
		case 1:
			g, _ := self.Spawn(testImage(t))
			grandchild = g.Pid
			p.Add(g)
			p.Exit(1)
		default:
			self.With(func(in *Inner) {
				if in.Parent != InitPid || !in.HasParent {
					t.Errorf("expected orphan reparented to init, got %d", in.Parent)
				}
			})
			p.Exit(2)
		}
	}
	m := NewFIFO()
	m.Add(root)
	if _, _, err := runScript(t, env, m, script); err != nil {
		t.Fatalf("run: %v", err)
	}
	if grandchild != 2 {
		t.Fatalf("expected grandchild pid 2, got %d", grandchild)
	}
	if env.Table.Len() != 1 {
		t.Fatalf("expected init reaped everyone, got %v", env.Table.Pids())
	}
}

func TestWaitNoChildAndNotReady(t *testing.T) {
	env := newEnv()
	p := NewProcessor(env, NewFIFO())
	parent := mustNew(t, env)
	if _, res := p.FindChild(parent, -1); res != WaitNoChild {
		t.Fatalf("expected WaitNoChild, got %d", res)
	}
	child, _ := parent.Spawn(testImage(t))
	if _, res := p.FindChild(parent, int64(child.Pid)+1); res != WaitNoChild {
		t.Fatalf("expected WaitNoChild for unknown pid, got %d", res)
	}
	if _, res := p.FindChild(parent, int64(child.Pid)); res != WaitNotReady {
		t.Fatalf("expected WaitNotReady, got %d", res)
	}
}

func TestSwitchWithGuardHeldHalts(t *testing.T) {
	env := newEnv()
	m := NewFIFO()
	m.Add(mustNew(t, env))
	halted := ""
	held := upsafe.New("held across switch", 0)
	script := func(p *Processor, self *TCB) {
		held.With(func(*int) { p.Yield() })
	}
	p := NewProcessor(env, m)
	p.OnHalt(func(reason string) { halted = reason })
	p.SetEntry(func(self *TCB) { script(p, self) })
	_, err := p.Run()
	if !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
	if halted == "" {
		t.Fatalf("expected halt hook to run")
	}
	if upsafe.Held() != 0 {
		t.Fatalf("expected guards released after halt, got %d", upsafe.Held())
	}
}

func TestEmptyReadySetHalts(t *testing.T) {
	p := NewProcessor(newEnv(), NewStride())
	if _, err := p.Run(); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
}
