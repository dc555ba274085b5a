package trap

import (
	"bytes"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"tide/tideos/asm"
	"tide/tideos/fs"
	"tide/tideos/mm"
	"tide/tideos/syscall"
	"tide/tideos/task"
	"tide/tideos/timer"
)

// boot runs src as the root task and returns its exit code and output.
func boot(t *testing.T, src string) (int32, string) {
	t.Helper()
	img, err := asm.Build(src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	var out bytes.Buffer
	stdout := &fs.Stdout{Out: &out}
	clock := timer.New()
	env := &task.Env{
		Mem:   mm.NewPhysMemory(256 * mm.PageSize),
		Table: task.NewTable(),
		Stdio: [3]fs.File{nil, stdout, stdout},
		Now:   clock.Uptime,
		Log:   hclog.NewNullLogger(),
	}
	proc := task.NewProcessor(env, task.NewStride())
	h := New(proc, syscall.New(proc, fs.New(), clock, hclog.NewNullLogger()), hclog.NewNullLogger())
	proc.SetEntry(h.Return)
	root, err := task.New(env, img)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	proc.Add(root)
	code, err := proc.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return code, out.String()
}

func TestEcallWriteAndExit(t *testing.T) {
	code, out := boot(t, `
_start:
	li a0, 1
	la a1, msg
	li a2, 3
	li a7, 64
	ecall
	li a0, 7
	li a7, 93
	ecall
.data
msg:
	.string "hi\n"
`)
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
	if out != "hi\n" {
		t.Fatalf("expected %q, got %q", "hi\n", out)
	}
}

func TestSyscallReturnLandsInA0(t *testing.T) {
	code, _ := boot(t, `
_start:
	li a0, 4
	li a7, 140
	ecall
	li a7, 93
	ecall
`)
	if code != 4 {
		t.Fatalf("expected set_priority result 4 as exit code, got %d", code)
	}
}

func TestFaultsKillTask(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int32
	}{
		{"load from null", "_start:\n\tld a0, 0(zero)\n", ExitPageFault},
		{"store to text", "_start:\n\tla t0, _start\n\tsd zero, 0(t0)\n", ExitPageFault},
		{"illegal", "_start:\n\t.word 0\n", ExitIllegalInst},
		{"ebreak", "_start:\n\tebreak\n", ExitIllegalInst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := boot(t, tt.src)
			if code != tt.want {
				t.Fatalf("expected exit code %d, got %d", tt.want, code)
			}
		})
	}
}

func TestStopHaltsSpinningTask(t *testing.T) {
	img, err := asm.Build("_start:\n\tj _start\n")
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	clock := timer.New()
	env := &task.Env{
		Mem:   mm.NewPhysMemory(64 * mm.PageSize),
		Table: task.NewTable(),
		Now:   clock.Uptime,
		Log:   hclog.NewNullLogger(),
	}
	proc := task.NewProcessor(env, task.NewFIFO())
	h := New(proc, syscall.New(proc, fs.New(), clock, hclog.NewNullLogger()), hclog.NewNullLogger())
	proc.SetEntry(h.Return)
	root, err := task.New(env, img)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	proc.Add(root)

	done := make(chan error, 1)
	go func() {
		_, err := proc.Run()
		done <- err
	}()
	h.Stop()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected a halt error after Stop")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected Run to return after Stop")
	}
}
