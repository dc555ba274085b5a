package kernel

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func boot(t *testing.T, init string, input <-chan byte) (*Kernel, *bytes.Buffer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Init = init
	var out bytes.Buffer
	k, err := New(Options{Config: cfg, Log: hclog.NewNullLogger(), Stdout: &out, Input: input})
	if err != nil {
		t.Fatalf("boot %s: %v", init, err)
	}
	return k, &out
}

func run(t *testing.T, k *Kernel) int32 {
	t.Helper()
	type result struct {
		code int32
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := k.Run()
		done <- result{code, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("run: %v", r.err)
		}
		return r.code
	case <-time.After(10 * time.Second):
		k.Stop()
		t.Fatalf("kernel did not finish")
		return 0
	}
}

func TestBundledPrograms(t *testing.T) {
	tests := []struct {
		init string
		want []string
	}{
		{"hello", []string{"Hello, world!\n"}},
		{"forktest", []string{"forktest pass\n"}},
		{"mmaptest", []string{"mmaptest pass\n"}},
		{"sbrktest", []string{"sbrktest pass\n"}},
		{"spawntest", []string{"Hello, world!\n", "spawntest pass\n"}},
		{"stridetest", []string{"stridetest pass\n"}},
		{"fstest", []string{"fstest pass\n"}},
		{"infotest", []string{"infotest pass\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.init, func(t *testing.T) {
			k, out := boot(t, tt.init, nil)
			if code := run(t, k); code != 0 {
				t.Fatalf("expected exit code 0, got %d (output %q)", code, out.String())
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Fatalf("expected output to contain %q, got %q", w, out.String())
				}
			}
		})
	}
}

func TestShellSession(t *testing.T) {
	input := make(chan byte, 64)
	for _, b := range []byte("hello\rnope\rexit\r") {
		input <- b
	}
	k, out := boot(t, "initproc", input)
	if code := run(t, k); code != 0 {
		t.Fatalf("expected init to exit 0, got %d", code)
	}
	got := out.String()
	for _, w := range []string{
		">> hello\n",
		"Hello, world!\n",
		"Shell: Process 2 exited with code 0\n",
		"nope: command not found\n",
		"exited with code -4\n",
	} {
		if !strings.Contains(got, w) {
			t.Fatalf("expected output to contain %q, got %q", w, got)
		}
	}
}

func TestFileCreatedByTaskIsVisible(t *testing.T) {
	k, _ := boot(t, "fstest", nil)
	run(t, k)
	data, err := k.FS().ReadFile("fstest-file")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello fs" {
		t.Fatalf("expected %q, got %q", "hello fs", data)
	}
}

func TestStopEndsShell(t *testing.T) {
	k, _ := boot(t, "usershell", make(chan byte))
	done := make(chan error, 1)
	go func() {
		_, err := k.Run()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	k.Stop()
	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected Run to return after Stop")
	}
}

func TestUnknownInit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Init = "missing"
	if _, err := New(Options{Config: cfg, Log: hclog.NewNullLogger()}); err == nil {
		t.Fatalf("expected an error for a missing init program")
	}
}

func TestParseBootArgs(t *testing.T) {
	cfg, err := ParseBootArgs(`init=hello log=debug sched=fifo mem=512`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Init != "hello" || cfg.LogLevel != hclog.Debug || cfg.Sched != "fifo" || cfg.Frames != 512 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	cfg, err = ParseBootArgs("")
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}

	for _, bad := range []string{"init", "log=loud", "sched=lottery", "mem=1", "color=blue", `init="unterminated`} {
		if _, err := ParseBootArgs(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
