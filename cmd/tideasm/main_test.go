package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestExpandArgs(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "progs.args")
	if err := os.WriteFile(argsFile, []byte("a.s 'with space.s'\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := expandArgs([]string{"first.s", "@" + argsFile})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{"first.s", "a.s", "with space.s"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if _, err := expandArgs([]string{"@" + filepath.Join(dir, "missing")}); err == nil {
		t.Fatalf("expected an error for a missing args file")
	}
}

func TestAssembleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "exit7.s")
	prog := "_start:\n\tli a0, 7\n\tcall exit\n"
	if err := os.WriteFile(src, []byte(prog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := assembleFile(src, dir, false); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	img, err := os.ReadFile(filepath.Join(dir, "exit7.elf"))
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if string(img[:4]) != "\x7fELF" {
		t.Fatalf("expected an ELF image, got % x", img[:4])
	}
	if err := assembleFile(src, dir, true); err == nil {
		t.Fatalf("expected a bare build to miss the exit helper")
	}
}
