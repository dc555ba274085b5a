package asm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"
)

func words(t *testing.T, src string) []uint32 {
	t.Helper()
	p, err := Assemble(src)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	out := make([]uint32, len(p.Text)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(p.Text[i*4:])
	}
	return out
}

func TestEncodings(t *testing.T) {
	cases := []struct {
		src  string
		want uint32
	}{
		{"addi a0, a0, 1", 0x00150513},
		{"ecall", 0x00000073},
		{"ret", 0x00008067},
		{"sd ra, 8(sp)", 0x00113423},
		{"li a7, 64", 0x04000893},
		{"lui a0, 0x12345", 0x12345537},
		{"add a0, a1, a2", 0x00c58533},
		{"mul a0, a1, a2", 0x02c58533},
		{"ld a1, 0(a0)", 0x00053583},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			got := words(t, tc.src)
			if len(got) != 1 || got[0] != tc.want {
				t.Fatalf("expected %#08x, got %#x", tc.want, got)
			}
		})
	}
}

func TestBackwardBranch(t *testing.T) {
	got := words(t, "loop:\n\taddi t0, t0, -1\n\tbnez t0, loop\n")
	if len(got) != 2 || got[1] != 0xfe029ee3 {
		t.Fatalf("expected bnez -4 to encode as 0xfe029ee3, got %#x", got)
	}
}

func TestLiSequenceLengths(t *testing.T) {
	cases := map[string]int{
		"li a0, 5":                   1,
		"li a0, 0x12345678":          2,
		"li a0, 0x7fffffff":          2,
		"li a0, -2048":               1,
		"li a0, 0x123456789abcdef0":  0,
		".equ BIG, 4096\nli a0, BIG": 1,
	}
	for src, n := range cases {
		got := words(t, src)
		if n != 0 && len(got) != n {
			t.Fatalf("%q: expected %d instructions, got %d", src, n, len(got))
		}
	}
}

func TestDataAndLabels(t *testing.T) {
	p, err := Assemble(`
.text
_start:
	la a0, msg
	ecall
.data
msg:
	.string "hi"
ptr:
	.dword msg
`)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if p.DataBase != 0x11000 {
		t.Fatalf("expected data at 0x11000, got %#x", p.DataBase)
	}
	if p.Symbols["msg"] != p.DataBase || p.Symbols["ptr"] != p.DataBase+3 {
		t.Fatalf("unexpected symbols %v", p.Symbols)
	}
	if !bytes.Equal(p.Data[:3], []byte("hi\x00")) {
		t.Fatalf("expected NUL-terminated string, got %q", p.Data[:3])
	}
	if binary.LittleEndian.Uint64(p.Data[3:]) != p.DataBase {
		t.Fatalf("expected .dword to hold the address of msg")
	}
	if p.Entry != TextBase {
		t.Fatalf("expected entry at %#x, got %#x", TextBase, p.Entry)
	}
}

func TestErrorsCarryLine(t *testing.T) {
	_, err := Assemble("nop\nfrobnicate a0\n")
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Line != 2 {
		t.Fatalf("expected error on line 2, got %v", err)
	}
	if _, err := Assemble("j nowhere"); err == nil {
		t.Fatalf("expected undefined label error")
	}
	if _, err := Assemble("x:\nx:\n"); err == nil {
		t.Fatalf("expected duplicate label error")
	}
}

func TestLoadStoreOffsetRange(t *testing.T) {
	for _, src := range []string{"sd t1, 2047(s0)", "ld t2, -2048(s0)"} {
		if _, err := Assemble(src); err != nil {
			t.Fatalf("%s: expected to assemble, got %v", src, err)
		}
	}
	for _, src := range []string{"sd t1, 4088(s0)", "ld t2, 2048(s0)", "lw t2, -2049(s0)"} {
		if _, err := Assemble(src); err == nil {
			t.Fatalf("%s: expected offset out of range", src)
		}
	}
}

func TestELFImage(t *testing.T) {
	img, err := Build("_start:\n\tnop\n.data\n.word 7\n")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Machine != elf.EM_RISCV || f.Class != elf.ELFCLASS64 || f.Entry != TextBase {
		t.Fatalf("unexpected header %+v", f.FileHeader)
	}
	if len(f.Progs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(f.Progs))
	}
	if f.Progs[0].Flags != elf.PF_R|elf.PF_X || f.Progs[1].Flags != elf.PF_R|elf.PF_W {
		t.Fatalf("unexpected segment flags %v %v", f.Progs[0].Flags, f.Progs[1].Flags)
	}
}
