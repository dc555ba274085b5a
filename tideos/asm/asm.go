// Package asm is a small two-pass RV64IM assembler. It understands labels,
// the common data directives, and the usual pseudo-instructions, and it
// emits a static ELF64 executable with a read-execute text segment at
// TextBase and a read-write data segment on the next page boundary.
package asm

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"tide/tideos/riscv"
)

// TextBase is the load address of the text segment.
const TextBase = 0x10000

// Error reports a rejected source line.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("asm: line %d: %s", e.Line, e.Msg) }

type section uint8

const (
	secText section = iota
	secData
)

type inst struct {
	mnemonic string
	args     []string
}

func (i inst) size() uint64 {
	if i.mnemonic == "la" {
		return 8
	}
	return 4
}

type stmt struct {
	line  int
	sec   section
	off   uint64
	insts []inst
	data  []byte
	exprs []string
	width int
}

type label struct {
	sec section
	off uint64
}

// Program is an assembled image.
type Program struct {
	Text     []byte
	Data     []byte
	TextBase uint64
	DataBase uint64
	Entry    uint64
	Symbols  map[string]uint64
}

type assembler struct {
	stmts  []stmt
	labels map[string]label
	equs   map[string]int64
	size   [2]uint64
	sec    section
	base   [2]uint64
}

// Build assembles src and returns the ELF image.
func Build(src string) ([]byte, error) {
	p, err := Assemble(src)
	if err != nil {
		return nil, err
	}
	return p.ELF(), nil
}

// Assemble runs both passes over src.
func Assemble(src string) (*Program, error) {
	a := &assembler{labels: make(map[string]label), equs: make(map[string]int64)}
	for i, line := range strings.Split(src, "\n") {
		if err := a.pass1(i+1, line); err != nil {
			return nil, err
		}
	}
	a.base[secText] = TextBase
	a.base[secData] = alignUp(TextBase+a.size[secText], 0x1000)
	text := make([]byte, a.size[secText])
	data := make([]byte, a.size[secData])
	out := [2][]byte{text, data}
	for _, s := range a.stmts {
		if err := a.emit(s, out[s.sec][s.off:]); err != nil {
			return nil, err
		}
	}
	p := &Program{
		Text:     text,
		Data:     data,
		TextBase: a.base[secText],
		DataBase: a.base[secData],
		Entry:    a.base[secText],
		Symbols:  make(map[string]uint64, len(a.labels)),
	}
	for name, l := range a.labels {
		p.Symbols[name] = a.base[l.sec] + l.off
	}
	if start, ok := p.Symbols["_start"]; ok {
		p.Entry = start
	}
	return p, nil
}

func alignUp(v, align uint64) uint64 { return (v + align - 1) &^ (align - 1) }

func stripComment(line string) string {
	inStr, inChr := false, false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && (inStr || inChr):
			i++
		case c == '"' && !inChr:
			inStr = !inStr
		case c == '\'' && !inStr:
			inChr = !inChr
		case !inStr && !inChr && (c == '#' || c == ';'):
			return line[:i]
		case !inStr && !inChr && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '.' || c == '$':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// splitArgs splits on commas that are outside quotes and parentheses.
func splitArgs(s string) []string {
	var (
		args  []string
		depth int
		inStr bool
		start int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && inStr:
			i++
		case c == '"':
			inStr = !inStr
		case c == '(' && !inStr:
			depth++
		case c == ')' && !inStr:
			depth--
		case c == ',' && !inStr && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" || len(args) > 0 {
		args = append(args, rest)
	}
	return args
}

func (a *assembler) pass1(n int, raw string) error {
	line := strings.TrimSpace(stripComment(raw))
	for {
		i := strings.IndexByte(line, ':')
		if i <= 0 || !isIdent(line[:i]) {
			break
		}
		name := line[:i]
		if _, dup := a.labels[name]; dup {
			return &Error{n, "duplicate label " + name}
		}
		a.labels[name] = label{a.sec, a.size[a.sec]}
		line = strings.TrimSpace(line[i+1:])
	}
	if line == "" {
		return nil
	}
	mnemonic, rest := line, ""
	if j := strings.IndexAny(line, " \t"); j >= 0 {
		mnemonic, rest = line[:j], line[j+1:]
	}
	mnemonic = strings.ToLower(mnemonic)
	args := splitArgs(strings.TrimSpace(rest))
	if strings.HasPrefix(mnemonic, ".") {
		return a.directive(n, mnemonic, args)
	}
	insts, err := a.expand(mnemonic, args)
	if err != nil {
		return &Error{n, err.Error()}
	}
	if a.size[a.sec]%4 != 0 {
		return &Error{n, "instruction is not 4-byte aligned"}
	}
	s := stmt{line: n, sec: a.sec, off: a.size[a.sec], insts: insts}
	for _, in := range insts {
		a.size[a.sec] += in.size()
	}
	a.stmts = append(a.stmts, s)
	return nil
}

func (a *assembler) addData(n int, data []byte) {
	a.stmts = append(a.stmts, stmt{line: n, sec: a.sec, off: a.size[a.sec], data: data})
	a.size[a.sec] += uint64(len(data))
}

func (a *assembler) pad(n int, align uint64) {
	if align == 0 || align&(align-1) != 0 {
		return
	}
	gap := alignUp(a.size[a.sec], align) - a.size[a.sec]
	if gap == 0 {
		return
	}
	fill := make([]byte, gap)
	if a.sec == secText && gap%4 == 0 {
		for i := 0; i < len(fill); i += 4 {
			copy(fill[i:], []byte{0x13, 0, 0, 0})
		}
	}
	a.addData(n, fill)
}

func (a *assembler) directive(n int, name string, args []string) error {
	switch name {
	case ".text":
		a.sec = secText
	case ".data", ".rodata", ".bss", ".sdata", ".sbss":
		a.sec = secData
	case ".section":
		if len(args) == 0 {
			return &Error{n, ".section needs a name"}
		}
		if strings.HasPrefix(args[0], ".text") {
			a.sec = secText
		} else {
			a.sec = secData
		}
	case ".globl", ".global", ".type", ".size", ".option", ".file", ".local":
	case ".equ", ".set":
		if len(args) != 2 || !isIdent(args[0]) {
			return &Error{n, name + " wants NAME, VALUE"}
		}
		v, err := a.eval(args[1], nil)
		if err != nil {
			return &Error{n, err.Error()}
		}
		a.equs[args[0]] = v
	case ".byte", ".half", ".2byte", ".short", ".word", ".4byte", ".long", ".dword", ".8byte", ".quad":
		width := map[string]int{".byte": 1, ".half": 2, ".2byte": 2, ".short": 2,
			".word": 4, ".4byte": 4, ".long": 4, ".dword": 8, ".8byte": 8, ".quad": 8}[name]
		a.stmts = append(a.stmts, stmt{line: n, sec: a.sec, off: a.size[a.sec], exprs: args, width: width})
		a.size[a.sec] += uint64(width * len(args))
	case ".string", ".asciz", ".ascii":
		var buf []byte
		for _, arg := range args {
			s, err := strconv.Unquote(arg)
			if err != nil {
				return &Error{n, "bad string literal " + arg}
			}
			buf = append(buf, s...)
			if name != ".ascii" {
				buf = append(buf, 0)
			}
		}
		a.addData(n, buf)
	case ".zero", ".space", ".skip":
		if len(args) == 0 {
			return &Error{n, name + " needs a size"}
		}
		v, err := a.eval(args[0], nil)
		if err != nil || v < 0 {
			return &Error{n, "bad size " + args[0]}
		}
		a.addData(n, make([]byte, v))
	case ".align", ".p2align", ".balign":
		if len(args) == 0 {
			return &Error{n, name + " needs an argument"}
		}
		v, err := a.eval(args[0], nil)
		if err != nil || v < 0 || v > 12 && name != ".balign" {
			return &Error{n, "bad alignment " + args[0]}
		}
		align := uint64(1) << v
		if name == ".balign" {
			align = uint64(v)
		}
		a.pad(n, align)
	default:
		return &Error{n, "unknown directive " + name}
	}
	return nil
}

func one(mnemonic string, args ...string) []inst { return []inst{{mnemonic, args}} }

func want(args []string, n int, mnemonic string) error {
	if len(args) != n {
		return fmt.Errorf("%s takes %d operands, got %d", mnemonic, n, len(args))
	}
	return nil
}

// expand rewrites pseudo-instructions into base instructions.
func (a *assembler) expand(m string, args []string) ([]inst, error) {
	pseudo2 := map[string]func(x, y string) []inst{
		"mv":     func(rd, rs string) []inst { return one("addi", rd, rs, "0") },
		"not":    func(rd, rs string) []inst { return one("xori", rd, rs, "-1") },
		"neg":    func(rd, rs string) []inst { return one("sub", rd, "zero", rs) },
		"negw":   func(rd, rs string) []inst { return one("subw", rd, "zero", rs) },
		"sext.w": func(rd, rs string) []inst { return one("addiw", rd, rs, "0") },
		"seqz":   func(rd, rs string) []inst { return one("sltiu", rd, rs, "1") },
		"snez":   func(rd, rs string) []inst { return one("sltu", rd, "zero", rs) },
		"sltz":   func(rd, rs string) []inst { return one("slt", rd, rs, "zero") },
		"sgtz":   func(rd, rs string) []inst { return one("slt", rd, "zero", rs) },
		"beqz":   func(rs, l string) []inst { return one("beq", rs, "zero", l) },
		"bnez":   func(rs, l string) []inst { return one("bne", rs, "zero", l) },
		"bltz":   func(rs, l string) []inst { return one("blt", rs, "zero", l) },
		"bgez":   func(rs, l string) []inst { return one("bge", rs, "zero", l) },
		"blez":   func(rs, l string) []inst { return one("bge", "zero", rs, l) },
		"bgtz":   func(rs, l string) []inst { return one("blt", "zero", rs, l) },
	}
	swapped := map[string]string{"bgt": "blt", "ble": "bge", "bgtu": "bltu", "bleu": "bgeu"}

	switch {
	case m == "nop":
		return one("addi", "zero", "zero", "0"), want(args, 0, m)
	case m == "ret":
		return one("jalr", "zero", "0(ra)"), want(args, 0, m)
	case m == "j" || m == "tail":
		return one("jal", "zero", first(args)), want(args, 1, m)
	case m == "call":
		return one("jal", "ra", first(args)), want(args, 1, m)
	case m == "jr":
		return one("jalr", "zero", "0("+first(args)+")"), want(args, 1, m)
	case m == "jal" && len(args) == 1:
		return one("jal", "ra", args[0]), nil
	case m == "jalr" && len(args) == 1:
		return one("jalr", "ra", "0("+args[0]+")"), nil
	case m == "la":
		if err := want(args, 2, m); err != nil {
			return nil, err
		}
		return one("la", args...), nil
	case m == "li":
		if err := want(args, 2, m); err != nil {
			return nil, err
		}
		v, err := a.eval(args[1], nil)
		if err != nil {
			return nil, fmt.Errorf("li needs a constant (use la for addresses): %v", err)
		}
		return liSeq(args[0], v), nil
	case pseudo2[m] != nil:
		if err := want(args, 2, m); err != nil {
			return nil, err
		}
		return pseudo2[m](args[0], args[1]), nil
	case swapped[m] != "":
		if err := want(args, 3, m); err != nil {
			return nil, err
		}
		return one(swapped[m], args[1], args[0], args[2]), nil
	}
	if _, ok := ops[m]; !ok {
		return nil, fmt.Errorf("unknown instruction %q", m)
	}
	return one(m, args...), nil
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// liSeq materialises a 64-bit constant in rd.
func liSeq(rd string, v int64) []inst {
	itoa := func(x int64) string { return strconv.FormatInt(x, 10) }
	if fitsSigned(v, 12) {
		return one("addi", rd, "zero", itoa(v))
	}
	if fitsSigned(v, 32) {
		hi := (v + 0x800) >> 12
		lo := v - hi<<12
		seq := one("lui", rd, itoa(hi&0xfffff))
		if lo != 0 {
			seq = append(seq, inst{"addiw", []string{rd, rd, itoa(lo)}})
		}
		return seq
	}
	lo := v << 52 >> 52
	hi := (v - lo) >> 12
	shift := 12 + bits.TrailingZeros64(uint64(hi))
	hi >>= shift - 12
	seq := liSeq(rd, hi)
	seq = append(seq, inst{"slli", []string{rd, rd, itoa(int64(shift))}})
	if lo != 0 {
		seq = append(seq, inst{"addi", []string{rd, rd, itoa(lo)}})
	}
	return seq
}

// eval resolves an expression of numbers, character literals and symbols
// joined by + and -. Labels are only visible when addr is non-nil.
func (a *assembler) eval(expr string, addr func(string) (uint64, bool)) (int64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("missing operand")
	}
	var (
		total int64
		sign  int64 = 1
		start int
	)
	flush := func(term string) error {
		term = strings.TrimSpace(term)
		v, err := a.term(term, addr)
		if err != nil {
			return err
		}
		total += sign * v
		return nil
	}
	for i := 1; i < len(expr); i++ {
		c := expr[i]
		if c != '+' && c != '-' {
			continue
		}
		prev := strings.TrimSpace(expr[start:i])
		if prev == "" || prev == "'" {
			continue
		}
		if err := flush(prev); err != nil {
			return 0, err
		}
		sign = 1
		if c == '-' {
			sign = -1
		}
		start = i + 1
	}
	if err := flush(expr[start:]); err != nil {
		return 0, err
	}
	return total, nil
}

func (a *assembler) term(t string, addr func(string) (uint64, bool)) (int64, error) {
	if t == "" {
		return 0, fmt.Errorf("missing term")
	}
	if t[0] == '\'' {
		s, err := strconv.Unquote(t)
		if err != nil || len(s) != 1 {
			return 0, fmt.Errorf("bad character literal %s", t)
		}
		return int64(s[0]), nil
	}
	if v, err := strconv.ParseInt(t, 0, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseUint(t, 0, 64); err == nil {
		return int64(v), nil
	}
	neg := strings.HasPrefix(t, "-")
	name := strings.TrimPrefix(t, "-")
	if v, ok := a.equs[name]; ok {
		if neg {
			return -v, nil
		}
		return v, nil
	}
	if addr != nil {
		if v, ok := addr(name); ok {
			if neg {
				return -int64(v), nil
			}
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("undefined symbol %q", name)
}

func (a *assembler) addr(name string) (uint64, bool) {
	l, ok := a.labels[name]
	if !ok {
		return 0, false
	}
	return a.base[l.sec] + l.off, true
}

func reg(s string) (uint32, error) {
	r, ok := riscv.LookupRegister(strings.ToLower(strings.TrimSpace(s)))
	if !ok {
		return 0, fmt.Errorf("bad register %q", s)
	}
	return uint32(r), nil
}

// memOperand splits "off(reg)".
func (a *assembler) memOperand(s string) (int64, uint32, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return 0, 0, fmt.Errorf("bad memory operand %q", s)
	}
	r, err := reg(s[open+1 : len(s)-1])
	if err != nil {
		return 0, 0, err
	}
	var off int64
	if strings.TrimSpace(s[:open]) != "" {
		if off, err = a.eval(s[:open], a.addr); err != nil {
			return 0, 0, err
		}
	}
	return off, r, nil
}

func (a *assembler) emit(s stmt, out []byte) error {
	fail := func(err error) error { return &Error{s.line, err.Error()} }
	switch {
	case s.data != nil:
		copy(out, s.data)
	case s.exprs != nil:
		for i, e := range s.exprs {
			v, err := a.eval(e, a.addr)
			if err != nil {
				return fail(err)
			}
			for b := 0; b < s.width; b++ {
				out[i*s.width+b] = byte(uint64(v) >> (8 * b))
			}
		}
	default:
		pc := a.base[s.sec] + s.off
		for _, in := range s.insts {
			words, err := a.encode(in, pc)
			if err != nil {
				return fail(fmt.Errorf("%s: %v", in.mnemonic, err))
			}
			for _, w := range words {
				out[0], out[1], out[2], out[3] = byte(w), byte(w>>8), byte(w>>16), byte(w>>24)
				out = out[4:]
				pc += 4
			}
		}
	}
	return nil
}

func (a *assembler) encode(in inst, pc uint64) ([]uint32, error) {
	args := in.args
	if in.mnemonic == "la" {
		rd, err := reg(args[0])
		if err != nil {
			return nil, err
		}
		target, err := a.eval(args[1], a.addr)
		if err != nil {
			return nil, err
		}
		off := target - int64(pc)
		hi := (off + 0x800) >> 12
		lo := off - hi<<12
		return []uint32{encU(ops["auipc"], rd, hi), encI(ops["addi"], rd, rd, lo)}, nil
	}
	opc := ops[in.mnemonic]
	switch opc.format {
	case fmtR:
		if err := want(args, 3, in.mnemonic); err != nil {
			return nil, err
		}
		rd, e1 := reg(args[0])
		rs1, e2 := reg(args[1])
		rs2, e3 := reg(args[2])
		if err := firstErr(e1, e2, e3); err != nil {
			return nil, err
		}
		return []uint32{encR(opc, rd, rs1, rs2)}, nil
	case fmtI, fmtShift64, fmtShift32:
		if err := want(args, 3, in.mnemonic); err != nil {
			return nil, err
		}
		rd, e1 := reg(args[0])
		rs1, e2 := reg(args[1])
		imm, e3 := a.eval(args[2], a.addr)
		if err := firstErr(e1, e2, e3); err != nil {
			return nil, err
		}
		switch opc.format {
		case fmtShift64:
			if imm < 0 || imm > 63 {
				return nil, fmt.Errorf("shift amount %d out of range", imm)
			}
			return []uint32{encShift(opc, rd, rs1, imm)}, nil
		case fmtShift32:
			if imm < 0 || imm > 31 {
				return nil, fmt.Errorf("shift amount %d out of range", imm)
			}
			return []uint32{encShift(opc, rd, rs1, imm)}, nil
		}
		if !fitsSigned(imm, 12) {
			return nil, fmt.Errorf("immediate %d out of range", imm)
		}
		return []uint32{encI(opc, rd, rs1, imm)}, nil
	case fmtLoad, fmtStore:
		if err := want(args, 2, in.mnemonic); err != nil {
			return nil, err
		}
		r, err := reg(args[0])
		if err != nil {
			return nil, err
		}
		off, base, err := a.memOperand(args[1])
		if err != nil {
			return nil, err
		}
		if !fitsSigned(off, 12) {
			return nil, fmt.Errorf("offset %d out of range", off)
		}
		if opc.format == fmtLoad {
			return []uint32{encI(opc, r, base, off)}, nil
		}
		return []uint32{encS(opc, base, r, off)}, nil
	case fmtBranch:
		if err := want(args, 3, in.mnemonic); err != nil {
			return nil, err
		}
		rs1, e1 := reg(args[0])
		rs2, e2 := reg(args[1])
		target, e3 := a.eval(args[2], a.addr)
		if err := firstErr(e1, e2, e3); err != nil {
			return nil, err
		}
		off := target - int64(pc)
		if !fitsSigned(off, 13) || off&1 != 0 {
			return nil, fmt.Errorf("branch target out of range")
		}
		return []uint32{encB(opc, rs1, rs2, off)}, nil
	case fmtU:
		if err := want(args, 2, in.mnemonic); err != nil {
			return nil, err
		}
		rd, e1 := reg(args[0])
		imm, e2 := a.eval(args[1], a.addr)
		if err := firstErr(e1, e2); err != nil {
			return nil, err
		}
		if imm < -(1<<19) || imm >= 1<<20 {
			return nil, fmt.Errorf("immediate %d out of range", imm)
		}
		return []uint32{encU(opc, rd, imm)}, nil
	case fmtJ:
		if err := want(args, 2, in.mnemonic); err != nil {
			return nil, err
		}
		rd, e1 := reg(args[0])
		target, e2 := a.eval(args[1], a.addr)
		if err := firstErr(e1, e2); err != nil {
			return nil, err
		}
		off := target - int64(pc)
		if !fitsSigned(off, 21) || off&1 != 0 {
			return nil, fmt.Errorf("jump target out of range")
		}
		return []uint32{encJ(rd, off)}, nil
	case fmtJalr:
		var (
			rd, rs1 uint32
			off     int64
			err     error
		)
		switch len(args) {
		case 2:
			if rd, err = reg(args[0]); err == nil {
				off, rs1, err = a.memOperand(args[1])
			}
		case 3:
			var e1, e2, e3 error
			rd, e1 = reg(args[0])
			rs1, e2 = reg(args[1])
			off, e3 = a.eval(args[2], a.addr)
			err = firstErr(e1, e2, e3)
		default:
			err = fmt.Errorf("jalr takes 2 or 3 operands")
		}
		if err != nil {
			return nil, err
		}
		return []uint32{encI(opc, rd, rs1, off)}, nil
	case fmtSystem:
		return []uint32{encI(opc, 0, 0, int64(opc.funct7))}, nil
	case fmtFence:
		return []uint32{0x0ff0000f}, nil
	}
	return nil, fmt.Errorf("unknown instruction")
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
