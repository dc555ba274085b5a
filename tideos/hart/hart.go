// Package hart interprets RV64IM user code against an Sv39 page table.
//
// The hart runs until the program traps: an ecall, an ebreak, a page fault,
// a misaligned access, or an illegal instruction. The trap handler owns what
// happens next.
package hart

import (
	"encoding/binary"
	"math"
	"math/bits"

	"tide/tideos/mm"
	"tide/tideos/riscv"
)

// Hart is one user-mode RV64IM core.
type Hart struct {
	pt *mm.PageTable
	cx *riscv.TrapContext
	pc uint64

	// Retired counts instructions executed since the hart was created.
	Retired uint64
}

// New binds a hart to an address space and a saved context.
func New(pt *mm.PageTable, cx *riscv.TrapContext) *Hart {
	return &Hart{pt: pt, cx: cx}
}

// Run executes from cx.Sepc for at most budget instructions. It returns the
// trap and true when the program trapped, or false when the budget ran out.
// In both cases cx.Sepc holds the pc to resume from (the trapping
// instruction for a trap).
func (h *Hart) Run(budget int) (riscv.Trap, bool) {
	h.pc = h.cx.Sepc
	defer func() { h.cx.Sepc = h.pc }()
	for i := 0; i < budget; i++ {
		if trap, ok := h.step(); ok {
			return trap, true
		}
		h.cx.X[riscv.Zero] = 0
		h.Retired++
	}
	return riscv.Trap{}, false
}

func (h *Hart) fetch() (uint32, *riscv.Trap) {
	if h.pc&3 != 0 {
		return 0, &riscv.Trap{Cause: riscv.CauseInstructionMisaligned, Tval: h.pc}
	}
	pte, page, ok := h.pt.Resolve(mm.VirtAddr(h.pc))
	if !ok || !pte.User() || !pte.Executable() {
		return 0, &riscv.Trap{Cause: riscv.CauseInstructionPageFault, Tval: h.pc}
	}
	off := mm.VirtAddr(h.pc).PageOffset()
	return binary.LittleEndian.Uint32(page[off:]), nil
}

func (h *Hart) access(va uint64, size uint64, write bool) ([]byte, *riscv.Trap) {
	if va&(size-1) != 0 {
		if write {
			return nil, &riscv.Trap{Cause: riscv.CauseStoreMisaligned, Tval: va}
		}
		return nil, &riscv.Trap{Cause: riscv.CauseLoadMisaligned, Tval: va}
	}
	pte, page, ok := h.pt.Resolve(mm.VirtAddr(va))
	if write {
		if !ok || !pte.User() || !pte.Writable() {
			return nil, &riscv.Trap{Cause: riscv.CauseStorePageFault, Tval: va}
		}
	} else if !ok || !pte.User() || !pte.Readable() {
		return nil, &riscv.Trap{Cause: riscv.CauseLoadPageFault, Tval: va}
	}
	off := mm.VirtAddr(va).PageOffset()
	return page[off : off+size], nil
}

func (h *Hart) load(va uint64, size uint64, signed bool) (uint64, *riscv.Trap) {
	b, trap := h.access(va, size, false)
	if trap != nil {
		return 0, trap
	}
	switch size {
	case 1:
		if signed {
			return uint64(int64(int8(b[0]))), nil
		}
		return uint64(b[0]), nil
	case 2:
		v := binary.LittleEndian.Uint16(b)
		if signed {
			return uint64(int64(int16(v))), nil
		}
		return uint64(v), nil
	case 4:
		v := binary.LittleEndian.Uint32(b)
		if signed {
			return uint64(int64(int32(v))), nil
		}
		return uint64(v), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

func (h *Hart) store(va uint64, size uint64, v uint64) *riscv.Trap {
	b, trap := h.access(va, size, true)
	if trap != nil {
		return trap
	}
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}

func immI(inst uint32) uint64 { return uint64(int64(int32(inst)) >> 20) }

func immS(inst uint32) uint64 {
	return uint64(int64(int32(inst)>>25)<<5 | int64(inst>>7&0x1f))
}

func immB(inst uint32) uint64 {
	v := int64(int32(inst)>>31) << 12
	v |= int64(inst>>7&1) << 11
	v |= int64(inst>>25&0x3f) << 5
	v |= int64(inst>>8&0xf) << 1
	return uint64(v)
}

func immU(inst uint32) uint64 { return uint64(int64(int32(inst & 0xfffff000))) }

func immJ(inst uint32) uint64 {
	v := int64(int32(inst)>>31) << 20
	v |= int64(inst>>12&0xff) << 12
	v |= int64(inst>>20&1) << 11
	v |= int64(inst>>21&0x3ff) << 1
	return uint64(v)
}

func sext32(v uint64) uint64 { return uint64(int64(int32(v))) }

func (h *Hart) illegal(inst uint32) (riscv.Trap, bool) {
	return riscv.Trap{Cause: riscv.CauseIllegalInstruction, Tval: uint64(inst)}, true
}

// step executes one instruction, returning a trap when one is raised.
func (h *Hart) step() (riscv.Trap, bool) {
	inst, trap := h.fetch()
	if trap != nil {
		return *trap, true
	}
	x := &h.cx.X
	rd := inst >> 7 & 0x1f
	rs1 := x[inst>>15&0x1f]
	rs2 := x[inst>>20&0x1f]
	funct3 := inst >> 12 & 7
	funct7 := inst >> 25
	next := h.pc + 4

	switch inst & 0x7f {
	case 0x37: // lui
		x[rd] = immU(inst)
	case 0x17: // auipc
		x[rd] = h.pc + immU(inst)
	case 0x6f: // jal
		x[rd] = next
		next = h.pc + immJ(inst)
	case 0x67: // jalr
		target := (rs1 + immI(inst)) &^ 1
		x[rd] = next
		next = target
	case 0x63:
		var taken bool
		switch funct3 {
		case 0:
			taken = rs1 == rs2
		case 1:
			taken = rs1 != rs2
		case 4:
			taken = int64(rs1) < int64(rs2)
		case 5:
			taken = int64(rs1) >= int64(rs2)
		case 6:
			taken = rs1 < rs2
		case 7:
			taken = rs1 >= rs2
		default:
			return h.illegal(inst)
		}
		if taken {
			next = h.pc + immB(inst)
		}
	case 0x03:
		size := uint64(1) << (funct3 & 3)
		if funct3 == 7 {
			return h.illegal(inst)
		}
		v, trap := h.load(rs1+immI(inst), size, funct3 < 4)
		if trap != nil {
			return *trap, true
		}
		x[rd] = v
	case 0x23:
		if funct3 > 3 {
			return h.illegal(inst)
		}
		if trap := h.store(rs1+immS(inst), uint64(1)<<funct3, rs2); trap != nil {
			return *trap, true
		}
	case 0x13:
		imm := immI(inst)
		shamt := imm & 0x3f
		switch funct3 {
		case 0:
			x[rd] = rs1 + imm
		case 1:
			if inst>>26 != 0 {
				return h.illegal(inst)
			}
			x[rd] = rs1 << shamt
		case 2:
			x[rd] = b2u(int64(rs1) < int64(imm))
		case 3:
			x[rd] = b2u(rs1 < imm)
		case 4:
			x[rd] = rs1 ^ imm
		case 5:
			switch inst >> 26 {
			case 0:
				x[rd] = rs1 >> shamt
			case 0x10:
				x[rd] = uint64(int64(rs1) >> shamt)
			default:
				return h.illegal(inst)
			}
		case 6:
			x[rd] = rs1 | imm
		case 7:
			x[rd] = rs1 & imm
		}
	case 0x33:
		v, ok := op(funct7, funct3, rs1, rs2)
		if !ok {
			return h.illegal(inst)
		}
		x[rd] = v
	case 0x1b:
		shamt := inst >> 20 & 0x1f
		switch {
		case funct3 == 0:
			x[rd] = sext32(rs1 + immI(inst))
		case funct3 == 1 && funct7 == 0:
			x[rd] = sext32(uint64(uint32(rs1) << shamt))
		case funct3 == 5 && funct7 == 0:
			x[rd] = sext32(uint64(uint32(rs1) >> shamt))
		case funct3 == 5 && funct7 == 0x20:
			x[rd] = sext32(uint64(int32(rs1) >> shamt))
		default:
			return h.illegal(inst)
		}
	case 0x3b:
		v, ok := op32(funct7, funct3, rs1, rs2)
		if !ok {
			return h.illegal(inst)
		}
		x[rd] = v
	case 0x0f: // fence, fence.i
	case 0x73:
		switch inst {
		case 0x00000073:
			return riscv.Trap{Cause: riscv.CauseUserEnvCall}, true
		case 0x00100073:
			return riscv.Trap{Cause: riscv.CauseBreakpoint, Tval: h.pc}, true
		default:
			return h.illegal(inst)
		}
	default:
		return h.illegal(inst)
	}
	h.pc = next
	return riscv.Trap{}, false
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func op(funct7, funct3 uint32, a, b uint64) (uint64, bool) {
	switch funct7 {
	case 0:
		switch funct3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x3f), true
		case 2:
			return b2u(int64(a) < int64(b)), true
		case 3:
			return b2u(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 0x3f), true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}
	case 0x20:
		switch funct3 {
		case 0:
			return a - b, true
		case 5:
			return uint64(int64(a) >> (b & 0x3f)), true
		}
	case 1:
		return mulDiv(funct3, a, b), true
	}
	return 0, false
}

func mulDiv(funct3 uint32, a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	switch funct3 {
	case 0:
		return a * b
	case 1:
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		if sb < 0 {
			hi -= a
		}
		return hi
	case 2:
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		return hi
	case 3:
		hi, _ := bits.Mul64(a, b)
		return hi
	case 4:
		switch {
		case b == 0:
			return math.MaxUint64
		case sa == math.MinInt64 && sb == -1:
			return a
		}
		return uint64(sa / sb)
	case 5:
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case 6:
		switch {
		case b == 0:
			return a
		case sa == math.MinInt64 && sb == -1:
			return 0
		}
		return uint64(sa % sb)
	default:
		if b == 0 {
			return a
		}
		return a % b
	}
}

func op32(funct7, funct3 uint32, a, b uint64) (uint64, bool) {
	wa, wb := uint32(a), uint32(b)
	sa, sb := int32(a), int32(b)
	switch funct7 {
	case 0:
		switch funct3 {
		case 0:
			return sext32(uint64(wa + wb)), true
		case 1:
			return sext32(uint64(wa << (wb & 0x1f))), true
		case 5:
			return sext32(uint64(wa >> (wb & 0x1f))), true
		}
	case 0x20:
		switch funct3 {
		case 0:
			return sext32(uint64(wa - wb)), true
		case 5:
			return sext32(uint64(sa >> (wb & 0x1f))), true
		}
	case 1:
		switch funct3 {
		case 0:
			return sext32(uint64(wa * wb)), true
		case 4:
			switch {
			case wb == 0:
				return math.MaxUint64, true
			case sa == math.MinInt32 && sb == -1:
				return sext32(uint64(wa)), true
			}
			return sext32(uint64(sa / sb)), true
		case 5:
			if wb == 0 {
				return math.MaxUint64, true
			}
			return sext32(uint64(wa / wb)), true
		case 6:
			switch {
			case wb == 0:
				return sext32(uint64(wa)), true
			case sa == math.MinInt32 && sb == -1:
				return 0, true
			}
			return sext32(uint64(sa % sb)), true
		case 7:
			if wb == 0 {
				return sext32(uint64(wa)), true
			}
			return sext32(uint64(wa % wb)), true
		}
	}
	return 0, false
}
