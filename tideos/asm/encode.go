package asm

type format uint8

const (
	fmtR format = iota
	fmtI
	fmtShift64
	fmtShift32
	fmtLoad
	fmtStore
	fmtBranch
	fmtU
	fmtJ
	fmtJalr
	fmtSystem
	fmtFence
)

type opSpec struct {
	format format
	opcode uint32
	funct3 uint32
	funct7 uint32
}

var ops = map[string]opSpec{
	"add":  {fmtR, 0x33, 0, 0},
	"sub":  {fmtR, 0x33, 0, 0x20},
	"sll":  {fmtR, 0x33, 1, 0},
	"slt":  {fmtR, 0x33, 2, 0},
	"sltu": {fmtR, 0x33, 3, 0},
	"xor":  {fmtR, 0x33, 4, 0},
	"srl":  {fmtR, 0x33, 5, 0},
	"sra":  {fmtR, 0x33, 5, 0x20},
	"or":   {fmtR, 0x33, 6, 0},
	"and":  {fmtR, 0x33, 7, 0},

	"mul":    {fmtR, 0x33, 0, 1},
	"mulh":   {fmtR, 0x33, 1, 1},
	"mulhsu": {fmtR, 0x33, 2, 1},
	"mulhu":  {fmtR, 0x33, 3, 1},
	"div":    {fmtR, 0x33, 4, 1},
	"divu":   {fmtR, 0x33, 5, 1},
	"rem":    {fmtR, 0x33, 6, 1},
	"remu":   {fmtR, 0x33, 7, 1},

	"addw":  {fmtR, 0x3b, 0, 0},
	"subw":  {fmtR, 0x3b, 0, 0x20},
	"sllw":  {fmtR, 0x3b, 1, 0},
	"srlw":  {fmtR, 0x3b, 5, 0},
	"sraw":  {fmtR, 0x3b, 5, 0x20},
	"mulw":  {fmtR, 0x3b, 0, 1},
	"divw":  {fmtR, 0x3b, 4, 1},
	"divuw": {fmtR, 0x3b, 5, 1},
	"remw":  {fmtR, 0x3b, 6, 1},
	"remuw": {fmtR, 0x3b, 7, 1},

	"addi":  {fmtI, 0x13, 0, 0},
	"slti":  {fmtI, 0x13, 2, 0},
	"sltiu": {fmtI, 0x13, 3, 0},
	"xori":  {fmtI, 0x13, 4, 0},
	"ori":   {fmtI, 0x13, 6, 0},
	"andi":  {fmtI, 0x13, 7, 0},
	"slli":  {fmtShift64, 0x13, 1, 0},
	"srli":  {fmtShift64, 0x13, 5, 0},
	"srai":  {fmtShift64, 0x13, 5, 0x10},
	"addiw": {fmtI, 0x1b, 0, 0},
	"slliw": {fmtShift32, 0x1b, 1, 0},
	"srliw": {fmtShift32, 0x1b, 5, 0},
	"sraiw": {fmtShift32, 0x1b, 5, 0x20},

	"lb":  {fmtLoad, 0x03, 0, 0},
	"lh":  {fmtLoad, 0x03, 1, 0},
	"lw":  {fmtLoad, 0x03, 2, 0},
	"ld":  {fmtLoad, 0x03, 3, 0},
	"lbu": {fmtLoad, 0x03, 4, 0},
	"lhu": {fmtLoad, 0x03, 5, 0},
	"lwu": {fmtLoad, 0x03, 6, 0},
	"sb":  {fmtStore, 0x23, 0, 0},
	"sh":  {fmtStore, 0x23, 1, 0},
	"sw":  {fmtStore, 0x23, 2, 0},
	"sd":  {fmtStore, 0x23, 3, 0},

	"beq":  {fmtBranch, 0x63, 0, 0},
	"bne":  {fmtBranch, 0x63, 1, 0},
	"blt":  {fmtBranch, 0x63, 4, 0},
	"bge":  {fmtBranch, 0x63, 5, 0},
	"bltu": {fmtBranch, 0x63, 6, 0},
	"bgeu": {fmtBranch, 0x63, 7, 0},

	"lui":   {fmtU, 0x37, 0, 0},
	"auipc": {fmtU, 0x17, 0, 0},
	"jal":   {fmtJ, 0x6f, 0, 0},
	"jalr":  {fmtJalr, 0x67, 0, 0},

	"ecall":  {fmtSystem, 0x73, 0, 0},
	"ebreak": {fmtSystem, 0x73, 0, 1},
	"fence":  {fmtFence, 0x0f, 0, 0},
}

func encR(s opSpec, rd, rs1, rs2 uint32) uint32 {
	return s.funct7<<25 | rs2<<20 | rs1<<15 | s.funct3<<12 | rd<<7 | s.opcode
}

func encI(s opSpec, rd, rs1 uint32, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | rs1<<15 | s.funct3<<12 | rd<<7 | s.opcode
}

func encShift(s opSpec, rd, rs1 uint32, shamt int64) uint32 {
	if s.format == fmtShift64 {
		return s.funct7<<26 | uint32(shamt&0x3f)<<20 | rs1<<15 | s.funct3<<12 | rd<<7 | s.opcode
	}
	return s.funct7<<25 | uint32(shamt&0x1f)<<20 | rs1<<15 | s.funct3<<12 | rd<<7 | s.opcode
}

func encS(s opSpec, rs1, rs2 uint32, imm int64) uint32 {
	v := uint32(imm & 0xfff)
	return v>>5<<25 | rs2<<20 | rs1<<15 | s.funct3<<12 | (v&0x1f)<<7 | s.opcode
}

func encB(s opSpec, rs1, rs2 uint32, off int64) uint32 {
	v := uint32(off)
	return (v>>12&1)<<31 | (v>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | s.funct3<<12 |
		(v>>1&0xf)<<8 | (v>>11&1)<<7 | s.opcode
}

func encU(s opSpec, rd uint32, imm int64) uint32 {
	return uint32(imm&0xfffff)<<12 | rd<<7 | s.opcode
}

func encJ(rd uint32, off int64) uint32 {
	v := uint32(off)
	return (v>>20&1)<<31 | (v>>1&0x3ff)<<21 | (v>>11&1)<<20 | (v>>12&0xff)<<12 | rd<<7 | 0x6f
}

func fitsSigned(v int64, width uint) bool {
	lim := int64(1) << (width - 1)
	return v >= -lim && v < lim
}
