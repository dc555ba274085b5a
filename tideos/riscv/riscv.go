// Package riscv holds the RV64 definitions shared by the hart interpreter,
// the memory manager, and the trap handler: register indices, the saved
// user trap context, trap causes, and satp encoding.
package riscv

import "fmt"

// Register indices by ABI name.
const (
	Zero = 0
	RA   = 1
	SP   = 2
	GP   = 3
	TP   = 4
	T0   = 5
	T1   = 6
	T2   = 7
	S0   = 8
	S1   = 9
	A0   = 10
	A1   = 11
	A2   = 12
	A3   = 13
	A4   = 14
	A5   = 15
	A6   = 16
	A7   = 17
	S2   = 18
	S11  = 27
	T3   = 28
	T6   = 31
)

var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegisterName returns the ABI name of register x<i>.
func RegisterName(i int) string {
	if i < 0 || i >= len(abiNames) {
		return fmt.Sprintf("x?%d", i)
	}
	return abiNames[i]
}

// LookupRegister resolves an ABI name ("a0"), an alias ("fp"), or a raw
// name ("x10") to a register index.
func LookupRegister(name string) (int, bool) {
	if name == "fp" {
		return S0, true
	}
	for i, n := range abiNames {
		if n == name {
			return i, true
		}
	}
	var i int
	if _, err := fmt.Sscanf(name, "x%d", &i); err == nil && i >= 0 && i < 32 && fmt.Sprintf("x%d", i) == name {
		return i, true
	}
	return 0, false
}

// TrapContext is the user-mode register snapshot saved on every trap and
// restored on trap return.
type TrapContext struct {
	X    [32]uint64
	Sepc uint64
}

// AppInitContext returns the context a freshly loaded program starts from.
func AppInitContext(entry, sp uint64) TrapContext {
	var cx TrapContext
	cx.Sepc = entry
	cx.X[SP] = sp
	return cx
}

// Cause is the scause value reported by the hart.
type Cause uint64

const (
	CauseInstructionMisaligned Cause = 0
	CauseInstructionFault      Cause = 1
	CauseIllegalInstruction    Cause = 2
	CauseBreakpoint            Cause = 3
	CauseLoadMisaligned        Cause = 4
	CauseLoadFault             Cause = 5
	CauseStoreMisaligned       Cause = 6
	CauseStoreFault            Cause = 7
	CauseUserEnvCall           Cause = 8
	CauseInstructionPageFault  Cause = 12
	CauseLoadPageFault         Cause = 13
	CauseStorePageFault        Cause = 15
)

func (c Cause) String() string {
	switch c {
	case CauseInstructionMisaligned:
		return "instruction address misaligned"
	case CauseInstructionFault:
		return "instruction access fault"
	case CauseIllegalInstruction:
		return "illegal instruction"
	case CauseBreakpoint:
		return "breakpoint"
	case CauseLoadMisaligned:
		return "load address misaligned"
	case CauseLoadFault:
		return "load access fault"
	case CauseStoreMisaligned:
		return "store address misaligned"
	case CauseStoreFault:
		return "store access fault"
	case CauseUserEnvCall:
		return "environment call from U-mode"
	case CauseInstructionPageFault:
		return "instruction page fault"
	case CauseLoadPageFault:
		return "load page fault"
	case CauseStorePageFault:
		return "store page fault"
	default:
		return fmt.Sprintf("cause(%d)", uint64(c))
	}
}

// IsPageFault reports whether the cause is one of the memory faults the
// kernel answers by killing the task.
func (c Cause) IsPageFault() bool {
	switch c {
	case CauseInstructionFault, CauseLoadFault, CauseStoreFault,
		CauseInstructionPageFault, CauseLoadPageFault, CauseStorePageFault,
		CauseInstructionMisaligned, CauseLoadMisaligned, CauseStoreMisaligned:
		return true
	}
	return false
}

// Trap is what the hart hands back when user execution stops.
type Trap struct {
	Cause Cause
	Tval  uint64
}

const satpModeSv39 = uint64(8) << 60

// MakeSatp encodes an Sv39 satp value for the given root page-table PPN.
func MakeSatp(rootPPN uint64) uint64 {
	return satpModeSv39 | rootPPN&((1<<44)-1)
}

// SatpPPN extracts the root PPN from a satp value.
func SatpPPN(satp uint64) uint64 {
	return satp & ((1 << 44) - 1)
}
