package mm

import (
	"encoding/binary"
	"fmt"

	"tide/tideos/riscv"
)

// PTEFlags are the low flag bits of an Sv39 page-table entry.
type PTEFlags uint8

const (
	PTEValid PTEFlags = 1 << iota
	PTERead
	PTEWrite
	PTEExec
	PTEUser
	PTEGlobal
	PTEAccessed
	PTEDirty
)

// PTE is a raw Sv39 page-table entry.
type PTE uint64

func newPTE(ppn PhysPageNum, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<10 | uint64(flags))
}

func (e PTE) PPN() PhysPageNum { return PhysPageNum(uint64(e) >> 10 & (1<<ppnWidth - 1)) }
func (e PTE) Flags() PTEFlags  { return PTEFlags(e) }
func (e PTE) Valid() bool      { return e.Flags()&PTEValid != 0 }
func (e PTE) Readable() bool   { return e.Flags()&PTERead != 0 }
func (e PTE) Writable() bool   { return e.Flags()&PTEWrite != 0 }
func (e PTE) Executable() bool { return e.Flags()&PTEExec != 0 }
func (e PTE) User() bool       { return e.Flags()&PTEUser != 0 }

// leaf reports whether the entry maps a page rather than pointing at the
// next table level.
func (e PTE) leaf() bool { return e.Flags()&(PTERead|PTEWrite|PTEExec) != 0 }

// PageTable is a three-level Sv39 table whose nodes live in simulated frames.
type PageTable struct {
	mem    *PhysMemory
	root   PhysPageNum
	frames []PhysPageNum
	// links[i] is the slot that points at frames[i+1].
	links []nodeLink
}

type nodeLink struct {
	table PhysPageNum
	idx   uint64
}

// NewPageTable allocates an empty root table.
func NewPageTable(mem *PhysMemory) (*PageTable, error) {
	root, err := mem.Alloc()
	if err != nil {
		return nil, err
	}
	return &PageTable{mem: mem, root: root, frames: []PhysPageNum{root}}, nil
}

// FromToken opens a view over an existing table. The view owns no frames.
func FromToken(mem *PhysMemory, satp uint64) *PageTable {
	return &PageTable{mem: mem, root: PhysPageNum(riscv.SatpPPN(satp))}
}

// Token is the satp value selecting this table.
func (pt *PageTable) Token() uint64 { return riscv.MakeSatp(uint64(pt.root)) }

func (pt *PageTable) load(table PhysPageNum, idx uint64) PTE {
	return PTE(binary.LittleEndian.Uint64(pt.mem.Page(table)[idx*8:]))
}

func (pt *PageTable) store(table PhysPageNum, idx uint64, e PTE) {
	binary.LittleEndian.PutUint64(pt.mem.Page(table)[idx*8:], uint64(e))
}

// walk returns the table frame and slot holding the leaf entry for vpn. With
// create set, missing intermediate tables are allocated.
func (pt *PageTable) walk(vpn VirtPageNum, create bool) (PhysPageNum, uint64, error) {
	table := pt.root
	idx := vpn.Indexes()
	for level := 0; level < 2; level++ {
		e := pt.load(table, idx[level])
		if !e.Valid() {
			if !create {
				return 0, 0, ErrNotMapped
			}
			next, err := pt.mem.Alloc()
			if err != nil {
				return 0, 0, err
			}
			pt.frames = append(pt.frames, next)
			pt.links = append(pt.links, nodeLink{table, idx[level]})
			e = newPTE(next, PTEValid)
			pt.store(table, idx[level], e)
		}
		table = e.PPN()
	}
	return table, idx[2], nil
}

// Map installs vpn -> ppn. Mapping an already valid page panics.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) error {
	table, slot, err := pt.walk(vpn, true)
	if err != nil {
		return err
	}
	if pt.load(table, slot).Valid() {
		panic(fmt.Sprintf("mm: %s is mapped before mapping", vpn))
	}
	pt.store(table, slot, newPTE(ppn, flags|PTEValid))
	return nil
}

// Unmap clears the entry for vpn. Unmapping an invalid page panics.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	table, slot, err := pt.walk(vpn, false)
	if err != nil || !pt.load(table, slot).Valid() {
		panic(fmt.Sprintf("mm: %s is invalid before unmapping", vpn))
	}
	pt.store(table, slot, 0)
}

// Translate returns the leaf entry for vpn, if one is valid.
func (pt *PageTable) Translate(vpn VirtPageNum) (PTE, bool) {
	table, slot, err := pt.walk(vpn, false)
	if err != nil {
		return 0, false
	}
	e := pt.load(table, slot)
	if !e.Valid() || !e.leaf() {
		return 0, false
	}
	return e, true
}

// TranslateVA resolves a virtual address to its physical address.
func (pt *PageTable) TranslateVA(va VirtAddr) (PhysAddr, bool) {
	e, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return PhysAddr(uint64(e.PPN().Addr()) + va.PageOffset()), true
}

// Resolve returns the leaf entry for va together with the bytes of its page.
func (pt *PageTable) Resolve(va VirtAddr) (PTE, []byte, bool) {
	e, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, nil, false
	}
	return e, pt.mem.Page(e.PPN()), true
}

// nodes returns a mark for dropNodes.
func (pt *PageTable) nodes() int { return len(pt.frames) }

// dropNodes unlinks and frees every node table allocated after mark. The
// caller must already have cleared the leaves beneath them.
func (pt *PageTable) dropNodes(mark int) {
	if mark < 1 || mark >= len(pt.frames) {
		return
	}
	for i := len(pt.frames) - 1; i >= mark; i-- {
		l := pt.links[i-1]
		pt.store(l.table, l.idx, 0)
		pt.mem.Dealloc(pt.frames[i])
	}
	pt.frames = pt.frames[:mark]
	pt.links = pt.links[:mark-1]
}

// release frees the table's own node frames.
func (pt *PageTable) release() {
	for _, f := range pt.frames {
		pt.mem.Dealloc(f)
	}
	pt.frames = nil
	pt.links = nil
}
