package mm

import (
	"bytes"
	"debug/elf"
	"fmt"
	"sort"
)

// UserStackSize is the size of the user stack mapped above the program
// image.
const UserStackSize = 2 * PageSize

// Region describes one mapped area.
type Region struct {
	Start, End VirtAddr
	Perm       MapPermission
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x) %s", uint64(r.Start), uint64(r.End), r.Perm)
}

// MemorySet is a process address space: a page table plus the areas mapped
// through it. Areas never overlap.
type MemorySet struct {
	mem   *PhysMemory
	pt    *PageTable
	areas []*mapArea
}

// NewBare returns an empty address space.
func NewBare(mem *PhysMemory) (*MemorySet, error) {
	pt, err := NewPageTable(mem)
	if err != nil {
		return nil, err
	}
	return &MemorySet{mem: mem, pt: pt}, nil
}

// Token is the satp value for this address space.
func (ms *MemorySet) Token() uint64 { return ms.pt.Token() }

// PageTable exposes the table so the hart can walk it.
func (ms *MemorySet) PageTable() *PageTable { return ms.pt }

// Regions lists the mapped areas in address order.
func (ms *MemorySet) Regions() []Region {
	out := make([]Region, 0, len(ms.areas))
	for _, a := range ms.areas {
		out = append(out, Region{Start: a.start.Addr(), End: a.end.Addr(), Perm: a.perm})
	}
	return out
}

func (ms *MemorySet) insert(a *mapArea) {
	i := sort.Search(len(ms.areas), func(i int) bool { return ms.areas[i].start > a.start })
	ms.areas = append(ms.areas, nil)
	copy(ms.areas[i+1:], ms.areas[i:])
	ms.areas[i] = a
}

func (ms *MemorySet) push(a *mapArea, offset uint64, data []byte) error {
	if err := a.mapAll(ms.pt); err != nil {
		return err
	}
	if len(data) > 0 {
		a.copyData(ms.pt, offset, data)
	}
	ms.insert(a)
	return nil
}

// Overlaps reports whether any page in [start, end) is already mapped.
func (ms *MemorySet) Overlaps(start, end VirtPageNum) bool {
	for _, a := range ms.areas {
		if a.overlaps(start, end) {
			return true
		}
	}
	return false
}

// InsertFramedArea maps fresh zeroed frames over [floor(start), ceil(end)).
// The address space is left untouched when the range overlaps an existing
// area.
func (ms *MemorySet) InsertFramedArea(start, end VirtAddr, perm MapPermission) error {
	a := newMapArea(start, end, perm)
	if uint64(end) > UserSpaceEnd || end < start {
		return fmt.Errorf("insert %s-%s: %w", start, end, ErrBadAddress)
	}
	if ms.Overlaps(a.start, a.end) {
		return fmt.Errorf("insert %s-%s: %w", start, end, ErrOverlap)
	}
	return ms.push(a, 0, nil)
}

// Unmap removes [start, start+length). Both must be page aligned and every
// page in the range must be mapped; otherwise nothing changes. Areas that
// straddle the range are split.
func (ms *MemorySet) Unmap(start, length uint64) error {
	if !IsPageAligned(start) || !IsPageAligned(length) || length == 0 {
		return fmt.Errorf("unmap %#x+%#x: %w", start, length, ErrBadAddress)
	}
	from := VirtAddr(start).Floor()
	to := VirtAddr(start + length).Floor()
	for vpn := from; vpn < to; vpn++ {
		if !ms.mapped(vpn) {
			return fmt.Errorf("unmap %s: %w", vpn, ErrNotMapped)
		}
	}
	kept := ms.areas[:0:0]
	for _, a := range ms.areas {
		if !a.overlaps(from, to) {
			kept = append(kept, a)
			continue
		}
		left, right := a.split(ms.pt, from, to)
		if left != nil {
			kept = append(kept, left)
		}
		if right != nil {
			kept = append(kept, right)
		}
	}
	ms.areas = kept
	return nil
}

func (ms *MemorySet) mapped(vpn VirtPageNum) bool {
	for _, a := range ms.areas {
		if a.contains(vpn) {
			return true
		}
	}
	return false
}

func (ms *MemorySet) areaStartingAt(vpn VirtPageNum) *mapArea {
	for _, a := range ms.areas {
		if a.start == vpn {
			return a
		}
	}
	return nil
}

// ShrinkTo moves the end of the area beginning at start down to newEnd.
func (ms *MemorySet) ShrinkTo(start, newEnd VirtAddr) bool {
	a := ms.areaStartingAt(start.Floor())
	if a == nil {
		return false
	}
	end := newEnd.Ceil()
	if end < a.start {
		return false
	}
	if end < a.end {
		a.shrinkTo(ms.pt, end)
	}
	return true
}

// AppendTo grows the area beginning at start up to newEnd. Growth that would
// run into another area fails without change.
func (ms *MemorySet) AppendTo(start, newEnd VirtAddr) bool {
	a := ms.areaStartingAt(start.Floor())
	if a == nil {
		return false
	}
	end := newEnd.Ceil()
	if end <= a.end {
		return true
	}
	if uint64(newEnd) > UserSpaceEnd {
		return false
	}
	for _, other := range ms.areas {
		if other != a && other.overlaps(a.end, end) {
			return false
		}
	}
	return a.appendTo(ms.pt, end) == nil
}

// Recycle releases every data frame and page-table frame. The set must not
// be used afterwards.
func (ms *MemorySet) Recycle() {
	for _, a := range ms.areas {
		a.unmapAll(ms.pt)
	}
	ms.areas = nil
	ms.pt.release()
}

// FromExisted deep copies user's areas and their contents into a new set.
func FromExisted(user *MemorySet) (*MemorySet, error) {
	ms, err := NewBare(user.mem)
	if err != nil {
		return nil, err
	}
	for _, src := range user.areas {
		a := src.cloneShape()
		if err := ms.push(a, 0, nil); err != nil {
			ms.Recycle()
			return nil, err
		}
		for vpn := src.start; vpn < src.end; vpn++ {
			copy(ms.mem.Page(a.frames[vpn]), user.mem.Page(src.frames[vpn]))
		}
	}
	return ms, nil
}

// Image is the result of loading an ELF file into a fresh address space.
type Image struct {
	Set       *MemorySet
	UserSP    uint64
	Entry     uint64
	HeapStart uint64
}

// FromELF builds an address space from a RISC-V ELF64 executable: one area
// per PT_LOAD segment, a guard page, the user stack, and an empty heap area
// at the stack top.
func FromELF(mem *PhysMemory, data []byte) (Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrBadELF, err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV || f.Type != elf.ET_EXEC {
		return Image{}, fmt.Errorf("%w: want riscv64 executable, got %s %s %s", ErrBadELF, f.Class, f.Machine, f.Type)
	}
	ms, err := NewBare(mem)
	if err != nil {
		return Image{}, err
	}
	fail := func(err error) (Image, error) {
		ms.Recycle()
		return Image{}, err
	}
	var maxEnd VirtPageNum
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz || p.Off+p.Filesz > uint64(len(data)) || p.Vaddr+p.Memsz > UserSpaceEnd {
			return fail(fmt.Errorf("%w: segment at %#x out of range", ErrBadELF, p.Vaddr))
		}
		perm := PermU
		if p.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if p.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if p.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		start := VirtAddr(p.Vaddr)
		a := newMapArea(start, start+VirtAddr(p.Memsz), perm)
		if ms.Overlaps(a.start, a.end) {
			return fail(fmt.Errorf("%w: segment at %#x overlaps", ErrBadELF, p.Vaddr))
		}
		if err := ms.push(a, start.PageOffset(), data[p.Off:p.Off+p.Filesz]); err != nil {
			return fail(err)
		}
		maxEnd = max(maxEnd, a.end)
	}
	if maxEnd == 0 {
		return fail(fmt.Errorf("%w: no loadable segments", ErrBadELF))
	}
	stackBottom := uint64(maxEnd.Addr()) + PageSize
	stackTop := stackBottom + UserStackSize
	if err := ms.push(newMapArea(VirtAddr(stackBottom), VirtAddr(stackTop), PermR|PermW|PermU), 0, nil); err != nil {
		return fail(err)
	}
	if err := ms.push(newMapArea(VirtAddr(stackTop), VirtAddr(stackTop), PermR|PermW|PermU), 0, nil); err != nil {
		return fail(err)
	}
	return Image{Set: ms, UserSP: stackTop, Entry: f.Entry, HeapStart: stackTop}, nil
}
