package mm

import (
	"errors"
	"fmt"

	"tide/tideos/upsafe"
)

var (
	ErrOutOfFrames = errors.New("mm: out of physical frames")
	ErrOverlap     = errors.New("mm: range overlaps an existing area")
	ErrNotMapped   = errors.New("mm: page not mapped")
	ErrBadAddress  = errors.New("mm: bad user address")
	ErrBadELF      = errors.New("mm: invalid elf image")
)

// PhysBase is the physical address of the first frame, matching the RAM base
// of the qemu virt board.
const PhysBase = PhysAddr(0x8000_0000)

type frameAllocator struct {
	current  PhysPageNum
	end      PhysPageNum
	recycled []PhysPageNum
}

// PhysMemory is the simulated RAM plus the frame allocator that hands it out.
type PhysMemory struct {
	data  []byte
	base  PhysPageNum
	alloc *upsafe.Cell[frameAllocator]
}

// NewPhysMemory creates size bytes of RAM, rounded down to whole frames.
func NewPhysMemory(size int) *PhysMemory {
	frames := size / PageSize
	base := PhysBase.Floor()
	return &PhysMemory{
		data: make([]byte, frames*PageSize),
		base: base,
		alloc: upsafe.New("frame allocator", frameAllocator{
			current: base,
			end:     base + PhysPageNum(frames),
		}),
	}
}

// Alloc returns a zeroed frame.
func (m *PhysMemory) Alloc() (PhysPageNum, error) {
	var (
		ppn PhysPageNum
		err error
	)
	m.alloc.With(func(a *frameAllocator) {
		if n := len(a.recycled); n > 0 {
			ppn = a.recycled[n-1]
			a.recycled = a.recycled[:n-1]
			return
		}
		if a.current == a.end {
			err = ErrOutOfFrames
			return
		}
		ppn = a.current
		a.current++
	})
	if err != nil {
		return 0, err
	}
	clear(m.Page(ppn))
	return ppn, nil
}

// Dealloc returns a frame to the allocator. Freeing a frame that is not
// allocated is a kernel bug and panics.
func (m *PhysMemory) Dealloc(ppn PhysPageNum) {
	m.alloc.With(func(a *frameAllocator) {
		if ppn < m.base || ppn >= a.current {
			panic(fmt.Sprintf("mm: frame %s has not been allocated", ppn))
		}
		for _, r := range a.recycled {
			if r == ppn {
				panic(fmt.Sprintf("mm: frame %s freed twice", ppn))
			}
		}
		a.recycled = append(a.recycled, ppn)
	})
}

// FreeFrames reports how many frames can still be allocated.
func (m *PhysMemory) FreeFrames() int {
	return upsafe.Get(m.alloc, func(a *frameAllocator) int {
		return int(a.end-a.current) + len(a.recycled)
	})
}

// Page returns the bytes of a frame.
func (m *PhysMemory) Page(ppn PhysPageNum) []byte {
	off := int(ppn-m.base) * PageSize
	return m.data[off : off+PageSize : off+PageSize]
}
