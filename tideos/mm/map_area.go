package mm

import "strings"

// MapPermission is the user-visible permission of an area. The bit layout
// matches the PTE flags so the two convert by value.
type MapPermission uint8

const (
	PermR MapPermission = 1 << 1
	PermW MapPermission = 1 << 2
	PermX MapPermission = 1 << 3
	PermU MapPermission = 1 << 4
)

func (p MapPermission) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit MapPermission
		c   byte
	}{{PermR, 'R'}, {PermW, 'W'}, {PermX, 'X'}, {PermU, 'U'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// mapArea is a contiguous run of framed pages [start, end) sharing one
// permission.
type mapArea struct {
	start, end VirtPageNum
	frames     map[VirtPageNum]PhysPageNum
	perm       MapPermission
}

func newMapArea(startVA, endVA VirtAddr, perm MapPermission) *mapArea {
	return &mapArea{
		start:  startVA.Floor(),
		end:    endVA.Ceil(),
		frames: make(map[VirtPageNum]PhysPageNum),
		perm:   perm,
	}
}

// cloneShape returns an area with the same range and permission and no frames.
func (a *mapArea) cloneShape() *mapArea {
	return &mapArea{start: a.start, end: a.end, frames: make(map[VirtPageNum]PhysPageNum), perm: a.perm}
}

func (a *mapArea) contains(vpn VirtPageNum) bool { return vpn >= a.start && vpn < a.end }

func (a *mapArea) overlaps(start, end VirtPageNum) bool {
	return a.start < a.end && a.start < end && start < a.end
}

func (a *mapArea) mapOne(pt *PageTable, vpn VirtPageNum) error {
	ppn, err := pt.mem.Alloc()
	if err != nil {
		return err
	}
	if err := pt.Map(vpn, ppn, PTEFlags(a.perm)); err != nil {
		pt.mem.Dealloc(ppn)
		return err
	}
	a.frames[vpn] = ppn
	return nil
}

func (a *mapArea) unmapOne(pt *PageTable, vpn VirtPageNum) {
	ppn, ok := a.frames[vpn]
	if !ok {
		return
	}
	pt.Unmap(vpn)
	pt.mem.Dealloc(ppn)
	delete(a.frames, vpn)
}

// mapRange maps [from, to). On failure it undoes its own work, including
// any page table nodes it had to allocate.
func (a *mapArea) mapRange(pt *PageTable, from, to VirtPageNum) error {
	mark := pt.nodes()
	for vpn := from; vpn < to; vpn++ {
		if err := a.mapOne(pt, vpn); err != nil {
			for undo := from; undo < vpn; undo++ {
				a.unmapOne(pt, undo)
			}
			pt.dropNodes(mark)
			return err
		}
	}
	return nil
}

func (a *mapArea) unmapRange(pt *PageTable, from, to VirtPageNum) {
	for vpn := from; vpn < to; vpn++ {
		a.unmapOne(pt, vpn)
	}
}

func (a *mapArea) mapAll(pt *PageTable) error { return a.mapRange(pt, a.start, a.end) }
func (a *mapArea) unmapAll(pt *PageTable)     { a.unmapRange(pt, a.start, a.end) }

// copyData writes data into the area starting offset bytes into its first
// page.
func (a *mapArea) copyData(pt *PageTable, offset uint64, data []byte) {
	vpn := a.start
	for len(data) > 0 {
		page := pt.mem.Page(a.frames[vpn])
		n := copy(page[offset:], data)
		data = data[n:]
		offset = 0
		vpn++
	}
}

// shrinkTo drops pages at and above newEnd.
func (a *mapArea) shrinkTo(pt *PageTable, newEnd VirtPageNum) {
	a.unmapRange(pt, newEnd, a.end)
	a.end = newEnd
}

// appendTo maps pages up to newEnd.
func (a *mapArea) appendTo(pt *PageTable, newEnd VirtPageNum) error {
	if err := a.mapRange(pt, a.end, newEnd); err != nil {
		return err
	}
	a.end = newEnd
	return nil
}

// split carves [from, to) out of the area, unmapping those pages, and
// returns the surviving pieces on either side (nil when empty).
func (a *mapArea) split(pt *PageTable, from, to VirtPageNum) (left, right *mapArea) {
	from, to = max(from, a.start), min(to, a.end)
	a.unmapRange(pt, from, to)
	if a.start < from {
		left = &mapArea{start: a.start, end: from, frames: make(map[VirtPageNum]PhysPageNum), perm: a.perm}
	}
	if to < a.end {
		right = &mapArea{start: to, end: a.end, frames: make(map[VirtPageNum]PhysPageNum), perm: a.perm}
	}
	for vpn, ppn := range a.frames {
		if left != nil && left.contains(vpn) {
			left.frames[vpn] = ppn
		} else if right != nil {
			right.frames[vpn] = ppn
		}
	}
	return left, right
}
