package mm

import "fmt"

const (
	// PageSizeBits is log2 of the page size.
	PageSizeBits = 12
	// PageSize is the size of one page and one physical frame.
	PageSize = 1 << PageSizeBits

	// UserSpaceEnd bounds the lower half of the Sv39 address space that user
	// mappings may occupy.
	UserSpaceEnd = uint64(1) << 38

	vpnWidth = 27
	ppnWidth = 44
)

// VirtAddr is a user virtual address.
type VirtAddr uint64

// PhysAddr is a simulated physical address.
type PhysAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysPageNum is a physical page (frame) number.
type PhysPageNum uint64

// Floor returns the page containing va.
func (va VirtAddr) Floor() VirtPageNum { return VirtPageNum(uint64(va) / PageSize) }

// Ceil returns the first page at or above va.
func (va VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(va) + PageSize - 1) / PageSize)
}

// PageOffset returns the offset of va inside its page.
func (va VirtAddr) PageOffset() uint64 { return uint64(va) & (PageSize - 1) }

// Aligned reports whether va sits on a page boundary.
func (va VirtAddr) Aligned() bool { return va.PageOffset() == 0 }

func (va VirtAddr) String() string { return fmt.Sprintf("va:%#x", uint64(va)) }

// PageOffset returns the offset of pa inside its frame.
func (pa PhysAddr) PageOffset() uint64 { return uint64(pa) & (PageSize - 1) }

// Floor returns the frame containing pa.
func (pa PhysAddr) Floor() PhysPageNum { return PhysPageNum(uint64(pa) / PageSize) }

// Addr returns the first address of the page.
func (vpn VirtPageNum) Addr() VirtAddr { return VirtAddr(uint64(vpn) << PageSizeBits) }

// Indexes splits an Sv39 VPN into its three page-table indexes, root first.
func (vpn VirtPageNum) Indexes() [3]uint64 {
	v := uint64(vpn)
	var idx [3]uint64
	for i := 2; i >= 0; i-- {
		idx[i] = v & 511
		v >>= 9
	}
	return idx
}

func (vpn VirtPageNum) String() string { return fmt.Sprintf("vpn:%#x", uint64(vpn)) }

// Addr returns the first address of the frame.
func (ppn PhysPageNum) Addr() PhysAddr { return PhysAddr(uint64(ppn) << PageSizeBits) }

func (ppn PhysPageNum) String() string { return fmt.Sprintf("ppn:%#x", uint64(ppn)) }

// IsPageAligned reports whether v is a multiple of PageSize.
func IsPageAligned(v uint64) bool { return v&(PageSize-1) == 0 }
