package mm

import "fmt"

// Access selects the permission a translation must satisfy.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
)

// Translate returns the physical byte spans backing [va, va+n) in order.
// Spans break at page boundaries. Every page must be user accessible, and
// writable when access is AccessWrite.
func (ms *MemorySet) Translate(va uint64, n int, access Access) ([][]byte, error) {
	if n < 0 || va+uint64(n) < va || va+uint64(n) > UserSpaceEnd {
		return nil, fmt.Errorf("translate %#x+%d: %w", va, n, ErrBadAddress)
	}
	var spans [][]byte
	cur := VirtAddr(va)
	end := VirtAddr(va + uint64(n))
	for cur < end {
		pte, page, ok := ms.pt.Resolve(cur)
		if !ok || !pte.User() {
			return nil, fmt.Errorf("translate %s: %w", cur, ErrBadAddress)
		}
		if access == AccessWrite && !pte.Writable() {
			return nil, fmt.Errorf("translate %s: read-only page: %w", cur, ErrBadAddress)
		}
		off := cur.PageOffset()
		take := min(uint64(PageSize)-off, uint64(end-cur))
		spans = append(spans, page[off:off+take])
		cur += VirtAddr(take)
	}
	return spans, nil
}

// UserBuffer is a user memory range already translated into spans.
type UserBuffer struct {
	Spans [][]byte
}

// NewUserBuffer translates [va, va+n) for the given access.
func (ms *MemorySet) NewUserBuffer(va uint64, n int, access Access) (UserBuffer, error) {
	spans, err := ms.Translate(va, n, access)
	if err != nil {
		return UserBuffer{}, err
	}
	return UserBuffer{Spans: spans}, nil
}

// Len is the total byte count across spans.
func (b UserBuffer) Len() int {
	n := 0
	for _, s := range b.Spans {
		n += len(s)
	}
	return n
}

// CopyFrom fills the buffer from p and returns the bytes copied.
func (b UserBuffer) CopyFrom(p []byte) int {
	n := 0
	for _, s := range b.Spans {
		if len(p) == 0 {
			break
		}
		c := copy(s, p)
		p = p[c:]
		n += c
	}
	return n
}

// Bytes gathers the buffer into one slice.
func (b UserBuffer) Bytes() []byte {
	out := make([]byte, 0, b.Len())
	for _, s := range b.Spans {
		out = append(out, s...)
	}
	return out
}

// CopyOut writes data to user memory at va.
func (ms *MemorySet) CopyOut(va uint64, data []byte) error {
	buf, err := ms.NewUserBuffer(va, len(data), AccessWrite)
	if err != nil {
		return err
	}
	buf.CopyFrom(data)
	return nil
}

// CopyIn reads n bytes of user memory at va.
func (ms *MemorySet) CopyIn(va uint64, n int) ([]byte, error) {
	buf, err := ms.NewUserBuffer(va, n, AccessRead)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadCString reads a NUL-terminated string starting at va, up to limit bytes.
func (ms *MemorySet) ReadCString(va uint64, limit int) (string, error) {
	var out []byte
	cur := VirtAddr(va)
	for len(out) < limit {
		pte, page, ok := ms.pt.Resolve(cur)
		if !ok || !pte.User() {
			return "", fmt.Errorf("read string at %s: %w", cur, ErrBadAddress)
		}
		off := cur.PageOffset()
		for _, c := range page[off:] {
			if c == 0 {
				return string(out), nil
			}
			out = append(out, c)
			cur++
			if len(out) == limit {
				break
			}
		}
	}
	return "", fmt.Errorf("read string at %#x: unterminated: %w", va, ErrBadAddress)
}
