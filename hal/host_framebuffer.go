//go:build !tinygo

package hal

import "sync"

// hostFramebuffer is double-buffered: the console draws into back and
// Present publishes it to front as a new frame, which the window converts
// to RGBA only when the frame number moves.
type hostFramebuffer struct {
	width  int
	height int
	stride int
	back   []byte

	mu    sync.Mutex
	front []byte
	frame uint64
}

func newHostFramebuffer(width, height int) *hostFramebuffer {
	stride := width * 2
	return &hostFramebuffer{
		width:  width,
		height: height,
		stride: stride,
		back:   make([]byte, stride*height),
		front:  make([]byte, stride*height),
	}
}

func (f *hostFramebuffer) Width() int          { return f.width }
func (f *hostFramebuffer) Height() int         { return f.height }
func (f *hostFramebuffer) Format() PixelFormat { return PixelFormatRGB565 }
func (f *hostFramebuffer) StrideBytes() int    { return f.stride }
func (f *hostFramebuffer) Buffer() []byte      { return f.back }

func (f *hostFramebuffer) Present() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.front, f.back)
	f.frame++
	return nil
}

func (f *hostFramebuffer) ClearRGB(r, g, b uint8) {
	pixel := RGB565(r, g, b)
	for i := 0; i+1 < len(f.back); i += 2 {
		f.back[i] = byte(pixel)
		f.back[i+1] = byte(pixel >> 8)
	}
}

// frontRGBA converts the last presented frame into dst (4 bytes per pixel)
// if it is newer than *seen, and reports whether it did.
func (f *hostFramebuffer) frontRGBA(dst []byte, seen *uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == *seen {
		return false
	}
	for i, j := 0, 0; i+1 < len(f.front) && j+3 < len(dst); i, j = i+2, j+4 {
		dst[j], dst[j+1], dst[j+2] = rgb888From565(uint16(f.front[i]) | uint16(f.front[i+1])<<8)
		dst[j+3] = 0xff
	}
	*seen = f.frame
	return true
}

// rgb888From565 widens each channel by replicating its high bits.
func rgb888From565(p uint16) (r, g, b uint8) {
	r5, g6, b5 := uint8(p>>11)&0x1f, uint8(p>>5)&0x3f, uint8(p)&0x1f
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}
