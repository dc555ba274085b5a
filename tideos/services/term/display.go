package term

import (
	"image/color"

	"tide/hal"

	"tinygo.org/x/drivers"
)

var _ drivers.Displayer = (*fbDisplay)(nil)

// fbDisplay adapts an RGB565 HAL framebuffer to the drivers.Displayer
// surface tinyterm draws on.
type fbDisplay struct {
	fb hal.Framebuffer
}

func (d *fbDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.fb.Width() || iy < 0 || iy >= d.fb.Height() {
		return
	}
	d.put(iy*d.fb.StrideBytes()+ix*2, hal.RGB565(c.R, c.G, c.B))
}

func (d *fbDisplay) put(off int, pixel uint16) {
	buf := d.fb.Buffer()
	if off < 0 || off+1 >= len(buf) {
		return
	}
	buf[off] = byte(pixel)
	buf[off+1] = byte(pixel >> 8)
}

func (d *fbDisplay) Display() error { return d.fb.Present() }

// ScrollUp moves the picture up by lines rows and clears the exposed
// bottom band.
func (d *fbDisplay) ScrollUp(lines int16, bg color.RGBA) error {
	w, h := d.fb.Width(), d.fb.Height()
	n := int(lines)
	if n <= 0 {
		return nil
	}
	if n >= h {
		return d.FillRectangle(0, 0, int16(w), int16(h), bg)
	}
	buf := d.fb.Buffer()
	stride := d.fb.StrideBytes()
	copy(buf[:(h-n)*stride], buf[n*stride:h*stride])
	return d.FillRectangle(0, int16(h-n), int16(w), int16(n), bg)
}

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	w, h := d.fb.Width(), d.fb.Height()
	x0, y0 := clamp(int(x), 0, w), clamp(int(y), 0, h)
	x1, y1 := clamp(int(x)+int(width), 0, w), clamp(int(y)+int(height), 0, h)
	pixel := hal.RGB565(c.R, c.G, c.B)
	stride := d.fb.StrideBytes()
	for py := y0; py < y1; py++ {
		for px := x0; px < x1; px++ {
			d.put(py*stride+px*2, pixel)
		}
	}
	return nil
}

func (d *fbDisplay) SetScroll(line int16) {}

func (d *fbDisplay) SetRotation(rotation drivers.Rotation) error { return nil }

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
