//go:build !tinygo && cgo

package hal

import (
	"os"

	"github.com/hajimehoshi/ebiten/v2"

	"tide/internal/buildinfo"
)

// RunWindow opens a window showing the console framebuffer at 2x and feeds
// it keyboard input. It blocks until the window closes, a step fails, or
// the machine calls Finish, whose status it returns.
func RunWindow(newApp func(HAL) func() error) (int, error) {
	h := newHost(true, os.Stdin, os.Stdout)
	g := &hostGame{h: h, step: newApp(h)}

	ebiten.SetWindowTitle("Tide (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(hostWidth*2, hostHeight*2)
	ebiten.SetTPS(60)
	err := ebiten.RunGame(g)
	if code, ok := h.fin.Status(); ok {
		return int(code), nil
	}
	return 0, err
}

type hostGame struct {
	h    *hostHAL
	step func() error

	img  *ebiten.Image
	pix  []byte
	seen uint64
}

func (g *hostGame) Update() error {
	g.h.kbd.poll()
	g.h.t.step(1)
	if g.step != nil {
		if err := g.step(); err != nil {
			return err
		}
	}
	if _, ok := g.h.fin.Status(); ok {
		return ebiten.Termination
	}
	return nil
}

// Draw uploads the console's front buffer only when a new frame was
// presented since the last draw.
func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.img == nil {
		g.img = ebiten.NewImage(fb.width, fb.height)
		g.pix = make([]byte, fb.width*fb.height*4)
	}
	if fb.frontRGBA(g.pix, &g.seen) {
		g.img.WritePixels(g.pix)
	}
	screen.DrawImage(g.img, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return hostWidth, hostHeight
}
