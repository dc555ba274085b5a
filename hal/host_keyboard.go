//go:build !tinygo && cgo

package hal

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent, 64)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

func (k *hostKeyboard) send(ev KeyEvent) {
	select {
	case k.ch <- ev:
	default:
	}
}

func (k *hostKeyboard) poll() {
	ctrl := ebiten.IsKeyPressed(ebiten.KeyControlLeft) || ebiten.IsKeyPressed(ebiten.KeyControlRight)
	if ctrl {
		for key, r := range map[ebiten.Key]rune{
			ebiten.KeyC: 0x03,
			ebiten.KeyD: 0x04,
			ebiten.KeyU: 0x15,
		} {
			if inpututil.IsKeyJustPressed(key) {
				k.send(KeyEvent{Press: true, Rune: r})
			}
		}
		return
	}

	for _, r := range ebiten.AppendInputChars(nil) {
		k.send(KeyEvent{Press: true, Rune: r})
	}

	for key, code := range map[ebiten.Key]KeyCode{
		ebiten.KeyEnter:     KeyEnter,
		ebiten.KeyBackspace: KeyBackspace,
		ebiten.KeyTab:       KeyTab,
		ebiten.KeyEscape:    KeyEscape,
	} {
		if inpututil.IsKeyJustPressed(key) {
			k.send(KeyEvent{Code: code, Press: true})
		}
		if inpututil.IsKeyJustReleased(key) {
			k.send(KeyEvent{Code: code, Press: false})
		}
	}
}
