//go:build !tinygo && !cgo

package hal

import "errors"

// Without cgo there is no ebiten backend, so no window and no keyboard.
// The machine is still reachable headless over the serial line.

var errNoWindow = errors.New("hal: window mode needs cgo (CGO_ENABLED=1); run with -headless")

func RunWindow(func(HAL) func() error) (int, error) { return 0, errNoWindow }

type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard { return &hostKeyboard{ch: make(chan KeyEvent)} }

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }
