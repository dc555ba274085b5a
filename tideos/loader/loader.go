// Package loader assembles the bundled user programs into ELF images and
// installs them in the root filesystem.
package loader

import (
	"embed"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"tide/tideos/asm"
	"tide/tideos/fs"
)

//go:embed user
var sources embed.FS

// App is one assembled user program.
type App struct {
	Name string
	ELF  []byte
}

var apps = sync.OnceValues(build)

// Wrap surrounds a program with the syscall prelude and the user library
// every bundled program is built with.
func Wrap(body string) (string, error) {
	prelude, err := sources.ReadFile("user/lib/prelude.s")
	if err != nil {
		return "", err
	}
	ulib, err := sources.ReadFile("user/lib/ulib.s")
	if err != nil {
		return "", err
	}
	return string(prelude) + body + "\n" + string(ulib), nil
}

func build() ([]App, error) {
	entries, err := sources.ReadDir("user")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && path.Ext(e.Name()) == ".s" {
			names = append(names, strings.TrimSuffix(e.Name(), ".s"))
		}
	}
	slices.Sort(names)

	out := make([]App, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			body, err := sources.ReadFile("user/" + name + ".s")
			if err != nil {
				return err
			}
			src, err := Wrap(string(body))
			if err != nil {
				return err
			}
			img, err := asm.Build(src)
			if err != nil {
				return fmt.Errorf("loader: %s: %w", name, err)
			}
			out[i] = App{Name: name, ELF: img}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Apps returns every bundled program, sorted by name.
func Apps() ([]App, error) { return apps() }

func mustApps() []App {
	a, err := apps()
	if err != nil {
		panic(err)
	}
	return a
}

// NumApps is the number of bundled programs.
func NumApps() int { return len(mustApps()) }

// Names lists the bundled programs.
func Names() []string {
	a := mustApps()
	names := make([]string, len(a))
	for i, app := range a {
		names[i] = app.Name
	}
	return names
}

// AppImage returns the ELF image of the i-th program.
func AppImage(i int) []byte {
	a := mustApps()
	if i < 0 || i >= len(a) {
		panic(fmt.Sprintf("loader: app %d out of range [0, %d)", i, len(a)))
	}
	return a[i].ELF
}

// AppImageByName looks a program up by name.
func AppImageByName(name string) ([]byte, bool) {
	for _, app := range mustApps() {
		if app.Name == name {
			return app.ELF, true
		}
	}
	return nil, false
}

// Install writes every program into fsys under its name.
func Install(fsys *fs.FS) error {
	a, err := apps()
	if err != nil {
		return err
	}
	for _, app := range a {
		if err := fsys.Install(app.Name, app.ELF); err != nil {
			return fmt.Errorf("loader: install %s: %w", app.Name, err)
		}
	}
	return nil
}
