package loader

import (
	"slices"
	"testing"

	"tide/tideos/asm"
	"tide/tideos/fs"
	"tide/tideos/mm"
)

func TestAppsAssemble(t *testing.T) {
	apps, err := Apps()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	want := []string{"forktest", "fstest", "hello", "infotest", "initproc", "mmaptest",
		"sbrktest", "spawntest", "stridetest", "usershell"}
	if got := Names(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if NumApps() != len(apps) {
		t.Fatalf("expected %d apps, got %d", len(apps), NumApps())
	}
	for i, app := range apps {
		if _, err := mm.FromELF(mm.NewPhysMemory(64*mm.PageSize), AppImage(i)); err != nil {
			t.Fatalf("%s: expected a loadable image, got %v", app.Name, err)
		}
	}
}

func TestEachSourceAssembles(t *testing.T) {
	entries, err := sources.ReadDir("user")
	if err != nil {
		t.Fatalf("read user dir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		t.Run(e.Name(), func(t *testing.T) {
			body, err := sources.ReadFile("user/" + e.Name())
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			src, err := Wrap(string(body))
			if err != nil {
				t.Fatalf("wrap: %v", err)
			}
			if _, err := asm.Build(src); err != nil {
				t.Fatalf("expected %s to assemble, got %v", e.Name(), err)
			}
		})
	}
}

func TestAppImageByName(t *testing.T) {
	if _, ok := AppImageByName("hello"); !ok {
		t.Fatalf("expected hello to exist")
	}
	if _, ok := AppImageByName("nope"); ok {
		t.Fatalf("expected nope to be missing")
	}
}

func TestInstall(t *testing.T) {
	fsys := fs.New()
	if err := Install(fsys); err != nil {
		t.Fatalf("install: %v", err)
	}
	img, err := fsys.ReadFile("initproc")
	if err != nil {
		t.Fatalf("read initproc: %v", err)
	}
	want, _ := AppImageByName("initproc")
	if !slices.Equal(img, want) {
		t.Fatalf("expected installed image to match")
	}
}
