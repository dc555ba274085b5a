//go:build !tinygo

// Command tideasm assembles Tide user programs into ELF images on the
// host, or dumps the programs bundled with the kernel.
//
//	tideasm -out build prog.s other.s
//	tideasm -out build @programs.args
//	tideasm -bundled -out build
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"

	"tide/tideos/asm"
	"tide/tideos/loader"
)

func main() {
	var (
		outDir  string
		bare    bool
		bundled bool
	)
	flag.StringVar(&outDir, "out", ".", "Output directory for ELF images.")
	flag.BoolVar(&bare, "bare", false, "Assemble without the syscall prelude and user library.")
	flag.BoolVar(&bundled, "bundled", false, "Write the programs bundled with the kernel.")
	flag.Parse()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if bundled {
		if err := writeBundled(outDir); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	files, err := expandArgs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "error: no source files")
		os.Exit(2)
	}
	for _, f := range files {
		if err := assembleFile(f, outDir, bare); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}
}

// expandArgs replaces every @file argument with the shell-split words of
// that file.
func expandArgs(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if !strings.HasPrefix(a, "@") {
			out = append(out, a)
			continue
		}
		data, err := os.ReadFile(a[1:])
		if err != nil {
			return nil, fmt.Errorf("read args file %q: %w", a[1:], err)
		}
		words, err := shlex.Split(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse args file %q: %w", a[1:], err)
		}
		out = append(out, words...)
	}
	return out, nil
}

func assembleFile(path, outDir string, bare bool) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	text := string(src)
	if !bare {
		if text, err = loader.Wrap(text); err != nil {
			return err
		}
	}
	img, err := asm.Build(text)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return writeImage(outDir, name, img)
}

func writeBundled(outDir string) error {
	apps, err := loader.Apps()
	if err != nil {
		return err
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	for _, app := range apps {
		if err := writeImage(outDir, app.Name, app.ELF); err != nil {
			return err
		}
	}
	return nil
}

func writeImage(outDir, name string, img []byte) error {
	out := filepath.Join(outDir, name+".elf")
	if err := os.WriteFile(out, img, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", out, err)
	}
	fmt.Printf("%s: %d bytes\n", out, len(img))
	return nil
}
