//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"

	"tide/app"
	"tide/hal"
	"tide/tideos/kernel"
)

func main() {
	var (
		hcfg     hal.HeadlessConfig
		bootargs string
		logLevel string
	)
	flag.BoolVar(&hcfg.Enabled, "headless", false, "Run without a window; the console is stdin/stdout.")
	flag.IntVar(&hcfg.Hz, "hz", 60, "Frame rate in headless mode.")
	flag.Uint64Var(&hcfg.Ticks, "ticks", 0, "Stop after N frames in headless mode (0 = run until init exits).")
	flag.StringVar(&bootargs, "bootargs", "", `Kernel boot arguments, e.g. "init=initproc sched=stride log=info mem=2048".`)
	flag.StringVar(&logLevel, "log", "", "Log level override (trace, debug, info, warn, error).")
	flag.Parse()

	boot, err := kernel.ParseBootArgs(bootargs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if logLevel != "" {
		lvl := hclog.LevelFromString(logLevel)
		if lvl == hclog.NoLevel {
			fmt.Fprintf(os.Stderr, "unknown log level %q\n", logLevel)
			os.Exit(2)
		}
		boot.LogLevel = lvl
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cfg := app.Config{Boot: boot}
	newApp := func(h hal.HAL) func() error { return app.Start(ctx, h, cfg) }

	var code int
	if hcfg.Enabled {
		code, err = hal.RunHeadless(ctx, newApp, hcfg)
	} else {
		code, err = hal.RunWindow(newApp)
	}
	stop()

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, app.ErrShutdown):
		os.Exit(code)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
