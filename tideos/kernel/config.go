package kernel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/hashicorp/go-hclog"
)

// Config is the boot configuration, normally parsed from a bootargs string
// such as `init=initproc log=debug sched=stride mem=2048`.
type Config struct {
	// Init is the program loaded as pid 0.
	Init string
	// LogLevel applies to every kernel sub-logger.
	LogLevel hclog.Level
	// Sched picks the ready-set policy: "stride" or "fifo".
	Sched string
	// Frames is the size of simulated physical memory in pages.
	Frames int
}

// DefaultConfig returns the configuration used when bootargs are empty.
func DefaultConfig() Config {
	return Config{
		Init:     "initproc",
		LogLevel: hclog.Info,
		Sched:    "stride",
		Frames:   2048,
	}
}

// ParseBootArgs splits args shell-style and applies each key=value pair
// on top of DefaultConfig. Unknown keys are errors.
func ParseBootArgs(args string) (Config, error) {
	cfg := DefaultConfig()
	words, err := shlex.Split(args)
	if err != nil {
		return cfg, fmt.Errorf("kernel: bootargs: %w", err)
	}
	for _, w := range words {
		key, val, ok := strings.Cut(w, "=")
		if !ok || val == "" {
			return cfg, fmt.Errorf("kernel: bootargs: %q is not key=value", w)
		}
		switch key {
		case "init":
			cfg.Init = val
		case "log":
			lvl := hclog.LevelFromString(val)
			if lvl == hclog.NoLevel {
				return cfg, fmt.Errorf("kernel: bootargs: unknown log level %q", val)
			}
			cfg.LogLevel = lvl
		case "sched":
			if val != "stride" && val != "fifo" {
				return cfg, fmt.Errorf("kernel: bootargs: unknown scheduler %q", val)
			}
			cfg.Sched = val
		case "mem":
			n, err := strconv.Atoi(val)
			if err != nil || n < 64 {
				return cfg, fmt.Errorf("kernel: bootargs: bad frame count %q", val)
			}
			cfg.Frames = n
		default:
			return cfg, fmt.Errorf("kernel: bootargs: unknown key %q", key)
		}
	}
	return cfg, nil
}
