package app

import (
	"strings"

	"tide/tideos/kernel"
)

func haltLines(info kernel.HaltInfo) []string {
	lines := []string{"Tide halt:", "reason: " + info.Reason}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, strings.ReplaceAll(line, "\t", "  "))
	}
	return lines
}

// onHalt logs the halt with its stack and puts it on screen.
func (s *System) onHalt(info kernel.HaltInfo) {
	lines := haltLines(info)
	if l := s.h.Logger(); l != nil {
		for _, line := range lines {
			l.WriteLineString(line)
		}
	}
	if s.con != nil {
		s.con.Halt(lines)
	}
}
