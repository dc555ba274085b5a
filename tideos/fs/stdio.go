package fs

import (
	"io"

	"tide/tideos/mm"
)

// Stdin reads console input one byte per call. When no byte is pending it
// calls Yield and polls again, so a reader never spins the core.
type Stdin struct {
	Poll  func() (byte, bool)
	Yield func()
}

func (*Stdin) Readable() bool          { return true }
func (*Stdin) Writable() bool          { return false }
func (*Stdin) Write(mm.UserBuffer) int { return 0 }
func (*Stdin) Stat() (Stat, bool)      { return Stat{}, false }

func (s *Stdin) Read(buf mm.UserBuffer) int {
	if buf.Len() == 0 {
		return 0
	}
	for {
		if c, ok := s.Poll(); ok {
			return buf.CopyFrom([]byte{c})
		}
		if s.Yield == nil {
			return 0
		}
		s.Yield()
	}
}

// Stdout copies everything written to Out.
type Stdout struct {
	Out io.Writer
}

func (*Stdout) Readable() bool         { return false }
func (*Stdout) Writable() bool         { return true }
func (*Stdout) Read(mm.UserBuffer) int { return 0 }
func (*Stdout) Stat() (Stat, bool)     { return Stat{}, false }

func (s *Stdout) Write(buf mm.UserBuffer) int {
	n := 0
	for _, span := range buf.Spans {
		w, err := s.Out.Write(span)
		n += w
		if err != nil {
			break
		}
	}
	return n
}
