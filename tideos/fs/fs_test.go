package fs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"tide/tideos/mm"
)

func buf(spans ...[]byte) mm.UserBuffer { return mm.UserBuffer{Spans: spans} }

func TestOpenFlags(t *testing.T) {
	cases := []struct {
		flags  OpenFlags
		rd, wr bool
	}{
		{RDONLY, true, false},
		{WRONLY, false, true},
		{RDWR, true, true},
		{RDWR | CREATE, true, true},
	}
	for _, tc := range cases {
		rd, wr := tc.flags.ReadWrite()
		if rd != tc.rd || wr != tc.wr {
			t.Fatalf("flags %#x: expected (%v,%v), got (%v,%v)", tc.flags, tc.rd, tc.wr, rd, wr)
		}
	}
}

func TestCreateWriteReadBack(t *testing.T) {
	fsys := New()
	if _, ok := fsys.Open("notes", RDONLY); ok {
		t.Fatalf("expected missing file to fail without CREATE")
	}
	w, ok := fsys.Open("notes", CREATE|WRONLY)
	if !ok {
		t.Fatalf("expected CREATE to succeed")
	}
	if n := w.Write(buf([]byte("hello "), []byte("world"))); n != 11 {
		t.Fatalf("expected 11 bytes written, got %d", n)
	}
	r, _ := fsys.Open("/notes", RDONLY)
	out := make([]byte, 4)
	var got []byte
	for {
		n := r.Read(buf(out))
		if n == 0 {
			break
		}
		got = append(got, out[:n]...)
	}
	if string(got) != "hello world" {
		t.Fatalf("expected hello world, got %q", got)
	}
}

func TestTruncOnCreate(t *testing.T) {
	fsys := New()
	if err := fsys.Install("f", []byte("old contents")); err != nil {
		t.Fatalf("install: %v", err)
	}
	f, _ := fsys.Open("f", CREATE|RDWR)
	if data := f.ReadAll(); len(data) != 0 {
		t.Fatalf("expected truncated file, got %q", data)
	}
}

func TestLinkUnlink(t *testing.T) {
	fsys := New()
	_ = fsys.Install("a", []byte("x"))
	if err := fsys.Link("a", "a"); !errors.Is(err, ErrSameName) {
		t.Fatalf("expected ErrSameName, got %v", err)
	}
	if err := fsys.Link("missing", "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := fsys.Link("a", "b"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := fsys.Link("a", "b"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	f, _ := fsys.Open("b", RDONLY)
	st, _ := f.Stat()
	if st.Nlink != 2 || st.Mode != ModeFile {
		t.Fatalf("expected nlink 2 regular file, got %+v", st)
	}
	if err := fsys.Unlink("a"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := fsys.Unlink("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second unlink, got %v", err)
	}
	st, _ = f.Stat()
	if st.Nlink != 1 {
		t.Fatalf("expected nlink 1 after unlink, got %d", st.Nlink)
	}
	if got := fsys.Names(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only b left, got %v", got)
	}
}

func TestStatLayout(t *testing.T) {
	b := Stat{Dev: 1, Ino: 7, Mode: ModeFile, Nlink: 3}.Bytes()
	if len(b) != StatSize {
		t.Fatalf("expected %d bytes, got %d", StatSize, len(b))
	}
	if binary.LittleEndian.Uint64(b[8:]) != 7 || binary.LittleEndian.Uint32(b[16:]) != uint32(ModeFile) || binary.LittleEndian.Uint32(b[20:]) != 3 {
		t.Fatalf("unexpected layout %x", b)
	}
}

func TestStdinYieldsUntilInput(t *testing.T) {
	pending := []byte{}
	yields := 0
	in := &Stdin{
		Poll: func() (byte, bool) {
			if len(pending) == 0 {
				return 0, false
			}
			c := pending[0]
			pending = pending[1:]
			return c, true
		},
		Yield: func() {
			yields++
			if yields == 3 {
				pending = append(pending, 'q')
			}
		},
	}
	out := make([]byte, 8)
	if n := in.Read(buf(out)); n != 1 || out[0] != 'q' {
		t.Fatalf("expected one byte q, got %d %q", n, out[:n])
	}
	if yields != 3 {
		t.Fatalf("expected 3 yields, got %d", yields)
	}
}

func TestStdoutWritesAllSpans(t *testing.T) {
	var sink bytes.Buffer
	out := &Stdout{Out: &sink}
	if n := out.Write(buf([]byte("ab"), []byte("cd"))); n != 4 || sink.String() != "abcd" {
		t.Fatalf("expected abcd, got %d %q", n, sink.String())
	}
	if out.Readable() || !out.Writable() {
		t.Fatalf("unexpected stdout access bits")
	}
}
