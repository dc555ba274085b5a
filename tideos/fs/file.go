// Package fs holds the file abstraction behind the fd table: the console
// stdio files and a flat in-memory filesystem of regular files.
package fs

import (
	"encoding/binary"

	"tide/tideos/mm"
)

// File is an open file shared between fd tables.
type File interface {
	Readable() bool
	Writable() bool
	// Read fills buf from the file and returns the bytes read.
	Read(buf mm.UserBuffer) int
	// Write drains buf into the file and returns the bytes written.
	Write(buf mm.UserBuffer) int
	// Stat reports file metadata; stdio files have none.
	Stat() (Stat, bool)
}

// StatMode is the file type part of Stat.Mode.
type StatMode uint32

const (
	ModeNull StatMode = 0
	ModeDir  StatMode = 0o040000
	ModeFile StatMode = 0o100000
)

// StatSize is the byte size of Stat in user memory.
const StatSize = 80

// Stat is the fstat record.
type Stat struct {
	Dev   uint64
	Ino   uint64
	Mode  StatMode
	Nlink uint32
	pad   [7]uint64
}

// Bytes encodes the record in its little-endian user layout.
func (s Stat) Bytes() []byte {
	b := make([]byte, StatSize)
	binary.LittleEndian.PutUint64(b[0:], s.Dev)
	binary.LittleEndian.PutUint64(b[8:], s.Ino)
	binary.LittleEndian.PutUint32(b[16:], uint32(s.Mode))
	binary.LittleEndian.PutUint32(b[20:], s.Nlink)
	for i, p := range s.pad {
		binary.LittleEndian.PutUint64(b[24+8*i:], p)
	}
	return b
}

// OpenFlags are the open(2) flags understood by the filesystem.
type OpenFlags uint32

const (
	RDONLY OpenFlags = 0
	WRONLY OpenFlags = 1 << 0
	RDWR   OpenFlags = 1 << 1
	CREATE OpenFlags = 1 << 9
	TRUNC  OpenFlags = 1 << 10
)

// ReadWrite returns the access the flags grant.
func (f OpenFlags) ReadWrite() (readable, writable bool) {
	switch {
	case f&WRONLY != 0:
		return false, true
	case f&RDWR != 0:
		return true, true
	default:
		return true, false
	}
}
