package fs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tide/tideos/mm"
	"tide/tideos/upsafe"
)

var (
	ErrNotFound   = errors.New("fs: file not found")
	ErrExists     = errors.New("fs: file already exists")
	ErrSameName   = errors.New("fs: link to itself")
	ErrInvalidArg = errors.New("fs: invalid name")
)

type inode struct {
	ino   uint64
	data  []byte
	nlink uint32
}

type tree struct {
	names   map[string]*inode
	nextIno uint64
}

// FS is a single flat root directory of regular files held in memory.
type FS struct {
	root *upsafe.Cell[tree]
}

// New returns an empty filesystem. Inode 0 is the root directory.
func New() *FS {
	return &FS{root: upsafe.New("fs root", tree{names: make(map[string]*inode), nextIno: 1})}
}

func clean(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidArg)
	}
	return name, nil
}

func (t *tree) create(name string) *inode {
	n := &inode{ino: t.nextIno, nlink: 1}
	t.nextIno++
	t.names[name] = n
	return n
}

// Open resolves name according to flags. CREATE makes a missing file and
// truncates an existing one, TRUNC truncates an existing file.
func (f *FS) Open(name string, flags OpenFlags) (*OSInode, bool) {
	name, err := clean(name)
	if err != nil {
		return nil, false
	}
	readable, writable := flags.ReadWrite()
	var node *inode
	f.root.With(func(t *tree) {
		node = t.names[name]
		switch {
		case node == nil && flags&CREATE != 0:
			node = t.create(name)
		case node != nil && flags&(CREATE|TRUNC) != 0:
			node.data = node.data[:0]
		}
	})
	if node == nil {
		return nil, false
	}
	return &OSInode{readable: readable, writable: writable, node: node}, true
}

// Install writes data as the full contents of name, creating it if needed.
func (f *FS) Install(name string, data []byte) error {
	name, err := clean(name)
	if err != nil {
		return err
	}
	f.root.With(func(t *tree) {
		node := t.names[name]
		if node == nil {
			node = t.create(name)
		}
		node.data = append(node.data[:0], data...)
	})
	return nil
}

// ReadFile returns a copy of the contents of name.
func (f *FS) ReadFile(name string) ([]byte, error) {
	name, err := clean(name)
	if err != nil {
		return nil, err
	}
	var out []byte
	f.root.With(func(t *tree) {
		if node := t.names[name]; node != nil {
			out = append([]byte{}, node.data...)
		} else {
			err = fmt.Errorf("%q: %w", name, ErrNotFound)
		}
	})
	return out, err
}

// Link adds newName as another name for oldName's inode.
func (f *FS) Link(oldName, newName string) error {
	oldName, err := clean(oldName)
	if err != nil {
		return err
	}
	if newName, err = clean(newName); err != nil {
		return err
	}
	if oldName == newName {
		return fmt.Errorf("%q: %w", oldName, ErrSameName)
	}
	f.root.With(func(t *tree) {
		node := t.names[oldName]
		switch {
		case node == nil:
			err = fmt.Errorf("%q: %w", oldName, ErrNotFound)
		case t.names[newName] != nil:
			err = fmt.Errorf("%q: %w", newName, ErrExists)
		default:
			node.nlink++
			t.names[newName] = node
		}
	})
	return err
}

// Unlink removes name. The inode lives on while other names or open files
// refer to it.
func (f *FS) Unlink(name string) error {
	name, err := clean(name)
	if err != nil {
		return err
	}
	f.root.With(func(t *tree) {
		node := t.names[name]
		if node == nil {
			err = fmt.Errorf("%q: %w", name, ErrNotFound)
			return
		}
		node.nlink--
		delete(t.names, name)
	})
	return err
}

// Names lists the root directory in sorted order.
func (f *FS) Names() []string {
	return upsafe.Get(f.root, func(t *tree) []string {
		out := make([]string, 0, len(t.names))
		for name := range t.names {
			out = append(out, name)
		}
		sort.Strings(out)
		return out
	})
}

// OSInode is an open regular file with its own offset.
type OSInode struct {
	readable bool
	writable bool
	offset   int
	node     *inode
}

func (o *OSInode) Readable() bool { return o.readable }
func (o *OSInode) Writable() bool { return o.writable }

func (o *OSInode) Read(buf mm.UserBuffer) int {
	n := 0
	for _, span := range buf.Spans {
		if o.offset >= len(o.node.data) {
			break
		}
		c := copy(span, o.node.data[o.offset:])
		o.offset += c
		n += c
	}
	return n
}

func (o *OSInode) Write(buf mm.UserBuffer) int {
	n := 0
	for _, span := range buf.Spans {
		end := o.offset + len(span)
		if end > len(o.node.data) {
			o.node.data = append(o.node.data, make([]byte, end-len(o.node.data))...)
		}
		copy(o.node.data[o.offset:end], span)
		o.offset = end
		n += len(span)
	}
	return n
}

func (o *OSInode) Stat() (Stat, bool) {
	return Stat{Ino: o.node.ino, Mode: ModeFile, Nlink: o.node.nlink}, true
}

// ReadAll returns the remaining contents from the current offset.
func (o *OSInode) ReadAll() []byte {
	if o.offset >= len(o.node.data) {
		return nil
	}
	out := append([]byte{}, o.node.data[o.offset:]...)
	o.offset = len(o.node.data)
	return out
}
