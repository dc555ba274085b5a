package asm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const segmentAlign = 0x1000

// ELF lays the program out as a static RISC-V ELF64 executable with one
// PT_LOAD per non-empty section.
func (p *Program) ELF() []byte {
	type segment struct {
		vaddr uint64
		data  []byte
		flags elf.ProgFlag
	}
	segs := []segment{{p.TextBase, p.Text, elf.PF_R | elf.PF_X}}
	if len(p.Data) > 0 {
		segs = append(segs, segment{p.DataBase, p.Data, elf.PF_R | elf.PF_W})
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     p.Entry,
		Phoff:     uint64(binary.Size(elf.Header64{})),
		Ehsize:    uint16(binary.Size(elf.Header64{})),
		Phentsize: uint16(binary.Size(elf.Prog64{})),
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)
	off := uint64(segmentAlign)
	offsets := make([]uint64, len(segs))
	for i, s := range segs {
		offsets[i] = off
		_ = binary.Write(&buf, binary.LittleEndian, &elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.flags),
			Off:    off,
			Vaddr:  s.vaddr,
			Paddr:  s.vaddr,
			Filesz: uint64(len(s.data)),
			Memsz:  uint64(len(s.data)),
			Align:  segmentAlign,
		})
		off = alignUp(off+uint64(len(s.data)), segmentAlign)
	}
	for i, s := range segs {
		buf.Write(make([]byte, offsets[i]-uint64(buf.Len())))
		buf.Write(s.data)
	}
	return buf.Bytes()
}
