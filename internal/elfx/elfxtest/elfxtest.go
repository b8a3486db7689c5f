// Package elfxtest builds small ELF64 files for tests.
package elfxtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

// Fixture describes the file to build.
type Fixture struct {
	Type        elf.Type // ET_EXEC when zero
	Vaddr       uint64   // 0x400000 when zero
	BuildID     []byte   // no build-id note when nil
	CorruptNote bool     // note header claims a descriptor past the section end
	DebugInfo   []byte   // adds .debug_info when non-nil
	DebugLink   string   // adds .gnu_debuglink naming this file
	LinkCRC     uint32
	NoSections  bool // omit the section table; notes reachable only through PT_NOTE
}

var le = binary.LittleEndian

type section struct {
	name  string
	typ   elf.SectionType
	data  []byte
	align uint64
	off   uint64
	nameo uint32
}

// Build returns the encoded file.
func Build(s Fixture) []byte {
	if s.Type == 0 {
		s.Type = elf.ET_EXEC
	}
	if s.Vaddr == 0 {
		s.Vaddr = 0x400000
	}

	var secs []*section
	if s.BuildID != nil || s.CorruptNote {
		secs = append(secs, &section{name: ".note.gnu.build-id", typ: elf.SHT_NOTE, data: note(s), align: 4})
	}
	if s.DebugInfo != nil {
		secs = append(secs, &section{name: ".debug_info", typ: elf.SHT_PROGBITS, data: s.DebugInfo, align: 1})
	}
	if s.DebugLink != "" {
		secs = append(secs, &section{name: ".gnu_debuglink", typ: elf.SHT_PROGBITS, data: debuglink(s.DebugLink, s.LinkCRC), align: 4})
	}

	var shstr bytes.Buffer
	shstr.WriteByte(0)
	for _, sec := range secs {
		sec.nameo = uint32(shstr.Len())
		shstr.WriteString(sec.name)
		shstr.WriteByte(0)
	}
	strtab := &section{nameo: uint32(shstr.Len()), typ: elf.SHT_STRTAB, align: 1}
	shstr.WriteString(".shstrtab")
	shstr.WriteByte(0)
	strtab.data = shstr.Bytes()
	if !s.NoSections {
		secs = append(secs, strtab)
	}

	var notes *section
	if len(secs) > 0 && secs[0].typ == elf.SHT_NOTE {
		notes = secs[0]
	}

	phnum := 1
	if notes != nil {
		phnum++
	}
	off := uint64(64 + 56*phnum)
	for _, sec := range secs {
		off = align(off, sec.align)
		sec.off = off
		off += uint64(len(sec.data))
	}
	shoff := align(off, 8)
	shnum := 0
	if !s.NoSections {
		shnum = len(secs) + 1
	}
	size := shoff + uint64(64*shnum)

	buf := make([]byte, size)
	copy(buf, []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	le.PutUint16(buf[16:], uint16(s.Type))
	le.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(buf[24:], s.Vaddr)
	le.PutUint64(buf[32:], 64)
	if shnum > 0 {
		le.PutUint64(buf[40:], shoff)
	}
	le.PutUint16(buf[52:], 64)
	le.PutUint16(buf[54:], 56)
	le.PutUint16(buf[56:], uint16(phnum))
	le.PutUint16(buf[58:], 64)
	le.PutUint16(buf[60:], uint16(shnum))
	if shnum > 0 {
		le.PutUint16(buf[62:], uint16(shnum-1))
	}

	ph := buf[64:]
	putProg(ph, elf.PT_LOAD, elf.PF_R|elf.PF_X, 0, s.Vaddr, size, 0x1000)
	if notes != nil {
		putProg(ph[56:], elf.PT_NOTE, elf.PF_R, notes.off, s.Vaddr+notes.off, uint64(len(notes.data)), 4)
	}

	for _, sec := range secs {
		copy(buf[sec.off:], sec.data)
	}
	if shnum > 0 {
		sh := buf[shoff+64:]
		for i, sec := range secs {
			h := sh[i*64:]
			le.PutUint32(h[0:], sec.nameo)
			le.PutUint32(h[4:], uint32(sec.typ))
			if sec.typ == elf.SHT_NOTE {
				le.PutUint64(h[8:], uint64(elf.SHF_ALLOC))
				le.PutUint64(h[16:], s.Vaddr+sec.off)
			}
			le.PutUint64(h[24:], sec.off)
			le.PutUint64(h[32:], uint64(len(sec.data)))
			le.PutUint64(h[48:], sec.align)
		}
	}
	return buf
}

// Write builds the file into dir/name and returns its path.
func Write(t testing.TB, dir, name string, s Fixture) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, Build(s), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// CRC returns the .gnu_debuglink checksum of a built file.
func CRC(s Fixture) uint32 {
	return crc32.ChecksumIEEE(Build(s))
}

func note(s Fixture) []byte {
	desc := s.BuildID
	descsz := uint32(len(desc))
	if s.CorruptNote {
		descsz = 0x10000
	}
	out := make([]byte, 16+align(uint64(len(desc)), 4))
	le.PutUint32(out[0:], 4)
	le.PutUint32(out[4:], descsz)
	le.PutUint32(out[8:], 3)
	copy(out[12:], "GNU\x00")
	copy(out[16:], desc)
	return out
}

func debuglink(name string, crc uint32) []byte {
	n := align(uint64(len(name))+1, 4)
	out := make([]byte, n+4)
	copy(out, name)
	le.PutUint32(out[n:], crc)
	return out
}

func putProg(b []byte, typ elf.ProgType, flags elf.ProgFlag, off, vaddr, size, al uint64) {
	le.PutUint32(b[0:], uint32(typ))
	le.PutUint32(b[4:], uint32(flags))
	le.PutUint64(b[8:], off)
	le.PutUint64(b[16:], vaddr)
	le.PutUint64(b[24:], vaddr)
	le.PutUint64(b[32:], size)
	le.PutUint64(b[40:], size)
	le.PutUint64(b[48:], al)
}

func align(n, a uint64) uint64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}
