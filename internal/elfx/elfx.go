// Package elfx provides helpers for opening ELF binaries, locating sections and notes, and computing load ranges.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"
)

// live counts images that are mapped and not yet closed.
var live atomic.Int64

// OpenImages reports how many images are currently open.
func OpenImages() int64 {
	return live.Load()
}

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Notes []Region
	f     *os.File
}

type Seg struct {
	Vaddr, Off, Filesz, Memsz uint64
	Flags                     elf.ProgFlag
}

// Region is a byte range of the file holding note records.
type Region struct {
	Name  string
	Off   uint64
	Size  uint64
	Align uint64
}

// ErrNotELF marks a file that does not start with the ELF magic, such as a
// locale archive or a device mapped into a process.
var ErrNotELF = errors.New("not an ELF file")

// OpenFunc opens an ELF image. Open is the default.
type OpenFunc func(path string) (*Image, error)

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		if notELF(path) {
			err = fmt.Errorf("%w: %w", ErrNotELF, err)
		}
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Flags:  p.Flags,
		})
	}

	// Prefer note sections; a binary stripped of its section table
	// still carries the same records in PT_NOTE segments.
	for _, s := range f.Sections {
		if s.Type != elf.SHT_NOTE {
			continue
		}
		im.Notes = append(im.Notes, Region{s.Name, s.Offset, s.FileSize, s.Addralign})
	}
	if len(im.Notes) == 0 {
		for _, p := range f.Progs {
			if p.Type != elf.PT_NOTE {
				continue
			}
			im.Notes = append(im.Notes, Region{"PT_NOTE", p.Off, p.Filesz, p.Align})
		}
	}

	live.Add(1)
	return im, nil
}

// notELF reports whether path is readable but lacks the 4-byte ELF magic.
func notELF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
	}
	return string(magic[:]) != elf.ELFMAG
}

// Close unmaps the memory and closes the underlying files. It is safe to call more than once.
func (im *Image) Close() error {
	if im.All == nil && im.f == nil && im.File == nil {
		return nil
	}
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	live.Add(-1)
	if err1 != nil {
		return err1
	}
	return err2
}

// Range returns the address range [start, end) covered by PT_LOAD segments.
// It returns false when the image has no loadable segments.
func (im *Image) Range() (uint64, uint64, bool) {
	if len(im.Loads) == 0 {
		return 0, 0, false
	}
	start, end := ^uint64(0), uint64(0)
	for _, l := range im.Loads {
		if l.Vaddr < start {
			start = l.Vaddr
		}
		if e := l.Vaddr + l.Memsz; e > end {
			end = e
		}
	}
	return start, end, true
}

// Slice returns the mapped bytes [off, off+size). It returns (nil, false)
// when the range falls outside the file.
func (im *Image) Slice(off, size uint64) ([]byte, bool) {
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end < off || end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// HasSection reports whether a section with the given name exists and has contents.
func (im *Image) HasSection(name string) bool {
	s := im.File.Section(name)
	return s != nil && s.Type != elf.SHT_NOBITS && s.Size > 0
}

// HasDWARF reports whether the image carries its own debug information.
func (im *Image) HasDWARF() bool {
	return im.HasSection(".debug_info") || im.HasSection(".zdebug_info")
}

// Type returns the ELF object type.
func (im *Image) Type() elf.Type {
	return im.File.Type
}
