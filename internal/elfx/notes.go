package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"hash/crc32"
)

// NT_GNU_BUILD_ID is the note type of a GNU build identifier.
const NT_GNU_BUILD_ID = 3

const noteHeaderSize = 12

var gnuOwner = []byte("GNU\x00")

// noteIter walks the note records of one region.
type noteIter struct {
	order binary.ByteOrder
	data  []byte
	align uint64
	off   uint64
	err   bool
}

func (it *noteIter) next() (name, desc []byte, typ uint32, ok bool) {
	if it.err || it.off+noteHeaderSize > uint64(len(it.data)) {
		return nil, nil, 0, false
	}
	hdr := it.data[it.off:]
	namesz := uint64(it.order.Uint32(hdr[0:4]))
	descsz := uint64(it.order.Uint32(hdr[4:8]))
	typ = it.order.Uint32(hdr[8:12])

	nameOff := it.off + noteHeaderSize
	descOff := nameOff + alignUp(namesz, it.align)
	end := descOff + alignUp(descsz, it.align)
	if descOff+descsz > uint64(len(it.data)) || nameOff+namesz > uint64(len(it.data)) {
		it.err = true
		return nil, nil, 0, false
	}
	name = it.data[nameOff : nameOff+namesz]
	desc = it.data[descOff : descOff+descsz]
	it.off = end
	return name, desc, typ, true
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

func (im *Image) iter(r Region) (*noteIter, bool) {
	data, ok := im.Slice(r.Off, r.Size)
	if !ok {
		return nil, false
	}
	// Notes are 4-byte aligned unless the section asks for 8.
	align := uint64(4)
	if r.Align == 8 {
		align = 8
	}
	return &noteIter{order: im.File.ByteOrder, data: data, align: align}, true
}

// BuildIDNote looks up the GNU build-id note. It returns the descriptor and
// its length, a length of 0 when no such note exists, or -1 when a note
// region could not be parsed before the build ID was found.
func (im *Image) BuildIDNote() ([]byte, int) {
	broken := false
	for _, r := range im.Notes {
		it, ok := im.iter(r)
		if !ok {
			broken = true
			continue
		}
		for {
			name, desc, typ, ok := it.next()
			if !ok {
				break
			}
			if typ == NT_GNU_BUILD_ID && bytes.Equal(name, gnuOwner) {
				if len(desc) == 0 {
					return nil, 0
				}
				return bytes.Clone(desc), len(desc)
			}
		}
		if it.err {
			broken = true
		}
	}
	if broken {
		return nil, -1
	}
	return nil, 0
}

// DebugLink returns the file name and CRC recorded in .gnu_debuglink.
func (im *Image) DebugLink() (string, uint32, bool) {
	s := im.File.Section(".gnu_debuglink")
	if s == nil || s.Type == elf.SHT_NOBITS {
		return "", 0, false
	}
	data, ok := im.Slice(s.Offset, s.Size)
	if !ok {
		return "", 0, false
	}
	n := bytes.IndexByte(data, 0)
	if n <= 0 {
		return "", 0, false
	}
	// The CRC follows the name, padded to a 4-byte boundary.
	crcOff := alignUp(uint64(n)+1, 4)
	if crcOff+4 > uint64(len(data)) {
		return "", 0, false
	}
	return string(data[:n]), im.File.ByteOrder.Uint32(data[crcOff:]), true
}

// CRC32 returns the IEEE CRC of the whole file, as used by .gnu_debuglink.
func (im *Image) CRC32() uint32 {
	return crc32.ChecksumIEEE(im.All)
}
