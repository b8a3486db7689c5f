package discover

import (
	"debug/elf"
	"encoding/hex"
	"os"
	"path/filepath"

	"elfdata/internal/elfx"
)

// DefaultDebugDir is the conventional root for separate debug files.
const DefaultDebugDir = "/usr/lib/debug"

// Debug resolves the module's debug information on first use and returns its path:
// the binary itself when it carries DWARF, a separate debug file when one is found, or "".
func (m *Module) Debug() string {
	if m.debugDone {
		return m.debug
	}
	m.debugDone = true

	img, err := m.ELF()
	if err != nil {
		return ""
	}
	if img.HasDWARF() {
		m.debug = img.Path
		return m.debug
	}

	for _, c := range m.candidates(img) {
		if c.path == img.Path {
			continue
		}
		if _, err := os.Stat(c.path); err != nil {
			continue
		}
		dimg, err := m.cfg.open(c.path)
		if err != nil {
			continue
		}
		if m.acceptDebug(dimg, c) {
			m.debugImg = dimg
			m.debug = dimg.Path
			return m.debug
		}
		dimg.Close()
	}
	return ""
}

type candidate struct {
	path     string
	checkCRC bool
	crc      uint32
}

func (m *Module) candidates(img *elfx.Image) []candidate {
	var out []candidate
	if m.idLen > 1 {
		h := hex.EncodeToString(m.id)
		for _, root := range m.cfg.DebugDirs {
			out = append(out, candidate{path: filepath.Join(root, ".build-id", h[:2], h[2:]+".debug")})
		}
	}

	link, crc, ok := img.DebugLink()
	if !ok {
		return out
	}
	dir := filepath.Dir(img.Path)
	out = append(out,
		candidate{path: filepath.Join(dir, link), checkCRC: true, crc: crc},
		candidate{path: filepath.Join(dir, ".debug", link), checkCRC: true, crc: crc},
	)
	for _, root := range m.cfg.DebugDirs {
		out = append(out, candidate{path: filepath.Join(root, dir, link), checkCRC: true, crc: crc})
	}
	return out
}

func (m *Module) acceptDebug(dimg *elfx.Image, c candidate) bool {
	if !dimg.HasDWARF() {
		return false
	}
	if c.checkCRC && dimg.CRC32() != c.crc {
		return false
	}
	if m.cfg.Relocate && dimg.Type() == elf.ET_REL {
		// debug/elf applies relocations while loading DWARF.
		if _, err := dimg.File.DWARF(); err != nil {
			return false
		}
	}
	return true
}
