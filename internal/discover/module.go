// Package discover enumerates ELF modules from an executable, a live process or
// a saved process map, and resolves each module's file and debug information on demand.
package discover

import (
	"errors"
	"path/filepath"

	"elfdata/internal/elfx"
)

// Config controls how modules are loaded.
type Config struct {
	// Open loads an ELF image. elfx.Open when nil.
	Open elfx.OpenFunc
	// DebugDirs are the roots searched for separate debug files.
	DebugDirs []string
	// Relocate requires relocatable debug files to yield loadable DWARF.
	Relocate bool
}

func (c *Config) open(path string) (*elfx.Image, error) {
	if c.Open == nil {
		return elfx.Open(path)
	}
	return c.Open(path)
}

// ErrClosed is returned by ELF once the module has been closed.
var ErrClosed = errors.New("module closed")

// Info is a snapshot of a module's resolved state.
type Info struct {
	Name       string
	File       string
	Debug      string
	Start, End uint64
	HasBuildID bool
}

// Module is one binary mapped into the address space being inspected.
type Module struct {
	name       string
	path       string
	start, end uint64
	cfg        *Config

	elfDone bool
	elfErr  error
	img     *elfx.Image
	id      []byte
	idLen   int

	debugDone bool
	debug     string
	debugImg  *elfx.Image
}

func newModule(cfg *Config, path string, start, end uint64) *Module {
	return &Module{
		name:  filepath.Base(path),
		path:  path,
		start: start,
		end:   end,
		cfg:   cfg,
	}
}

// NewExplicit builds a module from an already opened binary and debug file.
func NewExplicit(img, debugImg *elfx.Image) *Module {
	m := newModule(&Config{}, img.Path, 0, 0)
	m.attach(img)
	m.debugDone = true
	m.debugImg = debugImg
	m.debug = debugImg.Path
	return m
}

func (m *Module) attach(img *elfx.Image) {
	m.elfDone = true
	m.img = img
	m.id, m.idLen = img.BuildIDNote()
	if start, end, ok := img.Range(); ok && m.end == 0 {
		m.start, m.end = start, end
	}
}

// Name returns the module's logical name.
func (m *Module) Name() string {
	return m.name
}

// Path returns the path the module was reported with, whether or not it could be opened.
func (m *Module) Path() string {
	return m.path
}

// Range returns the module's address range [start, end).
func (m *Module) Range() (uint64, uint64) {
	return m.start, m.end
}

// ELF loads the module's binary on first use. Later calls return the same result.
func (m *Module) ELF() (*elfx.Image, error) {
	if m.elfDone {
		return m.img, m.elfErr
	}
	m.elfDone = true
	img, err := m.cfg.open(m.path)
	if err != nil {
		m.elfErr = err
		return nil, err
	}
	m.attach(img)
	return img, nil
}

// File returns the resolved binary path, or "" if the binary could not be loaded.
// It does not force loading.
func (m *Module) File() string {
	if m.img == nil {
		return ""
	}
	return m.img.Path
}

// BuildID returns the build-id note recorded when the binary was loaded:
// the descriptor and its length, 0 when absent, -1 when the notes were unreadable.
func (m *Module) BuildID() ([]byte, int) {
	if m.img == nil {
		return nil, 0
	}
	return m.id, m.idLen
}

// HasBuildID reports whether a build-id note was located.
func (m *Module) HasBuildID() bool {
	return m.idLen > 0
}

// Info returns the module's current state without forcing any loads.
func (m *Module) Info() Info {
	return Info{
		Name:       m.name,
		File:       m.File(),
		Debug:      m.debug,
		Start:      m.start,
		End:        m.end,
		HasBuildID: m.HasBuildID(),
	}
}

// Close releases every image the module opened. Afterwards ELF reports
// ErrClosed unless loading had already failed.
func (m *Module) Close() error {
	var errs []error
	if m.debugImg != nil {
		errs = append(errs, m.debugImg.Close())
		m.debugImg = nil
	}
	if m.img != nil {
		errs = append(errs, m.img.Close())
		m.img = nil
	}
	m.elfDone = true
	if m.elfErr == nil {
		m.elfErr = ErrClosed
	}
	return errors.Join(errs...)
}
