package buildid

import (
	"bytes"
	"errors"

	"elfdata/internal/discover"
	"elfdata/internal/elfx"
)

// Extractor returns a module's build identifier. A module without one yields
// a nil BuildID and a nil error.
type Extractor interface {
	Extract(m *discover.Module) (BuildID, error)
}

// normalize folds a note lookup result into a BuildID. A length of 0 and the
// -1 parse sentinel both mean absent.
func normalize(desc []byte, n int) BuildID {
	if n <= 0 || n > len(desc) {
		return nil
	}
	return BuildID(bytes.Clone(desc[:n]))
}

// Attached reads the note recorded when a discovered module's binary was loaded.
type Attached struct{}

func (Attached) Extract(m *discover.Module) (BuildID, error) {
	if _, err := m.ELF(); err != nil {
		// Vanished files and mapped data files (locale archives, caches,
		// devices) are not binaries; they have no ID.
		if IsMissing(err) || errors.Is(err, elfx.ErrNotELF) {
			return nil, nil
		}
		return nil, Classify(m.Path(), err)
	}
	return normalize(m.BuildID()), nil
}

// Scan opens the module's binary afresh and walks its notes.
type Scan struct {
	Open elfx.OpenFunc
}

func (s Scan) Extract(m *discover.Module) (BuildID, error) {
	open := s.Open
	if open == nil {
		open = elfx.Open
	}
	path := m.File()
	if path == "" {
		path = m.Path()
	}
	img, err := open(path)
	if err != nil {
		return nil, Classify(path, err)
	}
	defer img.Close()
	return normalize(img.BuildIDNote()), nil
}
