package discover

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Set is an ordered collection of reported modules. It owns every image its modules open.
type Set struct {
	cfg     Config
	modules []*Module
}

// Cursor is a position in a Set. The zero Cursor is exhausted.
type Cursor struct {
	set *Set
	pos int
}

// Begin returns a cursor positioned before the first module.
func (s *Set) Begin() Cursor {
	return Cursor{set: s}
}

// Next returns the module at the cursor and the cursor that follows it.
// ok is false once the set is exhausted.
func (c Cursor) Next() (m *Module, next Cursor, ok bool) {
	if c.set == nil || c.pos >= len(c.set.modules) {
		return nil, c, false
	}
	return c.set.modules[c.pos], Cursor{set: c.set, pos: c.pos + 1}, true
}

// Len returns the number of reported modules.
func (s *Set) Len() int {
	return len(s.modules)
}

// Close releases the images of every module in the set.
func (s *Set) Close() error {
	var errs []error
	for _, m := range s.modules {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

// ReportExecutable reports a single module for the ELF file at path.
// The file is opened immediately to learn its load range.
func ReportExecutable(cfg Config, path string) (*Set, error) {
	s := &Set{cfg: cfg}
	m := newModule(&s.cfg, path, 0, 0)
	if _, err := m.ELF(); err != nil {
		return nil, err
	}
	s.modules = append(s.modules, m)
	return s, nil
}

// ReportProcess reports the file-backed modules mapped into a live process.
func ReportProcess(cfg Config, pid int) (*Set, error) {
	return ReportMapsFile(cfg, fmt.Sprintf("/proc/%d/maps", pid))
}

// ReportMapsFile reports modules listed in a file in /proc/PID/maps format.
func ReportMapsFile(cfg Config, path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReportMaps(cfg, f)
}

// ReportMaps reports modules from /proc/PID/maps formatted input. Mappings of the
// same file become one module spanning all of them, in order of first appearance.
// Anonymous and pseudo mappings such as [heap] and [vdso] are skipped.
func ReportMaps(cfg Config, r io.Reader) (*Set, error) {
	s := &Set{cfg: cfg}
	byPath := make(map[string]*Module)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		start, end, path, err := parseMapsLine(text)
		if err != nil {
			return nil, fmt.Errorf("maps line %d: %w", line, err)
		}
		if !strings.HasPrefix(path, "/") {
			continue
		}
		if m, ok := byPath[path]; ok {
			if start < m.start {
				m.start = start
			}
			if end > m.end {
				m.end = end
			}
			continue
		}
		m := newModule(&s.cfg, path, start, end)
		byPath[path] = m
		s.modules = append(s.modules, m)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseMapsLine splits "start-end perms offset dev inode [path]".
func parseMapsLine(text string) (start, end uint64, path string, err error) {
	fields := strings.Fields(text)
	if len(fields) < 5 {
		return 0, 0, "", fmt.Errorf("malformed entry %q", text)
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return 0, 0, "", fmt.Errorf("malformed range %q", fields[0])
	}
	if start, err = strconv.ParseUint(lo, 16, 64); err != nil {
		return 0, 0, "", fmt.Errorf("range start: %w", err)
	}
	if end, err = strconv.ParseUint(hi, 16, 64); err != nil {
		return 0, 0, "", fmt.Errorf("range end: %w", err)
	}
	if end < start {
		return 0, 0, "", fmt.Errorf("inverted range %q", fields[0])
	}
	if len(fields) > 5 {
		// Paths may contain spaces; keep everything after the inode.
		idx := fieldIndex(text, 5)
		path = strings.TrimSuffix(strings.TrimSpace(text[idx:]), " (deleted)")
	}
	return start, end, path, nil
}

// fieldIndex returns the byte offset where the n-th whitespace separated field begins.
func fieldIndex(s string, n int) int {
	inField := false
	count := -1
	for i, r := range s {
		space := r == ' ' || r == '\t'
		if !space && !inField {
			count++
			if count == n {
				return i
			}
		}
		inField = !space
	}
	return len(s)
}
