package resolve

import (
	"elfdata/internal/buildid"
	"elfdata/internal/discover"
	"elfdata/internal/match"
)

// Collect walks the cursor to its end and returns the matching modules in
// traversal order. Every module has its ELF and debug information forced
// before matching. It fails with buildid.ErrNotFound when nothing matches.
func Collect(c discover.Cursor, m *match.Matcher) ([]*discover.Module, error) {
	var found []*discover.Module
	for {
		mod, next, ok := c.Next()
		if !ok {
			break
		}
		c = next
		if matchModule(mod, m) {
			found = append(found, mod)
		}
	}
	if len(found) == 0 {
		return nil, buildid.NotFound("no matching modules found")
	}
	return found, nil
}

func matchModule(mod *discover.Module, m *match.Matcher) bool {
	// Load failures are not fatal here; the module just has no file.
	_, _ = mod.ELF()
	mod.Debug()

	if !m.ByFile() {
		return m.Match(mod.Name())
	}
	if m.All() {
		return true
	}
	file := mod.File()
	if file == "" {
		return false
	}
	return m.Match(file)
}
