// Package match decides whether a module's name or file path satisfies a glob filter.
package match

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Request is an ordered list of shell-style patterns. An empty list matches
// everything. When ByFile is set the patterns apply to a module's resolved
// file path instead of its name.
type Request struct {
	Patterns []string
	ByFile   bool
}

// Matcher is a compiled Request.
//
// Only the first pattern takes part in matching; any further patterns are
// accepted and ignored.
type Matcher struct {
	req Request
	g   glob.Glob
}

// New compiles the first pattern of req.
func New(req Request) (*Matcher, error) {
	m := &Matcher{req: req}
	if len(req.Patterns) == 0 {
		return m, nil
	}
	// No separators: '*' crosses '/' the way fnmatch does without FNM_PATHNAME.
	g, err := glob.Compile(translate(req.Patterns[0]))
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", req.Patterns[0], err)
	}
	m.g = g
	return m, nil
}

// translate rewrites fnmatch(3) syntax into gobwas/glob syntax. Braces and
// commas are literal in fnmatch, and '^' negates a bracket expression like '!'.
func translate(pattern string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			i++
			b.WriteByte(pattern[i])
		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				b.WriteByte('!')
				i++
			}
		case c == '{' || c == '}' || c == ',':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ByFile reports whether targets are file paths rather than module names.
func (m *Matcher) ByFile() bool {
	return m.req.ByFile
}

// All reports whether the matcher accepts every target.
func (m *Matcher) All() bool {
	return m.g == nil
}

// Match reports whether target satisfies the request.
func (m *Matcher) Match(target string) bool {
	if m.g == nil {
		return true
	}
	return m.g.Match(target)
}

// Matches reports whether target satisfies req. A pattern that does not
// compile matches nothing.
func Matches(target string, req Request) bool {
	m, err := New(req)
	if err != nil {
		return false
	}
	return m.Match(target)
}
