package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"elfdata/internal/buildid"
	"elfdata/internal/elfx"
	"elfdata/internal/elfx/elfxtest"
)

var sampleID = []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}

const sampleHex = "deadbeef0102030405060708090a0b0c0d0e0f10"

// countingOpener records every path the resolver tries to open.
type countingOpener struct {
	paths []string
}

func (c *countingOpener) open(path string) (*elfx.Image, error) {
	c.paths = append(c.paths, path)
	return elfx.Open(path)
}

func newResolver(t *testing.T) (*Resolver, *countingOpener) {
	t.Helper()
	c := &countingOpener{}
	return New(WithOpener(c.open), WithDebugDirs()), c
}

// writeMaps writes a maps file listing the given paths in order.
func writeMaps(t *testing.T, dir string, paths ...string) string {
	t.Helper()
	var b strings.Builder
	for i, p := range paths {
		base := 0x10000 * (i + 1)
		fmt.Fprintf(&b, "%x-%x r-xp 00000000 08:02 %d %s\n", base, base+0x1000, i+100, p)
	}
	path := filepath.Join(dir, "maps")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func checkNoLeaks(t *testing.T, before int64) {
	t.Helper()
	if got := elfx.OpenImages(); got != before {
		t.Errorf("%d images open, want %d", got, before)
	}
}

func TestExplicitPair(t *testing.T) {
	dir := t.TempDir()
	stripped := elfxtest.Write(t, dir, "prog", elfxtest.Fixture{BuildID: sampleID})
	debug := elfxtest.Write(t, dir, "prog.debug", elfxtest.Fixture{BuildID: sampleID, DebugInfo: []byte{1, 2, 3}})

	before := elfx.OpenImages()
	r, _ := newResolver(t)
	entries, err := r.Resolve(Request{Mode: ExplicitPair, StrippedPath: stripped, DebugPath: debug})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want exactly 1", len(entries))
	}
	e := entries[0]
	if e.BuildID != sampleHex || e.Name != "prog" || e.File != stripped || e.Debug != debug {
		t.Errorf("entry = %+v", e)
	}
	checkNoLeaks(t, before)
}

func TestExplicitPairRejectsDiscoveryOptions(t *testing.T) {
	dir := t.TempDir()
	stripped := elfxtest.Write(t, dir, "prog", elfxtest.Fixture{BuildID: sampleID})
	debug := elfxtest.Write(t, dir, "prog.debug", elfxtest.Fixture{DebugInfo: []byte{1}})

	tests := []struct {
		name string
		mut  func(*Request)
	}{
		{"patterns", func(r *Request) { r.Patterns = []string{"*"} }},
		{"match by file", func(r *Request) { r.Options.MatchByFileName = true }},
		{"include without debug", func(r *Request) { r.Options.IncludeModulesWithoutDebugInfo = true }},
		{"relocate", func(r *Request) { r.Options.ApplyRelocations = true }},
		{"ignore missing", func(r *Request) { r.Options.IgnoreMissing = true }},
		{"module source", func(r *Request) { r.Source.Executable = stripped }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, opener := newResolver(t)
			req := Request{Mode: ExplicitPair, StrippedPath: stripped, DebugPath: debug}
			tt.mut(&req)
			_, err := r.Resolve(req)
			if !errors.Is(err, buildid.ErrConfig) {
				t.Errorf("err = %v, want config error", err)
			}
			if len(opener.paths) != 0 {
				t.Errorf("opened %q before rejecting the request", opener.paths)
			}
		})
	}
}

func TestExplicitPairIOErrors(t *testing.T) {
	dir := t.TempDir()
	stripped := elfxtest.Write(t, dir, "prog", elfxtest.Fixture{BuildID: sampleID})
	junk := filepath.Join(dir, "junk")
	if err := os.WriteFile(junk, []byte("definitely not an ELF image"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name            string
		stripped, debug string
		want            error
	}{
		{"missing stripped", missing, stripped, buildid.ErrIO},
		{"missing debug", stripped, missing, buildid.ErrIO},
		{"malformed debug", stripped, junk, buildid.ErrMalformedInput},
		{"malformed stripped", junk, stripped, buildid.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := elfx.OpenImages()
			r, _ := newResolver(t)
			entries, err := r.Resolve(Request{Mode: ExplicitPair, StrippedPath: tt.stripped, DebugPath: tt.debug})
			if !errors.Is(err, tt.want) || entries != nil {
				t.Errorf("Resolve = %v, %v; want %v", entries, err, tt.want)
			}
			checkNoLeaks(t, before)
		})
	}
}

func TestDiscoveryOrderAndFilter(t *testing.T) {
	dir := t.TempDir()
	a := elfxtest.Write(t, dir, "liba.so", elfxtest.Fixture{BuildID: []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}})
	b := elfxtest.Write(t, dir, "libb.so", elfxtest.Fixture{BuildID: []byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}})
	c := elfxtest.Write(t, dir, "libc.so", elfxtest.Fixture{BuildID: sampleID})
	maps := writeMaps(t, dir, a, b, c)

	before := elfx.OpenImages()
	r, _ := newResolver(t)
	ids, err := r.ResolveBuildIDs(Request{
		Mode:     Discovery,
		Source:   Source{MapsFile: maps},
		Patterns: []string{"lib[bc].so"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bbbbbbbbbbbbbbbb", sampleHex}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("ids = %q, want %q", ids, want)
	}
	checkNoLeaks(t, before)
}

func TestDiscoveryNoMatches(t *testing.T) {
	dir := t.TempDir()
	a := elfxtest.Write(t, dir, "liba.so", elfxtest.Fixture{BuildID: sampleID})
	maps := writeMaps(t, dir, a)

	before := elfx.OpenImages()
	r, _ := newResolver(t)
	ids, err := r.ResolveBuildIDs(Request{Mode: Discovery, Source: Source{MapsFile: maps}, Patterns: []string{"libz*"}})
	if !errors.Is(err, buildid.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if ids != nil {
		t.Errorf("ids = %q, want none", ids)
	}
	checkNoLeaks(t, before)

	empty := filepath.Join(dir, "empty-maps")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ResolveBuildIDs(Request{Mode: Discovery, Source: Source{MapsFile: empty}}); !errors.Is(err, buildid.ErrNotFound) {
		t.Errorf("empty maps: err = %v, want not found", err)
	}
}

func TestMissingBuildIDDoesNotStopTraversal(t *testing.T) {
	dir := t.TempDir()
	first := elfxtest.Write(t, dir, "libnoid.so", elfxtest.Fixture{})
	broken := elfxtest.Write(t, dir, "libbroken.so", elfxtest.Fixture{CorruptNote: true})
	gone := filepath.Join(dir, "libgone.so")
	last := elfxtest.Write(t, dir, "liblast.so", elfxtest.Fixture{BuildID: sampleID})
	maps := writeMaps(t, dir, first, broken, gone, last)

	r, _ := newResolver(t)
	ids, err := r.ResolveBuildIDs(Request{Mode: Discovery, Source: Source{MapsFile: maps}})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"", "", "", sampleHex}
	if strings.Join(ids, "|") != strings.Join(want, "|") {
		t.Errorf("ids = %q, want %q", ids, want)
	}
}

func TestDataFileMappingsHaveNoBuildID(t *testing.T) {
	dir := t.TempDir()
	libc := elfxtest.Write(t, dir, "libc.so.6", elfxtest.Fixture{BuildID: sampleID})
	archive := filepath.Join(dir, "locale-archive")
	if err := os.WriteFile(archive, []byte("LC_CTYPE data, not a binary"), 0o644); err != nil {
		t.Fatal(err)
	}
	maps := writeMaps(t, dir, libc, archive)

	before := elfx.OpenImages()
	r, _ := newResolver(t)
	ids, err := r.ResolveBuildIDs(Request{Mode: Discovery, Source: Source{MapsFile: maps}})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{sampleHex, ""}
	if strings.Join(ids, "|") != strings.Join(want, "|") {
		t.Errorf("ids = %q, want %q", ids, want)
	}
	checkNoLeaks(t, before)
}

func TestOnlyFirstPatternApplies(t *testing.T) {
	dir := t.TempDir()
	a := elfxtest.Write(t, dir, "liba.so", elfxtest.Fixture{BuildID: sampleID})
	b := elfxtest.Write(t, dir, "libb.so", elfxtest.Fixture{BuildID: sampleID[:8]})
	maps := writeMaps(t, dir, a, b)

	r, _ := newResolver(t)
	entries, err := r.Resolve(Request{
		Mode:     Discovery,
		Source:   Source{MapsFile: maps},
		Patterns: []string{"liba.so", "libb.so"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "liba.so" {
		t.Errorf("entries = %+v, want liba.so only", entries)
	}
}

func TestMatchByFileName(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	a := elfxtest.Write(t, dir, "liba.so", elfxtest.Fixture{BuildID: sampleID})
	b := elfxtest.Write(t, sub, "libb.so", elfxtest.Fixture{BuildID: sampleID[:8]})
	gone := filepath.Join(sub, "libgone.so")
	maps := writeMaps(t, dir, a, b, gone)

	r, _ := newResolver(t)
	entries, err := r.Resolve(Request{
		Mode:     Discovery,
		Source:   Source{MapsFile: maps},
		Patterns: []string{sub + "/*"},
		Options:  Options{MatchByFileName: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	// libgone.so has no resolvable file, so a file pattern cannot match it.
	if len(entries) != 1 || entries[0].File != b {
		t.Errorf("entries = %+v, want %s only", entries, b)
	}
}

func TestDiscoveryExecutable(t *testing.T) {
	dir := t.TempDir()
	prog := elfxtest.Write(t, dir, "prog", elfxtest.Fixture{BuildID: sampleID, DebugInfo: []byte{1, 2, 3}})

	r, _ := newResolver(t)
	entries, err := r.Resolve(Request{Mode: Discovery, Source: Source{Executable: prog}})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].BuildID != sampleHex || entries[0].Debug != prog {
		t.Errorf("entries = %+v", entries)
	}
}

func TestDiscoveryErrors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk")
	if err := os.WriteFile(junk, []byte("not an elf, not a maps file either"), 0o644); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(dir, "corrupt.so")
	if err := os.WriteFile(corrupt, []byte("\x7fELF but nothing that parses as a header"), 0o644); err != nil {
		t.Fatal(err)
	}
	corruptMaps := writeMaps(t, t.TempDir(), corrupt)

	tests := []struct {
		name string
		src  Source
		want error
	}{
		{"missing executable", Source{Executable: filepath.Join(dir, "nope")}, buildid.ErrIO},
		{"malformed executable", Source{Executable: junk}, buildid.ErrMalformedInput},
		{"missing maps", Source{MapsFile: filepath.Join(dir, "nope")}, buildid.ErrIO},
		{"malformed maps", Source{MapsFile: junk}, buildid.ErrMalformedInput},
		{"module with ELF magic but no header", Source{MapsFile: corruptMaps}, buildid.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := elfx.OpenImages()
			r, _ := newResolver(t)
			_, err := r.Resolve(Request{Mode: Discovery, Source: tt.src})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			checkNoLeaks(t, before)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"explicit", Request{Mode: ExplicitPair, StrippedPath: "a", DebugPath: "b"}, true},
		{"explicit missing debug", Request{Mode: ExplicitPair, StrippedPath: "a"}, false},
		{"discovery", Request{Mode: Discovery, Source: Source{PID: 1}}, true},
		{"discovery with all options", Request{Mode: Discovery, Source: Source{PID: 1}, Options: Options{true, true, true, true}}, true},
		{"discovery without source", Request{Mode: Discovery}, false},
		{"discovery with two sources", Request{Mode: Discovery, Source: Source{PID: 1, Executable: "a"}}, false},
		{"discovery with explicit files", Request{Mode: Discovery, Source: Source{PID: 1}, StrippedPath: "a", DebugPath: "b"}, false},
		{"negative pid", Request{Mode: Discovery, Source: Source{PID: -4}}, false},
		{"bad pattern", Request{Mode: Discovery, Source: Source{PID: 1}, Patterns: []string{"lib[c"}}, false},
		{"unknown mode", Request{Mode: Mode(7)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, buildid.ErrConfig) {
				t.Errorf("Validate = %v, want config error", err)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	entries := []Entry{
		{Name: "a", BuildID: "aa", Debug: "/a"},
		{Name: "b", BuildID: ""},
		{Name: "c", BuildID: "cc"},
	}
	names := func(es []Entry) string {
		var out []string
		for _, e := range es {
			out = append(out, e.Name)
		}
		return strings.Join(out, ",")
	}

	tests := []struct {
		name    string
		opts    Options
		listing bool
		want    string
	}{
		{"default ids", Options{}, false, "a,b,c"},
		{"ignore missing", Options{IgnoreMissing: true}, false, "a,c"},
		{"listing hides no-debug modules", Options{}, true, "a"},
		{"listing with all", Options{IncludeModulesWithoutDebugInfo: true}, true, "a,b,c"},
		{"listing with all and ignore", Options{IncludeModulesWithoutDebugInfo: true, IgnoreMissing: true}, true, "a,c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := names(Filter(entries, tt.opts, tt.listing)); got != tt.want {
				t.Errorf("Filter = %s, want %s", got, tt.want)
			}
		})
	}
	if len(entries) != 3 {
		t.Error("Filter modified its input")
	}
}

func TestDebugDirsFromEnv(t *testing.T) {
	t.Setenv("ELFDATA_DEBUGINFO_PATH", "")
	if got := DebugDirsFromEnv(); len(got) != 1 || got[0] != "/usr/lib/debug" {
		t.Errorf("default = %q", got)
	}
	t.Setenv("ELFDATA_DEBUGINFO_PATH", "/a"+string(os.PathListSeparator)+"/b")
	if got := DebugDirsFromEnv(); strings.Join(got, ",") != "/a,/b" {
		t.Errorf("from env = %q", got)
	}
}
