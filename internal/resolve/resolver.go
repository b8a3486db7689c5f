// Package resolve turns a request naming either an explicit binary/debug pair
// or a discovery source into the ordered build identifiers of its modules.
package resolve

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"elfdata/internal/buildid"
	"elfdata/internal/discover"
	"elfdata/internal/elfx"
	"elfdata/internal/logging"
	"elfdata/internal/match"
)

// Mode selects how modules are found.
type Mode int

const (
	Discovery Mode = iota
	ExplicitPair
)

func (m Mode) String() string {
	switch m {
	case Discovery:
		return "discovery"
	case ExplicitPair:
		return "explicit-pair"
	}
	return "unknown"
}

// Source names where discovery finds its modules. Exactly one field is set.
type Source struct {
	Executable string
	PID        int
	MapsFile   string
}

func (s Source) count() int {
	n := 0
	if s.Executable != "" {
		n++
	}
	if s.PID != 0 {
		n++
	}
	if s.MapsFile != "" {
		n++
	}
	return n
}

// Options are the discovery-only switches.
type Options struct {
	MatchByFileName                bool
	IncludeModulesWithoutDebugInfo bool
	ApplyRelocations               bool
	IgnoreMissing                  bool
}

// Request is one resolution.
type Request struct {
	Mode         Mode
	StrippedPath string
	DebugPath    string
	Source       Source
	Patterns     []string
	Options      Options
}

// Entry is one resolved module and its build identifier.
type Entry struct {
	Name    string `json:"name"`
	File    string `json:"file,omitempty"`
	Debug   string `json:"debug,omitempty"`
	Start   uint64 `json:"start"`
	End     uint64 `json:"end"`
	BuildID string `json:"build_id"`
}

// HasDebug reports whether debug information was found for the module.
func (e Entry) HasDebug() bool {
	return e.Debug != ""
}

// Resolver runs requests. Requests share no state, so one Resolver may serve many.
type Resolver struct {
	once      sync.Once
	open      elfx.OpenFunc
	debugDirs []string
	logger    *log.Logger
}

type Option func(*Resolver)

// WithOpener replaces elfx.Open for every image the resolver loads.
func WithOpener(open elfx.OpenFunc) Option {
	return func(r *Resolver) { r.open = open }
}

// WithDebugDirs sets the roots searched for separate debug files.
func WithDebugDirs(dirs ...string) Option {
	return func(r *Resolver) { r.debugDirs = append([]string{}, dirs...) }
}

func WithLogger(lg *log.Logger) Option {
	return func(r *Resolver) { r.logger = lg }
}

func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// init fills in library defaults the first time a request runs.
func (r *Resolver) init() {
	r.once.Do(func() {
		if r.open == nil {
			r.open = elfx.Open
		}
		if r.debugDirs == nil {
			r.debugDirs = DebugDirsFromEnv()
		}
		if r.logger == nil {
			r.logger = logging.Discard()
		}
	})
}

// DebugDirsFromEnv returns the debug roots listed in ELFDATA_DEBUGINFO_PATH,
// or discover.DefaultDebugDir when it is unset.
func DebugDirsFromEnv() []string {
	v := os.Getenv("ELFDATA_DEBUGINFO_PATH")
	if v == "" {
		return []string{discover.DefaultDebugDir}
	}
	return filepath.SplitList(v)
}

// ResolveBuildIDs returns the hex build identifiers of the request's modules in
// order. A module without one contributes "".
func (r *Resolver) ResolveBuildIDs(req Request) ([]string, error) {
	entries, err := r.Resolve(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.BuildID
	}
	return ids, nil
}

// Resolve returns every resolved module with its build identifier, in order.
func (r *Resolver) Resolve(req Request) ([]Entry, error) {
	r.init()
	ru := &run{
		req:    req,
		open:   r.open,
		dirs:   r.debugDirs,
		logger: r.logger.With("mode", req.Mode),
	}
	return ru.execute()
}

// Validate checks the request without touching the filesystem.
func (req Request) Validate() error {
	switch req.Mode {
	case ExplicitPair:
		if req.StrippedPath == "" || req.DebugPath == "" {
			return buildid.Configf("exactly two file arguments are required")
		}
		if req.Source.count() > 0 {
			return buildid.Configf("a module source cannot be combined with explicit files")
		}
		o := req.Options
		if len(req.Patterns) > 0 || o.MatchByFileName {
			return buildid.Configf("module patterns are not allowed with explicit files")
		}
		if o.IncludeModulesWithoutDebugInfo || o.ApplyRelocations || o.IgnoreMissing {
			return buildid.Configf("include-all, relocate and ignore-missing options are not allowed with explicit files")
		}
	case Discovery:
		if req.StrippedPath != "" || req.DebugPath != "" {
			return buildid.Configf("explicit files cannot be combined with module discovery")
		}
		if req.Source.count() != 1 {
			return buildid.Configf("exactly one module source is required")
		}
		if req.Source.PID < 0 {
			return buildid.Configf("invalid process id %d", req.Source.PID)
		}
		if _, err := match.New(req.match()); err != nil {
			return buildid.Configf("%v", err)
		}
	default:
		return buildid.Configf("unknown mode %d", int(req.Mode))
	}
	return nil
}

func (req Request) match() match.Request {
	return match.Request{Patterns: req.Patterns, ByFile: req.Options.MatchByFileName}
}

func (ru *run) report() (*discover.Set, error) {
	cfg := discover.Config{
		Open:      ru.open,
		DebugDirs: ru.dirs,
		Relocate:  ru.req.Options.ApplyRelocations,
	}
	src := ru.req.Source
	switch {
	case src.Executable != "":
		set, err := discover.ReportExecutable(cfg, src.Executable)
		return set, buildid.Classify(src.Executable, err)
	case src.PID != 0:
		set, err := discover.ReportProcess(cfg, src.PID)
		return set, classifyMaps("pid "+strconv.Itoa(src.PID), err)
	default:
		set, err := discover.ReportMapsFile(cfg, src.MapsFile)
		return set, classifyMaps(src.MapsFile, err)
	}
}

// classifyMaps treats anything but a failure to open the maps file as bad input.
func classifyMaps(what string, err error) error {
	if err == nil {
		return nil
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return buildid.Classify(what, err)
	}
	return &buildid.Error{Kind: buildid.KindMalformedInput, Path: what, Err: err}
}
