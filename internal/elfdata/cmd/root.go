package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"elfdata/internal/buildid"
	elog "elfdata/internal/elfdata/log"
	"elfdata/internal/logging"
	"elfdata/internal/resolve"
)

// Config mirrors the command-line options.
type Config struct {
	Executable     string `json:"executable,omitempty" jsonschema:"title=Executable,description=Find modules in this ELF file"`
	PID            int    `json:"pid,omitempty" jsonschema:"title=Process ID,description=Find modules mapped into this process"`
	MapsFile       string `json:"mapsFile,omitempty" jsonschema:"title=Maps File,description=Find modules listed in this /proc/PID/maps style file"`
	DebuginfoPath  string `json:"debuginfoPath,omitempty" jsonschema:"title=Debuginfo Path,description=Colon separated roots searched for separate debug files"`
	MatchFileNames bool   `json:"matchFileNames" jsonschema:"title=Match File Names,description=Match MODULE against file names instead of module names"`
	IgnoreMissing  bool   `json:"ignoreMissing" jsonschema:"title=Ignore Missing,description=Skip modules that have no build ID"`
	All            bool   `json:"all" jsonschema:"title=All,description=List modules that have no debug information"`
	Relocate       bool   `json:"relocate" jsonschema:"title=Relocate,description=Require relocatable debug files to yield loadable DWARF"`
	List           bool   `json:"list" jsonschema:"title=List,description=Print address range, build ID, file, debug file and name per module"`
	JSON           bool   `json:"json" jsonschema:"title=JSON,description=Print modules as JSON"`
	Debug          bool   `json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
}

func NewRootCmd() *cobra.Command {
	var cfg Config

	root := &cobra.Command{
		Use:   "elfdata [STRIPPED-FILE DEBUG-FILE | MODULE...]",
		Short: "Print the build IDs of ELF modules",
		Long: `Elfdata prints the GNU build IDs of ELF modules.

With two file arguments it reads a stripped binary paired with its debug file.
With -e, -p or -M it discovers modules and prints one build ID per module whose
name (or file name with -f) matches the first MODULE pattern, or every module
when no pattern is given.`,
		Example: `
# Build ID of a stripped binary and its debug file
elfdata ./prog ./prog.debug

# Build IDs of every library a process has mapped
elfdata -p 1234

# Only libraries under /usr/lib64, with addresses and debug files
elfdata -p 1234 -f -n '/usr/lib64/*'
  `,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			elog.Setup(cmd.ErrOrStderr(), cfg.Debug)

			lg := logging.NewLogger(cmd.ErrOrStderr())
			defer lg.Close()
			if cfg.Debug {
				lg.SetLevel(log.DebugLevel)
			}

			req, err := cfg.request(cmd, args)
			if err != nil {
				return err
			}

			opts := []resolve.Option{resolve.WithLogger(lg.Logger)}
			if cfg.DebuginfoPath != "" {
				opts = append(opts, resolve.WithDebugDirs(filepath.SplitList(cfg.DebuginfoPath)...))
			}
			slog.Debug("Resolving build IDs", "mode", req.Mode, "patterns", req.Patterns)

			entries, err := resolve.New(opts...).Resolve(req)
			if err != nil {
				return err
			}
			entries = resolve.Filter(entries, req.Options, cfg.List)
			return cfg.print(cmd.OutOrStdout(), entries)
		},
	}

	f := root.Flags()
	f.StringVarP(&cfg.Executable, "executable", "e", "", "Find modules in the ELF file `FILE`")
	f.IntVarP(&cfg.PID, "pid", "p", 0, "Find modules mapped into process `PID`")
	f.StringVarP(&cfg.MapsFile, "linux-process-map", "M", "", "Find modules listed in `MAPFILE` (/proc/PID/maps format)")
	f.StringVar(&cfg.DebuginfoPath, "debuginfo-path", "", "Colon separated `PATH` of debug file roots (default $ELFDATA_DEBUGINFO_PATH or /usr/lib/debug)")
	f.BoolVarP(&cfg.MatchFileNames, "match-file-names", "f", false, "Match MODULE against file names, not module names")
	f.BoolVarP(&cfg.IgnoreMissing, "ignore-missing", "i", false, "Silently skip modules without a build ID")
	f.BoolVarP(&cfg.All, "all", "a", false, "List modules that have no debug information (with --list)")
	f.BoolVarP(&cfg.Relocate, "relocate", "R", false, "Require relocatable debug files to yield loadable DWARF")
	f.BoolVarP(&cfg.List, "list", "n", false, "List module ranges, build IDs, files and names")
	f.BoolVarP(&cfg.JSON, "json", "j", false, "Output modules as JSON")
	f.BoolVarP(&cfg.Debug, "debug", "d", logging.IsDebug(), "Debug (default from ELFDATA_LOG_LEVEL=debug)")
	root.MarkFlagsMutuallyExclusive("list", "json")

	root.AddCommand(newSchemaCmd())
	return root
}

// request turns flags and arguments into a resolution request. Explicit
// mode applies whenever no module source flag is given.
func (cfg *Config) request(cmd *cobra.Command, args []string) (resolve.Request, error) {
	src := resolve.Source{Executable: cfg.Executable, PID: cfg.PID, MapsFile: cfg.MapsFile}
	opts := resolve.Options{
		MatchByFileName:                cfg.MatchFileNames,
		IncludeModulesWithoutDebugInfo: cfg.All,
		ApplyRelocations:               cfg.Relocate,
		IgnoreMissing:                  cfg.IgnoreMissing,
	}

	f := cmd.Flags()
	discovery := f.Changed("executable") || f.Changed("pid") || f.Changed("linux-process-map")
	if !discovery {
		if len(args) != 2 {
			return resolve.Request{}, buildid.Configf("exactly two file arguments are required")
		}
		if cfg.List {
			return resolve.Request{}, buildid.Configf("--list cannot be used with explicit files")
		}
		return resolve.Request{
			Mode:         resolve.ExplicitPair,
			StrippedPath: args[0],
			DebugPath:    args[1],
			Options:      opts,
		}, nil
	}
	return resolve.Request{
		Mode:     resolve.Discovery,
		Source:   src,
		Patterns: args,
		Options:  opts,
	}, nil
}

func (cfg *Config) print(w io.Writer, entries []resolve.Entry) error {
	switch {
	case cfg.JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case cfg.List:
		st := plainStyles()
		if isTerminal(w) {
			st = termStyles()
		}
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, st.line(e)); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.BuildID); err != nil {
			return err
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func Execute() {
	root := NewRootCmd()

	// fang renders help and errors for people; pipes get plain cobra output.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := root.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
