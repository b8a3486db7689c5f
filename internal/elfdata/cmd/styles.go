package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"

	"elfdata/internal/resolve"
)

type listStyles struct {
	color                      bool
	addr, id, file, name, none lipgloss.Style
}

func plainStyles() listStyles {
	return listStyles{}
}

func termStyles() listStyles {
	return listStyles{
		color: true,
		addr: lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Squid.Hex())),
		id:   lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Charple.Hex())), // Purple for build IDs
		file: lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Malibu.Hex())),
		name: lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Guac.Hex())).Bold(true),
		none: lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Charcoal.Hex())),
	}
}

// line formats one module the way unstrip -n does:
// START+SIZE BUILDID FILE DEBUGFILE NAME, with "-" for anything missing and
// "." for a debug file that is the binary itself.
func (st listStyles) line(e resolve.Entry) string {
	render := func(s string, style lipgloss.Style) string {
		if !st.color {
			return s
		}
		return style.Render(s)
	}
	field := func(s string, style lipgloss.Style) string {
		if s == "" {
			return render("-", st.none)
		}
		return render(s, style)
	}
	debug := field(e.Debug, st.file)
	if e.Debug != "" && e.Debug == e.File {
		debug = render(".", st.none)
	}
	return fmt.Sprintf("%s %s %s %s %s",
		render(fmt.Sprintf("%#x+%#x", e.Start, e.End-e.Start), st.addr),
		field(e.BuildID, st.id),
		field(e.File, st.file),
		debug,
		field(e.Name, st.name),
	)
}
