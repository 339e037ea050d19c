// Package ui prints human-facing progress and status lines for the CLI.
// Log output goes through pkg/logger; this package only writes to the
// terminal the user is watching.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Styles for terminal output. lipgloss drops the colours when the writer is
// not a terminal.
var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	dim     = lipgloss.NewStyle().Faint(true)
)

// Printer writes styled status lines. A quiet printer only writes errors.
type Printer struct {
	w     io.Writer
	quiet bool
}

// NewPrinter creates a printer writing to w; a nil w means stderr
func NewPrinter(w io.Writer, quiet bool) *Printer {
	if w == nil {
		w = os.Stderr
	}
	return &Printer{w: w, quiet: quiet}
}

// Quiet reports whether only errors are printed
func (p *Printer) Quiet() bool {
	return p.quiet
}

// Writer returns the underlying writer
func (p *Printer) Writer() io.Writer {
	return p.w
}

// PrintError prints an error message in red. Errors are printed even when quiet.
func (p *Printer) PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(p.w, red.Render(msg))
}

// PrintSuccess prints a success message in green
func (p *Printer) PrintSuccess(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, green.Render(msg))
}

// PrintInfo prints a label and value
func (p *Printer) PrintInfo(label string, value string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, "%s: %s\n", cyan.Render(label), yellow.Render(value))
}

// PrintWarning prints a warning message in yellow
func (p *Printer) PrintWarning(msg string, args ...interface{}) {
	if p.quiet {
		return
	}
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(p.w, yellow.Render(msg))
}

// PrintHighlight prints a highlighted message in magenta
func (p *Printer) PrintHighlight(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, magenta.Render(msg))
}

// PrintDim prints secondary detail
func (p *Printer) PrintDim(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, dim.Render(msg))
}
