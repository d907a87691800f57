// Package output renders correlation reports. It renders exactly what
// the correlator produced: no re-filtering, no re-ordering.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/minerops/stratum-counter/pkg/correlate"
)

// Color definitions (bright/high-intensity variants)
var (
	headerColor    = color.New(color.FgHiYellow, color.Bold)
	containerColor = color.New(color.FgHiGreen, color.Bold)
	idColor        = color.New(color.FgHiCyan)
	stateColor     = color.New(color.FgHiMagenta)
	separatorColor = color.New(color.FgHiBlack)
)

const ruleWidth = 56

// Printer renders a report as plain text.
type Printer struct {
	w       io.Writer
	colored bool
}

type PrintOption func(*Printer)

// NewPrinter creates a new text Printer.
func NewPrinter(w io.Writer, opts ...PrintOption) *Printer {
	p := &Printer{
		w:       w,
		colored: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithColors enables or disables colored output.
func WithColors(colored bool) PrintOption {
	return func(p *Printer) {
		p.colored = colored
	}
}

// Print renders the report. The format is a stable contract: header line
// naming the filtered port, then one block per container (name, id,
// connection count, one line per connection), separated by rule lines.
func (p *Printer) Print(report *correlate.Report) {
	p.printf(headerColor, "TCP connections on port %d (%s)\n", report.Port, report.State)
	p.rule()

	if len(report.Entries) == 0 {
		fmt.Fprintln(p.w, "no containers with matching connections")
		return
	}

	for _, entry := range report.Entries {
		p.printf(containerColor, "%s", entry.Container.Name)
		fmt.Fprint(p.w, " (")
		p.printf(idColor, "%s", entry.Container.ID)
		fmt.Fprintln(p.w, ")")

		word := "connections"
		if len(entry.Connections) == 1 {
			word = "connection"
		}
		fmt.Fprintf(p.w, "  %d %s\n", len(entry.Connections), word)

		for _, conn := range entry.Connections {
			fmt.Fprintf(p.w, "  %s:%d <- %s:%d  ",
				conn.LocalAddr, conn.LocalPort, conn.RemoteAddr, conn.RemotePort)
			p.printf(stateColor, "%s", conn.State)
			fmt.Fprintln(p.w)
		}

		p.rule()
	}
}

func (p *Printer) rule() {
	p.printf(separatorColor, "%s\n", strings.Repeat("-", ruleWidth))
}

func (p *Printer) printf(c *color.Color, format string, args ...any) {
	if p.colored {
		c.Fprintf(p.w, format, args...)
		return
	}
	fmt.Fprintf(p.w, format, args...)
}
