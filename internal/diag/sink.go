// Package diag implements the three-channel diagnostic sink the build
// core reports through: info (target transitions and chosen ordering),
// output (command stdout), and error (command stderr and scheduler
// errors).
//
// The console implementation serializes writes with a single mutex so
// concurrent workers never interleave mid-line, and gates color on
// whether the destination stream is actually a terminal.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ANSI color escapes.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

// Sink is the interface the scheduler and graph report diagnostics
// through. Info covers target state transitions and the chosen build
// order; Output carries one target's buffered stdout; Error covers
// scheduler-fatal conditions, parse errors, and per-target failure
// reasons.
type Sink interface {
	Info(format string, args ...any)
	Output(target string, text string)
	Error(format string, args ...any)
}

// Console is the default Sink: info and output go to one stream, errors to
// another, each independently colorized based on whether that specific
// stream is a terminal (they may be redirected independently, e.g. `pmk
// 2>build.log`).
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	errOut     io.Writer
	colorOut   bool
	colorError bool
	width      int
}

// NewConsole builds a Console writing info/output to out and errors to
// errOut. Color is decided per stream, since the two may be redirected
// independently (e.g. `pmk 2>build.log`).
func NewConsole(out, errOut *os.File) *Console {
	width, _, err := term.GetSize(int(out.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	return &Console{
		out:        out,
		errOut:     errOut,
		colorOut:   term.IsTerminal(int(out.Fd())),
		colorError: isatty.IsTerminal(errOut.Fd()) || isatty.IsCygwinTerminal(errOut.Fd()),
		width:      width,
	}
}

func (c *Console) paint(color, text string, enabled bool) string {
	if !enabled {
		return text
	}
	return color + text + ansiReset
}

// Info prints a build-progress line (state transitions, chosen order).
func (c *Console) Info(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(c.out, c.paint(ansiBlue, msg, c.colorOut))
}

// Output flushes one target's buffered stdout, each line prefixed with
// the target name. Buffering until the target finishes keeps its output
// contiguous even when several targets build at once.
func (c *Console) Output(target string, text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := c.paint(ansiBold+ansiGreen, target+": ", c.colorOut)
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintln(c.out, prefix+line)
	}
}

// Error prints a failure: a parse/graph error, or a target's failure
// reason, wrapped to the terminal width so long captured stderr blocks
// stay readable.
func (c *Console) Error(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	for _, line := range wrap(msg, c.width) {
		fmt.Fprintln(c.errOut, c.paint(ansiRed, line, c.colorError))
	}
}

// wrap breaks text into lines no longer than width, preserving existing
// newlines.
func wrap(text string, width int) []string {
	if width < 20 {
		width = 20
	}
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		line := raw
		for len(line) > width {
			cut := strings.LastIndex(line[:width], " ")
			if cut <= 0 {
				cut = width
			}
			out = append(out, line[:cut])
			line = strings.TrimLeft(line[cut:], " ")
		}
		out = append(out, line)
	}
	return out
}
