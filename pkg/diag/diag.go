// Package diag defines the two error classes of the compiler: user-facing
// diagnostics, which point at a source position and abort the compilation,
// and internal faults, which indicate a bug in the compiler itself.
package diag

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/kirbyfan64/wit/pkg/token"
)

// Diagnostic is an error in the compiled program.
type Diagnostic struct {
	Line   int
	Column int
	Len    int
	Msg    string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Msg)
}

// Errorf raises a diagnostic at tok. It panics; the panic is recovered and
// converted to an error at the Compile boundary by Recover.
func Errorf(tok token.Token, format string, args ...interface{}) {
	panic(&Diagnostic{Line: tok.Line, Column: tok.Column, Len: tok.Len, Msg: fmt.Sprintf(format, args...)})
}

// Fault is an internal invariant violation. A Fault reaching the user means
// the compiler is broken, not the program being compiled.
type Fault struct {
	Msg string
}

func (f *Fault) Error() string {
	return "internal error: " + f.Msg
}

// Faultf raises a Fault. Like Errorf it panics.
func Faultf(format string, args ...interface{}) {
	panic(&Fault{Msg: fmt.Sprintf(format, args...)})
}

// Recover converts a panicking *Diagnostic or *Fault into *errp. Any other
// panic value is re-raised.
func Recover(errp *error) {
	switch v := recover().(type) {
	case nil:
	case *Diagnostic:
		*errp = v
	case *Fault:
		*errp = v
	default:
		panic(v)
	}
}

// Print renders err to stream. Diagnostics get the offending source line and
// a caret, with ANSI colors when the stream is a terminal.
func Print(stream *os.File, filename string, src []rune, err error) {
	colored := term.IsTerminal(int(stream.Fd()))
	red, green, reset := "", "", ""
	if colored {
		red, green, reset = "\033[31m", "\033[32m", "\033[0m"
	}

	d, ok := err.(*Diagnostic)
	if !ok {
		fmt.Fprintf(stream, "%s: %s%s%s\n", filename, red, err.Error(), reset)
		return
	}

	fmt.Fprintf(stream, "%s:%d:%d: %serror:%s %s\n", filename, d.Line, d.Column, red, reset, d.Msg)
	if d.Line == 0 {
		return
	}

	lineStart := 0
	lineNum := d.Line
	for i, r := range src {
		if lineNum <= 1 {
			break
		}
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}
	lineEnd := len(src)
	for i := lineStart; i < len(src); i++ {
		if src[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(stream, "  %s\n", string(src[lineStart:lineEnd]))
	fmt.Fprintf(stream, "  %s%s^", strings.Repeat(" ", d.Column-1), green)
	if d.Len > 1 {
		fmt.Fprint(stream, strings.Repeat("~", d.Len-1))
	}
	fmt.Fprintln(stream, reset)
}
