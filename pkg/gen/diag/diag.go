// Package diag implements the shared diagnostic sink used by the
// generators. Errors are classified as syntax, semantic or internal;
// warnings are counted separately and are never fatal.
package diag

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
)

// Error classes
type Class int

const (
	ClassSyntax Class = iota
	ClassSemantic
	ClassInternal
)

// Returns the printable name of the error class
func (c Class) String() string {
	switch c {
	case ClassSyntax:
		return "syntax error"
	case ClassSemantic:
		return "error"
	case ClassInternal:
		return "internal error"
	}
	return "error"
}

// Severity colors
var (
	errorColor    = color.New(color.FgRed, color.Bold)
	warningColor  = color.New(color.FgYellow, color.Bold)
	locationColor = color.New(color.FgCyan)
)

// Pos locates a token in a source file. A zero Line means the token is
// unknown and only the file name is reported.
type Pos struct {
	File string
	Line int
	Col  int
}

// Returns the canonical file:line:col rendering of the position
func (p Pos) String() string {
	if p.Line == 0 {
		return p.File
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Sink accumulates diagnostics for one generator run. The drivers poll
// HasError after each phase and abort emission when it is set.
type Sink struct {
	out    io.Writer
	logger *slog.Logger

	fileStack []string

	syntaxCount   int
	semanticCount int
	internalCount int
	warningCount  int
}

// NewSink creates a sink writing human-readable diagnostics to out and
// mirroring them to the given logger.
func NewSink(out io.Writer, logger *slog.Logger) *Sink {
	if out == nil {
		out = os.Stderr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{out: out, logger: logger}
}

// PushFile enters a new current-file context, used while expanding
// includes so that diagnostics without a token still name a file.
func (s *Sink) PushFile(name string) {
	s.fileStack = append(s.fileStack, name)
}

// PopFile restores the previous current-file context.
func (s *Sink) PopFile() {
	if len(s.fileStack) > 0 {
		s.fileStack = s.fileStack[:len(s.fileStack)-1]
	}
}

// CurrentFile returns the innermost file context, or "" when none.
func (s *Sink) CurrentFile() string {
	if len(s.fileStack) == 0 {
		return ""
	}
	return s.fileStack[len(s.fileStack)-1]
}

// Errorf records an error of the given class at pos. When pos carries
// no file the current file context is substituted.
func (s *Sink) Errorf(class Class, pos Pos, format string, args ...any) {
	switch class {
	case ClassSyntax:
		s.syntaxCount++
	case ClassSemantic:
		s.semanticCount++
	case ClassInternal:
		s.internalCount++
	}

	msg := fmt.Sprintf(format, args...)
	s.emit(errorColor, class.String(), pos, msg)
	s.logger.Error(msg, "class", class.String(), "pos", s.resolve(pos).String())
}

// Warningf records a warning at pos. Warnings never affect HasError.
func (s *Sink) Warningf(pos Pos, format string, args ...any) {
	s.warningCount++
	msg := fmt.Sprintf(format, args...)
	s.emit(warningColor, "warning", pos, msg)
	s.logger.Warn(msg, "pos", s.resolve(pos).String())
}

func (s *Sink) resolve(pos Pos) Pos {
	if pos.File == "" {
		pos.File = s.CurrentFile()
	}
	return pos
}

func (s *Sink) emit(severity *color.Color, label string, pos Pos, msg string) {
	pos = s.resolve(pos)
	fmt.Fprintf(s.out, "%s: %s: %s\n",
		locationColor.Sprint(pos.String()), severity.Sprint(label), msg)
}

// HasError reports whether any error of any class has been recorded.
func (s *Sink) HasError() bool {
	return s.syntaxCount+s.semanticCount+s.internalCount > 0
}

// ErrorCount returns the total number of errors across all classes.
func (s *Sink) ErrorCount() int {
	return s.syntaxCount + s.semanticCount + s.internalCount
}

// SyntaxErrorCount returns the number of syntax errors recorded.
func (s *Sink) SyntaxErrorCount() int { return s.syntaxCount }

// SemanticErrorCount returns the number of semantic errors recorded.
func (s *Sink) SemanticErrorCount() int { return s.semanticCount }

// InternalErrorCount returns the number of internal errors recorded.
func (s *Sink) InternalErrorCount() int { return s.internalCount }

// WarningCount returns the number of warnings recorded.
func (s *Sink) WarningCount() int { return s.warningCount }
