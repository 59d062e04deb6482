// internal/errors/errors.go
package errors

import (
	"fmt"
	"strings"
)

// Status is a runtime status code. The set is closed: embedders switch on
// these values, so new codes only ever append at the end.
type Status int

const (
	Ok Status = iota
	BadArg
	BadCompare
	StackOverflow
	FrameOverflow
	ArgcMismatch
	ArgcMin
	BadBinop
	UndefinedProperty
	BadPropertyAccess
	BadInherit
	FixedAssign
	UndefinedGlobal
	GlobalRedef
	BadDisplay
	NotCallable
)

var statusNames = [...]string{
	Ok:                "ok",
	BadArg:            "invalid argument",
	BadCompare:        "invalid comparison",
	StackOverflow:     "stack overflow",
	FrameOverflow:     "call frame overflow",
	ArgcMismatch:      "argument count does not match function arity",
	ArgcMin:           "argument count is smaller than function arity",
	BadBinop:          "binary operator error",
	UndefinedProperty: "undefined property",
	BadPropertyAccess: "invalid property access",
	BadInherit:        "inheriting from non-class value",
	FixedAssign:       "assigning to fixed value",
	UndefinedGlobal:   "undefined global variable",
	GlobalRedef:       "redefinition of global variable",
	BadDisplay:        "display method returned invalid value",
	NotCallable:       "tried calling non-callable value",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// NoLexeme marks a diagnostic produced by the scanner itself; the lexeme is
// not echoed back for those. End-of-input diagnostics instead carry an empty
// lexeme and render as "at end".
const NoLexeme = "\x00"

// SyntaxError is a single compile-time diagnostic.
type SyntaxError struct {
	Line    int
	Lexeme  string
	Message string
}

func (e *SyntaxError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[line %d] Error", e.Line)
	if e.Lexeme == "" {
		sb.WriteString(" at end")
	} else if e.Lexeme != NoLexeme {
		fmt.Fprintf(&sb, " at '%s'", e.Lexeme)
	}
	fmt.Fprintf(&sb, ": %s", e.Message)
	return sb.String()
}

// CompileError aggregates every diagnostic of one compilation unit.
type CompileError struct {
	Errors []*SyntaxError
}

func (e *CompileError) Error() string {
	lines := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		lines[i] = se.Error()
	}
	return strings.Join(lines, "\n")
}

// TraceFrame is one line of a runtime stack trace, innermost first.
type TraceFrame struct {
	Script string // script or function name
	Line   int
	In     string // "script" or "name()"
}

func (f TraceFrame) String() string {
	return fmt.Sprintf("Skooma: ['%s' on line %d] in %s", f.Script, f.Line, f.In)
}

// RuntimeError carries the error message and the unwound trace.
type RuntimeError struct {
	Code    Status
	Message string
	Trace   []TraceFrame
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	sb.WriteString("Skooma: [runtime error]\n")
	sb.WriteString(e.Message)
	for _, f := range e.Trace {
		sb.WriteString("\n")
		sb.WriteString(f.String())
	}
	return sb.String()
}
