// Package errors provides structured error types for the petal compiler.
//
// TemplateError is a unified error type covering compile-time and render-time
// failures with enough metadata (class, code, position, hints) for display
// and programmatic handling.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorClass categorizes errors for filtering and templating.
type ErrorClass string

const (
	ClassParse     ErrorClass = "parse"     // Document/directive syntax errors
	ClassCompile   ErrorClass = "compile"   // Translation hard errors
	ClassEval      ErrorClass = "eval"      // Expression evaluation errors
	ClassUndefined ErrorClass = "undefined" // Name not found
	ClassType      ErrorClass = "type"      // Value of the wrong kind
	ClassIO        ErrorClass = "io"        // File operations
	ClassMacro     ErrorClass = "macro"     // Macro resolution/invocation
	ClassProgram   ErrorClass = "program"   // Emitted render-program faults
)

// TemplateError represents any error from parsing, translation or rendering.
type TemplateError struct {
	Class   ErrorClass     `json:"class"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hints   []string       `json:"hints,omitempty"`
	Line    int            `json:"line"`   // 1-based (0 if unknown)
	Column  int            `json:"column"` // 1-based (0 if unknown)
	File    string         `json:"file,omitempty"`
	Node    string         `json:"node,omitempty"`      // offending element tag
	Attr    string         `json:"attribute,omitempty"` // offending directive attribute
	Data    map[string]any `json:"data,omitempty"`
	Wrapped error          `json:"-"`
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return e.String()
}

// Unwrap exposes the wrapped cause, if any.
func (e *TemplateError) Unwrap() error {
	return e.Wrapped
}

// String returns a single-line formatted representation.
func (e *TemplateError) String() string {
	var sb strings.Builder

	if e.File != "" {
		sb.WriteString(e.File)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d, column %d: ", e.Line, e.Column)
	}
	if e.Node != "" {
		sb.WriteString("<")
		sb.WriteString(e.Node)
		sb.WriteString(">")
		if e.Attr != "" {
			sb.WriteString(" ")
			sb.WriteString(e.Attr)
		}
		sb.WriteString(": ")
	}

	sb.WriteString(e.Message)

	for _, hint := range e.Hints {
		sb.WriteString("\n  ")
		sb.WriteString(hint)
	}

	return sb.String()
}

// PrettyString returns a multi-line representation for CLI display.
func (e *TemplateError) PrettyString() string {
	var sb strings.Builder

	switch e.Class {
	case ClassParse:
		sb.WriteString("Parse error")
	case ClassCompile, ClassMacro:
		sb.WriteString("Compile error")
	default:
		sb.WriteString("Render error")
	}

	if e.File != "" {
		sb.WriteString(":\n  in: ")
		sb.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&sb, "\n  at: line %d, column %d", e.Line, e.Column)
		}
		sb.WriteString("\n  ")
	} else if e.Line > 0 {
		fmt.Fprintf(&sb, ": line %d, column %d\n  ", e.Line, e.Column)
	} else {
		sb.WriteString(":\n  ")
	}

	if e.Node != "" {
		sb.WriteString("<")
		sb.WriteString(e.Node)
		sb.WriteString("> ")
	}
	sb.WriteString(e.Message)

	for i, hint := range e.Hints {
		sb.WriteString("\n  ")
		if i == 0 {
			sb.WriteString("Use: ")
		} else {
			sb.WriteString(" or: ")
		}
		sb.WriteString(hint)
	}

	return sb.String()
}

// ToJSON returns the error as JSON bytes.
func (e *TemplateError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WithFile returns a copy of the error with the file path set.
func (e *TemplateError) WithFile(file string) *TemplateError {
	copy := *e
	copy.File = file
	return &copy
}

// WithPosition returns a copy of the error with line and column set.
func (e *TemplateError) WithPosition(line, column int) *TemplateError {
	copy := *e
	copy.Line = line
	copy.Column = column
	return &copy
}

// WithNode returns a copy of the error annotated with element/attribute
// context.
func (e *TemplateError) WithNode(tag, attr string) *TemplateError {
	copy := *e
	copy.Node = tag
	copy.Attr = attr
	return &copy
}

// IsCompileError reports whether this error was raised during translation.
func (e *TemplateError) IsCompileError() bool {
	return e.Class == ClassCompile || e.Class == ClassParse || e.Class == ClassMacro
}

// New builds a TemplateError with a class, code and formatted message.
func New(class ErrorClass, code, format string, args ...any) *TemplateError {
	return &TemplateError{
		Class:   class,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Compile builds a compile-time hard error.
func Compile(code, format string, args ...any) *TemplateError {
	return New(ClassCompile, code, format, args...)
}

// Eval builds a render-time expression evaluation error. These are the only
// errors eligible for Parts fallback recovery by default.
func Eval(format string, args ...any) *TemplateError {
	return New(ClassEval, "EVAL-0001", format, args...)
}

// Undefined builds a name-not-found error.
func Undefined(name string) *TemplateError {
	e := New(ClassUndefined, "NAME-0001", "name %q is not defined", name)
	e.Data = map[string]any{"name": name}
	return e
}

// Wrap annotates err with a class and message while keeping it unwrappable.
func Wrap(err error, class ErrorClass, code, format string, args ...any) *TemplateError {
	e := New(class, code, format, args...)
	e.Wrapped = err
	return e
}
