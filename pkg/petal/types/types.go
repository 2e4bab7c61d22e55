// Package types defines the expression-result model shared by the petal
// compiler packages.
//
// An expression engine hands the compiler opaque Expression handles; the
// compiler wraps them in Result values that describe how the final value is
// obtained: a single expression (Value), an ordered fallback list (Parts), a
// concatenation of typed fragments (Join), a code template resolved against
// the emission symbol table (Template), or an assignment target list
// (Declaration).
package types

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Scope is the name-lookup interface an Expression is evaluated against.
type Scope interface {
	Get(name string) (any, bool)
}

// Expression is an opaque handle produced by an expression engine. The
// compiler never inspects its structure; it only evaluates it at render time.
type Expression interface {
	// Eval evaluates the expression against a name scope.
	Eval(scope Scope) (any, error)
	// Text returns the source text for diagnostics.
	Text() string
}

// Result is the tagged union of expression results. The set is closed:
// Value, Parts, Join, Template, Escape.
type Result interface {
	resultNode()
}

// Value wraps a single already-valid expression handle.
type Value struct {
	X Expression
}

func (Value) resultNode() {}

// Parts is a non-empty ordered list of candidate results. Candidates after
// the first are fallbacks, tried only if all earlier ones raise a recoverable
// evaluation error. The last candidate is unconditional: its error always
// propagates.
type Parts struct {
	Candidates []Result
}

func (Parts) resultNode() {}

// NewParts wraps results in a Parts list. A single Result is still valid as
// a one-candidate list.
func NewParts(candidates ...Result) Parts {
	return Parts{Candidates: candidates}
}

// Fragment is one piece of a Join: either a literal (raw bytes with an
// optional source encoding) or a nested Result.
type Fragment struct {
	Literal  []byte
	Encoding encoding.Encoding // nil means the literal is already UTF-8
	Result   Result            // non-nil for dynamic fragments
}

// Text builds a UTF-8 literal fragment.
func Text(s string) Fragment {
	return Fragment{Literal: []byte(s)}
}

// Bytes builds a literal fragment carrying raw bytes in the given encoding.
func Bytes(b []byte, enc encoding.Encoding) Fragment {
	return Fragment{Literal: b, Encoding: enc}
}

// Dynamic builds a fragment whose value comes from a nested Result.
func Dynamic(r Result) Fragment {
	return Fragment{Result: r}
}

// Join is an ordered concatenation of fragments. Literal fragments are
// coerced to the output encoding (UTF-8) before concatenation so the final
// value has one consistent encoding.
type Join struct {
	Fragments []Fragment
}

func (Join) resultNode() {}

// Template is a code string with %(name)s placeholders resolved against the
// active symbol table at emission time. The resolved text must be valid
// render-program source.
type Template struct {
	Format string
}

func (Template) resultNode() {}

// Escape marks a result whose written value must be markup-escaped. The
// write clause treats any other result as structure (raw markup).
type Escape struct {
	Inner Result
}

func (Escape) resultNode() {}

// Declaration is an ordered list of assignment target names. More than one
// name selects destructuring assignment. Global declarations bind into the
// outermost scope and are not unwound at block end.
type Declaration struct {
	Names  []string
	Global bool
}

// Decode converts a literal fragment's bytes to a UTF-8 string, applying the
// fragment's source encoding when one is declared.
func (f Fragment) Decode() (string, error) {
	if f.Encoding == nil {
		return string(f.Literal), nil
	}
	out, err := f.Encoding.NewDecoder().Bytes(f.Literal)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// UTF8 is the declared output encoding of compiled templates.
var UTF8 = unicode.UTF8
