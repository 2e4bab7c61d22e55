// Package expr implements the expression-language collaborator of the petal
// compiler.
//
// The compiler proper treats expressions as opaque handles (types.Expression)
// and never inspects their structure. This package provides the reference
// engine: path traversal expressions, string templates, negation and
// existence tests, with "|" alternation compiling to an ordered fallback list
// (types.Parts).
package expr

import (
	"fmt"
	"strconv"
	"strings"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/types"
)

// Engine compiles directive expression text into expression results.
type Engine struct {
	// Default is the expression kind assumed when no "kind:" prefix is
	// present ("path" unless configured otherwise).
	Default string
}

// New creates an engine with the given default expression kind.
func New(defaultKind string) *Engine {
	if defaultKind == "" {
		defaultKind = "path"
	}
	return &Engine{Default: defaultKind}
}

// Compile turns raw directive text into an expression result. Alternation
// with "|" yields a Parts list: later candidates are fallbacks tried only
// when an earlier one fails with a recoverable evaluation error.
func (e *Engine) Compile(text string) (types.Result, error) {
	candidates := splitAlternatives(text)
	results := make([]types.Result, 0, len(candidates))
	for _, candidate := range candidates {
		r, err := e.compileOne(strings.TrimSpace(candidate))
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return types.Parts{Candidates: results}, nil
}

// CompileExpression compiles text that must denote a single expression
// handle (no alternation), used where the compiler needs a bare handle.
func (e *Engine) CompileExpression(text string) (types.Expression, error) {
	if len(splitAlternatives(text)) > 1 {
		return nil, perrors.Compile("EXPR-0003",
			"expression %q does not compile to a single handle", text)
	}
	r, err := e.compileOne(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}
	v, ok := r.(types.Value)
	if !ok {
		return nil, perrors.Compile("EXPR-0003",
			"expression %q does not compile to a single handle", text)
	}
	return v.X, nil
}

func (e *Engine) compileOne(text string) (types.Result, error) {
	kind := e.Default
	if i := strings.Index(text, ":"); i > 0 && isKind(text[:i]) {
		kind = text[:i]
		text = strings.TrimSpace(text[i+1:])
	}

	switch kind {
	case "path":
		x, err := compilePath(text)
		if err != nil {
			return nil, err
		}
		return types.Value{X: x}, nil
	case "string":
		return e.compileString(text)
	case "not":
		inner, err := e.Compile(text)
		if err != nil {
			return nil, err
		}
		return Not(inner), nil
	case "exists":
		x, err := compilePath(text)
		if err != nil {
			return nil, err
		}
		return types.Value{X: &existsExpr{inner: x}}, nil
	default:
		return nil, perrors.Compile("EXPR-0001", "unknown expression kind %q", kind)
	}
}

func isKind(s string) bool {
	switch s {
	case "path", "string", "not", "exists":
		return true
	}
	return false
}

// CompileText compiles literal text with ${...} markers into a Join of
// literal and interpolated fragments. Document preprocessing uses it for
// attribute values and text nodes.
func (e *Engine) CompileText(text string) (types.Result, error) {
	return e.compileString(text)
}

// compileString turns a string: expression into a Join of literal text and
// interpolated sub-expressions. Marker expressions are paths regardless of
// the engine's configured default kind.
func (e *Engine) compileString(text string) (types.Result, error) {
	markers := e
	if e.Default != "path" {
		markers = New("path")
	}

	var fragments []types.Fragment
	rest := text
	for {
		m := Interpolate(rest)
		if m == nil {
			break
		}
		if m.Start > 0 {
			fragments = append(fragments, types.Text(rest[:m.Start]))
		}
		sub, err := markers.Compile(m.Expression)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, types.Dynamic(sub))
		rest = rest[m.End:]
	}
	if rest != "" {
		fragments = append(fragments, types.Text(rest))
	}
	if fragments == nil {
		fragments = []types.Fragment{types.Text("")}
	}
	return types.Join{Fragments: fragments}, nil
}

// Not negates a result. For a fallback list every candidate is negated in
// place, which preserves the fallback order.
func Not(r types.Result) types.Result {
	switch v := r.(type) {
	case types.Value:
		return types.Value{X: &notExpr{inner: v.X}}
	case types.Parts:
		out := make([]types.Result, len(v.Candidates))
		for i, c := range v.Candidates {
			out[i] = Not(c)
		}
		return types.Parts{Candidates: out}
	default:
		return types.Value{X: &notExpr{inner: &resultExpr{inner: r}}}
	}
}

// splitAlternatives splits on "|" outside quotes and braces.
func splitAlternatives(text string) []string {
	var out []string
	depth := 0
	quote := byte(0)
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '{' || c == '(':
			depth++
		case c == '}' || c == ')':
			depth--
		case c == '|' && depth == 0:
			out = append(out, text[start:i])
			start = i + 1
		}
	}
	out = append(out, text[start:])
	return out
}

// pathExpr traverses a slash-separated path rooted at a scope name.
type pathExpr struct {
	text     string
	segments []string
}

func compilePath(text string) (types.Expression, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, perrors.Compile("EXPR-0002", "empty path expression")
	}

	// literals
	if text == "nothing" || text == "nil" {
		return &literalExpr{text: text, value: nil}, nil
	}
	if text == "true" {
		return &literalExpr{text: text, value: true}, nil
	}
	if text == "false" {
		return &literalExpr{text: text, value: false}, nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &literalExpr{text: text, value: n}, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return &literalExpr{text: text, value: f}, nil
	}
	if len(text) >= 2 && text[0] == '\'' && text[len(text)-1] == '\'' {
		return &literalExpr{text: text, value: text[1 : len(text)-1]}, nil
	}

	segments := strings.Split(text, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, perrors.Compile("EXPR-0002", "empty segment in path %q", text)
		}
	}
	return &pathExpr{text: text, segments: segments}, nil
}

func (p *pathExpr) Text() string { return p.text }

// FreeNames reports the root name so the compiler can promote it to a
// selector when it is not bound in any scope.
func (p *pathExpr) FreeNames() []string { return p.segments[:1] }

func (p *pathExpr) Eval(scope types.Scope) (any, error) {
	value, ok := scope.Get(p.segments[0])
	if !ok {
		return nil, perrors.Undefined(p.segments[0])
	}
	for _, seg := range p.segments[1:] {
		next, err := traverse(value, seg)
		if err != nil {
			return nil, perrors.Wrap(err, perrors.ClassEval, "EVAL-0002",
				"cannot traverse %q in path %q", seg, p.text)
		}
		value = next
	}
	return value, nil
}

// literalExpr is a constant.
type literalExpr struct {
	text  string
	value any
}

func (l *literalExpr) Text() string                  { return l.text }
func (l *literalExpr) FreeNames() []string           { return nil }
func (l *literalExpr) Eval(types.Scope) (any, error) { return l.value, nil }

// notExpr negates the truth value of its inner expression.
type notExpr struct {
	inner types.Expression
}

func (n *notExpr) Text() string { return "not:" + n.inner.Text() }

func (n *notExpr) FreeNames() []string {
	if fn, ok := n.inner.(interface{ FreeNames() []string }); ok {
		return fn.FreeNames()
	}
	return nil
}

func (n *notExpr) Eval(scope types.Scope) (any, error) {
	value, err := n.inner.Eval(scope)
	if err != nil {
		return nil, err
	}
	return !Truthy(value), nil
}

// existsExpr reports whether its inner expression evaluates without error.
type existsExpr struct {
	inner types.Expression
}

func (x *existsExpr) Text() string { return "exists:" + x.inner.Text() }

func (x *existsExpr) FreeNames() []string {
	if fn, ok := x.inner.(interface{ FreeNames() []string }); ok {
		return fn.FreeNames()
	}
	return nil
}

func (x *existsExpr) Eval(scope types.Scope) (any, error) {
	if _, err := x.inner.Eval(scope); err != nil {
		return false, nil
	}
	return true, nil
}

// resultExpr adapts a nested Result to the Expression interface for negation
// of joins. Fallback candidates inside are not recoverable here.
type resultExpr struct {
	inner types.Result
}

func (r *resultExpr) Text() string { return fmt.Sprintf("%T", r.inner) }

func (r *resultExpr) Eval(scope types.Scope) (any, error) {
	return nil, perrors.Eval("cannot evaluate composite result directly")
}

// Truthy reports the truth value of a template value: nil, false, zero
// numbers, empty strings and empty collections are false.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
