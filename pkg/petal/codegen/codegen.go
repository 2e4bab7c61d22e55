// Package codegen implements the code emission stream used during template
// translation.
//
// A Writer owns all mutable translation state: the indentation level, the
// stack of variable scopes, the stack of allocated temporaries, the buffer of
// pending literal output ("cooking"), the symbol table of reserved runtime
// names, and the record of selectors (free variables the compiled program
// must receive as parameters). Clauses hold no state of their own; they emit
// through a Writer.
package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/petalhq/petal/pkg/petal/types"
)

// Symbols is the immutable table of reserved runtime names seeded into every
// compiled program. It is configuration: construct it once and pass it to
// NewWriter.
type Symbols struct {
	Out        string // output buffer
	Write      string // write function (alias of the buffer sink)
	Scope      string // current scope object
	Domain     string // active i18n domain
	Macro      string // macro-call temporary
	SlotPrefix string // prefix for captured slot values
	Mapping    string // translation mapping
	Result     string // translation result
	Marker     string // translation-miss sentinel
	Context    string // render context object
	Language   string // target language
	Generation string // runtime support module reference
	Repeat     string // repeat-descriptor registry
}

// DefaultSymbols returns the standard runtime name table.
func DefaultSymbols() Symbols {
	return Symbols{
		Out:        "_out",
		Write:      "_write",
		Scope:      "_scope",
		Domain:     "_domain",
		Macro:      "_metal",
		SlotPrefix: "_slot_",
		Mapping:    "_mapping",
		Result:     "_result",
		Marker:     "_marker",
		Context:    "_context",
		Language:   "_target_language",
		Generation: "_generation",
		Repeat:     "repeat",
	}
}

// Map returns the table as template substitution variables, keyed by the
// placeholder names used in types.Template formats.
func (s Symbols) Map() map[string]string {
	return map[string]string{
		"out":        s.Out,
		"write":      s.Write,
		"scope":      s.Scope,
		"domain":     s.Domain,
		"macro":      s.Macro,
		"slot":       s.SlotPrefix,
		"mapping":    s.Mapping,
		"result":     s.Result,
		"marker":     s.Marker,
		"context":    s.Context,
		"language":   s.Language,
		"generation": s.Generation,
		"repeat":     s.Repeat,
	}
}

// Reserved returns the names every compiled program has bound on entry.
func (s Symbols) Reserved() []string {
	return []string{s.Out, s.Write, s.Scope, s.Repeat, s.Marker, s.Domain, s.Language}
}

// scope is one frame of the variable-scope stack, insertion ordered so that
// emitted parameter lists are deterministic.
type scope struct {
	names []string
	set   map[string]bool
}

func newScope() *scope {
	return &scope{set: make(map[string]bool)}
}

func (s *scope) add(name string) {
	if !s.set[name] {
		s.set[name] = true
		s.names = append(s.names, name)
	}
}

func (s *scope) remove(name string) {
	if s.set[name] {
		delete(s.set, name)
		for i, n := range s.names {
			if n == name {
				s.names = append(s.names[:i], s.names[i+1:]...)
				break
			}
		}
	}
}

// Writer is the code emission stream. One Writer serves one compilation.
type Writer struct {
	symbols Symbols
	indentS string

	buf    strings.Builder
	indent int

	scopes []*scope
	temps  []string
	cooked []string // pending literal fragments

	exprs []types.Expression

	selectors []string
	selSet    map[string]bool
}

// NewWriter creates an emission stream with the given symbol table and
// starting indentation level.
func NewWriter(symbols Symbols, indent int) *Writer {
	w := &Writer{
		symbols: symbols,
		indentS: "\t",
		indent:  indent,
		selSet:  make(map[string]bool),
	}
	w.scopes = append(w.scopes, newScope())
	return w
}

// Symbols returns the writer's symbol table.
func (w *Writer) Symbols() Symbols { return w.symbols }

// WriteLine flushes pending literal output, then writes one statement line at
// the current indentation.
func (w *Writer) WriteLine(line string) {
	w.Cook()
	w.writeRaw(line)
}

// Linef is WriteLine with formatting.
func (w *Writer) Linef(format string, args ...any) {
	w.WriteLine(fmt.Sprintf(format, args...))
}

func (w *Writer) writeRaw(line string) {
	for i := 0; i < w.indent; i++ {
		w.buf.WriteString(w.indentS)
	}
	w.buf.WriteString(line)
	w.buf.WriteByte('\n')
}

// Out buffers a literal output fragment. Buffered fragments are emitted as a
// single out-statement at the next structural write or control boundary.
func (w *Writer) Out(s string) {
	if s != "" {
		w.cooked = append(w.cooked, s)
	}
}

// Cook flushes pending literal output. Must be called before any control-flow
// boundary so literal output keeps its position relative to dynamic output.
func (w *Writer) Cook() {
	if len(w.cooked) == 0 {
		return
	}
	literal := strings.Join(w.cooked, "")
	w.cooked = w.cooked[:0]
	w.writeRaw("out " + strconv.Quote(literal))
}

// Indent increases the block level by one.
func (w *Writer) Indent() {
	w.Cook()
	w.indent++
}

// Outdent decreases the block level by n. Pending literal output is flushed
// first so it cannot escape the block being closed.
func (w *Writer) Outdent(n int) {
	for i := 0; i < n; i++ {
		w.Cook()
		w.indent--
		if w.indent < 0 {
			panic("codegen: indentation underflow")
		}
	}
}

// Save allocates a fresh temporary name. Temporaries are strictly nested:
// every Save must be matched by a Restore in reverse order.
func (w *Writer) Save() string {
	name := fmt.Sprintf("_tmp%d", len(w.temps)+1)
	w.temps = append(w.temps, name)
	return name
}

// Restore releases the most recently saved temporary and returns its name.
func (w *Writer) Restore() string {
	if len(w.temps) == 0 {
		panic("codegen: temporary stack underflow")
	}
	name := w.temps[len(w.temps)-1]
	w.temps = w.temps[:len(w.temps)-1]
	return name
}

// TempDepth returns the current temporary-stack depth. Clauses use it to
// assert balance across begin/end.
func (w *Writer) TempDepth() int { return len(w.temps) }

// PushScope opens a new innermost variable scope.
func (w *Writer) PushScope() {
	w.scopes = append(w.scopes, newScope())
}

// PopScope closes the innermost variable scope.
func (w *Writer) PopScope() {
	if len(w.scopes) == 1 {
		panic("codegen: scope stack underflow")
	}
	w.scopes = w.scopes[:len(w.scopes)-1]
}

// Declare records name as bound in the innermost scope.
func (w *Writer) Declare(name string) {
	w.scopes[len(w.scopes)-1].add(name)
}

// DeclareOutermost records name as bound in the outermost scope, used for
// global definitions and reserved runtime names.
func (w *Writer) DeclareOutermost(name string) {
	w.scopes[0].add(name)
}

// Undeclare removes name from the innermost scope.
func (w *Writer) Undeclare(name string) {
	w.scopes[len(w.scopes)-1].remove(name)
}

// InInnermost reports whether name is bound in the innermost scope.
func (w *Writer) InInnermost(name string) bool {
	return w.scopes[len(w.scopes)-1].set[name]
}

// InOuter reports whether name is bound in any scope other than the
// innermost.
func (w *Writer) InOuter(name string) bool {
	for _, s := range w.scopes[:len(w.scopes)-1] {
		if s.set[name] {
			return true
		}
	}
	return false
}

// InScope reports whether name is bound in any scope.
func (w *Writer) InScope(name string) bool {
	for _, s := range w.scopes {
		if s.set[name] {
			return true
		}
	}
	return false
}

// ScopeNames returns every bound name, outermost first, in insertion order.
func (w *Writer) ScopeNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, s := range w.scopes {
		for _, n := range s.names {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// freeNamer is implemented by expression handles that can report the root
// names they reference, enabling selector capture.
type freeNamer interface {
	FreeNames() []string
}

// RegisterExpr adds an expression handle to the program's side table and
// returns its render-program reference ($N). Free names not bound in any
// scope are recorded as selectors.
func (w *Writer) RegisterExpr(x types.Expression) string {
	if fn, ok := x.(freeNamer); ok {
		for _, name := range fn.FreeNames() {
			w.UseName(name)
		}
	}
	w.exprs = append(w.exprs, x)
	return fmt.Sprintf("$%d", len(w.exprs)-1)
}

// UseName records a referenced name, promoting it to a selector when no
// enclosing scope binds it.
func (w *Writer) UseName(name string) {
	if w.InScope(name) || w.selSet[name] {
		return
	}
	w.selSet[name] = true
	w.selectors = append(w.selectors, name)
}

// Resolve substitutes %(name)s placeholders in a template against the symbol
// table.
func (w *Writer) Resolve(t types.Template) string {
	out := t.Format
	for key, name := range w.symbols.Map() {
		out = strings.ReplaceAll(out, "%("+key+")s", name)
	}
	return out
}

// Code returns the emitted program text. Pending literals are flushed first.
func (w *Writer) Code() string {
	w.Cook()
	return w.buf.String()
}

// Exprs returns the expression side table in registration order.
func (w *Writer) Exprs() []types.Expression {
	return w.exprs
}

// Selectors returns the captured free-variable names in first-use order.
func (w *Writer) Selectors() []string {
	return w.selectors
}
