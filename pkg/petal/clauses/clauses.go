// Package clauses implements the intermediate representation of the petal
// compiler.
//
// A Clause contributes an opening fragment (Begin) and a matching closing
// fragment (End) to the emitted render program. The translator issues every
// Begin of a node's clause sequence in order, renders the node body, then
// issues the Ends in reverse order, so clause pairs always close LIFO.
// Clauses are values: all mutable emission state lives in codegen.Writer.
package clauses

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/petalhq/petal/pkg/petal/codegen"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/types"
)

// Clause is one emission unit with a begin/end contract.
type Clause interface {
	Begin(w *codegen.Writer) error
	End(w *codegen.Writer) error
}

// Assign emits code guaranteeing that a variable holds the result of the
// first candidate expression that evaluates without error, or the
// unconditional last one.
type Assign struct {
	Parts    types.Parts
	Variable string
}

// NewAssign wraps any result in a single- or multi-candidate assignment.
// Nested Parts candidates are flattened so the guard count stays n-1.
func NewAssign(r types.Result, variable string) *Assign {
	return &Assign{Parts: flatten(r), Variable: variable}
}

func flatten(r types.Result) types.Parts {
	parts, ok := r.(types.Parts)
	if !ok {
		return types.Parts{Candidates: []types.Result{r}}
	}
	var out []types.Result
	for _, c := range parts.Candidates {
		if nested, ok := c.(types.Parts); ok {
			out = append(out, flatten(nested).Candidates...)
		} else {
			out = append(out, c)
		}
	}
	return types.Parts{Candidates: out}
}

func (a *Assign) Begin(w *codegen.Writer) error {
	return a.BeginTo(w, a.Variable)
}

// BeginTo emits the assignment into an explicit target, used by clauses that
// assign into temporaries. The first n-1 candidates are wrapped in fallback
// guards; the last is emitted unguarded.
func (a *Assign) BeginTo(w *codegen.Writer, variable string) error {
	n := len(a.Parts.Candidates)
	if n == 0 {
		return perrors.Compile("IR-0001", "assignment with no candidate expressions")
	}

	for _, candidate := range a.Parts.Candidates[:n-1] {
		w.WriteLine("try:")
		w.Indent()
		if err := a.assign(w, variable, candidate); err != nil {
			return err
		}
		w.Outdent(1)
		w.WriteLine("except:")
		w.Indent()
	}

	if err := a.assign(w, variable, a.Parts.Candidates[n-1]); err != nil {
		return err
	}
	w.Outdent(n - 1)
	return nil
}

func (a *Assign) assign(w *codegen.Writer, variable string, r types.Result) error {
	switch v := r.(type) {
	case types.Value:
		w.Linef("%s = %s", variable, w.RegisterExpr(v.X))
	case types.Template:
		w.Linef("%s = %s", variable, w.Resolve(v))
	case types.Escape:
		return a.assign(w, variable, v.Inner)
	case types.Join:
		return a.assignJoin(w, variable, v)
	case types.Parts:
		sub := &Assign{Parts: flatten(v)}
		if err := sub.BeginTo(w, variable); err != nil {
			return err
		}
		return sub.End(w)
	default:
		return perrors.Compile("IR-0002", "cannot assign result of type %T", r)
	}
	return nil
}

// assignJoin assigns each non-trivial sub-term to a fresh temporary, then
// concatenates all fragments left-to-right into the target. Literal
// fragments are coerced to the output encoding first so the final value has
// one consistent encoding.
func (a *Assign) assignJoin(w *codegen.Writer, variable string, join types.Join) error {
	var atoms []string
	saved := 0

	for _, frag := range join.Fragments {
		if frag.Result == nil {
			text, err := frag.Decode()
			if err != nil {
				return perrors.Wrap(err, perrors.ClassCompile, "IR-0003",
					"cannot coerce literal fragment to output encoding")
			}
			atoms = append(atoms, strconv.Quote(text))
			continue
		}
		switch v := frag.Result.(type) {
		case types.Value:
			atoms = append(atoms, w.RegisterExpr(v.X))
		case types.Template:
			atoms = append(atoms, w.Resolve(v))
		default:
			temp := w.Save()
			saved++
			sub := NewAssign(frag.Result, temp)
			if err := sub.Begin(w); err != nil {
				return err
			}
			if err := sub.End(w); err != nil {
				return err
			}
			atoms = append(atoms, temp)
		}
	}

	w.Linef("%s = concat(%s)", variable, strings.Join(atoms, ", "))

	for i := 0; i < saved; i++ {
		w.Restore()
	}
	return nil
}

func (a *Assign) End(w *codegen.Writer) error { return nil }

// Define binds one or more names to an expression result for the lifetime of
// the enclosing block, then restores any prior binding of the same names. A
// name that was unbound before is explicitly unbound again on the way out.
type Define struct {
	Declaration types.Declaration
	Assign      *Assign
}

// NewDefine builds a definition of the declared names from one expression
// result.
func NewDefine(decl types.Declaration, r types.Result) *Define {
	return &Define{Declaration: decl, Assign: NewAssign(r, target(decl))}
}

func target(decl types.Declaration) string {
	return strings.Join(decl.Names, ", ")
}

func (d *Define) Begin(w *codegen.Writer) error {
	if d.Declaration.Global {
		for _, name := range d.Declaration.Names {
			w.DeclareOutermost(name)
		}
		return d.Assign.Begin(w)
	}

	for _, name := range d.Declaration.Names {
		temp := w.Save()
		if !w.InInnermost(name) {
			if w.InOuter(name) {
				w.Linef("%s = %s", temp, name)
			}
			w.Declare(name)
		}
	}
	return d.Assign.Begin(w)
}

func (d *Define) End(w *codegen.Writer) error {
	if err := d.Assign.End(w); err != nil {
		return err
	}
	if d.Declaration.Global {
		return nil
	}

	for i := len(d.Declaration.Names) - 1; i >= 0; i-- {
		name := d.Declaration.Names[i]
		temp := w.Restore()
		if !w.InInnermost(name) {
			continue
		}
		if w.InOuter(name) {
			w.Linef("%s = %s", name, temp)
			w.Undeclare(name)
		} else {
			w.Linef("del %s", name)
		}
	}
	return nil
}

// Condition guards emission on a boolean-result expression evaluated exactly
// once into a temporary.
//
// With Finalize set, the guarded clause list is opened and closed inside a
// single branch: nothing of the guard remains visible afterwards. With
// Finalize unset the guard closes after Begin and a second identical guard
// reopens around the clause Ends, so unguarded external writes can happen in
// between (conditional tag emission).
type Condition struct {
	Value    types.Result
	Clauses  []Clause
	Finalize bool
}

// NewCondition builds a finalizing condition guarding the node body.
func NewCondition(value types.Result) *Condition {
	return &Condition{Value: value, Finalize: true}
}

func (c *Condition) Begin(w *codegen.Writer) error {
	temp := w.Save()
	assign := NewAssign(c.Value, temp)
	if err := assign.BeginTo(w, temp); err != nil {
		return err
	}
	w.Linef("if %s:", temp)
	w.Indent()

	if c.Clauses != nil {
		for _, clause := range c.Clauses {
			if err := clause.Begin(w); err != nil {
				return err
			}
		}
		if c.Finalize {
			for i := len(c.Clauses) - 1; i >= 0; i-- {
				if err := c.Clauses[i].End(w); err != nil {
					return err
				}
			}
		}
		w.Outdent(1)
	}
	return nil
}

func (c *Condition) End(w *codegen.Writer) error {
	temp := w.Restore()

	if c.Clauses != nil {
		if !c.Finalize {
			w.Linef("if %s:", temp)
			w.Indent()
			for i := len(c.Clauses) - 1; i >= 0; i-- {
				if err := c.Clauses[i].End(w); err != nil {
					return err
				}
			}
			w.Outdent(1)
		}
		return nil
	}

	w.Outdent(1)
	return nil
}

// Else pairs with the preceding Condition at the same clause-sequence
// position.
type Else struct {
	Clauses []Clause
}

func (e *Else) Begin(w *codegen.Writer) error {
	w.WriteLine("else:")
	w.Indent()
	if e.Clauses != nil {
		for _, clause := range e.Clauses {
			if err := clause.Begin(w); err != nil {
				return err
			}
		}
		for i := len(e.Clauses) - 1; i >= 0; i-- {
			if err := e.Clauses[i].End(w); err != nil {
				return err
			}
		}
		w.Outdent(1)
	}
	return nil
}

func (e *Else) End(w *codegen.Writer) error {
	if e.Clauses == nil {
		w.Outdent(1)
	}
	return nil
}

// Group opens and closes a clause list immediately: the grouped clauses form
// a self-contained block with no residue.
type Group struct {
	Clauses []Clause
}

func (g *Group) Begin(w *codegen.Writer) error {
	for _, clause := range g.Clauses {
		if err := clause.Begin(w); err != nil {
			return err
		}
	}
	for i := len(g.Clauses) - 1; i >= 0; i-- {
		if err := g.Clauses[i].End(w); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) End(w *codegen.Writer) error { return nil }

// Visit defers to the translator to render a subtree in place, used for
// macro bodies and slot capture.
type Visit struct {
	Fn func(w *codegen.Writer) error
}

func (v *Visit) Begin(w *codegen.Writer) error { return v.Fn(w) }
func (v *Visit) End(w *codegen.Writer) error   { return nil }

// Method opens a macro definition: a named function whose keyword arguments
// default to nil and whose body writes into a fresh output buffer.
type Method struct {
	Name string
	Args []string
}

func (m *Method) Begin(w *codegen.Writer) error {
	w.PushScope()
	for _, arg := range m.Args {
		w.Declare(arg)
	}
	w.Linef("def %s(%s):", m.Name, strings.Join(m.Args, ", "))
	w.Indent()
	return nil
}

func (m *Method) End(w *codegen.Writer) error {
	w.Outdent(1)
	w.PopScope()
	return nil
}

// Attribute is one tag attribute: either a literal (static) or an
// expression-valued (dynamic) entry. The translator orders statics in source
// order before dynamics.
type Attribute struct {
	Name    string
	Literal string       // used when Value is nil
	Value   types.Result // dynamic when non-nil
}

// Tag emits an opening tag with deterministic attribute ordering. Dynamic
// attributes are included only when their value is non-nil; values are
// coerced and escaped against the quote character. Self-closing tags emit no
// separate close fragment.
type Tag struct {
	Name        string
	Attributes  []Attribute
	Selfclosing bool
	CDATA       bool
}

func (t *Tag) Begin(w *codegen.Writer) error {
	w.Out("<" + t.Name)

	for _, attr := range t.Attributes {
		if attr.Value == nil {
			w.Out(fmt.Sprintf(` %s="%s"`, attr.Name, escapeAttr(attr.Literal)))
		}
	}

	temp := w.Save()
	for _, attr := range t.Attributes {
		if attr.Value == nil {
			continue
		}
		assign := NewAssign(attr.Value, temp)
		if err := assign.BeginTo(w, temp); err != nil {
			return err
		}
		w.Linef("if %s is not nil:", temp)
		w.Indent()
		w.Linef("write concat(%s, qescape(%s), %q)",
			strconv.Quote(" "+attr.Name+`="`), temp, `"`)
		w.Outdent(1)
		if err := assign.End(w); err != nil {
			return err
		}
	}
	w.Restore()

	if t.Selfclosing {
		w.Out(" />")
	} else {
		w.Out(">")
		if t.CDATA {
			w.Out("<![CDATA[")
		}
	}
	return nil
}

func (t *Tag) End(w *codegen.Writer) error {
	if t.Selfclosing {
		return nil
	}
	if t.CDATA {
		w.Out("]]>")
	}
	w.Out("</" + t.Name + ">")
	return nil
}

// escapeAttr escapes markup metacharacters and the quote character in static
// attribute values.
func escapeAttr(s string) string {
	return attrReplacer.Replace(s)
}

var attrReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// Repeat binds one loop variable per iteration over an iterable expression
// result and publishes a per-iteration repeat descriptor under the loop
// variable's name. The iterable is evaluated once; literal output is flushed
// at each iteration boundary; the descriptor is removed when the loop ends.
type Repeat struct {
	Variable   string
	Expression types.Result
}

func (r *Repeat) define() *Define {
	return NewDefine(
		types.Declaration{Names: []string{r.Variable}},
		types.Template{Format: "nil"},
	)
}

func (r *Repeat) Begin(w *codegen.Writer) error {
	iterator := w.Save()

	assign := NewAssign(r.Expression, iterator)
	if err := assign.BeginTo(w, iterator); err != nil {
		return err
	}
	if err := r.define().Begin(w); err != nil {
		return err
	}

	symbols := w.Symbols()
	w.Linef("%s = iter(%s)", iterator, iterator)
	w.Linef("%s[%q] = %s", symbols.Repeat, r.Variable, iterator)
	w.Linef("while %s:", iterator)
	w.Indent()
	w.Linef("%s = next(%s)", r.Variable, iterator)
	return nil
}

func (r *Repeat) End(w *codegen.Writer) error {
	// cook before leaving the loop
	w.Cook()
	w.Outdent(1)
	w.Linef("del %s[%q]", w.Symbols().Repeat, r.Variable)

	if err := r.define().End(w); err != nil {
		return err
	}
	w.Restore()
	return nil
}

// Write evaluates an expression result and streams it, raw for structure
// results and escaped for types.Escape results. A nil value renders as empty
// text.
type Write struct {
	Value types.Result
}

func (wr *Write) Begin(w *codegen.Writer) error {
	value := wr.Value
	structure := true
	if esc, ok := value.(types.Escape); ok {
		structure = false
		value = esc.Inner
	}

	temp := w.Save()
	if err := NewAssign(value, temp).BeginTo(w, temp); err != nil {
		return err
	}
	w.Linef("if %s is nil:", temp)
	w.Indent()
	w.Linef(`%s = ""`, temp)
	w.Outdent(1)

	if structure {
		w.Linef("write %s", temp)
	} else {
		w.Linef("echo %s", temp)
	}
	return nil
}

func (wr *Write) End(w *codegen.Writer) error {
	w.Restore()
	return nil
}

// Out emits a fixed literal string. In defer mode the literal is emitted at
// End instead of Begin, which places element tail text after the element's
// own block closes.
type Out struct {
	Text  string
	Defer bool
}

func (o *Out) Begin(w *codegen.Writer) error {
	if !o.Defer {
		w.Out(o.Text)
	}
	return nil
}

func (o *Out) End(w *codegen.Writer) error {
	if o.Defer {
		w.Out(o.Text)
	}
	return nil
}

// Translate emits dynamic content through the translation collaborator: the
// evaluated content doubles as message id and as the fallback default, so a
// catalog miss reproduces the content unchanged.
type Translate struct {
	Value types.Result
}

func (t *Translate) Begin(w *codegen.Writer) error {
	value := t.Value
	structure := true
	if esc, ok := value.(types.Escape); ok {
		structure = false
		value = esc.Inner
	}

	temp := w.Save()
	if err := NewAssign(value, temp).BeginTo(w, temp); err != nil {
		return err
	}
	w.Linef("if %s is nil:", temp)
	w.Indent()
	w.Linef(`%s = ""`, temp)
	w.Outdent(1)

	symbols := w.Symbols()
	w.Linef("%s = translate(%s, domain=%s, mapping=nil, context=%s, target_language=%s, default=%s)",
		temp, temp, symbols.Domain, symbols.Context, symbols.Language, temp)

	if structure {
		w.Linef("write %s", temp)
	} else {
		w.Linef("echo %s", temp)
	}
	return nil
}

func (t *Translate) End(w *codegen.Writer) error {
	w.Restore()
	return nil
}
