package translate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/petalhq/petal/pkg/petal/clauses"
	"github.com/petalhq/petal/pkg/petal/codegen"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/expr"
	"github.com/petalhq/petal/pkg/petal/types"
)

// Translator walks an attributed tree and emits a clause sequence per node
// through one code emission stream.
type Translator struct {
	tree    *Tree
	engine  *expr.Engine
	symbols codegen.Symbols
}

// NewTranslator builds a translator over a tree. The engine compiles
// expressions injected during interpolation preprocessing.
func NewTranslator(tree *Tree, engine *expr.Engine, symbols codegen.Symbols) *Translator {
	return &Translator{tree: tree, engine: engine, symbols: symbols}
}

func (t *Translator) nodeError(id int, err *perrors.TemplateError) error {
	n := t.tree.Node(id)
	return err.WithNode(n.Tag, "").WithPosition(n.Line, n.Col)
}

// visit translates one node: one scope frame, all clause begins in order,
// the node body, all clause ends in reverse order. Macro bodies are skipped
// unless visited through direct invocation (skipMacro false).
func (t *Translator) visit(id int, w *codegen.Writer, skipMacro bool) error {
	return t.visitNode(id, w, skipMacro, false)
}

// visitCapture renders a node into a capture buffer. The node's tail belongs
// to the surrounding document, not the captured text, so the deferred tail
// clause is suppressed.
func (t *Translator) visitCapture(id int, w *codegen.Writer) error {
	return t.visitNode(id, w, false, true)
}

func (t *Translator) visitNode(id int, w *codegen.Writer, skipMacro, capture bool) error {
	n := t.tree.Node(id)
	if skipMacro && n.D.Method != nil {
		return nil
	}

	w.PushScope()
	defer w.PopScope()

	cs, err := t.serialize(id, w, capture)
	if err != nil {
		return err
	}

	for _, c := range cs {
		if err := c.Begin(w); err != nil {
			return err
		}
	}

	if !t.skipBody(id, w) {
		for _, child := range n.Children {
			if err := t.visit(child, w, true); err != nil {
				return err
			}
		}
	}

	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].End(w); err != nil {
			return err
		}
	}
	return nil
}

// skipBody reports whether the node's children are rendered by the node's
// own clauses (dynamic content, macro invocation, translated body) instead
// of the normal recursion.
func (t *Translator) skipBody(id int, w *codegen.Writer) bool {
	d := t.tree.Node(id).D
	if d.Content != nil || d.UseMacro != nil || d.Translate != nil {
		return true
	}
	if d.DefineSlot != "" && w.InScope(t.symbols.SlotPrefix+d.DefineSlot) {
		// slot was filled by the caller; captured text replaces the body
		return true
	}
	return false
}

// serialize produces the node's ordered clause sequence. The emission order
// is fixed: domain, defines, macro methods, deferred tail, condition,
// repeat, attributes, tag, literal text, then exactly one of dynamic
// content, macro invocation or translated body, then tag close.
func (t *Translator) serialize(id int, w *codegen.Writer, capture bool) ([]clauses.Clause, error) {
	n := t.tree.Node(id)
	d := n.D
	var cs []clauses.Clause

	// i18n domain
	if d.TranslationDomain != "" {
		cs = append(cs, clauses.NewDefine(
			types.Declaration{Names: []string{t.symbols.Domain}},
			types.Template{Format: strconv.Quote(d.TranslationDomain)}))
	}

	// variable definitions
	for _, def := range d.Define {
		cs = append(cs, clauses.NewDefine(def.Declaration, def.Expression))
	}

	// macro methods: materialize each child macro as a callable bound into
	// the enclosing scope. Slot variables are formal arguments so fills
	// resolve inside the body.
	for _, child := range n.Children {
		child := child
		macro := t.tree.Node(child).D.Method
		if macro == nil {
			continue
		}
		args := append([]string(nil), macro.Args...)
		for _, desc := range t.tree.Descendants(child) {
			if slot := t.tree.Node(desc).D.DefineSlot; slot != "" {
				args = append(args, t.symbols.SlotPrefix+slot)
			}
		}
		cs = append(cs,
			&clauses.Group{Clauses: []clauses.Clause{
				&clauses.Method{Name: t.symbols.Macro, Args: args},
				&clauses.Visit{Fn: func(w *codegen.Writer) error {
					return t.visit(child, w, false)
				}},
			}},
			clauses.NewDefine(
				types.Declaration{Names: []string{macro.Name}},
				types.Parts{Candidates: []types.Result{
					types.Template{Format: "%(macro)s"},
				}}))
	}

	// tag tail (deferred); a captured node's tail stays with the document
	if n.Tail != "" && d.FillSlot == "" && !capture {
		cs = append(cs, &clauses.Out{Text: n.Tail, Defer: true})
	}

	// condition
	if d.Condition != nil {
		cs = append(cs, clauses.NewCondition(d.Condition))
	}

	// repeat
	if d.Repeat != nil {
		cs = append(cs, &clauses.Repeat{
			Variable:   d.Repeat.Variable,
			Expression: d.Repeat.Expression,
		})
	}

	content := d.Content

	// macro slot definition: if the slot has been filled, the captured text
	// replaces the node's own body
	if d.DefineSlot != "" {
		variable := t.symbols.SlotPrefix + d.DefineSlot
		if w.InScope(variable) {
			content = types.Template{Format: variable}
		}
	}

	if d.Content != nil && len(n.Children) > 0 {
		return nil, t.nodeError(id, perrors.Compile("TR-0001",
			"content expression cannot be combined with element children"))
	}

	dynamic := content != nil || d.UseMacro != nil || d.Translate != nil

	// attributes: statics in source order are the base, dynamics overwrite
	// or add, translated attributes wrap either
	attrs, err := t.attributes(id)
	if err != nil {
		return nil, err
	}

	// tag
	if d.Omit == nil || !d.Omit.Always {
		selfclosing := n.Text == "" && !dynamic && len(n.Children) == 0
		tag := &clauses.Tag{
			Name:        n.Tag,
			Attributes:  attrs,
			Selfclosing: selfclosing,
			CDATA:       d.CDATA,
		}
		if d.Omit != nil {
			cs = append(cs, &clauses.Condition{
				Value:    expr.Not(d.Omit.Expression),
				Clauses:  []clauses.Clause{tag},
				Finalize: false,
			})
		} else {
			cs = append(cs, tag)
		}
	}

	// literal tag text, unless content is dynamic
	if n.Text != "" && !dynamic {
		cs = append(cs, &clauses.Out{Text: n.Text})
	}

	switch {
	case content != nil:
		if d.Translate != nil {
			if *d.Translate != "" {
				return nil, t.nodeError(id, perrors.Compile("TR-0002",
					"message id not allowed with dynamic content translation"))
			}
			cs = append(cs, &clauses.Translate{Value: content})
		} else {
			cs = append(cs, &clauses.Write{Value: content})
		}

	case d.UseMacro != nil:
		more, err := t.useMacro(id, w)
		if err != nil {
			return nil, err
		}
		cs = append(cs, more...)

	case d.Translate != nil:
		more, err := t.translateBody(id, *d.Translate)
		if err != nil {
			return nil, err
		}
		cs = append(cs, more...)
	}

	return cs, nil
}

// attributes assembles the tag's attribute list: static values first in
// source order, then dynamic and translated entries.
func (t *Translator) attributes(id int) ([]clauses.Attribute, error) {
	n := t.tree.Node(id)
	d := n.D

	dynamicNames := make(map[string]bool, len(d.DynamicAttrs))
	for _, da := range d.DynamicAttrs {
		if len(da.Declaration.Names) != 1 {
			return nil, t.nodeError(id, perrors.Compile("TR-0003",
				"tuple definitions in assignment clause are not supported"))
		}
		dynamicNames[da.Declaration.Names[0]] = true
	}

	translated := make(map[string]string, len(d.TranslatedAttrs))
	for _, ta := range d.TranslatedAttrs {
		translated[ta.Name] = ta.MsgID
	}

	var attrs []clauses.Attribute
	staticValues := make(map[string]string, len(n.Attrs))

	for _, a := range n.Attrs {
		staticValues[a.Name] = a.Value
		if dynamicNames[a.Name] {
			continue // dynamic expression overwrites the static entry
		}
		if msgid, ok := translated[a.Name]; ok {
			attrs = append(attrs, clauses.Attribute{
				Name:  a.Name,
				Value: t.translatedStatic(msgid, a.Value),
			})
			continue
		}
		attrs = append(attrs, clauses.Attribute{Name: a.Name, Literal: a.Value})
	}

	for _, da := range d.DynamicAttrs {
		name := da.Declaration.Names[0]
		value := da.Expression
		if msgid, ok := translated[name]; ok {
			if msgid != "" {
				return nil, t.nodeError(id, perrors.Compile("TR-0004",
					"message id not allowed in conjunction with a dynamic attribute"))
			}
			value = t.wrapTranslated(value)
		}
		attrs = append(attrs, clauses.Attribute{Name: name, Value: value})
	}

	// translated attributes with no static or dynamic value need an
	// explicit message id
	for _, ta := range d.TranslatedAttrs {
		_, isStatic := staticValues[ta.Name]
		if isStatic || dynamicNames[ta.Name] {
			continue
		}
		if ta.MsgID == "" {
			return nil, t.nodeError(id, perrors.Compile("TR-0005",
				"attribute %q must be static or dynamic when no message id is supplied", ta.Name))
		}
		attrs = append(attrs, clauses.Attribute{
			Name:  ta.Name,
			Value: translateCall(strconv.Quote(ta.MsgID), "nil", "nil"),
		})
	}

	return attrs, nil
}

// translatedStatic builds the attribute value for a static attribute under
// i18n translation: a non-empty message id falls back to the static value,
// an empty one uses the static value as its own message id.
func (t *Translator) translatedStatic(msgid, value string) types.Result {
	if msgid != "" {
		return translateCall(strconv.Quote(msgid), "nil", strconv.Quote(value))
	}
	return translateCall(strconv.Quote(value), "nil", strconv.Quote(value))
}

// wrapTranslated wraps a dynamic result so its evaluated value is passed
// through the translation collaborator, with the value itself as default.
func (t *Translator) wrapTranslated(r types.Result) types.Result {
	switch v := r.(type) {
	case types.Value:
		return types.Value{X: &translatedExpr{inner: v.X, symbols: t.symbols}}
	case types.Escape:
		return types.Escape{Inner: t.wrapTranslated(v.Inner)}
	case types.Parts:
		out := make([]types.Result, len(v.Candidates))
		for i, c := range v.Candidates {
			out[i] = t.wrapTranslated(c)
		}
		return types.Parts{Candidates: out}
	default:
		return r
	}
}

// useMacro emits slot capture groups and the macro invocation itself. Every
// name in scope travels into the macro as a keyword argument, plus one
// argument per captured slot.
func (t *Translator) useMacro(id int, w *codegen.Writer) ([]clauses.Clause, error) {
	d := t.tree.Node(id).D
	var cs []clauses.Clause
	var slots []string

	for _, desc := range t.tree.Descendants(id) {
		desc := desc
		fill := t.tree.Node(desc).D.FillSlot
		if fill == "" {
			continue
		}
		variable := t.symbols.SlotPrefix + fill
		slots = append(slots, variable)

		cs = append(cs, &clauses.Group{Clauses: []clauses.Clause{
			clauses.NewDefine(
				types.Declaration{Names: []string{t.symbols.Out, t.symbols.Write}},
				types.Template{Format: "buffer()"}),
			&clauses.Visit{Fn: func(w *codegen.Writer) error {
				return t.visitCapture(desc, w)
			}},
			clauses.NewAssign(types.Template{Format: "getvalue(%(out)s)"}, variable),
		}})
		w.Declare(variable)
	}

	cs = append(cs, clauses.NewAssign(d.UseMacro, t.symbols.Macro))

	var args []string
	for _, name := range w.ScopeNames() {
		args = append(args, fmt.Sprintf("%s=%s", name, name))
	}
	for _, slot := range slots {
		arg := fmt.Sprintf("%s=%s", slot, slot)
		if !contains(args, arg) {
			args = append(args, arg)
		}
	}

	cs = append(cs, &clauses.Write{Value: types.Template{
		Format: fmt.Sprintf("%s(%s)", t.symbols.Macro, strings.Join(args, ", ")),
	}})
	return cs, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// translateBody emits the translated-body protocol: capture each named
// child into the translation mapping, attempt catalog lookup against a
// sentinel default, and fall back to reproducing the literal content with
// the captured values substituted.
func (t *Translator) translateBody(id int, msgid string) ([]clauses.Clause, error) {
	n := t.tree.Node(id)
	var cs []clauses.Clause

	if msgid == "" {
		msgid = t.createMsgID(id)
	}

	var named []int
	for _, child := range n.Children {
		if t.tree.Node(child).D.TranslationName != "" {
			named = append(named, child)
		}
	}

	mapping := "nil"
	if len(named) > 0 {
		mapping = t.symbols.Mapping
		cs = append(cs, clauses.NewAssign(types.Template{Format: "{}"}, mapping))
	}

	for _, child := range named {
		child := child
		name := t.tree.Node(child).D.TranslationName
		cs = append(cs, &clauses.Group{Clauses: []clauses.Clause{
			clauses.NewDefine(
				types.Declaration{Names: []string{t.symbols.Out, t.symbols.Write}},
				types.Template{Format: "buffer()"}),
			&clauses.Visit{Fn: func(w *codegen.Writer) error {
				return t.visitCapture(child, w)
			}},
			clauses.NewAssign(
				types.Template{Format: "getvalue(%(out)s)"},
				fmt.Sprintf("%s[%q]", mapping, name)),
		}})
	}

	cs = append(cs, clauses.NewAssign(
		translateCall(strconv.Quote(msgid), mapping, "%(marker)s"),
		t.symbols.Result))

	// write the translation if the lookup succeeded, otherwise fall back to
	// the default rendition so a catalog miss never drops content
	cs = append(cs, &clauses.Condition{
		Value: types.Template{Format: "%(result)s is not %(marker)s"},
		Clauses: []clauses.Clause{
			&clauses.Write{Value: types.Template{Format: "%(result)s"}},
		},
		Finalize: true,
	})

	var fallback []clauses.Clause
	if n.Text != "" {
		fallback = append(fallback, &clauses.Out{Text: n.Text})
	}
	for _, child := range n.Children {
		name := t.tree.Node(child).D.TranslationName
		if name != "" {
			fallback = append(fallback, &clauses.Write{
				Value: types.Template{Format: fmt.Sprintf("%s[%q]", mapping, name)},
			})
			if tail := t.tree.Node(child).Tail; tail != "" {
				fallback = append(fallback, &clauses.Out{Text: tail})
			}
		} else {
			fallback = append(fallback, &clauses.Out{Text: t.tree.Markup(child)})
		}
	}
	if len(fallback) > 0 {
		cs = append(cs, &clauses.Else{Clauses: fallback})
	}

	return cs, nil
}

// createMsgID derives a message id from the node's literal content, with
// ${name} placeholders for each named child, whitespace trimmed and
// collapsed.
func (t *Translator) createMsgID(id int) string {
	n := t.tree.Node(id)
	var sb strings.Builder
	sb.WriteString(n.Text)

	for _, child := range n.Children {
		c := t.tree.Node(child)
		if c.D.TranslationName != "" {
			sb.WriteString("${" + c.D.TranslationName + "}")
			sb.WriteString(c.Tail)
		} else {
			sb.WriteString(t.tree.Markup(child))
		}
	}

	msgid := strings.TrimSpace(sb.String())
	msgid = strings.ReplaceAll(msgid, "\n", "")
	for strings.Contains(msgid, "  ") {
		msgid = strings.ReplaceAll(msgid, "  ", " ")
	}
	return msgid
}

// translateCall builds the canonical translation invocation template used
// throughout clause emission.
func translateCall(value, mapping, deflt string) types.Template {
	return types.Template{Format: fmt.Sprintf(
		"translate(%s, domain=%%(domain)s, mapping=%s, context=%%(context)s, target_language=%%(language)s, default=%s)",
		value, mapping, deflt)}
}
