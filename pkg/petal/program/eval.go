package program

import (
	"errors"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
)

// frame is the flat local namespace of one program invocation. Compiled
// scope shadowing is expressed entirely in emitted save/restore assignments,
// so one namespace per call is sufficient.
type frame struct {
	vars map[string]any
	prog *Program
	ctx  *Context
}

// Get implements types.Scope for expression-handle evaluation.
func (f *frame) Get(name string) (any, bool) {
	v, ok := f.vars[name]
	return v, ok
}

func (f *frame) out() (*Buffer, error) {
	if b, ok := f.vars[f.prog.symbols.Out].(*Buffer); ok {
		return b, nil
	}
	return nil, perrors.New(perrors.ClassProgram, "PROG-0004", "no output buffer bound")
}

func (f *frame) exec(stmts []stmt) error {
	for _, s := range stmts {
		if err := f.execOne(s); err != nil {
			return err
		}
	}
	return nil
}

func (f *frame) execOne(s stmt) error {
	switch v := s.(type) {
	case *passStmt:
		return nil

	case *outStmt:
		b, err := f.out()
		if err != nil {
			return err
		}
		b.WriteString(v.text)
		return nil

	case *writeStmt:
		value, err := f.eval(v.value)
		if err != nil {
			return err
		}
		text := Coerce(value)
		if v.escape {
			text = EscapeText(text)
		}
		b, err := f.out()
		if err != nil {
			return err
		}
		b.WriteString(text)
		return nil

	case *assignStmt:
		value, err := f.eval(v.value)
		if err != nil {
			return err
		}
		if len(v.targets) == 1 {
			f.vars[v.targets[0]] = value
			return nil
		}
		return f.destructure(v.targets, value)

	case *indexAssignStmt:
		value, err := f.eval(v.value)
		if err != nil {
			return err
		}
		return f.setIndex(v.name, v.key, value)

	case *delStmt:
		if _, ok := f.vars[v.name]; !ok {
			return perrors.Undefined(v.name)
		}
		delete(f.vars, v.name)
		return nil

	case *delIndexStmt:
		container, ok := f.vars[v.name]
		if !ok {
			return perrors.Undefined(v.name)
		}
		switch c := container.(type) {
		case *Registry:
			c.Delete(v.key)
		case Mapping:
			delete(c, v.key)
		default:
			return perrors.New(perrors.ClassProgram, "PROG-0005",
				"cannot delete index on %T", container)
		}
		return nil

	case *tryStmt:
		if err := f.exec(v.body); err != nil {
			if !f.ctx.recoverable(err) {
				return err
			}
			return f.exec(v.handler)
		}
		return nil

	case *ifStmt:
		cond, err := f.eval(v.cond)
		if err != nil {
			return err
		}
		if truthy(cond) {
			return f.exec(v.body)
		}
		if v.hasElse {
			return f.exec(v.elseBody)
		}
		return nil

	case *whileStmt:
		for {
			cond, err := f.eval(v.cond)
			if err != nil {
				return err
			}
			if !truthy(cond) {
				return nil
			}
			if err := f.exec(v.body); err != nil {
				return err
			}
		}

	case *defStmt:
		f.vars[v.name] = &closure{def: v, prog: f.prog, ctx: f.ctx}
		return nil
	}

	return perrors.New(perrors.ClassProgram, "PROG-0006", "unknown statement %T", s)
}

// destructure assigns a sequence (or a buffer, which aliases itself) across
// multiple targets.
func (f *frame) destructure(targets []string, value any) error {
	if b, ok := value.(*Buffer); ok {
		for _, t := range targets {
			f.vars[t] = b
		}
		return nil
	}

	it, err := NewIterator(value)
	if err != nil {
		return err
	}
	if len(it.items) != len(targets) {
		return perrors.New(perrors.ClassType, "TYPE-0002",
			"cannot unpack %d values into %d names", len(it.items), len(targets))
	}
	for i, t := range targets {
		f.vars[t] = it.items[i]
	}
	return nil
}

func (f *frame) setIndex(name, key string, value any) error {
	container, ok := f.vars[name]
	if !ok {
		return perrors.Undefined(name)
	}
	switch c := container.(type) {
	case *Registry:
		it, ok := value.(*Iterator)
		if !ok {
			return perrors.New(perrors.ClassProgram, "PROG-0005",
				"repeat registry entries must be iterators, got %T", value)
		}
		c.Set(key, it)
	case Mapping:
		c[key] = value
	default:
		return perrors.New(perrors.ClassProgram, "PROG-0005",
			"cannot assign index on %T", container)
	}
	return nil
}

func (f *frame) eval(r rhsNode) (any, error) {
	switch v := r.(type) {
	case *nilLit:
		return nil, nil
	case *strLit:
		return v.s, nil
	case *mapLit:
		return Mapping{}, nil
	case *bufferOp:
		return NewBuffer(), nil

	case *varRef:
		value, ok := f.vars[v.name]
		if !ok {
			return nil, perrors.Undefined(v.name)
		}
		return value, nil

	case *exprRef:
		if v.n < 0 || v.n >= len(f.prog.exprs) {
			return nil, perrors.New(perrors.ClassProgram, "PROG-0007",
				"expression reference $%d out of range", v.n)
		}
		return f.prog.exprs[v.n].Eval(f)

	case *indexRef:
		container, ok := f.vars[v.name]
		if !ok {
			return nil, perrors.Undefined(v.name)
		}
		switch c := container.(type) {
		case *Registry:
			if state, ok := c.Item(v.key); ok {
				return state, nil
			}
			return nil, perrors.Undefined(v.key)
		case Mapping:
			return c[v.key], nil
		}
		return nil, perrors.New(perrors.ClassProgram, "PROG-0005",
			"cannot index %T", container)

	case *concatOp:
		var sb []byte
		for _, arg := range v.args {
			value, err := f.eval(arg)
			if err != nil {
				return nil, err
			}
			sb = append(sb, Coerce(value)...)
		}
		return string(sb), nil

	case *iterOp:
		value, err := f.eval(v.arg)
		if err != nil {
			return nil, err
		}
		return NewIterator(value)

	case *nextOp:
		value, ok := f.vars[v.name]
		if !ok {
			return nil, perrors.Undefined(v.name)
		}
		it, ok := value.(*Iterator)
		if !ok {
			return nil, perrors.New(perrors.ClassType, "TYPE-0003",
				"next on non-iterator %T", value)
		}
		return it.Next()

	case *getvalueOp:
		value, ok := f.vars[v.name]
		if !ok {
			return nil, perrors.Undefined(v.name)
		}
		b, ok := value.(*Buffer)
		if !ok {
			return nil, perrors.New(perrors.ClassType, "TYPE-0004",
				"getvalue on non-buffer %T", value)
		}
		return b.String(), nil

	case *escapeOp:
		value, err := f.eval(v.arg)
		if err != nil {
			return nil, err
		}
		if v.quote {
			return EscapeQuote(Coerce(value)), nil
		}
		return EscapeText(Coerce(value)), nil

	case *coerceOp:
		value, err := f.eval(v.arg)
		if err != nil {
			return nil, err
		}
		return Coerce(value), nil

	case *isOp:
		a, err := f.eval(v.a)
		if err != nil {
			return nil, err
		}
		b, err := f.eval(v.b)
		if err != nil {
			return nil, err
		}
		if v.negate {
			return a != b, nil
		}
		return a == b, nil

	case *translateOp:
		return f.translate(v)

	case *callOp:
		value, ok := f.vars[v.name]
		if !ok {
			return nil, perrors.Undefined(v.name)
		}
		cl, ok := value.(*closure)
		if !ok {
			return nil, perrors.New(perrors.ClassMacro, "MACRO-0002",
				"%q is not callable", v.name)
		}
		kwargs := make(map[string]any, len(v.kwargs))
		for _, kw := range v.kwargs {
			val, err := f.eval(kw.value)
			if err != nil {
				// macro arguments snapshot the caller's scope, which may
				// name selectors the caller never bound
				var te *perrors.TemplateError
				if !errors.As(err, &te) || te.Class != perrors.ClassUndefined {
					return nil, err
				}
				val = nil
			}
			kwargs[kw.name] = val
		}
		return cl.call(kwargs)
	}

	return nil, perrors.New(perrors.ClassProgram, "PROG-0006", "unknown expression %T", r)
}

func (f *frame) translate(op *translateOp) (any, error) {
	msg, err := f.eval(op.msg)
	if err != nil {
		return nil, err
	}

	evalKwarg := func(name string) (any, error) {
		node, ok := op.kwargs[name]
		if !ok {
			return nil, nil
		}
		return f.eval(node)
	}

	domain, err := evalKwarg("domain")
	if err != nil {
		return nil, err
	}
	mappingValue, err := evalKwarg("mapping")
	if err != nil {
		return nil, err
	}
	contextValue, err := evalKwarg("context")
	if err != nil {
		return nil, err
	}
	language, err := evalKwarg("target_language")
	if err != nil {
		return nil, err
	}
	deflt, err := evalKwarg("default")
	if err != nil {
		return nil, err
	}

	if f.ctx.Translate == nil {
		return deflt, nil
	}
	mapping, _ := mappingValue.(Mapping)
	return f.ctx.Translate(Coerce(msg), Coerce(domain), mapping, contextValue,
		Coerce(language), deflt), nil
}

// closure is a compiled macro: calling it renders the macro body into a
// fresh buffer and returns the text. Parameters default to nil unless
// noDefaults is set, which the top-level render call uses to leave absent
// selectors unbound.
type closure struct {
	def        *defStmt
	prog       *Program
	ctx        *Context
	noDefaults bool
}

func (c *closure) call(kwargs map[string]any) (any, error) {
	vars := make(map[string]any, len(kwargs)+len(c.def.params)+2)
	if !c.noDefaults {
		for _, p := range c.def.params {
			vars[p] = nil
		}
	}
	for k, v := range kwargs {
		vars[k] = v
	}

	buf := NewBuffer()
	vars[c.prog.symbols.Out] = buf
	vars[c.prog.symbols.Write] = buf

	sub := &frame{vars: vars, prog: c.prog, ctx: c.ctx}
	if err := sub.exec(c.def.body); err != nil {
		return nil, err
	}
	return buf.String(), nil
}

// truthy mirrors the expression engine's truth rules, extended with iterator
// exhaustion for loop conditions.
func truthy(value any) bool {
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
	case *Iterator:
		return v.More()
	case []any:
		return len(v) > 0
	case Mapping:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
