package program

import (
	"errors"
	"io"

	"github.com/petalhq/petal/pkg/petal/codegen"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/types"
)

// TranslateFunc is the translation collaborator signature. A catalog miss is
// signalled by returning deflt unchanged; the compiled program compares the
// result against its sentinel marker by identity.
type TranslateFunc func(msgid, domain string, mapping Mapping, context any,
	targetLanguage string, deflt any) any

// Context is the runtime context one render call executes against. A zero
// Context renders with no translation catalog and default error recovery.
type Context struct {
	// Translate resolves message ids; nil means every lookup misses.
	Translate TranslateFunc
	// Domain is the initial i18n domain.
	Domain string
	// Language is the target language passed to Translate.
	Language string
	// Recover decides which evaluation errors a fallback guard absorbs.
	// nil recovers expression evaluation and name-lookup errors only.
	Recover func(error) bool
}

func (c *Context) recoverable(err error) bool {
	if c.Recover != nil {
		return c.Recover(err)
	}
	var te *perrors.TemplateError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Class {
	case perrors.ClassEval, perrors.ClassUndefined:
		return true
	}
	return false
}

// Program is a compiled template artifact. Programs are immutable after New
// and safe to share between concurrent renders: every Render call gets its
// own locals, output buffer and repeat registry.
type Program struct {
	// Code is the emitted render-program text.
	Code string
	// Params are the declared formal parameters.
	Params []string
	// Selectors are the captured free variables promoted to parameters.
	Selectors []string

	symbols codegen.Symbols
	exprs   []types.Expression
	render  *defStmt
}

// New parses emitted code into an executable program. The code must contain
// a single top-level render function definition.
func New(code string, exprs []types.Expression, symbols codegen.Symbols,
	params, selectors []string) (*Program, error) {

	p := &parser{lines: splitLines(code)}
	stmts, err := p.parseBlock(0)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.lines) {
		return nil, progError(p.lines[p.pos], "trailing statements outside render function")
	}

	var render *defStmt
	for _, s := range stmts {
		if d, ok := s.(*defStmt); ok && d.name == "render" {
			render = d
			break
		}
	}
	if render == nil {
		return nil, perrors.New(perrors.ClassProgram, "PROG-0008",
			"emitted code has no render function")
	}

	return &Program{
		Code:      code,
		Params:    params,
		Selectors: selectors,
		symbols:   symbols,
		exprs:     exprs,
		render:    render,
	}, nil
}

// Requires returns the reserved runtime names the artifact expects bound at
// call time (auxiliary collaborator references).
func (p *Program) Requires() []string {
	return p.symbols.Reserved()
}

// Render executes the program against a context and variable bindings,
// returning the produced markup.
func (p *Program) Render(ctx *Context, vars map[string]any) (string, error) {
	if ctx == nil {
		ctx = &Context{}
	}

	symbols := p.symbols
	kwargs := make(map[string]any, len(vars)+8)
	// declared formal parameters default to nil; captured selectors stay
	// unbound when absent so fallback alternatives can recover the lookup
	for _, param := range p.Params {
		kwargs[param] = nil
	}
	for k, v := range vars {
		kwargs[k] = v
	}

	kwargs[symbols.Repeat] = NewRegistry()
	kwargs[symbols.Marker] = NewMarker()
	if _, ok := vars[symbols.Domain]; !ok {
		kwargs[symbols.Domain] = ctx.Domain
	}
	kwargs[symbols.Language] = ctx.Language
	if _, ok := vars[symbols.Context]; !ok {
		kwargs[symbols.Context] = ctx
	}
	kwargs[symbols.Scope] = Mapping(kwargs)

	cl := &closure{def: p.render, prog: p, ctx: ctx, noDefaults: true}
	out, err := cl.call(kwargs)
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// RenderTo renders into a write sink.
func (p *Program) RenderTo(w io.Writer, ctx *Context, vars map[string]any) error {
	out, err := p.Render(ctx, vars)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}
