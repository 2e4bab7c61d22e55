package translate

import (
	"github.com/petalhq/petal/pkg/petal/codegen"
	"github.com/petalhq/petal/pkg/petal/program"
	"github.com/petalhq/petal/pkg/petal/types"
)

// translatedExpr passes a dynamic attribute value through the translation
// collaborator at render time. The evaluated value doubles as message id and
// as default, so a catalog miss reproduces the value unchanged.
type translatedExpr struct {
	inner   types.Expression
	symbols codegen.Symbols
}

func (e *translatedExpr) Eval(scope types.Scope) (any, error) {
	value, err := e.inner.Eval(scope)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	ctxValue, _ := scope.Get(e.symbols.Context)
	ctx, ok := ctxValue.(*program.Context)
	if !ok || ctx.Translate == nil {
		return value, nil
	}

	msgid := program.Coerce(value)
	domain, _ := scope.Get(e.symbols.Domain)
	language, _ := scope.Get(e.symbols.Language)

	return ctx.Translate(msgid, program.Coerce(domain), nil, ctxValue,
		program.Coerce(language), value), nil
}

func (e *translatedExpr) Text() string { return e.inner.Text() }

func (e *translatedExpr) FreeNames() []string {
	if fn, ok := e.inner.(interface{ FreeNames() []string }); ok {
		return fn.FreeNames()
	}
	return nil
}
