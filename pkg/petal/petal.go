// Package petal compiles attribute-language XML templates into reusable
// render programs.
//
// A template document carries its logic in namespaced attributes: variable
// definitions, conditions, repeats, dynamic content and attributes, macros
// with slots, and translation markers. Compile parses the document, runs the
// interpolation preprocessor, translates the attributed tree into an
// executable program, and returns a Template that can be rendered any number
// of times, concurrently, against different variable bindings.
package petal

import (
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/expr"
	"github.com/petalhq/petal/pkg/petal/program"
	"github.com/petalhq/petal/pkg/petal/translate"
	"github.com/petalhq/petal/pkg/petal/xmlparse"
)

// Config controls one compilation.
type Config struct {
	// Params are the formal parameter names of the render function.
	Params []string
	// Macro narrows compilation to one named macro subtree.
	Macro string
	// DefaultExpression is the expression kind assumed without a prefix
	// ("path" when empty).
	DefaultExpression string
	// Filename annotates errors; it has no I/O meaning here.
	Filename string
}

// Template is a compiled template. Templates are immutable and safe for
// concurrent rendering.
type Template struct {
	prog   *program.Program
	macros []string
	source []byte
	config Config
}

// Compile builds a template from document source.
func Compile(source []byte, config Config) (*Template, error) {
	engine := expr.New(config.DefaultExpression)

	tree, err := xmlparse.New(engine).Parse(source)
	if err != nil {
		return nil, annotate(err, config.Filename)
	}

	var macros []string
	tree.Walk(tree.Root, func(id int) bool {
		if m := tree.Node(id).D.Method; m != nil {
			macros = append(macros, m.Name)
		}
		return true
	})

	prog, err := translate.TranslateTree(tree, translate.Options{
		Params: config.Params,
		Macro:  config.Macro,
		Engine: engine,
	})
	if err != nil {
		return nil, annotate(err, config.Filename)
	}

	return &Template{
		prog:   prog,
		macros: macros,
		source: source,
		config: config,
	}, nil
}

// CompileString is Compile over string source.
func CompileString(source string, config Config) (*Template, error) {
	return Compile([]byte(source), config)
}

func annotate(err error, filename string) error {
	if filename == "" {
		return err
	}
	if te, ok := err.(*perrors.TemplateError); ok {
		return te.WithFile(filename)
	}
	return err
}

// Render executes the template against a context and variable bindings.
// A nil context renders without a translation catalog.
func (t *Template) Render(ctx *program.Context, vars map[string]any) (string, error) {
	out, err := t.prog.Render(ctx, vars)
	if err != nil {
		return "", annotate(err, t.config.Filename)
	}
	return out, nil
}

// Code returns the emitted render-program text, mostly useful for
// inspection and debugging.
func (t *Template) Code() string { return t.prog.Code }

// Params returns the declared formal parameters.
func (t *Template) Params() []string { return t.prog.Params }

// Selectors returns the free-variable names the template captured during
// compilation. They are bound from the render variables when present.
func (t *Template) Selectors() []string { return t.prog.Selectors }

// Macros lists the macro names the source document defines, in document
// order.
func (t *Template) Macros() []string {
	return append([]string(nil), t.macros...)
}

// Macro compiles the named macro subtree into its own template.
func (t *Template) Macro(name string) (*Template, error) {
	config := t.config
	config.Macro = name
	return Compile(t.source, config)
}
