package translate

import (
	"fmt"
	"strings"

	"github.com/petalhq/petal/pkg/petal/codegen"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/expr"
	"github.com/petalhq/petal/pkg/petal/program"
)

// Options configure one tree translation.
type Options struct {
	// Params are the formal parameters of the compiled render function.
	Params []string
	// Macro narrows compilation to the named macro's subtree.
	Macro string
	// Engine compiles directive expressions; nil selects the default
	// path-expression engine.
	Engine *expr.Engine
	// Symbols overrides the reserved runtime name table.
	Symbols *codegen.Symbols
}

func (o *Options) engine() *expr.Engine {
	if o.Engine != nil {
		return o.Engine
	}
	return expr.New("")
}

func (o *Options) symbols() codegen.Symbols {
	if o.Symbols != nil {
		return *o.Symbols
	}
	return codegen.DefaultSymbols()
}

// TranslateTree compiles an attributed tree into an executable program: the
// interpolation preprocessor runs first, then the translator emits the
// render function body through one code emission stream.
func TranslateTree(tree *Tree, opts Options) (*program.Program, error) {
	if tree.Root < 0 {
		return nil, perrors.Compile("TR-0006", "document has no root element")
	}

	symbols := opts.symbols()
	engine := opts.engine()

	root := tree.Node(tree.Root)
	switch root.Namespace {
	case "", NSXHTML, NSTAL, NSMETAL, NSI18N:
	default:
		return nil, perrors.Compile("TR-0007",
			"unrecognized root document namespace %q", root.Namespace).
			WithNode(root.Tag, "").WithPosition(root.Line, root.Col)
	}

	if err := Preprocess(tree, engine); err != nil {
		return nil, err
	}

	start := tree.Root
	if opts.Macro != "" {
		id, ok := tree.FindMacro(tree.Root, opts.Macro)
		if !ok {
			return nil, perrors.New(perrors.ClassMacro, "MACRO-0001",
				"macro %q is not defined", opts.Macro)
		}
		start = id
	}

	w := codegen.NewWriter(symbols, 1)
	for _, name := range symbols.Reserved() {
		w.DeclareOutermost(name)
	}
	w.DeclareOutermost(symbols.Context)
	for _, param := range opts.Params {
		w.DeclareOutermost(param)
	}

	if opts.Macro == "" && tree.Doctype != "" {
		w.Out(tree.Doctype + "\n")
	}

	t := NewTranslator(tree, engine, symbols)
	if err := t.visit(start, w, false); err != nil {
		return nil, err
	}

	body := w.Code()
	selectors := w.Selectors()

	args := make([]string, 0, len(opts.Params)+len(selectors)+1)
	args = append(args, opts.Params...)
	args = append(args, selectors...)
	args = append(args, symbols.Context)

	if strings.TrimSpace(body) == "" {
		body = "\tpass\n"
	}
	code := fmt.Sprintf("def render(%s):\n%s", strings.Join(args, ", "), body)

	return program.New(code, w.Exprs(), symbols, opts.Params, selectors)
}
