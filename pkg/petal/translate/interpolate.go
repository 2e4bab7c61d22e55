package translate

import (
	"github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/expr"
	"github.com/petalhq/petal/pkg/petal/types"
)

// Preprocess rewrites ${...} interpolation markers in text, tails and
// attribute values into ordinary dynamic constructs, so the translator never
// sees markers. Text markers become injected tag-less content nodes;
// attribute markers become dynamic string-template attributes. Text markers
// carry raw structure content; attribute values still pass through the
// quote escaper when written.
func Preprocess(tree *Tree, engine *expr.Engine) error {
	if tree.Root < 0 {
		return nil
	}
	return preprocessNode(tree, engine, tree.Root)
}

func preprocessNode(tree *Tree, engine *expr.Engine, id int) error {
	if err := interpolateAttrs(tree, engine, id); err != nil {
		return err
	}
	if tree.Node(id).D.Content != nil {
		// body is replaced by the content expression
		return nil
	}
	if err := interpolateText(tree, engine, id); err != nil {
		return err
	}
	// children first, then tails: interpolating a tail inserts siblings
	// after the child, which must not be revisited
	for _, child := range append([]int(nil), tree.Node(id).Children...) {
		if err := preprocessNode(tree, engine, child); err != nil {
			return err
		}
	}
	for i := 0; i < len(tree.Node(id).Children); i++ {
		child := tree.Node(id).Children[i]
		if err := interpolateTail(tree, engine, id, child); err != nil {
			return err
		}
	}
	return nil
}

// injected builds the tag-less node carrying one interpolated expression as
// raw structure content.
func injected(tree *Tree, engine *expr.Engine, expression string, line, col int) (int, error) {
	compiled, err := engine.Compile(expression)
	if err != nil {
		if te, ok := err.(*errors.TemplateError); ok {
			return 0, te.WithPosition(line, col)
		}
		return 0, err
	}
	return tree.Add(&Node{
		Parent: -1,
		Line:   line,
		Col:    col,
		D: Directives{
			Content: compiled,
			Omit:    &OmitDirective{Always: true},
		},
	}), nil
}

// interpolateText splits markers out of a node's text, front to back. Each
// marker becomes the first child at its position; the remainder travels in
// the injected node's tail and is handled by the tail pass.
func interpolateText(tree *Tree, engine *expr.Engine, id int) error {
	n := tree.Node(id)
	m := expr.Interpolate(n.Text)
	if m == nil {
		return nil
	}
	child, err := injected(tree, engine, m.Expression, n.Line, n.Col)
	if err != nil {
		return err
	}
	tree.Node(child).Tail = n.Text[m.End:]
	n.Text = n.Text[:m.Start]
	tree.InsertChild(id, 0, child)

	// remaining markers now live in the injected node's tail
	return interpolateTail(tree, engine, id, child)
}

// interpolateTail splits markers out of a child's tail, inserting sibling
// nodes after the child.
func interpolateTail(tree *Tree, engine *expr.Engine, parent, child int) error {
	for {
		c := tree.Node(child)
		m := expr.Interpolate(c.Tail)
		if m == nil {
			return nil
		}
		sibling, err := injected(tree, engine, m.Expression, c.Line, c.Col)
		if err != nil {
			return err
		}
		tree.Node(sibling).Tail = c.Tail[m.End:]
		c.Tail = c.Tail[:m.Start]
		tree.InsertChild(parent, tree.ChildIndex(parent, child)+1, sibling)
		child = sibling
	}
}

// interpolateAttrs turns static attributes containing markers into dynamic
// string-template attributes.
func interpolateAttrs(tree *Tree, engine *expr.Engine, id int) error {
	n := tree.Node(id)
	for _, a := range n.Attrs {
		if expr.Interpolate(a.Value) == nil {
			continue
		}
		if hasDynamicAttr(n, a.Name) {
			continue
		}
		compiled, err := engine.CompileText(a.Value)
		if err != nil {
			if te, ok := err.(*errors.TemplateError); ok {
				return te.WithNode(n.Tag, a.Name).WithPosition(n.Line, n.Col)
			}
			return err
		}
		n.D.DynamicAttrs = append(n.D.DynamicAttrs, DefineDirective{
			Declaration: types.Declaration{Names: []string{a.Name}},
			Expression:  compiled,
		})
	}
	return nil
}

func hasDynamicAttr(n *Node, name string) bool {
	for _, da := range n.D.DynamicAttrs {
		if len(da.Declaration.Names) == 1 && da.Declaration.Names[0] == name {
			return true
		}
	}
	return false
}
