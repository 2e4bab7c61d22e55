// Package translate implements the attributed-tree translator: the per-node
// algorithm that reads directives off tree nodes and produces clause
// sequences, the interpolation preprocessor, and the top-level driver that
// assembles the final executable program.
package translate

import (
	"strings"

	"github.com/petalhq/petal/pkg/petal/types"
)

// Recognized document namespaces.
const (
	NSXHTML = "http://www.w3.org/1999/xhtml"
	NSTAL   = "http://xml.zope.org/namespaces/tal"
	NSMETAL = "http://xml.zope.org/namespaces/metal"
	NSI18N  = "http://xml.zope.org/namespaces/i18n"
	NSMeta  = "http://xml.zope.org/namespaces/meta"
)

// Attr is one static attribute, in source order.
type Attr struct {
	Name  string
	Value string
}

// DefineDirective is one (declaration, expression) pair of a define or
// attributes directive.
type DefineDirective struct {
	Declaration types.Declaration
	Expression  types.Result
}

// RepeatDirective binds exactly one loop variable to an iterable expression.
type RepeatDirective struct {
	Variable   string
	Expression types.Result
}

// OmitDirective suppresses tag emission unconditionally or behind an
// expression guard.
type OmitDirective struct {
	Always     bool
	Expression types.Result // guard when not Always
}

// Method marks a node as a macro body with a name and formal argument list.
type Method struct {
	Name string
	Args []string
}

// TranslatedAttr is one entry of an i18n attributes directive.
type TranslatedAttr struct {
	Name  string
	MsgID string // empty selects the attribute's own value as message id
}

// Directives is the closed set of directive fields a node may carry. The
// parser sets them once; the translator only reads them.
type Directives struct {
	Condition types.Result
	Repeat    *RepeatDirective
	Define    []DefineDirective
	Content   types.Result // mutually exclusive with element children
	Omit      *OmitDirective

	Translate         *string // nil: not translatable; "": auto message id
	TranslationName   string
	TranslationDomain string

	UseMacro   types.Result
	Method     *Method
	DefineSlot string
	FillSlot   string

	DynamicAttrs    []DefineDirective
	TranslatedAttrs []TranslatedAttr

	CDATA bool
}

// Node is one element of the attributed arena tree. Parent back-references
// are indices, never pointers.
type Node struct {
	Parent   int // -1 for the root
	Children []int

	Namespace string
	Tag       string
	Text      string
	Tail      string

	Attrs []Attr
	D     Directives

	Line, Col int
}

// Tree is an arena of attributed nodes plus the document doctype.
type Tree struct {
	Nodes   []*Node
	Root    int
	Doctype string
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{Root: -1}
}

// Add appends a node to the arena and returns its index.
func (t *Tree) Add(n *Node) int {
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}

// Node returns the arena node at an index.
func (t *Tree) Node(id int) *Node { return t.Nodes[id] }

// InsertChild places child at position i of parent's child list.
func (t *Tree) InsertChild(parent, i, child int) {
	p := t.Nodes[parent]
	t.Nodes[child].Parent = parent
	p.Children = append(p.Children, 0)
	copy(p.Children[i+1:], p.Children[i:])
	p.Children[i] = child
}

// AppendChild places child at the end of parent's child list.
func (t *Tree) AppendChild(parent, child int) {
	t.Nodes[child].Parent = parent
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, child)
}

// ChildIndex returns child's position in parent's child list, or -1.
func (t *Tree) ChildIndex(parent, child int) int {
	for i, c := range t.Nodes[parent].Children {
		if c == child {
			return i
		}
	}
	return -1
}

// Walk visits id and all descendants depth first, in document order.
func (t *Tree) Walk(id int, fn func(id int) bool) {
	if !fn(id) {
		return
	}
	for _, c := range t.Nodes[id].Children {
		t.Walk(c, fn)
	}
}

// Descendants returns all descendant ids of a node in document order,
// excluding the node itself.
func (t *Tree) Descendants(id int) []int {
	var out []int
	for _, c := range t.Nodes[id].Children {
		t.Walk(c, func(d int) bool {
			out = append(out, d)
			return true
		})
	}
	return out
}

// FindMacro locates the node (descendant-or-self) defining the named macro.
func (t *Tree) FindMacro(root int, name string) (int, bool) {
	found := -1
	t.Walk(root, func(id int) bool {
		if found >= 0 {
			return false
		}
		if m := t.Nodes[id].D.Method; m != nil && m.Name == name {
			found = id
			return false
		}
		return true
	})
	return found, found >= 0
}

// Markup reproduces the literal markup of a subtree, ignoring directives.
// The translated-body fallback path uses it to guarantee a catalog miss
// never drops content.
func (t *Tree) Markup(id int) string {
	var sb strings.Builder
	t.writeMarkup(&sb, id)
	sb.WriteString(t.Nodes[id].Tail)
	return sb.String()
}

func (t *Tree) writeMarkup(sb *strings.Builder, id int) {
	n := t.Nodes[id]
	sb.WriteString("<")
	sb.WriteString(n.Tag)
	for _, a := range n.Attrs {
		sb.WriteString(" ")
		sb.WriteString(a.Name)
		sb.WriteString(`="`)
		sb.WriteString(a.Value)
		sb.WriteString(`"`)
	}
	if n.Text == "" && len(n.Children) == 0 {
		sb.WriteString(" />")
		return
	}
	sb.WriteString(">")
	sb.WriteString(n.Text)
	for _, c := range n.Children {
		t.writeMarkup(sb, c)
		sb.WriteString(t.Nodes[c].Tail)
	}
	sb.WriteString("</")
	sb.WriteString(n.Tag)
	sb.WriteString(">")
}
