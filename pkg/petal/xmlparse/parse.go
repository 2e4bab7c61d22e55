// Package xmlparse parses template documents into attributed trees.
//
// The parser resolves namespace prefixes, assigns character data to element
// text and tails, extracts the doctype, and turns directive attributes into
// the closed directive set carried by tree nodes. Expressions inside
// directives are compiled eagerly through the expression engine, so a parse
// error and a directive compile error surface at the same stage.
package xmlparse

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/expr"
	"github.com/petalhq/petal/pkg/petal/translate"
)

// Parser turns document source into attributed trees.
type Parser struct {
	// Engine compiles directive expressions; nil selects the default
	// path-expression engine.
	Engine *expr.Engine
}

// New creates a parser around an expression engine.
func New(engine *expr.Engine) *Parser {
	return &Parser{Engine: engine}
}

func (p *Parser) engine() *expr.Engine {
	if p.Engine != nil {
		return p.Engine
	}
	return expr.New("")
}

// Parse builds the attributed tree for one document.
func (p *Parser) Parse(src []byte) (*translate.Tree, error) {
	dec := xml.NewDecoder(bytes.NewReader(src))
	tree := translate.NewTree()
	engine := p.engine()

	var stack []int

	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, col := lineCol(src, offset)
			return nil, errors.New(errors.ClassParse, "XML-0001",
				"malformed document: %v", err).WithPosition(line, col)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			line, col := lineCol(src, offset)
			node := &translate.Node{
				Parent:    -1,
				Namespace: canonicalNS(t.Name.Space),
				Tag:       t.Name.Local,
				Line:      line,
				Col:       col,
			}
			if err := p.applyAttrs(node, t.Attr, engine); err != nil {
				return nil, err
			}
			id := tree.Add(node)

			if len(stack) == 0 {
				if tree.Root >= 0 {
					return nil, errors.New(errors.ClassParse, "XML-0002",
						"document has more than one root element").
						WithPosition(line, col)
				}
				tree.Root = id
			} else {
				tree.AppendChild(stack[len(stack)-1], id)
			}
			stack = append(stack, id)

		case xml.EndElement:
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) == 0 {
				continue // prolog or trailing whitespace
			}
			text := string(t)
			current := tree.Node(stack[len(stack)-1])
			if n := len(current.Children); n > 0 {
				tree.Node(current.Children[n-1]).Tail += text
			} else {
				current.Text += text
			}

		case xml.Directive:
			if tree.Root < 0 && strings.HasPrefix(strings.ToUpper(
				strings.TrimSpace(string(t))), "DOCTYPE") {
				tree.Doctype = "<!" + string(t) + ">"
			}
		}
	}

	if tree.Root < 0 {
		return nil, errors.New(errors.ClassParse, "XML-0003",
			"document has no root element")
	}
	return tree, nil
}

// ParseString is Parse over string source.
func (p *Parser) ParseString(src string) (*translate.Tree, error) {
	return p.Parse([]byte(src))
}

// applyAttrs splits an element's attributes into statics and directives.
// Elements in the directive namespaces themselves render tag-less.
func (p *Parser) applyAttrs(node *translate.Node, attrs []xml.Attr, engine *expr.Engine) error {
	switch node.Namespace {
	case translate.NSTAL, translate.NSMETAL:
		node.D.Omit = &translate.OmitDirective{Always: true}
	}

	for _, a := range attrs {
		switch canonicalNS(a.Name.Space) {
		case "xmlns":
			continue
		case "":
			if a.Name.Local == "xmlns" {
				continue
			}
			node.Attrs = append(node.Attrs, translate.Attr{
				Name: a.Name.Local, Value: a.Value})
		case translate.NSXHTML:
			node.Attrs = append(node.Attrs, translate.Attr{
				Name: a.Name.Local, Value: a.Value})
		case translate.NSTAL:
			if err := p.talDirective(node, a.Name.Local, a.Value, engine); err != nil {
				return directiveError(err, node, "tal:"+a.Name.Local)
			}
		case translate.NSMETAL:
			if err := p.metalDirective(node, a.Name.Local, a.Value, engine); err != nil {
				return directiveError(err, node, "metal:"+a.Name.Local)
			}
		case translate.NSI18N:
			if err := p.i18nDirective(node, a.Name.Local, a.Value); err != nil {
				return directiveError(err, node, "i18n:"+a.Name.Local)
			}
		case translate.NSMeta:
			p.metaDirective(node, a.Name.Local, a.Value)
		default:
			// foreign-namespace attributes pass through untouched
			node.Attrs = append(node.Attrs, translate.Attr{
				Name: a.Name.Local, Value: a.Value})
		}
	}
	return nil
}

// canonicalNS maps well-known directive prefixes to their namespace URIs.
// The decoder leaves undeclared prefixes unresolved, so documents may use
// the conventional prefixes without xmlns declarations.
func canonicalNS(space string) string {
	switch space {
	case "tal":
		return translate.NSTAL
	case "metal":
		return translate.NSMETAL
	case "i18n":
		return translate.NSI18N
	case "meta":
		return translate.NSMeta
	}
	return space
}

func directiveError(err error, node *translate.Node, attr string) error {
	if te, ok := err.(*errors.TemplateError); ok {
		return te.WithNode(node.Tag, attr).WithPosition(node.Line, node.Col)
	}
	return err
}

// lineCol converts a byte offset into 1-based line and column numbers.
func lineCol(src []byte, offset int64) (int, int) {
	if offset > int64(len(src)) {
		offset = int64(len(src))
	}
	head := src[:offset]
	line := bytes.Count(head, []byte("\n")) + 1
	col := int(offset) - (bytes.LastIndexByte(head, '\n') + 1) + 1
	return line, col
}
