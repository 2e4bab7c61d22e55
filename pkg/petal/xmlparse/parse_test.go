package xmlparse

import (
	goerrors "errors"
	"testing"

	"github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/translate"
	"github.com/petalhq/petal/pkg/petal/types"
)

func parse(t *testing.T, src string) *translate.Tree {
	t.Helper()
	tree, err := New(nil).ParseString(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return tree
}

func parseErr(t *testing.T, src string) *errors.TemplateError {
	t.Helper()
	_, err := New(nil).ParseString(src)
	if err == nil {
		t.Fatalf("Parse(%q) succeeded, expected error", src)
	}
	var te *errors.TemplateError
	if !goerrors.As(err, &te) {
		t.Fatalf("Parse(%q) error is %T, want *TemplateError", src, err)
	}
	return te
}

func TestTreeShape(t *testing.T) {
	tree := parse(t, `<div><p>a</p><span>b</span></div>`)
	root := tree.Node(tree.Root)
	if root.Tag != "div" || len(root.Children) != 2 {
		t.Fatalf("root = %q with %d children", root.Tag, len(root.Children))
	}
	p := tree.Node(root.Children[0])
	span := tree.Node(root.Children[1])
	if p.Tag != "p" || p.Text != "a" {
		t.Errorf("first child = <%s>%q", p.Tag, p.Text)
	}
	if span.Tag != "span" || span.Text != "b" {
		t.Errorf("second child = <%s>%q", span.Tag, span.Text)
	}
	if p.Parent != tree.Root || span.Parent != tree.Root {
		t.Error("children should point back at the root")
	}
}

func TestTextAndTail(t *testing.T) {
	tree := parse(t, `<p>one<b>two</b>three</p>`)
	p := tree.Node(tree.Root)
	b := tree.Node(p.Children[0])
	if p.Text != "one" {
		t.Errorf("p.Text = %q", p.Text)
	}
	if b.Text != "two" {
		t.Errorf("b.Text = %q", b.Text)
	}
	if b.Tail != "three" {
		t.Errorf("b.Tail = %q", b.Tail)
	}
}

func TestAttributeOrder(t *testing.T) {
	tree := parse(t, `<a href="/x" class="c" id="i">t</a>`)
	attrs := tree.Node(tree.Root).Attrs
	want := []translate.Attr{
		{Name: "href", Value: "/x"},
		{Name: "class", Value: "c"},
		{Name: "id", Value: "i"},
	}
	if len(attrs) != len(want) {
		t.Fatalf("got %d attributes, want %d", len(attrs), len(want))
	}
	for i := range want {
		if attrs[i] != want[i] {
			t.Errorf("attrs[%d] = %+v, want %+v", i, attrs[i], want[i])
		}
	}
}

func TestEntityDecoding(t *testing.T) {
	tree := parse(t, `<p class="a&amp;b">x &lt; y</p>`)
	n := tree.Node(tree.Root)
	if n.Attrs[0].Value != "a&b" {
		t.Errorf("attribute value = %q", n.Attrs[0].Value)
	}
	if n.Text != "x < y" {
		t.Errorf("text = %q", n.Text)
	}
}

func TestPositions(t *testing.T) {
	tree := parse(t, "<div>\n  <p>x</p>\n</div>")
	root := tree.Node(tree.Root)
	if root.Line != 1 || root.Col != 1 {
		t.Errorf("root at %d:%d, want 1:1", root.Line, root.Col)
	}
	p := tree.Node(root.Children[0])
	if p.Line != 2 || p.Col != 3 {
		t.Errorf("p at %d:%d, want 2:3", p.Line, p.Col)
	}
}

func TestDoctype(t *testing.T) {
	tree := parse(t, "<!DOCTYPE html>\n<html><body>x</body></html>")
	if tree.Doctype != "<!DOCTYPE html>" {
		t.Errorf("Doctype = %q", tree.Doctype)
	}
}

func TestXMLDeclarationIgnored(t *testing.T) {
	tree := parse(t, `<?xml version="1.0"?><p>x</p>`)
	if tree.Node(tree.Root).Tag != "p" {
		t.Errorf("root = %q", tree.Node(tree.Root).Tag)
	}
}

func TestMalformedDocument(t *testing.T) {
	te := parseErr(t, `<a><b></a>`)
	if te.Class != errors.ClassParse || te.Code != "XML-0001" {
		t.Errorf("class %s code %s", te.Class, te.Code)
	}
}

func TestMultipleRoots(t *testing.T) {
	te := parseErr(t, `<a>x</a><b>y</b>`)
	if te.Code != "XML-0002" {
		t.Errorf("code = %s, want XML-0002", te.Code)
	}
}

func TestNoRoot(t *testing.T) {
	te := parseErr(t, "  \n  ")
	if te.Code != "XML-0003" {
		t.Errorf("code = %s, want XML-0003", te.Code)
	}
}

func TestPrefixCanonicalization(t *testing.T) {
	// the conventional prefixes work without xmlns declarations
	tree := parse(t, `<p tal:condition="x">y</p>`)
	if tree.Node(tree.Root).D.Condition == nil {
		t.Error("tal: prefix without declaration should parse as a directive")
	}

	declared := `<p xmlns:tal="http://xml.zope.org/namespaces/tal" tal:condition="x">y</p>`
	tree = parse(t, declared)
	n := tree.Node(tree.Root)
	if n.D.Condition == nil {
		t.Error("declared tal namespace should parse as a directive")
	}
	if len(n.Attrs) != 0 {
		t.Errorf("xmlns declaration leaked into statics: %v", n.Attrs)
	}
}

func TestForeignAttributePassesThrough(t *testing.T) {
	tree := parse(t, `<p data-x="1" foo:bar="2">y</p>`)
	attrs := tree.Node(tree.Root).Attrs
	if len(attrs) != 2 || attrs[0].Name != "data-x" || attrs[1].Name != "bar" {
		t.Errorf("attrs = %v", attrs)
	}
}

func TestDirectiveNamespaceElementOmitsTag(t *testing.T) {
	tree := parse(t, `<tal:block tal:condition="x">y</tal:block>`)
	n := tree.Node(tree.Root)
	if n.D.Omit == nil || !n.D.Omit.Always {
		t.Error("elements in the directive namespace should render tag-less")
	}
	if n.D.Condition == nil {
		t.Error("directive attributes on namespace elements should still apply")
	}
}

func TestDefineDirective(t *testing.T) {
	tree := parse(t, `<p tal:define="x 'a'; global y 'b'">t</p>`)
	defs := tree.Node(tree.Root).D.Define
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Declaration.Names[0] != "x" || defs[0].Declaration.Global {
		t.Errorf("defs[0] = %+v", defs[0].Declaration)
	}
	if defs[1].Declaration.Names[0] != "y" || !defs[1].Declaration.Global {
		t.Errorf("defs[1] = %+v", defs[1].Declaration)
	}
}

func TestDefineTupleTarget(t *testing.T) {
	tree := parse(t, `<p tal:define="(a, b) pair">t</p>`)
	defs := tree.Node(tree.Root).D.Define
	if len(defs) != 1 {
		t.Fatalf("got %d definitions", len(defs))
	}
	names := defs[0].Declaration.Names
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("tuple names = %v", names)
	}
}

func TestDefineEscapedSemicolon(t *testing.T) {
	tree := parse(t, `<p tal:define="x 'a;;b'">t</p>`)
	defs := tree.Node(tree.Root).D.Define
	if len(defs) != 1 {
		t.Fatalf("doubled semicolon split the clause: %d definitions", len(defs))
	}
}

func TestDefineWithoutExpression(t *testing.T) {
	te := parseErr(t, `<p tal:define="x">t</p>`)
	if te.Code != "DIR-0005" {
		t.Errorf("code = %s, want DIR-0005", te.Code)
	}
}

func TestContentModes(t *testing.T) {
	tree := parse(t, `<p tal:content="x">t</p>`)
	if _, ok := tree.Node(tree.Root).D.Content.(types.Escape); !ok {
		t.Errorf("default content mode should escape, got %T",
			tree.Node(tree.Root).D.Content)
	}

	tree = parse(t, `<p tal:content="structure x">t</p>`)
	if _, ok := tree.Node(tree.Root).D.Content.(types.Escape); ok {
		t.Error("structure content must not be escaped")
	}

	tree = parse(t, `<p tal:content="text x">t</p>`)
	if _, ok := tree.Node(tree.Root).D.Content.(types.Escape); !ok {
		t.Error("explicit text content should escape")
	}
}

func TestReplaceSetsOmit(t *testing.T) {
	tree := parse(t, `<p tal:replace="x">t</p>`)
	d := tree.Node(tree.Root).D
	if d.Content == nil {
		t.Error("replace should set content")
	}
	if d.Omit == nil || !d.Omit.Always {
		t.Error("replace should omit the tag unconditionally")
	}
}

func TestOmitTagVariants(t *testing.T) {
	tree := parse(t, `<p tal:omit-tag="">t</p>`)
	if d := tree.Node(tree.Root).D; d.Omit == nil || !d.Omit.Always {
		t.Error("empty omit-tag should omit unconditionally")
	}

	tree = parse(t, `<p tal:omit-tag="cond">t</p>`)
	d := tree.Node(tree.Root).D
	if d.Omit == nil || d.Omit.Always || d.Omit.Expression == nil {
		t.Errorf("guarded omit-tag = %+v", d.Omit)
	}
}

func TestRepeatDirective(t *testing.T) {
	tree := parse(t, `<li tal:repeat="item items">x</li>`)
	r := tree.Node(tree.Root).D.Repeat
	if r == nil || r.Variable != "item" || r.Expression == nil {
		t.Errorf("repeat = %+v", r)
	}
}

func TestRepeatRejectsTuple(t *testing.T) {
	te := parseErr(t, `<li tal:repeat="(a, b) items">x</li>`)
	if te.Code != "DIR-0002" {
		t.Errorf("code = %s, want DIR-0002", te.Code)
	}
}

func TestUnknownDirective(t *testing.T) {
	te := parseErr(t, `<p tal:bogus="x">y</p>`)
	if te.Code != "DIR-0001" {
		t.Errorf("code = %s, want DIR-0001", te.Code)
	}
	if te.Node != "p" || te.Attr != "tal:bogus" {
		t.Errorf("annotation = <%s> %s", te.Node, te.Attr)
	}
	if te.Line != 1 {
		t.Errorf("Line = %d", te.Line)
	}
}

func TestMetalDirectives(t *testing.T) {
	tree := parse(t, `<div metal:define-macro="box"><h1 metal:define-slot="title">d</h1></div>`)
	root := tree.Node(tree.Root)
	if root.D.Method == nil || root.D.Method.Name != "box" {
		t.Errorf("Method = %+v", root.D.Method)
	}
	h1 := tree.Node(root.Children[0])
	if h1.D.DefineSlot != "title" {
		t.Errorf("DefineSlot = %q", h1.D.DefineSlot)
	}

	tree = parse(t, `<span metal:use-macro="box"><em metal:fill-slot="title">c</em></span>`)
	root = tree.Node(tree.Root)
	if root.D.UseMacro == nil {
		t.Error("UseMacro not set")
	}
	if tree.Node(root.Children[0]).D.FillSlot != "title" {
		t.Error("FillSlot not set")
	}
}

func TestI18nTranslate(t *testing.T) {
	tree := parse(t, `<p i18n:translate="">x</p>`)
	tr := tree.Node(tree.Root).D.Translate
	if tr == nil || *tr != "" {
		t.Errorf("Translate = %v", tr)
	}

	tree = parse(t, `<p i18n:translate="msgid">x</p>`)
	tr = tree.Node(tree.Root).D.Translate
	if tr == nil || *tr != "msgid" {
		t.Errorf("Translate = %v", tr)
	}

	tree = parse(t, `<p>x</p>`)
	if tree.Node(tree.Root).D.Translate != nil {
		t.Error("untranslated node must carry a nil marker")
	}
}

func TestI18nNameAndDomain(t *testing.T) {
	tree := parse(t, `<div i18n:domain="shop"><span i18n:name="n">x</span></div>`)
	root := tree.Node(tree.Root)
	if root.D.TranslationDomain != "shop" {
		t.Errorf("domain = %q", root.D.TranslationDomain)
	}
	if tree.Node(root.Children[0]).D.TranslationName != "n" {
		t.Error("translation name not set")
	}
}

func TestI18nAttributes(t *testing.T) {
	tree := parse(t, `<input value="Send" i18n:attributes="value; title title_msg"/>`)
	tas := tree.Node(tree.Root).D.TranslatedAttrs
	if len(tas) != 2 {
		t.Fatalf("got %d translated attributes", len(tas))
	}
	if tas[0].Name != "value" || tas[0].MsgID != "" {
		t.Errorf("tas[0] = %+v", tas[0])
	}
	if tas[1].Name != "title" || tas[1].MsgID != "title_msg" {
		t.Errorf("tas[1] = %+v", tas[1])
	}
}

func TestMetaDirectives(t *testing.T) {
	tree := parse(t, `<script meta:cdata="">x</script>`)
	if !tree.Node(tree.Root).D.CDATA {
		t.Error("meta:cdata not set")
	}

	tree = parse(t, `<div meta:omit-tag="">x</div>`)
	if d := tree.Node(tree.Root).D; d.Omit == nil || !d.Omit.Always {
		t.Error("meta:omit-tag should omit unconditionally")
	}
}

func TestDirectiveExpressionError(t *testing.T) {
	te := parseErr(t, `<p tal:condition="a//b">x</p>`)
	if te.Node != "p" || te.Attr != "tal:condition" {
		t.Errorf("annotation = <%s> %s", te.Node, te.Attr)
	}
}
