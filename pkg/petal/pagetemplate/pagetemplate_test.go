package pagetemplate

import (
	goerrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
)

func TestPageTemplateRender(t *testing.T) {
	pt := New(`<h1 tal:content="options/title">x</h1>`)
	out, err := pt.Render(nil, map[string]any{"title": "Hello"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "<h1>Hello</h1>" {
		t.Errorf("rendered %q", out)
	}
}

func TestPageTemplateNothing(t *testing.T) {
	pt := New(`<p tal:content="nothing">placeholder</p>`)
	out, err := pt.Render(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "<p></p>" {
		t.Errorf("rendered %q", out)
	}
}

func TestPageTemplateCompileErrorMemoized(t *testing.T) {
	pt := New(`<p tal:bogus="x">y</p>`)
	_, err1 := pt.Render(nil, nil)
	if err1 == nil {
		t.Fatal("expected compile error")
	}
	_, err2 := pt.Render(nil, nil)
	if err2 != err1 {
		t.Error("compile error should be memoized across renders")
	}
}

func TestPageTemplateMacros(t *testing.T) {
	pt := New(`<div><p metal:define-macro="box"><b metal:define-slot="s">d</b></p></div>`)
	macros, err := pt.Macros()
	if err != nil {
		t.Fatal(err)
	}
	if len(macros) != 1 || macros[0] != "box" {
		t.Errorf("Macros = %v", macros)
	}

	out, err := pt.RenderMacro("box", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "<p><b>d</b></p>" {
		t.Errorf("RenderMacro = %q", out)
	}

	_, err = pt.RenderMacro("nope", nil, nil)
	var te *perrors.TemplateError
	if !goerrors.As(err, &te) || te.Class != perrors.ClassMacro {
		t.Errorf("unknown macro: %v", err)
	}
}

func TestPageTemplateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.pt")
	if err := os.WriteFile(path, []byte(`<p>old</p>`), 0o644); err != nil {
		t.Fatal(err)
	}

	pt := NewFile("page.pt", dir)
	if pt.Filename() != path {
		t.Errorf("Filename = %q, want %q", pt.Filename(), path)
	}

	out, err := pt.Render(nil, nil)
	if err != nil || out != "<p>old</p>" {
		t.Fatalf("Render = %q, %v", out, err)
	}

	if err := os.WriteFile(path, []byte(`<p>new</p>`), 0o644); err != nil {
		t.Fatal(err)
	}
	bumped := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, bumped, bumped); err != nil {
		t.Fatal(err)
	}

	out, err = pt.Render(nil, nil)
	if err != nil || out != "<p>new</p>" {
		t.Errorf("Render after change = %q, %v", out, err)
	}
}

func TestPageTemplateFileMissing(t *testing.T) {
	pt := NewFile("missing.pt", t.TempDir())
	_, err := pt.Render(nil, nil)
	var te *perrors.TemplateError
	if !goerrors.As(err, &te) || te.Code != "PT-0001" {
		t.Errorf("missing file: %v", err)
	}
}

type fakeView struct {
	context any
	request any
}

func (v *fakeView) Context() any { return v.context }
func (v *fakeView) Request() any { return v.request }

func TestViewPageTemplate(t *testing.T) {
	source := `<p><b tal:content="context/Name">c</b> <i tal:content="request/Path">r</i></p>`
	vpt := NewView(source)

	view := &fakeView{
		context: struct{ Name string }{Name: "Ctx"},
		request: struct{ Path string }{Path: "/x"},
	}
	out, err := vpt.Render(view, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "<p><b>Ctx</b> <i>/x</i></p>" {
		t.Errorf("rendered %q", out)
	}
}
