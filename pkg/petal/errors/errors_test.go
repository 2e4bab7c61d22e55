package errors

import (
	goerrors "errors"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	e := Compile("TR-0001", "bad directive")
	if got := e.String(); got != "bad directive" {
		t.Errorf("String = %q", got)
	}

	e = e.WithFile("page.pt").WithPosition(3, 7).WithNode("div", "tal:content")
	got := e.String()
	want := "page.pt: line 3, column 7: <div> tal:content: bad directive"
	if got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestStringHints(t *testing.T) {
	e := Compile("TR-0001", "bad directive")
	e.Hints = []string{"use tal:content instead"}
	if !strings.Contains(e.String(), "\n  use tal:content instead") {
		t.Errorf("hint missing from %q", e.String())
	}
}

func TestPrettyString(t *testing.T) {
	tests := []struct {
		err    *TemplateError
		prefix string
	}{
		{New(ClassParse, "XML-0001", "x"), "Parse error"},
		{New(ClassCompile, "TR-0001", "x"), "Compile error"},
		{New(ClassMacro, "MACRO-0001", "x"), "Compile error"},
		{New(ClassEval, "EVAL-0001", "x"), "Render error"},
		{New(ClassUndefined, "NAME-0001", "x"), "Render error"},
	}
	for _, tt := range tests {
		if got := tt.err.PrettyString(); !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("PrettyString(%s) = %q, want prefix %q", tt.err.Class, got, tt.prefix)
		}
	}

	e := New(ClassParse, "XML-0001", "boom").WithFile("p.pt").WithPosition(2, 4)
	got := e.PrettyString()
	for _, part := range []string{"in: p.pt", "at: line 2, column 4", "boom"} {
		if !strings.Contains(got, part) {
			t.Errorf("PrettyString missing %q:\n%s", part, got)
		}
	}
}

func TestWithCopySemantics(t *testing.T) {
	base := Compile("TR-0001", "x")
	derived := base.WithFile("a.pt")
	if base.File != "" {
		t.Error("WithFile mutated the receiver")
	}
	if derived.File != "a.pt" || derived == base {
		t.Error("WithFile should return an annotated copy")
	}

	positioned := base.WithPosition(5, 6)
	if base.Line != 0 || positioned.Line != 5 || positioned.Column != 6 {
		t.Error("WithPosition copy semantics broken")
	}

	annotated := base.WithNode("p", "tal:define")
	if base.Node != "" || annotated.Node != "p" || annotated.Attr != "tal:define" {
		t.Error("WithNode copy semantics broken")
	}
}

func TestIsCompileError(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ClassParse, true},
		{ClassCompile, true},
		{ClassMacro, true},
		{ClassEval, false},
		{ClassUndefined, false},
		{ClassType, false},
		{ClassIO, false},
		{ClassProgram, false},
	}
	for _, tt := range tests {
		e := New(tt.class, "X-0001", "x")
		if got := e.IsCompileError(); got != tt.want {
			t.Errorf("IsCompileError(%s) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestUndefined(t *testing.T) {
	e := Undefined("title")
	if e.Class != ClassUndefined || e.Code != "NAME-0001" {
		t.Errorf("class %s code %s", e.Class, e.Code)
	}
	if e.Data["name"] != "title" {
		t.Errorf("Data = %v", e.Data)
	}
	if !strings.Contains(e.Message, `"title"`) {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	e := Wrap(cause, ClassIO, "IO-0001", "cannot read %s", "x.pt")

	if !goerrors.Is(e, cause) {
		t.Error("wrapped cause should be reachable through errors.Is")
	}
	var te *TemplateError
	if !goerrors.As(error(e), &te) || te.Code != "IO-0001" {
		t.Errorf("errors.As failed: %v", te)
	}
	if e.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestToJSON(t *testing.T) {
	e := New(ClassEval, "EVAL-0001", "boom").WithPosition(4, 2).WithFile("p.pt")
	data, err := e.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["class"] != "eval" || decoded["code"] != "EVAL-0001" {
		t.Errorf("decoded = %v", decoded)
	}
	if decoded["line"] != float64(4) || decoded["file"] != "p.pt" {
		t.Errorf("decoded = %v", decoded)
	}
	if _, ok := decoded["node"]; ok {
		t.Error("empty node should be omitted from JSON")
	}
}
