// Package program implements the executable artifact produced by the petal
// compiler: the render-program text emitted by the code stream, parsed once
// into a statement tree and evaluated per render against a runtime context.
package program

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/net/html"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
)

// Buffer is the render output sink. A buffer destructures to aliases of
// itself, so the (out, write) declaration pair emitted by the compiler binds
// both names to the same sink.
type Buffer struct {
	sb strings.Builder
}

// NewBuffer creates an empty output buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// WriteString appends raw text.
func (b *Buffer) WriteString(s string) {
	b.sb.WriteString(s)
}

// String returns the accumulated output.
func (b *Buffer) String() string { return b.sb.String() }

// Marker is the translation-miss sentinel. Identity comparison against it is
// the only way a compiled program detects a catalog miss.
type sentinel struct{ name string }

func (s *sentinel) String() string { return "<" + s.name + ">" }

// NewMarker creates a fresh sentinel value.
func NewMarker() any { return &sentinel{name: "marker"} }

// Iterator is the external iterator a repeat loop drains. It is truthy while
// items remain.
type Iterator struct {
	items []any
	pos   int
}

// NewIterator converts an iterable value to an external iterator. Slices and
// arrays of any element type iterate in order; nil iterates zero times.
// Anything else is a render-time type error that propagates uncaught.
func NewIterator(value any) (*Iterator, error) {
	switch v := value.(type) {
	case nil:
		return &Iterator{}, nil
	case *Iterator:
		return v, nil
	case []any:
		return &Iterator{items: v}, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return &Iterator{items: items}, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return &Iterator{items: items}, nil
	}
	return nil, perrors.New(perrors.ClassType, "TYPE-0001",
		"cannot iterate value of type %T", value)
}

// More reports whether items remain.
func (it *Iterator) More() bool { return it.pos < len(it.items) }

// Next returns the current item and advances.
func (it *Iterator) Next() (any, error) {
	if !it.More() {
		return nil, perrors.New(perrors.ClassProgram, "PROG-0003", "next past end of iterator")
	}
	item := it.items[it.pos]
	it.pos++
	return item, nil
}

// index is the 0-based position of the item produced by the last Next.
func (it *Iterator) index() int { return it.pos - 1 }

// Registry is the per-render repeat-descriptor registry. Each render call
// gets a fresh one, so concurrent renders never observe each other's loop
// state.
type Registry struct {
	states map[string]*RepeatState
}

// NewRegistry creates an empty repeat registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*RepeatState)}
}

// Set publishes a repeat descriptor for a loop variable.
func (r *Registry) Set(name string, it *Iterator) {
	r.states[name] = &RepeatState{it: it}
}

// Delete removes a loop variable's descriptor when its loop ends.
func (r *Registry) Delete(name string) {
	delete(r.states, name)
}

// Item resolves a loop variable's descriptor for path traversal.
func (r *Registry) Item(name string) (any, bool) {
	state, ok := r.states[name]
	return state, ok
}

// Len reports how many descriptors are live, used by tests to verify loops
// leave no residue.
func (r *Registry) Len() int { return len(r.states) }

// RepeatState is the per-iteration repeat descriptor: index, 1-based ordinal
// number, parity and first/last flags, valid only for the duration of the
// loop body.
type RepeatState struct {
	it *Iterator
}

// Item exposes descriptor fields to path traversal.
func (s *RepeatState) Item(name string) (any, bool) {
	index := s.it.index()
	switch name {
	case "index":
		return index, true
	case "number":
		return index + 1, true
	case "even":
		return index%2 == 0, true
	case "odd":
		return index%2 == 1, true
	case "first", "start":
		return index == 0, true
	case "last", "end":
		return index == len(s.it.items)-1, true
	case "length":
		return len(s.it.items), true
	}
	return nil, false
}

// Mapping is the translation-mapping object compiled programs build for
// named sub-blocks.
type Mapping map[string]any

// Item exposes mapping entries to path traversal.
func (m Mapping) Item(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Coerce converts any runtime value to output text. nil renders empty; byte
// slices are taken as already output-encoded text.
func Coerce(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case *Buffer:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}

// EscapeText escapes markup metacharacters for text output.
func EscapeText(s string) string {
	return html.EscapeString(s)
}

var quoteReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// EscapeQuote escapes attribute values against the quote character.
func EscapeQuote(s string) string {
	return quoteReplacer.Replace(s)
}
