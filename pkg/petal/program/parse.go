package program

import (
	"strconv"
	"strings"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
)

// The render program is line oriented and indentation structured (one tab
// per block level). Parsing happens once, at compile time; rendering only
// walks the statement tree.

type stmt interface{ stmtNode() }

type assignStmt struct {
	targets []string
	value   rhsNode
}

type indexAssignStmt struct {
	name  string
	key   string
	value rhsNode
}

type delStmt struct{ name string }

type delIndexStmt struct {
	name string
	key  string
}

type tryStmt struct {
	body    []stmt
	handler []stmt
}

type ifStmt struct {
	cond     rhsNode
	body     []stmt
	elseBody []stmt
	hasElse  bool
}

type whileStmt struct {
	cond rhsNode
	body []stmt
}

type defStmt struct {
	name   string
	params []string
	body   []stmt
}

type writeStmt struct {
	value  rhsNode
	escape bool
}

type outStmt struct{ text string }

type passStmt struct{}

func (*assignStmt) stmtNode()      {}
func (*indexAssignStmt) stmtNode() {}
func (*delStmt) stmtNode()         {}
func (*delIndexStmt) stmtNode()    {}
func (*tryStmt) stmtNode()         {}
func (*ifStmt) stmtNode()          {}
func (*whileStmt) stmtNode()       {}
func (*defStmt) stmtNode()         {}
func (*writeStmt) stmtNode()       {}
func (*outStmt) stmtNode()         {}
func (*passStmt) stmtNode()        {}

type rhsNode interface{ rhsNode() }

type nilLit struct{}
type strLit struct{ s string }
type varRef struct{ name string }
type exprRef struct{ n int }
type mapLit struct{}

type indexRef struct {
	name string
	key  string
}

type concatOp struct{ args []rhsNode }
type iterOp struct{ arg rhsNode }
type nextOp struct{ name string }
type bufferOp struct{}
type getvalueOp struct{ name string }

type escapeOp struct {
	arg   rhsNode
	quote bool
}

type coerceOp struct{ arg rhsNode }

type translateOp struct {
	msg    rhsNode
	kwargs map[string]rhsNode
}

type kwarg struct {
	name  string
	value rhsNode
}

type callOp struct {
	name   string
	kwargs []kwarg
}

type isOp struct {
	a, b   rhsNode
	negate bool
}

func (*nilLit) rhsNode()      {}
func (*strLit) rhsNode()      {}
func (*varRef) rhsNode()      {}
func (*exprRef) rhsNode()     {}
func (*mapLit) rhsNode()      {}
func (*indexRef) rhsNode()    {}
func (*concatOp) rhsNode()    {}
func (*iterOp) rhsNode()      {}
func (*nextOp) rhsNode()      {}
func (*bufferOp) rhsNode()    {}
func (*getvalueOp) rhsNode()  {}
func (*escapeOp) rhsNode()    {}
func (*coerceOp) rhsNode()    {}
func (*translateOp) rhsNode() {}
func (*callOp) rhsNode()      {}
func (*isOp) rhsNode()        {}

type line struct {
	indent int
	text   string
	number int
}

func splitLines(code string) []line {
	var out []line
	for i, raw := range strings.Split(code, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		indent := 0
		for indent < len(raw) && raw[indent] == '\t' {
			indent++
		}
		out = append(out, line{indent: indent, text: raw[indent:], number: i + 1})
	}
	return out
}

type parser struct {
	lines []line
	pos   int
}

func progError(l line, format string, args ...any) error {
	err := perrors.New(perrors.ClassProgram, "PROG-0001", format, args...)
	err.Line = l.number
	return err
}

// parseBlock parses statements at exactly the given indentation level,
// stopping at the first shallower line.
func (p *parser) parseBlock(indent int) ([]stmt, error) {
	var out []stmt
	for p.pos < len(p.lines) {
		l := p.lines[p.pos]
		if l.indent < indent {
			break
		}
		if l.indent > indent {
			return nil, progError(l, "unexpected indentation")
		}
		s, err := p.parseStmt(indent)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *parser) parseStmt(indent int) (stmt, error) {
	l := p.lines[p.pos]
	text := l.text
	p.pos++

	switch {
	case text == "pass":
		return &passStmt{}, nil

	case text == "try:":
		body, err := p.parseBlock(indent + 1)
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.lines) || p.lines[p.pos].indent != indent ||
			p.lines[p.pos].text != "except:" {
			return nil, progError(l, "try without matching except")
		}
		p.pos++
		handler, err := p.parseBlock(indent + 1)
		if err != nil {
			return nil, err
		}
		return &tryStmt{body: body, handler: handler}, nil

	case strings.HasPrefix(text, "if ") && strings.HasSuffix(text, ":"):
		cond, err := parseCond(strings.TrimSuffix(text[3:], ":"))
		if err != nil {
			return nil, progError(l, "bad condition: %v", err)
		}
		body, err := p.parseBlock(indent + 1)
		if err != nil {
			return nil, err
		}
		s := &ifStmt{cond: cond, body: body}
		if p.pos < len(p.lines) && p.lines[p.pos].indent == indent &&
			p.lines[p.pos].text == "else:" {
			p.pos++
			s.elseBody, err = p.parseBlock(indent + 1)
			if err != nil {
				return nil, err
			}
			s.hasElse = true
		}
		return s, nil

	case strings.HasPrefix(text, "while ") && strings.HasSuffix(text, ":"):
		cond, err := parseCond(strings.TrimSuffix(text[6:], ":"))
		if err != nil {
			return nil, progError(l, "bad loop condition: %v", err)
		}
		body, err := p.parseBlock(indent + 1)
		if err != nil {
			return nil, err
		}
		return &whileStmt{cond: cond, body: body}, nil

	case strings.HasPrefix(text, "def ") && strings.HasSuffix(text, "):"):
		head := strings.TrimSuffix(text[4:], "):")
		open := strings.Index(head, "(")
		if open < 0 {
			return nil, progError(l, "malformed def")
		}
		name := head[:open]
		var params []string
		if args := strings.TrimSpace(head[open+1:]); args != "" {
			for _, a := range strings.Split(args, ",") {
				params = append(params, strings.TrimSpace(a))
			}
		}
		body, err := p.parseBlock(indent + 1)
		if err != nil {
			return nil, err
		}
		return &defStmt{name: name, params: params, body: body}, nil

	case strings.HasPrefix(text, "del "):
		target := strings.TrimSpace(text[4:])
		if name, key, ok := parseIndexTarget(target); ok {
			return &delIndexStmt{name: name, key: key}, nil
		}
		return &delStmt{name: target}, nil

	case strings.HasPrefix(text, "write "):
		value, err := parseRHS(text[6:])
		if err != nil {
			return nil, progError(l, "bad write: %v", err)
		}
		return &writeStmt{value: value}, nil

	case strings.HasPrefix(text, "echo "):
		value, err := parseRHS(text[5:])
		if err != nil {
			return nil, progError(l, "bad echo: %v", err)
		}
		return &writeStmt{value: value, escape: true}, nil

	case strings.HasPrefix(text, "out "):
		s, err := strconv.Unquote(strings.TrimSpace(text[4:]))
		if err != nil {
			return nil, progError(l, "bad literal: %v", err)
		}
		return &outStmt{text: s}, nil
	}

	// assignment
	if i := topLevelIndex(text, " = "); i >= 0 {
		left := strings.TrimSpace(text[:i])
		value, err := parseRHS(text[i+3:])
		if err != nil {
			return nil, progError(l, "bad assignment: %v", err)
		}
		if name, key, ok := parseIndexTarget(left); ok {
			return &indexAssignStmt{name: name, key: key, value: value}, nil
		}
		var targets []string
		for _, t := range strings.Split(left, ",") {
			targets = append(targets, strings.TrimSpace(t))
		}
		return &assignStmt{targets: targets, value: value}, nil
	}

	return nil, progError(l, "unrecognized statement: %s", text)
}

// parseIndexTarget recognizes NAME["key"] targets.
func parseIndexTarget(s string) (name, key string, ok bool) {
	open := strings.Index(s, "[")
	if open <= 0 || !strings.HasSuffix(s, "]") {
		return "", "", false
	}
	k, err := strconv.Unquote(s[open+1 : len(s)-1])
	if err != nil {
		return "", "", false
	}
	return s[:open], k, true
}

func parseCond(s string) (rhsNode, error) {
	return parseRHS(s)
}

func parseRHS(s string) (rhsNode, error) {
	s = strings.TrimSpace(s)

	if i := topLevelIndex(s, " is not "); i >= 0 {
		a, err := parseRHS(s[:i])
		if err != nil {
			return nil, err
		}
		b, err := parseRHS(s[i+8:])
		if err != nil {
			return nil, err
		}
		return &isOp{a: a, b: b, negate: true}, nil
	}
	if i := topLevelIndex(s, " is "); i >= 0 {
		a, err := parseRHS(s[:i])
		if err != nil {
			return nil, err
		}
		b, err := parseRHS(s[i+4:])
		if err != nil {
			return nil, err
		}
		return &isOp{a: a, b: b}, nil
	}

	switch {
	case s == "nil":
		return &nilLit{}, nil
	case s == "{}":
		return &mapLit{}, nil
	case s == "buffer()":
		return &bufferOp{}, nil
	case strings.HasPrefix(s, "$"):
		n, err := strconv.Atoi(s[1:])
		if err != nil {
			return nil, perrors.New(perrors.ClassProgram, "PROG-0002",
				"bad expression reference %q", s)
		}
		return &exprRef{n: n}, nil
	case strings.HasPrefix(s, `"`):
		text, err := strconv.Unquote(s)
		if err != nil {
			return nil, err
		}
		return &strLit{s: text}, nil
	}

	if inner, ok := callArg(s, "concat"); ok {
		var args []rhsNode
		for _, part := range splitTopLevel(inner, ',') {
			a, err := parseRHS(part)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		return &concatOp{args: args}, nil
	}
	if inner, ok := callArg(s, "iter"); ok {
		arg, err := parseRHS(inner)
		if err != nil {
			return nil, err
		}
		return &iterOp{arg: arg}, nil
	}
	if inner, ok := callArg(s, "next"); ok {
		return &nextOp{name: strings.TrimSpace(inner)}, nil
	}
	if inner, ok := callArg(s, "getvalue"); ok {
		return &getvalueOp{name: strings.TrimSpace(inner)}, nil
	}
	if inner, ok := callArg(s, "escape"); ok {
		arg, err := parseRHS(inner)
		if err != nil {
			return nil, err
		}
		return &escapeOp{arg: arg}, nil
	}
	if inner, ok := callArg(s, "qescape"); ok {
		arg, err := parseRHS(inner)
		if err != nil {
			return nil, err
		}
		return &escapeOp{arg: arg, quote: true}, nil
	}
	if inner, ok := callArg(s, "coerce"); ok {
		arg, err := parseRHS(inner)
		if err != nil {
			return nil, err
		}
		return &coerceOp{arg: arg}, nil
	}
	if inner, ok := callArg(s, "translate"); ok {
		parts := splitTopLevel(inner, ',')
		if len(parts) == 0 {
			return nil, perrors.New(perrors.ClassProgram, "PROG-0002",
				"translate with no message argument")
		}
		msg, err := parseRHS(parts[0])
		if err != nil {
			return nil, err
		}
		op := &translateOp{msg: msg, kwargs: make(map[string]rhsNode)}
		for _, part := range parts[1:] {
			name, value, err := parseKwarg(part)
			if err != nil {
				return nil, err
			}
			op.kwargs[name] = value
		}
		return op, nil
	}

	// generic macro call NAME(k=v, ...)
	if open := strings.Index(s, "("); open > 0 && strings.HasSuffix(s, ")") && isIdent(s[:open]) {
		op := &callOp{name: s[:open]}
		if inner := strings.TrimSpace(s[open+1 : len(s)-1]); inner != "" {
			for _, part := range splitTopLevel(inner, ',') {
				name, value, err := parseKwarg(part)
				if err != nil {
					return nil, err
				}
				op.kwargs = append(op.kwargs, kwarg{name: name, value: value})
			}
		}
		return op, nil
	}

	if name, key, ok := parseIndexTarget(s); ok {
		return &indexRef{name: name, key: key}, nil
	}

	if isIdent(s) {
		return &varRef{name: s}, nil
	}

	return nil, perrors.New(perrors.ClassProgram, "PROG-0002", "unrecognized expression %q", s)
}

func parseKwarg(s string) (string, rhsNode, error) {
	s = strings.TrimSpace(s)
	eq := strings.Index(s, "=")
	if eq <= 0 {
		return "", nil, perrors.New(perrors.ClassProgram, "PROG-0002",
			"malformed keyword argument %q", s)
	}
	value, err := parseRHS(s[eq+1:])
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(s[:eq]), value, nil
}

// callArg matches name(inner) and returns inner.
func callArg(s, name string) (string, bool) {
	if strings.HasPrefix(s, name+"(") && strings.HasSuffix(s, ")") {
		return s[len(name)+1 : len(s)-1], true
	}
	return "", false
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// topLevelIndex finds sep outside quotes, parens and brackets.
func topLevelIndex(s, sep string) int {
	depth := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			return i
		}
	}
	return -1
}

// splitTopLevel splits on sep outside quotes, parens and brackets.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
