package xmlparse

import (
	"strings"

	"github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/expr"
	"github.com/petalhq/petal/pkg/petal/translate"
	"github.com/petalhq/petal/pkg/petal/types"
)

func (p *Parser) talDirective(node *translate.Node, name, value string, engine *expr.Engine) error {
	switch name {
	case "define":
		defs, err := parseDefinitions(value, engine)
		if err != nil {
			return err
		}
		node.D.Define = append(node.D.Define, defs...)

	case "condition":
		compiled, err := engine.Compile(value)
		if err != nil {
			return err
		}
		node.D.Condition = compiled

	case "repeat":
		target, rest, err := splitTarget(value)
		if err != nil {
			return err
		}
		if len(target.Names) != 1 {
			return errors.Compile("DIR-0002",
				"repeat clause binds exactly one variable")
		}
		compiled, err := engine.Compile(rest)
		if err != nil {
			return err
		}
		node.D.Repeat = &translate.RepeatDirective{
			Variable:   target.Names[0],
			Expression: compiled,
		}

	case "content":
		compiled, err := compileContent(value, engine)
		if err != nil {
			return err
		}
		node.D.Content = compiled

	case "replace":
		compiled, err := compileContent(value, engine)
		if err != nil {
			return err
		}
		node.D.Content = compiled
		node.D.Omit = &translate.OmitDirective{Always: true}

	case "attributes":
		defs, err := parseDefinitions(value, engine)
		if err != nil {
			return err
		}
		node.D.DynamicAttrs = append(node.D.DynamicAttrs, defs...)

	case "omit-tag":
		if strings.TrimSpace(value) == "" {
			node.D.Omit = &translate.OmitDirective{Always: true}
			return nil
		}
		compiled, err := engine.Compile(value)
		if err != nil {
			return err
		}
		node.D.Omit = &translate.OmitDirective{Expression: compiled}

	default:
		return errors.Compile("DIR-0001", "unknown directive %q", name)
	}
	return nil
}

func (p *Parser) metalDirective(node *translate.Node, name, value string, engine *expr.Engine) error {
	switch name {
	case "define-macro":
		node.D.Method = &translate.Method{Name: strings.TrimSpace(value)}
	case "use-macro":
		compiled, err := engine.Compile(value)
		if err != nil {
			return err
		}
		node.D.UseMacro = compiled
	case "define-slot":
		node.D.DefineSlot = strings.TrimSpace(value)
	case "fill-slot":
		node.D.FillSlot = strings.TrimSpace(value)
	default:
		return errors.Compile("DIR-0001", "unknown directive %q", name)
	}
	return nil
}

func (p *Parser) i18nDirective(node *translate.Node, name, value string) error {
	switch name {
	case "translate":
		msgid := strings.TrimSpace(value)
		node.D.Translate = &msgid
	case "name":
		node.D.TranslationName = strings.TrimSpace(value)
	case "domain":
		node.D.TranslationDomain = strings.TrimSpace(value)
	case "attributes":
		for _, entry := range splitClauses(value) {
			fields := strings.Fields(entry)
			switch len(fields) {
			case 0:
				continue
			case 1:
				node.D.TranslatedAttrs = append(node.D.TranslatedAttrs,
					translate.TranslatedAttr{Name: fields[0]})
			default:
				node.D.TranslatedAttrs = append(node.D.TranslatedAttrs,
					translate.TranslatedAttr{
						Name:  fields[0],
						MsgID: strings.Join(fields[1:], " "),
					})
			}
		}
	default:
		return errors.Compile("DIR-0001", "unknown directive %q", name)
	}
	return nil
}

func (p *Parser) metaDirective(node *translate.Node, name, value string) {
	switch name {
	case "omit-tag":
		node.D.Omit = &translate.OmitDirective{Always: true}
	case "cdata":
		node.D.CDATA = true
	}
}

// compileContent compiles a content or replace expression. A "structure"
// prefix selects raw markup output; the default is escaped text.
func compileContent(value string, engine *expr.Engine) (types.Result, error) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "structure "); ok {
		return engine.Compile(rest)
	}
	if rest, ok := strings.CutPrefix(value, "text "); ok {
		value = rest
	}
	compiled, err := engine.Compile(value)
	if err != nil {
		return nil, err
	}
	return types.Escape{Inner: compiled}, nil
}

// parseDefinitions parses a semicolon-separated definition list. Each entry
// is an optional "global" keyword, one target name or a parenthesized tuple
// of names, and an expression. A doubled semicolon escapes a literal one
// inside an expression.
func parseDefinitions(value string, engine *expr.Engine) ([]translate.DefineDirective, error) {
	var defs []translate.DefineDirective
	for _, entry := range splitClauses(value) {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		target, rest, err := splitTarget(entry)
		if err != nil {
			return nil, err
		}
		compiled, err := engine.Compile(rest)
		if err != nil {
			return nil, err
		}
		defs = append(defs, translate.DefineDirective{
			Declaration: target,
			Expression:  compiled,
		})
	}
	return defs, nil
}

// splitTarget parses the declaration half of a definition entry and returns
// it with the remaining expression text.
func splitTarget(entry string) (types.Declaration, string, error) {
	rest := strings.TrimSpace(entry)
	var decl types.Declaration

	if cut, ok := strings.CutPrefix(rest, "global "); ok {
		decl.Global = true
		rest = strings.TrimSpace(cut)
	}

	if strings.HasPrefix(rest, "(") {
		end := strings.Index(rest, ")")
		if end < 0 {
			return decl, "", errors.Compile("DIR-0003",
				"unterminated tuple declaration in %q", entry)
		}
		for _, name := range strings.Split(rest[1:end], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				return decl, "", errors.Compile("DIR-0004",
					"empty name in tuple declaration %q", entry)
			}
			decl.Names = append(decl.Names, name)
		}
		return decl, strings.TrimSpace(rest[end+1:]), nil
	}

	i := strings.IndexAny(rest, " \t")
	if i < 0 {
		return decl, "", errors.Compile("DIR-0005",
			"definition %q has no expression", entry)
	}
	decl.Names = []string{rest[:i]}
	return decl, strings.TrimSpace(rest[i:]), nil
}

// splitClauses splits on single semicolons; a doubled semicolon is an
// escaped literal one.
func splitClauses(value string) []string {
	var out []string
	var sb strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == ';' {
			if i+1 < len(value) && value[i+1] == ';' {
				sb.WriteByte(';')
				i++
				continue
			}
			out = append(out, sb.String())
			sb.Reset()
			continue
		}
		sb.WriteByte(value[i])
	}
	out = append(out, sb.String())
	return out
}
