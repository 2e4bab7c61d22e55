// Package repl implements an interactive template playground with line
// editing, history and tab completion.
package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/petalhq/petal/pkg/petal"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/expr"
	"github.com/petalhq/petal/pkg/petal/program"
)

const PROMPT = "pt> "
const CONTINUATION_PROMPT = " .. "

const LOGO = `
█▀█ █▀▀ ▀█▀ ▄▀█ █░░
█▀▀ ██▄ ░█░ █▀█ █▄▄ `

// Directive attributes and expression prefixes for tab completion
var completionWords = []string{
	"tal:define", "tal:condition", "tal:repeat", "tal:content",
	"tal:replace", "tal:attributes", "tal:omit-tag",
	"metal:define-macro", "metal:use-macro", "metal:define-slot",
	"metal:fill-slot",
	"i18n:translate", "i18n:name", "i18n:domain", "i18n:attributes",
	"path:", "string:", "not:", "exists:", "structure",
	"nothing", "true", "false", "global", "repeat",
	"xmlns:tal", "xmlns:metal", "xmlns:i18n",
}

// Start runs the playground loop: each complete document entered is
// compiled and rendered against the session variables.
func Start(out io.Writer, version string) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(line string) []string {
		return filterCompletions(line)
	})

	historyFile := filepath.Join(os.TempDir(), ".petal_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	session := &session{
		vars: map[string]any{},
		ctx:  &program.Context{},
	}

	fmt.Fprintf(out, "%s", LOGO)
	fmt.Fprintln(out, "v", version)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Enter a template document; it renders when the markup closes")
	fmt.Fprintln(out, "Type ':help' for commands, 'exit' or Ctrl+D to quit")
	fmt.Fprintln(out, "")

	var inputBuffer strings.Builder

	for {
		currentPrompt := PROMPT
		if inputBuffer.Len() > 0 {
			currentPrompt = CONTINUATION_PROMPT
		}
		input, err := line.Prompt(currentPrompt)
		if err != nil {
			if err == liner.ErrPromptAborted {
				if inputBuffer.Len() > 0 {
					fmt.Fprintln(out, "^C (cleared)")
				} else {
					fmt.Fprintln(out, "^C")
				}
				inputBuffer.Reset()
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}

		trimmed := strings.TrimSpace(input)
		if inputBuffer.Len() == 0 && (trimmed == "exit" || trimmed == "quit") {
			fmt.Fprintln(out, "Goodbye!")
			return
		}

		if inputBuffer.Len() == 0 && strings.HasPrefix(trimmed, ":") {
			session.command(trimmed, out)
			continue
		}

		if inputBuffer.Len() == 0 && trimmed == "" {
			continue
		}

		if inputBuffer.Len() > 0 {
			inputBuffer.WriteString("\n")
		}
		inputBuffer.WriteString(input)

		document := inputBuffer.String()
		if needsMoreInput(document) {
			continue
		}

		if trimmed != "" {
			line.AppendHistory(document)
		}

		session.render(document, out)
		inputBuffer.Reset()
	}
}

type session struct {
	vars map[string]any
	ctx  *program.Context
	last *petal.Template
}

func (s *session) render(document string, out io.Writer) {
	template, err := petal.CompileString(document, petal.Config{})
	if err != nil {
		printError(out, err)
		return
	}
	s.last = template

	result, err := template.Render(s.ctx, s.vars)
	if err != nil {
		printError(out, err)
		return
	}
	io.WriteString(out, result)
	if !strings.HasSuffix(result, "\n") {
		io.WriteString(out, "\n")
	}
}

func (s *session) command(cmd string, out io.Writer) {
	fields := strings.Fields(cmd)

	switch fields[0] {
	case ":help", ":h", ":?":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  :help, :h, :?       Show this help")
		fmt.Fprintln(out, "  :set <name> <text>  Bind a string variable")
		fmt.Fprintln(out, "  :unset <name>       Remove a variable")
		fmt.Fprintln(out, "  :eval <expression>  Evaluate a bare expression")
		fmt.Fprintln(out, "  :vars               Show bound variables")
		fmt.Fprintln(out, "  :lang <tag>         Set the target language")
		fmt.Fprintln(out, "  :code               Show the last emitted program")
		fmt.Fprintln(out, "  :clear              Clear all variables")
		fmt.Fprintln(out, "  exit, quit          Exit")

	case ":set":
		if len(fields) < 3 {
			fmt.Fprintln(out, "usage: :set <name> <text>")
			return
		}
		s.vars[fields[1]] = strings.Join(fields[2:], " ")

	case ":unset":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :unset <name>")
			return
		}
		delete(s.vars, fields[1])

	case ":eval":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: :eval <expression>")
			return
		}
		s.eval(strings.Join(fields[1:], " "), out)

	case ":vars":
		if len(s.vars) == 0 {
			fmt.Fprintln(out, "(no variables)")
			return
		}
		names := make([]string, 0, len(s.vars))
		for name := range s.vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %s = %v\n", name, s.vars[name])
		}

	case ":lang":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :lang <tag>")
			return
		}
		s.ctx.Language = fields[1]

	case ":code":
		if s.last == nil {
			fmt.Fprintln(out, "(nothing compiled yet)")
			return
		}
		io.WriteString(out, s.last.Code())

	case ":clear":
		s.vars = map[string]any{}
		fmt.Fprintln(out, "Variables cleared")

	default:
		fmt.Fprintf(out, "Unknown command: %s (type :help for commands)\n", fields[0])
	}
}

// varScope adapts the session variables to the expression scope interface.
type varScope map[string]any

func (v varScope) Get(name string) (any, bool) {
	value, ok := v[name]
	return value, ok
}

// eval compiles and evaluates one expression against the session variables.
func (s *session) eval(text string, out io.Writer) {
	compiled, err := expr.New("").CompileExpression(text)
	if err != nil {
		printError(out, err)
		return
	}
	value, err := compiled.Eval(varScope(s.vars))
	if err != nil {
		printError(out, err)
		return
	}
	fmt.Fprintf(out, "%v\n", value)
}

func printError(out io.Writer, err error) {
	if te, ok := err.(*perrors.TemplateError); ok {
		io.WriteString(out, te.PrettyString())
		io.WriteString(out, "\n")
		return
	}
	fmt.Fprintf(out, "error: %v\n", err)
}

// filterCompletions returns suggestions for the last word being typed.
func filterCompletions(line string) []string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if line[len(line)-1] == ' ' || line[len(line)-1] == '\t' {
		return nil
	}

	words := strings.Fields(line)
	lastWord := words[len(words)-1]
	lastWord = strings.TrimLeft(lastWord, "<\"'=")

	var matches []string
	for _, word := range completionWords {
		if strings.HasPrefix(word, lastWord) {
			matches = append(matches, word)
		}
	}
	return matches
}

// needsMoreInput reports whether the document still has unclosed tags.
func needsMoreInput(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}

	depth := 0
	inQuote := false
	quoteChar := byte(0)

	for i := 0; i < len(input); i++ {
		ch := input[i]

		if inQuote {
			if ch == quoteChar {
				inQuote = false
			}
			continue
		}
		if ch == '"' || ch == '\'' {
			inQuote = true
			quoteChar = ch
			continue
		}

		if ch != '<' || i+1 >= len(input) {
			continue
		}
		next := input[i+1]
		switch {
		case next == '/':
			depth--
		case next == '!' || next == '?':
			// doctype or processing instruction
		case isTagNameStart(next):
			end := findTagEnd(input, i)
			if end < 0 {
				return true // tag itself unterminated
			}
			if input[end-1] != '/' {
				depth++
			}
		}
	}

	return depth > 0
}

func isTagNameStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

// findTagEnd finds the closing '>' of a tag starting at pos.
func findTagEnd(input string, pos int) int {
	inQuote := false
	quoteChar := byte(0)
	for i := pos + 1; i < len(input); i++ {
		ch := input[i]
		if inQuote {
			if ch == quoteChar {
				inQuote = false
			}
			continue
		}
		if ch == '"' || ch == '\'' {
			inQuote = true
			quoteChar = ch
			continue
		}
		if ch == '>' {
			return i
		}
	}
	return -1
}
