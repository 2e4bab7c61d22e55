package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/petalhq/petal/pkg/petal"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/i18n"
	"github.com/petalhq/petal/pkg/petal/loader"
	"github.com/petalhq/petal/pkg/petal/program"
	"github.com/petalhq/petal/pkg/petal/repl"
)

// Version is set at build time via -ldflags
var Version = "0.1.0-dev"

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv); err != nil {
		if te, ok := err.(*perrors.TemplateError); ok {
			fmt.Fprintln(os.Stderr, te.PrettyString())
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run is the main entry point, designed for testability (Mat Ryer pattern)
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) error {
	if len(args) > 0 {
		switch args[0] {
		case "render":
			return renderCommand(ctx, args[1:], stdout, getenv)
		case "check":
			return checkCommand(args[1:], stdout)
		case "code":
			return codeCommand(args[1:], stdout)
		case "repl":
			repl.Start(stdout, Version)
			return nil
		}
	}

	flags := flag.NewFlagSet("petal", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		showVersion = flags.Bool("version", false, "Show version")
		showHelp    = flags.Bool("help", false, "Show help")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	switch {
	case *showVersion:
		fmt.Fprintf(stdout, "petal version %s\n", Version)
	case *showHelp:
		printUsage(stdout)
	default:
		if len(args) == 0 {
			repl.Start(stdout, Version)
			return nil
		}
		printUsage(stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return nil
}

// renderCommand compiles and renders one template file.
func renderCommand(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	flags := flag.NewFlagSet("petal render", flag.ContinueOnError)
	var (
		configPath = flags.String("config", "", "Path to loader config file")
		language   = flags.String("lang", "", "Target language for translation")
		macro      = flags.String("macro", "", "Render one named macro")
		watch      = flags.Bool("watch", false, "Re-render when files change")
		varFlags   multiFlag
	)
	flags.Var(&varFlags, "var", "Variable binding name=value (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: petal render [options] <template>")
	}
	filename := flags.Arg(0)

	cfg := loader.Defaults()
	if *configPath != "" {
		loaded, err := loader.LoadConfig(*configPath, getenv)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	l := loader.New(cfg, loader.NewLogger(os.Stderr))

	renderCtx := &program.Context{Language: *language}
	if cfg.Translations != "" {
		catalog := i18n.NewCatalog()
		if err := catalog.LoadDir(cfg.Translations); err != nil {
			return err
		}
		renderCtx.Translate = catalog.Translate
	}

	vars := map[string]any{}
	for _, binding := range varFlags {
		name, value, ok := strings.Cut(binding, "=")
		if !ok {
			return fmt.Errorf("invalid --var %q (want name=value)", binding)
		}
		vars[name] = value
	}

	render := func() error {
		template, err := l.Load(filename)
		if err != nil {
			return err
		}
		if *macro != "" {
			template, err = template.Macro(*macro)
			if err != nil {
				return err
			}
		}
		out, err := template.Render(renderCtx, vars)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, out)
		return err
	}

	if !*watch && !cfg.Watch {
		return render()
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, err := loader.NewWatcher(l)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Start(ctx); err != nil {
		return err
	}

	if err := render(); err != nil {
		return err
	}
	last := w.ChangeSeq()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		if seq := w.ChangeSeq(); seq != last {
			last = seq
			if err := render(); err != nil {
				if te, ok := err.(*perrors.TemplateError); ok {
					fmt.Fprintln(os.Stderr, te.PrettyString())
				} else {
					return err
				}
			}
		}
	}
}

// checkCommand compiles templates without rendering, reporting errors.
func checkCommand(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: petal check <template>...")
	}
	failed := 0
	for _, filename := range args {
		source, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		if _, err := petal.Compile(source, petal.Config{Filename: filename}); err != nil {
			failed++
			if te, ok := err.(*perrors.TemplateError); ok {
				fmt.Fprintln(stdout, te.PrettyString())
			} else {
				fmt.Fprintf(stdout, "%s: %v\n", filename, err)
			}
			continue
		}
		fmt.Fprintf(stdout, "%s: ok\n", filename)
	}
	if failed > 0 {
		return fmt.Errorf("%d template(s) failed to compile", failed)
	}
	return nil
}

// codeCommand prints the emitted render program of a template.
func codeCommand(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("petal code", flag.ContinueOnError)
	macros := flags.Bool("macros", false, "List macros instead of code")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: petal code [options] <template>")
	}

	source, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		return err
	}
	template, err := petal.Compile(source, petal.Config{Filename: flags.Arg(0)})
	if err != nil {
		return err
	}

	if *macros {
		names := template.Macros()
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}
	io.WriteString(stdout, template.Code())
	return nil
}

// multiFlag collects repeated flag values.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `petal - attribute-language template compiler

Usage:
  petal <command> [options]

Commands:
  render TEMPLATE   Compile and render a template
  check TEMPLATE... Compile templates and report errors
  code TEMPLATE     Print the emitted render program
  repl              Interactive playground (default with no arguments)

Options:
  --version         Show version
  --help            Show this help

Examples:
  petal render page.pt --var title=Home
  petal render page.pt --config petal.yaml --lang de
  petal check layout.pt page.pt
  petal code page.pt

`)
}
