// Package pagetemplate provides ready-to-use template value types over the
// compiler: in-memory templates, file-backed templates with
// modification-time reload, and view-bound templates that seed the
// conventional rendering variables.
package pagetemplate

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petalhq/petal/pkg/petal"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/program"
)

// Params are the formal parameters seeded into every page template render:
// the request object, the template itself, the keyword options, and the
// conventional null alias.
var Params = []string{"request", "template", "options", "nothing"}

// ViewParams extend Params with the view-binding triple.
var ViewParams = []string{"view", "context", "request", "template", "options", "nothing"}

// PageTemplate is a standalone template compiled lazily from in-memory
// source. Safe for concurrent rendering.
type PageTemplate struct {
	source []byte
	config petal.Config

	once     sync.Once
	template *petal.Template
	compiled error
}

// New creates a page template from source text.
func New(source string) *PageTemplate {
	return &PageTemplate{
		source: []byte(source),
		config: petal.Config{Params: Params},
	}
}

func (t *PageTemplate) load() (*petal.Template, error) {
	t.once.Do(func() {
		t.template, t.compiled = petal.Compile(t.source, t.config)
	})
	return t.template, t.compiled
}

// Render executes the template. Options are exposed under "options"; the
// context carries the translation catalog and target language.
func (t *PageTemplate) Render(ctx *program.Context, options map[string]any) (string, error) {
	template, err := t.load()
	if err != nil {
		return "", err
	}
	return template.Render(ctx, renderVars(template, nil, nil, options))
}

// Macros lists the macros defined by the template source.
func (t *PageTemplate) Macros() ([]string, error) {
	template, err := t.load()
	if err != nil {
		return nil, err
	}
	return template.Macros(), nil
}

// RenderMacro renders one named macro of the template.
func (t *PageTemplate) RenderMacro(name string, ctx *program.Context, options map[string]any) (string, error) {
	template, err := t.load()
	if err != nil {
		return "", err
	}
	macro, err := template.Macro(name)
	if err != nil {
		return "", err
	}
	return macro.Render(ctx, renderVars(macro, nil, nil, options))
}

func renderVars(template *petal.Template, view, request any, options map[string]any) map[string]any {
	if options == nil {
		options = map[string]any{}
	}
	vars := map[string]any{
		"request":  request,
		"template": template,
		"options":  program.Mapping(options),
		"nothing":  nil,
	}
	if view != nil {
		vars["view"] = view
	}
	return vars
}

// PageTemplateFile is a file-backed template recompiled when the file's
// modification time changes.
type PageTemplateFile struct {
	filename string
	config   petal.Config

	mu       sync.Mutex
	template *petal.Template
	mtime    time.Time
}

// NewFile creates a file-backed template. A relative filename is resolved
// against dir when dir is non-empty.
func NewFile(filename, dir string) *PageTemplateFile {
	if dir != "" && !filepath.IsAbs(filename) {
		filename = filepath.Join(dir, filename)
	}
	return &PageTemplateFile{
		filename: filename,
		config:   petal.Config{Params: Params, Filename: filename},
	}
}

// Filename returns the resolved template path.
func (t *PageTemplateFile) Filename() string { return t.filename }

func (t *PageTemplateFile) load() (*petal.Template, error) {
	info, err := os.Stat(t.filename)
	if err != nil {
		return nil, perrors.New(perrors.ClassIO, "PT-0001",
			"template not found: %s", t.filename)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.template != nil && t.mtime.Equal(info.ModTime()) {
		return t.template, nil
	}

	source, err := os.ReadFile(t.filename)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ClassIO, "PT-0002",
			"cannot read template %s", t.filename)
	}
	template, err := petal.Compile(source, t.config)
	if err != nil {
		return nil, err
	}

	t.template = template
	t.mtime = info.ModTime()
	return template, nil
}

// Render executes the template, recompiling first if the file changed.
func (t *PageTemplateFile) Render(ctx *program.Context, options map[string]any) (string, error) {
	template, err := t.load()
	if err != nil {
		return "", err
	}
	return template.Render(ctx, renderVars(template, nil, nil, options))
}

// RenderMacro renders one named macro of the template file.
func (t *PageTemplateFile) RenderMacro(name string, ctx *program.Context, options map[string]any) (string, error) {
	template, err := t.load()
	if err != nil {
		return "", err
	}
	macro, err := template.Macro(name)
	if err != nil {
		return "", err
	}
	return macro.Render(ctx, renderVars(macro, nil, nil, options))
}

// View supplies the conventional view-binding triple for ViewPageTemplate
// rendering.
type View interface {
	Context() any
	Request() any
}

// ViewPageTemplate binds a view object into the template scope: "view",
// "context" and "request" are set from the view, keyword options pass
// through under "options".
type ViewPageTemplate struct {
	inner *PageTemplate
}

// NewView creates a view-bound template from source text.
func NewView(source string) *ViewPageTemplate {
	t := &ViewPageTemplate{inner: New(source)}
	t.inner.config.Params = ViewParams
	return t
}

// Render executes the template against a view.
func (t *ViewPageTemplate) Render(view View, ctx *program.Context, options map[string]any) (string, error) {
	template, err := t.inner.load()
	if err != nil {
		return "", err
	}
	vars := renderVars(template, view, view.Request(), options)
	vars["context"] = view.Context()
	return template.Render(ctx, vars)
}
