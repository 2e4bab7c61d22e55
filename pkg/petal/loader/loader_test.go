package loader

import (
	"bytes"
	"context"
	goerrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
)

func writeTemplate(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	abs := writeTemplate(t, dir, "page.pt", `<p>x</p>`)

	l := New(&Config{SearchPath: []string{dir}}, nil)

	got, err := l.Find("page.pt")
	if err != nil || got != abs {
		t.Errorf("Find = %q, %v", got, err)
	}
	got, err = l.Find(abs)
	if err != nil || got != abs {
		t.Errorf("Find(abs) = %q, %v", got, err)
	}

	_, err = l.Find("missing.pt")
	var te *perrors.TemplateError
	if !goerrors.As(err, &te) || te.Code != "LOAD-0001" {
		t.Errorf("missing file: %v", err)
	}
}

func TestFindSearchOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeTemplate(t, first, "page.pt", `<p>first</p>`)
	writeTemplate(t, second, "page.pt", `<p>second</p>`)

	l := New(&Config{SearchPath: []string{first, second}}, nil)
	got, err := l.Find("page.pt")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(first, "page.pt") {
		t.Errorf("Find resolved %q, want the first search directory", got)
	}
}

func TestLoadCachesCompiledTemplate(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "page.pt", `<p tal:content="v">x</p>`)

	l := New(&Config{SearchPath: []string{dir}}, nil)
	first, err := l.Load("page.pt")
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Load("page.pt")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("second Load should return the cached template")
	}
	if !l.Cached(path) {
		t.Error("Cached should report the entry")
	}

	out, err := first.Render(nil, map[string]any{"v": "hi"})
	if err != nil || out != "<p>hi</p>" {
		t.Errorf("Render = %q, %v", out, err)
	}
}

func TestLoadAutoReload(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "page.pt", `<p>old</p>`)

	l := New(&Config{SearchPath: []string{dir}, AutoReload: true}, nil)
	first, err := l.Load("page.pt")
	if err != nil {
		t.Fatal(err)
	}

	writeTemplate(t, dir, "page.pt", `<p>new</p>`)
	bumped := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, bumped, bumped); err != nil {
		t.Fatal(err)
	}

	second, err := l.Load("page.pt")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("modified template should be recompiled")
	}
	out, err := second.Render(nil, nil)
	if err != nil || out != "<p>new</p>" {
		t.Errorf("Render = %q, %v", out, err)
	}
}

func TestInvalidateForcesRecompile(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "page.pt", `<p>x</p>`)

	l := New(&Config{SearchPath: []string{dir}, AutoReload: false}, nil)
	first, err := l.Load("page.pt")
	if err != nil {
		t.Fatal(err)
	}

	l.Invalidate(path)
	if l.Cached(path) {
		t.Error("Invalidate should drop the entry")
	}
	second, err := l.Load("page.pt")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("invalidated template should be recompiled")
	}
}

func TestLoadGzippedSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.pt.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(`<p tal:content="v">x</p>`))
	gz.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	l := New(&Config{SearchPath: []string{dir}}, nil)
	template, err := l.Load("page.pt.gz")
	if err != nil {
		t.Fatal(err)
	}
	out, err := template.Render(nil, map[string]any{"v": "hi"})
	if err != nil || out != "<p>hi</p>" {
		t.Errorf("Render = %q, %v", out, err)
	}
}

func TestCodeDump(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(t.TempDir(), "dumps")
	writeTemplate(t, dir, "page.pt", `<p>x</p>`)

	l := New(&Config{SearchPath: []string{dir}, CodeDump: dump}, nil)
	if _, err := l.Load("page.pt"); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dump, "page.pt.code.gz"))
	if err != nil {
		t.Fatalf("dump file missing: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	var code bytes.Buffer
	if _, err := code.ReadFrom(gz); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(code.String(), "def render(") {
		t.Errorf("dumped code = %q", code.String())
	}
}

func TestCompileErrorCarriesPath(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "bad.pt", `<p tal:bogus="x">y</p>`)

	l := New(&Config{SearchPath: []string{dir}}, nil)
	_, err := l.Load("bad.pt")
	var te *perrors.TemplateError
	if !goerrors.As(err, &te) {
		t.Fatalf("error is %T", err)
	}
	if te.File != path {
		t.Errorf("File = %q, want %q", te.File, path)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "petal.yaml")
	content := "search_path:\n" +
		"  - templates\n" +
		"  - ${EXTRA_DIR:-fallback}\n" +
		"translations: i18n\n" +
		"default_expression: ${EXPR_KIND}\n" +
		"watch: true\n"
	if err := os.WriteFile(config, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	env := map[string]string{"EXPR_KIND": "path"}
	cfg, err := LoadConfig(config, func(k string) string { return env[k] })
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.SearchPath) != 2 {
		t.Fatalf("SearchPath = %v", cfg.SearchPath)
	}
	if cfg.SearchPath[0] != filepath.Join(dir, "templates") {
		t.Errorf("relative search path not resolved: %q", cfg.SearchPath[0])
	}
	if cfg.SearchPath[1] != filepath.Join(dir, "fallback") {
		t.Errorf("env default not applied: %q", cfg.SearchPath[1])
	}
	if cfg.Translations != filepath.Join(dir, "i18n") {
		t.Errorf("Translations = %q", cfg.Translations)
	}
	if cfg.DefaultExpression != "path" {
		t.Errorf("DefaultExpression = %q", cfg.DefaultExpression)
	}
	if !cfg.Watch {
		t.Error("Watch not set")
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestInterpolateEnv(t *testing.T) {
	env := map[string]string{"SET": "value"}
	getenv := func(k string) string { return env[k] }

	tests := []struct {
		in, want string
	}{
		{"a: ${SET}", "a: value"},
		{"a: ${UNSET:-deflt}", "a: deflt"},
		{"a: ${SET:-deflt}", "a: value"},
		{"a: ${UNSET}", "a: "},
		{"a: plain", "a: plain"},
	}
	for _, tt := range tests {
		if got := string(interpolateEnv([]byte(tt.in), getenv)); got != tt.want {
			t.Errorf("interpolateEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf)
	log.Infof("compiled %s", "x.pt")
	log.Errorf("boom: %d", 7)

	out := buf.String()
	if !strings.Contains(out, "[LOADER] compiled x.pt\n") {
		t.Errorf("info line missing from %q", out)
	}
	if !strings.Contains(out, "[LOADER ERROR] boom: 7\n") {
		t.Errorf("error line missing from %q", out)
	}
}

func TestWatcherInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "page.pt", `<p>x</p>`)

	l := New(&Config{SearchPath: []string{dir}, AutoReload: false, Watch: true}, nil)
	if _, err := l.Load("page.pt"); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(l)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	writeTemplate(t, dir, "page.pt", `<p>changed</p>`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !l.Cached(path) && w.ChangeSeq() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cache entry not invalidated: cached=%v seq=%d",
		l.Cached(path), w.ChangeSeq())
}
