// Package loader resolves template files across a search path and caches
// compiled templates, with optional filesystem watching and compressed
// emitted-code dumps.
package loader

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/petalhq/petal/pkg/petal"
	perrors "github.com/petalhq/petal/pkg/petal/errors"
)

// Loader finds, compiles and caches templates. It is safe for concurrent
// use.
type Loader struct {
	config *Config
	log    Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	template *petal.Template
	path     string
	mtime    time.Time
}

// New creates a loader over a configuration. A nil config gets defaults; a
// nil logger discards diagnostics.
func New(config *Config, log Logger) *Loader {
	if config == nil {
		config = Defaults()
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Loader{
		config:  config,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Find resolves a template filename against the search path. Absolute paths
// bypass the search.
func (l *Loader) Find(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		if _, err := os.Stat(filename); err != nil {
			return "", perrors.New(perrors.ClassIO, "LOAD-0001",
				"template not found: %s", filename)
		}
		return filename, nil
	}

	for _, dir := range l.config.SearchPath {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", perrors.New(perrors.ClassIO, "LOAD-0001",
		"template not found on search path: %s", filename)
}

// Load returns the compiled template for a filename, compiling it on first
// use and recompiling when the file changes (auto-reload mode) or when the
// watcher invalidated it.
func (l *Loader) Load(filename string, params ...string) (*petal.Template, error) {
	path, err := l.Find(filename)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ClassIO, "LOAD-0002",
			"cannot stat template %s", path)
	}

	l.mu.RLock()
	e, ok := l.entries[path]
	l.mu.RUnlock()
	if ok && (!l.config.AutoReload || e.mtime.Equal(info.ModTime())) {
		return e.template, nil
	}

	template, err := l.compile(path, params)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.entries[path] = &entry{template: template, path: path, mtime: info.ModTime()}
	l.mu.Unlock()

	l.log.Infof("compiled %s", path)
	return template, nil
}

func (l *Loader) compile(path string, params []string) (*petal.Template, error) {
	source, err := readSource(path)
	if err != nil {
		return nil, err
	}

	template, err := petal.Compile(source, petal.Config{
		Params:            params,
		DefaultExpression: l.config.DefaultExpression,
		Filename:          path,
	})
	if err != nil {
		return nil, err
	}

	if l.config.CodeDump != "" {
		if err := l.dumpCode(path, template.Code()); err != nil {
			l.log.Errorf("code dump failed for %s: %v", path, err)
		}
	}
	return template, nil
}

// readSource reads a template file, transparently decompressing a .gz
// suffix.
func readSource(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ClassIO, "LOAD-0003",
			"cannot open template %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, perrors.Wrap(err, perrors.ClassIO, "LOAD-0004",
				"cannot decompress template %s", path)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ClassIO, "LOAD-0003",
			"cannot read template %s", path)
	}
	return data, nil
}

// dumpCode writes the emitted render program, gzip compressed, into the
// configured dump directory.
func (l *Loader) dumpCode(templatePath, code string) error {
	if err := os.MkdirAll(l.config.CodeDump, 0o755); err != nil {
		return err
	}
	name := strings.ReplaceAll(filepath.Base(templatePath), string(filepath.Separator), "_")
	out := filepath.Join(l.config.CodeDump, name+".code.gz")

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(code)); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// Invalidate drops the cached entry for a path. The watcher calls it on
// file changes.
func (l *Loader) Invalidate(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, path)
}

// InvalidateAll drops every cached entry.
func (l *Loader) InvalidateAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

// Cached reports whether a resolved path has a live cache entry.
func (l *Loader) Cached(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[path]
	return ok
}
