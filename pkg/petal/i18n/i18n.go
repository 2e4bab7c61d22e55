// Package i18n provides a YAML-backed message catalog implementing the
// translation collaborator contract of compiled templates.
//
// Catalog files are named <domain>.<language>.yaml and hold a flat mapping
// of message ids to translated text. Translated text may contain ${name}
// placeholders substituted from the translation mapping captured during
// rendering.
package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	perrors "github.com/petalhq/petal/pkg/petal/errors"
	"github.com/petalhq/petal/pkg/petal/program"
)

// Catalog holds translations per domain and language. It is safe for
// concurrent lookup while loading is serialized.
type Catalog struct {
	mu      sync.RWMutex
	domains map[string]*domain
}

type domain struct {
	languages map[string]map[string]string
	matcher   language.Matcher
	tags      []language.Tag
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{domains: make(map[string]*domain)}
}

// Add registers a message table for a domain and language.
func (c *Catalog) Add(domainName, lang string, messages map[string]string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return perrors.New(perrors.ClassIO, "I18N-0001",
			"invalid language %q: %v", lang, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.domains[domainName]
	if !ok {
		d = &domain{languages: make(map[string]map[string]string)}
		c.domains[domainName] = d
	}

	canonical := tag.String()
	table, ok := d.languages[canonical]
	if !ok {
		table = make(map[string]string, len(messages))
		d.languages[canonical] = table
		d.tags = append(d.tags, tag)
		d.matcher = language.NewMatcher(d.tags)
	}
	for msgid, text := range messages {
		table[msgid] = text
	}
	return nil
}

// LoadDir loads every <domain>.<language>.yaml file in a directory.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return perrors.Wrap(err, perrors.ClassIO, "I18N-0002",
			"cannot read catalog directory %q", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		parts := strings.Split(base, ".")
		if len(parts) != 2 {
			continue // not a <domain>.<language> file
		}
		if err := c.LoadFile(filepath.Join(dir, name), parts[0], parts[1]); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads one YAML message table into a domain and language.
func (c *Catalog) LoadFile(path, domainName, lang string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return perrors.Wrap(err, perrors.ClassIO, "I18N-0003",
			"cannot read catalog file %q", path)
	}

	var messages map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return perrors.Wrap(err, perrors.ClassIO, "I18N-0004",
			"malformed catalog file %q", path)
	}
	return c.Add(domainName, lang, messages)
}

// Lookup resolves a message id for a domain against the best matching
// loaded language.
func (c *Catalog) Lookup(domainName, lang, msgid string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.domains[domainName]
	if !ok || len(d.tags) == 0 {
		return "", false
	}

	desired, err := language.Parse(lang)
	if err != nil {
		return "", false
	}
	_, index, confidence := d.matcher.Match(desired)
	if confidence == language.No {
		return "", false
	}

	table := d.languages[d.tags[index].String()]
	text, ok := table[msgid]
	return text, ok
}

// Translate implements the five-argument translation contract. A catalog
// miss returns deflt unchanged, preserving sentinel identity for the
// compiled fallback path.
func (c *Catalog) Translate(msgid, domainName string, mapping program.Mapping,
	context any, targetLanguage string, deflt any) any {

	if msgid == "" || targetLanguage == "" {
		return deflt
	}
	text, ok := c.Lookup(domainName, targetLanguage, msgid)
	if !ok {
		return deflt
	}
	return Substitute(text, mapping)
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces ${name} placeholders with mapping values. Unknown
// names are left in place.
func Substitute(text string, mapping program.Mapping) string {
	if mapping == nil {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := mapping[name]; ok {
			return fmt.Sprint(value)
		}
		return match
	})
}

// Languages lists the loaded languages of a domain.
func (c *Catalog) Languages(domainName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.domains[domainName]
	if !ok {
		return nil
	}
	out := make([]string, len(d.tags))
	for i, tag := range d.tags {
		out[i] = tag.String()
	}
	return out
}
