package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config describes a loader setup, usually read from a YAML file.
type Config struct {
	// SearchPath lists the directories searched for template files, in
	// order.
	SearchPath []string `yaml:"search_path"`
	// Translations is a directory of <domain>.<language>.yaml catalogs.
	Translations string `yaml:"translations"`
	// CodeDump is a directory receiving compressed emitted-code dumps for
	// inspection; empty disables dumping.
	CodeDump string `yaml:"code_dump"`
	// DefaultExpression sets the expression kind assumed without a prefix.
	DefaultExpression string `yaml:"default_expression"`
	// Watch enables filesystem watching with cache invalidation.
	Watch bool `yaml:"watch"`
	// AutoReload recompiles on modification-time change without a watcher.
	AutoReload bool `yaml:"auto_reload"`
}

// Defaults returns the default loader configuration.
func Defaults() *Config {
	return &Config{AutoReload: true}
}

// LoadConfig reads a YAML config file with ${VAR} and ${VAR:-default}
// environment interpolation. Relative search paths are resolved against the
// config file's directory.
func LoadConfig(path string, getenv func(string) string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	data = interpolateEnv(data, getenv)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	baseDir := filepath.Dir(absPath)

	for i, dir := range cfg.SearchPath {
		if !filepath.IsAbs(dir) {
			cfg.SearchPath[i] = filepath.Join(baseDir, dir)
		}
	}
	if cfg.Translations != "" && !filepath.IsAbs(cfg.Translations) {
		cfg.Translations = filepath.Join(baseDir, cfg.Translations)
	}
	if cfg.CodeDump != "" && !filepath.IsAbs(cfg.CodeDump) {
		cfg.CodeDump = filepath.Join(baseDir, cfg.CodeDump)
	}

	return cfg, nil
}

// envPattern matches ${VAR} or ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		value := getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}
