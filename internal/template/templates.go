// Package template loads canned-reply templates from YAML files and
// renders them with simple {{var}} substitution.
package template

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template is one canned reply.
type Template struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Body        string `yaml:"body" json:"body"`
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Library holds the loaded templates. Safe for concurrent use.
type Library struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// LoadDirectory reads every .yaml/.yml file in dir into a Library.
// A missing directory yields an empty library, not an error.
func LoadDirectory(dir string, logger *slog.Logger) (*Library, error) {
	lib := &Library{templates: make(map[string]Template)}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("templates directory does not exist, skipping", "dir", dir)
		return lib, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read template file", "path", path, "err", err)
			continue
		}

		var tpl Template
		if err := yaml.Unmarshal(data, &tpl); err != nil {
			logger.Warn("cannot parse template file", "path", path, "err", err)
			continue
		}
		if tpl.Name == "" {
			tpl.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if tpl.Body == "" {
			logger.Warn("template has no body, skipping", "path", path)
			continue
		}

		logger.Info("loaded template", "name", tpl.Name, "path", path)
		lib.templates[tpl.Name] = tpl
	}

	return lib, nil
}

// Render substitutes {{var}} placeholders in the named template.
// Placeholders without a matching variable are left in place so the
// gap is visible in the sent message rather than silently blanked.
func (l *Library) Render(name string, vars map[string]string) (string, error) {
	l.mu.RLock()
	tpl, ok := l.templates[name]
	l.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}

	out := placeholder.ReplaceAllStringFunc(tpl.Body, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
	return out, nil
}

// List returns every template sorted by name.
func (l *Library) List() []Template {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Template, 0, len(l.templates))
	for _, tpl := range l.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
