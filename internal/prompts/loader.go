package prompts

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt names used by the LLM collaborators
const (
	Planner     = "planner"
	Synthesizer = "synthesizer"
	Improver    = "improver"
)

// Prompt is a named system message plus a user message template
type Prompt struct {
	Name   string
	System string
	tmpl   *template.Template
}

// Render executes the user template against data
func (p *Prompt) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", p.Name, err)
	}
	return buf.String(), nil
}

// Loader manages built-in prompts and YAML overrides
type Loader struct {
	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewLoader creates a loader seeded with the built-in prompts
func NewLoader() *Loader {
	l := &Loader{
		prompts: make(map[string]*Prompt),
	}

	for name, def := range builtin {
		p, err := compile(name, def.System, def.Template)
		if err != nil {
			panic(fmt.Sprintf("builtin prompt %s: %v", name, err))
		}
		l.prompts[name] = p
	}

	return l
}

// LoadFromDir loads every YAML prompt override in dir. A missing directory
// is not an error; built-in prompts stay in effect.
func (l *Loader) LoadFromDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Debug("prompts directory not found, using built-in prompts", "dir", dir)
		return nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load prompt", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("prompt overrides loaded", "dir", dir, "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single prompt from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if pf.Name == "" {
		base := filepath.Base(path)
		pf.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if strings.TrimSpace(pf.Template) == "" {
		return fmt.Errorf("prompt %s: template is required", pf.Name)
	}

	// Overrides may replace only the user template
	if pf.System == "" {
		if existing := l.Get(pf.Name); existing != nil {
			pf.System = existing.System
		}
	}

	p, err := compile(pf.Name, pf.System, pf.Template)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.prompts[pf.Name] = p
	l.mu.Unlock()

	slog.Info("prompt loaded", "name", pf.Name, "file", path)
	return nil
}

// Get retrieves a prompt by name
func (l *Loader) Get(name string) *Prompt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prompts[name]
}

// Render renders the named prompt, returning its system and user messages
func (l *Loader) Render(name string, data any) (system, user string, err error) {
	p := l.Get(name)
	if p == nil {
		return "", "", fmt.Errorf("prompt %q not found", name)
	}
	user, err = p.Render(data)
	if err != nil {
		return "", "", err
	}
	return p.System, user, nil
}

func compile(name, system, text string) (*Prompt, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return &Prompt{Name: name, System: system, tmpl: tmpl}, nil
}

var funcs = template.FuncMap{
	"join":     strings.Join,
	"truncate": truncate,
}

func truncate(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// promptFile represents the YAML structure of a prompt override
type promptFile struct {
	Name     string `yaml:"name"`
	System   string `yaml:"system"`
	Template string `yaml:"template"`
}
