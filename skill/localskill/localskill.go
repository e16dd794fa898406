// Package localskill implements the Local Skill Source (§4.6): discovering
// SKILL.md manifests on disk and exposing their declared actions as tool
// descriptors, with invocations dispatched to caller-registered handlers.
//
// The manifest parser is new — grounded directly on spec.md §4.6/§6's exact
// format rules, since no example repo parses this particular shape. The
// source-lifecycle shape (name/tools-map/mutex, Initialize/Tools/Execute/
// Destroy) is grounded on pkg/tools/local.go's LocalToolSource. Directory
// scanning is grounded on pkg/plugins/discovery.go's DiscoverPlugins, which
// walks configured paths looking for a manifest file per directory.
package localskill

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/arcveil/conduit/errs"
	"github.com/arcveil/conduit/skill"
)

// requiredMarker is the localization-neutral token whose presence in a
// parameter's description flags it optional (§4.6).
const requiredMarker = "可选"

// ActionHandler implements one manifest-declared action. A skill's
// implementation module is, in Go terms, just a map of these bound at
// construction time — there is no dynamic code loading.
type ActionHandler func(ctx context.Context, params map[string]any) (string, error)

// Manifest is the parsed form of a SKILL.md file.
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description"`
	Author       string   `yaml:"author"`
	Dependencies []string `yaml:"dependencies"`

	Actions []ActionDescriptor `yaml:"-"`
}

// ActionDescriptor is one `### <action_name>` block under `## Actions`.
type ActionDescriptor struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Parameter is one bullet-line parameter declaration within an action.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ParseManifest parses a SKILL.md file's contents: a `---`-delimited YAML
// header followed by a Markdown body enumerating actions under `## Actions`
// as `### <action_name>` subsections (§4.6, §6).
func ParseManifest(data []byte) (*Manifest, error) {
	header, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal([]byte(header), &m); err != nil {
		return nil, fmt.Errorf("parse manifest header: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest missing required field: name")
	}

	m.Actions = parseActions(body)
	return &m, nil
}

func splitFrontMatter(data []byte) (header, body string, err error) {
	text := string(data)
	text = strings.TrimLeft(text, "﻿ \t\r\n")
	if !strings.HasPrefix(text, "---") {
		return "", "", fmt.Errorf("manifest missing --- front matter delimiter")
	}
	text = text[3:]
	idx := strings.Index(text, "---")
	if idx < 0 {
		return "", "", fmt.Errorf("manifest missing closing --- delimiter")
	}
	return text[:idx], text[idx+3:], nil
}

// parseActions scans the Markdown body for `## Actions`, then for each
// `### <name>` subsection takes the first non-bullet line as the
// description and each subsequent bullet line as a parameter declaration,
// per §4.6/§6.
func parseActions(body string) []ActionDescriptor {
	var actions []ActionDescriptor
	var current *ActionDescriptor
	inActionsSection := false

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "## "):
			if current != nil {
				actions = append(actions, *current)
				current = nil
			}
			inActionsSection = strings.EqualFold(strings.TrimSpace(trimmed[3:]), "Actions")

		case inActionsSection && strings.HasPrefix(trimmed, "### "):
			if current != nil {
				actions = append(actions, *current)
			}
			name := strings.TrimSpace(trimmed[4:])
			current = &ActionDescriptor{Name: name}

		case inActionsSection && current != nil && strings.HasPrefix(trimmed, "-"):
			if p, ok := parseParameterLine(trimmed); ok {
				current.Parameters = append(current.Parameters, p)
			}

		case inActionsSection && current != nil && trimmed != "" && current.Description == "":
			current.Description = trimmed
		}
	}
	if current != nil {
		actions = append(actions, *current)
	}
	return actions
}

// parseParameterLine parses either
//
//	- **参数**: `name` (type) - description
//	- `name` (type) - description
func parseParameterLine(line string) (Parameter, bool) {
	rest := strings.TrimPrefix(line, "-")
	rest = strings.TrimSpace(rest)
	rest = strings.TrimPrefix(rest, "**参数**:")
	rest = strings.TrimSpace(rest)

	if !strings.HasPrefix(rest, "`") {
		return Parameter{}, false
	}
	rest = rest[1:]
	end := strings.Index(rest, "`")
	if end < 0 {
		return Parameter{}, false
	}
	name := rest[:end]
	rest = strings.TrimSpace(rest[end+1:])

	typ := ""
	if strings.HasPrefix(rest, "(") {
		if close := strings.Index(rest, ")"); close > 0 {
			typ = rest[1:close]
			rest = strings.TrimSpace(rest[close+1:])
		}
	}
	rest = strings.TrimPrefix(rest, "-")
	desc := strings.TrimSpace(rest)

	return Parameter{
		Name:        name,
		Type:        typ,
		Description: desc,
		Required:    !strings.Contains(desc, requiredMarker),
	}, true
}

// toolParameters converts an action's parameters into the object-typed
// JSON-Schema shape the Skill Registry advertises (§4.6).
func toolParameters(params []Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Source loads one skill directory's SKILL.md and dispatches its declared
// actions to caller-supplied handlers.
type Source struct {
	dir      string
	handlers map[string]ActionHandler

	mu       sync.RWMutex
	manifest *Manifest
	tools    []skill.Descriptor
}

// New constructs a Source for the skill directory dir. handlers maps
// action name (not the fully-qualified "<skill>.<action>" tool name) to
// its implementation.
func New(dir string, handlers map[string]ActionHandler) *Source {
	return &Source{dir: dir, handlers: handlers}
}

func (s *Source) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.manifest == nil {
		return filepath.Base(s.dir)
	}
	return s.manifest.Name
}

func (s *Source) Type() string { return "local" }

// Initialize reads and parses <dir>/SKILL.md and builds the advertised
// tool descriptors. An action declared in the manifest without a bound
// handler is still advertised; Execute rejects calls to it with
// errs.KindToolNotFound rather than taking down every other action in the
// same source.
func (s *Source) Initialize(ctx context.Context) error {
	path := filepath.Join(s.dir, "SKILL.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.KindConfig, "localskill", "Initialize", path, err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return errs.New(errs.KindConfig, "localskill", "Initialize", path, err)
	}

	tools := make([]skill.Descriptor, 0, len(manifest.Actions))
	for _, a := range manifest.Actions {
		tools = append(tools, skill.Descriptor{
			Name:        manifest.Name + "." + a.Name,
			Description: a.Description,
			Parameters:  toolParameters(a.Parameters),
		})
	}

	s.mu.Lock()
	s.manifest = manifest
	s.tools = tools
	s.mu.Unlock()
	return nil
}

func (s *Source) Tools() []skill.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools
}

// Execute strips the "<skill>.", prefix and dispatches to the bound
// handler for that action.
func (s *Source) Execute(ctx context.Context, toolName string, params map[string]any) (string, error) {
	s.mu.RLock()
	manifest := s.manifest
	s.mu.RUnlock()
	if manifest == nil {
		return "", errs.New(errs.KindNotConnected, "localskill", "Execute", toolName, nil)
	}

	action := strings.TrimPrefix(toolName, manifest.Name+".")
	handler, ok := s.handlers[action]
	if !ok {
		return "", errs.New(errs.KindToolNotFound, "localskill", "Execute", toolName, nil)
	}
	return handler(ctx, params)
}

func (s *Source) Destroy(ctx context.Context) error { return nil }

// DiscoverDirectories walks root (and, if recursive, its subdirectories)
// looking for SKILL.md files, returning the directory of each one found.
// Grounded on pkg/plugins/discovery.go's DiscoverPlugins path-walking.
func DiscoverDirectories(root string, recursive bool) ([]string, error) {
	var dirs []string

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "localskill", "DiscoverDirectories", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(sub, "SKILL.md")); err == nil {
			dirs = append(dirs, sub)
		}
		if recursive {
			nested, err := DiscoverDirectories(sub, true)
			if err == nil {
				dirs = append(dirs, nested...)
			}
		}
	}
	return dirs, nil
}
