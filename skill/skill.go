// Package skill defines the skill-source contract (§6) and the Skill
// Registry (§4.4) that aggregates tool descriptors across sources and
// routes invocations to the owning source.
//
// Grounded on pkg/tools/registry.go's ToolEntry/ToolRegistry shape and its
// otel span wrapping of execution. Collision handling deliberately
// departs from the teacher: pkg/tools/registry.go skips a colliding tool
// name with a warning, but spec.md §3/§4.4 requires the most-recently
// registered source to win and the replaced source to be destroyed — this
// package implements the spec's rule, not the teacher's.
package skill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arcveil/conduit/errs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Descriptor is what gets advertised to the agent loop / LLM (§3).
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Source is the contract every skill provider implements: local manifest
// directories and remote MCP servers alike (§6).
type Source interface {
	Name() string
	Type() string // "local" | "mcp"
	Initialize(ctx context.Context) error
	Tools() []Descriptor
	Execute(ctx context.Context, toolName string, params map[string]any) (string, error)
	Destroy(ctx context.Context) error
}

var tracer = otel.Tracer("conduit.skill")

// Registry aggregates Sources and dispatches tool-calls to whichever
// currently advertises the name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	// cache maps a tool name to the source currently advertising it;
	// invalidated on every register/unregister per §4.4.
	cache map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
		cache:   make(map[string]Source),
	}
}

// RegisterSource installs src. If a source with the same name is already
// registered it is destroyed first. On src.Initialize failure, the source
// is not installed and the error is returned. Listing tools during
// installation never observes a half-initialized source: the cache and
// source map are updated only after Initialize succeeds.
func (r *Registry) RegisterSource(ctx context.Context, src Source) error {
	name := src.Name()
	if name == "" {
		return errs.New(errs.KindConfig, "skill-registry", "RegisterSource", "source name cannot be empty", nil)
	}

	r.mu.Lock()
	old, exists := r.sources[name]
	r.mu.Unlock()

	if exists {
		if err := old.Destroy(ctx); err != nil {
			slog.Warn("skill registry: error destroying replaced source", "source", name, "error", err)
		}
	}

	if err := src.Initialize(ctx); err != nil {
		return errs.New(errs.KindConfig, "skill-registry", "RegisterSource",
			fmt.Sprintf("initialize source %q", name), err)
	}

	r.mu.Lock()
	r.sources[name] = src
	r.invalidateCacheLocked()
	r.mu.Unlock()
	return nil
}

// UnregisterSource destroys and removes the named source.
func (r *Registry) UnregisterSource(ctx context.Context, name string) error {
	r.mu.Lock()
	src, exists := r.sources[name]
	if exists {
		delete(r.sources, name)
		r.invalidateCacheLocked()
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}
	return src.Destroy(ctx)
}

func (r *Registry) invalidateCacheLocked() {
	r.cache = make(map[string]Source)
}

// Descriptors returns the union of every source's advertised tools. A
// source whose Tools() call panics or is otherwise unavailable contributes
// nothing — sources are expected to return an empty slice on internal
// failure rather than panic, so this is a defensive best-effort union.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	sources := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mu.RUnlock()

	var all []Descriptor
	newCache := make(map[string]Source)
	for _, s := range sources {
		tools := func() (ds []Descriptor) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Warn("skill registry: source Tools() panicked", "source", s.Name(), "error", rec)
					ds = nil
				}
			}()
			return s.Tools()
		}()
		for _, d := range tools {
			all = append(all, d)
			newCache[d.Name] = s
		}
	}

	r.mu.Lock()
	r.cache = newCache
	r.mu.Unlock()

	return all
}

// Search returns descriptors whose name or description contains query
// (case-insensitive).
func (r *Registry) Search(query string) []Descriptor {
	q := strings.ToLower(query)
	var out []Descriptor
	for _, d := range r.Descriptors() {
		if strings.Contains(strings.ToLower(d.Name), q) || strings.Contains(strings.ToLower(d.Description), q) {
			out = append(out, d)
		}
	}
	return out
}

// Execute locates the source currently advertising toolName and invokes
// it, wrapped in an otel span.
func (r *Registry) Execute(ctx context.Context, toolName string, params map[string]any) (string, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "skill.execute",
		trace.WithAttributes(attribute.String("tool.name", toolName)))
	defer span.End()

	src := r.lookup(toolName)
	if src == nil {
		err := errs.New(errs.KindToolNotFound, "skill-registry", "Execute", toolName, nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		return "", err
	}

	result, err := src.Execute(ctx, toolName, params)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return result, err
}

func (r *Registry) lookup(toolName string) Source {
	r.mu.RLock()
	if s, ok := r.cache[toolName]; ok {
		r.mu.RUnlock()
		return s
	}
	sources := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mu.RUnlock()

	for _, s := range sources {
		for _, d := range s.Tools() {
			if d.Name == toolName {
				r.mu.Lock()
				r.cache[toolName] = s
				r.mu.Unlock()
				return s
			}
		}
	}
	return nil
}

// Sources returns the names of every registered source, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
