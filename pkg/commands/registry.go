// Package commands parses prefixed chat messages and runs the matching
// plugin with the caller's resolved permissions.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrDuplicateCommand = errors.New("command name or alias already registered")
	ErrInvalidPlugin    = errors.New("plugin needs a name and a handler")
)

type Handler func(ctx context.Context, c *Context) error

type Plugin struct {
	Name        string
	Aliases     []string
	Category    string
	Description string
	Usage       string
	OwnerOnly   bool
	GroupOnly   bool
	AdminOnly   bool
	Handler     Handler
}

// Registry maps lower-cased names and aliases to plugins
type Registry struct {
	mu      sync.RWMutex
	plugins []*Plugin
	byName  map[string]*Plugin
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Plugin)}
}

func (r *Registry) Register(p Plugin) error {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" || p.Handler == nil {
		return ErrInvalidPlugin
	}
	p.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := []string{name}
	for _, alias := range p.Aliases {
		if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" {
			keys = append(keys, alias)
		}
	}
	for _, key := range keys {
		if _, exists := r.byName[key]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, key)
		}
	}

	plugin := &p
	plugin.Aliases = keys[1:]
	for _, key := range keys {
		r.byName[key] = plugin
	}
	r.plugins = append(r.plugins, plugin)
	return nil
}

// MustRegister panics on registration errors. Meant for static plugin sets.
func (r *Registry) MustRegister(plugins ...Plugin) {
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Lookup matches a name or alias case-insensitively
func (r *Registry) Lookup(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

// Plugins returns every plugin sorted by category then name
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, *p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}
