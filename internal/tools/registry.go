// Package tools provides the tool registry and the built-in local tool
// backends (file search, read, write, edit, shell). The coordinator is
// agnostic to tool semantics; everything it needs to know about a tool
// (role, resource category, fallback) is declared here at registration
// time.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Role describes the part a tool plays in a structured workflow phase.
// Roles are assigned explicitly at registration, replacing substring
// matching on tool names.
type Role string

const (
	// RoleSearch tags tools that discover files or content.
	RoleSearch Role = "search"
	// RoleRead tags tools that read and analyze content.
	RoleRead Role = "read"
	// RoleModify tags tools that change files.
	RoleModify Role = "modify"
	// RoleVerify tags tools that validate changes (tests, checks).
	RoleVerify Role = "verify"
	// RoleGeneral tags tools with no workflow phase affinity.
	RoleGeneral Role = "general"
)

// ErrUnknownTool indicates a lookup for a tool that was never registered.
var ErrUnknownTool = errors.New("unknown tool")

// Backend executes one tool invocation. Implementations must honor
// context cancellation; the coordinator does not forcibly interrupt
// running work.
type Backend interface {
	// Execute runs the tool with the given arguments and returns its
	// payload or an error.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, args map[string]any) (any, error)

// Execute calls f.
func (f BackendFunc) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Tool is one registered tool: its backend plus the declarations the
// control plane schedules by.
type Tool struct {
	// Name is the unique tool name callers invoke.
	Name string
	// Role is the workflow role tag.
	Role Role
	// Category is the resource category the tool allocates against.
	Category string
	// Fallback names a lower-priority substitute tool, if any.
	Fallback string
	// Backend executes invocations of this tool.
	Backend Backend
}

// Registry holds the registered tool set. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Registering a duplicate name or a tool without a
// backend is an error; a fallback must itself be registered before any
// invocation can use it, but registration order is not enforced.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if t.Backend == nil {
		return fmt.Errorf("register tool %s: nil backend", t.Name)
	}
	if t.Role == "" {
		t.Role = RoleGeneral
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register tool %s: already registered", t.Name)
	}
	r.tools[t.Name] = &t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// RoleFor returns the role tag of a registered tool.
func (r *Registry) RoleFor(name string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return t.Role, true
}

// CategoryFor returns the resource category of a registered tool.
// Implements the coordinator's CategorySource.
func (r *Registry) CategoryFor(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return t.Category, true
}

// FallbackFor returns the registered substitute for a primary tool.
// Implements the coordinator's FallbackSource.
func (r *Registry) FallbackFor(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok || t.Fallback == "" {
		return "", false
	}
	if _, exists := r.tools[t.Fallback]; !exists {
		return "", false
	}
	return t.Fallback, true
}

// ByRole returns the names of all tools registered with the given role,
// sorted for deterministic selection.
func (r *Registry) ByRole(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, t := range r.tools {
		if t.Role == role {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up the named tool and runs its backend.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Backend.Execute(ctx, args)
}
