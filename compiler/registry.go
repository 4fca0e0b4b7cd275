package compiler

import (
	"sort"
	"sync"
)

// NameRegistry is an append-only set of method names that the inspector
// treats specially. Reads vastly outnumber writes.
type NameRegistry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewNameRegistry creates a registry seeded with names.
func NewNameRegistry(names ...string) *NameRegistry {
	r := &NameRegistry{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		r.names[n] = struct{}{}
	}
	return r
}

// Register adds names. Embedders should register before the first analysis.
func (r *NameRegistry) Register(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.names[n] = struct{}{}
	}
}

// Contains reports whether name is registered.
func (r *NameRegistry) Contains(name string) bool {
	r.mu.RLock()
	_, ok := r.names[name]
	r.mu.RUnlock()
	return ok
}

// Names returns the registered names in sorted order.
func (r *NameRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FrameAwareMethods are methods that read or write the caller's frame
// (block, visibility, method name, last match).
var FrameAwareMethods = NewNameRegistry(
	"eval", "instance_eval", "class_eval", "module_eval", "instance_exec",
	"binding", "block_given?", "iterator?", "__method__",
	"private", "public", "protected", "module_function",
	"=~", "match", "gsub", "sub", "scan", "require", "load",
	"proc", "lambda",
)

// ScopeAwareMethods are methods that read or write the caller's variables.
var ScopeAwareMethods = NewNameRegistry(
	"eval", "binding", "local_variables",
)

// evalMethods set FlagEval in addition to the registry flags.
var evalMethods = map[string]bool{
	"eval":          true,
	"instance_eval": true,
	"class_eval":    true,
	"module_eval":   true,
	"instance_exec": true,
	"binding":       true,
}

// visibilityMethods set FlagVisibility.
var visibilityMethods = map[string]bool{
	"private":         true,
	"public":          true,
	"protected":       true,
	"module_function": true,
}

// NoFramePragma is the bare identifier that asks for frame elision.
const NoFramePragma = "__NOFRAME__"
