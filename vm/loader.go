package vm

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chazu/tiervm/ir"
)

// CodeLoader installs one lowered program. Every compilation gets a fresh
// loader, so code from different compilations never shares a namespace
// and a loader that has defined its program cannot be reused.
type CodeLoader struct {
	id   uuid.UUID
	used atomic.Bool
}

// NewCodeLoader returns an unused loader.
func NewCodeLoader() *CodeLoader {
	return &CodeLoader{id: uuid.New()}
}

// ID identifies the loader.
func (l *CodeLoader) ID() uuid.UUID { return l.id }

// Used reports whether the loader has defined its program.
func (l *CodeLoader) Used() bool { return l.used.Load() }

// Define binds prog to the scope and sites of a unit as native code.
func (l *CodeLoader) Define(prog *Program, s *ir.Scope, sites *SiteTable) (*Code, error) {
	if !l.used.CompareAndSwap(false, true) {
		return nil, ErrLoaderUsed
	}
	c := newCode(TierNative, s, sites)
	c.prog = prog
	c.loader = l
	return c, nil
}

// Loader returns the loader that defined native code, or nil.
func (c *Code) Loader() *CodeLoader { return c.loader }
