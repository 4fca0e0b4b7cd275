package vm

import (
	"sort"
	"sync"

	"github.com/chazu/tiervm/ir"
)

// ---------------------------------------------------------------------------
// ContentStore: lowered programs indexed by IR content key
// ---------------------------------------------------------------------------

// ContentStore indexes lowered programs by the content key of the IR they
// were lowered from. Units with identical IR share one program, so a body
// defined twice (or redefined unchanged) is lowered once.
type ContentStore struct {
	mu       sync.RWMutex
	programs map[ir.Key]*Program
	hits     uint64
}

// NewContentStore creates an empty content store.
func NewContentStore() *ContentStore {
	return &ContentStore{programs: make(map[ir.Key]*Program)}
}

// Index adds a program under k. Zero keys are ignored.
func (cs *ContentStore) Index(k ir.Key, p *Program) {
	if k.IsZero() || p == nil {
		return
	}
	cs.mu.Lock()
	cs.programs[k] = p
	cs.mu.Unlock()
}

// Lookup returns the program for k, or nil.
func (cs *ContentStore) Lookup(k ir.Key) *Program {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	p := cs.programs[k]
	if p != nil {
		cs.hits++
	}
	return p
}

// Has reports whether k is indexed.
func (cs *ContentStore) Has(k ir.Key) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	_, ok := cs.programs[k]
	return ok
}

// Hits returns the number of successful lookups.
func (cs *ContentStore) Hits() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.hits
}

// Keys returns every indexed key in sorted order.
func (cs *ContentStore) Keys() []ir.Key {
	cs.mu.RLock()
	keys := make([]ir.Key, 0, len(cs.programs))
	for k := range cs.programs {
		keys = append(keys, k)
	}
	cs.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of indexed programs.
func (cs *ContentStore) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.programs)
}
