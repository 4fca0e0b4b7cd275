package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Switch points
// ---------------------------------------------------------------------------

// SwitchPoint is a one-shot validity token. Caches capture the current
// switch point of whatever they depend on and stop trusting their entry the
// moment it fires. A fired switch point never becomes valid again.
type SwitchPoint struct {
	fired atomic.Bool
}

func NewSwitchPoint() *SwitchPoint { return &SwitchPoint{} }

// Valid reports whether the switch point has not fired.
func (sp *SwitchPoint) Valid() bool { return !sp.fired.Load() }

// Fire invalidates everything guarded by sp.
func (sp *SwitchPoint) Fire() { sp.fired.Store(true) }

// ---------------------------------------------------------------------------
// Field layouts
// ---------------------------------------------------------------------------

// Layout maps instance variable names to slot indices. Layouts are
// immutable; a class replaces its layout when a new name is added, and
// existing indices never move.
type Layout struct {
	names []string
	index map[string]int
}

var emptyLayout = &Layout{index: map[string]int{}}

// Index returns the slot of name, or -1.
func (l *Layout) Index(name string) int {
	if i, ok := l.index[name]; ok {
		return i
	}
	return -1
}

// Names returns the variable names in slot order.
func (l *Layout) Names() []string { return append([]string(nil), l.names...) }

func (l *Layout) with(name string) *Layout {
	next := &Layout{
		names: append(append([]string(nil), l.names...), name),
		index: make(map[string]int, len(l.index)+1),
	}
	for k, v := range l.index {
		next.index[k] = v
	}
	next.index[name] = len(l.names)
	return next
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// Visibility controls who may call a method.
type Visibility uint8

const (
	Public Visibility = iota
	Private
	Protected
)

func (v Visibility) String() string {
	switch v {
	case Private:
		return "private"
	case Protected:
		return "protected"
	}
	return "public"
}

type methodEntry struct {
	method Method
	vis    Visibility
}

// Class holds a method table and a field layout. Method tables are read
// concurrently by dispatch and written by definitions.
type Class struct {
	Name  string
	Super *Class

	mu         sync.RWMutex
	methods    map[string]methodEntry
	subclasses []*Class

	sp       atomic.Pointer[SwitchPoint]
	layout   atomic.Pointer[Layout]
	layoutMu sync.Mutex

	// meta holds singleton methods (class methods) when any are defined.
	meta *Class
}

func newClass(name string, super *Class) *Class {
	c := &Class{Name: name, Super: super, methods: make(map[string]methodEntry)}
	c.sp.Store(NewSwitchPoint())
	c.layout.Store(emptyLayout)
	if super != nil {
		super.mu.Lock()
		super.subclasses = append(super.subclasses, c)
		super.mu.Unlock()
	}
	return c
}

// SwitchPoint returns the current switch point of the class's method table.
func (c *Class) SwitchPoint() *SwitchPoint { return c.sp.Load() }

// Layout returns the current field layout.
func (c *Class) Layout() *Layout { return c.layout.Load() }

// fieldIndex returns the slot of name, adding it to the layout if needed.
func (c *Class) fieldIndex(name string) int {
	if i := c.Layout().Index(name); i >= 0 {
		return i
	}
	c.layoutMu.Lock()
	defer c.layoutMu.Unlock()
	cur := c.layout.Load()
	if i := cur.Index(name); i >= 0 {
		return i
	}
	next := cur.with(name)
	c.layout.Store(next)
	return next.index[name]
}

// Define installs m under name and invalidates every cache that resolved
// name through this class or a subclass. The table is updated before the
// switch points fire, so a cache that rebinds after observing the fired
// switch point sees the new method.
func (c *Class) Define(name string, m Method, vis Visibility) {
	c.mu.Lock()
	c.methods[name] = methodEntry{method: m, vis: vis}
	c.mu.Unlock()
	c.invalidate()
}

// Remove deletes name from this class's own table.
func (c *Class) Remove(name string) bool {
	c.mu.Lock()
	_, ok := c.methods[name]
	delete(c.methods, name)
	c.mu.Unlock()
	if ok {
		c.invalidate()
	}
	return ok
}

// SetVisibility changes the visibility of an existing method. A method
// inherited from a superclass is copied into this class first.
func (c *Class) SetVisibility(name string, vis Visibility) bool {
	m, _, _ := c.Lookup(name)
	if m == nil {
		return false
	}
	c.Define(name, m, vis)
	return true
}

func (c *Class) invalidate() {
	c.sp.Swap(NewSwitchPoint()).Fire()
	c.mu.RLock()
	subs := append([]*Class(nil), c.subclasses...)
	c.mu.RUnlock()
	for _, sub := range subs {
		sub.invalidate()
	}
}

// UnitMethods returns the methods of this class's own table that run
// compiled units.
func (c *Class) UnitMethods() []*UnitMethod {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*UnitMethod
	for _, e := range c.methods {
		if um, ok := e.method.(*UnitMethod); ok {
			out = append(out, um)
		}
	}
	return out
}

// Lookup walks the superclass chain for name.
func (c *Class) Lookup(name string) (Method, Visibility, *Class) {
	for k := c; k != nil; k = k.Super {
		k.mu.RLock()
		e, ok := k.methods[name]
		k.mu.RUnlock()
		if ok {
			return e.method, e.vis, k
		}
	}
	return nil, Public, nil
}

// MethodNames lists the names defined directly on c.
func (c *Class) MethodNames() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.methods))
	for n := range c.methods {
		names = append(names, n)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

// Meta returns the class's singleton class, creating it on first use. Its
// superclass is the superclass's singleton class so class methods inherit.
func (c *Class) Meta(classClass *Class) *Class {
	c.mu.RLock()
	m := c.meta
	c.mu.RUnlock()
	if m != nil {
		return m
	}
	super := classClass
	if c.Super != nil {
		super = c.Super.Meta(classClass)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta == nil {
		c.meta = newClass("#<Class:"+c.Name+">", super)
	}
	return c.meta
}

func (c *Class) metaIfAny() *Class {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}
