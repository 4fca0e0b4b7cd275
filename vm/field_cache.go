package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// Instance variable sites
// ---------------------------------------------------------------------------

type fieldSnapshot struct {
	class  *Class
	layout *Layout
	index  int
}

// FieldSite caches where an instance variable lives for one receiver class.
// A receiver of another class collapses the site to the uncached path.
type FieldSite struct {
	name    string
	snap    atomic.Pointer[fieldSnapshot]
	generic atomic.Bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Generic reports whether the site collapsed to the uncached path.
func (s *FieldSite) Generic() bool { return s.generic.Load() }

// Hits returns the number of cached accesses.
func (s *FieldSite) Hits() uint64 { return s.hits.Load() }

func (s *FieldSite) lookup(obj *Object, create bool) int {
	if !s.generic.Load() {
		if snap := s.snap.Load(); snap != nil && snap.class == obj.class {
			if snap.layout == obj.class.Layout() {
				s.hits.Add(1)
				return snap.index
			}
		} else if snap != nil {
			s.generic.Store(true)
			s.snap.Store(nil)
		}
	}
	s.misses.Add(1)

	layout := obj.class.Layout()
	idx := layout.Index(s.name)
	if idx < 0 {
		if !create {
			return -1
		}
		idx = obj.class.fieldIndex(s.name)
		layout = obj.class.Layout()
	}
	if !s.generic.Load() {
		s.snap.Store(&fieldSnapshot{class: obj.class, layout: layout, index: idx})
	}
	return idx
}

// Get reads the variable from self. Non-objects and unset variables read
// as nil.
func (s *FieldSite) Get(self Value) Value {
	obj, ok := self.(*Object)
	if !ok {
		return nil
	}
	idx := s.lookup(obj, false)
	if idx < 0 {
		return nil
	}
	v, _ := obj.field(idx)
	return v
}

// Set writes the variable on self.
func (s *FieldSite) Set(rt *Runtime, self Value, v Value) error {
	obj, ok := self.(*Object)
	if !ok {
		return rt.NewError(rt.RuntimeError, "can't modify frozen %s", rt.ClassOf(self).Name)
	}
	obj.setField(s.lookup(obj, true), v)
	return nil
}

// ---------------------------------------------------------------------------
// Constant sites
// ---------------------------------------------------------------------------

type constEntry struct {
	value Value
	sp    *SwitchPoint
}

// ConstSite caches a constant's value until any constant is reassigned.
type ConstSite struct {
	name  string
	entry atomic.Pointer[constEntry]
}

// Get returns the constant's value.
func (s *ConstSite) Get(rt *Runtime) (Value, error) {
	if e := s.entry.Load(); e != nil && e.sp.Valid() {
		return e.value, nil
	}
	sp := rt.constSwitchPoint()
	v, ok := rt.Const(s.name)
	if !ok {
		err := rt.NewError(rt.NameError, "uninitialized constant %s", s.name)
		err.Exception.SetIvar("@name", Symbol(s.name))
		return nil, err
	}
	s.entry.Store(&constEntry{value: v, sp: sp})
	return v, nil
}

// Cached reports whether the site holds a valid entry.
func (s *ConstSite) Cached() bool {
	e := s.entry.Load()
	return e != nil && e.sp.Valid()
}
