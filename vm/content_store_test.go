package vm

import (
	"testing"

	"github.com/chazu/tiervm/ir"
)

func TestContentStore_IndexAndLookup(t *testing.T) {
	cs := NewContentStore()

	p := &Program{}
	k := ir.Key{1, 2, 3}
	cs.Index(k, p)

	if !cs.Has(k) {
		t.Error("Has should return true for an indexed key")
	}
	if got := cs.Lookup(k); got != p {
		t.Error("Lookup should return the indexed program")
	}
	if cs.Len() != 1 {
		t.Errorf("Len: got %d, want 1", cs.Len())
	}
	if cs.Hits() != 1 {
		t.Errorf("Hits: got %d, want 1", cs.Hits())
	}
}

func TestContentStore_IgnoresZeroKey(t *testing.T) {
	cs := NewContentStore()

	cs.Index(ir.Key{}, &Program{})
	cs.Index(ir.Key{9}, nil)

	if cs.Len() != 0 {
		t.Errorf("Should not index a zero key or nil program, got count %d", cs.Len())
	}
}

func TestContentStore_MissDoesNotCountAsHit(t *testing.T) {
	cs := NewContentStore()

	if cs.Lookup(ir.Key{7}) != nil {
		t.Error("Lookup of an unknown key should return nil")
	}
	if cs.Hits() != 0 {
		t.Errorf("Hits: got %d, want 0", cs.Hits())
	}
}

func TestContentStore_ReindexReplaces(t *testing.T) {
	cs := NewContentStore()
	k := ir.Key{4}

	first, second := &Program{}, &Program{}
	cs.Index(k, first)
	cs.Index(k, second)

	if cs.Len() != 1 {
		t.Errorf("Len: got %d, want 1", cs.Len())
	}
	if cs.Lookup(k) != second {
		t.Error("the later program should replace the earlier one")
	}
}

func TestContentStore_KeysSorted(t *testing.T) {
	cs := NewContentStore()
	for _, b := range []byte{0x30, 0x10, 0x20} {
		cs.Index(ir.Key{b}, &Program{})
	}

	keys := cs.Keys()
	if len(keys) != 3 {
		t.Fatalf("Keys: got %d, want 3", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].String() >= keys[i].String() {
			t.Errorf("keys not sorted: %s before %s", keys[i-1], keys[i])
		}
	}
}
