package object

import "testing"

func TestRetainRelease(t *testing.T) {
	o := New(2)
	finalized := 0
	o.SetFinalizer(func(*Object) { finalized++ })

	o.Retain()
	o.Retain()
	o.Release()
	if o.Finalized() || finalized != 0 {
		t.Fatal("finalized with a reference outstanding")
	}
	o.Release()
	if !o.Finalized() || finalized != 1 {
		t.Fatalf("finalized = %v (%d calls), want true (1)", o.Finalized(), finalized)
	}
	o.Release()
	if finalized != 1 {
		t.Errorf("finalizer ran %d times, want 1", finalized)
	}
}

func TestNilIsNoop(t *testing.T) {
	var o *Object
	o.Retain()
	o.Release()
	if o.Refs() != 0 || o.Finalized() {
		t.Error("nil object should have no state")
	}
	if o.String() != "nil" {
		t.Errorf("String = %q, want nil", o.String())
	}
}

func TestFinalizeReleasesFields(t *testing.T) {
	parent := New(1)
	child := New(0)

	parent.Fields.StoreObject(0, child)
	if child.Refs() != 1 {
		t.Fatalf("child refs = %d, want 1", child.Refs())
	}

	parent.Retain()
	parent.Release()
	if !child.Finalized() {
		t.Error("child should be finalized with its only owner")
	}
}

func TestStoreObjectReplaces(t *testing.T) {
	b := NewBank(Sizes{0, 0, 0, 0, 1})
	a, c := New(0), New(0)

	b.StoreObject(0, a)
	b.StoreObject(0, a)
	if a.Refs() != 1 {
		t.Errorf("re-storing the same object changed refs to %d", a.Refs())
	}
	b.StoreObject(0, c)
	if !a.Finalized() {
		t.Error("overwritten object should be released")
	}
	if c.Refs() != 1 {
		t.Errorf("c refs = %d, want 1", c.Refs())
	}
	b.Clear()
	if !c.Finalized() {
		t.Error("Clear should release stored objects")
	}
}

func TestBankGrow(t *testing.T) {
	b := NewBank(Sizes{1, 1, 0, 0, 0})
	b.Ints[0] = 7
	b.Grow(Sizes{1, 3, 2, 0, 1})
	if got := b.Sizes(); got != (Sizes{1, 3, 2, 0, 1}) {
		t.Errorf("Sizes = %v", got)
	}
	if b.Ints[0] != 7 {
		t.Error("Grow lost contents")
	}
	b.Grow(Sizes{0, 0, 0, 0, 0})
	if got := b.Sizes(); got != (Sizes{1, 3, 2, 0, 1}) {
		t.Errorf("Grow shrank the bank: %v", got)
	}
}

func TestNewString(t *testing.T) {
	o := NewString("héllo")
	if o.String() != "héllo" {
		t.Errorf("String = %q", o.String())
	}
	if o.Len() != 5 {
		t.Errorf("Len = %d, want 5", o.Len())
	}
}

func TestPointArithmetic(t *testing.T) {
	p := Point{1, 2}.Add(Point{3, 4}).Sub(Point{1, 1}).Neg()
	if p != (Point{-3, -5}) {
		t.Errorf("p = %v", p)
	}
}
