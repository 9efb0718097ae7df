package asm

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/regvm/vm"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestAllocatorNeedsFrame(t *testing.T) {
	a := NewAllocator()
	if _, err := a.OccupyRegister(vm.Int); !errors.Is(err, ErrNoProcedure) {
		t.Errorf("OccupyRegister = %v, want ErrNoProcedure", err)
	}
	if _, err := a.PopFrame(); !errors.Is(err, ErrNoProcedure) {
		t.Errorf("PopFrame = %v, want ErrNoProcedure", err)
	}
}

func TestTemporaryReuseAfterRelease(t *testing.T) {
	a := NewAllocator()
	a.PushFrame()
	r, _ := a.OccupyRegister(vm.Int)
	if r != vm.Register(1) {
		t.Fatalf("first register = %v, want r1", r)
	}
	a.ReleaseRegister(vm.Int, r)
	again, _ := a.OccupyRegister(vm.Int)
	if again != r {
		t.Errorf("after release got %v, want %v", again, r)
	}
}

func TestTemporaryLowestFree(t *testing.T) {
	a := NewAllocator()
	a.PushFrame()
	var got []uint32
	for i := 0; i < 4; i++ {
		s, _ := a.OccupyRegister(vm.Real)
		got = append(got, s.Index)
	}
	if !reflect.DeepEqual(got, []uint32{1, 2, 3, 4}) {
		t.Fatalf("occupied %v", got)
	}
	a.ReleaseRegister(vm.Real, vm.Register(3))
	a.ReleaseRegister(vm.Real, vm.Register(2))
	if s, _ := a.OccupyRegister(vm.Real); s.Index != 2 {
		t.Errorf("got r%d, want r2", s.Index)
	}
	// Other type classes are independent.
	if s, _ := a.OccupyRegister(vm.Char); s.Index != 1 {
		t.Errorf("char got r%d, want r1", s.Index)
	}

	l, _ := a.PopFrame()
	if l[vm.Real].Registers != 5 || l[vm.Char].Registers != 2 || l[vm.Int].Registers != 1 {
		t.Errorf("layout = %+v", l)
	}
	if l[vm.Int].Variables != 1 {
		t.Errorf("variables = %d, want 1 for the scratch slot", l[vm.Int].Variables)
	}
}

func TestFramesAreIndependent(t *testing.T) {
	a := NewAllocator()
	a.PushFrame()
	a.OccupyRegister(vm.Int)
	a.OccupyRegister(vm.Int)
	a.PushFrame()
	if s, _ := a.OccupyRegister(vm.Int); s.Index != 1 {
		t.Errorf("inner frame got r%d, want r1", s.Index)
	}
	inner, _ := a.PopFrame()
	outer, _ := a.PopFrame()
	if inner[vm.Int].Registers != 2 || outer[vm.Int].Registers != 3 {
		t.Errorf("inner %d, outer %d registers", inner[vm.Int].Registers, outer[vm.Int].Registers)
	}
	if a.Depth() != 0 {
		t.Errorf("depth = %d", a.Depth())
	}
}

func TestGlobalRegistersSkipReserved(t *testing.T) {
	a := NewAllocator()
	for _, typ := range vm.ElemTypes() {
		s := a.OccupyGlobalRegister(typ)
		if s.Index != vm.ReservedGlobals[typ]+1 {
			t.Errorf("%s: got g%v, want index %d", typ, s, vm.ReservedGlobals[typ]+1)
		}
	}
	l := a.GlobalLayout()
	if l[vm.Object].Registers != vm.ContextRegister+2 {
		t.Errorf("object registers = %d", l[vm.Object].Registers)
	}
}

func TestVariableReuseLaw(t *testing.T) {
	tests := []struct {
		name      string
		freedAt   int
		requested int
		reuse     bool
	}{
		{"same level", 2, 2, true},
		{"freed deeper, requested outer", 3, 1, true},
		{"freed outer, requested deeper", 1, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAllocator()
			a.PushFrame()
			v, _ := a.OccupyVariable(vm.Int, tt.freedAt)
			a.ReleaseVariable(vm.Int, v, tt.freedAt)
			got, _ := a.OccupyVariable(vm.Int, tt.requested)
			if (got == v) != tt.reuse {
				t.Errorf("got %v after freeing %v, reuse want %v", got, v, tt.reuse)
			}
		})
	}
}

func TestVariableChainOrder(t *testing.T) {
	p := newVarPool()
	a, b, c := p.occupy(1), p.occupy(1), p.occupy(1)
	p.release(a, 1)
	p.release(b, 3)
	p.release(c, 2)
	if got := p.chain(); !reflect.DeepEqual(got, []uint32{c, b, a}) {
		t.Fatalf("chain = %v", got)
	}
	// First node with level >= 3 is b, found past c.
	if got := p.occupy(3); got != b {
		t.Errorf("occupy(3) = %d, want %d", got, b)
	}
	if got := p.chain(); !reflect.DeepEqual(got, []uint32{c, a}) {
		t.Errorf("chain after unlink = %v", got)
	}
	if got := p.occupy(5); got != 4 {
		t.Errorf("occupy(5) = %d, want a new slot 4", got)
	}
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestPropertyAllocatorExclusivity(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("no two live temporaries share an index", prop.ForAll(
		func(steps []uint8) bool {
			p := newTempPool(0)
			live := map[uint32]bool{}
			var order []uint32
			for _, s := range steps {
				if s%3 != 0 || len(order) == 0 {
					i := p.occupy()
					if i == 0 || live[i] {
						return false
					}
					live[i] = true
					order = append(order, i)
					continue
				}
				k := int(s) % len(order)
				i := order[k]
				order = append(order[:k], order[k+1:]...)
				delete(live, i)
				p.release(i)
			}
			for i := range live {
				if !p.inUse(i) || i >= p.high {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("no two live variables share an index", prop.ForAll(
		func(steps []uint8) bool {
			p := newVarPool()
			live := map[uint32]bool{}
			var order []uint32
			for _, s := range steps {
				level := int(s % 4)
				if s%3 != 0 || len(order) == 0 {
					i := p.occupy(level)
					if i == 0 || live[i] {
						return false
					}
					live[i] = true
					order = append(order, i)
					continue
				}
				k := int(s) % len(order)
				i := order[k]
				order = append(order[:k], order[k+1:]...)
				delete(live, i)
				p.release(i, level)
			}
			for _, i := range p.chain() {
				if live[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestPropertyVariableReuseLaw(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("a freed slot is reused iff it was freed at the requested level or deeper", prop.ForAll(
		func(steps []uint8) bool {
			p := newVarPool()
			freed := map[uint32]int{} // free slot -> level it was freed at
			var live []uint32
			for _, s := range steps {
				level := int(s>>2) % 5
				if s&1 == 0 || len(live) == 0 {
					eligible := false
					for _, l := range freed {
						if l >= level {
							eligible = true
						}
					}
					i := p.occupy(level)
					if fl, wasFree := freed[i]; wasFree {
						if fl < level {
							return false
						}
						delete(freed, i)
					} else if eligible {
						return false
					}
					live = append(live, i)
					continue
				}
				k := int(s) % len(live)
				i := live[k]
				live = append(live[:k], live[k+1:]...)
				p.release(i, level)
				freed[i] = level
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
