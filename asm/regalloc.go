package asm

import (
	"github.com/chazu/regvm/vm"
)

// ---------------------------------------------------------------------------
// Temporary registers
// ---------------------------------------------------------------------------

// tempPool hands out register indices of one type class. Indices at or below
// reserved are never handed out; index 0 is the implicit scratch register.
type tempPool struct {
	used     []bool
	reserved uint32
	high     uint32 // one past the highest index ever handed out
}

func newTempPool(reserved uint32) tempPool {
	return tempPool{reserved: reserved, high: reserved + 1}
}

// occupy returns the lowest free index above the reserved ones.
func (p *tempPool) occupy() uint32 {
	i := p.reserved + 1
	for ; int(i) < len(p.used); i++ {
		if !p.used[i] {
			break
		}
	}
	for int(i) >= len(p.used) {
		p.used = append(p.used, false)
	}
	p.used[i] = true
	p.high = max(p.high, i+1)
	return i
}

func (p *tempPool) release(i uint32) {
	if int(i) < len(p.used) {
		p.used[i] = false
	}
}

func (p *tempPool) inUse(i uint32) bool {
	return int(i) < len(p.used) && p.used[i]
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

const endOfChain = -1

type varSlot struct {
	level int   // scope level the slot was released at
	next  int32 // next free slot, or endOfChain
}

// varPool hands out variable indices of one type class. Released slots are
// kept on a free chain stamped with the scope level they were released at;
// a slot is reused only by a request at the same or an outer level.
type varPool struct {
	slots []varSlot // slot 0 is scratch and never on the chain
	head  int32
}

func newVarPool() varPool {
	return varPool{slots: make([]varSlot, 1), head: endOfChain}
}

// occupy takes the first free slot whose stored level is at least level, or
// grows the slot array.
func (p *varPool) occupy(level int) uint32 {
	prev := int32(endOfChain)
	for cur := p.head; cur != endOfChain; cur = p.slots[cur].next {
		if p.slots[cur].level >= level {
			if prev == endOfChain {
				p.head = p.slots[cur].next
			} else {
				p.slots[prev].next = p.slots[cur].next
			}
			p.slots[cur] = varSlot{level: level, next: endOfChain}
			return uint32(cur)
		}
		prev = cur
	}
	p.slots = append(p.slots, varSlot{level: level, next: endOfChain})
	return uint32(len(p.slots) - 1)
}

// release puts slot i at the head of the free chain.
func (p *varPool) release(i uint32, level int) {
	p.slots[i] = varSlot{level: level, next: p.head}
	p.head = int32(i)
}

// chain returns the free slots in chain order.
func (p *varPool) chain() []uint32 {
	var out []uint32
	for cur := p.head; cur != endOfChain; cur = p.slots[cur].next {
		out = append(out, uint32(cur))
	}
	return out
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// allocFrame is the register and variable state of one procedure, or of the
// global bank.
type allocFrame struct {
	temps [vm.NumTypes]tempPool
	vars  [vm.NumTypes]varPool
}

func newAllocFrame(reserved [vm.NumTypes]uint32) *allocFrame {
	f := &allocFrame{}
	for t := range f.temps {
		f.temps[t] = newTempPool(reserved[t])
		f.vars[t] = newVarPool()
	}
	return f
}

// layout returns the high-water register and variable counts.
func (f *allocFrame) layout() vm.Layout {
	var l vm.Layout
	for t := range l {
		l[t].Registers = f.temps[t].high
		l[t].Variables = uint32(len(f.vars[t].slots))
	}
	return l
}

// ---------------------------------------------------------------------------
// Allocator
// ---------------------------------------------------------------------------

// Allocator tracks registers and variables for a stack of procedure frames
// and for the global bank. Releasing a slot twice is a caller error and is
// not detected.
type Allocator struct {
	frames []*allocFrame
	global *allocFrame
}

// NewAllocator creates an allocator with only the global frame. The global
// registers with a fixed role are never handed out.
func NewAllocator() *Allocator {
	return &Allocator{global: newAllocFrame(vm.ReservedGlobals)}
}

// PushFrame starts the frame of a procedure.
func (a *Allocator) PushFrame() {
	a.frames = append(a.frames, newAllocFrame([vm.NumTypes]uint32{}))
}

// PopFrame ends the innermost frame and returns its layout.
func (a *Allocator) PopFrame() (vm.Layout, error) {
	f, err := a.top()
	if err != nil {
		return vm.Layout{}, err
	}
	a.frames = a.frames[:len(a.frames)-1]
	return f.layout(), nil
}

// Depth returns the number of open procedure frames.
func (a *Allocator) Depth() int {
	return len(a.frames)
}

func (a *Allocator) top() (*allocFrame, error) {
	if len(a.frames) == 0 {
		return nil, ErrNoProcedure
	}
	return a.frames[len(a.frames)-1], nil
}

// Layout returns the layout of the innermost frame so far.
func (a *Allocator) Layout() (vm.Layout, error) {
	f, err := a.top()
	if err != nil {
		return vm.Layout{}, err
	}
	return f.layout(), nil
}

// GlobalLayout returns the layout the global bank needs so far.
func (a *Allocator) GlobalLayout() vm.Layout {
	return a.global.layout()
}

// OccupyRegister takes the lowest free register of type t in the innermost
// frame.
func (a *Allocator) OccupyRegister(t vm.ElemType) (vm.Slot, error) {
	f, err := a.top()
	if err != nil {
		return vm.Slot{}, err
	}
	return vm.Register(f.temps[t].occupy()), nil
}

// ReleaseRegister frees a register of the innermost frame.
func (a *Allocator) ReleaseRegister(t vm.ElemType, s vm.Slot) {
	if f, err := a.top(); err == nil {
		f.temps[t].release(s.Index)
	}
}

// OccupyVariable takes a variable of type t for a scope at level.
func (a *Allocator) OccupyVariable(t vm.ElemType, level int) (vm.Slot, error) {
	f, err := a.top()
	if err != nil {
		return vm.Slot{}, err
	}
	return vm.Variable(f.vars[t].occupy(level)), nil
}

// ReleaseVariable frees a variable of the innermost frame when its scope at
// level ends.
func (a *Allocator) ReleaseVariable(t vm.ElemType, s vm.Slot, level int) {
	if f, err := a.top(); err == nil {
		f.vars[t].release(s.Index, level)
	}
}

// OccupyGlobalRegister takes a global register of type t.
func (a *Allocator) OccupyGlobalRegister(t vm.ElemType) vm.Slot {
	return vm.Register(a.global.temps[t].occupy())
}

// ReleaseGlobalRegister frees a global register.
func (a *Allocator) ReleaseGlobalRegister(t vm.ElemType, s vm.Slot) {
	a.global.temps[t].release(s.Index)
}

// OccupyGlobalVariable takes a global variable of type t.
func (a *Allocator) OccupyGlobalVariable(t vm.ElemType, level int) vm.Slot {
	return vm.Variable(a.global.vars[t].occupy(level))
}

// ReleaseGlobalVariable frees a global variable.
func (a *Allocator) ReleaseGlobalVariable(t vm.ElemType, s vm.Slot, level int) {
	a.global.vars[t].release(s.Index, level)
}
