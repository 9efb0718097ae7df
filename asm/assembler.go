package asm

import (
	"errors"
	"fmt"

	"github.com/chazu/regvm/bytecode"
	"github.com/chazu/regvm/object"
	"github.com/chazu/regvm/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("regvm.asm")

var (
	// ErrNoProcedure is returned when code is emitted with no open procedure.
	ErrNoProcedure = errors.New("no open procedure")

	// ErrInstalled is returned when an installed procedure is changed.
	ErrInstalled = errors.New("procedure already installed")

	// ErrReopened is returned when Begin is called twice.
	ErrReopened = errors.New("procedure already begun")

	// ErrNotEnded is returned when installing a procedure before End.
	ErrNotEnded = errors.New("procedure not ended")

	// ErrNesting is returned when ending a procedure that is not the
	// innermost open one.
	ErrNesting = errors.New("procedure is not the innermost open procedure")

	// ErrRedefined is returned when defining a symbol twice.
	ErrRedefined = errors.New("symbol already defined")

	// ErrForeignLabel is returned when a label is used outside its procedure.
	ErrForeignLabel = errors.New("label belongs to another procedure")

	// ErrBinding is returned for an implicit register the operation does not
	// have.
	ErrBinding = errors.New("no such implicit register")
)

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// Assembler produces code for a machine: it owns the register allocator,
// the selector and the symbol table, and tracks the open procedures. Code
// is emitted into the innermost open procedure.
type Assembler struct {
	m     *vm.Machine
	alloc *Allocator
	sel   *Selector
	syms  *SymbolTable
	open  []*Procedure
	anon  int
}

// New creates an assembler for m.
func New(m *vm.Machine) *Assembler {
	return &Assembler{
		m:     m,
		alloc: NewAllocator(),
		sel:   NewSelector(m.Ops()),
		syms:  NewSymbolTable(m.Procedures()),
	}
}

// Machine returns the target machine.
func (a *Assembler) Machine() *vm.Machine { return a.m }

// Allocator returns the register allocator.
func (a *Assembler) Allocator() *Allocator { return a.alloc }

// Symbols returns the symbol table.
func (a *Assembler) Symbols() *SymbolTable { return a.syms }

// NewProcedure creates a procedure. An empty name makes it anonymous.
func (a *Assembler) NewProcedure(name string, conv Convention) *Procedure {
	return &Procedure{asm: a, name: name, conv: conv}
}

// Current returns the innermost open procedure.
func (a *Assembler) Current() (*Procedure, error) {
	if len(a.open) == 0 {
		return nil, ErrNoProcedure
	}
	return a.open[len(a.open)-1], nil
}

// Assemble emits g on type t into the innermost open procedure.
func (a *Assembler) Assemble(g vm.GenericOp, t vm.ElemType, args ...bytecode.Operand) error {
	return a.AssembleRequest(Request{Op: g, Type: t, Args: args})
}

// AssembleRequest emits req into the innermost open procedure.
func (a *Assembler) AssembleRequest(req Request) error {
	p, err := a.Current()
	if err != nil {
		return fmt.Errorf("%s: %w", req, err)
	}
	return p.AssembleRequest(req)
}

// ---------------------------------------------------------------------------
// Registers and variables
// ---------------------------------------------------------------------------

// OccupyRegister takes a temporary register of the innermost procedure.
func (a *Assembler) OccupyRegister(t vm.ElemType) (vm.Slot, error) {
	return a.alloc.OccupyRegister(t)
}

// ReleaseRegister frees a temporary register.
func (a *Assembler) ReleaseRegister(t vm.ElemType, s vm.Slot) {
	a.alloc.ReleaseRegister(t, s)
}

// OccupyVariable takes a variable of the innermost procedure for a scope
// at level.
func (a *Assembler) OccupyVariable(t vm.ElemType, level int) (vm.Slot, error) {
	return a.alloc.OccupyVariable(t, level)
}

// ReleaseVariable frees a variable when its scope ends.
func (a *Assembler) ReleaseVariable(t vm.ElemType, s vm.Slot, level int) {
	a.alloc.ReleaseVariable(t, s, level)
}

// OccupyGlobalRegister takes a global register and grows the machine's
// global bank to hold it.
func (a *Assembler) OccupyGlobalRegister(t vm.ElemType) vm.Slot {
	s := a.alloc.OccupyGlobalRegister(t)
	a.m.ReserveGlobals(a.alloc.GlobalLayout())
	return s
}

// ReleaseGlobalRegister frees a global register.
func (a *Assembler) ReleaseGlobalRegister(t vm.ElemType, s vm.Slot) {
	a.alloc.ReleaseGlobalRegister(t, s)
}

// OccupyGlobalVariable takes a global variable and grows the machine's
// global bank to hold it.
func (a *Assembler) OccupyGlobalVariable(t vm.ElemType, level int) vm.Slot {
	s := a.alloc.OccupyGlobalVariable(t, level)
	a.m.ReserveGlobals(a.alloc.GlobalLayout())
	return s
}

// ReleaseGlobalVariable frees a global variable.
func (a *Assembler) ReleaseGlobalVariable(t vm.ElemType, s vm.Slot, level int) {
	a.alloc.ReleaseGlobalVariable(t, s, level)
}

// ---------------------------------------------------------------------------
// Labels and calls
// ---------------------------------------------------------------------------

// NewLabel creates a label in the innermost open procedure.
func (a *Assembler) NewLabel(name string) (*Symbol, error) {
	p, err := a.Current()
	if err != nil {
		return nil, err
	}
	return a.syms.newLabel(p, name), nil
}

// DefineLabel places l at the current position of its procedure and patches
// the jumps already emitted to it.
func (a *Assembler) DefineLabel(l *Symbol) error {
	p, err := a.labelOwner(l)
	if err != nil {
		return err
	}
	if err := l.defineLabel(p.Buffer(), p.Buffer().Len()); err != nil {
		return err
	}
	a.syms.retire(l)
	return nil
}

// Jump emits jmp, jt or jf to l.
func (a *Assembler) Jump(g vm.GenericOp, l *Symbol) error {
	p, err := a.labelOwner(l)
	if err != nil {
		return err
	}
	if !g.IsJump() {
		return fmt.Errorf("jump with %s: %w", g, ErrBinding)
	}
	d, _ := a.m.Ops().Lookup(g, vm.Int, vm.SigImm)
	pos, err := p.emit(d, []bytecode.Operand{Imm(0)}, 1)
	if err != nil {
		return err
	}
	return l.referenceLabel(p.Buffer(), pos)
}

func (a *Assembler) labelOwner(l *Symbol) (*Procedure, error) {
	p, err := a.Current()
	if err != nil {
		return nil, err
	}
	if l.kind != LabelSymbol || l.proc != p {
		return nil, fmt.Errorf("%s: %w", l, ErrForeignLabel)
	}
	if err := p.writable(); err != nil {
		return nil, err
	}
	return p, nil
}

// CallSymbol returns the call symbol for name.
func (a *Assembler) CallSymbol(name string) *Symbol {
	return a.syms.Call(name)
}

// Call emits a call to s. The callee may be defined later.
func (a *Assembler) Call(s *Symbol) error {
	if s.kind != CallSymbol {
		return fmt.Errorf("call %s: %w", s, ErrForeignLabel)
	}
	if err := a.Assemble(vm.OpCall, vm.Int, Imm(uint32(s.cn))); err != nil {
		return err
	}
	s.reference()
	return nil
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// Nil is the immediate null object.
var Nil = bytecode.Operand{Cat: bytecode.Immediate}

// Imm returns an immediate operand holding v.
func Imm(v uint32) bytecode.Operand {
	return bytecode.Operand{Cat: bytecode.Immediate, Value: v}
}

// IntConst returns an immediate int.
func IntConst(v int32) bytecode.Operand { return Imm(uint32(v)) }

// CharConst returns an immediate char.
func CharConst(c rune) bytecode.Operand { return Imm(uint32(c)) }

// Ptr returns a pointer-relative operand at field off of the base pointer.
func Ptr(off uint32) bytecode.Operand {
	return bytecode.Operand{Cat: bytecode.Pointer, Value: off}
}

// RealConst stores v in the immediate segment and returns its operand.
func (a *Assembler) RealConst(v float64) bytecode.Operand {
	return Imm(a.m.Immediates().AppendReal(v))
}

// PointConst stores v in the immediate segment and returns its operand.
func (a *Assembler) PointConst(v object.Point) bytecode.Operand {
	return Imm(a.m.Immediates().AppendPoint(v))
}

// StringConst stores s in the data segment and returns the operand that
// creates a string object from it.
func (a *Assembler) StringConst(s string) bytecode.Operand {
	return Imm(a.m.Data().AppendString(s))
}
