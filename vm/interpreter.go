package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/regvm/bytecode"
	"github.com/chazu/regvm/object"
)

// ---------------------------------------------------------------------------
// Frame: Execution state for a procedure invocation
// ---------------------------------------------------------------------------

// Frame is the activation of one bytecode procedure. Frames live on the Go
// stack: a call recurses into the interpreter and returns when the callee
// returns.
type Frame struct {
	CallNumber CallNumber
	Code       []uint32
	Layout     Layout

	regs  object.Bank // registers; object register 0 is the base pointer
	vars  object.Bank // variables
	depth int
	done  bool
}

// Registers returns the frame's register bank.
func (f *Frame) Registers() *object.Bank { return &f.regs }

// Variables returns the frame's variable bank.
func (f *Frame) Variables() *object.Bank { return &f.vars }

// BasePointer returns the object addressed by pointer-relative operands.
func (f *Frame) BasePointer() *object.Object {
	if len(f.regs.Objects) == 0 {
		return nil
	}
	return f.regs.Objects[ScratchRegister]
}

func (f *Frame) release() {
	f.regs.Clear()
	f.vars.Clear()
}

// ---------------------------------------------------------------------------
// Operand locations
// ---------------------------------------------------------------------------

// loc is a resolved operand: a cell in a bank, or an immediate value already
// converted to the instruction's element type.
type loc struct {
	bank  *object.Bank
	index int

	raw uint32
	c   rune
	i   int64
	r   float64
	p   object.Point
	o   *object.Object
}

func bankLen(b *object.Bank, t ElemType) int {
	switch t {
	case Char:
		return len(b.Chars)
	case Int:
		return len(b.Ints)
	case Real:
		return len(b.Reals)
	case Point:
		return len(b.Points)
	case Object:
		return len(b.Objects)
	}
	return 0
}

// resolve turns an operand into a location: a 4-way dispatch on category.
func (m *Machine) resolve(f *Frame, t ElemType, a bytecode.Operand, l *loc) error {
	*l = loc{raw: a.Value}
	switch a.Cat {
	case bytecode.Global:
		s := DecodeSlot(a.Value)
		if s.IsVariable() {
			l.bank = &m.globalVars
		} else {
			l.bank = &m.globalRegs
		}
		l.index = int(s.Index)
	case bytecode.Local:
		s := DecodeSlot(a.Value)
		if s.IsVariable() {
			l.bank = &f.vars
		} else {
			l.bank = &f.regs
		}
		l.index = int(s.Index)
	case bytecode.Pointer:
		base := f.BasePointer()
		if base == nil {
			return newTrap(TrapNilPointer, "pointer-relative operand with nil base pointer")
		}
		l.bank = &base.Fields
		l.index = int(a.Value)
	case bytecode.Immediate:
		return m.immediate(t, l)
	}
	if l.index >= bankLen(l.bank, t) {
		return newTrap(TrapBadOperand, fmt.Sprintf("%s operand %d out of range", a.Cat, l.index))
	}
	return nil
}

func (m *Machine) immediate(t ElemType, l *loc) error {
	var err error
	switch t {
	case Char:
		l.c = rune(l.raw)
	case Int:
		l.i = int64(int32(l.raw))
	case Real:
		l.r, err = m.imm.ReadReal(l.raw)
	case Point:
		l.p, err = m.imm.ReadPoint(l.raw)
	case Object:
		if l.raw != 0 {
			var s string
			s, err = m.data.ReadString(l.raw)
			l.o = object.NewString(s)
		}
	}
	if err != nil {
		return newTrap(TrapBadSegment, err.Error())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Exec: what an executor sees
// ---------------------------------------------------------------------------

// Exec is the state an executor works on: the machine, the current frame,
// the resolved operands and the position of the next instruction.
type Exec struct {
	M    *Machine
	F    *Frame
	Desc *Descriptor
	Inst bytecode.Instruction
	PC   int // position of the current instruction
	Next int // position of the next instruction; jumps rewrite it
	args [bytecode.MaxOperands]loc
}

// Char returns operand k as a char.
func (x *Exec) Char(k int) rune {
	l := &x.args[k]
	if l.bank == nil {
		return l.c
	}
	return l.bank.Chars[l.index]
}

// SetChar stores v into operand k.
func (x *Exec) SetChar(k int, v rune) {
	if l := &x.args[k]; l.bank != nil {
		l.bank.Chars[l.index] = v
	}
}

// Int returns operand k as an int.
func (x *Exec) Int(k int) int64 {
	l := &x.args[k]
	if l.bank == nil {
		return l.i
	}
	return l.bank.Ints[l.index]
}

// SetInt stores v into operand k.
func (x *Exec) SetInt(k int, v int64) {
	if l := &x.args[k]; l.bank != nil {
		l.bank.Ints[l.index] = v
	}
}

// Real returns operand k as a real.
func (x *Exec) Real(k int) float64 {
	l := &x.args[k]
	if l.bank == nil {
		return l.r
	}
	return l.bank.Reals[l.index]
}

// SetReal stores v into operand k.
func (x *Exec) SetReal(k int, v float64) {
	if l := &x.args[k]; l.bank != nil {
		l.bank.Reals[l.index] = v
	}
}

// Point returns operand k as a point.
func (x *Exec) Point(k int) object.Point {
	l := &x.args[k]
	if l.bank == nil {
		return l.p
	}
	return l.bank.Points[l.index]
}

// SetPoint stores v into operand k.
func (x *Exec) SetPoint(k int, v object.Point) {
	if l := &x.args[k]; l.bank != nil {
		l.bank.Points[l.index] = v
	}
}

// Object returns operand k as an object reference.
func (x *Exec) Object(k int) *object.Object {
	l := &x.args[k]
	if l.bank == nil {
		return l.o
	}
	return l.bank.Objects[l.index]
}

// SetObject stores v into operand k, adjusting reference counts.
func (x *Exec) SetObject(k int, v *object.Object) {
	if l := &x.args[k]; l.bank != nil {
		l.bank.StoreObject(l.index, v)
	}
}

// Raw returns the undecoded value of operand k.
func (x *Exec) Raw(k int) uint32 {
	return x.args[k].raw
}

// ---------------------------------------------------------------------------
// Call and run
// ---------------------------------------------------------------------------

// call transfers control to the procedure with call number cn and returns
// when it returns, halts or traps.
func (m *Machine) call(cn CallNumber, depth int) error {
	if depth >= m.cfg.MaxDepth {
		return newTrap(TrapStackOverflow, fmt.Sprintf("call depth exceeds %d", m.cfg.MaxDepth))
	}
	e, ok := m.procs.Entry(cn)
	if !ok || e.Kind == EntryUndefined {
		return newTrap(TrapUndefinedCall, fmt.Sprintf("call to undefined procedure %s", m.procs.Describe(cn)))
	}

	switch e.Kind {
	case EntryNative:
		if err := e.Native(m); err != nil {
			t := asTrap(err, TrapNative)
			t.push(m.backtraceEntry(cn, -1))
			return t
		}
		return nil
	default:
		return m.run(cn, e.Code, depth)
	}
}

// run interprets one bytecode procedure: fetch, decode, resolve, execute,
// advance, until the frame returns, the machine halts or a trap is raised.
func (m *Machine) run(cn CallNumber, code []uint32, depth int) error {
	f := &Frame{CallNumber: cn, Code: code, depth: depth}
	defer f.release()

	x := Exec{M: m, F: f}
	pc := 0
	for {
		if err := m.step(&x, pc); err != nil {
			t := asTrap(err, TrapInternal)
			t.push(m.backtraceEntry(cn, pc))
			log.Debugf("unwinding %s at %d: %s", m.procs.Describe(cn), pc, t.Message)
			return t
		}
		if f.done || m.halted {
			return nil
		}
		pc = x.Next
	}
}

func (m *Machine) step(x *Exec, pc int) error {
	if pc < 0 || pc >= len(x.F.Code) {
		return newTrap(TrapBadJump, fmt.Sprintf("control reached %d outside procedure of %d words", pc, len(x.F.Code)))
	}
	inst, n, err := bytecode.Decode(x.F.Code, pc, m.ops)
	if err != nil {
		return newTrap(TrapBadOpcode, err.Error())
	}
	d, _ := m.ops.Descriptor(inst.Op)
	for k, a := range inst.Args {
		if err := m.resolve(x.F, d.Type, a, &x.args[k]); err != nil {
			return err
		}
	}
	x.Desc = d
	x.Inst = inst
	x.PC = pc
	x.Next = pc + n
	return d.Exec(x)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrUnlinked is returned by Execute when the machine has not been linked
// since its procedure table last changed, or when entries are undefined.
var ErrUnlinked = errors.New("program is not linked")

func asTrap(err error, code TrapCode) *Trap {
	var t *Trap
	if errors.As(err, &t) {
		return t
	}
	return newTrap(code, err.Error())
}
