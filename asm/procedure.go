package asm

import (
	"fmt"
	"slices"

	"github.com/chazu/regvm/bytecode"
	"github.com/chazu/regvm/vm"
)

// ---------------------------------------------------------------------------
// Procedure: one unit of code under construction
// ---------------------------------------------------------------------------

// Convention selects the procedure prologue.
type Convention uint8

const (
	// Leaf procedures use SELF and CTX in place.
	Leaf Convention = iota
	// NonLeaf procedures copy SELF and CTX into local registers on entry,
	// since calls they make overwrite the globals.
	NonLeaf
)

type procState uint8

const (
	procNew procState = iota
	procOpen
	procEnded
	procInstalled
)

// Procedure is a procedure being assembled. Its symbol, code buffer, call
// number and name are created on first use.
type Procedure struct {
	asm  *Assembler
	name string
	conv Convention

	sym    *Symbol
	buf    *bytecode.Buffer
	state  procState
	header int
	layout vm.Layout

	self, ctx vm.Slot
}

// Name returns the procedure name, inventing one for anonymous procedures.
func (p *Procedure) Name() string {
	if p.name == "" {
		p.asm.anon++
		p.name = fmt.Sprintf("anonymous.%d", p.asm.anon)
	}
	return p.name
}

// Symbol returns the call symbol of the procedure.
func (p *Procedure) Symbol() *Symbol {
	if p.sym == nil {
		p.sym = p.asm.syms.Call(p.Name())
	}
	return p.sym
}

// CallNumber returns the procedure's call number.
func (p *Procedure) CallNumber() vm.CallNumber {
	return p.Symbol().CallNumber()
}

// Buffer returns the code buffer.
func (p *Procedure) Buffer() *bytecode.Buffer {
	if p.buf == nil {
		p.buf = bytecode.NewBuffer()
	}
	return p.buf
}

// Convention returns the calling convention.
func (p *Procedure) Convention() Convention { return p.conv }

// Self returns the local register holding SELF in a non-leaf procedure.
func (p *Procedure) Self() vm.Slot { return p.self }

// Context returns the local register holding CTX in a non-leaf procedure.
func (p *Procedure) Context() vm.Slot { return p.ctx }

// Layout returns the frame layout recorded by End.
func (p *Procedure) Layout() vm.Layout { return p.layout }

// Installed reports whether the procedure has been installed.
func (p *Procedure) Installed() bool { return p.state == procInstalled }

// Begin opens the procedure: it becomes the innermost open procedure, gets
// a fresh allocator frame and a frame header whose layout End fills in.
func (p *Procedure) Begin() error {
	switch p.state {
	case procInstalled:
		return fmt.Errorf("begin %s: %w", p.Name(), ErrInstalled)
	case procOpen, procEnded:
		return fmt.Errorf("begin %s: %w", p.Name(), ErrReopened)
	}
	a := p.asm
	a.alloc.PushFrame()
	a.open = append(a.open, p)
	p.state = procOpen

	frame, _ := a.m.Ops().Lookup(vm.OpFrame, vm.Int, vm.SigImm)
	pos, err := p.emit(frame, []bytecode.Operand{Imm(0)}, 1)
	if err != nil {
		return err
	}
	p.header = pos

	if p.conv == NonLeaf {
		if p.self, err = a.alloc.OccupyRegister(vm.Object); err != nil {
			return err
		}
		if p.ctx, err = a.alloc.OccupyRegister(vm.Object); err != nil {
			return err
		}
		if err := p.move(vm.Object, p.self.Local(), vm.Register(vm.SelfRegister).Global()); err != nil {
			return err
		}
		if err := p.move(vm.Object, p.ctx.Local(), vm.Register(vm.ContextRegister).Global()); err != nil {
			return err
		}
	}
	log.Debugf("begin %s", p.Name())
	return nil
}

// End closes the procedure: it appends the return, stores the final layout
// and patches the frame header.
func (p *Procedure) End() error {
	if err := p.writable(); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	a := p.asm
	if err := p.Assemble(vm.OpRet, vm.Int); err != nil {
		return err
	}
	l, err := a.alloc.PopFrame()
	if err != nil {
		return err
	}
	a.open = a.open[:len(a.open)-1]
	p.layout = l
	off := a.m.Immediates().AppendLayout(l)
	if err := p.Buffer().PatchOperand(p.header, 0, off); err != nil {
		return fmt.Errorf("end %s: %w", p.Name(), err)
	}
	p.state = procEnded
	log.Debugf("end %s: %d words", p.Name(), p.Buffer().Len())
	return nil
}

// Install binds the procedure's call number to its code and defines its
// symbol. Installing again returns the same call number.
func (p *Procedure) Install() (vm.CallNumber, error) {
	switch p.state {
	case procInstalled:
		return p.CallNumber(), nil
	case procNew, procOpen:
		return 0, fmt.Errorf("install %s: %w", p.Name(), ErrNotEnded)
	}
	sym := p.Symbol()
	if err := p.asm.m.Procedures().Install(sym.CallNumber(), p.Buffer().Words()); err != nil {
		return 0, fmt.Errorf("install %s: %w", p.Name(), err)
	}
	if err := sym.define(); err != nil {
		return 0, err
	}
	p.state = procInstalled
	log.Debugf("installed %s as #%d", p.Name(), sym.CallNumber())
	return sym.CallNumber(), nil
}

// writable reports whether p may emit code. Only the innermost open
// procedure may, since register allocation always happens in the top frame.
func (p *Procedure) writable() error {
	switch p.state {
	case procInstalled:
		return fmt.Errorf("%s: %w", p.Name(), ErrInstalled)
	case procOpen:
		if open := p.asm.open; open[len(open)-1] != p {
			return fmt.Errorf("%s: %w", p.Name(), ErrNesting)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", p.Name(), ErrNoProcedure)
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// Assemble emits g on type t with args into the procedure.
func (p *Procedure) Assemble(g vm.GenericOp, t vm.ElemType, args ...bytecode.Operand) error {
	return p.AssembleRequest(Request{Op: g, Type: t, Args: args})
}

// AssembleRequest legalizes and emits a request. Operands no opcode accepts
// as they are get staged through registers: the first non-object operand
// through the scratch register of its type, others through temporaries
// held until the operation is emitted.
func (p *Procedure) AssembleRequest(req Request) error {
	if err := p.writable(); err != nil {
		return fmt.Errorf("%s: %w", req, err)
	}
	ops := p.asm.m.Ops()
	if err := checkBindings(ops.Family(req.Op, req.Type), req); err != nil {
		return err
	}
	for _, b := range req.In {
		if err := p.move(b.Reg.Type, b.Reg.Operand(), b.Operand); err != nil {
			return err
		}
	}

	args := slices.Clone(req.Args)
	var temps []vm.Slot
	defer func() {
		for _, s := range temps {
			p.asm.alloc.ReleaseRegister(req.Type, s)
		}
	}()
	scratchFree := req.Type != vm.Object
	for {
		plan := p.asm.sel.Plan(req.Op, req.Type, args)
		switch plan.Kind {
		case Infeasible:
			return plan.Err
		case NeedsScratch:
			var dst vm.Slot
			if scratchFree {
				dst = vm.Register(vm.ScratchRegister)
				scratchFree = false
			} else {
				s, err := p.asm.alloc.OccupyRegister(req.Type)
				if err != nil {
					return err
				}
				temps = append(temps, s)
				dst = s
			}
			log.Debugf("%s: staging operand %d of %s through %s", p.Name(), plan.Pos, req, dst)
			if err := p.move(req.Type, dst.Local(), args[plan.Pos]); err != nil {
				return err
			}
			args[plan.Pos] = dst.Local()
		case Direct:
			if _, err := p.emit(plan.Desc, args, 0); err != nil {
				return err
			}
			for _, b := range req.Out {
				if err := p.move(b.Reg.Type, b.Operand, b.Reg.Operand()); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

func (p *Procedure) move(t vm.ElemType, dst, src bytecode.Operand) error {
	return p.AssembleRequest(Request{Op: vm.OpMove, Type: t, Args: []bytecode.Operand{dst, src}})
}

// emit appends one instruction. Operands selected by wide keep a full word
// so they can be patched.
func (p *Procedure) emit(d *vm.Descriptor, args []bytecode.Operand, wide uint8) (int, error) {
	inst := bytecode.Instruction{Op: d.ID, Args: args}
	pos, err := p.Buffer().EmitWide(inst, wide)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p.Name(), err)
	}
	log.Debugf("%s +%d %s", p.Name(), pos, p.asm.m.Ops().Format(inst))
	return pos, nil
}

// checkBindings verifies that every binding names an implicit register the
// operation family reads (for In) or writes (for Out).
func checkBindings(family []*vm.Descriptor, req Request) error {
	declared := func(r vm.ImplicitReg, in bool) bool {
		for _, d := range family {
			regs := d.Out
			if in {
				regs = d.In
			}
			if slices.Contains(regs, r) {
				return true
			}
		}
		return false
	}
	for _, b := range req.In {
		if !declared(b.Reg, true) {
			return fmt.Errorf("%s: %s is not an implicit input: %w", req, b.Reg, ErrBinding)
		}
	}
	for _, b := range req.Out {
		if !declared(b.Reg, false) {
			return fmt.Errorf("%s: %s is not an implicit output: %w", req, b.Reg, ErrBinding)
		}
	}
	return nil
}
