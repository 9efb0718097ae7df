package asm

import (
	"fmt"
	"strings"

	"github.com/chazu/regvm/bytecode"
	"github.com/chazu/regvm/vm"
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Binding pairs an implicit register of an opcode with the operand that
// feeds it (for inputs) or receives it (for outputs).
type Binding struct {
	Reg     vm.ImplicitReg
	Operand bytecode.Operand
}

// Request asks for one generic operation to be emitted.
type Request struct {
	Op   vm.GenericOp
	Type vm.ElemType
	Args []bytecode.Operand
	In   []Binding // values moved into implicit inputs before the operation
	Out  []Binding // destinations implicit outputs are copied to after it
}

func (r Request) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s.%s", r.Op, r.Type)
	for k, a := range r.Args {
		if k == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	return sb.String()
}

// SelectError reports an operation that no opcode can implement, even with
// operands staged through registers.
type SelectError struct {
	Op    vm.GenericOp
	Type  vm.ElemType
	Shape string
	Tried []vm.Signature
}

// Error implements the error interface.
func (e *SelectError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("asm: no %s opcode for type %s", e.Op, e.Type)
	}
	tried := make([]string, len(e.Tried))
	for i, s := range e.Tried {
		tried[i] = s.String()
	}
	return fmt.Sprintf("asm: no %s.%s for operands %s; tried %s",
		e.Op, e.Type, e.Shape, strings.Join(tried, ", "))
}

// ---------------------------------------------------------------------------
// Planning
// ---------------------------------------------------------------------------

// PlanKind is the outcome of planning a request.
type PlanKind uint8

const (
	Direct       PlanKind = iota // an opcode takes the operands as they are
	NeedsScratch                 // operand Plan.Pos must be moved to a register first
	Infeasible                   // nothing implements the operation
)

// Plan is the selector's decision for one set of operands.
type Plan struct {
	Kind PlanKind
	Desc *vm.Descriptor // set when Kind is Direct
	Pos  int            // set when Kind is NeedsScratch
	Err  *SelectError   // set when Kind is Infeasible
}

// Selector maps generic operations onto the opcode table.
type Selector struct {
	ops *vm.OpTable
}

// NewSelector creates a selector over ops.
func NewSelector(ops *vm.OpTable) *Selector {
	return &Selector{ops: ops}
}

// Plan decides how to emit g on type t with args. Staging an operand and
// planning again always makes progress: each step turns one immediate or
// pointer-relative operand into a register.
func (s *Selector) Plan(g vm.GenericOp, t vm.ElemType, args []bytecode.Operand) Plan {
	// One base pointer: two pointer-relative operands cannot both be read
	// through it.
	if len(args) == 2 && args[0].Cat == bytecode.Pointer && args[1].Cat == bytecode.Pointer {
		return Plan{Kind: NeedsScratch, Pos: 1}
	}

	if sig, ok := vm.SignatureOf(args); ok {
		if d, ok := s.ops.Lookup(g, t, sig); ok {
			return Plan{Kind: Direct, Desc: d}
		}
	}

	family := s.ops.Family(g, t)
	for _, d := range family {
		if d.Arity != len(args) {
			continue
		}
		if pos, ok := stagingPosition(d.Sig, args); ok {
			return Plan{Kind: NeedsScratch, Pos: pos}
		}
	}

	tried := make([]vm.Signature, len(family))
	for i, d := range family {
		tried[i] = d.Sig
	}
	return Plan{Kind: Infeasible, Err: &SelectError{Op: g, Type: t, Shape: shape(args), Tried: tried}}
}

// stagingPosition returns the first operand that must be moved into a
// register for sig to accept args. It fails when sig needs an immediate
// where args has none.
func stagingPosition(sig vm.Signature, args []bytecode.Operand) (int, bool) {
	pos := -1
	for k, a := range args {
		wantImm := sig.WantsImmediate(k)
		switch {
		case wantImm && !a.IsImmediate():
			return 0, false
		case !wantImm && a.IsImmediate() && pos < 0:
			pos = k
		}
	}
	return pos, pos >= 0
}

func shape(args []bytecode.Operand) string {
	parts := make([]string, len(args))
	for k, a := range args {
		if a.IsImmediate() {
			parts[k] = "imm"
		} else {
			parts[k] = "any"
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
