package vm

import (
	"fmt"

	"github.com/chazu/regvm/bytecode"
)

// ---------------------------------------------------------------------------
// Generic operations
// ---------------------------------------------------------------------------

// GenericOp is an architecture-independent operation backed by one or more
// concrete opcodes.
type GenericOp uint8

const (
	OpFrame GenericOp = iota // frame header: register counts
	OpMove
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpLt
	OpLe
	OpJmp
	OpJt
	OpJf
	OpCall
	OpRet
	OpHalt
	OpTrap
	OpItoR // int -> real
	OpRtoI // real -> int
	OpMkPt // reals -> point
	OpPtX
	OpPtY
	OpNew
	OpLen

	numGenericOps
)

var genericOpNames = [numGenericOps]string{
	OpFrame: "frame",
	OpMove:  "move",
	OpAdd:   "add",
	OpSub:   "sub",
	OpMul:   "mul",
	OpDiv:   "div",
	OpMod:   "mod",
	OpNeg:   "neg",
	OpEq:    "eq",
	OpLt:    "lt",
	OpLe:    "le",
	OpJmp:   "jmp",
	OpJt:    "jt",
	OpJf:    "jf",
	OpCall:  "call",
	OpRet:   "ret",
	OpHalt:  "halt",
	OpTrap:  "trap",
	OpItoR:  "itor",
	OpRtoI:  "rtoi",
	OpMkPt:  "mkpt",
	OpPtX:   "ptx",
	OpPtY:   "pty",
	OpNew:   "new",
	OpLen:   "len",
}

// String implements the Stringer interface.
func (g GenericOp) String() string {
	if g < numGenericOps {
		return genericOpNames[g]
	}
	return fmt.Sprintf("generic(%d)", uint8(g))
}

// IsJump reports whether the operation takes a displacement operand.
func (g GenericOp) IsJump() bool {
	return g == OpJmp || g == OpJt || g == OpJf
}

// ---------------------------------------------------------------------------
// Signatures
// ---------------------------------------------------------------------------

// Signature is the operand shape an opcode accepts. "Any" means any
// non-immediate category.
type Signature uint8

const (
	SigNone Signature = iota
	SigAny
	SigImm
	SigAnyAny
	SigAnyImm
)

var signatureNames = [...]string{"()", "(any)", "(imm)", "(any, any)", "(any, imm)"}

// String implements the Stringer interface.
func (s Signature) String() string {
	if int(s) < len(signatureNames) {
		return signatureNames[s]
	}
	return fmt.Sprintf("sig(%d)", uint8(s))
}

// Arity returns the number of explicit operands.
func (s Signature) Arity() int {
	switch s {
	case SigAny, SigImm:
		return 1
	case SigAnyAny, SigAnyImm:
		return 2
	}
	return 0
}

// WantsImmediate reports whether operand k must be an immediate.
func (s Signature) WantsImmediate(k int) bool {
	switch s {
	case SigImm:
		return k == 0
	case SigAnyImm:
		return k == 1
	}
	return false
}

// SignatureOf returns the shape of a concrete operand list. The second
// result is false when no signature describes the shape (an immediate in
// the first of two positions).
func SignatureOf(args []bytecode.Operand) (Signature, bool) {
	switch len(args) {
	case 0:
		return SigNone, true
	case 1:
		if args[0].IsImmediate() {
			return SigImm, true
		}
		return SigAny, true
	case 2:
		if args[0].IsImmediate() {
			return 0, false
		}
		if args[1].IsImmediate() {
			return SigAnyImm, true
		}
		return SigAnyAny, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Descriptors
// ---------------------------------------------------------------------------

// ImplicitReg is a global register an opcode reads or writes without naming
// it as an operand.
type ImplicitReg struct {
	Type  ElemType
	Index uint32
}

// Operand returns the global operand addressing the register.
func (r ImplicitReg) Operand() bytecode.Operand {
	return Register(r.Index).Global()
}

// String implements the Stringer interface.
func (r ImplicitReg) String() string {
	return fmt.Sprintf("%s:g%d", r.Type, r.Index)
}

// Executor runs one decoded instruction.
type Executor func(x *Exec) error

// Descriptor describes one concrete opcode.
type Descriptor struct {
	ID      uint32
	Generic GenericOp
	Name    string
	Sig     Signature
	Type    ElemType
	Arity   int
	In      []ImplicitReg
	Out     []ImplicitReg
	Exec    Executor
}

// String implements the Stringer interface.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s%s", d.Name, d.Sig)
}

// ---------------------------------------------------------------------------
// OpTable
// ---------------------------------------------------------------------------

type opKey struct {
	g   GenericOp
	t   ElemType
	sig Signature
}

type familyKey struct {
	g GenericOp
	t ElemType
}

// OpTable is the immutable opcode table of a machine. Exactly one
// descriptor exists per (generic op, element type, signature).
type OpTable struct {
	byID     []*Descriptor
	byKey    map[opKey]*Descriptor
	byFamily map[familyKey][]*Descriptor
}

// NewOpTable builds the opcode table.
func NewOpTable() *OpTable {
	t := &OpTable{
		byKey:    make(map[opKey]*Descriptor),
		byFamily: make(map[familyKey][]*Descriptor),
	}
	for _, s := range opSpecs() {
		t.add(s)
	}
	return t
}

type opSpec struct {
	g    GenericOp
	t    ElemType
	sig  Signature
	in   []ImplicitReg
	out  []ImplicitReg
	exec Executor
	name string
}

func (t *OpTable) add(s opSpec) {
	key := opKey{s.g, s.t, s.sig}
	if _, dup := t.byKey[key]; dup {
		panic(fmt.Sprintf("vm: duplicate opcode %s.%s%s", s.g, s.t, s.sig))
	}
	name := s.name
	if name == "" {
		name = s.g.String()
		if s.sig == SigAnyImm {
			name += "i"
		}
		name += "." + s.t.String()
	}
	d := &Descriptor{
		ID:      uint32(len(t.byID)),
		Generic: s.g,
		Name:    name,
		Sig:     s.sig,
		Type:    s.t,
		Arity:   s.sig.Arity(),
		In:      s.in,
		Out:     s.out,
		Exec:    s.exec,
	}
	t.byID = append(t.byID, d)
	t.byKey[key] = d
	fk := familyKey{s.g, s.t}
	t.byFamily[fk] = append(t.byFamily[fk], d)
}

// Arity implements bytecode.ArityTable.
func (t *OpTable) Arity(op uint32) (int, bool) {
	if int(op) >= len(t.byID) {
		return 0, false
	}
	return t.byID[op].Arity, true
}

// Descriptor returns the descriptor for an opcode id.
func (t *OpTable) Descriptor(op uint32) (*Descriptor, bool) {
	if int(op) >= len(t.byID) {
		return nil, false
	}
	return t.byID[op], true
}

// Lookup returns the opcode implementing g on type typ with signature sig.
func (t *OpTable) Lookup(g GenericOp, typ ElemType, sig Signature) (*Descriptor, bool) {
	d, ok := t.byKey[opKey{g, typ, sig}]
	return d, ok
}

// Family returns every opcode implementing g on type typ, in id order.
func (t *OpTable) Family(g GenericOp, typ ElemType) []*Descriptor {
	return t.byFamily[familyKey{g, typ}]
}

// Descriptors returns every descriptor in id order.
func (t *OpTable) Descriptors() []*Descriptor {
	return t.byID
}

// Len returns the number of opcodes.
func (t *OpTable) Len() int {
	return len(t.byID)
}

// Format renders an instruction using the table's opcode names.
func (t *OpTable) Format(inst bytecode.Instruction) string {
	d, ok := t.Descriptor(inst.Op)
	if !ok {
		return inst.String()
	}
	s := d.Name
	for k, a := range inst.Args {
		if k == 0 {
			s += " "
		} else {
			s += ", "
		}
		switch a.Cat {
		case bytecode.Global:
			s += "g" + DecodeSlot(a.Value).String()
		case bytecode.Local:
			s += DecodeSlot(a.Value).String()
		case bytecode.Pointer:
			s += fmt.Sprintf("[bp+%d]", a.Value)
		default:
			s += fmt.Sprintf("#%d", int32(a.Value))
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Instruction set
// ---------------------------------------------------------------------------

var (
	flagReg  = ImplicitReg{Int, FlagRegister}
	accReg   = ImplicitReg{Int, AccRegister}
	realA    = ImplicitReg{Real, RealARegister}
	realB    = ImplicitReg{Real, RealBRegister}
	pointA   = ImplicitReg{Point, PointARegister}
	selfReg  = ImplicitReg{Object, SelfRegister}
	flagOut  = []ImplicitReg{flagReg}
	flagIn   = []ImplicitReg{flagReg}
	accIn    = []ImplicitReg{accReg}
	realAIn  = []ImplicitReg{realA}
	realABIn = []ImplicitReg{realA, realB}
	pointIn  = []ImplicitReg{pointA}
	selfIn   = []ImplicitReg{selfReg}
)

// opSpecs lists the instruction set. Order determines opcode ids.
func opSpecs() []opSpec {
	specs := []opSpec{
		{g: OpFrame, t: Int, sig: SigImm, exec: execFrame, name: "frame"},
	}

	// Moves.
	for _, t := range ElemTypes() {
		specs = append(specs,
			opSpec{g: OpMove, t: t, sig: SigAnyAny, exec: moveExec[t]},
			opSpec{g: OpMove, t: t, sig: SigAnyImm, exec: moveExec[t]},
		)
	}

	// Arithmetic.
	specs = append(specs,
		opSpec{g: OpAdd, t: Int, sig: SigAnyAny, exec: intBinary(addInt)},
		opSpec{g: OpAdd, t: Int, sig: SigAnyImm, exec: intBinary(addInt)},
		opSpec{g: OpAdd, t: Real, sig: SigAnyAny, exec: realBinary(addReal)},
		opSpec{g: OpAdd, t: Point, sig: SigAnyAny, exec: execAddPoint},
		opSpec{g: OpSub, t: Int, sig: SigAnyAny, exec: intBinary(subInt)},
		opSpec{g: OpSub, t: Int, sig: SigAnyImm, exec: intBinary(subInt)},
		opSpec{g: OpSub, t: Real, sig: SigAnyAny, exec: realBinary(subReal)},
		opSpec{g: OpSub, t: Point, sig: SigAnyAny, exec: execSubPoint},
		opSpec{g: OpMul, t: Int, sig: SigAnyAny, exec: intBinary(mulInt)},
		opSpec{g: OpMul, t: Int, sig: SigAnyImm, exec: intBinary(mulInt)},
		opSpec{g: OpMul, t: Real, sig: SigAnyAny, exec: realBinary(mulReal)},
		opSpec{g: OpDiv, t: Int, sig: SigAnyAny, exec: intBinary(divInt)},
		opSpec{g: OpDiv, t: Int, sig: SigAnyImm, exec: intBinary(divInt)},
		opSpec{g: OpDiv, t: Real, sig: SigAnyAny, exec: realBinary(divReal)},
		opSpec{g: OpMod, t: Int, sig: SigAnyAny, exec: intBinary(modInt)},
		opSpec{g: OpMod, t: Int, sig: SigAnyImm, exec: intBinary(modInt)},
		opSpec{g: OpNeg, t: Int, sig: SigAny, exec: execNegInt},
		opSpec{g: OpNeg, t: Real, sig: SigAny, exec: execNegReal},
		opSpec{g: OpNeg, t: Point, sig: SigAny, exec: execNegPoint},
	)

	// Comparisons.
	for _, g := range []GenericOp{OpEq, OpLt, OpLe} {
		specs = append(specs,
			opSpec{g: g, t: Char, sig: SigAnyAny, out: flagOut, exec: compareChar(g)},
			opSpec{g: g, t: Char, sig: SigAnyImm, out: flagOut, exec: compareChar(g)},
			opSpec{g: g, t: Int, sig: SigAnyAny, out: flagOut, exec: compareInt(g)},
			opSpec{g: g, t: Int, sig: SigAnyImm, out: flagOut, exec: compareInt(g)},
			opSpec{g: g, t: Real, sig: SigAnyAny, out: flagOut, exec: compareReal(g)},
		)
	}
	specs = append(specs,
		opSpec{g: OpEq, t: Object, sig: SigAnyAny, out: flagOut, exec: execEqObject},
	)

	// Control flow.
	specs = append(specs,
		opSpec{g: OpJmp, t: Int, sig: SigImm, exec: execJmp, name: "jmp"},
		opSpec{g: OpJt, t: Int, sig: SigImm, in: flagIn, exec: execJt, name: "jt"},
		opSpec{g: OpJf, t: Int, sig: SigImm, in: flagIn, exec: execJf, name: "jf"},
		opSpec{g: OpCall, t: Int, sig: SigImm, exec: execCall, name: "call"},
		opSpec{g: OpCall, t: Int, sig: SigAny, exec: execCallIndirect, name: "callr"},
		opSpec{g: OpRet, t: Int, sig: SigNone, exec: execRet, name: "ret"},
		opSpec{g: OpHalt, t: Int, sig: SigNone, exec: execHalt, name: "halt"},
		opSpec{g: OpTrap, t: Int, sig: SigImm, exec: execTrap, name: "trap"},
	)

	// Conversions and objects.
	specs = append(specs,
		opSpec{g: OpItoR, t: Real, sig: SigAny, in: accIn, exec: execItoR},
		opSpec{g: OpRtoI, t: Int, sig: SigAny, in: realAIn, exec: execRtoI},
		opSpec{g: OpMkPt, t: Point, sig: SigAny, in: realABIn, exec: execMkPt},
		opSpec{g: OpPtX, t: Real, sig: SigAny, in: pointIn, exec: execPtX},
		opSpec{g: OpPtY, t: Real, sig: SigAny, in: pointIn, exec: execPtY},
		opSpec{g: OpNew, t: Object, sig: SigAny, in: accIn, exec: execNew},
		opSpec{g: OpLen, t: Int, sig: SigAny, in: selfIn, exec: execLen},
	)
	return specs
}
