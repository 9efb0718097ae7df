package vm

import (
	"testing"

	"github.com/chazu/regvm/bytecode"
)

// ---------------------------------------------------------------------------
// Hand assembly for interpreter tests
// ---------------------------------------------------------------------------

// testProc emits instructions straight into a buffer, without the allocator
// or the selector.
type testProc struct {
	t   *testing.T
	m   *Machine
	buf *bytecode.Buffer
}

func uniform(n uint32) Layout {
	var l Layout
	for t := range l {
		l[t] = Counts{Registers: n, Variables: n}
	}
	return l
}

func newTestProc(t *testing.T, m *Machine, l Layout) *testProc {
	t.Helper()
	p := &testProc{t: t, m: m, buf: bytecode.NewBuffer()}
	p.emit(OpFrame, Int, imm(m.Immediates().AppendLayout(l)))
	return p
}

func imm(v uint32) bytecode.Operand { return bytecode.Operand{Cat: bytecode.Immediate, Value: v} }
func immInt(v int32) bytecode.Operand { return imm(uint32(v)) }
func reg(i uint32) bytecode.Operand { return Register(i).Local() }
func lvar(i uint32) bytecode.Operand { return Variable(i).Local() }
func greg(i uint32) bytecode.Operand { return Register(i).Global() }
func gvar(i uint32) bytecode.Operand { return Variable(i).Global() }
func ptr(off uint32) bytecode.Operand { return bytecode.Operand{Cat: bytecode.Pointer, Value: off} }

func (p *testProc) lookup(g GenericOp, typ ElemType, args []bytecode.Operand) *Descriptor {
	p.t.Helper()
	sig, ok := SignatureOf(args)
	if !ok {
		p.t.Fatalf("no signature for %v", args)
	}
	d, ok := p.m.Ops().Lookup(g, typ, sig)
	if !ok {
		p.t.Fatalf("no opcode %s.%s%s", g, typ, sig)
	}
	return d
}

func (p *testProc) emit(g GenericOp, typ ElemType, args ...bytecode.Operand) int {
	p.t.Helper()
	d := p.lookup(g, typ, args)
	pos, err := p.buf.Emit(bytecode.Instruction{Op: d.ID, Args: args})
	if err != nil {
		p.t.Fatalf("emit %s: %v", d.Name, err)
	}
	return pos
}

// jump emits a jump to an already known target.
func (p *testProc) jump(g GenericOp, target int) {
	p.t.Helper()
	pos := p.forward(g)
	p.patch(pos, target)
}

// forward emits a jump with a patchable displacement and returns its
// position.
func (p *testProc) forward(g GenericOp) int {
	p.t.Helper()
	args := []bytecode.Operand{imm(0)}
	d := p.lookup(g, Int, args)
	pos, err := p.buf.EmitWide(bytecode.Instruction{Op: d.ID, Args: args}, 1)
	if err != nil {
		p.t.Fatalf("emit %s: %v", d.Name, err)
	}
	return pos
}

func (p *testProc) patch(pos, target int) {
	p.t.Helper()
	disp, err := p.buf.Displacement(pos, target)
	if err != nil {
		p.t.Fatal(err)
	}
	if err := p.buf.PatchOperand(pos, 0, uint32(disp)); err != nil {
		p.t.Fatal(err)
	}
}

func (p *testProc) here() int { return p.buf.Len() }

func (p *testProc) install(name string) CallNumber {
	p.t.Helper()
	cn := p.m.Procedures().Reserve(name)
	if err := p.m.Procedures().Install(cn, p.buf.Words()); err != nil {
		p.t.Fatalf("install %s: %v", name, err)
	}
	return cn
}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(Config{MaxDepth: 64})
	l := globalMinimum()
	for i := range l {
		l[i].Variables = 4
	}
	m.ReserveGlobals(l)
	t.Cleanup(m.Close)
	return m
}

func mustLink(t *testing.T, m *Machine, libs ...Library) {
	t.Helper()
	if missing := m.LinkNatives(libs); len(missing) > 0 {
		t.Fatalf("unresolved: %v", missing)
	}
}
