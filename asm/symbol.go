package asm

import (
	"fmt"

	"github.com/chazu/regvm/bytecode"
	"github.com/chazu/regvm/vm"
)

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// SymbolKind distinguishes jump targets from procedures.
type SymbolKind uint8

const (
	LabelSymbol SymbolKind = iota
	CallSymbol
)

// String implements the Stringer interface.
func (k SymbolKind) String() string {
	if k == CallSymbol {
		return "call"
	}
	return "label"
}

// SymbolState is the lifecycle of a symbol. It only moves forward:
// Undefined, then Referenced after the first use, then Defined once.
type SymbolState uint8

const (
	Undefined SymbolState = iota
	Referenced
	Defined
)

// String implements the Stringer interface.
func (s SymbolState) String() string {
	switch s {
	case Referenced:
		return "referenced"
	case Defined:
		return "defined"
	}
	return "undefined"
}

// Symbol is a name that code refers to before or after it is defined. A
// label is a position in one procedure's code; a call symbol is a call
// number, reserved when the symbol is created so that callers can be
// emitted before the callee exists.
type Symbol struct {
	kind  SymbolKind
	name  string
	state SymbolState
	refs  int

	proc    *Procedure // owning procedure of a label
	target  int        // label position once defined
	pending []int      // jump positions waiting for the label

	cn vm.CallNumber
}

// Kind returns the symbol kind.
func (s *Symbol) Kind() SymbolKind { return s.kind }

// Name returns the symbol name.
func (s *Symbol) Name() string { return s.name }

// State returns the lifecycle state.
func (s *Symbol) State() SymbolState { return s.state }

// References returns how many instructions refer to the symbol.
func (s *Symbol) References() int { return s.refs }

// IsDefined reports whether the symbol has been defined.
func (s *Symbol) IsDefined() bool { return s.state == Defined }

// CallNumber returns the call number of a call symbol.
func (s *Symbol) CallNumber() vm.CallNumber { return s.cn }

// Target returns the position of a defined label.
func (s *Symbol) Target() (int, bool) {
	return s.target, s.kind == LabelSymbol && s.state == Defined
}

// String implements the Stringer interface.
func (s *Symbol) String() string {
	if s.kind == LabelSymbol && s.proc != nil {
		return fmt.Sprintf("label %s in %s", s.name, s.proc.Name())
	}
	return fmt.Sprintf("%s %s", s.kind, s.name)
}

func (s *Symbol) reference() {
	s.refs++
	if s.state == Undefined {
		s.state = Referenced
	}
}

func (s *Symbol) define() error {
	if s.state == Defined {
		return fmt.Errorf("%s: %w", s, ErrRedefined)
	}
	s.state = Defined
	return nil
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// referenceLabel records a jump at pos to label l in buf. A backward jump is
// patched at once; a forward jump waits for the label's definition.
func (s *Symbol) referenceLabel(buf *bytecode.Buffer, pos int) error {
	s.reference()
	if s.state == Defined {
		return patchJump(buf, pos, s.target)
	}
	s.pending = append(s.pending, pos)
	return nil
}

// defineLabel fixes the label at target and patches every pending jump.
func (s *Symbol) defineLabel(buf *bytecode.Buffer, target int) error {
	if err := s.define(); err != nil {
		return err
	}
	s.target = target
	for _, pos := range s.pending {
		if err := patchJump(buf, pos, target); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	s.pending = nil
	return nil
}

func patchJump(buf *bytecode.Buffer, pos, target int) error {
	disp, err := buf.Displacement(pos, target)
	if err != nil {
		return err
	}
	return buf.PatchOperand(pos, 0, uint32(disp))
}

// ---------------------------------------------------------------------------
// SymbolTable
// ---------------------------------------------------------------------------

// SymbolTable holds the call symbols of a program by name and the labels
// not yet placed. A label leaves the table once it is defined.
type SymbolTable struct {
	procs   *vm.ProcTable
	calls   map[string]*Symbol
	order   []*Symbol
	labels  []*Symbol
	nlabels int
}

// NewSymbolTable creates a table whose call symbols reserve entries in procs.
func NewSymbolTable(procs *vm.ProcTable) *SymbolTable {
	return &SymbolTable{procs: procs, calls: make(map[string]*Symbol)}
}

// Call returns the call symbol for name, creating it and reserving its call
// number on first use.
func (t *SymbolTable) Call(name string) *Symbol {
	if s, ok := t.calls[name]; ok {
		return s
	}
	s := &Symbol{kind: CallSymbol, name: name, cn: t.procs.Reserve(name)}
	t.calls[name] = s
	t.order = append(t.order, s)
	return s
}

// Lookup returns the call symbol for name if it exists.
func (t *SymbolTable) Lookup(name string) (*Symbol, bool) {
	s, ok := t.calls[name]
	return s, ok
}

// Calls returns the call symbols in creation order.
func (t *SymbolTable) Calls() []*Symbol {
	return t.order
}

// Labels returns the labels still awaiting definition, in creation order.
func (t *SymbolTable) Labels() []*Symbol {
	return t.labels
}

func (t *SymbolTable) newLabel(p *Procedure, name string) *Symbol {
	if name == "" {
		name = fmt.Sprintf("L%d", t.nlabels)
	}
	t.nlabels++
	s := &Symbol{kind: LabelSymbol, name: name, proc: p}
	t.labels = append(t.labels, s)
	return s
}

// retire drops a defined label; its jumps are all patched.
func (t *SymbolTable) retire(l *Symbol) {
	for i, s := range t.labels {
		if s == l {
			t.labels = append(t.labels[:i], t.labels[i+1:]...)
			return
		}
	}
}
