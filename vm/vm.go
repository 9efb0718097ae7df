package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/chazu/regvm/object"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("regvm.vm")

// ---------------------------------------------------------------------------
// Machine: The regvm virtual machine
// ---------------------------------------------------------------------------

// DefaultMaxDepth bounds the call depth when Config.MaxDepth is zero.
const DefaultMaxDepth = 4096

// Config configures a machine.
type Config struct {
	MaxDepth  int              // maximum call depth; DefaultMaxDepth when zero
	Stdout    io.Writer        // output for native routines; os.Stdout when nil
	Finalizer object.Finalizer // run when an object created by the program is finalized
}

// Machine owns the opcode table, the segments, the procedure table and the
// global banks. It is single-threaded: one compiling actor writes the tables,
// then one interpreter cursor executes.
type Machine struct {
	cfg Config

	ops   *OpTable
	procs *ProcTable
	data  *Segment // blobs such as string constants
	imm   *Segment // wide immediates and frame layouts

	globalLayout Layout
	globalRegs   object.Bank
	globalVars   object.Bank

	linkedGen uint64
	linked    bool
	halted    bool
}

// NewMachine creates a machine with an empty procedure table and the
// reserved global registers.
func NewMachine(cfg Config) *Machine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	m := &Machine{
		cfg:   cfg,
		ops:   NewOpTable(),
		procs: NewProcTable(),
		data:  NewSegment("data"),
		imm:   NewSegment("immediate"),
	}
	m.ReserveGlobals(globalMinimum())
	return m
}

// Close releases every object held by the global banks.
func (m *Machine) Close() {
	m.globalRegs.Clear()
	m.globalVars.Clear()
}

// Ops returns the opcode table.
func (m *Machine) Ops() *OpTable { return m.ops }

// Procedures returns the installed-procedure table.
func (m *Machine) Procedures() *ProcTable { return m.procs }

// Data returns the data segment.
func (m *Machine) Data() *Segment { return m.data }

// Immediates returns the immediate segment.
func (m *Machine) Immediates() *Segment { return m.imm }

// Stdout returns the writer native routines print to.
func (m *Machine) Stdout() io.Writer { return m.cfg.Stdout }

// MaxDepth returns the configured call depth bound.
func (m *Machine) MaxDepth() int { return m.cfg.MaxDepth }

// ReplaceSegments swaps in segments loaded from an image.
func (m *Machine) ReplaceSegments(data, imm *Segment) {
	m.data = data
	m.imm = imm
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// ReserveGlobals grows the global banks to hold at least layout l.
func (m *Machine) ReserveGlobals(l Layout) {
	m.globalLayout = m.globalLayout.Max(l)
	m.globalRegs.Grow(m.globalLayout.Registers())
	m.globalVars.Grow(m.globalLayout.Variables())
}

// GlobalLayout returns the current size of the global banks.
func (m *Machine) GlobalLayout() Layout { return m.globalLayout }

// GlobalRegisters returns the global register bank. It is shared by every
// frame; the calling convention passes values through it.
func (m *Machine) GlobalRegisters() *object.Bank { return &m.globalRegs }

// GlobalVariables returns the global variable bank.
func (m *Machine) GlobalVariables() *object.Bank { return &m.globalVars }

func (m *Machine) newObject(n int) *object.Object {
	o := object.New(n)
	if m.cfg.Finalizer != nil {
		o.SetFinalizer(m.cfg.Finalizer)
	}
	return o
}

// ---------------------------------------------------------------------------
// Linking and execution
// ---------------------------------------------------------------------------

// SetLinked records that every symbol of the current procedure table has
// been resolved. Any later change to the table clears it.
func (m *Machine) SetLinked() {
	m.linkedGen = m.procs.Generation()
	m.linked = true
}

// Linked reports whether the procedure table is linked.
func (m *Machine) Linked() bool {
	return m.linked && m.linkedGen == m.procs.Generation()
}

// LinkNatives binds every undefined table entry whose name one of libs
// exports. It returns the names still undefined; when there are none the
// machine is marked linked.
func (m *Machine) LinkNatives(libs []Library) []string {
	var missing []string
	for _, cn := range m.procs.Undefined() {
		name := m.procs.Name(cn)
		fn, lib, ok := LookupNative(libs, name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		if err := m.procs.Bind(cn, fn); err != nil {
			missing = append(missing, name)
			continue
		}
		m.procs.SetDescription(cn, "native "+lib)
		log.Debugf("bound %s to library %s", name, lib)
	}
	if len(missing) == 0 {
		m.SetLinked()
	}
	return missing
}

// Execute runs the procedure with call number cn to completion. It refuses
// to run an unlinked program. A runtime trap is returned as a *Trap carrying
// the backtrace.
func (m *Machine) Execute(cn CallNumber) error {
	if !m.Linked() {
		return ErrUnlinked
	}
	if undefined := m.procs.Undefined(); len(undefined) > 0 {
		return fmt.Errorf("%w: %d undefined procedures", ErrUnlinked, len(undefined))
	}
	m.halted = false
	log.Debugf("execute %s", m.procs.Describe(cn))
	err := m.call(cn, 0)
	m.halted = false
	if err != nil {
		return err
	}
	return nil
}
