package vm

import (
	"errors"
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// ProcTable: installed procedures by call number
// ---------------------------------------------------------------------------

// CallNumber is the stable identity by which compiled code is invoked,
// independent of where the code is stored.
type CallNumber uint32

// EntryKind says what a call number is bound to.
type EntryKind uint8

const (
	EntryUndefined EntryKind = iota
	EntryBytecode
	EntryNative
)

// String implements the Stringer interface.
func (k EntryKind) String() string {
	switch k {
	case EntryBytecode:
		return "bytecode"
	case EntryNative:
		return "native"
	}
	return "undefined"
}

// NativeFunc is a routine implemented by the host. Arguments and results
// travel through the global registers by convention.
type NativeFunc func(m *Machine) error

// Entry is one row of the procedure table.
type Entry struct {
	Kind        EntryKind
	Code        []uint32
	Native      NativeFunc
	Name        string
	Description string
}

var (
	// ErrNoEntry is returned for a call number the table never handed out.
	ErrNoEntry = errors.New("no such call number")

	// ErrAlreadyDefined is returned when binding a call number twice.
	ErrAlreadyDefined = errors.New("call number already defined")
)

// ProcTable maps call numbers to procedures. Call numbers are reserved
// before the code exists, so references can be emitted first.
type ProcTable struct {
	entries []Entry
	byName  map[string]CallNumber
	gen     uint64
}

// NewProcTable creates an empty table.
func NewProcTable() *ProcTable {
	return &ProcTable{byName: make(map[string]CallNumber)}
}

// Reserve returns the call number for name, reserving an undefined entry if
// the name is new. An empty name always reserves a fresh entry.
func (t *ProcTable) Reserve(name string) CallNumber {
	if name != "" {
		if cn, ok := t.byName[name]; ok {
			return cn
		}
	}
	cn := CallNumber(len(t.entries))
	t.entries = append(t.entries, Entry{Name: name})
	if name != "" {
		t.byName[name] = cn
	}
	t.gen++
	return cn
}

// Install binds cn to bytecode.
func (t *ProcTable) Install(cn CallNumber, code []uint32) error {
	e, err := t.undefined(cn)
	if err != nil {
		return err
	}
	e.Kind = EntryBytecode
	e.Code = code
	t.gen++
	return nil
}

// Bind binds cn to a native routine.
func (t *ProcTable) Bind(cn CallNumber, fn NativeFunc) error {
	e, err := t.undefined(cn)
	if err != nil {
		return err
	}
	e.Kind = EntryNative
	e.Native = fn
	t.gen++
	return nil
}

func (t *ProcTable) undefined(cn CallNumber) (*Entry, error) {
	if int(cn) >= len(t.entries) {
		return nil, fmt.Errorf("call number %d: %w", cn, ErrNoEntry)
	}
	e := &t.entries[cn]
	if e.Kind != EntryUndefined {
		return nil, fmt.Errorf("%s: %w", t.Describe(cn), ErrAlreadyDefined)
	}
	return e, nil
}

// SetDescription attaches a diagnostic description to cn.
func (t *ProcTable) SetDescription(cn CallNumber, desc string) {
	if int(cn) < len(t.entries) {
		t.entries[cn].Description = desc
	}
}

// Entry returns the entry for cn.
func (t *ProcTable) Entry(cn CallNumber) (*Entry, bool) {
	if int(cn) >= len(t.entries) {
		return nil, false
	}
	return &t.entries[cn], true
}

// Lookup returns the call number reserved for name.
func (t *ProcTable) Lookup(name string) (CallNumber, bool) {
	cn, ok := t.byName[name]
	return cn, ok
}

// Name returns the diagnostic name of cn.
func (t *ProcTable) Name(cn CallNumber) string {
	if int(cn) >= len(t.entries) {
		return ""
	}
	if n := t.entries[cn].Name; n != "" {
		return n
	}
	return fmt.Sprintf("<anonymous %d>", cn)
}

// Describe returns "#cn name" for diagnostics.
func (t *ProcTable) Describe(cn CallNumber) string {
	return fmt.Sprintf("#%d %s", cn, t.Name(cn))
}

// Undefined returns the call numbers still unbound, in ascending order.
func (t *ProcTable) Undefined() []CallNumber {
	var out []CallNumber
	for i := range t.entries {
		if t.entries[i].Kind == EntryUndefined {
			out = append(out, CallNumber(i))
		}
	}
	return out
}

// Len returns the number of call numbers handed out.
func (t *ProcTable) Len() int {
	return len(t.entries)
}

// Generation increases on every change to the table.
func (t *ProcTable) Generation() uint64 {
	return t.gen
}

// ---------------------------------------------------------------------------
// Native libraries
// ---------------------------------------------------------------------------

// Library is a named set of native routines.
type Library interface {
	Name() string
	Lookup(symbol string) (NativeFunc, bool)
}

// NativeLibrary is a Library backed by a map.
type NativeLibrary struct {
	name     string
	routines map[string]NativeFunc
}

// NewNativeLibrary creates an empty library.
func NewNativeLibrary(name string) *NativeLibrary {
	return &NativeLibrary{name: name, routines: make(map[string]NativeFunc)}
}

// Define adds a routine and returns the library for chaining.
func (l *NativeLibrary) Define(symbol string, fn NativeFunc) *NativeLibrary {
	l.routines[symbol] = fn
	return l
}

// Name implements Library.
func (l *NativeLibrary) Name() string { return l.name }

// Lookup implements Library.
func (l *NativeLibrary) Lookup(symbol string) (NativeFunc, bool) {
	fn, ok := l.routines[symbol]
	return fn, ok
}

// Symbols returns the exported routine names in sorted order.
func (l *NativeLibrary) Symbols() []string {
	names := make([]string, 0, len(l.routines))
	for n := range l.routines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupNative searches libs in order for symbol and returns the routine and
// the name of the library that exports it.
func LookupNative(libs []Library, symbol string) (NativeFunc, string, bool) {
	for _, lib := range libs {
		if fn, ok := lib.Lookup(symbol); ok {
			return fn, lib.Name(), true
		}
	}
	return nil, "", false
}
