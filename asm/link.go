package asm

import (
	"fmt"
	"strings"

	"github.com/chazu/regvm/vm"
)

// ---------------------------------------------------------------------------
// Linking
// ---------------------------------------------------------------------------

// Unresolved is one symbol the linker could not define.
type Unresolved struct {
	Kind SymbolKind
	Name string
	Refs int
}

func (u Unresolved) String() string {
	switch u.Refs {
	case 0:
		return fmt.Sprintf("%s %s", u.Kind, u.Name)
	case 1:
		return fmt.Sprintf("%s %s (1 reference)", u.Kind, u.Name)
	}
	return fmt.Sprintf("%s %s (%d references)", u.Kind, u.Name, u.Refs)
}

// LinkError lists every symbol left undefined after linking.
type LinkError struct {
	Unresolved []Unresolved
}

// Error implements the error interface.
func (e *LinkError) Error() string {
	parts := make([]string, len(e.Unresolved))
	for i, u := range e.Unresolved {
		parts[i] = u.String()
	}
	noun := "symbols"
	if len(parts) == 1 {
		noun = "symbol"
	}
	return fmt.Sprintf("asm: %d unresolved %s: %s", len(parts), noun, strings.Join(parts, ", "))
}

// Names returns the unresolved symbol names.
func (e *LinkError) Names() []string {
	names := make([]string, len(e.Unresolved))
	for i, u := range e.Unresolved {
		names[i] = u.Name
	}
	return names
}

// ResolveAll defines every call symbol still undefined by binding it to the
// native routine of the same name in libs, searched in order. Procedure
// table entries reserved outside the symbol table are bound the same way.
// Anything left undefined, including labels that were jumped to but never
// placed, is reported in a single *LinkError. On success the machine is
// marked linked.
func (a *Assembler) ResolveAll(libs []vm.Library) error {
	procs := a.m.Procedures()
	var unresolved []Unresolved

	for _, s := range a.syms.Calls() {
		if s.state == Defined {
			continue
		}
		if e, ok := procs.Entry(s.cn); ok && e.Kind != vm.EntryUndefined {
			// Installed without going through a Procedure, e.g. from an image.
			s.state = Defined
			continue
		}
		if a.bindNative(libs, s.cn, s.name) {
			s.state = Defined
			continue
		}
		unresolved = append(unresolved, Unresolved{Kind: CallSymbol, Name: s.name, Refs: s.refs})
	}

	for _, cn := range procs.Undefined() {
		name := procs.Name(cn)
		if _, ok := a.syms.Lookup(name); ok {
			continue
		}
		if !a.bindNative(libs, cn, name) {
			unresolved = append(unresolved, Unresolved{Kind: CallSymbol, Name: name})
		}
	}

	for _, l := range a.syms.Labels() {
		if l.state == Referenced {
			unresolved = append(unresolved, Unresolved{Kind: LabelSymbol, Name: l.name + " in " + l.proc.Name(), Refs: l.refs})
		}
	}

	if len(unresolved) > 0 {
		return &LinkError{Unresolved: unresolved}
	}
	a.m.SetLinked()
	log.Debugf("linked %d procedures", procs.Len())
	return nil
}

func (a *Assembler) bindNative(libs []vm.Library, cn vm.CallNumber, name string) bool {
	fn, lib, ok := vm.LookupNative(libs, name)
	if !ok {
		return false
	}
	procs := a.m.Procedures()
	if err := procs.Bind(cn, fn); err != nil {
		return false
	}
	procs.SetDescription(cn, "native "+lib)
	log.Debugf("bound %s to library %s", name, lib)
	return true
}
