package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/regvm/bytecode"
	"github.com/chazu/regvm/object"
)

// ---------------------------------------------------------------------------
// Element types
// ---------------------------------------------------------------------------

// ElemType is the element type of an instruction. Every element type is also
// a register class with its own bank.
type ElemType uint8

const (
	Char ElemType = iota
	Int
	Real
	Point
	Object
)

// NumTypes is the number of element types.
const NumTypes = 5

var elemTypeNames = [NumTypes]string{"char", "int", "real", "point", "object"}

// String implements the Stringer interface.
func (t ElemType) String() string {
	if int(t) < NumTypes {
		return elemTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ElemTypes lists every element type in bank order.
func ElemTypes() []ElemType {
	return []ElemType{Char, Int, Real, Point, Object}
}

// ---------------------------------------------------------------------------
// Slots
// ---------------------------------------------------------------------------

// SlotKind distinguishes registers from variables.
type SlotKind uint8

const (
	RegisterSlot SlotKind = iota
	VariableSlot
)

// MaxSlotIndex is the largest index a slot operand can carry; the low bit
// of the operand holds the kind.
const MaxSlotIndex = 1<<31 - 1

// Slot identifies a register or a variable within one bank. Index must not
// exceed MaxSlotIndex.
type Slot struct {
	Kind  SlotKind
	Index uint32
}

// Register returns the register slot i. It panics if i exceeds MaxSlotIndex.
func Register(i uint32) Slot { return newSlot(RegisterSlot, i) }

// Variable returns the variable slot i. It panics if i exceeds MaxSlotIndex.
func Variable(i uint32) Slot { return newSlot(VariableSlot, i) }

func newSlot(k SlotKind, i uint32) Slot {
	if i > MaxSlotIndex {
		panic(fmt.Sprintf("vm: slot index %d out of range", i))
	}
	return Slot{Kind: k, Index: i}
}

// Encode returns the operand value for the slot: the index shifted left
// once, with the low bit set for variables.
func (s Slot) Encode() uint32 {
	return s.Index<<1 | uint32(s.Kind&1)
}

// DecodeSlot is the inverse of Slot.Encode.
func DecodeSlot(v uint32) Slot {
	return Slot{Kind: SlotKind(v & 1), Index: v >> 1}
}

// IsVariable reports whether the slot is a variable.
func (s Slot) IsVariable() bool {
	return s.Kind == VariableSlot
}

// String implements the Stringer interface.
func (s Slot) String() string {
	if s.Kind == VariableSlot {
		return fmt.Sprintf("v%d", s.Index)
	}
	return fmt.Sprintf("r%d", s.Index)
}

// Local returns the local-bank operand for s.
func (s Slot) Local() bytecode.Operand {
	return bytecode.Operand{Cat: bytecode.Local, Value: s.Encode()}
}

// Global returns the global-bank operand for s.
func (s Slot) Global() bytecode.Operand {
	return bytecode.Operand{Cat: bytecode.Global, Value: s.Encode()}
}

// ---------------------------------------------------------------------------
// Reserved registers
// ---------------------------------------------------------------------------

// ScratchRegister is the implicit scratch register of every bank. Local
// object register 0 is also the base pointer for pointer-relative operands.
const ScratchRegister = 0

// Global registers with a fixed role.
const (
	FlagRegister    = 1 // int: comparison result, conditional jump input
	AccRegister     = 2 // int: conversion and allocation size input
	RealARegister   = 1 // real: first real input
	RealBRegister   = 2 // real: second real input
	PointARegister  = 1 // point: point decomposition input
	SelfRegister    = 1 // object: calling convention receiver
	ContextRegister = 2 // object: calling convention context
)

// ReservedGlobals is the highest reserved global register per element type.
// The global register pools never hand out an index at or below it.
var ReservedGlobals = [NumTypes]uint32{
	Char:   ScratchRegister,
	Int:    AccRegister,
	Real:   RealBRegister,
	Point:  PointARegister,
	Object: ContextRegister,
}

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// Counts is the number of registers and variables of one element type,
// including the reserved index 0.
type Counts struct {
	Registers uint32
	Variables uint32
}

// Layout gives the register and variable counts of a frame or of the
// global bank, per element type.
type Layout [NumTypes]Counts

// Registers returns the register bank sizes.
func (l Layout) Registers() object.Sizes {
	var s object.Sizes
	for t := range l {
		s[t] = int(l[t].Registers)
	}
	return s
}

// Variables returns the variable bank sizes.
func (l Layout) Variables() object.Sizes {
	var s object.Sizes
	for t := range l {
		s[t] = int(l[t].Variables)
	}
	return s
}

// Max returns the per-field maximum of l and o.
func (l Layout) Max(o Layout) Layout {
	for t := range l {
		l[t].Registers = max(l[t].Registers, o[t].Registers)
		l[t].Variables = max(l[t].Variables, o[t].Variables)
	}
	return l
}

const layoutBytes = NumTypes * 8

// MarshalBinary encodes the layout as little-endian counts.
func (l Layout) MarshalBinary() ([]byte, error) {
	b := make([]byte, layoutBytes)
	for t := range l {
		binary.LittleEndian.PutUint32(b[t*8:], l[t].Registers)
		binary.LittleEndian.PutUint32(b[t*8+4:], l[t].Variables)
	}
	return b, nil
}

// UnmarshalBinary decodes a layout written by MarshalBinary.
func (l *Layout) UnmarshalBinary(b []byte) error {
	if len(b) != layoutBytes {
		return fmt.Errorf("layout: %d bytes, want %d", len(b), layoutBytes)
	}
	for t := range l {
		l[t].Registers = binary.LittleEndian.Uint32(b[t*8:])
		l[t].Variables = binary.LittleEndian.Uint32(b[t*8+4:])
	}
	return nil
}

// globalMinimum is the smallest global layout: every reserved register exists.
func globalMinimum() Layout {
	var l Layout
	for t := range l {
		l[t].Registers = ReservedGlobals[t] + 1
		l[t].Variables = 1
	}
	return l
}
