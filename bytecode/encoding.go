package bytecode

import (
	"fmt"
	"math/bits"
	"strings"
)

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// Category is an operand addressing mode. It occupies two bits of the
// header's category nibble.
type Category uint8

const (
	Global    Category = iota // offset into the global bank of the instruction's type
	Local                     // offset into the current frame's bank
	Pointer                   // field offset relative to the base pointer
	Immediate                 // value embedded in the stream
)

var categoryPrefix = [...]string{"g", "l", "p", "#"}

// String implements the Stringer interface.
func (c Category) String() string {
	switch c {
	case Global:
		return "global"
	case Local:
		return "local"
	case Pointer:
		return "pointer"
	case Immediate:
		return "immediate"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Operand is a single instruction operand.
type Operand struct {
	Cat   Category
	Value uint32
}

// IsImmediate reports whether the operand is embedded in the stream.
func (o Operand) IsImmediate() bool {
	return o.Cat == Immediate
}

// String implements the Stringer interface.
func (o Operand) String() string {
	if o.Cat == Immediate {
		return fmt.Sprintf("#%d", int32(o.Value))
	}
	return fmt.Sprintf("%s%d", categoryPrefix[o.Cat&3], o.Value)
}

// MaxOperands is the largest number of explicit operands an instruction has.
const MaxOperands = 2

// Instruction is a decoded instruction: an opcode id and its operands.
type Instruction struct {
	Op   uint32
	Args []Operand
}

// Equal reports whether two instructions have the same opcode and operands.
func (i Instruction) Equal(o Instruction) bool {
	if i.Op != o.Op || len(i.Args) != len(o.Args) {
		return false
	}
	for k := range i.Args {
		if i.Args[k] != o.Args[k] {
			return false
		}
	}
	return true
}

// String implements the Stringer interface.
func (i Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "op%d", i.Op)
	for k, a := range i.Args {
		if k == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Header layout
// ---------------------------------------------------------------------------

const (
	longBit = 1 << 31

	catShift = 27
	catMask  = 0xF

	shortLenShift = 25
	shortLenMask  = 0x3
	wideShift     = 23
	wideMask      = 0x3
	shortOpShift  = 16
	shortOpMask   = 0x7F

	longLenMask = 0x07FFFFFF

	// MaxShortOpcode is the largest opcode id the short format can carry.
	MaxShortOpcode = shortOpMask
	// MaxShortOperand is the largest register operand value the short format can carry.
	MaxShortOperand = 0xFF
)

// ArityTable reports the number of explicit operands of an opcode id.
type ArityTable interface {
	Arity(op uint32) (int, bool)
}

func categoryNibble(args []Operand) uint32 {
	var n uint32
	for k, a := range args {
		n |= uint32(a.Cat&3) << (2 * k)
	}
	return n
}

func operandByteShift(k int) uint32 {
	return uint32(8 * (1 - k))
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode returns the words for an instruction.
func Encode(inst Instruction) ([]uint32, error) {
	return EncodeWide(inst, 0)
}

// EncodeWide returns the words for an instruction, forcing every operand k
// whose bit is set in wide into a full word so that it can be patched later
// without changing the instruction's length.
func EncodeWide(inst Instruction, wide uint8) ([]uint32, error) {
	if len(inst.Args) > MaxOperands {
		return nil, fmt.Errorf("encode op%d: %w", inst.Op, ErrTooManyOperands)
	}
	if fitsShort(inst) {
		return encodeShort(inst, wide), nil
	}
	return encodeLong(inst), nil
}

func fitsShort(inst Instruction) bool {
	if inst.Op > MaxShortOpcode {
		return false
	}
	for _, a := range inst.Args {
		if a.Cat != Immediate && a.Value > MaxShortOperand {
			return false
		}
	}
	return true
}

func encodeShort(inst Instruction, wide uint8) []uint32 {
	var flags uint32
	for k, a := range inst.Args {
		if wide&(1<<k) != 0 || a.Value > MaxShortOperand {
			flags |= 1 << k
		}
	}
	length := 1 + bits.OnesCount32(flags)

	w0 := categoryNibble(inst.Args)<<catShift |
		uint32(length)<<shortLenShift |
		flags<<wideShift |
		inst.Op<<shortOpShift

	words := make([]uint32, 1, length)
	for k, a := range inst.Args {
		if flags&(1<<k) != 0 {
			words = append(words, a.Value)
			continue
		}
		w0 |= a.Value << operandByteShift(k)
	}
	words[0] = w0
	return words
}

func encodeLong(inst Instruction) []uint32 {
	length := 2 + len(inst.Args)
	words := make([]uint32, 0, length)
	words = append(words, longBit|categoryNibble(inst.Args)<<catShift|uint32(length))
	words = append(words, inst.Op)
	for _, a := range inst.Args {
		words = append(words, a.Value)
	}
	return words
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// IsLong reports whether the header word uses the long format.
func IsLong(w0 uint32) bool {
	return w0&longBit != 0
}

// Length returns the length in words of the instruction starting at code[pc]
// without decoding its operands.
func Length(code []uint32, pc int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, fmt.Errorf("at %d: %w", pc, ErrTruncated)
	}
	w0 := code[pc]
	if IsLong(w0) {
		return int(w0 & longLenMask), nil
	}
	return int((w0 >> shortLenShift) & shortLenMask), nil
}

// Decode decodes the instruction starting at code[pc] and returns it with
// its length in words.
func Decode(code []uint32, pc int, table ArityTable) (Instruction, int, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, 0, fmt.Errorf("at %d: %w", pc, ErrTruncated)
	}
	w0 := code[pc]
	if IsLong(w0) {
		return decodeLong(code, pc, table)
	}
	return decodeShort(code, pc, table)
}

func decodeShort(code []uint32, pc int, table ArityTable) (Instruction, int, error) {
	w0 := code[pc]
	op := (w0 >> shortOpShift) & shortOpMask
	arity, ok := table.Arity(op)
	if !ok {
		return Instruction{}, 0, fmt.Errorf("at %d: op%d: %w", pc, op, ErrUnknownOpcode)
	}
	length := int((w0 >> shortLenShift) & shortLenMask)
	flags := (w0 >> wideShift) & wideMask
	if flags>>arity != 0 || length != 1+bits.OnesCount32(flags) {
		return Instruction{}, 0, fmt.Errorf("at %d: op%d: %w", pc, op, ErrMalformed)
	}
	if pc+length > len(code) {
		return Instruction{}, 0, fmt.Errorf("at %d: op%d: %w", pc, op, ErrTruncated)
	}

	inst := Instruction{Op: op}
	if arity == 0 {
		return inst, length, nil
	}
	nibble := (w0 >> catShift) & catMask
	inst.Args = make([]Operand, arity)
	next := pc + 1
	for k := 0; k < arity; k++ {
		a := Operand{Cat: Category((nibble >> (2 * k)) & 3)}
		if flags&(1<<k) != 0 {
			a.Value = code[next]
			next++
		} else {
			a.Value = (w0 >> operandByteShift(k)) & 0xFF
		}
		inst.Args[k] = a
	}
	return inst, length, nil
}

func decodeLong(code []uint32, pc int, table ArityTable) (Instruction, int, error) {
	w0 := code[pc]
	if pc+1 >= len(code) {
		return Instruction{}, 0, fmt.Errorf("at %d: %w", pc, ErrTruncated)
	}
	op := code[pc+1]
	arity, ok := table.Arity(op)
	if !ok {
		return Instruction{}, 0, fmt.Errorf("at %d: op%d: %w", pc, op, ErrUnknownOpcode)
	}
	length := int(w0 & longLenMask)
	if length != 2+arity {
		return Instruction{}, 0, fmt.Errorf("at %d: op%d: %w", pc, op, ErrMalformed)
	}
	if pc+length > len(code) {
		return Instruction{}, 0, fmt.Errorf("at %d: op%d: %w", pc, op, ErrTruncated)
	}

	inst := Instruction{Op: op}
	if arity == 0 {
		return inst, length, nil
	}
	nibble := (w0 >> catShift) & catMask
	inst.Args = make([]Operand, arity)
	for k := 0; k < arity; k++ {
		inst.Args[k] = Operand{
			Cat:   Category((nibble >> (2 * k)) & 3),
			Value: code[pc+2+k],
		}
	}
	return inst, length, nil
}

// OperandWord returns the index of the word holding operand k of the
// instruction at code[pc]. It fails with ErrNotPatchable when the operand is
// packed into the short header.
func OperandWord(code []uint32, pc, k int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, fmt.Errorf("at %d: %w", pc, ErrTruncated)
	}
	if k < 0 || k >= MaxOperands {
		return 0, fmt.Errorf("operand %d: %w", k, ErrTooManyOperands)
	}
	w0 := code[pc]
	var idx int
	if IsLong(w0) {
		if int(w0&longLenMask) <= 2+k {
			return 0, fmt.Errorf("at %d operand %d: %w", pc, k, ErrNotPatchable)
		}
		idx = pc + 2 + k
	} else {
		flags := (w0 >> wideShift) & wideMask
		if flags&(1<<k) == 0 {
			return 0, fmt.Errorf("at %d operand %d: %w", pc, k, ErrNotPatchable)
		}
		idx = pc + 1 + bits.OnesCount32(flags&(1<<k-1))
	}
	if idx >= len(code) {
		return 0, fmt.Errorf("at %d operand %d: %w", pc, k, ErrTruncated)
	}
	return idx, nil
}
