package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Buffer: Helper for constructing word streams
// ---------------------------------------------------------------------------

// Buffer accumulates encoded instructions. Positions are word offsets.
type Buffer struct {
	words []uint32
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{words: make([]uint32, 0, 64)}
}

// Words returns the encoded stream.
func (b *Buffer) Words() []uint32 {
	return b.words
}

// Len returns the current length in words.
func (b *Buffer) Len() int {
	return len(b.words)
}

// Emit appends an instruction and returns its position.
func (b *Buffer) Emit(inst Instruction) (int, error) {
	return b.EmitWide(inst, 0)
}

// EmitWide appends an instruction whose operands selected by wide are kept
// in full words, and returns its position.
func (b *Buffer) EmitWide(inst Instruction, wide uint8) (int, error) {
	words, err := EncodeWide(inst, wide)
	if err != nil {
		return 0, err
	}
	pos := len(b.words)
	b.words = append(b.words, words...)
	return pos, nil
}

// PatchOperand overwrites operand k of the instruction at pos.
func (b *Buffer) PatchOperand(pos, k int, value uint32) error {
	idx, err := OperandWord(b.words, pos, k)
	if err != nil {
		return fmt.Errorf("patch: %w", err)
	}
	b.words[idx] = value
	return nil
}

// Displacement returns the signed word distance from the end of the
// instruction at pos to target, which is how jumps are encoded.
func (b *Buffer) Displacement(pos, target int) (int32, error) {
	n, err := Length(b.words, pos)
	if err != nil {
		return 0, err
	}
	return int32(target - (pos + n)), nil
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Reader walks a word stream instruction by instruction.
type Reader struct {
	code  []uint32
	pc    int
	table ArityTable
}

// NewReader creates a reader over code.
func NewReader(code []uint32, table ArityTable) *Reader {
	return &Reader{code: code, table: table}
}

// Position returns the current word offset.
func (r *Reader) Position() int {
	return r.pc
}

// HasMore returns true if there are more words to read.
func (r *Reader) HasMore() bool {
	return r.pc < len(r.code)
}

// Next decodes the instruction at the current position and advances past it.
func (r *Reader) Next() (Instruction, error) {
	inst, n, err := Decode(r.code, r.pc, r.table)
	if err != nil {
		return Instruction{}, err
	}
	r.pc += n
	return inst, nil
}

// Seek sets the read position.
func (r *Reader) Seek(pc int) {
	r.pc = pc
}
