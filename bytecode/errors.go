package bytecode

import "errors"

var (
	// ErrUnknownOpcode is returned when a header names an opcode id that the
	// arity table does not know.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrTruncated is returned when an instruction runs past the end of the
	// word stream.
	ErrTruncated = errors.New("truncated instruction")

	// ErrMalformed is returned when a header's length disagrees with the
	// opcode's arity and wide flags.
	ErrMalformed = errors.New("malformed instruction header")

	// ErrTooManyOperands is returned when encoding more than MaxOperands operands.
	ErrTooManyOperands = errors.New("too many operands")

	// ErrNotPatchable is returned when patching an operand that does not
	// occupy a full word.
	ErrNotPatchable = errors.New("operand is not stored in a full word")
)
