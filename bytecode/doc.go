// Package bytecode implements the instruction word format of the regvm
// virtual machine.
//
// An instruction is a sequence of fixed-width 32-bit words. Two encodings
// exist:
//   - short: one header word carrying the category nibble, the length, the
//     opcode id and two operand bytes, followed by up to two trailing words
//     for wide operands
//   - long: a header word with the category nibble and the length, a word
//     with the full opcode id, and one full word per operand
//
// The encoder picks the short form whenever it can. Decoding consults an
// opcode arity table; an unknown opcode id is fatal to the decode session.
package bytecode
