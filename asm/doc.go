// Package asm assembles regvm procedures.
//
// An Assembler owns the register allocator, the opcode selector and the
// symbol table for one Machine. Procedures are opened with Begin, filled
// with Assemble calls naming a generic operation, an element type and
// operands, then closed with End and installed into the machine's
// procedure table. The selector picks a concrete opcode for the operand
// shapes and stages operands through scratch or temporary registers when
// no opcode accepts them directly.
//
// Jumps to labels and calls to procedures may be emitted before their
// targets exist. ResolveAll binds the calls still undefined to native
// libraries and reports anything left over.
package asm
