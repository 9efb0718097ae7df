// Package vm implements the regvm virtual machine.
//
// This package contains:
//   - Element types, register slots and frame layouts
//   - The opcode descriptor table, built once per machine
//   - Append-only data and immediate segments
//   - The installed-procedure table and native libraries
//   - The bytecode interpreter and its trap/backtrace reporting
//
// Bytecode is produced by package asm and encoded by package bytecode.
// Objects are reference counted by package object; the interpreter only
// decides when references are taken and dropped.
package vm
