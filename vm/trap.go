package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Traps
// ---------------------------------------------------------------------------

// TrapCode classifies a runtime trap.
type TrapCode uint8

const (
	TrapInternal TrapCode = iota
	TrapUser
	TrapDivideByZero
	TrapNilPointer
	TrapBadOperand
	TrapBadOpcode
	TrapBadJump
	TrapBadSegment
	TrapBadConversion
	TrapUndefinedCall
	TrapStackOverflow
	TrapNative
)

var trapNames = [...]string{
	TrapInternal:      "internal error",
	TrapUser:          "user trap",
	TrapDivideByZero:  "division by zero",
	TrapNilPointer:    "nil pointer",
	TrapBadOperand:    "bad operand",
	TrapBadOpcode:     "bad opcode",
	TrapBadJump:       "bad jump",
	TrapBadSegment:    "corrupt segment",
	TrapBadConversion: "bad conversion",
	TrapUndefinedCall: "undefined procedure",
	TrapStackOverflow: "stack overflow",
	TrapNative:        "native routine failed",
}

// String implements the Stringer interface.
func (c TrapCode) String() string {
	if int(c) < len(trapNames) {
		return trapNames[c]
	}
	return fmt.Sprintf("trap(%d)", uint8(c))
}

// BacktraceEntry is one unwound frame.
type BacktraceEntry struct {
	CallNumber CallNumber
	Name       string
	Position   int // word offset of the executing instruction; -1 for native routines
}

// String implements the Stringer interface.
func (e BacktraceEntry) String() string {
	if e.Position < 0 {
		return fmt.Sprintf("#%d %s (native)", e.CallNumber, e.Name)
	}
	return fmt.Sprintf("#%d %s +%d", e.CallNumber, e.Name, e.Position)
}

// Trap is a runtime error raised by an executor. It unwinds every active
// frame; each frame appends itself to the backtrace, innermost first.
type Trap struct {
	Code      TrapCode
	Message   string
	UserCode  uint32 // operand of the trap instruction, for TrapUser
	Backtrace []BacktraceEntry
}

func newTrap(code TrapCode, msg string) *Trap {
	return &Trap{Code: code, Message: msg}
}

// Error implements the error interface.
func (t *Trap) Error() string {
	return fmt.Sprintf("%s: %s", t.Code, t.Message)
}

func (t *Trap) push(e BacktraceEntry) {
	t.Backtrace = append(t.Backtrace, e)
}

// Format renders the trap for a host. With verbose set every backtrace
// entry is listed, one per line.
func (t *Trap) Format(verbose bool) string {
	var sb strings.Builder
	sb.WriteString(t.Error())
	if !verbose {
		return sb.String()
	}
	for _, e := range t.Backtrace {
		sb.WriteString("\n  at ")
		sb.WriteString(e.String())
	}
	return sb.String()
}

func (m *Machine) backtraceEntry(cn CallNumber, pos int) BacktraceEntry {
	return BacktraceEntry{CallNumber: cn, Name: m.procs.Name(cn), Position: pos}
}
