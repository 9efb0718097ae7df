package native

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/regvm/vm"
)

// CoreName is the name of the core library.
const CoreName = "core"

// Core returns a fresh copy of the core library.
func Core() *vm.NativeLibrary {
	return vm.NewNativeLibrary(CoreName).
		Define("print.int", printInt).
		Define("print.char", printChar).
		Define("print.real", printReal).
		Define("print.point", printPoint).
		Define("print.string", printString).
		Define("print.newline", printNewline).
		Define("math.abs", intOp(func(x int64) int64 {
			if x < 0 {
				return -x
			}
			return x
		})).
		Define("math.min", intOp2(func(a, b int64) int64 { return min(a, b) })).
		Define("math.max", intOp2(func(a, b int64) int64 { return max(a, b) })).
		Define("math.sqrt", realOp(math.Sqrt)).
		Define("math.sin", realOp(math.Sin)).
		Define("math.cos", realOp(math.Cos)).
		Define("math.floor", realOp(math.Floor)).
		Define("math.exp", realOp(math.Exp)).
		Define("math.log", realOp(math.Log)).
		Define("math.pow", realOp2(math.Pow)).
		Define("math.atan2", realOp2(math.Atan2)).
		Define("math.hypot", func(m *vm.Machine) error {
			g := m.GlobalRegisters()
			p := g.Points[vm.PointARegister]
			g.Reals[vm.RealARegister] = math.Hypot(p.X, p.Y)
			return nil
		})
}

func write(m *vm.Machine, format string, args ...any) error {
	if _, err := fmt.Fprintf(m.Stdout(), format, args...); err != nil {
		return fmt.Errorf("native: write: %w", err)
	}
	return nil
}

func printInt(m *vm.Machine) error {
	return write(m, "%d", m.GlobalRegisters().Ints[vm.AccRegister])
}

func printChar(m *vm.Machine) error {
	return write(m, "%c", rune(m.GlobalRegisters().Ints[vm.AccRegister]))
}

func printReal(m *vm.Machine) error {
	return write(m, "%g", m.GlobalRegisters().Reals[vm.RealARegister])
}

func printPoint(m *vm.Machine) error {
	return write(m, "%s", m.GlobalRegisters().Points[vm.PointARegister])
}

func printString(m *vm.Machine) error {
	o := m.GlobalRegisters().Objects[vm.SelfRegister]
	if o == nil {
		return errors.New("native: print.string of nil")
	}
	return write(m, "%s", o.String())
}

func printNewline(m *vm.Machine) error {
	return write(m, "\n")
}

func intOp(f func(int64) int64) vm.NativeFunc {
	return func(m *vm.Machine) error {
		g := m.GlobalRegisters()
		g.Ints[vm.AccRegister] = f(g.Ints[vm.AccRegister])
		return nil
	}
}

// intOp2 combines ACC with FLAG, leaving the result in ACC.
func intOp2(f func(a, b int64) int64) vm.NativeFunc {
	return func(m *vm.Machine) error {
		g := m.GlobalRegisters()
		g.Ints[vm.AccRegister] = f(g.Ints[vm.AccRegister], g.Ints[vm.FlagRegister])
		return nil
	}
}

func realOp(f func(float64) float64) vm.NativeFunc {
	return func(m *vm.Machine) error {
		g := m.GlobalRegisters()
		g.Reals[vm.RealARegister] = f(g.Reals[vm.RealARegister])
		return nil
	}
}

func realOp2(f func(a, b float64) float64) vm.NativeFunc {
	return func(m *vm.Machine) error {
		g := m.GlobalRegisters()
		g.Reals[vm.RealARegister] = f(g.Reals[vm.RealARegister], g.Reals[vm.RealBRegister])
		return nil
	}
}
