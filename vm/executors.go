package vm

import (
	"fmt"
	"math"

	"github.com/chazu/regvm/object"
)

// ---------------------------------------------------------------------------
// Frame header
// ---------------------------------------------------------------------------

func execFrame(x *Exec) error {
	l, err := x.M.imm.ReadLayout(x.Raw(0))
	if err != nil {
		return newTrap(TrapBadSegment, err.Error())
	}
	f := x.F
	f.release()
	f.Layout = l
	f.regs = object.NewBank(l.Registers())
	f.vars = object.NewBank(l.Variables())
	return nil
}

// ---------------------------------------------------------------------------
// Moves
// ---------------------------------------------------------------------------

var moveExec = [NumTypes]Executor{
	Char:   func(x *Exec) error { x.SetChar(0, x.Char(1)); return nil },
	Int:    func(x *Exec) error { x.SetInt(0, x.Int(1)); return nil },
	Real:   func(x *Exec) error { x.SetReal(0, x.Real(1)); return nil },
	Point:  func(x *Exec) error { x.SetPoint(0, x.Point(1)); return nil },
	Object: func(x *Exec) error { x.SetObject(0, x.Object(1)); return nil },
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func addInt(a, b int64) (int64, error) { return a + b, nil }
func subInt(a, b int64) (int64, error) { return a - b, nil }
func mulInt(a, b int64) (int64, error) { return a * b, nil }

func divInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, newTrap(TrapDivideByZero, "integer division by zero")
	}
	if a == math.MinInt64 && b == -1 {
		return a, nil
	}
	return a / b, nil
}

func modInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, newTrap(TrapDivideByZero, "integer modulo by zero")
	}
	if b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func intBinary(op func(a, b int64) (int64, error)) Executor {
	return func(x *Exec) error {
		v, err := op(x.Int(0), x.Int(1))
		if err != nil {
			return err
		}
		x.SetInt(0, v)
		return nil
	}
}

func addReal(a, b float64) float64 { return a + b }
func subReal(a, b float64) float64 { return a - b }
func mulReal(a, b float64) float64 { return a * b }
func divReal(a, b float64) float64 { return a / b }

func realBinary(op func(a, b float64) float64) Executor {
	return func(x *Exec) error {
		x.SetReal(0, op(x.Real(0), x.Real(1)))
		return nil
	}
}

func execAddPoint(x *Exec) error {
	x.SetPoint(0, x.Point(0).Add(x.Point(1)))
	return nil
}

func execSubPoint(x *Exec) error {
	x.SetPoint(0, x.Point(0).Sub(x.Point(1)))
	return nil
}

func execNegInt(x *Exec) error {
	x.SetInt(0, -x.Int(0))
	return nil
}

func execNegReal(x *Exec) error {
	x.SetReal(0, -x.Real(0))
	return nil
}

func execNegPoint(x *Exec) error {
	x.SetPoint(0, x.Point(0).Neg())
	return nil
}

// ---------------------------------------------------------------------------
// Comparisons
// ---------------------------------------------------------------------------

func (x *Exec) setFlag(b bool) {
	var v int64
	if b {
		v = 1
	}
	x.M.globalRegs.Ints[FlagRegister] = v
}

func compare[T rune | int64 | float64](g GenericOp, a, b T) bool {
	switch g {
	case OpEq:
		return a == b
	case OpLt:
		return a < b
	default:
		return a <= b
	}
}

func compareChar(g GenericOp) Executor {
	return func(x *Exec) error {
		x.setFlag(compare(g, x.Char(0), x.Char(1)))
		return nil
	}
}

func compareInt(g GenericOp) Executor {
	return func(x *Exec) error {
		x.setFlag(compare(g, x.Int(0), x.Int(1)))
		return nil
	}
}

func compareReal(g GenericOp) Executor {
	return func(x *Exec) error {
		x.setFlag(compare(g, x.Real(0), x.Real(1)))
		return nil
	}
}

func execEqObject(x *Exec) error {
	x.setFlag(x.Object(0) == x.Object(1))
	return nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func (x *Exec) jump() {
	x.Next += int(int32(x.Raw(0)))
}

func execJmp(x *Exec) error {
	x.jump()
	return nil
}

func execJt(x *Exec) error {
	if x.M.globalRegs.Ints[FlagRegister] != 0 {
		x.jump()
	}
	return nil
}

func execJf(x *Exec) error {
	if x.M.globalRegs.Ints[FlagRegister] == 0 {
		x.jump()
	}
	return nil
}

func execCall(x *Exec) error {
	return x.M.call(CallNumber(x.Raw(0)), x.F.depth+1)
}

func execCallIndirect(x *Exec) error {
	cn := x.Int(0)
	if cn < 0 || cn > math.MaxUint32 {
		return newTrap(TrapUndefinedCall, fmt.Sprintf("call number %d out of range", cn))
	}
	return x.M.call(CallNumber(cn), x.F.depth+1)
}

func execRet(x *Exec) error {
	x.F.done = true
	return nil
}

func execHalt(x *Exec) error {
	x.M.halted = true
	return nil
}

func execTrap(x *Exec) error {
	t := newTrap(TrapUser, fmt.Sprintf("trap %d", x.Raw(0)))
	t.UserCode = x.Raw(0)
	return t
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func execItoR(x *Exec) error {
	x.SetReal(0, float64(x.M.globalRegs.Ints[AccRegister]))
	return nil
}

func execRtoI(x *Exec) error {
	r := x.M.globalRegs.Reals[RealARegister]
	if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 {
		return newTrap(TrapBadConversion, fmt.Sprintf("real %g does not fit an int", r))
	}
	x.SetInt(0, int64(r))
	return nil
}

func execMkPt(x *Exec) error {
	g := &x.M.globalRegs
	x.SetPoint(0, object.Point{X: g.Reals[RealARegister], Y: g.Reals[RealBRegister]})
	return nil
}

func execPtX(x *Exec) error {
	x.SetReal(0, x.M.globalRegs.Points[PointARegister].X)
	return nil
}

func execPtY(x *Exec) error {
	x.SetReal(0, x.M.globalRegs.Points[PointARegister].Y)
	return nil
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

func execNew(x *Exec) error {
	n := x.M.globalRegs.Ints[AccRegister]
	if n < 0 || n > maxObjectFields {
		return newTrap(TrapBadOperand, fmt.Sprintf("object size %d out of range", n))
	}
	x.SetObject(0, x.M.newObject(int(n)))
	return nil
}

func execLen(x *Exec) error {
	o := x.M.globalRegs.Objects[SelfRegister]
	if o == nil {
		return newTrap(TrapNilPointer, "len of nil object")
	}
	x.SetInt(0, int64(o.Len()))
	return nil
}

const maxObjectFields = 1 << 20
