// Package object implements the reference-counted objects manipulated by the
// regvm interpreter, and the typed banks used for registers and fields.
//
// The interpreter decides when references are taken and dropped; this package
// only counts them and finalizes an object when its count reaches zero.
package object

import "fmt"

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Point is a two-dimensional real vector.
type Point struct {
	X, Y float64
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Neg returns -p.
func (p Point) Neg() Point { return Point{-p.X, -p.Y} }

// String implements the Stringer interface.
func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// ---------------------------------------------------------------------------
// Bank: one slice per element type
// ---------------------------------------------------------------------------

// Bank holds one array per element type. It backs frame registers, the
// global registers, and object fields.
type Bank struct {
	Chars   []rune
	Ints    []int64
	Reals   []float64
	Points  []Point
	Objects []*Object
}

// Sizes lists the length of each array of a bank, in element type order
// (char, int, real, point, object).
type Sizes [5]int

// NewBank creates a bank with the given array lengths.
func NewBank(s Sizes) Bank {
	return Bank{
		Chars:   make([]rune, s[0]),
		Ints:    make([]int64, s[1]),
		Reals:   make([]float64, s[2]),
		Points:  make([]Point, s[3]),
		Objects: make([]*Object, s[4]),
	}
}

// Sizes returns the current array lengths.
func (b *Bank) Sizes() Sizes {
	return Sizes{len(b.Chars), len(b.Ints), len(b.Reals), len(b.Points), len(b.Objects)}
}

// Grow extends every array to at least the given lengths, keeping contents.
func (b *Bank) Grow(s Sizes) {
	if n := s[0] - len(b.Chars); n > 0 {
		b.Chars = append(b.Chars, make([]rune, n)...)
	}
	if n := s[1] - len(b.Ints); n > 0 {
		b.Ints = append(b.Ints, make([]int64, n)...)
	}
	if n := s[2] - len(b.Reals); n > 0 {
		b.Reals = append(b.Reals, make([]float64, n)...)
	}
	if n := s[3] - len(b.Points); n > 0 {
		b.Points = append(b.Points, make([]Point, n)...)
	}
	if n := s[4] - len(b.Objects); n > 0 {
		b.Objects = append(b.Objects, make([]*Object, n)...)
	}
}

// StoreObject stores o at index i, retaining o and releasing the previous
// occupant.
func (b *Bank) StoreObject(i int, o *Object) {
	old := b.Objects[i]
	if old == o {
		return
	}
	o.Retain()
	b.Objects[i] = o
	old.Release()
}

// Clear releases every object reference held by the bank.
func (b *Bank) Clear() {
	for i, o := range b.Objects {
		if o != nil {
			b.Objects[i] = nil
			o.Release()
		}
	}
}
