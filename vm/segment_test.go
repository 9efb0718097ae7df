package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/regvm/object"
)

func TestSegmentTypedEntries(t *testing.T) {
	s := NewSegment("test")

	str := s.AppendString("héllo")
	re := s.AppendReal(math.Pi)
	pt := s.AppendPoint(object.Point{X: -1.5, Y: 2})
	l := uniform(3)
	l[Object].Variables = 9
	lay := s.AppendLayout(l)

	for _, off := range []uint32{str, re, pt, lay} {
		if off == 0 {
			t.Fatal("entry at offset 0")
		}
	}
	if got, err := s.ReadString(str); err != nil || got != "héllo" {
		t.Errorf("ReadString = %q, %v", got, err)
	}
	if got, err := s.ReadReal(re); err != nil || got != math.Pi {
		t.Errorf("ReadReal = %g, %v", got, err)
	}
	if got, err := s.ReadPoint(pt); err != nil || got != (object.Point{X: -1.5, Y: 2}) {
		t.Errorf("ReadPoint = %v, %v", got, err)
	}
	if got, err := s.ReadLayout(lay); err != nil || got != l {
		t.Errorf("ReadLayout = %v, %v", got, err)
	}
}

func TestSegmentInterning(t *testing.T) {
	s := NewSegment("test")
	a := s.AppendString("x")
	n := s.Len()
	if b := s.AppendString("x"); b != a || s.Len() != n {
		t.Errorf("duplicate string stored twice")
	}
	// Same bytes, different kind: a separate entry.
	if b := s.Append(SegBlob, []byte("x")); b == a {
		t.Errorf("blob shares the string entry")
	}
}

func TestSegmentKindMismatch(t *testing.T) {
	s := NewSegment("test")
	off := s.AppendReal(1)
	if _, err := s.ReadString(off); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadString of a real = %v, want ErrCorrupt", err)
	}
}

func TestSegmentDetectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		damage func(b []byte, off uint32)
	}{
		{"payload", func(b []byte, off uint32) { b[off+entryHeaderSize] ^= 0xFF }},
		{"magic", func(b []byte, off uint32) { b[off] ^= 0xFF }},
		{"size", func(b []byte, off uint32) { b[off+4] = 0xFF }},
		{"checksum", func(b []byte, off uint32) { b[off+12] ^= 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSegment("test")
			off := s.AppendString("payload")
			tt.damage(s.Bytes(), off)
			if _, err := s.ReadString(off); !errors.Is(err, ErrCorrupt) {
				t.Errorf("ReadString = %v, want ErrCorrupt", err)
			}
			if _, err := LoadSegment("test", s.Bytes()); !errors.Is(err, ErrCorrupt) {
				t.Errorf("LoadSegment = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestSegmentOffsetsOutOfRange(t *testing.T) {
	s := NewSegment("test")
	s.AppendString("a")
	for _, off := range []uint32{0, 1, uint32(s.Len()), math.MaxUint32} {
		if _, err := s.ReadString(off); !errors.Is(err, ErrCorrupt) {
			t.Errorf("ReadString(%d) = %v, want ErrCorrupt", off, err)
		}
	}
}

func TestLoadSegment(t *testing.T) {
	s := NewSegment("test")
	a := s.AppendString("alpha")
	r := s.AppendReal(2.5)

	loaded, err := LoadSegment("copy", s.Bytes())
	if err != nil {
		t.Fatalf("LoadSegment: %v", err)
	}
	if got, _ := loaded.ReadString(a); got != "alpha" {
		t.Errorf("ReadString = %q", got)
	}
	if got, _ := loaded.ReadReal(r); got != 2.5 {
		t.Errorf("ReadReal = %g", got)
	}
	if again := loaded.AppendString("alpha"); again != a {
		t.Errorf("loaded segment lost its intern table")
	}
	if _, err := LoadSegment("bad", []byte("nope")); !errors.Is(err, ErrCorrupt) {
		t.Errorf("LoadSegment(garbage) = %v", err)
	}
}
