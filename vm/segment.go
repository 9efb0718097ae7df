package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/regvm/object"
	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// Segment: append-only constant arena
// ---------------------------------------------------------------------------

// SegmentKind tags the payload of a segment entry.
type SegmentKind uint8

const (
	SegBlob SegmentKind = iota + 1
	SegString
	SegReal
	SegPoint
	SegLayout
)

var segmentKindNames = [...]string{
	SegBlob:   "blob",
	SegString: "string",
	SegReal:   "real",
	SegPoint:  "point",
	SegLayout: "layout",
}

// String implements the Stringer interface.
func (k SegmentKind) String() string {
	if int(k) < len(segmentKindNames) && segmentKindNames[k] != "" {
		return segmentKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Entry header layout:
//
//	0..1   magic
//	2      kind
//	3      reserved, zero
//	4..7   payload size
//	8..15  xxh3 of the payload
const (
	entryMagic      = 0x5653 // "SV" little-endian
	entryHeaderSize = 16
	preamble        = "RVSEG\x00\x01\x00"
)

// ErrCorrupt is returned when a segment entry fails verification.
var ErrCorrupt = errors.New("corrupt segment entry")

// Segment is an append-only byte arena. Entries are addressed by the offset
// of their header, which is never zero: the arena starts with a preamble so
// that offset 0 can mean "no entry". Identical payloads are stored once.
type Segment struct {
	name    string
	buf     []byte
	interns map[string]uint32
}

// NewSegment creates an empty segment.
func NewSegment(name string) *Segment {
	return &Segment{
		name:    name,
		buf:     append(make([]byte, 0, 256), preamble...),
		interns: make(map[string]uint32),
	}
}

// LoadSegment rebuilds a segment from bytes produced by Bytes, verifying
// every entry.
func LoadSegment(name string, b []byte) (*Segment, error) {
	if len(b) < len(preamble) || string(b[:len(preamble)]) != preamble {
		return nil, fmt.Errorf("segment %s: bad preamble: %w", name, ErrCorrupt)
	}
	s := &Segment{
		name:    name,
		buf:     append([]byte(nil), b...),
		interns: make(map[string]uint32),
	}
	off := len(preamble)
	for off < len(s.buf) {
		kind, payload, err := s.entry(uint32(off))
		if err != nil {
			return nil, err
		}
		s.interns[internKey(kind, payload)] = uint32(off)
		off += entryHeaderSize + len(payload)
	}
	return s, nil
}

// Name returns the segment's diagnostic name.
func (s *Segment) Name() string { return s.name }

// Len returns the size of the arena in bytes.
func (s *Segment) Len() int { return len(s.buf) }

// Bytes returns the arena, preamble included.
func (s *Segment) Bytes() []byte { return s.buf }

func internKey(kind SegmentKind, payload []byte) string {
	return string(rune(kind)) + string(payload)
}

// Append stores payload and returns its offset. A payload of the same kind
// stored earlier is reused.
func (s *Segment) Append(kind SegmentKind, payload []byte) uint32 {
	key := internKey(kind, payload)
	if off, ok := s.interns[key]; ok {
		return off
	}
	off := uint32(len(s.buf))
	var hdr [entryHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:], entryMagic)
	hdr[2] = byte(kind)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr[8:], xxh3.Hash(payload))
	s.buf = append(s.buf, hdr[:]...)
	s.buf = append(s.buf, payload...)
	s.interns[key] = off
	return off
}

func (s *Segment) entry(off uint32) (SegmentKind, []byte, error) {
	end := uint64(off) + entryHeaderSize
	if off < uint32(len(preamble)) || end > uint64(len(s.buf)) {
		return 0, nil, fmt.Errorf("%s segment offset %d: %w", s.name, off, ErrCorrupt)
	}
	hdr := s.buf[off:end]
	if binary.LittleEndian.Uint16(hdr[0:]) != entryMagic || hdr[3] != 0 {
		return 0, nil, fmt.Errorf("%s segment offset %d: bad signature: %w", s.name, off, ErrCorrupt)
	}
	size := uint64(binary.LittleEndian.Uint32(hdr[4:]))
	if end+size > uint64(len(s.buf)) {
		return 0, nil, fmt.Errorf("%s segment offset %d: size %d overruns arena: %w", s.name, off, size, ErrCorrupt)
	}
	payload := s.buf[end : end+size]
	if xxh3.Hash(payload) != binary.LittleEndian.Uint64(hdr[8:]) {
		return 0, nil, fmt.Errorf("%s segment offset %d: checksum mismatch: %w", s.name, off, ErrCorrupt)
	}
	return SegmentKind(hdr[2]), payload, nil
}

// Read returns the payload at off, which must have the given kind.
func (s *Segment) Read(off uint32, kind SegmentKind) ([]byte, error) {
	k, payload, err := s.entry(off)
	if err != nil {
		return nil, err
	}
	if k != kind {
		return nil, fmt.Errorf("%s segment offset %d: %s entry, want %s: %w", s.name, off, k, kind, ErrCorrupt)
	}
	return payload, nil
}

func (s *Segment) readFixed(off uint32, kind SegmentKind, n int) ([]byte, error) {
	b, err := s.Read(off, kind)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("%s segment offset %d: %d byte %s: %w", s.name, off, len(b), kind, ErrCorrupt)
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Typed entries
// ---------------------------------------------------------------------------

// AppendString stores a string constant.
func (s *Segment) AppendString(v string) uint32 {
	return s.Append(SegString, []byte(v))
}

// ReadString reads a string constant.
func (s *Segment) ReadString(off uint32) (string, error) {
	b, err := s.Read(off, SegString)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendReal stores a real constant.
func (s *Segment) AppendReal(v float64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return s.Append(SegReal, b[:])
}

// ReadReal reads a real constant.
func (s *Segment) ReadReal(off uint32) (float64, error) {
	b, err := s.readFixed(off, SegReal, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// AppendPoint stores a point constant.
func (s *Segment) AppendPoint(p object.Point) uint32 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(p.Y))
	return s.Append(SegPoint, b[:])
}

// ReadPoint reads a point constant.
func (s *Segment) ReadPoint(off uint32) (object.Point, error) {
	b, err := s.readFixed(off, SegPoint, 16)
	if err != nil {
		return object.Point{}, err
	}
	return object.Point{
		X: math.Float64frombits(binary.LittleEndian.Uint64(b[0:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
	}, nil
}

// AppendLayout stores a frame layout.
func (s *Segment) AppendLayout(l Layout) uint32 {
	b, _ := l.MarshalBinary()
	return s.Append(SegLayout, b)
}

// ReadLayout reads a frame layout.
func (s *Segment) ReadLayout(off uint32) (Layout, error) {
	var l Layout
	b, err := s.readFixed(off, SegLayout, layoutBytes)
	if err != nil {
		return l, err
	}
	err = l.UnmarshalBinary(b)
	return l, err
}
