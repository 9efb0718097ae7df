// Package image exports a machine's installed program to a portable file and
// loads it back into a fresh machine.
//
// An image carries every procedure table entry in call-number order, the
// data and immediate segments byte for byte, and the global layout. Native
// entries are recorded by name only; they are bound again when the loaded
// machine is linked. Images are CBOR in canonical mode, so exporting the same
// program twice differs only in the image id.
package image

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/regvm/bytecode"
	"github.com/chazu/regvm/vm"
)

var log = commonlog.GetLogger("regvm.image")

// Format identifies the image encoding.
const Format = "regvm/1"

var (
	// ErrFormat is returned for an image written in another format.
	ErrFormat = errors.New("image: unsupported format")
	// ErrInvalid is returned for an image whose content is inconsistent.
	ErrInvalid = errors.New("image: invalid content")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is a portable snapshot of a program.
type Image struct {
	Format     string      `cbor:"1,keyasint"`
	ID         uuid.UUID   `cbor:"2,keyasint"`
	Name       string      `cbor:"3,keyasint,omitempty"`
	Entry      string      `cbor:"4,keyasint,omitempty"`
	Procedures []Procedure `cbor:"5,keyasint"`
	Data       []byte      `cbor:"6,keyasint"`
	Immediates []byte      `cbor:"7,keyasint"`
	Globals    []byte      `cbor:"8,keyasint"` // vm.Layout in binary form
}

// Procedure is one procedure table entry.
type Procedure struct {
	Name string       `cbor:"1,keyasint,omitempty"`
	Kind vm.EntryKind `cbor:"2,keyasint"`
	Code []uint32     `cbor:"3,keyasint,omitempty"`
}

// Export snapshots the program installed in m. Undefined entries are kept so
// call numbers survive; the loaded machine reports them when linking.
func Export(m *vm.Machine, name, entry string) (*Image, error) {
	procs := m.Procedures()
	img := &Image{
		Format:     Format,
		ID:         uuid.New(),
		Name:       name,
		Entry:      entry,
		Procedures: make([]Procedure, procs.Len()),
		Data:       append([]byte(nil), m.Data().Bytes()...),
		Immediates: append([]byte(nil), m.Immediates().Bytes()...),
	}
	if entry != "" {
		if _, ok := procs.Lookup(entry); !ok {
			return nil, fmt.Errorf("image: entry %s is not in the procedure table", entry)
		}
	}
	for i := range img.Procedures {
		e, _ := procs.Entry(vm.CallNumber(i))
		if e.Name == "" && e.Kind != vm.EntryBytecode {
			return nil, fmt.Errorf("%w: anonymous %s entry #%d cannot be relinked", ErrInvalid, e.Kind, i)
		}
		p := Procedure{Name: e.Name, Kind: e.Kind}
		if e.Kind == vm.EntryBytecode {
			p.Code = append([]uint32(nil), e.Code...)
		}
		img.Procedures[i] = p
	}
	globals, err := m.GlobalLayout().MarshalBinary()
	if err != nil {
		return nil, err
	}
	img.Globals = globals
	log.Debugf("exported image %s with %d procedures", img.ID, len(img.Procedures))
	return img, nil
}

// Marshal encodes the image.
func (img *Image) Marshal() ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Unmarshal decodes an image and checks its format.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Format != Format {
		return nil, fmt.Errorf("%w: %q", ErrFormat, img.Format)
	}
	return &img, nil
}

// WriteTo writes the encoded image to w.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	data, err := img.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// WriteFile writes the encoded image to path.
func (img *Image) WriteFile(path string) error {
	data, err := img.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile reads and decodes the image at path.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return Unmarshal(data)
}

// Load builds a machine holding the image's program. Segments are verified
// entry by entry and every bytecode procedure must decode completely. The
// machine is returned unlinked; bind its native entries with LinkNatives.
func (img *Image) Load(cfg vm.Config) (*vm.Machine, error) {
	data, err := vm.LoadSegment("data", img.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	imm, err := vm.LoadSegment("immediate", img.Immediates)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	var globals vm.Layout
	if err := globals.UnmarshalBinary(img.Globals); err != nil {
		return nil, fmt.Errorf("%w: globals: %w", ErrInvalid, err)
	}

	m := vm.NewMachine(cfg)
	m.ReplaceSegments(data, imm)
	m.ReserveGlobals(globals)

	procs := m.Procedures()
	for i, p := range img.Procedures {
		if err := verify(m, p); err != nil {
			m.Close()
			return nil, fmt.Errorf("%w: procedure #%d %s: %w", ErrInvalid, i, p.Name, err)
		}
		cn := procs.Reserve(p.Name)
		if int(cn) != i {
			m.Close()
			return nil, fmt.Errorf("%w: procedure %s listed twice", ErrInvalid, p.Name)
		}
		if p.Kind == vm.EntryBytecode {
			if err := procs.Install(cn, p.Code); err != nil {
				m.Close()
				return nil, err
			}
		}
	}
	log.Debugf("loaded image %s with %d procedures", img.ID, len(img.Procedures))
	return m, nil
}

func verify(m *vm.Machine, p Procedure) error {
	switch p.Kind {
	case vm.EntryBytecode:
	case vm.EntryUndefined, vm.EntryNative:
		if len(p.Code) > 0 {
			return fmt.Errorf("%s entry carries code", p.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown entry kind %d", p.Kind)
	}
	if len(p.Code) == 0 {
		return errors.New("no code")
	}
	r := bytecode.NewReader(p.Code, m.Ops())
	for r.HasMore() {
		if _, err := r.Next(); err != nil {
			return fmt.Errorf("at %d: %w", r.Position(), err)
		}
	}
	return nil
}

// EntryPoint returns the call number of the image's entry procedure in a
// machine loaded from it.
func (img *Image) EntryPoint(m *vm.Machine, fallback string) (vm.CallNumber, error) {
	name := img.Entry
	if name == "" {
		name = fallback
	}
	cn, ok := m.Procedures().Lookup(name)
	if !ok {
		return 0, fmt.Errorf("image: no procedure named %s", name)
	}
	return cn, nil
}
