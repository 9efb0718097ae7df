package image

import (
	"bytes"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/chazu/regvm/asm"
	"github.com/chazu/regvm/native"
	"github.com/chazu/regvm/vm"
)

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// buildProgram assembles main, which prints "n=" and twice the result of
// double(n) through the core library.
func buildProgram(t *testing.T, n int32) *vm.Machine {
	t.Helper()
	m := vm.NewMachine(vm.Config{MaxDepth: 32})
	t.Cleanup(m.Close)
	a := asm.New(m)
	acc := vm.Register(vm.AccRegister).Global()

	main := a.NewProcedure("main", asm.Leaf)
	must(t, main.Begin())
	must(t, a.Assemble(vm.OpMove, vm.Object, vm.Register(vm.SelfRegister).Global(), a.StringConst("n=")))
	must(t, a.Call(a.CallSymbol("print.string")))
	must(t, a.Assemble(vm.OpMove, vm.Int, acc, asm.IntConst(n)))
	must(t, a.Call(a.CallSymbol("double")))
	must(t, a.Call(a.CallSymbol("print.int")))
	must(t, main.End())
	_, err := main.Install()
	must(t, err)

	double := a.NewProcedure("double", asm.Leaf)
	must(t, double.Begin())
	r, err := a.OccupyRegister(vm.Int)
	must(t, err)
	must(t, a.Assemble(vm.OpMove, vm.Int, r.Local(), acc))
	must(t, a.Assemble(vm.OpAdd, vm.Int, acc, r.Local()))
	a.ReleaseRegister(vm.Int, r)
	must(t, double.End())
	_, err = double.Install()
	must(t, err)
	return m
}

func loadAndRun(t *testing.T, img *Image) string {
	t.Helper()
	var out strings.Builder
	m, err := img.Load(vm.Config{MaxDepth: 32, Stdout: &out})
	must(t, err)
	t.Cleanup(m.Close)

	libs, err := native.NewLoader(native.NewRegistry(), nil).Load([]string{native.CoreName})
	must(t, err)
	if missing := m.LinkNatives(libs); len(missing) > 0 {
		t.Fatalf("missing natives %v", missing)
	}
	cn, err := img.EntryPoint(m, "main")
	must(t, err)
	must(t, m.Execute(cn))
	return out.String()
}

func TestExportLoadExecute(t *testing.T) {
	m := buildProgram(t, 21)
	img, err := Export(m, "demo", "main")
	must(t, err)

	data, err := img.Marshal()
	must(t, err)
	back, err := Unmarshal(data)
	must(t, err)

	if back.ID != img.ID || back.Name != "demo" || len(back.Procedures) != len(img.Procedures) {
		t.Fatalf("decoded %+v", back)
	}
	kinds := map[string]vm.EntryKind{}
	for _, p := range back.Procedures {
		kinds[p.Name] = p.Kind
	}
	if kinds["double"] != vm.EntryBytecode || kinds["print.int"] != vm.EntryUndefined {
		t.Errorf("kinds = %v", kinds)
	}
	if got := loadAndRun(t, back); got != "n=42" {
		t.Errorf("output = %q, want n=42", got)
	}
}

func TestExportAfterLinking(t *testing.T) {
	m := buildProgram(t, 5)
	libs, err := native.NewLoader(native.NewRegistry(), nil).Load([]string{native.CoreName})
	must(t, err)
	if missing := m.LinkNatives(libs); len(missing) > 0 {
		t.Fatalf("missing %v", missing)
	}

	img, err := Export(m, "", "main")
	must(t, err)
	for _, p := range img.Procedures {
		if strings.HasPrefix(p.Name, "print.") && (p.Kind != vm.EntryNative || p.Code != nil) {
			t.Errorf("%s exported as %+v", p.Name, p)
		}
	}
	if got := loadAndRun(t, img); got != "n=10" {
		t.Errorf("output = %q", got)
	}
}

func TestLoadedMachineIsUnlinked(t *testing.T) {
	img, err := Export(buildProgram(t, 1), "", "main")
	must(t, err)
	m, err := img.Load(vm.Config{})
	must(t, err)
	defer m.Close()

	cn, err := img.EntryPoint(m, "")
	must(t, err)
	if err := m.Execute(cn); !errors.Is(err, vm.ErrUnlinked) {
		t.Errorf("Execute before linking = %v, want ErrUnlinked", err)
	}
	if missing := m.LinkNatives(nil); len(missing) != 2 {
		t.Errorf("missing = %v, want the two print routines", missing)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	img, err := Export(buildProgram(t, 3), "demo", "")
	must(t, err)
	path := filepath.Join(t.TempDir(), "demo.rvi")
	must(t, img.WriteFile(path))

	back, err := ReadFile(path)
	must(t, err)
	if got := loadAndRun(t, back); got != "n=6" {
		t.Errorf("output = %q", got)
	}

	var buf bytes.Buffer
	n, err := img.WriteTo(&buf)
	must(t, err)
	if n != int64(buf.Len()) {
		t.Errorf("WriteTo = %d, wrote %d", n, buf.Len())
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.rvi")); err == nil {
		t.Error("ReadFile of a missing file succeeded")
	}
}

func TestExportErrors(t *testing.T) {
	m := buildProgram(t, 1)
	if _, err := Export(m, "", "nowhere"); err == nil {
		t.Error("export with unknown entry succeeded")
	}
	m.Procedures().Reserve("")
	if _, err := Export(m, "", ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("export with anonymous undefined entry = %v", err)
	}
}

func TestLoadRejectsDamage(t *testing.T) {
	base, err := Export(buildProgram(t, 1), "", "main")
	must(t, err)

	clone := func() *Image {
		data, err := base.Marshal()
		must(t, err)
		img, err := Unmarshal(data)
		must(t, err)
		return img
	}

	tests := []struct {
		name   string
		damage func(img *Image)
	}{
		{"data checksum", func(img *Image) { img.Data[len(img.Data)-1] ^= 0xFF }},
		{"immediate preamble", func(img *Image) { img.Immediates[0] = 'X' }},
		{"globals", func(img *Image) { img.Globals = img.Globals[:3] }},
		{"truncated code", func(img *Image) {
			for i, p := range img.Procedures {
				if p.Name == "main" {
					img.Procedures[i].Code = p.Code[:1]
				}
			}
		}},
		{"bad opcode", func(img *Image) {
			for i, p := range img.Procedures {
				if p.Name == "double" {
					img.Procedures[i].Code[len(p.Code)-1] = 127<<16 | 1<<25
				}
			}
		}},
		{"native with code", func(img *Image) {
			for i, p := range img.Procedures {
				if p.Kind == vm.EntryUndefined {
					img.Procedures[i].Code = []uint32{0}
				}
			}
		}},
		{"empty bytecode", func(img *Image) {
			for i, p := range img.Procedures {
				if p.Name == "main" {
					img.Procedures[i].Code = nil
				}
			}
		}},
		{"unknown kind", func(img *Image) { img.Procedures[0].Kind = 9 }},
		{"duplicate name", func(img *Image) { img.Procedures[1].Name = img.Procedures[0].Name }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := clone()
			tt.damage(img)
			if m, err := img.Load(vm.Config{}); !errors.Is(err, ErrInvalid) {
				if m != nil {
					m.Close()
				}
				t.Errorf("Load = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestUnmarshalRejectsFormat(t *testing.T) {
	img := &Image{Format: "regvm/0", ID: uuid.New()}
	data, err := img.Marshal()
	must(t, err)
	if _, err := Unmarshal(data); !errors.Is(err, ErrFormat) {
		t.Errorf("Unmarshal = %v, want ErrFormat", err)
	}
	if _, err := Unmarshal([]byte{0xFF, 0x00}); err == nil {
		t.Error("Unmarshal of garbage succeeded")
	}
}

// Canonical encoding: the same program exported twice under one id encodes
// to the same bytes, and loading it computes the same result.
func TestCanonicalEncoding(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	properties := gopter.NewProperties(params)

	properties.Property("export is deterministic and executes", prop.ForAll(
		func(n int32) bool {
			first, err := Export(buildProgram(t, n), "p", "main")
			if err != nil {
				return false
			}
			second, err := Export(buildProgram(t, n), "p", "main")
			if err != nil {
				return false
			}
			second.ID = first.ID
			a, errA := first.Marshal()
			b, errB := second.Marshal()
			if errA != nil || errB != nil || !bytes.Equal(a, b) {
				return false
			}
			var out strings.Builder
			m, err := first.Load(vm.Config{Stdout: &out})
			if err != nil {
				return false
			}
			defer m.Close()
			libs, _ := native.NewLoader(native.NewRegistry(), nil).Load([]string{native.CoreName})
			m.LinkNatives(libs)
			cn, _ := first.EntryPoint(m, "")
			if m.Execute(cn) != nil {
				return false
			}
			return out.String() == "n="+strconv.FormatInt(int64(n)*2, 10)
		},
		gen.Int32Range(-1<<20, 1<<20),
	))

	properties.TestingRun(t)
}
