package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/regvm/asm"
	"github.com/chazu/regvm/image"
	"github.com/chazu/regvm/vm"
)

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// writeImage builds an image in dir: main prints "hello", boom traps with
// user code 7 from inside a nested call. With lonely set the image also
// holds a procedure calling greet.twice, which the core library lacks.
func writeImage(t *testing.T, dir string, lonely bool) string {
	t.Helper()
	m := vm.NewMachine(vm.Config{})
	defer m.Close()
	a := asm.New(m)

	proc := func(name string, body func()) {
		p := a.NewProcedure(name, asm.Leaf)
		must(t, p.Begin())
		body()
		must(t, p.End())
		_, err := p.Install()
		must(t, err)
	}
	proc("main", func() {
		must(t, a.Assemble(vm.OpMove, vm.Object, vm.Register(vm.SelfRegister).Global(), a.StringConst("hello")))
		must(t, a.Call(a.CallSymbol("print.string")))
		must(t, a.Call(a.CallSymbol("print.newline")))
	})
	proc("inner", func() {
		must(t, a.Assemble(vm.OpTrap, vm.Int, asm.IntConst(7)))
	})
	proc("boom", func() {
		must(t, a.Call(a.CallSymbol("inner")))
	})
	if lonely {
		proc("lonely", func() {
			must(t, a.Call(a.CallSymbol("greet.twice")))
		})
	}

	img, err := image.Export(m, "cli", "")
	must(t, err)
	must(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "cli.rvi")
	must(t, img.WriteFile(path))
	return path
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	must(t, os.MkdirAll(filepath.Dir(path), 0755))
	must(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr strings.Builder
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunMain(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, false)
	cfg := writeFile(t, filepath.Join(dir, "regvm.toml"), "")

	code, out, errOut := runCLI(t, "-config", cfg, img)
	if code != exitOK {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	if out != "hello\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunImageFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "build"), false)
	cfg := writeFile(t, filepath.Join(dir, "regvm.toml"), "[program]\nimage = \"build/cli.rvi\"\n")

	code, out, errOut := runCLI(t, "-config", cfg)
	if code != exitOK || out != "hello\n" {
		t.Errorf("exit %d, stdout %q, stderr %q", code, out, errOut)
	}
}

func TestRunTrapBacktrace(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, false)
	cfg := writeFile(t, filepath.Join(dir, "regvm.toml"), "")

	code, _, errOut := runCLI(t, "-config", cfg, "-entry", "boom", img)
	if code != exitTrap {
		t.Fatalf("exit %d, want %d", code, exitTrap)
	}
	if !strings.Contains(errOut, "user trap") || !strings.Contains(errOut, "at #") {
		t.Errorf("stderr = %q, want the trap and its backtrace", errOut)
	}
	inner := strings.Index(errOut, "inner")
	boom := strings.Index(errOut, "boom")
	if inner < 0 || boom < 0 || inner > boom {
		t.Errorf("backtrace not innermost first: %q", errOut)
	}

	_, _, quiet := runCLI(t, "-config", cfg, "-entry", "boom", "-q", img)
	if strings.Contains(quiet, "at #") || !strings.Contains(quiet, "user trap") {
		t.Errorf("quiet stderr = %q", quiet)
	}

	quietCfg := writeFile(t, filepath.Join(dir, "quiet", "regvm.toml"), "[vm]\nquiet = true\n")
	_, _, quiet = runCLI(t, "-config", quietCfg, "-entry", "boom", img)
	if strings.Contains(quiet, "at #") {
		t.Errorf("configured quiet stderr = %q", quiet)
	}
}

func TestRunUnresolvedNative(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, true)
	cfg := writeFile(t, filepath.Join(dir, "regvm.toml"), "")

	code, out, errOut := runCLI(t, "-config", cfg, img)
	if code != exitError {
		t.Fatalf("exit %d, want %d", code, exitError)
	}
	if out != "" || !strings.Contains(errOut, "greet.twice") {
		t.Errorf("stdout %q, stderr %q", out, errOut)
	}
}

func TestRunDescriptorLibrary(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, true)
	writeFile(t, filepath.Join(dir, "natives", "greet.toml"), `
[library]
base = "core"

[exports]
"greet.twice" = "print.newline"
`)
	cfg := writeFile(t, filepath.Join(dir, "regvm.toml"), `
[link]
libraries = ["core", "greet"]
search-dirs = ["natives"]
`)

	code, out, errOut := runCLI(t, "-config", cfg, "-entry", "lonely", img)
	if code != exitOK || out != "\n" {
		t.Errorf("exit %d, stdout %q, stderr %q", code, out, errOut)
	}
}

func TestRunUsageErrors(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, false)
	cfg := writeFile(t, filepath.Join(dir, "regvm.toml"), "")

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"unknown flag", []string{"-nope"}, exitUsage, "-nope"},
		{"two images", []string{"-config", cfg, img, img}, exitUsage, "Usage"},
		{"no image", []string{"-config", cfg}, exitUsage, "no image"},
		{"missing image", []string{"-config", cfg, filepath.Join(dir, "gone.rvi")}, exitError, "reading image"},
		{"bad config", []string{"-config", filepath.Join(dir, "absent.toml"), img}, exitError, "configuration"},
		{"unknown entry", []string{"-config", cfg, "-entry", "nobody", img}, exitError, "nobody"},
		{"unknown library", []string{"-config", writeFile(t, filepath.Join(dir, "lib", "regvm.toml"), "[link]\nlibraries = [\"gfx\"]\n"), img}, exitError, "gfx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			if code != tt.code {
				t.Errorf("exit %d, want %d (stderr %q)", code, tt.code, errOut)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr %q does not mention %q", errOut, tt.want)
			}
		})
	}
}

func TestRunHelp(t *testing.T) {
	code, _, errOut := runCLI(t, "-h")
	if code != exitOK || !strings.Contains(errOut, "Usage: regvm") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}
