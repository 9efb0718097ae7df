// regvm runs a program image on the register virtual machine.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/regvm/image"
	"github.com/chazu/regvm/manifest"
	"github.com/chazu/regvm/native"
	"github.com/chazu/regvm/vm"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1 // configuration, image or link failure
	exitTrap  = 2 // the program trapped
	exitUsage = 64
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("regvm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file (default: nearest regvm.toml)")
	entry := fs.String("entry", "", "Entry procedure (default: the image's entry, then [program] entry)")
	verbose := fs.Bool("v", false, "Verbose output: debug logging and full backtraces")
	quiet := fs.Bool("q", false, "Quiet: print only the trap message")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: regvm [options] [image]\n\n")
		fmt.Fprintf(stderr, "Loads a program image, links its native routines and runs its entry procedure.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  regvm demo.rvi               # run main from demo.rvi\n")
		fmt.Fprintf(stderr, "  regvm -entry start demo.rvi  # run start instead\n")
		fmt.Fprintf(stderr, "  regvm                        # run the image named in regvm.toml\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return exitUsage
	}

	if *verbose {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return exitError
	}

	imagePath := fs.Arg(0)
	if imagePath == "" {
		imagePath = cfg.ImagePath()
	}
	if imagePath == "" {
		fmt.Fprintln(stderr, "Error: no image given and no [program] image configured")
		return exitUsage
	}

	img, err := image.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading image: %v\n", err)
		return exitError
	}
	m, err := img.Load(vm.Config{MaxDepth: cfg.VM.MaxDepth, Stdout: stdout})
	if err != nil {
		fmt.Fprintf(stderr, "Error loading image %s: %v\n", imagePath, err)
		return exitError
	}
	defer m.Close()

	libs, err := native.NewLoader(native.NewRegistry(), cfg.SearchDirPaths()).Load(cfg.Link.Libraries)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading native libraries: %v\n", err)
		return exitError
	}
	if missing := m.LinkNatives(libs); len(missing) > 0 {
		fmt.Fprintf(stderr, "Error: unresolved procedures: %s\n", strings.Join(missing, ", "))
		return exitError
	}

	cn, err := entryPoint(m, img, *entry, cfg.Program.Entry)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if *verbose {
		fmt.Fprintf(stderr, "Running %s from image %s\n", m.Procedures().Describe(cn), img.ID)
	}
	if err := m.Execute(cn); err != nil {
		var trap *vm.Trap
		if errors.As(err, &trap) {
			fmt.Fprintln(stderr, trap.Format(!*quiet && !cfg.VM.Quiet))
			return exitTrap
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}

// loadConfig reads the named configuration file, or the nearest regvm.toml
// above the working directory, or falls back to the defaults.
func loadConfig(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func entryPoint(m *vm.Machine, img *image.Image, flagEntry, configEntry string) (vm.CallNumber, error) {
	if flagEntry != "" {
		cn, ok := m.Procedures().Lookup(flagEntry)
		if !ok {
			return 0, fmt.Errorf("no procedure named %s", flagEntry)
		}
		return cn, nil
	}
	return img.EntryPoint(m, configEntry)
}
