package native

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/chazu/regvm/vm"
)

var (
	// ErrNotFound is returned when no search directory holds the library.
	ErrNotFound = errors.New("native: library not found")
	// ErrBadDescriptor is returned for a descriptor that does not parse or
	// names an unknown routine.
	ErrBadDescriptor = errors.New("native: bad library descriptor")
	// ErrCycle is returned when descriptors import each other in a loop.
	ErrCycle = errors.New("native: library descriptors form a cycle")
)

// Descriptor is the content of a <name>.toml library file. Every export
// names a routine of the base library.
//
//	[library]
//	name = "geometry"
//	base = "core"
//
//	[exports]
//	length = "math.hypot"
type Descriptor struct {
	Library struct {
		Name string `toml:"name"`
		Base string `toml:"base"`
	} `toml:"library"`
	Exports map[string]string `toml:"exports"`
}

// ReadDescriptor parses the descriptor at path. A missing library name
// defaults to the file name without its extension.
func ReadDescriptor(path string) (*Descriptor, error) {
	var d Descriptor
	md, err := toml.DecodeFile(path, &d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadDescriptor, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s: unknown key %s", ErrBadDescriptor, path, undecoded[0])
	}
	stem := filepath.Base(path)
	stem = stem[:len(stem)-len(filepath.Ext(stem))]
	if d.Library.Name == "" {
		d.Library.Name = stem
	}
	if d.Library.Name != stem {
		return nil, fmt.Errorf("%w: %s declares library %q", ErrBadDescriptor, path, d.Library.Name)
	}
	if d.Library.Base == "" {
		return nil, fmt.Errorf("%w: %s has no base library", ErrBadDescriptor, path)
	}
	return &d, nil
}

// exportLibrary serves the exports of a descriptor from its base library.
type exportLibrary struct {
	name    string
	base    vm.Library
	exports map[string]string
}

func (l *exportLibrary) Name() string { return l.name }

func (l *exportLibrary) Lookup(symbol string) (vm.NativeFunc, bool) {
	target, ok := l.exports[symbol]
	if !ok {
		return nil, false
	}
	return l.base.Lookup(target)
}

// Loader resolves library names to libraries. A <name>.toml descriptor in
// one of the search directories takes precedence over a registered library
// of the same name; the first directory holding one wins.
type Loader struct {
	registry *Registry
	dirs     []string
	loaded   map[string]vm.Library
	visiting map[string]bool
}

// NewLoader creates a loader over reg searching dirs in order.
func NewLoader(reg *Registry, dirs []string) *Loader {
	return &Loader{
		registry: reg,
		dirs:     dirs,
		loaded:   make(map[string]vm.Library),
		visiting: make(map[string]bool),
	}
}

// Load resolves every name, in order. The result is suitable for
// vm.Machine.LinkNatives and asm.Assembler.ResolveAll.
func (l *Loader) Load(names []string) ([]vm.Library, error) {
	libs := make([]vm.Library, 0, len(names))
	for _, name := range names {
		lib, err := l.Library(name)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
	}
	return libs, nil
}

// Library resolves one library name.
func (l *Loader) Library(name string) (vm.Library, error) {
	if lib, ok := l.loaded[name]; ok {
		return lib, nil
	}
	if l.visiting[name] {
		return nil, fmt.Errorf("%w: %s", ErrCycle, name)
	}

	path, err := l.find(name)
	if err != nil {
		return nil, err
	}
	var lib vm.Library
	if path == "" {
		reg, ok := l.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		lib = reg
	} else {
		l.visiting[name] = true
		lib, err = l.fromDescriptor(path)
		delete(l.visiting, name)
		if err != nil {
			return nil, err
		}
	}
	l.loaded[name] = lib
	return lib, nil
}

func (l *Loader) find(name string) (string, error) {
	for _, dir := range l.dirs {
		path := filepath.Join(dir, name+".toml")
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("native: %w", err)
		}
	}
	return "", nil
}

func (l *Loader) fromDescriptor(path string) (vm.Library, error) {
	d, err := ReadDescriptor(path)
	if err != nil {
		return nil, err
	}
	base, err := l.Library(d.Library.Base)
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", d.Library.Name, err)
	}

	exports := make([]string, 0, len(d.Exports))
	for e := range d.Exports {
		exports = append(exports, e)
	}
	sort.Strings(exports)
	for _, e := range exports {
		if _, ok := base.Lookup(d.Exports[e]); !ok {
			return nil, fmt.Errorf("%w: %s exports %s as %s, which %s does not define",
				ErrBadDescriptor, path, d.Exports[e], e, base.Name())
		}
	}
	log.Debugf("loaded library %s from %s (%d exports over %s)", d.Library.Name, path, len(exports), base.Name())
	return &exportLibrary{name: d.Library.Name, base: base, exports: d.Exports}, nil
}
