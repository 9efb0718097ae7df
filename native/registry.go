package native

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tliron/commonlog"

	"github.com/chazu/regvm/vm"
)

var log = commonlog.GetLogger("regvm.native")

// ErrDuplicate is returned when a library name is registered twice.
var ErrDuplicate = errors.New("native: library already registered")

// Registry holds the libraries implemented in Go, by name.
type Registry struct {
	libs map[string]vm.Library
}

// NewRegistry creates a registry holding the core library.
func NewRegistry() *Registry {
	r := &Registry{libs: make(map[string]vm.Library)}
	r.libs[CoreName] = Core()
	return r
}

// Register adds lib under its own name.
func (r *Registry) Register(lib vm.Library) error {
	if _, ok := r.libs[lib.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, lib.Name())
	}
	r.libs[lib.Name()] = lib
	log.Debugf("registered library %s", lib.Name())
	return nil
}

// Lookup returns the library registered as name.
func (r *Registry) Lookup(name string) (vm.Library, bool) {
	lib, ok := r.libs[name]
	return lib, ok
}

// Names returns the registered library names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.libs))
	for n := range r.libs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
