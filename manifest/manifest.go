// Package manifest handles regvm.toml program configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "regvm.toml"

// DefaultMaxDepth is the call depth used when [vm] max-depth is unset.
const DefaultMaxDepth = 4096

// Manifest represents a regvm.toml program configuration.
type Manifest struct {
	Program Program  `toml:"program"`
	Link    Link     `toml:"link"`
	VM      VMConfig `toml:"vm"`

	// Dir is the directory containing the regvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Program names the image to run and its entry procedure.
type Program struct {
	Name  string `toml:"name"`
	Image string `toml:"image"`
	Entry string `toml:"entry"`
}

// Link configures native library resolution.
type Link struct {
	Libraries  []string `toml:"libraries"`
	SearchDirs []string `toml:"search-dirs"`
}

// VMConfig configures the machine.
type VMConfig struct {
	MaxDepth int  `toml:"max-depth"`
	Quiet    bool `toml:"quiet"`
}

// Load parses a regvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path. Relative paths in it are
// resolved against the file's directory.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes a manifest from TOML and applies defaults. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if m.VM.MaxDepth < 0 {
		return nil, fmt.Errorf("vm.max-depth must not be negative, got %d", m.VM.MaxDepth)
	}
	m.applyDefaults()
	return &m, nil
}

// Default returns the configuration used when no regvm.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Program.Entry == "" {
		m.Program.Entry = "main"
	}
	if m.Link.Libraries == nil {
		m.Link.Libraries = []string{"core"}
	}
	if len(m.Link.SearchDirs) == 0 {
		m.Link.SearchDirs = []string{"lib"}
	}
	if m.VM.MaxDepth == 0 {
		m.VM.MaxDepth = DefaultMaxDepth
	}
}

// FindAndLoad walks up from startDir to find a regvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ImagePath returns the absolute path of the configured image, or "" when
// none is configured.
func (m *Manifest) ImagePath() string {
	if m.Program.Image == "" {
		return ""
	}
	return m.resolve(m.Program.Image)
}

// SearchDirPaths returns absolute paths for the native library search
// directories.
func (m *Manifest) SearchDirPaths() []string {
	var paths []string
	for _, d := range m.Link.SearchDirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
