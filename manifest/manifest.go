// Package manifest handles loom.toml weaver configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestName is the configuration file the weaver looks for.
const ManifestName = "loom.toml"

// Manifest represents a loom.toml weaver configuration. Command-line flags
// override anything set here.
type Manifest struct {
	Search  Search  `toml:"search"`
	Symbols Symbols `toml:"symbols"`

	// Dir is the directory containing the loom.toml file (set at load time).
	Dir string `toml:"-"`
}

// Search configures module lookup.
type Search struct {
	// Paths are extra module search directories, tried after the tool and
	// image directories. Relative entries are resolved against Dir.
	Paths []string `toml:"paths"`
}

// Symbols configures debug sidecar handling.
type Symbols struct {
	Enabled bool `toml:"enabled"`
}

// Load parses a loom.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a loom.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ManifestName)); err == nil {
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

// SearchPaths returns the configured search directories as absolute paths.
func (m *Manifest) SearchPaths() []string {
	var paths []string
	for _, p := range m.Search.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.Dir, p)
		}
		paths = append(paths, p)
	}
	return paths
}
