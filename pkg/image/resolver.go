package image

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("loom.image")

var (
	ErrModuleNotFound = errors.New("module not found")
	ErrClassNotFound  = errors.New("class not found")
)

// ImageExt is the file extension of Weft module images.
const ImageExt = ".weft"

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// Resolver loads referenced modules by name from a list of search
// directories and caches them. Modules materialized by other means, such as
// the image a tool is currently processing, can be pre-seeded with Register
// so references to them never touch the filesystem.
type Resolver struct {
	paths []string
	cache map[string]*Module
}

// NewResolver creates a resolver with no search paths.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*Module)}
}

// AddPath appends a directory to the search list. Directories are searched
// in registration order.
func (r *Resolver) AddPath(dir string) {
	r.paths = append(r.paths, dir)
}

// Paths returns the search directories in order.
func (r *Resolver) Paths() []string {
	return r.paths
}

// Register seeds the cache with an already loaded module.
func (r *Resolver) Register(mod *Module) {
	r.cache[mod.Name] = mod
}

// Module returns the module with the given name, loading `<name>.weft` from
// the first search directory that has it.
func (r *Resolver) Module(name string) (*Module, error) {
	if mod, ok := r.cache[name]; ok {
		return mod, nil
	}

	for _, dir := range r.paths {
		path := filepath.Join(dir, name+ImageExt)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		log.Debugf("loading module %s from %s", name, path)
		mod, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", name, err)
		}
		r.cache[name] = mod
		return mod, nil
	}
	return nil, fmt.Errorf("%w: %s (searched %v)", ErrModuleNotFound, name, r.paths)
}

// ResolveClass resolves a class reference. References with an empty module
// resolve within from. The defining module is returned alongside the class
// so callers can chase further references from the right context.
func (r *Resolver) ResolveClass(from *Module, ref ClassRef) (*Class, *Module, error) {
	mod := from
	if ref.Module != "" && ref.Module != from.Name {
		var err error
		if mod, err = r.Module(ref.Module); err != nil {
			return nil, nil, err
		}
	}
	c, ok := mod.FindClass(ref.Name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s in module %s", ErrClassNotFound, ref.Name, mod.Name)
	}
	return c, mod, nil
}
