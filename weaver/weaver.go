// Package weaver rewrites compiled Weft module images in place, injecting
// property-change notification calls into property setters as directed by
// declarative markers in the image metadata. The pass is single-threaded:
// load, scan and rewrite in memory, then persist only if something was
// actually woven. Any fatal condition aborts before the persist step, so
// the artifact on disk is never partially written.
package weaver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/weftlang/loom/pkg/image"
)

var log = commonlog.GetLogger("loom.weaver")

var (
	ErrNoNotifyTarget = errors.New("no notification target in the inheritance chain")
	ErrBadTargetShape = errors.New("notification target must take exactly one string parameter")
	ErrAbstractSetter = errors.New("setter has no body")
	ErrBadMarker      = errors.New("malformed marker")
)

// Options configures a weaving run.
type Options struct {
	// Symbols loads the debug sidecar next to the image and rewrites it
	// with remapped code offsets when the image is persisted.
	Symbols bool

	// SearchPaths are extra module search directories, consulted after the
	// tool directory and the directory of the input image.
	SearchPaths []string

	// DryRun scans and rewrites in memory but never persists.
	DryRun bool
}

// Result reports what one run did. Changed is true when at least one
// property was woven, whether or not the write was skipped for a dry run.
type Result struct {
	Module     string
	Properties int
	Changed    bool
}

// wovenMethod records one rewritten setter for symbol remapping.
type wovenMethod struct {
	class  string
	method *image.Method
}

// Weaver is the weaving engine. A single Weaver can run multiple images in
// sequence; each run gets a fresh resolver.
type Weaver struct {
	opts     Options
	resolver *image.Resolver
	woven    []wovenMethod
}

// New creates a weaver.
func New(opts Options) *Weaver {
	return &Weaver{opts: opts}
}

// Run weaves the module image at path. The image is rewritten in place only
// if at least one property was woven; on any error the file is untouched.
func (w *Weaver) Run(path string) (*Result, error) {
	w.resolver = image.NewResolver()
	w.woven = nil

	if exe, err := os.Executable(); err == nil {
		w.resolver.AddPath(filepath.Dir(exe))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w.resolver.AddPath(filepath.Dir(abs))
	for _, p := range w.opts.SearchPaths {
		w.resolver.AddPath(p)
	}

	mod, err := image.LoadFile(path)
	if err != nil {
		return nil, err
	}
	w.resolver.Register(mod)
	log.Debugf("loaded module %s from %s", mod.Name, path)

	var syms *image.SymbolFile
	if w.opts.Symbols && mod.HasSymbols {
		if syms, err = image.LoadSymbolFile(image.SymbolPath(path)); err != nil {
			log.Warningf("debug symbols unavailable: %v", err)
			syms = nil
		}
	}

	for _, c := range mod.Classes {
		if err := w.processClass(mod, c); err != nil {
			return nil, err
		}
	}

	result := &Result{Module: mod.Name, Properties: len(w.woven), Changed: len(w.woven) > 0}
	if !result.Changed {
		log.Infof("module %s: nothing to weave", mod.Name)
		return result, nil
	}
	if w.opts.DryRun {
		log.Infof("module %s: %d properties would be woven (dry run)", mod.Name, result.Properties)
		return result, nil
	}

	if err := image.WriteFile(mod, path); err != nil {
		return nil, err
	}
	if syms != nil {
		for _, wm := range w.woven {
			syms.RemapOffsets(wm.class, wm.method.Name, wm.method.Body.OffsetMap())
		}
		if err := syms.WriteFile(image.SymbolPath(path)); err != nil {
			return nil, err
		}
	}
	log.Infof("module %s: wove %d properties", mod.Name, result.Properties)
	return result, nil
}

// processClass weaves one class and recurses into its nested classes. A
// nested class carries its own notifier marker independently of the parent.
func (w *Weaver) processClass(mod *image.Module, c *image.Class) error {
	if _, err := w.weaveClass(mod, c); err != nil {
		return err
	}
	for _, n := range c.Nested {
		if err := w.processClass(mod, n); err != nil {
			return err
		}
	}
	return nil
}

// weaveClass processes the properties declared directly on c and reports
// whether any of them was altered. Nested classes are the caller's concern;
// their dirtiness feeds the run-wide tally, never the parent's flag.
func (w *Weaver) weaveClass(mod *image.Module, c *image.Class) (bool, error) {
	mode, marked, err := notifierMode(c)
	if err != nil {
		return false, err
	}
	if !marked {
		return false, nil
	}
	log.Debugf("class %s: notifier, %s mode", c.FullName(), mode)

	// A notifier class must resolve a target even if no property ends up
	// eligible. The ref import waits until a property actually weaves so
	// unchanged modules stay byte-identical.
	tgt, err := w.resolveTarget(mod, c)
	if err != nil {
		return false, err
	}
	targetIdx := -1

	dirty := false
	for _, prop := range c.Properties {
		if prop.Annotations.Has(MarkerSuppress) {
			log.Debugf("property %s of %s: suppressed", prop.Name, c.FullName())
			continue
		}
		if prop.Setter == nil {
			log.Debugf("property %s of %s: no setter, skipping", prop.Name, c.FullName())
			continue
		}

		names, err := notificationNames(c, prop)
		if err != nil {
			return dirty, err
		}
		if len(names) == 0 && mode == Implicit && prop.Setter.Visibility == image.Public {
			names = []Name{{Value: prop.Name}}
		}
		if len(names) == 0 {
			continue
		}

		// An empty body counts as bodyless: there is no return to weave
		// in front of.
		if !prop.Setter.HasBody() || prop.Setter.Body.Len() == 0 {
			return dirty, fmt.Errorf("%w: property %s of %s", ErrAbstractSetter, prop.Name, c.FullName())
		}

		if targetIdx < 0 {
			targetIdx = importTarget(mod, tgt)
		}
		if err := weaveSetter(mod, prop.Setter, targetIdx, names); err != nil {
			return dirty, err
		}
		w.woven = append(w.woven, wovenMethod{class: c.FullName(), method: prop.Setter})
		dirty = true
		log.Debugf("property %s of %s: wove %d notifications", prop.Name, c.FullName(), len(names))
	}
	return dirty, nil
}
