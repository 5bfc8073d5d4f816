// Package integration exercises the whole weaving pipeline end to end:
// module images are written to disk, woven in place and reloaded, and the
// assertions run against the reloaded artifacts rather than in-memory state.
//
// The fixture is a small two-module application. weft.ui carries the Control
// base class with the inherited notification callback; acme.todo carries the
// notifier classes in every marker configuration the weaver distinguishes
// (explicit lists, bare markers, the wildcard, implicit mode, suppression,
// nesting and a marker-free control class).
package integration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftlang/loom/pkg/bytecode"
	"github.com/weftlang/loom/pkg/image"
)

var stringRef = image.ClassRef{Module: image.CoreModule, Name: image.ClassString}

// ---------------------------------------------------------------------------
// Body builders
// ---------------------------------------------------------------------------

func returnBody() *bytecode.Body {
	b := &bytecode.Body{}
	b.Append(bytecode.NewInstruction(bytecode.OpReturnVoid, 0))
	return b
}

func storeBody(field int) *bytecode.Body {
	b := &bytecode.Body{}
	b.Append(bytecode.NewInstruction(bytecode.OpPushParam, 0))
	b.Append(bytecode.NewInstruction(bytecode.OpStoreField, field))
	b.Append(bytecode.NewInstruction(bytecode.OpReturnVoid, 0))
	return b
}

func loadBody(field int) *bytecode.Body {
	b := &bytecode.Body{}
	b.Append(bytecode.NewInstruction(bytecode.OpPushField, field))
	b.Append(bytecode.NewInstruction(bytecode.OpReturn, 0))
	return b
}

// guardedStoreBody skips the store when the value is falsy. The conditional
// jumps straight to the return, which is the interesting case for weaving:
// the early-out path must keep targeting the return, not the woven code.
func guardedStoreBody(field int) *bytecode.Body {
	b := &bytecode.Body{}
	ret := bytecode.NewInstruction(bytecode.OpReturnVoid, 0)
	b.Append(bytecode.NewInstruction(bytecode.OpPushParam, 0))
	skip := b.Append(bytecode.NewInstruction(bytecode.OpJumpFalse, 0))
	b.Append(bytecode.NewInstruction(bytecode.OpPushParam, 0))
	b.Append(bytecode.NewInstruction(bytecode.OpStoreField, field))
	b.Append(ret)
	skip.Target = ret
	return b
}

// ---------------------------------------------------------------------------
// Class builders
// ---------------------------------------------------------------------------

func accessorPair(prop string, field int) (*image.Method, *image.Method) {
	getter := &image.Method{
		Name:       "get_" + prop,
		Visibility: image.Public,
		ReturnType: &stringRef,
		Body:       loadBody(field),
	}
	setter := &image.Method{
		Name:       "set_" + prop,
		Visibility: image.Public,
		Params:     []image.Param{{Name: "value", Type: stringRef}},
		Body:       storeBody(field),
	}
	return getter, setter
}

func callbackMethod(name string) *image.Method {
	return &image.Method{
		Name:        name,
		Visibility:  image.Protected,
		Params:      []image.Param{{Name: "name", Type: stringRef}},
		Body:        returnBody(),
		Annotations: image.AnnotationList{{Name: "notifyTarget"}},
	}
}

func marker(name string, args ...image.Value) image.Annotation {
	return image.Annotation{Name: name, Args: args}
}

// buildUIModule returns the weft.ui library module: the Control base class
// declaring the inherited notification callback.
func buildUIModule() *image.Module {
	control := &image.Class{
		Name: "Control",
		Methods: []*image.Method{
			callbackMethod("OnPropertyChanged"),
			{Name: "Refresh", Visibility: image.Public, Body: returnBody()},
		},
	}
	mod := image.NewModule("weft.ui")
	mod.Classes = append(mod.Classes, control)
	return mod
}

// buildAppModule returns the acme.todo application module covering every
// property configuration.
func buildAppModule() *image.Module {
	mod := image.NewModule("acme.todo")

	// TaskView: explicit notifier inheriting its callback from weft.ui.
	titleGet, titleSet := accessorPair("Title", 0)
	doneGet := &image.Method{
		Name:       "get_Done",
		Visibility: image.Public,
		ReturnType: &stringRef,
		Body:       loadBody(1),
	}
	doneSet := &image.Method{
		Name:       "set_Done",
		Visibility: image.Public,
		Params:     []image.Param{{Name: "value", Type: stringRef}},
		Body:       guardedStoreBody(1),
	}
	cacheGet, cacheSet := accessorPair("Cache", 2)
	internGet, internSet := accessorPair("Internal", 3)

	taskView := &image.Class{
		Name:        "TaskView",
		Super:       &image.ClassRef{Module: "weft.ui", Name: "Control"},
		Methods:     []*image.Method{titleGet, titleSet, doneGet, doneSet, cacheGet, cacheSet, internGet, internSet},
		Annotations: image.AnnotationList{marker("notifier", image.SymbolValue("explicit"))},
		Properties: []*image.Property{
			{
				Name:        "Title",
				Getter:      titleGet,
				Setter:      titleSet,
				Annotations: image.AnnotationList{marker("notify", image.ListValue("Title", "Subtitle"))},
			},
			{
				Name:        "Done",
				Getter:      doneGet,
				Setter:      doneSet,
				Annotations: image.AnnotationList{marker("notify")},
			},
			{
				Name:        "Cache",
				Getter:      cacheGet,
				Setter:      cacheSet,
				Annotations: image.AnnotationList{marker("suppressNotify"), marker("notify", image.ListValue("X"))},
			},
			{
				Name:   "Internal",
				Getter: internGet,
				Setter: internSet,
			},
		},
	}

	// Board: implicit notifier with a local callback and a nested notifier.
	nameGet, nameSet := accessorPair("Name", 0)
	revGet, revSet := accessorPair("Revision", 1)
	revSet.Visibility = image.Protected
	itemsGet, itemsSet := accessorPair("Items", 2)

	board := &image.Class{
		Name: "Board",
		Methods: []*image.Method{
			callbackMethod("OnBoardChanged"),
			nameGet, nameSet, revGet, revSet, itemsGet, itemsSet,
		},
		Annotations: image.AnnotationList{marker("notifier", image.SymbolValue("implicit"))},
		Properties: []*image.Property{
			{Name: "Name", Getter: nameGet, Setter: nameSet},
			{Name: "Revision", Getter: revGet, Setter: revSet},
			{
				Name:        "Items",
				Getter:      itemsGet,
				Setter:      itemsSet,
				Annotations: image.AnnotationList{marker("notify", image.NullValue())},
			},
		},
	}

	headerGet, headerSet := accessorPair("Header", 0)
	board.AddNested(&image.Class{
		Name:        "Column",
		Methods:     []*image.Method{callbackMethod("OnColumnChanged"), headerGet, headerSet},
		Annotations: image.AnnotationList{marker("notifier")},
		Properties: []*image.Property{{
			Name:        "Header",
			Getter:      headerGet,
			Setter:      headerSet,
			Annotations: image.AnnotationList{marker("notify")},
		}},
	})

	// Plain: no markers anywhere, must never be touched.
	plainGet, plainSet := accessorPair("Label", 0)
	plain := &image.Class{
		Name:       "Plain",
		Methods:    []*image.Method{plainGet, plainSet},
		Properties: []*image.Property{{Name: "Label", Getter: plainGet, Setter: plainSet}},
	}

	mod.Classes = append(mod.Classes, taskView, board, plain)
	return mod
}

// ---------------------------------------------------------------------------
// Disk helpers
// ---------------------------------------------------------------------------

func writeImage(t *testing.T, dir string, mod *image.Module) string {
	t.Helper()
	path := filepath.Join(dir, mod.Name+image.ImageExt)
	require.NoError(t, image.WriteFile(mod, path), "writing %s", path)
	return path
}

// writeFixture lays out both fixture modules in one directory and returns
// the application image path.
func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	writeImage(t, dir, buildUIModule())
	return writeImage(t, dir, buildAppModule())
}

func reload(t *testing.T, path string) *image.Module {
	t.Helper()
	mod, err := image.LoadFile(path)
	require.NoError(t, err, "reloading %s", path)
	return mod
}

func findProperty(t *testing.T, mod *image.Module, classPath, prop string) *image.Property {
	t.Helper()
	c, ok := mod.FindClass(classPath)
	require.True(t, ok, "class %s missing", classPath)
	for _, p := range c.Properties {
		if p.Name == prop {
			return p
		}
	}
	t.Fatalf("property %s missing from %s", prop, classPath)
	return nil
}

// ops flattens a body to its opcode sequence.
func ops(b *bytecode.Body) []bytecode.Opcode {
	var out []bytecode.Opcode
	for in := b.First(); in != nil; in = in.Next() {
		out = append(out, in.Op)
	}
	return out
}

// notifiedNames returns the string pushed by each woven call block, with
// "<nil>" standing in for the wildcard push.
func notifiedNames(t *testing.T, mod *image.Module, b *bytecode.Body) []string {
	t.Helper()
	var out []string
	for in := b.First(); in != nil; in = in.Next() {
		switch in.Op {
		case bytecode.OpPushString:
			s, ok := mod.StringAt(in.Operand)
			require.True(t, ok, "push references string %d outside the pool", in.Operand)
			out = append(out, s)
		case bytecode.OpPushNil:
			out = append(out, "<nil>")
		}
	}
	return out
}

// calledRefs returns the method ref of every call in the body.
func calledRefs(t *testing.T, mod *image.Module, b *bytecode.Body) []image.MethodRef {
	t.Helper()
	var out []image.MethodRef
	for in := b.First(); in != nil; in = in.Next() {
		if in.Op != bytecode.OpCall && in.Op != bytecode.OpCallVoid {
			continue
		}
		require.Less(t, in.Operand, len(mod.MethodRefs), "call ref out of range")
		out = append(out, mod.MethodRefs[in.Operand])
	}
	return out
}
