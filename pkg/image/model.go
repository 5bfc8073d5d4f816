// Package image models compiled Weft module images: the class tree with its
// methods, properties and annotations, the module string pool and method
// reference table, and the binary encoding the toolchain stores on disk.
// Loading materializes every entity once; saving is all-or-nothing.
package image

import (
	"fmt"
	"strings"

	"github.com/weftlang/loom/pkg/bytecode"
)

// CoreModule is the module that defines the built-in classes.
const CoreModule = "weft.core"

// ClassString is the name of the built-in string class.
const ClassString = "String"

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// ClassRef names a class, possibly in another module. An empty Module means
// the class lives in the referring module. Nested classes are named by their
// full "::" path.
type ClassRef struct {
	Module string
	Name   string
}

// String implements the Stringer interface.
func (r ClassRef) String() string {
	if r.Module == "" {
		return r.Name
	}
	return r.Module + "::" + r.Name
}

// IsStringRef reports whether the reference names the built-in string class.
func IsStringRef(r ClassRef) bool {
	return r.Name == ClassString && (r.Module == "" || r.Module == CoreModule)
}

// MethodRef names a callable method for the call instructions. An empty
// Module means the method lives in the calling module.
type MethodRef struct {
	Module string
	Class  string // full class name within Module
	Name   string
	Arity  int
}

// String implements the Stringer interface.
func (r MethodRef) String() string {
	if r.Module == "" {
		return fmt.Sprintf("%s::%s/%d", r.Class, r.Name, r.Arity)
	}
	return fmt.Sprintf("%s::%s::%s/%d", r.Module, r.Class, r.Name, r.Arity)
}

// ---------------------------------------------------------------------------
// Methods and properties
// ---------------------------------------------------------------------------

// Visibility is the access level of a method.
type Visibility uint8

const (
	Public Visibility = iota
	Protected
	Private
)

// String implements the Stringer interface.
func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Protected:
		return "protected"
	case Private:
		return "private"
	}
	return fmt.Sprintf("visibility(%d)", uint8(v))
}

// Param is one method parameter.
type Param struct {
	Name string
	Type ClassRef
}

// Method is one compiled method of a class. A nil Body marks an abstract or
// external method with no code.
type Method struct {
	Name        string
	Visibility  Visibility
	Params      []Param
	ReturnType  *ClassRef // nil for void
	Body        *bytecode.Body
	Annotations AnnotationList
}

// Arity returns the number of parameters.
func (m *Method) Arity() int {
	return len(m.Params)
}

// HasBody reports whether the method carries code.
func (m *Method) HasBody() bool {
	return m.Body != nil
}

// Property is a named accessor pair. Getter and Setter point into the owning
// class's method list; either may be nil.
type Property struct {
	Name        string
	Getter      *Method
	Setter      *Method
	Annotations AnnotationList
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// Class is one class of a module, possibly nested inside another.
type Class struct {
	Name        string
	Super       *ClassRef // nil at the root of the hierarchy
	Methods     []*Method
	Properties  []*Property
	Nested      []*Class
	Annotations AnnotationList

	parent *Class
}

// FullName returns the "::"-joined nesting path of the class.
func (c *Class) FullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.FullName() + "::" + c.Name
}

// AddNested links child as a nested class and returns it.
func (c *Class) AddNested(child *Class) *Class {
	child.parent = c
	c.Nested = append(c.Nested, child)
	return child
}

// FindMethod returns the first method with the given name.
func (c *Class) FindMethod(name string) (*Method, bool) {
	for _, m := range c.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// methodIndex returns the position of m in the class's method list.
func (c *Class) methodIndex(m *Method) (int, bool) {
	for i, cm := range c.Methods {
		if cm == m {
			return i, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// Module is one loaded module image.
type Module struct {
	Name string

	// Strings is the module string pool. Instruction operands and metadata
	// index into it, so entries are append-only.
	Strings []string

	// MethodRefs is the call target table indexed by call instruction
	// operands.
	MethodRefs []MethodRef

	// Classes holds the top-level classes.
	Classes []*Class

	// HasSymbols mirrors the image header flag for the debug sidecar.
	HasSymbols bool

	stringIndex map[string]int
	refIndex    map[MethodRef]int
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// InternString returns the pool index of s, appending it if new.
func (m *Module) InternString(s string) int {
	if m.stringIndex == nil {
		m.stringIndex = make(map[string]int, len(m.Strings))
		for i, v := range m.Strings {
			if _, ok := m.stringIndex[v]; !ok {
				m.stringIndex[v] = i
			}
		}
	}
	if i, ok := m.stringIndex[s]; ok {
		return i
	}
	m.Strings = append(m.Strings, s)
	m.stringIndex[s] = len(m.Strings) - 1
	return len(m.Strings) - 1
}

// ImportMethod returns the index of ref in the method ref table, appending
// it if new. Call instructions address their target by this index.
func (m *Module) ImportMethod(ref MethodRef) int {
	if m.refIndex == nil {
		m.refIndex = make(map[MethodRef]int, len(m.MethodRefs))
		for i, r := range m.MethodRefs {
			if _, ok := m.refIndex[r]; !ok {
				m.refIndex[r] = i
			}
		}
	}
	if i, ok := m.refIndex[ref]; ok {
		return i
	}
	m.MethodRefs = append(m.MethodRefs, ref)
	m.refIndex[ref] = len(m.MethodRefs) - 1
	return len(m.MethodRefs) - 1
}

// FindClass resolves a "::"-joined class path within the module.
func (m *Module) FindClass(path string) (*Class, bool) {
	segs := strings.Split(path, "::")
	var cur *Class
	for _, c := range m.Classes {
		if c.Name == segs[0] {
			cur = c
			break
		}
	}
	if cur == nil {
		return nil, false
	}
	for _, seg := range segs[1:] {
		var next *Class
		for _, n := range cur.Nested {
			if n.Name == seg {
				next = n
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// StringAt implements bytecode.Symbols.
func (m *Module) StringAt(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.Strings) {
		return "", false
	}
	return m.Strings[idx], true
}

// MethodRefAt implements bytecode.Symbols.
func (m *Module) MethodRefAt(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.MethodRefs) {
		return "", false
	}
	return m.MethodRefs[idx].String(), true
}
