package image

import "fmt"

// ---------------------------------------------------------------------------
// Annotation values
// ---------------------------------------------------------------------------

// ValueKind tags the payload of an annotation argument.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindSymbol
	KindList
)

// String implements the Stringer interface.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one annotation argument.
type Value struct {
	Kind ValueKind
	Str  string   // payload for KindString and KindSymbol
	List []string // payload for KindList
}

// NullValue returns the null argument.
func NullValue() Value {
	return Value{Kind: KindNull}
}

// StringValue returns a string argument.
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// SymbolValue returns a symbol argument.
func SymbolValue(s string) Value {
	return Value{Kind: KindSymbol, Str: s}
}

// ListValue returns a list-of-strings argument.
func ListValue(items ...string) Value {
	return Value{Kind: KindList, List: items}
}

// ---------------------------------------------------------------------------
// Annotations
// ---------------------------------------------------------------------------

// Annotation is one metadata marker attached to a class, method or property.
// Names are lowercase camelCase as emitted by the Weft compiler.
type Annotation struct {
	Name string
	Args []Value
}

// AnnotationList holds the annotations of one entity in declaration order.
type AnnotationList []Annotation

// Has reports whether an annotation with the given name is present.
func (l AnnotationList) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Get returns the first annotation with the given name.
func (l AnnotationList) Get(name string) (Annotation, bool) {
	for _, a := range l {
		if a.Name == name {
			return a, true
		}
	}
	return Annotation{}, false
}
