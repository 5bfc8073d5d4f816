package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// Image format constants
// ---------------------------------------------------------------------------

// Magic identifies a Weft module image file.
var Magic = [4]byte{'W', 'E', 'F', 'T'}

// Version is the image format version.
// v1: initial format
const Version uint32 = 1

// Header size in bytes:
// magic(4) + version(4) + flags(4) + moduleName(4) +
// stringTableOffset(8) + methodRefTableOffset(8) + classTableOffset(8) = 40
const HeaderSize = 40

// Image flags.
const (
	FlagNone    uint32 = 0
	FlagSymbols uint32 = 1 << 0 // a debug symbol sidecar accompanies the image
)

// noIndex marks an absent string pool reference.
const noIndex uint32 = 0xFFFFFFFF

// noMethod marks an absent accessor in a property record.
const noMethod uint16 = 0xFFFF

// maxMethodRefs is the largest method ref table a call operand can address.
const maxMethodRefs = 0xFFFF

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// imageWriter serializes one module to the binary image format. Sections are
// written into a buffer and the header offsets back-patched, so nothing
// reaches the destination until the whole image has encoded cleanly.
type imageWriter struct {
	buf *bytes.Buffer
	mod *Module

	stringTableOffset    uint64
	methodRefTableOffset uint64
	classTableOffset     uint64
}

// Write encodes mod and writes the complete image to w.
func Write(mod *Module, w io.Writer) error {
	iw := &imageWriter{buf: bytes.NewBuffer(nil), mod: mod}
	if err := iw.write(); err != nil {
		return err
	}
	_, err := w.Write(iw.buf.Bytes())
	return err
}

// WriteFile encodes mod and writes the image to path in one operation. The
// file is not touched if encoding fails.
func WriteFile(mod *Module, path string) error {
	iw := &imageWriter{buf: bytes.NewBuffer(nil), mod: mod}
	if err := iw.write(); err != nil {
		return err
	}
	return os.WriteFile(path, iw.buf.Bytes(), 0o644)
}

func (w *imageWriter) write() error {
	w.collect()
	w.writeHeader()
	w.writeStringTable()
	if err := w.writeMethodRefs(); err != nil {
		return err
	}
	if err := w.writeClasses(); err != nil {
		return err
	}
	w.patchHeader()
	return nil
}

// ---------------------------------------------------------------------------
// Collection phase: intern every name before the string table is emitted
// ---------------------------------------------------------------------------

func (w *imageWriter) collect() {
	m := w.mod
	m.InternString(m.Name)
	for _, ref := range m.MethodRefs {
		if ref.Module != "" {
			m.InternString(ref.Module)
		}
		m.InternString(ref.Class)
		m.InternString(ref.Name)
	}
	for _, c := range m.Classes {
		w.collectClass(c)
	}
}

func (w *imageWriter) collectClass(c *Class) {
	w.mod.InternString(c.Name)
	w.collectRef(c.Super)
	w.collectAnnotations(c.Annotations)
	for _, m := range c.Methods {
		w.mod.InternString(m.Name)
		w.collectRef(m.ReturnType)
		for _, p := range m.Params {
			w.mod.InternString(p.Name)
			w.collectRef(&p.Type)
		}
		w.collectAnnotations(m.Annotations)
	}
	for _, p := range c.Properties {
		w.mod.InternString(p.Name)
		w.collectAnnotations(p.Annotations)
	}
	for _, n := range c.Nested {
		w.collectClass(n)
	}
}

func (w *imageWriter) collectRef(ref *ClassRef) {
	if ref == nil {
		return
	}
	if ref.Module != "" {
		w.mod.InternString(ref.Module)
	}
	w.mod.InternString(ref.Name)
}

func (w *imageWriter) collectAnnotations(list AnnotationList) {
	for _, a := range list {
		w.mod.InternString(a.Name)
		for _, arg := range a.Args {
			switch arg.Kind {
			case KindString, KindSymbol:
				w.mod.InternString(arg.Str)
			case KindList:
				for _, item := range arg.List {
					w.mod.InternString(item)
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Header
// ---------------------------------------------------------------------------

// writeHeader writes the header with placeholder section offsets; they are
// back-patched once the sections are in place.
func (w *imageWriter) writeHeader() {
	w.buf.Write(Magic[:])
	w.putU32(Version)

	flags := FlagNone
	if w.mod.HasSymbols {
		flags |= FlagSymbols
	}
	w.putU32(flags)

	w.putU32(uint32(w.mod.InternString(w.mod.Name)))
	w.putU64(0) // string table offset
	w.putU64(0) // method ref table offset
	w.putU64(0) // class table offset
}

// patchHeader fills in the final section offsets.
func (w *imageWriter) patchHeader() {
	data := w.buf.Bytes()
	binary.LittleEndian.PutUint64(data[16:], w.stringTableOffset)
	binary.LittleEndian.PutUint64(data[24:], w.methodRefTableOffset)
	binary.LittleEndian.PutUint64(data[32:], w.classTableOffset)
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

// writeStringTable writes the module string pool in index order.
func (w *imageWriter) writeStringTable() {
	w.stringTableOffset = uint64(w.buf.Len())
	w.putU32(uint32(len(w.mod.Strings)))
	for _, s := range w.mod.Strings {
		w.putU32(uint32(len(s)))
		w.buf.WriteString(s)
	}
}

func (w *imageWriter) writeMethodRefs() error {
	w.methodRefTableOffset = uint64(w.buf.Len())
	if len(w.mod.MethodRefs) > maxMethodRefs {
		return fmt.Errorf("module %s: %d method refs exceed the call operand range", w.mod.Name, len(w.mod.MethodRefs))
	}
	w.putU32(uint32(len(w.mod.MethodRefs)))
	for _, ref := range w.mod.MethodRefs {
		if ref.Module == "" {
			w.putU32(noIndex)
		} else {
			w.putU32(uint32(w.mod.InternString(ref.Module)))
		}
		w.putU32(uint32(w.mod.InternString(ref.Class)))
		w.putU32(uint32(w.mod.InternString(ref.Name)))
		w.putU16(uint16(ref.Arity))
	}
	return nil
}

func (w *imageWriter) writeClasses() error {
	w.classTableOffset = uint64(w.buf.Len())
	if len(w.mod.Classes) > 0xFFFF {
		return fmt.Errorf("module %s: too many classes", w.mod.Name)
	}
	w.putU16(uint16(len(w.mod.Classes)))
	for _, c := range w.mod.Classes {
		if err := w.writeClass(c); err != nil {
			return err
		}
	}
	return nil
}

func (w *imageWriter) writeClass(c *Class) error {
	w.putU32(uint32(w.mod.InternString(c.Name)))
	w.putRef(c.Super)
	if err := w.writeAnnotations(c.Annotations); err != nil {
		return fmt.Errorf("class %s: %w", c.FullName(), err)
	}

	if len(c.Methods) >= int(noMethod) {
		return fmt.Errorf("class %s: too many methods", c.FullName())
	}
	w.putU16(uint16(len(c.Methods)))
	for _, m := range c.Methods {
		if err := w.writeMethod(c, m); err != nil {
			return err
		}
	}

	if len(c.Properties) > 0xFFFF {
		return fmt.Errorf("class %s: too many properties", c.FullName())
	}
	w.putU16(uint16(len(c.Properties)))
	for _, p := range c.Properties {
		if err := w.writeProperty(c, p); err != nil {
			return err
		}
	}

	if len(c.Nested) > 0xFFFF {
		return fmt.Errorf("class %s: too many nested classes", c.FullName())
	}
	w.putU16(uint16(len(c.Nested)))
	for _, n := range c.Nested {
		if err := w.writeClass(n); err != nil {
			return err
		}
	}
	return nil
}

func (w *imageWriter) writeMethod(c *Class, m *Method) error {
	w.putU32(uint32(w.mod.InternString(m.Name)))
	w.putU8(uint8(m.Visibility))

	var flags uint8
	if m.HasBody() {
		flags |= 1
	}
	w.putU8(flags)

	w.putRef(m.ReturnType)

	if len(m.Params) > 0xFF {
		return fmt.Errorf("method %s.%s: too many parameters", c.FullName(), m.Name)
	}
	w.putU8(uint8(len(m.Params)))
	for i := range m.Params {
		w.putU32(uint32(w.mod.InternString(m.Params[i].Name)))
		w.putRef(&m.Params[i].Type)
	}

	if err := w.writeAnnotations(m.Annotations); err != nil {
		return fmt.Errorf("method %s.%s: %w", c.FullName(), m.Name, err)
	}

	if m.HasBody() {
		code, err := m.Body.Assemble()
		if err != nil {
			return fmt.Errorf("assemble %s.%s: %w", c.FullName(), m.Name, err)
		}
		w.putU16(uint16(m.Body.LocalCount))
		w.putU32(uint32(len(code)))
		w.buf.Write(code)
	}
	return nil
}

func (w *imageWriter) writeProperty(c *Class, p *Property) error {
	w.putU32(uint32(w.mod.InternString(p.Name)))

	for _, acc := range []struct {
		name   string
		method *Method
	}{{"getter", p.Getter}, {"setter", p.Setter}} {
		if acc.method == nil {
			w.putU16(noMethod)
			continue
		}
		idx, ok := c.methodIndex(acc.method)
		if !ok {
			return fmt.Errorf("property %s of %s: %s is not a method of the class", p.Name, c.FullName(), acc.name)
		}
		w.putU16(uint16(idx))
	}

	if err := w.writeAnnotations(p.Annotations); err != nil {
		return fmt.Errorf("property %s of %s: %w", p.Name, c.FullName(), err)
	}
	return nil
}

func (w *imageWriter) writeAnnotations(list AnnotationList) error {
	if len(list) > 0xFF {
		return fmt.Errorf("too many annotations: %d", len(list))
	}
	w.putU8(uint8(len(list)))
	for _, a := range list {
		w.putU32(uint32(w.mod.InternString(a.Name)))
		if len(a.Args) > 0xFF {
			return fmt.Errorf("annotation %s: too many arguments", a.Name)
		}
		w.putU8(uint8(len(a.Args)))
		for _, arg := range a.Args {
			w.putU8(uint8(arg.Kind))
			switch arg.Kind {
			case KindString, KindSymbol:
				w.putU32(uint32(w.mod.InternString(arg.Str)))
			case KindList:
				if len(arg.List) > 0xFFFF {
					return fmt.Errorf("annotation %s: list argument too long", a.Name)
				}
				w.putU16(uint16(len(arg.List)))
				for _, item := range arg.List {
					w.putU32(uint32(w.mod.InternString(item)))
				}
			}
		}
	}
	return nil
}

// putRef encodes an optional class reference as a module index and name
// index pair. An absent reference writes the sentinel in both slots; a local
// reference writes the sentinel module index only.
func (w *imageWriter) putRef(ref *ClassRef) {
	if ref == nil {
		w.putU32(noIndex)
		w.putU32(noIndex)
		return
	}
	if ref.Module == "" {
		w.putU32(noIndex)
	} else {
		w.putU32(uint32(w.mod.InternString(ref.Module)))
	}
	w.putU32(uint32(w.mod.InternString(ref.Name)))
}

// ---------------------------------------------------------------------------
// Little-endian write helpers
// ---------------------------------------------------------------------------

func (w *imageWriter) putU8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *imageWriter) putU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *imageWriter) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *imageWriter) putU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
