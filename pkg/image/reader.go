package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/weftlang/loom/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Image error types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic       = errors.New("invalid magic number: expected WEFT")
	ErrVersionMismatch    = errors.New("image version mismatch")
	ErrCorruptHeader      = errors.New("corrupt image header")
	ErrCorruptData        = errors.New("corrupt image data")
	ErrUnexpectedEOF      = errors.New("unexpected end of image data")
	ErrInvalidStringIndex = errors.New("invalid string index")
)

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// imageReader deserializes one module from its binary image.
type imageReader struct {
	data []byte
	pos  int
	mod  *Module
}

// Load reads a complete module image from r.
func Load(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image data: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes reads a module image from a byte slice.
func LoadBytes(data []byte) (*Module, error) {
	ir := &imageReader{data: data}
	if err := ir.load(); err != nil {
		return nil, err
	}
	return ir.mod, nil
}

// LoadFile reads a module image from a file.
func LoadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mod, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mod, nil
}

func (r *imageReader) load() error {
	if len(r.data) < HeaderSize {
		return ErrCorruptHeader
	}

	if !bytes.Equal(r.data[0:4], Magic[:]) {
		return fmt.Errorf("%w: got %q", ErrInvalidMagic, string(r.data[0:4]))
	}
	version := binary.LittleEndian.Uint32(r.data[4:])
	if version != Version {
		return fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, version)
	}
	flags := binary.LittleEndian.Uint32(r.data[8:])
	nameIdx := binary.LittleEndian.Uint32(r.data[12:])
	stringTableOffset := binary.LittleEndian.Uint64(r.data[16:])
	methodRefTableOffset := binary.LittleEndian.Uint64(r.data[24:])
	classTableOffset := binary.LittleEndian.Uint64(r.data[32:])

	for _, off := range []uint64{stringTableOffset, methodRefTableOffset, classTableOffset} {
		if off < HeaderSize || off > uint64(len(r.data)) {
			return fmt.Errorf("%w: section offset %d out of range", ErrCorruptHeader, off)
		}
	}

	r.mod = &Module{HasSymbols: flags&FlagSymbols != 0}

	r.pos = int(stringTableOffset)
	if err := r.readStringTable(); err != nil {
		return err
	}

	name, err := r.stringAt(nameIdx)
	if err != nil {
		return fmt.Errorf("module name: %w", err)
	}
	r.mod.Name = name

	r.pos = int(methodRefTableOffset)
	if err := r.readMethodRefs(); err != nil {
		return err
	}

	r.pos = int(classTableOffset)
	return r.readClasses()
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

func (r *imageReader) readStringTable() error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	// Each entry takes at least its length prefix.
	if int(count) > (len(r.data)-r.pos)/4 {
		return fmt.Errorf("%w: string table claims %d entries", ErrCorruptData, count)
	}

	r.mod.Strings = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		n, err := r.u32()
		if err != nil {
			return err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return err
		}
		r.mod.Strings = append(r.mod.Strings, string(raw))
	}
	return nil
}

func (r *imageReader) readMethodRefs() error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	// moduleIdx(4) + classIdx(4) + nameIdx(4) + arity(2)
	if int(count) > (len(r.data)-r.pos)/14 {
		return fmt.Errorf("%w: method ref table claims %d entries", ErrCorruptData, count)
	}

	r.mod.MethodRefs = make([]MethodRef, 0, count)
	for i := uint32(0); i < count; i++ {
		var ref MethodRef
		moduleIdx, err := r.u32()
		if err != nil {
			return err
		}
		if moduleIdx != noIndex {
			if ref.Module, err = r.stringAt(moduleIdx); err != nil {
				return err
			}
		}
		classIdx, err := r.u32()
		if err != nil {
			return err
		}
		if ref.Class, err = r.stringAt(classIdx); err != nil {
			return err
		}
		nameIdx, err := r.u32()
		if err != nil {
			return err
		}
		if ref.Name, err = r.stringAt(nameIdx); err != nil {
			return err
		}
		arity, err := r.u16()
		if err != nil {
			return err
		}
		ref.Arity = int(arity)
		r.mod.MethodRefs = append(r.mod.MethodRefs, ref)
	}
	return nil
}

func (r *imageReader) readClasses() error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	for i := uint16(0); i < count; i++ {
		c, err := r.readClass()
		if err != nil {
			return err
		}
		r.mod.Classes = append(r.mod.Classes, c)
	}
	return nil
}

func (r *imageReader) readClass() (*Class, error) {
	nameIdx, err := r.u32()
	if err != nil {
		return nil, err
	}
	name, err := r.stringAt(nameIdx)
	if err != nil {
		return nil, err
	}
	c := &Class{Name: name}

	if c.Super, err = r.readRef(); err != nil {
		return nil, fmt.Errorf("class %s: %w", name, err)
	}
	if c.Annotations, err = r.readAnnotations(); err != nil {
		return nil, fmt.Errorf("class %s: %w", name, err)
	}

	methodCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < methodCount; i++ {
		m, err := r.readMethod(name)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, m)
	}

	propCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < propCount; i++ {
		p, err := r.readProperty(c)
		if err != nil {
			return nil, err
		}
		c.Properties = append(c.Properties, p)
	}

	nestedCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < nestedCount; i++ {
		n, err := r.readClass()
		if err != nil {
			return nil, err
		}
		c.AddNested(n)
	}
	return c, nil
}

func (r *imageReader) readMethod(className string) (*Method, error) {
	nameIdx, err := r.u32()
	if err != nil {
		return nil, err
	}
	name, err := r.stringAt(nameIdx)
	if err != nil {
		return nil, err
	}
	m := &Method{Name: name}

	vis, err := r.u8()
	if err != nil {
		return nil, err
	}
	if vis > uint8(Private) {
		return nil, fmt.Errorf("%w: method %s.%s has visibility %d", ErrCorruptData, className, name, vis)
	}
	m.Visibility = Visibility(vis)

	flags, err := r.u8()
	if err != nil {
		return nil, err
	}

	if m.ReturnType, err = r.readRef(); err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", className, name, err)
	}

	paramCount, err := r.u8()
	if err != nil {
		return nil, err
	}
	for i := uint8(0); i < paramCount; i++ {
		var p Param
		pNameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		if p.Name, err = r.stringAt(pNameIdx); err != nil {
			return nil, err
		}
		typ, err := r.readRef()
		if err != nil {
			return nil, fmt.Errorf("method %s.%s: %w", className, name, err)
		}
		if typ == nil {
			return nil, fmt.Errorf("%w: parameter %s of %s.%s has no type", ErrCorruptData, p.Name, className, name)
		}
		p.Type = *typ
		m.Params = append(m.Params, p)
	}

	if m.Annotations, err = r.readAnnotations(); err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", className, name, err)
	}

	if flags&1 != 0 {
		localCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		codeLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		code, err := r.take(int(codeLen))
		if err != nil {
			return nil, err
		}
		body, err := bytecode.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("method %s.%s: %w", className, name, err)
		}
		body.LocalCount = int(localCount)
		m.Body = body
	}
	return m, nil
}

func (r *imageReader) readProperty(c *Class) (*Property, error) {
	nameIdx, err := r.u32()
	if err != nil {
		return nil, err
	}
	name, err := r.stringAt(nameIdx)
	if err != nil {
		return nil, err
	}
	p := &Property{Name: name}

	for _, target := range []**Method{&p.Getter, &p.Setter} {
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		if idx == noMethod {
			continue
		}
		if int(idx) >= len(c.Methods) {
			return nil, fmt.Errorf("%w: property %s of %s references method %d of %d", ErrCorruptData, name, c.Name, idx, len(c.Methods))
		}
		*target = c.Methods[idx]
	}

	if p.Annotations, err = r.readAnnotations(); err != nil {
		return nil, fmt.Errorf("property %s of %s: %w", name, c.Name, err)
	}
	return p, nil
}

func (r *imageReader) readRef() (*ClassRef, error) {
	moduleIdx, err := r.u32()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.u32()
	if err != nil {
		return nil, err
	}
	if nameIdx == noIndex {
		if moduleIdx != noIndex {
			return nil, fmt.Errorf("%w: class ref with module but no name", ErrCorruptData)
		}
		return nil, nil
	}

	var ref ClassRef
	if moduleIdx != noIndex {
		if ref.Module, err = r.stringAt(moduleIdx); err != nil {
			return nil, err
		}
	}
	if ref.Name, err = r.stringAt(nameIdx); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *imageReader) readAnnotations() (AnnotationList, error) {
	count, err := r.u8()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	list := make(AnnotationList, 0, count)
	for i := uint8(0); i < count; i++ {
		nameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		a := Annotation{}
		if a.Name, err = r.stringAt(nameIdx); err != nil {
			return nil, err
		}

		argc, err := r.u8()
		if err != nil {
			return nil, err
		}
		for j := uint8(0); j < argc; j++ {
			kind, err := r.u8()
			if err != nil {
				return nil, err
			}
			switch ValueKind(kind) {
			case KindNull:
				a.Args = append(a.Args, NullValue())
			case KindString, KindSymbol:
				idx, err := r.u32()
				if err != nil {
					return nil, err
				}
				s, err := r.stringAt(idx)
				if err != nil {
					return nil, err
				}
				a.Args = append(a.Args, Value{Kind: ValueKind(kind), Str: s})
			case KindList:
				n, err := r.u16()
				if err != nil {
					return nil, err
				}
				items := make([]string, 0, n)
				for k := uint16(0); k < n; k++ {
					idx, err := r.u32()
					if err != nil {
						return nil, err
					}
					s, err := r.stringAt(idx)
					if err != nil {
						return nil, err
					}
					items = append(items, s)
				}
				a.Args = append(a.Args, ListValue(items...))
			default:
				return nil, fmt.Errorf("%w: annotation %s has argument kind %d", ErrCorruptData, a.Name, kind)
			}
		}
		list = append(list, a)
	}
	return list, nil
}

// ---------------------------------------------------------------------------
// Little-endian read helpers
// ---------------------------------------------------------------------------

func (r *imageReader) u8() (uint8, error) {
	if r.pos+1 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *imageReader) u16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *imageReader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *imageReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *imageReader) stringAt(idx uint32) (string, error) {
	if idx == noIndex || int(idx) >= len(r.mod.Strings) {
		return "", fmt.Errorf("%w: %d", ErrInvalidStringIndex, idx)
	}
	return r.mod.Strings[idx], nil
}
