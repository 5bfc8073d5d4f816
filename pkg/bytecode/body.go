package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Decoding errors.
var (
	ErrBadOpcode      = errors.New("unknown opcode")
	ErrTruncatedCode  = errors.New("truncated instruction")
	ErrBadJumpTarget  = errors.New("jump target is not an instruction boundary")
	ErrDanglingJump   = errors.New("jump has no target")
	ErrJumpOutOfRange = errors.New("jump offset exceeds 16-bit range")
)

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one node of a method body. Jump instructions carry their
// destination as a pointer to the target instruction rather than a byte
// offset, so edits elsewhere in the body cannot invalidate them; Assemble
// recomputes the relative offsets.
type Instruction struct {
	Op      Opcode
	Operand int          // immediate operand; unused for jumps and zero-operand opcodes
	Target  *Instruction // destination for jump opcodes

	prev, next *Instruction
	body       *Body
	origOffset int // byte offset in the parsed encoding, -1 if synthesized
}

// NewInstruction creates an unlinked instruction with no original offset.
func NewInstruction(op Opcode, operand int) *Instruction {
	return &Instruction{Op: op, Operand: operand, origOffset: -1}
}

// Next returns the following instruction, or nil at the end of the body.
func (in *Instruction) Next() *Instruction {
	return in.next
}

// Prev returns the preceding instruction, or nil at the start of the body.
func (in *Instruction) Prev() *Instruction {
	return in.prev
}

// ---------------------------------------------------------------------------
// Body: editable instruction list
// ---------------------------------------------------------------------------

// Body is a doubly-linked list of instructions forming one method body.
// The zero value is an empty body.
type Body struct {
	first, last *Instruction
	count       int

	// LocalCount is the number of local variable slots the method declares.
	LocalCount int
}

// First returns the first instruction, or nil if the body is empty.
func (b *Body) First() *Instruction {
	return b.first
}

// Last returns the last instruction, or nil if the body is empty.
func (b *Body) Last() *Instruction {
	return b.last
}

// Len returns the number of instructions.
func (b *Body) Len() int {
	return b.count
}

// Append links in at the end of the body and returns it.
func (b *Body) Append(in *Instruction) *Instruction {
	b.adopt(in)
	in.prev = b.last
	if b.last != nil {
		b.last.next = in
	} else {
		b.first = in
	}
	b.last = in
	b.count++
	return in
}

// InsertBefore links in immediately before at and returns it.
func (b *Body) InsertBefore(at, in *Instruction) *Instruction {
	b.claim(at)
	b.adopt(in)
	in.prev = at.prev
	in.next = at
	if at.prev != nil {
		at.prev.next = in
	} else {
		b.first = in
	}
	at.prev = in
	b.count++
	return in
}

// InsertAfter links in immediately after at and returns it.
func (b *Body) InsertAfter(at, in *Instruction) *Instruction {
	b.claim(at)
	b.adopt(in)
	in.prev = at
	in.next = at.next
	if at.next != nil {
		at.next.prev = in
	} else {
		b.last = in
	}
	at.next = in
	b.count++
	return in
}

// Remove unlinks in from the body. Jumps targeting in are left dangling and
// will fail at Assemble.
func (b *Body) Remove(in *Instruction) {
	b.claim(in)
	if in.prev != nil {
		in.prev.next = in.next
	} else {
		b.first = in.next
	}
	if in.next != nil {
		in.next.prev = in.prev
	} else {
		b.last = in.prev
	}
	in.prev, in.next, in.body = nil, nil, nil
	b.count--
}

func (b *Body) adopt(in *Instruction) {
	if in.body != nil {
		panic("bytecode: instruction is already linked into a body")
	}
	in.body = b
}

func (b *Body) claim(in *Instruction) {
	if in.body != b {
		panic("bytecode: instruction does not belong to this body")
	}
}

// Size returns the encoded size of the body in bytes.
func (b *Body) Size() int {
	size := 0
	for in := b.first; in != nil; in = in.next {
		size += 1 + in.Op.OperandBytes()
	}
	return size
}

// OffsetMap maps the byte offset each parsed instruction had in the original
// encoding to its offset after editing. Synthesized instructions have no
// original offset and do not appear.
func (b *Body) OffsetMap() map[int]int {
	m := make(map[int]int, b.count)
	pos := 0
	for in := b.first; in != nil; in = in.next {
		if in.origOffset >= 0 {
			m[in.origOffset] = pos
		}
		pos += 1 + in.Op.OperandBytes()
	}
	return m
}

// ---------------------------------------------------------------------------
// Parse: flat encoding to instruction list
// ---------------------------------------------------------------------------

// Parse decodes a flat method body into an editable instruction list.
// Jump offsets are resolved to instruction pointers; a jump that lands
// outside the body or inside another instruction's operand is an error.
func Parse(code []byte) (*Body, error) {
	body := &Body{}
	byOffset := make(map[int]*Instruction)

	type fixup struct {
		in     *Instruction
		target int
	}
	var fixups []fixup

	pos := 0
	for pos < len(code) {
		op := Opcode(code[pos])
		if !op.Valid() {
			return nil, fmt.Errorf("%w: 0x%02X at offset %d", ErrBadOpcode, byte(op), pos)
		}
		info := op.Info()
		if pos+1+info.OperandBytes > len(code) {
			return nil, fmt.Errorf("%w: %s at offset %d", ErrTruncatedCode, info.Name, pos)
		}

		in := &Instruction{Op: op, origOffset: pos}
		switch info.OperandBytes {
		case 1:
			in.Operand = int(code[pos+1])
		case 2:
			raw := binary.LittleEndian.Uint16(code[pos+1:])
			if info.Signed {
				in.Operand = int(int16(raw))
			} else {
				in.Operand = int(raw)
			}
		case 4:
			in.Operand = int(int32(binary.LittleEndian.Uint32(code[pos+1:])))
		}
		body.Append(in)
		byOffset[pos] = in

		next := pos + 1 + info.OperandBytes
		if op.IsJump() {
			// Offsets are relative to the end of the jump instruction.
			fixups = append(fixups, fixup{in, next + in.Operand})
			in.Operand = 0
		}
		pos = next
	}

	for _, f := range fixups {
		target, ok := byOffset[f.target]
		if !ok {
			return nil, fmt.Errorf("%w: jump at offset %d to offset %d", ErrBadJumpTarget, f.in.origOffset, f.target)
		}
		f.in.Target = target
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Assemble: instruction list to flat encoding
// ---------------------------------------------------------------------------

// Assemble encodes the body back to flat form, recomputing jump offsets from
// the target pointers.
func (b *Body) Assemble() ([]byte, error) {
	offsets := make(map[*Instruction]int, b.count)
	pos := 0
	for in := b.first; in != nil; in = in.next {
		offsets[in] = pos
		pos += 1 + in.Op.OperandBytes()
	}

	out := make([]byte, 0, pos)
	for in := b.first; in != nil; in = in.next {
		operand := in.Operand
		if in.Op.IsJump() {
			if in.Target == nil {
				return nil, fmt.Errorf("%w: %s at offset %d", ErrDanglingJump, in.Op, offsets[in])
			}
			tpos, ok := offsets[in.Target]
			if !ok {
				return nil, fmt.Errorf("%w: %s at offset %d targets an unlinked instruction", ErrDanglingJump, in.Op, offsets[in])
			}
			operand = tpos - (offsets[in] + 1 + in.Op.OperandBytes())
			if operand < math.MinInt16 || operand > math.MaxInt16 {
				return nil, fmt.Errorf("%w: %s at offset %d (offset %d)", ErrJumpOutOfRange, in.Op, offsets[in], operand)
			}
		}

		out = append(out, byte(in.Op))
		switch in.Op.OperandBytes() {
		case 1:
			out = append(out, byte(operand))
		case 2:
			out = append(out, byte(operand), byte(operand>>8))
		case 4:
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(int32(operand)))
			out = append(out, buf[:]...)
		}
	}
	return out, nil
}
