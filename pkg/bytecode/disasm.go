package bytecode

import (
	"fmt"
	"strings"
)

// Symbols resolves operand indexes to names for disassembly listings.
// The owning module implements this; a nil Symbols produces bare indexes.
type Symbols interface {
	// StringAt returns the string pool entry at idx.
	StringAt(idx int) (string, bool)
	// MethodRefAt returns a display name for the method ref at idx.
	MethodRefAt(idx int) (string, bool)
}

// Disassemble returns a human-readable listing of the body. Offsets reflect
// the current encoding, so a listing taken after edits shows the layout
// Assemble would produce.
func (b *Body) Disassemble(syms Symbols) string {
	offsets := make(map[*Instruction]int, b.count)
	pos := 0
	for in := b.first; in != nil; in = in.next {
		offsets[in] = pos
		pos += 1 + in.Op.OperandBytes()
	}

	var sb strings.Builder
	for in := b.first; in != nil; in = in.next {
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offsets[in], formatInstruction(in, offsets, syms)))
	}
	return sb.String()
}

func formatInstruction(in *Instruction, offsets map[*Instruction]int, syms Symbols) string {
	name := in.Op.Name()

	switch {
	case in.Op.IsJump():
		if in.Target == nil {
			return name + " <dangling>"
		}
		delta := offsets[in.Target] - (offsets[in] + 1 + in.Op.OperandBytes())
		return fmt.Sprintf("%s %+d (-> %04X)", name, delta, offsets[in.Target])

	case in.Op == OpPushString || in.Op == OpPushGlobal || in.Op == OpStoreGlobal:
		if syms != nil {
			if s, ok := syms.StringAt(in.Operand); ok {
				return fmt.Sprintf("%s %d ; %q", name, in.Operand, clip(s))
			}
		}

	case in.Op == OpCall || in.Op == OpCallVoid:
		if syms != nil {
			if ref, ok := syms.MethodRefAt(in.Operand); ok {
				return fmt.Sprintf("%s %d ; %s", name, in.Operand, ref)
			}
		}
	}

	if in.Op.OperandBytes() == 0 {
		return name
	}
	return fmt.Sprintf("%s %d", name, in.Operand)
}

// clip truncates long strings for listing readability.
func clip(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}
