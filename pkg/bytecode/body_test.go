package bytecode

import (
	"bytes"
	"errors"
	"testing"
)

// opcodes collects the opcode sequence of a body for order assertions.
func opcodes(b *Body) []Opcode {
	var ops []Opcode
	for in := b.First(); in != nil; in = in.Next() {
		ops = append(ops, in.Op)
	}
	return ops
}

func TestParseRoundTrip(t *testing.T) {
	code := []byte{
		byte(OpPushParam), 0,
		byte(OpStoreField), 2, 0,
		byte(OpPushInt), 42, 0, 0, 0,
		byte(OpPop),
		byte(OpReturnVoid),
	}

	body, err := Parse(code)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if body.Len() != 5 {
		t.Fatalf("Len = %d, want 5", body.Len())
	}

	out, err := body.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !bytes.Equal(out, code) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", out, code)
	}
}

func TestParseDecodesOperands(t *testing.T) {
	code := []byte{
		byte(OpPushString), 0x34, 0x12, // 0x1234 little-endian
		byte(OpPushInt), 0xFE, 0xFF, 0xFF, 0xFF, // -2
		byte(OpReturn),
	}

	body, err := Parse(code)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	first := body.First()
	if first.Operand != 0x1234 {
		t.Errorf("PUSH_STRING operand = %d, want %d", first.Operand, 0x1234)
	}
	if got := first.Next().Operand; got != -2 {
		t.Errorf("PUSH_INT operand = %d, want -2", got)
	}
}

func TestParseResolvesJumpTargets(t *testing.T) {
	// 0000 JUMP_FALSE +1 (-> 0004)
	// 0003 POP
	// 0004 RETURN_VOID
	code := []byte{
		byte(OpJumpFalse), 1, 0,
		byte(OpPop),
		byte(OpReturnVoid),
	}

	body, err := Parse(code)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	jump := body.First()
	if jump.Target == nil {
		t.Fatal("jump target not resolved")
	}
	if jump.Target != body.Last() {
		t.Errorf("jump targets %s, want RETURN_VOID", jump.Target.Op)
	}
}

func TestParseBackwardJump(t *testing.T) {
	// 0000 NOP
	// 0001 JUMP -4 (-> 0000)
	code := []byte{
		byte(OpNop),
		byte(OpJump), 0xFC, 0xFF,
	}

	body, err := Parse(code)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if body.Last().Target != body.First() {
		t.Error("backward jump does not target the first instruction")
	}

	out, err := body.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !bytes.Equal(out, code) {
		t.Errorf("round trip mismatch: got %v, want %v", out, code)
	}
}

func TestParseUnknownOpcode(t *testing.T) {
	_, err := Parse([]byte{0xEE})
	if !errors.Is(err, ErrBadOpcode) {
		t.Errorf("err = %v, want ErrBadOpcode", err)
	}
}

func TestParseTruncatedOperand(t *testing.T) {
	_, err := Parse([]byte{byte(OpPushString), 1})
	if !errors.Is(err, ErrTruncatedCode) {
		t.Errorf("err = %v, want ErrTruncatedCode", err)
	}
}

func TestParseJumpIntoOperand(t *testing.T) {
	// Jump lands inside the PUSH_STRING operand bytes.
	code := []byte{
		byte(OpJump), 1, 0,
		byte(OpPushString), 0, 0,
		byte(OpReturnVoid),
	}
	_, err := Parse(code)
	if !errors.Is(err, ErrBadJumpTarget) {
		t.Errorf("err = %v, want ErrBadJumpTarget", err)
	}
}

func TestParseJumpPastEnd(t *testing.T) {
	code := []byte{
		byte(OpJump), 5, 0,
		byte(OpReturnVoid),
	}
	_, err := Parse(code)
	if !errors.Is(err, ErrBadJumpTarget) {
		t.Errorf("err = %v, want ErrBadJumpTarget", err)
	}
}

func TestInsertBeforeLast(t *testing.T) {
	body := &Body{}
	body.Append(NewInstruction(OpPushParam, 0))
	body.Append(NewInstruction(OpStoreField, 1))
	ret := body.Append(NewInstruction(OpReturnVoid, 0))

	body.InsertBefore(ret, NewInstruction(OpNop, 0))

	want := []Opcode{OpPushParam, OpStoreField, OpNop, OpReturnVoid}
	got := opcodes(body)
	if len(got) != len(want) {
		t.Fatalf("Len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestInsertBeforeFirst(t *testing.T) {
	body := &Body{}
	ret := body.Append(NewInstruction(OpReturnVoid, 0))

	body.InsertBefore(ret, NewInstruction(OpNop, 0))

	if body.First().Op != OpNop {
		t.Errorf("First = %s, want NOP", body.First().Op)
	}
	if body.Last().Op != OpReturnVoid {
		t.Errorf("Last = %s, want RETURN_VOID", body.Last().Op)
	}
}

func TestRemove(t *testing.T) {
	body := &Body{}
	a := body.Append(NewInstruction(OpNop, 0))
	b := body.Append(NewInstruction(OpPop, 0))
	c := body.Append(NewInstruction(OpReturnVoid, 0))

	body.Remove(b)

	if body.Len() != 2 {
		t.Fatalf("Len = %d, want 2", body.Len())
	}
	if a.Next() != c || c.Prev() != a {
		t.Error("links not spliced after remove")
	}
}

func TestInsertionPreservesJumpToReturn(t *testing.T) {
	// A conditional jump straight to the final return. Splicing new
	// instructions in front of the return must stretch the jump with it.
	code := []byte{
		byte(OpPushParam), 0,
		byte(OpJumpFalse), 3, 0, // -> 0008 RETURN_VOID
		byte(OpPushParam), 0,
		byte(OpPop),
		byte(OpReturnVoid),
	}
	body, err := Parse(code)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ret := body.Last()
	body.InsertBefore(ret, NewInstruction(OpPushSelf, 0))
	body.InsertBefore(ret, NewInstruction(OpCallVoid, 7))

	out, err := body.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	var jump *Instruction
	for in := reparsed.First(); in != nil; in = in.Next() {
		if in.Op == OpJumpFalse {
			jump = in
		}
	}
	if jump == nil {
		t.Fatal("no JUMP_FALSE after round trip")
	}
	if jump.Target == nil || jump.Target.Op != OpReturnVoid {
		t.Errorf("jump no longer targets the return after insertion")
	}
}

func TestOffsetMap(t *testing.T) {
	code := []byte{
		byte(OpPushParam), 0, // 0000
		byte(OpStoreField), 1, 0, // 0002
		byte(OpReturnVoid), // 0005
	}
	body, err := Parse(code)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	body.InsertBefore(body.Last(), NewInstruction(OpNop, 0))
	body.InsertBefore(body.Last(), NewInstruction(OpPushSelf, 0))

	m := body.OffsetMap()
	if m[0] != 0 {
		t.Errorf("offset 0 moved to %d, want 0", m[0])
	}
	if m[2] != 2 {
		t.Errorf("offset 2 moved to %d, want 2", m[2])
	}
	if m[5] != 7 {
		t.Errorf("offset 5 moved to %d, want 7", m[5])
	}
	if len(m) != 3 {
		t.Errorf("map has %d entries, want 3 (synthesized instructions excluded)", len(m))
	}
}

func TestAssembleDanglingJump(t *testing.T) {
	body := &Body{}
	body.Append(NewInstruction(OpJump, 0))
	body.Append(NewInstruction(OpReturnVoid, 0))

	_, err := body.Assemble()
	if !errors.Is(err, ErrDanglingJump) {
		t.Errorf("err = %v, want ErrDanglingJump", err)
	}
}

func TestAssembleRemovedTarget(t *testing.T) {
	body := &Body{}
	jump := body.Append(NewInstruction(OpJump, 0))
	nop := body.Append(NewInstruction(OpNop, 0))
	body.Append(NewInstruction(OpReturnVoid, 0))
	jump.Target = nop
	body.Remove(nop)

	_, err := body.Assemble()
	if !errors.Is(err, ErrDanglingJump) {
		t.Errorf("err = %v, want ErrDanglingJump", err)
	}
}

func TestAssembleJumpOutOfRange(t *testing.T) {
	body := &Body{}
	jump := body.Append(NewInstruction(OpJump, 0))
	// Push the target out past the reach of a 16-bit offset.
	for i := 0; i < 7000; i++ {
		body.Append(NewInstruction(OpPushInt, i))
	}
	target := body.Append(NewInstruction(OpReturnVoid, 0))
	jump.Target = target

	_, err := body.Assemble()
	if !errors.Is(err, ErrJumpOutOfRange) {
		t.Errorf("err = %v, want ErrJumpOutOfRange", err)
	}
}

func TestEmptyBody(t *testing.T) {
	body, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if body.Len() != 0 || body.First() != nil || body.Last() != nil {
		t.Error("parsing no code should yield an empty body")
	}
	out, err := body.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("assembled %d bytes from empty body", len(out))
	}
}

func TestBodySize(t *testing.T) {
	body := &Body{}
	body.Append(NewInstruction(OpPushString, 3)) // 3 bytes
	body.Append(NewInstruction(OpPushInt, 9))    // 5 bytes
	body.Append(NewInstruction(OpReturn, 0))     // 1 byte

	if got := body.Size(); got != 9 {
		t.Errorf("Size = %d, want 9", got)
	}
}
