// Package bytecode models the instruction encoding of compiled Weft method
// bodies. A body is held as an editable doubly-linked instruction list so
// tools can splice instructions into existing code without disturbing branch
// structure; Parse and Assemble convert between the list form and the flat
// byte encoding stored in a module image.
package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single Weft instruction.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpPushNil    Opcode = 0x10 // push nil
	OpPushTrue   Opcode = 0x11 // push true
	OpPushFalse  Opcode = 0x12 // push false
	OpPushSelf   Opcode = 0x13 // push the receiver
	OpPushInt    Opcode = 0x14 // push 32-bit signed integer
	OpPushString Opcode = 0x15 // push string constant (16-bit string pool index)
)

// Variable Operations
const (
	OpPushParam   Opcode = 0x20 // push parameter (8-bit index)
	OpPushLocal   Opcode = 0x21 // push local variable (8-bit index)
	OpStoreLocal  Opcode = 0x22 // pop into local variable (8-bit index)
	OpPushField   Opcode = 0x23 // push field of self (16-bit index)
	OpStoreField  Opcode = 0x24 // pop into field of self (16-bit index)
	OpPushGlobal  Opcode = 0x25 // push global (16-bit string pool index)
	OpStoreGlobal Opcode = 0x26 // pop into global (16-bit string pool index)
)

// Calls
const (
	OpCall     Opcode = 0x30 // call method (16-bit method ref index), push result
	OpCallVoid Opcode = 0x31 // call method (16-bit method ref index), discard result
)

// Control Flow
const (
	OpJump      Opcode = 0x40 // unconditional jump (16-bit signed offset)
	OpJumpTrue  Opcode = 0x41 // pop, jump if true (16-bit signed offset)
	OpJumpFalse Opcode = 0x42 // pop, jump if false (16-bit signed offset)
)

// Returns
const (
	OpReturn     Opcode = 0x50 // return top of stack
	OpReturnVoid Opcode = 0x51 // return with no value
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	Signed       bool   // operand is sign-extended (jump offsets, PUSH_INT)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	// Stack operations
	OpNop: {"NOP", 0, false},
	OpPop: {"POP", 0, false},
	OpDup: {"DUP", 0, false},

	// Push constants
	OpPushNil:    {"PUSH_NIL", 0, false},
	OpPushTrue:   {"PUSH_TRUE", 0, false},
	OpPushFalse:  {"PUSH_FALSE", 0, false},
	OpPushSelf:   {"PUSH_SELF", 0, false},
	OpPushInt:    {"PUSH_INT", 4, true},
	OpPushString: {"PUSH_STRING", 2, false},

	// Variables
	OpPushParam:   {"PUSH_PARAM", 1, false},
	OpPushLocal:   {"PUSH_LOCAL", 1, false},
	OpStoreLocal:  {"STORE_LOCAL", 1, false},
	OpPushField:   {"PUSH_FIELD", 2, false},
	OpStoreField:  {"STORE_FIELD", 2, false},
	OpPushGlobal:  {"PUSH_GLOBAL", 2, false},
	OpStoreGlobal: {"STORE_GLOBAL", 2, false},

	// Calls
	OpCall:     {"CALL", 2, false},
	OpCallVoid: {"CALL_VOID", 2, false},

	// Control flow
	OpJump:      {"JUMP", 2, true},
	OpJumpTrue:  {"JUMP_TRUE", 2, true},
	OpJumpFalse: {"JUMP_FALSE", 2, true},

	// Returns
	OpReturn:     {"RETURN", 0, false},
	OpReturnVoid: {"RETURN_VOID", 0, false},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// Valid reports whether the opcode is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// IsJump reports whether the opcode transfers control via a relative offset.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpTrue || op == OpJumpFalse
}

// IsReturn reports whether the opcode ends the enclosing activation.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnVoid
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}
