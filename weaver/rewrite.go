package weaver

import (
	"fmt"

	"github.com/weftlang/loom/pkg/bytecode"
	"github.com/weftlang/loom/pkg/image"
)

// maxOperand is the largest value a 16-bit instruction operand can carry.
const maxOperand = 0xFFFF

// weaveSetter splices the notification calls into a setter body, in place.
// One nop landmark goes in front of the original return, then one block per
// name, each ending in its own landmark:
//
//	[original pre-return body][nop][block 1]...[block N][original return]
//
// where a block is push-self, push the name (or nil for the wildcard), call
// the target discarding the result, nop. Repeated names get repeated blocks;
// nothing is deduplicated, so weaving an already woven setter doubles the
// calls.
func weaveSetter(mod *image.Module, setter *image.Method, targetIdx int, names []Name) error {
	if targetIdx > maxOperand {
		return fmt.Errorf("method ref %d exceeds the call operand range", targetIdx)
	}

	body := setter.Body
	ret := body.Last()

	body.InsertBefore(ret, bytecode.NewInstruction(bytecode.OpNop, 0))
	for _, n := range names {
		body.InsertBefore(ret, bytecode.NewInstruction(bytecode.OpPushSelf, 0))
		if n.Null {
			body.InsertBefore(ret, bytecode.NewInstruction(bytecode.OpPushNil, 0))
		} else {
			idx := mod.InternString(n.Value)
			if idx > maxOperand {
				return fmt.Errorf("string pool index %d for %q exceeds the push operand range", idx, n.Value)
			}
			body.InsertBefore(ret, bytecode.NewInstruction(bytecode.OpPushString, idx))
		}
		body.InsertBefore(ret, bytecode.NewInstruction(bytecode.OpCallVoid, targetIdx))
		body.InsertBefore(ret, bytecode.NewInstruction(bytecode.OpNop, 0))
	}
	return nil
}
