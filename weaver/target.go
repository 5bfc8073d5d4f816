package weaver

import (
	"fmt"

	"github.com/weftlang/loom/pkg/image"
)

// target is a resolved notification callback together with the class and
// module that declare it.
type target struct {
	method *image.Method
	class  *image.Class
	module *image.Module
}

// String implements the Stringer interface.
func (t target) String() string {
	return fmt.Sprintf("%s::%s.%s", t.module.Name, t.class.FullName(), t.method.Name)
}

// resolveTarget finds the notification callback for a notifier class:
// depth-first toward the inheritance root, nearest declaration wins, no
// merging across levels. The shape of a marked method is validated where it
// is found, so an ill-shaped target nearby is fatal even if a valid one
// exists further up the chain.
func (w *Weaver) resolveTarget(mod *image.Module, c *image.Class) (target, error) {
	cls, cur := c, mod
	seen := make(map[*image.Class]bool)

	for cls != nil {
		if seen[cls] {
			return target{}, fmt.Errorf("inheritance cycle at class %s in module %s", cls.FullName(), cur.Name)
		}
		seen[cls] = true

		for _, m := range cls.Methods {
			if !m.Annotations.Has(MarkerNotifyTarget) {
				continue
			}
			if m.Arity() != 1 || !image.IsStringRef(m.Params[0].Type) {
				return target{}, fmt.Errorf("%w: %s.%s", ErrBadTargetShape, cls.FullName(), m.Name)
			}
			log.Debugf("class %s: notify target %s.%s", c.FullName(), cls.FullName(), m.Name)
			return target{method: m, class: cls, module: cur}, nil
		}

		if cls.Super == nil {
			break
		}
		next, nextMod, err := w.resolver.ResolveClass(cur, *cls.Super)
		if err != nil {
			return target{}, fmt.Errorf("resolve base of %s: %w", cls.FullName(), err)
		}
		cls, cur = next, nextMod
	}
	return target{}, fmt.Errorf("%w: class %s", ErrNoNotifyTarget, c.FullName())
}

// importTarget returns the method ref index addressing tgt from mod. A
// target declared in another module becomes a cross-module reference.
func importTarget(mod *image.Module, tgt target) int {
	ref := image.MethodRef{
		Class: tgt.class.FullName(),
		Name:  tgt.method.Name,
		Arity: tgt.method.Arity(),
	}
	if tgt.module != mod {
		ref.Module = tgt.module.Name
	}
	return mod.ImportMethod(ref)
}
