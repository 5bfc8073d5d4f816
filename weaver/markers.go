package weaver

import (
	"fmt"

	"github.com/weftlang/loom/pkg/image"
)

// Marker names recognized in image metadata. The Weft compiler lowers the
// source-level notify attributes to these annotations.
const (
	// MarkerNotifier opts a class into setter weaving. An optional mode
	// argument selects explicit or implicit property handling.
	MarkerNotifier = "notifier"

	// MarkerNotifyTarget names the callback method on a notifier class or
	// one of its ancestors. The method must take exactly one string.
	MarkerNotifyTarget = "notifyTarget"

	// MarkerNotify attaches a notification name list to a property. No
	// argument means the property's own name; a null argument means the
	// wildcard notification.
	MarkerNotify = "notify"

	// MarkerSuppress excludes a property from weaving regardless of any
	// other marker.
	MarkerSuppress = "suppressNotify"
)

// Mode selects how properties without a notify marker are treated.
type Mode uint8

const (
	// Explicit weaves only properties carrying a notify marker.
	Explicit Mode = iota

	// Implicit additionally weaves every property with a public setter,
	// notifying the property's own name.
	Implicit
)

// String implements the Stringer interface.
func (m Mode) String() string {
	if m == Implicit {
		return "implicit"
	}
	return "explicit"
}

// notifierMode reads the notifier marker of a class. The second return is
// false when the class carries no marker.
func notifierMode(c *image.Class) (Mode, bool, error) {
	a, ok := c.Annotations.Get(MarkerNotifier)
	if !ok {
		return Explicit, false, nil
	}
	if len(a.Args) == 0 {
		return Explicit, true, nil
	}
	if len(a.Args) > 1 {
		return Explicit, false, fmt.Errorf("%w: notifier on class %s has %d arguments", ErrBadMarker, c.FullName(), len(a.Args))
	}

	arg := a.Args[0]
	if arg.Kind != image.KindSymbol && arg.Kind != image.KindString {
		return Explicit, false, fmt.Errorf("%w: notifier mode on class %s is a %s", ErrBadMarker, c.FullName(), arg.Kind)
	}
	switch arg.Str {
	case "explicit":
		return Explicit, true, nil
	case "implicit":
		return Implicit, true, nil
	}
	return Explicit, false, fmt.Errorf("%w: notifier mode %q on class %s", ErrBadMarker, arg.Str, c.FullName())
}
