package weaver

import (
	"fmt"

	"github.com/weftlang/loom/pkg/image"
)

// Name is one logical property name to notify. Null marks the wildcard
// sentinel passed through to the callback unchanged, telling observers that
// everything may have changed.
type Name struct {
	Value string
	Null  bool
}

// notificationNames materializes the ordered notification list of a
// property from its notify marker:
//
//	no marker            -> nil
//	marker, no argument  -> the property's own name
//	marker, null         -> the wildcard sentinel
//	marker, empty list   -> the property's own name
//	marker, list         -> every element in order, duplicates kept
//
// The suppress marker and the implicit-mode default are the scanner's
// business, not handled here.
func notificationNames(c *image.Class, prop *image.Property) ([]Name, error) {
	a, ok := prop.Annotations.Get(MarkerNotify)
	if !ok {
		return nil, nil
	}
	if len(a.Args) == 0 {
		return []Name{{Value: prop.Name}}, nil
	}
	if len(a.Args) > 1 {
		return nil, fmt.Errorf("%w: notify on property %s of %s has %d arguments", ErrBadMarker, prop.Name, c.FullName(), len(a.Args))
	}

	switch arg := a.Args[0]; arg.Kind {
	case image.KindNull:
		return []Name{{Null: true}}, nil
	case image.KindList:
		if len(arg.List) == 0 {
			return []Name{{Value: prop.Name}}, nil
		}
		names := make([]Name, 0, len(arg.List))
		for _, v := range arg.List {
			names = append(names, Name{Value: v})
		}
		return names, nil
	default:
		return nil, fmt.Errorf("%w: notify on property %s of %s has a %s argument", ErrBadMarker, prop.Name, c.FullName(), arg.Kind)
	}
}
