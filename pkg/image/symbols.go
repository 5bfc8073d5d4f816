package image

import (
	"fmt"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode holds CBOR encoding options with canonical mode for
// deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Debug symbol sidecar
// ---------------------------------------------------------------------------

// SymbolFile carries the debug information for one module image. An image
// whose header has FlagSymbols set is accompanied by a `.sym` sidecar.
type SymbolFile struct {
	Module  string          `cbor:"1,keyasint"`
	Sources []string        `cbor:"2,keyasint,omitempty"` // source file paths
	Methods []MethodSymbols `cbor:"3,keyasint,omitempty"`
}

// MethodSymbols holds the debug data of one method, keyed by the full class
// name and method name.
type MethodSymbols struct {
	Class  string      `cbor:"1,keyasint"`
	Method string      `cbor:"2,keyasint"`
	Source int         `cbor:"3,keyasint"` // index into SymbolFile.Sources
	Locals []string    `cbor:"4,keyasint,omitempty"`
	Lines  []LineEntry `cbor:"5,keyasint,omitempty"`
}

// LineEntry maps a code offset to its source position.
type LineEntry struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
	Column int `cbor:"3,keyasint"`
}

// SymbolPath returns the sidecar path belonging to an image path.
func SymbolPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, ImageExt) + ".sym"
}

// LoadSymbolFile reads a CBOR symbol sidecar.
func LoadSymbolFile(path string) (*SymbolFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf SymbolFile
	if err := cbor.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("symbols %s: %w", path, err)
	}
	return &sf, nil
}

// WriteFile writes the sidecar to path in one operation. The file is not
// touched if encoding fails.
func (sf *SymbolFile) WriteFile(path string) error {
	data, err := cborEncMode.Marshal(sf)
	if err != nil {
		return fmt.Errorf("symbols %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// FindMethod returns the symbols of one method.
func (sf *SymbolFile) FindMethod(classFull, method string) (*MethodSymbols, bool) {
	for i := range sf.Methods {
		if sf.Methods[i].Class == classFull && sf.Methods[i].Method == method {
			return &sf.Methods[i], true
		}
	}
	return nil, false
}

// RemapOffsets rewrites the line table of one method through an old-to-new
// offset map after its body was edited. Entries whose offset no longer
// exists are dropped.
func (sf *SymbolFile) RemapOffsets(classFull, method string, offsets map[int]int) {
	ms, ok := sf.FindMethod(classFull, method)
	if !ok {
		return
	}
	kept := ms.Lines[:0]
	for _, e := range ms.Lines {
		if n, ok := offsets[e.Offset]; ok {
			e.Offset = n
			kept = append(kept, e)
		}
	}
	ms.Lines = kept
}
