package replace

import (
	"errors"

	"github.com/goopsie/texturepatcher/pkg/tfc"
)

var (
	// ErrMalformedInput wraps every problem with a replacement asset.
	ErrMalformedInput = errors.New("malformed input")
	// ErrAspectRatio indicates an asset whose aspect ratio differs from the
	// texture it replaces.
	ErrAspectRatio = errors.New("aspect ratio differs from game texture")
	// ErrNoMips indicates an asset left without mips after pruning.
	ErrNoMips = errors.New("no mips left")
	// ErrBrokenObject indicates a texture export that cannot be read.
	ErrBrokenObject = errors.New("broken archive object")
	// ErrNotInMap indicates a job whose fingerprint is not in the texture map.
	ErrNotInMap = errors.New("texture not found in map")
	// ErrInvariant indicates a broken internal invariant. It stops the batch.
	ErrInvariant = errors.New("invariant violation")
)

// IsFatal reports whether err must stop the whole batch rather than skip
// one texture.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant) ||
		errors.Is(err, tfc.ErrExhausted) ||
		errors.Is(err, tfc.ErrForeignFile)
}
