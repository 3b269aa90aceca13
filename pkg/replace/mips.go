package replace

import (
	"fmt"

	"github.com/goopsie/texturepatcher/pkg/blocks"
	"github.com/goopsie/texturepatcher/pkg/hosttexture"
	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/texture"
)

// Job is one replacement: the fingerprint of the game texture and the
// asset that replaces every copy of it.
type Job struct {
	Name string
	CRC  uint32
	// Path is loaded on first use when Image is nil.
	Path  string
	Image *texture.Image
}

func (j *Job) load() (*texture.Image, error) {
	if j.Image != nil {
		return j.Image, nil
	}
	img, err := texture.LoadFile(j.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	j.Image = img
	return img, nil
}

// hostShape is what the mip pipeline needs to know about the game texture.
type hostShape struct {
	width, height int
	mips          int
	// tiny is set when the game stores mips below 4x4 in both axes.
	tiny bool
}

func shapeOf(tex *hosttexture.Texture) hostShape {
	s := hostShape{width: tex.Width(), height: tex.Height(), mips: len(tex.Mips)}
	if n := len(tex.Mips); n > 0 {
		last := tex.Mips[n-1]
		s.tiny = last.Width < 4 && last.Height < 4
	}
	return s
}

// checkAspect rejects assets whose aspect ratio differs from the game's.
func checkAspect(img *texture.Image, host hostShape) error {
	if img.Width()*host.height != img.Height()*host.width {
		return fmt.Errorf("%w: %w: asset %dx%d, game %dx%d",
			ErrMalformedInput, ErrAspectRatio, img.Width(), img.Height(), host.width, host.height)
	}
	return nil
}

// buildMipSet turns an asset into the mip chain the game texture stores:
// matched to the game's mip count, encoded in format, with sub-block mips
// dropped for block formats unless the game keeps them too. A chain shorter
// than the game's is rebuilt from its top mip; a longer one is cut.
func buildMipSet(e *blocks.Engine, img *texture.Image, format pixel.Format, host hostShape) (*MipSet, error) {
	if len(img.Mips) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, ErrNoMips)
	}

	switch {
	case host.mips == 1 && len(img.Mips) > 1:
		img = &texture.Image{Format: img.Format, Mips: img.Mips[:1]}
	case host.mips > 1 && len(img.Mips) < host.mips:
		// Partial chains are regenerated from the top mip.
		chain, err := img.WithMipChain(e)
		if err != nil {
			return nil, fmt.Errorf("%w: synthesize mips: %w", ErrMalformedInput, err)
		}
		img = chain
	}

	conv, err := img.Convert(e, format)
	if err != nil {
		return nil, fmt.Errorf("%w: convert to %s: %w", ErrMalformedInput, format, err)
	}

	mips := conv.Mips
	if format.IsBlockCompressed() && !host.tiny {
		kept := mips[:0:0]
		for _, m := range mips {
			if m.OrigWidth < 4 && m.OrigHeight < 4 {
				continue
			}
			kept = append(kept, m)
		}
		mips = kept
	}
	if host.mips > 0 && len(mips) > host.mips {
		mips = mips[:host.mips]
	}
	if len(mips) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, ErrNoMips)
	}
	return newMipSet(format, mips), nil
}
