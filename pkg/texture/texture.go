// Package texture holds decoded texture images and reads and writes them as
// DDS files.
//
// An Image is an ordered mip chain (index 0 is the largest) sharing one pixel
// format. Block-compressed mips are stored at their storage dimensions, each
// axis rounded up to a multiple of 4 and never below 4; the declared
// dimensions are kept alongside.
package texture

import (
	"errors"
	"fmt"

	"github.com/goopsie/texturepatcher/pkg/blocks"
	"github.com/goopsie/texturepatcher/pkg/pixel"
)

// DXGI_FORMAT values understood in the DX10 header extension.
const (
	DXGI_FORMAT_UNKNOWN             = 0
	DXGI_FORMAT_R16G16B16A16_UNORM  = 11
	DXGI_FORMAT_R10G10B10A2_UNORM   = 24
	DXGI_FORMAT_R8G8B8A8_UNORM      = 28
	DXGI_FORMAT_R8G8B8A8_UNORM_SRGB = 29
	DXGI_FORMAT_BC1_UNORM           = 71
	DXGI_FORMAT_BC1_UNORM_SRGB      = 72
	DXGI_FORMAT_BC2_UNORM           = 74
	DXGI_FORMAT_BC2_UNORM_SRGB      = 75
	DXGI_FORMAT_BC3_UNORM           = 77
	DXGI_FORMAT_BC3_UNORM_SRGB      = 78
	DXGI_FORMAT_BC4_UNORM           = 80
	DXGI_FORMAT_BC4_SNORM           = 81
	DXGI_FORMAT_BC5_UNORM           = 83
	DXGI_FORMAT_BC5_SNORM           = 84
	DXGI_FORMAT_B8G8R8A8_UNORM      = 87
	DXGI_FORMAT_BC6H_UF16           = 95
	DXGI_FORMAT_BC6H_SF16           = 96
	DXGI_FORMAT_BC7_UNORM           = 98
	DXGI_FORMAT_BC7_UNORM_SRGB      = 99
)

// FormatName returns a human-readable name for a DXGI_FORMAT value.
func FormatName(format uint32) string {
	switch format {
	case DXGI_FORMAT_R16G16B16A16_UNORM:
		return "R16G16B16A16_UNORM"
	case DXGI_FORMAT_R10G10B10A2_UNORM:
		return "R10G10B10A2_UNORM"
	case DXGI_FORMAT_R8G8B8A8_UNORM:
		return "R8G8B8A8_UNORM"
	case DXGI_FORMAT_R8G8B8A8_UNORM_SRGB:
		return "R8G8B8A8_UNORM_SRGB"
	case DXGI_FORMAT_BC1_UNORM:
		return "BC1_UNORM"
	case DXGI_FORMAT_BC1_UNORM_SRGB:
		return "BC1_UNORM_SRGB"
	case DXGI_FORMAT_BC2_UNORM:
		return "BC2_UNORM"
	case DXGI_FORMAT_BC2_UNORM_SRGB:
		return "BC2_UNORM_SRGB"
	case DXGI_FORMAT_BC3_UNORM:
		return "BC3_UNORM"
	case DXGI_FORMAT_BC3_UNORM_SRGB:
		return "BC3_UNORM_SRGB"
	case DXGI_FORMAT_BC4_UNORM:
		return "BC4_UNORM"
	case DXGI_FORMAT_BC4_SNORM:
		return "BC4_SNORM"
	case DXGI_FORMAT_BC5_UNORM:
		return "BC5_UNORM"
	case DXGI_FORMAT_BC5_SNORM:
		return "BC5_SNORM"
	case DXGI_FORMAT_B8G8R8A8_UNORM:
		return "B8G8R8A8_UNORM"
	case DXGI_FORMAT_BC6H_UF16:
		return "BC6H_UF16"
	case DXGI_FORMAT_BC6H_SF16:
		return "BC6H_SF16"
	case DXGI_FORMAT_BC7_UNORM:
		return "BC7_UNORM"
	case DXGI_FORMAT_BC7_UNORM_SRGB:
		return "BC7_UNORM_SRGB"
	default:
		return fmt.Sprintf("UNKNOWN(0x%x)", format)
	}
}

var (
	// ErrMalformedHeader indicates a container header that fails validation.
	ErrMalformedHeader = errors.New("malformed DDS header")
	// ErrUnsupportedPixelFormat indicates a pixel format descriptor with no
	// matching Format.
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")
	// ErrUnsupportedDX10Layout indicates a DX10 extension describing
	// something other than a single opaque or unknown-alpha 2D texture.
	ErrUnsupportedDX10Layout = errors.New("unsupported DX10 layout")
	// ErrDimensions indicates non power-of-two picture dimensions.
	ErrDimensions = errors.New("dimensions are not powers of two")
	// ErrNoMips indicates an image without mips.
	ErrNoMips = errors.New("image has no mips")
)

// MipMap is one plane of an image.
type MipMap struct {
	Width, Height         int // storage
	OrigWidth, OrigHeight int // declared
	Format                pixel.Format
	Data                  []byte
}

// NewMipMap describes data as a plane of the given declared dimensions.
func NewMipMap(data []byte, width, height int, format pixel.Format) *MipMap {
	sw, sh := pixel.StorageDims(width, height, format)
	return &MipMap{
		Width:      sw,
		Height:     sh,
		OrigWidth:  width,
		OrigHeight: height,
		Format:     format,
		Data:       data,
	}
}

// Size returns the expected payload length for the mip.
func (m *MipMap) Size() int {
	return pixel.BufferSize(m.Width, m.Height, m.Format)
}

// ARGB returns the mip as an ARGB plane at its declared dimensions.
func (m *MipMap) ARGB(e *blocks.Engine) ([]byte, error) {
	if !m.Format.IsBlockCompressed() {
		return pixel.ToARGB(m.Data, m.OrigWidth, m.OrigHeight, m.Format)
	}
	full, err := e.Decompress(m.Data, m.Width, m.Height, m.Format)
	if err != nil {
		return nil, err
	}
	if m.Width == m.OrigWidth && m.Height == m.OrigHeight {
		return full, nil
	}
	return pixel.Resize(full, m.Width, m.Height, m.OrigWidth, m.OrigHeight), nil
}

// MipFromARGB encodes an ARGB plane of the given declared dimensions into
// format, padding block formats to their storage dimensions.
func MipFromARGB(e *blocks.Engine, argb []byte, width, height int, format pixel.Format) (*MipMap, error) {
	m := NewMipMap(nil, width, height, format)
	if !format.IsBlockCompressed() {
		data, err := pixel.FromARGB(argb, width, height, format)
		if err != nil {
			return nil, err
		}
		m.Data = data
		return m, nil
	}
	if m.Width != width || m.Height != height {
		argb = pixel.Resize(argb, width, height, m.Width, m.Height)
	}
	data, err := e.Compress(argb, m.Width, m.Height, format)
	if err != nil {
		return nil, err
	}
	m.Data = data
	return m, nil
}

// Image is a mip chain in one pixel format.
type Image struct {
	Format           pixel.Format
	Mips             []*MipMap
	ExplicitMipCount bool
}

// Width returns the declared width of the top mip.
func (img *Image) Width() int {
	if len(img.Mips) == 0 {
		return 0
	}
	return img.Mips[0].OrigWidth
}

// Height returns the declared height of the top mip.
func (img *Image) Height() int {
	if len(img.Mips) == 0 {
		return 0
	}
	return img.Mips[0].OrigHeight
}

// Convert returns a copy of img with every mip re-encoded in format. The
// receiver is not modified.
func (img *Image) Convert(e *blocks.Engine, format pixel.Format) (*Image, error) {
	out := &Image{Format: format, ExplicitMipCount: img.ExplicitMipCount}
	for i, m := range img.Mips {
		if m.Format == format {
			dup := *m
			dup.Data = append([]byte(nil), m.Data...)
			out.Mips = append(out.Mips, &dup)
			continue
		}
		argb, err := m.ARGB(e)
		if err != nil {
			return nil, fmt.Errorf("mip %d: %w", i, err)
		}
		conv, err := MipFromARGB(e, argb, m.OrigWidth, m.OrigHeight, format)
		if err != nil {
			return nil, fmt.Errorf("mip %d: %w", i, err)
		}
		out.Mips = append(out.Mips, conv)
	}
	return out, nil
}

// Validate checks that every mip halves the previous one, allowing block
// format mips to repeat at the 4x4 floor, and that payload sizes match.
func (img *Image) Validate() error {
	if len(img.Mips) == 0 {
		return ErrNoMips
	}
	for i, m := range img.Mips {
		if m.Format != img.Format {
			return fmt.Errorf("mip %d: format %s differs from image format %s", i, m.Format, img.Format)
		}
		if len(m.Data) != m.Size() {
			return fmt.Errorf("mip %d: payload %d bytes, want %d", i, len(m.Data), m.Size())
		}
		if i == 0 {
			continue
		}
		prev := img.Mips[i-1]
		ww, wh := pixel.StorageDims(max(prev.OrigWidth/2, 1), max(prev.OrigHeight/2, 1), img.Format)
		if m.Width != ww || m.Height != wh {
			return fmt.Errorf("mip %d: storage %dx%d, want %dx%d", i, m.Width, m.Height, ww, wh)
		}
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
