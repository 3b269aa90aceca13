package pixel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotRaw indicates a block-compressed format was passed to a raw converter.
	ErrNotRaw = errors.New("format is not a raw pixel format")
	// ErrPlaneSize indicates the plane length does not match its dimensions.
	ErrPlaneSize = errors.New("plane size mismatch")
)

// ToARGB converts a raw plane in format f to ARGB.
func ToARGB(src []byte, width, height int, f Format) ([]byte, error) {
	if f.IsBlockCompressed() || f.PixelBytes() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotRaw, f)
	}
	if want := BufferSize(width, height, f); len(src) != want {
		return nil, fmt.Errorf("%w: %s %dx%d: expected %d, got %d", ErrPlaneSize, f, width, height, want, len(src))
	}

	n := width * height
	dst := make([]byte, n*4)
	switch f {
	case FormatARGB:
		copy(dst, src)
	case FormatRGBA:
		for i := 0; i < n; i++ {
			s, d := src[i*4:], dst[i*4:]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		}
	case FormatRGB:
		for i := 0; i < n; i++ {
			s, d := src[i*3:], dst[i*4:]
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 255
		}
	case FormatV8U8:
		for i := 0; i < n; i++ {
			s, d := src[i*2:], dst[i*4:]
			// Signed components biased back into unsigned range.
			d[0] = 255
			d[1] = s[1] + 128
			d[2] = s[0] + 128
			d[3] = 255
		}
	case FormatG8:
		for i := 0; i < n; i++ {
			g, d := src[i], dst[i*4:]
			d[0], d[1], d[2], d[3] = g, g, g, 255
		}
	case FormatR10G10B10A2:
		for i := 0; i < n; i++ {
			v := binary.LittleEndian.Uint32(src[i*4:])
			d := dst[i*4:]
			d[2] = uint8((v & 0x3ff) >> 2)
			d[1] = uint8(((v >> 10) & 0x3ff) >> 2)
			d[0] = uint8(((v >> 20) & 0x3ff) >> 2)
			d[3] = uint8((v >> 30) * 85)
		}
	case FormatR16G16B16A16:
		for i := 0; i < n; i++ {
			s, d := src[i*8:], dst[i*4:]
			d[2] = uint8(binary.LittleEndian.Uint16(s[0:]) >> 8)
			d[1] = uint8(binary.LittleEndian.Uint16(s[2:]) >> 8)
			d[0] = uint8(binary.LittleEndian.Uint16(s[4:]) >> 8)
			d[3] = uint8(binary.LittleEndian.Uint16(s[6:]) >> 8)
		}
	case FormatRGBE:
		for i := 0; i < n; i++ {
			s, d := src[i*4:], dst[i*4:]
			d[3] = 255
			if s[3] == 0 {
				d[0], d[1], d[2] = 0, 0, 0
				continue
			}
			scale := math.Ldexp(1, int(s[3])-(128+8))
			d[0] = clampUnit(float64(s[0]) * scale)
			d[1] = clampUnit(float64(s[1]) * scale)
			d[2] = clampUnit(float64(s[2]) * scale)
		}
	}
	return dst, nil
}

// FromARGB converts an ARGB plane to raw format f.
func FromARGB(src []byte, width, height int, f Format) ([]byte, error) {
	if f.IsBlockCompressed() || f.PixelBytes() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotRaw, f)
	}
	n := width * height
	if len(src) != n*4 {
		return nil, fmt.Errorf("%w: ARGB %dx%d: expected %d, got %d", ErrPlaneSize, width, height, n*4, len(src))
	}

	dst := make([]byte, BufferSize(width, height, f))
	switch f {
	case FormatARGB:
		copy(dst, src)
	case FormatRGBA:
		for i := 0; i < n; i++ {
			s, d := src[i*4:], dst[i*4:]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		}
	case FormatRGB:
		for i := 0; i < n; i++ {
			s, d := src[i*4:], dst[i*3:]
			d[0], d[1], d[2] = s[0], s[1], s[2]
		}
	case FormatV8U8:
		for i := 0; i < n; i++ {
			s, d := src[i*4:], dst[i*2:]
			d[0] = s[2] - 128
			d[1] = s[1] - 128
		}
	case FormatG8:
		for i := 0; i < n; i++ {
			s := src[i*4:]
			dst[i] = uint8((uint32(s[2])*77 + uint32(s[1])*150 + uint32(s[0])*29) >> 8)
		}
	case FormatR10G10B10A2:
		for i := 0; i < n; i++ {
			s := src[i*4:]
			v := expand10(s[2]) | expand10(s[1])<<10 | expand10(s[0])<<20 | uint32(s[3]>>6)<<30
			binary.LittleEndian.PutUint32(dst[i*4:], v)
		}
	case FormatR16G16B16A16:
		for i := 0; i < n; i++ {
			s, d := src[i*4:], dst[i*8:]
			binary.LittleEndian.PutUint16(d[0:], uint16(s[2])*257)
			binary.LittleEndian.PutUint16(d[2:], uint16(s[1])*257)
			binary.LittleEndian.PutUint16(d[4:], uint16(s[0])*257)
			binary.LittleEndian.PutUint16(d[6:], uint16(s[3])*257)
		}
	case FormatRGBE:
		for i := 0; i < n; i++ {
			s, d := src[i*4:], dst[i*4:]
			b, g, r := float64(s[0])/255, float64(s[1])/255, float64(s[2])/255
			m := math.Max(r, math.Max(g, b))
			if m < 1e-32 {
				d[0], d[1], d[2], d[3] = 0, 0, 0, 0
				continue
			}
			frac, exp := math.Frexp(m)
			scale := frac * 256 / m
			d[0] = uint8(b * scale)
			d[1] = uint8(g * scale)
			d[2] = uint8(r * scale)
			d[3] = uint8(exp + 128)
		}
	}
	return dst, nil
}

func expand10(c uint8) uint32 {
	return uint32(c)<<2 | uint32(c)>>6
}

func clampUnit(v float64) uint8 {
	v = v*255 + 0.5
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Resize copies an ARGB plane into a plane of the new dimensions, repeating
// the last row and column when growing and cropping when shrinking.
func Resize(src []byte, width, height, newWidth, newHeight int) []byte {
	dst := make([]byte, newWidth*newHeight*4)
	for y := 0; y < newHeight; y++ {
		sy := min(y, height-1)
		for x := 0; x < newWidth; x++ {
			sx := min(x, width-1)
			copy(dst[(y*newWidth+x)*4:(y*newWidth+x)*4+4], src[(sy*width+sx)*4:])
		}
	}
	return dst
}
