// Package pixel describes the pixel formats a texture can be stored in and
// provides size arithmetic and raw (non block-compressed) conversions.
//
// All raw conversions go through ARGB, the engine's native 32-bit layout:
// four bytes per pixel in B, G, R, A memory order.
package pixel

import (
	"fmt"
	"hash/crc32"
)

// Format identifies a pixel layout.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatDXT1
	FormatDXT3
	FormatDXT5
	FormatATI2
	FormatBC5
	FormatBC7
	FormatARGB
	FormatRGBA
	FormatRGB
	FormatV8U8
	FormatG8
	FormatR10G10B10A2
	FormatR16G16B16A16
	FormatRGBE
)

// Engine format names as stored in a texture's Format property.
const (
	EngineDXT1         = "PF_DXT1"
	EngineDXT3         = "PF_DXT3"
	EngineDXT5         = "PF_DXT5"
	EngineATI2         = "PF_NormalMap_HQ"
	EngineBC5          = "PF_BC5"
	EngineBC7          = "PF_BC7"
	EngineARGB         = "PF_A8R8G8B8"
	EngineRGBA         = "PF_A8B8G8R8"
	EngineRGB          = "PF_R8G8B8"
	EngineV8U8         = "PF_V8U8"
	EngineG8           = "PF_G8"
	EngineR10G10B10A2  = "PF_A2B10G10R10"
	EngineR16G16B16A16 = "PF_A16B16G16R16"
)

// String returns a short human-readable name.
func (f Format) String() string {
	switch f {
	case FormatDXT1:
		return "DXT1"
	case FormatDXT3:
		return "DXT3"
	case FormatDXT5:
		return "DXT5"
	case FormatATI2:
		return "ATI2"
	case FormatBC5:
		return "BC5"
	case FormatBC7:
		return "BC7"
	case FormatARGB:
		return "ARGB"
	case FormatRGBA:
		return "RGBA"
	case FormatRGB:
		return "RGB"
	case FormatV8U8:
		return "V8U8"
	case FormatG8:
		return "G8"
	case FormatR10G10B10A2:
		return "R10G10B10A2"
	case FormatR16G16B16A16:
		return "R16G16B16A16"
	case FormatRGBE:
		return "RGBE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(f))
	}
}

// ParseFormat maps a short name (as printed by String) back to a Format.
func ParseFormat(name string) Format {
	for f := FormatDXT1; f <= FormatRGBE; f++ {
		if f.String() == name {
			return f
		}
	}
	return FormatUnknown
}

// EngineName returns the engine's Format property value for f.
// RGBE shares the ARGB storage layout and is distinguished by its
// compression-settings tag.
func (f Format) EngineName() string {
	switch f {
	case FormatDXT1:
		return EngineDXT1
	case FormatDXT3:
		return EngineDXT3
	case FormatDXT5:
		return EngineDXT5
	case FormatATI2:
		return EngineATI2
	case FormatBC5:
		return EngineBC5
	case FormatBC7:
		return EngineBC7
	case FormatARGB, FormatRGBE:
		return EngineARGB
	case FormatRGBA:
		return EngineRGBA
	case FormatRGB:
		return EngineRGB
	case FormatV8U8:
		return EngineV8U8
	case FormatG8:
		return EngineG8
	case FormatR10G10B10A2:
		return EngineR10G10B10A2
	case FormatR16G16B16A16:
		return EngineR16G16B16A16
	default:
		return ""
	}
}

// FromEngineName maps an engine Format property value to a Format.
// hdr selects RGBE for the shared ARGB name.
func FromEngineName(name string, hdr bool) Format {
	switch name {
	case EngineDXT1:
		return FormatDXT1
	case EngineDXT3:
		return FormatDXT3
	case EngineDXT5:
		return FormatDXT5
	case EngineATI2:
		return FormatATI2
	case EngineBC5:
		return FormatBC5
	case EngineBC7:
		return FormatBC7
	case EngineARGB:
		if hdr {
			return FormatRGBE
		}
		return FormatARGB
	case EngineRGBA:
		return FormatRGBA
	case EngineRGB:
		return FormatRGB
	case EngineV8U8:
		return FormatV8U8
	case EngineG8:
		return FormatG8
	case EngineR10G10B10A2:
		return FormatR10G10B10A2
	case EngineR16G16B16A16:
		return FormatR16G16B16A16
	default:
		return FormatUnknown
	}
}

// IsBlockCompressed reports whether f stores fixed-size 4x4 blocks.
func (f Format) IsBlockCompressed() bool {
	switch f {
	case FormatDXT1, FormatDXT3, FormatDXT5, FormatATI2, FormatBC5, FormatBC7:
		return true
	}
	return false
}

// BlockBytes returns the size of one 4x4 block, or 0 for raw formats.
func (f Format) BlockBytes() int {
	switch f {
	case FormatDXT1:
		return 8
	case FormatDXT3, FormatDXT5, FormatATI2, FormatBC5, FormatBC7:
		return 16
	}
	return 0
}

// PixelBytes returns bytes per pixel for raw formats, or 0 for block formats.
func (f Format) PixelBytes() int {
	switch f {
	case FormatARGB, FormatRGBA, FormatR10G10B10A2, FormatRGBE:
		return 4
	case FormatRGB:
		return 3
	case FormatV8U8:
		return 2
	case FormatG8:
		return 1
	case FormatR16G16B16A16:
		return 8
	}
	return 0
}

// StorageDims returns the dimensions a plane of width x height occupies on
// disk. Block formats round each axis up to a multiple of 4, never below 4.
func StorageDims(width, height int, f Format) (int, int) {
	if !f.IsBlockCompressed() {
		return width, height
	}
	return roundBlock(width), roundBlock(height)
}

func roundBlock(n int) int {
	if n < 4 {
		return 4
	}
	return (n + 3) &^ 3
}

// BufferSize returns the byte length of a plane of the given storage
// dimensions, or -1 when f is unknown.
func BufferSize(width, height int, f Format) int {
	if f.IsBlockCompressed() {
		w, h := StorageDims(width, height, f)
		return (w / 4) * (h / 4) * f.BlockBytes()
	}
	if bpp := f.PixelBytes(); bpp > 0 {
		return width * height * bpp
	}
	return -1
}

// MipDimension returns base >> level clamped to 1.
func MipDimension(base, level int) int {
	result := base >> level
	if result < 1 {
		return 1
	}
	return result
}

// Checksum is the content fingerprint used to identify textures and to
// verify round trips (CRC-32, IEEE polynomial).
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
