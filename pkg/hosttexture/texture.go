// Package hosttexture reads and writes the serialized form of a texture
// object: its property list followed by the mip table, and nothing else.
package hosttexture

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/props"
	"github.com/goopsie/texturepatcher/pkg/tfc"
)

// ErrMalformed indicates a texture object that cannot be decoded.
var ErrMalformed = errors.New("malformed texture object")

// Compression-settings tags the texture code understands.
const (
	TagNone                  = ""
	TagNormalmap             = "TC_Normalmap"
	TagNormalmapHQ           = "TC_NormalmapHQ"
	TagNormalmapAlpha        = "TC_NormalmapAlpha"
	TagNormalmapUncompressed = "TC_NormalmapUncompressed"
	TagNormalmapBC5          = "TC_NormalmapBC5"
	TagNormalmapBC7          = "TC_NormalmapBC7"
	TagOneBitAlpha           = "TC_OneBitAlpha"
	TagHighDynamicRange      = "TC_HighDynamicRange"
	TagBC7                   = "TC_BC7"
)

// StorageClass says where a mip's bytes live and how they are encoded.
type StorageClass uint32

const (
	Inline StorageClass = iota
	InlineLZ4
	External
	ExternalZlib
)

func (s StorageClass) String() string {
	switch s {
	case Inline:
		return "inline"
	case InlineLZ4:
		return "inline-lz4"
	case External:
		return "external"
	case ExternalZlib:
		return "external-zlib"
	}
	return fmt.Sprintf("storage(%d)", uint32(s))
}

// IsExternal reports whether the bytes live in a cache file.
func (s StorageClass) IsExternal() bool { return s == External || s == ExternalZlib }

// IsCompressed reports whether the stored bytes are compressed.
func (s StorageClass) IsCompressed() bool { return s == InlineLZ4 || s == ExternalZlib }

// TextureMip is one mip table entry.
type TextureMip struct {
	Storage          StorageClass
	Width, Height    int
	UncompressedSize int
	CompressedSize   int
	// DataOffset is the absolute package offset of the stored bytes for
	// inline mips and the cache file offset for external mips.
	DataOffset uint32
	// Data holds the stored bytes of inline mips.
	Data []byte
}

// Texture is a decoded texture object.
type Texture struct {
	Props *props.List
	Mips  []*TextureMip
}

const (
	mipHeaderSize  = 16 // storage, uncompressed, compressed, offset
	mipTrailerSize = 8  // width, height
)

// Parse decodes a texture object. Bytes after the mip table are an error.
func Parse(data []byte) (*Texture, error) {
	list, pos, err := props.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if pos+4 > len(data) {
		return nil, fmt.Errorf("%w: missing mip count", ErrMalformed)
	}
	count := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if count > (len(data)-pos)/(mipHeaderSize+mipTrailerSize) {
		return nil, fmt.Errorf("%w: %d mips in %d bytes", ErrMalformed, count, len(data)-pos)
	}

	t := &Texture{Props: list, Mips: make([]*TextureMip, 0, count)}
	for i := 0; i < count; i++ {
		if pos+mipHeaderSize > len(data) {
			return nil, fmt.Errorf("%w: mip %d: truncated header", ErrMalformed, i)
		}
		m := &TextureMip{
			Storage:          StorageClass(binary.LittleEndian.Uint32(data[pos:])),
			UncompressedSize: int(int32(binary.LittleEndian.Uint32(data[pos+4:]))),
			CompressedSize:   int(int32(binary.LittleEndian.Uint32(data[pos+8:]))),
			DataOffset:       binary.LittleEndian.Uint32(data[pos+12:]),
		}
		pos += mipHeaderSize
		if m.Storage > ExternalZlib || m.UncompressedSize < 0 || m.CompressedSize < 0 {
			return nil, fmt.Errorf("%w: mip %d: storage %d, sizes %d/%d", ErrMalformed, i, m.Storage, m.UncompressedSize, m.CompressedSize)
		}
		if !m.Storage.IsExternal() {
			if pos+m.CompressedSize > len(data) {
				return nil, fmt.Errorf("%w: mip %d: inline payload of %d bytes truncated", ErrMalformed, i, m.CompressedSize)
			}
			m.Data = append([]byte(nil), data[pos:pos+m.CompressedSize]...)
			pos += m.CompressedSize
		}
		if pos+mipTrailerSize > len(data) {
			return nil, fmt.Errorf("%w: mip %d: truncated dimensions", ErrMalformed, i)
		}
		m.Width = int(int32(binary.LittleEndian.Uint32(data[pos:])))
		m.Height = int(int32(binary.LittleEndian.Uint32(data[pos+4:])))
		pos += mipTrailerSize
		t.Mips = append(t.Mips, m)
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-pos)
	}
	return t, nil
}

// serialize encodes the object. With base >= 0 the inline data offsets are
// rewritten relative to it; otherwise the stored offsets are kept.
func (t *Texture) serialize(base int64) []byte {
	out := t.Props.Bytes()
	out = binary.LittleEndian.AppendUint32(out, uint32(len(t.Mips)))
	for _, m := range t.Mips {
		out = binary.LittleEndian.AppendUint32(out, uint32(m.Storage))
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(m.UncompressedSize)))
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(m.CompressedSize)))
		if !m.Storage.IsExternal() && base >= 0 {
			m.DataOffset = uint32(base) + uint32(len(out)+4)
		}
		out = binary.LittleEndian.AppendUint32(out, m.DataOffset)
		if !m.Storage.IsExternal() {
			out = append(out, m.Data...)
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(m.Width)))
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(m.Height)))
	}
	return out
}

// SerializeProvisional encodes the object with its current data offsets.
// The length is final; only inline offsets may still change.
func (t *Texture) SerializeProvisional() ([]byte, int) {
	out := t.serialize(-1)
	return out, len(out)
}

// SerializeFinal encodes the object for placement at package offset base,
// updating every inline mip's DataOffset.
func (t *Texture) SerializeFinal(base uint32) []byte {
	return t.serialize(int64(base))
}

// InlinePosition returns the position of mip i's inline bytes within the
// serialized object, or -1 for external mips.
func (t *Texture) InlinePosition(i int) int {
	pos := len(t.Props.Bytes()) + 4
	for j, m := range t.Mips {
		pos += mipHeaderSize
		if j == i {
			if m.Storage.IsExternal() {
				return -1
			}
			return pos
		}
		if !m.Storage.IsExternal() {
			pos += len(m.Data)
		}
		pos += mipTrailerSize
	}
	return -1
}

// Tag returns the compression-settings tag.
func (t *Texture) Tag() string {
	return t.Props.Name(props.CompressionSettings)
}

// PixelFormat returns the texture's pixel format from its properties.
func (t *Texture) PixelFormat() pixel.Format {
	return pixel.FromEngineName(t.Props.Name(props.Format), t.Tag() == TagHighDynamicRange)
}

// Width returns the top mip's width.
func (t *Texture) Width() int {
	if len(t.Mips) == 0 {
		return 0
	}
	return t.Mips[0].Width
}

// Height returns the top mip's height.
func (t *Texture) Height() int {
	if len(t.Mips) == 0 {
		return 0
	}
	return t.Mips[0].Height
}

// HasExternal reports whether any mip lives in a cache file.
func (t *Texture) HasExternal() bool {
	for _, m := range t.Mips {
		if m.Storage.IsExternal() {
			return true
		}
	}
	return false
}

// InlineCompressed reports whether any inline mip is compressed.
func (t *Texture) InlineCompressed() bool {
	for _, m := range t.Mips {
		if m.Storage == InlineLZ4 {
			return true
		}
	}
	return false
}

// ExternalCompressed reports whether any external mip is compressed.
func (t *Texture) ExternalCompressed() bool {
	for _, m := range t.Mips {
		if m.Storage == ExternalZlib {
			return true
		}
	}
	return false
}

// InlinePayload returns the raw bytes of inline mip m.
func (m *TextureMip) InlinePayload() ([]byte, error) {
	if m.Storage.IsExternal() {
		return nil, fmt.Errorf("mip %dx%d is stored externally", m.Width, m.Height)
	}
	return Unpack(m.Data, m.Storage, m.UncompressedSize)
}

// CacheName returns the cache file external mips are read from.
func (t *Texture) CacheName() string {
	return t.Props.Name(props.TextureFileCacheName)
}

// MipPayload returns the raw bytes of mip i, reading external mips from
// the texture's cache file inside cacheDir.
func (t *Texture) MipPayload(i int, cacheDir string) ([]byte, error) {
	if i < 0 || i >= len(t.Mips) {
		return nil, fmt.Errorf("mip %d of %d", i, len(t.Mips))
	}
	m := t.Mips[i]
	if !m.Storage.IsExternal() {
		return m.InlinePayload()
	}
	name := t.CacheName()
	if name == "" {
		return nil, fmt.Errorf("%w: external mip without cache name", ErrMalformed)
	}
	stored, err := tfc.ReadAt(cacheDir, name, int64(m.DataOffset), m.CompressedSize)
	if err != nil {
		return nil, err
	}
	return Unpack(stored, m.Storage, m.UncompressedSize)
}
