// Package codec provides the single-block primitives used by the block
// compression engine: one 4x4 pixel block in, one fixed-size coded block out.
package codec

import (
	"errors"
	"fmt"

	"github.com/goopsie/texturepatcher/pkg/pixel"
)

// RawBlockSize is the size of a 4x4 ARGB block.
const RawBlockSize = 64

// Block is a 4x4 block of ARGB pixels in row-major order.
type Block [RawBlockSize]byte

// Channel is a 4x4 block of a single 8-bit channel.
type Channel [16]byte

// SplitXY extracts the two normal-map channels of an ARGB block: x from red
// and y from green.
func SplitXY(src *Block) (x, y Channel) {
	for i := 0; i < 16; i++ {
		x[i] = src[i*4+2]
		y[i] = src[i*4+1]
	}
	return x, y
}

// ErrUnsupportedKind indicates the codec cannot handle the requested format.
var ErrUnsupportedKind = errors.New("unsupported block format")

// Codec encodes and decodes single blocks. dst must be at least
// format.BlockBytes() long on compression.
type Codec interface {
	CompressBlock(format pixel.Format, src *Block, dst []byte) error
	// CompressChannels encodes two single-channel planes as one ATI2/BC5 block.
	CompressChannels(format pixel.Format, x, y *Channel, dst []byte) error
	DecompressBlock(format pixel.Format, src []byte, dst *Block) error
}

// Default returns the codec used by the tools: bcn for the DXT family and
// ATI2/BC5, the built-in encoder for BC7.
func Default(highQuality bool) Codec {
	return &mux{bcn: NewBCN(highQuality), bc7: BC7{}}
}

type mux struct {
	bcn *BCN
	bc7 BC7
}

func (m *mux) CompressBlock(format pixel.Format, src *Block, dst []byte) error {
	if format == pixel.FormatBC7 {
		return m.bc7.CompressBlock(format, src, dst)
	}
	return m.bcn.CompressBlock(format, src, dst)
}

func (m *mux) CompressChannels(format pixel.Format, x, y *Channel, dst []byte) error {
	return m.bcn.CompressChannels(format, x, y, dst)
}

func (m *mux) DecompressBlock(format pixel.Format, src []byte, dst *Block) error {
	if format == pixel.FormatBC7 {
		return m.bc7.DecompressBlock(format, src, dst)
	}
	return m.bcn.DecompressBlock(format, src, dst)
}

func checkDst(format pixel.Format, dst []byte) error {
	if len(dst) < format.BlockBytes() {
		return fmt.Errorf("%s: destination holds %d bytes, need %d", format, len(dst), format.BlockBytes())
	}
	return nil
}
