package codec

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/woozymasta/bcn"

	"github.com/goopsie/texturepatcher/pkg/pixel"
)

// BCN adapts github.com/woozymasta/bcn to the single-block Codec contract.
// It is safe for concurrent use.
type BCN struct {
	encode *bcn.EncodeOptions
	decode *bcn.DecodeOptions
}

// NewBCN returns a bcn-backed codec. Parallelism is owned by the block
// engine, so bcn itself runs single-threaded per block.
func NewBCN(highQuality bool) *BCN {
	enc := &bcn.EncodeOptions{QualityLevel: bcn.QualityLevelFast, Workers: 1}
	if highQuality {
		enc = &bcn.EncodeOptions{QualityLevel: bcn.QualityLevelBest, Workers: 1}
	}
	return &BCN{
		encode: enc,
		decode: &bcn.DecodeOptions{Workers: 1},
	}
}

func bcnFormat(format pixel.Format) (bcn.Format, error) {
	switch format {
	case pixel.FormatDXT1:
		return bcn.FormatDXT1, nil
	case pixel.FormatDXT3:
		return bcn.FormatDXT3, nil
	case pixel.FormatDXT5:
		return bcn.FormatDXT5, nil
	case pixel.FormatATI2, pixel.FormatBC5:
		return bcn.FormatBC5, nil
	}
	return bcn.FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedKind, format)
}

// CompressBlock encodes one ARGB block.
func (c *BCN) CompressBlock(format pixel.Format, src *Block, dst []byte) error {
	if format == pixel.FormatATI2 || format == pixel.FormatBC5 {
		x, y := SplitXY(src)
		return c.CompressChannels(format, &x, &y, dst)
	}

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 16; i++ {
		p := img.Pix[i*4:]
		p[0], p[1], p[2], p[3] = src[i*4+2], src[i*4+1], src[i*4], src[i*4+3]
	}
	return c.encodeInto(format, img, dst)
}

// CompressChannels encodes x into the first and y into the second BC5 channel.
func (c *BCN) CompressChannels(format pixel.Format, x, y *Channel, dst []byte) error {
	if format != pixel.FormatATI2 && format != pixel.FormatBC5 {
		return fmt.Errorf("%w: %s has no two-channel layout", ErrUnsupportedKind, format)
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 16; i++ {
		p := img.Pix[i*4:]
		p[0], p[1], p[2], p[3] = x[i], y[i], 0, 255
	}
	return c.encodeInto(format, img, dst)
}

func (c *BCN) encodeInto(format pixel.Format, img *image.NRGBA, dst []byte) error {
	bf, err := bcnFormat(format)
	if err != nil {
		return err
	}
	if err := checkDst(format, dst); err != nil {
		return err
	}
	data, _, _, err := bcn.EncodeImageWithOptions(img, bf, c.encode)
	if err != nil {
		return fmt.Errorf("encode %s block: %w", format, err)
	}
	if len(data) < format.BlockBytes() {
		return fmt.Errorf("encode %s block: short output %d", format, len(data))
	}
	copy(dst, data[:format.BlockBytes()])
	return nil
}

// DecompressBlock decodes one block into ARGB. Two-channel formats come back
// with the channels in red and green and blue forced to full.
func (c *BCN) DecompressBlock(format pixel.Format, src []byte, dst *Block) error {
	bf, err := bcnFormat(format)
	if err != nil {
		return err
	}
	if len(src) < format.BlockBytes() {
		return fmt.Errorf("decode %s block: have %d bytes", format, len(src))
	}
	img, err := bcn.DecodeImageWithOptions(src[:format.BlockBytes()], 4, 4, bf, c.decode)
	if err != nil {
		return fmt.Errorf("decode %s block: %w", format, err)
	}
	nrgba := toNRGBA(img)
	twoChannel := format == pixel.FormatATI2 || format == pixel.FormatBC5
	for py := 0; py < 4; py++ {
		row := nrgba.Pix[py*nrgba.Stride:]
		for px := 0; px < 4; px++ {
			s := row[px*4:]
			d := dst[(py*4+px)*4:]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
			if twoChannel {
				d[0], d[3] = 255, 255
			}
		}
	}
	return nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return n
}
