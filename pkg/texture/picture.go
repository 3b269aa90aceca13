package texture

import (
	"bufio"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/woozymasta/bcn"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/goopsie/texturepatcher/pkg/blocks"
	"github.com/goopsie/texturepatcher/pkg/pixel"
)

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return n
}

func argbFromNRGBA(n *image.NRGBA) []byte {
	w, h := n.Rect.Dx(), n.Rect.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < w; x++ {
			s, d := row[x*4:], out[(y*w+x)*4:]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
		}
	}
	return out
}

func nrgbaFromARGB(argb []byte, w, h int) *image.NRGBA {
	n := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		s, d := argb[i*4:], n.Pix[i*4:]
		d[0], d[1], d[2], d[3] = s[2], s[1], s[0], s[3]
	}
	return n
}

// FromPicture builds an ARGB image from pic. With mips set, the full chain
// down to 1x1 is synthesized.
func FromPicture(pic image.Image, mips bool) (*Image, error) {
	b := pic.Bounds()
	if !isPowerOfTwo(b.Dx()) || !isPowerOfTwo(b.Dy()) {
		return nil, fmt.Errorf("%w: %dx%d", ErrDimensions, b.Dx(), b.Dy())
	}

	top := toNRGBA(pic)
	img := &Image{Format: pixel.FormatARGB}
	img.Mips = append(img.Mips, NewMipMap(argbFromNRGBA(top), b.Dx(), b.Dy(), pixel.FormatARGB))
	if !mips {
		return img, nil
	}

	for _, level := range bcn.GenerateMipmaps(top, false) {
		lb := level.Bounds()
		if lb.Dx() == b.Dx() && lb.Dy() == b.Dy() {
			continue
		}
		img.Mips = append(img.Mips, NewMipMap(argbFromNRGBA(toNRGBA(level)), lb.Dx(), lb.Dy(), pixel.FormatARGB))
	}
	return img, nil
}

// WithMipChain returns img with its top mip's full chain synthesized in the
// image's format.
func (img *Image) WithMipChain(e *blocks.Engine) (*Image, error) {
	if len(img.Mips) == 0 {
		return nil, ErrNoMips
	}
	top := img.Mips[0]
	argb, err := top.ARGB(e)
	if err != nil {
		return nil, err
	}
	chain, err := FromPicture(nrgbaFromARGB(argb, top.OrigWidth, top.OrigHeight), true)
	if err != nil {
		return nil, err
	}
	out, err := chain.Convert(e, img.Format)
	if err != nil {
		return nil, err
	}
	// Keep the original top mip bytes rather than a lossy re-encode.
	out.Mips[0] = top
	out.ExplicitMipCount = true
	return out, nil
}

// Picture decodes mip level into an image.
func (img *Image) Picture(e *blocks.Engine, level int) (*image.NRGBA, error) {
	if level < 0 || level >= len(img.Mips) {
		return nil, fmt.Errorf("mip %d out of range [0,%d)", level, len(img.Mips))
	}
	m := img.Mips[level]
	argb, err := m.ARGB(e)
	if err != nil {
		return nil, err
	}
	return nrgbaFromARGB(argb, m.OrigWidth, m.OrigHeight), nil
}

// LoadFile loads a replacement asset. DDS files keep their format and mips;
// PNG, BMP and TIFF pictures load as a single ARGB mip.
func LoadFile(path string) (*Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".dds" {
		return ReadFile(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var pic image.Image
	switch ext {
	case ".png":
		pic, err = png.Decode(r)
	case ".bmp":
		pic, err = bmp.Decode(r)
	case ".tif", ".tiff":
		pic, err = tiff.Decode(r)
	default:
		return nil, fmt.Errorf("%s: %w: unknown extension %q", path, ErrUnsupportedPixelFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	img, err := FromPicture(pic, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// SavePNG writes mip level of img as a PNG file.
func SavePNG(path string, img *Image, e *blocks.Engine, level int) error {
	pic, err := img.Picture(e, level)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := png.Encode(bw, pic); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
