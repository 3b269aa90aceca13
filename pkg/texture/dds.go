package texture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/woozymasta/bcn"

	"github.com/goopsie/texturepatcher/pkg/pixel"
)

const (
	dx10HeaderSize = 20
	maxDimension   = 1 << 16
	maxMipCount    = 17

	ddpfBumpDUDV = 0x80000

	resourceDimensionTexture2D = 3
	alphaModeUnknown           = 0
	alphaModeOpaque            = 3

	d3dfmtA16B16G16R16 = 36
)

var (
	fourCCDX10 = makeFourCC('D', 'X', '1', '0')
	fourCCDXT1 = makeFourCC('D', 'X', 'T', '1')
	fourCCDXT3 = makeFourCC('D', 'X', 'T', '3')
	fourCCDXT5 = makeFourCC('D', 'X', 'T', '5')
	fourCCATI2 = makeFourCC('A', 'T', 'I', '2')
	fourCCBC5U = makeFourCC('B', 'C', '5', 'U')
	fourCCRGBE = makeFourCC('R', 'G', 'B', 'E')
)

func makeFourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// dx10Header is the extension that follows the DDS header when the pixel
// format FourCC is "DX10".
type dx10Header struct {
	DXGIFormat        uint32
	ResourceDimension uint32
	MiscFlag          uint32
	ArraySize         uint32
	MiscFlags2        uint32 // low 3 bits: alpha mode
}

type bitMasks struct {
	bits, r, g, b, a uint32
}

var (
	masksARGB        = bitMasks{32, 0x00ff0000, 0x0000ff00, 0x000000ff, 0xff000000}
	masksRGBA        = bitMasks{32, 0x000000ff, 0x0000ff00, 0x00ff0000, 0xff000000}
	masksRGB         = bitMasks{24, 0x00ff0000, 0x0000ff00, 0x000000ff, 0}
	masksR10G10B10A2 = bitMasks{32, 0x000003ff, 0x000ffc00, 0x3ff00000, 0xc0000000}
	masksV8U8        = bitMasks{16, 0x000000ff, 0x0000ff00, 0, 0}
	masksG8          = bitMasks{8, 0x000000ff, 0, 0, 0}
)

func masksOf(pf bcn.DDSPixelFormat) bitMasks {
	return bitMasks{pf.RGBBitCount, pf.RBitMask, pf.GBitMask, pf.BBitMask, pf.ABitMask}
}

// Read decodes a DDS stream.
func Read(r io.Reader) (*Image, error) {
	hdr, err := bcn.ReadDDSHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if hdr.Size != bcn.DDSHeaderSize {
		return nil, fmt.Errorf("%w: header size %d", ErrMalformedHeader, hdr.Size)
	}
	if hdr.PixelFormat.Size != bcn.DDSPixelFormatSize {
		return nil, fmt.Errorf("%w: pixel format size %d", ErrMalformedHeader, hdr.PixelFormat.Size)
	}
	width, height := int(hdr.Width), int(hdr.Height)
	if !isPowerOfTwo(width) || !isPowerOfTwo(height) || width > maxDimension || height > maxDimension {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrMalformedHeader, width, height)
	}

	format, err := detectFormat(r, hdr)
	if err != nil {
		return nil, err
	}

	count := int(hdr.MipMapCount)
	if count == 0 {
		count = 1
	}
	if count > maxMipCount {
		return nil, fmt.Errorf("%w: %d mips", ErrMalformedHeader, count)
	}

	img := &Image{
		Format:           format,
		ExplicitMipCount: hdr.Flags&bcn.DDSFlagMipmapCount != 0,
	}
	for i := 0; i < count; i++ {
		m := NewMipMap(nil, pixel.MipDimension(width, i), pixel.MipDimension(height, i), format)
		m.Data = make([]byte, m.Size())
		if _, err := io.ReadFull(r, m.Data); err != nil {
			return nil, fmt.Errorf("%w: mip %d truncated: %v", ErrMalformedHeader, i, err)
		}
		img.Mips = append(img.Mips, m)
	}
	return img, nil
}

func detectFormat(r io.Reader, hdr *bcn.DDSHeader) (pixel.Format, error) {
	pf := hdr.PixelFormat
	if pf.Flags&bcn.DDSPFFourCC != 0 {
		switch pf.FourCC {
		case fourCCDX10:
			var ext dx10Header
			if err := binary.Read(r, binary.LittleEndian, &ext); err != nil {
				return pixel.FormatUnknown, fmt.Errorf("%w: DX10 extension: %v", ErrMalformedHeader, err)
			}
			return detectDX10(ext)
		case fourCCDXT1:
			return pixel.FormatDXT1, nil
		case fourCCDXT3:
			return pixel.FormatDXT3, nil
		case fourCCDXT5:
			return pixel.FormatDXT5, nil
		case fourCCATI2:
			return pixel.FormatATI2, nil
		case fourCCBC5U:
			return pixel.FormatBC5, nil
		case fourCCRGBE:
			return pixel.FormatRGBE, nil
		case d3dfmtA16B16G16R16:
			return pixel.FormatR16G16B16A16, nil
		}
		return pixel.FormatUnknown, fmt.Errorf("%w: FourCC %#x", ErrUnsupportedPixelFormat, pf.FourCC)
	}

	m := masksOf(pf)
	switch {
	case pf.Flags&bcn.DDSPFRGB != 0:
		switch m {
		case masksARGB:
			return pixel.FormatARGB, nil
		case masksRGBA:
			return pixel.FormatRGBA, nil
		case masksRGB:
			return pixel.FormatRGB, nil
		case masksR10G10B10A2:
			return pixel.FormatR10G10B10A2, nil
		}
	case pf.Flags&ddpfBumpDUDV != 0:
		if m.bits == masksV8U8.bits && m.r == masksV8U8.r && m.g == masksV8U8.g {
			return pixel.FormatV8U8, nil
		}
	case pf.Flags&bcn.DDSPFLuminance != 0:
		if m.bits == 8 {
			return pixel.FormatG8, nil
		}
	}
	return pixel.FormatUnknown, fmt.Errorf("%w: flags %#x, %d bits, masks %#x/%#x/%#x/%#x",
		ErrUnsupportedPixelFormat, pf.Flags, m.bits, m.r, m.g, m.b, m.a)
}

func detectDX10(ext dx10Header) (pixel.Format, error) {
	if ext.ResourceDimension != resourceDimensionTexture2D {
		return pixel.FormatUnknown, fmt.Errorf("%w: resource dimension %d", ErrUnsupportedDX10Layout, ext.ResourceDimension)
	}
	if ext.ArraySize != 1 {
		return pixel.FormatUnknown, fmt.Errorf("%w: array size %d", ErrUnsupportedDX10Layout, ext.ArraySize)
	}
	if mode := ext.MiscFlags2 & 7; mode != alphaModeUnknown && mode != alphaModeOpaque {
		return pixel.FormatUnknown, fmt.Errorf("%w: alpha mode %d", ErrUnsupportedDX10Layout, mode)
	}

	switch ext.DXGIFormat {
	case DXGI_FORMAT_BC1_UNORM, DXGI_FORMAT_BC1_UNORM_SRGB:
		return pixel.FormatDXT1, nil
	case DXGI_FORMAT_BC2_UNORM, DXGI_FORMAT_BC2_UNORM_SRGB:
		return pixel.FormatDXT3, nil
	case DXGI_FORMAT_BC3_UNORM, DXGI_FORMAT_BC3_UNORM_SRGB:
		return pixel.FormatDXT5, nil
	case DXGI_FORMAT_BC5_UNORM:
		return pixel.FormatBC5, nil
	case DXGI_FORMAT_BC7_UNORM, DXGI_FORMAT_BC7_UNORM_SRGB:
		return pixel.FormatBC7, nil
	case DXGI_FORMAT_R8G8B8A8_UNORM, DXGI_FORMAT_R8G8B8A8_UNORM_SRGB:
		return pixel.FormatRGBA, nil
	case DXGI_FORMAT_B8G8R8A8_UNORM:
		return pixel.FormatARGB, nil
	case DXGI_FORMAT_R10G10B10A2_UNORM:
		return pixel.FormatR10G10B10A2, nil
	case DXGI_FORMAT_R16G16B16A16_UNORM:
		return pixel.FormatR16G16B16A16, nil
	}
	return pixel.FormatUnknown, fmt.Errorf("%w: DXGI %s", ErrUnsupportedPixelFormat, FormatName(ext.DXGIFormat))
}

// needsDX10 reports whether format has no legacy descriptor the engine
// tooling accepts.
func needsDX10(format pixel.Format) bool {
	return format == pixel.FormatBC7 || format == pixel.FormatRGBA
}

func makeHeader(img *Image) (*bcn.DDSHeader, *dx10Header, error) {
	flags := uint32(bcn.DDSFlagCaps | bcn.DDSFlagHeight | bcn.DDSFlagWidth | bcn.DDSFlagPixelFormat | bcn.DDSFlagLinearSize)
	caps := uint32(bcn.DDSCapsTexture)
	if len(img.Mips) > 1 || img.ExplicitMipCount {
		flags |= bcn.DDSFlagMipmapCount
	}
	if len(img.Mips) > 1 {
		caps |= bcn.DDSCapsComplex | bcn.DDSCapsMipmap
	}

	var linear uint32
	for _, m := range img.Mips {
		linear += uint32(m.Size())
	}

	hdr := &bcn.DDSHeader{
		Size:              bcn.DDSHeaderSize,
		Flags:             flags,
		Height:            uint32(img.Height()),
		Width:             uint32(img.Width()),
		PitchOrLinearSize: linear,
		Depth:             1,
		MipMapCount:       uint32(len(img.Mips)),
		Caps:              caps,
	}
	hdr.PixelFormat.Size = bcn.DDSPixelFormatSize
	pf := &hdr.PixelFormat

	setMasks := func(flags uint32, m bitMasks) {
		pf.Flags = flags
		pf.RGBBitCount, pf.RBitMask, pf.GBitMask, pf.BBitMask, pf.ABitMask = m.bits, m.r, m.g, m.b, m.a
	}

	if needsDX10(img.Format) {
		pf.Flags = bcn.DDSPFFourCC
		pf.FourCC = fourCCDX10
		ext := &dx10Header{ResourceDimension: resourceDimensionTexture2D, ArraySize: 1}
		switch img.Format {
		case pixel.FormatBC7:
			ext.DXGIFormat = DXGI_FORMAT_BC7_UNORM
		case pixel.FormatRGBA:
			ext.DXGIFormat = DXGI_FORMAT_R8G8B8A8_UNORM
		}
		return hdr, ext, nil
	}

	switch img.Format {
	case pixel.FormatDXT1:
		pf.Flags, pf.FourCC = bcn.DDSPFFourCC, fourCCDXT1
	case pixel.FormatDXT3:
		pf.Flags, pf.FourCC = bcn.DDSPFFourCC, fourCCDXT3
	case pixel.FormatDXT5:
		pf.Flags, pf.FourCC = bcn.DDSPFFourCC, fourCCDXT5
	case pixel.FormatATI2:
		pf.Flags, pf.FourCC = bcn.DDSPFFourCC, fourCCATI2
	case pixel.FormatBC5:
		pf.Flags, pf.FourCC = bcn.DDSPFFourCC, fourCCBC5U
	case pixel.FormatRGBE:
		pf.Flags, pf.FourCC = bcn.DDSPFFourCC, fourCCRGBE
	case pixel.FormatR16G16B16A16:
		pf.Flags, pf.FourCC = bcn.DDSPFFourCC, d3dfmtA16B16G16R16
	case pixel.FormatARGB:
		setMasks(bcn.DDSPFRGB|bcn.DDSPFAlphaPixels, masksARGB)
	case pixel.FormatRGB:
		setMasks(bcn.DDSPFRGB, masksRGB)
	case pixel.FormatR10G10B10A2:
		setMasks(bcn.DDSPFRGB|bcn.DDSPFAlphaPixels, masksR10G10B10A2)
	case pixel.FormatV8U8:
		setMasks(ddpfBumpDUDV, masksV8U8)
	case pixel.FormatG8:
		setMasks(bcn.DDSPFLuminance, masksG8)
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedPixelFormat, img.Format)
	}
	return hdr, nil, nil
}

// Write encodes img as a DDS stream.
func Write(w io.Writer, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	hdr, ext, err := makeHeader(img)
	if err != nil {
		return err
	}

	if err := bcn.WriteDDSMagic(w); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := bcn.WriteDDSHeader(w, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if ext != nil {
		if err := binary.Write(w, binary.LittleEndian, ext); err != nil {
			return fmt.Errorf("write DX10 header: %w", err)
		}
	}
	for i, m := range img.Mips {
		if _, err := w.Write(m.Data); err != nil {
			return fmt.Errorf("write mip %d: %w", i, err)
		}
	}
	return nil
}

// ReadFile reads a DDS file from disk.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// WriteFile writes img to path as a DDS file.
func WriteFile(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, img); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
