package texture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goopsie/texturepatcher/pkg/blocks"
	"github.com/goopsie/texturepatcher/pkg/codec"
	"github.com/goopsie/texturepatcher/pkg/pixel"
)

// Offsets into an encoded file, magic included.
const (
	offHeaderSize = 4
	offHeight     = 12
	offWidth      = 16
	offPFSize     = 76
	offFourCC     = 84
	offDX10Array  = 140
	offDX10Alpha  = 144
)

func makeImage(format pixel.Format, w, h, mips int) *Image {
	img := &Image{Format: format, ExplicitMipCount: mips > 1}
	for i := 0; i < mips; i++ {
		m := NewMipMap(nil, pixel.MipDimension(w, i), pixel.MipDimension(h, i), format)
		m.Data = make([]byte, m.Size())
		for j := range m.Data {
			m.Data[j] = byte(i*31 + j)
		}
		img.Mips = append(img.Mips, m)
	}
	return img
}

func encode(t *testing.T, img *Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, img); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func TestContainerRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format pixel.Format
		w, h   int
		mips   int
	}{
		{format: pixel.FormatDXT1, w: 256, h: 256, mips: 9},
		{format: pixel.FormatDXT5, w: 64, h: 16, mips: 7},
		{format: pixel.FormatDXT3, w: 8, h: 8, mips: 1},
		{format: pixel.FormatATI2, w: 32, h: 32, mips: 6},
		{format: pixel.FormatBC5, w: 16, h: 16, mips: 5},
		{format: pixel.FormatBC7, w: 128, h: 64, mips: 8},
		{format: pixel.FormatARGB, w: 16, h: 8, mips: 5},
		{format: pixel.FormatRGBA, w: 8, h: 8, mips: 4},
		{format: pixel.FormatRGB, w: 4, h: 4, mips: 3},
		{format: pixel.FormatV8U8, w: 8, h: 8, mips: 4},
		{format: pixel.FormatG8, w: 8, h: 4, mips: 4},
		{format: pixel.FormatR10G10B10A2, w: 4, h: 4, mips: 3},
		{format: pixel.FormatR16G16B16A16, w: 4, h: 4, mips: 3},
		{format: pixel.FormatRGBE, w: 4, h: 4, mips: 3},
	}

	for _, tc := range tests {
		t.Run(tc.format.String(), func(t *testing.T) {
			t.Parallel()

			img := makeImage(tc.format, tc.w, tc.h, tc.mips)
			data := encode(t, img)

			got, err := Read(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if diff := cmp.Diff(img, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
			if again := encode(t, got); !bytes.Equal(again, data) {
				t.Fatalf("re-encoding differs")
			}
		})
	}
}

func TestLinearSizeIsPayloadTotal(t *testing.T) {
	img := makeImage(pixel.FormatDXT1, 16, 16, 5)
	data := encode(t, img)
	linear := binary.LittleEndian.Uint32(data[20:])
	payload := len(data) - 4 - 124
	if int(linear) != payload {
		t.Fatalf("linear size %d, payload %d", linear, payload)
	}
}

func TestDX10Emitted(t *testing.T) {
	data := encode(t, makeImage(pixel.FormatBC7, 8, 8, 1))
	if got := binary.LittleEndian.Uint32(data[offFourCC:]); got != fourCCDX10 {
		t.Fatalf("FourCC %#x, want DX10", got)
	}
	if got := binary.LittleEndian.Uint32(data[128:]); got != DXGI_FORMAT_BC7_UNORM {
		t.Fatalf("DXGI %d, want %d", got, DXGI_FORMAT_BC7_UNORM)
	}

	legacy := encode(t, makeImage(pixel.FormatDXT5, 8, 8, 1))
	if got := binary.LittleEndian.Uint32(legacy[offFourCC:]); got != fourCCDXT5 {
		t.Fatalf("FourCC %#x, want DXT5", got)
	}
}

func TestZeroMipCountMeansOne(t *testing.T) {
	data := encode(t, makeImage(pixel.FormatDXT1, 8, 8, 1))
	binary.LittleEndian.PutUint32(data[28:], 0)
	img, err := Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(img.Mips) != 1 {
		t.Fatalf("got %d mips, want 1", len(img.Mips))
	}
}

func TestReadRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format pixel.Format
		mutate func([]byte) []byte
		want   error
	}{
		{
			name:   "header-size",
			format: pixel.FormatDXT1,
			mutate: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[offHeaderSize:], 120); return b },
			want:   ErrMalformedHeader,
		},
		{
			name:   "pixel-format-size",
			format: pixel.FormatDXT1,
			mutate: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[offPFSize:], 24); return b },
			want:   ErrMalformedHeader,
		},
		{
			name:   "non-power-of-two",
			format: pixel.FormatDXT1,
			mutate: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[offWidth:], 12); return b },
			want:   ErrMalformedHeader,
		},
		{
			name:   "zero-height",
			format: pixel.FormatDXT1,
			mutate: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[offHeight:], 0); return b },
			want:   ErrMalformedHeader,
		},
		{
			name:   "unknown-fourcc",
			format: pixel.FormatDXT1,
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[offFourCC:], makeFourCC('A', 'T', 'I', '1'))
				return b
			},
			want: ErrUnsupportedPixelFormat,
		},
		{
			name:   "truncated",
			format: pixel.FormatDXT1,
			mutate: func(b []byte) []byte { return b[:len(b)-1] },
			want:   ErrMalformedHeader,
		},
		{
			name:   "dx10-array",
			format: pixel.FormatBC7,
			mutate: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[offDX10Array:], 6); return b },
			want:   ErrUnsupportedDX10Layout,
		},
		{
			name:   "dx10-straight-alpha",
			format: pixel.FormatBC7,
			mutate: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[offDX10Alpha:], 1); return b },
			want:   ErrUnsupportedDX10Layout,
		},
		{
			name:   "dx10-volume",
			format: pixel.FormatRGBA,
			mutate: func(b []byte) []byte { binary.LittleEndian.PutUint32(b[132:], 4); return b },
			want:   ErrUnsupportedDX10Layout,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			if err := Write(&buf, makeImage(tc.format, 8, 8, 2)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			data := tc.mutate(buf.Bytes())
			if _, err := Read(bytes.NewReader(data)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDX10AlphaOpaqueAccepted(t *testing.T) {
	data := encode(t, makeImage(pixel.FormatBC7, 8, 8, 1))
	binary.LittleEndian.PutUint32(data[offDX10Alpha:], alphaModeOpaque)
	if _, err := Read(bytes.NewReader(data)); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestStorageDimensionsFloor(t *testing.T) {
	img := makeImage(pixel.FormatDXT1, 8, 2, 4)
	want := [][4]int{
		{8, 4, 8, 2},
		{4, 4, 4, 1},
		{4, 4, 2, 1},
		{4, 4, 1, 1},
	}
	for i, m := range img.Mips {
		got := [4]int{m.Width, m.Height, m.OrigWidth, m.OrigHeight}
		if got != want[i] {
			t.Fatalf("mip %d: got %v, want %v", i, got, want[i])
		}
	}
	if err := img.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBrokenChain(t *testing.T) {
	img := makeImage(pixel.FormatARGB, 16, 16, 3)
	img.Mips[2] = NewMipMap(make([]byte, 4*4*4), 4, 4, pixel.FormatARGB)
	img.Mips[1] = NewMipMap(make([]byte, 4*4*4), 4, 4, pixel.FormatARGB)
	if err := img.Validate(); err == nil {
		t.Fatal("expected error for skipped mip level")
	}
	if err := (&Image{}).Validate(); !errors.Is(err, ErrNoMips) {
		t.Fatalf("expected ErrNoMips, got %v", err)
	}
}

func TestFormatName(t *testing.T) {
	tests := []struct {
		format   uint32
		expected string
	}{
		{DXGI_FORMAT_BC1_UNORM, "BC1_UNORM"},
		{DXGI_FORMAT_BC3_UNORM, "BC3_UNORM"},
		{DXGI_FORMAT_BC7_UNORM, "BC7_UNORM"},
		{DXGI_FORMAT_BC7_UNORM_SRGB, "BC7_UNORM_SRGB"},
		{DXGI_FORMAT_R10G10B10A2_UNORM, "R10G10B10A2_UNORM"},
		{9999, "UNKNOWN(0x270f)"},
	}

	for _, tt := range tests {
		name := FormatName(tt.format)
		if name != tt.expected {
			t.Errorf("Format %d: expected %s, got %s", tt.format, tt.expected, name)
		}
	}
}

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 100, A: 255})
		}
	}
	return img
}

func TestFromPicture(t *testing.T) {
	img, err := FromPicture(checker(16, 8), true)
	if err != nil {
		t.Fatalf("FromPicture: %v", err)
	}
	if img.Format != pixel.FormatARGB || img.Width() != 16 || img.Height() != 8 {
		t.Fatalf("unexpected image %s %dx%d", img.Format, img.Width(), img.Height())
	}
	if len(img.Mips) < 2 {
		t.Fatalf("expected a synthesized chain, got %d mips", len(img.Mips))
	}
	top := img.Mips[0].Data
	// x=1,y=0: R=8 G=0 B=100 A=255 in B,G,R,A order.
	if got := top[4:8]; !bytes.Equal(got, []byte{100, 0, 8, 255}) {
		t.Fatalf("pixel (1,0) = %v", got)
	}

	if _, err := FromPicture(checker(12, 8), false); !errors.Is(err, ErrDimensions) {
		t.Fatalf("expected ErrDimensions, got %v", err)
	}
}

func TestConvertPadsSmallMips(t *testing.T) {
	e := blocks.New(codec.Default(false))
	src, err := FromPicture(checker(8, 2), false)
	if err != nil {
		t.Fatalf("FromPicture: %v", err)
	}
	got, err := src.Convert(e, pixel.FormatDXT5)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	m := got.Mips[0]
	if m.Width != 8 || m.Height != 4 || m.OrigHeight != 2 || len(m.Data) != 2*16 {
		t.Fatalf("unexpected mip %dx%d (orig %dx%d) with %d bytes", m.Width, m.Height, m.OrigWidth, m.OrigHeight, len(m.Data))
	}
	if src.Mips[0].Format != pixel.FormatARGB {
		t.Fatal("Convert modified its receiver")
	}

	back, err := got.Convert(e, pixel.FormatARGB)
	if err != nil {
		t.Fatalf("Convert back: %v", err)
	}
	if len(back.Mips[0].Data) != 8*2*4 {
		t.Fatalf("back to ARGB: %d bytes", len(back.Mips[0].Data))
	}
}

func TestWithMipChain(t *testing.T) {
	e := blocks.New(codec.Default(false))
	src, err := FromPicture(checker(16, 16), false)
	if err != nil {
		t.Fatalf("FromPicture: %v", err)
	}
	dxt, err := src.Convert(e, pixel.FormatDXT1)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	full, err := dxt.WithMipChain(e)
	if err != nil {
		t.Fatalf("WithMipChain: %v", err)
	}
	if len(full.Mips) < 3 {
		t.Fatalf("got %d mips, want a chain", len(full.Mips))
	}
	if !bytes.Equal(full.Mips[0].Data, dxt.Mips[0].Data) {
		t.Fatal("top mip was re-encoded")
	}
	if err := full.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFileDDS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.dds")
	img := makeImage(pixel.FormatDXT5, 16, 16, 5)
	if err := WriteFile(path, img); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if diff := cmp.Diff(img, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoadPNG(t *testing.T) {
	e := blocks.New(codec.Default(false))
	src, err := FromPicture(checker(8, 8), false)
	if err != nil {
		t.Fatalf("FromPicture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "a.png")
	if err := SavePNG(path, src, e, 0); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !bytes.Equal(got.Mips[0].Data, src.Mips[0].Data) {
		t.Fatal("PNG round trip changed pixels")
	}
}
