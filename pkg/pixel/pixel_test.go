package pixel

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferSizeTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format Format
		w, h   int
		want   int
	}{
		{name: "dxt1-4x4", format: FormatDXT1, w: 4, h: 4, want: 8},
		{name: "dxt1-1x1", format: FormatDXT1, w: 1, h: 1, want: 8},
		{name: "dxt1-5x7", format: FormatDXT1, w: 5, h: 7, want: 32},
		{name: "dxt5-256", format: FormatDXT5, w: 256, h: 256, want: 65536},
		{name: "bc7-8x2", format: FormatBC7, w: 8, h: 2, want: 32},
		{name: "argb-3x3", format: FormatARGB, w: 3, h: 3, want: 36},
		{name: "rgb-2x2", format: FormatRGB, w: 2, h: 2, want: 12},
		{name: "v8u8-4x4", format: FormatV8U8, w: 4, h: 4, want: 32},
		{name: "g8-4x4", format: FormatG8, w: 4, h: 4, want: 16},
		{name: "rgba16-2x1", format: FormatR16G16B16A16, w: 2, h: 1, want: 16},
		{name: "unknown", format: FormatUnknown, w: 4, h: 4, want: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := BufferSize(tc.w, tc.h, tc.format); got != tc.want {
				t.Fatalf("BufferSize(%d,%d,%s) = %d, want %d", tc.w, tc.h, tc.format, got, tc.want)
			}
		})
	}
}

func TestStorageDims(t *testing.T) {
	if w, h := StorageDims(2, 1, FormatDXT1); w != 4 || h != 4 {
		t.Fatalf("DXT1 2x1 storage = %dx%d, want 4x4", w, h)
	}
	if w, h := StorageDims(10, 6, FormatBC7); w != 12 || h != 8 {
		t.Fatalf("BC7 10x6 storage = %dx%d, want 12x8", w, h)
	}
	if w, h := StorageDims(2, 1, FormatARGB); w != 2 || h != 1 {
		t.Fatalf("ARGB 2x1 storage = %dx%d, want 2x1", w, h)
	}
}

func TestEngineNames(t *testing.T) {
	for f := FormatDXT1; f <= FormatR16G16B16A16; f++ {
		if got := FromEngineName(f.EngineName(), false); got != f {
			t.Errorf("FromEngineName(%q) = %s, want %s", f.EngineName(), got, f)
		}
		if got := ParseFormat(f.String()); got != f {
			t.Errorf("ParseFormat(%q) = %s, want %s", f.String(), got, f)
		}
	}
	if got := FromEngineName(EngineARGB, true); got != FormatRGBE {
		t.Errorf("HDR ARGB = %s, want RGBE", got)
	}
}

func gradientARGB(w, h int) []byte {
	buf := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := buf[(y*w+x)*4:]
			p[0] = uint8(x * 255 / max(w-1, 1))
			p[1] = uint8(y * 255 / max(h-1, 1))
			p[2] = uint8((x + y) * 7)
			p[3] = 255
		}
	}
	return buf
}

func TestLosslessRoundTrip(t *testing.T) {
	src := gradientARGB(8, 8)
	for _, f := range []Format{FormatARGB, FormatRGBA, FormatRGB, FormatV8U8, FormatR16G16B16A16, FormatR10G10B10A2} {
		t.Run(f.String(), func(t *testing.T) {
			raw, err := FromARGB(src, 8, 8, f)
			if err != nil {
				t.Fatalf("FromARGB: %v", err)
			}
			back, err := ToARGB(raw, 8, 8, f)
			if err != nil {
				t.Fatalf("ToARGB: %v", err)
			}
			if f == FormatV8U8 {
				// Only the two vector channels survive.
				for i := 0; i < len(src); i += 4 {
					if back[i+1] != src[i+1] || back[i+2] != src[i+2] {
						t.Fatalf("pixel %d: got %v, want %v", i/4, back[i:i+4], src[i:i+4])
					}
				}
				return
			}
			if !bytes.Equal(back, src) {
				t.Fatalf("round trip mismatch")
			}
		})
	}
}

func TestRGBEBounded(t *testing.T) {
	src := gradientARGB(4, 4)
	raw, err := FromARGB(src, 4, 4, FormatRGBE)
	if err != nil {
		t.Fatalf("FromARGB: %v", err)
	}
	back, err := ToARGB(raw, 4, 4, FormatRGBE)
	if err != nil {
		t.Fatalf("ToARGB: %v", err)
	}
	for i := range src {
		if i%4 == 3 {
			continue
		}
		d := int(back[i]) - int(src[i])
		if d < -2 || d > 2 {
			t.Fatalf("byte %d: got %d, want %d", i, back[i], src[i])
		}
	}
}

func TestConvertErrors(t *testing.T) {
	if _, err := ToARGB(make([]byte, 8), 4, 4, FormatDXT1); !errors.Is(err, ErrNotRaw) {
		t.Fatalf("expected ErrNotRaw, got %v", err)
	}
	if _, err := ToARGB(make([]byte, 7), 2, 2, FormatRGB); !errors.Is(err, ErrPlaneSize) {
		t.Fatalf("expected ErrPlaneSize, got %v", err)
	}
}

func TestResize(t *testing.T) {
	src := []byte{
		1, 1, 1, 1, 2, 2, 2, 2,
	}
	got := Resize(src, 2, 1, 4, 2)
	want := []byte{
		1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
		1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Resize = %v, want %v", got, want)
	}
}
