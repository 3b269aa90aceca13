package blocks

import (
	"bytes"
	"errors"
	"testing"

	"github.com/goopsie/texturepatcher/pkg/codec"
	"github.com/goopsie/texturepatcher/pkg/pixel"
)

// positional is a fake codec whose block output encodes its inputs, so
// tests can check placement independent of any real compression.
type positional struct{}

func (positional) CompressBlock(format pixel.Format, src *codec.Block, dst []byte) error {
	n := format.BlockBytes()
	for i := 0; i < n; i++ {
		dst[i] = src[i*4%codec.RawBlockSize]
	}
	return nil
}

func (positional) CompressChannels(format pixel.Format, x, y *codec.Channel, dst []byte) error {
	copy(dst[:8], x[:8])
	copy(dst[8:16], y[:8])
	return nil
}

func (positional) DecompressBlock(format pixel.Format, src []byte, dst *codec.Block) error {
	for i := range dst {
		dst[i] = src[0]
	}
	return nil
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		rows, hw, want int
	}{
		{rows: 64, hw: 8, want: 8},
		{rows: 64, hw: 12, want: 8},
		{rows: 3, hw: 16, want: 2},
		{rows: 1, hw: 16, want: 1},
		{rows: 0, hw: 16, want: 1},
		{rows: 100, hw: 1, want: 1},
		{rows: 100, hw: 0, want: 1},
	}
	for _, tc := range tests {
		if got := WorkerCount(tc.rows, tc.hw); got != tc.want {
			t.Errorf("WorkerCount(%d, %d) = %d, want %d", tc.rows, tc.hw, got, tc.want)
		}
	}
}

func TestBandsCoverAllRows(t *testing.T) {
	for _, rows := range []int{1, 7, 8, 33} {
		for _, workers := range []int{1, 2, 4} {
			if workers > rows {
				continue
			}
			next := 0
			for _, b := range bands(rows, workers) {
				if b.first != next || b.last <= b.first {
					t.Fatalf("rows=%d workers=%d: bad band %+v", rows, workers, b)
				}
				next = b.last
			}
			if next != rows {
				t.Fatalf("rows=%d workers=%d: covered %d", rows, workers, next)
			}
		}
	}
}

func gradient(w, h int) []byte {
	buf := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := buf[(y*w+x)*4:]
			p[0] = uint8(x * 3)
			p[1] = uint8(y * 3)
			p[2] = uint8((x + y) * 2)
			p[3] = 255
		}
	}
	return buf
}

func TestBlockPlacement(t *testing.T) {
	const w, h = 16, 8
	src := gradient(w, h)
	e := New(positional{}, WithParallelism(4))

	out, err := e.Compress(src, w, h, pixel.FormatDXT1)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	grid, err := WrapGrid(out, w, h, 8)
	if err != nil {
		t.Fatalf("WrapGrid: %v", err)
	}
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			// First byte of a block is the blue channel of its top-left pixel.
			want := src[(row*4*w+col*4)*4]
			if got := grid.At(row, col)[0]; got != want {
				t.Fatalf("block %d,%d: got %d, want %d", row, col, got, want)
			}
		}
	}
}

func TestChannelsFromRedAndGreen(t *testing.T) {
	src := gradient(4, 4)
	out, err := New(positional{}).Compress(src, 4, 4, pixel.FormatATI2)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out[1] != src[4+2] || out[9] != src[4+1] {
		t.Fatalf("channel sources wrong: %v", out)
	}
}

func TestDeterministicAcrossWorkers(t *testing.T) {
	const w, h = 64, 64
	src := gradient(w, h)
	c := codec.Default(false)

	one, err := New(c, WithParallelism(1)).Compress(src, w, h, pixel.FormatBC7)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	many, err := New(c, WithParallelism(8)).Compress(src, w, h, pixel.FormatBC7)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(one, many) {
		t.Fatal("output depends on worker count")
	}
}

func TestRoundTripWithinTolerance(t *testing.T) {
	const w, h = 32, 16
	src := gradient(w, h)
	e := New(codec.Default(false))

	for _, f := range []pixel.Format{pixel.FormatBC7, pixel.FormatDXT5} {
		t.Run(f.String(), func(t *testing.T) {
			enc, err := e.Compress(src, w, h, f)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if len(enc) != pixel.BufferSize(w, h, f) {
				t.Fatalf("size %d, want %d", len(enc), pixel.BufferSize(w, h, f))
			}
			dec, err := e.Decompress(enc, w, h, f)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			for i := range src {
				d := int(dec[i]) - int(src[i])
				if d < -16 || d > 16 {
					t.Fatalf("byte %d: got %d, want %d", i, dec[i], src[i])
				}
			}
		})
	}
}

func TestUnaligned(t *testing.T) {
	_, err := New(positional{}).Compress(make([]byte, 6*4*4), 6, 4, pixel.FormatDXT1)
	if !errors.Is(err, ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
}

func TestRawFormatPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for raw format")
		}
	}()
	_, _ = New(positional{}).Compress(make([]byte, 64), 4, 4, pixel.FormatARGB)
}

func BenchmarkCompressBC7(b *testing.B) {
	src := gradient(256, 256)
	e := New(codec.Default(false))
	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Compress(src, 256, 256, pixel.FormatBC7); err != nil {
			b.Fatal(err)
		}
	}
}
