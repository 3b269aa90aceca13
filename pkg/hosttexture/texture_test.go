package hosttexture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/props"
)

func sampleTexture() *Texture {
	p := &props.List{}
	p.SetName(props.Format, pixel.EngineDXT1)
	p.SetInt(props.SizeX, 64)
	p.SetInt(props.SizeY, 32)
	return &Texture{
		Props: p,
		Mips: []*TextureMip{
			{Storage: External, Width: 64, Height: 32, UncompressedSize: 1024, CompressedSize: 1024, DataOffset: 16},
			{Storage: ExternalZlib, Width: 32, Height: 16, UncompressedSize: 256, CompressedSize: 90, DataOffset: 1040},
			{Storage: Inline, Width: 16, Height: 8, UncompressedSize: 64, CompressedSize: 4, Data: []byte{1, 2, 3, 4}},
			{Storage: InlineLZ4, Width: 8, Height: 4, UncompressedSize: 16, CompressedSize: 2, Data: []byte{5, 6}},
		},
	}
}

func TestParseRoundTrip(t *testing.T) {
	tex := sampleTexture()
	data, n := tex.SerializeProvisional()
	if n != len(data) {
		t.Fatalf("size %d != len %d", n, len(data))
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got.Mips) != 4 {
		t.Fatalf("got %d mips", len(got.Mips))
	}
	again, _ := got.SerializeProvisional()
	if !bytes.Equal(again, data) {
		t.Fatal("re-serialization differs")
	}
	if got.Mips[1].DataOffset != 1040 || got.Mips[1].Storage != ExternalZlib {
		t.Errorf("mip 1 = %+v", got.Mips[1])
	}
	if !bytes.Equal(got.Mips[3].Data, []byte{5, 6}) {
		t.Errorf("mip 3 data = %v", got.Mips[3].Data)
	}
	if got.PixelFormat() != pixel.FormatDXT1 {
		t.Errorf("PixelFormat = %v", got.PixelFormat())
	}
	if !got.HasExternal() || !got.InlineCompressed() || !got.ExternalCompressed() {
		t.Error("storage summary wrong")
	}
	if got.Width() != 64 || got.Height() != 32 {
		t.Errorf("dims %dx%d", got.Width(), got.Height())
	}
}

func TestSerializeFinalOffsets(t *testing.T) {
	tex := sampleTexture()
	provisional, size := tex.SerializeProvisional()

	const base = 5000
	final := tex.SerializeFinal(base)
	if len(final) != size {
		t.Fatalf("final length %d, provisional %d", len(final), size)
	}
	if bytes.Equal(final, provisional) {
		t.Fatal("final should rewrite inline offsets")
	}

	for i, m := range tex.Mips {
		if m.Storage.IsExternal() {
			continue
		}
		pos := tex.InlinePosition(i)
		if pos < 0 {
			t.Fatalf("mip %d: no inline position", i)
		}
		if m.DataOffset != base+uint32(pos) {
			t.Errorf("mip %d offset %d, want %d", i, m.DataOffset, base+pos)
		}
		// The payload sits at offset - base inside the blob.
		if !bytes.Equal(final[pos:pos+len(m.Data)], m.Data) {
			t.Errorf("mip %d payload not at its recorded offset", i)
		}
		// The stored offset field directly precedes the payload.
		if got := binary.LittleEndian.Uint32(final[pos-4:]); got != m.DataOffset {
			t.Errorf("mip %d encoded offset %d", i, got)
		}
	}
	if tex.Mips[0].DataOffset != 16 {
		t.Error("external offset must be untouched")
	}
	if tex.InlinePosition(0) != -1 {
		t.Error("external mip has no inline position")
	}
}

func TestParseErrors(t *testing.T) {
	good, _ := sampleTexture().SerializeProvisional()
	propsLen := len(sampleTexture().Props.Bytes())

	badStorage := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(badStorage[propsLen+4:], 9)

	tests := map[string][]byte{
		"props":      good[:3],
		"no-count":   good[:propsLen],
		"huge-count": append(sampleTexture().Props.Bytes(), 0xFF, 0xFF, 0, 0),
		"truncated":  good[:len(good)-3],
		"trailing":   append(append([]byte(nil), good...), 0),
		"storage":    badStorage,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(data); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestPackUnpack(t *testing.T) {
	gradient := make([]byte, 3*chunkSize+123)
	for i := range gradient {
		gradient[i] = byte(i / 300)
	}
	noise := make([]byte, 5000)
	x := uint32(2463534242)
	for i := range noise {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		noise[i] = byte(x)
	}

	inputs := map[string][]byte{
		"empty":    {},
		"gradient": gradient,
		"noise":    noise,
		"exact":    bytes.Repeat([]byte{7}, chunkSize),
	}
	for _, s := range []StorageClass{Inline, InlineLZ4, External, ExternalZlib} {
		for name, raw := range inputs {
			t.Run(s.String()+"/"+name, func(t *testing.T) {
				stored, err := Pack(raw, s)
				if err != nil {
					t.Fatalf("Pack: %v", err)
				}
				got, err := Unpack(stored, s, len(raw))
				if err != nil {
					t.Fatalf("Unpack: %v", err)
				}
				if !bytes.Equal(got, raw) {
					t.Fatal("payload changed")
				}
			})
		}
	}
}

func TestLZ4Compresses(t *testing.T) {
	raw := bytes.Repeat([]byte("abcdefgh"), 40000)
	stored, err := Pack(raw, InlineLZ4)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(stored) >= len(raw)/4 {
		t.Fatalf("repetitive input stored in %d bytes", len(stored))
	}
	if stored[3]&chunkStored != 0 {
		t.Fatal("first chunk should be compressed")
	}
}

func TestUnpackErrors(t *testing.T) {
	raw := bytes.Repeat([]byte{1, 2, 3, 4}, 1000)
	stored, err := Pack(raw, InlineLZ4)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	badFlags := append([]byte(nil), stored...)
	badFlags[3] |= 0x40

	t.Run("flags", func(t *testing.T) {
		if _, err := Unpack(badFlags, InlineLZ4, len(raw)); !errors.Is(err, ErrChunkStream) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("truncated", func(t *testing.T) {
		if _, err := Unpack(stored[:len(stored)-1], InlineLZ4, len(raw)); !errors.Is(err, ErrChunkStream) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("trailing", func(t *testing.T) {
		if _, err := Unpack(append(append([]byte(nil), stored...), 0), InlineLZ4, len(raw)); !errors.Is(err, ErrChunkStream) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("size", func(t *testing.T) {
		if _, err := Unpack(raw, Inline, len(raw)+1); !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("zlib", func(t *testing.T) {
		if _, err := Unpack([]byte{1, 2, 3}, ExternalZlib, 3); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestInlinePayload(t *testing.T) {
	raw := bytes.Repeat([]byte{9}, 256)
	stored, err := Pack(raw, InlineLZ4)
	if err != nil {
		t.Fatal(err)
	}
	m := &TextureMip{Storage: InlineLZ4, UncompressedSize: len(raw), CompressedSize: len(stored), Data: stored}
	got, err := m.InlinePayload()
	if err != nil || !bytes.Equal(got, raw) {
		t.Fatalf("InlinePayload = %v, %v", len(got), err)
	}
	if _, err := (&TextureMip{Storage: External}).InlinePayload(); err == nil {
		t.Fatal("external mip has no inline payload")
	}
}
