package archive

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvelopeHeader(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		original := EnvelopeHeader{Magic: EnvelopeMagic, HeaderLength: 16, Length: 1024, CompressedLength: 512}
		buf := make([]byte, EnvelopeHeaderSize)
		original.EncodeTo(buf)

		var decoded EnvelopeHeader
		if err := decoded.UnmarshalBinary(buf); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded != original {
			t.Errorf("mismatch: got %+v, want %+v", decoded, original)
		}
		if !IsEnveloped(buf) {
			t.Error("IsEnveloped = false")
		}
	})

	t.Run("InvalidMagic", func(t *testing.T) {
		h := EnvelopeHeader{HeaderLength: 16, Length: 1024}
		if err := h.Validate(); err == nil {
			t.Error("expected error for invalid magic")
		}
	})

	t.Run("ZeroLength", func(t *testing.T) {
		h := EnvelopeHeader{Magic: EnvelopeMagic, HeaderLength: 16}
		if err := h.Validate(); err == nil {
			t.Error("expected error for zero length")
		}
	})
}

func TestWrapUnwrap(t *testing.T) {
	original := []byte("Hello, World! This is test data for compression.")

	var buf bytes.Buffer
	ws := &seekableBuffer{Buffer: &buf}
	if err := Wrap(ws, original); err != nil {
		t.Fatalf("wrap: %v", err)
	}

	var h EnvelopeHeader
	if err := h.UnmarshalBinary(buf.Bytes()); err != nil {
		t.Fatalf("header: %v", err)
	}
	if int(h.CompressedLength) != buf.Len()-EnvelopeHeaderSize {
		t.Errorf("compressed length %d, body %d", h.CompressedLength, buf.Len()-EnvelopeHeaderSize)
	}

	decoded, err := Unwrap(buf.Bytes())
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Errorf("data mismatch: got %q, want %q", decoded, original)
	}
}

func TestUnwrapRejectsBadLengths(t *testing.T) {
	original := bytes.Repeat([]byte("texture data "), 64)
	var buf bytes.Buffer
	if err := Wrap(&seekableBuffer{Buffer: &buf}, original); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	valid := buf.Bytes()

	tests := []struct {
		name   string
		mutate func(h *EnvelopeHeader)
	}{
		{"huge length", func(h *EnvelopeHeader) { h.Length = 1 << 62 }},
		{"max length", func(h *EnvelopeHeader) { h.Length = ^uint64(0) }},
		{"length too large", func(h *EnvelopeHeader) { h.Length++ }},
		{"length too small", func(h *EnvelopeHeader) { h.Length-- }},
		{"compressed length past end", func(h *EnvelopeHeader) { h.CompressedLength++ }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), valid...)
			var h EnvelopeHeader
			if err := h.UnmarshalBinary(data); err != nil {
				t.Fatal(err)
			}
			tt.mutate(&h)
			h.EncodeTo(data)

			if _, err := Unwrap(data); !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("Unwrap err = %v, want ErrMalformedEnvelope", err)
			}
		})
	}

	t.Run("open", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		var h EnvelopeHeader
		if err := h.UnmarshalBinary(data); err != nil {
			t.Fatal(err)
		}
		h.Length = 1 << 62
		h.EncodeTo(data)
		path := filepath.Join(t.TempDir(), "bad.tpkg")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("Open err = %v, want ErrMalformedEnvelope", err)
		}
	})
}

func samplePackage(t *testing.T) *Package {
	t.Helper()
	p := NewPackage()
	for _, e := range []struct {
		name, class string
		data        []byte
	}{
		{"Rock_D", ClassTexture, bytes.Repeat([]byte{1}, 40)},
		{"Level", "World", []byte("world data")},
		{"Rock_N", ClassTexture, bytes.Repeat([]byte{2}, 30)},
	} {
		if _, err := p.AddExport(e.name, e.class, e.data); err != nil {
			t.Fatalf("AddExport: %v", err)
		}
	}
	return p
}

func TestPackageRoundTrip(t *testing.T) {
	p := samplePackage(t)
	raw := p.Bytes()

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got.Exports()) != 3 {
		t.Fatalf("got %d exports", len(got.Exports()))
	}
	if !bytes.Equal(got.Bytes(), raw) {
		t.Fatal("re-encoding differs")
	}
	e, _ := got.Export(2)
	if e.Name != "Rock_N" || e.Class != ClassTexture || e.Size != 30 {
		t.Errorf("export 2 = %+v", e)
	}
	data, err := got.ExportData(1)
	if err != nil || string(data) != "world data" {
		t.Errorf("ExportData(1) = %q, %v", data, err)
	}
	if got.HasMarker() {
		t.Error("unexpected marker")
	}
}

func TestSetExportData(t *testing.T) {
	p := samplePackage(t)
	before, _ := p.ExportDataOffset(0)

	t.Run("InPlace", func(t *testing.T) {
		off, err := p.SetExportData(0, bytes.Repeat([]byte{9}, 20))
		if err != nil {
			t.Fatal(err)
		}
		if off != before {
			t.Fatalf("smaller payload moved from %d to %d", before, off)
		}
		if got, _ := p.ExportData(0); !bytes.Equal(got, bytes.Repeat([]byte{9}, 20)) {
			t.Fatal("payload not replaced")
		}
	})

	t.Run("Append", func(t *testing.T) {
		end := uint64(len(p.arena))
		big := bytes.Repeat([]byte{7}, 100)
		off, err := p.SetExportData(0, big)
		if err != nil {
			t.Fatal(err)
		}
		if off != end {
			t.Fatalf("larger payload at %d, want arena end %d", off, end)
		}
		got, err := p.ReadRange(off, len(big))
		if err != nil || !bytes.Equal(got, big) {
			t.Fatalf("ReadRange = %v", err)
		}
		// Neighbours are untouched.
		if got, _ := p.ExportData(1); string(got) != "world data" {
			t.Fatalf("export 1 = %q", got)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := p.SetExportData(10, nil); !errors.Is(err, ErrNoExport) {
			t.Fatalf("got %v", err)
		}
	})
}

func TestReadRangeBounds(t *testing.T) {
	p := samplePackage(t)
	if _, err := p.ReadRange(0, 4); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("header read: %v", err)
	}
	if _, err := p.ReadRange(uint64(len(p.arena)-2), 4); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("past end: %v", err)
	}
}

func TestSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		opts SaveOptions
	}{
		{"plain", SaveOptions{}},
		{"marker", SaveOptions{AppendMarker: true}},
		{"compressed", SaveOptions{Compress: true, AppendMarker: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePackage(t)
			path := filepath.Join(dir, tt.name+Extension)
			if err := p.Save(path, tt.opts); err != nil {
				t.Fatalf("Save: %v", err)
			}

			onDisk, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if IsEnveloped(onDisk) != tt.opts.Compress {
				t.Fatalf("enveloped = %v", IsEnveloped(onDisk))
			}

			got, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got.HasMarker() != tt.opts.AppendMarker {
				t.Errorf("HasMarker = %v", got.HasMarker())
			}
			if got.Enveloped() != tt.opts.Compress {
				t.Errorf("Enveloped = %v", got.Enveloped())
			}
			if !bytes.Equal(got.Bytes(), p.Bytes()) {
				t.Error("content changed across save")
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	good := samplePackage(t).Bytes()

	badTable := append([]byte(nil), good...)
	badTable[12] = 0xFF
	badTable[13] = 0xFF

	tests := map[string][]byte{
		"short":    good[:10],
		"magic":    append([]byte("XXXX"), good[4:]...),
		"table":    badTable,
		"trailing": append(append([]byte(nil), good...), 'x'),
		"cut":      good[:len(good)-1],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(data); !errors.Is(err, ErrMalformedPackage) {
				t.Fatalf("expected ErrMalformedPackage, got %v", err)
			}
		})
	}
}

type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case 0:
		newPos = offset
	case 1:
		newPos = s.pos + offset
	case 2:
		newPos = int64(s.Buffer.Len()) + offset
	}
	s.pos = newPos
	return newPos, nil
}

func (s *seekableBuffer) Write(p []byte) (n int, err error) {
	for int64(s.Buffer.Len()) < s.pos {
		s.Buffer.WriteByte(0)
	}
	if s.pos < int64(s.Buffer.Len()) {
		data := s.Buffer.Bytes()
		n = copy(data[s.pos:], p)
		if n < len(p) {
			m, err := s.Buffer.Write(p[n:])
			n += m
			if err != nil {
				return n, err
			}
		}
	} else {
		n, err = s.Buffer.Write(p)
	}
	s.pos += int64(n)
	return n, err
}
