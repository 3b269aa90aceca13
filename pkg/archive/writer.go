package archive

import (
	"fmt"
	"io"

	"github.com/DataDog/zstd"
)

// EnvelopeWriter compresses content into an envelope. The header is written
// up front and rewritten with the compressed size on Close.
type EnvelopeWriter struct {
	dst     io.WriteSeeker
	start   int64
	zWriter *zstd.Writer
	header  EnvelopeHeader
	level   int
}

// WriterOption configures an EnvelopeWriter.
type WriterOption func(*EnvelopeWriter)

// WithCompressionLevel sets the zstd level.
func WithCompressionLevel(level int) WriterOption {
	return func(w *EnvelopeWriter) {
		w.level = level
	}
}

// NewEnvelopeWriter starts an envelope at the current position of dst for
// content of uncompressedSize bytes.
func NewEnvelopeWriter(dst io.WriteSeeker, uncompressedSize uint64, opts ...WriterOption) (*EnvelopeWriter, error) {
	w := &EnvelopeWriter{
		dst:   dst,
		level: DefaultCompressionLevel,
		header: EnvelopeHeader{
			Magic:        EnvelopeMagic,
			HeaderLength: 16,
			Length:       uncompressedSize,
		},
	}
	for _, opt := range opts {
		opt(w)
	}

	start, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	w.start = start

	var buf [EnvelopeHeaderSize]byte
	w.header.EncodeTo(buf[:])
	if _, err := dst.Write(buf[:]); err != nil {
		return nil, fmt.Errorf("write envelope header: %w", err)
	}
	w.zWriter = zstd.NewWriterLevel(dst, w.level)
	return w, nil
}

// Write compresses p.
func (w *EnvelopeWriter) Write(p []byte) (int, error) {
	return w.zWriter.Write(p)
}

// Close flushes the frame and patches the compressed size into the header.
func (w *EnvelopeWriter) Close() error {
	if err := w.zWriter.Close(); err != nil {
		return fmt.Errorf("close compressor: %w", err)
	}

	end, err := w.dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	w.header.CompressedLength = uint64(end - w.start - EnvelopeHeaderSize)

	if _, err := w.dst.Seek(w.start, io.SeekStart); err != nil {
		return fmt.Errorf("seek to header: %w", err)
	}
	var buf [EnvelopeHeaderSize]byte
	w.header.EncodeTo(buf[:])
	if _, err := w.dst.Write(buf[:]); err != nil {
		return fmt.Errorf("rewrite envelope header: %w", err)
	}
	if _, err := w.dst.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

// Wrap writes data to dst as one envelope.
func Wrap(dst io.WriteSeeker, data []byte, opts ...WriterOption) error {
	w, err := NewEnvelopeWriter(dst, uint64(len(data)), opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write envelope content: %w", err)
	}
	return w.Close()
}
