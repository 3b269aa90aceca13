package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
)

// DefaultCompressionLevel is the zstd level used for envelopes.
const DefaultCompressionLevel = zstd.BestSpeed

// EnvelopeReader decompresses the content of an envelope.
type EnvelopeReader struct {
	header  EnvelopeHeader
	zReader io.ReadCloser
}

// NewEnvelopeReader reads and validates the envelope header from r and
// returns a reader over the decompressed content.
func NewEnvelopeReader(r io.Reader) (*EnvelopeReader, error) {
	var buf [EnvelopeHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("read envelope header: %w", err)
	}
	er := &EnvelopeReader{}
	if err := er.header.UnmarshalBinary(buf[:]); err != nil {
		return nil, fmt.Errorf("parse envelope header: %w", err)
	}
	er.zReader = zstd.NewReader(r)
	return er, nil
}

// Header returns the envelope header.
func (r *EnvelopeReader) Header() EnvelopeHeader { return r.header }

// Read reads decompressed data into p.
func (r *EnvelopeReader) Read(p []byte) (int, error) {
	return r.zReader.Read(p)
}

// Close releases the decompressor.
func (r *EnvelopeReader) Close() error {
	return r.zReader.Close()
}

// Unwrap returns the content of an enveloped buffer.
func Unwrap(data []byte) ([]byte, error) {
	r, err := NewEnvelopeReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	defer r.Close()

	h := r.header
	if h.Length > MaxEnvelopeLength {
		return nil, fmt.Errorf("%w: uncompressed size %d exceeds %d", ErrMalformedEnvelope, h.Length, uint64(MaxEnvelopeLength))
	}
	if h.CompressedLength > uint64(len(data)-EnvelopeHeaderSize) {
		return nil, fmt.Errorf("%w: compressed size %d, only %d bytes follow the header",
			ErrMalformedEnvelope, h.CompressedLength, len(data)-EnvelopeHeaderSize)
	}

	out, err := io.ReadAll(io.LimitReader(r, int64(h.Length)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read content: %w", ErrMalformedEnvelope, err)
	}
	if uint64(len(out)) != h.Length {
		return nil, fmt.Errorf("%w: content is %d bytes, header says %d", ErrMalformedEnvelope, len(out), h.Length)
	}
	return out, nil
}
