// Package archive reads and writes host packages: a header, a data arena
// holding export payloads, and an export table. Packages on disk may be
// wrapped in a zstd envelope; offsets always refer to the unwrapped layout.
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedEnvelope indicates an envelope whose header disagrees with
// its content.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// EnvelopeMagic identifies a zstd envelope.
var EnvelopeMagic = [4]byte{0x5a, 0x53, 0x54, 0x44} // "ZSTD"

// EnvelopeHeaderSize is the fixed binary size of an envelope header.
const EnvelopeHeaderSize = 24 // 4 + 4 + 8 + 8 bytes

// MaxEnvelopeLength caps the uncompressed size Unwrap accepts.
// Inline mip offsets are 32-bit.
const MaxEnvelopeLength = math.MaxUint32

// EnvelopeHeader precedes the zstd frame of an enveloped file.
type EnvelopeHeader struct {
	Magic            [4]byte
	HeaderLength     uint32
	Length           uint64 // Uncompressed size
	CompressedLength uint64 // Compressed size
}

// Validate checks the header for validity.
func (h *EnvelopeHeader) Validate() error {
	if h.Magic != EnvelopeMagic {
		return fmt.Errorf("invalid envelope magic: expected %x, got %x", EnvelopeMagic, h.Magic)
	}
	if h.HeaderLength != 16 {
		return fmt.Errorf("invalid envelope header length: expected 16, got %d", h.HeaderLength)
	}
	if h.Length == 0 {
		return fmt.Errorf("uncompressed size is zero")
	}
	return nil
}

// EncodeTo writes the header to buf, which must hold EnvelopeHeaderSize bytes.
func (h *EnvelopeHeader) EncodeTo(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.HeaderLength)
	binary.LittleEndian.PutUint64(buf[8:16], h.Length)
	binary.LittleEndian.PutUint64(buf[16:24], h.CompressedLength)
}

// UnmarshalBinary decodes and validates the header.
func (h *EnvelopeHeader) UnmarshalBinary(data []byte) error {
	if len(data) < EnvelopeHeaderSize {
		return fmt.Errorf("envelope header too short: need %d, got %d", EnvelopeHeaderSize, len(data))
	}
	copy(h.Magic[:], data[0:4])
	h.HeaderLength = binary.LittleEndian.Uint32(data[4:8])
	h.Length = binary.LittleEndian.Uint64(data[8:16])
	h.CompressedLength = binary.LittleEndian.Uint64(data[16:24])
	return h.Validate()
}

// IsEnveloped reports whether data starts with an envelope header.
func IsEnveloped(data []byte) bool {
	return len(data) >= EnvelopeHeaderSize && bytes.Equal(data[:4], EnvelopeMagic[:])
}
