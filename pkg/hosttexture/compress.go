package hosttexture

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

const (
	// chunkSize is the uncompressed size of one LZ4 chunk.
	chunkSize = 64 * 1024

	chunkLast   = 0x80
	chunkStored = 0x01
	maxChunk    = 0x7FFFFF
)

var (
	// ErrChunkStream indicates a corrupt inline LZ4 chunk stream.
	ErrChunkStream = errors.New("corrupt LZ4 chunk stream")
	// ErrSizeMismatch indicates a payload that does not inflate to its
	// recorded size.
	ErrSizeMismatch = errors.New("payload size mismatch")
)

// Pack encodes raw mip bytes for storage class s.
func Pack(raw []byte, s StorageClass) ([]byte, error) {
	switch s {
	case InlineLZ4:
		return packLZ4(raw)
	case ExternalZlib:
		return packZlib(raw)
	}
	return raw, nil
}

// Unpack decodes stored bytes of storage class s back to size raw bytes.
func Unpack(stored []byte, s StorageClass, size int) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch s {
	case InlineLZ4:
		raw, err = unpackLZ4(stored, size)
	case ExternalZlib:
		raw, err = unpackZlib(stored)
	default:
		raw = stored
	}
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("%w: %s: expected %d, got %d", ErrSizeMismatch, s, size, len(raw))
	}
	return raw, nil
}

// packLZ4 writes each 64 KiB chunk as a 3-byte little-endian size, a flag
// byte and the chunk body. Chunks LZ4 cannot shrink are stored as is.
func packLZ4(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, lz4.CompressBlockBound(chunkSize))

	for i := 0; i == 0 || i < len(raw); i += chunkSize {
		end := min(i+chunkSize, len(raw))
		src := raw[i:end]

		var flags byte
		if end == len(raw) {
			flags |= chunkLast
		}

		n, err := lz4.CompressBlockHC(src, buf, 0, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		body := buf[:n]
		if n == 0 || n >= len(src) {
			flags |= chunkStored
			body = src
		}
		if len(body) > maxChunk {
			return nil, fmt.Errorf("%w: chunk of %d bytes", ErrChunkStream, len(body))
		}

		out.WriteByte(byte(len(body)))
		out.WriteByte(byte(len(body) >> 8))
		out.WriteByte(byte(len(body) >> 16))
		out.WriteByte(flags)
		out.Write(body)
		if flags&chunkLast != 0 {
			break
		}
	}
	return out.Bytes(), nil
}

func unpackLZ4(stored []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	pos, outIdx := 0, 0
	for {
		if pos+4 > len(stored) {
			return nil, fmt.Errorf("%w: truncated header at %d", ErrChunkStream, pos)
		}
		n := int(stored[pos]) | int(stored[pos+1])<<8 | int(stored[pos+2])<<16
		flags := stored[pos+3]
		pos += 4
		if flags&^(chunkLast|chunkStored) != 0 {
			return nil, fmt.Errorf("%w: flags %#02x", ErrChunkStream, flags)
		}
		if pos+n > len(stored) {
			return nil, fmt.Errorf("%w: chunk of %d bytes with %d left", ErrChunkStream, n, len(stored)-pos)
		}
		body := stored[pos : pos+n]
		pos += n

		want := min(chunkSize, size-outIdx)
		if want < 0 {
			return nil, fmt.Errorf("%w: output overrun", ErrChunkStream)
		}
		dst := out[outIdx : outIdx+want]
		if flags&chunkStored != 0 {
			if n != want {
				return nil, fmt.Errorf("%w: stored chunk of %d bytes, want %d", ErrChunkStream, n, want)
			}
			copy(dst, body)
			outIdx += n
		} else {
			got, err := lz4.UncompressBlock(body, dst)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrChunkStream, err)
			}
			outIdx += got
		}

		if flags&chunkLast != 0 {
			break
		}
	}
	if pos != len(stored) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrChunkStream, len(stored)-pos)
	}
	return out[:outIdx], nil
}

func packZlib(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func unpackZlib(stored []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return raw, nil
}
