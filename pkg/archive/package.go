package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// PackageMagic identifies a raw host package.
var PackageMagic = [4]byte{'T', 'P', 'K', 'G'}

const (
	// PackageHeaderSize is the size of the raw package header.
	PackageHeaderSize = 24 // magic, version, export count, table offset, flags
	// PackageVersion is the layout version written by Save.
	PackageVersion = 1
	// Marker is appended to packages this tool has modified.
	Marker = "TEXPATCH-MODIFIED"
	// ClassTexture is the export class of texture objects.
	ClassTexture = "Texture2D"
	// Extension is the file suffix of host packages.
	Extension = ".tpkg"
)

var (
	// ErrMalformedPackage indicates a package that cannot be decoded.
	ErrMalformedPackage = errors.New("malformed package")
	// ErrNoExport indicates an export id outside the table.
	ErrNoExport = errors.New("no such export")
	// ErrOutOfRange indicates a read outside the data arena.
	ErrOutOfRange = errors.New("range outside package data")
)

// Export is one entry of the export table.
type Export struct {
	ID     uint32
	Name   string
	Class  string
	Offset uint64
	Size   uint32
}

// Package is a host package held in memory in its raw layout.
type Package struct {
	Path    string
	Version uint32
	Flags   uint32

	// arena holds the header bytes followed by all export payloads; the
	// export table is rebuilt on save.
	arena     []byte
	exports   []*Export
	marker    bool
	enveloped bool
}

// NewPackage returns an empty package.
func NewPackage() *Package {
	return &Package{
		Version: PackageVersion,
		arena:   make([]byte, PackageHeaderSize),
	}
}

// Open reads a package from disk, unwrapping a zstd envelope if present.
func Open(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	enveloped := IsEnveloped(data)
	if enveloped {
		if data, err = Unwrap(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Path = path
	p.enveloped = enveloped
	return p, nil
}

// Parse decodes a raw package.
func Parse(data []byte) (*Package, error) {
	if len(data) < PackageHeaderSize || !bytes.Equal(data[:4], PackageMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrMalformedPackage)
	}
	p := &Package{
		Version: binary.LittleEndian.Uint32(data[4:]),
		Flags:   binary.LittleEndian.Uint32(data[20:]),
	}
	count := binary.LittleEndian.Uint32(data[8:])
	table := binary.LittleEndian.Uint64(data[12:])
	if table < PackageHeaderSize || table > uint64(len(data)) {
		return nil, fmt.Errorf("%w: table offset %d", ErrMalformedPackage, table)
	}
	p.arena = append([]byte(nil), data[:table]...)

	pos := int(table)
	for i := uint32(0); i < count; i++ {
		e := &Export{ID: i}
		var err error
		if e.Name, pos, err = readString(data, pos); err != nil {
			return nil, fmt.Errorf("%w: export %d name: %w", ErrMalformedPackage, i, err)
		}
		if e.Class, pos, err = readString(data, pos); err != nil {
			return nil, fmt.Errorf("%w: export %d class: %w", ErrMalformedPackage, i, err)
		}
		if pos+12 > len(data) {
			return nil, fmt.Errorf("%w: export %d truncated", ErrMalformedPackage, i)
		}
		e.Offset = binary.LittleEndian.Uint64(data[pos:])
		e.Size = binary.LittleEndian.Uint32(data[pos+8:])
		pos += 12
		if e.Offset < PackageHeaderSize || e.Offset+uint64(e.Size) > table {
			return nil, fmt.Errorf("%w: export %d at %d+%d outside arena", ErrMalformedPackage, i, e.Offset, e.Size)
		}
		p.exports = append(p.exports, e)
	}

	switch rest := data[pos:]; {
	case len(rest) == 0:
	case string(rest) == Marker:
		p.marker = true
	default:
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPackage, len(rest))
	}
	return p, nil
}

func readString(data []byte, pos int) (string, int, error) {
	if pos+2 > len(data) {
		return "", 0, errors.New("truncated length")
	}
	n := int(binary.LittleEndian.Uint16(data[pos:]))
	pos += 2
	if pos+n > len(data) {
		return "", 0, errors.New("truncated string")
	}
	return string(data[pos : pos+n]), pos + n, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// Exports returns the export table in id order.
func (p *Package) Exports() []*Export { return p.exports }

// Export returns the export with the given id.
func (p *Package) Export(id uint32) (*Export, error) {
	if int(id) >= len(p.exports) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoExport, id, len(p.exports))
	}
	return p.exports[id], nil
}

// ExportData returns a copy of an export's payload.
func (p *Package) ExportData(id uint32) ([]byte, error) {
	e, err := p.Export(id)
	if err != nil {
		return nil, err
	}
	return p.ReadRange(e.Offset, int(e.Size))
}

// ExportDataOffset returns the absolute offset of an export's payload.
func (p *Package) ExportDataOffset(id uint32) (uint64, error) {
	e, err := p.Export(id)
	if err != nil {
		return 0, err
	}
	return e.Offset, nil
}

// SetExportData replaces an export's payload. Data that fits in the
// current slot is written in place; larger data is appended to the arena.
// It returns the payload's new absolute offset.
func (p *Package) SetExportData(id uint32, data []byte) (uint64, error) {
	e, err := p.Export(id)
	if err != nil {
		return 0, err
	}
	if len(data) <= int(e.Size) {
		copy(p.arena[e.Offset:], data)
		e.Size = uint32(len(data))
		return e.Offset, nil
	}
	off, err := p.appendData(data)
	if err != nil {
		return 0, err
	}
	e.Offset, e.Size = off, uint32(len(data))
	return off, nil
}

func (p *Package) appendData(data []byte) (uint64, error) {
	off := uint64(len(p.arena))
	if off+uint64(len(data)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: package would exceed 4 GiB", ErrOutOfRange)
	}
	p.arena = append(p.arena, data...)
	return off, nil
}

// AddExport appends a new export and returns its id.
func (p *Package) AddExport(name, class string, data []byte) (uint32, error) {
	off, err := p.appendData(data)
	if err != nil {
		return 0, err
	}
	id := uint32(len(p.exports))
	p.exports = append(p.exports, &Export{ID: id, Name: name, Class: class, Offset: off, Size: uint32(len(data))})
	return id, nil
}

// ReadRange returns a copy of n bytes at an absolute offset.
func (p *Package) ReadRange(offset uint64, n int) ([]byte, error) {
	if n < 0 || offset < PackageHeaderSize || offset+uint64(n) > uint64(len(p.arena)) {
		return nil, fmt.Errorf("%w: %d+%d of %d", ErrOutOfRange, offset, n, len(p.arena))
	}
	return append([]byte(nil), p.arena[offset:offset+uint64(n)]...), nil
}

// HasMarker reports whether the package carries the modification marker.
func (p *Package) HasMarker() bool { return p.marker }

// Enveloped reports whether the package was read from a zstd envelope.
func (p *Package) Enveloped() bool { return p.enveloped }

// Bytes encodes the package in its raw layout.
func (p *Package) Bytes() []byte {
	out := append([]byte(nil), p.arena...)
	copy(out[0:4], PackageMagic[:])
	binary.LittleEndian.PutUint32(out[4:], p.Version)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(p.exports)))
	binary.LittleEndian.PutUint64(out[12:], uint64(len(p.arena)))
	binary.LittleEndian.PutUint32(out[20:], p.Flags)

	for _, e := range p.exports {
		out = appendString(out, e.Name)
		out = appendString(out, e.Class)
		out = binary.LittleEndian.AppendUint64(out, e.Offset)
		out = binary.LittleEndian.AppendUint32(out, e.Size)
	}
	if p.marker {
		out = append(out, Marker...)
	}
	return out
}

// SaveOptions controls Save.
type SaveOptions struct {
	// Compress wraps the package in a zstd envelope.
	Compress bool
	// AppendMarker adds the modification marker.
	AppendMarker bool
	// Level is the zstd level; zero selects DefaultCompressionLevel.
	Level int
}

// Save writes the package to path, or to p.Path when path is empty. The
// file is replaced atomically.
func (p *Package) Save(path string, opts SaveOptions) error {
	if path == "" {
		path = p.Path
	}
	if opts.AppendMarker {
		p.marker = true
	}
	raw := p.Bytes()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if opts.Compress {
		level := opts.Level
		if level == 0 {
			level = DefaultCompressionLevel
		}
		err = Wrap(tmp, raw, WithCompressionLevel(level))
	} else {
		_, err = tmp.Write(raw)
	}
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write package: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close package: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace package: %w", err)
	}
	p.Path = path
	p.enveloped = opts.Compress
	return nil
}
