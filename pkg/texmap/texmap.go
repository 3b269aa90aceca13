// Package texmap indexes the textures of a game installation by content
// fingerprint, listing every package export that holds each texture.
package texmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goopsie/texturepatcher/pkg/archive"
)

// Magic identifies a texture map file.
var Magic = [4]byte{'T', 'M', 'A', 'P'}

// Version is the layout version written by MarshalBinary.
const Version = 1

// ErrMalformed indicates a texture map that cannot be decoded.
var ErrMalformed = errors.New("malformed texture map")

// Occurrence locates one copy of a texture.
type Occurrence struct {
	// Package is the package path relative to the game directory, with
	// forward slashes.
	Package string
	Export  uint32
}

// Entry describes one distinct texture.
type Entry struct {
	Name        string
	CRC         uint32
	Format      string
	Width       int
	Height      int
	Occurrences []Occurrence
}

// Map is the fingerprint index.
type Map struct {
	entries []*Entry
	byCRC   map[uint32]*Entry
}

// New returns an empty map.
func New() *Map {
	return &Map{byCRC: make(map[uint32]*Entry)}
}

// Add records an occurrence of a texture, creating its entry on first use.
func (m *Map) Add(name string, crc uint32, format string, width, height int, occ Occurrence) *Entry {
	e, ok := m.byCRC[crc]
	if !ok {
		e = &Entry{Name: name, CRC: crc, Format: format, Width: width, Height: height}
		m.byCRC[crc] = e
		m.entries = append(m.entries, e)
	}
	e.Occurrences = append(e.Occurrences, occ)
	return e
}

// Lookup returns the entry with fingerprint crc.
func (m *Map) Lookup(crc uint32) (*Entry, bool) {
	e, ok := m.byCRC[crc]
	return e, ok
}

// FindByName returns every entry called name.
func (m *Map) FindByName(name string) []*Entry {
	var out []*Entry
	for _, e := range m.entries {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns all entries in insertion order.
func (m *Map) Entries() []*Entry { return m.entries }

// Len returns the number of distinct textures.
func (m *Map) Len() int { return len(m.entries) }

// Packages returns every package path referenced by the map, sorted.
func (m *Map) Packages() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.entries {
		for _, o := range e.Occurrences {
			if !seen[o.Package] {
				seen[o.Package] = true
				out = append(out, o.Package)
			}
		}
	}
	sort.Strings(out)
	return out
}

// MarshalBinary encodes the map.
func (m *Map) MarshalBinary() ([]byte, error) {
	out := append([]byte(nil), Magic[:]...)
	out = binary.LittleEndian.AppendUint32(out, Version)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(m.entries)))
	for _, e := range m.entries {
		out = appendString(out, e.Name)
		out = binary.LittleEndian.AppendUint32(out, e.CRC)
		out = appendString(out, e.Format)
		out = binary.LittleEndian.AppendUint32(out, uint32(e.Width))
		out = binary.LittleEndian.AppendUint32(out, uint32(e.Height))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(e.Occurrences)))
		for _, o := range e.Occurrences {
			out = appendString(out, o.Package)
			out = binary.LittleEndian.AppendUint32(out, o.Export)
		}
	}
	return out, nil
}

// UnmarshalBinary decodes a map produced by MarshalBinary.
func (m *Map) UnmarshalBinary(data []byte) error {
	r := &reader{data: data}
	var magic [4]byte
	copy(magic[:], r.bytes(4))
	if r.err == nil && magic != Magic {
		return fmt.Errorf("%w: bad magic %q", ErrMalformed, magic[:])
	}
	if v := r.u32(); r.err == nil && v != Version {
		return fmt.Errorf("%w: version %d", ErrMalformed, v)
	}

	*m = *New()
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		e := &Entry{}
		e.Name = r.str()
		e.CRC = r.u32()
		e.Format = r.str()
		e.Width = int(r.u32())
		e.Height = int(r.u32())
		n := r.u32()
		for j := uint32(0); j < n && r.err == nil; j++ {
			e.Occurrences = append(e.Occurrences, Occurrence{Package: r.str(), Export: r.u32()})
		}
		if r.err == nil {
			m.byCRC[e.CRC] = e
			m.entries = append(m.entries, e)
		}
	}
	if r.err != nil {
		return r.err
	}
	if r.pos != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-r.pos)
	}
	return nil
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated at %d", ErrMalformed, r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) str() string {
	b := r.bytes(2)
	if b == nil {
		return ""
	}
	return string(r.bytes(int(binary.LittleEndian.Uint16(b))))
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// ReadFile reads a texture map file.
func ReadFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open texture map: %w", err)
	}
	raw, err := archive.Unwrap(data)
	if err != nil {
		return nil, fmt.Errorf("read texture map envelope: %w", err)
	}
	m := New()
	if err := m.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("parse texture map: %w", err)
	}
	return m, nil
}

// WriteFile writes a texture map file.
func WriteFile(path string, m *Map) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal texture map: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if err := archive.Wrap(f, data); err != nil {
		return fmt.Errorf("write texture map envelope: %w", err)
	}
	return f.Close()
}
