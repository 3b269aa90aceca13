// Package tfc manages texture cache files: flat files holding a 16-byte GUID
// followed by mip payloads addressed by byte offset.
//
// A Store appends to a sequence of cache files named <base>0, <base>1, ...
// and moves to the next one once an append would push the current file past
// its size ceiling. Offsets handed out are never invalidated by later writes.
package tfc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/goopsie/texturepatcher/pkg/props"
)

const (
	// Extension is the cache file suffix.
	Extension = ".tfc"
	// HeaderSize is the size of the GUID at the head of every cache file.
	HeaderSize = 16
	// DefaultMaxSize is the largest offset the engine can address.
	DefaultMaxSize = math.MaxInt32
	// MaxFiles bounds the number of cache files a Store may create.
	MaxFiles = 100
)

var (
	// ErrExhausted indicates that no cache file can take the payload.
	ErrExhausted = errors.New("texture cache space exhausted")
	// ErrForeignFile indicates a cache file whose GUID is not ours.
	ErrForeignFile = errors.New("cache file has unexpected GUID")
	// ErrShortRead indicates a read past the end of a cache file.
	ErrShortRead = errors.New("cache read out of range")
)

var sentinelBase = props.GUID{'T', 'E', 'X', 'P', 'A', 'T', 'C', 'H', '-', 'C', 'A', 'C', 'H', 'E', 0, 0}

// SentinelGUID returns the GUID written into our cache file number index.
func SentinelGUID(index int) props.GUID {
	g := sentinelBase
	g[15] = byte(index)
	return g
}

// FileName returns the cache name of file number index.
func FileName(base string, index int) string {
	return fmt.Sprintf("%s%d", base, index)
}

// Path returns the path of the cache file called name inside dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+Extension)
}

// Location addresses one payload.
type Location struct {
	Name   string
	GUID   props.GUID
	Offset uint32
	Size   uint32
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize sets the size ceiling of each cache file.
func WithMaxSize(n int64) Option {
	return func(s *Store) {
		s.maxSize = n
	}
}

// WithLogger sets the logger used for rotation messages.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// Store appends payloads to a rotating sequence of cache files.
type Store struct {
	dir     string
	base    string
	maxSize int64
	log     zerolog.Logger

	file   *os.File
	index  int
	offset int64
}

// NewStore returns a Store writing <base>N.tfc files into dir. Files are
// opened lazily on the first Append.
func NewStore(dir, base string, opts ...Option) *Store {
	s := &Store{
		dir:     dir,
		base:    base,
		maxSize: DefaultMaxSize,
		log:     zerolog.Nop(),
		index:   -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append writes data to the current cache file, rotating first when it
// would not fit, and returns where it landed.
func (s *Store) Append(data []byte) (Location, error) {
	locs, err := s.AppendGroup([][]byte{data})
	if err != nil {
		return Location{}, err
	}
	return locs[0], nil
}

// AppendGroup writes payloads back to back into a single cache file,
// rotating first when the group would not fit in the current one.
func (s *Store) AppendGroup(payloads [][]byte) ([]Location, error) {
	var total int64
	for _, p := range payloads {
		total += int64(len(p))
	}
	if HeaderSize+total > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceed file ceiling %d", ErrExhausted, total, s.maxSize)
	}

	index := max(s.index, 0)
	for {
		if s.file == nil || s.index != index {
			if err := s.open(index); err != nil {
				return nil, err
			}
		}
		if s.offset+total <= s.maxSize {
			break
		}
		index++
		s.log.Info().Str("cache", FileName(s.base, index)).Msg("rotating texture cache file")
	}

	locs := make([]Location, 0, len(payloads))
	for _, p := range payloads {
		if _, err := s.file.Write(p); err != nil {
			return nil, fmt.Errorf("write %s: %w", s.file.Name(), err)
		}
		locs = append(locs, Location{
			Name:   FileName(s.base, s.index),
			GUID:   SentinelGUID(s.index),
			Offset: uint32(s.offset),
			Size:   uint32(len(p)),
		})
		s.offset += int64(len(p))
	}
	return locs, nil
}

// open makes file number index current, creating it with its GUID header
// or verifying the header of an existing one.
func (s *Store) open(index int) error {
	if index >= MaxFiles {
		return fmt.Errorf("%w: %d cache files in use", ErrExhausted, MaxFiles)
	}
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	path := Path(s.dir, FileName(s.base, index))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open cache file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat cache file: %w", err)
	}

	want := SentinelGUID(index)
	size := stat.Size()
	if size == 0 {
		if _, err := f.Write(want[:]); err != nil {
			f.Close()
			return fmt.Errorf("write cache header: %w", err)
		}
		size = HeaderSize
		s.log.Debug().Str("path", path).Msg("created texture cache file")
	} else {
		var got props.GUID
		if _, err := f.ReadAt(got[:], 0); err != nil {
			f.Close()
			return fmt.Errorf("read cache header: %w", err)
		}
		if got != want {
			f.Close()
			return fmt.Errorf("%w: %s", ErrForeignFile, path)
		}
	}

	s.file = f
	s.index = index
	s.offset = size
	return nil
}

// Close closes the current cache file.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadGUID returns the GUID at the head of a cache file.
func ReadGUID(path string) (props.GUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return props.GUID{}, err
	}
	defer f.Close()

	var g props.GUID
	if _, err := io.ReadFull(f, g[:]); err != nil {
		return props.GUID{}, fmt.Errorf("read cache header: %w", err)
	}
	return g, nil
}

// ReadAt reads size bytes at offset from the cache file called name in dir.
// It works on game-owned cache files as well as ours.
func ReadAt(dir, name string, offset int64, size int) ([]byte, error) {
	f, err := os.Open(Path(dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if offset < HeaderSize {
		return nil, fmt.Errorf("%w: offset %d inside header", ErrShortRead, offset)
	}
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if n < size {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrShortRead
		}
		return nil, fmt.Errorf("%s@%d+%d: %w", name, offset, size, err)
	}
	return buf, nil
}

// Contains reports whether the payload at loc equals data.
func Contains(dir string, loc Location, data []byte) (bool, error) {
	got, err := ReadAt(dir, loc.Name, int64(loc.Offset), int(loc.Size))
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, data), nil
}
