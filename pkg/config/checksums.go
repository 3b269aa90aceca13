package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Checksum records the mip fingerprints written for one texture.
type Checksum struct {
	CRC  uint32   `toml:"crc"`
	Mips []uint32 `toml:"mips"`
}

type checksumFile struct {
	Checksums []Checksum `toml:"checksum"`
}

// WriteChecksums stores the fingerprint table of a batch run so that a
// later verify pass can check the game files against it.
func WriteChecksums(path string, sums map[uint32][]uint32) error {
	var f checksumFile
	for crc, mips := range sums {
		f.Checksums = append(f.Checksums, Checksum{CRC: crc, Mips: mips})
	}
	sort.Slice(f.Checksums, func(i, j int) bool { return f.Checksums[i].CRC < f.Checksums[j].CRC })

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode checksums: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checksums: %w", err)
	}
	return nil
}

// ReadChecksums loads a table written by WriteChecksums.
func ReadChecksums(path string) (map[uint32][]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	var f checksumFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: checksums: %w", ErrInvalid, err)
	}
	sums := make(map[uint32][]uint32, len(f.Checksums))
	for _, c := range f.Checksums {
		sums[c.CRC] = c.Mips
	}
	return sums, nil
}
