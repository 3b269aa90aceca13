// Package config reads batch description files.
//
// A batch file is TOML with an [options] table and one [[texture]] table
// per replacement:
//
//	[options]
//	game_dir = "C:/Games/Example/CookedPC"
//	verify = true
//
//	[[texture]]
//	name = "Wall_Diffuse"
//	crc = 0x1A2B3C4D
//	file = "wall.dds"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/goopsie/texturepatcher/pkg/replace"
	"github.com/goopsie/texturepatcher/pkg/texmap"
)

// DefaultMapFile is the texture map file name used when none is configured.
const DefaultMapFile = "texturemap.bin"

var (
	// ErrInvalid indicates a batch file that parses but cannot be used.
	ErrInvalid = errors.New("invalid batch file")
	// ErrAmbiguous indicates a texture name matching more than one map entry.
	ErrAmbiguous = errors.New("texture name is ambiguous")
)

// Options mirrors the [options] table.
type Options struct {
	GameDir            string `toml:"game_dir"`
	MapFile            string `toml:"map_file"`
	CacheName          string `toml:"cache_name"`
	AppendMarker       bool   `toml:"append_marker"`
	Verify             bool   `toml:"verify"`
	CacheMemoryPercent int    `toml:"cache_memory_percent"`
	CompressPackages   bool   `toml:"compress_packages"`
	HighQuality        bool   `toml:"high_quality"`
	Workers            int    `toml:"workers"`
}

// Texture is one [[texture]] entry. Either Name or CRC identifies the game
// texture; CRC wins when both are set.
type Texture struct {
	Name string `toml:"name"`
	CRC  uint32 `toml:"crc"`
	File string `toml:"file"`
}

// Batch is a parsed batch file.
type Batch struct {
	Options  Options   `toml:"options"`
	Textures []Texture `toml:"texture"`

	// dir is the directory relative paths are resolved against.
	dir string
}

// Parse decodes a batch description. Relative paths resolve against dir.
func Parse(data []byte, dir string) (*Batch, error) {
	var b Batch
	if err := toml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	b.dir = dir
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Load reads and parses the batch file at path.
func Load(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Validate checks the fields a batch cannot run without.
func (b *Batch) Validate() error {
	if b.Options.GameDir == "" {
		return fmt.Errorf("%w: options.game_dir is required", ErrInvalid)
	}
	if p := b.Options.CacheMemoryPercent; p < 0 || p > 100 {
		return fmt.Errorf("%w: options.cache_memory_percent %d out of range", ErrInvalid, p)
	}
	if b.Options.Workers < 0 {
		return fmt.Errorf("%w: options.workers must not be negative", ErrInvalid)
	}
	for i, t := range b.Textures {
		if t.File == "" {
			return fmt.Errorf("%w: texture %d has no file", ErrInvalid, i)
		}
		if t.Name == "" && t.CRC == 0 {
			return fmt.Errorf("%w: texture %d needs a name or crc", ErrInvalid, i)
		}
	}
	return nil
}

func (b *Batch) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.dir, path)
}

// GameDir returns the game directory.
func (b *Batch) GameDir() string { return b.resolve(b.Options.GameDir) }

// MapFile returns the texture map path, defaulting to a file in the game
// directory.
func (b *Batch) MapFile() string {
	if b.Options.MapFile == "" {
		return filepath.Join(b.GameDir(), DefaultMapFile)
	}
	return b.resolve(b.Options.MapFile)
}

// ReplaceOptions converts the [options] table for a batch run.
func (b *Batch) ReplaceOptions(log zerolog.Logger) replace.Options {
	o := b.Options
	return replace.Options{
		GameDir:                  b.GameDir(),
		CacheName:                o.CacheName,
		AppendMarkerOnSave:       o.AppendMarker,
		VerifyAfterWrite:         o.Verify,
		CompressPackages:         o.CompressPackages,
		CacheMemoryBudgetPercent: o.CacheMemoryPercent,
		HighQuality:              o.HighQuality,
		Workers:                  o.Workers,
		Logger:                   log,
	}
}

// Jobs turns the [[texture]] entries into replacement jobs. Entries given
// only by name are looked up in idx.
func (b *Batch) Jobs(idx *texmap.Map) ([]*replace.Job, error) {
	jobs := make([]*replace.Job, 0, len(b.Textures))
	for _, t := range b.Textures {
		crc := t.CRC
		if crc == 0 {
			if idx == nil {
				return nil, fmt.Errorf("%w: %s has no crc and no texture map is loaded", ErrInvalid, t.Name)
			}
			matches := idx.FindByName(t.Name)
			switch len(matches) {
			case 0:
				return nil, fmt.Errorf("%w: %s", replace.ErrNotInMap, t.Name)
			case 1:
				crc = matches[0].CRC
			default:
				return nil, fmt.Errorf("%w: %s has %d variants, set crc", ErrAmbiguous, t.Name, len(matches))
			}
		}
		jobs = append(jobs, &replace.Job{Name: t.Name, CRC: crc, Path: b.resolve(t.File)})
	}
	return jobs, nil
}
