package texmap

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/goopsie/texturepatcher/pkg/archive"
	"github.com/goopsie/texturepatcher/pkg/hosttexture"
	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/props"
)

// Fingerprint returns the content fingerprint of a texture: the checksum of
// its top mip's raw payload. External mips are read from cacheDir.
func Fingerprint(tex *hosttexture.Texture, cacheDir string) (uint32, error) {
	if len(tex.Mips) == 0 {
		return 0, fmt.Errorf("%w: no mips", hosttexture.ErrMalformed)
	}
	top, err := tex.MipPayload(0, cacheDir)
	if err != nil {
		return 0, err
	}
	return pixel.Checksum(top), nil
}

// Scan walks gameDir for packages and indexes every texture export.
// Unreadable packages and textures are logged and skipped.
func Scan(gameDir string, log zerolog.Logger) (*Map, error) {
	m := New()

	var paths []string
	err := filepath.WalkDir(gameDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), archive.Extension) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", gameDir, err)
	}

	for _, path := range paths {
		rel, err := filepath.Rel(gameDir, path)
		if err != nil {
			return nil, fmt.Errorf("failed to get relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		pkg, err := archive.Open(path)
		if err != nil {
			log.Warn().Err(err).Str("package", rel).Msg("skipping unreadable package")
			continue
		}
		for _, e := range pkg.Exports() {
			if e.Class != archive.ClassTexture {
				continue
			}
			if err := scanExport(m, pkg, e, rel, gameDir); err != nil {
				log.Warn().Err(err).Str("package", rel).Uint32("export", e.ID).Msg("skipping texture")
			}
		}
		log.Debug().Str("package", rel).Int("textures", m.Len()).Msg("scanned package")
	}
	return m, nil
}

func scanExport(m *Map, pkg *archive.Package, e *archive.Export, rel, cacheDir string) error {
	data, err := pkg.ExportData(e.ID)
	if err != nil {
		return err
	}
	tex, err := hosttexture.Parse(data)
	if err != nil {
		return err
	}
	crc, err := Fingerprint(tex, cacheDir)
	if err != nil {
		return err
	}
	m.Add(e.Name, crc, tex.Props.Name(props.Format), tex.Width(), tex.Height(), Occurrence{Package: rel, Export: e.ID})
	return nil
}
