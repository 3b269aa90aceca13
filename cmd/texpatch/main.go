// Package main provides a command-line tool for patching replacement
// textures into a game installation.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/goopsie/texturepatcher/pkg/config"
	"github.com/goopsie/texturepatcher/pkg/replace"
	"github.com/goopsie/texturepatcher/pkg/texmap"
)

var (
	mode      string
	batchFile string
	gameDir   string
	mapFile   string
	sumsFile  string
	verbose   bool
	rescan    bool
)

func init() {
	flag.StringVar(&mode, "mode", "", "Operation mode: scan, replace, verify")
	flag.StringVar(&batchFile, "batch", "", "Batch description file (TOML) for replace and verify")
	flag.StringVar(&gameDir, "game", "", "Game directory for scan mode")
	flag.StringVar(&mapFile, "map", "", "Texture map file (default: texturemap.bin in the game directory)")
	flag.StringVar(&sumsFile, "checksums", "", "Checksum table written by replace and read by verify")
	flag.BoolVar(&verbose, "verbose", false, "Log debug output")
	flag.BoolVar(&rescan, "rescan", false, "Rebuild the texture map before replacing")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := validateFlags(); err != nil {
		flag.Usage()
		return err
	}

	log := newLogger()
	switch mode {
	case "scan":
		return runScan(log)
	case "replace":
		return runReplace(log)
	case "verify":
		return runVerify(log)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

func validateFlags() error {
	if mode == "" {
		return fmt.Errorf("mode is required")
	}

	switch mode {
	case "scan":
		if gameDir == "" {
			return fmt.Errorf("scan mode requires -game")
		}
	case "replace":
		if batchFile == "" {
			return fmt.Errorf("replace mode requires -batch")
		}
	case "verify":
		if batchFile == "" || sumsFile == "" {
			return fmt.Errorf("verify mode requires -batch and -checksums")
		}
	default:
		return fmt.Errorf("mode must be 'scan', 'replace' or 'verify'")
	}

	return nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func runScan(log zerolog.Logger) error {
	m, err := texmap.Scan(gameDir, log)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	out := mapFile
	if out == "" {
		out = filepath.Join(gameDir, config.DefaultMapFile)
	}
	if err := texmap.WriteFile(out, m); err != nil {
		return fmt.Errorf("write texture map: %w", err)
	}

	fmt.Printf("Indexed %d textures in %d packages\n", m.Len(), len(m.Packages()))
	fmt.Printf("Texture map written to %s\n", out)
	return nil
}

func loadBatch() (*config.Batch, string, error) {
	b, err := config.Load(batchFile)
	if err != nil {
		return nil, "", err
	}
	path := mapFile
	if path == "" {
		path = b.MapFile()
	}
	return b, path, nil
}

// loadMap reads the texture map, building and saving it when it does not
// exist yet or when a rescan was requested.
func loadMap(path, game string, log zerolog.Logger) (*texmap.Map, error) {
	if !rescan {
		m, err := texmap.ReadFile(path)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read texture map: %w", err)
		}
	}

	log.Info().Str("game", game).Msg("building texture map")
	m, err := texmap.Scan(game, log)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := texmap.WriteFile(path, m); err != nil {
		return nil, fmt.Errorf("write texture map: %w", err)
	}
	return m, nil
}

func runReplace(log zerolog.Logger) error {
	b, path, err := loadBatch()
	if err != nil {
		return err
	}
	idx, err := loadMap(path, b.GameDir(), log)
	if err != nil {
		return err
	}
	jobs, err := b.Jobs(idx)
	if err != nil {
		return err
	}

	opts := b.ReplaceOptions(log)
	opts.Progress = func(done, total int) {
		fmt.Fprintf(os.Stderr, "\rPatching %d/%d", done, total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}

	// Recording checksums needs the verification table even when the
	// batch itself does not verify.
	if sumsFile != "" {
		opts.VerifyAfterWrite = true
	}

	res, runErr := replace.Run(idx, jobs, opts)
	if res != nil {
		for _, e := range res.Errors {
			fmt.Printf("  skipped: %s\n", e)
		}
		if sumsFile != "" && len(res.Checksums) > 0 {
			if err := config.WriteChecksums(sumsFile, res.Checksums); err != nil {
				return err
			}
		}
	}
	if runErr != nil {
		return fmt.Errorf("replace: %w", runErr)
	}

	fmt.Printf("Replacement complete: %d textures, %d problems\n", len(jobs), len(res.Errors))
	return nil
}

func runVerify(log zerolog.Logger) error {
	b, path, err := loadBatch()
	if err != nil {
		return err
	}
	idx, err := texmap.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read texture map: %w", err)
	}
	sums, err := config.ReadChecksums(sumsFile)
	if err != nil {
		return err
	}

	problems, err := replace.Verify(idx, sums, b.ReplaceOptions(log))
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	for _, p := range problems {
		fmt.Printf("  mismatch: %s\n", p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d textures failed verification", len(problems))
	}

	fmt.Printf("Verified %d textures\n", len(sums))
	return nil
}
