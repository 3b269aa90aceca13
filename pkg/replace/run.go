package replace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/goopsie/texturepatcher/pkg/archive"
	"github.com/goopsie/texturepatcher/pkg/blocks"
	"github.com/goopsie/texturepatcher/pkg/codec"
	"github.com/goopsie/texturepatcher/pkg/hosttexture"
	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/resolver"
	"github.com/goopsie/texturepatcher/pkg/texmap"
	"github.com/goopsie/texturepatcher/pkg/tfc"
)

// Result is the outcome of a batch.
type Result struct {
	// Errors holds one line per texture occurrence that was skipped.
	Errors []string
	// Checksums maps a job's fingerprint to the fingerprints of the mips
	// written for it. Filled when verification is requested.
	Checksums map[uint32][]uint32
}

type work struct {
	job    *Job
	export uint32
}

type runner struct {
	opts   Options
	log    zerolog.Logger
	ctx    *BatchContext
	engine *blocks.Engine
	store  *tfc.Store
	res    *Result
	// skipped holds the occurrences left untouched, which verification ignores.
	skipped map[texmap.Occurrence]bool
}

// Run patches every occurrence of every job into the game. Per-texture
// failures are collected in the result; a fatal error stops the batch and
// is returned together with the partial result.
func Run(idx *texmap.Map, jobs []*Job, opts Options) (*Result, error) {
	r := &runner{
		opts:   opts,
		log:    opts.Logger,
		ctx:    NewBatchContext(opts.CacheBudget(), opts.Logger),
		engine: blocks.New(codec.Default(opts.HighQuality), blocks.WithParallelism(opts.Workers)),
		res:    &Result{Checksums: make(map[uint32][]uint32)},

		skipped: make(map[texmap.Occurrence]bool),
	}
	storeOpts := []tfc.Option{tfc.WithLogger(opts.Logger)}
	if opts.CacheMaxSize > 0 {
		storeOpts = append(storeOpts, tfc.WithMaxSize(opts.CacheMaxSize))
	}
	r.store = tfc.NewStore(opts.GameDir, opts.cacheName(), storeOpts...)
	defer r.store.Close()

	order, byPackage, total := r.plan(idx, jobs)
	done := 0
	for _, rel := range order {
		if err := r.runPackage(rel, byPackage[rel], &done, total); err != nil {
			return r.res, err
		}
	}

	if err := r.store.Close(); err != nil {
		return r.res, fmt.Errorf("close cache file: %w", err)
	}
	if opts.VerifyAfterWrite {
		problems, err := verify(idx, r.res.Checksums, opts, r.skipped)
		if err != nil {
			return r.res, err
		}
		r.res.Errors = append(r.res.Errors, problems...)
	}
	return r.res, nil
}

// plan groups the occurrences of all jobs by package, keeping packages in
// the order the jobs first reference them.
func (r *runner) plan(idx *texmap.Map, jobs []*Job) ([]string, map[string][]work, int) {
	var order []string
	byPackage := make(map[string][]work)
	seen := make(map[uint32]bool)
	total := 0
	for _, job := range jobs {
		if seen[job.CRC] {
			r.fail(job, "", 0, fmt.Errorf("duplicate job for fingerprint %08x", job.CRC))
			continue
		}
		seen[job.CRC] = true

		entry, ok := idx.Lookup(job.CRC)
		if !ok {
			r.fail(job, "", 0, fmt.Errorf("%w: %08x", ErrNotInMap, job.CRC))
			continue
		}
		if job.Name == "" {
			job.Name = entry.Name
		}
		r.ctx.Register(job, len(entry.Occurrences))
		for _, occ := range entry.Occurrences {
			if _, ok := byPackage[occ.Package]; !ok {
				order = append(order, occ.Package)
			}
			byPackage[occ.Package] = append(byPackage[occ.Package], work{job: job, export: occ.Export})
			total++
		}
	}
	return order, byPackage, total
}

func (r *runner) runPackage(rel string, works []work, done *int, total int) error {
	log := r.log.With().Str("package", rel).Logger()
	progress := func() {
		*done++
		if r.opts.Progress != nil {
			r.opts.Progress(*done, total)
		}
	}

	pkg, err := archive.Open(filepath.Join(r.opts.GameDir, filepath.FromSlash(rel)))
	if err != nil {
		for _, w := range works {
			r.fail(w.job, rel, w.export, fmt.Errorf("%w: %w", ErrBrokenObject, err))
			r.ctx.Finish(w.job)
			progress()
		}
		return nil
	}

	patched := 0
	for _, w := range works {
		err := r.patch(pkg, w.export, w.job)
		r.ctx.Finish(w.job)
		progress()
		if err != nil {
			if IsFatal(err) {
				return fmt.Errorf("%s export %d: %w", rel, w.export, err)
			}
			r.fail(w.job, rel, w.export, err)
			continue
		}
		patched++
	}
	if patched == 0 {
		return nil
	}

	err = pkg.Save("", archive.SaveOptions{
		Compress:     r.opts.CompressPackages || pkg.Enveloped(),
		AppendMarker: r.opts.AppendMarkerOnSave,
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", rel, err)
	}
	log.Info().Int("textures", patched).Msg("saved package")
	return nil
}

// patch replaces the texture in export id with job's asset.
func (r *runner) patch(pkg *archive.Package, id uint32, job *Job) error {
	data, err := pkg.ExportData(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBrokenObject, err)
	}
	tex, err := hosttexture.Parse(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBrokenObject, err)
	}
	if len(tex.Mips) == 0 {
		return fmt.Errorf("%w: texture has no mips", ErrBrokenObject)
	}

	img, err := job.load()
	if err != nil {
		return err
	}
	host := shapeOf(tex)
	if err := checkAspect(img, host); err != nil {
		return err
	}

	// The storage plan depends on the original mips, so take it from a
	// copy before the mip table is replaced.
	orig := &hosttexture.Texture{Props: tex.Props.Clone(), Mips: tex.Mips}

	log := r.log.With().Str("texture", job.Name).Uint32("export", id).Logger()
	decision := resolver.Apply(tex.Props, img.Format, log)

	set, err := r.ctx.Acquire(job, func() (*MipSet, error) {
		return buildMipSet(r.engine, img, decision.Format, host)
	})
	if err != nil {
		return err
	}
	if set.Format != decision.Format {
		return fmt.Errorf("%w: resolved to %s but other copies use %s", ErrMalformedInput, decision.Format, set.Format)
	}

	mips, placed, err := r.place(job, set, storagePlan(orig, len(set.Mips)))
	if err != nil {
		return err
	}
	tex.Mips = mips
	updateProps(tex, placed)
	if err := install(pkg, id, tex); err != nil {
		return err
	}

	if r.opts.VerifyAfterWrite {
		r.res.Checksums[job.CRC] = append([]uint32(nil), set.Checksums...)
	}
	log.Debug().Stringer("format", set.Format).Int("mips", len(mips)).Msg("patched texture")
	return nil
}

func (r *runner) fail(job *Job, rel string, id uint32, err error) {
	var line string
	if rel == "" {
		line = fmt.Sprintf("%s: %v", job.Name, err)
	} else {
		line = fmt.Sprintf("%s (%s export %d): %v", job.Name, rel, id, err)
	}
	r.res.Errors = append(r.res.Errors, line)
	if rel != "" {
		r.skipped[texmap.Occurrence{Package: rel, Export: id}] = true
	}
	r.log.Warn().Err(err).Str("texture", job.Name).Str("package", rel).Msg("texture skipped")
}

// Verify re-reads every texture recorded in checksums and compares each
// stored mip with its recorded fingerprint. Inline mips are read at their
// recorded package offsets and external mips from their cache files.
func Verify(idx *texmap.Map, checksums map[uint32][]uint32, opts Options) ([]string, error) {
	return verify(idx, checksums, opts, nil)
}

func verify(idx *texmap.Map, checksums map[uint32][]uint32, opts Options, skip map[texmap.Occurrence]bool) ([]string, error) {
	if idx == nil {
		return nil, errors.New("verify: no texture map")
	}

	var (
		order     []string
		byPackage = make(map[string][]texmap.Occurrence)
		sums      = make(map[texmap.Occurrence][]uint32)
		names     = make(map[texmap.Occurrence]string)
	)
	for crc, want := range checksums {
		entry, ok := idx.Lookup(crc)
		if !ok {
			continue
		}
		for _, occ := range entry.Occurrences {
			if skip[occ] {
				continue
			}
			if _, ok := byPackage[occ.Package]; !ok {
				order = append(order, occ.Package)
			}
			byPackage[occ.Package] = append(byPackage[occ.Package], occ)
			sums[occ] = want
			names[occ] = entry.Name
		}
	}

	var problems []string
	for _, rel := range order {
		pkg, err := archive.Open(filepath.Join(opts.GameDir, filepath.FromSlash(rel)))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", rel, err))
			continue
		}
		for _, occ := range byPackage[rel] {
			if err := verifyExport(pkg, occ.Export, sums[occ], opts.GameDir); err != nil {
				problems = append(problems, fmt.Sprintf("%s (%s export %d): %v", names[occ], rel, occ.Export, err))
			}
		}
	}
	return problems, nil
}

func verifyExport(pkg *archive.Package, id uint32, want []uint32, cacheDir string) error {
	data, err := pkg.ExportData(id)
	if err != nil {
		return err
	}
	tex, err := hosttexture.Parse(data)
	if err != nil {
		return err
	}
	if len(tex.Mips) != len(want) {
		return fmt.Errorf("verify: %d mips stored, %d written", len(tex.Mips), len(want))
	}
	for i, m := range tex.Mips {
		var payload []byte
		if m.Storage.IsExternal() {
			payload, err = tex.MipPayload(i, cacheDir)
		} else {
			var stored []byte
			stored, err = pkg.ReadRange(uint64(m.DataOffset), m.CompressedSize)
			if err == nil {
				payload, err = hosttexture.Unpack(stored, m.Storage, m.UncompressedSize)
			}
		}
		if err != nil {
			return fmt.Errorf("verify mip %d: %w", i, err)
		}
		if got := pixel.Checksum(payload); got != want[i] {
			return fmt.Errorf("verify mip %d: checksum %08x, want %08x", i, got, want[i])
		}
	}
	return nil
}
