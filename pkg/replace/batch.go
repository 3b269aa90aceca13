// Package replace patches replacement textures into a game installation.
//
// A batch groups the occurrences of every job by package, opens each
// package once, rewrites the affected texture exports and saves it. Mip
// payloads that do not stay inline go to rotating cache files. Compressed
// mip sets are shared between occurrences of the same job through a
// BatchContext that bounds their total size.
package replace

import (
	"github.com/rs/zerolog"

	"github.com/goopsie/texturepatcher/pkg/hosttexture"
	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/texture"
	"github.com/goopsie/texturepatcher/pkg/tfc"
)

// MipSet is the final mip chain of a job in its resolved format.
type MipSet struct {
	Format pixel.Format
	Mips   []*texture.MipMap
	// Checksums holds the fingerprint of every mip payload.
	Checksums []uint32
	size      int64
}

// Size returns the payload bytes held by the set.
func (s *MipSet) Size() int64 { return s.size }

func newMipSet(format pixel.Format, mips []*texture.MipMap) *MipSet {
	s := &MipSet{Format: format, Mips: mips}
	for _, m := range mips {
		s.size += int64(len(m.Data))
		s.Checksums = append(s.Checksums, pixel.Checksum(m.Data))
	}
	return s
}

// placement records where one mip of a job was stored.
type placement struct {
	storage hosttexture.StorageClass
	loc     tfc.Location
}

// BatchContext owns the state shared across the packages of one batch: the
// cached mip sets, their byte accounting, each job's outstanding occurrence
// count and the cache file placements already written for it.
type BatchContext struct {
	budget int64
	usage  int64
	peak   int64

	sets       map[*Job]*MipSet
	order      []*Job // cached jobs, least recently used first
	remaining  map[*Job]int
	placements map[*Job][]placement

	log zerolog.Logger
}

// NewBatchContext returns a context whose mip cache never holds more than
// budget bytes.
func NewBatchContext(budget int64, log zerolog.Logger) *BatchContext {
	return &BatchContext{
		budget:     budget,
		sets:       make(map[*Job]*MipSet),
		remaining:  make(map[*Job]int),
		placements: make(map[*Job][]placement),
		log:        log,
	}
}

// Register sets the number of occurrences job will be used for.
func (b *BatchContext) Register(job *Job, occurrences int) {
	b.remaining[job] = occurrences
}

// Acquire returns the mip set of job, building it on a miss. Older sets
// are evicted first so that usage stays within the budget; a set larger
// than the whole budget is returned without being cached.
func (b *BatchContext) Acquire(job *Job, build func() (*MipSet, error)) (*MipSet, error) {
	if s, ok := b.sets[job]; ok {
		b.touch(job)
		return s, nil
	}
	s, err := build()
	if err != nil {
		return nil, err
	}
	if s.size > b.budget {
		b.log.Debug().Str("texture", job.Name).Int64("bytes", s.size).Msg("mip set exceeds cache budget, not caching")
		return s, nil
	}
	b.evictUntil(b.budget - s.size)
	b.sets[job] = s
	b.order = append(b.order, job)
	b.usage += s.size
	b.peak = max(b.peak, b.usage)
	return s, nil
}

// Finish consumes one occurrence of job. The job's cached set and
// placements are released once no occurrences remain.
func (b *BatchContext) Finish(job *Job) {
	b.remaining[job]--
	if b.remaining[job] > 0 {
		return
	}
	delete(b.remaining, job)
	delete(b.placements, job)
	b.Evict(job)
}

// Evict frees the cached set of job, if any.
func (b *BatchContext) Evict(job *Job) {
	s, ok := b.sets[job]
	if !ok {
		return
	}
	delete(b.sets, job)
	for i, j := range b.order {
		if j == job {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.usage -= s.size
	if b.usage < 0 {
		panic("replace: negative cache usage")
	}
}

func (b *BatchContext) evictUntil(limit int64) {
	for b.usage > limit && len(b.order) > 0 {
		victim := b.order[0]
		b.log.Debug().Str("texture", victim.Name).Int64("usage", b.usage).Msg("evicting cached mips")
		b.Evict(victim)
	}
}

func (b *BatchContext) touch(job *Job) {
	for i, j := range b.order {
		if j == job {
			b.order = append(append(b.order[:i:i], b.order[i+1:]...), job)
			return
		}
	}
}

// Usage returns the bytes currently cached.
func (b *BatchContext) Usage() int64 { return b.usage }

// Peak returns the highest usage observed.
func (b *BatchContext) Peak() int64 { return b.peak }

// Budget returns the cache budget.
func (b *BatchContext) Budget() int64 { return b.budget }

// Cached reports whether job's set is cached.
func (b *BatchContext) Cached(job *Job) bool {
	_, ok := b.sets[job]
	return ok
}
