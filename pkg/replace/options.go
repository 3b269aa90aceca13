package replace

import (
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
)

const (
	// DefaultCacheName is the base name of the cache files a batch writes.
	DefaultCacheName = "Textures_Patched"

	reservedMemory = 2 << 30
	minCacheBudget = 256 << 20
	mipTailInline  = 6
)

// Options controls a batch.
type Options struct {
	// GameDir is the root packages and cache files are resolved against.
	GameDir string
	// CacheName is the base name of new cache files.
	CacheName string
	// CacheMaxSize overrides the size ceiling of each cache file.
	CacheMaxSize int64

	AppendMarkerOnSave bool
	VerifyAfterWrite   bool
	CompressPackages   bool

	// CacheMemoryBudgetPercent sizes the mip cache as a share of system
	// memory. Zero uses total memory minus a fixed reserve.
	CacheMemoryBudgetPercent int
	// CacheBudgetBytes overrides the mip cache budget.
	CacheBudgetBytes int64

	HighQuality bool
	// Workers caps block compression parallelism; zero uses GOMAXPROCS.
	Workers int

	Logger zerolog.Logger
	// Progress is called after every texture occurrence.
	Progress func(done, total int)
}

func (o Options) cacheName() string {
	if o.CacheName == "" {
		return DefaultCacheName
	}
	return o.CacheName
}

// CacheBudget returns the mip cache budget in bytes.
func (o Options) CacheBudget() int64 {
	if o.CacheBudgetBytes > 0 {
		return o.CacheBudgetBytes
	}
	total := int64(memory.TotalMemory())
	if o.CacheMemoryBudgetPercent > 0 {
		return max(total*int64(o.CacheMemoryBudgetPercent)/100, minCacheBudget)
	}
	return max(total-reservedMemory, minCacheBudget)
}
