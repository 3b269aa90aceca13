package replace

import (
	"fmt"
	"math"

	"github.com/goopsie/texturepatcher/pkg/archive"
	"github.com/goopsie/texturepatcher/pkg/hosttexture"
	"github.com/goopsie/texturepatcher/pkg/props"
	"github.com/goopsie/texturepatcher/pkg/tfc"
)

// storagePlan decides the storage class of each of count new mips.
// Textures that stream from a cache file keep their mip tail inline and
// the rest external; everything else stays inline. Compression follows
// what the original texture used.
func storagePlan(orig *hosttexture.Texture, count int) []hosttexture.StorageClass {
	inline, external := hosttexture.Inline, hosttexture.External
	if orig.InlineCompressed() {
		inline = hosttexture.InlineLZ4
	}
	if orig.ExternalCompressed() {
		external = hosttexture.ExternalZlib
	}
	streams := orig.HasExternal() || orig.CacheName() != ""

	plan := make([]hosttexture.StorageClass, count)
	for i := range plan {
		plan[i] = inline
		// Large mips go to the cache file. The last mipTailInline entries
		// are the smallest ones and stay in the package, where the engine
		// expects its resident mip tail.
		if streams && count > 1 && !orig.Props.Bool(props.NeverStream) && i < count-mipTailInline {
			plan[i] = external
		}
	}
	return plan
}

// place packs every mip of set according to plan. External payloads are
// appended to the cache store as one group, or taken from the placements
// of an earlier occurrence of the same job.
func (r *runner) place(job *Job, set *MipSet, plan []hosttexture.StorageClass) ([]*hosttexture.TextureMip, []placement, error) {
	mips := make([]*hosttexture.TextureMip, len(set.Mips))
	var (
		pending [][]byte
		slots   []int
	)
	for i, m := range set.Mips {
		stored, err := hosttexture.Pack(m.Data, plan[i])
		if err != nil {
			return nil, nil, fmt.Errorf("pack mip %d: %w", i, err)
		}
		mips[i] = &hosttexture.TextureMip{
			Storage:          plan[i],
			Width:            m.OrigWidth,
			Height:           m.OrigHeight,
			UncompressedSize: len(m.Data),
			CompressedSize:   len(stored),
		}
		if plan[i].IsExternal() {
			pending = append(pending, stored)
			slots = append(slots, i)
		} else {
			mips[i].Data = stored
		}
	}

	placed := make([]placement, len(mips))
	for i, m := range mips {
		placed[i].storage = m.Storage
	}
	if len(slots) == 0 {
		return mips, placed, nil
	}

	if prev, ok := r.ctx.placements[job]; ok {
		if err := samePlan(prev, placed); err != nil {
			return nil, nil, err
		}
		for _, i := range slots {
			if prev[i].loc.Size != uint32(mips[i].CompressedSize) {
				return nil, nil, fmt.Errorf("%w: mip %d was stored with %d bytes, now %d",
					ErrInvariant, i, prev[i].loc.Size, mips[i].CompressedSize)
			}
			placed[i].loc = prev[i].loc
			mips[i].DataOffset = prev[i].loc.Offset
		}
		return mips, placed, nil
	}

	locs, err := r.store.AppendGroup(pending)
	if err != nil {
		return nil, nil, err
	}
	for k, i := range slots {
		placed[i].loc = locs[k]
		mips[i].DataOffset = locs[k].Offset
	}
	r.ctx.placements[job] = placed
	return mips, placed, nil
}

func samePlan(prev, next []placement) error {
	if len(prev) != len(next) {
		return fmt.Errorf("%w: cached placements cover %d mips, occurrence has %d", ErrInvariant, len(prev), len(next))
	}
	for i := range prev {
		if prev[i].storage != next[i].storage {
			return fmt.Errorf("%w: mip %d stored %s before, %s now", ErrInvariant, i, prev[i].storage, next[i].storage)
		}
	}
	return nil
}

// externalLocation returns the cache file the external mips went to.
func externalLocation(placed []placement) (tfc.Location, bool) {
	for _, p := range placed {
		if p.storage.IsExternal() {
			return p.loc, true
		}
	}
	return tfc.Location{}, false
}

// updateProps brings the texture's properties in line with its new mips.
func updateProps(tex *hosttexture.Texture, placed []placement) {
	top := tex.Mips[0]
	tex.Props.SetInt(props.SizeX, int32(top.Width))
	tex.Props.SetInt(props.SizeY, int32(top.Height))
	tex.Props.SetInt(props.MipTailBaseIdx, int32(len(tex.Mips)-1))
	if loc, ok := externalLocation(placed); ok {
		tex.Props.SetName(props.TextureFileCacheName, loc.Name)
		tex.Props.SetGUID(props.TFCFileGuid, loc.GUID)
	}
}

// install writes tex into export id in two passes. The first installs a
// provisional blob to learn where the export lands; the second rewrites
// the inline offsets against that base. Both blobs have the same length,
// so the second write stays in place.
func install(pkg *archive.Package, id uint32, tex *hosttexture.Texture) error {
	provisional, size := tex.SerializeProvisional()
	base, err := pkg.SetExportData(id, provisional)
	if err != nil {
		return err
	}
	if base+uint64(size) > math.MaxUint32 {
		return fmt.Errorf("%w: export at %d+%d beyond 4 GiB", ErrInvariant, base, size)
	}

	final := tex.SerializeFinal(uint32(base))
	if len(final) != size {
		return fmt.Errorf("%w: final blob %d bytes, provisional %d", ErrInvariant, len(final), size)
	}
	again, err := pkg.SetExportData(id, final)
	if err != nil {
		return err
	}
	if again != base {
		return fmt.Errorf("%w: export moved from %d to %d", ErrInvariant, base, again)
	}
	return nil
}
