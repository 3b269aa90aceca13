// Package resolver decides which pixel format and compression-settings tag a
// texture should carry after its content is replaced.
//
// The decision is a first-match table over the texture's current format,
// the replacement asset's format and the texture's CompressionSettings tag.
// When no rule matches the current format is kept.
package resolver

import (
	"github.com/rs/zerolog"

	"github.com/goopsie/texturepatcher/pkg/hosttexture"
	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/props"
)

// Decision is the outcome of Resolve.
type Decision struct {
	// Format is the pixel format the texture is stored in afterwards.
	Format pixel.Format
	// Tag is the CompressionSettings value afterwards; "" removes it.
	Tag string
	// Rule names the matching rule, or "" when none matched.
	Rule string
}

// Matched reports whether a rule fired.
func (d Decision) Matched() bool { return d.Rule != "" }

type rule struct {
	name  string
	match func(existing, candidate pixel.Format, tag string) bool
	apply func(existing, candidate pixel.Format, tag string) (pixel.Format, string)
}

var rules = []rule{
	{
		name: "one-bit-alpha-to-argb",
		match: func(_, candidate pixel.Format, tag string) bool {
			return tag == hosttexture.TagOneBitAlpha && candidate == pixel.FormatARGB
		},
		apply: func(_, _ pixel.Format, _ string) (pixel.Format, string) {
			return pixel.FormatARGB, hosttexture.TagNone
		},
	},
	{
		name: "normalmap-two-channel",
		match: func(existing, candidate pixel.Format, tag string) bool {
			return IsNormalMap(tag) &&
				in(existing, pixel.FormatDXT1, pixel.FormatATI2, pixel.FormatBC5) &&
				in(candidate, pixel.FormatATI2, pixel.FormatBC5)
		},
		apply: func(_, candidate pixel.Format, _ string) (pixel.Format, string) {
			if candidate == pixel.FormatBC5 {
				return candidate, hosttexture.TagNormalmapBC5
			}
			return candidate, hosttexture.TagNormalmapHQ
		},
	},
	{
		name: "normalmap-bc7",
		match: func(_, candidate pixel.Format, tag string) bool {
			return IsNormalMap(tag) && candidate == pixel.FormatBC7
		},
		apply: func(_, _ pixel.Format, _ string) (pixel.Format, string) {
			return pixel.FormatBC7, hosttexture.TagNormalmapBC7
		},
	},
	{
		name: "normalmap-uncompressed",
		match: func(_, candidate pixel.Format, tag string) bool {
			return IsNormalMap(tag) && in(candidate, pixel.FormatV8U8, pixel.FormatARGB, pixel.FormatRGB)
		},
		apply: func(_, _ pixel.Format, _ string) (pixel.Format, string) {
			return pixel.FormatV8U8, hosttexture.TagNormalmapUncompressed
		},
	},
	{
		// Normal maps are retagged above even when the format is unchanged.
		name: "same-format",
		match: func(existing, candidate pixel.Format, _ string) bool {
			return existing == candidate
		},
		apply: keep,
	},
	{
		name: "dxt1-to-dxt5",
		match: func(existing, candidate pixel.Format, tag string) bool {
			return tag == hosttexture.TagNone && existing == pixel.FormatDXT1 && candidate == pixel.FormatDXT5
		},
		apply: func(_, _ pixel.Format, _ string) (pixel.Format, string) {
			return pixel.FormatDXT5, hosttexture.TagNone
		},
	},
	{
		name: "albedo-to-bc7",
		match: func(existing, candidate pixel.Format, tag string) bool {
			return in(tag, hosttexture.TagNone, hosttexture.TagBC7) &&
				isAlbedoStorage(existing) && candidate == pixel.FormatBC7
		},
		apply: func(_, _ pixel.Format, _ string) (pixel.Format, string) {
			return pixel.FormatBC7, hosttexture.TagBC7
		},
	},
	{
		name: "albedo-to-extended",
		match: func(existing, candidate pixel.Format, tag string) bool {
			return in(tag, hosttexture.TagNone, hosttexture.TagBC7) &&
				isAlbedoStorage(existing) &&
				in(candidate, pixel.FormatR10G10B10A2, pixel.FormatR16G16B16A16)
		},
		apply: func(_, candidate pixel.Format, _ string) (pixel.Format, string) {
			return candidate, hosttexture.TagNone
		},
	},
	{
		name: "hdr",
		match: func(existing, candidate pixel.Format, tag string) bool {
			return candidate == pixel.FormatRGBE &&
				(tag == hosttexture.TagHighDynamicRange || in(existing, pixel.FormatDXT1, pixel.FormatARGB))
		},
		apply: func(_, _ pixel.Format, _ string) (pixel.Format, string) {
			return pixel.FormatRGBE, hosttexture.TagHighDynamicRange
		},
	},
	{
		// Plain color assets are re-encoded into whatever the texture uses.
		name: "color-reencode",
		match: func(existing, candidate pixel.Format, tag string) bool {
			return !IsNormalMap(tag) && tag != hosttexture.TagHighDynamicRange &&
				existing != pixel.FormatUnknown &&
				in(candidate, pixel.FormatARGB, pixel.FormatRGBA, pixel.FormatRGB)
		},
		apply: keep,
	},
}

func keep(existing, _ pixel.Format, tag string) (pixel.Format, string) {
	return existing, tag
}

func in[T comparable](v T, set ...T) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

func isAlbedoStorage(f pixel.Format) bool {
	return f.IsBlockCompressed() || f == pixel.FormatARGB
}

// IsNormalMap reports whether tag marks a normal map.
func IsNormalMap(tag string) bool {
	return in(tag,
		hosttexture.TagNormalmap,
		hosttexture.TagNormalmapHQ,
		hosttexture.TagNormalmapAlpha,
		hosttexture.TagNormalmapUncompressed,
		hosttexture.TagNormalmapBC5,
		hosttexture.TagNormalmapBC7,
	)
}

// Resolve evaluates the table. It has no side effects.
func Resolve(existing, candidate pixel.Format, tag string) Decision {
	for _, r := range rules {
		if r.match(existing, candidate, tag) {
			f, t := r.apply(existing, candidate, tag)
			return Decision{Format: f, Tag: t, Rule: r.name}
		}
	}
	return Decision{Format: existing, Tag: tag}
}

// Apply resolves the transition for a texture and writes the outcome into
// its property list. A miss keeps the properties and logs a warning.
func Apply(list *props.List, candidate pixel.Format, log zerolog.Logger) Decision {
	tag := list.Name(props.CompressionSettings)
	existing := pixel.FromEngineName(list.Name(props.Format), tag == hosttexture.TagHighDynamicRange)

	d := Resolve(existing, candidate, tag)
	if !d.Matched() {
		log.Warn().
			Stringer("existing", existing).
			Stringer("candidate", candidate).
			Str("tag", tag).
			Msg("no format transition rule matched, keeping existing format")
		return d
	}

	log.Debug().
		Str("rule", d.Rule).
		Stringer("format", d.Format).
		Str("tag", d.Tag).
		Msg("format transition")

	if d.Format == existing && d.Tag == tag {
		return d
	}
	list.SetName(props.Format, d.Format.EngineName())
	if d.Tag == hosttexture.TagNone {
		list.Remove(props.CompressionSettings)
	} else {
		list.SetName(props.CompressionSettings, d.Tag)
	}
	return d
}
