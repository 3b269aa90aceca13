package codec

import (
	"fmt"
	"math"

	"github.com/goopsie/texturepatcher/pkg/pixel"
)

// BC7 is the BC7 block primitive. Encoding always emits mode 6 (one subset,
// RGBA 7.7.7.7 endpoints with per-endpoint p-bits, 4-bit indices); decoding
// handles all eight modes.
type BC7 struct{}

type bc7Mode struct {
	subsets, partitionBits, rotationBits, indexSelBits int
	colorBits, alphaBits                               int
	endpointPBits, sharedPBits                         int
	indexBits, index2Bits                              int
}

var bc7Modes = [8]bc7Mode{
	{3, 4, 0, 0, 4, 0, 1, 0, 3, 0},
	{2, 6, 0, 0, 6, 0, 0, 1, 3, 0},
	{3, 6, 0, 0, 5, 0, 0, 0, 2, 0},
	{2, 6, 0, 0, 7, 0, 1, 0, 2, 0},
	{1, 0, 2, 1, 5, 6, 0, 0, 2, 3},
	{1, 0, 2, 0, 7, 8, 0, 0, 2, 2},
	{1, 0, 0, 0, 7, 7, 1, 0, 4, 0},
	{2, 6, 0, 0, 5, 5, 1, 0, 2, 0},
}

var bc7Weights = [5][]uint32{
	2: {0, 21, 43, 64},
	3: {0, 9, 18, 27, 37, 46, 55, 64},
	4: {0, 4, 9, 13, 17, 21, 26, 30, 34, 38, 43, 47, 51, 55, 60, 64},
}

// bit i is the subset of pixel i
var bc7Partition2 = [64]uint16{
	0xcccc, 0x8888, 0xeeee, 0xecc8, 0xc880, 0xfeec, 0xfec8, 0xec80,
	0xc800, 0xffec, 0xfe80, 0xe800, 0xffe8, 0xff00, 0xfff0, 0xf000,
	0xf710, 0x008e, 0x7100, 0x08ce, 0x008c, 0x7310, 0x3100, 0x8cce,
	0x088c, 0x3110, 0x6666, 0x366c, 0x17e8, 0x0ff0, 0x718e, 0x399c,
	0xaaaa, 0xf0f0, 0x5a5a, 0x33cc, 0x3c3c, 0x55aa, 0x9696, 0xa55a,
	0x73ce, 0x13c8, 0x324c, 0x3bdc, 0x6996, 0xc33c, 0x9966, 0x0660,
	0x0272, 0x04e4, 0x4e40, 0x2720, 0xc936, 0x936c, 0x39c6, 0x639c,
	0x9336, 0x9cc6, 0x817e, 0xe718, 0xccf0, 0x0fcc, 0x7744, 0xee22,
}

var bc7Partition3 = [64][16]uint8{
	{0, 0, 1, 1, 0, 0, 1, 1, 0, 2, 2, 1, 2, 2, 2, 2},
	{0, 0, 0, 1, 0, 0, 1, 1, 2, 2, 1, 1, 2, 2, 2, 1},
	{0, 0, 0, 0, 2, 0, 0, 1, 2, 2, 1, 1, 2, 2, 1, 1},
	{0, 2, 2, 2, 0, 0, 2, 2, 0, 0, 1, 1, 0, 1, 1, 1},
	{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 2, 2, 1, 1, 2, 2},
	{0, 0, 1, 1, 0, 0, 1, 1, 0, 0, 2, 2, 0, 0, 2, 2},
	{0, 0, 2, 2, 0, 0, 2, 2, 1, 1, 1, 1, 1, 1, 1, 1},
	{0, 0, 1, 1, 0, 0, 1, 1, 2, 2, 1, 1, 2, 2, 1, 1},
	{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2},
	{0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2},
	{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2},
	{0, 0, 1, 2, 0, 0, 1, 2, 0, 0, 1, 2, 0, 0, 1, 2},
	{0, 1, 1, 2, 0, 1, 1, 2, 0, 1, 1, 2, 0, 1, 1, 2},
	{0, 1, 2, 2, 0, 1, 2, 2, 0, 1, 2, 2, 0, 1, 2, 2},
	{0, 0, 1, 1, 0, 1, 1, 2, 1, 1, 2, 2, 1, 2, 2, 2},
	{0, 0, 1, 1, 2, 0, 0, 1, 2, 2, 0, 0, 2, 2, 2, 0},
	{0, 0, 0, 1, 0, 0, 1, 1, 0, 1, 1, 2, 1, 1, 2, 2},
	{0, 1, 1, 1, 0, 0, 1, 1, 2, 0, 0, 1, 2, 2, 0, 0},
	{0, 0, 0, 0, 1, 1, 2, 2, 1, 1, 2, 2, 1, 1, 2, 2},
	{0, 0, 2, 2, 0, 0, 2, 2, 0, 0, 2, 2, 1, 1, 1, 1},
	{0, 1, 1, 1, 0, 1, 1, 1, 0, 2, 2, 2, 0, 2, 2, 2},
	{0, 0, 0, 1, 0, 0, 0, 1, 2, 2, 2, 1, 2, 2, 2, 1},
	{0, 0, 0, 0, 0, 0, 1, 1, 0, 1, 2, 2, 0, 1, 2, 2},
	{0, 0, 0, 0, 1, 1, 0, 0, 2, 2, 1, 0, 2, 2, 1, 0},
	{0, 1, 2, 2, 0, 1, 2, 2, 0, 0, 1, 1, 0, 0, 0, 0},
	{0, 0, 1, 2, 0, 0, 1, 2, 1, 1, 2, 2, 2, 2, 2, 2},
	{0, 1, 1, 0, 1, 2, 2, 1, 1, 2, 2, 1, 0, 1, 1, 0},
	{0, 0, 0, 0, 0, 1, 1, 0, 1, 2, 2, 1, 1, 2, 2, 1},
	{0, 0, 2, 2, 1, 1, 0, 2, 1, 1, 0, 2, 0, 0, 2, 2},
	{0, 1, 1, 0, 0, 1, 1, 0, 2, 0, 0, 2, 2, 2, 2, 2},
	{0, 0, 1, 1, 0, 1, 2, 2, 0, 1, 2, 2, 0, 0, 1, 1},
	{0, 0, 0, 0, 2, 0, 0, 0, 2, 2, 1, 1, 2, 2, 2, 1},
	{0, 0, 0, 0, 0, 0, 0, 2, 1, 1, 2, 2, 1, 2, 2, 2},
	{0, 2, 2, 2, 0, 0, 2, 2, 0, 0, 1, 2, 0, 0, 1, 1},
	{0, 0, 1, 1, 0, 0, 1, 2, 0, 0, 2, 2, 0, 2, 2, 2},
	{0, 1, 2, 0, 0, 1, 2, 0, 0, 1, 2, 0, 0, 1, 2, 0},
	{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 0, 0, 0, 0},
	{0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 2, 0, 1, 2, 0},
	{0, 1, 2, 0, 2, 0, 1, 2, 1, 2, 0, 1, 0, 1, 2, 0},
	{0, 0, 1, 1, 2, 2, 0, 0, 1, 1, 2, 2, 0, 0, 1, 1},
	{0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 0, 0, 0, 0, 1, 1},
	{0, 1, 0, 1, 0, 1, 0, 1, 2, 2, 2, 2, 2, 2, 2, 2},
	{0, 0, 0, 0, 0, 0, 0, 0, 2, 1, 2, 1, 2, 1, 2, 1},
	{0, 0, 2, 2, 1, 1, 2, 2, 0, 0, 2, 2, 1, 1, 2, 2},
	{0, 0, 2, 2, 0, 0, 1, 1, 0, 0, 2, 2, 0, 0, 1, 1},
	{0, 2, 2, 0, 1, 2, 2, 1, 0, 2, 2, 0, 1, 2, 2, 1},
	{0, 1, 0, 1, 2, 2, 2, 2, 2, 2, 2, 2, 0, 1, 0, 1},
	{0, 0, 0, 0, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1},
	{0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 2, 2, 2, 2},
	{0, 2, 2, 2, 0, 1, 1, 1, 0, 2, 2, 2, 0, 1, 1, 1},
	{0, 0, 0, 2, 1, 1, 1, 2, 0, 0, 0, 2, 1, 1, 1, 2},
	{0, 0, 0, 0, 2, 1, 1, 2, 2, 1, 1, 2, 2, 1, 1, 2},
	{0, 2, 2, 2, 0, 1, 1, 1, 0, 1, 1, 1, 0, 2, 2, 2},
	{0, 0, 0, 2, 1, 1, 1, 2, 1, 1, 1, 2, 0, 0, 0, 2},
	{0, 1, 1, 0, 0, 1, 1, 0, 0, 1, 1, 0, 2, 2, 2, 2},
	{0, 0, 0, 0, 0, 0, 0, 0, 2, 1, 1, 2, 2, 1, 1, 2},
	{0, 1, 1, 0, 0, 1, 1, 0, 2, 2, 2, 2, 2, 2, 2, 2},
	{0, 0, 2, 2, 0, 0, 1, 1, 0, 0, 1, 1, 0, 0, 2, 2},
	{0, 0, 2, 2, 1, 1, 2, 2, 1, 1, 2, 2, 0, 0, 2, 2},
	{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2, 1, 1, 2},
	{0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 1},
	{0, 2, 2, 2, 1, 2, 2, 2, 0, 2, 2, 2, 1, 2, 2, 2},
	{0, 1, 0, 1, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
	{0, 1, 1, 1, 2, 0, 1, 1, 2, 2, 0, 1, 2, 2, 2, 0},
}

var bc7Anchor2 = [64]uint8{
	15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15,
	15, 2, 8, 2, 2, 8, 8, 15, 2, 8, 2, 2, 8, 8, 2, 2,
	15, 15, 6, 8, 2, 8, 15, 15, 2, 8, 2, 2, 2, 15, 15, 6,
	6, 2, 6, 8, 15, 15, 2, 2, 15, 15, 15, 15, 15, 2, 2, 15,
}

var bc7Anchor3a = [64]uint8{
	3, 3, 15, 15, 8, 3, 15, 15, 8, 8, 6, 6, 6, 5, 3, 3,
	3, 3, 8, 15, 3, 3, 6, 10, 5, 8, 8, 6, 8, 5, 15, 15,
	8, 15, 3, 5, 6, 10, 8, 15, 15, 3, 15, 5, 15, 15, 15, 15,
	3, 15, 5, 5, 5, 8, 5, 10, 5, 10, 8, 13, 15, 12, 3, 3,
}

var bc7Anchor3b = [64]uint8{
	15, 8, 8, 3, 15, 15, 3, 8, 15, 15, 15, 15, 15, 15, 15, 8,
	15, 8, 15, 3, 15, 8, 15, 8, 3, 15, 6, 10, 15, 15, 10, 8,
	15, 3, 15, 10, 10, 8, 9, 10, 6, 15, 8, 15, 3, 6, 6, 8,
	15, 3, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 3, 15, 15, 8,
}

func bc7Subset(subsets, partition, pixel int) int {
	switch subsets {
	case 2:
		return int(bc7Partition2[partition]>>uint(pixel)) & 1
	case 3:
		return int(bc7Partition3[partition][pixel])
	}
	return 0
}

func bc7IsAnchor(subsets, partition, pixel int) bool {
	if pixel == 0 {
		return true
	}
	switch subsets {
	case 2:
		return pixel == int(bc7Anchor2[partition])
	case 3:
		return pixel == int(bc7Anchor3a[partition]) || pixel == int(bc7Anchor3b[partition])
	}
	return false
}

type bitReader struct {
	data []byte
	pos  uint
}

func (r *bitReader) read(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		bit := (r.data[r.pos>>3] >> (r.pos & 7)) & 1
		v |= uint32(bit) << uint(i)
		r.pos++
	}
	return v
}

type bitWriter struct {
	data []byte
	pos  uint
}

func (w *bitWriter) write(v uint32, n int) {
	for i := 0; i < n; i++ {
		if (v>>uint(i))&1 != 0 {
			w.data[w.pos>>3] |= 1 << (w.pos & 7)
		}
		w.pos++
	}
}

func bc7Expand(v uint32, bits int) uint32 {
	v <<= uint(8 - bits)
	return v | v>>uint(bits)
}

func bc7Interpolate(e0, e1, w uint32) uint8 {
	return uint8(((64-w)*e0 + w*e1 + 32) >> 6)
}

// DecompressBlock decodes a 16-byte BC7 block into ARGB.
func (BC7) DecompressBlock(format pixel.Format, src []byte, dst *Block) error {
	if format != pixel.FormatBC7 {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, format)
	}
	if len(src) < 16 {
		return fmt.Errorf("decode BC7 block: have %d bytes", len(src))
	}

	mode := -1
	for i := 0; i < 8; i++ {
		if src[0]&(1<<uint(i)) != 0 {
			mode = i
			break
		}
	}
	if mode < 0 {
		// Reserved encoding decodes to transparent black.
		*dst = Block{}
		return nil
	}

	m := bc7Modes[mode]
	r := &bitReader{data: src[:16], pos: uint(mode + 1)}
	partition := int(r.read(m.partitionBits))
	rotation := int(r.read(m.rotationBits))
	indexSel := int(r.read(m.indexSelBits))

	nEnd := m.subsets * 2
	var ep [6][4]uint32
	for c := 0; c < 3; c++ {
		for e := 0; e < nEnd; e++ {
			ep[e][c] = r.read(m.colorBits)
		}
	}
	if m.alphaBits > 0 {
		for e := 0; e < nEnd; e++ {
			ep[e][3] = r.read(m.alphaBits)
		}
	}

	colorBits, alphaBits := m.colorBits, m.alphaBits
	switch {
	case m.endpointPBits > 0:
		for e := 0; e < nEnd; e++ {
			p := r.read(1)
			for c := 0; c < 4; c++ {
				ep[e][c] = ep[e][c]<<1 | p
			}
		}
		colorBits++
		if alphaBits > 0 {
			alphaBits++
		}
	case m.sharedPBits > 0:
		for s := 0; s < m.subsets; s++ {
			p := r.read(1)
			for c := 0; c < 4; c++ {
				ep[s*2][c] = ep[s*2][c]<<1 | p
				ep[s*2+1][c] = ep[s*2+1][c]<<1 | p
			}
		}
		colorBits++
		if alphaBits > 0 {
			alphaBits++
		}
	}

	for e := 0; e < nEnd; e++ {
		for c := 0; c < 3; c++ {
			ep[e][c] = bc7Expand(ep[e][c], colorBits)
		}
		if alphaBits > 0 {
			ep[e][3] = bc7Expand(ep[e][3], alphaBits)
		} else {
			ep[e][3] = 255
		}
	}

	var idx, idx2 [16]int
	for i := 0; i < 16; i++ {
		n := m.indexBits
		if bc7IsAnchor(m.subsets, partition, i) {
			n--
		}
		idx[i] = int(r.read(n))
	}
	if m.index2Bits > 0 {
		for i := 0; i < 16; i++ {
			n := m.index2Bits
			if i == 0 {
				n--
			}
			idx2[i] = int(r.read(n))
		}
	}

	for i := 0; i < 16; i++ {
		s := bc7Subset(m.subsets, partition, i)
		e0, e1 := ep[s*2], ep[s*2+1]
		var rgba [4]uint8
		if m.index2Bits > 0 {
			colorIdx, colorBitsN := idx[i], m.indexBits
			alphaIdx, alphaBitsN := idx2[i], m.index2Bits
			if indexSel == 1 {
				colorIdx, colorBitsN, alphaIdx, alphaBitsN = alphaIdx, alphaBitsN, colorIdx, colorBitsN
			}
			cw := bc7Weights[colorBitsN][colorIdx]
			aw := bc7Weights[alphaBitsN][alphaIdx]
			for c := 0; c < 3; c++ {
				rgba[c] = bc7Interpolate(e0[c], e1[c], cw)
			}
			rgba[3] = bc7Interpolate(e0[3], e1[3], aw)
		} else {
			w := bc7Weights[m.indexBits][idx[i]]
			for c := 0; c < 4; c++ {
				rgba[c] = bc7Interpolate(e0[c], e1[c], w)
			}
		}
		switch rotation {
		case 1:
			rgba[0], rgba[3] = rgba[3], rgba[0]
		case 2:
			rgba[1], rgba[3] = rgba[3], rgba[1]
		case 3:
			rgba[2], rgba[3] = rgba[3], rgba[2]
		}
		d := dst[i*4:]
		d[0], d[1], d[2], d[3] = rgba[2], rgba[1], rgba[0], rgba[3]
	}
	return nil
}

// CompressChannels is not a BC7 layout.
func (BC7) CompressChannels(format pixel.Format, _, _ *Channel, _ []byte) error {
	return fmt.Errorf("%w: %s has no two-channel layout", ErrUnsupportedKind, format)
}

// CompressBlock encodes one ARGB block as a mode 6 BC7 block.
func (BC7) CompressBlock(format pixel.Format, src *Block, dst []byte) error {
	if format != pixel.FormatBC7 {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, format)
	}
	if err := checkDst(format, dst); err != nil {
		return err
	}

	var px [16][4]float64
	var mean [4]float64
	for i := 0; i < 16; i++ {
		s := src[i*4:]
		px[i] = [4]float64{float64(s[2]), float64(s[1]), float64(s[0]), float64(s[3])}
		for c := 0; c < 4; c++ {
			mean[c] += px[i][c] / 16
		}
	}

	axis := principalAxis(&px, mean)
	lo, hi := 0.0, 0.0
	for i := 0; i < 16; i++ {
		var t float64
		for c := 0; c < 4; c++ {
			t += (px[i][c] - mean[c]) * axis[c]
		}
		if i == 0 || t < lo {
			lo = t
		}
		if i == 0 || t > hi {
			hi = t
		}
	}

	var end [2][4]float64
	for c := 0; c < 4; c++ {
		end[0][c] = mean[c] + axis[c]*lo
		end[1][c] = mean[c] + axis[c]*hi
	}

	var q [2][4]uint32
	var pbit [2]uint32
	for e := 0; e < 2; e++ {
		q[e], pbit[e] = quantizeMode6(end[e])
	}

	var ep [2][4]uint32
	for e := 0; e < 2; e++ {
		for c := 0; c < 4; c++ {
			ep[e][c] = q[e][c]<<1 | pbit[e]
		}
	}

	var idx [16]uint32
	for i := 0; i < 16; i++ {
		best, bestErr := uint32(0), -1.0
		for k := uint32(0); k < 16; k++ {
			w := bc7Weights[4][k]
			var errSum float64
			for c := 0; c < 4; c++ {
				d := float64(bc7Interpolate(ep[0][c], ep[1][c], w)) - px[i][c]
				errSum += d * d
			}
			if bestErr < 0 || errSum < bestErr {
				best, bestErr = k, errSum
			}
		}
		idx[i] = best
	}

	// The anchor index has an implicit zero high bit.
	if idx[0] >= 8 {
		q[0], q[1] = q[1], q[0]
		pbit[0], pbit[1] = pbit[1], pbit[0]
		for i := range idx {
			idx[i] = 15 - idx[i]
		}
	}

	for i := range dst[:16] {
		dst[i] = 0
	}
	w := &bitWriter{data: dst[:16]}
	w.write(1<<6, 7)
	for c := 0; c < 4; c++ {
		w.write(q[0][c], 7)
		w.write(q[1][c], 7)
	}
	w.write(pbit[0], 1)
	w.write(pbit[1], 1)
	w.write(idx[0], 3)
	for i := 1; i < 16; i++ {
		w.write(idx[i], 4)
	}
	return nil
}

// quantizeMode6 picks 7-bit components and the p-bit that best reproduce v.
func quantizeMode6(v [4]float64) ([4]uint32, uint32) {
	var best [4]uint32
	var bestP uint32
	bestErr := -1.0
	for p := uint32(0); p < 2; p++ {
		var q [4]uint32
		var errSum float64
		for c := 0; c < 4; c++ {
			x := (v[c] - float64(p)) / 2
			n := int(x + 0.5)
			if n < 0 {
				n = 0
			}
			if n > 127 {
				n = 127
			}
			q[c] = uint32(n)
			d := float64(q[c]<<1|p) - v[c]
			errSum += d * d
		}
		if bestErr < 0 || errSum < bestErr {
			best, bestP, bestErr = q, p, errSum
		}
	}
	return best, bestP
}

// principalAxis returns the dominant direction of the block's colour
// distribution by power iteration on its covariance matrix.
func principalAxis(px *[16][4]float64, mean [4]float64) [4]float64 {
	var cov [4][4]float64
	for i := 0; i < 16; i++ {
		var d [4]float64
		for c := 0; c < 4; c++ {
			d[c] = px[i][c] - mean[c]
		}
		for a := 0; a < 4; a++ {
			for b := 0; b < 4; b++ {
				cov[a][b] += d[a] * d[b]
			}
		}
	}

	start := 0
	for c := 1; c < 4; c++ {
		if cov[c][c] > cov[start][start] {
			start = c
		}
	}
	var axis [4]float64
	axis[start] = 1
	for iter := 0; iter < 8; iter++ {
		var next [4]float64
		for a := 0; a < 4; a++ {
			for b := 0; b < 4; b++ {
				next[a] += cov[a][b] * axis[b]
			}
		}
		var norm float64
		for c := 0; c < 4; c++ {
			norm += next[c] * next[c]
		}
		if norm == 0 {
			return [4]float64{}
		}
		norm = math.Sqrt(norm)
		for c := 0; c < 4; c++ {
			axis[c] = next[c] / norm
		}
	}
	return axis
}
