// Package blocks drives a single-block codec over whole mip planes.
package blocks

import (
	"fmt"

	"github.com/goopsie/texturepatcher/pkg/codec"
)

// Grid is a row-major arena of fixed-size block records.
type Grid struct {
	Rows, Cols int
	Size       int // bytes per block
	Data       []byte
}

// NewGrid allocates a grid covering a width x height plane.
func NewGrid(width, height, blockSize int) *Grid {
	g := &Grid{Rows: height / 4, Cols: width / 4, Size: blockSize}
	g.Data = make([]byte, g.Rows*g.Cols*blockSize)
	return g
}

// WrapGrid views data as a grid covering a width x height plane.
func WrapGrid(data []byte, width, height, blockSize int) (*Grid, error) {
	g := &Grid{Rows: height / 4, Cols: width / 4, Size: blockSize, Data: data}
	if want := g.Rows * g.Cols * blockSize; len(data) != want {
		return nil, fmt.Errorf("block grid %dx%d: expected %d bytes, got %d", width, height, want, len(data))
	}
	return g, nil
}

// At returns the record of the block at (row, col).
func (g *Grid) At(row, col int) []byte {
	off := (row*g.Cols + col) * g.Size
	return g.Data[off : off+g.Size : off+g.Size]
}

// plane is a raw ARGB plane addressed in 4x4 blocks.
type plane struct {
	data  []byte
	width int
}

func (p plane) load(row, col int, dst *codec.Block) {
	stride := p.width * 4
	base := row*4*stride + col*16
	for y := 0; y < 4; y++ {
		copy(dst[y*16:y*16+16], p.data[base+y*stride:])
	}
}

func (p plane) store(row, col int, src *codec.Block) {
	stride := p.width * 4
	base := row*4*stride + col*16
	for y := 0; y < 4; y++ {
		copy(p.data[base+y*stride:base+y*stride+16], src[y*16:y*16+16])
	}
}
