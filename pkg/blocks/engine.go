package blocks

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/goopsie/texturepatcher/pkg/codec"
	"github.com/goopsie/texturepatcher/pkg/pixel"
)

// ErrUnaligned indicates plane dimensions that are not multiples of 4.
var ErrUnaligned = errors.New("plane dimensions are not multiples of 4")

// Engine compresses and decompresses whole planes, one band of block rows
// per worker. Output bytes depend only on block position.
type Engine struct {
	codec    codec.Codec
	parallel int
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism caps the hardware parallelism the worker count is derived
// from. Values below 1 are ignored.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallel = n
		}
	}
}

// New returns an engine that uses c for single blocks.
func New(c codec.Codec, opts ...Option) *Engine {
	e := &Engine{codec: c, parallel: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkerCount returns the largest power of two not above hw, halved until
// every worker owns at least one block row. Never less than 1.
func WorkerCount(blockRows, hw int) int {
	n := 1
	for n*2 <= hw {
		n *= 2
	}
	for n > 1 && n > blockRows {
		n /= 2
	}
	return n
}

type band struct{ first, last int } // block rows [first, last)

func bands(rows, workers int) []band {
	per := rows / workers
	out := make([]band, workers)
	for i := range out {
		out[i] = band{first: i * per, last: (i + 1) * per}
	}
	out[workers-1].last = rows
	return out
}

func mustBlockFormat(format pixel.Format) {
	if !format.IsBlockCompressed() {
		panic(fmt.Sprintf("blocks: %s is not a block format", format))
	}
}

func checkDims(width, height int) error {
	if width <= 0 || height <= 0 || width%4 != 0 || height%4 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrUnaligned, width, height)
	}
	return nil
}

// Compress encodes a width x height ARGB plane into format.
func (e *Engine) Compress(src []byte, width, height int, format pixel.Format) ([]byte, error) {
	mustBlockFormat(format)
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	if len(src) != width*height*4 {
		return nil, fmt.Errorf("%w: ARGB %dx%d: got %d bytes", pixel.ErrPlaneSize, width, height, len(src))
	}

	in := plane{data: src, width: width}
	out := NewGrid(width, height, format.BlockBytes())
	err := e.run(out.Rows, func(b band) error {
		var blk codec.Block
		for row := b.first; row < b.last; row++ {
			for col := 0; col < out.Cols; col++ {
				in.load(row, col, &blk)
				if err := e.compressOne(format, &blk, out.At(row, col)); err != nil {
					return fmt.Errorf("block %d,%d: %w", row, col, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (e *Engine) compressOne(format pixel.Format, blk *codec.Block, dst []byte) error {
	if format != pixel.FormatATI2 && format != pixel.FormatBC5 {
		return e.codec.CompressBlock(format, blk, dst)
	}
	x, y := codec.SplitXY(blk)
	return e.codec.CompressChannels(format, &x, &y, dst)
}

// Decompress decodes a plane in format to ARGB.
func (e *Engine) Decompress(src []byte, width, height int, format pixel.Format) ([]byte, error) {
	mustBlockFormat(format)
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	in, err := WrapGrid(src, width, height, format.BlockBytes())
	if err != nil {
		return nil, err
	}

	out := plane{data: make([]byte, width*height*4), width: width}
	err = e.run(in.Rows, func(b band) error {
		var blk codec.Block
		for row := b.first; row < b.last; row++ {
			for col := 0; col < in.Cols; col++ {
				if err := e.codec.DecompressBlock(format, in.At(row, col), &blk); err != nil {
					return fmt.Errorf("block %d,%d: %w", row, col, err)
				}
				out.store(row, col, &blk)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.data, nil
}

func (e *Engine) run(rows int, work func(band) error) error {
	workers := WorkerCount(rows, e.parallel)
	if workers == 1 {
		return work(band{first: 0, last: rows})
	}
	var g errgroup.Group
	for _, b := range bands(rows, workers) {
		g.Go(func() error { return work(b) })
	}
	return g.Wait()
}
