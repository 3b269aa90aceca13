// texconv - DDS texture converter for replacement assets
//
// Converts between DDS (block-compressed or raw) and lossless pictures.
// Decoding writes the chosen mip as PNG; encoding loads a PNG, BMP or TIFF,
// synthesizes the mip chain and compresses it to the requested format.
//
// Usage:
//
//	texconv decode [-mip N] input.dds output.png
//	texconv encode [-format DXT5] [-mips=false] [-hq] input.png output.dds
//	texconv info input.dds
//	texconv batch decode|encode input_dir output_dir
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goopsie/texturepatcher/pkg/blocks"
	"github.com/goopsie/texturepatcher/pkg/codec"
	"github.com/goopsie/texturepatcher/pkg/pixel"
	"github.com/goopsie/texturepatcher/pkg/texture"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	switch command {
	case "decode":
		fs := flag.NewFlagSet("decode", flag.ExitOnError)
		mip := fs.Int("mip", 0, "Mip level to export")
		fs.Parse(args)
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: texconv decode [-mip N] input.dds output.png")
		}
		if err := decodeDDS(fs.Arg(0), fs.Arg(1), *mip); err != nil {
			return err
		}
		fmt.Printf("Decoded %s -> %s\n", fs.Arg(0), fs.Arg(1))

	case "encode":
		fs := flag.NewFlagSet("encode", flag.ExitOnError)
		format := fs.String("format", "DXT5", "Target format: DXT1, DXT3, DXT5, ATI2, BC5, BC7, ARGB, RGBA, ...")
		mips := fs.Bool("mips", true, "Generate the full mip chain")
		hq := fs.Bool("hq", false, "Use the slower high quality block encoder")
		fs.Parse(args)
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: texconv encode [-format F] input.png output.dds")
		}
		f := pixel.ParseFormat(strings.ToUpper(*format))
		if f == pixel.FormatUnknown {
			return fmt.Errorf("unknown format: %s", *format)
		}
		if err := encodeDDS(fs.Arg(0), fs.Arg(1), f, *mips, *hq); err != nil {
			return err
		}
		fmt.Printf("Encoded %s -> %s (%s)\n", fs.Arg(0), fs.Arg(1), f)

	case "info":
		if len(args) != 1 {
			return fmt.Errorf("usage: texconv info input.dds")
		}
		return showInfo(args[0])

	case "batch":
		if len(args) != 3 {
			return fmt.Errorf("usage: texconv batch decode|encode input_dir output_dir")
		}
		return batchConvert(args[0], args[1], args[2])

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

func printUsage() {
	fmt.Println("texconv - DDS texture converter")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  texconv decode [-mip N] <input.dds> <output.png>")
	fmt.Println("  texconv encode [-format F] [-mips=false] [-hq] <input> <output.dds>")
	fmt.Println("  texconv info <input.dds>")
	fmt.Println("  texconv batch <decode|encode> <dir> <out>")
	fmt.Println()
	fmt.Println("Formats: DXT1 DXT3 DXT5 ATI2 BC5 BC7 ARGB RGBA RGB V8U8 G8 R10G10B10A2 R16G16B16A16 RGBE")
}

func newEngine(hq bool) *blocks.Engine {
	return blocks.New(codec.Default(hq))
}

// decodeDDS writes one mip of a DDS file as PNG.
func decodeDDS(inputPath, outputPath string, mip int) error {
	img, err := texture.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return texture.SavePNG(outputPath, img, newEngine(false), mip)
}

// encodeDDS compresses a picture (or re-encodes a DDS) into format.
func encodeDDS(inputPath, outputPath string, format pixel.Format, mips, hq bool) error {
	e := newEngine(hq)
	img, err := texture.LoadFile(inputPath)
	if err != nil {
		return err
	}
	if mips && len(img.Mips) == 1 {
		if img, err = img.WithMipChain(e); err != nil {
			return fmt.Errorf("generate mips: %w", err)
		}
	}
	out, err := img.Convert(e, format)
	if err != nil {
		return fmt.Errorf("convert to %s: %w", format, err)
	}
	return texture.WriteFile(outputPath, out)
}

// showInfo displays information about a DDS file.
func showInfo(inputPath string) error {
	img, err := texture.ReadFile(inputPath)
	if err != nil {
		return err
	}

	total := 0
	for _, m := range img.Mips {
		total += len(m.Data)
	}

	fmt.Printf("File: %s\n", inputPath)
	fmt.Printf("Dimensions: %dx%d\n", img.Width(), img.Height())
	fmt.Printf("Format: %s (engine %s)\n", img.Format, img.Format.EngineName())
	fmt.Printf("Mip levels: %d\n", len(img.Mips))
	for i, m := range img.Mips {
		fmt.Printf("  %2d: %dx%d (storage %dx%d) %d bytes\n", i, m.OrigWidth, m.OrigHeight, m.Width, m.Height, len(m.Data))
	}
	fmt.Printf("Data size: %d bytes (%.2f KB)\n", total, float64(total)/1024)
	fmt.Printf("Checksum: %08x\n", pixel.Checksum(img.Mips[0].Data))
	return nil
}

// batchConvert processes a directory of files.
func batchConvert(mode, inputDir, outputDir string) error {
	var ext, outExt string
	switch mode {
	case "decode":
		ext, outExt = ".dds", ".png"
	case "encode":
		ext, outExt = ".png", ".dds"
	default:
		return fmt.Errorf("batch mode must be 'decode' or 'encode'")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	count, failed := 0, 0
	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}

		relPath, _ := filepath.Rel(inputDir, path)
		outPath := filepath.Join(outputDir, strings.TrimSuffix(relPath, filepath.Ext(relPath))+outExt)
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "mkdir %s: %v\n", filepath.Dir(outPath), err)
			failed++
			return nil
		}

		var convErr error
		if mode == "decode" {
			convErr = decodeDDS(path, outPath, 0)
		} else {
			convErr = encodeDDS(path, outPath, pixel.FormatDXT5, true, false)
		}
		if convErr != nil {
			fmt.Fprintf(os.Stderr, "convert %s: %v\n", path, convErr)
			failed++
			return nil
		}

		count++
		if count%100 == 0 {
			fmt.Printf("Processed %d files...\n", count)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nCompleted: %d files converted, %d errors\n", count, failed)
	return nil
}
