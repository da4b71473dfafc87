// Package visualization writes extracted slices to disk as ordinary image
// files.
package visualization

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"mrivolume/internal/logging"
	"mrivolume/pkg/geometry"
	"mrivolume/pkg/gpu"
	"mrivolume/pkg/volume"
)

// Format is an output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

// ParseFormat accepts a format name or a file extension, with or without
// the leading dot.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "png", "":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	default:
		return "", fmt.Errorf("invalid image format: %q", name)
	}
}

// Ext returns the file extension for f, without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// Exporter encodes slices in one format.
type Exporter struct {
	// Format is the encoding; empty means PNG
	Format Format

	// Scale resizes images before encoding; 0 and 1 keep the size
	Scale float64

	// Quality is the JPEG quality, 1 to 100; 0 uses 90
	Quality int

	// Timeout bounds each GPU extraction; 0 means no limit
	Timeout time.Duration
}

// NewExporter returns an Exporter for format at native size.
func NewExporter(format Format) *Exporter {
	return &Exporter{Format: format, Scale: 1, Quality: 90}
}

// Encode writes img to w.
func (e *Exporter) Encode(w io.Writer, img image.Image) error {
	img = e.scaled(img)

	switch e.Format {
	case FormatPNG, "":
		return png.Encode(w, img)
	case FormatJPEG:
		quality := e.Quality
		if quality <= 0 {
			quality = 90
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatBMP:
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("invalid image format: %q", e.Format)
	}
}

// scaled resizes img by e.Scale with Catmull-Rom filtering.
func (e *Exporter) scaled(img image.Image) image.Image {
	if e.Scale <= 0 || e.Scale == 1 {
		return img
	}
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*e.Scale+0.5))
	h := max(1, int(float64(b.Dy())*e.Scale+0.5))

	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SaveImage encodes img into path, creating parent directories.
func (e *Exporter) SaveImage(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := e.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return file.Close()
}

// SliceFilename is the name SaveSliceSequence gives slice index of o.
func (e *Exporter) SliceFilename(o geometry.Orientation, index int) string {
	format := e.Format
	if format == "" {
		format = FormatPNG
	}
	return fmt.Sprintf("slice_%s_%03d.%s", o, index, format.Ext())
}

// SaveSliceSequence extracts and saves every slice of v along o into dir.
// With a GPU context and bilinear interpolation the GPU path is used;
// otherwise slices are computed on the CPU. It returns the number of files
// written.
func (e *Exporter) SaveSliceSequence(ctx context.Context, v *volume.Volume, o geometry.Orientation,
	interp volume.Interpolation, gctx *gpu.Context, dir string) (int, error) {
	if !o.Valid() {
		return 0, fmt.Errorf("invalid orientation: %v", o)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	extent := o.Extent(v.Dims())
	for index := 0; index < extent; index++ {
		if err := ctx.Err(); err != nil {
			return index, err
		}

		img, err := e.Extract(ctx, v, index, o, interp, gctx)
		if err != nil {
			return index, err
		}

		if err := e.SaveImage(img, filepath.Join(dir, e.SliceFilename(o, index))); err != nil {
			return index, err
		}
	}

	logging.Logger().Info("visualization: slice sequence saved",
		"orientation", o.String(), "count", extent, "dir", dir, "format", string(e.Format))
	return extent, nil
}

// Extract returns one slice, from the GPU when gctx is set and interp is
// bilinear.
func (e *Exporter) Extract(ctx context.Context, v *volume.Volume, index int, o geometry.Orientation,
	interp volume.Interpolation, gctx *gpu.Context) (*image.Gray, error) {
	if gctx != nil && interp == volume.InterpolationBilinear {
		if e.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.Timeout)
			defer cancel()
		}
		return v.ImageGPU(ctx, index, o, gctx)
	}
	return v.Image(index, o, interp)
}
