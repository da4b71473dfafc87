package loader

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"mrivolume/internal/models"
	"mrivolume/pkg/geometry"
	"mrivolume/pkg/volume"
)

// imageExts lists the file types LoadImageDirectory reads.
var imageExts = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}

// LoadImageDirectory reads a stack of ordinary images. Slices are ordered by
// the number embedded in each filename. Images carry no spacing, so the
// spacing override is used if set and (1, 1, 1) otherwise.
func (l *Loader) LoadImageDirectory(ctx context.Context, dir string) (*volume.Volume, error) {
	paths, err := listFiles(dir, imageExts...)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrNoValidImages, dir)
	}

	slices := make([]*models.Slice, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := readImage(path)
			if err != nil {
				return err
			}
			slices[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	spacing := l.spacing
	if spacing.IsZero() {
		spacing = geometry.Spacing{X: 1, Y: 1, Z: 1}
	}
	return assemble(slices, SortInstanceNumber, spacing)
}

// readImage decodes one file into a 16-bit grayscale slice ordered by its
// filename number.
func readImage(path string) (*models.Slice, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("loader: decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	s := &models.Slice{
		Pixels:   toGray16(img),
		Rows:     bounds.Dy(),
		Cols:     bounds.Dx(),
		Filename: path,
		Order:    float64(extractNumber(path)),
		HasOrder: true,
	}
	return s, nil
}

// toGray16 converts img to row-major 16-bit luminance.
func toGray16(img image.Image) []uint16 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]uint16, width*height)

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				out[y*width+x] = src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				// Replicate the byte so 255 maps to 65535.
				out[y*width+x] = uint16(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) * 0x101
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				out[y*width+x] = c.Y
			}
		}
	}
	return out
}

// extractNumber extracts the digits of a filename as one number, e.g.
// "slice_012.png" gives 12. Names without digits give 0.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	base = base[:len(base)-len(filepath.Ext(base))]

	digits := make([]byte, 0, len(base))
	for i := 0; i < len(base); i++ {
		if base[i] >= '0' && base[i] <= '9' {
			digits = append(digits, base[i])
		}
	}
	if len(digits) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0
	}
	return n
}
