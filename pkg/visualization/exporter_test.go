package visualization

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"mrivolume/pkg/geometry"
	"mrivolume/pkg/volume"
)

// createTestVolume creates a volume where each axial slice has a unique value
func createTestVolume(t *testing.T, dims geometry.Dims, spacing geometry.Spacing) *volume.Volume {
	t.Helper()
	data := make([]uint16, dims.Voxels())
	for z := 0; z < dims.Depth; z++ {
		for i := 0; i < dims.Height*dims.Width; i++ {
			data[z*dims.Height*dims.Width+i] = uint16(z * 10000)
		}
	}
	v, err := volume.New(data, dims, spacing)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

// createGradient creates a width x height gray image with a horizontal ramp
func createGradient(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / max(1, width-1))})
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"png":  FormatPNG,
		"":     FormatPNG,
		".JPG": FormatJPEG,
		"jpeg": FormatJPEG,
		"tif":  FormatTIFF,
		"TIFF": FormatTIFF,
		".bmp": FormatBMP,
	}
	for name, want := range tests {
		got, err := ParseFormat(name)
		if err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseFormat(%q): Expected %q, got %q", name, want, got)
		}
	}

	if _, err := ParseFormat("gif"); err == nil {
		t.Error("Expected error for unsupported format, got nil")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	img := createGradient(8, 4)

	decoders := map[Format]func(*bytes.Buffer) (image.Image, error){
		FormatPNG:  func(b *bytes.Buffer) (image.Image, error) { return png.Decode(b) },
		FormatTIFF: func(b *bytes.Buffer) (image.Image, error) { return tiff.Decode(b) },
		FormatBMP:  func(b *bytes.Buffer) (image.Image, error) { return bmp.Decode(b) },
	}

	for format, decode := range decoders {
		var buf bytes.Buffer
		if err := NewExporter(format).Encode(&buf, img); err != nil {
			t.Fatalf("%s: Encode failed: %v", format, err)
		}
		got, err := decode(&buf)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", format, err)
		}
		if got.Bounds() != img.Bounds() {
			t.Errorf("%s: Expected bounds %v, got %v", format, img.Bounds(), got.Bounds())
		}

		// Lossless formats keep the exact levels.
		gray := color.GrayModel.Convert(got.At(7, 2)).(color.Gray)
		if gray.Y != 255 {
			t.Errorf("%s: Expected 255 at right edge, got %d", format, gray.Y)
		}
	}
}

func TestEncodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := NewExporter(FormatJPEG).Encode(&buf, createGradient(16, 16)); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xFF, 0xD8}) {
		t.Error("Expected JPEG start-of-image marker")
	}
}

func TestEncodeInvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	e := &Exporter{Format: "gif"}
	if err := e.Encode(&buf, createGradient(2, 2)); err == nil {
		t.Error("Expected error for invalid format, got nil")
	}
}

func TestScale(t *testing.T) {
	e := &Exporter{Format: FormatPNG, Scale: 2}
	var buf bytes.Buffer
	if err := e.Encode(&buf, createGradient(5, 3)); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	cfg, err := png.DecodeConfig(&buf)
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if cfg.Width != 10 || cfg.Height != 6 {
		t.Errorf("Expected 10x6, got %dx%d", cfg.Width, cfg.Height)
	}

	// A uniform image stays uniform after Catmull-Rom scaling.
	flat := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}
	out := (&Exporter{Scale: 0.5}).scaled(flat).(*image.Gray)
	for i, p := range out.Pix {
		if p != 128 {
			t.Fatalf("Expected 128 at %d, got %d", i, p)
		}
	}
}

func TestSaveImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "slice.png")
	if err := NewExporter(FormatPNG).SaveImage(createGradient(4, 4), path); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Saved file does not exist: %v", err)
	}
}

func TestSliceFilename(t *testing.T) {
	tests := []struct {
		format Format
		o      geometry.Orientation
		index  int
		want   string
	}{
		{FormatPNG, geometry.Axial, 0, "slice_axial_000.png"},
		{FormatJPEG, geometry.Coronal, 12, "slice_coronal_012.jpg"},
		{FormatTIFF, geometry.Sagittal, 1234, "slice_sagittal_1234.tiff"},
		{"", geometry.Axial, 7, "slice_axial_007.png"},
	}
	for _, tt := range tests {
		e := &Exporter{Format: tt.format}
		if got := e.SliceFilename(tt.o, tt.index); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestSaveSliceSequence(t *testing.T) {
	dims := geometry.Dims{Depth: 3, Height: 5, Width: 4}
	v := createTestVolume(t, dims, geometry.Spacing{X: 1, Y: 1, Z: 2})
	dir := filepath.Join(t.TempDir(), "slices")
	e := NewExporter(FormatPNG)

	for _, o := range geometry.Orientations {
		n, err := e.SaveSliceSequence(context.Background(), v, o, volume.InterpolationBilinear, nil, dir)
		if err != nil {
			t.Fatalf("%s: SaveSliceSequence failed: %v", o, err)
		}
		if n != o.Extent(dims) {
			t.Errorf("%s: Expected %d files, got %d", o, o.Extent(dims), n)
		}
		for i := 0; i < n; i++ {
			if _, err := os.Stat(filepath.Join(dir, e.SliceFilename(o, i))); err != nil {
				t.Errorf("Expected slice file %s: %v", e.SliceFilename(o, i), err)
			}
		}
	}

	// Coronal slices are resampled to the isotropic depth.
	f, err := os.Open(filepath.Join(dir, e.SliceFilename(geometry.Coronal, 0)))
	if err != nil {
		t.Fatalf("Failed to open coronal slice: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}
	if cfg.Width != 4 || cfg.Height != 6 {
		t.Errorf("Expected coronal slice 4x6, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestSaveSliceSequenceErrors(t *testing.T) {
	v := createTestVolume(t, geometry.Dims{Depth: 2, Height: 2, Width: 2}, geometry.Spacing{X: 1, Y: 1, Z: 1})
	e := NewExporter(FormatPNG)

	if _, err := e.SaveSliceSequence(context.Background(), v, geometry.Orientation(7), volume.InterpolationNone, nil, t.TempDir()); err == nil {
		t.Error("Expected error for invalid orientation, got nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := e.SaveSliceSequence(ctx, v, geometry.Axial, volume.InterpolationNone, nil, t.TempDir())
	if err == nil || n != 0 {
		t.Errorf("Expected cancellation before the first slice, got %d files and %v", n, err)
	}
}
