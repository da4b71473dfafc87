package loader

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"

	"mrivolume/internal/logging"
	"mrivolume/internal/models"
	"mrivolume/pkg/geometry"
	"mrivolume/pkg/volume"
)

// dicomFile is one parsed file. slice is nil when the file is skipped;
// spacing is read either way.
type dicomFile struct {
	slice      *models.Slice
	spacing    geometry.Spacing
	hasSpacing bool
}

// LoadDirectory reads every .dcm file in dir (not recursively).
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (*volume.Volume, error) {
	paths, err := listFiles(dir, ".dcm")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no .dcm files in %s", ErrNoValidImages, dir)
	}
	return l.LoadFiles(ctx, paths)
}

// LoadFiles reads the given DICOM files into a volume. Files that parse but
// carry no usable pixel data or no sort key are skipped, though their
// spacing still counts; files that fail to parse abort the load.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) (*volume.Volume, error) {
	files := make([]dicomFile, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := readDICOM(path, l.sortBy, l.scaling)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	spacing := l.spacing
	if spacing.IsZero() {
		for _, f := range files {
			if f.hasSpacing {
				spacing = f.spacing
				break
			}
		}
	}

	slices := make([]*models.Slice, 0, len(files))
	for _, f := range files {
		if f.slice != nil {
			slices = append(slices, f.slice)
		}
	}
	return assemble(slices, l.sortBy, spacing)
}

// readDICOM decodes the first frame of one file.
func readDICOM(path string, sortBy SortBy, scaling WindowScaling) (dicomFile, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return dicomFile{}, fmt.Errorf("loader: parse %s: %w", path, err)
	}

	var f dicomFile
	spacing, _ := floatValues(&ds, tag.PixelSpacing)
	thickness, _ := floatValues(&ds, tag.SliceThickness)
	if len(spacing) >= 2 && len(thickness) >= 1 {
		f.spacing = geometry.Spacing{X: spacing[0], Y: spacing[1], Z: thickness[0]}
		f.hasSpacing = true
	}

	s := &models.Slice{Filename: path}

	switch sortBy {
	case SortImagePositionPatient:
		pos, present := floatValues(&ds, tag.ImagePositionPatient)
		if !present {
			logging.Logger().Debug("loader: skipping file without patient position", "file", path)
			return f, nil
		}
		if len(pos) >= 3 {
			s.Order, s.HasOrder = pos[2], true
		}
	case SortTablePosition, SortInstanceNumber:
		t := tag.InstanceNumber
		if sortBy == SortTablePosition {
			t = tag.TablePosition
		}
		vals, present := floatValues(&ds, t)
		if !present {
			logging.Logger().Debug("loader: skipping file without sort key", "file", path, "sort", sortBy.String())
			return f, nil
		}
		if len(vals) > 0 {
			s.Order, s.HasOrder = vals[0], true
		}
	}

	if !decodePixels(&ds, s, scaling) {
		logging.Logger().Debug("loader: skipping file without native pixel data", "file", path)
		return f, nil
	}

	if f.hasSpacing {
		s.PixelSpacing = [2]float64{f.spacing.X, f.spacing.Y}
		s.SliceThickness = f.spacing.Z
		s.HasSpacing = true
	}
	f.slice = s

	if info, err := os.Stat(path); err == nil {
		logging.Logger().Debug("loader: decoded", "file", filepath.Base(path),
			"size", humanize.Bytes(uint64(info.Size())), "rows", s.Rows, "cols", s.Cols)
	}
	return f, nil
}

// decodePixels converts the first sample of every pixel of the first native
// frame into s. Compressed frames are not decoded.
func decodePixels(ds *dicom.Dataset, s *models.Slice, scaling WindowScaling) bool {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return false
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return false
	}

	fr := info.Frames[0]
	if fr.Encapsulated {
		return false
	}
	nd := fr.NativeData
	if nd.Rows <= 0 || nd.Cols <= 0 || len(nd.Data) < nd.Rows*nd.Cols {
		return false
	}

	transform := newPixelTransform(ds, scaling, nd.BitsPerSample)
	s.Rows, s.Cols = nd.Rows, nd.Cols
	s.Pixels = make([]uint16, nd.Rows*nd.Cols)
	for i := range s.Pixels {
		if len(nd.Data[i]) > 0 {
			s.Pixels[i] = transform.apply(nd.Data[i][0])
		}
	}
	return true
}

// floatValues reads a numeric element whatever its VR. present reports
// whether the element exists; vals is nil when it exists but does not
// parse.
func floatValues(ds *dicom.Dataset, t tag.Tag) (vals []float64, present bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}

	switch v := el.Value.GetValue().(type) {
	case []string:
		for _, str := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
			if err != nil {
				return nil, true
			}
			vals = append(vals, f)
		}
	case []int:
		for _, n := range v {
			vals = append(vals, float64(n))
		}
	case []float64:
		vals = append(vals, v...)
	}
	return vals, true
}

func clampUint16(v int) uint16 {
	return uint16(max(0, min(math.MaxUint16, v)))
}

// listFiles returns the regular files in dir whose extension matches one of
// exts, case-insensitively, in directory order.
func listFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: read directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		for _, want := range exts {
			if strings.EqualFold(ext, want) {
				paths = append(paths, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	return paths, nil
}
