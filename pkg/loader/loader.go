// Package loader turns a directory of 2-D images into a volume. It reads
// DICOM series as well as plain PNG/JPEG/TIFF/BMP stacks, orders the slices,
// checks that they share one shape and derives the voxel spacing.
package loader

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"mrivolume/internal/logging"
	"mrivolume/internal/models"
	"mrivolume/pkg/geometry"
	"mrivolume/pkg/volume"
)

var (
	// ErrNoValidImages is returned when no slice could be decoded.
	ErrNoValidImages = errors.New("loader: no valid images found")

	// ErrInconsistentDimensions is returned when slices differ in size.
	ErrInconsistentDimensions = errors.New("loader: inconsistent image dimensions")

	// ErrMissingSpacing is returned when no slice carries spacing metadata
	// and no override was given.
	ErrMissingSpacing = errors.New("loader: missing spacing information")
)

// SortBy selects the key slices are ordered by.
type SortBy int

const (
	// SortImagePositionPatient orders by the z component of the patient
	// position, highest first.
	SortImagePositionPatient SortBy = iota
	// SortTablePosition orders by table position, ascending.
	SortTablePosition
	// SortInstanceNumber orders by instance number, ascending.
	SortInstanceNumber
	// SortNone keeps the order the files were listed in.
	SortNone
)

func (s SortBy) String() string {
	switch s {
	case SortImagePositionPatient:
		return "imagePositionPatient"
	case SortTablePosition:
		return "tablePosition"
	case SortInstanceNumber:
		return "instanceNumber"
	case SortNone:
		return "none"
	default:
		return fmt.Sprintf("sortBy(%d)", int(s))
	}
}

// ParseSortBy accepts the names returned by SortBy.String, case-insensitively.
func ParseSortBy(name string) (SortBy, error) {
	for _, s := range []SortBy{SortImagePositionPatient, SortTablePosition, SortInstanceNumber, SortNone} {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("invalid sort key: %q", name)
}

// Loader reads image stacks into volumes.
type Loader struct {
	sortBy  SortBy
	workers int
	spacing geometry.Spacing
	scaling WindowScaling
}

// Option configures a Loader.
type Option func(*Loader)

// WithSortBy sets the slice ordering. The default is
// SortImagePositionPatient.
func WithSortBy(s SortBy) Option {
	return func(l *Loader) {
		l.sortBy = s
	}
}

// WithWorkers limits the number of files decoded concurrently.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithSpacing overrides the spacing found in the files. A zero Spacing
// leaves the file metadata in charge.
func WithSpacing(s geometry.Spacing) Option {
	return func(l *Loader) {
		l.spacing = s
	}
}

// WithWindowScaling sets how DICOM samples are converted. The default is
// WindowScalingVOI.
func WithWindowScaling(w WindowScaling) Option {
	return func(l *Loader) {
		l.scaling = w
	}
}

// New returns a Loader with the given options applied.
func New(opts ...Option) *Loader {
	l := &Loader{
		sortBy:  SortImagePositionPatient,
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Assemble orders slices, validates their shape and stacks them into a
// volume. Nil entries are ignored.
func (l *Loader) Assemble(slices []*models.Slice) (*volume.Volume, error) {
	return assemble(compact(slices), l.sortBy, l.spacing)
}

func compact(slices []*models.Slice) []*models.Slice {
	out := slices[:0:0]
	for _, s := range slices {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func assemble(slices []*models.Slice, sortBy SortBy, override geometry.Spacing) (*volume.Volume, error) {
	if len(slices) == 0 {
		return nil, ErrNoValidImages
	}

	spacing := override
	if spacing.IsZero() {
		var ok bool
		if spacing, ok = spacingFrom(slices); !ok {
			return nil, ErrMissingSpacing
		}
	}

	sortSlices(slices, sortBy)

	first := slices[0]
	for _, s := range slices[1:] {
		if !first.SameShape(s) {
			return nil, fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", ErrInconsistentDimensions,
				first.Filename, first.Cols, first.Rows, s.Filename, s.Cols, s.Rows)
		}
	}

	dims := geometry.Dims{Depth: len(slices), Height: first.Rows, Width: first.Cols}
	data := make([]uint16, 0, dims.Voxels())
	for _, s := range slices {
		data = append(data, s.Pixels...)
	}

	v, err := volume.New(data, dims, spacing)
	if err != nil {
		return nil, err
	}

	logging.Logger().Info("loader: volume assembled",
		"slices", len(slices),
		"dims", dims.String(),
		"spacing", fmt.Sprintf("%g/%g/%g", spacing.X, spacing.Y, spacing.Z),
		"sort", sortBy.String(),
	)
	return v, nil
}

// sortSlices orders slices by their key. Slices without a key come first;
// ties keep their listing order. Patient-position ordering is reversed so
// the highest position comes first.
func sortSlices(slices []*models.Slice, sortBy SortBy) {
	if sortBy == SortNone {
		return
	}
	sort.SliceStable(slices, func(i, j int) bool {
		a, b := slices[i], slices[j]
		if !a.HasOrder || !b.HasOrder {
			return !a.HasOrder && b.HasOrder
		}
		return a.Order < b.Order
	})
	if sortBy == SortImagePositionPatient {
		for i, j := 0, len(slices)-1; i < j; i, j = i+1, j-1 {
			slices[i], slices[j] = slices[j], slices[i]
		}
	}
}

// spacingFrom returns the spacing of the first slice, in input order, that
// carries it.
func spacingFrom(slices []*models.Slice) (geometry.Spacing, bool) {
	for _, s := range slices {
		if s.HasSpacing {
			return geometry.Spacing{X: s.PixelSpacing[0], Y: s.PixelSpacing[1], Z: s.SliceThickness}, true
		}
	}
	return geometry.Spacing{}, false
}
