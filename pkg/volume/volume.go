// Package volume holds a 3-D stack of 16-bit voxels and cuts 2-D images out
// of it along the axial, coronal and sagittal planes, optionally resampled
// to isotropic resolution on the CPU or on the GPU.
package volume

import (
	"fmt"
	"runtime"
	"sync"

	"mrivolume/pkg/geometry"
	"mrivolume/pkg/gpu"
)

// Re-exported so callers of this package rarely need geometry directly.
type (
	Dims        = geometry.Dims
	Spacing     = geometry.Spacing
	Orientation = geometry.Orientation
)

const (
	Axial    = geometry.Axial
	Coronal  = geometry.Coronal
	Sagittal = geometry.Sagittal
)

// Interpolation selects how a plane is turned into an image.
type Interpolation int

const (
	// InterpolationNone normalizes the raw plane at native resolution.
	InterpolationNone Interpolation = iota
	// InterpolationBilinear resamples off-axis planes to isotropic size.
	InterpolationBilinear
)

func (i Interpolation) String() string {
	switch i {
	case InterpolationNone:
		return "none"
	case InterpolationBilinear:
		return "bilinear"
	default:
		return fmt.Sprintf("interpolation(%d)", int(i))
	}
}

// ParseInterpolation accepts "none" and "bilinear" (or "linear").
func ParseInterpolation(name string) (Interpolation, error) {
	switch name {
	case "none", "":
		return InterpolationNone, nil
	case "bilinear", "linear":
		return InterpolationBilinear, nil
	default:
		return 0, fmt.Errorf("invalid interpolation: %q (must be none or bilinear)", name)
	}
}

// Volume is a 3-D array of 16-bit voxels stored in (Z, Y, X) order together
// with its physical spacing.
//
// Image is safe for concurrent use. ImageGPU calls are serialized.
type Volume struct {
	data    []uint16
	dims    Dims
	spacing Spacing
	iso     Dims
	workers int

	// gpuMu guards the lazily created GPU state.
	gpuMu     sync.Mutex
	gpuCtx    *gpu.Context
	extractor *gpu.Extractor
}

// New wraps data as a volume of the given dims. The volume takes ownership
// of data.
func New(data []uint16, dims Dims, spacing Spacing) (*Volume, error) {
	if err := spacing.Validate(); err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	if dims.Depth <= 0 || dims.Height <= 0 || dims.Width <= 0 {
		return nil, fmt.Errorf("%w: dims %v must be positive", ErrShape, dims)
	}
	if len(data) != dims.Voxels() {
		return nil, fmt.Errorf("%w: %d voxels for dims %v", ErrShape, len(data), dims)
	}

	return &Volume{
		data:    data,
		dims:    dims,
		spacing: spacing,
		iso:     geometry.IsotropicDimensions(spacing, dims),
		workers: runtime.NumCPU(),
	}, nil
}

// Dims returns the volume extents.
func (v *Volume) Dims() Dims { return v.dims }

// Spacing returns the physical voxel spacing.
func (v *Volume) Spacing() Spacing { return v.spacing }

// IsotropicDims returns the extents after resampling to the smallest
// spacing. It is computed once in New.
func (v *Volume) IsotropicDims() Dims { return v.iso }

// Data returns the backing voxel array in (Z, Y, X) order. Callers may
// change values in place but must not do so after the first ImageGPU call:
// the GPU keeps its own copy and would serve stale data.
func (v *Volume) Data() []uint16 { return v.data }

// SetWorkers sets the number of goroutines used by the CPU resampler.
// Values below 1 select runtime.NumCPU. Call it before sharing the volume
// between goroutines.
func (v *Volume) SetWorkers(n int) {
	if n < 1 {
		n = runtime.NumCPU()
	}
	v.workers = n
}

func (v *Volume) index(z, y, x int) int {
	return (z*v.dims.Height+y)*v.dims.Width + x
}

// At returns the voxel at (z, y, x).
func (v *Volume) At(z, y, x int) uint16 {
	return v.data[v.index(z, y, x)]
}

// Set stores val at (z, y, x).
func (v *Volume) Set(z, y, x int, val uint16) {
	v.data[v.index(z, y, x)] = val
}

// Slice returns a view of the plane obtained by fixing the orientation's
// axis at index. The remaining axes keep their (Z, Y, X) order.
func (v *Volume) Slice(index int, o Orientation) (PlaneView, error) {
	if !o.Valid() {
		return PlaneView{}, fmt.Errorf("volume: invalid orientation %v", o)
	}
	if extent := o.Extent(v.dims); index < 0 || index >= extent {
		return PlaneView{}, &IndexError{Index: index, Extent: extent, Orientation: o}
	}

	d := v.dims
	plane := d.Height * d.Width
	switch o {
	case Coronal:
		return PlaneView{data: v.data, offset: index * d.Width, rowStride: plane, colStride: 1, rows: d.Depth, cols: d.Width}, nil
	case Sagittal:
		return PlaneView{data: v.data, offset: index, rowStride: plane, colStride: d.Width, rows: d.Depth, cols: d.Height}, nil
	default:
		return PlaneView{data: v.data, offset: index * plane, rowStride: d.Width, colStride: 1, rows: d.Height, cols: d.Width}, nil
	}
}

// Close releases the GPU resources and the adopted GPU context, if any.
func (v *Volume) Close() error {
	v.gpuMu.Lock()
	defer v.gpuMu.Unlock()

	var err error
	if v.extractor != nil {
		err = v.extractor.Close()
		v.extractor = nil
	}
	if v.gpuCtx != nil {
		if cerr := v.gpuCtx.Close(); err == nil {
			err = cerr
		}
		v.gpuCtx = nil
	}
	return err
}
