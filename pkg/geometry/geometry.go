// Package geometry defines volume extents, voxel spacing and the fixed table
// that maps an anatomical orientation onto the axes of a 2-D plane.
//
// Volumes are stored in (Z, Y, X) order. A plane keeps the two axes that are
// not fixed by the orientation, in that same order:
//
//	Orientation  fixed  rows  cols
//	Axial        Z      Y     X
//	Coronal      Y      Z     X
//	Sagittal     X      Z     Y
//
// The CPU resampler and the GPU shader both follow this table.
package geometry

import (
	"fmt"
	"math"
	"strings"
)

// Dims holds the extents of a volume in voxels.
type Dims struct {
	Depth  int // Z
	Height int // Y
	Width  int // X
}

// Voxels returns the total number of voxels.
func (d Dims) Voxels() int {
	return d.Depth * d.Height * d.Width
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Depth)
}

// Spacing is the physical distance between voxel centres along each axis,
// usually in millimetres.
type Spacing struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Validate reports an error unless all three components are positive.
func (s Spacing) Validate() error {
	if !(s.X > 0 && s.Y > 0 && s.Z > 0) {
		return fmt.Errorf("spacing must be positive on every axis, got (%g, %g, %g)", s.X, s.Y, s.Z)
	}
	return nil
}

// Min returns the smallest spacing component.
func (s Spacing) Min() float64 {
	return math.Min(s.X, math.Min(s.Y, s.Z))
}

// IsZero reports whether no spacing has been set.
func (s Spacing) IsZero() bool {
	return s == Spacing{}
}

// IsotropicDimensions returns the extents the volume would have if it were
// resampled so that every axis uses the smallest spacing as its voxel size.
// Each axis is rounded to the nearest integer.
func IsotropicDimensions(spacing Spacing, dims Dims) Dims {
	m := spacing.Min()
	scale := func(n int, s float64) int {
		return int(math.Round(float64(n) * s / m))
	}
	return Dims{
		Depth:  scale(dims.Depth, spacing.Z),
		Height: scale(dims.Height, spacing.Y),
		Width:  scale(dims.Width, spacing.X),
	}
}

// Orientation selects the axis held fixed when cutting a plane.
// The numeric values are shared with the GPU shader.
type Orientation uint32

const (
	Axial    Orientation = iota // fixes Z
	Coronal                     // fixes Y
	Sagittal                    // fixes X
)

// Orientations lists every orientation in declaration order.
var Orientations = []Orientation{Axial, Coronal, Sagittal}

func (o Orientation) String() string {
	switch o {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	default:
		return fmt.Sprintf("orientation(%d)", uint32(o))
	}
}

// ParseOrientation accepts the orientation names and their plane aliases
// (xy, xz, yz) as well as the axis letter that is held fixed (z, y, x).
func ParseOrientation(name string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "axial", "xy", "z":
		return Axial, nil
	case "coronal", "xz", "y":
		return Coronal, nil
	case "sagittal", "yz", "x":
		return Sagittal, nil
	default:
		return 0, fmt.Errorf("invalid orientation: %q (must be axial, coronal or sagittal)", name)
	}
}

// Valid reports whether o is one of the three defined orientations.
func (o Orientation) Valid() bool {
	return o <= Sagittal
}

// Extent returns the size of the axis fixed by o.
func (o Orientation) Extent(d Dims) int {
	switch o {
	case Coronal:
		return d.Height
	case Sagittal:
		return d.Width
	default:
		return d.Depth
	}
}

// PlaneSize returns the width and height of the raw plane cut at a fixed
// index along o.
func (o Orientation) PlaneSize(d Dims) (width, height int) {
	switch o {
	case Coronal:
		return d.Width, d.Depth
	case Sagittal:
		return d.Height, d.Depth
	default:
		return d.Width, d.Height
	}
}

// TargetSize returns the width and height of an interpolated plane. Axial
// planes are already isotropic in-plane and keep their native size; the
// other orientations take their size from the isotropic extents.
func (o Orientation) TargetSize(d, iso Dims) (width, height int) {
	if o == Axial {
		return o.PlaneSize(d)
	}
	return o.PlaneSize(iso)
}
