// Package interpolation implements the resampling math used to turn a raw
// volume plane into an isotropic 8-bit image: bilinear sampling with edge
// clamping, the half-pixel-centre coordinate mapping and 16 to 8 bit
// normalization.
package interpolation

import (
	"math"
)

// Plane is a 2-D grid of scalar samples addressed as (row, column).
type Plane interface {
	// Size returns the number of rows and columns.
	Size() (height, width int)
	// Value returns the sample at row y, column x. Both are in range.
	Value(y, x int) float64
}

// Grid is a dense row-major Plane.
type Grid struct {
	Height, Width int
	Data          []float64
}

// NewGrid wraps data as a height x width grid.
func NewGrid(height, width int, data []float64) *Grid {
	return &Grid{Height: height, Width: width, Data: data}
}

// Size implements Plane.
func (g *Grid) Size() (int, int) { return g.Height, g.Width }

// Value implements Plane.
func (g *Grid) Value(y, x int) float64 { return g.Data[y*g.Width+x] }

// BilinearSample returns the bilinear blend of the four samples around the
// fractional position (y, x). Positions outside the plane are clamped to the
// nearest edge row or column.
//
// The blend runs along x first for both rows and then along y between the
// two row results; the GPU shader evaluates in the same order.
func BilinearSample(p Plane, y, x float64) float64 {
	h, w := p.Size()
	if h == 0 || w == 0 {
		return 0
	}

	y = clamp(y, 0, float64(h-1))
	x = clamp(x, 0, float64(w-1))

	y0 := int(math.Floor(y))
	x0 := int(math.Floor(x))
	y1 := min(y0+1, h-1)
	x1 := min(x0+1, w-1)

	dy := y - float64(y0)
	dx := x - float64(x0)

	top := math.FMA(p.Value(y0, x0), 1-dx, p.Value(y0, x1)*dx)
	bottom := math.FMA(p.Value(y1, x0), 1-dx, p.Value(y1, x1)*dx)
	return math.FMA(top, 1-dy, bottom*dy)
}

// SourceCoord maps pixel t of a target axis with targetSize pixels onto the
// matching fractional position of a source axis with sourceSize samples,
// aligning pixel centres: (t+0.5)/targetSize*sourceSize - 0.5. The result is
// clamped to [0, sourceSize-1].
//
// The expression is evaluated over integers and divided once, so equal sizes
// map every pixel exactly onto its own sample.
func SourceCoord(t, targetSize, sourceSize int) float64 {
	if targetSize <= 0 || sourceSize <= 0 {
		return 0
	}
	num := float64((2*t+1)*sourceSize - targetSize)
	src := num / float64(2*targetSize)
	return clamp(src, 0, float64(sourceSize-1))
}

// NormalizeToU8 scales a 16-bit intensity into the 8-bit range, rounding to
// the nearest level.
func NormalizeToU8(v float64) uint8 {
	return uint8(math.Round(clamp(v/65535*255, 0, 255)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
