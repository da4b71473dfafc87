package volume

// PlaneView is a borrowed, stride-aware view of one plane of a Volume. It
// shares the volume's backing array and is only valid while the volume's
// data is not replaced.
type PlaneView struct {
	data      []uint16
	offset    int
	rowStride int
	colStride int
	rows      int
	cols      int
}

// Size returns the number of rows and columns. It implements
// interpolation.Plane.
func (p PlaneView) Size() (height, width int) {
	return p.rows, p.cols
}

// Width returns the number of columns.
func (p PlaneView) Width() int { return p.cols }

// Height returns the number of rows.
func (p PlaneView) Height() int { return p.rows }

// At returns the raw sample at row y, column x.
func (p PlaneView) At(y, x int) uint16 {
	return p.data[p.offset+y*p.rowStride+x*p.colStride]
}

// Value returns the sample at row y, column x as a float. It implements
// interpolation.Plane.
func (p PlaneView) Value(y, x int) float64 {
	return float64(p.At(y, x))
}

// Copy returns the plane as a dense row-major slice.
func (p PlaneView) Copy() []uint16 {
	out := make([]uint16, p.rows*p.cols)
	for y := 0; y < p.rows; y++ {
		for x := 0; x < p.cols; x++ {
			out[y*p.cols+x] = p.At(y, x)
		}
	}
	return out
}
