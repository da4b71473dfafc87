package models

// Slice represents a single decoded 2-D image of a stack, with the metadata
// needed to order it and to recover the voxel spacing.
type Slice struct {
	// Pixels holds Rows*Cols 16-bit samples in row-major order
	Pixels []uint16

	// Rows is the image height in pixels
	Rows int

	// Cols is the image width in pixels
	Cols int

	// Filename is the file the slice was read from
	Filename string

	// Order is the key the stack is sorted by; only meaningful when
	// HasOrder is set
	Order    float64
	HasOrder bool

	// PixelSpacing holds the two in-plane spacing values in mm, in the
	// order they appear in the file; the first is used for X
	PixelSpacing [2]float64

	// SliceThickness is the physical thickness of the slice in mm
	SliceThickness float64

	// HasSpacing is set when both PixelSpacing and SliceThickness were
	// present in the source file
	HasSpacing bool
}

// SameShape reports whether s and other have identical dimensions.
func (s *Slice) SameShape(other *Slice) bool {
	return s.Rows == other.Rows && s.Cols == other.Cols
}
