package volume

import (
	"errors"
	"fmt"

	"mrivolume/pkg/geometry"
)

var (
	// ErrIndexOutOfRange is returned when a slice index is not smaller than
	// the extent of the fixed axis.
	ErrIndexOutOfRange = errors.New("volume: slice index out of range")

	// ErrBufferAssembly is returned when an output pixel buffer does not
	// hold exactly width*height bytes. It indicates an internal
	// inconsistency rather than bad input.
	ErrBufferAssembly = errors.New("volume: pixel buffer does not match image size")

	// ErrShape is returned by New when the voxel data and the declared
	// dimensions disagree.
	ErrShape = errors.New("volume: data does not match dimensions")
)

// IndexError describes a rejected slice request.
type IndexError struct {
	Index       int
	Extent      int
	Orientation geometry.Orientation
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("volume: %v slice index %d out of range [0, %d)", e.Orientation, e.Index, e.Extent)
}

// Unwrap lets errors.Is match ErrIndexOutOfRange.
func (e *IndexError) Unwrap() error {
	return ErrIndexOutOfRange
}
