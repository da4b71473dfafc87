package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu"
)

var (
	// ErrDeviceUnavailable is returned when no adapter or device can be
	// acquired.
	ErrDeviceUnavailable = errors.New("gpu: device unavailable")

	// ErrDeviceLost is returned when the device stops responding while
	// resources are created or a submission is in flight.
	ErrDeviceLost = errors.New("gpu: device lost")

	// ErrIndexOutOfRange is returned for a slice index beyond the fixed axis.
	ErrIndexOutOfRange = errors.New("gpu: slice index out of range")

	// ErrVolumeTooLarge is returned when the volume exceeds the device's 3-D
	// texture limits.
	ErrVolumeTooLarge = errors.New("gpu: volume exceeds texture limits")

	// ErrClosed is returned by an Extractor or Context used after Close.
	ErrClosed = errors.New("gpu: use of closed resource")
)

// classify wraps wgpu failures that mean the device is gone so callers can
// test for ErrDeviceLost.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, wgpu.ErrDeviceLost) || errors.Is(err, wgpu.ErrMapDeviceLost) {
		return fmt.Errorf("%w: %s: %w", ErrDeviceLost, op, err)
	}
	if errors.Is(err, wgpu.ErrReleased) {
		return fmt.Errorf("%w: %s: %w", ErrClosed, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
