package volume

import (
	"context"
	"fmt"
	"image"

	"mrivolume/pkg/gpu"
	"mrivolume/pkg/interpolation"
)

// Image returns the plane at index along o as an 8-bit image computed on the
// CPU.
//
// With InterpolationNone the raw plane is normalized at native size. With
// InterpolationBilinear coronal and sagittal planes are resampled to the
// isotropic size given by geometry.Orientation.TargetSize; axial planes keep
// their native size.
func (v *Volume) Image(index int, o Orientation, interp Interpolation) (*image.Gray, error) {
	plane, err := v.Slice(index, o)
	if err != nil {
		return nil, err
	}

	if interp == InterpolationNone || o == Axial {
		return assemble(interpolation.Normalize(plane), plane.Width(), plane.Height())
	}

	width, height := o.TargetSize(v.dims, v.iso)
	return assemble(interpolation.Resample(plane, width, height, v.workers), width, height)
}

// ImageGPU is Image with bilinear resampling done by the GPU.
//
// The first call adopts gctx and uploads the volume; the volume closes gctx
// in Close. Later calls reuse the uploaded texture, and a different gctx
// passed later stays owned by the caller. Axial planes are not resized and
// are normalized on the CPU. GPU errors are returned as-is; falling back to
// Image is the caller's decision.
func (v *Volume) ImageGPU(ctx context.Context, index int, o Orientation, gctx *gpu.Context) (*image.Gray, error) {
	plane, err := v.Slice(index, o)
	if err != nil {
		return nil, err
	}
	if o == Axial {
		return assemble(interpolation.Normalize(plane), plane.Width(), plane.Height())
	}

	v.gpuMu.Lock()
	defer v.gpuMu.Unlock()

	if v.extractor == nil {
		if gctx == nil {
			return nil, fmt.Errorf("volume: no GPU context: %w", gpu.ErrDeviceUnavailable)
		}
		e, err := gpu.NewExtractor(gctx, v.data, v.dims)
		if err != nil {
			return nil, fmt.Errorf("volume: init GPU: %w", err)
		}
		v.extractor = e
		v.gpuCtx = gctx
	}

	width, height := o.TargetSize(v.dims, v.iso)
	pix, err := v.extractor.ExtractSlice(ctx, index, o, width, height)
	if err != nil {
		return nil, fmt.Errorf("volume: GPU extract: %w", err)
	}
	return assemble(pix, width, height)
}

// GPUReady reports whether the GPU state has been created.
func (v *Volume) GPUReady() bool {
	v.gpuMu.Lock()
	defer v.gpuMu.Unlock()
	return v.extractor != nil
}

// assemble wraps row-major pixels as a width x height grayscale image.
func assemble(pix []uint8, width, height int) (*image.Gray, error) {
	if len(pix) != width*height {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrBufferAssembly, len(pix), width, height)
	}
	return &image.Gray{
		Pix:    pix,
		Stride: width,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}
