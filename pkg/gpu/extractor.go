// Package gpu extracts resampled volume planes with a WebGPU compute shader.
//
// The whole volume is uploaded once as a 3-D RG8 texture. Each extraction
// runs one compute pass that samples the texture through a linear,
// clamp-to-edge sampler and reads the resulting 8-bit pixels back to the
// host.
package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"mrivolume/internal/logging"
	"mrivolume/pkg/geometry"
)

// Extractor holds the long-lived GPU objects for one volume: the texture,
// sampler and compute pipeline. It is safe for use by one goroutine at a
// time; concurrent calls are serialized.
type Extractor struct {
	mu sync.Mutex

	device *wgpu.Device
	queue  *wgpu.Queue
	dims   geometry.Dims

	texture        *wgpu.Texture
	view           *wgpu.TextureView
	sampler        *wgpu.Sampler
	shader         *wgpu.ShaderModule
	bindLayout     *wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout
	pipeline       *wgpu.ComputePipeline

	closed bool
}

// NewExtractor uploads data, laid out as (Z, Y, X) with the given dims, and
// builds the compute pipeline on gctx's device. The Context must outlive the
// Extractor.
func NewExtractor(gctx *Context, data []uint16, dims geometry.Dims) (*Extractor, error) {
	if gctx == nil || gctx.device == nil {
		return nil, ErrDeviceUnavailable
	}
	if len(data) != dims.Voxels() {
		return nil, fmt.Errorf("gpu: volume data has %d voxels, dims %v need %d", len(data), dims, dims.Voxels())
	}

	limit := int(gctx.Limits().MaxTextureDimension3D)
	if limit > 0 && (dims.Width > limit || dims.Height > limit || dims.Depth > limit) {
		return nil, fmt.Errorf("%w: %v, max %d per axis", ErrVolumeTooLarge, dims, limit)
	}

	e := &Extractor{
		device: gctx.device,
		queue:  gctx.device.Queue(),
		dims:   dims,
	}
	if err := e.uploadVolume(data); err != nil {
		e.release()
		return nil, err
	}
	if err := e.createPipeline(); err != nil {
		e.release()
		return nil, err
	}

	logging.Logger().Debug("gpu: extractor ready",
		"dims", dims.String(),
		"texture", humanize.Bytes(uint64(len(data)*2)),
	)
	return e, nil
}

func (e *Extractor) uploadVolume(data []uint16) error {
	size := wgpu.Extent3D{
		Width:              uint32(e.dims.Width),
		Height:             uint32(e.dims.Height),
		DepthOrArrayLayers: uint32(e.dims.Depth),
	}

	var err error
	e.texture, err = e.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "volume",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension3D,
		Format:        gputypes.TextureFormatRG8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return classify("create volume texture", err)
	}

	err = e.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: e.texture, Aspect: gputypes.TextureAspectAll},
		encodeVoxels(data),
		&wgpu.ImageDataLayout{
			BytesPerRow:  uint32(e.dims.Width * 2),
			RowsPerImage: uint32(e.dims.Height),
		},
		&size,
	)
	if err != nil {
		return classify("upload volume", err)
	}

	e.view, err = e.device.CreateTextureView(e.texture, &wgpu.TextureViewDescriptor{
		Label:           "volume-view",
		Format:          gputypes.TextureFormatRG8Unorm,
		Dimension:       gputypes.TextureViewDimension3D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		return classify("create volume view", err)
	}

	e.sampler, err = e.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:        "volume-sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeNearest,
		LodMaxClamp:  32,
	})
	if err != nil {
		return classify("create sampler", err)
	}
	return nil
}

func (e *Extractor) createPipeline() error {
	var err error
	e.shader, err = e.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "volume-slice",
		WGSL:  sliceShaderWGSL,
	})
	if err != nil {
		return classify("create shader", err)
	}

	e.bindLayout, err = e.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "volume-slice-bgl",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension3D,
			}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Sampler: &gputypes.SamplerBindingLayout{
				Type: gputypes.SamplerBindingTypeFiltering,
			}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{
				Type: gputypes.BufferBindingTypeStorage,
			}},
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{
				Type: gputypes.BufferBindingTypeUniform,
			}},
		},
	})
	if err != nil {
		return classify("create bind group layout", err)
	}

	e.pipelineLayout, err = e.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "volume-slice-pl",
		BindGroupLayouts: []*wgpu.BindGroupLayout{e.bindLayout},
	})
	if err != nil {
		return classify("create pipeline layout", err)
	}

	e.pipeline, err = e.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      "volume-slice",
		Layout:     e.pipelineLayout,
		Module:     e.shader,
		EntryPoint: "main",
	})
	if err != nil {
		return classify("create compute pipeline", err)
	}
	return nil
}

// Dims returns the extents of the uploaded volume.
func (e *Extractor) Dims() geometry.Dims {
	return e.dims
}

// callBuffers are the per-extraction resources. None of them outlive the
// call.
type callBuffers struct {
	uniform, output, staging *wgpu.Buffer
	bindGroup                *wgpu.BindGroup
}

func (b *callBuffers) release() {
	if b.bindGroup != nil {
		b.bindGroup.Release()
	}
	for _, buf := range []*wgpu.Buffer{b.staging, b.output, b.uniform} {
		if buf != nil {
			buf.Release()
		}
	}
}

// ExtractSlice resamples the plane at index along o to width x height 8-bit
// pixels, row-major. It blocks until the device has produced the pixels or
// ctx is done; with a context that never ends there is no timeout.
func (e *Extractor) ExtractSlice(ctx context.Context, index int, o geometry.Orientation, width, height int) ([]uint8, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("gpu: invalid orientation %v", o)
	}
	if extent := o.Extent(e.dims); index < 0 || index >= extent {
		return nil, fmt.Errorf("%w: %d not in [0, %d) for %v", ErrIndexOutOfRange, index, extent, o)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gpu: invalid output size %dx%d", width, height)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	params := sliceParams{
		SliceIndex:  uint32(index),
		Orientation: o,
		OutWidth:    uint32(width),
		OutHeight:   uint32(height),
		VolWidth:    uint32(e.dims.Width),
		VolHeight:   uint32(e.dims.Height),
		VolDepth:    uint32(e.dims.Depth),
	}
	size := uint64(width) * uint64(height) * 4

	bufs, err := e.createCallBuffers(params, size)
	defer bufs.release()
	if err != nil {
		return nil, err
	}

	if err := e.dispatch(bufs, params, size); err != nil {
		return nil, err
	}

	raw, err := e.readback(ctx, bufs.staging, size)
	if err != nil {
		return nil, err
	}

	logging.Logger().Debug("gpu: slice extracted",
		"orientation", o.String(),
		"index", index,
		"size", fmt.Sprintf("%dx%d", width, height),
		"readback", humanize.Bytes(size),
	)
	return decodeLanes(raw, width*height), nil
}

func (e *Extractor) createCallBuffers(params sliceParams, size uint64) (*callBuffers, error) {
	bufs := &callBuffers{}

	var err error
	bufs.uniform, err = e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "slice-params",
		Size:  uniformSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return bufs, classify("create uniform buffer", err)
	}
	if err := e.queue.WriteBuffer(bufs.uniform, 0, params.bytes()); err != nil {
		return bufs, classify("write uniform buffer", err)
	}

	bufs.output, err = e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "slice-output",
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return bufs, classify("create output buffer", err)
	}

	bufs.staging, err = e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "slice-staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return bufs, classify("create staging buffer", err)
	}

	bufs.bindGroup, err = e.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "volume-slice-bg",
		Layout: e.bindLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: e.view},
			{Binding: 1, Sampler: e.sampler},
			{Binding: 2, Buffer: bufs.output, Size: size},
			{Binding: 3, Buffer: bufs.uniform, Size: uniformSize},
		},
	})
	if err != nil {
		return bufs, classify("create bind group", err)
	}
	return bufs, nil
}

func (e *Extractor) dispatch(bufs *callBuffers, params sliceParams, size uint64) error {
	encoder, err := e.device.CreateCommandEncoder(nil)
	if err != nil {
		return classify("create command encoder", err)
	}

	pass, err := encoder.BeginComputePass(nil)
	if err != nil {
		return classify("begin compute pass", err)
	}
	pass.SetPipeline(e.pipeline)
	pass.SetBindGroup(0, bufs.bindGroup, nil)
	pass.Dispatch(dispatchSize(int(params.OutWidth)), dispatchSize(int(params.OutHeight)), 1)
	if err := pass.End(); err != nil {
		return classify("end compute pass", err)
	}

	encoder.CopyBufferToBuffer(bufs.output, 0, bufs.staging, 0, size)

	cmd, err := encoder.Finish()
	if err != nil {
		return classify("finish commands", err)
	}
	if _, err := e.queue.Submit(cmd); err != nil {
		return classify("submit", err)
	}
	return nil
}

// readback waits until staging is host-readable and returns a copy of its
// contents.
//
// The wait is a single-producer channel: a poll goroutine drives the device
// and sends the map result exactly once; this call is the only receiver. If
// ctx ends first the pending map is cancelled by unmapping the buffer.
func (e *Extractor) readback(ctx context.Context, staging *wgpu.Buffer, size uint64) ([]byte, error) {
	pending, err := staging.MapAsync(wgpu.MapModeRead, 0, size)
	if err != nil {
		return nil, classify("map staging buffer", err)
	}

	mapped := make(chan error, 1)
	go func() {
		defer pending.Release()
		e.device.Poll(wgpu.PollWait)
		mapped <- pending.Wait(ctx)
	}()

	select {
	case err := <-mapped:
		if err != nil {
			return nil, classify("wait for staging map", err)
		}
	case <-ctx.Done():
		_ = staging.Unmap()
		return nil, ctx.Err()
	}
	defer func() {
		if err := staging.Unmap(); err != nil {
			logging.Logger().Warn("gpu: unmap staging buffer", "err", err)
		}
	}()

	rng, err := staging.MappedRange(0, size)
	if err != nil {
		return nil, classify("read staging buffer", err)
	}
	defer rng.Release()

	raw := rng.Bytes()
	if uint64(len(raw)) != size {
		return nil, fmt.Errorf("gpu: staging buffer returned %d bytes, want %d", len(raw), size)
	}
	return append([]byte(nil), raw...), nil
}

// Close releases the texture, sampler and pipeline objects. The device
// belongs to the Context and is left alone. Close is idempotent.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.release()
	return nil
}

// release frees whatever has been created so far, newest first.
func (e *Extractor) release() {
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	if e.pipelineLayout != nil {
		e.pipelineLayout.Release()
	}
	if e.bindLayout != nil {
		e.bindLayout.Release()
	}
	if e.shader != nil {
		e.shader.Release()
	}
	if e.sampler != nil {
		e.sampler.Release()
	}
	if e.view != nil {
		e.view.Release()
	}
	if e.texture != nil {
		e.texture.Release()
	}
}
