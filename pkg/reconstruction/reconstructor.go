// Package reconstruction drives the slicing pipeline used by the command line
// tool: it loads a volume, extracts the requested planes on the CPU or the
// GPU, writes them out and optionally measures how far the two processors
// disagree.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mrivolume/internal/logging"
	"mrivolume/pkg/geometry"
	"mrivolume/pkg/gpu"
	"mrivolume/pkg/loader"
	"mrivolume/pkg/visualization"
	"mrivolume/pkg/volume"
)

// Input formats accepted by Params.InputFormat.
const (
	InputDICOM  = "dicom"
	InputImages = "images"
)

// Params holds the pipeline parameters.
type Params struct {
	// InputDir is the directory containing the slice files.
	InputDir string

	// InputFormat is InputDICOM or InputImages.
	InputFormat string

	// OutputDir is where extracted slices are written.
	OutputDir string

	// OutputFormat, Scale and Quality configure the image encoder.
	OutputFormat visualization.Format
	Scale        float64
	Quality      int

	// SortBy orders DICOM slices.
	SortBy loader.SortBy

	// Spacing overrides the voxel spacing when non-zero.
	Spacing geometry.Spacing

	// WindowScaling selects how DICOM samples are converted.
	WindowScaling loader.WindowScaling

	// UseGPU computes interpolated planes on the GPU.
	UseGPU bool

	// Interpolation selects raw or bilinear resampled planes.
	Interpolation volume.Interpolation

	// Orientations lists the planes to extract.
	Orientations []geometry.Orientation

	// Index is the slice to extract along each orientation; -1 selects the
	// centre slice. Ignored when All is set.
	Index int

	// All extracts every slice along each orientation.
	All bool

	// NumCores specifies how many CPU cores to use for parallel processing.
	NumCores int

	// GPUTimeout bounds each GPU extraction; 0 means no limit.
	GPUTimeout time.Duration

	// Compare computes every extracted plane on both processors and records
	// AgreementMetrics.
	Compare bool
}

// Summary describes the loaded volume and what was written.
type Summary struct {
	Dims          geometry.Dims
	IsotropicDims geometry.Dims
	Spacing       geometry.Spacing
	Mean          float64
	StdDev        float64
	Processor     string
	Written       int
	Elapsed       time.Duration
}

// Reconstructor runs the pipeline described by Params.
type Reconstructor struct {
	params *Params

	vol  *volume.Volume
	gctx *gpu.Context

	exporter *visualization.Exporter
	acc      metricsAccumulator
	summary  Summary
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	exporter := visualization.NewExporter(params.OutputFormat)
	if params.Scale > 0 {
		exporter.Scale = params.Scale
	}
	if params.Quality > 0 {
		exporter.Quality = params.Quality
	}
	exporter.Timeout = params.GPUTimeout

	return &Reconstructor{
		params:   params,
		exporter: exporter,
	}
}

// Process runs the complete pipeline.
func (r *Reconstructor) Process(ctx context.Context) error {
	start := time.Now()

	fmt.Println("Step 1: Loading volume...")
	if err := r.loadVolume(ctx); err != nil {
		return fmt.Errorf("failed to load volume: %w", err)
	}

	if r.params.UseGPU || r.params.Compare {
		fmt.Println("Step 2: Initializing GPU...")
		r.initGPU()
	}

	if err := os.MkdirAll(r.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	fmt.Println("Step 3: Extracting slices...")
	for _, o := range r.params.Orientations {
		if err := r.extractOrientation(ctx, o); err != nil {
			return fmt.Errorf("failed to extract %s slices: %w", o, err)
		}
	}

	r.summary.Elapsed = time.Since(start)
	return nil
}

func (r *Reconstructor) loadVolume(ctx context.Context) error {
	l := loader.New(
		loader.WithSortBy(r.params.SortBy),
		loader.WithWorkers(r.params.NumCores),
		loader.WithSpacing(r.params.Spacing),
		loader.WithWindowScaling(r.params.WindowScaling),
	)

	var err error
	switch r.params.InputFormat {
	case InputImages:
		r.vol, err = l.LoadImageDirectory(ctx, r.params.InputDir)
	case InputDICOM, "":
		r.vol, err = l.LoadDirectory(ctx, r.params.InputDir)
	default:
		return fmt.Errorf("invalid input format: %q", r.params.InputFormat)
	}
	if err != nil {
		return err
	}
	if r.params.NumCores > 0 {
		r.vol.SetWorkers(r.params.NumCores)
	}

	mean, std := intensityStats(r.vol.Data())
	r.summary.Dims = r.vol.Dims()
	r.summary.IsotropicDims = r.vol.IsotropicDims()
	r.summary.Spacing = r.vol.Spacing()
	r.summary.Mean = mean
	r.summary.StdDev = std
	r.summary.Processor = "cpu"
	return nil
}

// initGPU opens a GPU context. Failure is not fatal: extraction continues on
// the CPU and comparison is skipped.
func (r *Reconstructor) initGPU() {
	gctx, err := gpu.NewContext(gpu.WithHighPerformance())
	if err != nil {
		logging.Logger().Warn("reconstruction: GPU unavailable, using CPU", "err", err)
		fmt.Printf("Warning: GPU unavailable, falling back to CPU: %v\n", err)
		return
	}
	r.gctx = gctx
	if r.params.UseGPU {
		r.summary.Processor = "gpu"
	}
}

// indices returns the slice indices to extract along o.
func (r *Reconstructor) indices(o geometry.Orientation) ([]int, error) {
	extent := o.Extent(r.vol.Dims())
	if r.params.All {
		out := make([]int, extent)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}

	index := r.params.Index
	if index < 0 {
		index = extent / 2
	}
	if index >= extent {
		return nil, &volume.IndexError{Index: index, Extent: extent, Orientation: o}
	}
	return []int{index}, nil
}

func (r *Reconstructor) extractOrientation(ctx context.Context, o geometry.Orientation) error {
	indices, err := r.indices(o)
	if err != nil {
		return err
	}

	if r.params.All && !r.params.Compare {
		n, err := r.exporter.SaveSliceSequence(ctx, r.vol, o, r.params.Interpolation, r.processorContext(), r.params.OutputDir)
		if err != nil && r.fallback(err) {
			n, err = r.exporter.SaveSliceSequence(ctx, r.vol, o, r.params.Interpolation, nil, r.params.OutputDir)
		}
		r.summary.Written += n
		if err == nil {
			fmt.Printf("Saved %d %s slices to: %s\n", n, o, r.params.OutputDir)
		}
		return err
	}

	for _, index := range indices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.extractOne(ctx, index, o); err != nil {
			return err
		}
	}
	fmt.Printf("Saved %d %s slice(s) to: %s\n", len(indices), o, r.params.OutputDir)
	return nil
}

func (r *Reconstructor) extractOne(ctx context.Context, index int, o geometry.Orientation) error {
	img, err := r.exporter.Extract(ctx, r.vol, index, o, r.params.Interpolation, r.processorContext())
	if err != nil && r.fallback(err) {
		img, err = r.vol.Image(index, o, r.params.Interpolation)
	}
	if err != nil {
		return err
	}

	if r.params.Compare && r.gctx != nil && o != geometry.Axial {
		if err := r.compare(ctx, index, o); err != nil {
			return err
		}
	}

	path := filepath.Join(r.params.OutputDir, r.exporter.SliceFilename(o, index))
	if err := r.exporter.SaveImage(img, path); err != nil {
		return err
	}
	r.summary.Written++
	return nil
}

// compare extracts one bilinear plane on both processors and accumulates the
// difference.
func (r *Reconstructor) compare(ctx context.Context, index int, o geometry.Orientation) error {
	cpuImg, err := r.vol.Image(index, o, volume.InterpolationBilinear)
	if err != nil {
		return err
	}
	gpuImg, err := r.exporter.Extract(ctx, r.vol, index, o, volume.InterpolationBilinear, r.gctx)
	if err != nil {
		if r.fallback(err) {
			return nil
		}
		return err
	}
	return r.acc.add(cpuImg, gpuImg)
}

// processorContext returns the GPU context when slices should be computed
// on the GPU.
func (r *Reconstructor) processorContext() *gpu.Context {
	if r.params.UseGPU {
		return r.gctx
	}
	return nil
}

// fallback reports whether err is a GPU failure the pipeline recovers from by
// switching to the CPU. The GPU is not used again afterwards.
func (r *Reconstructor) fallback(err error) bool {
	if r.gctx == nil {
		return false
	}
	if !errors.Is(err, gpu.ErrDeviceLost) && !errors.Is(err, gpu.ErrDeviceUnavailable) &&
		!errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	logging.Logger().Warn("reconstruction: GPU extraction failed, using CPU", "err", err)
	fmt.Printf("Warning: GPU extraction failed, falling back to CPU: %v\n", err)
	r.closeGPU()
	r.summary.Processor = "cpu"
	return true
}

// closeGPU releases the GPU context whether or not the volume adopted it.
func (r *Reconstructor) closeGPU() {
	if r.gctx == nil {
		return
	}
	if r.vol != nil && r.vol.GPUReady() {
		r.vol.Close()
	}
	r.gctx.Close()
	r.gctx = nil
}

// GetMetrics returns the CPU/GPU agreement measured by Process. It is zero
// unless Params.Compare was set and a GPU was available.
func (r *Reconstructor) GetMetrics() AgreementMetrics {
	return r.acc.metrics()
}

// Summary returns statistics about the loaded volume and the run.
func (r *Reconstructor) Summary() Summary {
	return r.summary
}

// Volume returns the loaded volume, or nil before Process.
func (r *Reconstructor) Volume() *volume.Volume {
	return r.vol
}

// Close releases the volume and any GPU resources.
func (r *Reconstructor) Close() error {
	var err error
	if r.vol != nil {
		err = r.vol.Close()
	}
	if r.gctx != nil {
		if cerr := r.gctx.Close(); err == nil {
			err = cerr
		}
		r.gctx = nil
	}
	return err
}
