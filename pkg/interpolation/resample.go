package interpolation

import (
	"runtime"
	"sync"
)

// Normalize converts every sample of p to 8 bits without resizing. The
// result is row-major with the plane's own width.
func Normalize(p Plane) []uint8 {
	h, w := p.Size()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = NormalizeToU8(p.Value(y, x))
		}
	}
	return out
}

// Resample bilinearly resamples p to width x height pixels and normalizes
// the result to 8 bits. Rows are split into contiguous chunks, one per
// worker; workers <= 0 uses every available CPU. Each output pixel depends
// only on p, so the result does not depend on the worker count.
func Resample(p Plane, width, height, workers int) []uint8 {
	out := make([]uint8, width*height)
	if width <= 0 || height <= 0 {
		return out
	}

	srcH, srcW := p.Size()

	// Column mapping is the same for every row.
	xs := make([]float64, width)
	for x := range xs {
		xs[x] = SourceCoord(x, width, srcW)
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, height)
	rowsPerWorker := (height + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, height)
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				sy := SourceCoord(y, height, srcH)
				row := out[y*width : (y+1)*width]
				for x := range row {
					row[x] = NormalizeToU8(BilinearSample(p, sy, xs[x]))
				}
			}
		}(start, end)
	}
	wg.Wait()

	return out
}
