package reconstruction

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AgreementMetrics measures how closely the GPU slices follow the CPU
// reference. Differences are in 8-bit grey levels.
type AgreementMetrics struct {
	// MaxAbsDiff is the largest per-pixel difference
	MaxAbsDiff float64

	// MeanAbsDiff is the mean per-pixel difference
	MeanAbsDiff float64

	// RMSE is the root mean square difference
	RMSE float64

	// PSNR is the peak signal-to-noise ratio in dB; +Inf for identical images
	PSNR float64

	// SSIM is the structural similarity averaged over the compared slices.
	// Values range from -1 to 1, with 1 indicating identical images.
	SSIM float64

	// Slices and Pixels count what was compared
	Slices int
	Pixels int
}

// String formats the metrics for the CLI summary.
func (m AgreementMetrics) String() string {
	return fmt.Sprintf("slices=%d pixels=%d max=%.0f mean=%.4f rmse=%.4f psnr=%.2fdB ssim=%.4f",
		m.Slices, m.Pixels, m.MaxAbsDiff, m.MeanAbsDiff, m.RMSE, m.PSNR, m.SSIM)
}

// metricsAccumulator folds per-slice comparisons into AgreementMetrics.
type metricsAccumulator struct {
	maxAbs  float64
	sumAbs  float64
	sumSq   float64
	sumSSIM float64
	slices  int
	pixels  int
}

// add compares one pair of equally sized images.
func (a *metricsAccumulator) add(reference, candidate *image.Gray) error {
	if reference.Bounds().Size() != candidate.Bounds().Size() {
		return fmt.Errorf("image sizes differ: %v and %v", reference.Bounds().Size(), candidate.Bounds().Size())
	}

	x := grayToFloat(reference)
	y := grayToFloat(candidate)

	a.maxAbs = math.Max(a.maxAbs, floats.Distance(x, y, math.Inf(1)))
	a.sumAbs += floats.Distance(x, y, 1)
	l2 := floats.Distance(x, y, 2)
	a.sumSq += l2 * l2
	a.sumSSIM += calculateSSIM(x, y)
	a.slices++
	a.pixels += len(x)
	return nil
}

func (a *metricsAccumulator) metrics() AgreementMetrics {
	m := AgreementMetrics{Slices: a.slices, Pixels: a.pixels}
	if a.pixels == 0 {
		return m
	}
	n := float64(a.pixels)
	m.MaxAbsDiff = a.maxAbs
	m.MeanAbsDiff = a.sumAbs / n
	m.RMSE = math.Sqrt(a.sumSq / n)
	m.PSNR = psnr(m.RMSE)
	m.SSIM = a.sumSSIM / float64(a.slices)
	return m
}

// psnr returns the peak signal-to-noise ratio for 8-bit data.
func psnr(rmse float64) float64 {
	if rmse == 0 {
		return math.Inf(1)
	}
	return 20 * math.Log10(255/rmse)
}

// calculateSSIM computes a single-window structural similarity index over
// two 8-bit images.
func calculateSSIM(original, reconstructed []float64) float64 {
	const L = 255.0 // Dynamic range
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	n := len(original)
	if n != len(reconstructed) || n < 2 {
		return 0
	}

	muX, sigmaX := stat.MeanVariance(original, nil)
	muY, sigmaY := stat.MeanVariance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

func grayToFloat(img *image.Gray) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, float64(img.GrayAt(x, y).Y))
		}
	}
	return out
}

// intensityStats returns the mean and standard deviation of the raw voxel
// values.
func intensityStats(data []uint16) (mean, std float64) {
	if len(data) == 0 {
		return 0, 0
	}
	values := make([]float64, len(data))
	for i, v := range data {
		values[i] = float64(v)
	}
	if len(values) == 1 {
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}
