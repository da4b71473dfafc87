package reconstruction

import (
	"image"
	"math"
	"testing"
)

// createUniform creates a w x h gray image filled with value
func createUniform(w, h int, value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

func TestMetricsIdentical(t *testing.T) {
	var acc metricsAccumulator
	img := createUniform(4, 3, 100)
	img.Pix[5] = 7
	if err := acc.add(img, img); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	m := acc.metrics()
	if m.MaxAbsDiff != 0 || m.MeanAbsDiff != 0 || m.RMSE != 0 {
		t.Errorf("Expected zero differences, got %+v", m)
	}
	if !math.IsInf(m.PSNR, 1) {
		t.Errorf("Expected infinite PSNR, got %f", m.PSNR)
	}
	if math.Abs(m.SSIM-1) > 1e-9 {
		t.Errorf("Expected SSIM 1, got %f", m.SSIM)
	}
	if m.Pixels != 12 || m.Slices != 1 {
		t.Errorf("Expected 1 slice of 12 pixels, got %d and %d", m.Slices, m.Pixels)
	}
}

func TestMetricsKnownDifference(t *testing.T) {
	var acc metricsAccumulator
	if err := acc.add(createUniform(2, 2, 10), createUniform(2, 2, 12)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	a := createUniform(2, 2, 50)
	b := createUniform(2, 2, 50)
	b.Pix[0] = 51
	if err := acc.add(a, b); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	m := acc.metrics()
	if m.MaxAbsDiff != 2 {
		t.Errorf("Expected max diff 2, got %f", m.MaxAbsDiff)
	}
	// 4 pixels off by 2 and 1 pixel off by 1 over 8 pixels.
	if math.Abs(m.MeanAbsDiff-9.0/8) > 1e-12 {
		t.Errorf("Expected mean diff %f, got %f", 9.0/8, m.MeanAbsDiff)
	}
	wantRMSE := math.Sqrt(17.0 / 8)
	if math.Abs(m.RMSE-wantRMSE) > 1e-12 {
		t.Errorf("Expected RMSE %f, got %f", wantRMSE, m.RMSE)
	}
	wantPSNR := 20 * math.Log10(255/wantRMSE)
	if math.Abs(m.PSNR-wantPSNR) > 1e-9 {
		t.Errorf("Expected PSNR %f, got %f", wantPSNR, m.PSNR)
	}
}

func TestMetricsSizeMismatch(t *testing.T) {
	var acc metricsAccumulator
	if err := acc.add(createUniform(2, 2, 0), createUniform(3, 2, 0)); err == nil {
		t.Error("Expected error for mismatched sizes, got nil")
	}
	if m := acc.metrics(); m.Pixels != 0 || m.PSNR != 0 {
		t.Errorf("Expected empty metrics, got %+v", m)
	}
}

func TestIntensityStats(t *testing.T) {
	mean, std := intensityStats([]uint16{1, 2, 3, 4})
	if mean != 2.5 {
		t.Errorf("Expected mean 2.5, got %f", mean)
	}
	if want := math.Sqrt(5.0 / 3); math.Abs(std-want) > 1e-12 {
		t.Errorf("Expected std %f, got %f", want, std)
	}

	if mean, std := intensityStats([]uint16{9}); mean != 9 || std != 0 {
		t.Errorf("Expected 9 and 0 for a single voxel, got %f and %f", mean, std)
	}
}
