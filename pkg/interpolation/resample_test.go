package interpolation

import (
	"testing"
)

func createRampGrid(height, width int) *Grid {
	data := make([]float64, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = float64((y*width+x)*997) + 100
		}
	}
	return NewGrid(height, width, data)
}

func TestResampleIdentityMatchesNormalize(t *testing.T) {
	g := createRampGrid(7, 11)

	expected := Normalize(g)
	got := Resample(g, 11, 7, 3)

	if len(got) != len(expected) {
		t.Fatalf("Expected %d pixels, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected pixel %d to be %d, got %d", i, expected[i], got[i])
		}
	}
}

func TestResampleIndependentOfWorkerCount(t *testing.T) {
	g := createRampGrid(9, 5)

	reference := Resample(g, 13, 21, 1)
	for _, workers := range []int{0, 2, 4, 64} {
		got := Resample(g, 13, 21, workers)
		for i := range reference {
			if got[i] != reference[i] {
				t.Fatalf("Expected identical output with %d workers, pixel %d differs: %d vs %d",
					workers, i, got[i], reference[i])
			}
		}
	}
}

func TestResampleConstantPlane(t *testing.T) {
	data := make([]float64, 4*4)
	for i := range data {
		data[i] = 65535
	}
	g := NewGrid(4, 4, data)

	for i, v := range Resample(g, 9, 3, 2) {
		if v != 255 {
			t.Errorf("Expected 255 at pixel %d, got %d", i, v)
		}
	}
}

func TestResampleEmptyTarget(t *testing.T) {
	g := createRampGrid(2, 2)
	if got := Resample(g, 0, 5, 1); len(got) != 0 {
		t.Errorf("Expected empty output, got %d pixels", len(got))
	}
}
