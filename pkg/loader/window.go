package loader

import (
	"fmt"
	"math"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// WindowScaling selects how stored DICOM samples become voxel intensities.
type WindowScaling int

const (
	// WindowScalingVOI applies the modality rescale and the first VOI
	// window, stretching the window onto the full 16-bit range. Without a
	// window the rescaled value is clamped to 16 bits.
	WindowScalingVOI WindowScaling = iota
	// WindowScalingRaw keeps the stored sample, clamped to 16 bits.
	WindowScalingRaw
)

func (w WindowScaling) String() string {
	switch w {
	case WindowScalingVOI:
		return "voi"
	case WindowScalingRaw:
		return "raw"
	default:
		return fmt.Sprintf("windowScaling(%d)", int(w))
	}
}

// ParseWindowScaling accepts the names returned by WindowScaling.String.
func ParseWindowScaling(name string) (WindowScaling, error) {
	switch strings.ToLower(name) {
	case "voi", "":
		return WindowScalingVOI, nil
	case "raw":
		return WindowScalingRaw, nil
	default:
		return 0, fmt.Errorf("invalid window scaling: %q", name)
	}
}

// pixelTransform maps stored samples of one image to uint16 intensities.
type pixelTransform struct {
	raw bool

	// signed samples are sign-extended from bitsStored bits
	signed     bool
	bitsStored int

	slope, intercept float64

	hasWindow     bool
	center, width float64
}

// newPixelTransform reads the pixel module and VOI attributes of ds.
// bitsAllocated is the sample width the pixel data was read with.
func newPixelTransform(ds *dicom.Dataset, scaling WindowScaling, bitsAllocated int) pixelTransform {
	p := pixelTransform{raw: scaling == WindowScalingRaw, bitsStored: bitsAllocated, slope: 1}
	if p.raw {
		return p
	}

	if vals, _ := floatValues(ds, tag.PixelRepresentation); len(vals) > 0 {
		p.signed = vals[0] == 1
	}
	if vals, _ := floatValues(ds, tag.BitsStored); len(vals) > 0 && vals[0] > 0 && int(vals[0]) <= bitsAllocated {
		p.bitsStored = int(vals[0])
	}
	if vals, _ := floatValues(ds, tag.RescaleSlope); len(vals) > 0 && vals[0] != 0 {
		p.slope = vals[0]
	}
	if vals, _ := floatValues(ds, tag.RescaleIntercept); len(vals) > 0 {
		p.intercept = vals[0]
	}

	centers, _ := floatValues(ds, tag.WindowCenter)
	widths, _ := floatValues(ds, tag.WindowWidth)
	if len(centers) > 0 && len(widths) > 0 && widths[0] >= 1 {
		p.hasWindow = true
		p.center, p.width = centers[0], widths[0]
	}
	return p
}

// apply converts one stored sample.
func (p pixelTransform) apply(stored int) uint16 {
	if p.raw {
		return clampUint16(stored)
	}

	v := stored
	if p.signed && p.bitsStored > 0 && p.bitsStored < 64 {
		v &= 1<<p.bitsStored - 1
		if v >= 1<<(p.bitsStored-1) {
			v -= 1 << p.bitsStored
		}
	}
	x := float64(v)*p.slope + p.intercept

	if !p.hasWindow {
		return uint16(math.Round(math.Max(0, math.Min(math.MaxUint16, x))))
	}

	// Linear VOI function, DICOM PS3.3 C.11.2.1.2.1.
	lo := p.center - 0.5 - (p.width-1)/2
	hi := p.center - 0.5 + (p.width-1)/2
	switch {
	case x <= lo:
		return 0
	case x > hi:
		return math.MaxUint16
	default:
		y := ((x-(p.center-0.5))/(p.width-1) + 0.5) * math.MaxUint16
		return uint16(math.Round(math.Max(0, math.Min(math.MaxUint16, y))))
	}
}
