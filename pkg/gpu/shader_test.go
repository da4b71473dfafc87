package gpu

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/gogpu/naga"

	"mrivolume/pkg/geometry"
)

func TestSliceShaderParses(t *testing.T) {
	ast, err := naga.Parse(sliceShaderWGSL)
	if err != nil {
		t.Fatalf("Failed to parse slice shader: %v", err)
	}
	if _, err := naga.LowerWithSource(ast, sliceShaderWGSL); err != nil {
		t.Fatalf("Failed to lower slice shader: %v", err)
	}
}

func TestSliceShaderBindings(t *testing.T) {
	for _, binding := range []string{
		"@binding(0) var volume_tex: texture_3d<f32>",
		"@binding(1) var volume_sampler: sampler",
		"@binding(2) var<storage, read_write> output: array<u32>",
		"@binding(3) var<uniform> params: Params",
		"@workgroup_size(8, 8)",
	} {
		if !strings.Contains(sliceShaderWGSL, binding) {
			t.Errorf("Expected shader to declare %q", binding)
		}
	}
}

func TestSliceParamsLayout(t *testing.T) {
	p := sliceParams{
		SliceIndex:  7,
		Orientation: geometry.Sagittal,
		OutWidth:    320,
		OutHeight:   240,
		VolWidth:    512,
		VolHeight:   511,
		VolDepth:    60,
	}

	buf := p.bytes()
	if len(buf) != uniformSize {
		t.Fatalf("Expected %d uniform bytes, got %d", uniformSize, len(buf))
	}

	expected := []uint32{7, 2, 320, 240, 512, 511, 60, 0}
	for i, want := range expected {
		if got := binary.LittleEndian.Uint32(buf[i*4:]); got != want {
			t.Errorf("Expected field %d to be %d, got %d", i, want, got)
		}
	}
}

func TestDispatchSize(t *testing.T) {
	cases := map[int]uint32{1: 1, 8: 1, 9: 2, 16: 2, 17: 3, 511: 64}
	for n, want := range cases {
		if got := dispatchSize(n); got != want {
			t.Errorf("Expected %d workgroups for %d pixels, got %d", want, n, got)
		}
	}
}

func TestEncodeVoxels(t *testing.T) {
	buf := encodeVoxels([]uint16{0x1234, 0xff00, 0x00ff})

	expected := []byte{0x34, 0x12, 0x00, 0xff, 0xff, 0x00}
	if len(buf) != len(expected) {
		t.Fatalf("Expected %d bytes, got %d", len(expected), len(buf))
	}
	for i := range expected {
		if buf[i] != expected[i] {
			t.Errorf("Expected byte %d to be %#x, got %#x", i, expected[i], buf[i])
		}
	}
}

func TestDecodeLanesKeepsLowByte(t *testing.T) {
	raw := make([]byte, 12)
	binary.LittleEndian.PutUint32(raw[0:], 255)
	binary.LittleEndian.PutUint32(raw[4:], 0x1ff)
	binary.LittleEndian.PutUint32(raw[8:], 42)

	got := decodeLanes(raw, 3)
	expected := []uint8{255, 255, 42}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected pixel %d to be %d, got %d", i, expected[i], got[i])
		}
	}
}
