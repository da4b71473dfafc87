package gpu

import (
	_ "embed"
	"encoding/binary"

	"mrivolume/pkg/geometry"
)

// sliceShaderWGSL samples one plane of the volume texture per dispatch.
//
//go:embed volume_slice.wgsl
var sliceShaderWGSL string

const (
	// workgroupSize matches @workgroup_size in the shader on both axes.
	workgroupSize = 8

	// uniformSize is the byte size of the shader's Params block: seven u32
	// fields padded to a 16-byte multiple.
	uniformSize = 32
)

// sliceParams mirrors the shader's Params block.
type sliceParams struct {
	SliceIndex  uint32
	Orientation geometry.Orientation
	OutWidth    uint32
	OutHeight   uint32
	VolWidth    uint32
	VolHeight   uint32
	VolDepth    uint32
}

// bytes encodes p in the little-endian layout the shader expects.
func (p sliceParams) bytes() []byte {
	buf := make([]byte, uniformSize)
	fields := []uint32{
		p.SliceIndex,
		uint32(p.Orientation),
		p.OutWidth,
		p.OutHeight,
		p.VolWidth,
		p.VolHeight,
		p.VolDepth,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// dispatchSize returns the number of workgroups needed to cover n pixels.
func dispatchSize(n int) uint32 {
	return uint32((n + workgroupSize - 1) / workgroupSize)
}

// encodeVoxels splits every 16-bit voxel into an RG8 texel: low byte in red,
// high byte in green.
func encodeVoxels(data []uint16) []byte {
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// decodeLanes keeps the low byte of every 32-bit lane.
func decodeLanes(raw []byte, n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
