package camera

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUCamera is the GPU-aligned representation of the camera uniform buffer.
// The raster path consumes ViewProj; the ray generation shader reconstructs
// world-space rays from InverseView and InverseProj.
// Size: 208 bytes (std430 aligned).
type GPUCamera struct {
	ViewProj    [16]float32 // offset   0: combined view-projection matrix (64 bytes)
	InverseView [16]float32 // offset  64: inverse view matrix (64 bytes)
	InverseProj [16]float32 // offset 128: inverse projection matrix (64 bytes)
	Position    [3]float32  // offset 192: world-space camera position (12 bytes)
	_pad        float32     // offset 204: padding to 208 bytes
}

// Size returns the size of the GPUCamera struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (208)
func (g *GPUCamera) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCamera struct into a byte buffer suitable for GPU
// upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUCamera) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.ViewProj[i]))
	}
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[64+i*4:], math.Float32bits(g.InverseView[i]))
	}
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[128+i*4:], math.Float32bits(g.InverseProj[i]))
	}
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[192+i*4:], math.Float32bits(g.Position[i]))
	}
	binary.LittleEndian.PutUint32(buf[204:], 0) // _pad
	return buf
}
