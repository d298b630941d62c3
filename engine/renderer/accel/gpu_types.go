package accel

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Instance mask and flag values for GPUAccelInstance records.
const (
	// VisibilityMaskAll makes an instance visible to every ray mask.
	VisibilityMaskAll = uint32(0xFF)
	// FlagTriangleFacingCullDisable disables backface culling during
	// traversal, matching rasterized output for two-sided geometry.
	FlagTriangleFacingCullDisable = uint32(0x01)
)

// GPUAccelInstance is the hardware instance record consumed by a top-level
// structure build: a row-major 3x4 transform, a 24-bit custom index packed
// with the visibility mask, shader table offset packed with instance flags,
// and the bottom-level structure's device address.
// Size: 64 bytes.
type GPUAccelInstance struct {
	Transform   [12]float32 // offset  0: row-major 3x4 world transform (48 bytes)
	CustomIndex uint32      // offset 48, bits 0-23: the entity's mesh-info offset
	Mask        uint32      // offset 48, bits 24-31: visibility mask
	SBTOffset   uint32      // offset 52, bits 0-23: shader table record offset
	Flags       uint32      // offset 52, bits 24-31: traversal flags
	BlasAddress uint64      // offset 56: bottom-level structure device address
}

// Size returns the size of the marshalled instance record in bytes.
//
// Returns:
//   - int: the record size in bytes.
func (g *GPUAccelInstance) Size() int {
	return 64
}

// Marshal serializes the GPUAccelInstance struct into a byte buffer suitable
// for a top-level structure build input.
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload.
func (g *GPUAccelInstance) Marshal() []byte {
	buf := make([]byte, 64)
	MarshalTransformInto(buf[0:48], g.Transform)
	binary.LittleEndian.PutUint32(buf[48:52], g.CustomIndex&0xFFFFFF|g.Mask<<24)
	binary.LittleEndian.PutUint32(buf[52:56], g.SBTOffset&0xFFFFFF|g.Flags<<24)
	binary.LittleEndian.PutUint64(buf[56:64], g.BlasAddress)
	return buf
}

// MarshalTransformInto writes a row-major 3x4 transform into a 48-byte
// region. The update path uses it to rewrite only the transform field of an
// existing instance record.
//
// Parameters:
//   - buf: destination, at least 48 bytes
//   - transform: the row-major 3x4 transform
func MarshalTransformInto(buf []byte, transform [12]float32) {
	for i, v := range transform {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
}

// GPUMeshInfo is one row of the flat mesh-info buffer hit shaders index with
// an instance's custom index plus the local geometry index.
// Size: 24 bytes (std430 aligned, 4 bytes internal padding).
type GPUMeshInfo struct {
	MaterialIndex uint32 // offset  0: dense index into the material buffer
	_             uint32 // offset  4: padding
	VertexAddress uint64 // offset  8: mesh vertex buffer device address
	IndexAddress  uint64 // offset 16: mesh index buffer device address
}

// Size returns the size of the GPUMeshInfo struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMeshInfo) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMeshInfo struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 24-byte buffer ready for GPU upload.
func (g *GPUMeshInfo) Marshal() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], g.MaterialIndex)
	binary.LittleEndian.PutUint64(buf[8:16], g.VertexAddress)
	binary.LittleEndian.PutUint64(buf[16:24], g.IndexAddress)
	return buf
}
