package global_buffer

import (
	"encoding/binary"
	"unsafe"

	"github.com/calyx3d/calyx/engine/gpu"
)

// GPUInstanceRecord is the per-instance record read by the bindless draw
// pipelines. One record exists per (mesh, entity) pair each frame; shaders
// locate it through the draw's base instance plus the instance index.
// Size: 24 bytes (std430 aligned, no padding required).
type GPUInstanceRecord struct {
	EntityIndex   uint32            // offset  0: index into the model matrix buffer
	MaterialIndex uint32            // offset  4: dense index into the material buffer
	VertexAddress gpu.DeviceAddress // offset  8: vertex source, skinned address for animated entities
	IndexAddress  gpu.DeviceAddress // offset 16: index source for vertex pulling
}

// Size returns the size of the GPUInstanceRecord struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUInstanceRecord) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUInstanceRecord struct into a byte buffer suitable
// for GPU upload.
//
// Returns:
//   - []byte: 24-byte buffer ready for GPU upload.
func (g *GPUInstanceRecord) Marshal() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], g.EntityIndex)
	binary.LittleEndian.PutUint32(buf[4:8], g.MaterialIndex)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(g.VertexAddress))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(g.IndexAddress))
	return buf
}

// GPUIndirectCommand mirrors the indexed indirect draw command layout the GPU
// consumes directly from the command buffer.
// Size: 20 bytes.
type GPUIndirectCommand struct {
	IndexCount    uint32 // offset  0: indices to draw
	InstanceCount uint32 // offset  4: instances for this draw
	FirstIndex    uint32 // offset  8: element offset into the bound index buffer
	VertexOffset  int32  // offset 12: signed vertex offset, unused with vertex pulling
	FirstInstance uint32 // offset 16: base instance, indexes the instance record buffer
}

// Size returns the size of the GPUIndirectCommand struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUIndirectCommand) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUIndirectCommand struct into a byte buffer
// suitable for GPU upload.
//
// Returns:
//   - []byte: 20-byte buffer ready for GPU upload.
func (g *GPUIndirectCommand) Marshal() []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], g.IndexCount)
	binary.LittleEndian.PutUint32(buf[4:8], g.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:12], g.FirstIndex)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(g.VertexOffset))
	binary.LittleEndian.PutUint32(buf[16:20], g.FirstInstance)
	return buf
}
