package model

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// GPUVertex is the GPU-aligned representation of a single mesh vertex. Both
// static meshes and the outputs of the skinning pass use this layout, so the
// draw pipelines never distinguish the two.
// Size: 64 bytes (std430 aligned, no padding required).
type GPUVertex struct {
	Position [3]float32 // offset  0: vertex position in model space (12 bytes)
	Normal   [3]float32 // offset 12: vertex normal for lighting (12 bytes)
	TexCoord [2]float32 // offset 24: UV texture coordinate (8 bytes)
	Color    [4]float32 // offset 32: per-vertex RGBA color (16 bytes)
	Tangent  [4]float32 // offset 48: tangent vector (xyz) + handedness (w) for normal mapping (16 bytes)
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU
// upload.
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, 64)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(g.Position[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(g.Position[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(g.Position[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(g.Normal[0]))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(g.Normal[1]))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(g.Normal[2]))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(g.TexCoord[0]))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(g.TexCoord[1]))
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(g.Color[0]))
	binary.LittleEndian.PutUint32(buf[36:40], math.Float32bits(g.Color[1]))
	binary.LittleEndian.PutUint32(buf[40:44], math.Float32bits(g.Color[2]))
	binary.LittleEndian.PutUint32(buf[44:48], math.Float32bits(g.Color[3]))
	binary.LittleEndian.PutUint32(buf[48:52], math.Float32bits(g.Tangent[0]))
	binary.LittleEndian.PutUint32(buf[52:56], math.Float32bits(g.Tangent[1]))
	binary.LittleEndian.PutUint32(buf[56:60], math.Float32bits(g.Tangent[2]))
	binary.LittleEndian.PutUint32(buf[60:64], math.Float32bits(g.Tangent[3]))
	return buf
}

// GPUVertexWeights is the GPU-aligned per-vertex skinning record. Weights live
// in their own buffer so static and skinned meshes share the GPUVertex layout;
// the skinning pass addresses this buffer with a per-mesh element offset.
// Size: 32 bytes (std430 aligned, no padding required).
type GPUVertexWeights struct {
	JointIndices [4]uint32  // offset  0: indices of up to 4 influencing joints (16 bytes)
	JointWeights [4]float32 // offset 16: blend weights, summing to 1.0 (16 bytes)
}

// Size returns the size of the GPUVertexWeights struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertexWeights) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertexWeights struct into a byte buffer suitable
// for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload.
func (g *GPUVertexWeights) Marshal() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], g.JointIndices[0])
	binary.LittleEndian.PutUint32(buf[4:8], g.JointIndices[1])
	binary.LittleEndian.PutUint32(buf[8:12], g.JointIndices[2])
	binary.LittleEndian.PutUint32(buf[12:16], g.JointIndices[3])
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(g.JointWeights[0]))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(g.JointWeights[1]))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(g.JointWeights[2]))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(g.JointWeights[3]))
	return buf
}

// MarshalMatrix serializes a column-major mat4 into 64 little-endian bytes,
// the std430 layout the skinning shader reads joint matrices in.
//
// Parameters:
//   - m: the matrix to serialize
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload.
func MarshalMatrix(m mgl32.Mat4) []byte {
	buf := make([]byte, 64)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(m[i]))
	}
	return buf
}
