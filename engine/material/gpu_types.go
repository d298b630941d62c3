package material

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUMaterial is the GPU-aligned representation of one material in the global
// material buffer. Shaders index this buffer with the material index stored in
// each instance record.
// Size: 48 bytes (std430 aligned, 12 bytes trailing padding).
type GPUMaterial struct {
	DiffuseColor    [4]float32 // offset  0: base color factor (16 bytes)
	TextureIdx      uint32     // offset 16: diffuse texture index, or NoTexture
	NormalMapIdx    uint32     // offset 20: normal map texture index, or NoTexture
	MetalRoughIdx   uint32     // offset 24: metallic-roughness texture index, or NoTexture
	RoughnessFactor float32    // offset 28: roughness scalar
	MetallicFactor  float32    // offset 32: metallic scalar
	_               [3]uint32  // offset 36: padding to 48 bytes
}

// Size returns the size of the GPUMaterial struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMaterial) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMaterial struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload.
func (g *GPUMaterial) Marshal() []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(g.DiffuseColor[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(g.DiffuseColor[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(g.DiffuseColor[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(g.DiffuseColor[3]))
	binary.LittleEndian.PutUint32(buf[16:20], g.TextureIdx)
	binary.LittleEndian.PutUint32(buf[20:24], g.NormalMapIdx)
	binary.LittleEndian.PutUint32(buf[24:28], g.MetalRoughIdx)
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(g.RoughnessFactor))
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(g.MetallicFactor))
	return buf
}
