package skinning

import (
	"encoding/binary"
	"unsafe"
)

// GPUSkinningPush is the per-dispatch push constant block. All four values
// are element offsets into the shared geometry buffers, which stay bound for
// the whole pass; per-dispatch state never touches descriptors.
// Size: 16 bytes.
type GPUSkinningPush struct {
	SrcVertexOffset   uint32 // offset  0: bind-pose vertex element offset
	WeightsOffset     uint32 // offset  4: vertex weights element offset
	JointMatrixOffset uint32 // offset  8: joint matrices for the current frame
	DstOffset         uint32 // offset 12: destination element offset in the skinned buffer
}

// Size returns the size of the GPUSkinningPush struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUSkinningPush) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSkinningPush struct into a byte buffer suitable
// for a push constant update.
//
// Returns:
//   - []byte: 16-byte buffer.
func (g *GPUSkinningPush) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], g.SrcVertexOffset)
	binary.LittleEndian.PutUint32(buf[4:8], g.WeightsOffset)
	binary.LittleEndian.PutUint32(buf[8:12], g.JointMatrixOffset)
	binary.LittleEndian.PutUint32(buf[12:16], g.DstOffset)
	return buf
}
