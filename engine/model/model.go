// Package model owns mesh geometry on the GPU. All registered models share
// four store-wide buffers (vertices, indices, vertex weights, joint
// matrices); meshes are described by element offsets into those buffers plus
// the device addresses derived from them. The shared layout is what lets the
// skinning pass address everything with four small offsets instead of
// per-dispatch descriptor rewrites.
package model

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/calyx3d/calyx/engine/gpu"
)

// MeshData is the CPU-side description of one mesh handed to Store.Register.
// Weights must be empty for static meshes and exactly one record per vertex
// for skinned meshes.
type MeshData struct {
	Vertices   []GPUVertex
	Indices    []uint32
	Weights    []GPUVertexWeights
	MaterialID string
}

// AnimationData holds precomputed joint matrices for every frame of one
// animation clip. Frames[f][j] is the final skinning matrix for joint j at
// frame f, with the inverse bind transform already applied.
type AnimationData struct {
	Name        string
	FrameMillis float32
	Frames      [][]mgl32.Mat4
}

// ModelData is the CPU-side description of a model handed to Store.Register.
type ModelData struct {
	ID         string
	Meshes     []MeshData
	Animations []AnimationData
}

// Mesh is one registered mesh. Offsets are in elements from the start of the
// store's shared buffers; addresses are only valid after Store.Flush and are
// refreshed on every flush.
type Mesh struct {
	VertexAddress gpu.DeviceAddress
	IndexAddress  gpu.DeviceAddress
	VertexCount   uint32
	IndexCount    uint32
	VertexOffset  uint32
	IndexOffset   uint32
	WeightsOffset uint32
	MaterialIndex uint32
}

// Animation is one registered clip.
type Animation struct {
	Name        string
	FrameMillis float32
	FrameCount  uint32

	jointCount  uint32
	frameOffset uint32
}

// Model is a registered model. Its buffers live in the owning store.
type Model struct {
	ID         string
	Meshes     []Mesh
	Animations []Animation

	store          *store
	animated       bool
	bindPoseOffset uint32
}

// Animated reports whether the model carries skinning data.
//
// Returns:
//   - bool: true when the model has weights and at least one animation.
func (m *Model) Animated() bool {
	return m.animated
}

// JointMatrixOffset returns the matrix-element offset into the store's joint
// buffer where the given frame of the given animation starts. Out-of-range
// inputs fall back to the model's bind pose block.
//
// Parameters:
//   - animation: index into Animations
//   - frame: frame index within the animation
//
// Returns:
//   - uint32: matrix offset of the frame's first joint matrix
func (m *Model) JointMatrixOffset(animation int, frame uint32) uint32 {
	if animation < 0 || animation >= len(m.Animations) {
		return m.bindPoseOffset
	}
	a := &m.Animations[animation]
	if frame >= a.FrameCount {
		frame = a.FrameCount - 1
	}
	return a.frameOffset + frame*a.jointCount
}

// BindPoseOffset returns the matrix-element offset of the model's bind pose
// block, the fallback for entities whose animation has not started.
//
// Returns:
//   - uint32: the bind pose offset
func (m *Model) BindPoseOffset() uint32 {
	return m.bindPoseOffset
}
