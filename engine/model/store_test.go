package model

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu/gputest"
	"github.com/calyx3d/calyx/engine/material"
)

func newTestStore(t *testing.T) (Store, material.Store, *gputest.Device) {
	t.Helper()
	dev := gputest.NewDevice()
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)
	return NewStore(dev, materials), materials, dev
}

func quad(materialID string) MeshData {
	return MeshData{
		Vertices: []GPUVertex{
			{Position: [3]float32{0, 0, 0}},
			{Position: [3]float32{1, 0, 0}},
			{Position: [3]float32{1, 1, 0}},
			{Position: [3]float32{0, 1, 0}},
		},
		Indices:    []uint32{0, 1, 2, 2, 3, 0},
		MaterialID: materialID,
	}
}

func skinnedQuad(materialID string) MeshData {
	mesh := quad(materialID)
	mesh.Weights = make([]GPUVertexWeights, len(mesh.Vertices))
	for i := range mesh.Weights {
		mesh.Weights[i] = GPUVertexWeights{JointWeights: [4]float32{1, 0, 0, 0}}
	}
	return mesh
}

func clip(name string, frames, joints int) AnimationData {
	anim := AnimationData{Name: name, FrameMillis: 33.3}
	for f := 0; f < frames; f++ {
		frame := make([]mgl32.Mat4, joints)
		for j := range frame {
			frame[j] = mgl32.Translate3D(float32(f), 0, 0)
		}
		anim.Frames = append(anim.Frames, frame)
	}
	return anim
}

func TestRegisterAndFlushStaticModel(t *testing.T) {
	s, materials, _ := newTestStore(t)
	crate := materials.Register(material.Material{ID: "crate"})

	m, err := s.Register(ModelData{ID: "cube", Meshes: []MeshData{quad("crate"), quad("crate")}})
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	assert.False(t, m.Animated())
	require.Len(t, m.Meshes, 2)
	assert.Equal(t, crate, m.Meshes[0].MaterialIndex)

	// Meshes occupy consecutive element ranges in the shared buffers.
	assert.Equal(t, uint32(0), m.Meshes[0].VertexOffset)
	assert.Equal(t, uint32(4), m.Meshes[1].VertexOffset)
	assert.Equal(t, uint32(6), m.Meshes[1].IndexOffset)
	assert.Equal(t, s.VertexBuffer().Address()+4*64, m.Meshes[1].VertexAddress)
	assert.Equal(t, s.IndexBuffer().Address()+6*4, m.Meshes[1].IndexAddress)
}

func TestJointBufferLayout(t *testing.T) {
	s, _, _ := newTestStore(t)

	m, err := s.Register(ModelData{
		ID:         "soldier",
		Meshes:     []MeshData{skinnedQuad("")},
		Animations: []AnimationData{clip("walk", 3, 2), clip("idle", 2, 2)},
	})
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	assert.True(t, m.Animated())
	assert.NotNil(t, s.WeightsBuffer())
	assert.NotNil(t, s.JointBuffer())

	// Bind pose occupies the model's first jointCount matrices.
	assert.Equal(t, uint32(0), m.BindPoseOffset())
	assert.Equal(t, uint32(2), m.JointMatrixOffset(0, 0))
	assert.Equal(t, uint32(6), m.JointMatrixOffset(0, 2))
	// Frames past the clip clamp to the last frame.
	assert.Equal(t, uint32(6), m.JointMatrixOffset(0, 9))
	// Second clip follows the first.
	assert.Equal(t, uint32(8), m.JointMatrixOffset(1, 0))
	// Out-of-range animation falls back to the bind pose block.
	assert.Equal(t, uint32(0), m.JointMatrixOffset(-1, 0))
	assert.Equal(t, uint32(0), m.JointMatrixOffset(5, 0))

	// A second animated model's block starts after the first model's.
	m2, err := s.Register(ModelData{
		ID:         "guard",
		Meshes:     []MeshData{skinnedQuad("")},
		Animations: []AnimationData{clip("walk", 1, 3)},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(12), m2.BindPoseOffset())
	assert.Equal(t, uint32(15), m2.JointMatrixOffset(0, 0))
}

func TestFlushGrowsAndRefreshesAddresses(t *testing.T) {
	s, _, dev := newTestStore(t)

	first, err := s.Register(ModelData{ID: "cube", Meshes: []MeshData{quad("")}})
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	oldVertexBuf := s.VertexBuffer()
	oldAddr := first.Meshes[0].VertexAddress

	_, err = s.Register(ModelData{ID: "sphere", Meshes: []MeshData{quad("")}})
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	assert.NotSame(t, oldVertexBuf, s.VertexBuffer())
	assert.True(t, oldVertexBuf.(*gputest.Buffer).Released)
	assert.NotEqual(t, oldAddr, first.Meshes[0].VertexAddress)
	assert.Equal(t, s.VertexBuffer().Address(), first.Meshes[0].VertexAddress)

	// A flush with no new registrations reuses every buffer.
	count := len(dev.Buffers)
	require.NoError(t, s.Flush())
	assert.Equal(t, count, len(dev.Buffers))
}

func TestRegisterRejectsBadData(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Register(ModelData{ID: "", Meshes: []MeshData{quad("")}})
	assert.Error(t, err)

	_, err = s.Register(ModelData{ID: "empty"})
	assert.Error(t, err)

	bad := quad("")
	bad.Indices = bad.Indices[:4]
	_, err = s.Register(ModelData{ID: "partial", Meshes: []MeshData{bad}})
	assert.Error(t, err)

	// Animated model whose mesh has no weights.
	_, err = s.Register(ModelData{
		ID:         "missing-weights",
		Meshes:     []MeshData{quad("")},
		Animations: []AnimationData{clip("walk", 1, 1)},
	})
	assert.Error(t, err)

	_, err = s.Register(ModelData{ID: "dup", Meshes: []MeshData{quad("")}})
	require.NoError(t, err)
	_, err = s.Register(ModelData{ID: "dup", Meshes: []MeshData{quad("")}})
	assert.Error(t, err)
}

func TestReleaseFreesBuffers(t *testing.T) {
	s, _, dev := newTestStore(t)

	_, err := s.Register(ModelData{ID: "cube", Meshes: []MeshData{quad("")}})
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	s.Release()

	for _, buf := range dev.Buffers[1:] { // index 0 is the material table
		assert.True(t, buf.Released)
	}
	_, ok := s.Get("cube")
	assert.False(t, ok)
}
