package skinning

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/gpu/gputest"
	"github.com/calyx3d/calyx/engine/material"
	"github.com/calyx3d/calyx/engine/model"
	"github.com/calyx3d/calyx/engine/scene"
)

type fixture struct {
	dev      *gputest.Device
	models   model.Store
	scene    scene.Scene
	pipeline gpu.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := gputest.NewDevice()
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)
	pipeline, err := dev.CreateComputePipeline("skinning", nil, Layout(), (&GPUSkinningPush{}).Size())
	require.NoError(t, err)
	return &fixture{
		dev:      dev,
		models:   model.NewStore(dev, materials),
		scene:    scene.New(),
		pipeline: pipeline,
	}
}

// registerAnimated registers a skinned model with the given per-mesh vertex
// counts and a two-frame clip over two joints.
func (f *fixture) registerAnimated(t *testing.T, id string, vertexCounts ...int) *model.Model {
	t.Helper()
	data := model.ModelData{ID: id}
	for _, count := range vertexCounts {
		mesh := model.MeshData{}
		for i := 0; i < count; i++ {
			mesh.Vertices = append(mesh.Vertices, model.GPUVertex{Position: [3]float32{float32(i), 0, 0}})
			mesh.Weights = append(mesh.Weights, model.GPUVertexWeights{JointWeights: [4]float32{1, 0, 0, 0}})
		}
		for len(mesh.Indices)%3 != 0 || len(mesh.Indices) == 0 {
			mesh.Indices = append(mesh.Indices, 0)
		}
		data.Meshes = append(data.Meshes, mesh)
	}
	data.Animations = []model.AnimationData{{
		Name:        "walk",
		FrameMillis: 33.3,
		Frames:      [][]mgl32.Mat4{{mgl32.Ident4(), mgl32.Ident4()}, {mgl32.Ident4(), mgl32.Ident4()}},
	}}
	m, err := f.models.Register(data)
	require.NoError(t, err)
	require.NoError(t, f.models.Flush())
	return m
}

func (f *fixture) recorder(t *testing.T) *gputest.Recorder {
	t.Helper()
	r, err := f.dev.NewCommandRecorder(gpu.QueueCompute)
	require.NoError(t, err)
	return r.(*gputest.Recorder)
}

func TestRecordDispatchesPerStartedMeshEntityPair(t *testing.T) {
	f := newFixture(t)
	mdl := f.registerAnimated(t, "B", 40, 10)
	started, err := f.scene.Spawn("a1", "B")
	require.NoError(t, err)
	started.StartAnimation(0)
	_, err = f.scene.Spawn("a2", "B")
	require.NoError(t, err)

	p := NewPass(f.dev, f.pipeline)
	require.NoError(t, p.Prepare(f.scene, f.models))
	rec := f.recorder(t)
	p.Record(rec, f.scene, f.models)

	// Only the started entity dispatches: one dispatch per mesh.
	require.Len(t, rec.Dispatches, 2)
	assert.Equal(t, uint32(2), rec.Dispatches[0].X) // ceil(40/32)
	assert.Equal(t, uint32(1), rec.Dispatches[1].X) // ceil(10/32)
	assert.Equal(t, "skinning", rec.Dispatches[0].Pipeline)

	// A single coarse barrier precedes the dispatches.
	require.Len(t, rec.Barriers, 1)
	assert.Equal(t, gpu.StageCompute, rec.Barriers[0].DstStage)
	assert.Equal(t, gpu.AccessShaderWrite, rec.Barriers[0].DstAccess)

	// Push constants carry the four element offsets.
	push := rec.Dispatches[0].PushConstants
	require.Len(t, push, 16)
	expected := GPUSkinningPush{
		SrcVertexOffset:   mdl.Meshes[0].VertexOffset,
		WeightsOffset:     mdl.Meshes[0].WeightsOffset,
		JointMatrixOffset: mdl.JointMatrixOffset(0, 0),
	}
	offsets, ok := p.SkinnedVertexAddress("a1", 0)
	require.True(t, ok)
	expected.DstOffset = uint32((uint64(offsets) - uint64(p.DstBuffer().Address())) / 64)
	assert.Equal(t, expected.Marshal(), push)
}

func TestNoStartedEntitiesRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.registerAnimated(t, "B", 8)
	_, err := f.scene.Spawn("a1", "B")
	require.NoError(t, err)

	p := NewPass(f.dev, f.pipeline)
	require.NoError(t, p.Prepare(f.scene, f.models))
	rec := f.recorder(t)
	p.Record(rec, f.scene, f.models)

	assert.Empty(t, rec.Dispatches)
	assert.Empty(t, rec.Barriers)
}

func TestDestinationRegionsAreDisjointWorkgroupAligned(t *testing.T) {
	f := newFixture(t)
	f.registerAnimated(t, "B", 40, 10)
	for _, id := range []string{"a1", "a2"} {
		e, err := f.scene.Spawn(id, "B")
		require.NoError(t, err)
		e.StartAnimation(0)
	}

	p := NewPass(f.dev, f.pipeline)
	require.NoError(t, p.Prepare(f.scene, f.models))

	a10, ok := p.SkinnedVertexAddress("a1", 0)
	require.True(t, ok)
	a11, ok := p.SkinnedVertexAddress("a1", 1)
	require.True(t, ok)
	a20, ok := p.SkinnedVertexAddress("a2", 0)
	require.True(t, ok)

	base := p.DstBuffer().Address()
	assert.Equal(t, base, a10)
	// Mesh 0 rounds 40 vertices up to 64 elements.
	assert.Equal(t, base+64*64, a11)
	// Mesh 1 rounds 10 vertices up to 32 elements.
	assert.Equal(t, base+(64+32)*64, a20)

	_, ok = p.SkinnedVertexAddress("missing", 0)
	assert.False(t, ok)
	_, ok = p.SkinnedVertexAddress("a1", 5)
	assert.False(t, ok)
}

func TestPrepareWritesStorageBindings(t *testing.T) {
	f := newFixture(t)
	f.registerAnimated(t, "B", 8)
	_, err := f.scene.Spawn("a1", "B")
	require.NoError(t, err)

	p := NewPass(f.dev, f.pipeline)
	require.NoError(t, p.Prepare(f.scene, f.models))

	// The descriptor set carries the four storage buffers the shader reads
	// and writes, in binding order.
	tp := f.pipeline.(*gputest.Pipeline)
	require.Len(t, tp.StorageBindings, 4)
	assert.Same(t, f.models.VertexBuffer(), tp.StorageBindings[0])
	assert.Same(t, f.models.WeightsBuffer(), tp.StorageBindings[1])
	assert.Same(t, f.models.JointBuffer(), tp.StorageBindings[2])
	assert.Same(t, p.DstBuffer(), tp.StorageBindings[3])

	// An unchanged buffer set keeps the existing descriptor writes.
	require.NoError(t, p.Prepare(f.scene, f.models))
	assert.Equal(t, 1, tp.Binds)

	// Growing the destination buffer rewrites the set with the new buffer.
	_, err = f.scene.Spawn("a2", "B")
	require.NoError(t, err)
	require.NoError(t, p.Prepare(f.scene, f.models))
	assert.Equal(t, 2, tp.Binds)
	assert.Same(t, p.DstBuffer(), tp.StorageBindings[3])
}

func TestPrepareWithoutAnimatedEntitiesBindsNothing(t *testing.T) {
	f := newFixture(t)
	f.registerAnimated(t, "B", 8)

	p := NewPass(f.dev, f.pipeline)
	require.NoError(t, p.Prepare(f.scene, f.models))
	assert.Zero(t, f.pipeline.(*gputest.Pipeline).Binds)
}

func TestPrepareGrowsAndDropsDespawned(t *testing.T) {
	f := newFixture(t)
	f.registerAnimated(t, "B", 8)
	_, err := f.scene.Spawn("a1", "B")
	require.NoError(t, err)

	p := NewPass(f.dev, f.pipeline)
	require.NoError(t, p.Prepare(f.scene, f.models))
	small := p.DstBuffer()

	_, err = f.scene.Spawn("a2", "B")
	require.NoError(t, err)
	require.NoError(t, p.Prepare(f.scene, f.models))
	big := p.DstBuffer()
	assert.NotSame(t, small, big)
	assert.True(t, small.(*gputest.Buffer).Released)

	// Shrinking keeps the larger buffer; despawned entities lose regions.
	f.scene.Despawn("a2")
	require.NoError(t, p.Prepare(f.scene, f.models))
	assert.Same(t, big, p.DstBuffer())
	_, ok := p.SkinnedVertexAddress("a2", 0)
	assert.False(t, ok)
}
