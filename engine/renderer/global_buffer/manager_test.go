package global_buffer

import (
	"encoding/binary"
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
	dev    *gputest.Device
	models model.Store
	scene  scene.Scene
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.models.Flush())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := gputest.NewDevice()
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)
	materials.Register(material.Material{ID: "stone"})
	materials.Register(material.Material{ID: "cloth"})
	return &fixture{
		dev:    dev,
		models: model.NewStore(dev, materials),
		scene:  scene.New(),
	}
}

func (f *fixture) registerStatic(t *testing.T, id string, meshCount int) *model.Model {
	t.Helper()
	data := model.ModelData{ID: id}
	for i := 0; i < meshCount; i++ {
		data.Meshes = append(data.Meshes, triangle("stone", 3+i))
	}
	m, err := f.models.Register(data)
	require.NoError(t, err)
	return m
}

func (f *fixture) registerAnimated(t *testing.T, id string) *model.Model {
	t.Helper()
	mesh := triangle("cloth", 4)
	mesh.Weights = make([]model.GPUVertexWeights, len(mesh.Vertices))
	m, err := f.models.Register(model.ModelData{
		ID:     id,
		Meshes: []model.MeshData{mesh},
		Animations: []model.AnimationData{{
			Name:        "walk",
			FrameMillis: 33.3,
			Frames:      [][]mgl32.Mat4{{mgl32.Ident4()}, {mgl32.Ident4()}},
		}},
	})
	require.NoError(t, err)
	return m
}

func triangle(materialID string, vertices int) model.MeshData {
	mesh := model.MeshData{MaterialID: materialID}
	for i := 0; i < vertices; i++ {
		mesh.Vertices = append(mesh.Vertices, model.GPUVertex{Position: [3]float32{float32(i), 0, 0}})
	}
	mesh.Indices = []uint32{0, 1, 2}
	return mesh
}

type mapResolver map[string]gpu.DeviceAddress

func (r mapResolver) SkinnedVertexAddress(entityID string, meshIndex int) (gpu.DeviceAddress, bool) {
	addr, ok := r[entityID]
	return addr, ok
}

func TestUpdateMixedScene(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A", 2)
	f.registerAnimated(t, "B")
	f.flush(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := f.scene.Spawn(id, "A")
		require.NoError(t, err)
	}
	anim, err := f.scene.Spawn("a1", "B")
	require.NoError(t, err)
	anim.StartAnimation(0)

	resolver := mapResolver{"a1": 0xABCD00}
	mgr := NewManager(f.dev, WithSkinnedAddresses(resolver))
	require.NoError(t, mgr.Update(0, f.scene, f.models))

	// Two static commands with instanceCount 3, one animated with count 1.
	staticBuf, staticCount := mgr.StaticCommands(0)
	animBuf, animCount := mgr.AnimatedCommands(0)
	assert.Equal(t, uint32(2), staticCount)
	assert.Equal(t, uint32(1), animCount)

	stride := int(CommandStride())
	staticData := staticBuf.(*gputest.Buffer).Data
	for i := 0; i < int(staticCount); i++ {
		instanceCount := binary.LittleEndian.Uint32(staticData[i*stride+4:])
		assert.Equal(t, uint32(3), instanceCount)
	}
	animData := animBuf.(*gputest.Buffer).Data
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(animData[4:]))

	// 3 entities x 2 meshes + 1 animated pair = 7 instance records.
	records := mgr.InstanceBuffer(0).(*gputest.Buffer).Data
	recordSize := (&GPUInstanceRecord{}).Size()
	assert.Equal(t, 24, recordSize)
	assert.Equal(t, 7*recordSize, len(records))

	// The animated record is last and references the skinned address.
	last := records[6*recordSize:]
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(last[0:4]))
	assert.Equal(t, uint64(0xABCD00), binary.LittleEndian.Uint64(last[8:16]))

	// Command base instances partition the record buffer.
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(staticData[16:20]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(staticData[stride+16:]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(animData[16:20]))

	// Model matrices laid out by global entity index, 64 bytes each.
	matrices := mgr.ModelMatrixBuffer(0).(*gputest.Buffer).Data
	assert.Equal(t, 4*64, len(matrices))
}

func TestNotStartedAnimationFallsBackToBindPose(t *testing.T) {
	f := newFixture(t)
	b := f.registerAnimated(t, "B")
	f.flush(t)
	_, err := f.scene.Spawn("a1", "B")
	require.NoError(t, err)

	mgr := NewManager(f.dev, WithSkinnedAddresses(mapResolver{"a1": 0xABCD00}))
	require.NoError(t, mgr.Update(0, f.scene, f.models))

	records := mgr.InstanceBuffer(0).(*gputest.Buffer).Data
	vertexAddr := binary.LittleEndian.Uint64(records[8:16])
	assert.Equal(t, uint64(b.Meshes[0].VertexAddress), vertexAddr)
}

func TestUpdateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A", 2)
	f.flush(t)
	for _, id := range []string{"s1", "s2"} {
		_, err := f.scene.Spawn(id, "A")
		require.NoError(t, err)
	}

	mgr := NewManager(f.dev)
	require.NoError(t, mgr.Update(0, f.scene, f.models))

	firstRecords := append([]byte(nil), mgr.InstanceBuffer(0).(*gputest.Buffer).Data...)
	firstCmds := append([]byte(nil), mustStatic(mgr, 0).Data...)
	buffersAfterFirst := len(f.dev.Buffers)

	require.NoError(t, mgr.Update(0, f.scene, f.models))

	assert.Equal(t, firstRecords, mgr.InstanceBuffer(0).(*gputest.Buffer).Data)
	assert.Equal(t, firstCmds, mustStatic(mgr, 0).Data)
	// No buffer was recreated for the unchanged set.
	assert.Equal(t, buffersAfterFirst, len(f.dev.Buffers))
}

func TestBufferGrowthIsGrowOnly(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A", 1)
	f.flush(t)
	_, err := f.scene.Spawn("s1", "A")
	require.NoError(t, err)

	mgr := NewManager(f.dev)
	require.NoError(t, mgr.Update(0, f.scene, f.models))
	small := mustStatic(mgr, 0)
	instSmall := mgr.InstanceBuffer(0)

	// Grow the scene: the instance buffer must be recreated exactly once
	// with capacity covering the new requirement.
	for _, id := range []string{"s2", "s3", "s4"} {
		_, err := f.scene.Spawn(id, "A")
		require.NoError(t, err)
	}
	require.NoError(t, mgr.Update(0, f.scene, f.models))
	instBig := mgr.InstanceBuffer(0)
	assert.NotSame(t, instSmall, instBig)
	assert.True(t, instSmall.(*gputest.Buffer).Released)
	assert.GreaterOrEqual(t, instBig.Size(), uint64(4*24))
	// The command buffer requirement did not grow, so it was reused.
	assert.Same(t, small, mustStatic(mgr, 0))

	// Shrinking the scene keeps the larger buffer.
	f.scene.Despawn("s2")
	f.scene.Despawn("s3")
	require.NoError(t, mgr.Update(0, f.scene, f.models))
	assert.Same(t, instBig, mgr.InstanceBuffer(0))
}

func TestFrameSlotsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A", 1)
	f.flush(t)
	_, err := f.scene.Spawn("s1", "A")
	require.NoError(t, err)

	mgr := NewManager(f.dev)
	require.NoError(t, mgr.Update(0, f.scene, f.models))
	require.NoError(t, mgr.Update(1, f.scene, f.models))

	assert.NotSame(t, mgr.InstanceBuffer(0), mgr.InstanceBuffer(1))
	assert.Error(t, mgr.Update(99, f.scene, f.models))
}

func mustStatic(mgr Manager, frame int) *gputest.Buffer {
	buf, _ := mgr.StaticCommands(frame)
	return buf.(*gputest.Buffer)
}
