package accel

import (
	"encoding/binary"
	"math"
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
	mgr    Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := gputest.NewDevice()
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)
	materials.Register(material.Material{ID: "stone"})
	materials.Register(material.Material{ID: "cloth"})
	mgr, err := NewManager(dev)
	require.NoError(t, err)
	return &fixture{
		dev:    dev,
		models: model.NewStore(dev, materials),
		scene:  scene.New(),
		mgr:    mgr,
	}
}

func (f *fixture) register(t *testing.T, id, materialID string, meshCount int) *model.Model {
	t.Helper()
	data := model.ModelData{ID: id}
	for i := 0; i < meshCount; i++ {
		data.Meshes = append(data.Meshes, model.MeshData{
			Vertices: []model.GPUVertex{
				{Position: [3]float32{0, 0, 0}},
				{Position: [3]float32{1, 0, 0}},
				{Position: [3]float32{0, 1, 0}},
			},
			Indices:    []uint32{0, 1, 2},
			MaterialID: materialID,
		})
	}
	m, err := f.models.Register(data)
	require.NoError(t, err)
	require.NoError(t, f.models.Flush())
	return m
}

func (f *fixture) recorder(t *testing.T) *gputest.Recorder {
	t.Helper()
	r, err := f.dev.NewCommandRecorder(gpu.QueueGraphics)
	require.NoError(t, err)
	return r.(*gputest.Recorder)
}

func (f *fixture) sync(t *testing.T) (State, *gputest.Recorder) {
	t.Helper()
	rec := f.recorder(t)
	state, err := f.mgr.Sync(rec, f.scene, f.models)
	require.NoError(t, err)
	return state, rec
}

func TestFirstSyncBuildsEverything(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "stone", 2)
	f.register(t, "B", "cloth", 1)
	for _, id := range []string{"a1", "a2"} {
		_, err := f.scene.Spawn(id, "A")
		require.NoError(t, err)
	}
	_, err := f.scene.Spawn("b1", "B")
	require.NoError(t, err)

	state, rec := f.sync(t)
	assert.Equal(t, StateBuilt, state)

	// Two BLAS builds (one per distinct model) plus one TLAS build.
	var blas, tlas int
	for _, b := range rec.Builds {
		if b.Kind == gpu.AccelBottomLevel {
			blas++
		} else {
			tlas++
			assert.Equal(t, uint32(3), b.InstanceCount)
			assert.Equal(t, gpu.AccelModeBuild, b.Mode)
		}
	}
	assert.Equal(t, 2, blas)
	assert.Equal(t, 1, tlas)

	// Custom indices are running mesh-info offsets: model A contributes rows
	// 0-1, model B starts at row 2.
	idx, ok := f.mgr.CustomIndexOf("a2")
	require.True(t, ok)
	assert.Equal(t, uint32(0), idx)
	idx, ok = f.mgr.CustomIndexOf("b1")
	require.True(t, ok)
	assert.Equal(t, uint32(2), idx)

	assert.NotZero(t, f.mgr.TLASAddress())
}

func TestMeshInfoRowsResolveMaterials(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "A", "stone", 2)
	b := f.register(t, "B", "cloth", 1)
	_, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)
	_, err = f.scene.Spawn("b1", "B")
	require.NoError(t, err)

	state, _ := f.sync(t)
	require.Equal(t, StateBuilt, state)

	rowSize := (&GPUMeshInfo{}).Size()
	assert.Equal(t, 24, rowSize)
	rows := f.mgr.MeshInfoBuffer().(*gputest.Buffer).Data

	// meshInfo[customIndex + localGeometryIndex] resolves the right mesh.
	for entityID, mdl := range map[string]*model.Model{"a1": a, "b1": b} {
		custom, ok := f.mgr.CustomIndexOf(entityID)
		require.True(t, ok)
		for gi, mesh := range mdl.Meshes {
			row := rows[(int(custom)+gi)*rowSize:]
			assert.Equal(t, mesh.MaterialIndex, binary.LittleEndian.Uint32(row[0:4]))
			assert.Equal(t, uint64(mesh.VertexAddress), binary.LittleEndian.Uint64(row[8:16]))
			assert.Equal(t, uint64(mesh.IndexAddress), binary.LittleEndian.Uint64(row[16:24]))
		}
	}
}

func TestUnchangedSceneIssuesNoWork(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "stone", 1)
	_, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)

	state, _ := f.sync(t)
	require.Equal(t, StateBuilt, state)

	state, rec := f.sync(t)
	assert.Equal(t, StateUnchanged, state)
	assert.Empty(t, rec.Builds)
	assert.Empty(t, rec.Barriers)
}

func TestTransformChangeTakesUpdatePath(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "stone", 1)
	moved, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)
	_, err = f.scene.Spawn("a2", "A")
	require.NoError(t, err)

	state, _ := f.sync(t)
	require.Equal(t, StateBuilt, state)
	instances := f.instanceBuffer()
	unrelatedBefore := append([]byte(nil), instances.Data[64:128]...)

	moved.SetTransform(mgl32.Translate3D(1, 0, 0))
	state, rec := f.sync(t)
	assert.Equal(t, StateUpdated, state)

	// Exactly one submission: the in-place TLAS update, no BLAS work.
	require.Len(t, rec.Builds, 1)
	build := rec.Builds[0]
	assert.Equal(t, gpu.AccelTopLevel, build.Kind)
	assert.Equal(t, gpu.AccelModeUpdate, build.Mode)
	assert.Equal(t, build.Dst, build.Src)

	// The moved entity's translation element carries the offset; the other
	// entity's record is byte-identical.
	x := math.Float32frombits(binary.LittleEndian.Uint32(instances.Data[3*4:]))
	assert.Equal(t, float32(1), x)
	assert.Equal(t, unrelatedBefore, instances.Data[64:128])
}

func TestEntitySetChangeRebuildsWithoutNewBLAS(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "stone", 1)
	_, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)

	state, _ := f.sync(t)
	require.Equal(t, StateBuilt, state)

	_, err = f.scene.Spawn("a2", "A")
	require.NoError(t, err)
	state, rec := f.sync(t)
	assert.Equal(t, StateBuilt, state)

	// The cached BLAS is reused: only the TLAS build is recorded.
	require.Len(t, rec.Builds, 1)
	assert.Equal(t, gpu.AccelTopLevel, rec.Builds[0].Kind)
	assert.Equal(t, uint32(2), rec.Builds[0].InstanceCount)
}

func TestNewManagerRequiresRayTracing(t *testing.T) {
	dev := gputest.NewDevice()
	dev.DeviceFeatures.RayTracing = false

	_, err := NewManager(dev)
	assert.ErrorIs(t, err, gpu.ErrFeatureUnsupported)
}

func (f *fixture) instanceBuffer() *gputest.Buffer {
	for _, buf := range f.dev.Buffers {
		if buf.Usage() == gpu.BufferUsageAccelInput {
			return buf
		}
	}
	return nil
}

