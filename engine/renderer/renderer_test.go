package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/gpu/gputest"
	"github.com/calyx3d/calyx/engine/material"
	"github.com/calyx3d/calyx/engine/model"
	"github.com/calyx3d/calyx/engine/renderer/accel"
	"github.com/calyx3d/calyx/engine/renderer/global_buffer"
	"github.com/calyx3d/calyx/engine/scene"
)

type fixture struct {
	dev    *gputest.Device
	models model.Store
	scene  scene.Scene
	r      Renderer
}

func newFixture(t *testing.T, options ...RendererBuilderOption) *fixture {
	t.Helper()
	dev := gputest.NewDevice()
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)
	materials.Register(material.Material{ID: "stone"})
	models := model.NewStore(dev, materials)

	options = append([]RendererBuilderOption{WithSkinningShader([]byte{1, 2, 3, 4})}, options...)
	r, err := NewRenderer(dev, models, options...)
	require.NoError(t, err)
	t.Cleanup(r.Release)
	return &fixture{dev: dev, models: models, scene: scene.New(), r: r}
}

func (f *fixture) registerStatic(t *testing.T, id string) {
	t.Helper()
	_, err := f.models.Register(model.ModelData{ID: id, Meshes: []model.MeshData{{
		Vertices: []model.GPUVertex{
			{Position: [3]float32{0, 0, 0}},
			{Position: [3]float32{1, 0, 0}},
			{Position: [3]float32{0, 1, 0}},
		},
		Indices:    []uint32{0, 1, 2},
		MaterialID: "stone",
	}}})
	require.NoError(t, err)
	require.NoError(t, f.models.Flush())
}

func TestRenderFrameSequencesQueues(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A")
	_, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)

	stats, err := f.r.RenderFrame(f.scene, f.models)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Frame)
	assert.Equal(t, uint32(1), stats.StaticDraws)
	assert.Equal(t, uint32(0), stats.AnimatedDraws)
	assert.Equal(t, accel.StateBuilt, stats.AccelState)

	// One compute and one graphics recorder per ring slot; the acquired
	// slot's recorders both began and submitted this frame.
	var compute, graphics *gputest.Recorder
	for _, rec := range f.dev.Recorders {
		switch {
		case rec.Queue == gpu.QueueCompute && rec.Submits > 0:
			compute = rec
		case rec.Queue == gpu.QueueGraphics && rec.Submits > 0:
			graphics = rec
		}
	}
	require.NotNil(t, compute)
	require.NotNil(t, graphics)
	assert.Equal(t, 1, compute.Began)
	assert.Equal(t, 1, graphics.Began)

	// The static batch is one indirect draw with the packed command stride.
	require.Len(t, graphics.Draws, 1)
	assert.Equal(t, uint32(1), graphics.Draws[0].DrawCount)
	assert.Equal(t, global_buffer.CommandStride(), graphics.Draws[0].Stride)
}

func TestComputeSubmissionLinksToGraphicsQueue(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A")
	_, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)

	_, err = f.r.RenderFrame(f.scene, f.models)
	require.NoError(t, err)

	var compute, graphics *gputest.Recorder
	for _, rec := range f.dev.Recorders {
		switch {
		case rec.Queue == gpu.QueueCompute && rec.Submits > 0:
			compute = rec
		case rec.Queue == gpu.QueueGraphics && rec.Submits > 0:
			graphics = rec
		}
	}
	require.NotNil(t, compute)
	require.NotNil(t, graphics)

	// The compute submission is unfenced; it signals the slot semaphore
	// instead, and the fenced graphics submission waits on that semaphore
	// before vertex input and indirect consumption. The graphics fence then
	// covers the compute work too.
	require.Len(t, compute.SubmittedFences, 1)
	assert.Nil(t, compute.SubmittedFences[0])
	require.Len(t, compute.SemaphoreSignals, 1)

	require.Len(t, graphics.SubmittedFences, 1)
	require.NotNil(t, graphics.SubmittedFences[0])
	assert.True(t, graphics.SubmittedFences[0].(*gputest.Fence).Signaled)
	require.Len(t, graphics.SemaphoreWaits, 1)
	assert.Same(t, compute.SemaphoreSignals[0], graphics.SemaphoreWaits[0].Semaphore)
	assert.Equal(t, gpu.StageVertexInput|gpu.StageDrawIndirect, graphics.SemaphoreWaits[0].Stage)
}

func TestRenderFrameCyclesSlots(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A")
	_, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)

	for want := 0; want < 5; want++ {
		stats, err := f.r.RenderFrame(f.scene, f.models)
		require.NoError(t, err)
		assert.Equal(t, want%f.dev.FramesInFlightCount, stats.Frame)
	}
}

func TestRenderFrameSkipsEmptyBatches(t *testing.T) {
	f := newFixture(t)
	f.registerStatic(t, "A")

	stats, err := f.r.RenderFrame(f.scene, f.models)
	require.NoError(t, err)
	assert.Zero(t, stats.StaticDraws)
	assert.Zero(t, stats.AnimatedDraws)
	for _, rec := range f.dev.Recorders {
		assert.Empty(t, rec.Draws)
	}
}

func TestNewRendererRequiresMultiDrawIndirect(t *testing.T) {
	dev := gputest.NewDevice()
	dev.DeviceFeatures.MultiDrawIndirect = false
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)

	_, err = NewRenderer(dev, model.NewStore(dev, materials), WithSkinningShader([]byte{1}))
	assert.ErrorIs(t, err, gpu.ErrFeatureUnsupported)
}

func TestNewRendererRequiresSkinningShader(t *testing.T) {
	dev := gputest.NewDevice()
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)

	_, err = NewRenderer(dev, model.NewStore(dev, materials))
	assert.Error(t, err)
}

func TestAccelCanBeDisabled(t *testing.T) {
	f := newFixture(t, WithoutAccelerationStructures())
	f.registerStatic(t, "A")
	_, err := f.scene.Spawn("a1", "A")
	require.NoError(t, err)

	assert.Nil(t, f.r.Accel())
	stats, err := f.r.RenderFrame(f.scene, f.models)
	require.NoError(t, err)
	assert.Equal(t, accel.StateUninitialized, stats.AccelState)
	assert.Equal(t, uint32(1), stats.StaticDraws)
}
