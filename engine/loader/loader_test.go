package loader

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu/gputest"
	"github.com/calyx3d/calyx/engine/material"
	"github.com/calyx3d/calyx/engine/model"
)

func newTestLoader(t *testing.T, options ...LoaderBuilderOption) Loader {
	t.Helper()
	dev := gputest.NewDevice()
	materials, err := material.NewStore(dev, common.DefaultConfig())
	require.NoError(t, err)
	models := model.NewStore(dev, materials)
	return NewLoader(models, materials, options...)
}

func TestNewLoaderRequiresStores(t *testing.T) {
	assert.Panics(t, func() { NewLoader(nil, nil) })
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.Load("model.obj")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestLoadReportsMissingFile(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.Load("does_not_exist.gltf")
	require.Error(t, err)
}

func TestBuilderOptionsClampInvalidValues(t *testing.T) {
	l := newTestLoader(t, WithWorkers(-3), WithSampleRate(0))
	impl := l.(*loader)
	assert.Equal(t, 1, impl.workers)
	assert.Equal(t, float32(30), impl.sampleRate)
}

func linearTrack() *channelTrack {
	return &channelTrack{
		times:  []float32{0, 1, 2},
		vec3:   [][3]float32{{0, 0, 0}, {2, 0, 0}, {2, 4, 0}},
		interp: gltf.InterpolationLinear,
	}
}

func TestSampleVec3Interpolates(t *testing.T) {
	track := linearTrack()
	v := track.sampleVec3(0.5)
	assert.InDelta(t, 1.0, v.X(), 1e-6)
	assert.InDelta(t, 0.0, v.Y(), 1e-6)
}

func TestSampleVec3ClampsOutsideClip(t *testing.T) {
	track := linearTrack()
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, track.sampleVec3(-1))
	assert.Equal(t, mgl32.Vec3{2, 4, 0}, track.sampleVec3(10))
}

func TestStepInterpolationHoldsKeyframe(t *testing.T) {
	track := linearTrack()
	track.interp = gltf.InterpolationStep
	v := track.sampleVec3(0.9)
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, v)
}

func TestCubicSplineReadsValueFromTriple(t *testing.T) {
	track := &channelTrack{
		times: []float32{0, 1},
		vec3: [][3]float32{
			{9, 9, 9}, {1, 0, 0}, {9, 9, 9},
			{9, 9, 9}, {3, 0, 0}, {9, 9, 9},
		},
		interp: gltf.InterpolationCubicSpline,
	}
	v := track.sampleVec3(0.5)
	assert.InDelta(t, 2.0, v.X(), 1e-6)
}

func TestSampleQuatTakesShortestArc(t *testing.T) {
	identity := [4]float32{0, 0, 0, 1}
	negated := [4]float32{0, 0, 0, -1}
	track := &channelTrack{
		times:  []float32{0, 1},
		quat:   [][4]float32{identity, negated},
		interp: gltf.InterpolationLinear,
	}
	q := track.sampleQuat(0.5)
	assert.InDelta(t, 1.0, float64(q.Norm()), 1e-5)
	assert.InDelta(t, 1.0, float64(q.W), 1e-5)
}

func TestLocalMatrixComposesAnimatedChannels(t *testing.T) {
	node := &gltf.Node{}
	tracks := map[gltf.TRSProperty]*channelTrack{
		gltf.TRSTranslation: {
			times:  []float32{0, 1},
			vec3:   [][3]float32{{0, 0, 0}, {4, 0, 0}},
			interp: gltf.InterpolationLinear,
		},
	}
	m := localMatrix(node, tracks, 0.5)
	origin := mgl32.TransformCoordinate(mgl32.Vec3{0, 0, 0}, m)
	assert.InDelta(t, 2.0, origin.X(), 1e-6)
}

func TestLocalMatrixFallsBackToNodeTransform(t *testing.T) {
	node := &gltf.Node{
		Translation: [3]float64{1, 2, 3},
		Rotation:    [4]float64{0, 0, 0, 1},
		Scale:       [3]float64{1, 1, 1},
	}
	m := localMatrix(node, nil, 0)
	origin := mgl32.TransformCoordinate(mgl32.Vec3{0, 0, 0}, m)
	assert.InDelta(t, 1.0, origin.X(), 1e-6)
	assert.InDelta(t, 2.0, origin.Y(), 1e-6)
	assert.InDelta(t, 3.0, origin.Z(), 1e-6)
}
