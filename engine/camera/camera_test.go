package camera

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCameraDefaults(t *testing.T) {
	c := NewCamera()
	assert.InDelta(t, math.Pi/4, float64(c.Fov()), 1e-6)
	assert.Equal(t, float32(1), c.Aspect())
	assert.Equal(t, float32(0.1), c.Near())
	assert.Equal(t, float32(100), c.Far())
}

func TestUpdatePullsControllerPosition(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(5), WithElevation(0.3))
	c := NewCamera(WithController(ctrl))
	c.Update()

	record := c.GPURecord()
	x, y, z := ctrl.Position()
	assert.Equal(t, [3]float32{x, y, z}, record.Position)
}

func TestViewProjectionIsProjTimesView(t *testing.T) {
	c := NewCamera(WithController(NewOrbitController()))
	c.Update()

	view := c.ViewMatrix()
	proj := c.ProjectionMatrix()
	vp := c.ViewProjectionMatrix()

	// Spot-check one element of the column-major product.
	var want float32
	for k := 0; k < 4; k++ {
		want += proj[k*4] * view[k]
	}
	assert.InDelta(t, want, vp[0], 1e-5)
}

func TestGPURecordLayout(t *testing.T) {
	c := NewCamera(WithController(NewOrbitController()))
	c.Update()
	record := c.GPURecord()

	require.Equal(t, 208, record.Size())
	data := record.Marshal()
	require.Len(t, data, 208)
}

func TestSetAspectRecomputesProjection(t *testing.T) {
	c := NewCamera(WithController(NewOrbitController()))
	c.Update()
	before := c.ProjectionMatrix()

	c.SetAspect(2)
	after := c.ProjectionMatrix()
	assert.NotEqual(t, before[0], after[0])
	assert.InDelta(t, float64(before[5]), float64(after[5]), 1e-6)
}

func TestOrbitControllerZoomClampsRadius(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(1), WithRadiusLimits(0.5, 20))

	// Zooming in far past the limit pins the camera at the minimum radius.
	ctrl.Zoom(100)
	x, y, z := ctrl.Position()
	dist := math.Sqrt(float64(x*x + y*y + z*z))
	assert.InDelta(t, 0.5, dist, 1e-4)

	ctrl.Zoom(-100)
	x, y, z = ctrl.Position()
	dist = math.Sqrt(float64(x*x + y*y + z*z))
	assert.InDelta(t, 20, dist, 1e-4)
}

func TestOrbitKeepsDistanceToTarget(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(8))
	ctrl.Orbit(120, -40)

	x, y, z := ctrl.Position()
	dist := math.Sqrt(float64(x*x + y*y + z*z))
	assert.InDelta(t, 8, dist, 1e-4)
}

func TestPanMovesTargetAndPositionTogether(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(8))
	px, py, pz := ctrl.Position()
	tx, ty, tz := ctrl.Target()

	ctrl.PanRight(3)

	nx, ny, nz := ctrl.Position()
	ntx, nty, ntz := ctrl.Target()
	assert.InDelta(t, float64(nx-px), float64(ntx-tx), 1e-5)
	assert.InDelta(t, float64(ny-py), float64(nty-ty), 1e-5)
	assert.InDelta(t, float64(nz-pz), float64(ntz-tz), 1e-5)
	assert.NotEqual(t, [3]float32{px, py, pz}, [3]float32{nx, ny, nz})
}

func TestSetTargetRecomputesPosition(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(4))
	ctrl.SetTarget(10, 0, 0)

	x, y, z := ctrl.Position()
	dx, dy, dz := x-10, y, z
	dist := math.Sqrt(float64(dx*dx + dy*dy + dz*dz))
	assert.InDelta(t, 4, dist, 1e-4)
}
