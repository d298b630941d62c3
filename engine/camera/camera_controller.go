package camera

import (
	"math"
	"sync"
)

// CameraController owns the camera's positional state. The orbit controller
// keeps spherical coordinates (radius, azimuth, elevation) around a pivot
// target; orbit methods recompute position, pan methods translate target and
// position together along the local camera axes.
type CameraController interface {
	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - x, y, z: world-space camera position
	Position() (x, y, z float32)

	// Target returns the look-at point.
	//
	// Returns:
	//   - x, y, z: world-space target position
	Target() (x, y, z float32)

	// SetTarget sets the look-at/pivot point and recomputes position from
	// spherical coordinates.
	//
	// Parameters:
	//   - x, y, z: world-space coordinates
	SetTarget(x, y, z float32)

	// Zoom adjusts the orbit radius. Positive delta zooms in (closer to
	// target), clamped to the radius constraints.
	//
	// Parameters:
	//   - delta: zoom amount scaled by the zoom speed
	Zoom(delta float32)

	// Orbit rotates the camera around the target. Horizontal drag adjusts
	// azimuth, vertical drag adjusts elevation clamped to the elevation
	// constraints.
	//
	// Parameters:
	//   - dx: horizontal drag delta, scaled by the mouse sensitivity
	//   - dy: vertical drag delta, scaled by the mouse sensitivity
	Orbit(dx, dy float32)

	// PanRight translates target and position along the local right axis.
	//
	// Parameters:
	//   - delta: pan amount scaled by the pan speed
	PanRight(delta float32)

	// PanForward translates target and position along the local forward
	// axis, projected onto the horizontal plane.
	//
	// Parameters:
	//   - delta: pan amount scaled by the pan speed
	PanForward(delta float32)
}

// orbitController is the single implementation of CameraController.
type orbitController struct {
	mu *sync.Mutex

	// position is computed from target + spherical coords.
	position [3]float32
	target   [3]float32

	radius    float32
	azimuth   float32 // horizontal angle around Y axis
	elevation float32 // vertical angle from horizontal plane

	minRadius    float32
	maxRadius    float32
	minElevation float32
	maxElevation float32

	mouseSensitivity float32
	zoomSpeed        float32
	panSpeed         float32
}

var _ CameraController = &orbitController{}

// NewOrbitController creates a camera controller with sensible defaults for
// scene-scale orbiting.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - CameraController: the newly created controller
func NewOrbitController(options ...CameraControllerOption) CameraController {
	cc := &orbitController{
		mu:     &sync.Mutex{},
		target: [3]float32{0, 0, 0},

		radius:    10.0,
		azimuth:   0.0,
		elevation: float32(math.Pi / 6),

		minRadius:    0.5,
		maxRadius:    200.0,
		minElevation: 0.05,
		maxElevation: float32(math.Pi/2 - 0.1),

		mouseSensitivity: 0.005,
		zoomSpeed:        1.0,
		panSpeed:         1.0,
	}

	for _, option := range options {
		option(cc)
	}

	cc.updatePosition()
	return cc
}

// updatePosition recomputes the camera position from spherical coordinates.
// Must be called whenever radius, azimuth, elevation, or target changes.
// Caller must hold the mutex.
func (cc *orbitController) updatePosition() {
	cosElev := float32(math.Cos(float64(cc.elevation)))
	sinElev := float32(math.Sin(float64(cc.elevation)))
	cosAzim := float32(math.Cos(float64(cc.azimuth)))
	sinAzim := float32(math.Sin(float64(cc.azimuth)))

	cc.position[0] = cc.target[0] + cc.radius*cosElev*sinAzim
	cc.position[1] = cc.target[1] + cc.radius*sinElev
	cc.position[2] = cc.target[2] + cc.radius*cosElev*cosAzim
}

func (cc *orbitController) Position() (x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position[0], cc.position[1], cc.position[2]
}

func (cc *orbitController) Target() (x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target[0], cc.target[1], cc.target[2]
}

func (cc *orbitController) SetTarget(x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target[0] = x
	cc.target[1] = y
	cc.target[2] = z
	cc.updatePosition()
}

func (cc *orbitController) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius -= delta * cc.zoomSpeed
	if cc.radius < cc.minRadius {
		cc.radius = cc.minRadius
	}
	if cc.radius > cc.maxRadius {
		cc.radius = cc.maxRadius
	}
	cc.updatePosition()
}

func (cc *orbitController) Orbit(dx, dy float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.azimuth -= dx * cc.mouseSensitivity
	cc.elevation += dy * cc.mouseSensitivity
	if cc.elevation > cc.maxElevation {
		cc.elevation = cc.maxElevation
	}
	if cc.elevation < cc.minElevation {
		cc.elevation = cc.minElevation
	}
	cc.updatePosition()
}

func (cc *orbitController) PanRight(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	// right = normalize(cross(worldUp, position - target)) with worldUp=(0,1,0)
	bx := cc.position[0] - cc.target[0]
	bz := cc.position[2] - cc.target[2]
	length := float32(math.Sqrt(float64(bx*bx + bz*bz)))
	if length < 1e-8 {
		return
	}
	rx := bz / length
	rz := -bx / length

	offset := delta * cc.panSpeed
	cc.target[0] += rx * offset
	cc.target[2] += rz * offset
	cc.position[0] += rx * offset
	cc.position[2] += rz * offset
}

func (cc *orbitController) PanForward(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	// forward = normalize(target - position) projected onto the horizontal plane
	fx := cc.target[0] - cc.position[0]
	fz := cc.target[2] - cc.position[2]
	length := float32(math.Sqrt(float64(fx*fx + fz*fz)))
	if length < 1e-8 {
		return
	}
	fx /= length
	fz /= length

	offset := delta * cc.panSpeed
	cc.target[0] += fx * offset
	cc.target[2] += fz * offset
	cc.position[0] += fx * offset
	cc.position[2] += fz * offset
}
