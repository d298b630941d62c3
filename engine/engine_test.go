package engine

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyx3d/calyx/engine/gpu/gputest"
)

// stubWindow satisfies window.Window without touching the platform layer.
type stubWindow struct {
	width, height int
	resize        func(width, height int)
	scroll        func(delta float32)
	middleDown    func(x, y int32)
	middleUp      func(x, y int32)
	mouseMove     func(x, y int32)
	closed        bool
}

func newStubWindow() *stubWindow {
	return &stubWindow{width: 1280, height: 720}
}

func (w *stubWindow) SetUpdateCallback(func())                       {}
func (w *stubWindow) SetResizeCallback(cb func(int, int))            { w.resize = cb }
func (w *stubWindow) SetScrollCallback(cb func(float32))             { w.scroll = cb }
func (w *stubWindow) SetKeyDownCallback(func(uint32))                {}
func (w *stubWindow) SetKeyUpCallback(func(uint32))                  {}
func (w *stubWindow) SetMiddleMouseDownCallback(cb func(x, y int32)) { w.middleDown = cb }
func (w *stubWindow) SetMiddleMouseUpCallback(cb func(x, y int32))   { w.middleUp = cb }
func (w *stubWindow) SetMouseMoveCallback(cb func(x, y int32))       { w.mouseMove = cb }
func (w *stubWindow) RequiredInstanceExtensions() []string           { return nil }
func (w *stubWindow) CreateSurface(vk.Instance) (vk.Surface, error)  { return vk.NullSurface, nil }
func (w *stubWindow) IsRunning() bool                                { return !w.closed }
func (w *stubWindow) Close() error                                   { w.closed = true; return nil }
func (w *stubWindow) ProcessMessages()                               {}
func (w *stubWindow) Width() int                                     { return w.width }
func (w *stubWindow) Height() int                                    { return w.height }

func newTestEngine(t *testing.T, options ...EngineBuilderOption) (Engine, *stubWindow) {
	t.Helper()
	win := newStubWindow()
	options = append([]EngineBuilderOption{
		WithWindow(win),
		WithDevice(gputest.NewDevice()),
		WithSkinningShader([]byte{1, 2, 3, 4}),
	}, options...)
	e, err := NewEngine(options...)
	require.NoError(t, err)
	return e, win
}

func TestNewEngineRequiresSkinningShader(t *testing.T) {
	_, err := NewEngine(
		WithWindow(newStubWindow()),
		WithDevice(gputest.NewDevice()))
	require.Error(t, err)
}

func TestNewEngineWiresComponents(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.NotNil(t, e.Device())
	assert.NotNil(t, e.Loader())
	assert.NotNil(t, e.Scene())
	assert.NotNil(t, e.Camera())
	assert.NotNil(t, e.Renderer())
	e.Quit()
}

func TestResizeUpdatesCameraAspect(t *testing.T) {
	e, win := newTestEngine(t)
	require.NotNil(t, win.resize)
	win.resize(1600, 800)
	assert.InDelta(t, 2.0, e.Camera().Aspect(), 1e-6)
	e.Quit()
}

func controllerPos(e Engine) [3]float32 {
	x, y, z := e.Camera().Controller().Position()
	return [3]float32{x, y, z}
}

func TestScrollZoomsCamera(t *testing.T) {
	e, win := newTestEngine(t)
	require.NotNil(t, win.scroll)
	before := controllerPos(e)
	win.scroll(2)
	assert.NotEqual(t, before, controllerPos(e))
	e.Quit()
}

func TestMiddleMouseDragOrbits(t *testing.T) {
	e, win := newTestEngine(t)
	before := controllerPos(e)
	win.middleDown(100, 100)
	win.mouseMove(140, 100)
	win.middleUp(140, 100)
	after := controllerPos(e)
	assert.NotEqual(t, before, after)

	// Movement without the button held must not orbit.
	win.mouseMove(300, 300)
	assert.Equal(t, after, controllerPos(e))
	e.Quit()
}

func TestRunReturnsWhenWindowCloses(t *testing.T) {
	e, win := newTestEngine(t)
	// ProcessMessages returns immediately on the stub, so Run should wind
	// down both loops and release resources without blocking.
	e.Run()
	assert.True(t, win.closed)
}

func TestQuitIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Quit()
	assert.NotPanics(t, func() { e.Quit() })
}
