package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/camera"
	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/loader"
	"github.com/calyx3d/calyx/engine/material"
	"github.com/calyx3d/calyx/engine/model"
	"github.com/calyx3d/calyx/engine/profiler"
	"github.com/calyx3d/calyx/engine/renderer"
	"github.com/calyx3d/calyx/engine/scene"
	"github.com/calyx3d/calyx/engine/window"
)

// engine implements the Engine interface.
// Coordinates the tick, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	cfg common.Config

	window    window.Window
	device    gpu.Device
	materials material.Store
	models    model.Store
	loader    loader.Loader
	scene     scene.Scene
	camera    camera.Camera
	renderer  renderer.Renderer

	skinningSPIRV []byte
	disableAccel  bool

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped

	orbiting    bool
	lastCursorX int32
	lastCursorY int32
}

// Engine is the main entry point. It owns the GPU device, the resource
// stores, the render loop, and the window, and exposes the pieces an
// application drives directly (loader, scene, camera).
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Device returns the GPU device the engine renders with.
	//
	// Returns:
	//   - gpu.Device: the device instance
	Device() gpu.Device

	// Loader returns the asset loader. Load models through it, then call
	// its Commit before spawning entities that use them.
	//
	// Returns:
	//   - loader.Loader: the loader instance
	Loader() loader.Loader

	// Scene returns the entity registry rendered each frame.
	//
	// Returns:
	//   - scene.Scene: the scene instance
	Scene() scene.Scene

	// Camera returns the engine camera. Orbit, zoom, and resize handling
	// are wired to the window automatically.
	//
	// Returns:
	//   - camera.Camera: the camera instance
	Camera() camera.Camera

	// Renderer returns the frame renderer.
	//
	// Returns:
	//   - renderer.Renderer: the renderer instance
	Renderer() renderer.Renderer

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in ticks per second.
	// The tick callback and animation playback advance at this rate.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	// Use this for game logic, input processing, and transform updates.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Run starts the tick and render loops and blocks until the window
	// closes or Quit is called. GPU resources are released before Run
	// returns.
	Run()

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options,
// bringing up the window, the GPU device, the resource stores, and the
// renderer. The skinning shader binary is required.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: error if device or renderer initialization fails
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		cfg:             common.DefaultConfig(),
		profiler:        profiler.NewProfiler(),
		engineTickRate:  time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}

	if len(e.skinningSPIRV) == 0 {
		return nil, fmt.Errorf("engine: a skinning shader binary is required")
	}

	if e.window == nil {
		e.window = window.NewWindow()
	}

	if e.device == nil {
		dev, err := gpu.NewDevice(e.cfg,
			gpu.WithAppName("calyx"),
			gpu.WithInstanceExtensions(e.window.RequiredInstanceExtensions()))
		if err != nil {
			return nil, fmt.Errorf("engine: device init: %w", err)
		}
		e.device = dev
	}

	materials, err := material.NewStore(e.device, e.cfg)
	if err != nil {
		e.device.Release()
		return nil, fmt.Errorf("engine: material store: %w", err)
	}
	e.materials = materials
	e.models = model.NewStore(e.device, e.materials)
	e.loader = loader.NewLoader(e.models, e.materials)
	e.scene = scene.New()

	if e.camera == nil {
		e.camera = camera.NewCamera(
			camera.WithController(camera.NewOrbitController()),
			camera.WithAspect(float32(e.window.Width())/float32(e.window.Height())))
	}

	rendererOptions := []renderer.RendererBuilderOption{
		renderer.WithSkinningShader(e.skinningSPIRV),
	}
	if e.disableAccel {
		rendererOptions = append(rendererOptions, renderer.WithoutAccelerationStructures())
	}
	r, err := renderer.NewRenderer(e.device, e.models, rendererOptions...)
	if err != nil {
		e.models.Release()
		e.materials.Release()
		e.device.Release()
		return nil, fmt.Errorf("engine: renderer init: %w", err)
	}
	e.renderer = r

	e.wireInput()
	return e, nil
}

// wireInput connects window callbacks to the camera controller: resize
// updates the aspect ratio, scrolling zooms, and middle-mouse drag orbits.
func (e *engine) wireInput() {
	e.window.SetResizeCallback(func(width, height int) {
		if height > 0 {
			e.camera.SetAspect(float32(width) / float32(height))
		}
	})
	e.window.SetScrollCallback(func(delta float32) {
		if ctrl := e.camera.Controller(); ctrl != nil {
			ctrl.Zoom(delta)
		}
	})
	e.window.SetMiddleMouseDownCallback(func(x, y int32) {
		e.orbiting = true
		e.lastCursorX, e.lastCursorY = x, y
	})
	e.window.SetMiddleMouseUpCallback(func(x, y int32) {
		e.orbiting = false
	})
	e.window.SetMouseMoveCallback(func(x, y int32) {
		if !e.orbiting {
			return
		}
		dx := float32(x - e.lastCursorX)
		dy := float32(y - e.lastCursorY)
		e.lastCursorX, e.lastCursorY = x, y
		if ctrl := e.camera.Controller(); ctrl != nil {
			ctrl.Orbit(dx, dy)
		}
	})
}

func (e *engine) Window() window.Window       { return e.window }
func (e *engine) Device() gpu.Device          { return e.device }
func (e *engine) Loader() loader.Loader       { return e.loader }
func (e *engine) Scene() scene.Scene          { return e.scene }
func (e *engine) Camera() camera.Camera       { return e.camera }
func (e *engine) Renderer() renderer.Renderer { return e.renderer }

func (e *engine) Run() {
	e.running = true
	e.handle()
	e.window.ProcessMessages()
	e.signalQuit()
	e.wg.Wait()
	e.release()
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
		_ = e.window.Close()
	})
}

// release tears down GPU resources after both loops have exited.
func (e *engine) release() {
	e.renderer.Release()
	e.models.Release()
	e.materials.Release()
	e.device.Release()
}

// handle launches the tick and render goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(2)
	go e.handleTick()
	go e.handleRender()
}

// handleTick runs the fixed-rate engine tick loop in its own goroutine.
// Advances animation playback for every playing entity, fires the tick
// callback, and listens for dynamic rate changes via tickRateChannel.
// Exits when the quit channel is closed.
func (e *engine) handleTick() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			e.advanceAnimations(dt * 1000)
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// advanceAnimations steps playback for every entity whose model is skinned
// and whose animation has been started.
func (e *engine) advanceAnimations(elapsedMillis float32) {
	for _, m := range e.models.Models() {
		if !m.Animated() {
			continue
		}
		for _, ent := range e.scene.EntitiesOf(m.ID) {
			state := ent.Animation()
			if !state.Started || state.Index < 0 || state.Index >= len(m.Animations) {
				continue
			}
			clip := &m.Animations[state.Index]
			ent.AdvanceAnimation(elapsedMillis, clip.FrameMillis, clip.FrameCount)
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own
// goroutine. Each iteration updates the camera, renders one frame, and feeds
// the profiler. Recovers from panics to avoid crashing the process and
// signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("render goroutine recovered from panic", "error", r)
			e.signalQuit()
		}
	}()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			frameStart := time.Now()

			e.camera.Update()
			stats, err := e.renderer.RenderFrame(e.scene, e.models)
			if err != nil {
				slog.Error("render frame failed", "error", err)
				e.signalQuit()
				return
			}

			if e.profilingEnabled {
				e.profiler.ObserveDraws(int(stats.StaticDraws), int(stats.AnimatedDraws))
				e.profiler.Tick()
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(frameStart)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in ticks per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Second / time.Duration(fps)

	if e.running {
		// Non-blocking send - if the channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}
