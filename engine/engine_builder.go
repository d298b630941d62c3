package engine

import (
	"time"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/camera"
	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithConfig overrides the engine configuration (frames in flight, material
// and texture capacities). Values are clamped to sane ranges.
//
// Parameters:
//   - cfg: the configuration to use
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithConfig(cfg common.Config) EngineBuilderOption {
	return func(e *engine) {
		e.cfg = cfg.Clamped()
	}
}

// WithSkinningShader supplies the compiled SPIR-V binary for the skinning
// compute shader. Required; NewEngine fails without it.
//
// Parameters:
//   - spirv: the compiled shader binary
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSkinningShader(spirv []byte) EngineBuilderOption {
	return func(e *engine) {
		e.skinningSPIRV = spirv
	}
}

// WithoutAccelerationStructures disables ray tracing acceleration structure
// maintenance even when the device supports it.
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithoutAccelerationStructures() EngineBuilderOption {
	return func(e *engine) {
		e.disableAccel = true
	}
}

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithTickRate sets the engine tick rate in ticks per second.
// Animation playback and the tick callback advance at this rate.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Second / time.Duration(fps)
	}
}

// WithWindow sets a custom configured window for the engine to use rather than allowing the engine
// to create and manage one internally.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithDevice sets a pre-built GPU device rather than allowing the engine to
// create one internally. The engine takes ownership and releases it on
// shutdown.
//
// Parameters:
//   - d: a pre-built Device instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithDevice(d gpu.Device) EngineBuilderOption {
	return func(e *engine) {
		e.device = d
	}
}

// WithCamera sets a pre-configured camera rather than the default orbit
// camera.
//
// Parameters:
//   - c: a pre-configured Camera instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCamera(c camera.Camera) EngineBuilderOption {
	return func(e *engine) {
		e.camera = c
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Second / time.Duration(fps)
	}
}
