// Package renderer sequences the per-frame GPU work: skinning dispatches on
// the compute queue, the global buffer rebuild, the acceleration structure
// sync, and the two indirect draw batches, all fenced through a frame ring so
// CPU writes never race in-flight GPU reads.
package renderer

import (
	"fmt"
	"log/slog"

	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/model"
	"github.com/calyx3d/calyx/engine/renderer/accel"
	"github.com/calyx3d/calyx/engine/renderer/global_buffer"
	"github.com/calyx3d/calyx/engine/renderer/skinning"
	"github.com/calyx3d/calyx/engine/scene"
)

// FrameStats summarizes what one RenderFrame call recorded.
type FrameStats struct {
	// Frame is the frame slot index the work was recorded on.
	Frame int

	// StaticDraws is the indirect command count of the static batch.
	StaticDraws uint32

	// AnimatedDraws is the indirect command count of the animated batch.
	AnimatedDraws uint32

	// AccelState reports the acceleration structure work class, or
	// accel.StateUninitialized when ray tracing is disabled.
	AccelState accel.State
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	device gpu.Device
	ring   *gpu.FrameRing

	skinningPipeline gpu.Pipeline
	skinningPass     skinning.Pass
	globalBuffers    global_buffer.Manager
	accelManager     accel.Manager

	// Pre-creation config collected from builder options
	skinningSPIRV []byte
	disableAccel  bool
}

// Renderer drives one frame of GPU work per RenderFrame call. It owns the
// frame ring and the three resource managers; callers mutate the scene and
// model store between frames and hand both to RenderFrame.
type Renderer interface {
	// RenderFrame records and submits one frame: acquire the next frame
	// slot, dispatch skinning on the compute queue, rebuild the frame's
	// global buffers, sync the acceleration structures, and record the
	// static and animated indirect draw batches on the graphics queue.
	//
	// Parameters:
	//   - sc: the scene to render
	//   - models: the model store, already flushed
	//
	// Returns:
	//   - FrameStats: what the frame recorded
	//   - error: an error if any stage fails; the frame is abandoned
	RenderFrame(sc scene.Scene, models model.Store) (FrameStats, error)

	// GlobalBuffers returns the global buffer manager, for downstream
	// passes that bind the instance and model matrix buffers.
	//
	// Returns:
	//   - global_buffer.Manager: the manager
	GlobalBuffers() global_buffer.Manager

	// Skinning returns the skinning pass, for downstream passes that read
	// skinned vertex regions.
	//
	// Returns:
	//   - skinning.Pass: the pass
	Skinning() skinning.Pass

	// Accel returns the acceleration structure manager, or nil when ray
	// tracing is disabled.
	//
	// Returns:
	//   - accel.Manager: the manager, or nil
	Accel() accel.Manager

	// Release waits for the device to go idle and frees every resource the
	// renderer owns.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates the render orchestrator. The device must support
// multi-draw indirect; the skinning compute shader must be supplied as
// SPIR-V through WithSkinningShader. Acceleration structures are managed
// when the device reports ray tracing support and WithoutAccelerationStructures
// was not set.
//
// Parameters:
//   - device: the GPU device, must not be nil
//   - models: the model store, must not be nil
//   - options: variadic list of RendererBuilderOption functions
//
// Returns:
//   - Renderer: the constructed renderer
//   - error: ErrFeatureUnsupported or a resource creation error
func NewRenderer(device gpu.Device, models model.Store, options ...RendererBuilderOption) (Renderer, error) {
	if device == nil {
		panic("renderer: device is required")
	}
	if models == nil {
		panic("renderer: model store is required")
	}

	r := &renderer{device: device}
	for _, opt := range options {
		opt(r)
	}

	if !device.Features().MultiDrawIndirect {
		return nil, fmt.Errorf("%w: multi-draw indirect", gpu.ErrFeatureUnsupported)
	}
	if len(r.skinningSPIRV) == 0 {
		return nil, fmt.Errorf("renderer: skinning shader is required, use WithSkinningShader")
	}

	ring, err := gpu.NewFrameRing(device, device.FramesInFlight())
	if err != nil {
		return nil, err
	}
	r.ring = ring

	pipeline, err := device.CreateComputePipeline(
		"skinning", r.skinningSPIRV, skinning.Layout(), (&skinning.GPUSkinningPush{}).Size())
	if err != nil {
		ring.Release()
		return nil, fmt.Errorf("renderer: skinning pipeline: %w", err)
	}
	r.skinningPipeline = pipeline
	r.skinningPass = skinning.NewPass(device, pipeline)
	r.globalBuffers = global_buffer.NewManager(device,
		global_buffer.WithSkinnedAddresses(r.skinningPass))

	if device.Features().RayTracing && !r.disableAccel {
		mgr, err := accel.NewManager(device)
		if err != nil {
			r.Release()
			return nil, err
		}
		r.accelManager = mgr
	} else {
		slog.Info("renderer: acceleration structures disabled",
			"rayTracing", device.Features().RayTracing, "requested", !r.disableAccel)
	}

	return r, nil
}

func (r *renderer) RenderFrame(sc scene.Scene, models model.Store) (FrameStats, error) {
	slot, err := r.ring.Acquire()
	if err != nil {
		return FrameStats{}, err
	}
	stats := FrameStats{Frame: slot.Index}

	// Skinning runs on the compute queue; its output feeds the vertex input
	// and acceleration builds of the graphics queue this same frame.
	if err := r.skinningPass.Prepare(sc, models); err != nil {
		return stats, err
	}
	if err := slot.Compute.Begin(); err != nil {
		return stats, fmt.Errorf("renderer: begin compute: %w", err)
	}
	r.skinningPass.Record(slot.Compute, sc, models)
	if err := slot.Compute.End(); err != nil {
		return stats, fmt.Errorf("renderer: end compute: %w", err)
	}
	// The compute submission carries no fence of its own; it signals the
	// slot semaphore, and the fenced graphics submission below waits on it,
	// so the slot fence covers both queues.
	slot.Compute.SignalSemaphore(slot.ComputeDone())
	if err := slot.Compute.Submit(nil); err != nil {
		return stats, fmt.Errorf("renderer: submit compute: %w", err)
	}

	if err := r.globalBuffers.Update(slot.Index, sc, models); err != nil {
		return stats, err
	}

	if err := slot.Graphics.Begin(); err != nil {
		return stats, fmt.Errorf("renderer: begin graphics: %w", err)
	}

	if r.accelManager != nil {
		state, err := r.accelManager.Sync(slot.Graphics, sc, models)
		if err != nil {
			return stats, err
		}
		stats.AccelState = state
	}

	// Execution ordering against the compute queue comes from the slot
	// semaphore attached at submit; this barrier makes the skinned vertex
	// and indirect command writes visible to the consuming stages.
	slot.Graphics.MemoryBarrier(
		gpu.StageCompute, gpu.AccessShaderWrite,
		gpu.StageVertexInput|gpu.StageDrawIndirect, gpu.AccessShaderRead|gpu.AccessIndirectRead)

	slot.Graphics.BindIndexBuffer(models.IndexBuffer(), 0)
	if buf, count := r.globalBuffers.StaticCommands(slot.Index); count > 0 {
		slot.Graphics.DrawIndexedIndirect(buf, 0, count, global_buffer.CommandStride())
		stats.StaticDraws = count
	}
	if buf, count := r.globalBuffers.AnimatedCommands(slot.Index); count > 0 {
		slot.Graphics.DrawIndexedIndirect(buf, 0, count, global_buffer.CommandStride())
		stats.AnimatedDraws = count
	}

	if err := slot.Graphics.End(); err != nil {
		return stats, fmt.Errorf("renderer: end graphics: %w", err)
	}
	slot.Graphics.WaitSemaphore(slot.ComputeDone(), gpu.StageVertexInput|gpu.StageDrawIndirect)
	if err := slot.Graphics.Submit(slot.Fence()); err != nil {
		return stats, fmt.Errorf("renderer: submit graphics: %w", err)
	}

	return stats, nil
}

func (r *renderer) GlobalBuffers() global_buffer.Manager {
	return r.globalBuffers
}

func (r *renderer) Skinning() skinning.Pass {
	return r.skinningPass
}

func (r *renderer) Accel() accel.Manager {
	return r.accelManager
}

func (r *renderer) Release() {
	if err := r.device.WaitIdle(); err != nil {
		slog.Warn("renderer: wait idle before release", "error", err)
	}
	if r.accelManager != nil {
		r.accelManager.Release()
		r.accelManager = nil
	}
	if r.globalBuffers != nil {
		r.globalBuffers.Release()
		r.globalBuffers = nil
	}
	if r.skinningPass != nil {
		r.skinningPass.Release()
		r.skinningPass = nil
	}
	if r.skinningPipeline != nil {
		r.skinningPipeline.Release()
		r.skinningPipeline = nil
	}
	if r.ring != nil {
		r.ring.Release()
		r.ring = nil
	}
}
