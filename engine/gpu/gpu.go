// Package gpu provides the device abstraction layer for the engine. It exposes
// buffers with shader-visible device addresses, fenced command recording on the
// graphics and compute queues, and acceleration structure creation, behind a
// Device interface with a Vulkan backend. All per-frame host↔device traffic in
// the engine funnels through this package.
package gpu

import "errors"

// DeviceAddress is a 64-bit GPU-visible pointer to a buffer's memory, usable
// directly from shader code. Addresses become invalid when their buffer is
// destroyed or recreated.
type DeviceAddress uint64

// BufferUsage is a bitmask describing how a buffer will be used. Usage decides
// both the underlying buffer flags and the memory the backend allocates from.
type BufferUsage uint32

const (
	// BufferUsageStorage marks the buffer as a shader storage buffer.
	BufferUsageStorage BufferUsage = 1 << iota
	// BufferUsageUniform marks the buffer as a uniform buffer.
	BufferUsageUniform
	// BufferUsageVertex marks the buffer as a vertex source.
	BufferUsageVertex
	// BufferUsageIndex marks the buffer as an index source.
	BufferUsageIndex
	// BufferUsageIndirect marks the buffer as a source of indirect draw commands.
	BufferUsageIndirect
	// BufferUsageAccelInput marks the buffer as readable by acceleration
	// structure builds (geometry or instance data).
	BufferUsageAccelInput
	// BufferUsageAccelStorage marks the buffer as backing storage for an
	// acceleration structure.
	BufferUsageAccelStorage
	// BufferUsageScratch marks the buffer as acceleration structure build scratch.
	BufferUsageScratch
	// BufferUsageDeviceLocal requests device-local memory. Writes to a
	// device-local buffer are staged through a host-visible transfer buffer.
	BufferUsageDeviceLocal
)

// QueueKind selects which device queue a command recorder submits to.
type QueueKind int

const (
	// QueueGraphics is the graphics/present queue.
	QueueGraphics QueueKind = iota
	// QueueCompute is the dedicated compute queue used by the skinning pass.
	QueueCompute
	// QueueTransfer is the transfer queue used for staged uploads.
	QueueTransfer
)

// Stage identifies pipeline stages for barrier scoping.
type Stage uint32

const (
	// StageCompute scopes compute shader execution.
	StageCompute Stage = 1 << iota
	// StageVertexInput scopes vertex attribute and index fetching.
	StageVertexInput
	// StageVertexShader scopes vertex shader execution.
	StageVertexShader
	// StageDrawIndirect scopes indirect command consumption.
	StageDrawIndirect
	// StageAccelBuild scopes acceleration structure builds and updates.
	StageAccelBuild
	// StageRayTracing scopes ray tracing shader execution.
	StageRayTracing
	// StageTransfer scopes transfer operations.
	StageTransfer
)

// Access identifies memory access kinds for barrier scoping.
type Access uint32

const (
	// AccessShaderRead covers storage/uniform reads in shaders.
	AccessShaderRead Access = 1 << iota
	// AccessShaderWrite covers storage writes in shaders.
	AccessShaderWrite
	// AccessIndirectRead covers indirect draw argument reads.
	AccessIndirectRead
	// AccessAccelRead covers acceleration structure reads.
	AccessAccelRead
	// AccessAccelWrite covers acceleration structure writes during builds.
	AccessAccelWrite
	// AccessTransferWrite covers transfer destination writes.
	AccessTransferWrite
)

// Features reports the device capabilities the engine depends on. Required
// features are validated once at device construction; the engine never probes
// them again at runtime.
type Features struct {
	// MultiDrawIndirect reports support for multi-draw indirect commands.
	MultiDrawIndirect bool

	// BufferDeviceAddress reports support for 64-bit buffer device addresses.
	BufferDeviceAddress bool

	// RayTracing reports support for KHR acceleration structures.
	RayTracing bool
}

// ErrFeatureUnsupported is returned by NewDevice when a required device
// feature (multi-draw indirect, buffer device address, or — when requested —
// ray tracing) is missing. This is a fatal startup condition and is never
// retried.
var ErrFeatureUnsupported = errors.New("gpu: required device feature unsupported")

// Device is the engine's handle to a GPU. It owns the instance, logical device
// and queues, and creates every buffer, fence, recorder, pipeline, and
// acceleration structure in the engine.
//
// Allocation failures are fatal: they are returned immediately and never
// retried, since they indicate unrecoverable memory pressure mid-frame.
type Device interface {
	// Features returns the capabilities validated at construction.
	//
	// Returns:
	//   - Features: the device capability set
	Features() Features

	// FramesInFlight returns the number of per-frame resource slots the device
	// was configured with.
	//
	// Returns:
	//   - int: the in-flight frame count
	FramesInFlight() int

	// CreateBuffer allocates a device buffer of the given size and usage.
	// Host-visible buffers are persistently mappable; device-local buffers
	// receive writes through an internal staging path.
	//
	// Parameters:
	//   - size: buffer size in bytes (must be > 0)
	//   - usage: usage bitmask deciding buffer flags and memory placement
	//
	// Returns:
	//   - Buffer: the allocated buffer
	//   - error: an error if allocation fails (fatal, not retried)
	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)

	// CreateFence creates a host-waitable fence.
	//
	// Parameters:
	//   - signaled: whether the fence starts in the signaled state
	//
	// Returns:
	//   - Fence: the fence
	//   - error: an error if creation fails
	CreateFence(signaled bool) (Fence, error)

	// CreateSemaphore creates a device-side semaphore for ordering
	// submissions across queues.
	//
	// Returns:
	//   - Semaphore: the semaphore
	//   - error: an error if creation fails
	CreateSemaphore() (Semaphore, error)

	// NewCommandRecorder allocates a reusable command recorder on the given queue.
	//
	// Parameters:
	//   - queue: the queue the recorder submits to
	//
	// Returns:
	//   - CommandRecorder: the recorder
	//   - error: an error if allocation fails
	NewCommandRecorder(queue QueueKind) (CommandRecorder, error)

	// CreateComputePipeline builds a compute pipeline from SPIR-V code, a
	// data-driven binding layout, and a push constant range size.
	//
	// Parameters:
	//   - key: the unique identifier for the pipeline
	//   - spirv: the SPIR-V shader module bytes
	//   - layout: the binding layout for descriptor set construction
	//   - pushConstantBytes: push constant range size in bytes (0 for none)
	//
	// Returns:
	//   - Pipeline: the compute pipeline
	//   - error: an error if creation fails
	CreateComputePipeline(key string, spirv []byte, layout Layout, pushConstantBytes int) (Pipeline, error)

	// AccelerationStructureSizes queries the structure, build-scratch, and
	// update-scratch sizes for the described build. The update scratch size is
	// typically smaller than the build scratch size and backs in-place updates.
	//
	// Parameters:
	//   - query: the geometry or instance-count description to size
	//
	// Returns:
	//   - AccelSizes: structure and scratch sizes in bytes
	//   - error: an error if the query fails or ray tracing is unsupported
	AccelerationStructureSizes(query AccelSizeQuery) (AccelSizes, error)

	// CreateAccelerationStructure allocates backing storage and creates an
	// acceleration structure handle of the given kind and size.
	//
	// Parameters:
	//   - kind: bottom or top level
	//   - size: backing buffer size in bytes, from AccelerationStructureSizes
	//
	// Returns:
	//   - AccelStructure: the structure handle
	//   - error: an error if allocation fails (fatal, not retried)
	CreateAccelerationStructure(kind AccelKind, size uint64) (AccelStructure, error)

	// WaitIdle blocks until all submitted device work completes.
	//
	// Returns:
	//   - error: an error if the wait fails (fatal)
	WaitIdle() error

	// Release destroys the logical device and all backend resources.
	Release()
}

// Fence is a host-waitable synchronization primitive guarding reuse of a frame
// slot's resources. A failed wait is fatal and is not retried.
type Fence interface {
	// Wait blocks until the fence signals.
	//
	// Returns:
	//   - error: an error if the wait fails (fatal)
	Wait() error

	// Reset returns the fence to the unsignaled state.
	//
	// Returns:
	//   - error: an error if the reset fails
	Reset() error

	// Release destroys the fence.
	Release()
}

// Semaphore is a device-side synchronization primitive ordering submissions
// across queues. The frame ring carries one per slot to link the compute
// queue's skinning work to the graphics queue that consumes it.
type Semaphore interface {
	// Release destroys the semaphore.
	Release()
}

// PipelineKind distinguishes pipeline bind points.
type PipelineKind int

const (
	// PipelineKindCompute is a compute pipeline.
	PipelineKindCompute PipelineKind = iota
	// PipelineKindGraphics is a graphics pipeline.
	PipelineKindGraphics
)

// Pipeline is an opaque pipeline object created by a Device and bound through
// a CommandRecorder.
type Pipeline interface {
	// PipelineKey returns the unique identifier the pipeline was created with.
	//
	// Returns:
	//   - string: the pipeline key
	PipelineKey() string

	// Kind returns the pipeline bind point.
	//
	// Returns:
	//   - PipelineKind: compute or graphics
	Kind() PipelineKind

	// BindStorageBuffers writes the given buffers into the pipeline's
	// storage bindings, slot i receiving buffers[i]. Must be called before
	// work using the pipeline is submitted, and again whenever one of the
	// bound buffers is recreated; the device must be idle for a rewrite.
	//
	// Parameters:
	//   - buffers: one buffer per storage binding, in slot order
	//
	// Returns:
	//   - error: an error if the pipeline has no bindings or a buffer is
	//     not a device buffer
	BindStorageBuffers(buffers ...Buffer) error

	// Release destroys the pipeline and its layout.
	Release()
}
