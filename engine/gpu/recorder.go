package gpu

// CommandRecorder records GPU commands for one queue and submits them behind a
// fence. Recorders are owned by frame slots and reused across frames: the slot
// waits on its fence, resets the recorder, and records the next frame's work.
//
// Recording is not thread safe; the engine drives each recorder from the
// single frame-producer goroutine.
type CommandRecorder interface {
	// Begin starts recording. Must be balanced by End before Submit.
	//
	// Returns:
	//   - error: an error if the recorder cannot begin
	Begin() error

	// BindPipeline binds a pipeline at its bind point. Subsequent Dispatch or
	// draw commands use the bound pipeline.
	//
	// Parameters:
	//   - p: the pipeline to bind
	BindPipeline(p Pipeline)

	// PushConstants uploads small inline constants visible to the bound
	// pipeline. Used by the skinning pass to pass per-dispatch buffer offsets
	// without descriptor set rewrites.
	//
	// Parameters:
	//   - stages: the stages reading the constants
	//   - data: the constant bytes (small, fixed-size)
	PushConstants(stages Stage, data []byte)

	// Dispatch records a compute dispatch with the given group counts.
	//
	// Parameters:
	//   - x, y, z: work group counts per dimension
	Dispatch(x, y, z uint32)

	// MemoryBarrier records a global memory barrier between the given stage
	// and access scopes.
	//
	// Parameters:
	//   - srcStage, srcAccess: producing scope
	//   - dstStage, dstAccess: consuming scope
	MemoryBarrier(srcStage Stage, srcAccess Access, dstStage Stage, dstAccess Access)

	// BindIndexBuffer binds the index source for subsequent indexed draws.
	//
	// Parameters:
	//   - buf: the index buffer
	//   - offset: byte offset of the first index
	BindIndexBuffer(buf Buffer, offset uint64)

	// DrawIndexedIndirect records a multi-draw whose parameters are read from
	// the indirect buffer on the GPU.
	//
	// Parameters:
	//   - buf: the buffer holding packed indirect draw commands
	//   - offset: byte offset of the first command
	//   - drawCount: number of commands to consume
	//   - stride: byte stride between commands
	DrawIndexedIndirect(buf Buffer, offset uint64, drawCount, stride uint32)

	// BuildAccelerationStructure records an acceleration structure build or
	// in-place update.
	//
	// Parameters:
	//   - build: the build description
	BuildAccelerationStructure(build AccelBuild)

	// WaitSemaphore makes the next Submit wait on the semaphore before the
	// given stages execute. Pending waits are consumed by Submit.
	//
	// Parameters:
	//   - sem: the semaphore to wait on
	//   - stage: the stages held back until the semaphore signals
	WaitSemaphore(sem Semaphore, stage Stage)

	// SignalSemaphore makes the next Submit signal the semaphore once the
	// submitted commands complete. Pending signals are consumed by Submit.
	//
	// Parameters:
	//   - sem: the semaphore to signal
	SignalSemaphore(sem Semaphore)

	// End finishes recording.
	//
	// Returns:
	//   - error: an error if recording cannot be ended
	End() error

	// Submit submits the recorded commands to the recorder's queue, signaling
	// the fence on completion. A nil fence submits unfenced.
	//
	// Parameters:
	//   - fence: the completion fence, or nil
	//
	// Returns:
	//   - error: an error if submission fails (fatal)
	Submit(fence Fence) error

	// Reset clears the recorder for reuse. The caller must have waited on the
	// fence of the previous submission.
	//
	// Returns:
	//   - error: an error if the reset fails
	Reset() error

	// Release frees the recorder.
	Release()
}
