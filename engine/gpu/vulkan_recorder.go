package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// vulkanFence wraps a Vulkan fence for CPU-GPU frame pacing.
type vulkanFence struct {
	device vk.Device
	fence  vk.Fence
}

var _ Fence = &vulkanFence{}

func (f *vulkanFence) Wait() error {
	if res := vk.WaitForFences(f.device, 1, []vk.Fence{f.fence}, vk.True, ^uint64(0)); res != vk.Success {
		return fmt.Errorf("gpu: wait for fence: %s", vk.Error(res))
	}
	return nil
}

func (f *vulkanFence) Reset() error {
	if res := vk.ResetFences(f.device, 1, []vk.Fence{f.fence}); res != vk.Success {
		return fmt.Errorf("gpu: reset fence: %s", vk.Error(res))
	}
	return nil
}

func (f *vulkanFence) Release() {
	vk.DestroyFence(f.device, f.fence, nil)
}

// vulkanSemaphore wraps a binary semaphore used to order submissions across
// queues within one frame.
type vulkanSemaphore struct {
	device    vk.Device
	semaphore vk.Semaphore
}

var _ Semaphore = &vulkanSemaphore{}

func (s *vulkanSemaphore) Release() {
	vk.DestroySemaphore(s.device, s.semaphore, nil)
}

// vulkanRecorder records commands into a single primary command buffer and
// submits it to its queue. One recorder per queue kind per frame slot.
type vulkanRecorder struct {
	device vk.Device
	pool   vk.CommandPool
	queue  vk.Queue
	cmd    vk.CommandBuffer

	bound *vulkanPipeline

	// Pending semaphores consumed by the next Submit.
	waitSemaphores   []vk.Semaphore
	waitStages       []vk.PipelineStageFlags
	signalSemaphores []vk.Semaphore
}

var _ CommandRecorder = &vulkanRecorder{}

func (r *vulkanRecorder) Begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(r.cmd, &beginInfo); res != vk.Success {
		return fmt.Errorf("gpu: begin command buffer: %s", vk.Error(res))
	}
	return nil
}

func (r *vulkanRecorder) BindPipeline(pipeline Pipeline) {
	vp := pipeline.(*vulkanPipeline)
	r.bound = vp
	bindPoint := vk.PipelineBindPointCompute
	if vp.kind == PipelineKindGraphics {
		bindPoint = vk.PipelineBindPointGraphics
	}
	vk.CmdBindPipeline(r.cmd, bindPoint, vp.pipeline)
	if vp.descriptorSet != vk.NullDescriptorSet {
		vk.CmdBindDescriptorSets(r.cmd, bindPoint, vp.layout, 0, 1, []vk.DescriptorSet{vp.descriptorSet}, 0, nil)
	}
}

func (r *vulkanRecorder) PushConstants(stages Stage, data []byte) {
	if r.bound == nil {
		panic("gpu: push constants without a bound pipeline")
	}
	vk.CmdPushConstants(r.cmd, r.bound.layout, vulkanStageFlags(stages), 0, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (r *vulkanRecorder) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(r.cmd, x, y, z)
}

func (r *vulkanRecorder) MemoryBarrier(srcStage Stage, srcAccess Access, dstStage Stage, dstAccess Access) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vulkanAccessFlags(srcAccess),
		DstAccessMask: vulkanAccessFlags(dstAccess),
	}
	vk.CmdPipelineBarrier(r.cmd,
		vulkanPipelineStageFlags(srcStage), vulkanPipelineStageFlags(dstStage),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

func (r *vulkanRecorder) BindIndexBuffer(buffer Buffer, offset uint64) {
	vb := buffer.(*vulkanBuffer)
	vk.CmdBindIndexBuffer(r.cmd, vb.buffer, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (r *vulkanRecorder) DrawIndexedIndirect(buffer Buffer, offset uint64, drawCount uint32, stride uint32) {
	vb := buffer.(*vulkanBuffer)
	vk.CmdDrawIndexedIndirect(r.cmd, vb.buffer, vk.DeviceSize(offset), drawCount, stride)
}

func (r *vulkanRecorder) WaitSemaphore(sem Semaphore, stage Stage) {
	r.waitSemaphores = append(r.waitSemaphores, sem.(*vulkanSemaphore).semaphore)
	r.waitStages = append(r.waitStages, vulkanPipelineStageFlags(stage))
}

func (r *vulkanRecorder) SignalSemaphore(sem Semaphore) {
	r.signalSemaphores = append(r.signalSemaphores, sem.(*vulkanSemaphore).semaphore)
}

func (r *vulkanRecorder) End() error {
	if res := vk.EndCommandBuffer(r.cmd); res != vk.Success {
		return fmt.Errorf("gpu: end command buffer: %s", vk.Error(res))
	}
	return nil
}

func (r *vulkanRecorder) Submit(fence Fence) error {
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(r.waitSemaphores)),
		PWaitSemaphores:      r.waitSemaphores,
		PWaitDstStageMask:    r.waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{r.cmd},
		SignalSemaphoreCount: uint32(len(r.signalSemaphores)),
		PSignalSemaphores:    r.signalSemaphores,
	}
	var vkFence vk.Fence
	if fence != nil {
		vkFence = fence.(*vulkanFence).fence
	}
	res := vk.QueueSubmit(r.queue, 1, []vk.SubmitInfo{submitInfo}, vkFence)
	r.waitSemaphores = nil
	r.waitStages = nil
	r.signalSemaphores = nil
	if res != vk.Success {
		return fmt.Errorf("gpu: queue submit: %s", vk.Error(res))
	}
	return nil
}

func (r *vulkanRecorder) Reset() error {
	r.bound = nil
	r.waitSemaphores = nil
	r.waitStages = nil
	r.signalSemaphores = nil
	if res := vk.ResetCommandBuffer(r.cmd, 0); res != vk.Success {
		return fmt.Errorf("gpu: reset command buffer: %s", vk.Error(res))
	}
	return nil
}

func (r *vulkanRecorder) Release() {
	vk.FreeCommandBuffers(r.device, r.pool, 1, []vk.CommandBuffer{r.cmd})
}

func vulkanStageFlags(stages Stage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlags
	if stages&StageCompute != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	if stages&StageVertexShader != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	return flags
}

func vulkanPipelineStageFlags(stage Stage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlags
	if stage&StageCompute != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	}
	if stage&StageVertexInput != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageVertexInputBit)
	}
	if stage&StageVertexShader != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit)
	}
	if stage&StageDrawIndirect != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit)
	}
	if stage&StageAccelBuild != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageAccelerationStructureBuildBit)
	}
	if stage&StageRayTracing != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageRayTracingShaderBit)
	}
	if stage&StageTransfer != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if flags == 0 {
		flags = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return flags
}

func vulkanAccessFlags(access Access) vk.AccessFlags {
	var flags vk.AccessFlags
	if access&AccessShaderRead != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderReadBit)
	}
	if access&AccessShaderWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderWriteBit)
	}
	if access&AccessIndirectRead != 0 {
		flags |= vk.AccessFlags(vk.AccessIndirectCommandReadBit)
	}
	if access&AccessAccelRead != 0 {
		flags |= vk.AccessFlags(vk.AccessAccelerationStructureReadBit)
	}
	if access&AccessAccelWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessAccelerationStructureWriteBit)
	}
	if access&AccessTransferWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	return flags
}
