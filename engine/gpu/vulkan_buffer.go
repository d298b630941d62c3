package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// vulkanBuffer is a Vulkan buffer with bound memory and a queried device
// address. Host-visible buffers map directly; device-local buffers go through
// a staging copy on Write.
type vulkanBuffer struct {
	backend *vulkanDeviceBackend
	buffer  vk.Buffer
	memory  vk.DeviceMemory
	size    uint64
	usage   BufferUsage
	address DeviceAddress
}

var _ Buffer = &vulkanBuffer{}

// CreateBuffer allocates a buffer of the given size, binds memory for it, and
// queries its device address. Buffers without BufferUsageDeviceLocal live in
// host-visible coherent memory so per-frame writes are a plain map and copy.
//
// Parameters:
//   - size: buffer size in bytes, must be greater than zero
//   - usage: usage bits the buffer will be used with
//
// Returns:
//   - Buffer: the constructed buffer
//   - error: an error if creation or allocation fails
func (d *vulkanDeviceBackend) CreateBuffer(size uint64, usage BufferUsage) (Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("gpu: zero-size buffer")
	}

	vkUsage := vulkanBufferUsage(usage)
	memProps := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	if usage&BufferUsageDeviceLocal != 0 {
		memProps = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
		vkUsage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}

	buffer, memory, err := d.allocateBuffer(size, vkUsage, memProps)
	if err != nil {
		return nil, err
	}

	address := bufferDeviceAddress(d.device, buffer)

	return &vulkanBuffer{
		backend: d,
		buffer:  buffer,
		memory:  memory,
		size:    size,
		usage:   usage,
		address: DeviceAddress(address),
	}, nil
}

func (d *vulkanDeviceBackend) allocateBuffer(size uint64, usage vk.BufferUsageFlags, memProps vk.MemoryPropertyFlags) (vk.Buffer, vk.DeviceMemory, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(d.device, &createInfo, nil, &buffer); res != vk.Success {
		return vk.NullBuffer, vk.NullDeviceMemory, fmt.Errorf("gpu: create buffer: %s", vk.Error(res))
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &memReqs)
	memReqs.Deref()

	memTypeIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, memProps)
	if err != nil {
		vk.DestroyBuffer(d.device, buffer, nil)
		return vk.NullBuffer, vk.NullDeviceMemory, err
	}

	// Every buffer carries the shader-device-address usage bit, so the
	// allocation needs the matching memory flag. PassRef copies the struct
	// into C memory so the chain pointer stays valid across the call.
	flagsInfo := vk.MemoryAllocateFlagsInfo{
		SType: vk.StructureTypeMemoryAllocateFlagsInfo,
		Flags: vk.MemoryAllocateFlags(vk.MemoryAllocateDeviceAddressBit),
	}
	flagsRef, _ := flagsInfo.PassRef()
	defer flagsInfo.Free()
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           unsafe.Pointer(flagsRef),
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.device, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyBuffer(d.device, buffer, nil)
		return vk.NullBuffer, vk.NullDeviceMemory, fmt.Errorf("gpu: allocate buffer memory: %s", vk.Error(res))
	}
	if res := vk.BindBufferMemory(d.device, buffer, memory, 0); res != vk.Success {
		vk.FreeMemory(d.device, memory, nil)
		vk.DestroyBuffer(d.device, buffer, nil)
		return vk.NullBuffer, vk.NullDeviceMemory, fmt.Errorf("gpu: bind buffer memory: %s", vk.Error(res))
	}
	return buffer, memory, nil
}

func (b *vulkanBuffer) Address() DeviceAddress {
	return b.address
}

func (b *vulkanBuffer) Size() uint64 {
	return b.size
}

func (b *vulkanBuffer) Usage() BufferUsage {
	return b.usage
}

func (b *vulkanBuffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("gpu: write of %d bytes at offset %d exceeds buffer size %d", len(data), offset, b.size)
	}
	if len(data) == 0 {
		return nil
	}
	if b.usage&BufferUsageDeviceLocal != 0 {
		return b.stagedWrite(offset, data)
	}

	var mapped unsafe.Pointer
	if res := vk.MapMemory(b.backend.device, b.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
		return fmt.Errorf("gpu: map buffer memory: %s", vk.Error(res))
	}
	copy(unsafe.Slice((*byte)(mapped), len(data)), data)
	vk.UnmapMemory(b.backend.device, b.memory)
	return nil
}

// stagedWrite uploads through a transient host-visible buffer and a blocking
// one-shot transfer. Intended for load-time uploads, not the frame loop.
func (b *vulkanBuffer) stagedWrite(offset uint64, data []byte) error {
	staging, err := b.backend.CreateBuffer(uint64(len(data)), BufferUsageStorage)
	if err != nil {
		return fmt.Errorf("gpu: staging buffer: %w", err)
	}
	defer staging.Release()
	if err := staging.Write(0, data); err != nil {
		return err
	}
	sb := staging.(*vulkanBuffer)

	recorder, err := b.backend.NewCommandRecorder(QueueGraphics)
	if err != nil {
		return err
	}
	defer recorder.Release()
	fence, err := b.backend.CreateFence(false)
	if err != nil {
		return err
	}
	defer fence.Release()

	vr := recorder.(*vulkanRecorder)
	if err := vr.Begin(); err != nil {
		return err
	}
	region := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: vk.DeviceSize(offset),
		Size:      vk.DeviceSize(len(data)),
	}
	vk.CmdCopyBuffer(vr.cmd, sb.buffer, b.buffer, 1, []vk.BufferCopy{region})
	if err := vr.End(); err != nil {
		return err
	}
	if err := vr.Submit(fence); err != nil {
		return err
	}
	return fence.Wait()
}

func (b *vulkanBuffer) Map() (*MappedRange, error) {
	if b.usage&BufferUsageDeviceLocal != 0 {
		return nil, fmt.Errorf("gpu: device-local buffers cannot be mapped")
	}
	var mapped unsafe.Pointer
	if res := vk.MapMemory(b.backend.device, b.memory, 0, vk.DeviceSize(b.size), 0, &mapped); res != vk.Success {
		return nil, fmt.Errorf("gpu: map buffer memory: %s", vk.Error(res))
	}
	data := unsafe.Slice((*byte)(mapped), b.size)
	return NewMappedRange(data, func() {
		vk.UnmapMemory(b.backend.device, b.memory)
	}), nil
}

func (b *vulkanBuffer) Release() {
	if b.buffer != vk.NullBuffer {
		vk.DestroyBuffer(b.backend.device, b.buffer, nil)
		b.buffer = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.backend.device, b.memory, nil)
		b.memory = vk.NullDeviceMemory
	}
}

func vulkanBufferUsage(usage BufferUsage) vk.BufferUsageFlags {
	// Device addresses drive all shader access, so every buffer gets the
	// shader-device-address bit.
	flags := vk.BufferUsageFlags(vk.BufferUsageShaderDeviceAddressBit)
	if usage&BufferUsageStorage != 0 || usage&BufferUsageScratch != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if usage&BufferUsageUniform != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if usage&BufferUsageVertex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usage&BufferUsageIndex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if usage&BufferUsageIndirect != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	}
	if usage&BufferUsageAccelInput != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageAccelerationStructureBuildInputReadOnlyBit)
	}
	if usage&BufferUsageAccelStorage != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageAccelerationStructureStorageBit)
	}
	return flags
}
