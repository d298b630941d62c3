package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// vulkanPipeline owns a pipeline plus the layout objects derived from its
// Layout description. Descriptor set layouts are built data-driven from the
// tagged Binding records, never hand-assembled per pass.
type vulkanPipeline struct {
	device vk.Device
	key    string
	kind   PipelineKind

	pipeline            vk.Pipeline
	layout              vk.PipelineLayout
	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSet       vk.DescriptorSet
}

var _ Pipeline = &vulkanPipeline{}

// CreateComputePipeline compiles the given SPIR-V module into a compute
// pipeline whose descriptor set layout is generated from the binding
// descriptions.
//
// Parameters:
//   - key: stable identifier for the pipeline, used in logs and lookups
//   - spirv: SPIR-V bytecode, length must be a multiple of four
//   - layout: tagged binding descriptions for descriptor set zero
//   - pushConstantBytes: size of the push constant block, zero for none
//
// Returns:
//   - Pipeline: the constructed pipeline
//   - error: an error if shader or pipeline creation fails
func (d *vulkanDeviceBackend) CreateComputePipeline(key string, spirv []byte, layout Layout, pushConstantBytes int) (Pipeline, error) {
	if len(spirv)%4 != 0 {
		return nil, fmt.Errorf("gpu: SPIR-V length %d is not a multiple of 4", len(spirv))
	}

	shaderInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(spirv)),
		PCode:    unsafe.Slice((*uint32)(unsafe.Pointer(&spirv[0])), len(spirv)/4),
	}
	var shader vk.ShaderModule
	if res := vk.CreateShaderModule(d.device, &shaderInfo, nil, &shader); res != vk.Success {
		return nil, fmt.Errorf("gpu: create shader module %q: %s", key, vk.Error(res))
	}
	defer vk.DestroyShaderModule(d.device, shader, nil)

	p := &vulkanPipeline{device: d.device, key: key, kind: PipelineKindCompute}
	if err := p.createDescriptorObjects(layout); err != nil {
		return nil, err
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}
	if p.descriptorSetLayout != vk.NullDescriptorSetLayout {
		layoutInfo.SetLayoutCount = 1
		layoutInfo.PSetLayouts = []vk.DescriptorSetLayout{p.descriptorSetLayout}
	}
	if pushConstantBytes > 0 {
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Offset:     0,
			Size:       uint32(pushConstantBytes),
		}}
	}
	if res := vk.CreatePipelineLayout(d.device, &layoutInfo, nil, &p.layout); res != vk.Success {
		p.Release()
		return nil, fmt.Errorf("gpu: create pipeline layout %q: %s", key, vk.Error(res))
	}

	pipelineInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: shader,
			PName:  "main\x00",
		},
		Layout: p.layout,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(d.device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vk.Success {
		p.Release()
		return nil, fmt.Errorf("gpu: create compute pipeline %q: %s", key, vk.Error(res))
	}
	p.pipeline = pipelines[0]
	return p, nil
}

// createDescriptorObjects lowers the tagged Layout into a descriptor set
// layout, a pool sized for exactly one set, and that set.
func (p *vulkanPipeline) createDescriptorObjects(layout Layout) error {
	if len(layout) == 0 {
		return nil
	}

	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(layout))
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(layout))
	for _, b := range layout {
		count := uint32(b.Count)
		if count == 0 {
			count = 1
		}
		descType := vulkanDescriptorType(b.Kind)
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         uint32(b.Slot),
			DescriptorType:  descType,
			DescriptorCount: count,
			StageFlags:      vulkanStageFlags(b.Stages),
		})
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            descType,
			DescriptorCount: count,
		})
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(p.device, &layoutInfo, nil, &p.descriptorSetLayout); res != vk.Success {
		return fmt.Errorf("gpu: create descriptor set layout %q: %s", p.key, vk.Error(res))
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(p.device, &poolInfo, nil, &p.descriptorPool); res != vk.Success {
		return fmt.Errorf("gpu: create descriptor pool %q: %s", p.key, vk.Error(res))
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.descriptorSetLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(p.device, &allocInfo, &sets[0]); res != vk.Success {
		return fmt.Errorf("gpu: allocate descriptor set %q: %s", p.key, vk.Error(res))
	}
	p.descriptorSet = sets[0]
	return nil
}

// BindStorageBuffers writes the buffers into the pipeline's descriptor set,
// slot i receiving buffers[i]. The set is allocated once at pipeline creation
// and rewritten in place, so callers must not have work in flight that still
// reads it.
func (p *vulkanPipeline) BindStorageBuffers(buffers ...Buffer) error {
	if p.descriptorSet == vk.NullDescriptorSet {
		return fmt.Errorf("gpu: pipeline %q has no descriptor set", p.key)
	}
	writes := make([]vk.WriteDescriptorSet, len(buffers))
	for i, buf := range buffers {
		vb, ok := buf.(*vulkanBuffer)
		if !ok {
			return fmt.Errorf("gpu: pipeline %q: binding %d is not a device buffer", p.key, i)
		}
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.descriptorSet,
			DstBinding:      uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: vb.buffer,
				Offset: 0,
				Range:  vk.DeviceSize(vk.WholeSize),
			}},
		}
	}
	vk.UpdateDescriptorSets(p.device, uint32(len(writes)), writes, 0, nil)
	return nil
}

func (p *vulkanPipeline) PipelineKey() string {
	return p.key
}

func (p *vulkanPipeline) Kind() PipelineKind {
	return p.kind
}

func (p *vulkanPipeline) Release() {
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(p.device, p.pipeline, nil)
		p.pipeline = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(p.device, p.layout, nil)
		p.layout = vk.NullPipelineLayout
	}
	if p.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(p.device, p.descriptorPool, nil)
		p.descriptorPool = vk.NullDescriptorPool
		p.descriptorSet = vk.NullDescriptorSet
	}
	if p.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(p.device, p.descriptorSetLayout, nil)
		p.descriptorSetLayout = vk.NullDescriptorSetLayout
	}
}

func vulkanDescriptorType(kind BindingKind) vk.DescriptorType {
	switch kind {
	case BindingUniform:
		return vk.DescriptorTypeUniformBuffer
	case BindingCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case BindingStorageImage:
		return vk.DescriptorTypeStorageImage
	case BindingAccelerationStructure:
		return vk.DescriptorTypeAccelerationStructure
	default:
		return vk.DescriptorTypeStorageBuffer
	}
}
