// Package skinning dispatches the compute pass that deforms bind-pose
// vertices into per-entity skinned vertex buffers. One dispatch runs per
// (animated mesh, entity) pair; entities whose animation has not started are
// skipped and keep rendering from the bind pose.
package skinning

import (
	_ "embed"
	"fmt"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/model"
	"github.com/calyx3d/calyx/engine/scene"
)

// ShaderSource is the GLSL compute shader the pass dispatches. The render
// orchestrator compiles it to SPIR-V and constructs the pipeline.
//
//go:embed assets/skin.comp
var ShaderSource string

// WorkGroupSize is the thread count per compute workgroup; one thread skins
// one vertex.
const WorkGroupSize = 32

const vertexSize = 64

// Layout describes the pass's single descriptor set: source vertices,
// weights, joint matrices, and the skinned destination buffer.
//
// Returns:
//   - gpu.Layout: the binding layout for pipeline construction
func Layout() gpu.Layout {
	return gpu.StorageLayout(4, gpu.StageCompute)
}

// Pass records the skinning dispatches for one frame.
type Pass interface {
	// Prepare sizes the shared destination buffer for the current animated
	// entity set and assigns each (entity, mesh) pair its destination
	// region. Regions are assigned in model registration order then spawn
	// order, so an unchanged entity set keeps stable offsets. Pairs for
	// despawned entities are dropped. When a source or destination buffer
	// changed identity since the last call, the pipeline's storage bindings
	// are rewritten to the new buffers.
	//
	// Parameters:
	//   - sc: the scene to enumerate
	//   - models: the model store
	//
	// Returns:
	//   - error: an error if the destination buffer cannot be allocated
	Prepare(sc scene.Scene, models model.Store) error

	// Record enqueues one dispatch per started (animated mesh, entity) pair
	// on the recorder, preceded by a single coarse barrier ordering the
	// writes against the previous frame's vertex reads. Lanes are grouped in
	// WorkGroupSize blocks, one thread per output vertex.
	//
	// Parameters:
	//   - recorder: the compute queue recorder for the frame
	//   - sc: the scene to enumerate
	//   - models: the model store
	Record(recorder gpu.CommandRecorder, sc scene.Scene, models model.Store)

	// SkinnedVertexAddress resolves the destination region of one (entity,
	// mesh) pair. Implements the resolver consumed by the global buffer
	// manager.
	//
	// Parameters:
	//   - entityID: the entity identifier
	//   - meshIndex: index of the mesh within the entity's model
	//
	// Returns:
	//   - gpu.DeviceAddress: the skinned vertex buffer address
	//   - bool: true when a region exists for the pair
	SkinnedVertexAddress(entityID string, meshIndex int) (gpu.DeviceAddress, bool)

	// DstBuffer returns the shared skinned vertex buffer, nil before the
	// first Prepare with animated entities.
	//
	// Returns:
	//   - gpu.Buffer: the destination buffer
	DstBuffer() gpu.Buffer

	// Release frees the destination buffer.
	Release()
}

type pass struct {
	device   gpu.Device
	pipeline gpu.Pipeline

	dst gpu.Buffer
	// dstOffsets maps entity ID to per-mesh destination element offsets,
	// reassigned on every Prepare.
	dstOffsets map[string][]uint32

	// bound is the buffer set last written into the pipeline's descriptor
	// bindings: source vertices, weights, joint matrices, destination.
	bound [4]gpu.Buffer
}

var _ Pass = &pass{}

// NewPass creates the skinning pass.
//
// Parameters:
//   - device: the GPU device, must not be nil
//   - pipeline: the compiled skinning compute pipeline, must not be nil
//
// Returns:
//   - Pass: the constructed pass
func NewPass(device gpu.Device, pipeline gpu.Pipeline) Pass {
	if device == nil {
		panic("skinning: device is required")
	}
	if pipeline == nil {
		panic("skinning: pipeline is required")
	}
	return &pass{
		device:     device,
		pipeline:   pipeline,
		dstOffsets: make(map[string][]uint32),
	}
}

func (p *pass) Prepare(sc scene.Scene, models model.Store) error {
	for id := range p.dstOffsets {
		delete(p.dstOffsets, id)
	}

	// Each region rounds up to a whole workgroup so overrun lanes of one
	// dispatch never write into the next region.
	elements := uint32(0)
	for _, mdl := range models.Models() {
		if !mdl.Animated() {
			continue
		}
		for _, e := range sc.EntitiesOf(mdl.ID) {
			offsets := make([]uint32, len(mdl.Meshes))
			for i, mesh := range mdl.Meshes {
				offsets[i] = elements
				elements += common.CeilDiv(mesh.VertexCount, WorkGroupSize) * WorkGroupSize
			}
			p.dstOffsets[e.ID()] = offsets
		}
	}
	if elements == 0 {
		return nil
	}

	required := uint64(elements) * vertexSize
	if p.dst == nil || p.dst.Size() < required {
		if p.dst != nil {
			p.dst.Release()
		}
		buf, err := p.device.CreateBuffer(required, gpu.BufferUsageStorage|gpu.BufferUsageVertex)
		if err != nil {
			return fmt.Errorf("skinning: create destination buffer: %w", err)
		}
		p.dst = buf
	}
	return p.bindBuffers(models)
}

// bindBuffers rewrites the pipeline's descriptor bindings when any of the
// four storage buffers changed identity (store flush or destination growth).
// In-flight frames may still read the old set, so a rewrite drains the device
// first; buffer recreation already invalidated their addresses anyway.
func (p *pass) bindBuffers(models model.Store) error {
	want := [4]gpu.Buffer{models.VertexBuffer(), models.WeightsBuffer(), models.JointBuffer(), p.dst}
	if want == p.bound {
		return nil
	}
	for _, b := range want {
		if b == nil {
			return fmt.Errorf("skinning: model store has no flushed skinning buffers")
		}
	}
	if err := p.device.WaitIdle(); err != nil {
		return fmt.Errorf("skinning: wait before descriptor rewrite: %w", err)
	}
	if err := p.pipeline.BindStorageBuffers(want[0], want[1], want[2], want[3]); err != nil {
		return fmt.Errorf("skinning: bind storage buffers: %w", err)
	}
	p.bound = want
	return nil
}

func (p *pass) Record(recorder gpu.CommandRecorder, sc scene.Scene, models model.Store) {
	type dispatch struct {
		push   GPUSkinningPush
		groups uint32
	}
	var dispatches []dispatch
	for _, mdl := range models.Models() {
		if !mdl.Animated() {
			continue
		}
		for _, e := range sc.EntitiesOf(mdl.ID) {
			anim := e.Animation()
			if !anim.Started {
				continue
			}
			offsets, ok := p.dstOffsets[e.ID()]
			if !ok {
				continue
			}
			joints := mdl.JointMatrixOffset(anim.Index, anim.Frame)
			for i, mesh := range mdl.Meshes {
				dispatches = append(dispatches, dispatch{
					push: GPUSkinningPush{
						SrcVertexOffset:   mesh.VertexOffset,
						WeightsOffset:     mesh.WeightsOffset,
						JointMatrixOffset: joints,
						DstOffset:         offsets[i],
					},
					groups: common.CeilDiv(mesh.VertexCount, WorkGroupSize),
				})
			}
		}
	}
	if len(dispatches) == 0 {
		return
	}

	// One coarse barrier covers the write-after-read hazard against the
	// previous frame's vertex consumption; per-mesh ranges are disjoint so
	// no finer barriers are needed.
	recorder.MemoryBarrier(
		gpu.StageVertexInput|gpu.StageVertexShader, gpu.AccessShaderRead,
		gpu.StageCompute, gpu.AccessShaderWrite)
	recorder.BindPipeline(p.pipeline)
	for _, d := range dispatches {
		recorder.PushConstants(gpu.StageCompute, d.push.Marshal())
		recorder.Dispatch(d.groups, 1, 1)
	}
}

func (p *pass) SkinnedVertexAddress(entityID string, meshIndex int) (gpu.DeviceAddress, bool) {
	offsets, ok := p.dstOffsets[entityID]
	if !ok || meshIndex < 0 || meshIndex >= len(offsets) || p.dst == nil {
		return 0, false
	}
	return p.dst.Address() + gpu.DeviceAddress(uint64(offsets[meshIndex])*vertexSize), true
}

func (p *pass) DstBuffer() gpu.Buffer {
	return p.dst
}

func (p *pass) Release() {
	if p.dst != nil {
		p.dst.Release()
		p.dst = nil
	}
}
