// Package global_buffer rebuilds the per-frame device buffers that drive the
// bindless indirect pipeline: instance records, indirect draw commands for
// the static and animated batches, and the model matrix buffer indexed by
// global entity index. Buffers are owned per in-flight frame slot and only
// ever grow.
package global_buffer

import (
	"fmt"
	"log/slog"

	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/model"
	"github.com/calyx3d/calyx/engine/scene"
)

// SkinnedAddressResolver resolves the skinned vertex buffer of one animated
// (entity, mesh) pair. The skinning pass implements this; instance records
// for entities whose animation has started point at the resolved address
// instead of the bind pose.
type SkinnedAddressResolver interface {
	// SkinnedVertexAddress returns the destination buffer address for the
	// given entity and mesh, or false when no skinned buffer exists.
	//
	// Parameters:
	//   - entityID: the entity identifier
	//   - meshIndex: index of the mesh within the entity's model
	//
	// Returns:
	//   - gpu.DeviceAddress: the skinned vertex buffer address
	//   - bool: true when a skinned buffer exists for the pair
	SkinnedVertexAddress(entityID string, meshIndex int) (gpu.DeviceAddress, bool)
}

// Manager rebuilds the per-frame draw data.
type Manager interface {
	// Update rewrites the frame slot's buffers from the current entity set.
	// Enumeration follows model registration order, then spawn order within
	// each model, so repeated updates over an unchanged scene produce
	// byte-identical buffers. Must be called after the slot's fence wait and
	// before the slot's draw submission.
	//
	// Parameters:
	//   - frame: the in-flight frame slot index
	//   - sc: the scene to enumerate
	//   - models: the model store
	//
	// Returns:
	//   - error: an error if a buffer allocation or write fails
	Update(frame int, sc scene.Scene, models model.Store) error

	// InstanceBuffer returns the frame slot's instance record buffer, nil
	// before the first update or when the scene is empty.
	//
	// Parameters:
	//   - frame: the in-flight frame slot index
	//
	// Returns:
	//   - gpu.Buffer: the instance buffer
	InstanceBuffer(frame int) gpu.Buffer

	// ModelMatrixBuffer returns the frame slot's model matrix buffer, laid
	// out by global entity index.
	//
	// Parameters:
	//   - frame: the in-flight frame slot index
	//
	// Returns:
	//   - gpu.Buffer: the model matrix buffer
	ModelMatrixBuffer(frame int) gpu.Buffer

	// StaticCommands returns the static batch's indirect command buffer and
	// draw count for a frame slot.
	//
	// Parameters:
	//   - frame: the in-flight frame slot index
	//
	// Returns:
	//   - gpu.Buffer: the command buffer, nil when the batch is empty
	//   - uint32: the draw count
	StaticCommands(frame int) (gpu.Buffer, uint32)

	// AnimatedCommands returns the animated batch's indirect command buffer
	// and draw count for a frame slot.
	//
	// Parameters:
	//   - frame: the in-flight frame slot index
	//
	// Returns:
	//   - gpu.Buffer: the command buffer, nil when the batch is empty
	//   - uint32: the draw count
	AnimatedCommands(frame int) (gpu.Buffer, uint32)

	// Release frees all frame slots' buffers.
	Release()
}

// frameBuffers is one frame slot's set of rebuilt buffers.
type frameBuffers struct {
	instances     gpu.Buffer
	matrices      gpu.Buffer
	staticCmds    gpu.Buffer
	animatedCmds  gpu.Buffer
	staticCount   uint32
	animatedCount uint32
}

type manager struct {
	device  gpu.Device
	skinned SkinnedAddressResolver

	frames []frameBuffers

	// Scratch slices reused across updates to keep the per-frame path free
	// of steady-state allocations.
	records      []byte
	staticData   []byte
	animatedData []byte
	matrixData   []byte
}

var _ Manager = &manager{}

// NewManager creates a global buffer manager with one buffer set per
// in-flight frame slot.
//
// Parameters:
//   - device: the GPU device, must not be nil
//   - options: variadic list of ManagerBuilderOption functions to configure the manager
//
// Returns:
//   - Manager: the constructed manager
func NewManager(device gpu.Device, options ...ManagerBuilderOption) Manager {
	if device == nil {
		panic("global_buffer: device is required")
	}
	m := &manager{
		device: device,
		frames: make([]frameBuffers, device.FramesInFlight()),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *manager) Update(frame int, sc scene.Scene, models model.Store) error {
	if frame < 0 || frame >= len(m.frames) {
		return fmt.Errorf("global_buffer: frame slot %d out of range", frame)
	}
	fb := &m.frames[frame]

	m.records = m.records[:0]
	m.staticData = m.staticData[:0]
	m.animatedData = m.animatedData[:0]
	m.matrixData = m.matrixData[:0]
	fb.staticCount = 0
	fb.animatedCount = 0

	entityIndex := uint32(0)
	recordIndex := uint32(0)
	for _, mdl := range models.Models() {
		entities := sc.EntitiesOf(mdl.ID)
		if len(entities) == 0 {
			continue
		}
		base := entityIndex
		for _, e := range entities {
			m.matrixData = append(m.matrixData, model.MarshalMatrix(e.Transform())...)
			entityIndex++
		}

		if mdl.Animated() {
			recordIndex = m.appendAnimated(fb, mdl, entities, base, recordIndex)
		} else {
			recordIndex = m.appendStatic(fb, mdl, entities, base, recordIndex)
		}
	}

	if err := m.upload(fb); err != nil {
		return err
	}
	return nil
}

// appendStatic emits one instanced command per mesh and one instance record
// per (mesh, entity) pair, records ordered to match each command's base
// instance.
func (m *manager) appendStatic(fb *frameBuffers, mdl *model.Model, entities []*scene.Entity, baseEntity, recordIndex uint32) uint32 {
	for _, mesh := range mdl.Meshes {
		cmd := GPUIndirectCommand{
			IndexCount:    mesh.IndexCount,
			InstanceCount: uint32(len(entities)),
			FirstIndex:    mesh.IndexOffset,
			FirstInstance: recordIndex,
		}
		m.staticData = append(m.staticData, cmd.Marshal()...)
		fb.staticCount++

		for i := range entities {
			record := GPUInstanceRecord{
				EntityIndex:   baseEntity + uint32(i),
				MaterialIndex: mesh.MaterialIndex,
				VertexAddress: mesh.VertexAddress,
				IndexAddress:  mesh.IndexAddress,
			}
			m.records = append(m.records, record.Marshal()...)
			recordIndex++
		}
	}
	return recordIndex
}

// appendAnimated emits one single-instance command per (mesh, entity) pair.
// Entities whose animation has not started reference the bind pose vertex
// buffer instead of a stale skinned buffer.
func (m *manager) appendAnimated(fb *frameBuffers, mdl *model.Model, entities []*scene.Entity, baseEntity, recordIndex uint32) uint32 {
	for i, e := range entities {
		for meshIdx, mesh := range mdl.Meshes {
			vertexAddress := mesh.VertexAddress
			if e.Animation().Started && m.skinned != nil {
				if addr, ok := m.skinned.SkinnedVertexAddress(e.ID(), meshIdx); ok {
					vertexAddress = addr
				}
			}
			cmd := GPUIndirectCommand{
				IndexCount:    mesh.IndexCount,
				InstanceCount: 1,
				FirstIndex:    mesh.IndexOffset,
				FirstInstance: recordIndex,
			}
			m.animatedData = append(m.animatedData, cmd.Marshal()...)
			fb.animatedCount++

			record := GPUInstanceRecord{
				EntityIndex:   baseEntity + uint32(i),
				MaterialIndex: mesh.MaterialIndex,
				VertexAddress: vertexAddress,
				IndexAddress:  mesh.IndexAddress,
			}
			m.records = append(m.records, record.Marshal()...)
			recordIndex++
		}
	}
	return recordIndex
}

func (m *manager) upload(fb *frameBuffers) error {
	if err := m.ensureAndWrite(&fb.instances, m.records, gpu.BufferUsageStorage, "instance"); err != nil {
		return err
	}
	if err := m.ensureAndWrite(&fb.matrices, m.matrixData, gpu.BufferUsageStorage, "model matrix"); err != nil {
		return err
	}
	if err := m.ensureAndWrite(&fb.staticCmds, m.staticData, gpu.BufferUsageIndirect|gpu.BufferUsageStorage, "static command"); err != nil {
		return err
	}
	if err := m.ensureAndWrite(&fb.animatedCmds, m.animatedData, gpu.BufferUsageIndirect|gpu.BufferUsageStorage, "animated command"); err != nil {
		return err
	}
	return nil
}

// ensureAndWrite grows the target buffer when required and writes the data.
// Growth destroys and recreates the buffer, which invalidates any address
// cached for this frame slot; shrinking never happens.
func (m *manager) ensureAndWrite(target *gpu.Buffer, data []byte, usage gpu.BufferUsage, label string) error {
	required := uint64(len(data))
	if required == 0 {
		return nil
	}
	if *target == nil || (*target).Size() < required {
		if *target != nil {
			slog.Debug("global_buffer: growing buffer",
				"label", label, "from", (*target).Size(), "to", required)
			(*target).Release()
		}
		buf, err := m.device.CreateBuffer(required, usage)
		if err != nil {
			return fmt.Errorf("global_buffer: create %s buffer: %w", label, err)
		}
		*target = buf
	}
	if err := (*target).Write(0, data); err != nil {
		return fmt.Errorf("global_buffer: write %s buffer: %w", label, err)
	}
	return nil
}

func (m *manager) InstanceBuffer(frame int) gpu.Buffer {
	return m.frames[frame].instances
}

func (m *manager) ModelMatrixBuffer(frame int) gpu.Buffer {
	return m.frames[frame].matrices
}

func (m *manager) StaticCommands(frame int) (gpu.Buffer, uint32) {
	fb := &m.frames[frame]
	return fb.staticCmds, fb.staticCount
}

func (m *manager) AnimatedCommands(frame int) (gpu.Buffer, uint32) {
	fb := &m.frames[frame]
	return fb.animatedCmds, fb.animatedCount
}

func (m *manager) Release() {
	for i := range m.frames {
		fb := &m.frames[i]
		for _, buf := range []gpu.Buffer{fb.instances, fb.matrices, fb.staticCmds, fb.animatedCmds} {
			if buf != nil {
				buf.Release()
			}
		}
		m.frames[i] = frameBuffers{}
	}
}

// CommandStride is the byte stride between indirect commands, exposed for the
// draw pass's indirect call.
func CommandStride() uint32 {
	return uint32((&GPUIndirectCommand{}).Size())
}
