// Package accel maintains the ray tracing acceleration structures: one
// cached bottom-level structure per model, one top-level structure over the
// whole entity set, and the flat mesh-info buffer hit shaders use to locate
// geometry. Steady-state frames with no entity changes issue zero GPU work;
// transform changes take the cheaper in-place update path; only entity-set
// changes rebuild the top-level structure.
package accel

import (
	"fmt"
	"log/slog"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/model"
	"github.com/calyx3d/calyx/engine/scene"
)

// State is the manager's position in its lifecycle, also reported per Sync
// call to describe what work was issued.
type State int

const (
	// StateUninitialized means no structure has been built yet.
	StateUninitialized State = iota
	// StateBuilt means Sync performed a full top-level build.
	StateBuilt
	// StateUnchanged means Sync issued no GPU work.
	StateUnchanged
	// StateUpdated means Sync issued an in-place top-level update.
	StateUpdated
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateUnchanged:
		return "unchanged"
	case StateUpdated:
		return "updated"
	default:
		return "uninitialized"
	}
}

// Manager owns the acceleration structures.
type Manager interface {
	// Sync brings the structures in line with the scene and records any
	// required GPU work on the recorder. The first call builds everything;
	// later calls skip, update in place, or rebuild depending on what
	// changed since the last sync.
	//
	// Parameters:
	//   - recorder: the frame's graphics queue recorder
	//   - sc: the scene to mirror
	//   - models: the model store
	//
	// Returns:
	//   - State: the work class performed
	//   - error: an error if an allocation or size query fails
	Sync(recorder gpu.CommandRecorder, sc scene.Scene, models model.Store) (State, error)

	// TLASAddress returns the top-level structure's device address, zero
	// before the first build.
	//
	// Returns:
	//   - gpu.DeviceAddress: the structure address
	TLASAddress() gpu.DeviceAddress

	// MeshInfoBuffer returns the flat mesh-info buffer, nil before the first
	// build.
	//
	// Returns:
	//   - gpu.Buffer: the mesh-info buffer
	MeshInfoBuffer() gpu.Buffer

	// CustomIndexOf returns the mesh-info offset recorded for an entity at
	// the last build.
	//
	// Parameters:
	//   - entityID: the entity identifier
	//
	// Returns:
	//   - uint32: the custom index
	//   - bool: true when the entity was part of the last build
	CustomIndexOf(entityID string) (uint32, bool)

	// Release frees every structure and buffer the manager owns.
	Release()
}

// blasEntry is one cached bottom-level structure. The scratch buffer stays
// alive until Release because the build that references it may still be in
// flight.
type blasEntry struct {
	structure gpu.AccelStructure
	scratch   gpu.Buffer
}

type manager struct {
	device gpu.Device

	blasCache map[string]*blasEntry

	tlas          gpu.AccelStructure
	tlasSize      uint64
	instanceBuf   gpu.Buffer
	buildScratch  gpu.Buffer
	updateScratch gpu.Buffer
	meshInfoBuf   gpu.Buffer

	state          State
	builtRevision  uint64
	lastBuildStamp uint64

	// Entity enumeration captured at build time; the update path rewrites
	// transforms in this order.
	entityOrder   []*scene.Entity
	customIndices map[string]uint32
}

var _ Manager = &manager{}

// NewManager creates the acceleration structure manager. The device must
// report ray tracing support; missing support is a fatal setup condition
// surfaced here once, not retried.
//
// Parameters:
//   - device: the GPU device, must not be nil
//
// Returns:
//   - Manager: the constructed manager
//   - error: ErrFeatureUnsupported when the device lacks ray tracing
func NewManager(device gpu.Device) (Manager, error) {
	if device == nil {
		panic("accel: device is required")
	}
	if !device.Features().RayTracing {
		return nil, fmt.Errorf("%w: ray tracing", gpu.ErrFeatureUnsupported)
	}
	return &manager{
		device:        device,
		blasCache:     make(map[string]*blasEntry),
		customIndices: make(map[string]uint32),
	}, nil
}

func (m *manager) Sync(recorder gpu.CommandRecorder, sc scene.Scene, models model.Store) (State, error) {
	switch {
	case m.state == StateUninitialized || sc.Revision() != m.builtRevision:
		if err := m.build(recorder, sc, models); err != nil {
			return m.state, err
		}
		m.state = StateBuilt
	case m.maxEntityStamp() <= m.lastBuildStamp:
		m.state = StateUnchanged
		return m.state, nil
	default:
		if err := m.update(recorder, sc); err != nil {
			return m.state, err
		}
		m.state = StateUpdated
	}

	// Builds and updates must complete before the ray tracing dispatch that
	// reads the structures.
	recorder.MemoryBarrier(
		gpu.StageAccelBuild, gpu.AccessAccelWrite,
		gpu.StageRayTracing, gpu.AccessAccelRead)
	return m.state, nil
}

// build constructs missing bottom-level structures, rebuilds the mesh-info
// and instance buffers, and records a full top-level build.
func (m *manager) build(recorder gpu.CommandRecorder, sc scene.Scene, models model.Store) error {
	m.entityOrder = m.entityOrder[:0]
	for id := range m.customIndices {
		delete(m.customIndices, id)
	}

	// Walk models in registration order: build missing BLASes, assign each
	// model its mesh-info offset, and collect the entity enumeration.
	var meshInfoData []byte
	meshInfoCount := uint32(0)
	blasBuilt := 0
	type entityRef struct {
		entity *scene.Entity
		blas   gpu.AccelStructure
		offset uint32
	}
	var refs []entityRef
	for _, mdl := range models.Models() {
		entities := sc.EntitiesOf(mdl.ID)
		if len(entities) == 0 {
			continue
		}
		entry, err := m.ensureBLAS(recorder, mdl)
		if err != nil {
			return err
		}
		if entry.fresh {
			blasBuilt++
		}

		modelOffset := meshInfoCount
		for _, mesh := range mdl.Meshes {
			info := GPUMeshInfo{
				MaterialIndex: mesh.MaterialIndex,
				VertexAddress: uint64(mesh.VertexAddress),
				IndexAddress:  uint64(mesh.IndexAddress),
			}
			meshInfoData = append(meshInfoData, info.Marshal()...)
			meshInfoCount++
		}
		for _, e := range entities {
			refs = append(refs, entityRef{entity: e, blas: entry.blas.structure, offset: modelOffset})
		}
	}

	if blasBuilt > 0 {
		// TLAS build reads BLAS memory written above.
		recorder.MemoryBarrier(
			gpu.StageAccelBuild, gpu.AccessAccelWrite,
			gpu.StageAccelBuild, gpu.AccessAccelRead)
	}

	if len(refs) == 0 {
		m.builtRevision = sc.Revision()
		m.lastBuildStamp = sc.Clock()
		return nil
	}

	if err := m.ensureBuffer(&m.meshInfoBuf, uint64(len(meshInfoData)), gpu.BufferUsageStorage, "mesh info"); err != nil {
		return err
	}
	if err := m.meshInfoBuf.Write(0, meshInfoData); err != nil {
		return fmt.Errorf("accel: write mesh info: %w", err)
	}

	var instanceData []byte
	for _, ref := range refs {
		transform := ref.entity.Transform()
		record := GPUAccelInstance{
			Transform:   common.Transform3x4(transform[:]),
			CustomIndex: ref.offset,
			Mask:        VisibilityMaskAll,
			Flags:       FlagTriangleFacingCullDisable,
			BlasAddress: uint64(ref.blas.Address()),
		}
		instanceData = append(instanceData, record.Marshal()...)
		m.entityOrder = append(m.entityOrder, ref.entity)
		m.customIndices[ref.entity.ID()] = ref.offset
	}
	if err := m.ensureBuffer(&m.instanceBuf, uint64(len(instanceData)), gpu.BufferUsageAccelInput, "instance"); err != nil {
		return err
	}
	if err := m.instanceBuf.Write(0, instanceData); err != nil {
		return fmt.Errorf("accel: write instances: %w", err)
	}

	instanceCount := uint32(len(refs))
	sizes, err := m.device.AccelerationStructureSizes(gpu.AccelSizeQuery{
		Kind:          gpu.AccelTopLevel,
		InstanceCount: instanceCount,
		AllowUpdate:   true,
	})
	if err != nil {
		return fmt.Errorf("accel: top-level size query: %w", err)
	}
	if m.tlas == nil || m.tlasTooSmall(sizes) {
		if m.tlas != nil {
			m.tlas.Release()
		}
		tlas, err := m.device.CreateAccelerationStructure(gpu.AccelTopLevel, sizes.Structure)
		if err != nil {
			return fmt.Errorf("accel: create top-level structure: %w", err)
		}
		m.tlas = tlas
		m.tlasSize = sizes.Structure
	}
	if err := m.ensureBuffer(&m.buildScratch, sizes.BuildScratch, gpu.BufferUsageScratch, "build scratch"); err != nil {
		return err
	}
	if err := m.ensureBuffer(&m.updateScratch, sizes.UpdateScratch, gpu.BufferUsageScratch, "update scratch"); err != nil {
		return err
	}

	recorder.BuildAccelerationStructure(gpu.AccelBuild{
		Kind:            gpu.AccelTopLevel,
		Mode:            gpu.AccelModeBuild,
		Dst:             m.tlas,
		InstanceAddress: m.instanceBuf.Address(),
		InstanceCount:   instanceCount,
		ScratchAddress:  m.buildScratch.Address(),
	})

	m.builtRevision = sc.Revision()
	m.lastBuildStamp = sc.Clock()
	slog.Info("accel: top-level build",
		"instances", instanceCount, "meshInfoRows", meshInfoCount, "blasBuilt", blasBuilt)
	return nil
}

// update rewrites only the transform field of every instance record and
// records an in-place top-level update against the smaller update scratch.
func (m *manager) update(recorder gpu.CommandRecorder, sc scene.Scene) error {
	for i, e := range m.entityOrder {
		transform := e.Transform()
		var region [48]byte
		MarshalTransformInto(region[:], common.Transform3x4(transform[:]))
		if err := m.instanceBuf.Write(uint64(i)*64, region[:]); err != nil {
			return fmt.Errorf("accel: rewrite instance transform: %w", err)
		}
	}

	recorder.BuildAccelerationStructure(gpu.AccelBuild{
		Kind:            gpu.AccelTopLevel,
		Mode:            gpu.AccelModeUpdate,
		Dst:             m.tlas,
		Src:             m.tlas,
		InstanceAddress: m.instanceBuf.Address(),
		InstanceCount:   uint32(len(m.entityOrder)),
		ScratchAddress:  m.updateScratch.Address(),
	})
	m.lastBuildStamp = sc.Clock()
	return nil
}

// freshBlasEntry pairs a cache entry with whether this call created it.
type freshBlasEntry struct {
	blas  *blasEntry
	fresh bool
}

// ensureBLAS returns the model's cached bottom-level structure, building it
// on first use. BLASes hold geometry only and are shared read-only by every
// entity referencing the model.
func (m *manager) ensureBLAS(recorder gpu.CommandRecorder, mdl *model.Model) (freshBlasEntry, error) {
	if entry, ok := m.blasCache[mdl.ID]; ok {
		return freshBlasEntry{blas: entry}, nil
	}

	geometries := make([]gpu.AccelGeometry, 0, len(mdl.Meshes))
	for _, mesh := range mdl.Meshes {
		geometries = append(geometries, gpu.AccelGeometry{
			VertexAddress: mesh.VertexAddress,
			VertexStride:  64,
			VertexCount:   mesh.VertexCount,
			IndexAddress:  mesh.IndexAddress,
			IndexCount:    mesh.IndexCount,
			Opaque:        true,
		})
	}
	sizes, err := m.device.AccelerationStructureSizes(gpu.AccelSizeQuery{
		Kind:       gpu.AccelBottomLevel,
		Geometries: geometries,
	})
	if err != nil {
		return freshBlasEntry{}, fmt.Errorf("accel: bottom-level size query for %q: %w", mdl.ID, err)
	}
	structure, err := m.device.CreateAccelerationStructure(gpu.AccelBottomLevel, sizes.Structure)
	if err != nil {
		return freshBlasEntry{}, fmt.Errorf("accel: create bottom-level structure for %q: %w", mdl.ID, err)
	}
	scratch, err := m.device.CreateBuffer(sizes.BuildScratch, gpu.BufferUsageScratch)
	if err != nil {
		structure.Release()
		return freshBlasEntry{}, fmt.Errorf("accel: bottom-level scratch for %q: %w", mdl.ID, err)
	}

	recorder.BuildAccelerationStructure(gpu.AccelBuild{
		Kind:           gpu.AccelBottomLevel,
		Mode:           gpu.AccelModeBuild,
		Dst:            structure,
		Geometries:     geometries,
		ScratchAddress: scratch.Address(),
	})

	entry := &blasEntry{structure: structure, scratch: scratch}
	m.blasCache[mdl.ID] = entry
	return freshBlasEntry{blas: entry, fresh: true}, nil
}

func (m *manager) maxEntityStamp() uint64 {
	max := uint64(0)
	for _, e := range m.entityOrder {
		if e.LastUpdated() > max {
			max = e.LastUpdated()
		}
	}
	return max
}

func (m *manager) ensureBuffer(target *gpu.Buffer, size uint64, usage gpu.BufferUsage, label string) error {
	if size == 0 {
		return nil
	}
	if *target != nil && (*target).Size() >= size {
		return nil
	}
	if *target != nil {
		(*target).Release()
	}
	buf, err := m.device.CreateBuffer(size, usage)
	if err != nil {
		return fmt.Errorf("accel: create %s buffer: %w", label, err)
	}
	*target = buf
	return nil
}

func (m *manager) tlasTooSmall(sizes gpu.AccelSizes) bool {
	return m.tlasSize < sizes.Structure
}

func (m *manager) TLASAddress() gpu.DeviceAddress {
	if m.tlas == nil {
		return 0
	}
	return m.tlas.Address()
}

func (m *manager) MeshInfoBuffer() gpu.Buffer {
	return m.meshInfoBuf
}

func (m *manager) CustomIndexOf(entityID string) (uint32, bool) {
	idx, ok := m.customIndices[entityID]
	return idx, ok
}

func (m *manager) Release() {
	for id, entry := range m.blasCache {
		entry.structure.Release()
		entry.scratch.Release()
		delete(m.blasCache, id)
	}
	if m.tlas != nil {
		m.tlas.Release()
		m.tlas = nil
	}
	for _, buf := range []gpu.Buffer{m.instanceBuf, m.buildScratch, m.updateScratch, m.meshInfoBuf} {
		if buf != nil {
			buf.Release()
		}
	}
	m.instanceBuf, m.buildScratch, m.updateScratch, m.meshInfoBuf = nil, nil, nil, nil
	m.state = StateUninitialized
}
