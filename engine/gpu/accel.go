package gpu

// AccelKind distinguishes bottom-level (geometry) and top-level (instance)
// acceleration structures.
type AccelKind int

const (
	// AccelBottomLevel holds raw triangle geometry for one model.
	AccelBottomLevel AccelKind = iota
	// AccelTopLevel holds per-entity instances referencing bottom-level structures.
	AccelTopLevel
)

// AccelBuildMode selects between a full build and an in-place update.
type AccelBuildMode int

const (
	// AccelModeBuild performs a full build from source geometry or instances.
	AccelModeBuild AccelBuildMode = iota
	// AccelModeUpdate refits an existing structure in place. Only valid when
	// the instance count and referenced geometry are unchanged; it uses the
	// smaller update-scratch size.
	AccelModeUpdate
)

// AccelGeometry describes one triangle mesh consumed by a bottom-level build.
// Addresses point at the model's device-resident vertex and index buffers.
type AccelGeometry struct {
	// VertexAddress is the device address of the position data.
	VertexAddress DeviceAddress

	// VertexStride is the byte stride between consecutive positions.
	VertexStride uint64

	// VertexCount is the number of vertices addressable from VertexAddress.
	VertexCount uint32

	// IndexAddress is the device address of the uint32 index data.
	IndexAddress DeviceAddress

	// IndexCount is the number of indices (triangle count × 3).
	IndexCount uint32

	// Opaque marks the geometry opaque, letting the traversal skip any-hit shaders.
	Opaque bool
}

// AccelSizeQuery describes a build for sizing purposes. Exactly one of
// Geometries (bottom level) or InstanceCount (top level) is meaningful for a
// given Kind.
type AccelSizeQuery struct {
	// Kind is the structure kind being sized.
	Kind AccelKind

	// Geometries lists the triangle meshes for a bottom-level query.
	Geometries []AccelGeometry

	// InstanceCount is the instance capacity for a top-level query.
	InstanceCount uint32

	// AllowUpdate requests an updatable structure; required for in-place
	// top-level refits and reported through AccelSizes.UpdateScratch.
	AllowUpdate bool
}

// AccelSizes reports the byte sizes required by a build described in an
// AccelSizeQuery.
type AccelSizes struct {
	// Structure is the backing storage size for the structure itself.
	Structure uint64

	// BuildScratch is the scratch size for a full build.
	BuildScratch uint64

	// UpdateScratch is the scratch size for an in-place update; typically
	// smaller than BuildScratch and zero when AllowUpdate was not set.
	UpdateScratch uint64
}

// AccelStructure is an opaque acceleration structure handle. Bottom-level
// structures are immutable after creation and shared read-only by every entity
// referencing the same model; the top-level structure is mutated only through
// its owner's update path.
type AccelStructure interface {
	// Address returns the structure's device address, referenced by top-level
	// instance records (bottom level) or ray tracing descriptors (top level).
	//
	// Returns:
	//   - DeviceAddress: the structure address
	Address() DeviceAddress

	// Release destroys the structure and its backing buffer.
	Release()
}

// AccelBuild is a build or update command recorded on a CommandRecorder.
type AccelBuild struct {
	// Kind is the structure kind being built.
	Kind AccelKind

	// Mode selects full build or in-place update.
	Mode AccelBuildMode

	// Dst is the structure written by the build.
	Dst AccelStructure

	// Src is the structure read by an update (equal to Dst for in-place
	// refits); nil for full builds.
	Src AccelStructure

	// Geometries lists the triangle meshes for a bottom-level build.
	Geometries []AccelGeometry

	// InstanceAddress is the device address of the packed 64-byte instance
	// records for a top-level build.
	InstanceAddress DeviceAddress

	// InstanceCount is the number of instance records.
	InstanceCount uint32

	// ScratchAddress is the device address of the scratch buffer, sized from
	// BuildScratch or UpdateScratch according to Mode.
	ScratchAddress DeviceAddress
}
