package gpu

// BindingKind tags the resource type of a single descriptor binding. Layout
// construction is data-driven: a backend folds a slice of Binding values into
// its native descriptor set layout, so there is one layout path for every
// binding kind rather than a type per kind.
type BindingKind int

const (
	// BindingUniform is a uniform buffer binding.
	BindingUniform BindingKind = iota
	// BindingStorage is a storage buffer binding.
	BindingStorage
	// BindingCombinedImageSampler is a combined image/sampler binding.
	BindingCombinedImageSampler
	// BindingStorageImage is a storage image binding.
	BindingStorageImage
	// BindingAccelerationStructure is an acceleration structure binding.
	BindingAccelerationStructure
)

// Binding describes one descriptor slot in a layout.
type Binding struct {
	// Kind is the resource type bound at this slot.
	Kind BindingKind

	// Slot is the binding index within the set.
	Slot int

	// Count is the descriptor array length (1 for non-arrays; the bindless
	// texture array uses the configured maximum).
	Count int

	// Stages is the set of pipeline stages that read the binding.
	Stages Stage
}

// Layout is an ordered set of bindings describing one descriptor set.
type Layout []Binding

// StorageLayout is a convenience constructor for the common all-storage-buffer
// layout used by compute passes: n storage bindings at slots 0..n-1, visible
// to the given stages.
//
// Parameters:
//   - n: number of storage bindings
//   - stages: pipeline stages that read the bindings
//
// Returns:
//   - Layout: the constructed layout
func StorageLayout(n int, stages Stage) Layout {
	l := make(Layout, n)
	for i := range l {
		l[i] = Binding{Kind: BindingStorage, Slot: i, Count: 1, Stages: stages}
	}
	return l
}
