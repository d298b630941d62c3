package global_buffer

// ManagerBuilderOption is a function that configures the manager during
// construction.
type ManagerBuilderOption func(*manager)

// WithSkinnedAddresses wires the resolver that supplies skinned vertex buffer
// addresses for animated entities. Without it, animated instance records
// always reference the bind pose.
//
// Parameters:
//   - resolver: the skinned address resolver
//
// Returns:
//   - ManagerBuilderOption: the option function
func WithSkinnedAddresses(resolver SkinnedAddressResolver) ManagerBuilderOption {
	return func(m *manager) {
		m.skinned = resolver
	}
}
