package gpu

import "errors"

// ErrRangeClosed is returned when a MappedRange is used after Close.
var ErrRangeClosed = errors.New("gpu: mapped range is closed")

// Buffer is a device buffer with a shader-visible device address.
//
// Buffers never resize in place: a caller needing more capacity releases the
// buffer and creates a new one, which yields a new device address. Buffers are
// exclusively owned — per-frame buffers by their frame slot, mesh buffers by
// the model store.
type Buffer interface {
	// Address returns the buffer's device address. The address is stable for
	// the lifetime of the buffer and invalid afterwards.
	//
	// Returns:
	//   - DeviceAddress: the 64-bit shader-visible address
	Address() DeviceAddress

	// Size returns the buffer's capacity in bytes.
	//
	// Returns:
	//   - uint64: the capacity
	Size() uint64

	// Usage returns the usage bitmask the buffer was created with.
	//
	// Returns:
	//   - BufferUsage: the usage flags
	Usage() BufferUsage

	// Write copies data into the buffer at the given byte offset. Host-visible
	// buffers are written through a scoped mapping; device-local buffers go
	// through the backend's staging path. The caller must guarantee, via the
	// frame slot fence, that no in-flight GPU work reads the written region.
	//
	// Parameters:
	//   - offset: destination byte offset
	//   - data: bytes to copy
	//
	// Returns:
	//   - error: an error if the write exceeds capacity or mapping fails
	Write(offset uint64, data []byte) error

	// Map acquires a scoped view over the buffer's memory. The returned range
	// must be closed on every exit path; Close unmaps exactly once. Not
	// supported for device-local buffers.
	//
	// Returns:
	//   - *MappedRange: the mapped view
	//   - error: an error if mapping fails
	Map() (*MappedRange, error)

	// Release destroys the buffer and frees its memory.
	Release()
}

// MappedRange is a scoped view over mapped buffer memory. It is acquired via
// Buffer.Map and unmapped by Close; Close is safe to call more than once so
// deferred cleanup composes with early-exit error paths.
type MappedRange struct {
	data   []byte
	unmap  func()
	closed bool
}

// NewMappedRange wraps mapped memory with its unmap action. Backends call this
// from Buffer.Map; it is exported so alternative backends and test doubles can
// construct ranges.
//
// Parameters:
//   - data: the mapped byte view
//   - unmap: the action releasing the mapping (may be nil)
//
// Returns:
//   - *MappedRange: the scoped range
func NewMappedRange(data []byte, unmap func()) *MappedRange {
	return &MappedRange{data: data, unmap: unmap}
}

// Bytes returns the mapped byte view, or nil once the range is closed.
//
// Returns:
//   - []byte: the mapped memory
func (m *MappedRange) Bytes() []byte {
	if m.closed {
		return nil
	}
	return m.data
}

// Close unmaps the range. Subsequent calls are no-ops.
//
// Returns:
//   - error: ErrRangeClosed if already closed, nil otherwise
func (m *MappedRange) Close() error {
	if m.closed {
		return ErrRangeClosed
	}
	m.closed = true
	m.data = nil
	if m.unmap != nil {
		m.unmap()
	}
	return nil
}
