package gpu

import "fmt"

// FrameSlot bundles the resources owned by one in-flight frame: a graphics
// recorder, a dedicated compute recorder, and the fence guarding their reuse.
// Per-frame device buffers are attached by the components that own them
// (global buffer manager, skinning pass), keyed by the slot index.
//
// A slot must be acquired through FrameRing.Acquire before any of its
// resources are touched; Acquire waits on the fence so the GPU is done reading
// the previous frame recorded on this slot.
type FrameSlot struct {
	// Index is the slot's position in the ring, in [0, FramesInFlight).
	Index int

	// Graphics records the frame's graphics queue work.
	Graphics CommandRecorder

	// Compute records the frame's compute queue work (skinning dispatches).
	Compute CommandRecorder

	fence       Fence
	computeDone Semaphore
}

// Fence returns the slot's completion fence, to be signaled by the frame's
// final submission.
//
// Returns:
//   - Fence: the slot fence
func (s *FrameSlot) Fence() Fence {
	return s.fence
}

// ComputeDone returns the semaphore linking the slot's compute submission to
// its graphics submission: the compute submit signals it, the graphics submit
// waits on it. Because the fenced graphics submit waits here, a signaled slot
// fence also means the slot's compute work finished, so Acquire is safe to
// reset both recorders.
//
// Returns:
//   - Semaphore: the compute-to-graphics semaphore
func (s *FrameSlot) ComputeDone() Semaphore {
	return s.computeDone
}

// FrameRing is a fixed-size pool of frame slots cycled once per frame. It
// replaces ad hoc fence and semaphore juggling with a single acquire/release
// discipline: Acquire blocks until the slot's previous submission completed,
// resets the fence and recorders, and hands the slot to the frame producer.
type FrameRing struct {
	slots  []*FrameSlot
	cursor int
}

// NewFrameRing creates a ring of frames slots on the given device.
//
// Parameters:
//   - dev: the device providing recorders and fences
//   - frames: the number of in-flight slots (the device's configured count)
//
// Returns:
//   - *FrameRing: the ring
//   - error: an error if any slot resource cannot be created
func NewFrameRing(dev Device, frames int) (*FrameRing, error) {
	if frames < 1 {
		return nil, fmt.Errorf("gpu: frame ring requires at least one slot, got %d", frames)
	}
	r := &FrameRing{slots: make([]*FrameSlot, frames)}
	for i := range r.slots {
		graphics, err := dev.NewCommandRecorder(QueueGraphics)
		if err != nil {
			r.Release()
			return nil, fmt.Errorf("gpu: frame slot %d graphics recorder: %w", i, err)
		}
		compute, err := dev.NewCommandRecorder(QueueCompute)
		if err != nil {
			graphics.Release()
			r.Release()
			return nil, fmt.Errorf("gpu: frame slot %d compute recorder: %w", i, err)
		}
		// Fences start signaled so the first Acquire of each slot does not block.
		fence, err := dev.CreateFence(true)
		if err != nil {
			graphics.Release()
			compute.Release()
			r.Release()
			return nil, fmt.Errorf("gpu: frame slot %d fence: %w", i, err)
		}
		computeDone, err := dev.CreateSemaphore()
		if err != nil {
			graphics.Release()
			compute.Release()
			fence.Release()
			r.Release()
			return nil, fmt.Errorf("gpu: frame slot %d compute semaphore: %w", i, err)
		}
		r.slots[i] = &FrameSlot{Index: i, Graphics: graphics, Compute: compute, fence: fence, computeDone: computeDone}
	}
	return r, nil
}

// Slots returns the number of slots in the ring.
//
// Returns:
//   - int: the slot count
func (r *FrameRing) Slots() int {
	return len(r.slots)
}

// Acquire advances to the next slot, waits until its previous submission
// completed, and resets its fence and recorders for reuse. A failed wait is
// fatal and returned unretried.
//
// Returns:
//   - *FrameSlot: the acquired slot
//   - error: an error if the fence wait or recorder reset fails
func (r *FrameRing) Acquire() (*FrameSlot, error) {
	slot := r.slots[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.slots)

	if err := slot.fence.Wait(); err != nil {
		return nil, fmt.Errorf("gpu: frame slot %d fence wait: %w", slot.Index, err)
	}
	if err := slot.fence.Reset(); err != nil {
		return nil, fmt.Errorf("gpu: frame slot %d fence reset: %w", slot.Index, err)
	}
	if err := slot.Graphics.Reset(); err != nil {
		return nil, fmt.Errorf("gpu: frame slot %d graphics reset: %w", slot.Index, err)
	}
	if err := slot.Compute.Reset(); err != nil {
		return nil, fmt.Errorf("gpu: frame slot %d compute reset: %w", slot.Index, err)
	}
	return slot, nil
}

// Release frees every slot's recorders and fence. Callers must ensure the
// device is idle first.
func (r *FrameRing) Release() {
	for _, slot := range r.slots {
		if slot == nil {
			continue
		}
		if slot.Graphics != nil {
			slot.Graphics.Release()
		}
		if slot.Compute != nil {
			slot.Compute.Release()
		}
		if slot.fence != nil {
			slot.fence.Release()
		}
		if slot.computeDone != nil {
			slot.computeDone.Release()
		}
	}
	r.slots = nil
}
