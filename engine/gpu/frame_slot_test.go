package gpu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/gpu/gputest"
)

func TestNewFrameRingRejectsZeroSlots(t *testing.T) {
	dev := gputest.NewDevice()
	_, err := gpu.NewFrameRing(dev, 0)
	require.Error(t, err)
}

func TestFrameRingCyclesSlotsInOrder(t *testing.T) {
	dev := gputest.NewDevice()
	ring, err := gpu.NewFrameRing(dev, 3)
	require.NoError(t, err)
	defer ring.Release()

	assert.Equal(t, 3, ring.Slots())
	for want := 0; want < 7; want++ {
		slot, err := ring.Acquire()
		require.NoError(t, err)
		assert.Equal(t, want%3, slot.Index)
	}
}

func TestAcquireWaitsAndResetsSlotResources(t *testing.T) {
	dev := gputest.NewDevice()
	ring, err := gpu.NewFrameRing(dev, 2)
	require.NoError(t, err)
	defer ring.Release()

	slot, err := ring.Acquire()
	require.NoError(t, err)

	fence := slot.Fence().(*gputest.Fence)
	graphics := slot.Graphics.(*gputest.Recorder)
	compute := slot.Compute.(*gputest.Recorder)
	assert.Equal(t, 1, fence.Waits)
	assert.Equal(t, 1, graphics.Resets)
	assert.Equal(t, 1, compute.Resets)

	// The slot comes back two Acquires later with everything reset again.
	_, err = ring.Acquire()
	require.NoError(t, err)
	again, err := ring.Acquire()
	require.NoError(t, err)
	assert.Same(t, slot, again)
	assert.Equal(t, 2, fence.Waits)
	assert.Equal(t, 2, graphics.Resets)
}

func TestSlotsCarryDistinctComputeSemaphores(t *testing.T) {
	dev := gputest.NewDevice()
	ring, err := gpu.NewFrameRing(dev, 3)
	require.NoError(t, err)

	seen := make(map[gpu.Semaphore]bool)
	for i := 0; i < 3; i++ {
		slot, err := ring.Acquire()
		require.NoError(t, err)
		require.NotNil(t, slot.ComputeDone())
		assert.False(t, seen[slot.ComputeDone()])
		seen[slot.ComputeDone()] = true
	}

	ring.Release()
	for _, sem := range dev.Semaphores {
		assert.True(t, sem.Released)
	}
}

func TestSlotsHaveDedicatedQueues(t *testing.T) {
	dev := gputest.NewDevice()
	ring, err := gpu.NewFrameRing(dev, 1)
	require.NoError(t, err)
	defer ring.Release()

	slot, err := ring.Acquire()
	require.NoError(t, err)
	assert.Equal(t, gpu.QueueGraphics, slot.Graphics.(*gputest.Recorder).Queue)
	assert.Equal(t, gpu.QueueCompute, slot.Compute.(*gputest.Recorder).Queue)
}
