// Package gputest provides in-memory fakes of the gpu interfaces for unit
// tests. Buffers store their contents in byte slices, recorders log every
// command they receive, and device addresses are deterministic so tests can
// assert on marshalled GPU records.
package gputest

import (
	"fmt"

	"github.com/calyx3d/calyx/engine/gpu"
)

// Device is an in-memory gpu.Device. All handed-out objects record their
// interactions for later assertions.
type Device struct {
	FramesInFlightCount int
	DeviceFeatures      gpu.Features

	Buffers    []*Buffer
	Recorders  []*Recorder
	Pipelines  []*Pipeline
	Semaphores []*Semaphore
	Structs    []*AccelStructure

	nextAddress gpu.DeviceAddress
}

var _ gpu.Device = &Device{}

// NewDevice returns a fake device with ray tracing enabled and three frames
// in flight.
func NewDevice() *Device {
	return &Device{
		FramesInFlightCount: 3,
		DeviceFeatures: gpu.Features{
			MultiDrawIndirect:   true,
			BufferDeviceAddress: true,
			RayTracing:          true,
		},
		nextAddress: 0x10000,
	}
}

func (d *Device) Features() gpu.Features {
	return d.DeviceFeatures
}

func (d *Device) FramesInFlight() int {
	return d.FramesInFlightCount
}

func (d *Device) allocAddress(size uint64) gpu.DeviceAddress {
	addr := d.nextAddress
	d.nextAddress += gpu.DeviceAddress((size + 255) &^ 255)
	return addr
}

func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("gputest: zero-size buffer")
	}
	b := &Buffer{
		Data:    make([]byte, size),
		usage:   usage,
		address: d.allocAddress(size),
	}
	d.Buffers = append(d.Buffers, b)
	return b, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	return &Fence{Signaled: signaled}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	s := &Semaphore{}
	d.Semaphores = append(d.Semaphores, s)
	return s, nil
}

func (d *Device) NewCommandRecorder(queue gpu.QueueKind) (gpu.CommandRecorder, error) {
	r := &Recorder{Queue: queue}
	d.Recorders = append(d.Recorders, r)
	return r, nil
}

func (d *Device) CreateComputePipeline(key string, spirv []byte, layout gpu.Layout, pushConstantBytes int) (gpu.Pipeline, error) {
	p := &Pipeline{Key: key, PushBytes: pushConstantBytes}
	d.Pipelines = append(d.Pipelines, p)
	return p, nil
}

// AccelerationStructureSizes returns deterministic sizes proportional to the
// geometry so growth logic can be exercised.
func (d *Device) AccelerationStructureSizes(query gpu.AccelSizeQuery) (gpu.AccelSizes, error) {
	var primitives uint64
	if query.Kind == gpu.AccelTopLevel {
		primitives = uint64(query.InstanceCount)
	} else {
		for _, g := range query.Geometries {
			primitives += uint64(g.IndexCount / 3)
		}
	}
	return gpu.AccelSizes{
		Structure:     1024 + 64*primitives,
		BuildScratch:  512 + 32*primitives,
		UpdateScratch: 256 + 16*primitives,
	}, nil
}

func (d *Device) CreateAccelerationStructure(kind gpu.AccelKind, size uint64) (gpu.AccelStructure, error) {
	s := &AccelStructure{
		Kind:    kind,
		Size:    size,
		address: d.allocAddress(size),
	}
	d.Structs = append(d.Structs, s)
	return s, nil
}

func (d *Device) WaitIdle() error {
	return nil
}

func (d *Device) Release() {}

// Buffer is an in-memory gpu.Buffer. Writes land in Data; Released tracks
// lifecycle for leak assertions.
type Buffer struct {
	Data     []byte
	Writes   int
	Released bool

	usage   gpu.BufferUsage
	address gpu.DeviceAddress
}

var _ gpu.Buffer = &Buffer{}

func (b *Buffer) Address() gpu.DeviceAddress {
	return b.address
}

func (b *Buffer) Size() uint64 {
	return uint64(len(b.Data))
}

func (b *Buffer) Usage() gpu.BufferUsage {
	return b.usage
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > uint64(len(b.Data)) {
		return fmt.Errorf("gputest: write of %d bytes at offset %d exceeds buffer size %d", len(data), offset, len(b.Data))
	}
	copy(b.Data[offset:], data)
	b.Writes++
	return nil
}

func (b *Buffer) Map() (*gpu.MappedRange, error) {
	return gpu.NewMappedRange(b.Data, func() {}), nil
}

func (b *Buffer) Release() {
	b.Released = true
}

// Fence is a trivially-signalled gpu.Fence.
type Fence struct {
	Signaled bool
	Waits    int
}

// Semaphore is a fake gpu.Semaphore usable for identity assertions on
// cross-queue submission links.
type Semaphore struct {
	Released bool
}

var _ gpu.Semaphore = &Semaphore{}

func (s *Semaphore) Release() {
	s.Released = true
}

var _ gpu.Fence = &Fence{}

func (f *Fence) Wait() error {
	f.Waits++
	return nil
}

func (f *Fence) Reset() error {
	f.Signaled = false
	return nil
}

func (f *Fence) Release() {}

// Pipeline is a fake gpu.Pipeline retaining its key, push constant size, and
// the latest descriptor bindings.
type Pipeline struct {
	Key       string
	PushBytes int

	// StorageBindings holds the buffers from the most recent
	// BindStorageBuffers call; Binds counts rewrites.
	StorageBindings []gpu.Buffer
	Binds           int
}

var _ gpu.Pipeline = &Pipeline{}

func (p *Pipeline) PipelineKey() string {
	return p.Key
}

func (p *Pipeline) Kind() gpu.PipelineKind {
	return gpu.PipelineKindCompute
}

func (p *Pipeline) BindStorageBuffers(buffers ...gpu.Buffer) error {
	p.StorageBindings = append([]gpu.Buffer(nil), buffers...)
	p.Binds++
	return nil
}

func (p *Pipeline) Release() {}

// DispatchRecord captures one Dispatch call together with the push constants
// set since the previous dispatch.
type DispatchRecord struct {
	X, Y, Z       uint32
	PushConstants []byte
	Pipeline      string
}

// BarrierRecord captures one MemoryBarrier call.
type BarrierRecord struct {
	SrcStage  gpu.Stage
	SrcAccess gpu.Access
	DstStage  gpu.Stage
	DstAccess gpu.Access
}

// DrawRecord captures one DrawIndexedIndirect call.
type DrawRecord struct {
	Buffer    gpu.Buffer
	Offset    uint64
	DrawCount uint32
	Stride    uint32
}

// SemaphoreWaitRecord captures one WaitSemaphore call.
type SemaphoreWaitRecord struct {
	Semaphore gpu.Semaphore
	Stage     gpu.Stage
}

// Recorder logs every command for later inspection.
type Recorder struct {
	Queue gpu.QueueKind

	Began      int
	Ended      int
	Submits    int
	Resets     int
	Dispatches []DispatchRecord
	Barriers   []BarrierRecord
	Draws      []DrawRecord
	Builds     []gpu.AccelBuild

	// SemaphoreWaits and SemaphoreSignals accumulate the cross-queue links
	// attached to submissions; SubmittedFences records the fence (possibly
	// nil) of each Submit in order.
	SemaphoreWaits   []SemaphoreWaitRecord
	SemaphoreSignals []gpu.Semaphore
	SubmittedFences  []gpu.Fence

	boundPipeline string
	pendingPush   []byte
}

var _ gpu.CommandRecorder = &Recorder{}

func (r *Recorder) Begin() error {
	r.Began++
	return nil
}

func (r *Recorder) BindPipeline(pipeline gpu.Pipeline) {
	r.boundPipeline = pipeline.PipelineKey()
}

func (r *Recorder) PushConstants(stages gpu.Stage, data []byte) {
	r.pendingPush = append([]byte(nil), data...)
}

func (r *Recorder) Dispatch(x, y, z uint32) {
	r.Dispatches = append(r.Dispatches, DispatchRecord{
		X: x, Y: y, Z: z,
		PushConstants: r.pendingPush,
		Pipeline:      r.boundPipeline,
	})
	r.pendingPush = nil
}

func (r *Recorder) MemoryBarrier(srcStage gpu.Stage, srcAccess gpu.Access, dstStage gpu.Stage, dstAccess gpu.Access) {
	r.Barriers = append(r.Barriers, BarrierRecord{
		SrcStage: srcStage, SrcAccess: srcAccess,
		DstStage: dstStage, DstAccess: dstAccess,
	})
}

func (r *Recorder) BindIndexBuffer(buffer gpu.Buffer, offset uint64) {}

func (r *Recorder) DrawIndexedIndirect(buffer gpu.Buffer, offset uint64, drawCount uint32, stride uint32) {
	r.Draws = append(r.Draws, DrawRecord{Buffer: buffer, Offset: offset, DrawCount: drawCount, Stride: stride})
}

func (r *Recorder) BuildAccelerationStructure(build gpu.AccelBuild) {
	r.Builds = append(r.Builds, build)
}

func (r *Recorder) WaitSemaphore(sem gpu.Semaphore, stage gpu.Stage) {
	r.SemaphoreWaits = append(r.SemaphoreWaits, SemaphoreWaitRecord{Semaphore: sem, Stage: stage})
}

func (r *Recorder) SignalSemaphore(sem gpu.Semaphore) {
	r.SemaphoreSignals = append(r.SemaphoreSignals, sem)
}

func (r *Recorder) End() error {
	r.Ended++
	return nil
}

func (r *Recorder) Submit(fence gpu.Fence) error {
	r.Submits++
	r.SubmittedFences = append(r.SubmittedFences, fence)
	if fence != nil {
		if f, ok := fence.(*Fence); ok {
			f.Signaled = true
		}
	}
	return nil
}

func (r *Recorder) Reset() error {
	r.Resets++
	r.boundPipeline = ""
	r.pendingPush = nil
	return nil
}

func (r *Recorder) Release() {}

// AccelStructure is a fake gpu.AccelStructure.
type AccelStructure struct {
	Kind     gpu.AccelKind
	Size     uint64
	Released bool

	address gpu.DeviceAddress
}

var _ gpu.AccelStructure = &AccelStructure{}

func (s *AccelStructure) Address() gpu.DeviceAddress {
	return s.address
}

func (s *AccelStructure) Release() {
	s.Released = true
}
