package model

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/calyx3d/calyx/engine/gpu"
	"github.com/calyx3d/calyx/engine/material"
)

// Store registers models into shared store-wide geometry buffers.
type Store interface {
	// Register appends a model's geometry to the store's staging data and
	// returns the registered model. Mesh material identifiers are resolved
	// against the material store at registration time. Device addresses on
	// the model's meshes are not valid until the next Flush.
	//
	// Parameters:
	//   - data: the model description to register
	//
	// Returns:
	//   - *Model: the registered model
	//   - error: an error if the data is inconsistent
	Register(data ModelData) (*Model, error)

	// Flush uploads all registered geometry into the shared device buffers,
	// recreating them if they grew, and refreshes every mesh's device
	// addresses. Call after a batch of Register calls and before spawning
	// entities or building acceleration structures.
	//
	// Returns:
	//   - error: an error if an allocation or upload fails
	Flush() error

	// Get looks up a registered model by identifier.
	//
	// Parameters:
	//   - id: the model identifier
	//
	// Returns:
	//   - *Model: the model, or nil
	//   - bool: true when the model exists
	Get(id string) (*Model, bool)

	// Models returns all registered models in registration order.
	//
	// Returns:
	//   - []*Model: the registered models
	Models() []*Model

	// VertexBuffer returns the shared bind-pose vertex buffer, nil before the
	// first flush.
	//
	// Returns:
	//   - gpu.Buffer: the vertex buffer
	VertexBuffer() gpu.Buffer

	// IndexBuffer returns the shared index buffer, nil before the first
	// flush.
	//
	// Returns:
	//   - gpu.Buffer: the index buffer
	IndexBuffer() gpu.Buffer

	// WeightsBuffer returns the shared vertex weights buffer, nil when no
	// animated model is registered.
	//
	// Returns:
	//   - gpu.Buffer: the weights buffer
	WeightsBuffer() gpu.Buffer

	// JointBuffer returns the shared joint matrix buffer, nil when no
	// animated model is registered.
	//
	// Returns:
	//   - gpu.Buffer: the joint matrix buffer
	JointBuffer() gpu.Buffer

	// Release frees the shared buffers.
	Release()
}

type store struct {
	device    gpu.Device
	materials material.Store

	models []*Model
	byID   map[string]*Model

	// CPU staging, appended by Register and uploaded by Flush.
	vertexData  []byte
	indexData   []byte
	weightsData []byte
	jointData   []byte

	vertexBuf  gpu.Buffer
	indexBuf   gpu.Buffer
	weightsBuf gpu.Buffer
	jointBuf   gpu.Buffer
}

var _ Store = &store{}

// NewStore creates the model store.
//
// Parameters:
//   - device: the GPU device, must not be nil
//   - materials: the material store used to resolve mesh materials, must not be nil
//
// Returns:
//   - Store: the constructed store
func NewStore(device gpu.Device, materials material.Store) Store {
	if device == nil {
		panic("model: device is required")
	}
	if materials == nil {
		panic("model: material store is required")
	}
	return &store{
		device:    device,
		materials: materials,
		byID:      make(map[string]*Model),
	}
}

func (s *store) Register(data ModelData) (*Model, error) {
	if data.ID == "" {
		return nil, fmt.Errorf("model: empty model id")
	}
	if _, exists := s.byID[data.ID]; exists {
		return nil, fmt.Errorf("model: %q already registered", data.ID)
	}
	if len(data.Meshes) == 0 {
		return nil, fmt.Errorf("model %q: no meshes", data.ID)
	}

	animated := len(data.Animations) > 0
	for i, mesh := range data.Meshes {
		if len(mesh.Vertices) == 0 || len(mesh.Indices) == 0 {
			return nil, fmt.Errorf("model %q: mesh %d is empty", data.ID, i)
		}
		if len(mesh.Indices)%3 != 0 {
			return nil, fmt.Errorf("model %q: mesh %d index count %d is not a multiple of 3", data.ID, i, len(mesh.Indices))
		}
		if animated && len(mesh.Weights) != len(mesh.Vertices) {
			return nil, fmt.Errorf("model %q: mesh %d has %d weight records for %d vertices", data.ID, i, len(mesh.Weights), len(mesh.Vertices))
		}
	}

	m := &Model{ID: data.ID, store: s, animated: animated}
	s.appendGeometry(m, data)
	if animated {
		if err := s.appendAnimations(m, data); err != nil {
			return nil, err
		}
	}

	s.models = append(s.models, m)
	s.byID[m.ID] = m
	slog.Info("model: registered",
		"id", m.ID, "meshes", len(m.Meshes), "animated", m.Animated())
	return m, nil
}

func (s *store) appendGeometry(m *Model, data ModelData) {
	vertexSize := (&GPUVertex{}).Size()
	weightSize := (&GPUVertexWeights{}).Size()

	m.Meshes = make([]Mesh, 0, len(data.Meshes))
	for _, mesh := range data.Meshes {
		record := Mesh{
			VertexCount:   uint32(len(mesh.Vertices)),
			IndexCount:    uint32(len(mesh.Indices)),
			VertexOffset:  uint32(len(s.vertexData) / vertexSize),
			IndexOffset:   uint32(len(s.indexData) / 4),
			WeightsOffset: uint32(len(s.weightsData) / weightSize),
			MaterialIndex: s.materials.IndexOf(mesh.MaterialID),
		}
		for i := range mesh.Vertices {
			s.vertexData = append(s.vertexData, mesh.Vertices[i].Marshal()...)
		}
		idx := make([]byte, 4*len(mesh.Indices))
		for i, v := range mesh.Indices {
			binary.LittleEndian.PutUint32(idx[i*4:], v)
		}
		s.indexData = append(s.indexData, idx...)
		for i := range mesh.Weights {
			s.weightsData = append(s.weightsData, mesh.Weights[i].Marshal()...)
		}
		m.Meshes = append(m.Meshes, record)
	}
}

// appendAnimations lays the model's block of the joint buffer out as
// jointCount bind-pose identity matrices followed by every frame of every
// clip, so the model always has a valid fallback block for entities whose
// animation has not started.
func (s *store) appendAnimations(m *Model, data ModelData) error {
	jointCount := 0
	for _, anim := range data.Animations {
		if len(anim.Frames) == 0 {
			return fmt.Errorf("model %q: animation %q has no frames", m.ID, anim.Name)
		}
		for _, frame := range anim.Frames {
			if jointCount == 0 {
				jointCount = len(frame)
			}
			if len(frame) != jointCount {
				return fmt.Errorf("model %q: animation %q has inconsistent joint counts", m.ID, anim.Name)
			}
		}
	}
	if jointCount == 0 {
		return fmt.Errorf("model %q: animations carry no joints", m.ID)
	}

	m.bindPoseOffset = uint32(len(s.jointData) / 64)
	identity := MarshalMatrix(mgl32.Ident4())
	for j := 0; j < jointCount; j++ {
		s.jointData = append(s.jointData, identity...)
	}

	m.Animations = make([]Animation, 0, len(data.Animations))
	for _, anim := range data.Animations {
		a := Animation{
			Name:        anim.Name,
			FrameMillis: anim.FrameMillis,
			FrameCount:  uint32(len(anim.Frames)),
			jointCount:  uint32(jointCount),
			frameOffset: uint32(len(s.jointData) / 64),
		}
		for _, frame := range anim.Frames {
			for _, joint := range frame {
				s.jointData = append(s.jointData, MarshalMatrix(joint)...)
			}
		}
		m.Animations = append(m.Animations, a)
	}
	return nil
}

func (s *store) Flush() error {
	vertexUsage := gpu.BufferUsageVertex | gpu.BufferUsageStorage | gpu.BufferUsageAccelInput | gpu.BufferUsageDeviceLocal
	if err := s.ensureAndWrite(&s.vertexBuf, s.vertexData, vertexUsage, "vertex"); err != nil {
		return err
	}
	indexUsage := gpu.BufferUsageIndex | gpu.BufferUsageStorage | gpu.BufferUsageAccelInput | gpu.BufferUsageDeviceLocal
	if err := s.ensureAndWrite(&s.indexBuf, s.indexData, indexUsage, "index"); err != nil {
		return err
	}
	storageUsage := gpu.BufferUsageStorage | gpu.BufferUsageDeviceLocal
	if err := s.ensureAndWrite(&s.weightsBuf, s.weightsData, storageUsage, "weights"); err != nil {
		return err
	}
	if err := s.ensureAndWrite(&s.jointBuf, s.jointData, storageUsage, "joint matrix"); err != nil {
		return err
	}

	vertexSize := uint64((&GPUVertex{}).Size())
	for _, m := range s.models {
		for i := range m.Meshes {
			mesh := &m.Meshes[i]
			mesh.VertexAddress = s.vertexBuf.Address() + gpu.DeviceAddress(uint64(mesh.VertexOffset)*vertexSize)
			mesh.IndexAddress = s.indexBuf.Address() + gpu.DeviceAddress(uint64(mesh.IndexOffset)*4)
		}
	}
	return nil
}

// ensureAndWrite grows the target buffer when required and writes the data.
// Capacity carries slack for one skinning workgroup past the end, since
// dispatches round each mesh's vertex count up to the workgroup size and the
// trailing lanes read past the last mesh.
func (s *store) ensureAndWrite(target *gpu.Buffer, data []byte, usage gpu.BufferUsage, label string) error {
	if len(data) == 0 {
		return nil
	}
	required := uint64(len(data))
	const workgroupSlack = 31 * 64
	if *target == nil || (*target).Size() < required+workgroupSlack {
		if *target != nil {
			(*target).Release()
		}
		buf, err := s.device.CreateBuffer(required+workgroupSlack, usage)
		if err != nil {
			return fmt.Errorf("model: create %s buffer: %w", label, err)
		}
		*target = buf
	}
	if err := (*target).Write(0, data); err != nil {
		return fmt.Errorf("model: write %s buffer: %w", label, err)
	}
	return nil
}

func (s *store) Get(id string) (*Model, bool) {
	m, ok := s.byID[id]
	return m, ok
}

func (s *store) Models() []*Model {
	return s.models
}

func (s *store) VertexBuffer() gpu.Buffer {
	return s.vertexBuf
}

func (s *store) IndexBuffer() gpu.Buffer {
	return s.indexBuf
}

func (s *store) WeightsBuffer() gpu.Buffer {
	return s.weightsBuf
}

func (s *store) JointBuffer() gpu.Buffer {
	return s.jointBuf
}

func (s *store) Release() {
	for _, buf := range []gpu.Buffer{s.vertexBuf, s.indexBuf, s.weightsBuf, s.jointBuf} {
		if buf != nil {
			buf.Release()
		}
	}
	s.vertexBuf, s.indexBuf, s.weightsBuf, s.jointBuf = nil, nil, nil, nil
	s.models = nil
	s.byID = map[string]*Model{}
}
