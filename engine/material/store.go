// Package material maintains the global material table: a dense, append-only
// list of materials mirrored into a single GPU storage buffer. Instance
// records reference materials by dense index, so indices assigned here are
// stable for the lifetime of the store.
package material

import (
	"fmt"
	"log/slog"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu"
)

// NoTexture marks a texture slot as unused in a GPUMaterial record.
const NoTexture = ^uint32(0)

// DefaultID is the identifier of the fallback material registered at index 0.
const DefaultID = "default"

// Material describes one material by stable string identifier. Texture fields
// name previously registered textures; empty means untextured.
type Material struct {
	ID              string
	DiffuseColor    [4]float32
	Texture         string
	NormalMap       string
	MetalRoughMap   string
	RoughnessFactor float32
	MetallicFactor  float32
}

// Store is the global material table.
type Store interface {
	// Register adds a material and returns its dense index. Registering past
	// the configured maximum logs a warning and returns the default material
	// index instead of growing the table.
	//
	// Parameters:
	//   - mat: the material to add
	//
	// Returns:
	//   - uint32: the dense index assigned to the material
	Register(mat Material) uint32

	// IndexOf resolves a material identifier to its dense index. Unknown
	// identifiers resolve to the default material with a logged warning.
	//
	// Parameters:
	//   - id: the material identifier to resolve
	//
	// Returns:
	//   - uint32: the dense index of the material
	IndexOf(id string) uint32

	// RegisterTexture interns a texture path and returns its index for use in
	// GPUMaterial records. Registering past the configured maximum logs a
	// warning and returns NoTexture.
	//
	// Parameters:
	//   - path: the texture path to intern
	//
	// Returns:
	//   - uint32: the texture index, or NoTexture
	RegisterTexture(path string) uint32

	// Count returns the number of registered materials.
	//
	// Returns:
	//   - int: the material count
	Count() int

	// Buffer returns the GPU buffer holding the marshalled material table.
	//
	// Returns:
	//   - gpu.Buffer: the material buffer
	Buffer() gpu.Buffer

	// Upload writes the marshalled material table to the GPU buffer. Call
	// after a batch of Register calls, before rendering.
	//
	// Returns:
	//   - error: an error if the buffer write fails
	Upload() error

	// Release frees the GPU buffer.
	Release()
}

type store struct {
	device gpu.Device
	cfg    common.Config

	materials []Material
	indexByID map[string]uint32
	textures  []string
	texIndex  map[string]uint32

	buffer gpu.Buffer
}

var _ Store = &store{}

// NewStore creates the material table with the default material at index 0
// and a fixed-capacity GPU buffer sized for cfg.MaxMaterials.
//
// Parameters:
//   - device: the GPU device, must not be nil
//   - cfg: engine configuration supplying material and texture limits
//
// Returns:
//   - Store: the constructed store
//   - error: an error if the GPU buffer cannot be created
func NewStore(device gpu.Device, cfg common.Config) (Store, error) {
	if device == nil {
		panic("material: device is required")
	}
	cfg = cfg.Clamped()

	recordSize := (&GPUMaterial{}).Size()
	buffer, err := device.CreateBuffer(uint64(cfg.MaxMaterials*recordSize), gpu.BufferUsageStorage)
	if err != nil {
		return nil, fmt.Errorf("material: create buffer: %w", err)
	}

	s := &store{
		device:    device,
		cfg:       cfg,
		materials: make([]Material, 0, cfg.MaxMaterials),
		indexByID: make(map[string]uint32, cfg.MaxMaterials),
		texIndex:  make(map[string]uint32, cfg.MaxTextures),
		buffer:    buffer,
	}
	s.Register(Material{
		ID:              DefaultID,
		DiffuseColor:    [4]float32{1, 0, 1, 1},
		RoughnessFactor: 1,
	})
	return s, nil
}

func (s *store) Register(mat Material) uint32 {
	if idx, ok := s.indexByID[mat.ID]; ok {
		return idx
	}
	if len(s.materials) >= s.cfg.MaxMaterials {
		slog.Warn("material: table full, substituting default",
			"id", mat.ID, "max", s.cfg.MaxMaterials)
		return 0
	}
	idx := uint32(len(s.materials))
	s.materials = append(s.materials, mat)
	s.indexByID[mat.ID] = idx
	return idx
}

func (s *store) IndexOf(id string) uint32 {
	if idx, ok := s.indexByID[id]; ok {
		return idx
	}
	slog.Warn("material: unknown id, substituting default", "id", id)
	return 0
}

func (s *store) RegisterTexture(path string) uint32 {
	if path == "" {
		return NoTexture
	}
	if idx, ok := s.texIndex[path]; ok {
		return idx
	}
	if len(s.textures) >= s.cfg.MaxTextures {
		slog.Warn("material: texture table full, dropping texture",
			"path", path, "max", s.cfg.MaxTextures)
		return NoTexture
	}
	idx := uint32(len(s.textures))
	s.textures = append(s.textures, path)
	s.texIndex[path] = idx
	return idx
}

func (s *store) Count() int {
	return len(s.materials)
}

func (s *store) Buffer() gpu.Buffer {
	return s.buffer
}

func (s *store) Upload() error {
	recordSize := (&GPUMaterial{}).Size()
	data := make([]byte, 0, len(s.materials)*recordSize)
	for i := range s.materials {
		m := &s.materials[i]
		record := GPUMaterial{
			DiffuseColor:    m.DiffuseColor,
			TextureIdx:      s.textureIndexOf(m.Texture),
			NormalMapIdx:    s.textureIndexOf(m.NormalMap),
			MetalRoughIdx:   s.textureIndexOf(m.MetalRoughMap),
			RoughnessFactor: m.RoughnessFactor,
			MetallicFactor:  m.MetallicFactor,
		}
		data = append(data, record.Marshal()...)
	}
	return s.buffer.Write(0, data)
}

// textureIndexOf resolves without registering; textures are interned at load
// time via RegisterTexture.
func (s *store) textureIndexOf(path string) uint32 {
	if path == "" {
		return NoTexture
	}
	if idx, ok := s.texIndex[path]; ok {
		return idx
	}
	return NoTexture
}

func (s *store) Release() {
	if s.buffer != nil {
		s.buffer.Release()
		s.buffer = nil
	}
}
