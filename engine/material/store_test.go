package material

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/calyx3d/calyx/common"
	"github.com/calyx3d/calyx/engine/gpu/gputest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg common.Config) (Store, *gputest.Device) {
	t.Helper()
	dev := gputest.NewDevice()
	s, err := NewStore(dev, cfg)
	require.NoError(t, err)
	return s, dev
}

func TestRegisterAssignsDenseIndices(t *testing.T) {
	s, _ := newTestStore(t, common.DefaultConfig())

	red := s.Register(Material{ID: "red", DiffuseColor: [4]float32{1, 0, 0, 1}})
	blue := s.Register(Material{ID: "blue", DiffuseColor: [4]float32{0, 0, 1, 1}})

	assert.Equal(t, uint32(1), red)
	assert.Equal(t, uint32(2), blue)
	assert.Equal(t, 3, s.Count())
}

func TestRegisterIsIdempotentPerID(t *testing.T) {
	s, _ := newTestStore(t, common.DefaultConfig())

	first := s.Register(Material{ID: "wood"})
	second := s.Register(Material{ID: "wood"})

	assert.Equal(t, first, second)
	assert.Equal(t, 2, s.Count())
}

func TestRegisterPastLimitFallsBackToDefault(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.MaxMaterials = 2
	s, _ := newTestStore(t, cfg)

	s.Register(Material{ID: "a"})
	overflow := s.Register(Material{ID: "b"})

	assert.Equal(t, uint32(0), overflow)
	assert.Equal(t, 2, s.Count())
}

func TestIndexOfUnknownReturnsDefault(t *testing.T) {
	s, _ := newTestStore(t, common.DefaultConfig())

	assert.Equal(t, uint32(0), s.IndexOf("missing"))
	assert.Equal(t, uint32(0), s.IndexOf(DefaultID))
}

func TestRegisterTextureInternsAndLimits(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.MaxTextures = 1
	s, _ := newTestStore(t, cfg)

	first := s.RegisterTexture("albedo.png")
	again := s.RegisterTexture("albedo.png")
	overflow := s.RegisterTexture("normal.png")

	assert.Equal(t, uint32(0), first)
	assert.Equal(t, first, again)
	assert.Equal(t, NoTexture, overflow)
	assert.Equal(t, NoTexture, s.RegisterTexture(""))
}

func TestUploadMarshalsRecords(t *testing.T) {
	s, dev := newTestStore(t, common.DefaultConfig())

	tex := s.RegisterTexture("crate.png")
	idx := s.Register(Material{
		ID:              "crate",
		DiffuseColor:    [4]float32{0.5, 0.25, 0.125, 1},
		Texture:         "crate.png",
		RoughnessFactor: 0.75,
	})
	require.NoError(t, s.Upload())

	recordSize := (&GPUMaterial{}).Size()
	assert.Equal(t, 48, recordSize)

	buf := dev.Buffers[0]
	record := buf.Data[int(idx)*recordSize:]
	assert.Equal(t, math.Float32bits(0.5), binary.LittleEndian.Uint32(record[0:4]))
	assert.Equal(t, math.Float32bits(1), binary.LittleEndian.Uint32(record[12:16]))
	assert.Equal(t, tex, binary.LittleEndian.Uint32(record[16:20]))
	assert.Equal(t, NoTexture, binary.LittleEndian.Uint32(record[20:24]))
	assert.Equal(t, math.Float32bits(0.75), binary.LittleEndian.Uint32(record[28:32]))
}
