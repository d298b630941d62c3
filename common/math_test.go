package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, uint32(0), CeilDiv(0, 32))
	assert.Equal(t, uint32(1), CeilDiv(1, 32))
	assert.Equal(t, uint32(1), CeilDiv(32, 32))
	assert.Equal(t, uint32(2), CeilDiv(33, 32))
}

func TestMul4Identity(t *testing.T) {
	var ident, m, out [16]float32
	Identity(ident[:])
	BuildModelMatrix(m[:], 1, 2, 3, 0.4, 0.5, 0.6, 2, 2, 2)

	Mul4(out[:], ident[:], m[:])
	assert.Equal(t, m, out)
}

func TestMul4AllowsAliasedOutput(t *testing.T) {
	var a, b, want [16]float32
	BuildModelMatrix(a[:], 1, 0, 0, 0, 0.5, 0, 1, 1, 1)
	BuildModelMatrix(b[:], 0, 2, 0, 0.25, 0, 0, 1, 1, 1)

	Mul4(want[:], a[:], b[:])
	Mul4(a[:], a[:], b[:])
	assert.Equal(t, want, a)
}

func TestInvert4Roundtrip(t *testing.T) {
	var m, inv, out, ident [16]float32
	BuildModelMatrix(m[:], 3, -1, 4, 0.3, 1.1, -0.2, 1.5, 1.5, 1.5)
	Identity(ident[:])

	require.True(t, Invert4(inv[:], m[:]))
	Mul4(out[:], m[:], inv[:])
	for i := range out {
		assert.InDelta(t, float64(ident[i]), float64(out[i]), 1e-4)
	}
}

func TestInvert4RejectsSingular(t *testing.T) {
	var zero, out [16]float32
	assert.False(t, Invert4(out[:], zero[:]))
}

func TestTransform3x4Transposes(t *testing.T) {
	var m [16]float32
	BuildModelMatrix(m[:], 7, 8, 9, 0, 0, 0, 1, 1, 1)

	rows := Transform3x4(m[:])
	// Translation lands in the last column of each row.
	assert.Equal(t, float32(7), rows[3])
	assert.Equal(t, float32(8), rows[7])
	assert.Equal(t, float32(9), rows[11])
	// Upper-left block is identity for a pure translation.
	assert.Equal(t, float32(1), rows[0])
	assert.Equal(t, float32(1), rows[5])
	assert.Equal(t, float32(1), rows[10])
}

func TestBuildModelMatrixTranslationAndScale(t *testing.T) {
	var m [16]float32
	BuildModelMatrix(m[:], 5, 6, 7, 0, 0, 0, 2, 3, 4)

	assert.Equal(t, float32(2), m[0])
	assert.Equal(t, float32(3), m[5])
	assert.Equal(t, float32(4), m[10])
	assert.Equal(t, float32(5), m[12])
	assert.Equal(t, float32(6), m[13])
	assert.Equal(t, float32(7), m[14])
	assert.Equal(t, float32(1), m[15])
}

func TestLookAtPlacesEyeAtOriginOfViewSpace(t *testing.T) {
	var view [16]float32
	LookAt(view[:], 0, 0, 5, 0, 0, 0, 0, 1, 0)

	// Transforming the eye point must yield the view-space origin.
	x := view[0]*0 + view[4]*0 + view[8]*5 + view[12]
	y := view[1]*0 + view[5]*0 + view[9]*5 + view[13]
	z := view[2]*0 + view[6]*0 + view[10]*5 + view[14]
	assert.InDelta(t, 0, float64(x), 1e-5)
	assert.InDelta(t, 0, float64(y), 1e-5)
	assert.InDelta(t, 0, float64(z), 1e-5)
}

func TestPerspectiveVulkanClipSpace(t *testing.T) {
	var proj [16]float32
	Perspective(proj[:], float32(math.Pi/2), 2, 0.1, 100)

	f := float32(1) / float32(math.Tan(math.Pi/4))
	assert.InDelta(t, float64(f/2), float64(proj[0]), 1e-5)
	// Y flips for Vulkan's downward clip-space Y.
	assert.InDelta(t, float64(-f), float64(proj[5]), 1e-5)
}

func TestSliceToBytesLength(t *testing.T) {
	data := []uint32{1, 2, 3}
	b := SliceToBytes(data)
	require.Len(t, b, 12)
	assert.Equal(t, byte(1), b[0])

	assert.Nil(t, SliceToBytes[uint32](nil))
}
