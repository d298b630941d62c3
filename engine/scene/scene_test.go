package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnAndDespawn(t *testing.T) {
	s := New()

	a, err := s.Spawn("a", "cube")
	require.NoError(t, err)
	_, err = s.Spawn("b", "cube")
	require.NoError(t, err)
	_, err = s.Spawn("a", "cube")
	assert.Error(t, err)

	assert.Equal(t, 2, s.Count())
	assert.Equal(t, mgl32.Ident4(), a.Transform())

	rev := s.Revision()
	s.Despawn("a")
	assert.Equal(t, 1, s.Count())
	assert.Greater(t, s.Revision(), rev)

	// Unknown id is a no-op.
	s.Despawn("a")
	assert.Equal(t, 1, s.Count())
}

func TestEntitiesOfPreservesSpawnOrder(t *testing.T) {
	s := New()
	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := s.Spawn(id, "cube")
		require.NoError(t, err)
	}
	_, err := s.Spawn("other", "sphere")
	require.NoError(t, err)

	cubes := s.EntitiesOf("cube")
	require.Len(t, cubes, 3)
	assert.Equal(t, "e1", cubes[0].ID())
	assert.Equal(t, "e3", cubes[2].ID())
	assert.Empty(t, s.EntitiesOf("missing"))
}

func TestUpdateStampsAreMonotonic(t *testing.T) {
	s := New()
	a, err := s.Spawn("a", "cube")
	require.NoError(t, err)
	b, err := s.Spawn("b", "cube")
	require.NoError(t, err)

	first := a.LastUpdated()
	a.SetTransform(mgl32.Translate3D(1, 0, 0))
	second := a.LastUpdated()
	assert.Greater(t, second, first)
	assert.Greater(t, second, b.LastUpdated())

	b.StartAnimation(0)
	assert.Greater(t, b.LastUpdated(), second)
	assert.Equal(t, s.Clock(), b.LastUpdated())
}

func TestAdvanceAnimation(t *testing.T) {
	s := New()
	e, err := s.Spawn("a", "soldier")
	require.NoError(t, err)

	// Not started: no frame movement, no stamp change.
	stamp := e.LastUpdated()
	e.AdvanceAnimation(100, 33.3, 4)
	assert.Equal(t, uint32(0), e.Animation().Frame)
	assert.Equal(t, stamp, e.LastUpdated())

	e.StartAnimation(1)
	assert.Equal(t, AnimationState{Index: 1, Started: true}, e.Animation())

	// 70ms at 33.3ms per frame steps two frames.
	e.AdvanceAnimation(70, 33.3, 4)
	assert.Equal(t, uint32(2), e.Animation().Frame)

	// Wraps at the clip length.
	e.AdvanceAnimation(70, 33.3, 4)
	assert.Equal(t, uint32(0), e.Animation().Frame)

	e.StopAnimation()
	e.AdvanceAnimation(70, 33.3, 4)
	assert.Equal(t, uint32(0), e.Animation().Frame)
	assert.False(t, e.Animation().Started)
}
