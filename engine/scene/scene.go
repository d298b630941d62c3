// Package scene tracks the entities to render each frame. Transform and
// animation updates stamp entities with a monotonic scene clock, which lets
// the per-frame GPU passes skip work for entities that have not moved.
package scene

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// AnimationState is an entity's position in its model's animation set.
type AnimationState struct {
	// Index selects the clip within the model's animations.
	Index int
	// Frame is the current frame within the clip.
	Frame uint32
	// Started gates the skinning dispatch; entities with Started false render
	// in bind pose.
	Started bool

	accMillis float32
}

// Entity is one renderable instance of a model. Entities are created through
// Scene.Spawn and must not be shared across scenes.
type Entity struct {
	id      string
	modelID string

	transform   mgl32.Mat4
	animation   AnimationState
	lastUpdated uint64

	scene *sceneImpl
}

// ID returns the entity identifier.
//
// Returns:
//   - string: the identifier
func (e *Entity) ID() string {
	return e.id
}

// ModelID returns the identifier of the model this entity instantiates.
//
// Returns:
//   - string: the model identifier
func (e *Entity) ModelID() string {
	return e.modelID
}

// Transform returns the entity's model matrix.
//
// Returns:
//   - mgl32.Mat4: the current transform
func (e *Entity) Transform() mgl32.Mat4 {
	e.scene.mu.RLock()
	defer e.scene.mu.RUnlock()
	return e.transform
}

// SetTransform replaces the entity's model matrix and stamps the entity with
// the current scene clock.
//
// Parameters:
//   - m: the new transform
func (e *Entity) SetTransform(m mgl32.Mat4) {
	e.scene.mu.Lock()
	defer e.scene.mu.Unlock()
	e.transform = m
	e.lastUpdated = e.scene.tick()
}

// Animation returns the entity's animation state.
//
// Returns:
//   - AnimationState: the current state
func (e *Entity) Animation() AnimationState {
	e.scene.mu.RLock()
	defer e.scene.mu.RUnlock()
	return e.animation
}

// StartAnimation selects a clip and starts playback from frame zero.
//
// Parameters:
//   - index: the clip index within the entity's model
func (e *Entity) StartAnimation(index int) {
	e.scene.mu.Lock()
	defer e.scene.mu.Unlock()
	e.animation = AnimationState{Index: index, Started: true}
	e.lastUpdated = e.scene.tick()
}

// StopAnimation halts playback; the entity renders in bind pose afterwards.
func (e *Entity) StopAnimation() {
	e.scene.mu.Lock()
	defer e.scene.mu.Unlock()
	e.animation.Started = false
	e.lastUpdated = e.scene.tick()
}

// AdvanceAnimation accumulates elapsed time and steps the current frame,
// wrapping at frameCount. No-op for entities that are not playing.
//
// Parameters:
//   - elapsedMillis: time since the previous advance
//   - frameMillis: duration of one frame of the current clip
//   - frameCount: frame count of the current clip
func (e *Entity) AdvanceAnimation(elapsedMillis, frameMillis float32, frameCount uint32) {
	e.scene.mu.Lock()
	defer e.scene.mu.Unlock()
	if !e.animation.Started || frameMillis <= 0 || frameCount == 0 {
		return
	}
	e.animation.accMillis += elapsedMillis
	advanced := false
	for e.animation.accMillis >= frameMillis {
		e.animation.accMillis -= frameMillis
		e.animation.Frame = (e.animation.Frame + 1) % frameCount
		advanced = true
	}
	if advanced {
		e.lastUpdated = e.scene.tick()
	}
}

// LastUpdated returns the scene clock value of the entity's most recent
// transform or animation change. Values only grow.
//
// Returns:
//   - uint64: the stamp, zero for never-updated entities
func (e *Entity) LastUpdated() uint64 {
	e.scene.mu.RLock()
	defer e.scene.mu.RUnlock()
	return e.lastUpdated
}

// Scene is the set of live entities. A scene and its entities are safe for
// concurrent use.
type Scene interface {
	// Spawn creates an entity for the given model with an identity transform.
	//
	// Parameters:
	//   - id: unique entity identifier
	//   - modelID: identifier of a registered model
	//
	// Returns:
	//   - *Entity: the created entity
	//   - error: an error if the id is already in use
	Spawn(id, modelID string) (*Entity, error)

	// Despawn removes an entity. Removing an unknown id is a no-op.
	//
	// Parameters:
	//   - id: the entity identifier
	Despawn(id string)

	// Entity looks up an entity by identifier.
	//
	// Parameters:
	//   - id: the entity identifier
	//
	// Returns:
	//   - *Entity: the entity, or nil
	//   - bool: true when the entity exists
	Entity(id string) (*Entity, bool)

	// EntitiesOf returns the entities of one model in spawn order.
	//
	// Parameters:
	//   - modelID: the model identifier
	//
	// Returns:
	//   - []*Entity: the entities, possibly empty
	EntitiesOf(modelID string) []*Entity

	// Count returns the number of live entities.
	//
	// Returns:
	//   - int: the entity count
	Count() int

	// Revision returns a counter bumped on every Spawn and Despawn. The
	// acceleration structure manager uses it to detect entity-set changes.
	//
	// Returns:
	//   - uint64: the current revision
	Revision() uint64

	// Clock returns the current value of the monotonic update clock.
	//
	// Returns:
	//   - uint64: the clock value
	Clock() uint64
}

type sceneImpl struct {
	// mu guards the entity maps, the clocks, and every entity's mutable
	// state; entities share their scene's lock so the tick and render
	// goroutines never observe half-written updates.
	mu sync.RWMutex

	entities map[string]*Entity
	byModel  map[string][]*Entity

	clock    uint64
	revision uint64
}

var _ Scene = &sceneImpl{}

// New creates an empty scene.
//
// Returns:
//   - Scene: the constructed scene
func New() Scene {
	return &sceneImpl{
		entities: make(map[string]*Entity),
		byModel:  make(map[string][]*Entity),
	}
}

// tick advances the update clock. Caller must hold the write lock.
func (s *sceneImpl) tick() uint64 {
	s.clock++
	return s.clock
}

func (s *sceneImpl) Spawn(id, modelID string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[id]; exists {
		return nil, fmt.Errorf("scene: entity %q already exists", id)
	}
	e := &Entity{
		id:        id,
		modelID:   modelID,
		transform: mgl32.Ident4(),
		scene:     s,
	}
	e.lastUpdated = s.tick()
	s.entities[id] = e
	s.byModel[modelID] = append(s.byModel[modelID], e)
	s.revision++
	return e, nil
}

func (s *sceneImpl) Despawn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return
	}
	delete(s.entities, id)
	list := s.byModel[e.modelID]
	for i, candidate := range list {
		if candidate == e {
			s.byModel[e.modelID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.revision++
}

func (s *sceneImpl) Entity(id string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

func (s *sceneImpl) EntitiesOf(modelID string) []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byModel[modelID]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Entity, len(list))
	copy(out, list)
	return out
}

func (s *sceneImpl) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func (s *sceneImpl) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

func (s *sceneImpl) Clock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}
