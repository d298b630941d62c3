// Package loader imports glTF/GLB model files into the model and material
// stores. Mesh primitives are decoded in parallel on a shared worker pool;
// animation clips are sampled on the CPU into the per-frame joint matrices
// the skinning pass consumes.
package loader

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/calyx3d/calyx/engine/material"
	"github.com/calyx3d/calyx/engine/model"
)

// loader is the implementation of the Loader interface.
type loader struct {
	mu sync.Mutex

	models    model.Store
	materials material.Store

	pool    worker.DynamicWorkerPool
	workers int

	// sampleRate is the animation sampling rate in frames per second.
	sampleRate float32

	modelCache map[string]*model.Model
}

// Loader imports and caches 3D models. Materials found in a file are
// registered into the material store; the produced model is registered into
// the model store. Call Commit once after a batch of Loads, before spawning
// entities, so the consolidated geometry buffers are uploaded.
type Loader interface {
	// Load imports a glTF or GLB file and registers its contents. If the
	// file was already loaded (by path), the cached model is returned.
	//
	// Parameters:
	//   - path: the file path to the model file (.gltf or .glb)
	//
	// Returns:
	//   - *model.Model: the registered model
	//   - error: error if parsing or registration fails
	Load(path string) (*model.Model, error)

	// Commit uploads everything registered since the last commit to the
	// GPU: the consolidated geometry buffers and the material table.
	//
	// Returns:
	//   - error: error if a buffer upload fails
	Commit() error
}

var _ Loader = &loader{}

// NewLoader creates a Loader writing into the given stores.
//
// Parameters:
//   - models: the model store, must not be nil
//   - materials: the material store, must not be nil
//   - options: functional options to configure the loader
//
// Returns:
//   - Loader: the newly created loader
func NewLoader(models model.Store, materials material.Store, options ...LoaderBuilderOption) Loader {
	if models == nil {
		panic("loader: model store is required")
	}
	if materials == nil {
		panic("loader: material store is required")
	}
	l := &loader{
		models:     models,
		materials:  materials,
		workers:    max(runtime.NumCPU()-1, 1),
		sampleRate: 30,
		modelCache: make(map[string]*model.Model),
	}
	for _, option := range options {
		option(l)
	}
	// Queue size of 64 accommodates typical per-file primitive counts with headroom.
	l.pool = worker.NewDynamicWorkerPool(l.workers, 64, 1*time.Second)
	return l
}

func (l *loader) Load(path string) (*model.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.modelCache[path]; ok {
		return cached, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
	default:
		return nil, fmt.Errorf("loader: unsupported model format %q", filepath.Ext(path))
	}

	start := time.Now()
	data, err := l.importGLTF(path)
	if err != nil {
		return nil, err
	}

	m, err := l.models.Register(data)
	if err != nil {
		return nil, fmt.Errorf("loader: register %q: %w", path, err)
	}
	l.modelCache[path] = m
	slog.Info("loader: imported model",
		"path", path, "meshes", len(m.Meshes), "animations", len(m.Animations),
		"elapsed", time.Since(start))
	return m, nil
}

func (l *loader) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.models.Flush(); err != nil {
		return err
	}
	return l.materials.Upload()
}
