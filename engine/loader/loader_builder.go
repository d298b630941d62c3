package loader

// LoaderBuilderOption is a functional option applied to a loader during
// construction via NewLoader.
type LoaderBuilderOption func(*loader)

// WithWorkers sets the worker count of the mesh decode pool. Defaults to
// NumCPU-1.
//
// Parameters:
//   - workers: the number of pool workers, minimum 1
//
// Returns:
//   - LoaderBuilderOption: option function to apply
func WithWorkers(workers int) LoaderBuilderOption {
	return func(l *loader) {
		l.workers = max(workers, 1)
	}
}

// WithSampleRate sets the animation sampling rate in frames per second.
// Clips are baked to joint matrices at this rate regardless of the source
// keyframe spacing. Defaults to 30.
//
// Parameters:
//   - fps: frames per second, minimum 1
//
// Returns:
//   - LoaderBuilderOption: option function to apply
func WithSampleRate(fps float32) LoaderBuilderOption {
	return func(l *loader) {
		if fps >= 1 {
			l.sampleRate = fps
		}
	}
}
