package renderer

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithSkinningShader supplies the compiled SPIR-V for the skinning compute
// shader. Required; NewRenderer fails without it. The GLSL source the blob is
// compiled from is skinning.ShaderSource.
//
// Parameters:
//   - spirv: the compiled shader bytes
//
// Returns:
//   - RendererBuilderOption: a function that applies the shader option to a renderer
func WithSkinningShader(spirv []byte) RendererBuilderOption {
	return func(r *renderer) {
		r.skinningSPIRV = spirv
	}
}

// WithoutAccelerationStructures disables acceleration structure management
// even when the device supports ray tracing.
//
// Returns:
//   - RendererBuilderOption: a function that applies the option to a renderer
func WithoutAccelerationStructures() RendererBuilderOption {
	return func(r *renderer) {
		r.disableAccel = true
	}
}
