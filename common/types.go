// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Config holds engine-wide limits and tunables. It is built once by the host
// application and passed explicitly into every constructor that needs it —
// there is no global configuration state.
type Config struct {
	// FramesInFlight is the number of per-frame resource slots cycled by the
	// frame ring. Two or three is typical; values outside [1, 4] are clamped.
	FramesInFlight int

	// MaxMaterials is the size of the shader-visible material array. Registering
	// more materials than this logs a warning and falls back to the default
	// material index rather than failing.
	MaxMaterials int

	// MaxTextures is the size of the bindless texture array. Exceeding it logs
	// a warning and pads with the default texture.
	MaxTextures int

	// RayTracing requests acceleration-structure support from the device.
	// When set and the device does not support ray tracing, device creation fails.
	RayTracing bool
}

// DefaultConfig returns a Config populated with the engine defaults.
//
// Returns:
//   - Config: frames in flight 3, 256 materials, 128 textures, ray tracing off
func DefaultConfig() Config {
	return Config{
		FramesInFlight: 3,
		MaxMaterials:   256,
		MaxTextures:    128,
	}
}

// Clamped returns a copy of the Config with out-of-range values brought back
// into their supported ranges.
//
// Returns:
//   - Config: the sanitized configuration
func (c Config) Clamped() Config {
	if c.FramesInFlight < 1 {
		c.FramesInFlight = 1
	}
	if c.FramesInFlight > 4 {
		c.FramesInFlight = 4
	}
	if c.MaxMaterials <= 0 {
		c.MaxMaterials = 256
	}
	if c.MaxTextures <= 0 {
		c.MaxTextures = 128
	}
	return c
}

// ImportedMaterial represents material properties from an imported model file.
type ImportedMaterial struct {
	// Name is the material identifier.
	Name string

	// BaseColor is the albedo/diffuse color (RGBA).
	BaseColor [4]float32

	// Metallic factor (0.0 = dielectric, 1.0 = metal).
	Metallic float32

	// Roughness factor (0.0 = smooth, 1.0 = rough).
	Roughness float32

	// DiffuseTexturePath is the file path for the diffuse/albedo texture.
	DiffuseTexturePath string

	// NormalTexturePath is the file path for the normal map texture.
	NormalTexturePath string

	// MetallicTexturePath is the file path for the metallic-roughness texture.
	MetallicTexturePath string

	// DiffuseTexture holds embedded texture data (if present).
	DiffuseTexture *ImportedTexture

	// NormalTexture holds embedded normal map data (if present).
	NormalTexture *ImportedTexture

	// MetallicRoughnessTexture holds embedded metallic/roughness data (if present).
	MetallicRoughnessTexture *ImportedTexture
}

// ImportedTexture represents texture data extracted from a model file.
// For embedded textures (GLB), the Data field contains raw image bytes.
// For external textures, the Path field contains the file path.
type ImportedTexture struct {
	// Name is an identifier for this texture (e.g., "diffuse", "normal").
	Name string

	// Path is the file path for external textures (empty for embedded).
	Path string

	// Data contains raw image bytes for embedded textures (PNG/JPEG).
	Data []byte

	// MimeType indicates the image format (e.g., "image/png", "image/jpeg").
	MimeType string

	// Width is the texture width in pixels (populated after Decode).
	Width int

	// Height is the texture height in pixels (populated after Decode).
	Height int
}

// Decode decodes the texture to raw RGBA pixel data.
// Uses either embedded Data bytes or loads from Path on disk.
// Supports PNG and JPEG formats.
// Reference: https://pkg.go.dev/image
//
// Returns:
//   - []byte: raw RGBA pixel data (4 bytes per pixel, row-major order)
//   - uint32: texture width in pixels
//   - uint32: texture height in pixels
//   - error: error if decoding fails
func (t *ImportedTexture) Decode() ([]byte, uint32, uint32, error) {
	if t == nil {
		return nil, 0, 0, fmt.Errorf("texture is nil")
	}

	var img image.Image
	var err error

	if len(t.Data) > 0 {
		img, _, err = image.Decode(bytes.NewReader(t.Data))
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to decode embedded image: %w", err)
		}
	} else if t.Path != "" {
		file, fileErr := os.Open(t.Path)
		if fileErr != nil {
			return nil, 0, 0, fmt.Errorf("failed to open texture file %s: %w", t.Path, fileErr)
		}
		defer file.Close()

		img, _, err = image.Decode(file)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to decode texture file %s: %w", t.Path, err)
		}
	} else {
		return nil, 0, 0, fmt.Errorf("texture has neither data nor path")
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	t.Width = width
	t.Height = height

	return rgba.Pix, uint32(width), uint32(height), nil
}
