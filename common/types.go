// Package common holds the plain data types, vector math and helpers shared by the
// engine packages: textures, matrices, AABBs, rays and key codes.
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

// TextureStagingData holds RGBA pixel data for one texture layer pending GPU upload.
// Layers of the scene texture array are staged with this type before the array is
// packed into a single device buffer.
type TextureStagingData struct {
	// Pixels is the RGBA8 pixel data, 4 bytes per pixel, row-major.
	Pixels []byte
	// Width is the width of the texture in pixels.
	Width uint32
	// Height is the height of the texture in pixels.
	Height uint32
}

// ImportedTexture represents texture data referenced by a mesh material.
// For embedded textures (GLB), the Data field contains raw image bytes.
// For external textures, the Path field contains the file path.
type ImportedTexture struct {
	// Name is an identifier for this texture (e.g., "diffuse").
	Name string

	// Path is the file path for external textures (empty for embedded).
	Path string

	// Data contains raw image bytes for embedded textures (PNG/JPEG).
	Data []byte

	// MimeType indicates the image format (e.g., "image/png", "image/jpeg").
	MimeType string
}

// Decode decodes the embedded bytes, or the file at Path, into RGBA8 staging data.
// PNG and JPEG are supported.
//
// Returns:
//   - TextureStagingData: the decoded RGBA pixels and dimensions
//   - error: error if the texture has no source or decoding fails
func (t *ImportedTexture) Decode() (TextureStagingData, error) {
	if t == nil {
		return TextureStagingData{}, fmt.Errorf("texture is nil")
	}

	data := t.Data
	if len(data) == 0 {
		if t.Path == "" {
			return TextureStagingData{}, fmt.Errorf("texture %q has neither data nor path", t.Name)
		}
		var err error
		if data, err = os.ReadFile(t.Path); err != nil {
			return TextureStagingData{}, fmt.Errorf("failed to read texture %s: %w", t.Path, err)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return TextureStagingData{}, fmt.Errorf("failed to decode texture %q: %w", t.Name, err)
	}

	// normalize every source format to tightly packed RGBA8 starting at (0,0)
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	return TextureStagingData{
		Pixels: rgba.Pix,
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
	}, nil
}
