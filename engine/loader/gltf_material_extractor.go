package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// gltfMaterialExtractorImpl is the implementation of the gltfMaterialExtractor interface.
type gltfMaterialExtractorImpl struct {
	parser gltfParser
	logger logger.Logger
}

// gltfMaterialExtractor converts glTF metallic-roughness materials into uber materials
// and decodes their base color textures.
type gltfMaterialExtractor interface {
	// ExtractAllMaterials converts every material of the document. A document without
	// materials yields one default material so that material index 0 is always valid.
	//
	// Returns:
	//   - []scene.Material: one material per document material
	//   - []common.TextureStagingData: decoded textures in slot order
	//   - error: error if a material references a texture that does not exist
	ExtractAllMaterials() ([]scene.Material, []common.TextureStagingData, error)
}

var _ gltfMaterialExtractor = &gltfMaterialExtractorImpl{}

func newGLTFMaterialExtractor(parser gltfParser, l logger.Logger) gltfMaterialExtractor {
	return &gltfMaterialExtractorImpl{parser: parser, logger: l}
}

func (e *gltfMaterialExtractorImpl) ExtractAllMaterials() ([]scene.Material, []common.TextureStagingData, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, nil, fmt.Errorf("no document loaded")
	}
	if len(doc.Materials) == 0 {
		return []scene.Material{defaultMaterial()}, nil, nil
	}

	var textures []common.TextureStagingData
	slots := make(map[int]int32) // image index -> texture slot
	materials := make([]scene.Material, len(doc.Materials))

	for i := range doc.Materials {
		mat := &doc.Materials[i]
		albedo := common.Vec3{1, 1, 1}
		metallic, roughness := float32(1), float32(1)
		slot := scene.NoTexture

		if pbr := mat.PbrMetallicRoughness; pbr != nil {
			if pbr.BaseColorFactor != nil {
				f := *pbr.BaseColorFactor
				albedo = common.Vec3{f[0], f[1], f[2]}
			}
			if pbr.MetallicFactor != nil {
				metallic = *pbr.MetallicFactor
			}
			if pbr.RoughnessFactor != nil {
				roughness = *pbr.RoughnessFactor
			}
			if pbr.BaseColorTexture != nil {
				imageIndex, err := e.imageOf(pbr.BaseColorTexture.Index)
				if err != nil {
					return nil, nil, fmt.Errorf("material %d %q: %w", i, mat.Name, err)
				}
				if s, ok := slots[imageIndex]; ok {
					slot = s
				} else if imageIndex >= 0 {
					data, err := e.decodeImage(imageIndex)
					if err != nil {
						e.logger.Warningf("material %d %q: base color texture dropped: %v", i, mat.Name, err)
					} else {
						slot = int32(len(textures))
						slots[imageIndex] = slot
						textures = append(textures, data)
					}
				}
			}
		}

		materials[i] = scene.UberMaterial(albedo, slot, metallic, roughness)
	}
	return materials, textures, nil
}

// imageOf resolves a texture index to its image index, or -1 for a texture without a source.
func (e *gltfMaterialExtractorImpl) imageOf(textureIndex int) (int, error) {
	doc := e.parser.Document()
	if textureIndex < 0 || textureIndex >= len(doc.Textures) {
		return -1, fmt.Errorf("texture index %d out of range", textureIndex)
	}
	src := doc.Textures[textureIndex].Source
	if src == nil {
		return -1, nil
	}
	if *src < 0 || *src >= len(doc.Images) {
		return -1, fmt.Errorf("image index %d out of range", *src)
	}
	return *src, nil
}

// decodeImage loads an image from a buffer view, a data URI or a file next to the
// document, and decodes it to RGBA.
func (e *gltfMaterialExtractorImpl) decodeImage(imageIndex int) (common.TextureStagingData, error) {
	img := &e.parser.Document().Images[imageIndex]
	tex := &common.ImportedTexture{Name: img.Name, MimeType: img.MimeType}

	switch {
	case img.BufferView != nil:
		data, err := e.parser.ReadBufferView(*img.BufferView)
		if err != nil {
			return common.TextureStagingData{}, fmt.Errorf("failed to read image buffer view: %w", err)
		}
		tex.Data = data
	case strings.HasPrefix(img.URI, "data:"):
		data, mimeType, err := gltfDecodeDataURI(img.URI)
		if err != nil {
			return common.TextureStagingData{}, fmt.Errorf("failed to decode image data URI: %w", err)
		}
		tex.Data = data
		if tex.MimeType == "" {
			tex.MimeType = mimeType
		}
	case img.URI != "":
		tex.Path = filepath.Join(e.parser.BaseDir(), img.URI)
	}
	return tex.Decode()
}
