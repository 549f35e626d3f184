package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// gltfPrimitiveData is one triangle primitive in the mesh's own space.
type gltfPrimitiveData struct {
	Positions []common.Vec3
	// Normals is nil when the primitive has no NORMAL attribute.
	Normals   []common.Vec3
	TexCoords []common.Vec2
	Indices   []uint32
	// Material is the document material index, or -1.
	Material int
}

// gltfMeshExtractorImpl is the implementation of the gltfMeshExtractor interface.
type gltfMeshExtractorImpl struct {
	parser gltfParser
}

// gltfMeshExtractor reads the primitives of glTF meshes.
type gltfMeshExtractor interface {
	// ExtractMesh returns every primitive of one mesh.
	//
	// Parameters:
	//   - meshIndex: the index of the mesh in the document
	//
	// Returns:
	//   - []gltfPrimitiveData: one entry per primitive
	//   - error: error if extraction fails
	ExtractMesh(meshIndex int) ([]gltfPrimitiveData, error)
}

var _ gltfMeshExtractor = &gltfMeshExtractorImpl{}

func newGLTFMeshExtractor(parser gltfParser) gltfMeshExtractor {
	return &gltfMeshExtractorImpl{parser: parser}
}

func (e *gltfMeshExtractorImpl) ExtractMesh(meshIndex int) ([]gltfPrimitiveData, error) {
	doc := e.parser.Document()
	if doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	if meshIndex < 0 || meshIndex >= len(doc.Meshes) {
		return nil, fmt.Errorf("mesh index %d out of range", meshIndex)
	}

	mesh := &doc.Meshes[meshIndex]
	result := make([]gltfPrimitiveData, 0, len(mesh.Primitives))
	for primIdx := range mesh.Primitives {
		prim, err := e.extractPrimitive(&mesh.Primitives[primIdx])
		if err != nil {
			return nil, fmt.Errorf("mesh %d primitive %d: %w", meshIndex, primIdx, err)
		}
		result = append(result, prim)
	}
	return result, nil
}

func (e *gltfMeshExtractorImpl) extractPrimitive(prim *gltfPrimitive) (gltfPrimitiveData, error) {
	out := gltfPrimitiveData{Material: -1}
	if prim.Mode != nil && *prim.Mode != gltfPrimitiveModeTriangles {
		return out, fmt.Errorf("unsupported primitive mode: %d (only triangles supported)", *prim.Mode)
	}

	posAccessor, ok := prim.Attributes["POSITION"]
	if !ok {
		return out, fmt.Errorf("primitive has no POSITION attribute")
	}
	raw, err := e.parser.ReadFloats(posAccessor, gltfAccessorTypeVec3)
	if err != nil {
		return out, fmt.Errorf("failed to read positions: %w", err)
	}
	out.Positions = toVec3(raw)
	count := len(out.Positions)

	if acc, ok := prim.Attributes["NORMAL"]; ok {
		raw, err := e.parser.ReadFloats(acc, gltfAccessorTypeVec3)
		if err != nil {
			return out, fmt.Errorf("failed to read normals: %w", err)
		}
		if out.Normals = toVec3(raw); len(out.Normals) != count {
			return out, fmt.Errorf("%d normals for %d positions", len(out.Normals), count)
		}
	}

	out.TexCoords = make([]common.Vec2, count)
	if acc, ok := prim.Attributes["TEXCOORD_0"]; ok {
		raw, err := e.parser.ReadFloats(acc, gltfAccessorTypeVec2)
		if err != nil {
			return out, fmt.Errorf("failed to read texcoords: %w", err)
		}
		for i := 0; i < count && 2*i+1 < len(raw); i++ {
			out.TexCoords[i] = common.Vec2{raw[2*i], raw[2*i+1]}
		}
	}

	if prim.Indices != nil {
		if out.Indices, err = e.parser.ReadIndices(*prim.Indices); err != nil {
			return out, fmt.Errorf("failed to read indices: %w", err)
		}
	} else {
		out.Indices = make([]uint32, count)
		for i := range out.Indices {
			out.Indices[i] = uint32(i)
		}
	}
	if len(out.Indices)%3 != 0 {
		return out, fmt.Errorf("index count %d is not a multiple of 3", len(out.Indices))
	}
	for _, idx := range out.Indices {
		if int(idx) >= count {
			return out, fmt.Errorf("index %d outside %d vertices", idx, count)
		}
	}

	if prim.Material != nil {
		out.Material = *prim.Material
	}
	return out, nil
}

func toVec3(raw []float32) []common.Vec3 {
	out := make([]common.Vec3, len(raw)/3)
	for i := range out {
		out[i] = common.Vec3{raw[3*i], raw[3*i+1], raw[3*i+2]}
	}
	return out
}
