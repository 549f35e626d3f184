package loader

import (
	"fmt"
	"io"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// gltfImporterImpl is the implementation of the gltfImporter interface.
type gltfImporterImpl struct {
	logger logger.Logger
}

// gltfImporter turns a glTF document into a single scene mesh. Every mesh node of the
// default scene is flattened into object space with its world transform, and all
// primitives share one vertex list.
type gltfImporter interface {
	// Import loads a .gltf or .glb file.
	//
	// Parameters:
	//   - path: the file path to the glTF or GLB file
	//
	// Returns:
	//   - *scene.Mesh: the flattened mesh
	//   - error: error if import fails
	Import(path string) (*scene.Mesh, error)

	// ImportReader loads a glTF or GLB stream.
	//
	// Parameters:
	//   - r: the reader providing glTF/GLB data
	//   - baseDir: directory used for external buffers and images
	//
	// Returns:
	//   - *scene.Mesh: the flattened mesh
	//   - error: error if import fails
	ImportReader(r io.Reader, baseDir string) (*scene.Mesh, error)
}

var _ gltfImporter = &gltfImporterImpl{}

func newGLTFImporter(l logger.Logger) gltfImporter {
	return &gltfImporterImpl{logger: l}
}

func (imp *gltfImporterImpl) Import(path string) (*scene.Mesh, error) {
	parser := newGLTFParser()
	if err := parser.Parse(path); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return imp.importFromParser(parser)
}

func (imp *gltfImporterImpl) ImportReader(r io.Reader, baseDir string) (*scene.Mesh, error) {
	parser := newGLTFParser()
	if err := parser.ParseReader(r, baseDir); err != nil {
		return nil, fmt.Errorf("failed to parse from reader: %w", err)
	}
	return imp.importFromParser(parser)
}

// gltfPlacement is one mesh reference with its accumulated world transform.
type gltfPlacement struct {
	mesh      int
	transform [16]float32
}

func (imp *gltfImporterImpl) importFromParser(parser gltfParser) (*scene.Mesh, error) {
	doc := parser.Document()
	if doc == nil {
		return nil, fmt.Errorf("no document after parsing")
	}

	materials, textures, err := newGLTFMaterialExtractor(parser, imp.logger).ExtractAllMaterials()
	if err != nil {
		return nil, fmt.Errorf("material extraction failed: %w", err)
	}

	placements, err := gltfPlacements(doc)
	if err != nil {
		return nil, err
	}

	meshes := newGLTFMeshExtractor(parser)
	builder := newMeshBuilder()
	generate := false
	for _, pl := range placements {
		prims, err := meshes.ExtractMesh(pl.mesh)
		if err != nil {
			return nil, fmt.Errorf("mesh extraction failed: %w", err)
		}

		var normalMatrix [16]float32
		if !common.Invert4(normalMatrix[:], pl.transform[:]) {
			imp.logger.Warningf("mesh %d has a singular node transform, skipped", pl.mesh)
			continue
		}
		common.Transpose4(normalMatrix[:], normalMatrix[:])
		toWorld := common.RowMajor3x4(pl.transform[:])
		toWorldNormal := common.RowMajor3x4(normalMatrix[:])

		for _, prim := range prims {
			material := int32(max(prim.Material, 0))
			if int(material) >= len(materials) {
				return nil, fmt.Errorf("mesh %d references material %d of %d", pl.mesh, material, len(materials))
			}
			generate = generate || prim.Normals == nil
			for _, idx := range prim.Indices {
				v := scene.Vertex{
					Position:      common.TransformPoint3x4(toWorld, prim.Positions[idx]),
					TexCoord:      prim.TexCoords[idx],
					MaterialIndex: material,
				}
				if prim.Normals != nil {
					v.Normal = common.TransformVector3x4(toWorldNormal, prim.Normals[idx]).Normalize()
				}
				builder.add(v)
			}
		}
	}

	if len(builder.indices) == 0 {
		return nil, fmt.Errorf("document has no triangles")
	}
	if generate {
		generateNormals(builder.vertices, builder.indices)
	}
	return builder.mesh(materials, textures), nil
}

// gltfPlacements lists the meshes reachable from the default scene. A document without
// scenes places every mesh once with the identity transform.
func gltfPlacements(doc *gltfDocument) ([]gltfPlacement, error) {
	if len(doc.Scenes) == 0 {
		out := make([]gltfPlacement, len(doc.Meshes))
		for i := range out {
			out[i] = gltfPlacement{mesh: i, transform: common.IdentityMatrix()}
		}
		return out, nil
	}

	sceneIndex := 0
	if doc.Scene != nil {
		sceneIndex = *doc.Scene
	}
	if sceneIndex < 0 || sceneIndex >= len(doc.Scenes) {
		return nil, fmt.Errorf("default scene %d out of range", sceneIndex)
	}

	var out []gltfPlacement
	visited := make(map[int]bool)
	var walk func(node int, parent [16]float32) error
	walk = func(node int, parent [16]float32) error {
		if node < 0 || node >= len(doc.Nodes) {
			return fmt.Errorf("node index %d out of range", node)
		}
		if visited[node] {
			return fmt.Errorf("node %d appears twice in the hierarchy", node)
		}
		visited[node] = true

		local := gltfNodeMatrix(&doc.Nodes[node])
		var world [16]float32
		common.Mul4(world[:], parent[:], local[:])
		if m := doc.Nodes[node].Mesh; m != nil {
			if *m < 0 || *m >= len(doc.Meshes) {
				return fmt.Errorf("node %d references mesh %d of %d", node, *m, len(doc.Meshes))
			}
			out = append(out, gltfPlacement{mesh: *m, transform: world})
		}
		for _, child := range doc.Nodes[node].Children {
			if err := walk(child, world); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range doc.Scenes[sceneIndex].Nodes {
		if err := walk(root, common.IdentityMatrix()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// gltfNodeMatrix returns the local column-major transform of a node: its matrix if one is
// given, otherwise T * R * S.
func gltfNodeMatrix(n *gltfNode) [16]float32 {
	if n.Matrix != nil {
		return *n.Matrix
	}

	t := [3]float32{}
	q := [4]float32{0, 0, 0, 1}
	s := [3]float32{1, 1, 1}
	if n.Translation != nil {
		t = *n.Translation
	}
	if n.Rotation != nil {
		q = *n.Rotation
	}
	if n.Scale != nil {
		s = *n.Scale
	}

	x, y, z, w := q[0], q[1], q[2], q[3]
	return [16]float32{
		(1 - 2*(y*y+z*z)) * s[0], 2 * (x*y + z*w) * s[0], 2 * (x*z - y*w) * s[0], 0,
		2 * (x*y - z*w) * s[1], (1 - 2*(x*x+z*z)) * s[1], 2 * (y*z + x*w) * s[1], 0,
		2 * (x*z + y*w) * s[2], 2 * (y*z - x*w) * s[2], (1 - 2*(x*x+y*y)) * s[2], 0,
		t[0], t[1], t[2], 1,
	}
}
