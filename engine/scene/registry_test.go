package scene

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls map[string]int
}

func (l *countingLoader) LoadMesh(path string) (*Mesh, error) {
	l.calls[path]++
	if path == "missing.obj" {
		return nil, errors.New("no such file")
	}
	return fan(path, 3, 1, 1), nil
}

func TestRegistryDedupesSources(t *testing.T) {
	loader := &countingLoader{calls: map[string]int{}}
	r := NewSceneAssetRegistry(WithMeshLoader(loader))

	box, err := r.Load(ShapeBox)
	require.NoError(t, err)
	robot, err := r.Load("robot.obj")
	require.NoError(t, err)
	again, err := r.Load("robot.obj")
	require.NoError(t, err)
	box2, err := r.Load(ShapeBox)
	require.NoError(t, err)

	assert.Equal(t, 0, box)
	assert.Equal(t, 1, robot)
	assert.Equal(t, robot, again)
	assert.Equal(t, box, box2)
	assert.Equal(t, 1, loader.calls["robot.obj"])
	assert.Equal(t, 2, r.Len())

	m, err := r.Mesh(robot)
	require.NoError(t, err)
	assert.Equal(t, "robot.obj", m.Name)
	assert.Equal(t, 1, m.Index)

	_, err = r.Mesh(2)
	assertViolation(t, err)

	_, err = r.Load("missing.obj")
	require.Error(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryWithoutLoaderOnlyGeneratesShapes(t *testing.T) {
	r := NewSceneAssetRegistry()
	_, err := r.Load("robot.obj")
	require.Error(t, err)

	for _, tag := range []string{ShapeBox, ShapePlane, ShapeCylinder, ShapeSphere} {
		_, err := r.Load(tag)
		require.NoError(t, err, tag)
	}
	_, err = r.Load("oxy::teapot")
	require.Error(t, err)

	meshes := r.Meshes()
	require.Len(t, meshes, 4)
	for i, m := range meshes {
		assert.Equal(t, i, m.Index)
	}
	assert.Equal(t, MeshKindAnalyticSphere, meshes[3].Kind)
}

func TestRegistryRelease(t *testing.T) {
	r := NewSceneAssetRegistry()
	_, err := r.Load(ShapeBox)
	require.NoError(t, err)

	r.Release()
	assert.Zero(t, r.Len())
	_, err = r.Load(ShapePlane)
	assert.ErrorIs(t, err, ErrRegistryReleased)
}

func TestGeneratedShapes(t *testing.T) {
	box, err := GenerateShape(ShapeBox)
	require.NoError(t, err)
	assert.Equal(t, 12, box.TriangleCount())
	assert.Len(t, box.Vertices, 24)
	b := box.Bounds()
	assert.Equal(t, [3]float32{-0.5, -0.5, -0.5}, [3]float32(b.Min))
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, [3]float32(b.Max))

	plane, err := GenerateShape(ShapePlane)
	require.NoError(t, err)
	assert.Equal(t, 2, plane.TriangleCount())

	cyl, err := GenerateShape(ShapeCylinder)
	require.NoError(t, err)
	assert.Equal(t, 4*cylinderSegments, cyl.TriangleCount())
	require.NoError(t, cyl.Validate())

	for _, m := range []*Mesh{box, plane, cyl} {
		for _, v := range m.Vertices {
			assert.InDelta(t, 1, v.Normal.Len(), 1e-5)
		}
	}
}
