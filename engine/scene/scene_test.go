package scene

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/game_object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScene(t *testing.T) (Scene, int, int) {
	t.Helper()
	r := NewSceneAssetRegistry()
	box, err := r.Load(ShapeBox)
	require.NoError(t, err)
	sphere, err := r.Load(ShapeSphere)
	require.NoError(t, err)
	return NewScene(r, WithName("test")), box, sphere
}

func TestSceneInstancesFollowObjects(t *testing.T) {
	s, box, sphere := newTestScene(t)

	a := game_object.NewGameObject(box, game_object.WithPosition(common.Vec3{1, 0, 0}))
	b := game_object.NewGameObject(sphere)
	c := game_object.NewGameObject(box, game_object.WithEnabled(false))
	for _, obj := range []game_object.GameObject{a, b, c} {
		_, err := s.Add(obj)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.Count())

	inst := s.Instances()
	require.Len(t, inst, 2)
	assert.Equal(t, box, inst[0].MeshIndex)
	assert.Equal(t, ShadingGroupTriangles, inst[0].ShadingGroup)
	assert.Equal(t, float32(1), inst[0].Transform[12])
	assert.Equal(t, uint8(0xFF), inst[0].Mask)
	assert.Equal(t, sphere, inst[1].MeshIndex)
	assert.Equal(t, ShadingGroupProcedural, inst[1].ShadingGroup)
}

func TestSceneReportsMutations(t *testing.T) {
	s, box, _ := newTestScene(t)
	hooks := 0
	s.SetOnMutation(func() { hooks++ })

	obj := game_object.NewGameObject(box)
	id, err := s.Add(obj)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Version())

	obj.SetPosition(common.Vec3{0, 1, 0})
	obj.SetPosition(common.Vec3{0, 1, 0})
	assert.Equal(t, uint64(2), s.Version())

	// advancing an object with no rotation speed is not a change
	s.Advance(0.1)
	assert.Equal(t, uint64(2), s.Version())
	obj.SetRotationSpeed(common.Vec3{0, 1, 0})
	s.Advance(0.1)
	assert.Equal(t, uint64(3), s.Version())

	require.True(t, s.Remove(id))
	assert.False(t, s.Remove(id))
	assert.Equal(t, uint64(4), s.Version())

	// a removed object no longer reports to the scene
	obj.SetPosition(common.Vec3{})
	assert.Equal(t, uint64(4), s.Version())
	assert.Equal(t, 4, hooks)
}

func TestSceneRejectsUnknownMesh(t *testing.T) {
	s, _, _ := newTestScene(t)
	_, err := s.Add(game_object.NewGameObject(7))
	assertViolation(t, err)
	assert.Zero(t, s.Count())

	obj := game_object.NewGameObject(0, game_object.WithID(5))
	id, err := s.Add(obj)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)
	_, err = s.Add(game_object.NewGameObject(0, game_object.WithID(5)))
	assertViolation(t, err)

	next, err := s.Add(game_object.NewGameObject(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), next)

	s.Clear()
	assert.Zero(t, s.Count())
	assert.Empty(t, s.Instances())
}

const testSceneFile = `
name = "arena"

[camera]
position = [0.0, 2.0, 8.0]
target = [0.0, 0.0, 0.0]
orbit = true

[[assets]]
name = "floor"
source = "oxy::plane"

[[assets]]
name = "ball"
source = "oxy::sphere"

[[objects]]
asset = "floor"
scale = [20.0, 1.0, 20.0]

[[objects]]
asset = "ball"
position = [0.0, 0.5, 0.0]
rotation_speed = [0.0, 90.0, 0.0]

[[objects]]
asset = "ball"
position = [2.0, 0.5, 0.0]
disabled = true
`

func TestSceneFileBuild(t *testing.T) {
	sf, err := ParseSceneFile([]byte(testSceneFile))
	require.NoError(t, err)
	assert.Equal(t, []string{ShapePlane, ShapeSphere}, sf.Sources())

	r := NewSceneAssetRegistry()
	s, err := sf.Build(r)
	require.NoError(t, err)

	assert.Equal(t, "arena", s.Name())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, s.Count())
	inst := s.Instances()
	require.Len(t, inst, 2)
	assert.Equal(t, float32(20), inst[0].Transform[0])
	assert.Equal(t, ShadingGroupProcedural, inst[1].ShadingGroup)

	ball := s.Objects()[1]
	assert.InDelta(t, 1.5708, ball.RotationSpeed()[1], 1e-4)

	require.NotNil(t, s.Camera().Controller())
	pos := s.Camera().Position()
	assert.InDelta(t, 0, pos[0], 1e-4)
	assert.InDelta(t, 2, pos[1], 1e-4)
	assert.InDelta(t, 8, pos[2], 1e-4)
}

func TestSceneFileValidation(t *testing.T) {
	_, err := ParseSceneFile([]byte(`[[objects]]
asset = "ghost"`))
	require.Error(t, err)

	_, err = ParseSceneFile([]byte(`[[assets]]
name = "a"
source = "oxy::box"
[[assets]]
name = "a"
source = "oxy::plane"`))
	require.Error(t, err)

	_, err = ParseSceneFile([]byte(`name = [`))
	require.Error(t, err)
}
