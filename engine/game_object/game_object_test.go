package game_object

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/stretchr/testify/assert"
)

func TestChangeHookFiresOnlyOnChange(t *testing.T) {
	obj := NewGameObject(3, WithPosition(common.Vec3{1, 2, 3}))
	calls := 0
	obj.SetOnChange(func() { calls++ })

	obj.SetPosition(common.Vec3{1, 2, 3})
	assert.Zero(t, calls)

	obj.SetPosition(common.Vec3{0, 0, 0})
	obj.SetScale(common.Vec3{2, 2, 2})
	obj.SetRotation(common.Vec3{0, 1, 0})
	obj.SetEnabled(false)
	obj.SetEnabled(false)
	assert.Equal(t, 4, calls)

	obj.SetOnChange(nil)
	obj.SetEnabled(true)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, obj.MeshIndex())
}

func TestAdvance(t *testing.T) {
	obj := NewGameObject(0)
	assert.False(t, obj.Advance(0.5))

	obj.SetRotationSpeed(common.Vec3{0, 2, 0})
	assert.True(t, obj.Advance(0.5))
	assert.Equal(t, common.Vec3{0, 1, 0}, obj.Rotation())
}

func TestModelMatrix(t *testing.T) {
	obj := NewGameObject(0,
		WithPosition(common.Vec3{1, 2, 3}),
		WithScale(common.Vec3{2, 3, 4}),
	)
	m := obj.ModelMatrix()
	assert.Equal(t, [16]float32{
		2, 0, 0, 0,
		0, 3, 0, 0,
		0, 0, 4, 0,
		1, 2, 3, 1,
	}, m)
}
