package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDragTracker(t *testing.T) {
	w := &engineWindow{}
	var moves [][2]float32
	w.SetDragCallback(func(dx, dy float32) { moves = append(moves, [2]float32{dx, dy}) })

	w.cursorEvent(10, 10)
	assert.Empty(t, moves, "no drag without a pressed button")

	w.buttonEvent(false, true, 10, 10)
	w.cursorEvent(12, 12)
	assert.Empty(t, moves, "only the left button drags")

	w.buttonEvent(true, true, 10, 10)
	w.cursorEvent(15, 8)
	w.cursorEvent(15, 8)
	w.cursorEvent(14, 9)
	w.buttonEvent(true, false, 14, 9)
	w.cursorEvent(30, 30)

	assert.Equal(t, [][2]float32{{5, -2}, {-1, 1}}, moves)
}

func TestResizeSkipsEmptyExtent(t *testing.T) {
	w := &engineWindow{}
	var got [][2]uint32
	w.SetResizeCallback(func(width, height uint32) { got = append(got, [2]uint32{width, height}) })

	w.resized(800, 600)
	w.resized(0, 0)
	width, height := w.Extent()
	assert.Zero(t, width)
	assert.Zero(t, height)
	w.resized(1024, 768)

	assert.Equal(t, [][2]uint32{{800, 600}, {1024, 768}}, got)
}

func TestKeyAndScrollEvents(t *testing.T) {
	w := &engineWindow{}
	w.keyEvent(65)
	w.scrollEvent(1)

	var keys []uint32
	var scroll float32
	w.SetKeyCallback(func(key uint32) { keys = append(keys, key) })
	w.SetScrollCallback(func(delta float32) { scroll += delta })

	w.keyEvent(82)
	w.scrollEvent(0)
	w.scrollEvent(-2)
	assert.Equal(t, []uint32{82}, keys)
	assert.Equal(t, float32(-2), scroll)
	assert.False(t, w.IsRunning())
	assert.Nil(t, w.SurfaceDescriptor())
}
