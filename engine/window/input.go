package window

// dragTracker turns button and cursor events into drag deltas.
type dragTracker struct {
	active       bool
	lastX, lastY float64
}

func (d *dragTracker) press(x, y float64) {
	d.active = true
	d.lastX, d.lastY = x, y
}

func (d *dragTracker) release() {
	d.active = false
}

// move returns the cursor delta since the last event while a drag is active.
func (d *dragTracker) move(x, y float64) (dx, dy float32, ok bool) {
	if !d.active {
		return 0, 0, false
	}
	dx, dy = float32(x-d.lastX), float32(y-d.lastY)
	d.lastX, d.lastY = x, y
	return dx, dy, dx != 0 || dy != 0
}

func (w *engineWindow) buttonEvent(left, pressed bool, x, y float64) {
	if !left {
		return
	}
	if pressed {
		w.drag.press(x, y)
	} else {
		w.drag.release()
	}
}

func (w *engineWindow) cursorEvent(x, y float64) {
	if dx, dy, ok := w.drag.move(x, y); ok && w.onDrag != nil {
		w.onDrag(dx, dy)
	}
}

func (w *engineWindow) keyEvent(key uint32) {
	if w.onKey != nil {
		w.onKey(key)
	}
}

func (w *engineWindow) scrollEvent(delta float32) {
	if delta != 0 && w.onScroll != nil {
		w.onScroll(delta)
	}
}
