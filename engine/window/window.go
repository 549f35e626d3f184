// Package window opens the glfw window the wgpu backend presents into and turns its input
// events into camera and frame loop callbacks.
package window

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// Window provides the presentation window and input events of the interactive viewer.
type Window interface {
	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving the new framebuffer extent in pixels
	SetResizeCallback(callback func(width, height uint32))

	// SetScrollCallback sets the callback for mouse scroll wheel events.
	//
	// Parameters:
	//   - callback: function receiving scroll delta (positive = zoom in)
	SetScrollCallback(callback func(delta float32))

	// SetKeyCallback sets the callback for key presses. Repeats are delivered as presses.
	//
	// Parameters:
	//   - callback: function receiving the key code (see common.Key*)
	SetKeyCallback(callback func(key uint32))

	// SetDragCallback sets the callback for cursor movement while the left button is held.
	//
	// Parameters:
	//   - callback: function receiving the cursor delta in pixels
	SetDragCallback(callback func(dx, dy float32))

	// SurfaceDescriptor returns the platform surface descriptor for the wgpu backend.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the descriptor, or nil if the window is closed
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// Extent returns the current framebuffer extent in pixels.
	Extent() (uint32, uint32)

	// Poll processes pending events without blocking.
	//
	// Returns:
	//   - bool: false once the window should close
	Poll() bool

	// IsRunning returns true while the window is open.
	IsRunning() bool

	// Close destroys the window and terminates glfw.
	Close() error
}

// engineWindow is the implementation of the Window interface.
type engineWindow struct {
	title string

	// size limits applied to user resizes; zero means unbounded
	minWidth, minHeight int
	maxWidth, maxHeight int

	// width and height are the framebuffer extent, which differs from the window size on
	// high-DPI displays
	width  int
	height int

	// platform holds the glfw window once created.
	platform *glfwWindow

	drag dragTracker

	onResize func(width, height uint32)
	onScroll func(delta float32)
	onKey    func(key uint32)
	onDrag   func(dx, dy float32)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a window with all options applied. glfw must be used from
// the main goroutine; NewWindow locks the calling goroutine to its OS thread.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the open window
//   - error: if glfw cannot be initialized or the window cannot be created
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &engineWindow{
		title:    "oxy-rt",
		minWidth: 320, minHeight: 240,
		width: 1280, height: 720,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *engineWindow) SetResizeCallback(callback func(width, height uint32)) {
	w.onResize = callback
}

func (w *engineWindow) SetScrollCallback(callback func(delta float32)) {
	w.onScroll = callback
}

func (w *engineWindow) SetKeyCallback(callback func(key uint32)) {
	w.onKey = callback
}

func (w *engineWindow) SetDragCallback(callback func(dx, dy float32)) {
	w.onDrag = callback
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformSurfaceDescriptor(w)
}

func (w *engineWindow) Extent() (uint32, uint32) {
	return uint32(max(w.width, 0)), uint32(max(w.height, 0))
}

func (w *engineWindow) Poll() bool {
	return platformPoll(w)
}

func (w *engineWindow) IsRunning() bool {
	return platformIsRunning(w)
}

func (w *engineWindow) Close() error {
	return platformClose(w)
}

// resized records a framebuffer resize and forwards it. Minimized windows report a zero
// extent, which is not forwarded.
func (w *engineWindow) resized(width, height int) {
	w.width, w.height = width, height
	if width == 0 || height == 0 || w.onResize == nil {
		return
	}
	w.onResize(uint32(width), uint32(height))
}
