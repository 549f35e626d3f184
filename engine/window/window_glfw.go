package window

import (
	"fmt"
	"runtime"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// glfwWindow holds the glfw window state.
type glfwWindow struct {
	window  *glfw.Window
	running bool
}

// newPlatformWindow creates the glfw window, registers the input callbacks and reads back
// the framebuffer extent.
//
// GLFW reference: https://www.glfw.org/docs/latest/window_guide.html
func newPlatformWindow(w *engineWindow) error {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("initialize glfw: %w", err)
	}

	// wgpu drives the surface, so no GL context
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	win, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("create glfw window: %w", err)
	}
	win.SetSizeLimits(glfwLimit(w.minWidth), glfwLimit(w.minHeight), glfwLimit(w.maxWidth), glfwLimit(w.maxHeight))

	gw := &glfwWindow{window: win, running: true}
	w.platform = gw

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action == glfw.Release {
			return
		}
		if uint32(key) == common.KeyEsc {
			gw.running = false
			win.SetShouldClose(true)
			return
		}
		w.keyEvent(uint32(key))
	})
	win.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		w.scrollEvent(float32(yoff))
	})
	win.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		x, y := win.GetCursorPos()
		w.buttonEvent(button == glfw.MouseButtonLeft, action == glfw.Press, x, y)
	})
	win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		w.cursorEvent(x, y)
	})
	// the framebuffer size is the pixel extent the surface needs on high-DPI displays
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.resized(width, height)
	})

	w.width, w.height = win.GetFramebufferSize()
	return nil
}

func glfwLimit(v int) int {
	if v <= 0 {
		return glfw.DontCare
	}
	return v
}

// platformSurfaceDescriptor builds the surface descriptor through the wgpuglfw bridge.
//
// Reference: https://pkg.go.dev/github.com/cogentcore/webgpu/wgpuglfw#GetSurfaceDescriptor
func platformSurfaceDescriptor(w *engineWindow) *wgpu.SurfaceDescriptor {
	if w.platform == nil {
		return nil
	}
	return wgpuglfw.GetSurfaceDescriptor(w.platform.window)
}

func platformIsRunning(w *engineWindow) bool {
	if w.platform == nil {
		return false
	}
	return w.platform.running && !w.platform.window.ShouldClose()
}

func platformClose(w *engineWindow) error {
	if w.platform == nil {
		return fmt.Errorf("window is not open")
	}
	w.platform.running = false
	w.platform.window.Destroy()
	w.platform = nil
	glfw.Terminate()
	return nil
}

// platformPoll processes pending glfw events without blocking.
func platformPoll(w *engineWindow) bool {
	if w.platform == nil {
		return false
	}
	glfw.PollEvents()
	return platformIsRunning(w)
}
