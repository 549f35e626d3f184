package common

// Key codes the viewer binds. The values are glfw key codes, which use ASCII for
// printable keys.
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeyEsc   = 256
	KeySpace = 32 // reset accumulation
	KeyR     = 82 // request a top-level rebuild
	KeyP     = 80 // print the profiler report

	KeyRight = 262
	KeyLeft  = 263
	KeyDown  = 264
	KeyUp    = 265

	KeyMinus = 45
	KeyEqual = 61
)
