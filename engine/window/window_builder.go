package window

// WindowBuilderOption is a functional option for configuring an engineWindow.
type WindowBuilderOption func(w *engineWindow)

// WithTitle sets the window title displayed in the title bar.
//
// Parameters:
//   - title: the window title text
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = title
	}
}

// WithExtent sets the initial window size. The framebuffer extent is read back from glfw
// after creation.
//
// Parameters:
//   - width: initial width in pixels
//   - height: initial height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithExtent(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.width, w.height = width, height
	}
}

// WithMinExtent sets the smallest size the user can resize the window to.
//
// Parameters:
//   - width: minimum width in pixels
//   - height: minimum height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithMinExtent(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.minWidth, w.minHeight = width, height
	}
}

// WithMaxExtent sets the largest size the user can resize the window to.
//
// Parameters:
//   - width: maximum width in pixels
//   - height: maximum height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithMaxExtent(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.maxWidth, w.maxHeight = width, height
	}
}
