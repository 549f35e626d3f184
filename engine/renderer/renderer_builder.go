package renderer

import (
	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithExtent sets the initial output extent. The default is 800x600.
//
// Parameters:
//   - width: the output width in pixels
//   - height: the output height in pixels
//
// Returns:
//   - RendererBuilderOption: a function that applies the extent option to a renderer
func WithExtent(width, height uint32) RendererBuilderOption {
	return func(r *renderer) {
		if width > 0 && height > 0 {
			r.width, r.height = width, height
		}
	}
}

// WithSamplesPerFrame sets how many samples each dispatch adds to the accumulation. The
// default is 8.
//
// Parameters:
//   - n: samples per dispatch
//
// Returns:
//   - RendererBuilderOption: a function that applies the samples option to a renderer
func WithSamplesPerFrame(n uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.samplesPerFrame = n
	}
}

// WithBounces sets the bounce count written to the uniform block. The default is 8.
//
// Parameters:
//   - n: the bounce count
//
// Returns:
//   - RendererBuilderOption: a function that applies the bounce option to a renderer
func WithBounces(n uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.bounces = n
	}
}

// WithBuildOptions sets the flags every bottom- and top-level build uses.
//
// Parameters:
//   - options: the build options
//
// Returns:
//   - RendererBuilderOption: a function that applies the build options to a renderer
func WithBuildOptions(options ...accel.BuildOption) RendererBuilderOption {
	return func(r *renderer) {
		r.buildOptions = append(r.buildOptions, options...)
	}
}

// WithRayQuery controls whether the vertex and index buffers get storage usage and are
// bound at their slots. It is on by default; the default ray program reads both.
//
// Parameters:
//   - enabled: false to upload geometry for builds only
//
// Returns:
//   - RendererBuilderOption: a function that applies the ray query option to a renderer
func WithRayQuery(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.rayQuery = enabled
	}
}

// WithRayProgram replaces the annotated ray program the pipeline is built from.
//
// Parameters:
//   - source: the program source with @oxy annotations
//
// Returns:
//   - RendererBuilderOption: a function that applies the program option to a renderer
func WithRayProgram(source string) RendererBuilderOption {
	return func(r *renderer) {
		r.programSource = source
	}
}

// WithMaxRecursionDepth sets the pipeline's maximum trace recursion depth.
//
// Parameters:
//   - depth: the recursion depth
//
// Returns:
//   - RendererBuilderOption: a function that applies the depth option to a renderer
func WithMaxRecursionDepth(depth uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.maxRecursionDepth = depth
	}
}
