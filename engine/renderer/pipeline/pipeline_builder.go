package pipeline

import (
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
)

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*pipeline)

// WithShader sets the ray program of this pipeline.
//
// Parameters:
//   - s: the processed ray program
//
// Returns:
//   - PipelineBuilderOption: a function that sets the program for this pipeline
func WithShader(s shader.Shader) PipelineBuilderOption {
	return func(p *pipeline) {
		p.program = s
	}
}

// WithMaxRecursionDepth sets the trace recursion limit. The device rejects values above 31.
//
// Parameters:
//   - depth: the recursion limit
//
// Returns:
//   - PipelineBuilderOption: a function that sets the recursion limit for this pipeline
func WithMaxRecursionDepth(depth uint32) PipelineBuilderOption {
	return func(p *pipeline) {
		p.maxRecursionDepth = depth
	}
}
