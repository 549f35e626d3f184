package pipeline

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-rt/engine/sbt"
)

// DefaultMaxRecursionDepth allows a primary ray plus one shadow ray from its hit.
const DefaultMaxRecursionDepth = 2

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	// pipelineKey is the unique identifier for this pipeline and the label of the device pipeline
	pipelineKey string

	// program is the processed ray program; required before Init
	program shader.Shader

	maxRecursionDepth uint32

	// native is the device pipeline, nil until Init and after Release
	native device.Pipeline
}

// Pipeline is a ray tracing pipeline built from one annotated ray program. It derives the
// device pipeline's groups and layout from the program and knows which groups make up the
// shader record table.
type Pipeline interface {
	// PipelineKey returns the unique key associated with this pipeline.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// Shader returns the ray program.
	//
	// Returns:
	//   - shader.Shader: the program, or nil if not set
	Shader() shader.Shader

	// MaxRecursionDepth returns the trace recursion limit passed to the device.
	MaxRecursionDepth() uint32

	// Pipeline returns the device pipeline, or nil if the pipeline is not initialized.
	//
	// Returns:
	//   - device.Pipeline: the device pipeline
	Pipeline() device.Pipeline

	// Init creates the device pipeline. Calling Init on an initialized pipeline is a
	// contract violation; Release it first.
	//
	// Parameters:
	//   - dev: the device to create the pipeline on
	//
	// Returns:
	//   - error: a GpuError if creation fails
	Init(dev device.Device) error

	// Release destroys the device pipeline. Releasing an uninitialized pipeline does nothing.
	//
	// Returns:
	//   - error: the device error, if any
	Release() error

	// ShaderRecords returns the record table entries: the first ray generation group, every
	// miss group and every hit group, each in declaration order. Hit record i is the group
	// selected by instances whose SBT offset is i.
	//
	// Returns:
	//   - raygen, miss, hit: the record entries
	ShaderRecords() (raygen, miss, hit []sbt.Entry)
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a new Pipeline with all options applied. The device pipeline is
// created by Init.
//
// Parameters:
//   - key: the unique key of the pipeline
//   - options: variadic list of PipelineBuilderOption functions
//
// Returns:
//   - Pipeline: the pipeline
func NewPipeline(key string, options ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:       key,
		maxRecursionDepth: DefaultMaxRecursionDepth,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Shader() shader.Shader {
	return p.program
}

func (p *pipeline) MaxRecursionDepth() uint32 {
	return p.maxRecursionDepth
}

func (p *pipeline) Pipeline() device.Pipeline {
	return p.native
}

func (p *pipeline) Init(dev device.Device) error {
	const op = "create ray tracing pipeline"
	if p.program == nil {
		return device.NewError(device.KindResourceCreation, "renderer", op, fmt.Errorf("pipeline %s has no ray program", p.pipelineKey))
	}
	if p.native != nil {
		return device.NewError(device.KindContractViolation, "renderer", op, fmt.Errorf("pipeline %s is already initialized", p.pipelineKey))
	}
	native, err := dev.CreateRayTracingPipeline(device.RayTracingPipelineDescriptor{
		Label:             p.pipelineKey,
		Groups:            p.program.Groups(),
		MaxRecursionDepth: p.maxRecursionDepth,
		Layout:            p.program.Layout(),
		Source:            p.program.Source(),
	})
	if err != nil {
		return err
	}
	p.native = native
	return nil
}

func (p *pipeline) Release() error {
	if p.native == nil {
		return nil
	}
	err := p.native.Destroy()
	p.native = nil
	if err != nil {
		return fmt.Errorf("release pipeline %s: %w", p.pipelineKey, err)
	}
	return nil
}

func (p *pipeline) ShaderRecords() (raygen, miss, hit []sbt.Entry) {
	if p.program == nil {
		return nil, nil, nil
	}
	entries := func(indices []uint32) []sbt.Entry {
		out := make([]sbt.Entry, 0, len(indices))
		for _, i := range indices {
			out = append(out, sbt.Entry{GroupIndex: i})
		}
		return out
	}
	raygen = entries(p.program.GroupIndices(shader.AnnotationTypeRayGen))
	if len(raygen) > 1 {
		raygen = raygen[:1]
	}
	return raygen, entries(p.program.GroupIndices(shader.AnnotationTypeMiss)), entries(p.program.GroupIndices(shader.AnnotationTypeHit))
}
