// pre_processor.go implements the Oxy ray program pre-processor. It scans program source
// for @oxy: annotations, replaces them with injected struct source or generated binding
// declarations, and collects the declarations the pipeline's groups and layout are
// derived from.
//
// The pre-processor keeps two registries:
//   - structRegistry: maps struct keys to embedded WGSL struct sources and their type
//     names. Used by @oxy:include and by the type of buffer bindings.
//   - accessRegistry: maps access arguments to the WGSL access mode of storage bindings.
package shader

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// registryEntry pairs a WGSL struct source with the type name emitted in declarations.
type registryEntry struct {
	// Source is the raw WGSL struct definition text injected by @oxy:include.
	Source string

	// Type is the WGSL type name (e.g. "Vertex", "UniformBlock").
	Type string
}

type preProcessor struct {
	structRegistry map[AnnotationArg]registryEntry
	accessRegistry map[AnnotationArg]string

	// declarations accumulates binding and group annotations during a Process call. Reset
	// at the start of each Process invocation.
	declarations []Annotation
}

// PreProcessor processes ray program source containing @oxy: annotations.
type PreProcessor interface {
	// Process replaces @oxy:include annotations with the registered struct source and
	// @oxy:binding annotations with generated declarations. Group annotations produce no
	// output. Binding and group annotations are recorded in the declarations list, which
	// is reset at the start of each call.
	//
	// Parameters:
	//   - source: the raw program source
	//
	// Returns:
	//   - string: the processed source
	//   - error: an error if an annotation is malformed or names an unregistered struct
	Process(source string) (string, error)

	// Declarations returns the binding and group annotations of the most recent Process
	// call in source order.
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// PreProcessorOption configures a PreProcessor during construction.
type PreProcessorOption func(*preProcessor)

// WithStruct registers a struct source under key, replacing any earlier entry.
//
// Parameters:
//   - key: the struct key used in annotations
//   - source: the WGSL struct definition
//   - typeName: the WGSL type name the source declares
//
// Returns:
//   - PreProcessorOption: a function that registers the struct
func WithStruct(key AnnotationArg, source, typeName string) PreProcessorOption {
	return func(p *preProcessor) {
		p.structRegistry[key] = registryEntry{Source: source, Type: typeName}
	}
}

// NewPreProcessor creates a PreProcessor with the scene record structs registered.
//
// Parameters:
//   - options: variadic list of PreProcessorOption functions
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(options ...PreProcessorOption) PreProcessor {
	p := &preProcessor{
		structRegistry: map[AnnotationArg]registryEntry{
			annotationArgVertex:       {Source: scene.GPUVertexSource, Type: "Vertex"},
			annotationArgMaterial:     {Source: scene.GPUMaterialSource, Type: "Material"},
			annotationArgOffset:       {Source: scene.GPUOffsetSource, Type: "Offset"},
			annotationArgSphereParams: {Source: scene.GPUSphereParamsSource, Type: "SphereParams"},
		},
		accessRegistry: map[AnnotationArg]string{
			annotationArgRead:      "read",
			annotationArgWrite:     "write",
			annotationArgReadWrite: "read_write",
		},
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			entry, ok := p.structRegistry[a.Args[0]]
			if !ok {
				return "", fmt.Errorf("line %d: struct %q is not registered", a.Line, a.Args[0])
			}
			out = append(out, entry.Source)
		case AnnotationTypeBinding:
			decl, err := p.declaration(a)
			if err != nil {
				return "", err
			}
			out = append(out, decl)
			p.declarations = append(p.declarations, *a)
		case AnnotationTypeRayGen, AnnotationTypeMiss, AnnotationTypeHit:
			p.declarations = append(p.declarations, *a)
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", a.Line, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}

// declaration generates the WGSL variable for a binding annotation.
func (p *preProcessor) declaration(a *Annotation) (string, error) {
	kind, access, name := a.Args[0], a.Args[1], string(a.Args[2])
	head := fmt.Sprintf("@group(0) @binding(%d)", *a.Slot)

	switch kind {
	case annotationArgAccelerationStructure:
		return fmt.Sprintf("%s var %s: acceleration_structure;", head, name), nil
	case annotationArgImageArray:
		return fmt.Sprintf("%s var %s: binding_array<texture_2d<f32>>;", head, name), nil
	case annotationArgStorageImage:
		return fmt.Sprintf("%s var %s: texture_storage_2d<%s, %s>;", head, name, a.Args[3], p.accessRegistry[access]), nil
	}

	typ, err := p.resolveType(string(a.Args[3]), a.Line)
	if err != nil {
		return "", err
	}
	if kind == annotationArgUniform {
		return fmt.Sprintf("%s var<uniform> %s: %s;", head, name, typ), nil
	}
	// WGSL storage buffers have no write-only mode
	mode := "read"
	if access != annotationArgRead {
		mode = "read_write"
	}
	return fmt.Sprintf("%s var<storage, %s> %s: %s;", head, mode, name, typ), nil
}

// resolveType maps a struct key, scalar or array of either to its WGSL type name.
func (p *preProcessor) resolveType(t string, line int) (string, error) {
	if inner, ok := strings.CutPrefix(t, "array<"); ok {
		elem, err := p.resolveType(strings.TrimSuffix(inner, ">"), line)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("array<%s>", elem), nil
	}
	entry, ok := p.structRegistry[AnnotationArg(t)]
	if ok {
		return entry.Type, nil
	}
	if slices.Contains(validScalarTypes, AnnotationArg(t)) {
		return t, nil
	}
	return "", fmt.Errorf("line %d: struct %q is not registered", line, t)
}
