package shader

import (
	"fmt"
	"os"
	"regexp"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// entryPointPattern matches WGSL function declarations.
var entryPointPattern = regexp.MustCompile(`\bfn\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// shader is the implementation of the Shader interface.
type shader struct {
	key          string
	source       string
	declarations []Annotation
	groups       []device.ShaderGroup
	groupTypes   []AnnotationType
	layout       []device.BindingLayoutEntry

	pp PreProcessor
}

// Shader is a pre-processed ray program: its source, its shader groups in declaration
// order and the binding layout declared by its annotations.
type Shader interface {
	// Key retrieves the unique identifier for this shader.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the processed program source.
	//
	// Returns:
	//   - string: the source with annotations expanded
	Source() string

	// Groups returns the shader groups in declaration order. The position of a group is its
	// index in the pipeline and in the shader record table.
	//
	// Returns:
	//   - []device.ShaderGroup: the groups
	Groups() []device.ShaderGroup

	// GroupIndex returns the pipeline index of the group called name.
	//
	// Parameters:
	//   - name: the group name given in its annotation
	//
	// Returns:
	//   - uint32: the group index
	//   - bool: false if no group has that name
	GroupIndex(name string) (uint32, bool)

	// GroupIndices returns the indices of every group declared with annotation type t, in
	// declaration order.
	//
	// Parameters:
	//   - t: AnnotationTypeRayGen, AnnotationTypeMiss or AnnotationTypeHit
	//
	// Returns:
	//   - []uint32: the group indices
	GroupIndices(t AnnotationType) []uint32

	// Layout returns the binding layout in slot declaration order.
	//
	// Returns:
	//   - []device.BindingLayoutEntry: one entry per binding annotation
	Layout() []device.BindingLayoutEntry

	// Declarations returns the binding and group annotations of the source.
	//
	// Returns:
	//   - []Annotation: the annotations in source order
	Declarations() []Annotation
}

var _ Shader = &shader{}

// ShaderBuilderOption configures a Shader during construction.
type ShaderBuilderOption func(*shader)

// WithPreProcessor replaces the default pre-processor, for example to register more structs.
//
// Parameters:
//   - pp: the pre-processor to use
//
// Returns:
//   - ShaderBuilderOption: a function that sets the pre-processor
func WithPreProcessor(pp PreProcessor) ShaderBuilderOption {
	return func(s *shader) {
		s.pp = pp
	}
}

// NewShader pre-processes source and derives its groups and binding layout. The source
// must declare at least one ray generation group, and every entry point a group names
// must be a function of the source.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - source: the raw program source
//   - options: variadic list of ShaderBuilderOption functions
//
// Returns:
//   - Shader: the processed shader
//   - error: an error if pre-processing or validation fails
func NewShader(key, source string, options ...ShaderBuilderOption) (Shader, error) {
	s := &shader{key: key}
	for _, opt := range options {
		opt(s)
	}
	if s.pp == nil {
		s.pp = NewPreProcessor()
	}

	var err error
	if s.source, err = s.pp.Process(source); err != nil {
		return nil, fmt.Errorf("shader %s: %w", key, err)
	}
	s.declarations = append([]Annotation(nil), s.pp.Declarations()...)
	if err := s.parseDeclarations(); err != nil {
		return nil, fmt.Errorf("shader %s: %w", key, err)
	}
	return s, nil
}

// NewShaderFromFile reads source from path and calls NewShader.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - path: the file to read
//   - options: variadic list of ShaderBuilderOption functions
//
// Returns:
//   - Shader: the processed shader
//   - error: an error if the file cannot be read or the source is invalid
func NewShaderFromFile(key, path string, options ...ShaderBuilderOption) (Shader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shader source %q: %w", path, err)
	}
	return NewShader(key, string(data), options...)
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) Groups() []device.ShaderGroup {
	return append([]device.ShaderGroup(nil), s.groups...)
}

func (s *shader) GroupIndex(name string) (uint32, bool) {
	for i, g := range s.groups {
		if g.Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

func (s *shader) GroupIndices(t AnnotationType) []uint32 {
	var out []uint32
	for i, gt := range s.groupTypes {
		if gt == t {
			out = append(out, uint32(i))
		}
	}
	return out
}

func (s *shader) Layout() []device.BindingLayoutEntry {
	return append([]device.BindingLayoutEntry(nil), s.layout...)
}

func (s *shader) Declarations() []Annotation {
	return s.declarations
}

// parseDeclarations turns group annotations into shader groups and binding annotations
// into layout entries.
func (s *shader) parseDeclarations() error {
	functions := make(map[string]struct{})
	for _, m := range entryPointPattern.FindAllStringSubmatch(s.source, -1) {
		functions[m[1]] = struct{}{}
	}
	checkEntry := func(a Annotation, entry AnnotationArg) error {
		if _, ok := functions[string(entry)]; !ok {
			return fmt.Errorf("line %d: entry point %q of group %q is not defined", a.Line, entry, a.Args[0])
		}
		return nil
	}

	names := make(map[string]int)
	slots := make(map[int]int)
	for _, a := range s.declarations {
		if a.Type == AnnotationTypeBinding {
			if prev, dup := slots[*a.Slot]; dup {
				return fmt.Errorf("line %d: slot %d already declared on line %d", a.Line, *a.Slot, prev)
			}
			slots[*a.Slot] = a.Line
			s.layout = append(s.layout, bindingEntry(a))
			continue
		}

		name := string(a.Args[0])
		if prev, dup := names[name]; dup {
			return fmt.Errorf("line %d: group %q already declared on line %d", a.Line, name, prev)
		}
		names[name] = a.Line
		for _, entry := range a.Args[1:] {
			if err := checkEntry(a, entry); err != nil {
				return err
			}
		}

		g := device.ShaderGroup{Name: name}
		switch a.Type {
		case AnnotationTypeRayGen, AnnotationTypeMiss:
			g.Type = device.ShaderGroupGeneral
			g.General = string(a.Args[1])
		case AnnotationTypeHit:
			g.Type = device.ShaderGroupTrianglesHit
			g.ClosestHit = string(a.Args[1])
			if len(a.Args) == 3 {
				g.Type = device.ShaderGroupProceduralHit
				g.Intersection = string(a.Args[2])
			}
		}
		s.groups = append(s.groups, g)
		s.groupTypes = append(s.groupTypes, a.Type)
	}

	if len(s.GroupIndices(AnnotationTypeRayGen)) == 0 {
		return fmt.Errorf("no ray generation group declared")
	}
	return nil
}

// bindingEntry maps a binding annotation to its layout entry.
func bindingEntry(a Annotation) device.BindingLayoutEntry {
	e := device.BindingLayoutEntry{Slot: uint32(*a.Slot), Optional: a.Optional}
	switch a.Args[0] {
	case annotationArgAccelerationStructure:
		e.Type = device.BindingAccelerationStructure
	case annotationArgStorageImage:
		e.Type = device.BindingStorageImage
	case annotationArgUniform:
		e.Type = device.BindingUniformBuffer
	case annotationArgStorage:
		e.Type = device.BindingStorageBuffer
	case annotationArgImageArray:
		e.Type = device.BindingImageArray
	}
	switch a.Args[1] {
	case annotationArgRead:
		e.Access = device.AccessReadOnly
	case annotationArgWrite:
		e.Access = device.AccessWriteOnly
	case annotationArgReadWrite:
		e.Access = device.AccessReadWrite
	}
	return e
}
