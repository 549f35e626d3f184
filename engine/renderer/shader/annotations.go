// annotations.go defines the annotation types, argument constants and parser for the Oxy
// ray program pre-processor. Annotations are single-line WGSL comments prefixed with
// @oxy: that inject shared struct definitions, declare binding slots and name the entry
// points of every shader group. The parsed results are stored as Annotation values and
// turned into the pipeline's shader groups and binding layout.
package shader

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered struct at the annotation
	// site. It produces no declaration.
	//
	// Syntax: //@oxy:include <struct_type>
	//
	// Example: //@oxy:include vertex
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBinding generates a WGSL @group(0)/@binding variable declaration for one
	// slot and becomes one entry of the pipeline's binding layout. Buffer bindings name a
	// struct type, optionally wrapped in array<>, or a scalar type. Storage images name a
	// texel format. Acceleration structures and image arrays take no type. A trailing
	// "optional" lets the slot stay unbound.
	//
	// Syntax: //@oxy:binding <slot> <kind> <access> <var_name> [<type>] [optional]
	//
	// Examples:
	//   //@oxy:binding 0 acceleration_structure read scene
	//   //@oxy:binding 4 storage read vertices array<vertex>
	//   //@oxy:binding 9 storage read spheres array<sphere_params> optional
	AnnotationTypeBinding AnnotationType = "binding"

	// AnnotationTypeRayGen declares a ray generation group.
	//
	// Syntax: //@oxy:raygen <group_name> <entry_point>
	AnnotationTypeRayGen AnnotationType = "raygen"

	// AnnotationTypeMiss declares a miss group.
	//
	// Syntax: //@oxy:miss <group_name> <entry_point>
	AnnotationTypeMiss AnnotationType = "miss"

	// AnnotationTypeHit declares a hit group. With an intersection entry point the group is
	// procedural, otherwise it hits triangles.
	//
	// Syntax: //@oxy:hit <group_name> <closest_hit> [<intersection>]
	AnnotationTypeHit AnnotationType = "hit"
)

// Annotation is one parsed @oxy: annotation.
type Annotation struct {
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include: [0] = struct type key
	//   - binding: [0] = kind, [1] = access, [2] = var name, [3] = type (when the kind takes one)
	//   - raygen, miss: [0] = group name, [1] = entry point
	//   - hit: [0] = group name, [1] = closest hit, [2] = intersection (optional)
	Args []AnnotationArg

	// Line is the 1-based source line of the annotation.
	Line int

	// Slot is the binding slot of a binding annotation, nil otherwise.
	Slot *int

	// Optional is set on binding annotations ending in "optional".
	Optional bool
}

// AnnotationArg is a typed string constant used as an annotation argument.
type AnnotationArg string

// ── Struct type arguments ──────────────────────────────────────────────────────
// These identify registered WGSL struct types. They can appear in @oxy:include and as the
// type of a buffer binding, optionally wrapped in array<>.

const (
	// AnnotationArgUniformBlock identifies the camera/sample uniform block. Its source is
	// registered by the renderer.
	AnnotationArgUniformBlock AnnotationArg = "uniform_block"

	// annotationArgVertex identifies the consolidated Vertex record.
	// Source: engine/scene/assets/vertex.wgsl
	annotationArgVertex AnnotationArg = "vertex"

	// annotationArgMaterial identifies the Material record.
	// Source: engine/scene/assets/material.wgsl
	annotationArgMaterial AnnotationArg = "material"

	// annotationArgOffset identifies the per-mesh Offset record.
	// Source: engine/scene/assets/offset.wgsl
	annotationArgOffset AnnotationArg = "offset"

	// annotationArgSphereParams identifies the implicit sphere record.
	// Source: engine/scene/assets/sphere_params.wgsl
	annotationArgSphereParams AnnotationArg = "sphere_params"
)

// ── Binding kind arguments ─────────────────────────────────────────────────────

const (
	annotationArgAccelerationStructure AnnotationArg = "acceleration_structure"
	annotationArgStorageImage          AnnotationArg = "storage_image"
	annotationArgUniform               AnnotationArg = "uniform"
	annotationArgStorage               AnnotationArg = "storage"
	annotationArgImageArray            AnnotationArg = "image_array"
)

// ── Access arguments ───────────────────────────────────────────────────────────

const (
	annotationArgRead      AnnotationArg = "read"
	annotationArgWrite     AnnotationArg = "write"
	annotationArgReadWrite AnnotationArg = "read_write"
)

// annotationArgOptional marks a binding that may stay unbound.
const annotationArgOptional AnnotationArg = "optional"

// validStructTypes lists the struct keys accepted by include and binding annotations. Each
// must have an entry in the PreProcessor's struct registry by the time Process runs.
var validStructTypes = []AnnotationArg{
	AnnotationArgUniformBlock,
	annotationArgVertex,
	annotationArgMaterial,
	annotationArgOffset,
	annotationArgSphereParams,
}

// validScalarTypes are WGSL types a buffer binding may name directly.
var validScalarTypes = []AnnotationArg{"u32", "i32", "f32"}

// validTexelFormats are the storage image formats, matching device.ImageFormat.
var validTexelFormats = []AnnotationArg{"rgba8unorm", "r32uint"}

var validBindingKinds = []AnnotationArg{
	annotationArgAccelerationStructure,
	annotationArgStorageImage,
	annotationArgUniform,
	annotationArgStorage,
	annotationArgImageArray,
}

var validAccess = []AnnotationArg{
	annotationArgRead,
	annotationArgWrite,
	annotationArgReadWrite,
}

// kindTakesType reports whether a binding kind is followed by a type argument.
func kindTakesType(kind AnnotationArg) bool {
	switch kind {
	case annotationArgStorageImage, annotationArgUniform, annotationArgStorage:
		return true
	default:
		return false
	}
}

// validBufferType reports whether t names a registered struct, a scalar, or an array of
// either.
func validBufferType(t string) bool {
	if inner, ok := strings.CutPrefix(t, "array<"); ok {
		t = strings.TrimSuffix(inner, ">")
	}
	return slices.Contains(validStructTypes, AnnotationArg(t)) || slices.Contains(validScalarTypes, AnnotationArg(t))
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch AnnotationType(args[0]) {
	case annotationTypeInclude:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		if !slices.Contains(validStructTypes, AnnotationArg(args[1])) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @oxy include annotation", lineNum, args[1])
		}
		return &Annotation{Type: annotationTypeInclude, Args: []AnnotationArg{AnnotationArg(args[1])}, Line: lineNum}, nil

	case AnnotationTypeBinding:
		return parseBinding(args[1:], lineNum)

	case AnnotationTypeRayGen, AnnotationTypeMiss:
		if len(args) != 3 {
			return nil, fmt.Errorf("line %d: @oxy %s annotation requires a group name and an entry point", lineNum, args[0])
		}
		return &Annotation{
			Type: AnnotationType(args[0]),
			Args: []AnnotationArg{AnnotationArg(args[1]), AnnotationArg(args[2])},
			Line: lineNum,
		}, nil

	case AnnotationTypeHit:
		if len(args) < 3 || len(args) > 4 {
			return nil, fmt.Errorf("line %d: @oxy hit annotation requires a group name, a closest hit and an optional intersection entry point", lineNum)
		}
		hitArgs := make([]AnnotationArg, 0, 3)
		for _, a := range args[1:] {
			hitArgs = append(hitArgs, AnnotationArg(a))
		}
		return &Annotation{Type: AnnotationTypeHit, Args: hitArgs, Line: lineNum}, nil

	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}

// parseBinding parses the arguments following "binding".
func parseBinding(args []string, lineNum int) (*Annotation, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("line %d: @oxy binding annotation requires a slot, kind, access and var name", lineNum)
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 {
		return nil, fmt.Errorf("line %d: invalid slot %q in @oxy binding annotation", lineNum, args[0])
	}
	kind := AnnotationArg(args[1])
	if !slices.Contains(validBindingKinds, kind) {
		return nil, fmt.Errorf("line %d: unknown binding kind %q in @oxy binding annotation", lineNum, args[1])
	}
	access := AnnotationArg(args[2])
	if !slices.Contains(validAccess, access) {
		return nil, fmt.Errorf("line %d: unknown access %q in @oxy binding annotation", lineNum, args[2])
	}

	a := &Annotation{
		Type: AnnotationTypeBinding,
		Args: []AnnotationArg{kind, access, AnnotationArg(args[3])},
		Line: lineNum,
		Slot: &slot,
	}
	rest := args[4:]
	if kindTakesType(kind) {
		if len(rest) == 0 {
			return nil, fmt.Errorf("line %d: @oxy %s binding requires a type", lineNum, kind)
		}
		typ := rest[0]
		switch kind {
		case annotationArgStorageImage:
			if !slices.Contains(validTexelFormats, AnnotationArg(typ)) {
				return nil, fmt.Errorf("line %d: unknown texel format %q in @oxy binding annotation", lineNum, typ)
			}
		default:
			if !validBufferType(typ) {
				return nil, fmt.Errorf("line %d: unknown buffer type %q in @oxy binding annotation", lineNum, typ)
			}
		}
		a.Args = append(a.Args, AnnotationArg(typ))
		rest = rest[1:]
	}
	switch {
	case len(rest) == 0:
	case len(rest) == 1 && AnnotationArg(rest[0]) == annotationArgOptional:
		a.Optional = true
	default:
		return nil, fmt.Errorf("line %d: unexpected arguments %q in @oxy binding annotation", lineNum, rest)
	}
	if kind == annotationArgUniform && access != annotationArgRead {
		return nil, fmt.Errorf("line %d: uniform binding %q must be read", lineNum, args[3])
	}
	return a, nil
}
