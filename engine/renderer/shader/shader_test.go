package shader

import (
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgram = `//@oxy:include vertex
//@oxy:binding 0 acceleration_structure read scene
//@oxy:binding 2 storage_image write output r32uint
//@oxy:binding 3 uniform read camera params
//@oxy:binding 4 storage read vertices array<vertex>
//@oxy:binding 5 storage read indices array<u32>
//@oxy:binding 9 storage read spheres array<sphere_params> optional
//@oxy:raygen raygen ray_gen
//@oxy:miss miss miss
//@oxy:hit triangles closest_hit
//@oxy:hit spheres closest_hit sphere
//@oxy:miss shadow shadow_miss

fn ray_gen() {}
fn miss() {}
fn shadow_miss() {}
fn closest_hit() {}
fn sphere() {}
`

const paramsSource = "struct Params {\n    frame: u32,\n};"

func TestParseAnnotation(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
		want    *Annotation
	}{
		{name: "plain line", line: "let x = 1;"},
		{name: "include", line: "//@oxy:include offset", want: &Annotation{Type: annotationTypeInclude, Args: []AnnotationArg{"offset"}, Line: 1}},
		{name: "unknown include", line: "//@oxy:include camera", wantErr: true},
		{name: "raygen", line: "  //@oxy:raygen rg main", want: &Annotation{Type: AnnotationTypeRayGen, Args: []AnnotationArg{"rg", "main"}, Line: 1}},
		{name: "miss without entry", line: "//@oxy:miss m", wantErr: true},
		{name: "hit with intersection", line: "//@oxy:hit h ch is", want: &Annotation{Type: AnnotationTypeHit, Args: []AnnotationArg{"h", "ch", "is"}, Line: 1}},
		{name: "empty", line: "//@oxy:", wantErr: true},
		{name: "unknown type", line: "//@oxy:group 0 0", wantErr: true},
		{name: "bad slot", line: "//@oxy:binding x storage read v array<u32>", wantErr: true},
		{name: "bad kind", line: "//@oxy:binding 1 sampler read v", wantErr: true},
		{name: "bad access", line: "//@oxy:binding 1 storage rw v array<u32>", wantErr: true},
		{name: "missing type", line: "//@oxy:binding 1 storage read v", wantErr: true},
		{name: "bad texel format", line: "//@oxy:binding 1 storage_image write v rgba32float", wantErr: true},
		{name: "writable uniform", line: "//@oxy:binding 3 uniform write u uniform_block", wantErr: true},
		{name: "trailing junk", line: "//@oxy:binding 0 acceleration_structure read s extra", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnnotation(tt.line, 1)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	a, err := parseAnnotation("//@oxy:binding 9 storage read spheres array<sphere_params> optional", 7)
	require.NoError(t, err)
	require.NotNil(t, a.Slot)
	assert.Equal(t, 9, *a.Slot)
	assert.True(t, a.Optional)
	assert.Equal(t, 7, a.Line)
}

func TestPreProcessorDeclarations(t *testing.T) {
	pp := NewPreProcessor(WithStruct("params", paramsSource, "Params"))
	_, err := pp.Process(testProgram)
	require.Error(t, err, "params is not a known struct key")

	pp = NewPreProcessor(WithStruct(AnnotationArgUniformBlock, paramsSource, "Params"))
	out, err := pp.Process(strings.Replace(testProgram, "camera params", "camera uniform_block", 1))
	require.NoError(t, err)

	assert.NotContains(t, out, "@oxy:")
	assert.Contains(t, out, "struct Vertex {")
	for _, decl := range []string{
		"@group(0) @binding(0) var scene: acceleration_structure;",
		"@group(0) @binding(2) var output: texture_storage_2d<r32uint, write>;",
		"@group(0) @binding(3) var<uniform> camera: Params;",
		"@group(0) @binding(4) var<storage, read> vertices: array<Vertex>;",
		"@group(0) @binding(5) var<storage, read> indices: array<u32>;",
		"@group(0) @binding(9) var<storage, read> spheres: array<SphereParams>;",
	} {
		assert.Contains(t, out, decl)
	}
	assert.Len(t, pp.Declarations(), 11)

	_, err = NewPreProcessor().Process("//@oxy:include uniform_block")
	assert.ErrorContains(t, err, "not registered")
}

func TestShaderGroupsAndLayout(t *testing.T) {
	pp := NewPreProcessor(WithStruct(AnnotationArgUniformBlock, paramsSource, "Params"))
	s, err := NewShader("test", strings.Replace(testProgram, "camera params", "camera uniform_block", 1), WithPreProcessor(pp))
	require.NoError(t, err)

	assert.Equal(t, []device.ShaderGroup{
		{Type: device.ShaderGroupGeneral, Name: "raygen", General: "ray_gen"},
		{Type: device.ShaderGroupGeneral, Name: "miss", General: "miss"},
		{Type: device.ShaderGroupTrianglesHit, Name: "triangles", ClosestHit: "closest_hit"},
		{Type: device.ShaderGroupProceduralHit, Name: "spheres", ClosestHit: "closest_hit", Intersection: "sphere"},
		{Type: device.ShaderGroupGeneral, Name: "shadow", General: "shadow_miss"},
	}, s.Groups())

	assert.Equal(t, []uint32{0}, s.GroupIndices(AnnotationTypeRayGen))
	assert.Equal(t, []uint32{1, 4}, s.GroupIndices(AnnotationTypeMiss))
	assert.Equal(t, []uint32{2, 3}, s.GroupIndices(AnnotationTypeHit))
	idx, ok := s.GroupIndex("spheres")
	assert.True(t, ok)
	assert.EqualValues(t, 3, idx)
	_, ok = s.GroupIndex("nope")
	assert.False(t, ok)

	assert.Equal(t, []device.BindingLayoutEntry{
		{Slot: 0, Type: device.BindingAccelerationStructure, Access: device.AccessReadOnly},
		{Slot: 2, Type: device.BindingStorageImage, Access: device.AccessWriteOnly},
		{Slot: 3, Type: device.BindingUniformBuffer, Access: device.AccessReadOnly},
		{Slot: 4, Type: device.BindingStorageBuffer, Access: device.AccessReadOnly},
		{Slot: 5, Type: device.BindingStorageBuffer, Access: device.AccessReadOnly},
		{Slot: 9, Type: device.BindingStorageBuffer, Access: device.AccessReadOnly, Optional: true},
	}, s.Layout())
}

func TestShaderValidation(t *testing.T) {
	tests := []struct {
		name   string
		source string
		errMsg string
	}{
		{name: "no ray generation", source: "//@oxy:miss m miss\nfn miss() {}", errMsg: "no ray generation group"},
		{name: "undefined entry point", source: "//@oxy:raygen rg main\nfn other() {}", errMsg: `entry point "main"`},
		{name: "duplicate group", source: "//@oxy:raygen rg main\n//@oxy:miss rg main\nfn main() {}", errMsg: `group "rg" already declared`},
		{name: "duplicate slot", source: "//@oxy:raygen rg main\n//@oxy:binding 1 storage read a array<u32>\n//@oxy:binding 1 storage read b array<u32>\nfn main() {}", errMsg: "slot 1 already declared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewShader("bad", tt.source)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}

	_, err := NewShaderFromFile("missing", "does/not/exist.wgsl")
	assert.Error(t, err)
}
