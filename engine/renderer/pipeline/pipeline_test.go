package pipeline

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-rt/engine/sbt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const program = `//@oxy:binding 0 acceleration_structure read scene
//@oxy:raygen raygen ray_gen
//@oxy:raygen debug debug_gen
//@oxy:miss miss miss
//@oxy:hit triangles closest_hit
//@oxy:miss shadow_miss shadow_miss
//@oxy:hit spheres closest_hit sphere

fn ray_gen() {}
fn debug_gen() {}
fn miss() {}
fn shadow_miss() {}
fn closest_hit() {}
fn sphere() {}
`

func newTestDevice(t *testing.T) device.Device {
	t.Helper()
	d, err := device.NewDevice(device.WithWorkers(1), device.WithFenceTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func assertKind(t *testing.T, err error, want device.ErrorKind) {
	t.Helper()
	kind, ok := device.KindOf(err)
	require.True(t, ok, "error %v is not a GpuError", err)
	assert.Equal(t, want, kind)
}

func TestPipelineLifecycle(t *testing.T) {
	d := newTestDevice(t)
	s, err := shader.NewShader("test program", program)
	require.NoError(t, err)

	p := NewPipeline("ray tracing", WithShader(s))
	assert.Equal(t, "ray tracing", p.PipelineKey())
	assert.EqualValues(t, DefaultMaxRecursionDepth, p.MaxRecursionDepth())
	assert.Nil(t, p.Pipeline())

	require.NoError(t, p.Init(d))
	require.NotNil(t, p.Pipeline())
	assert.Equal(t, s.Groups(), p.Pipeline().Groups())
	assert.Equal(t, s.Layout(), p.Pipeline().Layout())
	assert.Equal(t, 1, d.Stats().Pipelines)

	assertKind(t, p.Init(d), device.KindContractViolation)

	raygen, miss, hit := p.ShaderRecords()
	assert.Equal(t, []sbt.Entry{{GroupIndex: 0}}, raygen)
	assert.Equal(t, []sbt.Entry{{GroupIndex: 2}, {GroupIndex: 4}}, miss)
	assert.Equal(t, []sbt.Entry{{GroupIndex: 3}, {GroupIndex: 5}}, hit)

	table, err := sbt.NewShaderBindingTable(d, p.Pipeline(), raygen, miss, hit)
	require.NoError(t, err)
	require.NoError(t, table.Release())

	require.NoError(t, p.Release())
	assert.Nil(t, p.Pipeline())
	assert.Equal(t, 0, d.Stats().Pipelines)
	require.NoError(t, p.Release(), "releasing twice is a no-op")

	require.NoError(t, p.Init(d), "a released pipeline can be recreated")
	require.NoError(t, p.Release())
}

func TestPipelineInitErrors(t *testing.T) {
	d := newTestDevice(t)

	assertKind(t, NewPipeline("empty").Init(d), device.KindResourceCreation)

	s, err := shader.NewShader("test program", program)
	require.NoError(t, err)
	deep := NewPipeline("deep", WithShader(s), WithMaxRecursionDepth(32))
	assertKind(t, deep.Init(d), device.KindResourceCreation)
	assert.Nil(t, deep.Pipeline())

	raygen, miss, hit := NewPipeline("empty").ShaderRecords()
	assert.Nil(t, raygen)
	assert.Nil(t, miss)
	assert.Nil(t, hit)
}
