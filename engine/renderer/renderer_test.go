package renderer

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, options ...device.DeviceBuilderOption) device.Device {
	t.Helper()
	options = append([]device.DeviceBuilderOption{device.WithWorkers(2), device.WithFenceTimeout(2 * time.Second)}, options...)
	d, err := device.NewDevice(options...)
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func translate(x, y, z float32) [16]float32 {
	m := common.IdentityMatrix()
	m[12], m[13], m[14] = x, y, z
	return m
}

// boxAndSphere registers a unit box (mesh 0) and an analytic sphere (mesh 1) and returns
// one instance of each: the box at the origin, the sphere off to the side.
func boxAndSphere(t *testing.T) (scene.SceneAssetRegistry, []scene.Instance) {
	t.Helper()
	reg := scene.NewSceneAssetRegistry()
	t.Cleanup(reg.Release)
	box, err := reg.Load(scene.ShapeBox)
	require.NoError(t, err)
	sphere, err := reg.Load(scene.ShapeSphere)
	require.NoError(t, err)
	return reg, []scene.Instance{
		{MeshIndex: box, Transform: common.IdentityMatrix(), ShadingGroup: scene.MeshKindTriangles.ShadingGroup()},
		{MeshIndex: sphere, Transform: translate(3, 0, 0), ShadingGroup: scene.MeshKindAnalyticSphere.ShadingGroup()},
	}
}

func buildRenderer(t *testing.T, d device.Device, options ...RendererBuilderOption) (Renderer, []scene.Instance) {
	t.Helper()
	reg, instances := boxAndSphere(t)
	r := NewRenderer(d, options...)
	require.NoError(t, r.BuildScene(context.Background(), reg, instances))
	t.Cleanup(func() { _ = r.Release() })
	return r, instances
}

func dispatch(t *testing.T, d device.Device, r Renderer) {
	t.Helper()
	cmd, err := d.CreateCommandBuffer("test dispatch")
	require.NoError(t, err)
	require.NoError(t, cmd.Begin())
	require.NoError(t, r.RecordDispatch(cmd))
	require.NoError(t, cmd.End())
	fence, err := d.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, d.Submit([]device.CommandBuffer{cmd}, fence))
	require.NoError(t, fence.Wait(context.Background()))
}

func texel(t *testing.T, img device.Image, x, y uint32) uint32 {
	t.Helper()
	pixels, err := img.Pixels()
	require.NoError(t, err)
	return binary.LittleEndian.Uint32(pixels[(y*img.Width()+x)*4:])
}

func TestUniformBlock(t *testing.T) {
	var u UniformBlock
	u.SamplesPerFrame = 8
	u.Bounces = 8

	proj := common.IdentityMatrix()
	proj[5] = 2
	view := translate(1, 2, 3)
	u.SetCamera(view, proj)
	assert.Equal(t, float32(-2), u.Projection[5], "the projection y axis is flipped")
	assert.Equal(t, float32(-1), u.InverseView[12])
	assert.Equal(t, float32(-0.5), u.InverseProjection[5])

	u.Advance()
	u.Advance()
	assert.EqualValues(t, 16, u.TotalSamples)
	assert.EqualValues(t, 2, u.Frame)
	u.Reset()
	assert.EqualValues(t, 0, u.TotalSamples)
	assert.EqualValues(t, 2, u.Frame, "reset keeps the frame counter")

	u.Extent = [2]uint32{640, 480}
	data := u.Marshal()
	require.Len(t, data, UniformBlockSize)
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(data[256:]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[260:]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(data[264:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[268:]))
	assert.Equal(t, uint32(640), binary.LittleEndian.Uint32(data[272:]))
	assert.Equal(t, uint32(480), binary.LittleEndian.Uint32(data[276:]))
	assert.Equal(t, make([]byte, 8), data[280:])

	singular := [16]float32{}
	u.SetCamera(singular, singular)
	assert.Equal(t, common.IdentityMatrix(), u.InverseView)
}

func TestRendererBuildAndDispatch(t *testing.T) {
	d := newTestDevice(t)
	r, _ := buildRenderer(t, d, WithExtent(8, 8))

	sb := r.SceneBuffers()
	require.NotNil(t, sb)
	require.NotNil(t, sb.Spheres, "the sphere mesh is analytic")

	bindings := r.Bindings()
	require.NotNil(t, bindings.BindGroup())
	for slot := uint32(0); slot < bind_group_provider.SlotCount; slot++ {
		_, ok := bindings.BindGroup().Entry(slot)
		assert.True(t, ok, "slot %d is bound", slot)
	}

	dispatch(t, d, r)
	assert.EqualValues(t, 1, d.Stats().Dispatches)

	u := r.Uniforms()
	assert.EqualValues(t, 8, u.TotalSamples)
	assert.EqualValues(t, 1, u.Frame)
	assert.Equal(t, [2]uint32{8, 8}, u.Extent)
	written, err := bindings.Buffer(bind_group_provider.SlotUniforms).Read(0, UniformBlockSize)
	require.NoError(t, err)
	assert.Equal(t, u.Marshal(), written)

	// the default camera looks at the box from +z; ids are mesh index plus one
	assert.EqualValues(t, 1, texel(t, r.OutputImage(), 4, 4))
	assert.EqualValues(t, 0, texel(t, r.OutputImage(), 0, 0))
	assert.EqualValues(t, 1, texel(t, r.AccumulationImage(), 0, 0))

	dispatch(t, d, r)
	assert.EqualValues(t, 2, texel(t, r.AccumulationImage(), 7, 7))
	assert.EqualValues(t, 16, r.Uniforms().TotalSamples)
}

func TestRendererWithoutSpheres(t *testing.T) {
	d := newTestDevice(t)
	reg := scene.NewSceneAssetRegistry()
	t.Cleanup(reg.Release)
	box, err := reg.Load(scene.ShapeBox)
	require.NoError(t, err)

	r := NewRenderer(d, WithExtent(4, 4))
	t.Cleanup(func() { _ = r.Release() })
	require.NoError(t, r.BuildScene(context.Background(), reg, []scene.Instance{{MeshIndex: box, Transform: common.IdentityMatrix()}}))
	assert.Nil(t, r.SceneBuffers().Spheres)
	_, bound := r.Bindings().BindGroup().Entry(bind_group_provider.SlotSpheres)
	assert.False(t, bound)
	dispatch(t, d, r)
}

func TestRendererDispatchBeforeBuild(t *testing.T) {
	d := newTestDevice(t)
	r := NewRenderer(d)
	cmd, err := d.CreateCommandBuffer("early")
	require.NoError(t, err)
	require.NoError(t, cmd.Begin())

	err = r.RecordDispatch(cmd)
	kind, ok := device.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, device.KindContractViolation, kind)

	err = r.RebuildTopLevel(context.Background(), nil)
	kind, ok = device.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, device.KindContractViolation, kind)
}

func TestRendererRebuildIsIdempotent(t *testing.T) {
	d := newTestDevice(t)
	r, instances := buildRenderer(t, d, WithExtent(4, 4))
	dispatch(t, d, r)

	type triple struct {
		mesh      uint32
		transform [12]float32
		group     uint32
	}
	triples := func() []triple {
		var out []triple
		for _, rec := range r.TopLevel().Records() {
			out = append(out, triple{rec.CustomIndexAndMask & 0xFFFFFF, rec.Transform, rec.SBTOffsetAndFlags & 0xFFFFFF})
		}
		return out
	}

	first := triples()
	require.Len(t, first, len(instances))
	stats := d.Stats()
	handle := r.TopLevel().Structure().Handle
	table := r.ShaderBindingTable()
	native := r.Pipeline().Pipeline()

	for i := 0; i < 2; i++ {
		require.NoError(t, r.RebuildTopLevel(context.Background(), instances))
		assert.Equal(t, first, triples())
		assert.Equal(t, instances, r.Instances())
	}

	assert.NotSame(t, handle, r.TopLevel().Structure().Handle, "the top level is a new allocation")
	assert.NotSame(t, table, r.ShaderBindingTable(), "the record table is recreated")
	assert.NotSame(t, native, r.Pipeline().Pipeline(), "the pipeline is recreated")
	assert.EqualValues(t, 0, r.Uniforms().TotalSamples, "a rebuild resets accumulation")

	after := d.Stats()
	assert.Equal(t, stats.Buffers, after.Buffers)
	assert.Equal(t, stats.AccelerationStructures, after.AccelerationStructures)
	assert.Equal(t, stats.Pipelines, after.Pipelines)
	assert.Equal(t, stats.Images, after.Images)
	assert.Greater(t, r.LastRebuild(), time.Duration(0))

	dispatch(t, d, r)
}

func TestRendererRecreateOutputs(t *testing.T) {
	d := newTestDevice(t)
	r, _ := buildRenderer(t, d, WithExtent(4, 4))
	dispatch(t, d, r)

	old := r.OutputImage()
	require.NoError(t, r.RecreateOutputs(context.Background(), 6, 2))
	w, h := r.Extent()
	assert.EqualValues(t, 6, w)
	assert.EqualValues(t, 2, h)
	assert.NotSame(t, old, r.OutputImage())
	assert.EqualValues(t, 6, r.OutputImage().Width())
	assert.EqualValues(t, 2, r.AccumulationImage().Height())
	assert.EqualValues(t, 0, r.Uniforms().TotalSamples)

	dispatch(t, d, r)
	assert.Equal(t, [2]uint32{6, 2}, r.Uniforms().Extent)
}

func TestRendererReleaseOrder(t *testing.T) {
	d := newTestDevice(t)
	reg, instances := boxAndSphere(t)
	r := NewRenderer(d, WithExtent(4, 4))
	require.NoError(t, r.BuildScene(context.Background(), reg, instances))
	dispatch(t, d, r)

	// a result buffer cannot go before the structures placed in it
	err := r.BottomLevel().Structures()[0].Handle.Buffer().Destroy()
	assert.ErrorIs(t, err, device.ErrBufferInUse)

	require.NoError(t, r.Release())
	stats := d.Stats()
	assert.Zero(t, stats.Buffers)
	assert.Zero(t, stats.Memories)
	assert.Zero(t, stats.AccelerationStructures)
	assert.Zero(t, stats.Pipelines)
	assert.Zero(t, stats.Images)
	assert.Nil(t, r.TopLevel())
	assert.Nil(t, r.OutputImage())

	require.NoError(t, r.Release(), "releasing twice is a no-op")
}

func TestCameraRays(t *testing.T) {
	var u UniformBlock
	view := common.IdentityMatrix()
	common.LookAt(view[:], common.Vec3{0, 0, 5}, common.Vec3{}, common.Vec3{0, 1, 0})
	proj := common.IdentityMatrix()
	common.Perspective(proj[:], 1, 1, 0.1, 100)
	u.SetCamera(view, proj)

	rays := newCameraRays(&u)
	center := rays.GenerateRay(1, 1, 3, 3)
	assert.InDelta(t, 5, center.Origin[2], 1e-4)
	assert.InDelta(t, -1, center.Direction[2], 1e-4)

	top := rays.GenerateRay(1, 0, 3, 3)
	assert.Greater(t, top.Direction[1], float32(0), "row 0 is the top of the image")
	left := rays.GenerateRay(0, 1, 3, 3)
	assert.Less(t, left.Direction[0], float32(0))
}
