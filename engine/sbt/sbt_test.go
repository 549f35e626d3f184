package sbt

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groups = []device.ShaderGroup{
	{Type: device.ShaderGroupGeneral, Name: "raygen", General: "raygen"},
	{Type: device.ShaderGroupGeneral, Name: "miss", General: "miss"},
	{Type: device.ShaderGroupGeneral, Name: "shadow miss", General: "shadow_miss"},
	{Type: device.ShaderGroupTrianglesHit, Name: "triangles", ClosestHit: "closest_hit"},
	{Type: device.ShaderGroupProceduralHit, Name: "spheres", ClosestHit: "closest_hit", Intersection: "sphere"},
}

func newTestDevice(t *testing.T) device.Device {
	t.Helper()
	d, err := device.NewDevice(device.WithWorkers(1), device.WithFenceTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func newTestPipeline(t *testing.T, d device.Device) device.Pipeline {
	t.Helper()
	p, err := d.CreateRayTracingPipeline(device.RayTracingPipelineDescriptor{Label: "sbt test", Groups: groups, MaxRecursionDepth: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })
	return p
}

// newDispatcher returns a func that traces a 4x4 dispatch of p over the given regions and
// reports the execution result.
func newDispatcher(t *testing.T, d device.Device, p device.Pipeline) func(device.ShaderBindingRegions) error {
	t.Helper()
	bg, err := d.CreateBindGroup(device.BindGroupDescriptor{Label: "empty", Pipeline: p})
	require.NoError(t, err)

	return func(regions device.ShaderBindingRegions) error {
		cmd, err := d.CreateCommandBuffer("dispatch")
		require.NoError(t, err)
		require.NoError(t, cmd.Begin())
		require.NoError(t, cmd.TraceRays(device.TraceRaysInfo{Pipeline: p, BindGroup: bg, Regions: regions, Width: 4, Height: 4}))
		require.NoError(t, cmd.End())
		fence, err := d.CreateFence(false)
		require.NoError(t, err)
		require.NoError(t, d.Submit([]device.CommandBuffer{cmd}, fence))
		return fence.Wait(context.Background())
	}
}

func TestComputeLayout(t *testing.T) {
	limits := device.DefaultLimits()
	handle := uint64(limits.ShaderGroupHandleSize)
	base := uint64(limits.ShaderGroupBaseAlignment)

	l, err := ComputeLayout(limits,
		[]Entry{{GroupIndex: 0}},
		[]Entry{{GroupIndex: 1}, {GroupIndex: 2, InlineData: make([]byte, 40)}},
		[]Entry{{GroupIndex: 3, InlineData: make([]byte, 4)}, {GroupIndex: 4}, {GroupIndex: 3}},
	)
	require.NoError(t, err)

	assert.Equal(t, Region{Offset: 0, Stride: 64, Count: 1}, l.RayGen)
	assert.Equal(t, Region{Offset: 64, Stride: 128, Count: 2}, l.Miss)
	assert.Equal(t, Region{Offset: 64 + 256, Stride: 64, Count: 3}, l.Hit)
	assert.Equal(t, uint64(64+256+192), l.Size())

	for _, r := range []Region{l.RayGen, l.Miss, l.Hit} {
		assert.Zero(t, r.Stride%base)
		assert.Zero(t, r.Offset%base)
		assert.GreaterOrEqual(t, r.Stride, handle)
	}
	assert.GreaterOrEqual(t, l.Miss.Stride, handle+40, "stride fits the largest inline data")
	assert.Equal(t, l.RayGen.Offset+l.RayGen.Size(), l.Miss.Offset)
	assert.Equal(t, l.Miss.Offset+l.Miss.Size(), l.Hit.Offset)
}

func TestComputeLayoutViolations(t *testing.T) {
	limits := device.DefaultLimits()

	_, err := ComputeLayout(limits, nil, nil, nil)
	assert.ErrorIs(t, err, device.ErrInvalidShaderRecords)

	huge := []Entry{{InlineData: make([]byte, limits.MaxShaderGroupStride)}}
	_, err = ComputeLayout(limits, []Entry{{}}, nil, huge)
	kind, ok := device.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, device.KindContractViolation, kind)
}

func TestShaderBindingTableRecords(t *testing.T) {
	d := newTestDevice(t)
	p := newTestPipeline(t, d)
	size := int(d.Limits().ShaderGroupHandleSize)
	handles, err := p.ShaderGroupHandles(0, uint32(len(groups)))
	require.NoError(t, err)
	handle := func(g int) []byte { return handles[g*size : (g+1)*size] }

	inline := []byte{1, 2, 3, 4, 5}
	table, err := NewShaderBindingTable(d, p,
		[]Entry{{GroupIndex: 0}},
		[]Entry{{GroupIndex: 1}, {GroupIndex: 2}},
		[]Entry{{GroupIndex: 3, InlineData: inline}, {GroupIndex: 4}},
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, table.Release()) }()

	l := table.Layout()
	data, err := table.Buffer().Read(0, l.Size())
	require.NoError(t, err)

	record := func(r Region, i int) []byte { return data[r.RecordOffset(i) : r.RecordOffset(i)+r.Stride] }
	assert.Equal(t, handle(0), record(l.RayGen, 0)[:size])
	assert.Equal(t, handle(1), record(l.Miss, 0)[:size])
	assert.Equal(t, handle(2), record(l.Miss, 1)[:size])
	assert.Equal(t, handle(3), record(l.Hit, 0)[:size])
	assert.Equal(t, inline, record(l.Hit, 0)[size:size+len(inline)])
	assert.Equal(t, handle(4), record(l.Hit, 1)[:size])
	assert.True(t, bytes.Equal(make([]byte, int(l.Hit.Stride)-size), record(l.Hit, 1)[size:]), "records are zero padded")

	regions := table.Regions()
	base := table.Buffer().DeviceAddress()
	assert.Equal(t, device.StridedRegion{Address: base, Stride: l.RayGen.Stride, Size: l.RayGen.Stride}, regions.RayGen)
	assert.Equal(t, device.StridedRegion{Address: base + l.Miss.Offset, Stride: l.Miss.Stride, Size: 2 * l.Miss.Stride}, regions.Miss)
	assert.Equal(t, device.StridedRegion{Address: base + l.Hit.Offset, Stride: l.Hit.Stride, Size: 2 * l.Hit.Stride}, regions.Hit)
	assert.Zero(t, regions.Callable)
}

func TestShaderBindingTableDispatch(t *testing.T) {
	d := newTestDevice(t)
	p := newTestPipeline(t, d)
	table, err := NewShaderBindingTable(d, p, []Entry{{GroupIndex: 0}}, []Entry{{GroupIndex: 1}}, []Entry{{GroupIndex: 3}, {GroupIndex: 4}})
	require.NoError(t, err)
	defer func() { require.NoError(t, table.Release()) }()

	dispatch := newDispatcher(t, d, p)
	require.NoError(t, dispatch(table.Regions()))

	// a hit record does not hold a ray generation handle
	swapped := table.Regions()
	swapped.RayGen.Address = swapped.Hit.Address
	swapped.RayGen.Stride, swapped.RayGen.Size = swapped.Hit.Stride, swapped.Hit.Stride
	assert.ErrorIs(t, dispatch(swapped), device.ErrInvalidShaderRecords)
}

func TestShaderBindingTableRejectsUnknownGroups(t *testing.T) {
	d := newTestDevice(t)
	p := newTestPipeline(t, d)
	before := d.Stats().Buffers

	_, err := NewShaderBindingTable(d, p, []Entry{{GroupIndex: 0}}, nil, []Entry{{GroupIndex: uint32(len(groups))}})
	assert.ErrorIs(t, err, device.ErrInvalidShaderRecords)
	assert.Equal(t, before, d.Stats().Buffers, "no buffer is left behind")

	require.NoError(t, p.Destroy())
	_, err = NewShaderBindingTable(d, p, []Entry{{GroupIndex: 0}}, nil, nil)
	assert.ErrorIs(t, err, device.ErrDestroyed)
}

func TestComputeLayoutMultipleRayGen(t *testing.T) {
	limits := device.DefaultLimits()
	l, err := ComputeLayout(limits,
		[]Entry{{GroupIndex: 0}, {GroupIndex: 0, InlineData: make([]byte, 8)}},
		[]Entry{{GroupIndex: 1}},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, Region{Offset: 0, Stride: 64, Count: 2}, l.RayGen)
	assert.Equal(t, uint64(2*64), l.Miss.Offset, "miss starts after count x ray generation stride")
	assert.Equal(t, l.Miss.Offset+l.Miss.Size(), l.Hit.Offset)
	assert.Zero(t, l.Hit.Size())
}

func TestShaderBindingTableRayGenSelection(t *testing.T) {
	d := newTestDevice(t)
	p := newTestPipeline(t, d)
	table, err := NewShaderBindingTable(d, p,
		[]Entry{{GroupIndex: 0}, {GroupIndex: 0, InlineData: []byte{7}}},
		[]Entry{{GroupIndex: 1}},
		[]Entry{{GroupIndex: 3}},
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, table.Release()) }()

	base := table.Buffer().DeviceAddress()
	first, second := table.Regions(), table.RegionsFor(1)
	assert.Equal(t, base, first.RayGen.Address)
	assert.Equal(t, base+first.RayGen.Stride, second.RayGen.Address)
	assert.Equal(t, second.RayGen.Stride, second.RayGen.Size)
	assert.Equal(t, first.Miss, second.Miss)

	dispatch := newDispatcher(t, d, p)
	require.NoError(t, dispatch(first))
	require.NoError(t, dispatch(second))
	assert.ErrorIs(t, dispatch(table.RegionsFor(2)), device.ErrInvalidShaderRecords)
}
