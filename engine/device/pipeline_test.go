package device

import (
	"encoding/binary"
	"testing"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGroups = []ShaderGroup{
	{Type: ShaderGroupGeneral, Name: "raygen", General: "raygen"},
	{Type: ShaderGroupGeneral, Name: "miss", General: "miss"},
	{Type: ShaderGroupTrianglesHit, Name: "triangles", ClosestHit: "closest_hit"},
	{Type: ShaderGroupProceduralHit, Name: "spheres", ClosestHit: "closest_hit", Intersection: "sphere"},
}

var testLayout = []BindingLayoutEntry{
	{Slot: 0, Type: BindingAccelerationStructure},
	{Slot: 1, Type: BindingStorageImage, Access: AccessReadWrite},
	{Slot: 2, Type: BindingStorageImage, Access: AccessWriteOnly},
	{Slot: 3, Type: BindingUniformBuffer, Optional: true},
}

type gridRays struct{}

func (gridRays) GenerateRay(x, y, width, height uint32) common.Ray {
	return common.Ray{
		Origin: common.Vec3{
			(float32(x)+0.5)/float32(width)*4 - 2,
			(float32(y)+0.3)/float32(height)*4 - 2,
			0,
		},
		Direction: common.Vec3{0, 0, -1},
	}
}

func TestPipelineHandles(t *testing.T) {
	d := newTestDevice(t)

	_, err := d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{Label: "empty"})
	assertKind(t, err, KindResourceCreation)

	_, err = d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{
		Label:  "bad group",
		Groups: []ShaderGroup{{Type: ShaderGroupProceduralHit, Name: "no intersection"}},
	})
	assertKind(t, err, KindResourceCreation)

	p, err := d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{Label: "scene", Groups: testGroups, MaxRecursionDepth: 2, Layout: testLayout})
	require.NoError(t, err)

	size := int(d.Limits().ShaderGroupHandleSize)
	all, err := p.ShaderGroupHandles(0, 4)
	require.NoError(t, err)
	require.Len(t, all, 4*size)

	second, err := p.ShaderGroupHandles(1, 1)
	require.NoError(t, err)
	assert.Equal(t, all[size:2*size], second)
	assert.NotEqual(t, all[:size], all[size:2*size])

	again, err := d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{Label: "scene", Groups: testGroups, Layout: testLayout})
	require.NoError(t, err)
	other, err := again.ShaderGroupHandles(0, 1)
	require.NoError(t, err)
	assert.NotEqual(t, all[:size], other, "handles are unique per pipeline")

	_, err = p.ShaderGroupHandles(3, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, again.Destroy())
	_, err = again.ShaderGroupHandles(0, 1)
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.Equal(t, 1, d.Stats().Pipelines)
}

func TestBindGroupValidation(t *testing.T) {
	d := newTestDevice(t)

	p, err := d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{Label: "scene", Groups: testGroups, Layout: testLayout})
	require.NoError(t, err)
	img, err := d.CreateImage(ImageDescriptor{Label: "output", Width: 4, Height: 4, Usage: ImageUsageStorage})
	require.NoError(t, err)

	_, err = d.CreateBindGroup(BindGroupDescriptor{Label: "partial", Pipeline: p, Entries: []BindGroupEntry{
		{Slot: 2, Image: img},
	}})
	assert.ErrorIs(t, err, ErrNotBound)

	_, err = d.CreateBindGroup(BindGroupDescriptor{Label: "unknown slot", Pipeline: p, Entries: []BindGroupEntry{
		{Slot: 9, Image: img},
	}})
	assertKind(t, err, KindContractViolation)

	storage, _ := newFilledBuffer(t, d, "not uniform", BufferUsageStorage, make([]byte, 64))
	_, err = d.CreateBindGroup(BindGroupDescriptor{Label: "wrong usage", Pipeline: p, Entries: []BindGroupEntry{
		{Slot: 3, Buffer: storage},
	}})
	assert.ErrorIs(t, err, ErrMissingUsage)
}

// writeShaderTable lays out one raygen, two miss and two hit records at a 64-byte stride.
func writeShaderTable(t *testing.T, d Device, p Pipeline) ShaderBindingRegions {
	t.Helper()
	handles, err := p.ShaderGroupHandles(0, 4)
	require.NoError(t, err)
	size := int(d.Limits().ShaderGroupHandleSize)

	const stride = 64
	data := make([]byte, 5*stride)
	copy(data[0:], handles[0:size])
	copy(data[stride:], handles[size:2*size])
	copy(data[3*stride:], handles[2*size:3*size])
	copy(data[4*stride:], handles[3*size:4*size])

	buf, _ := newFilledBuffer(t, d, "sbt", BufferUsageShaderBindingTable|BufferUsageDeviceAddress, data)
	base := buf.DeviceAddress()
	require.NotZero(t, base)
	return ShaderBindingRegions{
		RayGen: StridedRegion{Address: base, Stride: stride, Size: stride},
		Miss:   StridedRegion{Address: base + stride, Stride: stride, Size: 2 * stride},
		Hit:    StridedRegion{Address: base + 3*stride, Stride: stride, Size: 2 * stride},
	}
}

func TestTraceRaysWritesPrimaryHits(t *testing.T) {
	d := newTestDevice(t)

	quad := quadGeometry(t, d)
	blas, _, _, blasScratch := newStructure(t, d, AccelerationStructureBottomLevel, 0, []Geometry{quad})
	instances := instanceGeometry(t, d, []InstanceRecord{
		NewInstanceRecord(translation(0, 0, -5), 41, 0xFF, 0, 0, blas.DeviceAddress()),
	})
	tlas, _, _, tlasScratch := newStructure(t, d, AccelerationStructureTopLevel, 0, []Geometry{instances})

	p, err := d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{Label: "scene", Groups: testGroups, Layout: testLayout})
	require.NoError(t, err)
	accumulation, err := d.CreateImage(ImageDescriptor{Label: "accumulation", Width: 4, Height: 4, Format: ImageFormatR32Uint})
	require.NoError(t, err)
	output, err := d.CreateImage(ImageDescriptor{Label: "output", Width: 4, Height: 4, Format: ImageFormatR32Uint})
	require.NoError(t, err)
	bg, err := d.CreateBindGroup(BindGroupDescriptor{Label: "scene", Pipeline: p, Entries: []BindGroupEntry{
		{Slot: 0, AccelerationStructure: tlas},
		{Slot: 1, Image: accumulation},
		{Slot: 2, Image: output},
	}})
	require.NoError(t, err)
	regions := writeShaderTable(t, d, p)

	cb, err := d.CreateCommandBuffer("frame")
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.BuildAccelerationStructure(BuildInfo{Destination: blas, Geometries: []Geometry{quad}, Scratch: blasScratch}))
	cb.Barrier(BarrierAccelerationStructureBuild)
	require.NoError(t, cb.BuildAccelerationStructure(BuildInfo{Destination: tlas, Geometries: []Geometry{instances}, Scratch: tlasScratch}))
	cb.Barrier(BarrierAccelerationStructureBuild)
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.TraceRays(TraceRaysInfo{Pipeline: p, BindGroup: bg, Regions: regions, Width: 4, Height: 4, Rays: gridRays{}}))
	}
	require.NoError(t, cb.End())
	require.NoError(t, submitAndWait(t, d, cb))
	assert.EqualValues(t, 2, d.Stats().Dispatches)

	pixels, err := output.Pixels()
	require.NoError(t, err)
	for y := uint32(0); y < 4; y++ {
		for x := uint32(0); x < 4; x++ {
			want := uint32(0)
			if x >= 1 && x <= 2 && y >= 1 && y <= 2 {
				want = 42
			}
			assert.Equal(t, want, binary.LittleEndian.Uint32(pixels[(y*4+x)*4:]), "pixel %d,%d", x, y)
		}
	}

	counts, err := accumulation.Pixels()
	require.NoError(t, err)
	assert.EqualValues(t, 2, binary.LittleEndian.Uint32(counts))
}

func TestTraceRaysRejectsBadShaderRecords(t *testing.T) {
	d := newTestDevice(t)

	quad := quadGeometry(t, d)
	blas, _, _, blasScratch := newStructure(t, d, AccelerationStructureBottomLevel, 0, []Geometry{quad})
	instances := instanceGeometry(t, d, []InstanceRecord{
		NewInstanceRecord(translation(0, 0, -5), 0, 0xFF, 0, 0, blas.DeviceAddress()),
	})
	tlas, _, _, tlasScratch := newStructure(t, d, AccelerationStructureTopLevel, 0, []Geometry{instances})

	p, err := d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{Label: "scene", Groups: testGroups, Layout: testLayout})
	require.NoError(t, err)
	other, err := d.CreateRayTracingPipeline(RayTracingPipelineDescriptor{Label: "other", Groups: testGroups, Layout: testLayout})
	require.NoError(t, err)
	accumulation, err := d.CreateImage(ImageDescriptor{Label: "accumulation", Width: 2, Height: 2})
	require.NoError(t, err)
	output, err := d.CreateImage(ImageDescriptor{Label: "output", Width: 2, Height: 2})
	require.NoError(t, err)
	bg, err := d.CreateBindGroup(BindGroupDescriptor{Label: "scene", Pipeline: p, Entries: []BindGroupEntry{
		{Slot: 0, AccelerationStructure: tlas},
		{Slot: 1, Image: accumulation},
		{Slot: 2, Image: output},
	}})
	require.NoError(t, err)

	setup, err := d.CreateCommandBuffer("setup")
	require.NoError(t, err)
	require.NoError(t, setup.Begin())
	require.NoError(t, setup.BuildAccelerationStructure(BuildInfo{Destination: blas, Geometries: []Geometry{quad}, Scratch: blasScratch}))
	setup.Barrier(BarrierAccelerationStructureBuild)
	require.NoError(t, setup.BuildAccelerationStructure(BuildInfo{Destination: tlas, Geometries: []Geometry{instances}, Scratch: tlasScratch}))
	require.NoError(t, setup.End())
	require.NoError(t, submitAndWait(t, d, setup))

	good := writeShaderTable(t, d, p)
	foreign := writeShaderTable(t, d, other)

	cases := map[string]ShaderBindingRegions{
		"raygen size differs from stride": func() ShaderBindingRegions {
			r := good
			r.RayGen.Size = 2 * r.RayGen.Stride
			return r
		}(),
		"stride below handle size": func() ShaderBindingRegions {
			r := good
			r.Miss.Stride = 16
			r.Miss.Size = 32
			return r
		}(),
		"misaligned region": func() ShaderBindingRegions {
			r := good
			r.Hit.Address += 32
			return r
		}(),
		"handle from another pipeline": foreign,
	}
	for name, regions := range cases {
		t.Run(name, func(t *testing.T) {
			cb, err := d.CreateCommandBuffer(name)
			require.NoError(t, err)
			require.NoError(t, cb.Begin())
			require.NoError(t, cb.TraceRays(TraceRaysInfo{Pipeline: p, BindGroup: bg, Regions: regions, Width: 2, Height: 2}))
			require.NoError(t, cb.End())

			err = submitAndWait(t, d, cb)
			assert.ErrorIs(t, err, ErrInvalidShaderRecords)
			assertKind(t, err, KindContractViolation)
		})
	}
}
