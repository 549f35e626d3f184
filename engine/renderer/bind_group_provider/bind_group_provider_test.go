package bind_group_provider

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) device.Device {
	t.Helper()
	d, err := device.NewDevice(device.WithWorkers(1), device.WithFenceTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

func newStorage(t *testing.T, d device.Device, label string) buffer.DeviceBuffer {
	t.Helper()
	b, err := buffer.NewDeviceBuffer(d, buffer.WithLabel(label), buffer.WithSize(64), buffer.WithUsage(device.BufferUsageStorage))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Destroy() })
	return b
}

func TestSlotNumbering(t *testing.T) {
	assert.EqualValues(t, 0, SlotTopLevel)
	assert.EqualValues(t, 1, SlotAccumulation)
	assert.EqualValues(t, 2, SlotOutput)
	assert.EqualValues(t, 3, SlotUniforms)
	assert.EqualValues(t, 4, SlotVertices)
	assert.EqualValues(t, 5, SlotIndices)
	assert.EqualValues(t, 6, SlotMaterials)
	assert.EqualValues(t, 7, SlotOffsets)
	assert.EqualValues(t, 8, SlotTextures)
	assert.EqualValues(t, 9, SlotSpheres)
	assert.EqualValues(t, 10, SlotCount)
}

func TestProviderInit(t *testing.T) {
	d := newTestDevice(t)
	p, err := d.CreateRayTracingPipeline(device.RayTracingPipelineDescriptor{
		Label:  "provider test",
		Groups: []device.ShaderGroup{{Type: device.ShaderGroupGeneral, Name: "raygen", General: "raygen"}},
		Layout: []device.BindingLayoutEntry{
			{Slot: SlotUniforms, Type: device.BindingUniformBuffer},
			{Slot: SlotVertices, Type: device.BindingStorageBuffer},
			{Slot: SlotSpheres, Type: device.BindingStorageBuffer, Optional: true},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	vertices := newStorage(t, d, "vertices")
	provider := NewBindGroupProvider(WithLabel("test bindings"), WithBuffers(map[uint32]buffer.DeviceBuffer{
		SlotVertices: vertices,
		SlotSpheres:  nil,
	}))
	assert.Equal(t, "test bindings", provider.Label())
	assert.Nil(t, provider.BindGroup())

	err = provider.Init(d, p)
	assert.ErrorIs(t, err, device.ErrNotBound, "the uniform slot is not optional")

	before := d.Stats().Buffers
	require.NoError(t, provider.InitUniformBuffer(d, SlotUniforms, 288))
	assert.Equal(t, before+1, d.Stats().Buffers)
	require.NoError(t, provider.Init(d, p))
	require.NotNil(t, provider.BindGroup())

	entries := provider.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, SlotUniforms, entries[0].Slot)
	assert.Equal(t, SlotVertices, entries[1].Slot)
	assert.Equal(t, vertices.Buffer(), entries[1].Buffer)

	block := []byte{1, 2, 3, 4}
	require.NoError(t, WriteBuffers(BufferWrite{Provider: provider, Slot: SlotUniforms, Offset: 256, Data: block}))
	got, err := provider.Buffer(SlotUniforms).Read(256, 4)
	require.NoError(t, err)
	assert.Equal(t, block, got)
	assert.ErrorIs(t, WriteBuffers(BufferWrite{Provider: provider, Slot: SlotOffsets, Data: block}), ErrEmptySlot)

	provider.SetBuffer(SlotSpheres, newStorage(t, d, "spheres"))
	assert.Nil(t, provider.BindGroup(), "changing a slot drops the bind group")
	require.NoError(t, provider.Init(d, p))
	assert.Len(t, provider.Buffers(), 3)

	withSpheres := d.Stats().Buffers
	provider.Release()
	assert.Equal(t, withSpheres-1, d.Stats().Buffers, "only the owned uniform buffer is destroyed")
	assert.Nil(t, provider.Buffer(SlotUniforms))
	assert.NotNil(t, provider.Buffer(SlotVertices))
	assert.Nil(t, provider.BindGroup())
}

func TestProviderRejectsWrongUsage(t *testing.T) {
	d := newTestDevice(t)
	p, err := d.CreateRayTracingPipeline(device.RayTracingPipelineDescriptor{
		Label:  "usage test",
		Groups: []device.ShaderGroup{{Type: device.ShaderGroupGeneral, Name: "raygen", General: "raygen"}},
		Layout: []device.BindingLayoutEntry{{Slot: SlotUniforms, Type: device.BindingUniformBuffer}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	provider := NewBindGroupProvider(WithBuffer(SlotUniforms, newStorage(t, d, "not uniform")))
	err = provider.Init(d, p)
	kind, ok := device.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, device.KindContractViolation, kind)

	assert.Error(t, provider.Init(d, nil))
}
