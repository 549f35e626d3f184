package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, options ...DeviceBuilderOption) Device {
	t.Helper()
	d, err := NewDevice(append([]DeviceBuilderOption{WithWorkers(2), WithFenceTimeout(2 * time.Second)}, options...)...)
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return d
}

// newFilledBuffer creates a buffer on its own host-visible memory and writes data into it.
func newFilledBuffer(t *testing.T, d Device, label string, usage BufferUsage, data []byte) (Buffer, Memory) {
	t.Helper()
	size := uint64(len(data))
	buf, err := d.CreateBuffer(BufferDescriptor{Label: label, Size: size, Usage: usage})
	require.NoError(t, err)
	mem, err := d.AllocateMemory(MemoryDescriptor{Label: label, Size: size, HostVisible: true})
	require.NoError(t, err)
	require.NoError(t, buf.Bind(mem, 0))

	view, err := mem.Map(0, size)
	require.NoError(t, err)
	copy(view, data)
	require.NoError(t, mem.Unmap())
	return buf, mem
}

func submitAndWait(t *testing.T, d Device, cb CommandBuffer) error {
	t.Helper()
	f, err := d.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, d.Submit([]CommandBuffer{cb}, f))
	return f.Wait(context.Background())
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	got, ok := KindOf(err)
	require.True(t, ok, "error %v carries no GpuError", err)
	assert.Equal(t, kind, got, "error: %v", err)
}

func TestMapIsScopedAndExclusive(t *testing.T) {
	d := newTestDevice(t)

	mem, err := d.AllocateMemory(MemoryDescriptor{Label: "staging", Size: 64, HostVisible: true})
	require.NoError(t, err)
	defer mem.Free()

	view, err := mem.Map(0, 16)
	require.NoError(t, err)
	copy(view, []byte{1, 2, 3, 4})

	_, err = mem.Map(32, 8)
	assert.ErrorIs(t, err, ErrAlreadyMapped)
	assertKind(t, err, KindContractViolation)

	require.NoError(t, mem.Unmap())
	assert.ErrorIs(t, mem.Unmap(), ErrNotMapped)

	again, err := mem.Map(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, again)
	require.NoError(t, mem.Unmap())

	_, err = mem.Map(60, 8)
	assert.ErrorIs(t, err, ErrOutOfRange)

	local, err := d.AllocateMemory(MemoryDescriptor{Label: "local", Size: 64})
	require.NoError(t, err)
	defer local.Free()
	_, err = local.Map(0, 4)
	assert.ErrorIs(t, err, ErrNotHostVisible)
}

func TestCreateRejectsInvalidDescriptors(t *testing.T) {
	d := newTestDevice(t)

	_, err := d.CreateBuffer(BufferDescriptor{Label: "empty", Usage: BufferUsageStorage})
	assertKind(t, err, KindResourceCreation)

	_, err = d.CreateBuffer(BufferDescriptor{Label: "huge", Size: d.Limits().MaxBufferSize + 1, Usage: BufferUsageStorage})
	assertKind(t, err, KindResourceCreation)

	_, err = d.CreateBuffer(BufferDescriptor{Label: "unused", Size: 4})
	assertKind(t, err, KindResourceCreation)

	_, err = d.AllocateMemory(MemoryDescriptor{Label: "empty"})
	assertKind(t, err, KindResourceCreation)
}

func TestBindChecksRangeAndAlignment(t *testing.T) {
	d := newTestDevice(t)

	mem, err := d.AllocateMemory(MemoryDescriptor{Label: "mem", Size: 64})
	require.NoError(t, err)
	buf, err := d.CreateBuffer(BufferDescriptor{Label: "buf", Size: 32, Usage: BufferUsageStorage})
	require.NoError(t, err)

	assert.ErrorIs(t, buf.Bind(mem, 2), ErrMisaligned)
	assert.ErrorIs(t, buf.Bind(mem, 40), ErrOutOfRange)
	require.NoError(t, buf.Bind(mem, 32))
	assert.ErrorIs(t, buf.Bind(mem, 0), ErrAlreadyBound)
	assert.Zero(t, buf.DeviceAddress(), "address needs the device address usage")

	require.NoError(t, buf.Destroy())
	require.NoError(t, mem.Free())
}

func TestDestructionOrderIsEnforced(t *testing.T) {
	d := newTestDevice(t)

	buf, mem := newFilledBuffer(t, d, "mesh", BufferUsageStorage, make([]byte, 16))

	err := mem.Free()
	assert.ErrorIs(t, err, ErrMemoryInUse)
	assertKind(t, err, KindContractViolation)

	require.NoError(t, buf.Destroy())
	assert.ErrorIs(t, buf.Destroy(), ErrDestroyed)
	require.NoError(t, mem.Free())
	assert.ErrorIs(t, mem.Free(), ErrDestroyed)

	stats := d.Stats()
	assert.Zero(t, stats.Buffers)
	assert.Zero(t, stats.Memories)
	assert.Zero(t, stats.AllocatedBytes)
}

func TestCopyRoundTrip(t *testing.T) {
	d := newTestDevice(t)

	src, srcMem := newFilledBuffer(t, d, "src", BufferUsageTransferSrc, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	dst, dstMem := newFilledBuffer(t, d, "dst", BufferUsageTransferDst, make([]byte, 8))

	cb, err := d.CreateCommandBuffer("copy")
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.CopyBuffer(src, dst, 4, 0, 4))
	assert.ErrorIs(t, cb.CopyBuffer(dst, src, 0, 0, 4), ErrMissingUsage)
	assert.ErrorIs(t, cb.CopyBuffer(src, dst, 6, 0, 4), ErrOutOfRange)
	require.NoError(t, cb.End())
	require.NoError(t, submitAndWait(t, d, cb))

	view, err := dstMem.Map(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7, 8, 0, 0, 0, 0}, view)
	require.NoError(t, dstMem.Unmap())

	require.NoError(t, src.Destroy())
	require.NoError(t, dst.Destroy())
	require.NoError(t, srcMem.Free())
	require.NoError(t, dstMem.Free())
}

func TestCommandBufferStates(t *testing.T) {
	d := newTestDevice(t)

	cb, err := d.CreateCommandBuffer("states")
	require.NoError(t, err)

	assert.ErrorIs(t, cb.End(), ErrInvalidState)
	assert.ErrorIs(t, d.Submit([]CommandBuffer{cb}, nil), ErrInvalidState)

	require.NoError(t, cb.Begin())
	assert.ErrorIs(t, cb.Begin(), ErrInvalidState)
	require.NoError(t, cb.End())
	require.NoError(t, submitAndWait(t, d, cb))

	require.NoError(t, cb.Reset())
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())
}

func TestFenceReuse(t *testing.T) {
	d := newTestDevice(t)

	f, err := d.CreateFence(true)
	require.NoError(t, err)
	assert.True(t, f.Signaled())
	require.NoError(t, f.Wait(context.Background()))

	cb, err := d.CreateCommandBuffer("frame")
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())

	assert.ErrorIs(t, d.Submit([]CommandBuffer{cb}, f), ErrFenceNotReset)

	for frame := 0; frame < 3; frame++ {
		require.NoError(t, f.Reset())
		assert.False(t, f.Signaled())
		require.NoError(t, d.Submit([]CommandBuffer{cb}, f))
		require.NoError(t, f.Wait(context.Background()))
		assert.True(t, f.Signaled())
	}
	assert.EqualValues(t, 3, d.Stats().Submissions)
}

func TestFenceWaitTimesOut(t *testing.T) {
	d := newTestDevice(t, WithFenceTimeout(20*time.Millisecond))

	f, err := d.CreateFence(false)
	require.NoError(t, err)

	err = f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assertKind(t, err, KindDeviceLost)
	assert.True(t, IsFatal(err))
}

func TestSubmissionsRunInOrder(t *testing.T) {
	d := newTestDevice(t, WithWorkers(4))

	buf, mem := newFilledBuffer(t, d, "value", BufferUsageTransferSrc|BufferUsageTransferDst, make([]byte, 4))
	var sources []Buffer
	var memories []Memory
	for i := byte(1); i <= 8; i++ {
		src, srcMem := newFilledBuffer(t, d, "src", BufferUsageTransferSrc, []byte{i, i, i, i})
		sources = append(sources, src)
		memories = append(memories, srcMem)

		cb, err := d.CreateCommandBuffer("write")
		require.NoError(t, err)
		require.NoError(t, cb.Begin())
		require.NoError(t, cb.CopyBuffer(src, buf, 0, 0, 4))
		require.NoError(t, cb.End())
		require.NoError(t, d.Submit([]CommandBuffer{cb}, nil))
	}
	require.NoError(t, d.WaitIdle(context.Background()))

	view, err := mem.Map(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 8, 8, 8}, view)
	require.NoError(t, mem.Unmap())

	for i := range sources {
		require.NoError(t, sources[i].Destroy())
		require.NoError(t, memories[i].Free())
	}
	require.NoError(t, buf.Destroy())
	require.NoError(t, mem.Free())
}

func TestGpuErrorClassification(t *testing.T) {
	err := NewError(KindOutOfDate, "device", "acquire", ErrOutOfDate)
	assert.Equal(t, "device: acquire: surface is out of date", err.Error())
	assert.False(t, err.Fatal())
	assert.True(t, errors.Is(err, ErrOutOfDate))

	wrapped := errors.Join(errors.New("frame 3"), NewError(KindReadOnlyUpdate, "accel", "update", ErrUpdateNotAllowed))
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindReadOnlyUpdate, kind)
	assert.False(t, IsFatal(wrapped))

	assert.True(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}
