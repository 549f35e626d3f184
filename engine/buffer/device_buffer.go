// Package buffer owns device buffers and moves data between the host and the device
// through transient staging buffers.
package buffer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// DeviceBuffer is the single owning handle over a device buffer and the memory it is
// bound to.
type DeviceBuffer interface {
	// Label returns the debug label of the buffer.
	Label() string

	// Size returns the size of the buffer in bytes.
	Size() uint64

	// Usage returns the usage flags the buffer was created with.
	Usage() device.BufferUsage

	// HostVisible reports whether the backing memory can be mapped.
	HostVisible() bool

	// Buffer returns the underlying device buffer.
	Buffer() device.Buffer

	// Memory returns the memory the buffer is bound to.
	Memory() device.Memory

	// DeviceAddress returns the address of the first byte, or zero when the buffer was not
	// created with BufferUsageDeviceAddress.
	DeviceAddress() uint64

	// Write copies data into a host-visible buffer through a scoped map.
	//
	// Parameters:
	//   - offset: byte offset into the buffer
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: a KindContractViolation GpuError if the buffer is not host visible or the range is out of bounds
	Write(offset uint64, data []byte) error

	// Read copies size bytes out of a host-visible buffer.
	Read(offset, size uint64) ([]byte, error)

	// Destroy destroys the buffer and then frees its memory.
	Destroy() error
}

type deviceBuffer struct {
	label       string
	size        uint64
	usage       device.BufferUsage
	hostVisible bool

	buf device.Buffer
	mem device.Memory
}

var _ DeviceBuffer = &deviceBuffer{}

// NewDeviceBuffer creates a buffer, allocates memory for it and binds the two.
//
// Parameters:
//   - dev: the device to allocate on
//   - options: variadic list of DeviceBufferBuilderOption functions
//
// Returns:
//   - DeviceBuffer: the bound buffer
//   - error: a KindResourceCreation GpuError if the device rejects the buffer or the allocation
func NewDeviceBuffer(dev device.Device, options ...DeviceBufferBuilderOption) (DeviceBuffer, error) {
	b := &deviceBuffer{}
	for _, opt := range options {
		opt(b)
	}
	if b.label == "" {
		b.label = "buffer"
	}

	buf, err := dev.CreateBuffer(device.BufferDescriptor{Label: b.label, Size: b.size, Usage: b.usage})
	if err != nil {
		return nil, fmt.Errorf("failed to create %q: %w", b.label, err)
	}
	mem, err := dev.AllocateMemory(device.MemoryDescriptor{Label: b.label, Size: b.size, HostVisible: b.hostVisible})
	if err != nil {
		_ = buf.Destroy()
		return nil, fmt.Errorf("failed to allocate %q: %w", b.label, err)
	}
	if err := buf.Bind(mem, 0); err != nil {
		_ = buf.Destroy()
		_ = mem.Free()
		return nil, fmt.Errorf("failed to bind %q: %w", b.label, err)
	}

	b.buf = buf
	b.mem = mem
	return b, nil
}

func (b *deviceBuffer) Label() string { return b.label }

func (b *deviceBuffer) Size() uint64 { return b.size }

func (b *deviceBuffer) Usage() device.BufferUsage { return b.usage }

func (b *deviceBuffer) HostVisible() bool { return b.hostVisible }

func (b *deviceBuffer) Buffer() device.Buffer { return b.buf }

func (b *deviceBuffer) Memory() device.Memory { return b.mem }

func (b *deviceBuffer) DeviceAddress() uint64 {
	if b.buf == nil {
		return 0
	}
	return b.buf.DeviceAddress()
}

func (b *deviceBuffer) Write(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	view, err := b.mem.Map(offset, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("write %q: %w", b.label, err)
	}
	copy(view, data)
	return b.mem.Unmap()
}

func (b *deviceBuffer) Read(offset, size uint64) ([]byte, error) {
	view, err := b.mem.Map(offset, size)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", b.label, err)
	}
	out := append([]byte(nil), view...)
	if err := b.mem.Unmap(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *deviceBuffer) Destroy() error {
	if b.buf == nil {
		return nil
	}
	if err := b.buf.Destroy(); err != nil {
		return fmt.Errorf("destroy %q: %w", b.label, err)
	}
	if err := b.mem.Free(); err != nil {
		return fmt.Errorf("free %q: %w", b.label, err)
	}
	b.buf = nil
	b.mem = nil
	return nil
}
