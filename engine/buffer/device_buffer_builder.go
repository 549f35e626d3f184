package buffer

import "github.com/Carmen-Shannon/oxy-rt/engine/device"

// DeviceBufferBuilderOption configures a DeviceBuffer before it is created.
type DeviceBufferBuilderOption func(*deviceBuffer)

// WithLabel sets the debug label of the buffer and its memory.
//
// Parameters:
//   - label: the label to use
//
// Returns:
//   - DeviceBufferBuilderOption: a function that applies the label
func WithLabel(label string) DeviceBufferBuilderOption {
	return func(b *deviceBuffer) {
		b.label = label
	}
}

// WithSize sets the size of the buffer in bytes.
//
// Parameters:
//   - size: the buffer size, must be greater than zero
//
// Returns:
//   - DeviceBufferBuilderOption: a function that applies the size
func WithSize(size uint64) DeviceBufferBuilderOption {
	return func(b *deviceBuffer) {
		b.size = size
	}
}

// WithUsage adds usage flags to the buffer.
//
// Parameters:
//   - usage: the flags to add
//
// Returns:
//   - DeviceBufferBuilderOption: a function that applies the usage
func WithUsage(usage device.BufferUsage) DeviceBufferBuilderOption {
	return func(b *deviceBuffer) {
		b.usage |= usage
	}
}

// WithHostVisible places the buffer in host-visible memory so it can be mapped.
//
// Parameters:
//   - hostVisible: whether the memory is host visible
//
// Returns:
//   - DeviceBufferBuilderOption: a function that applies the visibility
func WithHostVisible(hostVisible bool) DeviceBufferBuilderOption {
	return func(b *deviceBuffer) {
		b.hostVisible = hostVisible
	}
}
