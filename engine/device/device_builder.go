package device

import (
	"time"

	"github.com/cogentcore/webgpu/wgpu"
)

// DeviceBuilderOption is a functional option applied to a device during construction via NewDevice.
type DeviceBuilderOption func(*device)

// WithBackend selects the device backend. The default is BackendTypeSoftware.
//
// Parameters:
//   - t: the backend type
//
// Returns:
//   - DeviceBuilderOption: a function that applies the backend option to a device
func WithBackend(t BackendType) DeviceBuilderOption {
	return func(d *device) {
		d.backendType = t
	}
}

// WithWorkers sets the number of queue and build workers.
//
// Parameters:
//   - n: worker count, at least 1
//
// Returns:
//   - DeviceBuilderOption: a function that applies the worker option to a device
func WithWorkers(n int) DeviceBuilderOption {
	return func(d *device) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithFenceTimeout bounds every fence and idle wait. A wait that exceeds it fails with
// a KindDeviceLost GpuError.
//
// Parameters:
//   - timeout: the wait bound
//
// Returns:
//   - DeviceBuilderOption: a function that applies the timeout option to a device
func WithFenceTimeout(timeout time.Duration) DeviceBuilderOption {
	return func(d *device) {
		if timeout > 0 {
			d.fenceTimeout = timeout
		}
	}
}

// WithLimits overrides the reported device limits.
//
// Parameters:
//   - limits: the limits to report
//
// Returns:
//   - DeviceBuilderOption: a function that applies the limits option to a device
func WithLimits(limits Limits) DeviceBuilderOption {
	return func(d *device) {
		d.limits = limits
	}
}

// WithSurface gives the device a presentation surface of the given extent. On the
// software backend the surface is an in-memory swapchain.
//
// Parameters:
//   - width: surface width in pixels
//   - height: surface height in pixels
//
// Returns:
//   - DeviceBuilderOption: a function that applies the surface option to a device
func WithSurface(width, height uint32) DeviceBuilderOption {
	return func(d *device) {
		d.surfaceWidth = width
		d.surfaceHeight = height
	}
}

// WithWGPUSurface supplies the platform surface descriptor the wgpu backend presents to.
//
// Parameters:
//   - desc: the surface descriptor, usually from window.SurfaceDescriptor
//
// Returns:
//   - DeviceBuilderOption: a function that applies the descriptor option to a device
func WithWGPUSurface(desc *wgpu.SurfaceDescriptor) DeviceBuilderOption {
	return func(d *device) {
		d.surfaceDescriptor = desc
	}
}

// WithForceFallbackAdapter makes the wgpu backend request a CPU fallback adapter.
//
// Parameters:
//   - force: true to request the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: a function that applies the adapter option to a device
func WithForceFallbackAdapter(force bool) DeviceBuilderOption {
	return func(d *device) {
		d.forceFallbackAdapter = force
	}
}

// WithVSync selects FIFO presentation on the wgpu backend.
//
// Parameters:
//   - vsync: true to wait for vertical blank
//
// Returns:
//   - DeviceBuilderOption: a function that applies the present mode option to a device
func WithVSync(vsync bool) DeviceBuilderOption {
	return func(d *device) {
		d.vsync = vsync
	}
}
