package device

import (
	"fmt"
	"strings"
)

// BackendType identifies the implementation behind a Device.
type BackendType int

const (
	// BackendTypeSoftware executes every command on the host. It needs no GPU.
	BackendTypeSoftware BackendType = iota

	// BackendTypeWGPU mirrors resources into WebGPU buffers and presents through a wgpu surface.
	BackendTypeWGPU
)

func (t BackendType) String() string {
	switch t {
	case BackendTypeSoftware:
		return "software"
	case BackendTypeWGPU:
		return "wgpu"
	default:
		return fmt.Sprintf("backend(%d)", int(t))
	}
}

// ParseBackendType maps a config name onto a BackendType.
//
// Parameters:
//   - name: "software" or "wgpu", case-insensitive
//
// Returns:
//   - BackendType: the parsed type
//   - error: error if the name is unknown
func ParseBackendType(name string) (BackendType, error) {
	switch strings.ToLower(name) {
	case "software", "":
		return BackendTypeSoftware, nil
	case "wgpu", "webgpu":
		return BackendTypeWGPU, nil
	default:
		return 0, fmt.Errorf("unknown device backend %q", name)
	}
}

// deviceBackend is the per-API half of a device. The device frontend owns validation,
// lifetimes and the host copy of every resource; the backend keeps API-side objects in
// step with it.
type deviceBackend interface {
	init(d *device) error

	bufferBound(b *buffer) error
	bufferDestroyed(b *buffer)
	bufferWritten(b *buffer, offset, size uint64) error

	imageCreated(img *image) error
	imageDestroyed(img *image)
	imageWritten(img *image) error
	imageFetch(img *image) error

	// traceRays runs after the host pass has written primary hits into output and
	// reported it through imageWritten.
	traceRays(info TraceRaysInfo, output *image) error

	configureSurface(width, height uint32) error
	acquire() error
	present(img *image) error

	waitIdle()
	release()
}

func newDeviceBackend(t BackendType) (deviceBackend, error) {
	switch t {
	case BackendTypeSoftware:
		return &softwareDeviceBackend{}, nil
	case BackendTypeWGPU:
		return &wgpuDeviceBackend{}, nil
	default:
		return nil, fmt.Errorf("unsupported backend %v", t)
	}
}
