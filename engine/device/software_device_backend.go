package device

// softwareDeviceBackend keeps no API objects: the host copy held by the frontend is the
// only storage, and presentation goes to an in-memory swapchain.
type softwareDeviceBackend struct {
	d *device

	lastFrame []byte
}

var _ deviceBackend = &softwareDeviceBackend{}

func (b *softwareDeviceBackend) init(d *device) error {
	b.d = d
	return nil
}

func (b *softwareDeviceBackend) bufferBound(*buffer) error { return nil }

func (b *softwareDeviceBackend) bufferDestroyed(*buffer) {}

func (b *softwareDeviceBackend) bufferWritten(*buffer, uint64, uint64) error { return nil }

func (b *softwareDeviceBackend) imageCreated(*image) error { return nil }

func (b *softwareDeviceBackend) imageDestroyed(*image) {}

func (b *softwareDeviceBackend) imageWritten(*image) error { return nil }

func (b *softwareDeviceBackend) imageFetch(*image) error { return nil }

func (b *softwareDeviceBackend) traceRays(TraceRaysInfo, *image) error { return nil }

func (b *softwareDeviceBackend) configureSurface(uint32, uint32) error { return nil }

func (b *softwareDeviceBackend) acquire() error { return nil }

func (b *softwareDeviceBackend) present(img *image) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	b.lastFrame = append(b.lastFrame[:0], img.pixels...)
	return nil
}

func (b *softwareDeviceBackend) waitIdle() {}

func (b *softwareDeviceBackend) release() {
	b.lastFrame = nil
}
