package bind_group_provider

import (
	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// BindGroupProviderOption is a functional option used to configure a BindGroupProvider during construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithLabel sets the debug label of the provider and its bind group.
//
// Parameters:
//   - label: the label
//
// Returns:
//   - BindGroupProviderOption: a function that sets the label
func WithLabel(label string) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.label = label
	}
}

// WithBuffer binds a borrowed buffer to a slot.
//
// Parameters:
//   - slot: the binding slot
//   - buf: the buffer to bind
//
// Returns:
//   - BindGroupProviderOption: a function that binds the buffer
func WithBuffer(slot uint32, buf buffer.DeviceBuffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.buffers[slot] = buf
	}
}

// WithBuffers binds several borrowed buffers keyed by slot. Nil buffers are skipped.
//
// Parameters:
//   - buffers: the buffers keyed by slot
//
// Returns:
//   - BindGroupProviderOption: a function that binds the buffers
func WithBuffers(buffers map[uint32]buffer.DeviceBuffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		for slot, b := range buffers {
			if b != nil {
				p.buffers[slot] = b
			}
		}
	}
}

// WithImages binds an image array to a slot.
//
// Parameters:
//   - slot: the binding slot
//   - imgs: the images
//
// Returns:
//   - BindGroupProviderOption: a function that binds the images
func WithImages(slot uint32, imgs []device.Image) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		if len(imgs) > 0 {
			p.imageArrays[slot] = append([]device.Image(nil), imgs...)
		}
	}
}
