package bind_group_provider

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// Binding slots shared by the ray programs and the renderer.
const (
	// SlotTopLevel holds the top-level index, one per pipeline instance.
	SlotTopLevel uint32 = iota
	// SlotAccumulation holds the read-write accumulation image.
	SlotAccumulation
	// SlotOutput holds the write-only output image.
	SlotOutput
	// SlotUniforms holds the camera/sample uniform block.
	SlotUniforms
	// SlotVertices holds the global vertex buffer.
	SlotVertices
	// SlotIndices holds the global index buffer.
	SlotIndices
	// SlotMaterials holds the global material buffer.
	SlotMaterials
	// SlotOffsets holds the per-mesh offset buffer.
	SlotOffsets
	// SlotTextures holds the texture array.
	SlotTextures
	// SlotSpheres holds the implicit-shape parameters. Bound only when a mesh is analytic.
	SlotSpheres

	// SlotCount is the number of binding slots.
	SlotCount
)

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	// label is a debug label added for convenience.
	label string

	// bindGroup is the device bind group, nil until Init and after any resource changes.
	bindGroup device.BindGroup

	// buffers holds the bound buffers keyed by slot.
	buffers map[uint32]buffer.DeviceBuffer
	// owned lists the slots whose buffers the provider created and destroys on Release.
	owned map[uint32]struct{}
	// images holds single storage images keyed by slot.
	images map[uint32]device.Image
	// imageArrays holds image arrays keyed by slot.
	imageArrays map[uint32][]device.Image
	// structures holds acceleration structures keyed by slot.
	structures map[uint32]device.AccelerationStructure
}

// BindGroupProvider collects the resources of every binding slot and turns them into one
// device bind group for a pipeline. Changing a resource drops the current bind group; the
// next Init creates a new one against the pipeline passed to it.
//
// Usage pattern:
//  1. The renderer creates a provider and binds the scene buffers, images and top level
//  2. The renderer calls Init with the pipeline to create the bind group
//  3. The renderer writes the uniform block through WriteBuffers each frame
//  4. The dispatch reads BindGroup()
type BindGroupProvider interface {
	// Release destroys the buffers the provider owns and drops the bind group. Borrowed
	// resources are left alone.
	Release()

	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// BindGroup returns the bind group created by the last Init, or nil if a resource
	// changed since.
	//
	// Returns:
	//   - device.BindGroup: the bind group or nil
	BindGroup() device.BindGroup

	// Buffer returns the buffer bound to slot, or nil.
	//
	// Parameters:
	//   - slot: the binding slot
	//
	// Returns:
	//   - buffer.DeviceBuffer: the buffer or nil
	Buffer(slot uint32) buffer.DeviceBuffer

	// Buffers returns every bound buffer keyed by slot.
	//
	// Returns:
	//   - map[uint32]buffer.DeviceBuffer: a copy of the buffer map
	Buffers() map[uint32]buffer.DeviceBuffer

	// Image returns the storage image bound to slot, or nil.
	Image(slot uint32) device.Image

	// SetBuffer binds a borrowed buffer to slot. A nil buffer clears the slot.
	SetBuffer(slot uint32, buf buffer.DeviceBuffer)

	// SetImage binds a storage image to slot. A nil image clears the slot.
	SetImage(slot uint32, img device.Image)

	// SetImages binds an image array to slot. An empty array clears the slot.
	SetImages(slot uint32, imgs []device.Image)

	// SetAccelerationStructure binds a top-level structure to slot. Nil clears the slot.
	SetAccelerationStructure(slot uint32, as device.AccelerationStructure)

	// InitUniformBuffer creates a host-visible uniform buffer of size bytes that the
	// provider owns and binds it to slot, destroying any buffer it owned there before.
	//
	// Parameters:
	//   - dev: the device
	//   - slot: the binding slot
	//   - size: the buffer size in bytes
	//
	// Returns:
	//   - error: a KindResourceCreation GpuError if the buffer cannot be created
	InitUniformBuffer(dev device.Device, slot uint32, size uint64) error

	// Entries returns one bind group entry per bound slot in slot order.
	//
	// Returns:
	//   - []device.BindGroupEntry: the entries
	Entries() []device.BindGroupEntry

	// Init creates the bind group for pipeline from the current entries.
	//
	// Parameters:
	//   - dev: the device
	//   - pipeline: the pipeline whose layout the entries must satisfy
	//
	// Returns:
	//   - error: a KindContractViolation GpuError if the entries do not match the layout
	Init(dev device.Device, pipeline device.Pipeline) error
}

var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a provider with all options applied.
//
// Parameters:
//   - options: variadic list of BindGroupProviderOption functions
//
// Returns:
//   - BindGroupProvider: the provider
func NewBindGroupProvider(options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:       "scene bindings",
		buffers:     make(map[uint32]buffer.DeviceBuffer),
		owned:       make(map[uint32]struct{}),
		images:      make(map[uint32]device.Image),
		imageArrays: make(map[uint32][]device.Image),
		structures:  make(map[uint32]device.AccelerationStructure),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Release() {
	for slot := range p.owned {
		if b := p.buffers[slot]; b != nil {
			_ = b.Destroy()
		}
		delete(p.buffers, slot)
	}
	clear(p.owned)
	p.bindGroup = nil
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) BindGroup() device.BindGroup {
	return p.bindGroup
}

func (p *bindGroupProvider) Buffer(slot uint32) buffer.DeviceBuffer {
	return p.buffers[slot]
}

func (p *bindGroupProvider) Buffers() map[uint32]buffer.DeviceBuffer {
	return maps.Clone(p.buffers)
}

func (p *bindGroupProvider) Image(slot uint32) device.Image {
	return p.images[slot]
}

func (p *bindGroupProvider) SetBuffer(slot uint32, buf buffer.DeviceBuffer) {
	p.dropOwned(slot)
	if buf == nil {
		delete(p.buffers, slot)
	} else {
		p.buffers[slot] = buf
	}
	p.bindGroup = nil
}

func (p *bindGroupProvider) SetImage(slot uint32, img device.Image) {
	if img == nil {
		delete(p.images, slot)
	} else {
		p.images[slot] = img
	}
	p.bindGroup = nil
}

func (p *bindGroupProvider) SetImages(slot uint32, imgs []device.Image) {
	if len(imgs) == 0 {
		delete(p.imageArrays, slot)
	} else {
		p.imageArrays[slot] = slices.Clone(imgs)
	}
	p.bindGroup = nil
}

func (p *bindGroupProvider) SetAccelerationStructure(slot uint32, as device.AccelerationStructure) {
	if as == nil {
		delete(p.structures, slot)
	} else {
		p.structures[slot] = as
	}
	p.bindGroup = nil
}

func (p *bindGroupProvider) InitUniformBuffer(dev device.Device, slot uint32, size uint64) error {
	buf, err := buffer.NewDeviceBuffer(dev,
		buffer.WithLabel(fmt.Sprintf("%s uniform %d", p.label, slot)),
		buffer.WithSize(size),
		buffer.WithUsage(device.BufferUsageUniform|device.BufferUsageTransferDst),
		buffer.WithHostVisible(true),
	)
	if err != nil {
		return err
	}
	p.SetBuffer(slot, buf)
	p.owned[slot] = struct{}{}
	return nil
}

func (p *bindGroupProvider) Entries() []device.BindGroupEntry {
	var entries []device.BindGroupEntry
	for slot, b := range p.buffers {
		entries = append(entries, device.BindGroupEntry{Slot: slot, Buffer: b.Buffer()})
	}
	for slot, img := range p.images {
		entries = append(entries, device.BindGroupEntry{Slot: slot, Image: img})
	}
	for slot, imgs := range p.imageArrays {
		entries = append(entries, device.BindGroupEntry{Slot: slot, Images: imgs})
	}
	for slot, as := range p.structures {
		entries = append(entries, device.BindGroupEntry{Slot: slot, AccelerationStructure: as})
	}
	slices.SortFunc(entries, func(a, b device.BindGroupEntry) int { return int(a.Slot) - int(b.Slot) })
	return entries
}

func (p *bindGroupProvider) Init(dev device.Device, pipeline device.Pipeline) error {
	if pipeline == nil {
		return device.NewError(device.KindContractViolation, "renderer", "create bind group", errors.New("no pipeline"))
	}
	bg, err := dev.CreateBindGroup(device.BindGroupDescriptor{
		Label:    p.label,
		Pipeline: pipeline,
		Entries:  p.Entries(),
	})
	if err != nil {
		return fmt.Errorf("init %s: %w", p.label, err)
	}
	p.bindGroup = bg
	return nil
}

// dropOwned destroys the provider-owned buffer at slot, if any.
func (p *bindGroupProvider) dropOwned(slot uint32) {
	if _, ok := p.owned[slot]; !ok {
		return
	}
	if b := p.buffers[slot]; b != nil {
		_ = b.Destroy()
	}
	delete(p.owned, slot)
}
