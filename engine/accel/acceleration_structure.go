// Package accel builds the two-level spatial index over a consolidated scene: one
// bottom-level structure per unique mesh and one top-level structure over the instances.
package accel

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// Kind tags an AccelerationStructure as bottom or top level.
type Kind int

const (
	KindBottom Kind = iota
	KindTop
)

func (k Kind) String() string {
	if k == KindTop {
		return "top"
	}
	return "bottom"
}

// BottomPayload is the bottom-level part of an AccelerationStructure.
type BottomPayload struct {
	MeshIndex int
	MeshKind  scene.MeshKind
}

// TopPayload is the top-level part of an AccelerationStructure.
type TopPayload struct {
	// Records are the packed instances in build order.
	Records []device.InstanceRecord

	// InstanceBuffer holds Records on the device.
	InstanceBuffer buffer.DeviceBuffer
}

// AccelerationStructure is the record kept for every structure the builders create. The
// common fields are valid for both kinds; exactly one of Bottom and Top is set, matching
// Kind.
type AccelerationStructure struct {
	Kind   Kind
	Handle device.AccelerationStructure

	Sizes device.BuildSizes
	Flags device.BuildFlags

	// ResultOffset and ScratchOffset locate the structure inside its result and scratch
	// buffers.
	ResultOffset  uint64
	ScratchOffset uint64

	Geometries []device.Geometry

	Bottom *BottomPayload
	Top    *TopPayload
}

// BuildOptions are the flags shared by bottom and top level builds.
type BuildOptions struct {
	// Opaque marks triangle and AABB geometry opaque so any-hit programs are skipped.
	Opaque bool

	// AllowUpdate builds bottom-level structures that can be refit in place.
	AllowUpdate bool

	PreferFastTrace bool
}

// BuildOption configures BuildOptions.
type BuildOption func(*BuildOptions)

// WithOpaque sets the opaque geometry flag.
//
// Parameters:
//   - opaque: true to skip any-hit programs
//
// Returns:
//   - BuildOption: option function to apply
func WithOpaque(opaque bool) BuildOption {
	return func(o *BuildOptions) {
		o.Opaque = opaque
	}
}

// WithAllowUpdate builds structures that support Update.
//
// Parameters:
//   - allow: true to build with update support
//
// Returns:
//   - BuildOption: option function to apply
func WithAllowUpdate(allow bool) BuildOption {
	return func(o *BuildOptions) {
		o.AllowUpdate = allow
	}
}

// WithPreferFastTrace asks the device to favor trace speed over build speed.
func WithPreferFastTrace(prefer bool) BuildOption {
	return func(o *BuildOptions) {
		o.PreferFastTrace = prefer
	}
}

func newBuildOptions(options []BuildOption) BuildOptions {
	o := BuildOptions{Opaque: true}
	for _, opt := range options {
		opt(&o)
	}
	return o
}

// flags converts the options into device build flags.
func (o BuildOptions) flags() device.BuildFlags {
	var f device.BuildFlags
	if o.AllowUpdate {
		f |= device.BuildFlagAllowUpdate
	}
	if o.PreferFastTrace {
		f |= device.BuildFlagPreferFastTrace
	}
	return f
}

// DeviceAddress returns the address instances use to reference the structure.
func (a *AccelerationStructure) DeviceAddress() uint64 {
	if a == nil || a.Handle == nil {
		return 0
	}
	return a.Handle.DeviceAddress()
}

// deviceType maps the tag onto the device structure type.
func (a *AccelerationStructure) deviceType() device.AccelerationStructureType {
	if a.Kind == KindTop {
		return device.AccelerationStructureTopLevel
	}
	return device.AccelerationStructureBottomLevel
}

// querySizes fills Sizes from the device. Bottom-level structures reserve update scratch
// when built with AllowUpdate; top-level structures are always rebuilt.
func (a *AccelerationStructure) querySizes(dev device.Device) error {
	flags := a.Flags
	if a.Kind == KindTop {
		flags &^= device.BuildFlagAllowUpdate
	}
	sizes, err := dev.AccelerationStructureBuildSizes(a.deviceType(), flags, a.Geometries)
	if err != nil {
		return fmt.Errorf("query %s-level sizes: %w", a.Kind, err)
	}
	a.Sizes = sizes
	return nil
}

// scratchFootprint is the scratch space reserved for the structure.
func (a *AccelerationStructure) scratchFootprint() uint64 {
	if a.Kind == KindBottom && a.Flags&device.BuildFlagAllowUpdate != 0 {
		return max(a.Sizes.ScratchSize, a.Sizes.UpdateScratchSize)
	}
	return a.Sizes.ScratchSize
}

// buildInfo returns the recorded build for the structure.
func (a *AccelerationStructure) buildInfo(scratch buffer.DeviceBuffer, mode device.BuildMode) device.BuildInfo {
	info := device.BuildInfo{
		Mode:          mode,
		Flags:         a.Flags,
		Destination:   a.Handle,
		Geometries:    a.Geometries,
		ScratchOffset: a.ScratchOffset,
	}
	if scratch != nil {
		info.Scratch = scratch.Buffer()
	}
	if mode == device.BuildModeUpdate {
		info.Source = a.Handle
	}
	return info
}

// create places the structure at ResultOffset inside result.
func (a *AccelerationStructure) create(dev device.Device, result buffer.DeviceBuffer, label string) error {
	handle, err := dev.CreateAccelerationStructure(device.AccelerationStructureDescriptor{
		Label:  label,
		Type:   a.deviceType(),
		Buffer: result.Buffer(),
		Offset: a.ResultOffset,
		Size:   a.Sizes.ResultSize,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", label, err)
	}
	a.Handle = handle
	return nil
}

// destroy releases the device structure. The owning buffers are released by the caller.
func (a *AccelerationStructure) destroy() error {
	if a == nil || a.Handle == nil {
		return nil
	}
	if err := a.Handle.Destroy(); err != nil {
		return err
	}
	a.Handle = nil
	return nil
}

// newStorage allocates a device-local result or scratch buffer.
func newStorage(dev device.Device, label string, size uint64, usage device.BufferUsage) (buffer.DeviceBuffer, error) {
	return buffer.NewDeviceBuffer(dev,
		buffer.WithLabel(label),
		buffer.WithSize(size),
		buffer.WithUsage(usage|device.BufferUsageDeviceAddress),
	)
}
