package accel

import (
	"context"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// TopLevel is the structure over every instance of a frame's scene. It is rebuilt from
// scratch whenever the instances change and is never updated in place.
type TopLevel interface {
	// Structure returns the tagged top-level record.
	Structure() *AccelerationStructure

	// Records returns the packed instances in build order.
	Records() []device.InstanceRecord

	// Release destroys the structure, then the result, scratch and instance buffers. The
	// caller must ensure no submission still reads them.
	Release() error
}

type topLevel struct {
	structure *AccelerationStructure
	result    buffer.DeviceBuffer
	scratch   buffer.DeviceBuffer
}

var _ TopLevel = &topLevel{}

// PackInstances converts scene instances into device instance records. The custom index
// of each record is its mesh index, so hit programs can read the mesh's Offset entry, and
// the shading group selects the hit group record.
//
// Parameters:
//   - bottom: the bottom-level structures the instances reference
//   - instances: the instances in build order
//
// Returns:
//   - []device.InstanceRecord: one record per instance
//   - error: a KindContractViolation GpuError for an instance whose mesh has no structure
func PackInstances(bottom BottomLevel, instances []scene.Instance) ([]device.InstanceRecord, error) {
	records := make([]device.InstanceRecord, 0, len(instances))
	for i, inst := range instances {
		blas, err := bottom.Structure(inst.MeshIndex)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		mask := inst.Mask
		// unset masks make the instance visible to every ray
		if mask == 0 {
			mask = 0xFF
		}
		records = append(records, device.NewInstanceRecord(
			common.RowMajor3x4(inst.Transform[:]),
			uint32(inst.MeshIndex),
			mask,
			inst.ShadingGroup,
			device.InstanceFlagTriangleFacingCullDisable,
			blas.DeviceAddress(),
		))
	}
	return records, nil
}

// NewTopLevel packs the instances, uploads them to a fresh instance buffer and records the
// top-level build into cmd. Bottom-level builds recorded earlier in cmd must be followed
// by a BarrierAccelerationStructureBuild, or the submission fails with a contract
// violation.
//
// Parameters:
//   - ctx: cancels the instance upload
//   - dev: the device
//   - cmd: a command buffer in the recording state
//   - bottom: the bottom-level structures
//   - instances: the instances in build order
//   - options: build flags; AllowUpdate is ignored
//
// Returns:
//   - TopLevel: the structure and its buffers
//   - error: a GpuError if packing, upload or creation fails
func NewTopLevel(ctx context.Context, dev device.Device, cmd device.CommandBuffer, bottom BottomLevel, instances []scene.Instance, options ...BuildOption) (TopLevel, error) {
	log := logger.New("accel")
	opts := newBuildOptions(options)

	records, err := PackInstances(bottom, instances)
	if err != nil {
		return nil, err
	}

	data := common.SliceToBytes(records)
	instanceBuffer, err := buffer.NewDeviceBuffer(dev,
		buffer.WithLabel("top-level instances"),
		buffer.WithSize(max(uint64(len(data)), device.InstanceRecordSize)),
		buffer.WithUsage(device.BufferUsageAccelerationStructureBuildInput|device.BufferUsageDeviceAddress|
			device.BufferUsageTransferDst|device.BufferUsageTransferSrc),
	)
	if err != nil {
		return nil, err
	}

	tl := &topLevel{structure: &AccelerationStructure{
		Kind:  KindTop,
		Flags: opts.flags() &^ device.BuildFlagAllowUpdate,
		Geometries: []device.Geometry{{
			Type:           device.GeometryInstances,
			Opaque:         opts.Opaque,
			InstanceBuffer: instanceBuffer.Buffer(),
			InstanceCount:  uint32(len(records)),
		}},
		Top: &TopPayload{Records: records, InstanceBuffer: instanceBuffer},
	}}

	if len(data) > 0 {
		if err := buffer.Upload(ctx, dev, instanceBuffer, data, uint64(len(data))); err != nil {
			return nil, errors.Join(fmt.Errorf("upload instances: %w", err), tl.Release())
		}
	}

	as := tl.structure
	if err := as.querySizes(dev); err != nil {
		return nil, errors.Join(err, tl.Release())
	}
	if tl.result, err = newStorage(dev, "top-level result", as.Sizes.ResultSize, device.BufferUsageAccelerationStructureStorage); err != nil {
		return nil, errors.Join(err, tl.Release())
	}
	if tl.scratch, err = newStorage(dev, "top-level scratch", as.Sizes.ScratchSize, device.BufferUsageStorage); err != nil {
		return nil, errors.Join(err, tl.Release())
	}
	if err := as.create(dev, tl.result, "scene top level"); err != nil {
		return nil, errors.Join(err, tl.Release())
	}
	if err := cmd.BuildAccelerationStructure(as.buildInfo(tl.scratch, device.BuildModeBuild)); err != nil {
		return nil, errors.Join(fmt.Errorf("record top-level build: %w", err), tl.Release())
	}

	log.Debugf("recorded top-level build over %d instances: %d result bytes, %d scratch bytes",
		len(records), as.Sizes.ResultSize, as.Sizes.ScratchSize)
	return tl, nil
}

func (tl *topLevel) Structure() *AccelerationStructure { return tl.structure }

func (tl *topLevel) Records() []device.InstanceRecord { return tl.structure.Top.Records }

func (tl *topLevel) Release() error {
	var errs []error
	if err := tl.structure.destroy(); err != nil {
		errs = append(errs, err)
	}
	for _, b := range []buffer.DeviceBuffer{tl.result, tl.scratch, tl.structure.Top.InstanceBuffer} {
		if b == nil {
			continue
		}
		if err := b.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	tl.result, tl.scratch, tl.structure.Top.InstanceBuffer = nil, nil, nil
	return errors.Join(errs...)
}
