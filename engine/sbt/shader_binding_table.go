package sbt

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
)

// ShaderBindingTable is a filled shader record table bound to one pipeline. It must be
// rebuilt whenever the pipeline is recreated.
type ShaderBindingTable interface {
	// Layout returns the region placement inside the buffer.
	Layout() Layout

	// Buffer returns the host-visible buffer holding the records.
	Buffer() buffer.DeviceBuffer

	// Regions returns the (address, stride, size) triples passed to TraceRays, with the
	// first ray generation record as the entry point.
	Regions() device.ShaderBindingRegions

	// RegionsFor is Regions with ray generation record i as the entry point. An index
	// outside the ray generation region yields an empty region, which TraceRays rejects.
	RegionsFor(i int) device.ShaderBindingRegions

	// Release destroys the table buffer.
	Release() error
}

type shaderBindingTable struct {
	layout Layout
	buf    buffer.DeviceBuffer
}

var _ ShaderBindingTable = &shaderBindingTable{}

// NewShaderBindingTable fetches the group handles of the pipeline and writes every record
// at its region offset: the handle of the record's group, then its inline data, then zero
// padding up to the stride.
//
// Parameters:
//   - dev: the device
//   - pipeline: the pipeline whose group handles fill the records
//   - raygen: the ray generation records
//   - miss: the miss records
//   - hit: the hit group records
//
// Returns:
//   - ShaderBindingTable: the filled table
//   - error: a KindContractViolation GpuError for a group index outside the pipeline, or
//     a KindResourceCreation GpuError if the buffer cannot be created
func NewShaderBindingTable(dev device.Device, pipeline device.Pipeline, raygen, miss, hit []Entry) (ShaderBindingTable, error) {
	const op = "build shader binding table"
	limits := dev.Limits()
	layout, err := ComputeLayout(limits, raygen, miss, hit)
	if err != nil {
		return nil, err
	}

	groups := uint32(len(pipeline.Groups()))
	handles, err := pipeline.ShaderGroupHandles(0, groups)
	if err != nil {
		return nil, fmt.Errorf("fetch group handles of %q: %w", pipeline.Label(), err)
	}
	handleSize := uint64(limits.ShaderGroupHandleSize)

	data := make([]byte, layout.Size())
	for _, r := range []struct {
		name    string
		region  Region
		entries []Entry
	}{
		{"ray generation", layout.RayGen, raygen},
		{"miss", layout.Miss, miss},
		{"hit", layout.Hit, hit},
	} {
		for i, e := range r.entries {
			if e.GroupIndex >= groups {
				return nil, device.NewError(device.KindContractViolation, "sbt", op,
					fmt.Errorf("%w: %s record %d uses group %d of %d", device.ErrInvalidShaderRecords, r.name, i, e.GroupIndex, groups))
			}
			at := r.region.RecordOffset(i)
			h := uint64(e.GroupIndex) * handleSize
			copy(data[at:at+handleSize], handles[h:h+handleSize])
			copy(data[at+handleSize:at+r.region.Stride], e.InlineData)
		}
	}

	buf, err := buffer.NewDeviceBuffer(dev,
		buffer.WithLabel("shader binding table"),
		buffer.WithSize(uint64(len(data))),
		buffer.WithUsage(device.BufferUsageShaderBindingTable|device.BufferUsageDeviceAddress|device.BufferUsageTransferSrc),
		buffer.WithHostVisible(true),
	)
	if err != nil {
		return nil, err
	}
	if err := buf.Write(0, data); err != nil {
		_ = buf.Destroy()
		return nil, err
	}

	logger.New("sbt").Debugf("shader binding table for %q: %d bytes (raygen stride %d, %d miss x %d, %d hit x %d)",
		pipeline.Label(), len(data), layout.RayGen.Stride, layout.Miss.Count, layout.Miss.Stride, layout.Hit.Count, layout.Hit.Stride)
	return &shaderBindingTable{layout: layout, buf: buf}, nil
}

func (t *shaderBindingTable) Layout() Layout { return t.layout }

func (t *shaderBindingTable) Buffer() buffer.DeviceBuffer { return t.buf }

func (t *shaderBindingTable) Regions() device.ShaderBindingRegions {
	return t.RegionsFor(0)
}

func (t *shaderBindingTable) RegionsFor(i int) device.ShaderBindingRegions {
	base := t.buf.DeviceAddress()
	region := func(r Region) device.StridedRegion {
		if r.Count == 0 {
			return device.StridedRegion{}
		}
		return device.StridedRegion{Address: base + r.Offset, Stride: r.Stride, Size: r.Size()}
	}
	var raygen device.StridedRegion
	if i >= 0 && i < int(t.layout.RayGen.Count) {
		rg := t.layout.RayGen
		raygen = device.StridedRegion{Address: base + rg.RecordOffset(i), Stride: rg.Stride, Size: rg.Stride}
	}
	return device.ShaderBindingRegions{
		RayGen: raygen,
		Miss:   region(t.layout.Miss),
		Hit:    region(t.layout.Hit),
	}
}

func (t *shaderBindingTable) Release() error {
	if t.buf == nil {
		return nil
	}
	err := t.buf.Destroy()
	t.buf = nil
	return err
}
