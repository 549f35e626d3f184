// Package sbt lays out and fills the shader record table a ray dispatch reads: one ray
// generation record followed by the miss and hit regions, each record holding a shader
// group handle and optional inline data.
package sbt

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// Entry is one shader record.
type Entry struct {
	// GroupIndex selects the pipeline shader group whose handle starts the record.
	GroupIndex uint32

	// InlineData follows the handle and is zero-padded to the region stride.
	InlineData []byte
}

// Region locates one region inside the table buffer.
type Region struct {
	Offset uint64
	Stride uint64
	Count  uint32
}

// Size returns the byte size of the region.
func (r Region) Size() uint64 {
	return uint64(r.Count) * r.Stride
}

// RecordOffset returns the byte offset of record i.
func (r Region) RecordOffset(i int) uint64 {
	return r.Offset + uint64(i)*r.Stride
}

// Layout is the placement of the three regions of a table.
type Layout struct {
	RayGen Region
	Miss   Region
	Hit    Region
}

// Size returns the byte size of the whole table.
func (l Layout) Size() uint64 {
	return l.Hit.Offset + l.Hit.Size()
}

// stride returns the aligned record size that fits a handle and the largest inline data
// of entries.
func stride(limits device.Limits, entries []Entry) uint64 {
	inline := 0
	for _, e := range entries {
		inline = max(inline, len(e.InlineData))
	}
	return common.AlignUp(uint64(limits.ShaderGroupHandleSize)+uint64(inline), uint64(limits.ShaderGroupBaseAlignment))
}

// ComputeLayout places the regions back to back: ray generation at offset zero, miss
// after it and hit after miss. Every stride is a multiple of the base alignment, so every
// region starts aligned.
//
// Parameters:
//   - limits: the device limits
//   - raygen: the ray generation records, at least one
//   - miss: the miss records
//   - hit: the hit group records, indexed by instance SBT offset
//
// Returns:
//   - Layout: the region placement
//   - error: a KindContractViolation GpuError if there is no ray generation record or a
//     stride exceeds the device maximum
func ComputeLayout(limits device.Limits, raygen, miss, hit []Entry) (Layout, error) {
	const op = "compute shader record layout"
	if len(raygen) == 0 {
		return Layout{}, device.NewError(device.KindContractViolation, "sbt", op,
			fmt.Errorf("%w: no ray generation record", device.ErrInvalidShaderRecords))
	}

	var l Layout
	for _, r := range []struct {
		name    string
		region  *Region
		entries []Entry
	}{
		{"ray generation", &l.RayGen, raygen},
		{"miss", &l.Miss, miss},
		{"hit", &l.Hit, hit},
	} {
		r.region.Stride = stride(limits, r.entries)
		r.region.Count = uint32(len(r.entries))
		if r.region.Stride > uint64(limits.MaxShaderGroupStride) {
			return Layout{}, device.NewError(device.KindContractViolation, "sbt", op,
				fmt.Errorf("%w: %s stride %d exceeds %d", device.ErrInvalidShaderRecords, r.name, r.region.Stride, limits.MaxShaderGroupStride))
		}
	}
	l.Miss.Offset = l.RayGen.Size()
	l.Hit.Offset = l.Miss.Offset + l.Miss.Size()
	return l, nil
}
