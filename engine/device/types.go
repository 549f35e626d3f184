package device

import (
	"github.com/Carmen-Shannon/oxy-rt/common"
)

// BufferUsage is a bit set of the ways a buffer may be used.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageStorage
	BufferUsageUniform
	BufferUsageShaderBindingTable
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureBuildInput
	BufferUsageDeviceAddress
)

// Has reports whether every bit of want is set in u.
func (u BufferUsage) Has(want BufferUsage) bool {
	return u&want == want
}

// BufferDescriptor describes a buffer to create. The buffer has no storage until it is
// bound to a Memory.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// MemoryDescriptor describes a memory allocation.
type MemoryDescriptor struct {
	Label string
	Size  uint64

	// HostVisible memory can be mapped by the host.
	HostVisible bool
}

// Limits reports the device properties the builders lay data out against.
type Limits struct {
	// ShaderGroupHandleSize is the size in bytes of one shader group handle.
	ShaderGroupHandleSize uint32

	// ShaderGroupHandleAlignment is the required alignment of a shader record stride.
	ShaderGroupHandleAlignment uint32

	// ShaderGroupBaseAlignment is the required alignment of each shader record region.
	ShaderGroupBaseAlignment uint32

	// MaxShaderGroupStride is the largest allowed shader record stride.
	MaxShaderGroupStride uint32

	// AccelerationStructureAlignment is the required offset alignment of a structure in its buffer.
	AccelerationStructureAlignment uint64

	// ScratchAlignment is the required offset alignment of a build's scratch range.
	ScratchAlignment uint64

	// MaxBufferSize is the largest buffer the device will create.
	MaxBufferSize uint64
}

// DefaultLimits returns the limits reported by both backends.
func DefaultLimits() Limits {
	return Limits{
		ShaderGroupHandleSize:          32,
		ShaderGroupHandleAlignment:     32,
		ShaderGroupBaseAlignment:       64,
		MaxShaderGroupStride:           4096,
		AccelerationStructureAlignment: 256,
		ScratchAlignment:               128,
		MaxBufferSize:                  1 << 32,
	}
}

// AccelerationStructureType distinguishes the two levels of the spatial index.
type AccelerationStructureType int

const (
	AccelerationStructureBottomLevel AccelerationStructureType = iota
	AccelerationStructureTopLevel
)

func (t AccelerationStructureType) String() string {
	if t == AccelerationStructureTopLevel {
		return "top"
	}
	return "bottom"
}

// BuildFlags control how a structure is built.
type BuildFlags uint32

const (
	BuildFlagAllowUpdate BuildFlags = 1 << iota
	BuildFlagPreferFastTrace
)

// BuildMode selects a full build or an in-place update.
type BuildMode int

const (
	BuildModeBuild BuildMode = iota
	BuildModeUpdate
)

// GeometryType identifies the primitive kind of a Geometry.
type GeometryType int

const (
	GeometryTriangles GeometryType = iota
	GeometryAABBs
	GeometryInstances
)

// Geometry is one build input. Only the fields of its Type are read.
type Geometry struct {
	Type   GeometryType
	Opaque bool

	// Triangles: 32-bit indices into a float3 position stream.
	VertexBuffer Buffer
	VertexOffset uint64
	VertexStride uint64
	VertexCount  uint32
	IndexBuffer  Buffer
	IndexOffset  uint64
	IndexCount   uint32

	// AABBs: packed 24-byte min/max records.
	AABBBuffer Buffer
	AABBOffset uint64
	AABBStride uint64
	AABBCount  uint32

	// Instances: packed 64-byte InstanceRecords.
	InstanceBuffer Buffer
	InstanceOffset uint64
	InstanceCount  uint32
}

// PrimitiveCount returns the number of primitives the geometry contributes.
func (g Geometry) PrimitiveCount() uint32 {
	switch g.Type {
	case GeometryTriangles:
		return g.IndexCount / 3
	case GeometryAABBs:
		return g.AABBCount
	case GeometryInstances:
		return g.InstanceCount
	default:
		return 0
	}
}

// BuildSizes is the result of a size query.
type BuildSizes struct {
	ResultSize        uint64
	ScratchSize       uint64
	UpdateScratchSize uint64
}

// BuildInfo describes a recorded build or update.
type BuildInfo struct {
	Mode        BuildMode
	Flags       BuildFlags
	Destination AccelerationStructure

	// Source is the structure to update from. Only read in BuildModeUpdate.
	Source AccelerationStructure

	Geometries    []Geometry
	Scratch       Buffer
	ScratchOffset uint64
}

// BarrierKind names the hazard a barrier orders.
type BarrierKind int

const (
	// BarrierAccelerationStructureBuild orders structure writes before later structure reads.
	BarrierAccelerationStructureBuild BarrierKind = iota

	// BarrierTransfer orders copies before later reads.
	BarrierTransfer

	// BarrierShaderWrite orders ray dispatch writes before later reads.
	BarrierShaderWrite
)

// Instance flags stored in the top byte of InstanceRecord.SBTOffsetAndFlags.
const (
	InstanceFlagTriangleFacingCullDisable uint32 = 0x1
	InstanceFlagTriangleFlipFacing        uint32 = 0x2
	InstanceFlagForceOpaque               uint32 = 0x4
	InstanceFlagForceNoOpaque             uint32 = 0x8
)

// InstanceRecord is the 64-byte top-level build input for one instance.
type InstanceRecord struct {
	// Transform is a row-major 3x4 object-to-world matrix.
	Transform [12]float32

	// CustomIndexAndMask packs a 24-bit custom index and an 8-bit visibility mask.
	CustomIndexAndMask uint32

	// SBTOffsetAndFlags packs a 24-bit hit group record offset and 8 bits of instance flags.
	SBTOffsetAndFlags uint32

	// AccelerationStructureReference is the device address of the bottom-level structure.
	AccelerationStructureReference uint64
}

// InstanceRecordSize is the packed size of an InstanceRecord.
const InstanceRecordSize = 64

// NewInstanceRecord packs an instance.
//
// Parameters:
//   - transform: row-major 3x4 object-to-world matrix
//   - customIndex: value reported to hit shaders (low 24 bits kept)
//   - mask: visibility mask
//   - sbtOffset: hit group record offset (low 24 bits kept)
//   - flags: InstanceFlag bits
//   - reference: bottom-level structure device address
//
// Returns:
//   - InstanceRecord: the packed record
func NewInstanceRecord(transform [12]float32, customIndex uint32, mask uint8, sbtOffset, flags uint32, reference uint64) InstanceRecord {
	return InstanceRecord{
		Transform:                      transform,
		CustomIndexAndMask:             customIndex&0xFFFFFF | uint32(mask)<<24,
		SBTOffsetAndFlags:              sbtOffset&0xFFFFFF | (flags&0xFF)<<24,
		AccelerationStructureReference: reference,
	}
}

func (r InstanceRecord) CustomIndex() uint32 { return r.CustomIndexAndMask & 0xFFFFFF }

func (r InstanceRecord) Mask() uint8 { return uint8(r.CustomIndexAndMask >> 24) }

func (r InstanceRecord) SBTOffset() uint32 { return r.SBTOffsetAndFlags & 0xFFFFFF }

func (r InstanceRecord) Flags() uint32 { return r.SBTOffsetAndFlags >> 24 }

// DecodeInstanceRecords reinterprets packed bytes as instance records.
//
// Parameters:
//   - data: a multiple of InstanceRecordSize bytes
//
// Returns:
//   - []InstanceRecord: the decoded records
func DecodeInstanceRecords(data []byte) []InstanceRecord {
	out := make([]InstanceRecord, len(data)/InstanceRecordSize)
	copy(common.SliceToBytes(out), data)
	return out
}

// StridedRegion addresses one shader binding table region.
type StridedRegion struct {
	Address uint64
	Stride  uint64
	Size    uint64
}

// ShaderBindingRegions is the set of regions passed to a ray dispatch.
type ShaderBindingRegions struct {
	RayGen   StridedRegion
	Miss     StridedRegion
	Hit      StridedRegion
	Callable StridedRegion
}

// RayGenerator produces the primary ray for a pixel. The software backend calls it in
// place of a compiled ray generation program.
type RayGenerator interface {
	GenerateRay(x, y, width, height uint32) common.Ray
}

// TraceRaysInfo describes a recorded ray dispatch.
type TraceRaysInfo struct {
	Pipeline  Pipeline
	BindGroup BindGroup
	Regions   ShaderBindingRegions
	Width     uint32
	Height    uint32
	Depth     uint32

	// Rays generates primary rays. When nil the dispatch only validates its inputs.
	Rays RayGenerator
}

// Stats counts live device objects and submitted work.
type Stats struct {
	Buffers                int
	Memories               int
	AccelerationStructures int
	Pipelines              int
	Images                 int
	AllocatedBytes         uint64
	Submissions            uint64
	Builds                 uint64
	Dispatches             uint64
}
