package accel

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// BottomLevel is the set of bottom-level structures for one consolidated scene. All
// structures share one result buffer and one scratch buffer.
type BottomLevel interface {
	// Structure returns the structure of a mesh.
	//
	// Parameters:
	//   - meshIndex: the registry mesh index
	//
	// Returns:
	//   - *AccelerationStructure: the structure
	//   - error: a KindContractViolation GpuError if the index is outside the scene or the
	//     mesh has no structure because it has no triangles
	Structure(meshIndex int) (*AccelerationStructure, error)

	// Structures returns the structures in mesh-index order, with nil for skipped meshes.
	Structures() []*AccelerationStructure

	// ResultSize and ScratchSize are the byte sizes of the two shared buffers.
	ResultSize() uint64
	ScratchSize() uint64

	// Update records an in-place refit of one mesh's structure. A structure built without
	// AllowUpdate is skipped with a warning.
	//
	// Parameters:
	//   - cmd: the recording command buffer
	//   - meshIndex: the mesh to refit
	//
	// Returns:
	//   - error: a KindReadOnlyUpdate GpuError when skipped, or the recording error
	Update(cmd device.CommandBuffer, meshIndex int) error

	// Release destroys every structure, then the result and scratch buffers. The caller
	// must ensure no submission still reads them.
	Release() error
}

type bottomLevel struct {
	logger     logger.Logger
	opts       BuildOptions
	structures []*AccelerationStructure
	result     buffer.DeviceBuffer
	scratch    buffer.DeviceBuffer
	resultSize uint64
	scratchSz  uint64
}

var _ BottomLevel = &bottomLevel{}

// meshGeometry describes mesh i of the consolidated buffers. ok is false for meshes that
// contribute no primitives.
func meshGeometry(sb *scene.SceneBuffers, i int, opaque bool) (device.Geometry, bool) {
	cs := sb.Scene
	switch cs.Kinds[i] {
	case scene.MeshKindAnalyticSphere:
		return device.Geometry{
			Type:       device.GeometryAABBs,
			Opaque:     opaque,
			AABBBuffer: sb.AABBs.Buffer(),
			AABBOffset: uint64(i) * scene.AABBSize,
			AABBStride: scene.AABBSize,
			AABBCount:  1,
		}, true
	default:
		if cs.TriangleCounts[i] == 0 {
			return device.Geometry{}, false
		}
		off := cs.Offsets[i]
		return device.Geometry{
			Type:         device.GeometryTriangles,
			Opaque:       opaque,
			VertexBuffer: sb.Vertices.Buffer(),
			VertexOffset: uint64(off.Vertex) * scene.VertexSize,
			VertexStride: scene.VertexSize,
			VertexCount:  cs.VertexCounts[i],
			IndexBuffer:  sb.Indices.Buffer(),
			IndexOffset:  uint64(off.Index) * 4,
			IndexCount:   cs.TriangleCounts[i] * 3,
		}, true
	}
}

// NewBottomLevel creates one bottom-level structure per mesh and records every build into
// cmd. Per-mesh sizes are queried first and summed, so exactly two buffers are allocated;
// each structure sits at its running offset in both. Meshes without triangles are skipped.
// The caller records a BarrierAccelerationStructureBuild before any top-level build in the
// same command buffer.
//
// Parameters:
//   - dev: the device
//   - cmd: a command buffer in the recording state
//   - sb: the uploaded scene
//   - options: build flags
//
// Returns:
//   - BottomLevel: the structures
//   - error: a KindResourceCreation GpuError if the device rejects an allocation or structure
func NewBottomLevel(dev device.Device, cmd device.CommandBuffer, sb *scene.SceneBuffers, options ...BuildOption) (BottomLevel, error) {
	bl := &bottomLevel{
		logger: logger.New("accel"),
		opts:   newBuildOptions(options),
	}
	flags := bl.opts.flags()

	count := sb.Scene.MeshCount()
	bl.structures = make([]*AccelerationStructure, count)
	for i := 0; i < count; i++ {
		g, ok := meshGeometry(sb, i, bl.opts.Opaque)
		if !ok {
			bl.logger.Debugf("mesh %d has no triangles, skipped", i)
			continue
		}
		as := &AccelerationStructure{
			Kind:       KindBottom,
			Flags:      flags,
			Geometries: []device.Geometry{g},
			Bottom:     &BottomPayload{MeshIndex: i, MeshKind: sb.Scene.Kinds[i]},
		}
		if err := as.querySizes(dev); err != nil {
			return nil, fmt.Errorf("mesh %d: %w", i, err)
		}
		if as.Sizes.ResultSize == 0 {
			continue
		}
		as.ResultOffset = bl.resultSize
		as.ScratchOffset = bl.scratchSz
		bl.resultSize += as.Sizes.ResultSize
		bl.scratchSz += as.scratchFootprint()
		bl.structures[i] = as
	}

	if bl.resultSize == 0 {
		return bl, nil
	}

	var err error
	if bl.result, err = newStorage(dev, "bottom-level result", bl.resultSize, device.BufferUsageAccelerationStructureStorage); err != nil {
		return nil, err
	}
	if bl.scratch, err = newStorage(dev, "bottom-level scratch", bl.scratchSz, device.BufferUsageStorage); err != nil {
		return nil, errors.Join(err, bl.Release())
	}

	built := 0
	for i, as := range bl.structures {
		if as == nil {
			continue
		}
		if err := as.create(dev, bl.result, fmt.Sprintf("mesh %d", i)); err != nil {
			return nil, errors.Join(err, bl.Release())
		}
		if err := cmd.BuildAccelerationStructure(as.buildInfo(bl.scratch, device.BuildModeBuild)); err != nil {
			return nil, errors.Join(fmt.Errorf("record mesh %d build: %w", i, err), bl.Release())
		}
		built++
	}

	bl.logger.Debugf("recorded %d bottom-level builds (%d skipped): %d result bytes, %d scratch bytes",
		built, count-built, bl.resultSize, bl.scratchSz)
	return bl, nil
}

func (bl *bottomLevel) Structure(meshIndex int) (*AccelerationStructure, error) {
	if meshIndex < 0 || meshIndex >= len(bl.structures) {
		return nil, device.NewError(device.KindContractViolation, "accel", "resolve bottom level",
			fmt.Errorf("mesh index %d outside [0, %d)", meshIndex, len(bl.structures)))
	}
	as := bl.structures[meshIndex]
	if as == nil || as.Handle == nil {
		return nil, device.NewError(device.KindContractViolation, "accel", "resolve bottom level",
			fmt.Errorf("mesh %d has no bottom-level structure", meshIndex))
	}
	return as, nil
}

func (bl *bottomLevel) Structures() []*AccelerationStructure {
	return append([]*AccelerationStructure(nil), bl.structures...)
}

func (bl *bottomLevel) ResultSize() uint64 { return bl.resultSize }

func (bl *bottomLevel) ScratchSize() uint64 { return bl.scratchSz }

func (bl *bottomLevel) Update(cmd device.CommandBuffer, meshIndex int) error {
	as, err := bl.Structure(meshIndex)
	if err != nil {
		return err
	}
	if as.Flags&device.BuildFlagAllowUpdate == 0 {
		bl.logger.Warningf("mesh %d was built without update support, update skipped", meshIndex)
		return device.NewError(device.KindReadOnlyUpdate, "accel", "update bottom level",
			fmt.Errorf("%w: mesh %d", device.ErrUpdateNotAllowed, meshIndex))
	}
	if err := cmd.BuildAccelerationStructure(as.buildInfo(bl.scratch, device.BuildModeUpdate)); err != nil {
		return fmt.Errorf("record mesh %d update: %w", meshIndex, err)
	}
	return nil
}

func (bl *bottomLevel) Release() error {
	var errs []error
	for _, as := range bl.structures {
		if err := as.destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, b := range []buffer.DeviceBuffer{bl.result, bl.scratch} {
		if b == nil {
			continue
		}
		if err := b.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	bl.result, bl.scratch = nil, nil
	return errors.Join(errs...)
}
