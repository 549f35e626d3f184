package scene

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/buffer"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
)

// SceneBuffers are the device-resident copies of a ConsolidatedScene. They are read-only
// after upload.
type SceneBuffers struct {
	Scene *ConsolidatedScene

	Vertices  buffer.DeviceBuffer
	Indices   buffer.DeviceBuffer
	Materials buffer.DeviceBuffer
	Offsets   buffer.DeviceBuffer

	// AABBs and Spheres are nil when no mesh is an implicit shape.
	AABBs   buffer.DeviceBuffer
	Spheres buffer.DeviceBuffer

	// Textures holds one image per texture, or a single white texel when there are none.
	Textures []device.Image
}

type sceneArray struct {
	dst    *buffer.DeviceBuffer
	label  string
	usage  device.BufferUsage
	data   []byte
	record uint64
}

// UploadConsolidated creates the global scene buffers and fills them through one batched
// staging upload.
//
// Parameters:
//   - ctx: cancels the upload wait
//   - dev: the device to allocate on
//   - cs: the consolidated scene
//
// Returns:
//   - *SceneBuffers: the uploaded buffers
//   - error: a GpuError if an allocation or the upload fails
func UploadConsolidated(ctx context.Context, dev device.Device, cs *ConsolidatedScene) (*SceneBuffers, error) {
	log := logger.New("scene")
	sb := &SceneBuffers{Scene: cs}
	u := buffer.NewUploader(dev, "scene upload")

	geometry := device.BufferUsageAccelerationStructureBuildInput | device.BufferUsageDeviceAddress
	if cs.RayQuery {
		geometry |= device.BufferUsageStorage
	}

	arrays := []sceneArray{
		{&sb.Vertices, "scene vertices", device.BufferUsageVertex | geometry, common.SliceToBytes(cs.Vertices), VertexSize},
		{&sb.Indices, "scene indices", device.BufferUsageIndex | geometry, common.SliceToBytes(cs.Indices), 4},
		{&sb.Materials, "scene materials", device.BufferUsageStorage, common.SliceToBytes(cs.Materials), MaterialSize},
		{&sb.Offsets, "scene offsets", device.BufferUsageStorage, common.SliceToBytes(cs.Offsets), OffsetSize},
	}
	if cs.HasAnalytic() {
		arrays = append(arrays,
			sceneArray{&sb.AABBs, "scene aabbs", device.BufferUsageStorage | device.BufferUsageAccelerationStructureBuildInput | device.BufferUsageDeviceAddress, common.SliceToBytes(cs.AABBs), AABBSize},
			sceneArray{&sb.Spheres, "scene spheres", device.BufferUsageStorage, common.SliceToBytes(cs.Spheres), SphereParamsSize},
		)
	}

	for _, a := range arrays {
		// an empty array still gets one zeroed record so it can be bound
		size := max(uint64(len(a.data)), a.record)
		b, err := buffer.NewDeviceBuffer(dev,
			buffer.WithLabel(a.label),
			buffer.WithSize(size),
			buffer.WithUsage(a.usage|device.BufferUsageTransferDst|device.BufferUsageTransferSrc),
		)
		if err != nil {
			sb.Release()
			return nil, err
		}
		*a.dst = b
		if err := u.Add(b, 0, a.data); err != nil {
			sb.Release()
			return nil, err
		}
	}

	if err := u.Flush(ctx); err != nil {
		sb.Release()
		return nil, fmt.Errorf("upload scene: %w", err)
	}

	if err := sb.uploadTextures(dev); err != nil {
		sb.Release()
		return nil, err
	}

	log.Infof("uploaded %d meshes: %d vertices, %d indices, %d materials, %d textures",
		cs.MeshCount(), len(cs.Vertices), len(cs.Indices), len(cs.Materials), len(sb.Textures))
	return sb, nil
}

func (sb *SceneBuffers) uploadTextures(dev device.Device) error {
	textures := sb.Scene.Textures
	if len(textures) == 0 {
		textures = []common.TextureStagingData{{Pixels: []byte{255, 255, 255, 255}, Width: 1, Height: 1}}
	}
	for i, tex := range textures {
		img, err := dev.CreateImage(device.ImageDescriptor{
			Label:  fmt.Sprintf("scene texture %d", i),
			Width:  tex.Width,
			Height: tex.Height,
			Format: device.ImageFormatRGBA8,
			Usage:  device.ImageUsageSampled | device.ImageUsageTransferDst,
		})
		if err != nil {
			return err
		}
		sb.Textures = append(sb.Textures, img)
		if err := img.Write(tex.Pixels); err != nil {
			return fmt.Errorf("upload texture %d: %w", i, err)
		}
	}
	return nil
}

// MeshIndexValid reports a contract violation for a mesh index outside the uploaded scene.
func (sb *SceneBuffers) MeshIndexValid(index int) error {
	return sb.Scene.CheckMeshIndex(index)
}

// Release destroys every buffer and texture. Safe to call on a partially built value.
func (sb *SceneBuffers) Release() {
	log := logger.New("scene")
	for _, b := range []buffer.DeviceBuffer{sb.Vertices, sb.Indices, sb.Materials, sb.Offsets, sb.AABBs, sb.Spheres} {
		if b == nil {
			continue
		}
		if err := b.Destroy(); err != nil {
			log.Errorf("release scene buffers: %v", err)
		}
	}
	for _, img := range sb.Textures {
		if err := img.Destroy(); err != nil {
			log.Errorf("release scene textures: %v", err)
		}
	}
	sb.Vertices, sb.Indices, sb.Materials, sb.Offsets, sb.AABBs, sb.Spheres = nil, nil, nil, nil, nil, nil
	sb.Textures = nil
}
