// Package device is the hardware abstraction the acceleration and upload pipeline is
// written against. It exposes explicit buffer/memory binding, command recording, fences,
// acceleration structures, ray tracing pipelines and presentation, and runs either on
// the host (software backend) or on WebGPU (wgpu backend).
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/bvh"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/cogentcore/webgpu/wgpu"
)

// Device creates resources and executes command buffers on a single submission queue.
type Device interface {
	// Type returns the backend the device runs on.
	Type() BackendType

	// Limits returns the layout limits of the device.
	Limits() Limits

	// FenceTimeout returns the bound applied to every blocking wait.
	FenceTimeout() time.Duration

	// CreateBuffer creates an unbound buffer.
	//
	// Parameters:
	//   - desc: the buffer label, size and usage
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: a KindResourceCreation GpuError if the descriptor is rejected
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// AllocateMemory allocates memory that buffers can be bound to.
	//
	// Parameters:
	//   - desc: the allocation label, size and visibility
	//
	// Returns:
	//   - Memory: the new allocation
	//   - error: a KindResourceCreation GpuError if the allocation is rejected
	AllocateMemory(desc MemoryDescriptor) (Memory, error)

	// CreateCommandBuffer creates a command buffer in the initial state.
	CreateCommandBuffer(label string) (CommandBuffer, error)

	// CreateFence creates a fence, optionally already signaled.
	CreateFence(signaled bool) (Fence, error)

	// Submit queues command buffers for execution and signals fence when they finish.
	//
	// Parameters:
	//   - cmds: executable command buffers, run in order
	//   - fence: an unsignaled fence to signal on completion, or nil
	//
	// Returns:
	//   - error: a KindContractViolation GpuError if a command buffer or the fence is in the wrong state
	Submit(cmds []CommandBuffer, fence Fence) error

	// WaitIdle blocks until every submission has finished.
	//
	// Parameters:
	//   - ctx: cancels the wait early
	//
	// Returns:
	//   - error: a KindDeviceLost GpuError if the wait exceeds the fence timeout
	WaitIdle(ctx context.Context) error

	// AccelerationStructureBuildSizes reports the result and scratch sizes a build needs.
	//
	// Parameters:
	//   - typ: bottom or top level
	//   - flags: the flags the build will use
	//   - geometries: the build inputs; only their types and counts are read
	//
	// Returns:
	//   - BuildSizes: the required sizes, all zero when the geometries hold no primitives
	//   - error: a KindContractViolation GpuError if the geometries do not match typ
	AccelerationStructureBuildSizes(typ AccelerationStructureType, flags BuildFlags, geometries []Geometry) (BuildSizes, error)

	// CreateAccelerationStructure places a structure inside a buffer range.
	CreateAccelerationStructure(desc AccelerationStructureDescriptor) (AccelerationStructure, error)

	// CreateRayTracingPipeline creates a pipeline and its shader group handles.
	CreateRayTracingPipeline(desc RayTracingPipelineDescriptor) (Pipeline, error)

	// CreateBindGroup binds resources to the slots of a pipeline layout.
	CreateBindGroup(desc BindGroupDescriptor) (BindGroup, error)

	// CreateImage creates a 2D image.
	CreateImage(desc ImageDescriptor) (Image, error)

	// RayQuery returns a host-side query over a built top-level structure.
	RayQuery(tlas AccelerationStructure) (RayQuery, error)

	// Surface returns the presentation surface, or nil for a headless device.
	Surface() Surface

	// Stats returns a snapshot of live object counts and submitted work.
	Stats() Stats

	// Release waits for the queue, stops the workers and releases the backend.
	Release()
}

type device struct {
	mu     sync.Mutex
	logger logger.Logger

	backendType BackendType
	backend     deviceBackend
	limits      Limits

	fenceTimeout time.Duration
	workers      int

	pool    worker.DynamicWorkerPool
	queue   *queue
	builder bvh.Builder

	nextID      uint64
	nextAddress uint64

	memories   map[*memory]struct{}
	buffers    map[*buffer]struct{}
	structures map[uint64]*accelerationStructure
	pipelines  map[*pipeline]struct{}
	images     map[*image]struct{}
	stats      Stats

	surface       *surface
	surfaceWidth  uint32
	surfaceHeight uint32

	// wgpu-only settings
	surfaceDescriptor    *wgpu.SurfaceDescriptor
	forceFallbackAdapter bool
	vsync                bool

	released bool
}

var _ Device = &device{}

// base of the device address space; zero is never a valid address
const addressBase uint64 = 0x10000

// NewDevice creates a Device.
//
// Parameters:
//   - options: variadic list of DeviceBuilderOption functions to configure the device
//
// Returns:
//   - Device: the ready device
//   - error: error if the backend fails to initialize
func NewDevice(options ...DeviceBuilderOption) (Device, error) {
	d := &device{
		logger:       logger.New("device"),
		backendType:  BackendTypeSoftware,
		limits:       DefaultLimits(),
		fenceTimeout: 5 * time.Second,
		workers:      4,
		nextAddress:  addressBase,
		memories:     make(map[*memory]struct{}),
		buffers:      make(map[*buffer]struct{}),
		structures:   make(map[uint64]*accelerationStructure),
		pipelines:    make(map[*pipeline]struct{}),
		images:       make(map[*image]struct{}),
	}
	for _, opt := range options {
		opt(d)
	}

	backend, err := newDeviceBackend(d.backendType)
	if err != nil {
		return nil, err
	}
	d.backend = backend

	d.pool = worker.NewDynamicWorkerPool(d.workers, 256, 1*time.Second)
	d.queue = newQueue(d)
	// scoring runs on its own pool so a build executing on the queue never waits on itself
	d.builder = bvh.NewBuilder(bvh.WithWorkers(d.workers), bvh.WithMinLeafItems(2))

	if err := d.backend.init(d); err != nil {
		d.pool.Stop()
		d.builder.Release()
		return nil, fmt.Errorf("failed to initialize %s backend: %w", d.backendType, err)
	}

	if d.surfaceWidth > 0 && d.surfaceHeight > 0 {
		d.surface = &surface{d: d}
		if err := d.surface.Configure(d.surfaceWidth, d.surfaceHeight); err != nil {
			d.Release()
			return nil, err
		}
	}

	d.logger.Infof("created %s device (%d workers, fence timeout %s)", d.backendType, d.workers, d.fenceTimeout)
	return d, nil
}

func (d *device) Type() BackendType {
	return d.backendType
}

func (d *device) Limits() Limits {
	return d.limits
}

func (d *device) FenceTimeout() time.Duration {
	return d.fenceTimeout
}

func (d *device) Surface() Surface {
	if d.surface == nil {
		return nil
	}
	return d.surface
}

func (d *device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.Buffers = len(d.buffers)
	s.Memories = len(d.memories)
	s.AccelerationStructures = len(d.structures)
	s.Pipelines = len(d.pipelines)
	s.Images = len(d.images)
	return s
}

func (d *device) WaitIdle(ctx context.Context) error {
	return d.queue.waitIdle(ctx)
}

func (d *device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.mu.Unlock()

	if err := d.queue.waitIdle(context.Background()); err != nil {
		d.logger.Warningf("release: %v", err)
	}
	d.backend.waitIdle()

	d.mu.Lock()
	leaked := len(d.buffers) + len(d.memories) + len(d.structures)
	d.mu.Unlock()
	if leaked > 0 {
		d.logger.Warningf("release with %d live buffers, memories and structures", leaked)
	}

	d.pool.Stop()
	d.builder.Release()
	d.backend.release()
	d.logger.Infof("released %s device", d.backendType)
}

func (d *device) newID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

// reserveAddresses hands out a device address range for a memory allocation.
func (d *device) reserveAddresses(size uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	base := d.nextAddress
	d.nextAddress = common.AlignUp(d.nextAddress+size+1, 256)
	return base
}

// resolveBuffer finds the live buffer whose address range contains addr.
func (d *device) resolveBuffer(addr uint64) (*buffer, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for b := range d.buffers {
		base := b.DeviceAddress()
		if base == 0 {
			continue
		}
		if addr >= base && addr < base+b.size {
			return b, addr - base, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: 0x%x", ErrUnknownAddress, addr)
}

// resolveStructure finds the live acceleration structure at addr.
func (d *device) resolveStructure(addr uint64) (*accelerationStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	as, ok := d.structures[addr]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownAddress, addr)
	}
	return as, nil
}

func (d *device) checkLive(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return violation(op, ErrDestroyed)
	}
	return nil
}
