package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// DefaultFramesInFlight is the number of frame slots when WithFramesInFlight is not given.
const DefaultFramesInFlight = 2

// Frame is one frame in flight. It is returned by BeginFrame and passed back to
// RecordDispatch, Submit and Present.
type Frame struct {
	// Index counts frames since the synchronizer was created.
	Index uint64
	// Slot is the frame slot whose fence and command buffer this frame uses.
	Slot    int
	Command device.CommandBuffer
	Fence   device.Fence
}

// InstanceSource returns the current instance list of the scene graph.
type InstanceSource func() []scene.Instance

type frameSlot struct {
	cmd   device.CommandBuffer
	fence device.Fence
}

// frameSynchronizer is the implementation of the FrameSynchronizer interface.
type frameSynchronizer struct {
	mu  *sync.Mutex
	r   Renderer
	log logger.Logger

	source         InstanceSource
	framesInFlight int
	slots          []frameSlot
	slot           int
	frame          uint64

	camera        camera.Camera
	cameraVersion uint64

	rebuild atomic.Bool
}

// FrameSynchronizer paces the frame loop over a fixed ring of frame slots. Each slot owns
// one fence, created signaled, and one command buffer. Waiting on the slot fence in
// BeginFrame is the only point where a steady-state frame blocks.
//
// Usage pattern:
//  1. BeginFrame performs a pending rebuild, waits on the slot fence and acquires the surface
//  2. RecordDispatch records the ray dispatch into the slot's command buffer
//  3. Submit submits it with the slot fence
//  4. Present presents the output image and moves to the next slot
type FrameSynchronizer interface {
	// BeginFrame starts the next frame. A pending rebuild, or a camera change, runs first
	// through Renderer.RebuildTopLevel. An out-of-date surface is reconfigured, the
	// outputs are recreated and a KindOutOfDate GpuError is returned so the caller skips
	// the frame.
	//
	// Parameters:
	//   - ctx: bounds the rebuild and fence waits
	//
	// Returns:
	//   - *Frame: the frame, with its command buffer recording
	//   - error: a KindOutOfDate GpuError to skip the frame, or a fatal GpuError
	BeginFrame(ctx context.Context) (*Frame, error)

	// RecordDispatch records the renderer's ray dispatch into the frame's command buffer.
	RecordDispatch(f *Frame) error

	// Submit ends the frame's command buffer and submits it with the slot fence.
	Submit(f *Frame) error

	// Present moves to the next slot and presents the output image. A headless device
	// only moves to the next slot.
	//
	// Parameters:
	//   - ctx: bounds the output recreation after an out-of-date present
	//   - f: the submitted frame
	//
	// Returns:
	//   - error: a KindOutOfDate GpuError after recovering from an out-of-date surface
	Present(ctx context.Context, f *Frame) error

	// RequestRebuild marks the scene dirty. The next BeginFrame rebuilds the top level.
	RequestRebuild()

	// RebuildPending reports whether a rebuild is queued.
	RebuildPending() bool

	// FramesInFlight returns the number of frame slots.
	FramesInFlight() int

	// Release waits on every slot fence.
	Release(ctx context.Context) error
}

var _ FrameSynchronizer = &frameSynchronizer{}

// FrameSynchronizerOption is a functional option applied to a frame synchronizer during
// construction via NewFrameSynchronizer.
type FrameSynchronizerOption func(*frameSynchronizer)

// WithFramesInFlight sets the number of frame slots. Values below 1 are ignored.
//
// Parameters:
//   - n: the number of slots
//
// Returns:
//   - FrameSynchronizerOption: a function that applies the slot count
func WithFramesInFlight(n int) FrameSynchronizerOption {
	return func(s *frameSynchronizer) {
		if n >= 1 {
			s.framesInFlight = n
		}
	}
}

// WithCamera makes the synchronizer watch cam. A new camera version refills the uniform
// block and goes through the rebuild path.
//
// Parameters:
//   - cam: the camera to watch
//
// Returns:
//   - FrameSynchronizerOption: a function that applies the camera
func WithCamera(cam camera.Camera) FrameSynchronizerOption {
	return func(s *frameSynchronizer) {
		s.camera = cam
	}
}

// NewFrameSynchronizer creates the frame slots for r and configures the device surface,
// if any, to the renderer's extent.
//
// Parameters:
//   - r: the renderer; its scene must be built before the first BeginFrame
//   - source: returns the instances a rebuild uses; nil rebuilds over the current instances
//   - options: variadic list of FrameSynchronizerOption functions
//
// Returns:
//   - FrameSynchronizer: the synchronizer
//   - error: a GpuError if a fence, command buffer or the surface cannot be created
func NewFrameSynchronizer(r Renderer, source InstanceSource, options ...FrameSynchronizerOption) (FrameSynchronizer, error) {
	s := &frameSynchronizer{
		mu:             &sync.Mutex{},
		r:              r,
		log:            logger.New("renderer"),
		source:         source,
		framesInFlight: DefaultFramesInFlight,
	}
	for _, opt := range options {
		opt(s)
	}

	dev := r.Device()
	for i := 0; i < s.framesInFlight; i++ {
		fence, err := dev.CreateFence(true)
		if err != nil {
			return nil, err
		}
		cmd, err := dev.CreateCommandBuffer(fmt.Sprintf("frame %d", i))
		if err != nil {
			return nil, err
		}
		s.slots = append(s.slots, frameSlot{cmd: cmd, fence: fence})
	}

	if surf := dev.Surface(); surf != nil {
		if err := surf.Configure(r.Extent()); err != nil {
			return nil, err
		}
	}
	if s.camera != nil {
		r.SetCamera(s.camera)
		s.cameraVersion = s.camera.Version()
	}
	return s, nil
}

func (s *frameSynchronizer) BeginFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.camera != nil {
		if v := s.camera.Version(); v != s.cameraVersion {
			s.cameraVersion = v
			s.r.SetCamera(s.camera)
			s.rebuild.Store(true)
		}
	}
	if s.rebuild.Swap(false) {
		instances := s.r.Instances()
		if s.source != nil {
			instances = s.source()
		}
		if err := s.r.RebuildTopLevel(ctx, instances); err != nil {
			s.rebuild.Store(true)
			return nil, err
		}
	}

	slot := s.slots[s.slot]
	if err := slot.fence.Wait(ctx); err != nil {
		return nil, err
	}

	// the fence stays signaled when the frame is skipped, so the next wait returns at once
	if surf := s.r.Device().Surface(); surf != nil {
		if err := surf.Acquire(); err != nil {
			if kind, ok := device.KindOf(err); ok && kind == device.KindOutOfDate {
				return nil, s.recoverFrom(ctx, surf, err)
			}
			return nil, err
		}
	}

	if err := slot.fence.Reset(); err != nil {
		return nil, err
	}
	if err := slot.cmd.Begin(); err != nil {
		return nil, err
	}

	f := &Frame{Index: s.frame, Slot: s.slot, Command: slot.cmd, Fence: slot.fence}
	s.frame++
	return f, nil
}

func (s *frameSynchronizer) RecordDispatch(f *Frame) error {
	return s.r.RecordDispatch(f.Command)
}

func (s *frameSynchronizer) Submit(f *Frame) error {
	if err := f.Command.End(); err != nil {
		return err
	}
	return s.r.Device().Submit([]device.CommandBuffer{f.Command}, f.Fence)
}

func (s *frameSynchronizer) Present(ctx context.Context, f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = (f.Slot + 1) % len(s.slots)

	surf := s.r.Device().Surface()
	if surf == nil {
		return nil
	}
	if err := surf.Present(s.r.OutputImage()); err != nil {
		if kind, ok := device.KindOf(err); ok && kind == device.KindOutOfDate {
			return s.recoverFrom(ctx, surf, err)
		}
		return err
	}
	return nil
}

func (s *frameSynchronizer) RequestRebuild() {
	s.rebuild.Store(true)
}

func (s *frameSynchronizer) RebuildPending() bool {
	return s.rebuild.Load()
}

func (s *frameSynchronizer) FramesInFlight() int {
	return len(s.slots)
}

func (s *frameSynchronizer) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for i, slot := range s.slots {
		if err := slot.fence.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("frame slot %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// recover reconfigures surf at its current extent and recreates the renderer outputs to
// match.
// recoverFrom rebuilds the outputs after an out-of-date surface. It returns outOfDate when
// recovery succeeds and the recovery error otherwise, so a fatal failure is not masked.
func (s *frameSynchronizer) recoverFrom(ctx context.Context, surf device.Surface, outOfDate error) error {
	if err := s.recover(ctx, surf); err != nil {
		return fmt.Errorf("recover out-of-date surface: %w", err)
	}
	return outOfDate
}

func (s *frameSynchronizer) recover(ctx context.Context, surf device.Surface) error {
	w, h := surf.Extent()
	if err := surf.Configure(w, h); err != nil {
		return err
	}
	if err := s.r.RecreateOutputs(ctx, w, h); err != nil {
		return err
	}
	s.log.Debugf("surface out of date, outputs recreated at %dx%d", w, h)
	return nil
}
