package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// Fence is signaled by the queue when a submission finishes.
type Fence interface {
	// Wait blocks until the fence is signaled and returns the submission's error.
	//
	// Parameters:
	//   - ctx: cancels the wait early
	//
	// Returns:
	//   - error: the submission error, or a KindDeviceLost GpuError if the wait exceeds the fence timeout
	Wait(ctx context.Context) error

	// Reset returns a signaled fence to the unsignaled state.
	Reset() error

	// Signaled reports whether the fence has been signaled.
	Signaled() bool
}

type fence struct {
	mu sync.Mutex
	d  *device

	signaled bool
	pending  bool
	err      error
	done     chan struct{}
}

var _ Fence = &fence{}

func (d *device) CreateFence(signaled bool) (Fence, error) {
	if err := d.checkLive("create fence"); err != nil {
		return nil, err
	}
	f := &fence{d: d, done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f, nil
}

func (f *fence) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	timer := time.NewTimer(f.d.fenceTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		return NewError(KindDeviceLost, "device", "wait fence", ctx.Err())
	case <-timer.C:
		return NewError(KindDeviceLost, "device", "wait fence", fmt.Errorf("%w after %s", ErrTimeout, f.d.fenceTimeout))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return violation("reset fence", fmt.Errorf("%w: fence has a pending submission", ErrInvalidState))
	}
	if f.signaled {
		f.signaled = false
		f.err = nil
		f.done = make(chan struct{})
	}
	return nil
}

func (f *fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fence) signal(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.pending = false
	f.signaled = true
	close(f.done)
}

// queue runs submissions in order on the device worker pool. Each submission waits for
// the one before it, so workers only overlap on independent host work.
type queue struct {
	mu sync.Mutex
	d  *device

	nextTask int
	tail     chan struct{}
}

func newQueue(d *device) *queue {
	tail := make(chan struct{})
	close(tail)
	return &queue{d: d, tail: tail}
}

func (d *device) Submit(cmds []CommandBuffer, f Fence) error {
	const op = "submit"
	if err := d.checkLive(op); err != nil {
		return err
	}

	var fen *fence
	if f != nil {
		var ok bool
		fen, ok = f.(*fence)
		if !ok || fen.d != d {
			return violation(op, fmt.Errorf("fence belongs to another device"))
		}
		fen.mu.Lock()
		if fen.signaled || fen.pending {
			fen.mu.Unlock()
			return violation(op, ErrFenceNotReset)
		}
		fen.mu.Unlock()
	}

	batch := make([]*commandBuffer, 0, len(cmds))
	for _, cmd := range cmds {
		cb, ok := cmd.(*commandBuffer)
		if !ok || cb.d != d {
			return violation(op, fmt.Errorf("command buffer belongs to another device"))
		}
		cb.mu.Lock()
		state := cb.state
		cb.mu.Unlock()
		if state != commandStateExecutable {
			return violation(op, fmt.Errorf("%w: %q is not executable", ErrInvalidState, cb.label))
		}
		batch = append(batch, cb)
	}

	var refs []*buffer
	for _, cb := range batch {
		cb.mu.Lock()
		cb.state = commandStatePending
		refs = append(refs, cb.references()...)
		refs = append(refs, d.shaderTableReferences(cb)...)
		cb.mu.Unlock()
	}
	for _, b := range refs {
		b.acquire()
	}
	if fen != nil {
		fen.mu.Lock()
		fen.pending = true
		fen.mu.Unlock()
	}

	d.mu.Lock()
	d.stats.Submissions++
	d.mu.Unlock()

	d.queue.enqueue(func() {
		var err error
		for _, cb := range batch {
			if err == nil {
				err = d.execute(cb)
			}
			cb.mu.Lock()
			cb.state = commandStateExecutable
			cb.mu.Unlock()
		}
		for _, b := range refs {
			b.releaseRef()
		}
		if err != nil {
			d.logger.Errorf("submission failed: %v", err)
		}
		if fen != nil {
			fen.signal(err)
		}
	})
	return nil
}

func (q *queue) enqueue(run func()) {
	q.mu.Lock()
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	id := q.nextTask
	q.nextTask++
	q.mu.Unlock()

	q.d.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			defer close(done)
			<-prev
			run()
			return nil, nil
		},
	})
}

func (q *queue) waitIdle(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()

	timer := time.NewTimer(q.d.fenceTimeout)
	defer timer.Stop()

	select {
	case <-tail:
		q.d.backend.waitIdle()
		return nil
	case <-ctx.Done():
		return NewError(KindDeviceLost, "device", "wait idle", ctx.Err())
	case <-timer.C:
		return NewError(KindDeviceLost, "device", "wait idle", fmt.Errorf("%w after %s", ErrTimeout, q.d.fenceTimeout))
	}
}

// shaderTableReferences resolves the shader binding table buffers of every dispatch.
func (d *device) shaderTableReferences(cb *commandBuffer) []*buffer {
	var out []*buffer
	for _, cmd := range cb.cmds {
		if cmd.kind != commandTraceRays {
			continue
		}
		for _, r := range []StridedRegion{cmd.trace.Regions.RayGen, cmd.trace.Regions.Miss, cmd.trace.Regions.Hit} {
			if r.Size == 0 {
				continue
			}
			if b, _, err := d.resolveBuffer(r.Address); err == nil {
				out = append(out, b)
			}
		}
	}
	return out
}

// execute runs one command buffer on the host.
func (d *device) execute(cb *commandBuffer) error {
	// bottom-level structures written since the last structure barrier
	unordered := make(map[*accelerationStructure]struct{})

	for i, cmd := range cb.cmds {
		var err error
		switch cmd.kind {
		case commandCopy:
			err = d.executeCopy(cmd)
		case commandBuild:
			err = d.executeBuild(cmd.build, unordered)
		case commandBarrier:
			if cmd.barrier == BarrierAccelerationStructureBuild {
				clear(unordered)
			}
		case commandTraceRays:
			err = d.executeTraceRays(cmd.trace)
		}
		if err != nil {
			kind := KindDeviceLost
			if errors.Is(err, ErrMissingBarrier) || errors.Is(err, ErrUnknownAddress) ||
				errors.Is(err, ErrNotBuilt) || errors.Is(err, ErrDestroyed) ||
				errors.Is(err, ErrInvalidShaderRecords) || errors.Is(err, ErrOutOfRange) {
				kind = KindContractViolation
			}
			return asGpuError(kind, "device", fmt.Sprintf("execute %q command %d", cb.label, i), err)
		}
	}
	return nil
}

func (d *device) executeCopy(cmd command) error {
	src, err := cmd.src.bytes(cmd.srcOffset, cmd.size)
	if err != nil {
		return err
	}
	dst, err := cmd.dst.bytes(cmd.dstOffset, cmd.size)
	if err != nil {
		return err
	}
	copy(dst, src)
	return d.backend.bufferWritten(cmd.dst, cmd.dstOffset, cmd.size)
}
