package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
)

// staging offsets are kept 4-byte aligned
const stagingAlignment = 4

// Uploader batches host-to-device transfers into one staging buffer, one command buffer
// and one submission.
type Uploader interface {
	// Add queues a transfer of data into target at offset.
	//
	// Parameters:
	//   - target: the destination, created with BufferUsageTransferDst
	//   - offset: byte offset into target
	//   - data: the bytes to transfer
	//
	// Returns:
	//   - error: a KindContractViolation GpuError if the range does not fit in target
	Add(target DeviceBuffer, offset uint64, data []byte) error

	// Pending returns the number of queued transfers.
	Pending() int

	// Flush performs every queued transfer and blocks until the device signals completion.
	// The staging buffer is destroyed before Flush returns, whether or not it succeeded.
	Flush(ctx context.Context) error
}

type transfer struct {
	target DeviceBuffer
	offset uint64
	data   []byte
}

type uploader struct {
	mu     sync.Mutex
	dev    device.Device
	logger logger.Logger
	label  string

	transfers []transfer
	bytes     uint64
}

var _ Uploader = &uploader{}

// NewUploader creates an empty Uploader.
//
// Parameters:
//   - dev: the device transfers are submitted to
//   - label: the debug label of the staging buffer and the command buffer
//
// Returns:
//   - Uploader: the new uploader
func NewUploader(dev device.Device, label string) Uploader {
	return &uploader{dev: dev, logger: logger.New("buffer"), label: label}
}

func (u *uploader) Add(target DeviceBuffer, offset uint64, data []byte) error {
	if target == nil {
		return device.NewError(device.KindContractViolation, "buffer", "queue upload", fmt.Errorf("%s: target is nil", u.label))
	}
	if offset+uint64(len(data)) > target.Size() {
		return device.NewError(device.KindContractViolation, "buffer", "queue upload",
			fmt.Errorf("%w: %d bytes at %d into %q (%d bytes)", device.ErrOutOfRange, len(data), offset, target.Label(), target.Size()))
	}
	if len(data) == 0 {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.transfers = append(u.transfers, transfer{target: target, offset: offset, data: data})
	u.bytes += common.AlignUp(uint64(len(data)), stagingAlignment)
	return nil
}

func (u *uploader) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.transfers)
}

func (u *uploader) Flush(ctx context.Context) (rerr error) {
	u.mu.Lock()
	transfers := u.transfers
	size := u.bytes
	u.transfers = nil
	u.bytes = 0
	u.mu.Unlock()

	if len(transfers) == 0 {
		return nil
	}

	staging, err := NewDeviceBuffer(u.dev,
		WithLabel(u.label+" staging"),
		WithSize(size),
		WithUsage(device.BufferUsageTransferSrc),
		WithHostVisible(true),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := staging.Destroy(); err != nil {
			rerr = errors.Join(rerr, fmt.Errorf("%s: staging buffer leaked: %w", u.label, err))
		}
	}()

	view, err := staging.Memory().Map(0, size)
	if err != nil {
		return err
	}
	offsets := make([]uint64, len(transfers))
	var at uint64
	for i, t := range transfers {
		offsets[i] = at
		copy(view[at:], t.data)
		at += common.AlignUp(uint64(len(t.data)), stagingAlignment)
	}
	if err := staging.Memory().Unmap(); err != nil {
		return err
	}

	cb, err := u.dev.CreateCommandBuffer(u.label)
	if err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	for i, t := range transfers {
		if err := cb.CopyBuffer(staging.Buffer(), t.target.Buffer(), offsets[i], t.offset, uint64(len(t.data))); err != nil {
			return fmt.Errorf("%s: transfer %d into %q: %w", u.label, i, t.target.Label(), err)
		}
	}
	cb.Barrier(device.BarrierTransfer)
	if err := cb.End(); err != nil {
		return err
	}

	if err := submitAndWait(ctx, u.dev, cb); err != nil {
		return fmt.Errorf("%s: %w", u.label, err)
	}
	u.logger.Debugf("%s: uploaded %d bytes in %d transfers", u.label, size, len(transfers))
	return nil
}

// Upload copies size bytes of data into target through a transient staging buffer and
// blocks until the device has finished the copy.
//
// Parameters:
//   - ctx: cancels the wait
//   - dev: the device owning target
//   - target: the destination, created with BufferUsageTransferDst
//   - data: the source bytes
//   - size: the number of bytes to copy, at most len(data) and target.Size()
//
// Returns:
//   - error: a KindContractViolation GpuError on a size mismatch, or the submission error
func Upload(ctx context.Context, dev device.Device, target DeviceBuffer, data []byte, size uint64) error {
	if size > uint64(len(data)) {
		return device.NewError(device.KindContractViolation, "buffer", "upload",
			fmt.Errorf("%w: size %d exceeds %d source bytes", device.ErrOutOfRange, size, len(data)))
	}
	u := NewUploader(dev, "upload "+target.Label())
	if err := u.Add(target, 0, data[:size]); err != nil {
		return err
	}
	return u.Flush(ctx)
}

// Readback copies size bytes at offset of src back to the host.
//
// Parameters:
//   - ctx: cancels the wait
//   - dev: the device owning src
//   - src: the source, created with BufferUsageTransferSrc
//   - offset: byte offset into src
//   - size: the number of bytes to read
//
// Returns:
//   - []byte: the bytes read
//   - error: a KindContractViolation GpuError if the range does not fit, or the submission error
func Readback(ctx context.Context, dev device.Device, src DeviceBuffer, offset, size uint64) (_ []byte, rerr error) {
	if size == 0 || offset+size > src.Size() {
		return nil, device.NewError(device.KindContractViolation, "buffer", "readback",
			fmt.Errorf("%w: %d bytes at %d from %q (%d bytes)", device.ErrOutOfRange, size, offset, src.Label(), src.Size()))
	}

	staging, err := NewDeviceBuffer(dev,
		WithLabel("readback "+src.Label()),
		WithSize(size),
		WithUsage(device.BufferUsageTransferDst),
		WithHostVisible(true),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := staging.Destroy(); err != nil {
			rerr = errors.Join(rerr, fmt.Errorf("readback %q: staging buffer leaked: %w", src.Label(), err))
		}
	}()

	cb, err := dev.CreateCommandBuffer("readback " + src.Label())
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(); err != nil {
		return nil, err
	}
	if err := cb.CopyBuffer(src.Buffer(), staging.Buffer(), offset, 0, size); err != nil {
		return nil, err
	}
	if err := cb.End(); err != nil {
		return nil, err
	}
	if err := submitAndWait(ctx, dev, cb); err != nil {
		return nil, err
	}
	return staging.Read(0, size)
}

func submitAndWait(ctx context.Context, dev device.Device, cb device.CommandBuffer) error {
	fence, err := dev.CreateFence(false)
	if err != nil {
		return err
	}
	if err := dev.Submit([]device.CommandBuffer{cb}, fence); err != nil {
		return err
	}
	if err := fence.Wait(ctx); err != nil {
		// drain the queue so the caller can destroy the transient buffers the copy reads
		if idleErr := dev.WaitIdle(context.Background()); idleErr != nil {
			return errors.Join(err, idleErr)
		}
		return err
	}
	return nil
}
