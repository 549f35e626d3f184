package bind_group_provider

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// ErrEmptySlot is returned when a write targets a slot with no buffer.
var ErrEmptySlot = errors.New("binding slot has no buffer")

// BufferWrite describes a single host write into the buffer bound to a slot of a
// BindGroupProvider at a given byte offset.
type BufferWrite struct {
	Provider BindGroupProvider
	Slot     uint32
	Offset   uint64
	Data     []byte
}

// WriteBuffers applies every write in order. The target buffers must be host visible.
//
// Parameters:
//   - writes: the writes to apply
//
// Returns:
//   - error: a KindContractViolation GpuError for an empty slot, or the first write error
func WriteBuffers(writes ...BufferWrite) error {
	for _, w := range writes {
		b := w.Provider.Buffer(w.Slot)
		if b == nil {
			return device.NewError(device.KindContractViolation, "renderer", "write buffer",
				fmt.Errorf("%w: %s slot %d", ErrEmptySlot, w.Provider.Label(), w.Slot))
		}
		if err := b.Write(w.Offset, w.Data); err != nil {
			return fmt.Errorf("write %s slot %d: %w", w.Provider.Label(), w.Slot, err)
		}
	}
	return nil
}
