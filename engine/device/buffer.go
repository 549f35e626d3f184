package device

import (
	"fmt"
	"sync"
)

// Buffer is a linear range of device memory. A buffer has no storage until Bind.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage

	// Bind attaches the buffer to memory at offset. A buffer can be bound once.
	//
	// Parameters:
	//   - mem: memory from the same device
	//   - offset: byte offset into mem, a multiple of 4
	//
	// Returns:
	//   - error: a KindContractViolation GpuError on misuse
	Bind(mem Memory, offset uint64) error

	// Memory returns the bound memory, or nil.
	Memory() Memory

	// DeviceAddress returns the buffer's device address, or 0 if the buffer is unbound or
	// lacks BufferUsageDeviceAddress.
	DeviceAddress() uint64

	// Destroy releases the buffer. It fails while structures live in the buffer or a
	// pending submission references it.
	Destroy() error
}

// Memory is a device allocation.
type Memory interface {
	Label() string
	Size() uint64
	HostVisible() bool

	// Map returns a host view of [offset, offset+size). Writes to the view reach the
	// memory on Unmap; the view must not be used after Unmap. Only one range can be
	// mapped at a time.
	//
	// Parameters:
	//   - offset: first byte to map
	//   - size: number of bytes to map
	//
	// Returns:
	//   - []byte: the mapped view
	//   - error: ErrNotHostVisible, ErrAlreadyMapped or ErrOutOfRange as a GpuError
	Map(offset, size uint64) ([]byte, error)

	// Unmap flushes and invalidates the current mapping.
	Unmap() error

	// Free releases the allocation. Every buffer bound to it must be destroyed first.
	Free() error
}

type memory struct {
	mu sync.Mutex
	d  *device

	id          uint64
	label       string
	size        uint64
	hostVisible bool
	base        uint64

	data  []byte
	bound map[*buffer]struct{}

	mapped    []byte
	mapOffset uint64
	freed     bool
}

var _ Memory = &memory{}

type buffer struct {
	mu sync.Mutex
	d  *device

	id    uint64
	label string
	size  uint64
	usage BufferUsage

	mem    *memory
	offset uint64

	// live acceleration structures placed in this buffer
	structures int
	// pending submissions that reference this buffer
	inflight int

	destroyed bool

	// backend payload
	native any
}

var _ Buffer = &buffer{}

func (d *device) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	if err := d.checkLive("create buffer"); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, NewError(KindResourceCreation, "device", "create buffer", fmt.Errorf("buffer %q has zero size", desc.Label))
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, NewError(KindResourceCreation, "device", "create buffer",
			fmt.Errorf("buffer %q size %d exceeds limit %d", desc.Label, desc.Size, d.limits.MaxBufferSize))
	}
	if desc.Usage == 0 {
		return nil, NewError(KindResourceCreation, "device", "create buffer", fmt.Errorf("buffer %q has no usage", desc.Label))
	}

	b := &buffer{
		d:     d,
		id:    d.newID(),
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
	}

	d.mu.Lock()
	d.buffers[b] = struct{}{}
	d.mu.Unlock()

	return b, nil
}

func (d *device) AllocateMemory(desc MemoryDescriptor) (Memory, error) {
	if err := d.checkLive("allocate memory"); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, NewError(KindResourceCreation, "device", "allocate memory", fmt.Errorf("allocation %q has zero size", desc.Label))
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, NewError(KindResourceCreation, "device", "allocate memory",
			fmt.Errorf("allocation %q size %d exceeds limit %d", desc.Label, desc.Size, d.limits.MaxBufferSize))
	}

	m := &memory{
		d:           d,
		id:          d.newID(),
		label:       desc.Label,
		size:        desc.Size,
		hostVisible: desc.HostVisible,
		base:        d.reserveAddresses(desc.Size),
		data:        make([]byte, desc.Size),
		bound:       make(map[*buffer]struct{}),
	}

	d.mu.Lock()
	d.memories[m] = struct{}{}
	d.stats.AllocatedBytes += desc.Size
	d.mu.Unlock()

	return m, nil
}

func (m *memory) Label() string { return m.label }

func (m *memory) Size() uint64 { return m.size }

func (m *memory) HostVisible() bool { return m.hostVisible }

func (m *memory) Map(offset, size uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.freed:
		return nil, violation("map memory", ErrDestroyed)
	case !m.hostVisible:
		return nil, violation("map memory", fmt.Errorf("%w: %q", ErrNotHostVisible, m.label))
	case m.mapped != nil:
		return nil, violation("map memory", fmt.Errorf("%w: %q", ErrAlreadyMapped, m.label))
	case size == 0 || offset+size > m.size:
		return nil, violation("map memory", fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, offset, offset+size, m.size))
	}

	view := make([]byte, size)
	copy(view, m.data[offset:offset+size])
	m.mapped = view
	m.mapOffset = offset
	return view, nil
}

func (m *memory) Unmap() error {
	m.mu.Lock()
	if m.mapped == nil {
		m.mu.Unlock()
		return violation("unmap memory", fmt.Errorf("%w: %q", ErrNotMapped, m.label))
	}
	start := m.mapOffset
	end := start + uint64(len(m.mapped))
	copy(m.data[start:end], m.mapped)
	m.mapped = nil

	touched := make([]*buffer, 0, len(m.bound))
	for b := range m.bound {
		touched = append(touched, b)
	}
	m.mu.Unlock()

	for _, b := range touched {
		lo := max(start, b.offset)
		hi := min(end, b.offset+b.size)
		if lo >= hi {
			continue
		}
		if err := m.d.backend.bufferWritten(b, lo-b.offset, hi-lo); err != nil {
			return NewError(KindDeviceLost, "device", "flush mapped range", err)
		}
	}
	return nil
}

func (m *memory) Free() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.freed {
		return violation("free memory", ErrDestroyed)
	}
	if len(m.bound) > 0 {
		return violation("free memory", fmt.Errorf("%w: %q has %d", ErrMemoryInUse, m.label, len(m.bound)))
	}
	m.freed = true
	m.mapped = nil
	m.data = nil

	m.d.mu.Lock()
	delete(m.d.memories, m)
	m.d.stats.AllocatedBytes -= m.size
	m.d.mu.Unlock()
	return nil
}

func (b *buffer) Label() string { return b.label }

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Usage() BufferUsage { return b.usage }

func (b *buffer) Bind(mem Memory, offset uint64) error {
	m, ok := mem.(*memory)
	if !ok || m == nil || m.d != b.d {
		return violation("bind buffer", fmt.Errorf("buffer %q: memory belongs to another device", b.label))
	}

	b.mu.Lock()
	switch {
	case b.destroyed:
		b.mu.Unlock()
		return violation("bind buffer", ErrDestroyed)
	case b.mem != nil:
		b.mu.Unlock()
		return violation("bind buffer", fmt.Errorf("%w: %q", ErrAlreadyBound, b.label))
	case offset%4 != 0:
		b.mu.Unlock()
		return violation("bind buffer", fmt.Errorf("%w: offset %d", ErrMisaligned, offset))
	}

	m.mu.Lock()
	if m.freed {
		m.mu.Unlock()
		b.mu.Unlock()
		return violation("bind buffer", ErrDestroyed)
	}
	if offset+b.size > m.size {
		m.mu.Unlock()
		b.mu.Unlock()
		return violation("bind buffer", fmt.Errorf("%w: buffer %q needs %d bytes at %d, memory has %d",
			ErrOutOfRange, b.label, b.size, offset, m.size))
	}
	m.bound[b] = struct{}{}
	m.mu.Unlock()

	b.mem = m
	b.offset = offset
	b.mu.Unlock()

	if err := b.d.backend.bufferBound(b); err != nil {
		return NewError(KindResourceCreation, "device", "bind buffer", err)
	}
	return nil
}

func (b *buffer) Memory() Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil {
		return nil
	}
	return b.mem
}

func (b *buffer) DeviceAddress() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mem == nil || b.destroyed || !b.usage.Has(BufferUsageDeviceAddress) {
		return 0
	}
	return b.mem.base + b.offset
}

func (b *buffer) Destroy() error {
	b.mu.Lock()
	switch {
	case b.destroyed:
		b.mu.Unlock()
		return violation("destroy buffer", fmt.Errorf("%w: %q", ErrDestroyed, b.label))
	case b.structures > 0:
		b.mu.Unlock()
		return violation("destroy buffer", fmt.Errorf("%w: %q holds %d acceleration structures", ErrBufferInUse, b.label, b.structures))
	case b.inflight > 0:
		b.mu.Unlock()
		return violation("destroy buffer", fmt.Errorf("%w: %q is used by %d pending submissions", ErrBufferInUse, b.label, b.inflight))
	}
	b.destroyed = true
	mem := b.mem
	b.mu.Unlock()

	if mem != nil {
		mem.mu.Lock()
		delete(mem.bound, b)
		mem.mu.Unlock()
	}
	b.d.backend.bufferDestroyed(b)

	b.d.mu.Lock()
	delete(b.d.buffers, b)
	b.d.mu.Unlock()
	return nil
}

// bytes returns the host storage of [offset, offset+size) of the buffer.
func (b *buffer) bytes(offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil, fmt.Errorf("%w: buffer %q", ErrDestroyed, b.label)
	}
	if b.mem == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotBound, b.label)
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("%w: [%d, %d) of buffer %q (%d bytes)", ErrOutOfRange, offset, offset+size, b.label, b.size)
	}
	start := b.offset + offset
	return b.mem.data[start : start+size], nil
}

// checkUsable reports why b cannot be recorded into a command.
func (b *buffer) checkUsable(need BufferUsage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.destroyed:
		return fmt.Errorf("%w: buffer %q", ErrDestroyed, b.label)
	case b.mem == nil:
		return fmt.Errorf("%w: %q", ErrNotBound, b.label)
	case !b.usage.Has(need):
		return fmt.Errorf("%w: %q", ErrMissingUsage, b.label)
	}
	return nil
}

func (b *buffer) acquire() {
	b.mu.Lock()
	b.inflight++
	b.mu.Unlock()
}

func (b *buffer) releaseRef() {
	b.mu.Lock()
	b.inflight--
	b.mu.Unlock()
}

// asBuffer unwraps a Buffer created by d.
func (d *device) asBuffer(buf Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("buffer is nil or foreign")
	}
	if b.d != d {
		return nil, fmt.Errorf("buffer %q belongs to another device", b.label)
	}
	return b, nil
}
