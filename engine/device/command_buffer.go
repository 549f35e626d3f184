package device

import (
	"fmt"
	"sync"
)

// CommandBuffer records work for a single submission.
type CommandBuffer interface {
	Label() string

	// Begin starts recording. A finished command buffer is reset implicitly.
	Begin() error

	// CopyBuffer records a copy of size bytes from src to dst.
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) error

	// BuildAccelerationStructure records a build or update.
	BuildAccelerationStructure(info BuildInfo) error

	// Barrier records an execution and memory dependency.
	Barrier(kind BarrierKind)

	// TraceRays records a ray dispatch.
	TraceRays(info TraceRaysInfo) error

	// End finishes recording and makes the command buffer submittable.
	End() error

	// Reset discards recorded commands. It fails while a submission is pending.
	Reset() error
}

type commandState int

const (
	commandStateInitial commandState = iota
	commandStateRecording
	commandStateExecutable
	commandStatePending
)

type commandKind int

const (
	commandCopy commandKind = iota
	commandBuild
	commandBarrier
	commandTraceRays
)

type command struct {
	kind commandKind

	src, dst             *buffer
	srcOffset, dstOffset uint64
	size                 uint64

	build   BuildInfo
	barrier BarrierKind
	trace   TraceRaysInfo
}

type commandBuffer struct {
	mu sync.Mutex
	d  *device

	label string
	state commandState
	cmds  []command
}

var _ CommandBuffer = &commandBuffer{}

func (d *device) CreateCommandBuffer(label string) (CommandBuffer, error) {
	if err := d.checkLive("create command buffer"); err != nil {
		return nil, err
	}
	return &commandBuffer{d: d, label: label}, nil
}

func (c *commandBuffer) Label() string { return c.label }

func (c *commandBuffer) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case commandStateRecording, commandStatePending:
		return violation("begin command buffer", fmt.Errorf("%w: %q", ErrInvalidState, c.label))
	}
	c.cmds = c.cmds[:0]
	c.state = commandStateRecording
	return nil
}

func (c *commandBuffer) CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) error {
	const op = "record copy"
	if err := c.checkRecording(op); err != nil {
		return err
	}
	s, err := c.d.asBuffer(src)
	if err != nil {
		return violation(op, err)
	}
	t, err := c.d.asBuffer(dst)
	if err != nil {
		return violation(op, err)
	}
	if err := s.checkUsable(BufferUsageTransferSrc); err != nil {
		return violation(op, err)
	}
	if err := t.checkUsable(BufferUsageTransferDst); err != nil {
		return violation(op, err)
	}
	if size == 0 || srcOffset+size > s.size || dstOffset+size > t.size {
		return violation(op, fmt.Errorf("%w: copy %d bytes from %q@%d (%d) to %q@%d (%d)",
			ErrOutOfRange, size, s.label, srcOffset, s.size, t.label, dstOffset, t.size))
	}

	c.append(command{kind: commandCopy, src: s, dst: t, srcOffset: srcOffset, dstOffset: dstOffset, size: size})
	return nil
}

func (c *commandBuffer) BuildAccelerationStructure(info BuildInfo) error {
	const op = "record acceleration structure build"
	if err := c.checkRecording(op); err != nil {
		return err
	}
	if err := c.d.validateBuild(info); err != nil {
		return err
	}
	info.Geometries = append([]Geometry(nil), info.Geometries...)
	c.append(command{kind: commandBuild, build: info})
	return nil
}

func (c *commandBuffer) Barrier(kind BarrierKind) {
	if c.checkRecording("record barrier") != nil {
		return
	}
	c.append(command{kind: commandBarrier, barrier: kind})
}

func (c *commandBuffer) TraceRays(info TraceRaysInfo) error {
	const op = "record trace rays"
	if err := c.checkRecording(op); err != nil {
		return err
	}
	if info.Pipeline == nil || info.BindGroup == nil {
		return violation(op, fmt.Errorf("dispatch needs a pipeline and a bind group"))
	}
	if info.Width == 0 || info.Height == 0 {
		return violation(op, fmt.Errorf("dispatch extent %dx%d is empty", info.Width, info.Height))
	}
	if info.Depth == 0 {
		info.Depth = 1
	}
	c.append(command{kind: commandTraceRays, trace: info})
	return nil
}

func (c *commandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != commandStateRecording {
		return violation("end command buffer", fmt.Errorf("%w: %q", ErrInvalidState, c.label))
	}
	c.state = commandStateExecutable
	return nil
}

func (c *commandBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == commandStatePending {
		return violation("reset command buffer", fmt.Errorf("%w: %q is pending", ErrInvalidState, c.label))
	}
	c.cmds = c.cmds[:0]
	c.state = commandStateInitial
	return nil
}

func (c *commandBuffer) checkRecording(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != commandStateRecording {
		return violation(op, fmt.Errorf("%w: %q is not recording", ErrInvalidState, c.label))
	}
	return nil
}

func (c *commandBuffer) append(cmd command) {
	c.mu.Lock()
	c.cmds = append(c.cmds, cmd)
	c.mu.Unlock()
}

// references lists every buffer the recorded commands touch.
func (c *commandBuffer) references() []*buffer {
	seen := make(map[*buffer]struct{})
	add := func(buf Buffer) {
		if b, ok := buf.(*buffer); ok && b != nil {
			seen[b] = struct{}{}
		}
	}
	for _, cmd := range c.cmds {
		switch cmd.kind {
		case commandCopy:
			seen[cmd.src] = struct{}{}
			seen[cmd.dst] = struct{}{}
		case commandBuild:
			add(cmd.build.Scratch)
			if as, ok := cmd.build.Destination.(*accelerationStructure); ok {
				seen[as.buf] = struct{}{}
			}
			for _, g := range cmd.build.Geometries {
				add(g.VertexBuffer)
				add(g.IndexBuffer)
				add(g.AABBBuffer)
				add(g.InstanceBuffer)
			}
		case commandTraceRays:
			if bg, ok := cmd.trace.BindGroup.(*bindGroup); ok {
				for _, e := range bg.entries {
					add(e.Buffer)
				}
			}
		}
	}
	out := make([]*buffer, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	return out
}
