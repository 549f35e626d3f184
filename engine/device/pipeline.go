package device

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
)

// ShaderGroupType identifies the role of a shader group.
type ShaderGroupType int

const (
	// ShaderGroupGeneral holds a ray generation, miss or callable program.
	ShaderGroupGeneral ShaderGroupType = iota

	// ShaderGroupTrianglesHit holds the closest/any hit programs for triangle geometry.
	ShaderGroupTrianglesHit

	// ShaderGroupProceduralHit adds an intersection program for AABB geometry.
	ShaderGroupProceduralHit
)

func (t ShaderGroupType) String() string {
	switch t {
	case ShaderGroupGeneral:
		return "general"
	case ShaderGroupTrianglesHit:
		return "triangles-hit"
	case ShaderGroupProceduralHit:
		return "procedural-hit"
	default:
		return fmt.Sprintf("group(%d)", int(t))
	}
}

// ShaderGroup names the entry points that make up one group of a pipeline.
type ShaderGroup struct {
	Type         ShaderGroupType
	Name         string
	General      string
	ClosestHit   string
	AnyHit       string
	Intersection string
}

// BindingType is the kind of resource a layout slot accepts.
type BindingType int

const (
	BindingAccelerationStructure BindingType = iota
	BindingStorageImage
	BindingUniformBuffer
	BindingStorageBuffer
	BindingImageArray
)

func (t BindingType) String() string {
	switch t {
	case BindingAccelerationStructure:
		return "acceleration-structure"
	case BindingStorageImage:
		return "storage-image"
	case BindingUniformBuffer:
		return "uniform-buffer"
	case BindingStorageBuffer:
		return "storage-buffer"
	case BindingImageArray:
		return "image-array"
	default:
		return fmt.Sprintf("binding(%d)", int(t))
	}
}

// Access describes how the ray programs touch a binding.
type Access int

const (
	AccessReadOnly Access = iota
	AccessWriteOnly
	AccessReadWrite
)

// BindingLayoutEntry declares one slot of a pipeline layout.
type BindingLayoutEntry struct {
	Slot     uint32
	Type     BindingType
	Access   Access
	Optional bool
}

// RayTracingPipelineDescriptor describes a ray tracing pipeline.
type RayTracingPipelineDescriptor struct {
	Label             string
	Groups            []ShaderGroup
	MaxRecursionDepth uint32
	Layout            []BindingLayoutEntry

	// Source is the program text handed to the backend. The software backend ignores it.
	Source string
}

// maximum recursion depth accepted by CreateRayTracingPipeline
const maxRecursionDepth = 31

// Pipeline is a compiled ray tracing pipeline.
type Pipeline interface {
	Label() string

	// Groups returns the shader groups in creation order.
	Groups() []ShaderGroup

	// Layout returns the binding layout.
	Layout() []BindingLayoutEntry

	// ShaderGroupHandles returns count opaque handles starting at group first, packed at
	// Limits.ShaderGroupHandleSize bytes each.
	//
	// Parameters:
	//   - first: index of the first group
	//   - count: number of groups
	//
	// Returns:
	//   - []byte: count*ShaderGroupHandleSize bytes
	//   - error: a KindContractViolation GpuError if the range is outside the pipeline
	ShaderGroupHandles(first, count uint32) ([]byte, error)

	// Destroy releases the pipeline.
	Destroy() error
}

type pipeline struct {
	mu sync.Mutex
	d  *device

	id        uint64
	label     string
	groups    []ShaderGroup
	layout    []BindingLayoutEntry
	recursion uint32
	source    string
	handles   []byte
	destroyed bool

	// backend object, if any
	native any
}

var _ Pipeline = &pipeline{}

func (d *device) CreateRayTracingPipeline(desc RayTracingPipelineDescriptor) (Pipeline, error) {
	const op = "create ray tracing pipeline"
	if err := d.checkLive(op); err != nil {
		return nil, err
	}
	if len(desc.Groups) == 0 {
		return nil, NewError(KindResourceCreation, "device", op, fmt.Errorf("pipeline %q has no shader groups", desc.Label))
	}
	if desc.MaxRecursionDepth > maxRecursionDepth {
		return nil, NewError(KindResourceCreation, "device", op,
			fmt.Errorf("pipeline %q recursion depth %d exceeds %d", desc.Label, desc.MaxRecursionDepth, maxRecursionDepth))
	}
	for i, g := range desc.Groups {
		if err := checkShaderGroup(g); err != nil {
			return nil, NewError(KindResourceCreation, "device", op, fmt.Errorf("pipeline %q group %d: %w", desc.Label, i, err))
		}
	}
	slots := make(map[uint32]struct{}, len(desc.Layout))
	for _, e := range desc.Layout {
		if _, dup := slots[e.Slot]; dup {
			return nil, NewError(KindResourceCreation, "device", op, fmt.Errorf("pipeline %q declares slot %d twice", desc.Label, e.Slot))
		}
		slots[e.Slot] = struct{}{}
	}

	p := &pipeline{
		d:         d,
		id:        d.newID(),
		label:     desc.Label,
		groups:    append([]ShaderGroup(nil), desc.Groups...),
		layout:    append([]BindingLayoutEntry(nil), desc.Layout...),
		recursion: desc.MaxRecursionDepth,
		source:    desc.Source,
	}
	p.handles = p.makeHandles(d.limits.ShaderGroupHandleSize)

	d.mu.Lock()
	d.pipelines[p] = struct{}{}
	d.mu.Unlock()

	d.logger.Debugf("created pipeline %q with %d groups", p.label, len(p.groups))
	return p, nil
}

func checkShaderGroup(g ShaderGroup) error {
	switch g.Type {
	case ShaderGroupGeneral:
		if g.General == "" {
			return fmt.Errorf("general group %q has no program", g.Name)
		}
	case ShaderGroupTrianglesHit:
		if g.ClosestHit == "" && g.AnyHit == "" {
			return fmt.Errorf("hit group %q has no hit program", g.Name)
		}
	case ShaderGroupProceduralHit:
		if g.Intersection == "" {
			return fmt.Errorf("procedural group %q has no intersection program", g.Name)
		}
	default:
		return fmt.Errorf("unknown group type %v", g.Type)
	}
	return nil
}

// makeHandles derives one handle per group from the pipeline identity and the group's
// entry points, so equal handles mean the same group of the same pipeline.
func (p *pipeline) makeHandles(size uint32) []byte {
	out := make([]byte, 0, len(p.groups)*int(size))
	for i, g := range p.groups {
		h := fnv.New64a()
		fmt.Fprintf(h, "%s|%s|%s|%s|%s", g.Name, g.General, g.ClosestHit, g.AnyHit, g.Intersection)
		handle := make([]byte, size)
		binary.LittleEndian.PutUint64(handle[0:], p.id)
		binary.LittleEndian.PutUint32(handle[8:], uint32(i)+1)
		binary.LittleEndian.PutUint32(handle[12:], uint32(g.Type))
		for at := 16; at+8 <= int(size); at += 8 {
			binary.LittleEndian.PutUint64(handle[at:], h.Sum64())
			h.Write(handle[at : at+8])
		}
		out = append(out, handle...)
	}
	return out
}

func (p *pipeline) Label() string { return p.label }

func (p *pipeline) Groups() []ShaderGroup { return append([]ShaderGroup(nil), p.groups...) }

func (p *pipeline) Layout() []BindingLayoutEntry {
	return append([]BindingLayoutEntry(nil), p.layout...)
}

func (p *pipeline) ShaderGroupHandles(first, count uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, violation("get shader group handles", fmt.Errorf("%w: pipeline %q", ErrDestroyed, p.label))
	}
	if uint64(first)+uint64(count) > uint64(len(p.groups)) {
		return nil, violation("get shader group handles",
			fmt.Errorf("%w: groups [%d, %d) of pipeline %q with %d groups", ErrOutOfRange, first, first+count, p.label, len(p.groups)))
	}
	size := p.d.limits.ShaderGroupHandleSize
	return append([]byte(nil), p.handles[first*size:(first+count)*size]...), nil
}

func (p *pipeline) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return violation("destroy pipeline", fmt.Errorf("%w: %q", ErrDestroyed, p.label))
	}
	p.destroyed = true
	p.mu.Unlock()

	p.d.mu.Lock()
	delete(p.d.pipelines, p)
	p.d.mu.Unlock()
	return nil
}

// layoutEntry returns the layout declaration for slot.
func (p *pipeline) layoutEntry(slot uint32) (BindingLayoutEntry, bool) {
	for _, e := range p.layout {
		if e.Slot == slot {
			return e, true
		}
	}
	return BindingLayoutEntry{}, false
}

// isRayGenHandle reports whether handle belongs to a general group of p.
func (p *pipeline) isRayGenHandle(handle []byte) bool {
	size := int(p.d.limits.ShaderGroupHandleSize)
	for i, g := range p.groups {
		if g.Type != ShaderGroupGeneral {
			continue
		}
		if bytes.Equal(p.handles[i*size:(i+1)*size], handle) {
			return true
		}
	}
	return false
}

// BindGroupEntry binds one resource to a slot. Exactly one of the resource fields is set,
// according to the slot's BindingType.
type BindGroupEntry struct {
	Slot uint32

	Buffer Buffer
	Offset uint64
	// Size of the bound range; zero binds to the end of the buffer.
	Size uint64

	Image                 Image
	Images                []Image
	AccelerationStructure AccelerationStructure
}

// BindGroupDescriptor binds resources to the layout of a pipeline.
type BindGroupDescriptor struct {
	Label    string
	Pipeline Pipeline
	Entries  []BindGroupEntry
}

// BindGroup is a set of resources bound to the slots of a pipeline layout.
type BindGroup interface {
	Label() string

	// Entry returns the resource bound to slot.
	Entry(slot uint32) (BindGroupEntry, bool)
}

type bindGroup struct {
	label    string
	pipeline *pipeline
	entries  []BindGroupEntry
}

var _ BindGroup = &bindGroup{}

func (d *device) CreateBindGroup(desc BindGroupDescriptor) (BindGroup, error) {
	const op = "create bind group"
	p, ok := desc.Pipeline.(*pipeline)
	if !ok || p == nil || p.d != d {
		return nil, violation(op, fmt.Errorf("bind group %q needs a pipeline of this device", desc.Label))
	}

	bound := make(map[uint32]struct{}, len(desc.Entries))
	for _, e := range desc.Entries {
		layout, ok := p.layoutEntry(e.Slot)
		if !ok {
			return nil, violation(op, fmt.Errorf("bind group %q: slot %d is not in the layout of %q", desc.Label, e.Slot, p.label))
		}
		if _, dup := bound[e.Slot]; dup {
			return nil, violation(op, fmt.Errorf("%w: bind group %q slot %d", ErrAlreadyBound, desc.Label, e.Slot))
		}
		if err := d.checkBindGroupEntry(layout, e); err != nil {
			return nil, violation(op, fmt.Errorf("bind group %q slot %d: %w", desc.Label, e.Slot, err))
		}
		bound[e.Slot] = struct{}{}
	}
	for _, l := range p.layout {
		if _, ok := bound[l.Slot]; !ok && !l.Optional {
			return nil, violation(op, fmt.Errorf("%w: bind group %q leaves slot %d (%v) empty", ErrNotBound, desc.Label, l.Slot, l.Type))
		}
	}

	return &bindGroup{
		label:    desc.Label,
		pipeline: p,
		entries:  append([]BindGroupEntry(nil), desc.Entries...),
	}, nil
}

func (d *device) checkBindGroupEntry(layout BindingLayoutEntry, e BindGroupEntry) error {
	switch layout.Type {
	case BindingAccelerationStructure:
		as, err := d.asStructure(e.AccelerationStructure)
		if err != nil {
			return err
		}
		if as.typ != AccelerationStructureTopLevel {
			return fmt.Errorf("%q is not a top-level structure", as.label)
		}
	case BindingStorageImage:
		if _, err := d.asImage(e.Image); err != nil {
			return err
		}
	case BindingImageArray:
		for i, img := range e.Images {
			if _, err := d.asImage(img); err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
		}
	case BindingUniformBuffer, BindingStorageBuffer:
		b, err := d.asBuffer(e.Buffer)
		if err != nil {
			return err
		}
		need := BufferUsageStorage
		if layout.Type == BindingUniformBuffer {
			need = BufferUsageUniform
		}
		if err := b.checkUsable(need); err != nil {
			return err
		}
		if e.Offset+e.Size > b.size || e.Offset >= b.size {
			return fmt.Errorf("%w: range at %d of buffer %q (%d bytes)", ErrOutOfRange, e.Offset, b.label, b.size)
		}
	}
	return nil
}

func (g *bindGroup) Label() string { return g.label }

func (g *bindGroup) Entry(slot uint32) (BindGroupEntry, bool) {
	for _, e := range g.entries {
		if e.Slot == slot {
			return e, true
		}
	}
	return BindGroupEntry{}, false
}

// executeTraceRays validates a dispatch against the live state of its resources and runs
// the host pass that resolves primary hits.
func (d *device) executeTraceRays(info TraceRaysInfo) error {
	p, ok := info.Pipeline.(*pipeline)
	if !ok || p == nil {
		return fmt.Errorf("dispatch pipeline is nil or foreign")
	}
	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return fmt.Errorf("%w: pipeline %q", ErrDestroyed, p.label)
	}
	bg, ok := info.BindGroup.(*bindGroup)
	if !ok || bg == nil {
		return fmt.Errorf("dispatch bind group is nil or foreign")
	}
	if bg.pipeline != p {
		return fmt.Errorf("bind group %q was created for pipeline %q, not %q", bg.label, bg.pipeline.label, p.label)
	}

	if err := d.checkShaderBindingRegions(p, info.Regions); err != nil {
		return err
	}

	var (
		tlas        *accelerationStructure
		output      *image
		accumulator *image
	)
	for _, e := range bg.entries {
		layout, _ := p.layoutEntry(e.Slot)
		switch layout.Type {
		case BindingAccelerationStructure:
			tlas, _ = d.asStructure(e.AccelerationStructure)
			if err := tlas.checkTraceable(); err != nil {
				return fmt.Errorf("slot %d: %w", e.Slot, err)
			}
		case BindingStorageImage:
			img, _ := d.asImage(e.Image)
			if img.isDestroyed() {
				return fmt.Errorf("slot %d: %w: image %q", e.Slot, ErrDestroyed, img.label)
			}
			switch layout.Access {
			case AccessWriteOnly:
				output = img
			case AccessReadWrite:
				accumulator = img
			}
		case BindingUniformBuffer, BindingStorageBuffer:
			if _, err := e.Buffer.(*buffer).bytes(e.Offset, 0); err != nil {
				return fmt.Errorf("slot %d: %w", e.Slot, err)
			}
		}
	}

	if info.Rays != nil && tlas != nil {
		query := &rayQuery{tlas: tlas}
		for y := uint32(0); y < info.Height; y++ {
			for x := uint32(0); x < info.Width; x++ {
				var id uint32
				if hit, ok := query.TraceRay(info.Rays.GenerateRay(x, y, info.Width, info.Height), maxTraceDistance, 0xFF); ok {
					id = hit.CustomIndex + 1
				}
				if output != nil {
					output.storeUint32(x, y, id)
				}
				if accumulator != nil {
					accumulator.addUint32(x, y, 1)
				}
			}
		}
		for _, img := range []*image{output, accumulator} {
			if img == nil {
				continue
			}
			if err := d.backend.imageWritten(img); err != nil {
				return err
			}
		}
	}

	if err := d.backend.traceRays(info, output); err != nil {
		return err
	}

	d.mu.Lock()
	d.stats.Dispatches++
	d.mu.Unlock()
	return nil
}

const maxTraceDistance = 1e30

// checkShaderBindingRegions validates the regions of a dispatch against the device limits
// and the handles of p.
func (d *device) checkShaderBindingRegions(p *pipeline, regions ShaderBindingRegions) error {
	lim := d.limits
	check := func(name string, r StridedRegion, required bool) (*buffer, uint64, error) {
		if r.Size == 0 {
			if required {
				return nil, 0, fmt.Errorf("%w: %s region is empty", ErrInvalidShaderRecords, name)
			}
			return nil, 0, nil
		}
		if r.Address%uint64(lim.ShaderGroupBaseAlignment) != 0 {
			return nil, 0, fmt.Errorf("%w: %s region address 0x%x is not %d-aligned", ErrInvalidShaderRecords, name, r.Address, lim.ShaderGroupBaseAlignment)
		}
		if r.Stride < uint64(lim.ShaderGroupHandleSize) || r.Stride > uint64(lim.MaxShaderGroupStride) ||
			r.Stride%uint64(lim.ShaderGroupHandleAlignment) != 0 {
			return nil, 0, fmt.Errorf("%w: %s region stride %d", ErrInvalidShaderRecords, name, r.Stride)
		}
		if r.Size%r.Stride != 0 {
			return nil, 0, fmt.Errorf("%w: %s region size %d is not a multiple of stride %d", ErrInvalidShaderRecords, name, r.Size, r.Stride)
		}
		b, off, err := d.resolveBuffer(r.Address)
		if err != nil {
			return nil, 0, fmt.Errorf("%s region: %w", name, err)
		}
		if !b.usage.Has(BufferUsageShaderBindingTable) {
			return nil, 0, fmt.Errorf("%w: %s region buffer %q lacks shader binding table usage", ErrInvalidShaderRecords, name, b.label)
		}
		if off+r.Size > b.size {
			return nil, 0, fmt.Errorf("%w: %s region [%d, %d) of buffer %q", ErrOutOfRange, name, off, off+r.Size, b.label)
		}
		return b, off, nil
	}

	if regions.RayGen.Size != regions.RayGen.Stride {
		return fmt.Errorf("%w: ray generation region size %d must equal its stride %d", ErrInvalidShaderRecords, regions.RayGen.Size, regions.RayGen.Stride)
	}
	rg, off, err := check("ray generation", regions.RayGen, true)
	if err != nil {
		return err
	}
	if _, _, err := check("miss", regions.Miss, false); err != nil {
		return err
	}
	if _, _, err := check("hit", regions.Hit, false); err != nil {
		return err
	}
	if _, _, err := check("callable", regions.Callable, false); err != nil {
		return err
	}

	handle, err := rg.bytes(off, uint64(lim.ShaderGroupHandleSize))
	if err != nil {
		return err
	}
	if !p.isRayGenHandle(handle) {
		return fmt.Errorf("%w: ray generation record does not hold a handle of pipeline %q", ErrInvalidShaderRecords, p.label)
	}
	return nil
}
