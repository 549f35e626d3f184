package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/bvh"
)

// AccelerationStructureDescriptor places a structure inside a buffer.
type AccelerationStructureDescriptor struct {
	Label string
	Type  AccelerationStructureType

	// Buffer must carry BufferUsageAccelerationStructureStorage.
	Buffer Buffer

	// Offset must be a multiple of Limits.AccelerationStructureAlignment.
	Offset uint64
	Size   uint64
}

// AccelerationStructure is a device-side spatial index over geometry or instances.
type AccelerationStructure interface {
	Label() string
	Type() AccelerationStructureType
	Buffer() Buffer
	Offset() uint64
	Size() uint64

	// DeviceAddress is the value instances use to reference a bottom-level structure.
	DeviceAddress() uint64

	// Built reports whether a build has completed.
	Built() bool

	// AllowsUpdate reports whether the last build used BuildFlagAllowUpdate.
	AllowsUpdate() bool

	// PrimitiveCount returns the number of primitives or instances of the last build.
	PrimitiveCount() uint32

	// Destroy releases the structure. Its buffer can be destroyed afterwards.
	Destroy() error
}

const (
	structureHeaderSize  = 64
	structureNodeSize    = 32
	structureMagic       = 0x5341584f // "OXAS"
	triangleRecordSize   = 36
	primitiveRefSize     = 8
	aabbRecordSize       = 24
	scratchPerPrimitive  = 32
	updateScratchPerPrim = 8
)

type primitiveRef struct {
	geometry  uint32
	primitive uint32
}

type accelerationStructure struct {
	mu sync.RWMutex
	d  *device

	id      uint64
	label   string
	typ     AccelerationStructureType
	buf     *buffer
	offset  uint64
	size    uint64
	address uint64

	built     bool
	destroyed bool
	flags     BuildFlags

	tree bvh.Tree
	refs []primitiveRef

	// bottom level
	geometryTypes []GeometryType
	opaque        []bool
	triangles     [][3]common.Vec3
	boxes         []common.AABB

	// top level
	instances []InstanceRecord
	blas      []*accelerationStructure
	inverse   [][12]float32
}

var _ AccelerationStructure = &accelerationStructure{}

func (d *device) AccelerationStructureBuildSizes(typ AccelerationStructureType, flags BuildFlags, geometries []Geometry) (BuildSizes, error) {
	const op = "query build sizes"
	var prims uint64
	for i, g := range geometries {
		if err := checkGeometryType(typ, g); err != nil {
			return BuildSizes{}, violation(op, fmt.Errorf("geometry %d: %w", i, err))
		}
		prims += uint64(g.PrimitiveCount())
	}
	return structureSizes(typ, flags, prims, d.limits), nil
}

// structureSizes is the size formula shared by queries and builds.
func structureSizes(typ AccelerationStructureType, flags BuildFlags, prims uint64, limits Limits) BuildSizes {
	if typ == AccelerationStructureBottomLevel && prims == 0 {
		return BuildSizes{}
	}
	payload := uint64(triangleRecordSize + primitiveRefSize)
	if typ == AccelerationStructureTopLevel {
		payload = InstanceRecordSize
	}
	nodes := 2*prims + 1
	result := structureHeaderSize + nodes*structureNodeSize + prims*4 + prims*payload
	sizes := BuildSizes{
		ResultSize:  common.AlignUp(result, limits.AccelerationStructureAlignment),
		ScratchSize: common.AlignUp(prims*scratchPerPrimitive+structureHeaderSize, limits.ScratchAlignment),
	}
	if flags&BuildFlagAllowUpdate != 0 {
		sizes.UpdateScratchSize = common.AlignUp(prims*updateScratchPerPrim+structureHeaderSize, limits.ScratchAlignment)
	}
	return sizes
}

func checkGeometryType(typ AccelerationStructureType, g Geometry) error {
	if typ == AccelerationStructureTopLevel && g.Type != GeometryInstances {
		return fmt.Errorf("top-level structures take instance geometry")
	}
	if typ == AccelerationStructureBottomLevel && g.Type == GeometryInstances {
		return fmt.Errorf("bottom-level structures take triangle or AABB geometry")
	}
	return nil
}

func (d *device) CreateAccelerationStructure(desc AccelerationStructureDescriptor) (AccelerationStructure, error) {
	const op = "create acceleration structure"
	if err := d.checkLive(op); err != nil {
		return nil, err
	}
	b, err := d.asBuffer(desc.Buffer)
	if err != nil {
		return nil, NewError(KindResourceCreation, "device", op, err)
	}
	if err := b.checkUsable(BufferUsageAccelerationStructureStorage); err != nil {
		return nil, NewError(KindResourceCreation, "device", op, err)
	}
	if desc.Size == 0 || desc.Offset+desc.Size > b.size {
		return nil, NewError(KindResourceCreation, "device", op,
			fmt.Errorf("%w: structure %q [%d, %d) in buffer %q (%d bytes)", ErrOutOfRange, desc.Label, desc.Offset, desc.Offset+desc.Size, b.label, b.size))
	}
	if desc.Offset%d.limits.AccelerationStructureAlignment != 0 {
		return nil, NewError(KindResourceCreation, "device", op,
			fmt.Errorf("%w: structure %q offset %d", ErrMisaligned, desc.Label, desc.Offset))
	}

	b.mu.Lock()
	address := b.mem.base + b.offset + desc.Offset
	b.structures++
	b.mu.Unlock()

	as := &accelerationStructure{
		d:       d,
		id:      d.newID(),
		label:   desc.Label,
		typ:     desc.Type,
		buf:     b,
		offset:  desc.Offset,
		size:    desc.Size,
		address: address,
	}

	d.mu.Lock()
	d.structures[address] = as
	d.mu.Unlock()
	return as, nil
}

func (a *accelerationStructure) Label() string { return a.label }

func (a *accelerationStructure) Type() AccelerationStructureType { return a.typ }

func (a *accelerationStructure) Buffer() Buffer { return a.buf }

func (a *accelerationStructure) Offset() uint64 { return a.offset }

func (a *accelerationStructure) Size() uint64 { return a.size }

func (a *accelerationStructure) DeviceAddress() uint64 { return a.address }

func (a *accelerationStructure) Built() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.built && !a.destroyed
}

func (a *accelerationStructure) AllowsUpdate() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.flags&BuildFlagAllowUpdate != 0
}

func (a *accelerationStructure) PrimitiveCount() uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint32(len(a.refs))
}

func (a *accelerationStructure) Destroy() error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return violation("destroy acceleration structure", fmt.Errorf("%w: %q", ErrDestroyed, a.label))
	}
	a.destroyed = true
	a.mu.Unlock()

	a.buf.mu.Lock()
	a.buf.structures--
	a.buf.mu.Unlock()

	a.d.mu.Lock()
	if a.d.structures[a.address] == a {
		delete(a.d.structures, a.address)
	}
	a.d.mu.Unlock()
	return nil
}

func (d *device) asStructure(s AccelerationStructure) (*accelerationStructure, error) {
	as, ok := s.(*accelerationStructure)
	if !ok || as == nil || as.d != d {
		return nil, fmt.Errorf("acceleration structure is nil or foreign")
	}
	return as, nil
}

// validateBuild checks a build at record time.
func (d *device) validateBuild(info BuildInfo) error {
	const op = "record acceleration structure build"
	dst, err := d.asStructure(info.Destination)
	if err != nil {
		return violation(op, err)
	}
	dst.mu.RLock()
	destroyed := dst.destroyed
	dst.mu.RUnlock()
	if destroyed {
		return violation(op, fmt.Errorf("%w: %q", ErrDestroyed, dst.label))
	}

	var prims uint64
	for i, g := range info.Geometries {
		if err := checkGeometryType(dst.typ, g); err != nil {
			return violation(op, fmt.Errorf("geometry %d: %w", i, err))
		}
		if err := d.checkGeometryBuffers(g); err != nil {
			return violation(op, fmt.Errorf("geometry %d: %w", i, err))
		}
		prims += uint64(g.PrimitiveCount())
	}

	if info.Mode == BuildModeUpdate {
		src, err := d.asStructure(info.Source)
		if err != nil {
			return violation(op, err)
		}
		src.mu.RLock()
		built, flags, count := src.built, src.flags, uint64(len(src.refs))
		src.mu.RUnlock()
		if !built {
			return violation(op, fmt.Errorf("%w: update source %q", ErrNotBuilt, src.label))
		}
		if flags&BuildFlagAllowUpdate == 0 {
			return NewError(KindReadOnlyUpdate, "device", op, fmt.Errorf("%w: %q", ErrUpdateNotAllowed, src.label))
		}
		if count != prims {
			return violation(op, fmt.Errorf("update of %q changes primitive count %d -> %d", src.label, count, prims))
		}
	}

	sizes := structureSizes(dst.typ, info.Flags, prims, d.limits)
	if sizes.ResultSize > dst.size {
		return violation(op, fmt.Errorf("%w: %q needs %d result bytes, has %d", ErrOutOfRange, dst.label, sizes.ResultSize, dst.size))
	}
	need := sizes.ScratchSize
	if info.Mode == BuildModeUpdate {
		need = sizes.UpdateScratchSize
	}
	if need > 0 {
		scratch, err := d.asBuffer(info.Scratch)
		if err != nil {
			return violation(op, fmt.Errorf("scratch: %w", err))
		}
		if err := scratch.checkUsable(BufferUsageStorage); err != nil {
			return violation(op, fmt.Errorf("scratch: %w", err))
		}
		if info.ScratchOffset%d.limits.ScratchAlignment != 0 {
			return violation(op, fmt.Errorf("%w: scratch offset %d", ErrMisaligned, info.ScratchOffset))
		}
		if info.ScratchOffset+need > scratch.size {
			return violation(op, fmt.Errorf("%w: %q needs %d scratch bytes at %d, scratch has %d",
				ErrOutOfRange, dst.label, need, info.ScratchOffset, scratch.size))
		}
	}
	return nil
}

func (d *device) checkGeometryBuffers(g Geometry) error {
	check := func(buf Buffer, name string) error {
		b, err := d.asBuffer(buf)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := b.checkUsable(BufferUsageAccelerationStructureBuildInput); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	switch g.Type {
	case GeometryTriangles:
		if g.IndexCount%3 != 0 {
			return fmt.Errorf("index count %d is not a multiple of 3", g.IndexCount)
		}
		if err := check(g.VertexBuffer, "vertex buffer"); err != nil {
			return err
		}
		return check(g.IndexBuffer, "index buffer")
	case GeometryAABBs:
		return check(g.AABBBuffer, "aabb buffer")
	case GeometryInstances:
		return check(g.InstanceBuffer, "instance buffer")
	}
	return fmt.Errorf("unknown geometry type %d", g.Type)
}

// executeBuild builds the structure on the host and writes its serialized form into the
// result buffer.
func (d *device) executeBuild(info BuildInfo, unordered map[*accelerationStructure]struct{}) error {
	dst, err := d.asStructure(info.Destination)
	if err != nil {
		return err
	}

	staged := &accelerationStructure{typ: dst.typ}
	var bounds []common.AABB
	switch dst.typ {
	case AccelerationStructureBottomLevel:
		bounds, err = d.gatherBottom(staged, info.Geometries)
	case AccelerationStructureTopLevel:
		bounds, err = d.gatherTop(staged, info.Geometries, unordered)
	}
	if err != nil {
		return fmt.Errorf("build %q: %w", dst.label, err)
	}

	staged.tree = d.builder.Build(bounds)
	ordered := make([]primitiveRef, len(staged.refs))
	copy(ordered, staged.refs)

	if scratch, err := d.asBuffer(info.Scratch); err == nil {
		need := uint64(len(bounds))*scratchPerPrimitive + structureHeaderSize
		if region, err := scratch.bytes(info.ScratchOffset, min(need, scratch.size-info.ScratchOffset)); err == nil {
			clear(region)
		}
	}

	dst.mu.Lock()
	if dst.destroyed {
		dst.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDestroyed, dst.label)
	}
	dst.built = true
	dst.flags = info.Flags
	dst.tree = staged.tree
	dst.refs = ordered
	dst.geometryTypes = staged.geometryTypes
	dst.opaque = staged.opaque
	dst.triangles = staged.triangles
	dst.boxes = staged.boxes
	dst.instances = staged.instances
	dst.blas = staged.blas
	dst.inverse = staged.inverse
	encoded := dst.encode()
	dst.mu.Unlock()

	region, err := dst.buf.bytes(dst.offset, uint64(len(encoded)))
	if err != nil {
		return fmt.Errorf("write %q: %w", dst.label, err)
	}
	copy(region, encoded)
	if err := d.backend.bufferWritten(dst.buf, dst.offset, uint64(len(encoded))); err != nil {
		return err
	}

	if dst.typ == AccelerationStructureBottomLevel {
		unordered[dst] = struct{}{}
	}

	d.mu.Lock()
	d.stats.Builds++
	d.mu.Unlock()
	return nil
}

func (d *device) gatherBottom(as *accelerationStructure, geometries []Geometry) ([]common.AABB, error) {
	var bounds []common.AABB
	for gi, g := range geometries {
		as.geometryTypes = append(as.geometryTypes, g.Type)
		as.opaque = append(as.opaque, g.Opaque)

		switch g.Type {
		case GeometryTriangles:
			vb, _ := d.asBuffer(g.VertexBuffer)
			ib, _ := d.asBuffer(g.IndexBuffer)
			stride := g.VertexStride
			if stride == 0 {
				stride = 12
			}
			indices, err := ib.bytes(g.IndexOffset, uint64(g.IndexCount)*4)
			if err != nil {
				return nil, fmt.Errorf("geometry %d indices: %w", gi, err)
			}
			vertices, err := vb.bytes(g.VertexOffset, uint64(g.VertexCount)*stride)
			if err != nil {
				return nil, fmt.Errorf("geometry %d vertices: %w", gi, err)
			}
			position := func(i uint32) (common.Vec3, error) {
				if i >= g.VertexCount {
					return common.Vec3{}, fmt.Errorf("%w: geometry %d index %d >= vertex count %d", ErrOutOfRange, gi, i, g.VertexCount)
				}
				at := uint64(i) * stride
				return common.Vec3{
					math.Float32frombits(binary.LittleEndian.Uint32(vertices[at:])),
					math.Float32frombits(binary.LittleEndian.Uint32(vertices[at+4:])),
					math.Float32frombits(binary.LittleEndian.Uint32(vertices[at+8:])),
				}, nil
			}
			for p := uint32(0); p < g.IndexCount/3; p++ {
				var tri [3]common.Vec3
				box := common.EmptyAABB()
				for k := 0; k < 3; k++ {
					v, err := position(binary.LittleEndian.Uint32(indices[(p*3+uint32(k))*4:]))
					if err != nil {
						return nil, err
					}
					tri[k] = v
					box = box.Extend(v)
				}
				as.refs = append(as.refs, primitiveRef{geometry: uint32(gi), primitive: p})
				as.triangles = append(as.triangles, tri)
				as.boxes = append(as.boxes, box)
				bounds = append(bounds, box)
			}

		case GeometryAABBs:
			ab, _ := d.asBuffer(g.AABBBuffer)
			stride := g.AABBStride
			if stride == 0 {
				stride = aabbRecordSize
			}
			data, err := ab.bytes(g.AABBOffset, uint64(g.AABBCount)*stride)
			if err != nil {
				return nil, fmt.Errorf("geometry %d aabbs: %w", gi, err)
			}
			for p := uint32(0); p < g.AABBCount; p++ {
				var f [6]float32
				at := uint64(p) * stride
				for k := range f {
					f[k] = math.Float32frombits(binary.LittleEndian.Uint32(data[at+uint64(k)*4:]))
				}
				box := common.AABB{Min: common.Vec3{f[0], f[1], f[2]}, Max: common.Vec3{f[3], f[4], f[5]}}
				as.refs = append(as.refs, primitiveRef{geometry: uint32(gi), primitive: p})
				as.triangles = append(as.triangles, [3]common.Vec3{})
				as.boxes = append(as.boxes, box)
				bounds = append(bounds, box)
			}
		}
	}
	return bounds, nil
}

func (d *device) gatherTop(as *accelerationStructure, geometries []Geometry, unordered map[*accelerationStructure]struct{}) ([]common.AABB, error) {
	var bounds []common.AABB
	for gi, g := range geometries {
		ib, _ := d.asBuffer(g.InstanceBuffer)
		data, err := ib.bytes(g.InstanceOffset, uint64(g.InstanceCount)*InstanceRecordSize)
		if err != nil {
			return nil, fmt.Errorf("geometry %d instances: %w", gi, err)
		}
		for i, rec := range DecodeInstanceRecords(data) {
			blas, err := d.resolveStructure(rec.AccelerationStructureReference)
			if err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			if _, pending := unordered[blas]; pending {
				return nil, fmt.Errorf("instance %d references %q: %w", i, blas.label, ErrMissingBarrier)
			}
			if blas.typ != AccelerationStructureBottomLevel {
				return nil, fmt.Errorf("instance %d references top-level structure %q", i, blas.label)
			}
			blas.mu.RLock()
			built := blas.built && !blas.destroyed
			local := blas.tree.Bounds()
			blas.mu.RUnlock()
			if !built {
				return nil, fmt.Errorf("instance %d references %q: %w", i, blas.label, ErrNotBuilt)
			}
			inv, ok := common.Invert3x4(rec.Transform)
			if !ok {
				return nil, fmt.Errorf("instance %d has a singular transform", i)
			}

			as.refs = append(as.refs, primitiveRef{geometry: uint32(gi), primitive: uint32(i)})
			as.instances = append(as.instances, rec)
			as.blas = append(as.blas, blas)
			as.inverse = append(as.inverse, inv)

			world := common.EmptyAABB()
			if !local.IsEmpty() {
				world = local.Transform(rec.Transform)
			}
			bounds = append(bounds, world)
		}
	}
	return bounds, nil
}

// encode serializes the built structure. Callers hold a.mu.
func (a *accelerationStructure) encode() []byte {
	n := uint32(len(a.refs))
	var header [structureHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:], structureMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(a.typ))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(a.tree.Nodes)))
	binary.LittleEndian.PutUint32(header[12:], n)
	binary.LittleEndian.PutUint32(header[16:], uint32(a.flags))
	b := a.tree.Bounds()
	for k := 0; k < 3; k++ {
		binary.LittleEndian.PutUint32(header[20+k*4:], math.Float32bits(b.Min[k]))
		binary.LittleEndian.PutUint32(header[32+k*4:], math.Float32bits(b.Max[k]))
	}

	out := append([]byte(nil), header[:]...)
	out = append(out, common.SliceToBytes(a.tree.Nodes)...)
	out = append(out, common.SliceToBytes(a.tree.Order)...)
	if a.typ == AccelerationStructureTopLevel {
		return append(out, common.SliceToBytes(a.instances)...)
	}
	for i, ref := range a.refs {
		var rec [primitiveRefSize]byte
		binary.LittleEndian.PutUint32(rec[0:], ref.geometry)
		binary.LittleEndian.PutUint32(rec[4:], ref.primitive)
		out = append(out, rec[:]...)
		out = append(out, common.SliceToBytes(a.triangles[i][:])...)
	}
	return out
}

// HitKind reports which primitive kind a ray hit.
type HitKind int

const (
	HitKindTriangle HitKind = iota
	HitKindProcedural
)

// Hit describes the closest intersection found by a RayQuery.
type Hit struct {
	Distance       float32
	InstanceIndex  uint32
	CustomIndex    uint32
	SBTOffset      uint32
	GeometryIndex  uint32
	PrimitiveIndex uint32
	Kind           HitKind
}

// RayQuery traces rays against a top-level structure on the host.
type RayQuery interface {
	// TraceRay returns the closest hit along r within tMax among instances whose mask
	// shares a bit with mask.
	TraceRay(r common.Ray, tMax float32, mask uint8) (Hit, bool)
}

type rayQuery struct {
	tlas *accelerationStructure
}

func (d *device) RayQuery(tlas AccelerationStructure) (RayQuery, error) {
	as, err := d.asStructure(tlas)
	if err != nil {
		return nil, violation("ray query", err)
	}
	if as.typ != AccelerationStructureTopLevel {
		return nil, violation("ray query", fmt.Errorf("%q is not a top-level structure", as.label))
	}
	if err := as.checkTraceable(); err != nil {
		return nil, violation("ray query", err)
	}
	return &rayQuery{tlas: as}, nil
}

// checkTraceable verifies a top-level structure and everything it references is alive.
func (a *accelerationStructure) checkTraceable() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.destroyed {
		return fmt.Errorf("%w: %q", ErrDestroyed, a.label)
	}
	if !a.built {
		return fmt.Errorf("%w: %q", ErrNotBuilt, a.label)
	}
	for i, blas := range a.blas {
		if !blas.Built() {
			return fmt.Errorf("%w: instance %d references %q", ErrDestroyed, i, blas.label)
		}
	}
	return nil
}

func (q *rayQuery) TraceRay(r common.Ray, tMax float32, mask uint8) (Hit, bool) {
	top := q.tlas
	top.mu.RLock()
	defer top.mu.RUnlock()

	var best Hit
	found := false
	_, _, _ = top.tree.Intersect(r, tMax, func(item uint32, limit float32) (float32, bool) {
		rec := top.instances[item]
		if rec.Mask()&mask == 0 {
			return 0, false
		}
		local := common.Ray{
			Origin:    common.TransformPoint3x4(top.inverse[item], r.Origin),
			Direction: common.TransformVector3x4(top.inverse[item], r.Direction),
		}
		hit, ok := top.blas[item].closest(local, limit)
		if !ok {
			return 0, false
		}
		hit.InstanceIndex = item
		hit.CustomIndex = rec.CustomIndex()
		hit.SBTOffset = rec.SBTOffset()
		best = hit
		found = true
		return hit.Distance, true
	})
	return best, found
}

// closest intersects a ray in object space with a bottom-level structure.
func (a *accelerationStructure) closest(r common.Ray, tMax float32) (Hit, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	invDir := r.Direction.Inverse()
	item, dist, ok := a.tree.Intersect(r, tMax, func(item uint32, limit float32) (float32, bool) {
		ref := a.refs[item]
		if a.geometryTypes[ref.geometry] == GeometryAABBs {
			t := a.boxes[item].IntersectRay(r.Origin, invDir, limit)
			return t, t <= limit
		}
		tri := a.triangles[item]
		t, hit := common.IntersectTriangle(r, tri[0], tri[1], tri[2])
		return t, hit && t < limit
	})
	if !ok {
		return Hit{}, false
	}
	ref := a.refs[item]
	kind := HitKindTriangle
	if a.geometryTypes[ref.geometry] == GeometryAABBs {
		kind = HitKindProcedural
	}
	return Hit{Distance: dist, GeometryIndex: ref.geometry, PrimitiveIndex: ref.primitive, Kind: kind}, true
}
