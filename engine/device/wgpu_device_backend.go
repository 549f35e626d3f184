package device

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// colorizeSource maps primary-hit ids to packed RGBA8 colors.
const colorizeSource = `
struct Params {
	width: u32,
	height: u32,
	pad0: u32,
	pad1: u32,
}

@group(0) @binding(0) var<storage, read> ids: array<u32>;
@group(0) @binding(1) var<storage, read_write> colors: array<u32>;
@group(0) @binding(2) var<uniform> params: Params;

fn pcg(x: u32) -> u32 {
	var v = x * 747796405u + 2891336453u;
	v = ((v >> ((v >> 28u) + 4u)) ^ v) * 277803737u;
	return (v >> 22u) ^ v;
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	if (gid.x >= params.width || gid.y >= params.height) {
		return;
	}
	let i = gid.y * params.width + gid.x;
	let id = ids[i];
	if (id == 0u) {
		colors[i] = 0xff201810u;
		return;
	}
	colors[i] = pcg(id) | 0xff000000u;
}
`

// blitSource draws a packed color buffer over the whole surface.
const blitSource = `
struct Params {
	width: u32,
	height: u32,
	pad0: u32,
	pad1: u32,
}

@group(0) @binding(0) var<storage, read> colors: array<u32>;
@group(0) @binding(1) var<uniform> params: Params;

struct VertexOut {
	@builtin(position) position: vec4<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> VertexOut {
	var corners = array<vec2<f32>, 3>(vec2<f32>(-1.0, -1.0), vec2<f32>(3.0, -1.0), vec2<f32>(-1.0, 3.0));
	var out: VertexOut;
	out.position = vec4<f32>(corners[index], 0.0, 1.0);
	return out;
}

@fragment
fn fs_main(in: VertexOut) -> @location(0) vec4<f32> {
	let x = min(u32(in.position.x), params.width - 1u);
	let y = min(u32(in.position.y), params.height - 1u);
	return unpack4x8unorm(colors[y * params.width + x]);
}
`

// wgpuDeviceBackend mirrors every bound buffer and every image into WebGPU buffers. The
// host copy stays authoritative; writes are pushed with Queue.WriteBuffer, and image
// contents are read back through a MapRead staging buffer.
type wgpuDeviceBackend struct {
	mu sync.Mutex
	d  *device

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	surface       *wgpu.Surface
	surfaceFormat wgpu.TextureFormat
	presentMode   wgpu.PresentMode
	frameTexture  *wgpu.Texture
	frameView     *wgpu.TextureView

	colorizeLayout   *wgpu.BindGroupLayout
	colorizePipeline *wgpu.ComputePipeline
	blitLayout       *wgpu.BindGroupLayout
	blitPipeline     *wgpu.RenderPipeline
}

var _ deviceBackend = &wgpuDeviceBackend{}

// wgpuImage holds the device side of an image.
type wgpuImage struct {
	ids      *wgpu.Buffer
	colors   *wgpu.Buffer
	params   *wgpu.Buffer
	readback *wgpu.Buffer

	colorize *wgpu.BindGroup
	blit     *wgpu.BindGroup
}

func (b *wgpuDeviceBackend) init(d *device) error {
	b.d = d
	b.instance = wgpu.CreateInstance(nil)
	b.presentMode = wgpu.PresentModeImmediate
	if d.vsync {
		b.presentMode = wgpu.PresentModeFifo
	}

	if d.surfaceDescriptor != nil {
		b.surface = b.instance.CreateSurface(d.surfaceDescriptor)
	}

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallbackAdapter,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		return fmt.Errorf("failed to request adapter: %w", err)
	}
	b.adapter = a

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "oxy-rt device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to request device: %w", err)
	}
	b.device = dev
	b.queue = dev.GetQueue()

	return b.createColorizePipeline()
}

func (b *wgpuDeviceBackend) createColorizePipeline() error {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "colorize",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: colorizeSource},
	})
	if err != nil {
		return fmt.Errorf("failed to create colorize shader: %w", err)
	}
	defer module.Release()

	layout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "colorize",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create colorize layout: %w", err)
	}
	b.colorizeLayout = layout

	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "colorize",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return fmt.Errorf("failed to create colorize pipeline layout: %w", err)
	}

	p, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "colorize",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create colorize pipeline: %w", err)
	}
	b.colorizePipeline = p
	return nil
}

func (b *wgpuDeviceBackend) createBlitPipeline() error {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "blit",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: blitSource},
	})
	if err != nil {
		return fmt.Errorf("failed to create blit shader: %w", err)
	}
	defer module.Release()

	layout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "blit",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageFragment, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageFragment, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create blit layout: %w", err)
	}
	b.blitLayout = layout

	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "blit",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return fmt.Errorf("failed to create blit pipeline layout: %w", err)
	}

	p, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "blit",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    b.surfaceFormat,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create blit pipeline: %w", err)
	}
	b.blitPipeline = p
	return nil
}

func nativeUsage(u BufferUsage) wgpu.BufferUsage {
	usage := wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc | wgpu.BufferUsageStorage
	if u.Has(BufferUsageUniform) {
		usage |= wgpu.BufferUsageUniform
	}
	if u.Has(BufferUsageVertex) {
		usage |= wgpu.BufferUsageVertex
	}
	if u.Has(BufferUsageIndex) {
		usage |= wgpu.BufferUsageIndex
	}
	return usage
}

func (b *wgpuDeviceBackend) bufferBound(buf *buffer) error {
	native, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: buf.label,
		Size:  common.AlignUp(buf.size, 4),
		Usage: nativeUsage(buf.usage),
	})
	if err != nil {
		return fmt.Errorf("failed to create wgpu buffer %q: %w", buf.label, err)
	}
	buf.mu.Lock()
	buf.native = native
	buf.mu.Unlock()
	return b.bufferWritten(buf, 0, buf.size)
}

func (b *wgpuDeviceBackend) bufferDestroyed(buf *buffer) {
	buf.mu.Lock()
	native, _ := buf.native.(*wgpu.Buffer)
	buf.native = nil
	buf.mu.Unlock()
	if native != nil {
		native.Release()
	}
}

// bufferWritten pushes [offset, offset+size) of the host copy, widened to 4-byte bounds.
func (b *wgpuDeviceBackend) bufferWritten(buf *buffer, offset, size uint64) error {
	buf.mu.Lock()
	native, _ := buf.native.(*wgpu.Buffer)
	buf.mu.Unlock()
	if native == nil || size == 0 {
		return nil
	}

	start := offset &^ 3
	end := min(common.AlignUp(offset+size, 4), buf.size)
	host, err := buf.bytes(start, end-start)
	if err != nil {
		return err
	}
	data := make([]byte, common.AlignUp(end-start, 4))
	copy(data, host)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.WriteBuffer(native, start, data)
	return nil
}

func (b *wgpuDeviceBackend) imageCreated(img *image) error {
	size := uint64(len(img.pixels))
	create := func(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
		return b.device.CreateBuffer(&wgpu.BufferDescriptor{Label: img.label + " " + label, Size: size, Usage: usage})
	}

	n := &wgpuImage{}
	var err error
	if n.ids, err = create("ids", size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}
	if n.colors, err = create("colors", size, wgpu.BufferUsageStorage); err != nil {
		return err
	}
	if n.params, err = create("params", 16, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}
	if n.readback, err = create("readback", size, wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}

	var params [16]byte
	binary.LittleEndian.PutUint32(params[0:], img.width)
	binary.LittleEndian.PutUint32(params[4:], img.height)
	b.queue.WriteBuffer(n.params, 0, params[:])

	n.colorize, err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  img.label + " colorize",
		Layout: b.colorizeLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: n.ids, Offset: 0, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: n.colors, Offset: 0, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: n.params, Offset: 0, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}

	img.native = n
	return nil
}

func (b *wgpuDeviceBackend) imageDestroyed(img *image) {
	n, ok := img.native.(*wgpuImage)
	if !ok {
		return
	}
	if n.blit != nil {
		n.blit.Release()
	}
	n.colorize.Release()
	n.ids.Release()
	n.colors.Release()
	n.params.Release()
	n.readback.Release()
	img.native = nil
}

func (b *wgpuDeviceBackend) imageWritten(img *image) error {
	n, ok := img.native.(*wgpuImage)
	if !ok {
		return nil
	}
	img.mu.Lock()
	data := append([]byte(nil), img.pixels...)
	img.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.WriteBuffer(n.ids, 0, data)
	return nil
}

// imageFetch copies the device contents of img back into its host pixels.
func (b *wgpuDeviceBackend) imageFetch(img *image) error {
	n, ok := img.native.(*wgpuImage)
	if !ok {
		return nil
	}
	size := uint64(len(img.pixels))

	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	encoder.CopyBufferToBuffer(n.ids, 0, n.readback, 0, size)
	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return err
	}
	b.queue.Submit(cmd)
	cmd.Release()

	var status wgpu.BufferMapAsyncStatus
	if err := n.readback.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return err
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("readback of image %q failed: %s", img.label, status.String())
	}

	img.mu.Lock()
	copy(img.pixels, n.readback.GetMappedRange(0, uint(size)))
	img.mu.Unlock()
	n.readback.Unmap()
	return nil
}

// traceRays colorizes the resolved hit ids on the device.
func (b *wgpuDeviceBackend) traceRays(info TraceRaysInfo, output *image) error {
	if output == nil {
		return nil
	}
	n, ok := output.native.(*wgpuImage)
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(b.colorizePipeline)
	pass.SetBindGroup(0, n.colorize, nil)
	pass.DispatchWorkgroups((info.Width+7)/8, (info.Height+7)/8, 1)
	pass.End()

	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return err
	}
	b.queue.Submit(cmd)
	cmd.Release()
	return nil
}

func (b *wgpuDeviceBackend) configureSurface(width, height uint32) error {
	if b.surface == nil {
		return ErrNoSurface
	}

	capabilities := b.surface.GetCapabilities(b.adapter)
	format := capabilities.Formats[0]

	b.mu.Lock()
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       width,
		Height:      height,
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	rebuild := b.blitPipeline == nil || format != b.surfaceFormat
	b.surfaceFormat = format
	b.mu.Unlock()

	if rebuild {
		return b.createBlitPipeline()
	}
	return nil
}

func (b *wgpuDeviceBackend) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameTexture != nil {
		return fmt.Errorf("previous surface texture not yet presented")
	}

	texture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfDate, err)
	}
	view, err := texture.CreateView(nil)
	if err != nil {
		texture.Release()
		return err
	}
	b.frameTexture = texture
	b.frameView = view
	return nil
}

// present blits img into the acquired surface texture.
func (b *wgpuDeviceBackend) present(img *image) error {
	n, ok := img.native.(*wgpuImage)
	if !ok {
		return fmt.Errorf("image %q has no device storage", img.label)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.releaseFrame()

	if b.frameView == nil {
		return fmt.Errorf("no surface texture acquired")
	}
	if n.blit == nil {
		bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  img.label + " blit",
			Layout: b.blitLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: n.colors, Offset: 0, Size: wgpu.WholeSize},
				{Binding: 1, Buffer: n.params, Offset: 0, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return err
		}
		n.blit = bg
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       b.frameView,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	pass.SetPipeline(b.blitPipeline)
	pass.SetBindGroup(0, n.blit, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return err
	}
	b.queue.Submit(cmd)
	cmd.Release()
	b.surface.Present()
	return nil
}

func (b *wgpuDeviceBackend) releaseFrame() {
	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	if b.frameTexture != nil {
		b.frameTexture.Release()
		b.frameTexture = nil
	}
}

func (b *wgpuDeviceBackend) waitIdle() {
	if b.device == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device.Poll(true, nil)
}

func (b *wgpuDeviceBackend) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseFrame()
	if b.blitPipeline != nil {
		b.blitPipeline.Release()
	}
	if b.colorizePipeline != nil {
		b.colorizePipeline.Release()
	}
	if b.surface != nil {
		b.surface.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}
