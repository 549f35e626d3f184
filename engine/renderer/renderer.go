package renderer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-rt/engine/sbt"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
)

// errSceneNotBuilt is wrapped when an operation needs the scene indices before BuildScene.
var errSceneNotBuilt = errors.New("scene has not been built")

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu  *sync.Mutex
	dev device.Device
	log logger.Logger

	// Pre-build config collected from builder options
	width             uint32
	height            uint32
	samplesPerFrame   uint32
	bounces           uint32
	rayQuery          bool
	programSource     string
	maxRecursionDepth uint32
	buildOptions      []accel.BuildOption

	program      shader.Shader
	pipeline     pipeline.Pipeline
	table        sbt.ShaderBindingTable
	bindings     bind_group_provider.BindGroupProvider
	sceneBuffers *scene.SceneBuffers
	bottom       accel.BottomLevel
	top          accel.TopLevel
	instances    []scene.Instance
	output       device.Image
	accumulation device.Image

	camera      camera.Camera
	uniforms    UniformBlock
	lastRebuild time.Duration
}

// Renderer owns the device resources of one ray traced scene: the consolidated scene
// buffers, the bottom- and top-level indices, the ray tracing pipeline, its shader record
// table, the bind group and the output images.
//
// Usage pattern:
//  1. BuildScene uploads the registry meshes and builds every index
//  2. A FrameSynchronizer records RecordDispatch into per-frame command buffers
//  3. RebuildTopLevel replaces the top-level index after the scene graph changes
//  4. Release tears everything down in reverse order
type Renderer interface {
	// Device returns the device the renderer was created on.
	Device() device.Device

	// BuildScene consolidates and uploads the registry meshes, builds the bottom-level
	// indices and a top-level index over instances, then creates the pipeline, the shader
	// record table, the output images and the bind group. A previously built scene is
	// released first.
	//
	// Parameters:
	//   - ctx: bounds the upload and build waits
	//   - registry: the meshes to upload, in index order
	//   - instances: the instances of the top-level index
	//
	// Returns:
	//   - error: a GpuError from consolidation, upload, build or pipeline creation
	BuildScene(ctx context.Context, registry scene.SceneAssetRegistry, instances []scene.Instance) error

	// RebuildTopLevel waits for the device to go idle, destroys the top-level index and
	// everything that referenced it, then builds a fresh one over instances and recreates
	// the pipeline, shader record table and bind group. Accumulation is reset.
	//
	// Parameters:
	//   - ctx: bounds the idle wait and the build
	//   - instances: the new instance list
	//
	// Returns:
	//   - error: a GpuError if the scene is not built or any step fails
	RebuildTopLevel(ctx context.Context, instances []scene.Instance) error

	// RecreateOutputs replaces the output and accumulation images with images of the new
	// extent and rebinds them. Accumulation is reset.
	//
	// Parameters:
	//   - ctx: bounds the idle wait
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	//
	// Returns:
	//   - error: a KindResourceCreation GpuError if the images cannot be created
	RecreateOutputs(ctx context.Context, width, height uint32) error

	// Instances returns a copy of the instance list the current top-level index was built
	// over.
	Instances() []scene.Instance

	// Extent returns the output extent.
	Extent() (uint32, uint32)

	// Camera returns the camera the uniform block was last filled from, or nil.
	Camera() camera.Camera

	// SetCamera fills the uniform block from cam and resets accumulation.
	SetCamera(cam camera.Camera)

	// ResetAccumulation restarts the sample count.
	ResetAccumulation()

	// Uniforms returns a copy of the current uniform block.
	Uniforms() UniformBlock

	// RecordDispatch advances the uniform block, writes it and records one ray dispatch
	// over the output extent into cmd.
	//
	// Parameters:
	//   - cmd: a recording command buffer
	//
	// Returns:
	//   - error: a KindContractViolation GpuError if the scene is not built, or the
	//     recording error
	RecordDispatch(cmd device.CommandBuffer) error

	// OutputImage returns the write-only output image, or nil before BuildScene.
	OutputImage() device.Image

	// AccumulationImage returns the read-write accumulation image, or nil before BuildScene.
	AccumulationImage() device.Image

	Pipeline() pipeline.Pipeline
	ShaderBindingTable() sbt.ShaderBindingTable
	BottomLevel() accel.BottomLevel
	TopLevel() accel.TopLevel
	SceneBuffers() *scene.SceneBuffers
	Bindings() bind_group_provider.BindGroupProvider

	// LastRebuild returns how long the last BuildScene or RebuildTopLevel took.
	LastRebuild() time.Duration

	// Release waits for the device to go idle and destroys the shader record table, the
	// bind group, the pipeline, the top- and bottom-level indices, the scene buffers and
	// the output images, in that order.
	//
	// Returns:
	//   - error: every teardown error joined
	Release() error
}

var _ Renderer = &renderer{}

// NewRenderer creates a renderer on dev with all options applied. Nothing is allocated
// until BuildScene.
//
// Parameters:
//   - dev: the device to allocate on
//   - options: variadic list of RendererBuilderOption functions
//
// Returns:
//   - Renderer: the renderer
func NewRenderer(dev device.Device, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:                &sync.Mutex{},
		dev:               dev,
		log:               logger.New("renderer"),
		width:             800,
		height:            600,
		samplesPerFrame:   8,
		bounces:           8,
		rayQuery:          true,
		programSource:     DefaultRayProgramSource,
		maxRecursionDepth: pipeline.DefaultMaxRecursionDepth,
	}
	for _, opt := range options {
		opt(r)
	}
	r.uniforms.SamplesPerFrame = r.samplesPerFrame
	r.uniforms.Bounces = r.bounces
	r.uniforms.Extent = [2]uint32{r.width, r.height}
	initial := camera.NewCamera(camera.WithAspect(float32(r.width) / float32(r.height)))
	r.uniforms.SetCamera(initial.ViewMatrix(), initial.ProjectionMatrix())
	return r
}

func (r *renderer) Device() device.Device {
	return r.dev
}

func (r *renderer) BuildScene(ctx context.Context, registry scene.SceneAssetRegistry, instances []scene.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()

	if r.sceneBuffers != nil {
		if err := r.release(); err != nil {
			return fmt.Errorf("release previous scene: %w", err)
		}
	}

	cs, err := scene.Consolidate(registry.Meshes(), scene.ConsolidateOptions{RayQuery: r.rayQuery})
	if err != nil {
		return err
	}
	if r.sceneBuffers, err = scene.UploadConsolidated(ctx, r.dev, cs); err != nil {
		return err
	}

	cmd, err := r.dev.CreateCommandBuffer("scene build")
	if err != nil {
		return errors.Join(err, r.release())
	}
	if err := cmd.Begin(); err != nil {
		return errors.Join(err, r.release())
	}
	if r.bottom, err = accel.NewBottomLevel(r.dev, cmd, r.sceneBuffers, r.buildOptions...); err != nil {
		return errors.Join(err, r.release())
	}
	cmd.Barrier(device.BarrierAccelerationStructureBuild)
	if r.top, err = accel.NewTopLevel(ctx, r.dev, cmd, r.bottom, instances, r.buildOptions...); err != nil {
		return errors.Join(err, r.release())
	}
	if err := r.submit(ctx, cmd); err != nil {
		return errors.Join(fmt.Errorf("build scene indices: %w", err), r.release())
	}

	r.destroyOutputs()
	if err := r.createOutputs(r.width, r.height); err != nil {
		return errors.Join(err, r.release())
	}
	if err := r.createPipeline(); err != nil {
		return errors.Join(err, r.release())
	}

	r.bindings = bind_group_provider.NewBindGroupProvider(bind_group_provider.WithLabel("scene bindings"))
	r.bindSceneResources()
	if err := r.bindings.InitUniformBuffer(r.dev, bind_group_provider.SlotUniforms, UniformBlockSize); err != nil {
		return errors.Join(err, r.release())
	}
	if err := r.bindings.Init(r.dev, r.pipeline.Pipeline()); err != nil {
		return errors.Join(err, r.release())
	}

	r.instances = slices.Clone(instances)
	r.uniforms.Reset()
	r.lastRebuild = time.Since(start)
	r.log.Infof("built scene: %d meshes, %d instances in %v", cs.MeshCount(), len(instances), r.lastRebuild)
	return nil
}

func (r *renderer) RebuildTopLevel(ctx context.Context, instances []scene.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	const op = "rebuild top level"
	if r.bottom == nil {
		return device.NewError(device.KindContractViolation, "renderer", op, errSceneNotBuilt)
	}
	start := time.Now()

	if err := r.dev.WaitIdle(ctx); err != nil {
		return err
	}

	// everything below referenced the old index
	if r.table != nil {
		if err := r.table.Release(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r.table = nil
	}
	r.bindings.SetAccelerationStructure(bind_group_provider.SlotTopLevel, nil)
	if err := r.pipeline.Release(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if r.top != nil {
		if err := r.top.Release(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r.top = nil
	}

	cmd, err := r.dev.CreateCommandBuffer("top-level rebuild")
	if err != nil {
		return err
	}
	if err := cmd.Begin(); err != nil {
		return err
	}
	if r.top, err = accel.NewTopLevel(ctx, r.dev, cmd, r.bottom, instances, r.buildOptions...); err != nil {
		return err
	}
	if err := r.submit(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.createPipeline(); err != nil {
		return err
	}
	r.bindings.SetAccelerationStructure(bind_group_provider.SlotTopLevel, r.top.Structure().Handle)
	if err := r.bindings.Init(r.dev, r.pipeline.Pipeline()); err != nil {
		return err
	}

	r.instances = slices.Clone(instances)
	r.uniforms.Reset()
	r.lastRebuild = time.Since(start)
	r.log.Debugf("rebuilt top level over %d instances in %v", len(instances), r.lastRebuild)
	return nil
}

func (r *renderer) RecreateOutputs(ctx context.Context, width, height uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.dev.WaitIdle(ctx); err != nil {
		return err
	}
	r.destroyOutputs()
	if r.bindings != nil {
		// the bind group references the destroyed images until it is recreated
		r.bindings.SetImage(bind_group_provider.SlotAccumulation, nil)
		r.bindings.SetImage(bind_group_provider.SlotOutput, nil)
	}
	if err := r.createOutputs(width, height); err != nil {
		return err
	}
	r.width, r.height = width, height
	r.uniforms.Extent = [2]uint32{width, height}
	if r.camera != nil {
		r.camera.SetAspect(float32(width) / float32(height))
		r.applyCamera(r.camera)
	}

	if r.bindings != nil && r.pipeline != nil && r.pipeline.Pipeline() != nil {
		r.bindings.SetImage(bind_group_provider.SlotAccumulation, r.accumulation)
		r.bindings.SetImage(bind_group_provider.SlotOutput, r.output)
		if err := r.bindings.Init(r.dev, r.pipeline.Pipeline()); err != nil {
			return err
		}
	}
	r.uniforms.Reset()
	r.log.Debugf("recreated outputs at %dx%d", width, height)
	return nil
}

func (r *renderer) Instances() []scene.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.instances)
}

func (r *renderer) Extent() (uint32, uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

func (r *renderer) Camera() camera.Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.camera
}

func (r *renderer) SetCamera(cam camera.Camera) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.camera = cam
	r.applyCamera(cam)
	r.uniforms.Reset()
}

func (r *renderer) ResetAccumulation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uniforms.Reset()
}

func (r *renderer) Uniforms() UniformBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uniforms
}

func (r *renderer) RecordDispatch(cmd device.CommandBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	const op = "record dispatch"
	if r.table == nil || r.bindings == nil || r.bindings.BindGroup() == nil {
		return device.NewError(device.KindContractViolation, "renderer", op, errSceneNotBuilt)
	}

	r.uniforms.Advance()
	r.uniforms.Extent = [2]uint32{r.width, r.height}
	if err := bind_group_provider.WriteBuffers(bind_group_provider.BufferWrite{
		Provider: r.bindings,
		Slot:     bind_group_provider.SlotUniforms,
		Data:     r.uniforms.Marshal(),
	}); err != nil {
		return err
	}

	if err := cmd.TraceRays(device.TraceRaysInfo{
		Pipeline:  r.pipeline.Pipeline(),
		BindGroup: r.bindings.BindGroup(),
		Regions:   r.table.Regions(),
		Width:     r.width,
		Height:    r.height,
		Depth:     1,
		Rays:      newCameraRays(&r.uniforms),
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *renderer) OutputImage() device.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

func (r *renderer) AccumulationImage() device.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accumulation
}

func (r *renderer) Pipeline() pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipeline
}

func (r *renderer) ShaderBindingTable() sbt.ShaderBindingTable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table
}

func (r *renderer) BottomLevel() accel.BottomLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bottom
}

func (r *renderer) TopLevel() accel.TopLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.top
}

func (r *renderer) SceneBuffers() *scene.SceneBuffers {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sceneBuffers
}

func (r *renderer) Bindings() bind_group_provider.BindGroupProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings
}

func (r *renderer) LastRebuild() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRebuild
}

func (r *renderer) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.release()
}

// release tears down in reverse build order. The caller holds r.mu.
func (r *renderer) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.dev.FenceTimeout())
	defer cancel()
	errs := []error{r.dev.WaitIdle(ctx)}

	if r.table != nil {
		errs = append(errs, r.table.Release())
		r.table = nil
	}
	if r.bindings != nil {
		r.bindings.Release()
		r.bindings = nil
	}
	if r.pipeline != nil {
		errs = append(errs, r.pipeline.Release())
		r.pipeline = nil
	}
	if r.top != nil {
		errs = append(errs, r.top.Release())
		r.top = nil
	}
	if r.bottom != nil {
		errs = append(errs, r.bottom.Release())
		r.bottom = nil
	}
	if r.sceneBuffers != nil {
		r.sceneBuffers.Release()
		r.sceneBuffers = nil
	}
	r.destroyOutputs()
	r.instances = nil
	return errors.Join(errs...)
}

// submit ends cmd, submits it with a fresh fence and waits for it.
func (r *renderer) submit(ctx context.Context, cmd device.CommandBuffer) error {
	if err := cmd.End(); err != nil {
		return err
	}
	fence, err := r.dev.CreateFence(false)
	if err != nil {
		return err
	}
	if err := r.dev.Submit([]device.CommandBuffer{cmd}, fence); err != nil {
		return err
	}
	return fence.Wait(ctx)
}

// createPipeline creates the ray tracing pipeline and its shader record table. The
// program is parsed once and reused by every rebuild.
func (r *renderer) createPipeline() error {
	if r.program == nil {
		pp := shader.NewPreProcessor(shader.WithStruct(shader.AnnotationArgUniformBlock, GPUUniformBlockSource, "UniformBlock"))
		program, err := shader.NewShader("ray tracing", r.programSource, shader.WithPreProcessor(pp))
		if err != nil {
			return device.NewError(device.KindResourceCreation, "renderer", "compile ray program", err)
		}
		r.program = program
	}
	if r.pipeline == nil {
		r.pipeline = pipeline.NewPipeline("ray tracing",
			pipeline.WithShader(r.program),
			pipeline.WithMaxRecursionDepth(r.maxRecursionDepth),
		)
	}
	if err := r.pipeline.Init(r.dev); err != nil {
		return err
	}

	raygen, miss, hit := r.pipeline.ShaderRecords()
	table, err := sbt.NewShaderBindingTable(r.dev, r.pipeline.Pipeline(), raygen, miss, hit)
	if err != nil {
		return err
	}
	r.table = table
	return nil
}

// bindSceneResources binds slots 0 to 9 except the uniform block. Vertices and indices
// carry storage usage only when the scene was consolidated for ray queries, and the
// sphere buffer exists only when a mesh is analytic.
func (r *renderer) bindSceneResources() {
	b := r.bindings
	b.SetAccelerationStructure(bind_group_provider.SlotTopLevel, r.top.Structure().Handle)
	b.SetImage(bind_group_provider.SlotAccumulation, r.accumulation)
	b.SetImage(bind_group_provider.SlotOutput, r.output)
	if r.rayQuery {
		b.SetBuffer(bind_group_provider.SlotVertices, r.sceneBuffers.Vertices)
		b.SetBuffer(bind_group_provider.SlotIndices, r.sceneBuffers.Indices)
	}
	b.SetBuffer(bind_group_provider.SlotMaterials, r.sceneBuffers.Materials)
	b.SetBuffer(bind_group_provider.SlotOffsets, r.sceneBuffers.Offsets)
	b.SetImages(bind_group_provider.SlotTextures, r.sceneBuffers.Textures)
	if r.sceneBuffers.Spheres != nil {
		b.SetBuffer(bind_group_provider.SlotSpheres, r.sceneBuffers.Spheres)
	}
}

func (r *renderer) createOutputs(width, height uint32) error {
	var err error
	usage := device.ImageUsageStorage | device.ImageUsageTransferSrc
	if r.accumulation, err = r.dev.CreateImage(device.ImageDescriptor{
		Label: "accumulation", Width: width, Height: height, Format: device.ImageFormatR32Uint, Usage: usage,
	}); err != nil {
		return err
	}
	if r.output, err = r.dev.CreateImage(device.ImageDescriptor{
		Label: "output", Width: width, Height: height, Format: device.ImageFormatR32Uint, Usage: usage,
	}); err != nil {
		r.destroyOutputs()
		return err
	}
	return nil
}

func (r *renderer) destroyOutputs() {
	for _, img := range []device.Image{r.output, r.accumulation} {
		if img != nil {
			_ = img.Destroy()
		}
	}
	r.output, r.accumulation = nil, nil
}

// applyCamera fills the matrices of the uniform block from cam.
func (r *renderer) applyCamera(cam camera.Camera) {
	if cam == nil {
		return
	}
	r.uniforms.SetCamera(cam.ViewMatrix(), cam.ProjectionMatrix())
}
