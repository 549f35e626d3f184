package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/profiler"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
	"github.com/Carmen-Shannon/oxy-rt/engine/window"
)

// errEngineNotInitialized is returned by frame operations before Init.
var errEngineNotInitialized = errors.New("engine is not initialized")

// engine implements the Engine interface.
// The frame loop runs on the goroutine that calls Run; the scene tick runs on its own.
type engine struct {
	log logger.Logger

	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	wg sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window window.Window
	dev    device.Device
	ownDev bool

	deviceOptions   []device.DeviceBuilderOption
	rendererOptions []renderer.RendererBuilderOption
	framesInFlight  int

	scene    scene.Scene
	renderer renderer.Renderer
	frames   renderer.FrameSynchronizer

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point for the engine.
// It owns the device, renderer and frame synchronizer for one scene and drives the
// frame loop: BeginFrame, RecordDispatch, Submit, Present.
//
// Errors from the loop carry a device.GpuError. Recoverable kinds skip the frame; fatal
// kinds stop the loop and are returned from Run.
type Engine interface {
	// Init creates the device (unless one was supplied), builds the scene's indices and
	// output images and creates the frame synchronizer.
	//
	// Parameters:
	//   - ctx: bounds the upload and build waits
	//
	// Returns:
	//   - error: error if the device cannot be created or the scene build fails
	Init(ctx context.Context) error

	// Window returns the underlying window, or nil when headless.
	Window() window.Window

	// Device returns the device, or nil before Init.
	Device() device.Device

	// Scene returns the scene the engine renders.
	Scene() scene.Scene

	// Renderer returns the renderer, or nil before Init.
	Renderer() renderer.Renderer

	// Profiler returns the frame and rebuild profiler.
	Profiler() *profiler.Profiler

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in ticks per second.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick after the scene and
	// camera have advanced.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional frame rate cap in frames per second.
	// Pass 0 to uncap the frame loop (default).
	//
	// Parameters:
	//   - fps: maximum frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// RequestRebuild queues a top-level rebuild for the next frame.
	RequestRebuild()

	// Frame runs one iteration of the frame loop.
	//
	// Parameters:
	//   - ctx: bounds the rebuild and fence waits
	//
	// Returns:
	//   - error: nil when the frame was presented, a non-fatal GpuError when it was
	//     skipped, or a fatal error
	Frame(ctx context.Context) error

	// RunFrames runs n frames without a window. Skipped frames count toward n.
	//
	// Parameters:
	//   - ctx: bounds every wait
	//   - n: the number of frames
	//
	// Returns:
	//   - error: the first fatal error
	RunFrames(ctx context.Context, n int) error

	// Run polls the window and renders frames until the window closes, Quit is called,
	// ctx is cancelled or a fatal error occurs.
	//
	// Returns:
	//   - error: the fatal error that stopped the loop, or nil
	Run(ctx context.Context) error

	// Quit signals the tick goroutine and the frame loop to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()

	// Release waits for in-flight frames, releases the renderer and, if the engine created
	// it, the device.
	//
	// Returns:
	//   - error: every teardown error joined
	Release() error
}

var _ Engine = &engine{}

// NewEngine creates a new Engine for s with the provided options.
// Options are applied directly to the engine struct via the option-builder pattern.
//
// Parameters:
//   - s: the scene to render
//   - options: functional options for engine configuration (config, window, profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(s scene.Scene, options ...EngineBuilderOption) Engine {
	e := &engine{
		log:             logger.New("engine"),
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		scene:           s,
		profiler:        profiler.NewProfiler(),
		engineTickRate:  time.Second / 60,
		framesInFlight:  renderer.DefaultFramesInFlight,
	}

	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *engine) Init(ctx context.Context) error {
	if e.dev == nil {
		opts := e.deviceOptions
		if e.window != nil {
			opts = append(opts, device.WithWGPUSurface(e.window.SurfaceDescriptor()))
			w, h := e.window.Extent()
			opts = append(opts, device.WithSurface(w, h))
			e.rendererOptions = append(e.rendererOptions, renderer.WithExtent(w, h))
		}
		dev, err := device.NewDevice(opts...)
		if err != nil {
			return fmt.Errorf("failed to create device: %w", err)
		}
		e.dev = dev
		e.ownDev = true
	}

	e.renderer = renderer.NewRenderer(e.dev, e.rendererOptions...)
	if err := e.renderer.BuildScene(ctx, e.scene.Registry(), e.scene.Instances()); err != nil {
		return err
	}
	e.profiler.RecordRebuild(e.renderer.LastRebuild())

	frames, err := renderer.NewFrameSynchronizer(e.renderer, e.scene.Instances,
		renderer.WithFramesInFlight(e.framesInFlight),
		renderer.WithCamera(e.scene.Camera()),
	)
	if err != nil {
		return err
	}
	e.frames = frames
	e.scene.SetOnMutation(e.frames.RequestRebuild)

	if e.window != nil {
		e.bindInput()
	}
	e.log.Infof("scene %q ready: %d meshes, %d instances on %s", e.scene.Name(), e.scene.Registry().Len(), len(e.renderer.Instances()), e.dev.Type())
	return nil
}

// bindInput routes window events to the surface, the camera controller and the frame loop.
func (e *engine) bindInput() {
	e.window.SetResizeCallback(func(width, height uint32) {
		if surf := e.dev.Surface(); surf != nil {
			surf.Resize(width, height)
		}
	})
	e.window.SetKeyCallback(e.keyPressed)
	e.window.SetScrollCallback(func(delta float32) {
		if ctrl := e.controller(); ctrl != nil {
			ctrl.Zoom(delta)
		}
	})
	e.window.SetDragCallback(func(dx, dy float32) {
		if ctrl := e.controller(); ctrl != nil {
			ctrl.Orbit(dx*dragRadiansPerPixel, dy*dragRadiansPerPixel)
		}
	})
}

const dragRadiansPerPixel = 0.005

func (e *engine) keyPressed(key uint32) {
	switch key {
	case common.KeyR:
		e.RequestRebuild()
	case common.KeySpace:
		e.renderer.ResetAccumulation()
	case common.KeyP:
		e.profiler.Report(os.Stdout, e.dev.Stats())
	}

	ctrl := e.controller()
	if ctrl == nil {
		return
	}
	switch key {
	case common.KeyLeft:
		ctrl.OrbitLeft()
	case common.KeyRight:
		ctrl.OrbitRight()
	case common.KeyUp:
		ctrl.OrbitUp()
	case common.KeyDown:
		ctrl.OrbitDown()
	case common.KeyEqual:
		ctrl.Zoom(1)
	case common.KeyMinus:
		ctrl.Zoom(-1)
	}
}

func (e *engine) controller() camera.OrbitController {
	if cam := e.scene.Camera(); cam != nil {
		return cam.Controller()
	}
	return nil
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Device() device.Device {
	return e.dev
}

func (e *engine) Scene() scene.Scene {
	return e.scene
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Profiler() *profiler.Profiler {
	return e.profiler
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	rate := time.Duration(float64(time.Second) / fps)
	select {
	case e.tickRateChannel <- rate:
	default:
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}

func (e *engine) RequestRebuild() {
	if e.frames != nil {
		e.frames.RequestRebuild()
	}
}

func (e *engine) Frame(ctx context.Context) error {
	if e.frames == nil {
		return errEngineNotInitialized
	}

	rebuilding := e.frames.RebuildPending()
	f, err := e.frames.BeginFrame(ctx)
	if err != nil {
		return err
	}
	if rebuilding {
		e.profiler.RecordRebuild(e.renderer.LastRebuild())
	}
	if err := e.frames.RecordDispatch(f); err != nil {
		return err
	}
	if err := e.frames.Submit(f); err != nil {
		return err
	}
	return e.frames.Present(ctx, f)
}

// step runs one frame and classifies its error. A skipped frame is logged and reported
// as nil.
func (e *engine) step(ctx context.Context) error {
	err := e.Frame(ctx)
	if err == nil {
		if e.profilingEnabled {
			e.profiler.Tick()
		}
		return nil
	}
	if !device.IsFatal(err) {
		e.log.Warningf("frame skipped: %v", err)
		e.profiler.SkipFrame()
		return nil
	}
	e.log.Errorf("%v", err)
	return err
}

func (e *engine) RunFrames(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) Run(ctx context.Context) error {
	if e.frames == nil {
		return errEngineNotInitialized
	}

	e.wg.Add(1)
	go e.handleEngine()
	defer func() {
		e.signalQuit()
		e.wg.Wait()
	}()

	lastFrame := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.quitChannel:
			return nil
		default:
		}
		if e.window != nil && !e.window.Poll() {
			return nil
		}

		if err := e.step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if e.renderFrameLimit > 0 {
			if elapsed := time.Since(lastFrame); elapsed < e.renderFrameLimit {
				time.Sleep(e.renderFrameLimit - elapsed)
			}
		}
		lastFrame = time.Now()
	}
}

// Quit signals all engine goroutines to stop.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// handleEngine runs the fixed-rate tick loop in its own goroutine.
// Advances the scene and the camera controller, then fires the tick callback. Scene
// mutations reach the frame synchronizer through the scene's mutation hook.
// Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			e.scene.Advance(dt)
			if cam := e.scene.Camera(); cam != nil {
				cam.Update()
			}
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

func (e *engine) Release() error {
	var errs []error
	if e.frames != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.dev.FenceTimeout())
		errs = append(errs, e.frames.Release(ctx))
		cancel()
		e.frames = nil
	}
	if e.scene != nil {
		e.scene.SetOnMutation(nil)
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Release())
		e.renderer = nil
	}
	if e.ownDev && e.dev != nil {
		e.dev.Release()
		e.dev = nil
	}
	if e.window != nil {
		errs = append(errs, e.window.Close())
	}
	return errors.Join(errs...)
}
