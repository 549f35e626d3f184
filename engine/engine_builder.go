package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-rt/engine/accel"
	"github.com/Carmen-Shannon/oxy-rt/engine/config"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rt/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithConfig maps a loaded configuration onto the device, renderer and frame loop
// options and sets the global log level. Options applied after it override its values.
//
// Parameters:
//   - cfg: a validated configuration
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithConfig(cfg config.Config) EngineBuilderOption {
	return func(e *engine) {
		logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

		backend, err := device.ParseBackendType(cfg.Backend)
		if err != nil {
			e.log.Warningf("%v, using %s", err, device.BackendTypeSoftware)
		}
		e.deviceOptions = append(e.deviceOptions,
			device.WithBackend(backend),
			device.WithWorkers(cfg.Workers),
			device.WithFenceTimeout(cfg.FenceTimeout.Duration),
			device.WithVSync(cfg.VSync),
		)
		e.rendererOptions = append(e.rendererOptions,
			renderer.WithExtent(uint32(cfg.Width), uint32(cfg.Height)),
			renderer.WithSamplesPerFrame(cfg.SamplesPerFrame),
			renderer.WithBounces(cfg.Bounces),
			renderer.WithRayQuery(cfg.RayQuery),
			renderer.WithBuildOptions(accel.WithOpaque(cfg.Opaque), accel.WithAllowUpdate(cfg.AllowUpdate)),
		)
		if cfg.FramesInFlight > 0 {
			e.framesInFlight = cfg.FramesInFlight
		}
		e.profilingEnabled = cfg.Profiling
	}
}

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithTickRate sets the engine tick rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithWindow sets the window the engine presents into. The device is created with the
// window's surface descriptor and extent.
//
// Parameters:
//   - w: an open Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithDevice supplies an existing device. The engine does not release it.
//
// Parameters:
//   - dev: the device to render on
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithDevice(dev device.Device) EngineBuilderOption {
	return func(e *engine) {
		e.dev = dev
		e.ownDev = false
	}
}

// WithDeviceOptions appends options used when the engine creates its own device.
func WithDeviceOptions(options ...device.DeviceBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.deviceOptions = append(e.deviceOptions, options...)
	}
}

// WithRendererOptions appends options passed to the renderer.
func WithRendererOptions(options ...renderer.RendererBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.rendererOptions = append(e.rendererOptions, options...)
	}
}

// WithFramesInFlight sets the number of frame slots. Values below 1 are ignored.
func WithFramesInFlight(n int) EngineBuilderOption {
	return func(e *engine) {
		if n > 0 {
			e.framesInFlight = n
		}
	}
}

// WithRenderFrameLimit sets an optional frame rate cap in frames per second.
// Pass 0 to uncap the frame loop (default).
//
// Parameters:
//   - fps: maximum frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}
