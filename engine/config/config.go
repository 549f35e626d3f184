// Package config loads engine settings from TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/pelletier/go-toml/v2"
)

// Backend names accepted in the config file.
const (
	BackendSoftware = "software"
	BackendWGPU     = "wgpu"
)

// Config holds every tunable the engine reads at start-up.
type Config struct {
	// Backend selects the device backend: "software" or "wgpu".
	Backend string `toml:"backend"`

	// FramesInFlight is the number of frame slots, each with its own fence.
	FramesInFlight int `toml:"frames_in_flight"`

	// Width and Height are the output image extent in pixels.
	Width  int `toml:"width"`
	Height int `toml:"height"`

	// SamplesPerFrame and Bounces feed the camera/sample uniform block.
	SamplesPerFrame uint32 `toml:"samples_per_frame"`
	Bounces         uint32 `toml:"bounces"`

	// Workers bounds the software backend's queue and BVH worker pools.
	Workers int `toml:"workers"`

	// FenceTimeout bounds every blocking device wait. A wait that exceeds it is fatal.
	FenceTimeout Duration `toml:"fence_timeout"`

	// RayQuery adds storage usage to the consolidated vertex and index buffers.
	RayQuery bool `toml:"ray_query"`

	// Opaque marks all geometry opaque, disabling any-hit shading.
	Opaque bool `toml:"opaque"`

	// AllowUpdate builds bottom-level indices with update-in-place support.
	AllowUpdate bool `toml:"allow_update"`

	// VSync selects FIFO presentation on the wgpu backend.
	VSync bool `toml:"vsync"`

	// Profiling enables periodic frame statistics.
	Profiling bool `toml:"profiling"`

	// LogLevel is one of debug, info, notice, warning, error.
	LogLevel string `toml:"log_level"`
}

// Duration is a time.Duration that reads TOML strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
//
// Returns:
//   - Config: the default settings
func Default() Config {
	return Config{
		Backend:         BackendSoftware,
		FramesInFlight:  2,
		Width:           640,
		Height:          480,
		SamplesPerFrame: 8,
		Bounces:         8,
		Workers:         4,
		FenceTimeout:    Duration{5 * time.Second},
		RayQuery:        true,
		Opaque:          true,
		LogLevel:        "notice",
	}
}

// Load reads a TOML file on top of Default and validates the result.
//
// Parameters:
//   - path: the config file path
//
// Returns:
//   - Config: the merged settings
//   - error: error if the file cannot be read, parsed, or fails validation
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes on top of Default and validates the result.
//
// Parameters:
//   - data: TOML document
//
// Returns:
//   - Config: the merged settings
//   - error: error if parsing or validation fails
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	def := Default()
	cfg.Backend = common.Coalesce(cfg.Backend, def.Backend)
	cfg.LogLevel = common.Coalesce(cfg.LogLevel, def.LogLevel)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
//
// Returns:
//   - error: nil if the configuration is usable
func (c Config) Validate() error {
	var errs []error
	if c.Backend != BackendSoftware && c.Backend != BackendWGPU {
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.FramesInFlight < 1 {
		errs = append(errs, fmt.Errorf("frames_in_flight must be >= 1, got %d", c.FramesInFlight))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid extent %dx%d", c.Width, c.Height))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.FenceTimeout.Duration <= 0 {
		errs = append(errs, errors.New("fence_timeout must be positive"))
	}
	return errors.Join(errs...)
}
