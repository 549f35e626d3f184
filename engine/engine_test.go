package engine

import (
	"context"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/config"
	"github.com/Carmen-Shannon/oxy-rt/engine/device"
	"github.com/Carmen-Shannon/oxy-rt/engine/game_object"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScene(t *testing.T) (scene.Scene, int) {
	t.Helper()
	reg := scene.NewSceneAssetRegistry()
	t.Cleanup(reg.Release)
	box, err := reg.Load(scene.ShapeBox)
	require.NoError(t, err)
	sphere, err := reg.Load(scene.ShapeSphere)
	require.NoError(t, err)

	s := scene.NewScene(reg, scene.WithName("test"))
	_, err = s.Add(game_object.NewGameObject(box))
	require.NoError(t, err)
	_, err = s.Add(game_object.NewGameObject(sphere, game_object.WithPosition(common.Vec3{3, 0, 0})))
	require.NoError(t, err)
	return s, box
}

func newTestEngine(t *testing.T, options ...EngineBuilderOption) Engine {
	t.Helper()
	s, _ := newTestScene(t)
	cfg := config.Default()
	cfg.Width, cfg.Height = 8, 8
	cfg.Workers = 2
	cfg.FenceTimeout = config.Duration{Duration: 2 * time.Second}

	e := NewEngine(s, append([]EngineBuilderOption{WithConfig(cfg)}, options...)...)
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(func() { assert.NoError(t, e.Release()) })
	return e
}

func TestEngineFrameBeforeInit(t *testing.T) {
	s, _ := newTestScene(t)
	e := NewEngine(s)
	assert.ErrorIs(t, e.Frame(context.Background()), errEngineNotInitialized)
	assert.ErrorIs(t, e.Run(context.Background()), errEngineNotInitialized)
	assert.Nil(t, e.Renderer())
	assert.Nil(t, e.Window())
}

func TestEngineRunFrames(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RunFrames(context.Background(), 4))

	stats := e.Device().Stats()
	assert.EqualValues(t, 4, stats.Dispatches)
	assert.NotNil(t, e.Renderer().Bindings().BindGroup())
	w, h := e.Renderer().Extent()
	assert.EqualValues(t, 8, w)
	assert.EqualValues(t, 8, h)

	presented, skipped := e.Profiler().Frames()
	assert.Zero(t, presented, "profiling is off by default")
	assert.Zero(t, skipped)
	assert.Equal(t, 1, e.Profiler().Rebuilds().Count)
}

func TestEngineRebuildOnMutation(t *testing.T) {
	e := newTestEngine(t, WithProfiling(true))
	require.NoError(t, e.RunFrames(context.Background(), 1))
	require.Len(t, e.Renderer().Instances(), 2)
	first := e.Renderer().TopLevel()

	_, err := e.Scene().Add(game_object.NewGameObject(0, game_object.WithPosition(common.Vec3{-3, 0, 0})))
	require.NoError(t, err)
	require.NoError(t, e.RunFrames(context.Background(), 1))

	assert.Len(t, e.Renderer().Instances(), 3)
	assert.NotSame(t, first, e.Renderer().TopLevel())
	assert.Equal(t, 2, e.Profiler().Rebuilds().Count)
	u := e.Renderer().Uniforms()
	assert.Equal(t, u.SamplesPerFrame, u.TotalSamples, "accumulation restarts after a rebuild")

	presented, _ := e.Profiler().Frames()
	assert.EqualValues(t, 2, presented)
}

func TestEngineSkipsOutOfDateFrames(t *testing.T) {
	e := newTestEngine(t, WithDeviceOptions(device.WithSurface(8, 8)))
	surf := e.Device().Surface()
	require.NotNil(t, surf)

	require.NoError(t, e.RunFrames(context.Background(), 1))
	surf.Resize(16, 12)

	err := e.Frame(context.Background())
	kind, ok := device.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, device.KindOutOfDate, kind)
	assert.False(t, device.IsFatal(err))

	require.NoError(t, e.RunFrames(context.Background(), 2))
	w, h := e.Renderer().Extent()
	assert.EqualValues(t, 16, w)
	assert.EqualValues(t, 12, h)
	_, skipped := e.Profiler().Frames()
	assert.Zero(t, skipped, "Frame does not count skipped frames, only the loop does")
}

func TestEngineRunStopsOnQuit(t *testing.T) {
	e := newTestEngine(t, WithTickRate(1000), WithRenderFrameLimit(500))

	ticks := make(chan struct{}, 1)
	e.SetTickCallback(func(float32) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("tick callback never ran")
	}
	e.Quit()
	e.Quit()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
	assert.NotZero(t, e.Device().Stats().Dispatches)
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, e.Run(ctx))
}

func TestWithConfig(t *testing.T) {
	s, _ := newTestScene(t)
	cfg := config.Default()
	cfg.FramesInFlight = 3
	cfg.Profiling = true

	e := NewEngine(s, WithConfig(cfg), WithFramesInFlight(0)).(*engine)
	assert.Equal(t, 3, e.framesInFlight)
	assert.True(t, e.profilingEnabled)
	assert.NotEmpty(t, e.deviceOptions)
	assert.NotEmpty(t, e.rendererOptions)

	e = NewEngine(s, WithFramesInFlight(5), WithProfiling(false)).(*engine)
	assert.Equal(t, 5, e.framesInFlight)
	assert.False(t, e.profilingEnabled)
	assert.Equal(t, renderer.DefaultFramesInFlight, NewEngine(s).(*engine).framesInFlight)
}
