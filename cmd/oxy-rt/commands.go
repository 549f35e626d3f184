package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/Carmen-Shannon/oxy-rt/engine"
	"github.com/Carmen-Shannon/oxy-rt/engine/config"
	"github.com/Carmen-Shannon/oxy-rt/engine/loader"
	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
	"github.com/Carmen-Shannon/oxy-rt/engine/window"
	"github.com/urfave/cli"
)

// loadConfig reads --config, or the defaults, and applies the verbosity flags on top.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if ctx.GlobalBool("v") {
		cfg.LogLevel = "info"
	}
	if ctx.GlobalBool("vv") {
		cfg.LogLevel = "debug"
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// loadScene parses the scene file argument and loads its assets. File assets are parsed
// in parallel before the scene is built.
func loadScene(ctx *cli.Context, cfg config.Config) (scene.Scene, func(), error) {
	if ctx.NArg() != 1 {
		return nil, nil, errors.New("missing scene file argument")
	}
	sf, err := scene.LoadSceneFile(ctx.Args().First())
	if err != nil {
		return nil, nil, err
	}

	ldr := loader.NewLoader(loader.WithWorkers(cfg.Workers))
	registry := scene.NewSceneAssetRegistry(scene.WithMeshLoader(ldr))
	release := func() {
		registry.Release()
		ldr.Release()
	}
	if _, err := ldr.LoadAll(registry, sf.Sources()); err != nil {
		release()
		return nil, nil, err
	}
	s, err := sf.Build(registry)
	if err != nil {
		release()
		return nil, nil, err
	}
	log.Noticef("loaded scene %q: %d assets, %d objects", s.Name(), registry.Len(), s.Count())
	return s, release, nil
}

func buildScene(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	s, release, err := loadScene(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	e := engine.NewEngine(s, engine.WithConfig(cfg))
	defer func() {
		if err := e.Release(); err != nil {
			log.Warningf("release: %v", err)
		}
	}()

	bg := context.Background()
	if err := e.Init(bg); err != nil {
		return err
	}
	if err := e.RunFrames(bg, ctx.Int("frames")); err != nil {
		return err
	}

	out := ctx.App.Writer
	writeAssetTable(out, s.Registry())
	writeStructureTable(out, e.Renderer())
	e.Profiler().Report(out, e.Device().Stats())
	return nil
}

func runScene(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Backend = ctx.String("backend")
	if err := cfg.Validate(); err != nil {
		return err
	}
	s, release, err := loadScene(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	w, err := window.NewWindow(
		window.WithTitle(fmt.Sprintf("oxy-rt: %s", s.Name())),
		window.WithExtent(cfg.Width, cfg.Height),
	)
	if err != nil {
		return err
	}

	e := engine.NewEngine(s, engine.WithConfig(cfg), engine.WithWindow(w), engine.WithProfiling(true))
	defer func() {
		if err := e.Release(); err != nil {
			log.Warningf("release: %v", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := e.Init(sigCtx); err != nil {
		return err
	}
	if err := e.Run(sigCtx); err != nil {
		return err
	}
	e.Profiler().Report(ctx.App.Writer, e.Device().Stats())
	return nil
}

func benchScene(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	s, release, err := loadScene(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	e := engine.NewEngine(s, engine.WithConfig(cfg))
	defer func() {
		if err := e.Release(); err != nil {
			log.Warningf("release: %v", err)
		}
	}()

	bg := context.Background()
	if err := e.Init(bg); err != nil {
		return err
	}
	for i := 0; i < ctx.Int("rebuilds"); i++ {
		e.RequestRebuild()
		if err := e.RunFrames(bg, 1); err != nil {
			return err
		}
	}

	writeRebuildTable(ctx.App.Writer, e.Profiler().Rebuilds())
	return nil
}
