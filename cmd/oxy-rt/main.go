// Command oxy-rt builds acceleration structures for TOML scene files and renders them,
// headless on the software device or in a window on wgpu.
package main

import (
	"os"

	"github.com/Carmen-Shannon/oxy-rt/engine/logger"
	"github.com/urfave/cli"
)

var log = logger.New("oxy-rt")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "oxy-rt"
	app.Usage = "build and render ray traced scenes"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "engine settings `FILE` (TOML)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "build",
			Usage: "consolidate, upload and build a scene headless",
			Description: `
Load every asset of the scene, consolidate and upload the geometry, build the
bottom and top level acceleration structures and dispatch the requested number
of frames. Prints the assets and acceleration structures as tables.`,
			ArgsUsage: "scene.toml",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "frames",
					Value: 1,
					Usage: "number of frames to dispatch",
				},
			},
			Action: buildScene,
		},
		{
			Name:      "run",
			Usage:     "render a scene in a window",
			ArgsUsage: "scene.toml",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "backend",
					Value: "wgpu",
					Usage: "device backend (software or wgpu)",
				},
			},
			Action: runScene,
		},
		{
			Name:  "bench",
			Usage: "time top-level rebuilds",
			Description: `
Build the scene headless, then request a top-level rebuild before each frame and
print the rebuild timing table.`,
			ArgsUsage: "scene.toml",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "rebuilds, n",
					Value: 50,
					Usage: "number of rebuilds",
				},
			},
			Action: benchScene,
		},
	}
	return app
}
