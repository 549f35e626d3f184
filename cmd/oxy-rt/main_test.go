package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScene = `
name = "pair"

[camera]
position = [0.0, 1.0, 6.0]
target = [0.0, 0.0, 0.0]
fov = 45.0

[[assets]]
name = "crate"
source = "oxy::box"

[[assets]]
name = "ball"
source = "oxy::sphere"

[[objects]]
asset = "crate"

[[objects]]
asset = "ball"
position = [2.0, 0.0, 0.0]
`

const testConfig = `
width = 16
height = 12
workers = 2
fence_timeout = "2s"
`

func writeFixtures(t *testing.T) (scenePath, configPath string) {
	t.Helper()
	dir := t.TempDir()
	scenePath = filepath.Join(dir, "pair.toml")
	configPath = filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(scenePath, []byte(testScene), 0o644))
	require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))
	return scenePath, configPath
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"oxy-rt"}, args...))
	return out.String(), err
}

func TestBuildCommand(t *testing.T) {
	scenePath, configPath := writeFixtures(t)
	out, err := runApp(t, "--config", configPath, "build", "--frames", "2", scenePath)
	require.NoError(t, err)

	assert.Contains(t, out, "oxy::box")
	assert.Contains(t, out, "oxy::sphere")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "2 instances")
	assert.Contains(t, out, "Rebuilds")
}

func TestBenchCommand(t *testing.T) {
	scenePath, configPath := writeFixtures(t)
	out, err := runApp(t, "-c", configPath, "bench", "-n", "3", scenePath)
	require.NoError(t, err)
	assert.Contains(t, out, "P95")
	assert.Regexp(t, `\|\s+4\s+\|`, out, "the initial build is counted with the rebuilds")
}

func TestCommandErrors(t *testing.T) {
	_, configPath := writeFixtures(t)

	_, err := runApp(t, "--config", configPath, "build")
	assert.EqualError(t, err, "missing scene file argument")

	_, err = runApp(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "build", "scene.toml")
	assert.Error(t, err)

	_, err = runApp(t, "--config", configPath, "build", filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
