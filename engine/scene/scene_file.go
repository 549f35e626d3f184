package scene

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-rt/common"
	"github.com/Carmen-Shannon/oxy-rt/engine/camera"
	"github.com/Carmen-Shannon/oxy-rt/engine/game_object"
	"github.com/chewxy/math32"
	"github.com/pelletier/go-toml/v2"
)

// SceneFile is the TOML description of a scene: named assets, the objects placing them
// and the camera. Angles are in degrees.
type SceneFile struct {
	Name    string        `toml:"name"`
	Camera  CameraEntry   `toml:"camera"`
	Assets  []AssetEntry  `toml:"assets"`
	Objects []ObjectEntry `toml:"objects"`

	// dir resolves relative asset paths
	dir string
}

// AssetEntry names a mesh source: a file path relative to the scene file, or a shape tag.
type AssetEntry struct {
	Name   string `toml:"name"`
	Source string `toml:"source"`
}

// ObjectEntry places one asset.
type ObjectEntry struct {
	Asset         string       `toml:"asset"`
	Position      common.Vec3  `toml:"position"`
	Rotation      common.Vec3  `toml:"rotation"`
	Scale         *common.Vec3 `toml:"scale"`
	RotationSpeed common.Vec3  `toml:"rotation_speed"`
	Disabled      bool         `toml:"disabled"`
}

// CameraEntry describes the initial view.
type CameraEntry struct {
	Position common.Vec3 `toml:"position"`
	Target   common.Vec3 `toml:"target"`
	Fov      float32     `toml:"fov"`

	// Orbit attaches an orbit controller around Target.
	Orbit bool `toml:"orbit"`
}

// LoadSceneFile reads and parses a scene file.
//
// Parameters:
//   - path: the scene file path
//
// Returns:
//   - *SceneFile: the parsed description
//   - error: error if the file cannot be read or parsed
func LoadSceneFile(path string) (*SceneFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene %s: %w", path, err)
	}
	sf, err := ParseSceneFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sf.dir = filepath.Dir(path)
	return sf, nil
}

// ParseSceneFile decodes a scene description and checks that every object names a
// declared asset.
//
// Parameters:
//   - data: TOML document
//
// Returns:
//   - *SceneFile: the parsed description
//   - error: error if parsing or validation fails
func ParseSceneFile(data []byte) (*SceneFile, error) {
	sf := &SceneFile{}
	if err := toml.Unmarshal(data, sf); err != nil {
		return nil, fmt.Errorf("failed to parse scene: %w", err)
	}
	sf.Name = common.Coalesce(sf.Name, "scene")
	if sf.Camera.Fov == 0 {
		sf.Camera.Fov = 45
	}

	assets := make(map[string]struct{}, len(sf.Assets))
	for i, a := range sf.Assets {
		if a.Name == "" || a.Source == "" {
			return nil, fmt.Errorf("asset %d needs a name and a source", i)
		}
		if _, dup := assets[a.Name]; dup {
			return nil, fmt.Errorf("asset %q declared twice", a.Name)
		}
		assets[a.Name] = struct{}{}
	}
	for i, o := range sf.Objects {
		if _, ok := assets[o.Asset]; !ok {
			return nil, fmt.Errorf("object %d references unknown asset %q", i, o.Asset)
		}
	}
	return sf, nil
}

// Sources returns the resolved source of every asset in declaration order.
func (sf *SceneFile) Sources() []string {
	out := make([]string, len(sf.Assets))
	for i, a := range sf.Assets {
		out[i] = sf.resolve(a.Source)
	}
	return out
}

func (sf *SceneFile) resolve(source string) string {
	if IsShapeTag(source) || filepath.IsAbs(source) || sf.dir == "" {
		return source
	}
	return filepath.Join(sf.dir, source)
}

// Build loads every asset into registry and creates the scene with one object per entry.
//
// Parameters:
//   - registry: the registry to load assets into
//
// Returns:
//   - Scene: the populated scene
//   - error: error if an asset fails to load
func (sf *SceneFile) Build(registry SceneAssetRegistry) (Scene, error) {
	meshes := make(map[string]int, len(sf.Assets))
	for _, a := range sf.Assets {
		idx, err := registry.Load(sf.resolve(a.Source))
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", a.Name, err)
		}
		meshes[a.Name] = idx
	}

	s := NewScene(registry, WithName(sf.Name), WithCamera(sf.Camera.build()))
	for i, o := range sf.Objects {
		scale := common.Vec3{1, 1, 1}
		if o.Scale != nil {
			scale = *o.Scale
		}
		obj := game_object.NewGameObject(meshes[o.Asset],
			game_object.WithPosition(o.Position),
			game_object.WithRotation(radians(o.Rotation)),
			game_object.WithScale(scale),
			game_object.WithRotationSpeed(radians(o.RotationSpeed)),
			game_object.WithEnabled(!o.Disabled),
		)
		if _, err := s.Add(obj); err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
	}
	return s, nil
}

func (c CameraEntry) build() camera.Camera {
	fov := c.Fov * math32.Pi / 180
	if !c.Orbit {
		return camera.NewCamera(camera.WithFov(fov), camera.WithLookAt(c.Position, c.Target))
	}
	d := c.Position.Sub(c.Target)
	radius := d.Len()
	var elevation float32
	if radius > 0 {
		elevation = math32.Asin(d[1] / radius)
	}
	ctrl := camera.NewOrbitController(
		camera.WithTarget(c.Target),
		camera.WithRadius(radius),
		camera.WithAngles(math32.Atan2(d[0], d[2]), elevation),
	)
	return camera.NewCamera(camera.WithFov(fov), camera.WithController(ctrl))
}

func radians(deg common.Vec3) common.Vec3 {
	return deg.Scale(math32.Pi / 180)
}
