// internal/scene/scene.go - Rendering engine, viewport and notification collaborators
package scene

import (
	"fmt"

	"github.com/valpere/building_tiles/internal/building"
)

// Camera is the viewport state the loader needs: the geographic point under
// the camera and its height above the ellipsoid in meters
type Camera struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Height float64 `json:"height"`
}

func (c Camera) String() string {
	return fmt.Sprintf("(%.6f, %.6f) @ %.0fm", c.Lon, c.Lat, c.Height)
}

// Viewport reports the current camera
type Viewport interface {
	Camera() Camera
}

// Layer is a named collection of rendered buildings
type Layer interface {
	Name() string
	Attach(entity *building.Entity)
	Detach(entity *building.Entity)
	DetachAll()
}

// Host creates and removes layers in the rendering engine
type Host interface {
	AddLayer(name string) (Layer, error)
	RemoveLayer(layer Layer)
}

// Level is the severity of a user notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows short messages to the user
type Notifier interface {
	Notify(message string, level Level)
}
