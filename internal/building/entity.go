// internal/building/entity.go - Renderable building entity types
package building

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/valpere/building_tiles/internal/grid"
)

// Entity is one extruded building footprint ready to be attached to a scene
type Entity struct {
	ID             string             `json:"id"`
	Tile           grid.TileID        `json:"tile"`
	Footprint      orb.Ring           `json:"footprint"`
	ExtrudedHeight float64            `json:"extruded_height"`
	Properties     geojson.Properties `json:"properties,omitempty"`
}

// Key identifies the entity within a scene. A building returned for two
// tiles yields two entities with distinct keys.
func (e *Entity) Key() string {
	return e.Tile.String() + "/" + e.ID
}

// Feature converts the entity back into a GeoJSON feature for output
func (e *Entity) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{e.Footprint})
	if e.ID != "" {
		f.ID = e.ID
	}
	for k, v := range e.Properties {
		f.Properties[k] = v
	}
	f.Properties["extruded_height"] = e.ExtrudedHeight
	f.Properties["_tile"] = e.Tile.String()
	return f
}

// Bound returns the bounding box of the footprint
func (e *Entity) Bound() orb.Bound {
	return e.Footprint.Bound()
}

// String returns a short description used in logs
func (e *Entity) String() string {
	return fmt.Sprintf("building %s (tile %s, %d vertices, %.1fm)", e.ID, e.Tile, len(e.Footprint), e.ExtrudedHeight)
}

// Reason explains why a feature produced no entity
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonMissingGeometry      Reason = "missing_geometry"
	ReasonUnsupportedGeometry  Reason = "unsupported_geometry"
	ReasonMalformedCoordinates Reason = "malformed_coordinates"
	ReasonMalformedFeature     Reason = "malformed_feature"
)

// Result is the outcome of decoding one feature: either Entity is set
// (decoded) or Reason is set (rejected)
type Result struct {
	Entity *Entity
	Reason Reason
}

// Decoded wraps a successfully decoded entity
func Decoded(e *Entity) Result {
	return Result{Entity: e}
}

// Rejected wraps a rejection reason
func Rejected(reason Reason) Result {
	return Result{Reason: reason}
}

// OK reports whether the feature produced an entity
func (r Result) OK() bool {
	return r.Entity != nil
}

// Stats counts decoded and rejected features of one batch
type Stats struct {
	Decoded  int            `json:"decoded"`
	Rejected map[Reason]int `json:"rejected,omitempty"`
}

// RejectedTotal returns the number of rejected features
func (s Stats) RejectedTotal() int {
	total := 0
	for _, n := range s.Rejected {
		total += n
	}
	return total
}

func (s *Stats) add(r Result) {
	if r.OK() {
		s.Decoded++
		return
	}
	if s.Rejected == nil {
		s.Rejected = make(map[Reason]int)
	}
	s.Rejected[r.Reason]++
}

// Merge adds the counts of other into s
func (s *Stats) Merge(other Stats) {
	s.Decoded += other.Decoded
	for reason, n := range other.Rejected {
		if s.Rejected == nil {
			s.Rejected = make(map[Reason]int)
		}
		s.Rejected[reason] += n
	}
}
