// internal/building/decoder.go - GeoJSON feature to building entity decoding
package building

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
	"github.com/spf13/cast"

	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/grid"
)

// Property keys carrying height information, matched case-insensitively
var (
	HeightKeys = []string{"A16"}
	FloorKeys  = []string{"A26", "GRO_FLO_CO"}
)

// DecoderOptions configures height inference and footprint simplification
type DecoderOptions struct {
	FloorHeight       float64
	DefaultHeight     float64
	MaxHeight         float64
	SimplifyTolerance float64
}

// NewDecoderOptions builds decoder options from the decode configuration
func NewDecoderOptions(cfg config.DecodeConfig) DecoderOptions {
	return DecoderOptions{
		FloorHeight:       cfg.FloorHeight,
		DefaultHeight:     cfg.DefaultHeight,
		MaxHeight:         cfg.MaxHeight,
		SimplifyTolerance: cfg.SimplifyTolerance,
	}
}

// Decoder turns raw GeoJSON features into building entities
type Decoder struct {
	options DecoderOptions
}

// NewDecoder creates a decoder with the default height policy
func NewDecoder() *Decoder {
	return NewDecoderWithOptions(NewDecoderOptions(config.Default().Decode))
}

// NewDecoderWithOptions creates a decoder with custom options
func NewDecoderWithOptions(options DecoderOptions) *Decoder {
	return &Decoder{options: options}
}

// Decode converts a single feature. It never panics; structural problems
// are reported as a rejected result.
func (d *Decoder) Decode(feature *geojson.Feature) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Rejected(ReasonMalformedFeature)
		}
	}()

	if feature == nil {
		return Rejected(ReasonMalformedFeature)
	}
	if feature.Geometry == nil {
		return Rejected(ReasonMissingGeometry)
	}

	var ring orb.Ring
	switch g := feature.Geometry.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return Rejected(ReasonMalformedCoordinates)
		}
		ring = g[0]
	case orb.MultiPolygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return Rejected(ReasonMalformedCoordinates)
		}
		ring = g[0][0]
	default:
		return Rejected(ReasonUnsupportedGeometry)
	}

	if !validRing(ring) {
		return Rejected(ReasonMalformedCoordinates)
	}

	return Decoded(&Entity{
		ID:             featureID(feature),
		Footprint:      d.simplify(ring),
		ExtrudedHeight: d.Height(feature.Properties),
		Properties:     feature.Properties,
	})
}

// DecodeAll decodes a batch of features for one tile, dropping rejected ones
func (d *Decoder) DecodeAll(tile grid.TileID, features []*geojson.Feature) ([]*Entity, Stats) {
	entities := make([]*Entity, 0, len(features))
	var stats Stats

	for i, feature := range features {
		result := d.Decode(feature)
		stats.add(result)
		if !result.OK() {
			continue
		}
		result.Entity.Tile = tile
		if result.Entity.ID == "" {
			result.Entity.ID = fmt.Sprintf("%d", i)
		}
		entities = append(entities, result.Entity)
	}

	return entities, stats
}

// Height applies the inference policy: explicit height, then floor count
// times the floor height, then the default; the result is clamped to the
// maximum height.
func (d *Decoder) Height(props geojson.Properties) float64 {
	height, ok := lookupPositive(props, HeightKeys)
	if !ok {
		if floors, found := lookupPositive(props, FloorKeys); found {
			height, ok = floors*d.options.FloorHeight, true
		}
	}
	if !ok || height <= 0 || math.IsInf(height, 0) {
		height = d.options.DefaultHeight
	}
	return math.Min(height, d.options.MaxHeight)
}

// simplify reduces the ring with Douglas-Peucker when a tolerance is set,
// keeping the original if the result degenerates
func (d *Decoder) simplify(ring orb.Ring) orb.Ring {
	if d.options.SimplifyTolerance <= 0 {
		return ring
	}
	simplified, ok := simplify.DouglasPeucker(d.options.SimplifyTolerance).Simplify(ring.Clone()).(orb.Ring)
	if !ok || len(simplified) < 4 {
		return ring
	}
	return simplified
}

// lookupPositive returns the first finite positive value among keys
func lookupPositive(props geojson.Properties, keys []string) (float64, bool) {
	for _, key := range keys {
		value, found := lookupFold(props, key)
		if !found || value == nil {
			continue
		}
		number, err := cast.ToFloat64E(normalizeNumber(value))
		if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
			continue
		}
		if number > 0 {
			return number, true
		}
	}
	return 0, false
}

// lookupFold finds a property by case-insensitive key, preferring an exact match
func lookupFold(props geojson.Properties, key string) (interface{}, bool) {
	if v, ok := props[key]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func normalizeNumber(value interface{}) interface{} {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return value
}

func validRing(ring orb.Ring) bool {
	if len(ring) < 3 {
		return false
	}
	for _, p := range ring {
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func featureID(feature *geojson.Feature) string {
	if feature.ID == nil {
		return ""
	}
	return fmt.Sprint(feature.ID)
}
