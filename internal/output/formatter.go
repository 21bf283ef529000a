// internal/output/formatter.go - Output formatting implementation
package output

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/valpere/building_tiles/internal/building"
)

// GeoJSONFormatter formats snapshots as a GeoJSON FeatureCollection
type GeoJSONFormatter struct {
	pretty       bool
	includeStats bool
}

// NewGeoJSONFormatter creates a new GeoJSON formatter
func NewGeoJSONFormatter(pretty, includeStats bool) *GeoJSONFormatter {
	return &GeoJSONFormatter{
		pretty:       pretty,
		includeStats: includeStats,
	}
}

// Format formats the visible buildings as one FeatureCollection. Each
// feature carries its extruded height and tile id as properties.
func (f *GeoJSONFormatter) Format(snapshot *Snapshot) ([]byte, error) {
	collection := geojson.NewFeatureCollection()
	for _, e := range snapshot.Entities {
		collection.Append(e.Feature())
	}

	if f.includeStats && snapshot.Metadata != nil {
		required := make([]string, 0, len(snapshot.Required))
		for _, id := range snapshot.Required {
			required = append(required, id.String())
		}
		collection.ExtraMembers = geojson.Properties{
			"_metadata": map[string]interface{}{
				"camera":         snapshot.Camera,
				"center_tile":    snapshot.Center.String(),
				"required_tiles": required,
				"total_features": len(snapshot.Entities),
				"passes":         snapshot.Metadata.Passes,
				"fetches":        snapshot.Metadata.Fetches,
				"fetch_failures": snapshot.Metadata.FetchFailures,
				"decode":         snapshot.Metadata.Decode,
				"generated_at":   snapshot.Metadata.GeneratedAt.UTC(),
			},
		}
	}

	if f.pretty {
		return json.MarshalIndent(collection, "", "  ")
	}
	return json.Marshal(collection)
}

// ContentType returns the MIME type for GeoJSON
func (f *GeoJSONFormatter) ContentType() string {
	return "application/geo+json"
}

// JSONFormatter formats snapshots as structured JSON objects
type JSONFormatter struct {
	pretty       bool
	includeStats bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(pretty, includeStats bool) *JSONFormatter {
	return &JSONFormatter{
		pretty:       pretty,
		includeStats: includeStats,
	}
}

// Format formats the snapshot as an object with the buildings grouped by tile
func (f *JSONFormatter) Format(snapshot *Snapshot) ([]byte, error) {
	groups := snapshot.ByTile()

	tiles := make([]interface{}, 0, len(snapshot.Required))
	for _, id := range snapshot.Required {
		entities := groups[id]
		if entities == nil {
			entities = []*building.Entity{}
		}
		tiles = append(tiles, map[string]interface{}{
			"tile":      id.String(),
			"count":     len(entities),
			"buildings": entities,
		})
	}

	output := map[string]interface{}{
		"camera": snapshot.Camera,
		"center": snapshot.Center.String(),
		"tiles":  tiles,
	}

	if f.includeStats && snapshot.Metadata != nil {
		output["metadata"] = snapshot.Metadata
	}

	if f.pretty {
		return json.MarshalIndent(output, "", "  ")
	}
	return json.Marshal(output)
}

// ContentType returns the MIME type for JSON
func (f *JSONFormatter) ContentType() string {
	return "application/json"
}

// NewFormatter creates a formatter based on the specified configuration
func NewFormatter(config *FormatterConfig) (Formatter, error) {
	switch config.Format {
	case FormatGeoJSON:
		return NewGeoJSONFormatter(config.Pretty, config.IncludeStats), nil
	case FormatJSON:
		return NewJSONFormatter(config.Pretty, config.IncludeStats), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", config.Format)
	}
}
