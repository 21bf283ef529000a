// internal/output/types.go - Output handling types
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/valpere/building_tiles/internal/building"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/scene"
)

// Format represents different output formats supported by the application
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatJSON    Format = "json"
)

// Snapshot is the set of buildings visible for one camera position
type Snapshot struct {
	Camera   scene.Camera       `json:"camera"`
	Center   grid.TileID        `json:"center"`
	Required []grid.TileID      `json:"required"`
	Entities []*building.Entity `json:"-"`
	Metadata *Metadata          `json:"metadata,omitempty"`
}

// Metadata summarizes how a snapshot was produced
type Metadata struct {
	Passes        uint64         `json:"passes"`
	Fetches       uint64         `json:"fetches"`
	FetchFailures uint64         `json:"fetch_failures"`
	Skipped       uint64         `json:"skipped"`
	Decode        building.Stats `json:"decode"`
	CachedTiles   int            `json:"cached_tiles"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// ByTile groups the snapshot entities by tile id
func (s *Snapshot) ByTile() map[grid.TileID][]*building.Entity {
	groups := make(map[grid.TileID][]*building.Entity)
	for _, e := range s.Entities {
		groups[e.Tile] = append(groups[e.Tile], e)
	}
	return groups
}

// Writer defines the interface for writing snapshots to various destinations
type Writer interface {
	Write(snapshot *Snapshot) error
	Close() error
}

// Formatter defines the interface for formatting snapshots into different output formats
type Formatter interface {
	Format(snapshot *Snapshot) ([]byte, error)
	ContentType() string
}

// Destination represents an output destination (file, stdout, etc.)
type Destination interface {
	io.WriteCloser
	Name() string
	Size() int64
}

// WriterConfig contains configuration for creating writers
type WriterConfig struct {
	Format      Format
	Pretty      bool
	Compression bool
	Metadata    bool
}

// FormatterConfig contains configuration for creating formatters
type FormatterConfig struct {
	Format       Format
	Pretty       bool
	IncludeStats bool
}

// String returns a string representation of the format
func (f Format) String() string {
	return string(f)
}

// IsValid checks if the format is supported
func (f Format) IsValid() bool {
	switch f {
	case FormatGeoJSON, FormatJSON:
		return true
	default:
		return false
	}
}

// ParseFormat converts a configuration value into a Format
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid output format: %s", s)
	}
	return f, nil
}
