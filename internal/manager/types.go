// internal/manager/types.go - Building tile manager types
package manager

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valpere/building_tiles/internal/building"
	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/scene"
	"github.com/valpere/building_tiles/internal/tilecache"
	"github.com/valpere/building_tiles/internal/wfs"
)

// DefaultLayerName is the name of the scene layer holding the buildings
const DefaultLayerName = "buildings"

// Options contains the static loading parameters
type Options struct {
	MinZoomHeight      float64
	TileSize           float64
	MaxConcurrentLoads int
	CacheSize          int
	Debounce           time.Duration
	NeighborhoodRadius int
	LayerName          string
	Decoder            building.DecoderOptions
	Queries            wfs.QueryBuilder
}

// NewOptions builds manager options from configuration
func NewOptions(cfg *config.Config) Options {
	return Options{
		MinZoomHeight:      cfg.Tiles.MinZoomHeight,
		TileSize:           cfg.Tiles.TileSize,
		MaxConcurrentLoads: cfg.Tiles.MaxConcurrentLoads,
		CacheSize:          cfg.Tiles.CacheSize,
		Debounce:           cfg.Tiles.Debounce,
		NeighborhoodRadius: cfg.Tiles.NeighborhoodRadius,
		LayerName:          DefaultLayerName,
		Decoder:            building.NewDecoderOptions(cfg.Decode),
		Queries:            *wfs.NewQueryBuilder(cfg),
	}
}

// Dependencies are the collaborators of the manager. Notifier and Logger are optional.
type Dependencies struct {
	Source   wfs.FeatureSource
	Host     scene.Host
	Viewport scene.Viewport
	Notifier scene.Notifier
	Logger   logrus.FieldLogger
}

// State is the outcome of one reconciliation pass
type State string

const (
	// StateDisabled means the manager is disabled or closed and did nothing
	StateDisabled State = "disabled"
	// StateAllHidden means the camera was above the altitude gate
	StateAllHidden State = "all_hidden"
	// StateSettled means required tiles were attached or scheduled and the rest pruned
	StateSettled State = "settled"
)

// PassReport describes what one reconciliation pass did
type PassReport struct {
	ID        string        `json:"id"`
	State     State         `json:"state"`
	Camera    scene.Camera  `json:"camera"`
	Center    grid.TileID   `json:"center"`
	Required  []grid.TileID `json:"required,omitempty"`
	Cached    int           `json:"cached"`
	Attached  int           `json:"attached"`
	Detached  int           `json:"detached"`
	Started   []grid.TileID `json:"started,omitempty"`
	Skipped   []grid.TileID `json:"skipped,omitempty"`
	Coalesced []grid.TileID `json:"coalesced,omitempty"`
}

// Complete reports whether every required tile was served from the cache
func (r *PassReport) Complete() bool {
	return r.State != StateSettled || r.Cached == len(r.Required)
}

// Stats is a snapshot of the manager state and counters
type Stats struct {
	Enabled       bool            `json:"enabled"`
	Visible       int             `json:"visible"`
	Pending       int             `json:"pending"`
	InFlight      int64           `json:"in_flight"`
	Passes        uint64          `json:"passes"`
	Fetches       uint64          `json:"fetches"`
	FetchFailures uint64          `json:"fetch_failures"`
	Skipped       uint64          `json:"skipped"`
	Coalesced     uint64          `json:"coalesced"`
	Decode        building.Stats  `json:"decode"`
	Cache         tilecache.Stats `json:"cache"`
}
