// internal/wfs/query.go - WFS GetFeature request descriptors
package wfs

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/grid"
)

// Query describes one GetFeature request for the buildings of a tile
type Query struct {
	Tile         grid.TileID       `json:"tile"`
	Bounds       orb.Bound         `json:"bounds"`
	Endpoint     string            `json:"endpoint"`
	TypeName     string            `json:"type_name"`
	SRSName      string            `json:"srs_name"`
	OutputFormat string            `json:"output_format"`
	Version      string            `json:"version"`
	Count        int               `json:"count"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// QueryBuilder creates queries for tile bounds
type QueryBuilder struct {
	Endpoint     string
	TypeName     string
	SRSName      string
	OutputFormat string
	Version      string
	Count        int
}

// NewQueryBuilder creates a query builder from configuration
func NewQueryBuilder(cfg *config.Config) *QueryBuilder {
	return &QueryBuilder{
		Endpoint:     cfg.WFSEndpoint(),
		TypeName:     cfg.TypeName(),
		SRSName:      cfg.Server.SRSName,
		OutputFormat: cfg.Server.OutputFormat,
		Version:      cfg.Server.Version,
		Count:        cfg.Server.MaxFeatures,
	}
}

// Build creates the query for a tile and its bounds. It performs no I/O.
func (b *QueryBuilder) Build(tile grid.TileID, bounds orb.Bound) *Query {
	return &Query{
		Tile:         tile,
		Bounds:       bounds,
		Endpoint:     b.Endpoint,
		TypeName:     b.TypeName,
		SRSName:      b.SRSName,
		OutputFormat: b.OutputFormat,
		Version:      b.Version,
		Count:        b.Count,
		Headers:      make(map[string]string),
	}
}

// BBox renders the bounds as minLon,minLat,maxLon,maxLat,CRS
func (q *Query) BBox() string {
	return fmt.Sprintf("%s,%s,%s,%s,%s",
		formatCoord(q.Bounds.Min.Lon()),
		formatCoord(q.Bounds.Min.Lat()),
		formatCoord(q.Bounds.Max.Lon()),
		formatCoord(q.Bounds.Max.Lat()),
		q.SRSName,
	)
}

// Values returns the GetFeature query parameters
func (q *Query) Values() url.Values {
	v := url.Values{}
	v.Set("service", "WFS")
	v.Set("version", q.Version)
	v.Set("request", "GetFeature")
	v.Set("typeNames", q.TypeName)
	v.Set("srsName", q.SRSName)
	v.Set("outputFormat", q.OutputFormat)
	v.Set("count", strconv.Itoa(q.Count))
	v.Set("bbox", q.BBox())
	return v
}

// URL returns the full request URL
func (q *Query) URL() string {
	return q.Endpoint + "?" + q.Values().Encode()
}

// Key returns a stable identifier of the request, used by response stores
func (q *Query) Key() string {
	return q.TypeName + "|" + q.Tile.String() + "|" + q.BBox() + "|" + strconv.Itoa(q.Count)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
