package wfs

import (
	"net/url"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/grid"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.BaseURL = baseURL
	return cfg
}

func TestQueryBuilder(t *testing.T) {
	builder := NewQueryBuilder(testConfig("http://geo.example.com:18080/"))
	bounds := orb.Bound{Min: orb.Point{76.98, 21.66}, Max: orb.Point{77.01, 21.69}}

	q := builder.Build(grid.TileID{X: 2566, Y: 722}, bounds)

	require.Equal(t, "http://geo.example.com:18080/geoserver/aetem/ows", q.Endpoint)
	require.Equal(t, "76.98,21.66,77.01,21.69,EPSG:4326", q.BBox())

	values := q.Values()
	expected := map[string]string{
		"service":      "WFS",
		"version":      "2.0.0",
		"request":      "GetFeature",
		"typeNames":    "aetem:testAetem",
		"srsName":      "EPSG:4326",
		"outputFormat": "application/json",
		"count":        "2000",
		"bbox":         "76.98,21.66,77.01,21.69,EPSG:4326",
	}
	require.Len(t, values, len(expected))
	for key, want := range expected {
		require.Equal(t, want, values.Get(key), key)
	}
}

func TestQueryURL(t *testing.T) {
	builder := NewQueryBuilder(testConfig("http://geo.example.com:18080"))
	q := builder.Build(grid.TileID{X: 1, Y: 2}, orb.Bound{Min: orb.Point{0.03, 0.06}, Max: orb.Point{0.06, 0.09}})

	parsed, err := url.Parse(q.URL())
	require.NoError(t, err)
	require.Equal(t, "/geoserver/aetem/ows", parsed.Path)
	require.Equal(t, "0.03,0.06,0.06,0.09,EPSG:4326", parsed.Query().Get("bbox"))
}

func TestQueryIsPure(t *testing.T) {
	builder := NewQueryBuilder(testConfig("http://geo.example.com"))
	bounds := orb.Bound{Min: orb.Point{127, 35}, Max: orb.Point{127.03, 35.03}}

	a := builder.Build(grid.TileID{X: 4233, Y: 1166}, bounds)
	b := builder.Build(grid.TileID{X: 4233, Y: 1166}, bounds)

	require.Equal(t, a.URL(), b.URL())
	require.Equal(t, a.Key(), b.Key())
	require.NotSame(t, a, b)
}

func TestQueryKey(t *testing.T) {
	builder := NewQueryBuilder(testConfig("http://geo.example.com"))
	a := builder.Build(grid.TileID{X: 1, Y: 1}, orb.Bound{Min: orb.Point{0.03, 0.03}, Max: orb.Point{0.06, 0.06}})
	b := builder.Build(grid.TileID{X: 1, Y: 2}, orb.Bound{Min: orb.Point{0.03, 0.06}, Max: orb.Point{0.06, 0.09}})

	require.NotEqual(t, a.Key(), b.Key())
	require.True(t, strings.HasPrefix(a.Key(), "aetem:testAetem|1_1|"))
}
