package output

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/valpere/building_tiles/internal/building"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/scene"
	"github.com/valpere/building_tiles/internal/wfs"
)

func square(x, y float64) orb.Ring {
	return orb.Ring{{x, y}, {x + 0.001, y}, {x + 0.001, y + 0.001}, {x, y + 0.001}, {x, y}}
}

func testSnapshot() *Snapshot {
	a := grid.TileID{X: 10, Y: 20}
	b := grid.TileID{X: 11, Y: 20}
	return &Snapshot{
		Camera:   scene.Camera{Lon: 0.31, Lat: 0.61, Height: 1200},
		Center:   a,
		Required: []grid.TileID{a, b},
		Entities: []*building.Entity{
			{ID: "b1", Tile: a, Footprint: square(0.30, 0.60), ExtrudedHeight: 10.5, Properties: geojson.Properties{"name": "Town hall", "A16": 10.5}},
			{ID: "b2", Tile: a, Footprint: square(0.31, 0.60), ExtrudedHeight: 6},
		},
		Metadata: &Metadata{
			Passes:      3,
			Fetches:     2,
			Decode:      building.Stats{Decoded: 2},
			GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("geojson")
	require.NoError(t, err)
	require.Equal(t, FormatGeoJSON, f)

	_, err = ParseFormat("mvt")
	require.Error(t, err)
}

func TestGeoJSONFormatter(t *testing.T) {
	data, err := NewGeoJSONFormatter(false, true).Format(testSnapshot())
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	require.Equal(t, "b1", first.ID)
	require.Equal(t, "Town hall", first.Properties.MustString("name"))
	require.InDelta(t, 10.5, first.Properties.MustFloat64("extruded_height"), 1e-9)
	require.Equal(t, "10_20", first.Properties.MustString("_tile"))

	meta, ok := fc.ExtraMembers["_metadata"].(map[string]interface{})
	require.True(t, ok, "metadata member present")
	require.Equal(t, "10_20", meta["center_tile"])
	require.Equal(t, float64(2), meta["total_features"])
	require.Equal(t, []interface{}{"10_20", "11_20"}, meta["required_tiles"])
}

func TestGeoJSONFormatterWithoutStats(t *testing.T) {
	data, err := NewGeoJSONFormatter(true, false).Format(testSnapshot())
	require.NoError(t, err)
	require.NotContains(t, string(data), "_metadata")
}

func TestJSONFormatter(t *testing.T) {
	data, err := NewJSONFormatter(false, true).Format(testSnapshot())
	require.NoError(t, err)

	var got struct {
		Center string `json:"center"`
		Tiles  []struct {
			Tile      string `json:"tile"`
			Count     int    `json:"count"`
			Buildings []struct {
				ID             string  `json:"id"`
				ExtrudedHeight float64 `json:"extruded_height"`
			} `json:"buildings"`
		} `json:"tiles"`
		Metadata *Metadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(data, &got))

	require.Equal(t, "10_20", got.Center)
	require.Len(t, got.Tiles, 2)
	require.Equal(t, 2, got.Tiles[0].Count)
	require.Equal(t, "b2", got.Tiles[0].Buildings[1].ID)
	require.Equal(t, "11_20", got.Tiles[1].Tile)
	require.Equal(t, 0, got.Tiles[1].Count)
	require.NotNil(t, got.Tiles[1].Buildings)
	require.NotNil(t, got.Metadata)
	require.Equal(t, uint64(3), got.Metadata.Passes)
}

func TestNewFormatter(t *testing.T) {
	f, err := NewFormatter(&FormatterConfig{Format: FormatJSON})
	require.NoError(t, err)
	require.Equal(t, "application/json", f.ContentType())

	_, err = NewFormatter(&FormatterConfig{Format: "xml"})
	require.Error(t, err)
}

func TestStreamWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewStreamWriter(&buf, &WriterConfig{Format: FormatGeoJSON})
	require.NoError(t, err)

	require.NoError(t, w.Write(testSnapshot()))
	require.NoError(t, w.Write(testSnapshot()))
	require.NoError(t, w.Close())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
}

func TestFileWriterCompression(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewFileWriterWithFs(fs, &WriterConfig{Format: FormatGeoJSON, Compression: true}, "/out/view.geojson")
	require.NoError(t, err)
	require.Equal(t, "/out/view.geojson.gz", w.Name())

	require.NoError(t, w.Write(testSnapshot()))
	require.NoError(t, w.Close())

	f, err := fs.Open("/out/view.geojson.gz")
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(bytes.TrimSpace(data))
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
}

func TestMultiFileWriter(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewMultiFileWriterWithFs(fs, &WriterConfig{Format: FormatJSON}, "/tiles")
	require.NoError(t, err)

	require.NoError(t, w.Write(testSnapshot()))
	require.NoError(t, w.Close())
	require.Equal(t, 2, w.Written())

	names, err := afero.Glob(fs, "/tiles/*.geojson")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"/tiles/10_20.geojson", "/tiles/11_20.geojson"}, names); diff != "" {
		t.Errorf("tile files mismatch (-want +got):\n%s", diff)
	}

	data, err := afero.ReadFile(fs, "/tiles/11_20.geojson")
	require.NoError(t, err)
	features, malformed, err := wfs.ParseFeatureCollection(data)
	require.NoError(t, err)
	require.Zero(t, malformed)
	require.Empty(t, features)
}

func TestMultiFileWriterRoundTripsThroughDecoder(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewMultiFileWriterWithFs(fs, &WriterConfig{Format: FormatGeoJSON}, "/tiles")
	require.NoError(t, err)
	require.NoError(t, w.Write(testSnapshot()))

	data, err := afero.ReadFile(fs, "/tiles/10_20.geojson")
	require.NoError(t, err)
	features, _, err := wfs.ParseFeatureCollection(data)
	require.NoError(t, err)

	entities, stats := building.NewDecoder().DecodeAll(grid.TileID{X: 10, Y: 20}, features)
	require.Equal(t, 2, stats.Decoded)
	require.Equal(t, "10_20/b1", entities[0].Key())
	require.InDelta(t, 10.5, entities[0].ExtrudedHeight, 1e-9)
}
