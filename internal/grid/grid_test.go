package grid

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestTileIDFor(t *testing.T) {
	ix := NewIndexer(0.03)

	tests := []struct {
		name     string
		lon, lat float64
		want     TileID
	}{
		{"jeonbuk center", 77.0, 21.675, TileID{2566, 722}},
		{"origin", 0, 0, TileID{0, 0}},
		{"negative", -0.01, -0.01, TileID{-1, -1}},
		{"gumi", 128.35, 36.13, TileID{4278, 1204}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.TileIDFor(tt.lon, tt.lat)
			if got != tt.want {
				t.Errorf("TileIDFor(%v, %v) = %v, want %v", tt.lon, tt.lat, got, tt.want)
			}
		})
	}
}

func TestTileIDForCellEdges(t *testing.T) {
	ix := NewIndexer(0.25)
	require.Equal(t, TileID{4, 1}, ix.TileIDFor(1.0, 0.25))
	require.Equal(t, TileID{3, 0}, ix.TileIDFor(0.9999, 0.2499))
	require.Equal(t, TileID{-4, -1}, ix.TileIDFor(-1.0, -0.25))
	require.Equal(t, TileID{-5, -2}, ix.TileIDFor(-1.0001, -0.2501))
}

func TestBoundsFor(t *testing.T) {
	ix := NewIndexer(0.5)
	b := ix.BoundsFor(TileID{X: 2, Y: -1})
	want := orb.Bound{Min: orb.Point{1.0, -0.5}, Max: orb.Point{1.5, 0}}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("BoundsFor() mismatch (-want +got):\n%s", diff)
	}
}

func TestTileIDInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, size := range []float64{0.03, 0.05, 0.1, 1.0 / 3.0} {
		ix := NewIndexer(size)
		for i := 0; i < 20000; i++ {
			lon := rng.Float64()*360 - 180
			lat := rng.Float64()*180 - 90
			id := ix.TileIDFor(lon, lat)
			b := ix.BoundsFor(id)
			p := orb.Point{lon, lat}
			require.Truef(t, b.Contains(p), "size %v: bounds %v of %v do not contain %v", size, b, id, p)
			// half-open: the max edge belongs to the neighbouring tile
			require.Less(t, lon, b.Max.Lon())
			require.Less(t, lat, b.Max.Lat())
		}
	}
}

func TestTileIDInverseOnGridLines(t *testing.T) {
	ix := NewIndexer(0.03)
	for x := -200; x <= 200; x++ {
		id := TileID{X: x, Y: x}
		b := ix.BoundsFor(id)
		require.Equal(t, id, ix.TileIDForPoint(b.Min), "min corner of %v", id)
		require.Equal(t, TileID{X: x + 1, Y: x + 1}, ix.TileIDForPoint(b.Max), "max corner of %v", id)
	}
}

func TestNeighborhood(t *testing.T) {
	got := Neighborhood(TileID{2566, 722}, 1)
	want := []TileID{
		{2565, 721}, {2565, 722}, {2565, 723},
		{2566, 721}, {2566, 722}, {2566, 723},
		{2567, 721}, {2567, 722}, {2567, 723},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Neighborhood() mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, []TileID{{5, 5}}, Neighborhood(TileID{5, 5}, 0))
	require.Len(t, Neighborhood(TileID{}, 2), 25)
	require.Len(t, Neighborhood(TileID{}, -1), 1)
}

func TestCover(t *testing.T) {
	ix := NewIndexer(1)
	got := ix.Cover(orb.Bound{Min: orb.Point{0.5, 0.5}, Max: orb.Point{2.5, 1.5}})
	want := []TileID{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Cover() mismatch (-want +got):\n%s", diff)
	}
}

func TestTileIDString(t *testing.T) {
	tests := []TileID{{2566, 722}, {-3, -4}, {0, 0}, {-1, 7}}
	for _, id := range tests {
		parsed, err := ParseTileID(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}

	for _, bad := range []string{"", "12", "a_b", "1_", "_1"} {
		_, err := ParseTileID(bad)
		require.Error(t, err, bad)
	}
}

func TestSet(t *testing.T) {
	s := NewSet(TileID{1, 1}, TileID{2, 2})
	require.True(t, s.Has(TileID{1, 1}))
	require.False(t, s.Has(TileID{3, 3}))
	require.Equal(t, []TileID{{1, 1}, {2, 2}}, NewSet(TileID{2, 2}, TileID{1, 1}, TileID{2, 2}).IDs())
}
