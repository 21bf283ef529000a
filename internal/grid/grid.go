// internal/grid/grid.go - Fixed-size geographic tile grid
package grid

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// TileID identifies one cell of the geographic grid
type TileID struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns the "x_y" form used in logs and cache keys
func (id TileID) String() string {
	return fmt.Sprintf("%d_%d", id.X, id.Y)
}

// ParseTileID parses the "x_y" form produced by String
func ParseTileID(s string) (TileID, error) {
	idx := strings.Index(s, "_")
	if idx < 0 {
		return TileID{}, fmt.Errorf("invalid tile id %q: missing separator", s)
	}

	x, err := strconv.Atoi(s[:idx])
	if err != nil {
		return TileID{}, fmt.Errorf("invalid tile id %q: %w", s, err)
	}
	y, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return TileID{}, fmt.Errorf("invalid tile id %q: %w", s, err)
	}
	return TileID{X: x, Y: y}, nil
}

// Indexer maps geographic points to tiles of edge length TileSize degrees
type Indexer struct {
	tileSize float64
}

// NewIndexer creates an indexer for the given tile edge length in degrees
func NewIndexer(tileSize float64) *Indexer {
	return &Indexer{tileSize: tileSize}
}

// TileSize returns the tile edge length in degrees
func (ix *Indexer) TileSize() float64 {
	return ix.tileSize
}

// TileIDFor returns the tile whose half-open cell contains (lon, lat)
func (ix *Indexer) TileIDFor(lon, lat float64) TileID {
	return TileID{
		X: ix.cell(lon),
		Y: ix.cell(lat),
	}
}

// TileIDForPoint is TileIDFor for an orb.Point
func (ix *Indexer) TileIDForPoint(p orb.Point) TileID {
	return ix.TileIDFor(p.Lon(), p.Lat())
}

// cell quantizes one coordinate. The floor of the quotient can land one cell
// off when v sits next to a cell edge, so the result is checked against the
// same products BoundsFor uses.
func (ix *Indexer) cell(v float64) int {
	c := int(math.Floor(v / ix.tileSize))
	if float64(c)*ix.tileSize > v {
		c--
	} else if float64(c+1)*ix.tileSize <= v {
		c++
	}
	return c
}

// BoundsFor returns the rectangle covered by a tile
func (ix *Indexer) BoundsFor(id TileID) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(id.X) * ix.tileSize, float64(id.Y) * ix.tileSize},
		Max: orb.Point{float64(id.X+1) * ix.tileSize, float64(id.Y+1) * ix.tileSize},
	}
}

// Cover returns every tile intersecting the bound, row by row from the
// south-west corner
func (ix *Indexer) Cover(b orb.Bound) []TileID {
	lo := ix.TileIDForPoint(b.Min)
	hi := ix.TileIDForPoint(b.Max)

	ids := make([]TileID, 0, (hi.X-lo.X+1)*(hi.Y-lo.Y+1))
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			ids = append(ids, TileID{X: x, Y: y})
		}
	}
	return ids
}

// Neighborhood returns the (2r+1)x(2r+1) block of tiles centred on center
func Neighborhood(center TileID, radius int) []TileID {
	if radius < 0 {
		radius = 0
	}
	side := 2*radius + 1
	ids := make([]TileID, 0, side*side)
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			ids = append(ids, TileID{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return ids
}

// Set is a set of tile ids
type Set map[TileID]struct{}

// NewSet creates a set holding ids
func NewSet(ids ...TileID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set
func (s Set) Has(id TileID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members ordered by x, then y
func (s Set) IDs() []TileID {
	ids := make([]TileID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].X != ids[j].X {
			return ids[i].X < ids[j].X
		}
		return ids[i].Y < ids[j].Y
	})
	return ids
}
