// cmd/locate.go - Tile lookup command
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/wfs"
)

// locateCmd represents the locate command
var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show the tile, neighbourhood and request URL for a position",
	Long: `Show which grid tile contains a position, the tiles required around it and
the WFS GetFeature request issued for the centre tile. Nothing is fetched.

Examples:
  building-tiles locate --base-url "https://geo.example.com" --lon 77.0 --lat 21.675
  building-tiles locate --base-url "https://geo.example.com" --lon 77.0 --lat 21.675 --json`,
	RunE: runLocate,
}

func init() {
	rootCmd.AddCommand(locateCmd)

	locateCmd.Flags().Float64("lon", 0, "longitude in degrees")
	locateCmd.Flags().Float64("lat", 0, "latitude in degrees")
	locateCmd.Flags().Bool("json", false, "print the result as JSON")

	_ = locateCmd.MarkFlagRequired("lon")
	_ = locateCmd.MarkFlagRequired("lat")
}

type locateResult struct {
	Tile         string   `json:"tile"`
	Bounds       string   `json:"bbox"`
	Neighborhood []string `json:"neighborhood"`
	URL          string   `json:"url"`
}

func runLocate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}

	lon, _ := cmd.Flags().GetFloat64("lon")
	lat, _ := cmd.Flags().GetFloat64("lat")
	asJSON, _ := cmd.Flags().GetBool("json")

	indexer := grid.NewIndexer(cfg.Tiles.TileSize)
	id := indexer.TileIDFor(lon, lat)
	query := wfs.NewQueryBuilder(cfg).Build(id, indexer.BoundsFor(id))

	result := locateResult{
		Tile:   id.String(),
		Bounds: query.BBox(),
		URL:    query.URL(),
	}
	for _, n := range grid.Neighborhood(id, cfg.Tiles.NeighborhoodRadius) {
		result.Neighborhood = append(result.Neighborhood, n.String())
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Tile:         %s\n", result.Tile)
	fmt.Printf("BBox:         %s\n", result.Bounds)
	fmt.Printf("Neighborhood: %v\n", result.Neighborhood)
	fmt.Printf("URL:          %s\n", result.URL)
	return nil
}
