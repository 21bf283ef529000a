// cmd/root.go - Root command implementation
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "building-tiles",
	Short: "Load 3D building footprints tile by tile around a camera",
	Long: `BuildingTiles loads building footprints from a WFS feature service (or a
directory of GeoJSON tiles) on a fixed geographic grid. For a camera position
it works out the 3x3 block of tiles around the camera, fetches the missing ones
with a bounded number of concurrent requests and extrudes every footprint to a
height inferred from its attributes.

Data Sources:
- GeoServer WFS GetFeature over HTTP/HTTPS
- Local {x}_{y}.geojson tile files
- Optional Redis store shared between runs

Examples:
  # Show the tiles and request URL for a position
  building-tiles locate --base-url "https://geo.example.com" --lon 77.0 --lat 21.675

  # Load the buildings visible from a camera and write them as GeoJSON
  building-tiles view --base-url "https://geo.example.com" --lon 77.0 --lat 21.675 --height 800 --output view.geojson

  # Export the visible tiles as a local tile directory
  building-tiles view --lon 77.0 --lat 21.675 --height 800 --output ./tiles --multi-file

  # Warm the Redis store for an area
  building-tiles prefetch --redis-addr localhost:6379 --bbox "76.9,21.6,77.1,21.8"

  # Use configuration file
  building-tiles view --config config.yaml --lon 77.0 --lat 21.675 --height 800`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.building-tiles.yaml)")

	// Source configuration flags
	rootCmd.PersistentFlags().String("source-type", "auto", "data source type (auto, http, local)")
	rootCmd.PersistentFlags().String("base-url", "", "base URL of the GeoServer (HTTP source)")
	rootCmd.PersistentFlags().String("workspace", "aetem", "GeoServer workspace")
	rootCmd.PersistentFlags().String("layer", "testAetem", "GeoServer building layer")
	rootCmd.PersistentFlags().String("base-path", "", "directory of GeoJSON tiles (local source)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (HTTP source)")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address of the shared response store")

	// Output flags
	rootCmd.PersistentFlags().StringP("format", "f", "geojson", "output format (geojson, json)")
	rootCmd.PersistentFlags().Bool("pretty", true, "pretty print JSON output")
	rootCmd.PersistentFlags().Bool("compression", false, "compress output files")

	// Processing flags
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().Float64("tile-size", 0.03, "grid tile size in degrees")
	rootCmd.PersistentFlags().Int("max-concurrent-loads", 2, "maximum number of tile requests in flight")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout (HTTP source)")
	rootCmd.PersistentFlags().Int("retries", 0, "number of retry attempts")

	// Bind flags to viper
	bind := map[string]string{
		"source.type":                "source-type",
		"server.base_url":            "base-url",
		"server.workspace":           "workspace",
		"server.layer":               "layer",
		"local.base_path":            "base-path",
		"server.api_key":             "api-key",
		"store.redis_addr":           "redis-addr",
		"output.format":              "format",
		"output.pretty":              "pretty",
		"output.compression":         "compression",
		"logging.verbose":            "verbose",
		"logging.level":              "log-level",
		"logging.format":             "log-format",
		"tiles.tile_size":            "tile-size",
		"tiles.max_concurrent_loads": "max-concurrent-loads",
		"server.timeout":             "timeout",
		"server.max_retries":         "retries",
	}
	for key, flag := range bind {
		cobra.CheckErr(viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)))
	}
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	_ = godotenv.Load(".env")

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".building-tiles" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".building-tiles")
	}

	// Environment variables, e.g. BUILDING_TILES_SERVER_BASE_URL
	viper.SetEnvPrefix("BUILDING_TILES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("logging.verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadRuntime loads and validates the configuration and builds the logger
func loadRuntime() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logging.New(cfg.Logging), nil
}
