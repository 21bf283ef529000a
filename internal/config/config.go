// internal/config/config.go - Configuration management
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valpere/building_tiles/internal"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Local   LocalConfig   `mapstructure:"local"`
	Source  SourceConfig  `mapstructure:"source"`
	Tiles   TilesConfig   `mapstructure:"tiles"`
	Decode  DecodeConfig  `mapstructure:"decode"`
	Store   StoreConfig   `mapstructure:"store"`
	Output  OutputConfig  `mapstructure:"output"`
	Network NetworkConfig `mapstructure:"network"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig contains the WFS endpoint configuration for HTTP sources
type ServerConfig struct {
	BaseURL      string            `mapstructure:"base_url"`
	Workspace    string            `mapstructure:"workspace"`
	Layer        string            `mapstructure:"layer"`
	SRSName      string            `mapstructure:"srs_name"`
	OutputFormat string            `mapstructure:"output_format"`
	Version      string            `mapstructure:"version"`
	MaxFeatures  int               `mapstructure:"max_features"`
	APIKey       string            `mapstructure:"api_key"`
	Headers      map[string]string `mapstructure:"headers"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxRetries   int               `mapstructure:"max_retries"`
}

// LocalConfig contains configuration for GeoJSON tiles stored on disk
type LocalConfig struct {
	BasePath     string `mapstructure:"base_path"`
	PathTemplate string `mapstructure:"path_template"`
	Compressed   bool   `mapstructure:"compressed"`
}

// SourceConfig determines the data source type and behavior
type SourceConfig struct {
	Type        string `mapstructure:"type"`
	DefaultType string `mapstructure:"default_type"`
	AutoDetect  bool   `mapstructure:"auto_detect"`
}

// TilesConfig contains the tiling, caching and load-shedding parameters
type TilesConfig struct {
	MinZoomHeight      float64       `mapstructure:"min_zoom_height"`
	TileSize           float64       `mapstructure:"tile_size"`
	MaxConcurrentLoads int           `mapstructure:"max_concurrent_loads"`
	CacheSize          int           `mapstructure:"cache_size"`
	Debounce           time.Duration `mapstructure:"debounce"`
	NeighborhoodRadius int           `mapstructure:"neighborhood_radius"`
}

// DecodeConfig contains the building height inference parameters
type DecodeConfig struct {
	FloorHeight       float64 `mapstructure:"floor_height"`
	DefaultHeight     float64 `mapstructure:"default_height"`
	MaxHeight         float64 `mapstructure:"max_height"`
	SimplifyTolerance float64 `mapstructure:"simplify_tolerance"`
}

// StoreConfig contains the shared response store configuration
type StoreConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	Prefix        string        `mapstructure:"prefix"`
}

// OutputConfig contains output formatting configuration
type OutputConfig struct {
	Format      string `mapstructure:"format"`
	Compression bool   `mapstructure:"compression"`
	Pretty      bool   `mapstructure:"pretty"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	ProxyURL         string        `mapstructure:"proxy_url"`
	UserAgent        string        `mapstructure:"user_agent"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout  time.Duration `mapstructure:"idle_conn_timeout"`
	DisableKeepAlive bool          `mapstructure:"disable_keep_alive"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Verbose bool   `mapstructure:"verbose"`
}

// MetricsConfig contains the Prometheus listener configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from various sources
func Load() (*Config, error) {
	SetDefaults(viper.GetViper())

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "configuration validation failed", err)
	}

	return &config, nil
}

// Default returns a configuration populated with default values only
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var config Config
	// Defaults are all plain values, so decoding cannot fail.
	_ = v.Unmarshal(&config)
	return &config
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.type", "auto")
	v.SetDefault("source.default_type", "http")
	v.SetDefault("source.auto_detect", true)

	// Server defaults
	v.SetDefault("server.workspace", "aetem")
	v.SetDefault("server.layer", "testAetem")
	v.SetDefault("server.srs_name", "EPSG:4326")
	v.SetDefault("server.output_format", "application/json")
	v.SetDefault("server.version", "2.0.0")
	v.SetDefault("server.max_features", 2000)
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.max_retries", 0)

	// Local file defaults
	v.SetDefault("local.path_template", "{base_path}/{x}_{y}.geojson")
	v.SetDefault("local.compressed", false)

	// Tile defaults
	v.SetDefault("tiles.min_zoom_height", 50000.0)
	v.SetDefault("tiles.tile_size", 0.03)
	v.SetDefault("tiles.max_concurrent_loads", 2)
	v.SetDefault("tiles.cache_size", 50)
	v.SetDefault("tiles.debounce", 500*time.Millisecond)
	v.SetDefault("tiles.neighborhood_radius", 1)

	// Decode defaults
	v.SetDefault("decode.floor_height", 3.5)
	v.SetDefault("decode.default_height", 6.0)
	v.SetDefault("decode.max_height", 600.0)
	v.SetDefault("decode.simplify_tolerance", 0.0)

	// Store defaults
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.ttl", 24*time.Hour)
	v.SetDefault("store.prefix", "building_tiles:")

	// Output defaults
	v.SetDefault("output.format", "geojson")
	v.SetDefault("output.pretty", true)
	v.SetDefault("output.compression", false)

	// Network defaults
	v.SetDefault("network.user_agent", "BuildingTiles/1.0")
	v.SetDefault("network.max_idle_conns", 100)
	v.SetDefault("network.idle_conn_timeout", 90*time.Second)
	v.SetDefault("network.disable_keep_alive", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.verbose", false)
}

// WFSEndpoint returns the OWS endpoint of the configured workspace
func (c *Config) WFSEndpoint() string {
	base := strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.Workspace == "" {
		return base + "/geoserver/ows"
	}
	return fmt.Sprintf("%s/geoserver/%s/ows", base, c.Server.Workspace)
}

// TypeName returns the qualified feature type name of the building layer
func (c *Config) TypeName() string {
	if c.Server.Workspace == "" {
		return c.Server.Layer
	}
	return c.Server.Workspace + ":" + c.Server.Layer
}

// GetTilePath builds a local file path using the configured template
func (c *Config) GetTilePath(x, y int) string {
	if c.Local.BasePath == "" {
		return ""
	}
	path := strings.NewReplacer(
		"{base_path}", strings.TrimRight(c.Local.BasePath, "/"),
		"{x}", fmt.Sprint(x),
		"{y}", fmt.Sprint(y),
	).Replace(c.Local.PathTemplate)
	if c.Local.Compressed && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
	}
	return path
}

// NeighborhoodSize returns the number of tiles in one required set
func (c *Config) NeighborhoodSize() int {
	side := 2*c.Tiles.NeighborhoodRadius + 1
	return side * side
}

// DetermineSourceType automatically determines the source type based on configuration
func (c *Config) DetermineSourceType() internal.SourceType {
	if !c.Source.AutoDetect {
		if c.Source.Type == "local" {
			return internal.SourceTypeLocal
		}
		return internal.SourceTypeHTTP
	}

	// Auto-detection logic
	if c.Local.BasePath != "" && c.Server.BaseURL == "" {
		return internal.SourceTypeLocal
	}
	if c.Server.BaseURL != "" && c.Local.BasePath == "" {
		return internal.SourceTypeHTTP
	}

	// Default to configured default type
	if c.Source.DefaultType == "local" {
		return internal.SourceTypeLocal
	}
	return internal.SourceTypeHTTP
}
