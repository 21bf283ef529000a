// internal/config/validation.go - Configuration validation
package config

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"

	"github.com/valpere/building_tiles/internal"
)

// Validate validates the configuration structure and values.
// Every section is checked and all problems are reported together.
func Validate(config *Config) error {
	var err error

	if config.DetermineSourceType() == internal.SourceTypeLocal {
		err = multierr.Append(err, wrapSection("local", validateLocal(&config.Local)))
	} else {
		err = multierr.Append(err, wrapSection("server", validateServer(&config.Server)))
	}

	err = multierr.Append(err, wrapSection("tiles", validateTiles(config)))
	err = multierr.Append(err, wrapSection("decode", validateDecode(&config.Decode)))
	err = multierr.Append(err, wrapSection("store", validateStore(&config.Store)))
	err = multierr.Append(err, wrapSection("output", validateOutput(&config.Output)))
	err = multierr.Append(err, wrapSection("network", validateNetwork(&config.Network)))
	err = multierr.Append(err, wrapSection("logging", validateLogging(&config.Logging)))

	return err
}

func wrapSection(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s configuration invalid: %w", name, err)
}

// validateServer validates WFS server configuration parameters
func validateServer(config *ServerConfig) error {
	if config.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	if _, err := url.Parse(config.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	if config.Layer == "" {
		return fmt.Errorf("layer is required")
	}

	if config.MaxFeatures <= 0 {
		return fmt.Errorf("max_features must be positive")
	}

	if config.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

// validateLocal validates local source configuration parameters
func validateLocal(config *LocalConfig) error {
	if config.BasePath == "" {
		return fmt.Errorf("base_path is required")
	}

	if !strings.Contains(config.PathTemplate, "{x}") || !strings.Contains(config.PathTemplate, "{y}") {
		return fmt.Errorf("path_template must contain {x} and {y}")
	}

	return nil
}

// validateTiles validates tiling and load-shedding parameters
func validateTiles(config *Config) error {
	tiles := &config.Tiles

	if tiles.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive")
	}

	if tiles.MinZoomHeight <= 0 {
		return fmt.Errorf("min_zoom_height must be positive")
	}

	if tiles.MaxConcurrentLoads <= 0 {
		return fmt.Errorf("max_concurrent_loads must be positive")
	}

	if tiles.MaxConcurrentLoads > 1000 {
		return fmt.Errorf("max_concurrent_loads must not exceed 1000")
	}

	if tiles.NeighborhoodRadius < 0 {
		return fmt.Errorf("neighborhood_radius must be non-negative")
	}

	if tiles.CacheSize > 0 && tiles.CacheSize < config.NeighborhoodSize() {
		return fmt.Errorf("cache_size %d cannot hold a full neighborhood of %d tiles", tiles.CacheSize, config.NeighborhoodSize())
	}

	if tiles.Debounce < 0 {
		return fmt.Errorf("debounce must be non-negative")
	}

	return nil
}

// validateDecode validates height inference parameters
func validateDecode(config *DecodeConfig) error {
	if config.FloorHeight <= 0 {
		return fmt.Errorf("floor_height must be positive")
	}

	if config.MaxHeight <= 0 {
		return fmt.Errorf("max_height must be positive")
	}

	if config.DefaultHeight <= 0 || config.DefaultHeight > config.MaxHeight {
		return fmt.Errorf("default_height must be in (0, max_height]")
	}

	if config.SimplifyTolerance < 0 {
		return fmt.Errorf("simplify_tolerance must be non-negative")
	}

	return nil
}

// validateStore validates the shared response store parameters
func validateStore(config *StoreConfig) error {
	if config.RedisAddr == "" {
		return nil
	}

	if config.TTL < 0 {
		return fmt.Errorf("ttl must be non-negative")
	}

	if config.RedisDB < 0 {
		return fmt.Errorf("redis_db must be non-negative")
	}

	return nil
}

// validateOutput validates output configuration parameters
func validateOutput(config *OutputConfig) error {
	validFormats := []string{"geojson", "json"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid format: %s, must be one of %v", config.Format, validFormats)
	}

	return nil
}

// validateNetwork validates network configuration parameters
func validateNetwork(config *NetworkConfig) error {
	if config.ProxyURL != "" {
		if _, err := url.Parse(config.ProxyURL); err != nil {
			return fmt.Errorf("invalid proxy_url: %w", err)
		}
	}

	if config.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns must be non-negative")
	}

	if config.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}

	if config.IdleConnTimeout < 0 {
		return fmt.Errorf("idle_conn_timeout must be non-negative")
	}

	return nil
}

// validateLogging validates logging configuration parameters
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("invalid log level: %s, must be one of %v", config.Level, validLevels)
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid log format: %s, must be one of %v", config.Format, validFormats)
	}

	return nil
}

// contains checks if a string slice contains a specific string (case-insensitive)
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
