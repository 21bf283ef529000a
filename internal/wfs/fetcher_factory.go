// internal/wfs/fetcher_factory.go - Fetcher factory implementation
package wfs

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/config"
)

// FetcherFactory creates appropriate fetchers based on configuration
type FetcherFactory struct {
	config *config.Config
	log    logrus.FieldLogger
}

// NewFetcherFactory creates a new fetcher factory
func NewFetcherFactory(cfg *config.Config, log logrus.FieldLogger) *FetcherFactory {
	return &FetcherFactory{
		config: cfg,
		log:    log,
	}
}

// CreateFetcher creates the fetcher for the detected source type
func (f *FetcherFactory) CreateFetcher() (Fetcher, error) {
	return f.CreateFetcherForType(f.config.DetermineSourceType())
}

// CreateFetcherForType creates a fetcher for a specific source type
func (f *FetcherFactory) CreateFetcherForType(sourceType internal.SourceType) (Fetcher, error) {
	switch sourceType {
	case internal.SourceTypeHTTP:
		if f.config.Server.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for HTTP fetcher")
		}
		return NewHTTPFetcher(f.config, f.log), nil
	case internal.SourceTypeLocal:
		if f.config.Local.BasePath == "" {
			return nil, fmt.Errorf("base_path is required for local fetcher")
		}
		return NewLocalFetcher(f.config), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}
}

// CreateService creates the feature service for the configuration, fronted
// by the Redis response store when one is configured
func (f *FetcherFactory) CreateService() (*FeatureService, error) {
	fetcher, err := f.CreateFetcher()
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "failed to create fetcher", err)
	}

	if f.config.Store.RedisAddr == "" {
		return NewFeatureService(fetcher, f.log), nil
	}

	store := NewRedisStore(f.config.Store)
	f.log.WithField("addr", f.config.Store.RedisAddr).Info("Using Redis response store")

	service := NewFeatureService(NewStoreFetcher(fetcher, store, f.config.Store.TTL, f.log), f.log)
	service.closers = append(service.closers, store)
	return service, nil
}
