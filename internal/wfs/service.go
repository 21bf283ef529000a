// internal/wfs/service.go - Feature service client returning raw GeoJSON features
package wfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"github.com/valpere/building_tiles/internal"
)

// FeatureService fetches a query and splits the FeatureCollection into features
type FeatureService struct {
	fetcher Fetcher
	closers []io.Closer
	log     logrus.FieldLogger
}

// NewFeatureService creates a feature service on top of a fetcher
func NewFeatureService(fetcher Fetcher, log logrus.FieldLogger) *FeatureService {
	return &FeatureService{fetcher: fetcher, log: log}
}

// FetchFeatures retrieves the features of one query. Features that fail to
// unmarshal are counted and skipped, a body that is not a JSON object fails
// the whole request. A local tile file that does not exist is an empty tile.
func (s *FeatureService) FetchFeatures(ctx context.Context, query *Query) (*FeatureBatch, error) {
	response, err := s.fetcher.FetchWithRetry(ctx, query)
	if err != nil {
		if internal.HasCode(err, internal.ErrorCodeNotFound) {
			s.log.WithField("tile", query.Tile).Debug("No tile file, treating as empty")
			return &FeatureBatch{Query: query, Response: response}, nil
		}
		return nil, err
	}

	features, malformed, err := ParseFeatureCollection(response.Data)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("invalid feature collection for tile %s", query.Tile), err)
	}

	if malformed > 0 {
		s.log.WithFields(logrus.Fields{"tile": query.Tile, "malformed": malformed}).Debug("Skipped malformed features")
	}

	return &FeatureBatch{
		Query:     query,
		Features:  features,
		Malformed: malformed,
		Response:  response,
	}, nil
}

// Close releases resources held by the service, such as a store connection
func (s *FeatureService) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection leniently.
// A missing features member is an empty collection.
func ParseFeatureCollection(data []byte) ([]*geojson.Feature, int, error) {
	var collection struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if collection.Type != "" && collection.Type != "FeatureCollection" {
		return nil, 0, fmt.Errorf("unexpected GeoJSON type %q", collection.Type)
	}

	features := make([]*geojson.Feature, 0, len(collection.Features))
	malformed := 0
	for _, raw := range collection.Features {
		feature, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			malformed++
			continue
		}
		features = append(features, feature)
	}

	return features, malformed, nil
}
