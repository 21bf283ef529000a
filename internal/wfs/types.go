// internal/wfs/types.go - Feature service types
package wfs

import (
	"context"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"
)

// Response represents the raw answer of a feature source
type Response struct {
	Query      *Query        `json:"query"`
	Data       []byte        `json:"-"`
	Headers    http.Header   `json:"headers,omitempty"`
	StatusCode int           `json:"status_code"`
	Size       int           `json:"size"`
	FetchTime  time.Duration `json:"fetch_time"`
	FromStore  bool          `json:"from_store"`
	Error      error         `json:"error,omitempty"`
}

// Fetcher retrieves the raw response for a query
type Fetcher interface {
	Fetch(ctx context.Context, query *Query) (*Response, error)
	FetchWithRetry(ctx context.Context, query *Query) (*Response, error)
}

// FeatureBatch is the decoded answer for one query
type FeatureBatch struct {
	Query     *Query
	Features  []*geojson.Feature
	Malformed int
	Response  *Response
}

// FeatureSource returns the raw features for a query
type FeatureSource interface {
	FetchFeatures(ctx context.Context, query *Query) (*FeatureBatch, error)
}
