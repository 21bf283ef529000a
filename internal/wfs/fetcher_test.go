package wfs

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/logging"
)

const twoBuildings = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "testAetem.1", "geometry": {"type": "Polygon", "coordinates": [[[77.0,21.675],[77.001,21.675],[77.001,21.676],[77.0,21.675]]]}, "properties": {"A16": "15"}},
    {"type": "Feature", "id": "testAetem.2", "geometry": {"type": "Polygon", "coordinates": [[[77.002,21.675],[77.003,21.675],[77.003,21.676],[77.002,21.675]]]}, "properties": {"A26": "4"}}
  ]
}`

func testQuery(baseURL string) *Query {
	builder := NewQueryBuilder(testConfig(baseURL))
	return builder.Build(grid.TileID{X: 2566, Y: 722}, orb.Bound{Min: orb.Point{76.98, 21.66}, Max: orb.Point{77.01, 21.69}})
}

func newTestFetcher(baseURL string, retries int) *HTTPFetcher {
	cfg := testConfig(baseURL)
	cfg.Server.MaxRetries = retries
	cfg.Server.APIKey = "secret"
	f := NewHTTPFetcher(cfg, logging.Discard())
	f.backoff = func(int) time.Duration { return 0 }
	return f
}

func TestHTTPFetcherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/geoserver/aetem/ows", r.URL.Path)
		require.Equal(t, "GetFeature", r.URL.Query().Get("request"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "BuildingTiles/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(twoBuildings))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL, 0)
	resp, err := f.Fetch(context.Background(), testQuery(srv.URL))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, len(twoBuildings), resp.Size)
	require.False(t, resp.FromStore)
}

func TestHTTPFetcherGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(twoBuildings))
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL, 0)
	// Disable transparent decompression so the fetcher sees the raw body.
	f.client.Transport.(*http.Transport).DisableCompression = true

	resp, err := f.Fetch(context.Background(), testQuery(srv.URL))
	require.NoError(t, err)
	require.Equal(t, twoBuildings, string(resp.Data))
}

func TestHTTPFetcherRetry(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		retries   int
		wantCalls int64
		wantErr   bool
	}{
		{"success first", []int{200}, 2, 1, false},
		{"server errors then success", []int{500, 503, 200}, 2, 3, false},
		{"server errors exhaust retries", []int{500, 500, 500}, 2, 3, true},
		{"client error not retried", []int{400, 200}, 2, 1, true},
		{"no retries configured", []int{500, 200}, 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := atomic.NewInt64(0)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Inc()
				w.WriteHeader(tt.statuses[n-1])
				_, _ = w.Write([]byte(twoBuildings))
			}))
			defer srv.Close()

			f := newTestFetcher(srv.URL, tt.retries)
			_, err := f.FetchWithRetry(context.Background(), testQuery(srv.URL))
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, internal.HasCode(err, internal.ErrorCodeNetwork))
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestHTTPFetcherCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(twoBuildings))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(srv.URL, 0)
	_, err := f.Fetch(ctx, testQuery(srv.URL))
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
