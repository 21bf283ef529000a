// internal/wfs/fetcher.go - HTTP feature fetching implementation
package wfs

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/config"
)

// HTTPFetcher implements the Fetcher interface using HTTP requests
type HTTPFetcher struct {
	client    *http.Client
	config    *config.ServerConfig
	userAgent string
	backoff   func(attempt int) time.Duration
	log       logrus.FieldLogger
}

// NewHTTPFetcher creates a new HTTP-based feature fetcher
func NewHTTPFetcher(cfg *config.Config, log logrus.FieldLogger) *HTTPFetcher {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Network.MaxIdleConns,
		IdleConnTimeout:     cfg.Network.IdleConnTimeout,
		DisableKeepAlives:   cfg.Network.DisableKeepAlive,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxConnsPerHost:     cfg.Tiles.MaxConcurrentLoads,
	}

	// Configure proxy if specified
	if cfg.Network.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.Network.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{
		Timeout:   cfg.Server.Timeout,
		Transport: transport,
	}

	return &HTTPFetcher{
		client:    client,
		config:    &cfg.Server,
		userAgent: cfg.Network.UserAgent,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		log: log,
	}
}

// Fetch performs a single GetFeature request
func (f *HTTPFetcher) Fetch(ctx context.Context, query *Query) (*Response, error) {
	start := time.Now()

	req, err := f.buildHTTPRequest(ctx, query)
	if err != nil {
		err = internal.NewError(internal.ErrorCodeValidation, "failed to build HTTP request", err)
		return &Response{Query: query, Error: err}, err
	}

	f.log.WithFields(logrus.Fields{"tile": query.Tile, "url": req.URL.String()}).Debug("WFS request")

	resp, err := f.client.Do(req)
	if err != nil {
		err = internal.NewError(internal.ErrorCodeNetwork, "HTTP request failed", err)
		return &Response{
			Query:     query,
			FetchTime: time.Since(start),
			Error:     err,
		}, err
	}
	defer resp.Body.Close()

	// Handle compressed responses
	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			err = internal.NewError(internal.ErrorCodeProcessing, "failed to create gzip reader", err)
			return &Response{
				Query:      query,
				StatusCode: resp.StatusCode,
				Headers:    resp.Header,
				FetchTime:  time.Since(start),
				Error:      err,
			}, err
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		err = internal.NewError(internal.ErrorCodeNetwork, "failed to read response body", err)
		return &Response{
			Query:      query,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			FetchTime:  time.Since(start),
			Error:      err,
		}, err
	}

	response := &Response{
		Query:      query,
		Data:       data,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
		Size:       len(data),
		FetchTime:  time.Since(start),
	}

	f.log.WithFields(logrus.Fields{"tile": query.Tile, "status": resp.StatusCode}).Debug("WFS response")

	if resp.StatusCode != http.StatusOK {
		response.Error = internal.NewError(internal.ErrorCodeNetwork, fmt.Sprintf("WFS error: HTTP %d", resp.StatusCode), nil)
		return response, response.Error
	}

	return response, nil
}

// FetchWithRetry retries failed requests with quadratic backoff
func (f *HTTPFetcher) FetchWithRetry(ctx context.Context, query *Query) (*Response, error) {
	var lastResponse *Response
	var lastErr error

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastResponse, internal.NewError(internal.ErrorCodeTimeout, "retry canceled", ctx.Err())
			case <-time.After(f.backoff(attempt)):
			}
		}

		response, err := f.Fetch(ctx, query)
		if err == nil {
			return response, nil
		}

		lastResponse = response
		lastErr = err

		// Determine if we should retry based on the error type
		if !f.shouldRetry(response) {
			break
		}
	}

	return lastResponse, fmt.Errorf("failed after %d attempts: %w", f.config.MaxRetries+1, lastErr)
}

// buildHTTPRequest constructs an HTTP request from a query
func (f *HTTPFetcher) buildHTTPRequest(ctx context.Context, query *Query) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// Set default headers
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", f.userAgent)

	// Add authentication if configured
	if f.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.config.APIKey)
	}

	// Add server-level headers from configuration
	for key, value := range f.config.Headers {
		req.Header.Set(key, value)
	}

	// Add request-specific headers
	for key, value := range query.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// shouldRetry determines whether a failed request should be retried
func (f *HTTPFetcher) shouldRetry(response *Response) bool {
	// Always retry on network errors
	if response == nil {
		return true
	}

	// Don't retry on client errors (4xx)
	if response.StatusCode >= 400 && response.StatusCode < 500 {
		return false
	}

	// Retry on server errors (5xx) and transport failures
	return response.StatusCode >= 500 || response.StatusCode == 0
}
