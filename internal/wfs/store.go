// internal/wfs/store.go - Shared response store backed by Redis
package wfs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/metrics"
)

// Store keeps raw feature service responses between runs and processes
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// RedisStore implements Store on a Redis server
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the configured Redis server
func NewRedisStore(cfg config.StoreConfig) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), cfg.Prefix)
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the stored response for key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores a response; a zero ttl keeps it forever
func (s *RedisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// StoreFetcher serves responses from a Store and fills it on misses.
// Store failures degrade to plain fetching.
type StoreFetcher struct {
	next  Fetcher
	store Store
	ttl   time.Duration
	log   logrus.FieldLogger
}

// NewStoreFetcher wraps next with a response store
func NewStoreFetcher(next Fetcher, store Store, ttl time.Duration, log logrus.FieldLogger) *StoreFetcher {
	return &StoreFetcher{next: next, store: store, ttl: ttl, log: log}
}

// Fetch returns the stored response or performs a single fetch
func (f *StoreFetcher) Fetch(ctx context.Context, query *Query) (*Response, error) {
	return f.fetch(ctx, query, f.next.Fetch)
}

// FetchWithRetry returns the stored response or fetches with retries
func (f *StoreFetcher) FetchWithRetry(ctx context.Context, query *Query) (*Response, error) {
	return f.fetch(ctx, query, f.next.FetchWithRetry)
}

func (f *StoreFetcher) fetch(ctx context.Context, query *Query, do func(context.Context, *Query) (*Response, error)) (*Response, error) {
	key := query.Key()
	start := time.Now()

	data, found, err := f.store.Get(ctx, key)
	if err != nil {
		f.log.WithError(err).WithField("tile", query.Tile).Warn("Response store read failed")
	}
	if found {
		metrics.StoreHitsTotal.Inc()
		return &Response{
			Query:      query,
			Data:       data,
			StatusCode: 200,
			Size:       len(data),
			FetchTime:  time.Since(start),
			FromStore:  true,
		}, nil
	}

	metrics.StoreMissesTotal.Inc()

	response, err := do(ctx, query)
	if err != nil {
		return response, err
	}

	// Exception reports and truncated bodies are not worth keeping
	if json.Valid(response.Data) {
		if err := f.store.Set(ctx, key, response.Data, f.ttl); err != nil {
			f.log.WithError(err).WithField("tile", query.Tile).Warn("Response store write failed")
		}
	}

	return response, nil
}
