package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/autopo-forecast/internal/config"
)

const forecastKeyPrefix = "forecast:result"

// ForecastCache stores forecast results by request key. Values are JSON,
// snappy-compressed in redis.
type ForecastCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

type redisForecastCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopForecastCache struct{}

// NewForecastCache returns a redis-backed cache, or a no-op cache when
// caching is disabled.
func NewForecastCache(cfg config.CacheConfig) (ForecastCache, error) {
	if !cfg.Enabled {
		return &noopForecastCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return &redisForecastCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func NewNoopForecastCache() ForecastCache {
	return &noopForecastCache{}
}

func (c *redisForecastCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := decodePayload(payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *redisForecastCache) Set(ctx context.Context, key string, value interface{}) error {
	payload, err := encodePayload(value)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisForecastCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *redisForecastCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, forecastKeyPrefix, scanBatchSize)
}

func (n *noopForecastCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (n *noopForecastCache) Set(ctx context.Context, key string, value interface{}) error {
	return nil
}

func (n *noopForecastCache) Invalidate(ctx context.Context, key string) error {
	return nil
}

func (n *noopForecastCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func encodePayload(value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode forecast cache: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodePayload(payload []byte, dest interface{}) error {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return fmt.Errorf("decompress forecast cache: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode forecast cache: %w", err)
	}
	return nil
}

// ForecastKey derives a stable key from the input table and the run
// parameters. Parameter order does not matter; row order does.
func ForecastKey(records [][]string, params map[string]string) string {
	h := sha1.New()
	for _, rec := range records {
		h.Write([]byte(strings.Join(rec, "\x1f")))
		h.Write([]byte{'\n'})
	}

	parts := make([]string, 0, len(params))
	for k, v := range params {
		parts = append(parts, strings.ToLower(strings.TrimSpace(k))+"="+strings.TrimSpace(v))
	}
	sort.Strings(parts)
	h.Write([]byte(strings.Join(parts, "|")))

	return fmt.Sprintf("%s:%s", forecastKeyPrefix, hex.EncodeToString(h.Sum(nil)))
}
