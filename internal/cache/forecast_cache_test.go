package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/config"
)

func TestForecastKey(t *testing.T) {
	records := [][]string{{"date", "sales"}, {"2024-01-01", "10"}}

	a := ForecastKey(records, map[string]string{"seasonal_periods": "12", "level": "0.95"})
	b := ForecastKey(records, map[string]string{"level": "0.95", "seasonal_periods": "12"})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "forecast:result:"))

	c := ForecastKey(records, map[string]string{"seasonal_periods": "4", "level": "0.95"})
	assert.NotEqual(t, a, c)

	swapped := [][]string{{"date", "sales"}, {"2024-01-01", "1"}, {"0"}}
	assert.NotEqual(t, a, ForecastKey(swapped, map[string]string{"seasonal_periods": "12", "level": "0.95"}))
}

func TestPayloadCompression(t *testing.T) {
	values := make([]float64, 200)
	for i := range values {
		values[i] = 100.25
	}
	in := map[string][]float64{"holdout": values}

	payload, err := encodePayload(in)
	require.NoError(t, err)

	var out map[string][]float64
	require.NoError(t, decodePayload(payload, &out))
	assert.Equal(t, in, out)

	// repeated values compress well below the JSON size
	assert.Less(t, len(payload), 200*len("100.25,")/2)

	assert.Error(t, decodePayload([]byte(`{"holdout":[]}`), &out))
}

func TestNewForecastCache_Disabled(t *testing.T) {
	c, err := NewForecastCache(config.CacheConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}))

	var out map[string]int
	hit, err := c.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.InvalidateAll(ctx))
}

func TestBuildRedisOptions(t *testing.T) {
	opts, err := buildRedisOptions(config.CacheConfig{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts, err = buildRedisOptions(config.CacheConfig{RedisHost: "cache", RedisPort: "6380", DB: 2, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)

	opts, err = buildRedisOptions(config.CacheConfig{RedisURL: "redis://:secret@redis.internal:6379/3"})
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)

	_, err = buildRedisOptions(config.CacheConfig{RedisURL: "http://nope"})
	assert.Error(t, err)
}

func TestCacheTTL(t *testing.T) {
	assert.Equal(t, defaultCacheTTL, cacheTTL(config.CacheConfig{}))
	assert.Equal(t, 30*time.Second, cacheTTL(config.CacheConfig{TTLSeconds: 30}))
}
