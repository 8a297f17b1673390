package classify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/b3fetch/pkg/models"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := DialRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, ""), mr
}

func sampleResult(ticker string, it models.InstrumentType) models.ClassificationResult {
	return models.ClassificationResult{
		Ticker:       models.TickerSymbol(ticker),
		Type:         it,
		Method:       models.MethodRemote,
		Confidence:   ConfidenceRemote,
		ClassifiedAt: time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC),
	}
}

func TestRedisCacheRoundTripWithoutExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "MXRF11")
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleResult("MXRF11", models.REIT)
	require.NoError(t, c.Set(ctx, want))

	got, ok, err := c.Get(ctx, "MXRF11")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Type, got.Type)
	assert.True(t, want.ClassifiedAt.Equal(got.ClassifiedAt))

	assert.True(t, mr.Exists("b3fetch:classify:MXRF11"))
	assert.Equal(t, time.Duration(0), mr.TTL("b3fetch:classify:MXRF11"))
}

func TestRedisCacheClearOnlyTouchesPrefix(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	for _, tk := range []string{"MXRF11", "BOVA11", "TAEE11"} {
		require.NoError(t, c.Set(ctx, sampleResult(tk, models.REIT)))
	}
	require.NoError(t, mr.Set("other:key", "keep"))

	require.NoError(t, c.Clear(ctx))

	for _, tk := range []string{"MXRF11", "BOVA11", "TAEE11"} {
		_, ok, err := c.Get(ctx, models.TickerSymbol(tk))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	c, mr := newRedisCache(t)
	require.NoError(t, mr.Set("b3fetch:classify:KNRI11", "{not json"))

	_, _, err := c.Get(context.Background(), "KNRI11")
	assert.Error(t, err)
}

func TestEngineDegradesWhenRedisIsDown(t *testing.T) {
	c, mr := newRedisCache(t)
	mr.Close()

	l := &fakeLookup{names: knownNames}
	r := newEngine(l, c, nil).Classify(context.Background(), "MXRF11")

	// Cache errors are logged; the remote answer is still returned.
	assert.Equal(t, models.REIT, r.Type)
	assert.Equal(t, models.MethodRemote, r.Method)
}

func TestDialRedisRequiresAddress(t *testing.T) {
	_, err := DialRedis("", "", 0)
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestMemoryCacheClear(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, sampleResult("MXRF11", models.REIT)))
	require.NoError(t, c.Set(ctx, sampleResult("BOVA11", models.ETF)))
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}
