package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/b3fetch/internal/config"
	"github.com/seenimoa/b3fetch/internal/metrics"
	"github.com/seenimoa/b3fetch/internal/storage/postgres"
	"github.com/seenimoa/b3fetch/pkg/models"
)

func TestNewWithDefaults(t *testing.T) {
	a, err := New(context.Background(), config.Default(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Metrics, "metrics are enabled by default")
	assert.Empty(t, a.Breakers.BreakerStates())

	r := a.Service.Classify(context.Background(), "petr4")
	assert.Equal(t, models.StockPN, r.Type)
	assert.Equal(t, models.MethodHeuristic, r.Method)
	assert.EqualValues(t, 1, a.Counters.Get(metrics.Key("classify", "type", string(models.StockPN))))
}

func TestNewWithoutMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Metrics)
	a.Service.Classify(context.Background(), "VALE3")
	assert.EqualValues(t, 1, a.Counters.Get(metrics.Key("classify", "method", string(models.MethodHeuristic))))
}

func TestNewWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Cache.Driver = "redis"
	cfg.Cache.Addr = mr.Addr()

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	mr.Set(cfg.Cache.KeyPrefix+"HGLG11", `{"ticker":"HGLG11","type":"REIT","method":"remote","confidence":0.9}`)
	r := a.Service.Classify(context.Background(), "HGLG11")
	assert.Equal(t, models.REIT, r.Type)
	assert.Equal(t, models.MethodCached, r.Method)

	require.NoError(t, a.Service.ClearClassificationCache(context.Background()))
	assert.False(t, mr.Exists(cfg.Cache.KeyPrefix+"HGLG11"))
	require.NoError(t, a.Close())
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Secondary = "webkit"

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestNewPostgresRequiresDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "postgres"

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, postgres.ErrEmptyDSN)
}

func TestMigrateIsNoopForMemory(t *testing.T) {
	a, err := New(context.Background(), config.Default(), nil)
	require.NoError(t, err)
	defer a.Close()
	assert.NoError(t, a.Migrate(context.Background()))
}
