package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/pkg/models"
)

func newStore() *Store[*models.StockRecord] {
	return New(func() *models.StockRecord { return &models.StockRecord{} }, nil)
}

func price(v float64) *float64 { return &v }

func TestFindMissing(t *testing.T) {
	_, ok, err := newStore().Find(context.Background(), "PETR4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertThenFind(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	now := time.Now()
	raw := &models.RawAcquisitionResult{Ticker: "PETR4", Engine: "chromedp", CapturedAt: now}

	saved, err := s.Upsert(ctx, &models.StockRecord{Snapshot: models.Snapshot{
		Ticker: "PETR4", Type: models.StockPN, Name: "Petrobras", Price: price(38), LastUpdated: now,
	}}, raw)
	require.NoError(t, err)
	assert.Equal(t, "Petrobras", saved.Name)

	got, ok, err := s.Find(ctx, "PETR4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 38.0, *got.Price)
	assert.NotNil(t, got.Prices)

	gotRaw, ok, err := s.FindRawAudit(ctx, "PETR4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "chromedp", gotRaw.Engine)
}

func TestUpsertMergesAndKeepsLastUpdatedMonotonic(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	_, err := s.Upsert(ctx, &models.StockRecord{Snapshot: models.Snapshot{
		Ticker: "VALE3", Name: "Vale", Price: price(60), LastUpdated: t0,
	}}, nil)
	require.NoError(t, err)

	saved, err := s.Upsert(ctx, &models.StockRecord{Snapshot: models.Snapshot{
		Ticker: "VALE3", Price: price(61), LastUpdated: t0.Add(-time.Hour),
	}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Vale", saved.Name)
	assert.Equal(t, 61.0, *saved.Price)
	assert.True(t, saved.LastUpdated.Equal(t0))
	assert.Equal(t, 1, s.Len())

	_, ok, err := s.FindRawAudit(ctx, "VALE3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertLogsDroppedDividends(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(func() *models.StockRecord { return &models.StockRecord{} }, logger.NewFromZap(zap.New(core)))
	ex := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	saved, err := s.Upsert(context.Background(), &models.StockRecord{Snapshot: models.Snapshot{
		Ticker: "ITSA4",
		Dividends: []models.Dividend{
			{Kind: models.KindDividend, ExDate: ex, Amount: 0.12, Currency: "BRL"},
			{Kind: models.KindJCP, ExDate: ex, Amount: -1, Currency: "BRL"},
		},
	}}, nil)
	require.NoError(t, err)
	require.Len(t, saved.Dividends, 1)
	assert.Equal(t, 0.12, saved.Dividends[0].Amount)

	entries := logs.FilterMessage("dropped invalid dividends").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(1), fields["count"])
	assert.Equal(t, "ITSA4", fields["ticker"])
	assert.Equal(t, "memory", fields["component"])
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	in := &models.StockRecord{Snapshot: models.Snapshot{Ticker: "ITUB4", Price: price(30)}}

	saved, err := s.Upsert(ctx, in, nil)
	require.NoError(t, err)
	*in.Price = 1
	*saved.Price = 2

	got, _, err := s.Find(ctx, "ITUB4")
	require.NoError(t, err)
	assert.Equal(t, 30.0, *got.Price)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Upsert(ctx, &models.StockRecord{Snapshot: models.Snapshot{
				Ticker: "BBAS3", Name: "Banco do Brasil", Price: price(float64(i)),
			}}, nil)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			rec, ok, err := s.Find(ctx, "BBAS3")
			assert.NoError(t, err)
			if ok {
				assert.Equal(t, "Banco do Brasil", rec.Name)
			}
		}()
	}
	wg.Wait()
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newStore().Find(ctx, "PETR4")
	assert.ErrorIs(t, err, context.Canceled)
}
