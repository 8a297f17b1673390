package pipeline

import (
	"context"

	"github.com/seenimoa/b3fetch/internal/orchestrator"
	"github.com/seenimoa/b3fetch/internal/scraper"
	"github.com/seenimoa/b3fetch/internal/storage"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// Binding supplies the orchestrator capabilities from a gateway, an
// acquirer and a mapper.
type Binding[R models.Record] struct {
	Gateway  storage.Gateway[R]
	Acquirer scraper.Acquirer
	Mapper   Mapper[R]
}

var _ orchestrator.Capabilities[*models.StockRecord] = Binding[*models.StockRecord]{}

func (b Binding[R]) FetchCached(ctx context.Context, t models.TickerSymbol) (R, bool, error) {
	return b.Gateway.Find(ctx, t)
}

func (b Binding[R]) Scrape(ctx context.Context, t models.TickerSymbol, it models.InstrumentType) (*models.RawAcquisitionResult, error) {
	return b.Acquirer.Acquire(ctx, t, it)
}

func (b Binding[R]) MapToDomain(raw *models.RawAcquisitionResult) (R, error) {
	return b.Mapper(raw)
}

func (b Binding[R]) Persist(ctx context.Context, rec R, raw *models.RawAcquisitionResult) (R, error) {
	return b.Gateway.Upsert(ctx, rec, raw)
}

func (b Binding[R]) FindRawAudit(ctx context.Context, t models.TickerSymbol) (*models.RawAcquisitionResult, bool, error) {
	return b.Gateway.FindRawAudit(ctx, t)
}

// Route is a type-erased orchestrator for one group.
type Route interface {
	Get(ctx context.Context, t models.TickerSymbol, it models.InstrumentType) (models.Record, error)
	RawAudit(ctx context.Context, t models.TickerSymbol) (*models.RawAcquisitionResult, error)
	Replay(ctx context.Context, t models.TickerSymbol) (models.Record, error)
}

// RouteOf erases the record type of o.
func RouteOf[R models.Record](o *orchestrator.Orchestrator[R]) Route {
	return route[R]{o: o}
}

type route[R models.Record] struct {
	o *orchestrator.Orchestrator[R]
}

func (r route[R]) Get(ctx context.Context, t models.TickerSymbol, it models.InstrumentType) (models.Record, error) {
	rec, err := r.o.GetOrAcquire(ctx, t, it)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r route[R]) RawAudit(ctx context.Context, t models.TickerSymbol) (*models.RawAcquisitionResult, error) {
	return r.o.RawAudit(ctx, t)
}

func (r route[R]) Replay(ctx context.Context, t models.TickerSymbol) (models.Record, error) {
	rec, err := r.o.Replay(ctx, t)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
