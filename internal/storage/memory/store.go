// Package memory is an in-process storage.Gateway.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/storage"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// Store keeps records in a map. Writers build a new record and swap it
// in under the lock, so readers see either the old or the new version.
type Store[R models.Record] struct {
	newRecord func() R
	log       logger.Logger

	mu      sync.RWMutex
	records map[models.TickerSymbol]R
	raws    map[models.TickerSymbol]*models.RawAcquisitionResult
}

var _ storage.Gateway[*models.StockRecord] = (*Store[*models.StockRecord])(nil)

// New returns an empty store. newRecord allocates a zero record of R.
func New[R models.Record](newRecord func() R, log logger.Logger) *Store[R] {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store[R]{
		newRecord: newRecord,
		log:       log.With(logger.Component("memory")),
		records:   make(map[models.TickerSymbol]R),
		raws:      make(map[models.TickerSymbol]*models.RawAcquisitionResult),
	}
}

func (s *Store[R]) Find(ctx context.Context, t models.TickerSymbol) (R, bool, error) {
	var zero R
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	s.mu.RLock()
	rec, ok := s.records[t]
	s.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	out, err := storage.Clone(rec, s.newRecord)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

func (s *Store[R]) Upsert(ctx context.Context, rec R, raw *models.RawAcquisitionResult) (R, error) {
	var zero R
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	incoming, err := storage.Clone(rec, s.newRecord)
	if err != nil {
		return zero, err
	}
	t := incoming.Base().Ticker
	if errs := storage.Sanitize(incoming); len(errs) > 0 {
		s.log.Warn("dropped invalid dividends",
			logger.Ticker(t),
			logger.Int("count", len(errs)),
			logger.Error(errors.Join(errs...)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := incoming
	if existing, ok := s.records[t]; ok {
		if next, err = storage.Merge(existing, incoming, s.newRecord); err != nil {
			return zero, err
		}
	}
	s.records[t] = next
	if raw != nil {
		s.raws[t] = raw
	}
	return storage.Clone(next, s.newRecord)
}

func (s *Store[R]) FindRawAudit(ctx context.Context, t models.TickerSymbol) (*models.RawAcquisitionResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.raws[t]
	return raw, ok, nil
}

// Len returns the number of stored records.
func (s *Store[R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
