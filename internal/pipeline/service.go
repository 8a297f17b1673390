// Package pipeline wires classification, per-group orchestration and
// mapping into the single entry point used by the CLI and the HTTP API.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/orchestrator"
	"github.com/seenimoa/b3fetch/pkg/models"
)

// ErrUnsupportedInstrument is returned for tickers with no pipeline.
var ErrUnsupportedInstrument = errors.New("unsupported instrument")

// Classifier resolves the instrument type of a ticker.
type Classifier interface {
	Classify(ctx context.Context, raw string) models.ClassificationResult
	ClearCache(ctx context.Context) error
}

// Result is a classified, acquired record.
type Result struct {
	Classification models.ClassificationResult `json:"classification"`
	Record         models.Record               `json:"record"`
}

// Service routes tickers to the orchestrator of their group.
type Service struct {
	classifier Classifier
	routes     map[models.Group]Route
	log        logger.Logger
}

// NewService returns a Service. Groups missing from routes are reported as
// unsupported.
func NewService(c Classifier, routes map[models.Group]Route, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{classifier: c, routes: routes, log: log.With(logger.Component("pipeline"))}
}

// Classify returns the classification of raw.
func (s *Service) Classify(ctx context.Context, raw string) models.ClassificationResult {
	return s.classifier.Classify(ctx, raw)
}

// ClearClassificationCache evicts every cached classification.
func (s *Service) ClearClassificationCache(ctx context.Context) error {
	return s.classifier.ClearCache(ctx)
}

func (s *Service) route(ctx context.Context, raw string) (models.ClassificationResult, Route, error) {
	c := s.classifier.Classify(ctx, raw)
	if !c.Ticker.Valid() {
		return c, nil, fmt.Errorf("%w: %q", orchestrator.ErrInvalidTicker, raw)
	}
	r, ok := s.routes[c.Type.Group()]
	if !ok {
		return c, nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedInstrument, c.Ticker, c.Type)
	}
	return c, r, nil
}

// Fetch classifies raw and returns its record, acquiring it when the
// stored copy is missing or stale.
func (s *Service) Fetch(ctx context.Context, raw string) (Result, error) {
	c, r, err := s.route(ctx, raw)
	if err != nil {
		return Result{Classification: c}, err
	}
	rec, err := r.Get(ctx, c.Ticker, c.Type)
	if err != nil {
		s.log.Warn("fetch failed",
			logger.Ticker(c.Ticker),
			logger.String("type", c.Type.String()),
			logger.Error(err))
		return Result{Classification: c}, err
	}
	return Result{Classification: c, Record: rec}, nil
}

// RawAudit returns the persisted raw acquisition of raw.
func (s *Service) RawAudit(ctx context.Context, raw string) (*models.RawAcquisitionResult, error) {
	c, r, err := s.route(ctx, raw)
	if err != nil {
		return nil, err
	}
	return r.RawAudit(ctx, c.Ticker)
}

// Replay re-maps the persisted raw acquisition of raw without scraping.
func (s *Service) Replay(ctx context.Context, raw string) (Result, error) {
	c, r, err := s.route(ctx, raw)
	if err != nil {
		return Result{Classification: c}, err
	}
	rec, err := r.Replay(ctx, c.Ticker)
	if err != nil {
		return Result{Classification: c}, err
	}
	return Result{Classification: c, Record: rec}, nil
}
