// Package postgres is a storage.Gateway on PostgreSQL.
//
// Every instrument pipeline shares one schema: scalar snapshot columns and
// a jsonb details document in assets, child rows in dividends and
// price_points, and the last raw acquisition in raw_audit.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/storage"
	"github.com/seenimoa/b3fetch/pkg/models"
)

//go:embed schema.sql
var schema string

const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

// ErrEmptyDSN is returned by Open when no DSN is configured.
var ErrEmptyDSN = errors.New("postgres DSN is required")

// Config holds connection settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, ErrEmptyDSN
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = DefaultMaxIdleConns
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const upsertAsset = `INSERT INTO assets
    (ticker, instrument_type, name, currency, price, change_pct, dividend_yield, source_url, details, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (ticker) DO UPDATE SET
    instrument_type = EXCLUDED.instrument_type,
    name            = COALESCE(NULLIF(EXCLUDED.name, ''), assets.name),
    currency        = COALESCE(NULLIF(EXCLUDED.currency, ''), assets.currency),
    price           = COALESCE(EXCLUDED.price, assets.price),
    change_pct      = COALESCE(EXCLUDED.change_pct, assets.change_pct),
    dividend_yield  = COALESCE(EXCLUDED.dividend_yield, assets.dividend_yield),
    source_url      = COALESCE(NULLIF(EXCLUDED.source_url, ''), assets.source_url),
    details         = assets.details || EXCLUDED.details,
    last_updated    = GREATEST(assets.last_updated, EXCLUDED.last_updated)`

const insertDividends = `INSERT INTO dividends (ticker, kind, ex_date, payment_date, amount, currency)
VALUES (:ticker, :kind, :ex_date, :payment_date, :amount, :currency)`

const insertPrices = `INSERT INTO price_points (ticker, traded_on, close)
VALUES (:ticker, :traded_on, :close)`

const upsertRaw = `INSERT INTO raw_audit (ticker, engine, payload, captured_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (ticker) DO UPDATE SET
    engine      = EXCLUDED.engine,
    payload     = EXCLUDED.payload,
    captured_at = EXCLUDED.captured_at`

const selectAsset = `SELECT ticker, instrument_type, name, currency, price, change_pct, dividend_yield,
    source_url, details, last_updated
FROM assets WHERE ticker = $1`

const selectDividends = `SELECT ticker, kind, ex_date, payment_date, amount, currency
FROM dividends WHERE ticker = $1 ORDER BY ex_date, id`

const selectPrices = `SELECT ticker, traded_on, close
FROM price_points WHERE ticker = $1 ORDER BY traded_on`

const selectRaw = `SELECT payload FROM raw_audit WHERE ticker = $1`

type assetRow struct {
	Ticker        string    `db:"ticker"`
	Type          string    `db:"instrument_type"`
	Name          string    `db:"name"`
	Currency      string    `db:"currency"`
	Price         *float64  `db:"price"`
	ChangePct     *float64  `db:"change_pct"`
	DividendYield *float64  `db:"dividend_yield"`
	SourceURL     string    `db:"source_url"`
	Details       []byte    `db:"details"`
	LastUpdated   time.Time `db:"last_updated"`
}

type dividendRow struct {
	Ticker      string     `db:"ticker"`
	Kind        string     `db:"kind"`
	ExDate      time.Time  `db:"ex_date"`
	PaymentDate *time.Time `db:"payment_date"`
	Amount      float64    `db:"amount"`
	Currency    string     `db:"currency"`
}

type priceRow struct {
	Ticker   string    `db:"ticker"`
	TradedOn time.Time `db:"traded_on"`
	Close    float64   `db:"close"`
}

// Store persists records of type R.
type Store[R models.Record] struct {
	db        *sqlx.DB
	newRecord func() R
	log       logger.Logger
}

var _ storage.Gateway[*models.StockRecord] = (*Store[*models.StockRecord])(nil)

// New returns a store on db. newRecord allocates a zero record of R.
func New[R models.Record](db *sqlx.DB, newRecord func() R, log logger.Logger) *Store[R] {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store[R]{db: db, newRecord: newRecord, log: log.With(logger.Component("postgres"))}
}

func (s *Store[R]) Find(ctx context.Context, t models.TickerSymbol) (R, bool, error) {
	var zero R
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return zero, false, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, ok, err := s.load(ctx, tx, t)
	if err != nil || !ok {
		return zero, false, err
	}
	if err := tx.Commit(); err != nil {
		return zero, false, fmt.Errorf("commit read: %w", err)
	}
	return rec, true, nil
}

func (s *Store[R]) Upsert(ctx context.Context, rec R, raw *models.RawAcquisitionResult) (R, error) {
	var zero R
	if errs := storage.Sanitize(rec); len(errs) > 0 {
		s.log.Warn("dropped invalid dividends",
			logger.Ticker(rec.Base().Ticker),
			logger.Int("count", len(errs)),
			logger.Error(errors.Join(errs...)))
	}
	b := rec.Base()
	details, err := json.Marshal(rec.DetailsRef())
	if err != nil {
		return zero, fmt.Errorf("encode details: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertAsset,
		b.Ticker.String(), b.Type.String(), b.Name, b.Currency,
		b.Price, b.ChangePct, b.DividendYield, b.SourceURL,
		string(details), b.LastUpdated,
	); err != nil {
		return zero, fmt.Errorf("upsert asset %s: %w", b.Ticker, err)
	}

	if err := replaceChildren(ctx, tx, "dividends", insertDividends, b.Ticker, dividendRows(b)); err != nil {
		return zero, err
	}
	if err := replaceChildren(ctx, tx, "price_points", insertPrices, b.Ticker, priceRows(b)); err != nil {
		return zero, err
	}

	if raw != nil {
		payload, err := json.Marshal(raw)
		if err != nil {
			return zero, fmt.Errorf("encode raw audit: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsertRaw, b.Ticker.String(), raw.Engine, string(payload), raw.CapturedAt); err != nil {
			return zero, fmt.Errorf("upsert raw audit %s: %w", b.Ticker, err)
		}
	}

	saved, ok, err := s.load(ctx, tx, b.Ticker)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, fmt.Errorf("asset %s vanished during upsert", b.Ticker)
	}
	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("commit upsert: %w", err)
	}
	return saved, nil
}

func (s *Store[R]) FindRawAudit(ctx context.Context, t models.TickerSymbol) (*models.RawAcquisitionResult, bool, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, selectRaw, t.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select raw audit %s: %w", t, err)
	}
	var raw models.RawAcquisitionResult
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, false, fmt.Errorf("decode raw audit %s: %w", t, err)
	}
	return &raw, true, nil
}

func (s *Store[R]) load(ctx context.Context, q sqlx.QueryerContext, t models.TickerSymbol) (R, bool, error) {
	var zero R
	var a assetRow
	err := sqlx.GetContext(ctx, q, &a, selectAsset, t.String())
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("select asset %s: %w", t, err)
	}

	var divs []dividendRow
	if err := sqlx.SelectContext(ctx, q, &divs, selectDividends, t.String()); err != nil {
		return zero, false, fmt.Errorf("select dividends %s: %w", t, err)
	}
	var prices []priceRow
	if err := sqlx.SelectContext(ctx, q, &prices, selectPrices, t.String()); err != nil {
		return zero, false, fmt.Errorf("select prices %s: %w", t, err)
	}

	rec := s.newRecord()
	if len(a.Details) > 0 {
		if err := json.Unmarshal(a.Details, rec.DetailsRef()); err != nil {
			return zero, false, fmt.Errorf("decode details %s: %w", t, err)
		}
	}
	b := rec.Base()
	b.Ticker = models.TickerSymbol(a.Ticker)
	b.Type = models.ParseInstrumentType(a.Type)
	b.Name = a.Name
	b.Currency = a.Currency
	b.Price = a.Price
	b.ChangePct = a.ChangePct
	b.DividendYield = a.DividendYield
	b.SourceURL = a.SourceURL
	b.LastUpdated = a.LastUpdated
	b.Dividends = make([]models.Dividend, 0, len(divs))
	for _, d := range divs {
		div := models.Dividend{
			Kind:     models.DividendKind(d.Kind),
			ExDate:   d.ExDate,
			Amount:   d.Amount,
			Currency: d.Currency,
		}
		if d.PaymentDate != nil {
			div.PaymentDate = *d.PaymentDate
		}
		b.Dividends = append(b.Dividends, div)
	}
	b.Prices = make([]models.PricePoint, 0, len(prices))
	for _, p := range prices {
		b.Prices = append(b.Prices, models.PricePoint{Date: p.TradedOn, Close: p.Close})
	}
	return rec, true, nil
}

// replaceChildren deletes the ticker's rows in table and bulk-inserts rows.
func replaceChildren[T any](ctx context.Context, tx *sqlx.Tx, table, insert string, t models.TickerSymbol, rows []T) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE ticker = $1", t.String()); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, t, err)
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := tx.NamedExecContext(ctx, insert, rows); err != nil {
		return fmt.Errorf("insert %s %s: %w", table, t, err)
	}
	return nil
}

func dividendRows(b *models.Snapshot) []dividendRow {
	rows := make([]dividendRow, 0, len(b.Dividends))
	for _, d := range b.Dividends {
		r := dividendRow{
			Ticker:   b.Ticker.String(),
			Kind:     string(d.Kind),
			ExDate:   d.ExDate,
			Amount:   d.Amount,
			Currency: d.Currency,
		}
		if !d.PaymentDate.IsZero() {
			pd := d.PaymentDate
			r.PaymentDate = &pd
		}
		rows = append(rows, r)
	}
	return rows
}

// priceRows keeps the last point for each date.
func priceRows(b *models.Snapshot) []priceRow {
	idx := make(map[int64]int, len(b.Prices))
	rows := make([]priceRow, 0, len(b.Prices))
	for _, p := range b.Prices {
		key := p.Date.Unix()
		if i, ok := idx[key]; ok {
			rows[i].Close = p.Close
			continue
		}
		idx[key] = len(rows)
		rows = append(rows, priceRow{Ticker: b.Ticker.String(), TradedOn: p.Date, Close: p.Close})
	}
	return rows
}
