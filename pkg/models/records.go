package models

import "time"

// Record is the common surface of every persisted domain record.
type Record interface {
	// Base returns the shared snapshot fields. Mutations are visible
	// through the record.
	Base() *Snapshot
	// DetailsRef returns a pointer to the type-specific details struct.
	DetailsRef() any
}

// Snapshot holds the fields shared by every instrument record.
type Snapshot struct {
	Ticker        TickerSymbol   `json:"ticker"`
	Type          InstrumentType `json:"type"`
	Name          string         `json:"name"`
	Currency      string         `json:"currency"`
	Price         *float64       `json:"price,omitempty"`
	ChangePct     *float64       `json:"change_pct,omitempty"`
	DividendYield *float64       `json:"dividend_yield,omitempty"` // trailing 12m, percent
	SourceURL     string         `json:"source_url"`
	Dividends     []Dividend     `json:"dividends"`
	Prices        []PricePoint   `json:"prices"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// PricePoint is one close in the price history series.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// IndicatorPoint is one yearly value of a fundamental indicator.
type IndicatorPoint struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// StatementRow is one line of a financial statement across periods.
type StatementRow struct {
	Label  string             `json:"label"`
	Values map[string]float64 `json:"values"` // period label → value
}

// --- Equity ---

// Fundamentals are the equity-specific details.
type Fundamentals struct {
	PE             *float64                    `json:"pe,omitempty"`
	PBV            *float64                    `json:"pbv,omitempty"`
	ROE            *float64                    `json:"roe,omitempty"`
	NetMargin      *float64                    `json:"net_margin,omitempty"`
	MarketCap      *float64                    `json:"market_cap,omitempty"`
	DailyLiquidity *float64                    `json:"daily_liquidity,omitempty"`
	Sector         string                      `json:"sector,omitempty"`
	Segment        string                      `json:"segment,omitempty"`
	Indicators     map[string][]IndicatorPoint `json:"indicators,omitempty"`
	Statements     map[string][]StatementRow   `json:"statements,omitempty"` // keyed by channel
}

// StockRecord is a common/preferred share or unit.
type StockRecord struct {
	Snapshot
	Fundamentals Fundamentals `json:"fundamentals"`
}

func (r *StockRecord) Base() *Snapshot { return &r.Snapshot }
func (r *StockRecord) DetailsRef() any { return &r.Fundamentals }

// --- Real-estate fund ---

// FundDetails are the real-estate fund details.
type FundDetails struct {
	Segment          string   `json:"segment,omitempty"`
	Administrator    string   `json:"administrator,omitempty"`
	NAVPerShare      *float64 `json:"nav_per_share,omitempty"`
	PVP              *float64 `json:"pvp,omitempty"`
	NetAssets        *float64 `json:"net_assets,omitempty"`
	Vacancy          *float64 `json:"vacancy,omitempty"`
	ShareholderCount *int64   `json:"shareholder_count,omitempty"`
}

// REITRecord is a fundo de investimento imobiliário.
type REITRecord struct {
	Snapshot
	Fund FundDetails `json:"fund"`
}

func (r *REITRecord) Base() *Snapshot { return &r.Snapshot }
func (r *REITRecord) DetailsRef() any { return &r.Fund }

// --- ETF ---

// ETFDetails are the exchange-traded fund details.
type ETFDetails struct {
	Index        string   `json:"index,omitempty"`
	AdminFee     *float64 `json:"admin_fee,omitempty"`
	NetAssets    *float64 `json:"net_assets,omitempty"`
	ForeignIndex bool     `json:"foreign_index"`
}

// ETFRecord is a domestic or foreign-index ETF.
type ETFRecord struct {
	Snapshot
	Fund ETFDetails `json:"fund"`
}

func (r *ETFRecord) Base() *Snapshot { return &r.Snapshot }
func (r *ETFRecord) DetailsRef() any { return &r.Fund }

// --- Depositary receipt ---

// ReceiptDetails are the BDR details.
type ReceiptDetails struct {
	Underlying string   `json:"underlying,omitempty"`
	Sponsored  bool     `json:"sponsored"`
	Parity     *float64 `json:"parity,omitempty"` // receipts per underlying share
	Sector     string   `json:"sector,omitempty"`
}

// BDRRecord is a Brazilian depositary receipt.
type BDRRecord struct {
	Snapshot
	Receipt ReceiptDetails `json:"receipt"`
}

func (r *BDRRecord) Base() *Snapshot { return &r.Snapshot }
func (r *BDRRecord) DetailsRef() any { return &r.Receipt }
