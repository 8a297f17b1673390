package pipeline

import (
	"fmt"
	"strings"

	"github.com/seenimoa/b3fetch/internal/scraper"
	"github.com/seenimoa/b3fetch/pkg/models"
	"github.com/seenimoa/b3fetch/pkg/utils"
)

// Mapper turns a raw acquisition into a domain record.
type Mapper[R models.Record] func(raw *models.RawAcquisitionResult) (R, error)

// snapshot maps the fields every pipeline shares. Malformed required
// payloads fail the mapping; malformed optional payloads are dropped.
func snapshot(raw *models.RawAcquisitionResult, g models.Group) (models.Snapshot, error) {
	if raw == nil {
		return models.Snapshot{}, fmt.Errorf("nil acquisition")
	}
	currency := raw.Instrument.Currency()
	s := models.Snapshot{
		Ticker:        raw.Ticker,
		Type:          raw.Instrument,
		Name:          displayName(raw.Ticker, raw.Field(scraper.FieldName)),
		Currency:      currency,
		Price:         utils.OptionalNumber(utils.ParseBRL, raw.Field(scraper.FieldPrice)),
		ChangePct:     utils.OptionalNumber(utils.ParsePercent, raw.Field(scraper.FieldChange)),
		DividendYield: utils.OptionalNumber(utils.ParsePercent, raw.Field(scraper.FieldDividendYield)),
		SourceURL:     raw.SourceURL,
		LastUpdated:   raw.CapturedAt,
	}

	prices, err := decodeQuotes(raw.Payload(models.ChannelQuotes))
	if err != nil {
		return s, err
	}
	s.Prices = prices
	if s.Price == nil && len(prices) > 0 {
		last := prices[len(prices)-1].Close
		s.Price = &last
	}

	divs, err := decodeDividends(raw.Payload(models.ChannelDividends), g, currency)
	if err != nil && g == models.GroupREIT {
		return s, err
	}
	s.Dividends = divs
	return s, nil
}

// displayName strips the "TICKER - " prefix the quote page puts in titles.
func displayName(t models.TickerSymbol, title string) string {
	title = strings.TrimSpace(title)
	if prefix := t.String() + " - "; strings.HasPrefix(strings.ToUpper(title), prefix) {
		return strings.TrimSpace(title[len(prefix):])
	}
	return title
}

func optionalInt(s string) *int64 {
	v, err := utils.ParseInt(s)
	if err != nil {
		return nil
	}
	return &v
}

// MapStock maps an equity acquisition.
func MapStock(raw *models.RawAcquisitionResult) (*models.StockRecord, error) {
	s, err := snapshot(raw, models.GroupEquity)
	if err != nil {
		return nil, err
	}
	rec := &models.StockRecord{
		Snapshot: s,
		Fundamentals: models.Fundamentals{
			PE:             utils.OptionalNumber(utils.ParseNumber, raw.Field(scraper.FieldPE)),
			PBV:            utils.OptionalNumber(utils.ParseNumber, raw.Field(scraper.FieldPBV)),
			ROE:            utils.OptionalNumber(utils.ParsePercent, raw.Field(scraper.FieldROE)),
			NetMargin:      utils.OptionalNumber(utils.ParsePercent, raw.Field(scraper.FieldNetMargin)),
			MarketCap:      utils.OptionalNumber(utils.ParseCompact, raw.Field(scraper.FieldMarketCap)),
			DailyLiquidity: utils.OptionalNumber(utils.ParseCompact, raw.Field(scraper.FieldDailyLiquidity)),
			Sector:         raw.Field(scraper.FieldSector),
			Segment:        raw.Field(scraper.FieldSegment),
		},
	}

	if ind, err := decodeIndicators(raw.Payload(models.ChannelIndicators)); err == nil {
		rec.Fundamentals.Indicators = ind
	}
	for _, ch := range []models.Channel{models.ChannelIncomeStatement, models.ChannelBalanceSheet, models.ChannelCashFlow} {
		rows, err := decodeStatement(raw.Payload(ch))
		if err != nil || len(rows) == 0 {
			continue
		}
		if rec.Fundamentals.Statements == nil {
			rec.Fundamentals.Statements = make(map[string][]models.StatementRow)
		}
		rec.Fundamentals.Statements[string(ch)] = rows
	}
	return rec, nil
}

// MapREIT maps a real-estate fund acquisition.
func MapREIT(raw *models.RawAcquisitionResult) (*models.REITRecord, error) {
	s, err := snapshot(raw, models.GroupREIT)
	if err != nil {
		return nil, err
	}
	return &models.REITRecord{
		Snapshot: s,
		Fund: models.FundDetails{
			Segment:          raw.Field(scraper.FieldSegment),
			Administrator:    raw.Field(scraper.FieldAdministrator),
			NAVPerShare:      utils.OptionalNumber(utils.ParseBRL, raw.Field(scraper.FieldNAVPerShare)),
			PVP:              utils.OptionalNumber(utils.ParseNumber, raw.Field(scraper.FieldPVP)),
			NetAssets:        utils.OptionalNumber(utils.ParseCompact, raw.Field(scraper.FieldNetAssets)),
			Vacancy:          utils.OptionalNumber(utils.ParsePercent, raw.Field(scraper.FieldVacancy)),
			ShareholderCount: optionalInt(raw.Field(scraper.FieldShareholders)),
		},
	}, nil
}

// MapETF maps a domestic or foreign-index ETF acquisition.
func MapETF(raw *models.RawAcquisitionResult) (*models.ETFRecord, error) {
	s, err := snapshot(raw, models.GroupETF)
	if err != nil {
		return nil, err
	}
	return &models.ETFRecord{
		Snapshot: s,
		Fund: models.ETFDetails{
			Index:        raw.Field(scraper.FieldIndex),
			AdminFee:     utils.OptionalNumber(utils.ParsePercent, raw.Field(scraper.FieldAdminFee)),
			NetAssets:    utils.OptionalNumber(utils.ParseCompact, raw.Field(scraper.FieldNetAssets)),
			ForeignIndex: raw.Instrument == models.ETFForeignIndex,
		},
	}, nil
}

// MapBDR maps a depositary receipt acquisition.
func MapBDR(raw *models.RawAcquisitionResult) (*models.BDRRecord, error) {
	s, err := snapshot(raw, models.GroupBDR)
	if err != nil {
		return nil, err
	}
	return &models.BDRRecord{
		Snapshot: s,
		Receipt: models.ReceiptDetails{
			Underlying: raw.Field(scraper.FieldUnderlying),
			Sponsored:  raw.Instrument == models.BDRSponsored,
			Parity:     utils.OptionalNumber(utils.ParseNumber, raw.Field(scraper.FieldParity)),
			Sector:     raw.Field(scraper.FieldSector),
		},
	}, nil
}
