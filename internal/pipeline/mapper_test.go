package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/b3fetch/internal/scraper"
	"github.com/seenimoa/b3fetch/pkg/models"
	"github.com/seenimoa/b3fetch/pkg/utils"
)

func payload(ch models.Channel, body string) models.Payload {
	return models.Payload{Channel: ch, Status: 200, Body: json.RawMessage(body)}
}

func stockRaw() *models.RawAcquisitionResult {
	return &models.RawAcquisitionResult{
		Ticker:     "PETR4",
		Instrument: models.StockPN,
		Engine:     "chromedp",
		SourceURL:  "https://statusinvest.com.br/acoes/petr4",
		Fields: map[string]string{
			scraper.FieldName:           "PETR4 - PETROBRAS",
			scraper.FieldPrice:          "38,45",
			scraper.FieldChange:         "-1,27%",
			scraper.FieldDividendYield:  "12,30%",
			scraper.FieldPE:             "4,21",
			scraper.FieldROE:            "28,5%",
			scraper.FieldMarketCap:      "R$ 501,2 Bi",
			scraper.FieldDailyLiquidity: "-",
			scraper.FieldSector:         "Petróleo, Gás e Biocombustíveis",
		},
		Payloads: map[models.Channel]models.Payload{
			models.ChannelQuotes: payload(models.ChannelQuotes,
				`[{"prices":[{"price":38.9,"date":"11/03/24 00:00"},{"price":"38,45","date":"12/03/24 00:00"}]}]`),
			models.ChannelDividends: payload(models.ChannelDividends,
				`{"assetEarningsModels":[
					{"ed":"21/02/2024","pd":"20/05/2024","et":"JCP","v":0.55},
					{"ed":"22/11/2023","pd":"20/02/2024","et":"Dividendo","v":"1,10"},
					{"ed":"","et":"Dividendo","v":1}
				]}`),
			models.ChannelIndicators: payload(models.ChannelIndicators,
				`{"data":{"PETR4":[{"key":"pl","ranks":[{"rank":2023,"value":4.5},{"rank":2022,"value":3.1}]}]}}`),
			models.ChannelIncomeStatement: payload(models.ChannelIncomeStatement,
				`{"data":{"grid":[
					{"isHeader":true,"columns":[{"name":"#"},{"value":"2023"},{"value":"2022"}]},
					{"columns":[{"value":"Receita Líquida"},{"value":"511.994.000"},{"value":"641.256.000"}]},
					{"columns":[{"value":"Lucro Líquido"},{"value":"-"},{"value":"-"}]}
				]}}`),
			models.ChannelBalanceSheet: {Channel: models.ChannelBalanceSheet, Empty: true},
			models.ChannelCashFlow:     payload(models.ChannelCashFlow, `not json`),
		},
		CapturedAt: time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC),
	}
}

func TestMapStock(t *testing.T) {
	rec, err := MapStock(stockRaw())
	require.NoError(t, err)

	assert.Equal(t, models.TickerSymbol("PETR4"), rec.Ticker)
	assert.Equal(t, models.StockPN, rec.Type)
	assert.Equal(t, "PETROBRAS", rec.Name)
	assert.Equal(t, "BRL", rec.Currency)
	assert.InDelta(t, 38.45, *rec.Price, 1e-9)
	assert.InDelta(t, -1.27, *rec.ChangePct, 1e-9)
	assert.InDelta(t, 12.3, *rec.DividendYield, 1e-9)

	f := rec.Fundamentals
	assert.InDelta(t, 4.21, *f.PE, 1e-9)
	assert.Nil(t, f.PBV)
	assert.InDelta(t, 28.5, *f.ROE, 1e-9)
	assert.InDelta(t, 501.2e9, *f.MarketCap, 1)
	assert.Nil(t, f.DailyLiquidity, "placeholder maps to nil")
	assert.Equal(t, "Petróleo, Gás e Biocombustíveis", f.Sector)

	require.Len(t, rec.Prices, 2)
	assert.True(t, rec.Prices[0].Date.Before(rec.Prices[1].Date))
	assert.InDelta(t, 38.45, rec.Prices[1].Close, 1e-9)

	require.Len(t, rec.Dividends, 2)
	assert.Equal(t, models.KindDividend, rec.Dividends[0].Kind)
	assert.InDelta(t, 1.10, rec.Dividends[0].Amount, 1e-9)
	assert.Equal(t, models.KindJCP, rec.Dividends[1].Kind)
	assert.Equal(t, time.May, rec.Dividends[1].PaymentDate.Month())
	assert.Equal(t, utils.BRT, rec.Dividends[1].ExDate.Location())

	require.Len(t, f.Indicators["pl"], 2)
	assert.Equal(t, 2022, f.Indicators["pl"][0].Year)

	rows := f.Statements[string(models.ChannelIncomeStatement)]
	require.Len(t, rows, 1)
	assert.Equal(t, "Receita Líquida", rows[0].Label)
	assert.InDelta(t, 511994000.0, rows[0].Values["2023"], 1e-6)
	assert.NotContains(t, f.Statements, string(models.ChannelBalanceSheet))
	assert.NotContains(t, f.Statements, string(models.ChannelCashFlow))
}

func TestMapStockFallsBackToLastQuote(t *testing.T) {
	raw := stockRaw()
	raw.Fields[scraper.FieldPrice] = ""
	rec, err := MapStock(raw)
	require.NoError(t, err)
	assert.InDelta(t, 38.45, *rec.Price, 1e-9)
}

func TestMapStockRejectsMalformedQuotes(t *testing.T) {
	raw := stockRaw()
	raw.Payloads[models.ChannelQuotes] = payload(models.ChannelQuotes, `{"prices": 12}`)
	_, err := MapStock(raw)
	assert.Error(t, err)
}

func TestMapREIT(t *testing.T) {
	raw := &models.RawAcquisitionResult{
		Ticker:     "MXRF11",
		Instrument: models.REIT,
		Fields: map[string]string{
			scraper.FieldName:          "MXRF11 - MAXI RENDA",
			scraper.FieldPrice:         "10,12",
			scraper.FieldSegment:       "Papel",
			scraper.FieldAdministrator: "BTG PACTUAL",
			scraper.FieldNAVPerShare:   "R$ 9,85",
			scraper.FieldPVP:           "1,03",
			scraper.FieldNetAssets:     "R$ 3,12 Bi",
			scraper.FieldVacancy:       "0,00%",
			scraper.FieldShareholders:  "1.180.455",
		},
		Payloads: map[models.Channel]models.Payload{
			models.ChannelDividends: payload(models.ChannelDividends, `[{"ed":"28/02/2024","pd":"14/03/2024","v":0.1}]`),
		},
	}
	rec, err := MapREIT(raw)
	require.NoError(t, err)

	assert.Equal(t, "MAXI RENDA", rec.Name)
	assert.Equal(t, "Papel", rec.Fund.Segment)
	assert.Equal(t, "BTG PACTUAL", rec.Fund.Administrator)
	assert.InDelta(t, 9.85, *rec.Fund.NAVPerShare, 1e-9)
	assert.InDelta(t, 1.03, *rec.Fund.PVP, 1e-9)
	assert.InDelta(t, 3.12e9, *rec.Fund.NetAssets, 1)
	assert.InDelta(t, 0.0, *rec.Fund.Vacancy, 1e-9)
	assert.Equal(t, int64(1180455), *rec.Fund.ShareholderCount)
	require.Len(t, rec.Dividends, 1)
	assert.Equal(t, models.KindIncome, rec.Dividends[0].Kind)
	assert.Empty(t, rec.Prices)
}

func TestMapREITRejectsMalformedDividends(t *testing.T) {
	raw := &models.RawAcquisitionResult{
		Ticker:     "MXRF11",
		Instrument: models.REIT,
		Payloads: map[models.Channel]models.Payload{
			models.ChannelDividends: payload(models.ChannelDividends, `"oops"`),
		},
	}
	_, err := MapREIT(raw)
	assert.Error(t, err)
}

func TestMapETFAndBDR(t *testing.T) {
	etf, err := MapETF(&models.RawAcquisitionResult{
		Ticker:     "IVVB11",
		Instrument: models.ETFForeignIndex,
		Fields: map[string]string{
			scraper.FieldIndex:    "S&P 500",
			scraper.FieldAdminFee: "0,23%",
		},
	})
	require.NoError(t, err)
	assert.True(t, etf.Fund.ForeignIndex)
	assert.Equal(t, "S&P 500", etf.Fund.Index)
	assert.InDelta(t, 0.23, *etf.Fund.AdminFee, 1e-9)
	assert.Nil(t, etf.Fund.NetAssets)

	bdr, err := MapBDR(&models.RawAcquisitionResult{
		Ticker:     "AAPL34",
		Instrument: models.BDRUnsponsored,
		Fields: map[string]string{
			scraper.FieldUnderlying: "AAPL",
			scraper.FieldParity:     "20",
			scraper.FieldPrice:      "R$ 54,30",
		},
	})
	require.NoError(t, err)
	assert.False(t, bdr.Receipt.Sponsored)
	assert.Equal(t, "AAPL", bdr.Receipt.Underlying)
	assert.InDelta(t, 20.0, *bdr.Receipt.Parity, 1e-9)
	assert.InDelta(t, 54.3, *bdr.Price, 1e-9)
}

func TestDividendKind(t *testing.T) {
	assert.Equal(t, models.KindJCP, dividendKind("Juros sobre capital próprio", models.GroupEquity))
	assert.Equal(t, models.KindIncome, dividendKind("Rendimento", models.GroupREIT))
	assert.Equal(t, models.KindIncome, dividendKind("", models.GroupREIT))
	assert.Equal(t, models.KindDividend, dividendKind("", models.GroupEquity))
	assert.Equal(t, models.KindOther, dividendKind("Bonificação", models.GroupEquity))
}
