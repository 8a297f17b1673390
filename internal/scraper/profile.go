package scraper

import (
	"strings"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// Profile describes how one instrument group's page is laid out.
type Profile struct {
	Group        models.Group
	PathTemplate string // "{ticker}" is replaced by the lower-cased ticker

	// ReadyMarkers are selectors that appear once the page is rendered
	// enough to read. Any one of them is sufficient.
	ReadyMarkers []string
	// RequiredContainers are the data sections of the page. A page with
	// none of them has changed layout; a page missing only some is sparse.
	RequiredContainers []string
	// Fields maps a field name to the selector whose text holds it.
	Fields map[string]string

	RequiredChannels []models.Channel
	OptionalChannels []models.Channel

	// NotFoundMarkers and AntiBotMarkers are case-insensitive substrings
	// searched in the page HTML.
	NotFoundMarkers []string
	AntiBotMarkers  []string
}

// URL returns the page URL for ticker under base.
func (p Profile) URL(base string, ticker models.TickerSymbol) string {
	path := strings.ReplaceAll(p.PathTemplate, "{ticker}", strings.ToLower(ticker.String()))
	return strings.TrimRight(base, "/") + path
}

// Channels returns the required channels followed by the optional ones.
func (p Profile) Channels() []models.Channel {
	out := make([]models.Channel, 0, len(p.RequiredChannels)+len(p.OptionalChannels))
	out = append(out, p.RequiredChannels...)
	return append(out, p.OptionalChannels...)
}

// IsRequired reports whether ch must be captured.
func (p Profile) IsRequired(ch models.Channel) bool {
	for _, r := range p.RequiredChannels {
		if r == ch {
			return true
		}
	}
	return false
}

// Field names shared by the profiles and the mappers.
const (
	FieldName          = "name"
	FieldPrice         = "price"
	FieldChange        = "change"
	FieldDividendYield = "dividend_yield"

	FieldPE             = "pe"
	FieldPBV            = "pbv"
	FieldROE            = "roe"
	FieldNetMargin      = "net_margin"
	FieldMarketCap      = "market_cap"
	FieldDailyLiquidity = "daily_liquidity"
	FieldSector         = "sector"
	FieldSegment        = "segment"

	FieldAdministrator = "administrator"
	FieldNAVPerShare   = "nav_per_share"
	FieldPVP           = "pvp"
	FieldNetAssets     = "net_assets"
	FieldVacancy       = "vacancy"
	FieldShareholders  = "shareholders"

	FieldIndex    = "index"
	FieldAdminFee = "admin_fee"

	FieldUnderlying = "underlying"
	FieldParity     = "parity"
)

var (
	notFoundMarkers = []string{
		"não encontramos o que você está procurando",
		"página não encontrada",
		`<title>404`,
	}
	antiBotMarkers = []string{
		"cf-browser-verification",
		"cf-challenge",
		"challenge-platform",
		"just a moment...",
		"attention required! | cloudflare",
		"g-recaptcha",
		"hcaptcha",
		"access denied",
	}
	topInfo = []string{"div.top-info"}

	snapshotFields = map[string]string{
		FieldName:          "h1[title]",
		FieldPrice:         `div[title="Valor atual do ativo"] strong.value`,
		FieldChange:        `span[title="Variação do valor do ativo com base no dia anterior"] b`,
		FieldDividendYield: `div[title="Dividend Yield com base nos últimos 12 meses"] strong.value`,
	}
)

func withSnapshot(fields map[string]string) map[string]string {
	out := make(map[string]string, len(snapshotFields)+len(fields))
	for k, v := range snapshotFields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// StockProfile covers ON/PN shares and units.
func StockProfile() Profile {
	return Profile{
		Group:              models.GroupEquity,
		PathTemplate:       "/acoes/{ticker}",
		ReadyMarkers:       []string{"div.top-info", "#indicators-section"},
		RequiredContainers: []string{"div.top-info", "#indicators-section"},
		Fields: withSnapshot(map[string]string{
			FieldPE:             `#indicators-section div[data-indicator="pl"] strong.value`,
			FieldPBV:            `#indicators-section div[data-indicator="pvp"] strong.value`,
			FieldROE:            `#indicators-section div[data-indicator="roe"] strong.value`,
			FieldNetMargin:      `#indicators-section div[data-indicator="margem_liquida"] strong.value`,
			FieldMarketCap:      `div[title="O valor da ação multiplicado pelo número de ações existentes"] strong.value`,
			FieldDailyLiquidity: `div[title="Média diária do volume negociado nos últimos 2 meses"] strong.value`,
			FieldSector:         `div.company-segment a[href*="setor"] strong.value`,
			FieldSegment:        `div.company-segment a[href*="segmento"] strong.value`,
		}),
		RequiredChannels: []models.Channel{models.ChannelQuotes},
		OptionalChannels: []models.Channel{
			models.ChannelDividends,
			models.ChannelIndicators,
			models.ChannelIncomeStatement,
			models.ChannelBalanceSheet,
			models.ChannelCashFlow,
		},
		NotFoundMarkers: notFoundMarkers,
		AntiBotMarkers:  antiBotMarkers,
	}
}

// REITProfile covers fundos imobiliários.
func REITProfile() Profile {
	return Profile{
		Group:              models.GroupREIT,
		PathTemplate:       "/fundos-imobiliarios/{ticker}",
		ReadyMarkers:       topInfo,
		RequiredContainers: topInfo,
		Fields: withSnapshot(map[string]string{
			FieldSegment:       `div[title="Segmento de atuação do fundo"] strong.value`,
			FieldAdministrator: `div.card-administrator strong.value`,
			FieldNAVPerShare:   `div[title="Valor patrimonial por cota"] strong.value`,
			FieldPVP:           `div[title="Preço/Valor Patrimonial"] strong.value`,
			FieldNetAssets:     `div[title="Patrimônio líquido"] strong.value`,
			FieldVacancy:       `div[title="Vacância física"] strong.value`,
			FieldShareholders:  `div[title="Número de cotistas"] strong.value`,
		}),
		RequiredChannels: []models.Channel{models.ChannelQuotes, models.ChannelDividends},
		OptionalChannels: []models.Channel{models.ChannelIndicators},
		NotFoundMarkers:  notFoundMarkers,
		AntiBotMarkers:   antiBotMarkers,
	}
}

// ETFProfile covers domestic and foreign-index ETFs.
func ETFProfile() Profile {
	return Profile{
		Group:              models.GroupETF,
		PathTemplate:       "/etfs/{ticker}",
		ReadyMarkers:       topInfo,
		RequiredContainers: topInfo,
		Fields: withSnapshot(map[string]string{
			FieldIndex:     `div[title="Índice de referência"] strong.value`,
			FieldAdminFee:  `div[title="Taxa de administração"] strong.value`,
			FieldNetAssets: `div[title="Patrimônio líquido"] strong.value`,
		}),
		RequiredChannels: []models.Channel{models.ChannelQuotes},
		OptionalChannels: []models.Channel{models.ChannelDividends},
		NotFoundMarkers:  notFoundMarkers,
		AntiBotMarkers:   antiBotMarkers,
	}
}

// BDRProfile covers sponsored and unsponsored BDRs.
func BDRProfile() Profile {
	return Profile{
		Group:              models.GroupBDR,
		PathTemplate:       "/bdrs/{ticker}",
		ReadyMarkers:       topInfo,
		RequiredContainers: topInfo,
		Fields: withSnapshot(map[string]string{
			FieldUnderlying: `div[title="Ativo no exterior"] strong.value`,
			FieldParity:     `div[title="Paridade"] strong.value`,
			FieldSector:     `div.company-segment a[href*="setor"] strong.value`,
		}),
		RequiredChannels: []models.Channel{models.ChannelQuotes},
		OptionalChannels: []models.Channel{models.ChannelDividends, models.ChannelIndicators},
		NotFoundMarkers:  notFoundMarkers,
		AntiBotMarkers:   antiBotMarkers,
	}
}

// DefaultProfiles returns the built-in profile per group.
func DefaultProfiles() map[models.Group]Profile {
	return map[models.Group]Profile{
		models.GroupEquity: StockProfile(),
		models.GroupREIT:   REITProfile(),
		models.GroupETF:    ETFProfile(),
		models.GroupBDR:    BDRProfile(),
	}
}
