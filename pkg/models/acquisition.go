package models

import (
	"encoding/json"
	"time"
)

// Channel is a logical category of in-page network call
// (price history, dividend history, ...) independent of the upstream URL.
type Channel string

const (
	ChannelQuotes          Channel = "quotes"
	ChannelDividends       Channel = "dividends"
	ChannelIndicators      Channel = "indicators"
	ChannelIncomeStatement Channel = "income_statement"
	ChannelBalanceSheet    Channel = "balance_sheet"
	ChannelCashFlow        Channel = "cash_flow"
)

// AllChannels lists every logical channel in matching order.
var AllChannels = []Channel{
	ChannelQuotes,
	ChannelDividends,
	ChannelIndicators,
	ChannelIncomeStatement,
	ChannelBalanceSheet,
	ChannelCashFlow,
}

// CapturedExchange is the first request seen for a channel during one attempt.
type CapturedExchange struct {
	Channel Channel           `json:"channel"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	SeenAt  time.Time         `json:"seen_at"`
}

// Payload is the body retrieved by the follow-up fetch for one channel.
// Empty is true when the channel was never observed or the optional fetch
// failed; Body is then nil.
type Payload struct {
	Channel Channel         `json:"channel"`
	URL     string          `json:"url,omitempty"`
	Status  int             `json:"status,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Empty   bool            `json:"empty"`
	Error   string          `json:"error,omitempty"`
}

// RawAcquisitionResult is everything one successful scrape attempt produced.
// It is not modified after assembly.
type RawAcquisitionResult struct {
	Ticker     TickerSymbol        `json:"ticker"`
	Instrument InstrumentType      `json:"instrument"`
	Engine     string              `json:"engine"`     // browser engine that produced it
	SourceURL  string              `json:"source_url"` // canonical page URL
	Fields     map[string]string   `json:"fields"`     // raw text per profile field
	Payloads   map[Channel]Payload `json:"payloads"`
	CapturedAt time.Time           `json:"captured_at"`
}

// Payload returns the payload for ch. Missing channels read as empty.
func (r *RawAcquisitionResult) Payload(ch Channel) Payload {
	if p, ok := r.Payloads[ch]; ok {
		return p
	}
	return Payload{Channel: ch, Empty: true}
}

// Field returns the raw text extracted for a profile field.
func (r *RawAcquisitionResult) Field(name string) string {
	return r.Fields[name]
}
