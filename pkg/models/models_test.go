package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseTicker(t *testing.T) {
	tests := []struct {
		input string
		want  TickerSymbol
		valid bool
	}{
		{" petr4 ", "PETR4", true},
		{"$VALE3", "VALE3", true},
		{"BOVA11.SA", "BOVA11", true},
		{"PETR4F", "PETR4", true},
		{"KNRI11", "KNRI11", true},
		{"AAPL34", "AAPL34", true},
		{"XPTO11B", "XPTO11B", true},
		{"AB3", "AB3", false},
		{"PETR", "PETR", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseTicker(tt.input)
			if got != tt.want {
				t.Errorf("ParseTicker(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if got.Valid() != tt.valid {
				t.Errorf("ParseTicker(%q).Valid() = %v, want %v", tt.input, got.Valid(), tt.valid)
			}
		})
	}
}

func TestInstrumentTypeGroup(t *testing.T) {
	tests := []struct {
		it   InstrumentType
		want Group
	}{
		{StockON, GroupEquity},
		{StockPND, GroupEquity},
		{Unit, GroupEquity},
		{REIT, GroupREIT},
		{ETF, GroupETF},
		{ETFForeignIndex, GroupETF},
		{BDRSponsored, GroupBDR},
		{BDRUnsponsored, GroupBDR},
		{Unknown, GroupNone},
	}

	for _, tt := range tests {
		t.Run(string(tt.it), func(t *testing.T) {
			if got := tt.it.Group(); got != tt.want {
				t.Errorf("%s.Group() = %s, want %s", tt.it, got, tt.want)
			}
		})
	}
}

func TestParseInstrumentType(t *testing.T) {
	for _, it := range AllInstrumentTypes {
		if got := ParseInstrumentType(string(it)); got != it {
			t.Errorf("ParseInstrumentType(%q) = %s", it, got)
		}
	}
	if got := ParseInstrumentType("bogus"); got != Unknown {
		t.Errorf("ParseInstrumentType(bogus) = %s, want UNKNOWN", got)
	}
}

func TestDividendValidate(t *testing.T) {
	ex := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		d     Dividend
		field string
	}{
		{"valid", Dividend{Kind: KindDividend, ExDate: ex, Amount: 0.5, Currency: "BRL"}, ""},
		{"zero amount allowed", Dividend{Kind: KindJCP, ExDate: ex, Amount: 0, Currency: "BRL"}, ""},
		{"missing currency", Dividend{ExDate: ex, Amount: 1}, "currency"},
		{"negative amount", Dividend{ExDate: ex, Amount: -1, Currency: "BRL"}, "amount"},
		{"nan amount", Dividend{ExDate: ex, Amount: math.NaN(), Currency: "BRL"}, "amount"},
		{"missing ex date", Dividend{Amount: 1, Currency: "BRL"}, "ex_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("ValidationError.Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestValidDividends(t *testing.T) {
	ex := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	in := []Dividend{
		{ExDate: ex, Amount: 1, Currency: "BRL"},
		{ExDate: ex, Amount: -2, Currency: "BRL"},
		{ExDate: ex, Amount: 3},
		{ExDate: ex.AddDate(0, 1, 0), Amount: 4, Currency: "BRL"},
	}
	out, errs := ValidDividends(in)
	if len(out) != 2 || out[0].Amount != 1 || out[1].Amount != 4 {
		t.Errorf("ValidDividends kept %+v", out)
	}
	if len(errs) != 2 {
		t.Errorf("ValidDividends errors = %d, want 2", len(errs))
	}
}

func TestRecordBaseSharesSnapshot(t *testing.T) {
	var r Record = &REITRecord{}
	r.Base().Ticker = "KNRI11"
	r.DetailsRef().(*FundDetails).Segment = "Logística"

	reit := r.(*REITRecord)
	if reit.Ticker != "KNRI11" || reit.Fund.Segment != "Logística" {
		t.Errorf("Base/DetailsRef did not mutate the record: %+v", reit)
	}
}

func TestRawAcquisitionMissingChannelIsEmpty(t *testing.T) {
	raw := &RawAcquisitionResult{Payloads: map[Channel]Payload{}}
	p := raw.Payload(ChannelDividends)
	if !p.Empty || p.Channel != ChannelDividends {
		t.Errorf("Payload(missing) = %+v, want empty dividends payload", p)
	}
}
