package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/b3fetch/pkg/models"
	"github.com/seenimoa/b3fetch/pkg/utils"
)

// flexFloat decodes a JSON number or a localized numeric string.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = flexFloat{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := utils.ParseCompact(s)
		if err != nil {
			*f = flexFloat{}
			return nil
		}
		*f = flexFloat{Value: v, Valid: true}
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("decode number %s: %w", b, err)
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

// parseDay reads the date part of "14/10/24 00:00" style timestamps.
func parseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	t, err := utils.ParseDateBR(s)
	return t, err == nil
}

// --- quotes ---

type quoteSeries struct {
	Prices []struct {
		Price flexFloat `json:"price"`
		Date  string    `json:"date"`
	} `json:"prices"`
}

// decodeQuotes accepts either a list of series or a single series and
// returns the points ordered by date.
func decodeQuotes(p models.Payload) ([]models.PricePoint, error) {
	if p.Empty || len(p.Body) == 0 {
		return nil, nil
	}
	var series []quoteSeries
	if err := json.Unmarshal(p.Body, &series); err != nil {
		var one quoteSeries
		if err2 := json.Unmarshal(p.Body, &one); err2 != nil {
			return nil, fmt.Errorf("decode %s payload: %w", p.Channel, err)
		}
		series = []quoteSeries{one}
	}

	var out []models.PricePoint
	for _, s := range series {
		for _, pt := range s.Prices {
			day, ok := parseDay(pt.Date)
			if !ok || !pt.Price.Valid {
				continue
			}
			out = append(out, models.PricePoint{Date: day, Close: pt.Price.Value})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// --- dividends ---

type earning struct {
	ExDate      string    `json:"ed"`
	PaymentDate string    `json:"pd"`
	Type        string    `json:"et"`
	Value       flexFloat `json:"v"`
}

type earningsEnvelope struct {
	Models []earning `json:"assetEarningsModels"`
}

// dividendKind maps the upstream distribution label onto a DividendKind.
func dividendKind(label string, g models.Group) models.DividendKind {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(l, "jcp"), strings.Contains(l, "juros"):
		return models.KindJCP
	case strings.Contains(l, "rendimento"):
		return models.KindIncome
	case strings.Contains(l, "dividendo"):
		return models.KindDividend
	case l == "" && g == models.GroupREIT:
		return models.KindIncome
	case l == "":
		return models.KindDividend
	default:
		return models.KindOther
	}
}

// decodeDividends returns the distributions ordered by ex-date. Entries
// without a parseable ex-date or amount are skipped; the rest are
// validated later by the gateway.
func decodeDividends(p models.Payload, g models.Group, currency string) ([]models.Dividend, error) {
	if p.Empty || len(p.Body) == 0 {
		return nil, nil
	}
	var env earningsEnvelope
	if err := json.Unmarshal(p.Body, &env); err != nil {
		var list []earning
		if err2 := json.Unmarshal(p.Body, &list); err2 != nil {
			return nil, fmt.Errorf("decode %s payload: %w", p.Channel, err)
		}
		env.Models = list
	}

	out := make([]models.Dividend, 0, len(env.Models))
	for _, e := range env.Models {
		ex, ok := parseDay(e.ExDate)
		if !ok || !e.Value.Valid {
			continue
		}
		d := models.Dividend{
			Kind:     dividendKind(e.Type, g),
			ExDate:   ex,
			Amount:   e.Value.Value,
			Currency: currency,
		}
		if pd, ok := parseDay(e.PaymentDate); ok {
			d.PaymentDate = pd
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExDate.Before(out[j].ExDate) })
	return out, nil
}

// --- indicators ---

type indicatorHistory struct {
	Key   string `json:"key"`
	Ranks []struct {
		Rank  int       `json:"rank"`
		Value flexFloat `json:"value"`
	} `json:"ranks"`
}

// decodeIndicators reads {"data": {"<TICKER>": [history...]}} or a bare
// history list.
func decodeIndicators(p models.Payload) (map[string][]models.IndicatorPoint, error) {
	if p.Empty || len(p.Body) == 0 {
		return nil, nil
	}
	var histories []indicatorHistory
	var env struct {
		Data map[string][]indicatorHistory `json:"data"`
	}
	if err := json.Unmarshal(p.Body, &env); err == nil && env.Data != nil {
		for _, h := range env.Data {
			histories = append(histories, h...)
		}
	} else if err := json.Unmarshal(p.Body, &histories); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.Channel, err)
	}

	out := make(map[string][]models.IndicatorPoint, len(histories))
	for _, h := range histories {
		if h.Key == "" {
			continue
		}
		for _, r := range h.Ranks {
			if !r.Value.Valid || r.Rank == 0 {
				continue
			}
			out[h.Key] = append(out[h.Key], models.IndicatorPoint{Year: r.Rank, Value: r.Value.Value})
		}
		sort.Slice(out[h.Key], func(i, j int) bool { return out[h.Key][i].Year < out[h.Key][j].Year })
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// --- statements ---

type gridRow struct {
	IsHeader bool `json:"isHeader"`
	Columns  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"columns"`
}

// decodeStatement reads a statement grid: a header row naming the periods
// followed by one row per line item.
func decodeStatement(p models.Payload) ([]models.StatementRow, error) {
	if p.Empty || len(p.Body) == 0 {
		return nil, nil
	}
	var env struct {
		Data struct {
			Grid []gridRow `json:"grid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(p.Body, &env); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.Channel, err)
	}

	var periods []string
	var out []models.StatementRow
	for _, row := range env.Data.Grid {
		if len(row.Columns) < 2 {
			continue
		}
		if row.IsHeader {
			periods = periods[:0]
			for _, c := range row.Columns[1:] {
				periods = append(periods, strings.TrimSpace(firstNonEmpty(c.Value, c.Name)))
			}
			continue
		}
		sr := models.StatementRow{
			Label:  strings.TrimSpace(firstNonEmpty(row.Columns[0].Value, row.Columns[0].Name)),
			Values: make(map[string]float64, len(row.Columns)-1),
		}
		for i, c := range row.Columns[1:] {
			if i >= len(periods) {
				break
			}
			if v, err := utils.ParseCompact(c.Value); err == nil {
				sr.Values[periods[i]] = v
			}
		}
		if sr.Label != "" && len(sr.Values) > 0 {
			out = append(out, sr)
		}
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
