package utils

import (
	"time"
)

// BRT is the Brasília time location used by B3.
var BRT *time.Location

func init() {
	var err error
	BRT, err = time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		// Brazil has not observed DST since 2019.
		BRT = time.FixedZone("BRT", -3*60*60)
	}
}

// NowBRT returns the current time in BRT.
func NowBRT() time.Time {
	return time.Now().In(BRT)
}

// ToBRT converts a time.Time to BRT.
func ToBRT(t time.Time) time.Time {
	return t.In(BRT)
}

// MarketOpenTime returns the B3 regular session opening (10:00 BRT).
func MarketOpenTime(date time.Time) time.Time {
	d := date.In(BRT)
	return time.Date(d.Year(), d.Month(), d.Day(), 10, 0, 0, 0, BRT)
}

// MarketCloseTime returns the B3 regular session close (17:00 BRT).
func MarketCloseTime(date time.Time) time.Time {
	d := date.In(BRT)
	return time.Date(d.Year(), d.Month(), d.Day(), 17, 0, 0, 0, BRT)
}

// PreOpenStart returns the opening auction start (09:45 BRT).
func PreOpenStart(date time.Time) time.Time {
	d := date.In(BRT)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 45, 0, 0, BRT)
}

// IsMarketOpenAt checks if the B3 regular session would be open at t.
func IsMarketOpenAt(t time.Time) bool {
	t = t.In(BRT)
	if !IsTradingDay(t) {
		return false
	}
	return !t.Before(MarketOpenTime(t)) && !t.After(MarketCloseTime(t))
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(BRT)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsTradingHoliday(t)
}

// IsTradingHoliday checks if the given date is a B3 trading holiday.
func IsTradingHoliday(t time.Time) bool {
	_, ok := b3Holidays[t.In(BRT).Format("2006-01-02")]
	return ok
}

// B3 trading holidays for 2026 (update annually).
var b3Holidays = map[string]string{
	"2026-01-01": "Confraternização Universal",
	"2026-02-16": "Carnaval",
	"2026-02-17": "Carnaval",
	"2026-04-03": "Sexta-feira Santa",
	"2026-04-21": "Tiradentes",
	"2026-05-01": "Dia do Trabalho",
	"2026-06-04": "Corpus Christi",
	"2026-11-20": "Consciência Negra",
	"2026-12-24": "Véspera de Natal",
	"2026-12-25": "Natal",
	"2026-12-31": "Último dia útil do ano",
}

// MarketStatus returns the B3 session status at t.
func MarketStatus(t time.Time) string {
	now := t.In(BRT)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}
	if holiday, ok := b3Holidays[now.Format("2006-01-02")]; ok {
		return "CLOSED (" + holiday + ")"
	}

	switch {
	case now.Before(PreOpenStart(now)):
		return "PRE-MARKET"
	case now.Before(MarketOpenTime(now)):
		return "PRE-OPEN AUCTION"
	case !now.After(MarketCloseTime(now)):
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// FormatDateBRT formats t as "02/01/2006" in BRT.
func FormatDateBRT(t time.Time) string {
	return t.In(BRT).Format("02/01/2006")
}
