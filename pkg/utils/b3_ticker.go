package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// tickerPattern matches B3 cash-market symbols: four letters, one or two
// digits and the optional "B" used by some real-estate fund classes.
var tickerPattern = regexp.MustCompile(`^[A-Z]{4}[0-9]{1,2}B?$`)

// NormalizeTicker normalizes user input to the canonical B3 symbol.
// It uppercases, trims, and strips the "$" chat prefix, the Yahoo ".SA"
// suffix and the fractional-market "F" suffix (PETR4F → PETR4).
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))
	ticker = strings.TrimPrefix(ticker, "$")
	ticker = strings.TrimSuffix(ticker, ".SA")

	if len(ticker) > 5 && strings.HasSuffix(ticker, "F") {
		if trimmed := ticker[:len(ticker)-1]; tickerPattern.MatchString(trimmed) {
			ticker = trimmed
		}
	}
	return ticker
}

// IsValidTicker reports whether a normalized ticker is syntactically valid.
func IsValidTicker(ticker string) bool {
	return tickerPattern.MatchString(ticker)
}

// SplitTicker returns the four-letter root and the class suffix of a valid
// ticker ("BOVA11" → "BOVA", "11"). ok is false for invalid input.
func SplitTicker(ticker string) (root, suffix string, ok bool) {
	if !IsValidTicker(ticker) {
		return "", "", false
	}
	return ticker[:4], ticker[4:], true
}

// SuffixNumber returns the numeric part of the class suffix ("11B" → 11).
func SuffixNumber(ticker string) (int, bool) {
	_, suffix, ok := SplitTicker(ticker)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(suffix, "B"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ToYahooTicker converts a B3 ticker to Yahoo Finance format by appending .SA.
func ToYahooTicker(ticker string) string {
	ticker = NormalizeTicker(ticker)
	if strings.HasSuffix(ticker, ".SA") {
		return ticker
	}
	return ticker + ".SA"
}

// FromYahooTicker strips the .SA suffix.
func FromYahooTicker(yahooTicker string) string {
	return strings.TrimSuffix(strings.ToUpper(yahooTicker), ".SA")
}
