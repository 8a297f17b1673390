// Package utils provides the value parsers and formatting helpers shared by
// every b3fetch component. Everything here is pure: no I/O, no globals
// beyond immutable lookup tables.
package utils

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrNoValue is returned when the input is an upstream placeholder such as
// "-" or "N/A" rather than a malformed number.
var ErrNoValue = errors.New("no value")

// ErrInvalidValue is wrapped by every *ParseError.
var ErrInvalidValue = errors.New("invalid value")

// ParseError describes a localized value that could not be parsed.
type ParseError struct {
	Input string
	Kind  string // "number", "currency", "percent", "compact", "date"
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Kind, e.Input, ErrInvalidValue)
}

func (e *ParseError) Unwrap() error { return ErrInvalidValue }

var placeholders = map[string]struct{}{
	"":     {},
	"-":    {},
	"--":   {},
	"—":    {},
	"N/A":  {},
	"NA":   {},
	"N/D":  {},
	"ND":   {},
	"NULL": {},
}

// IsPlaceholder reports whether s carries no value.
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToUpper(clean(s))]
	return ok
}

// ParseNumber parses a pt-BR or plain decimal number.
//
// When both '.' and ',' appear the rightmost one is the decimal separator.
// A single ',' is decimal. A single '.' followed by exactly three digits is
// a thousands separator ("1.234" is 1234), otherwise decimal.
func ParseNumber(s string) (float64, error) {
	return parseNumber(s, "number")
}

// ParseBRL parses a currency string such as "R$ 1.234,56" or "US$ 12,00".
func ParseBRL(s string) (float64, error) {
	return parseNumber(stripCurrency(s), "currency")
}

// ParsePercent parses "12,5%" into 12.5.
func ParsePercent(s string) (float64, error) {
	return parseNumber(strings.ReplaceAll(s, "%", ""), "percent")
}

// compactScales maps magnitude suffixes, lower-cased, to multipliers.
var compactScales = map[string]float64{
	"k":        1e3,
	"mil":      1e3,
	"m":        1e6,
	"mi":       1e6,
	"mm":       1e6,
	"milhão":   1e6,
	"milhao":   1e6,
	"milhões":  1e6,
	"milhoes":  1e6,
	"b":        1e9,
	"bi":       1e9,
	"bilhão":   1e9,
	"bilhao":   1e9,
	"bilhões":  1e9,
	"bilhoes":  1e9,
	"t":        1e12,
	"tri":      1e12,
	"trilhão":  1e12,
	"trilhao":  1e12,
	"trilhões": 1e12,
	"trilhoes": 1e12,
}

// ParseCompact parses magnitude-suffixed values: "R$ 1,23 Bi", "45,6 Mi",
// "980 Mil". A value without suffix is parsed as a plain number.
func ParseCompact(s string) (float64, error) {
	body := strings.TrimSpace(stripCurrency(s))
	if IsPlaceholder(body) {
		return 0, ErrNoValue
	}

	end := len(body)
	for end > 0 {
		r := rune(body[end-1])
		if r < 0x80 && !unicode.IsLetter(r) {
			break
		}
		end--
	}
	suffix := strings.ToLower(strings.TrimSpace(body[end:]))
	numPart := strings.TrimSpace(body[:end])

	scale := 1.0
	if suffix != "" {
		m, ok := compactScales[suffix]
		if !ok {
			return 0, &ParseError{Input: s, Kind: "compact"}
		}
		scale = m
	}

	v, err := parseNumber(numPart, "compact")
	if err != nil {
		return 0, &ParseError{Input: s, Kind: "compact"}
	}
	return v * scale, nil
}

// ParseInt parses an integer using '.' as thousands separator ("1.234.567").
func ParseInt(s string) (int64, error) {
	v, err := parseNumber(s, "number")
	if err != nil {
		return 0, err
	}
	return int64(math.Round(v)), nil
}

var dateLayouts = []string{
	"02/01/2006",
	"02/01/06",
	"2006-01-02",
	"02/01/2006 15:04",
	"2006-01-02T15:04:05",
}

// ParseDateBR parses dd/mm/yyyy (and a few ISO variants) in Brazilian time.
func ParseDateBR(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if IsPlaceholder(s) {
		return time.Time{}, ErrNoValue
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, BRT); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ParseError{Input: s, Kind: "date"}
}

// OptionalNumber applies fn and converts "no value" into nil. Malformed
// input also yields nil; callers that need to distinguish call fn directly.
func OptionalNumber(fn func(string) (float64, error), s string) *float64 {
	v, err := fn(s)
	if err != nil {
		return nil
	}
	return &v
}

// --- Formatting ---

// FormatBRL formats an amount as "R$ 1.234,56".
func FormatBRL(amount float64) string {
	prefix := "R$ "
	if amount < 0 {
		prefix = "-R$ "
		amount = -amount
	}
	return prefix + formatDecimal(amount, 2)
}

// FormatBRLCompact formats large amounts with pt-BR magnitude suffixes.
// e.g., 1230000000 → "R$ 1,23 Bi"
func FormatBRLCompact(amount float64) string {
	prefix := "R$ "
	if amount < 0 {
		prefix = "-R$ "
		amount = -amount
	}

	switch {
	case amount >= 1e12:
		return prefix + trimZeros(formatDecimal(amount/1e12, 2)) + " Tri"
	case amount >= 1e9:
		return prefix + trimZeros(formatDecimal(amount/1e9, 2)) + " Bi"
	case amount >= 1e6:
		return prefix + trimZeros(formatDecimal(amount/1e6, 2)) + " Mi"
	case amount >= 1e3:
		return prefix + trimZeros(formatDecimal(amount/1e3, 2)) + " Mil"
	default:
		return prefix + formatDecimal(amount, 2)
	}
}

// FormatPct formats a percentage with sign: 2.45 → "+2,45%".
func FormatPct(pct float64) string {
	sign := "+"
	if pct < 0 {
		sign = "-"
		pct = -pct
	}
	return sign + formatDecimal(pct, 2) + "%"
}

// --- Helpers ---

func parseNumber(s, kind string) (float64, error) {
	raw := s
	s = clean(s)
	if _, ok := placeholders[strings.ToUpper(s)]; ok {
		return 0, ErrNoValue
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		negative = true
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return 0, &ParseError{Input: raw, Kind: kind}
	}

	s = normalizeSeparators(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ParseError{Input: raw, Kind: kind}
	}
	if negative {
		v = -v
	}
	return v, nil
}

// normalizeSeparators rewrites s so strconv can parse it.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 && lastDot > 0 && s[:lastDot] != "0" {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

func stripCurrency(s string) string {
	s = strings.TrimSpace(s)
	for _, sym := range []string{"US$", "R$", "$"} {
		if idx := strings.Index(s, sym); idx >= 0 {
			s = s[:idx] + s[idx+len(sym):]
			break
		}
	}
	return s
}

// clean removes every kind of whitespace, including the non-breaking spaces
// the quote pages put between symbol and amount.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ' ' {
			return -1
		}
		return r
	}, s)
}

// formatDecimal renders n with pt-BR separators: 1234.5 → "1.234,50".
func formatDecimal(n float64, decimals int) string {
	s := strconv.FormatFloat(n, 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}

func trimZeros(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ",")
}
