// Package models defines the core data structures used throughout b3fetch.
package models

import (
	"strings"

	"github.com/seenimoa/b3fetch/pkg/utils"
)

// TickerSymbol is a normalized B3 ticker (trimmed, upper-cased).
type TickerSymbol string

// ParseTicker normalizes raw user input into a TickerSymbol.
func ParseTicker(raw string) TickerSymbol {
	return TickerSymbol(utils.NormalizeTicker(raw))
}

// Valid reports whether the symbol is a syntactically valid B3 ticker.
func (t TickerSymbol) Valid() bool { return utils.IsValidTicker(string(t)) }

func (t TickerSymbol) String() string { return string(t) }

// InstrumentType is the closed set of instrument categories.
type InstrumentType string

const (
	StockON         InstrumentType = "STOCK_ON"  // common share (suffix 3)
	StockPN         InstrumentType = "STOCK_PN"  // preferred share (suffix 4)
	StockPNA        InstrumentType = "STOCK_PNA" // preferred class A (suffix 5)
	StockPNB        InstrumentType = "STOCK_PNB" // preferred class B (suffix 6)
	StockPNC        InstrumentType = "STOCK_PNC" // preferred class C (suffix 7)
	StockPND        InstrumentType = "STOCK_PND" // preferred class D (suffix 8)
	Unit            InstrumentType = "UNIT"      // share certificate bundle (suffix 11)
	REIT            InstrumentType = "REIT"      // fundo imobiliário, FII (suffix 11)
	ETF             InstrumentType = "ETF"
	ETFForeignIndex InstrumentType = "ETF_FOREIGN_INDEX"
	BDRSponsored    InstrumentType = "BDR_SPONSORED"   // suffix 31-33
	BDRUnsponsored  InstrumentType = "BDR_UNSPONSORED" // suffix 34, 35, 39
	Unknown         InstrumentType = "UNKNOWN"
)

// AllInstrumentTypes lists every InstrumentType, Unknown last.
var AllInstrumentTypes = []InstrumentType{
	StockON, StockPN, StockPNA, StockPNB, StockPNC, StockPND, Unit,
	REIT, ETF, ETFForeignIndex, BDRSponsored, BDRUnsponsored, Unknown,
}

// ParseInstrumentType maps a stored string back to an InstrumentType.
// Unrecognized input yields Unknown.
func ParseInstrumentType(s string) InstrumentType {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, it := range AllInstrumentTypes {
		if string(it) == s {
			return it
		}
	}
	return Unknown
}

// Group is the acquisition pipeline an instrument type belongs to.
type Group string

const (
	GroupEquity Group = "equity"
	GroupREIT   Group = "reit"
	GroupETF    Group = "etf"
	GroupBDR    Group = "bdr"
	GroupNone   Group = "none"
)

// Groups lists the groups that have a pipeline.
var Groups = []Group{GroupEquity, GroupREIT, GroupETF, GroupBDR}

// Group returns the pipeline group for the instrument type.
func (t InstrumentType) Group() Group {
	switch t {
	case StockON, StockPN, StockPNA, StockPNB, StockPNC, StockPND, Unit:
		return GroupEquity
	case REIT:
		return GroupREIT
	case ETF, ETFForeignIndex:
		return GroupETF
	case BDRSponsored, BDRUnsponsored:
		return GroupBDR
	default:
		return GroupNone
	}
}

// Currency returns the quote currency used on B3 (always BRL, including BDRs).
func (t InstrumentType) Currency() string { return "BRL" }

func (t InstrumentType) String() string { return string(t) }
