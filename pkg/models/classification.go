package models

import "time"

// ClassificationMethod records how a ClassificationResult was obtained.
type ClassificationMethod string

const (
	MethodHeuristic ClassificationMethod = "heuristic"
	MethodRemote    ClassificationMethod = "remote"
	MethodCached    ClassificationMethod = "cached"
)

// ClassificationResult is the outcome of one Classify call.
type ClassificationResult struct {
	Ticker       TickerSymbol         `json:"ticker"`
	Type         InstrumentType       `json:"type"`
	Method       ClassificationMethod `json:"method"`
	Confidence   float64              `json:"confidence"` // 0..1
	ClassifiedAt time.Time            `json:"classified_at"`
}
