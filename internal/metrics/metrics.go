// Package metrics defines the observability sink injected into the
// classifier, the scraping engine and the orchestrators, with Prometheus
// and in-process implementations.
package metrics

import (
	"time"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// Outcome labels used for acquisitions.
const (
	OutcomeSuccess = "success"
)

// Acquisition describes one finished scrape attempt.
type Acquisition struct {
	Group    models.Group
	Engine   string
	Outcome  string // OutcomeSuccess or a failure kind
	Duration time.Duration
	Captured int // channels observed during the attempt
}

// Sink receives usage counters. Implementations must be safe for
// concurrent use without serializing unrelated tickers.
type Sink interface {
	ClassificationRecorded(method models.ClassificationMethod, it models.InstrumentType)
	LookupFailed()
	AcquisitionRecorded(a Acquisition)
	FallbackInvoked(group models.Group, from, to string)
	BreakerStateChanged(name, from, to string)
	FreshnessChecked(group models.Group, fresh bool)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ClassificationRecorded(models.ClassificationMethod, models.InstrumentType) {}
func (Nop) LookupFailed()                                                          {}
func (Nop) AcquisitionRecorded(Acquisition)                                        {}
func (Nop) FallbackInvoked(models.Group, string, string)                           {}
func (Nop) BreakerStateChanged(string, string, string)                             {}
func (Nop) FreshnessChecked(models.Group, bool)                                    {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Multi fans out to several sinks.
type Multi []Sink

func (m Multi) ClassificationRecorded(method models.ClassificationMethod, it models.InstrumentType) {
	for _, s := range m {
		s.ClassificationRecorded(method, it)
	}
}

func (m Multi) LookupFailed() {
	for _, s := range m {
		s.LookupFailed()
	}
}

func (m Multi) AcquisitionRecorded(a Acquisition) {
	for _, s := range m {
		s.AcquisitionRecorded(a)
	}
}

func (m Multi) FallbackInvoked(group models.Group, from, to string) {
	for _, s := range m {
		s.FallbackInvoked(group, from, to)
	}
}

func (m Multi) BreakerStateChanged(name, from, to string) {
	for _, s := range m {
		s.BreakerStateChanged(name, from, to)
	}
}

func (m Multi) FreshnessChecked(group models.Group, fresh bool) {
	for _, s := range m {
		s.FreshnessChecked(group, fresh)
	}
}
