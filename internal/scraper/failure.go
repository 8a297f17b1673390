package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// Kind identifies a scrape failure category.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindAntiBot            Kind = "anti_bot"
	KindStructuralMismatch Kind = "structural_mismatch"
	KindCaptureIncomplete  Kind = "capture_incomplete"
	KindNotFound           Kind = "not_found"
	KindCircuitOpen        Kind = "circuit_open"
)

// Failure is the closed set of scrape failures. Only this package
// implements it.
type Failure interface {
	error
	Kind() Kind
	failure()
}

// TimeoutError reports that the attempt deadline expired during Operation.
type TimeoutError struct {
	Ticker    models.TickerSymbol
	Operation string
	Budget    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scrape %s: timed out during %s (budget %s)", e.Ticker, e.Operation, e.Budget)
}
func (e *TimeoutError) Kind() Kind { return KindTimeout }
func (*TimeoutError) failure()     {}

// AntiBotError reports a challenge or block page.
type AntiBotError struct {
	Ticker models.TickerSymbol
	Reason string
	Engine string
}

func (e *AntiBotError) Error() string {
	return fmt.Sprintf("scrape %s: blocked by anti-bot protection on %s: %s", e.Ticker, e.Engine, e.Reason)
}
func (e *AntiBotError) Kind() Kind { return KindAntiBot }
func (*AntiBotError) failure()     {}

// StructuralMismatchError reports that the page no longer has the expected
// layout.
type StructuralMismatchError struct {
	Ticker          models.TickerSymbol
	URL             string
	ExpectedElement string
}

func (e *StructuralMismatchError) Error() string {
	return fmt.Sprintf("scrape %s: page structure changed at %s: missing %q", e.Ticker, e.URL, e.ExpectedElement)
}
func (e *StructuralMismatchError) Kind() Kind { return KindStructuralMismatch }
func (*StructuralMismatchError) failure()     {}

// CaptureIncompleteError reports that required data calls were not
// observed or could not be fetched.
type CaptureIncompleteError struct {
	Ticker   models.TickerSymbol
	Captured int
	Expected int
	Missing  []models.Channel
}

func (e *CaptureIncompleteError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, ch := range e.Missing {
		missing[i] = string(ch)
	}
	return fmt.Sprintf("scrape %s: captured %d of %d required channels (missing %s)",
		e.Ticker, e.Captured, e.Expected, strings.Join(missing, ", "))
}
func (e *CaptureIncompleteError) Kind() Kind { return KindCaptureIncomplete }
func (*CaptureIncompleteError) failure()     {}

// NotFoundError reports that the site has no page for the ticker.
type NotFoundError struct {
	Ticker models.TickerSymbol
	URL    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scrape %s: ticker not found at %s", e.Ticker, e.URL)
}
func (e *NotFoundError) Kind() Kind { return KindNotFound }
func (*NotFoundError) failure()     {}

// CircuitOpenError reports that an engine's breaker rejected the call.
type CircuitOpenError struct {
	Group  models.Group
	Engine string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("scrape: circuit open for %s on %s", e.Group, e.Engine)
}
func (e *CircuitOpenError) Kind() Kind { return KindCircuitOpen }
func (*CircuitOpenError) failure()     {}

// AsFailure extracts the Failure from err's chain.
func AsFailure(err error) (Failure, bool) {
	var f Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the failure kind of err, or "" when err is not a Failure.
func KindOf(err error) Kind {
	if f, ok := AsFailure(err); ok {
		return f.Kind()
	}
	return ""
}

// IsRetryable reports whether the same engine should be tried again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindCaptureIncomplete:
		return true
	default:
		return false
	}
}

// ShouldFallback reports whether err warrants one attempt on the secondary
// engine. Caller cancellation and missing tickers never fall back.
func ShouldFallback(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if KindOf(err) == KindNotFound {
		return false
	}
	return true
}
