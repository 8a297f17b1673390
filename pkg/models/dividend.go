package models

import (
	"fmt"
	"math"
	"time"
)

// DividendKind distinguishes the B3 distribution types.
type DividendKind string

const (
	KindDividend DividendKind = "DIVIDEND"
	KindJCP      DividendKind = "JCP"    // juros sobre capital próprio
	KindIncome   DividendKind = "INCOME" // FII rendimento
	KindOther    DividendKind = "OTHER"
)

// Dividend is one distribution event.
type Dividend struct {
	Kind        DividendKind `json:"kind"`
	ExDate      time.Time    `json:"ex_date"`
	PaymentDate time.Time    `json:"payment_date,omitempty"`
	Amount      float64      `json:"amount"`
	Currency    string       `json:"currency"`
}

// ValidationError is raised by entity invariants. It is never retried.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

// Validate enforces the dividend invariants.
func (d Dividend) Validate() error {
	switch {
	case d.Currency == "":
		return &ValidationError{Entity: "dividend", Field: "currency", Reason: "is missing"}
	case math.IsNaN(d.Amount) || math.IsInf(d.Amount, 0):
		return &ValidationError{Entity: "dividend", Field: "amount", Reason: "is not a number"}
	case d.Amount < 0:
		return &ValidationError{Entity: "dividend", Field: "amount", Reason: "is negative"}
	case d.ExDate.IsZero():
		return &ValidationError{Entity: "dividend", Field: "ex_date", Reason: "is missing"}
	}
	return nil
}

// ValidDividends returns the entries that pass Validate, in order, and the
// errors for those that did not.
func ValidDividends(in []Dividend) ([]Dividend, []error) {
	out := make([]Dividend, 0, len(in))
	var errs []error
	for _, d := range in {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)
	}
	return out, errs
}
