// Package storage defines the persistence gateway used by the fetch
// orchestrators and the merge rules every backend applies on upsert.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seenimoa/b3fetch/pkg/models"
)

// Gateway persists domain records and the raw acquisition they came from.
type Gateway[R models.Record] interface {
	// Find returns the stored record for t. ok is false when none exists.
	Find(ctx context.Context, t models.TickerSymbol) (rec R, ok bool, err error)
	// Upsert merges rec into the stored record, replaces its child
	// collections and stores raw as the audit payload. It returns the
	// record as persisted.
	Upsert(ctx context.Context, rec R, raw *models.RawAcquisitionResult) (R, error)
	// FindRawAudit returns the raw payload stored with the last upsert.
	FindRawAudit(ctx context.Context, t models.TickerSymbol) (raw *models.RawAcquisitionResult, ok bool, err error)
}

// Sanitize drops invalid dividends from rec and makes nil child
// collections empty. It returns the validation errors of the dropped
// entries.
func Sanitize(rec models.Record) []error {
	b := rec.Base()
	valid, errs := models.ValidDividends(b.Dividends)
	b.Dividends = valid
	if b.Prices == nil {
		b.Prices = []models.PricePoint{}
	}
	return errs
}

// Clone returns a deep copy of rec.
func Clone[R models.Record](rec R, newRecord func() R) (R, error) {
	var zero R
	data, err := json.Marshal(rec)
	if err != nil {
		return zero, fmt.Errorf("encode %T: %w", rec, err)
	}
	out := newRecord()
	if err := json.Unmarshal(data, out); err != nil {
		return zero, fmt.Errorf("decode %T: %w", out, err)
	}
	out.Base().LastUpdated = rec.Base().LastUpdated
	return out, nil
}

// Merge overlays incoming onto existing and returns a new record.
//
// Scalars that are absent, null or empty in incoming keep the existing
// value. Details objects merge one level deep under the same rule. Child
// collections are replaced. LastUpdated never moves backwards.
func Merge[R models.Record](existing, incoming R, newRecord func() R) (R, error) {
	var zero R
	base, err := fields(existing)
	if err != nil {
		return zero, err
	}
	over, err := fields(incoming)
	if err != nil {
		return zero, err
	}

	for k, v := range over {
		switch {
		case k == "dividends" || k == "prices":
			base[k] = v
		case blank(v):
		case isObject(v) && isObject(base[k]):
			merged, err := overlay(base[k], v)
			if err != nil {
				return zero, fmt.Errorf("merge %s: %w", k, err)
			}
			base[k] = merged
		default:
			base[k] = v
		}
	}

	data, err := json.Marshal(base)
	if err != nil {
		return zero, fmt.Errorf("encode merged record: %w", err)
	}
	out := newRecord()
	if err := json.Unmarshal(data, out); err != nil {
		return zero, fmt.Errorf("decode merged record: %w", err)
	}
	out.Base().LastUpdated = Later(existing.Base(), incoming.Base())
	return out, nil
}

// Later returns the most recent LastUpdated of a and b.
func Later(a, b *models.Snapshot) time.Time {
	if b.LastUpdated.After(a.LastUpdated) {
		return b.LastUpdated
	}
	return a.LastUpdated
}

func fields(rec models.Record) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", rec, err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %T fields: %w", rec, err)
	}
	return m, nil
}

func overlay(base, over json.RawMessage) (json.RawMessage, error) {
	var b, o map[string]json.RawMessage
	if err := json.Unmarshal(base, &b); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(over, &o); err != nil {
		return nil, err
	}
	if b == nil {
		b = make(map[string]json.RawMessage, len(o))
	}
	for k, v := range o {
		if blank(v) {
			continue
		}
		b[k] = v
	}
	return json.Marshal(b)
}

func blank(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}
