package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Remote collections.
const (
	ActivitiesCollection = "activities"
	LastLiftsCollection  = "lastLifts"
)

// Document is a JSON-shaped remote document.
type Document map[string]any

// ErrMalformedDocument is returned when a stored payload cannot be decoded
// into a ledger.
var ErrMalformedDocument = errors.New("malformed document")

var timestampFields = map[string]bool{
	"createdAt":   true,
	"updatedAt":   true,
	"timestamp":   true,
	"startTime":   true,
	"endTime":     true,
	"completedAt": true,
}

// ToDocument encodes v into a Document through its JSON form.
func ToDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ToDocument encodes the ledger for the remote mirror.
func (l Ledger) ToDocument() (Document, error) {
	return ToDocument(l)
}

// LedgerFromDocument decodes a remote document into a ledger. Server-side
// timestamp shapes are normalized and every time is expressed in loc.
func LedgerFromDocument(doc Document, loc *time.Location) (*Ledger, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: empty", ErrMalformedDocument)
	}
	normalized, ok := normalizeTimestamps(map[string]any(doc)).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedDocument)
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return DecodeLedger(b, loc)
}

// DecodeLedger parses a JSON ledger payload. Missing collections are
// replaced with empty ones and derived totals are rebuilt from meals.
func DecodeLedger(b []byte, loc *time.Location) (*Ledger, error) {
	var l Ledger
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if !ValidDate(l.Date) {
		return nil, fmt.Errorf("%w: bad date %q", ErrMalformedDocument, l.Date)
	}
	if l.Meals == nil {
		l.Meals = []Meal{}
	}
	if l.Workouts == nil {
		l.Workouts = []Workout{}
	}
	l.RecomputeTotals()
	if loc != nil {
		l.inLocation(loc)
	}
	return &l, nil
}

func (l *Ledger) inLocation(loc *time.Location) {
	l.CreatedAt = l.CreatedAt.In(loc)
	l.UpdatedAt = l.UpdatedAt.In(loc)
	for i := range l.Meals {
		l.Meals[i].Timestamp = l.Meals[i].Timestamp.In(loc)
	}
	for i := range l.Workouts {
		w := &l.Workouts[i]
		w.Timestamp = w.Timestamp.In(loc)
		if w.Details == nil {
			continue
		}
		w.Details.StartTime = w.Details.StartTime.In(loc)
		w.Details.EndTime = w.Details.EndTime.In(loc)
		for j := range w.Details.Exercises {
			for k := range w.Details.Exercises[j].Sets {
				set := &w.Details.Exercises[j].Sets[k]
				if set.CompletedAt != nil {
					t := set.CompletedAt.In(loc)
					set.CompletedAt = &t
				}
			}
		}
	}
}

// normalizeTimestamps rewrites known timestamp fields into RFC 3339 strings.
// Accepted inputs are RFC 3339 strings, {seconds, nanoseconds} objects (with
// or without a leading underscore) and epoch milliseconds.
func normalizeTimestamps(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if timestampFields[k] {
				if ts, ok := parseTimestamp(val); ok {
					out[k] = ts.Format(time.RFC3339Nano)
					continue
				}
			}
			out[k] = normalizeTimestamps(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeTimestamps(val)
		}
		return out
	default:
		return v
	}
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		return ts, err == nil
	case float64:
		sec, frac := math.Modf(t / 1000)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case map[string]any:
		sec, ok := number(t, "seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nsec, _ := number(t, "nanoseconds", "_nanoseconds")
		return time.Unix(int64(sec), int64(nsec)).UTC(), true
	}
	return time.Time{}, false
}

func number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return f, true
		}
	}
	return 0, false
}
