package domain_test

import (
	"errors"
	"testing"
	"time"

	"fitledger/internal/domain"
)

func TestLedgerDocumentRoundTrip(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	now := time.Date(2024, 1, 1, 9, 30, 0, 0, loc)
	l := domain.NewLedger("u1", "2024-01-01", now)
	l.Steps = 4200
	l.Meals = append(l.Meals, domain.Meal{ID: 1704101400000, Name: "Oats", Calories: 350, Type: domain.MealBreakfast, Timestamp: now})
	l.RecomputeTotals()

	doc, err := l.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}
	if doc["date"] != "2024-01-01" {
		t.Fatalf("expected date field, got %v", doc["date"])
	}

	got, err := domain.LedgerFromDocument(doc, loc)
	if err != nil {
		t.Fatalf("LedgerFromDocument: %v", err)
	}
	if got.Steps != 4200 || got.TotalCalories != 350 || len(got.Meals) != 1 {
		t.Fatalf("unexpected ledger %+v", got)
	}
	if got.Meals[0].ID != 1704101400000 {
		t.Errorf("meal id lost precision: %d", got.Meals[0].ID)
	}
	if !got.CreatedAt.Equal(now) || got.CreatedAt.Location() != loc {
		t.Errorf("createdAt not normalized: %v", got.CreatedAt)
	}
}

func TestLedgerFromDocument_ServerTimestamps(t *testing.T) {
	want := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		createdAt any
	}{
		{"rfc3339", "2024-01-01T06:00:00Z"},
		{"seconds object", map[string]any{"seconds": float64(want.Unix()), "nanoseconds": float64(0)}},
		{"underscore object", map[string]any{"_seconds": float64(want.Unix()), "_nanoseconds": float64(0)}},
		{"epoch millis", float64(want.UnixMilli())},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := domain.Document{
				"userId":    "u1",
				"date":      "2024-01-01",
				"steps":     float64(10),
				"createdAt": tc.createdAt,
			}
			got, err := domain.LedgerFromDocument(doc, time.UTC)
			if err != nil {
				t.Fatalf("LedgerFromDocument: %v", err)
			}
			if !got.CreatedAt.Equal(want) {
				t.Errorf("expected %v, got %v", want, got.CreatedAt)
			}
			if got.Meals == nil || got.Workouts == nil {
				t.Error("expected empty collections")
			}
		})
	}
}

func TestLedgerFromDocument_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  domain.Document
	}{
		{"nil", nil},
		{"missing date", domain.Document{"steps": float64(1)}},
		{"wrong type", domain.Document{"date": "2024-01-01", "steps": "many"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.LedgerFromDocument(tc.doc, time.UTC)
			if !errors.Is(err, domain.ErrMalformedDocument) {
				t.Fatalf("expected ErrMalformedDocument, got %v", err)
			}
		})
	}
}

func TestDecodeLedger_RebuildsTotals(t *testing.T) {
	payload := []byte(`{"date":"2024-01-01","totalCalories":9000,"meals":[{"id":1,"calories":120,"macros":{"protein":4,"carbs":20,"fat":2},"type":"snack"}]}`)
	l, err := domain.DecodeLedger(payload, nil)
	if err != nil {
		t.Fatalf("DecodeLedger: %v", err)
	}
	if l.TotalCalories != 120 || l.Macros.Protein != 4 {
		t.Errorf("expected totals rebuilt from meals, got %v %+v", l.TotalCalories, l.Macros)
	}
}
