package app

import (
	"context"
	"errors"
	"testing"

	"fitledger/internal/domain"
)

func TestLedgerRegistry_AcquireIsShared(t *testing.T) {
	h := newHarness(t)
	r := NewLedgerRegistry(h.factory)
	defer r.Close()
	ctx := context.Background()

	a, err := r.Acquire(ctx, "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := r.Acquire(ctx, "u-1")
	if a != b {
		t.Error("expected one session per user")
	}
	if a.Snapshot() == nil {
		t.Error("expected acquired session to be active")
	}

	c, _ := r.Acquire(ctx, "u-2")
	if c == a || c.UserID() != "u-2" {
		t.Errorf("expected a separate session for u-2, got %s", c.UserID())
	}
}

func TestLedgerRegistry_ReleaseStops(t *testing.T) {
	h := newHarness(t)
	r := NewLedgerRegistry(h.factory)
	ctx := context.Background()

	s, _ := r.Acquire(ctx, "u-1")
	r.Release("u-1")
	if s.Snapshot() != nil {
		t.Error("expected released session to drop its ledger")
	}
	if _, ok := r.Get("u-1"); ok {
		t.Error("expected session to be forgotten")
	}
	r.Release("u-1")
}

func TestLedgerRegistry_Close(t *testing.T) {
	h := newHarness(t)
	r := NewLedgerRegistry(h.factory)
	ctx := context.Background()

	a, _ := r.Acquire(ctx, "u-1")
	b, _ := r.Acquire(ctx, "u-2")
	r.Close()
	if a.State() != "idle" || b.State() != "idle" {
		t.Errorf("expected all sessions idle, got %s and %s", a.State(), b.State())
	}
	if h.sensor.Subscribers() != 0 {
		t.Errorf("expected no sensor subscriptions, got %d", h.sensor.Subscribers())
	}
}

func TestLedgerRegistry_RequiresUser(t *testing.T) {
	h := newHarness(t)
	r := NewLedgerRegistry(h.factory)
	if _, err := r.Acquire(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLedgerRegistry_CancelledAcquireKeepsRemoteDay(t *testing.T) {
	h := newHarness(t)
	seeded := domain.NewLedger("u-1", "2024-01-01", testNow)
	seeded.Steps = 5000
	seeded.WaterIntake = 700
	seeded.Meals = []domain.Meal{{ID: 1, Name: "Toast", Calories: 300, Type: domain.MealBreakfast}}
	seeded.RecomputeTotals()
	seedRemote(t, h, seeded)

	r := NewLedgerRegistry(h.factory)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Acquire(ctx, "u-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := r.Get("u-1"); ok {
		t.Fatal("a failed acquire must not register a session")
	}

	s, err := r.Acquire(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l := s.Snapshot(); l.Steps != 5000 || l.TotalCalories != 300 {
		t.Fatalf("expected the stored day, got %+v", l)
	}

	_, _ = s.AddWater(context.Background(), 100)
	s.Flush()
	doc, _ := h.mirror.Get(context.Background(), domain.ActivitiesCollection, "u-1_2024-01-01")
	l, err := domain.LedgerFromDocument(doc, h.loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Steps != 5000 || l.WaterIntake != 800 || len(l.Meals) != 1 || l.TotalCalories != 300 {
		t.Errorf("remote day was overwritten: %+v", l)
	}
}
