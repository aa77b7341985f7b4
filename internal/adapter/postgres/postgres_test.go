package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"fitledger/internal/domain"
)

// openTestDB connects to TEST_DATABASE_URL and skips when it is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMirror_MergeUpsert(t *testing.T) {
	db := openTestDB(t)
	m := NewMirror(db)
	ctx := context.Background()
	id := "test_" + time.Now().Format(time.RFC3339Nano)

	if err := m.Upsert(ctx, domain.LastLiftsCollection, id, domain.Document{"Bench": map[string]any{"reps": "5"}}, true); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := m.Upsert(ctx, domain.LastLiftsCollection, id, domain.Document{"Squat": map[string]any{"reps": "3"}}, true); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, err := m.Get(ctx, domain.LastLiftsCollection, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := doc["Bench"]; !ok {
		t.Error("merge dropped an existing key")
	}
	if _, ok := doc["Squat"]; !ok {
		t.Error("merge did not add the new key")
	}

	if err := m.Upsert(ctx, domain.LastLiftsCollection, id, domain.Document{"Row": map[string]any{}}, false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	doc, _ = m.Get(ctx, domain.LastLiftsCollection, id)
	if len(doc) != 1 {
		t.Errorf("replace kept old keys: %v", doc)
	}

	missing, err := m.Get(ctx, domain.LastLiftsCollection, id+"-missing")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing document, got %v, %v", missing, err)
	}
}

func TestUsersSessionsAndPreferences(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	u, err := db.Create(ctx, "pgtest-"+time.Now().Format("150405.000000"), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := db.GetByID(ctx, u.ID); got == nil || got.Username != u.Username {
		t.Fatalf("GetByID: %+v", got)
	}

	sessions := NewSessionRepo(db)
	if err := sessions.Create(ctx, u.ID, "tok-"+u.ID, "phone", "10.0.0.2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("session Create: %v", err)
	}
	s, err := sessions.GetByToken(ctx, "tok-"+u.ID)
	if err != nil || s == nil || s.UserAgent != "phone" || s.IP != "10.0.0.2" {
		t.Fatalf("GetByToken: %+v, %v", s, err)
	}

	prefs := NewPreferences(db, true)
	if on, _ := prefs.FitnessSyncEnabled(ctx, u.ID); !on {
		t.Error("expected fallback for unset preference")
	}
	if err := prefs.SetFitnessSync(ctx, u.ID, false); err != nil {
		t.Fatalf("SetFitnessSync: %v", err)
	}
	if on, _ := prefs.FitnessSyncEnabled(ctx, u.ID); on {
		t.Error("expected stored opt-out")
	}
}
