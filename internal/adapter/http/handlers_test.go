package adapthttp_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	adapthttp "fitledger/internal/adapter/http"
	"fitledger/internal/adapter/memory"
	"fitledger/internal/adapter/wsensor"
	"fitledger/internal/app"
	"fitledger/internal/domain"
)

// ---------------------------------------------------------------------------
// Test-server helper
// ---------------------------------------------------------------------------

type fixture struct {
	ts       *httptest.Server
	registry *app.LedgerRegistry
	mirror   *memory.Mirror
}

func newFixture(t *testing.T, withAuth bool) *fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)

	cache := memory.NewCache()
	mirror := memory.NewMirror()
	db := memory.New()
	prefs := memory.NewPreferences(true)
	hub := wsensor.NewHub(quiet)

	syncSvc := app.NewSyncService(cache, mirror, app.SyncOptions{Logger: quiet})
	lifts := app.NewLastLiftIndex(cache, mirror, 0, quiet)
	registry := app.NewLedgerRegistry(func(userID string) *app.LedgerSession {
		return app.NewLedgerSession(userID, syncSvc, app.SessionOptions{
			Ingestor:  app.NewStepIngestor(hub.SensorFor(userID), prefs, quiet),
			LastLifts: lifts,
			Logger:    quiet,
		})
	})
	t.Cleanup(registry.Close)

	authSvc := app.NewAuthService(db, db.NewSessionRepo()).WithLedgers(registry)
	goals := domain.Goals{Calories: 2000, Protein: 150, Carbs: 250, Fat: 70}
	srv := adapthttp.New(registry, app.NewChartsService(syncSvc), authSvc, hub, goals).WithLogger(quiet)
	if !withAuth {
		srv = srv.WithoutAuth("u-test")
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, registry: registry, mirror: mirror}
}

func post(t *testing.T, c *http.Client, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, c *http.Client, url string) *http.Response {
	t.Helper()
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type ledgerBody struct {
	Ledger domain.Ledger `json:"ledger"`
	Error  string        `json:"error"`
}

func decodeLedger(t *testing.T, resp *http.Response) ledgerBody {
	t.Helper()
	var b ledgerBody
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return b
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, true)

	resp := get(t, nil, f.ts.URL+"/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body["ok"])
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store, got %q", cc)
	}
}

func TestLedgerToday(t *testing.T) {
	f := newFixture(t, false)

	resp := get(t, nil, f.ts.URL+"/api/ledger/today")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	b := decodeLedger(t, resp)
	if b.Ledger.UserID != "u-test" || !domain.ValidDate(b.Ledger.Date) {
		t.Errorf("unexpected ledger %+v", b.Ledger)
	}
	if _, ok := f.registry.Get("u-test"); !ok {
		t.Error("expected the request to start a ledger session")
	}
}

func TestWaterAccumulates(t *testing.T) {
	f := newFixture(t, false)

	post(t, nil, f.ts.URL+"/api/ledger/water", map[string]any{"ml": 250})
	resp := post(t, nil, f.ts.URL+"/api/ledger/water", map[string]any{"ml": 500})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decodeLedger(t, resp).Ledger.WaterIntake; got != 750 {
		t.Errorf("expected 750 ml, got %d", got)
	}
}

func TestMutationValidation(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name       string
		path       string
		payload    any
		wantStatus int
	}{
		{"valid steps", "/api/ledger/steps", map[string]any{"steps": 4000}, http.StatusOK},
		{"negative steps", "/api/ledger/steps", map[string]any{"steps": -1}, http.StatusBadRequest},
		{"unknown field", "/api/ledger/steps", map[string]any{"stepz": 10}, http.StatusBadRequest},
		{"zero water", "/api/ledger/water", map[string]any{"ml": 0}, http.StatusBadRequest},
		{"sleep", "/api/ledger/sleep", map[string]any{"hours": 7.5}, http.StatusOK},
		{"meal", "/api/ledger/meals", map[string]any{"name": "Oats", "calories": 300, "type": "breakfast"}, http.StatusOK},
		{"meal bad type", "/api/ledger/meals", map[string]any{"name": "Oats", "calories": 300, "type": "brunch"}, http.StatusBadRequest},
		{"update missing meal", "/api/ledger/meals/update", map[string]any{"id": 1, "meal": map[string]any{"name": "x", "type": "snack"}}, http.StatusNotFound},
		{"remove missing meal", "/api/ledger/meals/remove", map[string]any{"id": 1}, http.StatusNotFound},
		{"repeat bad date", "/api/ledger/meals/repeat", map[string]any{"date": "yesterday"}, http.StatusBadRequest},
		{"workout", "/api/ledger/workouts", map[string]any{"name": "Run", "duration": 30, "caloriesBurned": 280, "type": "cardio"}, http.StatusOK},
		{"remove missing workout", "/api/ledger/workouts/remove", map[string]any{"id": 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, nil, f.ts.URL+tt.path, tt.payload)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, false)

	resp := get(t, nil, f.ts.URL+"/api/ledger/water")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
	resp = post(t, nil, f.ts.URL+"/api/ledger/today", map[string]any{})
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestMealLifecycleAndProgress(t *testing.T) {
	f := newFixture(t, false)

	resp := post(t, nil, f.ts.URL+"/api/ledger/meals", map[string]any{
		"name": "Burrito", "calories": 500, "type": "lunch",
		"macros": map[string]any{"protein": 30, "carbs": 50, "fat": 15},
	})
	l := decodeLedger(t, resp).Ledger
	if l.TotalCalories != 500 || l.Macros.Protein != 30 {
		t.Fatalf("unexpected totals %+v", l)
	}
	id := l.Meals[0].ID

	resp = post(t, nil, f.ts.URL+"/api/ledger/meals/update", map[string]any{
		"id":   id,
		"meal": map[string]any{"name": "Burrito bowl", "calories": 450, "type": "lunch", "macros": map[string]any{"protein": 30}},
	})
	if got := decodeLedger(t, resp).Ledger.TotalCalories; got != 450 {
		t.Errorf("expected 450 after update, got %v", got)
	}

	resp = get(t, nil, f.ts.URL+"/api/ledger/progress")
	var p app.Progress
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if p.CaloriesRemaining != 1550 || p.Protein.Percent != 20 {
		t.Errorf("unexpected progress %+v", p)
	}

	resp = post(t, nil, f.ts.URL+"/api/ledger/meals/remove", map[string]any{"id": id})
	l = decodeLedger(t, resp).Ledger
	if l.TotalCalories != 0 || len(l.Meals) != 0 {
		t.Errorf("expected empty day after removal, got %+v", l)
	}
}

func TestWorkoutSessionAndLastLift(t *testing.T) {
	f := newFixture(t, false)

	start := time.Now().Add(-time.Hour).UTC()
	resp := post(t, nil, f.ts.URL+"/api/ledger/workouts/session", map[string]any{
		"startTime": start.Format(time.RFC3339),
		"endTime":   start.Add(45 * time.Minute).Format(time.RFC3339),
		"exercises": []any{
			map[string]any{"name": "Back Squat", "sets": []any{
				map[string]any{"weight": 100, "reps": "5"},
				map[string]any{"weight": 110, "reps": "3"},
			}},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	l := decodeLedger(t, resp).Ledger
	if len(l.Workouts) != 1 || l.Workouts[0].Duration != 45 {
		t.Errorf("unexpected workouts %+v", l.Workouts)
	}

	tests := []struct {
		unit string
		want float64
	}{
		{"kg", 110},
		{"lb", 242.5},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			resp := get(t, nil, f.ts.URL+"/api/lastlift?name=Back%20Squat&unit="+tt.unit)
			var body struct {
				Lift *domain.LastLift `json:"lift"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Lift == nil || body.Lift.Weight == nil || *body.Lift.Weight != tt.want || body.Lift.Reps != "3" {
				t.Errorf("expected %v x 3, got %+v", tt.want, body.Lift)
			}
		})
	}

	resp = get(t, nil, f.ts.URL+"/api/lastlift?name=Deadlift")
	if body := decodeBody(t, resp); body["lift"] != nil {
		t.Errorf("expected no lift for an unknown exercise, got %v", body["lift"])
	}
	resp = get(t, nil, f.ts.URL+"/api/lastlift?name=Deadlift&unit=stone")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown unit, got %d", resp.StatusCode)
	}
}

func TestChartsDaily(t *testing.T) {
	f := newFixture(t, false)
	post(t, nil, f.ts.URL+"/api/ledger/water", map[string]any{"ml": 300})
	if sess, ok := f.registry.Get("u-test"); ok {
		sess.Flush()
	}

	resp := get(t, nil, f.ts.URL+"/api/charts/daily?days=7")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Days  int            `json:"days"`
		Items []app.DayPoint `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Days != 7 || len(body.Items) != 7 {
		t.Fatalf("expected 7 points, got %d", len(body.Items))
	}
	last := body.Items[6]
	if !last.Logged || last.WaterIntake != 300 {
		t.Errorf("expected today's water in the last point, got %+v", last)
	}
	if body.Items[0].Logged {
		t.Errorf("expected untouched history, got %+v", body.Items[0])
	}
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t, true)
	jar, _ := cookiejar.New(nil)
	c := &http.Client{Jar: jar}

	if resp := get(t, c, f.ts.URL+"/api/ledger/today"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", resp.StatusCode)
	}

	creds := map[string]any{"username": "alex", "password": "correct-horse"}
	if resp := post(t, c, f.ts.URL+"/api/auth/setup", creds); resp.StatusCode != http.StatusOK {
		t.Fatalf("setup: expected 200, got %d", resp.StatusCode)
	}
	if resp := post(t, c, f.ts.URL+"/api/auth/login", map[string]any{"username": "alex", "password": "wrong-password"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}

	resp := post(t, c, f.ts.URL+"/api/auth/login", creds)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	login := decodeBody(t, resp)
	userID, _ := login["userId"].(string)
	if _, ok := f.registry.Get(userID); !ok {
		t.Fatal("expected login to start the ledger session")
	}

	today := get(t, c, f.ts.URL+"/api/ledger/today")
	if today.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after login, got %d", today.StatusCode)
	}
	if date := decodeLedger(t, today).Ledger.Date; login["ledgerDate"] != date {
		t.Errorf("expected login to report ledger date %q, got %v", date, login["ledgerDate"])
	}

	logout := decodeBody(t, post(t, c, f.ts.URL+"/api/auth/logout", map[string]any{}))
	if logout["ledgerReleased"] != true {
		t.Errorf("expected logout to report the released ledger, got %v", logout)
	}
	if _, ok := f.registry.Get(userID); ok {
		t.Error("expected logout to stop the ledger session")
	}
	if resp := get(t, c, f.ts.URL+"/api/ledger/today"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestForwardAuthHeader(t *testing.T) {
	f := newFixture(t, true)

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/api/ledger/today", nil)
	req.Header.Set("Remote-User", "proxy-user")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with forward auth, got %d", resp.StatusCode)
	}
}

func TestSensorStreamFeedsLedger(t *testing.T) {
	f := newFixture(t, false)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/sensor/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close() //nolint:errcheck

	var ack wsensor.Message
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "ACK" {
		t.Fatalf("expected connect ACK, got %+v, %v", ack, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"STEPS","stepsToday":1234}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := get(t, nil, f.ts.URL+"/api/ledger/today")
		if decodeLedger(t, resp).Ledger.Steps == 1234 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("streamed steps never reached the ledger")
}
