package app

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"fitledger/internal/adapter/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var quiet = log.New(io.Discard, "", 0)

var testNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// harness wires the services over the in-memory adapters with a fixed
// zone and a controllable clock.
type harness struct {
	t      *testing.T
	loc    *time.Location
	clock  *testClock
	cache  *memory.Cache
	mirror *memory.Mirror
	sensor *memory.Sensor
	prefs  *memory.Preferences
	sync   *SyncService
	lifts  *LastLiftIndex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loc := time.FixedZone("test", -5*60*60)
	h := &harness{
		t:      t,
		loc:    loc,
		clock:  &testClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, loc)},
		cache:  memory.NewCache(),
		mirror: memory.NewMirror(),
		sensor: memory.NewSensor(true),
		prefs:  memory.NewPreferences(true),
	}
	h.sync = NewSyncService(h.cache, h.mirror, SyncOptions{Location: loc, Logger: quiet, Now: h.clock.Now})
	h.lifts = NewLastLiftIndex(h.cache, h.mirror, 0, quiet)
	return h
}

func (h *harness) factory(userID string) *LedgerSession {
	return NewLedgerSession(userID, h.sync, SessionOptions{
		Ingestor:         NewStepIngestor(h.sensor, h.prefs, quiet),
		LastLifts:        h.lifts,
		RolloverInterval: time.Hour,
		Logger:           quiet,
		Now:              h.clock.Now,
	})
}

// start returns a running session that is stopped when the test ends.
func (h *harness) start(userID string) *LedgerSession {
	h.t.Helper()
	s := h.factory(userID)
	if err := s.Start(h.t.Context()); err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
	h.t.Cleanup(s.Stop)
	return s
}
