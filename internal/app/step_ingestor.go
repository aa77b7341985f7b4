package app

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"fitledger/internal/domain"
)

// StepIngestor feeds pedometer readings into a ledger session. It performs
// a catch-up query since local midnight and then follows the live stream.
// Readings only ever raise the stored count; the max rule lives in the
// merge callback supplied by the session.
type StepIngestor struct {
	sensor domain.StepSensor
	prefs  domain.PreferenceSource
	logger *log.Logger

	mu    sync.Mutex
	gen   uint64
	unsub domain.Unsubscribe
}

// NewStepIngestor creates an ingestor. A nil prefs source means the user
// has not opted out.
func NewStepIngestor(sensor domain.StepSensor, prefs domain.PreferenceSource, logger *log.Logger) *StepIngestor {
	if logger == nil {
		logger = log.New(os.Stderr, "[sensor] ", log.LstdFlags)
	}
	return &StepIngestor{sensor: sensor, prefs: prefs, logger: logger}
}

// Start stops any previous subscription, merges the steps taken since
// midnight and subscribes to live updates. Live readings are relative to the
// subscription, so they are offset by the catch-up count before merging.
// It reports whether ingestion is running; a disabled preference or a
// missing sensor is not an error.
func (i *StepIngestor) Start(ctx context.Context, userID string, midnight time.Time, merge func(steps int)) bool {
	i.mu.Lock()
	i.gen++
	gen := i.gen
	prev := i.unsub
	i.unsub = nil
	i.mu.Unlock()
	if prev != nil {
		prev()
	}

	if i.sensor == nil {
		return false
	}
	if i.prefs != nil {
		enabled, err := i.prefs.FitnessSyncEnabled(ctx, userID)
		if err != nil {
			i.logger.Printf("preference lookup for %s: %v (ingestion off)", userID, err)
			return false
		}
		if !enabled {
			return false
		}
	}
	if !i.sensor.IsAvailable(ctx) {
		i.logger.Printf("no step sensor for %s", userID)
		return false
	}

	baseline, err := i.sensor.QueryStepsSince(ctx, midnight)
	if err != nil {
		i.logger.Printf("step catch-up for %s: %v", userID, err)
		baseline = 0
	}
	if baseline > 0 {
		merge(baseline)
	}

	unsub, err := i.sensor.Subscribe(ctx, func(steps int) {
		merge(baseline + steps)
	})
	if err != nil {
		i.logger.Printf("step subscription for %s: %v", userID, err)
		return false
	}
	unsub = once(unsub)

	i.mu.Lock()
	if i.gen != gen {
		// Stopped or restarted while subscribing.
		i.mu.Unlock()
		unsub()
		return false
	}
	i.unsub = unsub
	i.mu.Unlock()
	return true
}

// Stop cancels the live subscription. It is safe to call repeatedly.
func (i *StepIngestor) Stop() {
	i.mu.Lock()
	i.gen++
	unsub := i.unsub
	i.unsub = nil
	i.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Running reports whether a live subscription is open.
func (i *StepIngestor) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unsub != nil
}

func once(fn domain.Unsubscribe) domain.Unsubscribe {
	var o sync.Once
	return func() {
		o.Do(func() {
			if fn != nil {
				fn()
			}
		})
	}
}
