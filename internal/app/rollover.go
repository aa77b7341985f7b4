package app

import (
	"context"
	"time"
)

func (s *LedgerSession) rolloverLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CheckRollover(ctx); err != nil {
				s.logger.Printf("rollover check: %v", err)
			}
		}
	}
}

// CheckRollover swaps the active ledger when the wall-clock date no longer
// matches it. Detection, the load of the new day and the swap happen under
// the snapshot mutex so no Apply interleaves with the transition. It
// reports whether a swap took place.
func (s *LedgerSession) CheckRollover(ctx context.Context) (bool, error) {
	today := s.today()

	s.mu.Lock()
	if s.current == nil || s.current.Date == today {
		s.mu.Unlock()
		return false, nil
	}
	from := s.current.Date
	s.state = stateTransitioning
	if s.ingest != nil {
		s.ingest.Stop()
	}

	l, err := s.sync.Load(ctx, s.userID, today)
	if err != nil {
		s.state = stateActive
		s.mu.Unlock()
		s.startIngestion(ctx, from)
		return false, err
	}
	s.current = l
	s.state = stateActive
	s.mu.Unlock()

	s.seedIDs(l)
	s.startIngestion(ctx, today)
	s.logger.Printf("rolled over %s from %s to %s", s.userID, from, today)
	return true, nil
}

// startIngestion begins merging sensor steps into the ledger for date.
// It must be called without holding mu.
func (s *LedgerSession) startIngestion(ctx context.Context, date string) {
	if s.ingest == nil {
		return
	}
	s.ingest.Start(ctx, s.userID, s.midnight(date), func(steps int) {
		s.mergeSensorSteps(ctx, date, steps)
	})
}
