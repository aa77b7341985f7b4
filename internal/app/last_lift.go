package app

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"fitledger/internal/domain"
)

// LastLiftIndex remembers, per user and exercise name, the weight and reps
// of the last recorded set. It spans all days and is only written when a
// workout session completes. Names match exactly, case included.
type LastLiftIndex struct {
	local         domain.LocalCache
	remote        domain.RemoteMirror
	remoteTimeout time.Duration
	logger        *log.Logger

	mu    sync.Mutex
	users map[string]map[string]domain.LastLift
}

// NewLastLiftIndex creates an index persisted to local and mirrored to
// remote. Either store may be nil.
func NewLastLiftIndex(local domain.LocalCache, remote domain.RemoteMirror, remoteTimeout time.Duration, logger *log.Logger) *LastLiftIndex {
	if logger == nil {
		logger = log.New(os.Stderr, "[lastlift] ", log.LstdFlags)
	}
	return &LastLiftIndex{
		local:         local,
		remote:        remote,
		remoteTimeout: remoteTimeout,
		logger:        logger,
		users:         make(map[string]map[string]domain.LastLift),
	}
}

// Get returns the last lift recorded for name, or nil when there is none.
func (x *LastLiftIndex) Get(ctx context.Context, userID, name string) (*domain.LastLift, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.load(ctx, userID)[name]
	if !ok {
		return nil, nil
	}
	if entry.Weight != nil {
		w := *entry.Weight
		entry.Weight = &w
	}
	return &entry, nil
}

// Record updates the index from a completed session: for every exercise
// the last set carrying a weight or reps overwrites the stored entry.
func (x *LastLiftIndex) Record(ctx context.Context, userID string, exercises []domain.SessionExercise, at time.Time) {
	changed := make(map[string]domain.LastLift)
	for _, ex := range exercises {
		for j := len(ex.Sets) - 1; j >= 0; j-- {
			set := ex.Sets[j]
			if !set.Recorded() {
				continue
			}
			entry := domain.LastLift{Reps: set.Reps, UpdatedAt: at}
			if set.Weight != nil && *set.Weight > 0 {
				w := *set.Weight
				entry.Weight = &w
			}
			changed[ex.Name] = entry
			break
		}
	}
	if len(changed) == 0 {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	m := x.load(ctx, userID)
	for name, entry := range changed {
		m[name] = entry
	}
	x.persist(ctx, userID, m, changed)
}

// load returns the in-memory map for userID, filling it from the local
// cache or the remote mirror on first use. Callers hold mu.
func (x *LastLiftIndex) load(ctx context.Context, userID string) map[string]domain.LastLift {
	if m, ok := x.users[userID]; ok {
		return m
	}
	m := x.readLocal(ctx, userID)
	if m == nil {
		m = x.readRemote(ctx, userID)
	}
	if m == nil {
		m = make(map[string]domain.LastLift)
	}
	x.users[userID] = m
	return m
}

func (x *LastLiftIndex) readLocal(ctx context.Context, userID string) map[string]domain.LastLift {
	if x.local == nil {
		return nil
	}
	b, err := x.local.Get(ctx, domain.LastLiftKey(userID))
	if err != nil || b == nil {
		if err != nil {
			x.logger.Printf("local get %s: %v", domain.LastLiftKey(userID), err)
		}
		return nil
	}
	var m map[string]domain.LastLift
	if err := json.Unmarshal(b, &m); err != nil {
		x.logger.Printf("local entry %s corrupt, ignoring: %v", domain.LastLiftKey(userID), err)
		return nil
	}
	return m
}

func (x *LastLiftIndex) readRemote(ctx context.Context, userID string) map[string]domain.LastLift {
	if x.remote == nil {
		return nil
	}
	rctx, cancel := withOptionalTimeout(ctx, x.remoteTimeout)
	defer cancel()
	doc, err := x.remote.Get(rctx, domain.LastLiftsCollection, userID)
	if err != nil || doc == nil {
		if err != nil {
			x.logger.Printf("remote get last lifts for %s: %v", userID, err)
		}
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var m map[string]domain.LastLift
	if err := json.Unmarshal(b, &m); err != nil {
		x.logger.Printf("remote last lifts for %s unreadable: %v", userID, err)
		return nil
	}
	return m
}

func (x *LastLiftIndex) persist(ctx context.Context, userID string, all, changed map[string]domain.LastLift) {
	ctx = context.WithoutCancel(ctx)
	if x.local != nil {
		b, err := json.Marshal(all)
		if err == nil {
			err = x.local.Set(ctx, domain.LastLiftKey(userID), b)
		}
		if err != nil {
			x.logger.Printf("local set %s: %v", domain.LastLiftKey(userID), err)
		}
	}
	if x.remote != nil {
		doc, err := domain.ToDocument(changed)
		if err != nil {
			x.logger.Printf("encode last lifts for %s: %v", userID, err)
			return
		}
		rctx, cancel := withOptionalTimeout(ctx, x.remoteTimeout)
		defer cancel()
		if err := x.remote.Upsert(rctx, domain.LastLiftsCollection, userID, doc, true); err != nil {
			x.logger.Printf("remote upsert last lifts for %s: %v", userID, err)
		}
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
