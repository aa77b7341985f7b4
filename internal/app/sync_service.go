package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"fitledger/internal/domain"
)

// ErrInvalidInput wraps every validation failure returned by this package.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// SyncOptions tunes a SyncService.
type SyncOptions struct {
	// Location is the zone ledger timestamps are expressed in.
	Location *time.Location
	// RemoteTimeout bounds each remote call. Zero means no extra bound.
	RemoteTimeout time.Duration
	Logger        *log.Logger
	Now           func() time.Time
}

// SyncService resolves and persists ledgers across the local cache and the
// remote mirror. Remote trouble is never fatal: it degrades to local-only
// operation and is only logged.
type SyncService struct {
	local  domain.LocalCache
	remote domain.RemoteMirror

	loc           *time.Location
	remoteTimeout time.Duration
	logger        *log.Logger
	now           func() time.Time

	loads singleflight.Group
}

// NewSyncService creates a SyncService over the given cache and mirror.
func NewSyncService(local domain.LocalCache, remote domain.RemoteMirror, opts SyncOptions) *SyncService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SyncService{
		local:         local,
		remote:        remote,
		loc:           opts.Location,
		remoteTimeout: opts.RemoteTimeout,
		logger:        opts.Logger,
		now:           opts.Now,
	}
}

// Location returns the zone the service uses for dates and timestamps.
func (s *SyncService) Location() *time.Location {
	return s.loc
}

// Load returns the ledger for a user-day, preferring the remote mirror,
// then the local cache, and only then creating a zero-valued ledger.
// Concurrent loads of the same key share a single resolution, which runs
// detached from any one caller's cancellation. A caller whose ctx is done
// gets ctx.Err() and never a fabricated ledger.
func (s *SyncService) Load(ctx context.Context, userID, date string) (*domain.Ledger, error) {
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	if !domain.ValidDate(date) {
		return nil, invalidf("date %q is not YYYY-MM-DD", date)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(domain.DocumentID(userID, date), func() (any, error) {
		return s.resolve(detached, userID, date), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		l := res.Val.(*domain.Ledger).Clone()
		return &l, nil
	}
}

func (s *SyncService) resolve(ctx context.Context, userID, date string) *domain.Ledger {
	if l, _ := s.fetchRemote(ctx, userID, date); l != nil {
		s.writeLocal(ctx, l)
		return l
	}
	if l := s.readLocal(ctx, userID, date); l != nil {
		return l
	}

	l := domain.NewLedger(userID, date, s.now().In(s.loc))
	s.writeRemote(ctx, l)
	s.writeLocal(ctx, l)
	s.logger.Printf("created ledger %s", domain.DocumentID(userID, date))
	return l
}

// Peek resolves a ledger from the remote mirror or the local cache without
// creating one. It is the read-only path for history and copying.
func (s *SyncService) Peek(ctx context.Context, userID, date string) (*domain.Ledger, bool) {
	l, _ := s.peek(ctx, userID, date, true)
	return l, l != nil
}

// peek is Peek with the remote tier optional. It reports the remote
// transport error, if any, so batch readers can stop asking the mirror.
func (s *SyncService) peek(ctx context.Context, userID, date string, useRemote bool) (*domain.Ledger, error) {
	if userID == "" || !domain.ValidDate(date) {
		return nil, nil
	}
	var remoteErr error
	if useRemote {
		var l *domain.Ledger
		if l, remoteErr = s.fetchRemote(ctx, userID, date); l != nil {
			return l, nil
		}
	}
	return s.readLocal(ctx, userID, date), remoteErr
}

// Save writes the ledger through to the local cache and then the remote
// mirror. Both writes are best-effort.
func (s *SyncService) Save(ctx context.Context, l *domain.Ledger) {
	s.writeLocal(ctx, l)
	s.writeRemote(ctx, l)
}

// fetchRemote returns the mirrored ledger, or nil when there is none or it
// is unreadable. The error is set only when the mirror could not be reached.
func (s *SyncService) fetchRemote(ctx context.Context, userID, date string) (*domain.Ledger, error) {
	if s.remote == nil {
		return nil, nil
	}
	id := domain.DocumentID(userID, date)

	rctx, cancel := withOptionalTimeout(ctx, s.remoteTimeout)
	defer cancel()
	doc, err := s.remote.Get(rctx, domain.ActivitiesCollection, id)
	if err != nil {
		s.logger.Printf("remote get %s: %v (falling back to local cache)", id, err)
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	l, err := domain.LedgerFromDocument(doc, s.loc)
	if err != nil {
		s.logger.Printf("remote document %s unreadable: %v", id, err)
		return nil, nil
	}
	if l.UserID == "" {
		l.UserID = userID
	}
	return l, nil
}

func (s *SyncService) readLocal(ctx context.Context, userID, date string) *domain.Ledger {
	if s.local == nil {
		return nil
	}
	key := domain.CacheKey(userID, date)
	b, err := s.local.Get(ctx, key)
	if err != nil {
		s.logger.Printf("local get %s: %v", key, err)
		return nil
	}
	if b == nil {
		return nil
	}
	l, err := domain.DecodeLedger(b, s.loc)
	if err != nil {
		s.logger.Printf("local entry %s corrupt, ignoring: %v", key, err)
		return nil
	}
	if l.UserID == "" {
		l.UserID = userID
	}
	return l
}

func (s *SyncService) writeLocal(ctx context.Context, l *domain.Ledger) {
	if s.local == nil {
		return
	}
	key := domain.CacheKey(l.UserID, l.Date)
	b, err := json.Marshal(l)
	if err != nil {
		s.logger.Printf("encode %s: %v", key, err)
		return
	}
	if err := s.local.Set(ctx, key, b); err != nil {
		s.logger.Printf("local set %s: %v", key, err)
	}
}

func (s *SyncService) writeRemote(ctx context.Context, l *domain.Ledger) {
	if s.remote == nil {
		return
	}
	id := domain.DocumentID(l.UserID, l.Date)
	doc, err := l.ToDocument()
	if err != nil {
		s.logger.Printf("encode %s: %v", id, err)
		return
	}

	rctx, cancel := withOptionalTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.remote.Upsert(rctx, domain.ActivitiesCollection, id, doc, true); err != nil {
		s.logger.Printf("remote upsert %s: %v", id, err)
	}
}
