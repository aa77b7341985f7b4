// Package memory implements in-memory adapters for development and testing:
// user and session repositories, the local cache, the remote mirror, a
// preference store and a scriptable step sensor.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitledger/internal/domain"
)

// DB implements an in-memory user and session store.
type DB struct {
	mu       sync.Mutex
	users    []*domain.User
	sessions map[string]*domain.Session
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		sessions: make(map[string]*domain.Session),
	}
}

// Ensure interfaces are met.
var _ domain.UserRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)
var _ domain.LocalCache = (*Cache)(nil)
var _ domain.RemoteMirror = (*Mirror)(nil)
var _ domain.PreferenceSource = (*Preferences)(nil)
var _ domain.StepSensor = (*Sensor)(nil)

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (db *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by ID.
func (db *DB) GetByID(ctx context.Context, id string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// Create creates a new user with a random UUID.
func (db *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, errors.New("user already exists")
		}
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.users = append(db.users, u)
	cp := *u
	return &cp, nil
}

// Count returns the total number of users.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, userID, token, userAgent, ip string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.sessions[token] = &domain.Session{
		Token:     token,
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetByToken retrieves a session by token. Expired sessions are dropped.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[token]
	if !ok {
		return nil, nil
	}
	if time.Now().After(s.ExpiresAt) {
		delete(r.db.sessions, token)
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	for k, v := range r.db.sessions {
		if now.After(v.ExpiresAt) {
			delete(r.db.sessions, k)
		}
	}
	return nil
}

// --- LocalCache ---

// Cache is a LocalCache backed by a map. Values are copied in and out.
type Cache struct {
	mu  sync.Mutex
	kv  map[string][]byte
	err error
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{kv: make(map[string][]byte)}
}

// Get returns the value for key, or nil when absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	v, ok := c.kv[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set stores value under key.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.kv[key] = append([]byte(nil), value...)
	return nil
}

// FailWith makes every subsequent call return err. A nil err heals the cache.
func (c *Cache) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// --- RemoteMirror ---

// Mirror is a RemoteMirror holding documents per collection.
type Mirror struct {
	mu      sync.Mutex
	docs    map[string]map[string]domain.Document
	err     error
	upserts int
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{docs: make(map[string]map[string]domain.Document)}
}

// Get returns a copy of the document, or nil when it does not exist.
func (m *Mirror) Get(ctx context.Context, collection, id string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, nil
	}
	return copyDocument(doc)
}

// Upsert stores doc. With merge set only the top-level fields present in
// doc replace the stored ones.
func (m *Mirror) Upsert(ctx context.Context, collection, id string, doc domain.Document, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := copyDocument(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]domain.Document)
		m.docs[collection] = coll
	}
	if existing, ok := coll[id]; ok && merge {
		for k, v := range cp {
			existing[k] = v
		}
	} else {
		coll[id] = cp
	}
	m.upserts++
	return nil
}

// FailWith makes every subsequent call return err, simulating an outage.
// A nil err brings the mirror back online.
func (m *Mirror) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Put stores doc as-is, bypassing encoding. Used to seed server-shaped data.
func (m *Mirror) Put(collection, id string, doc domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]domain.Document)
		m.docs[collection] = coll
	}
	coll[id] = doc
}

// Upserts returns the number of successful writes.
func (m *Mirror) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func copyDocument(doc domain.Document) (domain.Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out domain.Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- PreferenceSource ---

// Preferences stores the fitness-sync opt-in per user.
type Preferences struct {
	mu       sync.Mutex
	fallback bool
	enabled  map[string]bool
}

// NewPreferences creates a store answering fallback for unknown users.
func NewPreferences(fallback bool) *Preferences {
	return &Preferences{fallback: fallback, enabled: make(map[string]bool)}
}

// SetFitnessSync records the opt-in for userID.
func (p *Preferences) SetFitnessSync(userID string, enabled bool) {
	p.mu.Lock()
	p.enabled[userID] = enabled
	p.mu.Unlock()
}

// FitnessSyncEnabled reports whether ingestion is allowed for userID.
func (p *Preferences) FitnessSyncEnabled(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.enabled[userID]; ok {
		return v, nil
	}
	return p.fallback, nil
}

// --- StepSensor ---

// Sensor is a scriptable pedometer. Walk advances today's count and pushes
// the per-subscription running count to every subscriber.
type Sensor struct {
	mu        sync.Mutex
	available bool
	total     int
	nextSub   int
	subs      map[int]*subscription
}

type subscription struct {
	start int
	fn    func(int)
}

// NewSensor creates a sensor. An unavailable sensor refuses queries.
func NewSensor(available bool) *Sensor {
	return &Sensor{available: available, subs: make(map[int]*subscription)}
}

// IsAvailable reports whether the pedometer can be used.
func (s *Sensor) IsAvailable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// QueryStepsSince returns the steps counted since midnight. The sensor only
// tracks the current day, so since is not consulted.
func (s *Sensor) QueryStepsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return 0, errors.New("step sensor unavailable")
	}
	return s.total, nil
}

// Subscribe registers fn for live updates.
func (s *Sensor) Subscribe(ctx context.Context, fn func(steps int)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return nil, errors.New("step sensor unavailable")
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = &subscription{start: s.total, fn: fn}
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// Walk adds n steps and notifies subscribers. Callbacks run on the caller's
// goroutine outside the sensor lock.
func (s *Sensor) Walk(n int) {
	s.mu.Lock()
	s.total += n
	type delivery struct {
		fn    func(int)
		steps int
	}
	out := make([]delivery, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, delivery{fn: sub.fn, steps: s.total - sub.start})
	}
	s.mu.Unlock()

	for _, d := range out {
		d.fn(d.steps)
	}
}

// SetSteps replaces today's count without notifying subscribers, as if the
// steps were taken while nothing was listening.
func (s *Sensor) SetSteps(n int) {
	s.mu.Lock()
	s.total = n
	s.mu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (s *Sensor) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
