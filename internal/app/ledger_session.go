package app

import (
	"context"
	"errors"
	"log"
	"maps"
	"math"
	"os"
	"sync"
	"time"

	"fitledger/internal/domain"
)

// ErrEntryNotFound is returned when a meal or workout id is not in the
// active ledger, or a source ledger to copy from does not exist.
var ErrEntryNotFound = errors.New("entry not found")

// DefaultRolloverInterval is how often the wall clock is compared to the
// active ledger's date.
const DefaultRolloverInterval = time.Minute

type sessionState int

const (
	stateIdle sessionState = iota
	stateActive
	stateTransitioning
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// SessionOptions configures a LedgerSession.
type SessionOptions struct {
	Ingestor         *StepIngestor
	LastLifts        *LastLiftIndex
	RolloverInterval time.Duration
	Logger           *log.Logger
	Now              func() time.Time
}

// Updater derives the next ledger from the current one. It receives a
// private copy and must not perform I/O.
type Updater func(domain.Ledger) domain.Ledger

// LedgerSession owns the active ledger of one signed-in user. Every change
// goes through Apply, which serializes read-compute-commit under one mutex.
// Committed ledgers are written to the local cache and remote mirror in
// commit order by a background persister; callers never wait on the stores.
type LedgerSession struct {
	userID   string
	sync     *SyncService
	ingest   *StepIngestor
	lifts    *LastLiftIndex
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	current *domain.Ledger
	state   sessionState

	persist *persister

	idMu   sync.Mutex
	lastID int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLedgerSession creates an idle session for userID. Call Start to load
// today's ledger.
func NewLedgerSession(userID string, syncSvc *SyncService, opts SessionOptions) *LedgerSession {
	if opts.RolloverInterval <= 0 {
		opts.RolloverInterval = DefaultRolloverInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[ledger] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LedgerSession{
		userID:   userID,
		sync:     syncSvc,
		ingest:   opts.Ingestor,
		lifts:    opts.LastLifts,
		interval: opts.RolloverInterval,
		logger:   opts.Logger,
		now:      opts.Now,
		persist:  newPersister(syncSvc.Save),
	}
}

// UserID returns the owner of the session.
func (s *LedgerSession) UserID() string {
	return s.userID
}

func (s *LedgerSession) today() string {
	return s.now().In(s.sync.Location()).Format(domain.DayLayout)
}

func (s *LedgerSession) midnight(date string) time.Time {
	t, err := time.ParseInLocation(domain.DayLayout, date, s.sync.Location())
	if err != nil {
		return s.now()
	}
	return t
}

// Start loads today's ledger, starts step ingestion and the rollover
// ticker. Starting a running session is a no-op.
func (s *LedgerSession) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return nil
	}

	date := s.today()
	l, err := s.sync.Load(ctx, s.userID, date)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = l
	s.state = stateActive
	s.mu.Unlock()
	s.seedIDs(l)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	s.startIngestion(loopCtx, date)
	go s.rolloverLoop(loopCtx, s.done)

	s.logger.Printf("session started for %s on %s", s.userID, date)
	return nil
}

// Stop tears the session down: the ticker and ingestion stop and the
// active ledger is cleared. Stopping an idle session is a no-op.
func (s *LedgerSession) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.mu.Lock()
	if s.ingest != nil {
		s.ingest.Stop()
	}
	s.current = nil
	s.state = stateIdle
	s.mu.Unlock()

	s.persist.flush()
	s.logger.Printf("session stopped for %s", s.userID)
}

// Flush blocks until every ledger committed so far has been handed to the
// local cache and the remote mirror.
func (s *LedgerSession) Flush() {
	s.persist.flush()
}

// State reports the scheduler state: idle, active or transitioning.
func (s *LedgerSession) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

// Snapshot returns a copy of the active ledger, or nil when none is loaded.
func (s *LedgerSession) Snapshot() *domain.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	l := s.current.Clone()
	return &l
}

// Apply runs updater against the active ledger, commits the result and
// queues it for persistence. It reports false, without calling updater, when no ledger
// is active.
func (s *LedgerSession) Apply(ctx context.Context, updater Updater) (*domain.Ledger, bool) {
	_, next, ok := s.apply(ctx, "", updater)
	return next, ok
}

// apply is Apply with an optional date guard: when onlyDate is set and the
// active ledger is for a different date the call is a no-op.
func (s *LedgerSession) apply(ctx context.Context, onlyDate string, updater Updater) (prev, next *domain.Ledger, ok bool) {
	s.mu.Lock()
	if s.current == nil || (onlyDate != "" && s.current.Date != onlyDate) {
		s.mu.Unlock()
		return nil, nil, false
	}
	before := s.current.Clone()
	committed := updater(s.current.Clone())
	committed.UserID = before.UserID
	committed.Date = before.Date
	committed.CreatedAt = before.CreatedAt
	committed.UpdatedAt = s.now().In(s.sync.Location())
	s.current = &committed
	stored := committed.Clone()
	result := committed.Clone()
	s.persist.enqueue(&stored)
	s.mu.Unlock()

	return &before, &result, true
}

func (s *LedgerSession) seedIDs(l *domain.Ledger) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	for _, m := range l.Meals {
		s.lastID = max(s.lastID, m.ID)
	}
	for _, w := range l.Workouts {
		s.lastID = max(s.lastID, w.ID)
	}
}

// nextID returns a millisecond-derived id that is strictly greater than
// every id handed out or seen by this session.
func (s *LedgerSession) nextID() int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// UpdateSteps raises the step count to n if n is larger.
func (s *LedgerSession) UpdateSteps(ctx context.Context, n int) (*domain.Ledger, error) {
	if n < 0 {
		return nil, invalidf("steps must be >= 0")
	}
	next, _ := s.Apply(ctx, stepsUpdater(n))
	return next, nil
}

func stepsUpdater(n int) Updater {
	return func(l domain.Ledger) domain.Ledger {
		l.Steps = max(l.Steps, n)
		return l
	}
}

// mergeSensorSteps applies a sensor reading to the ledger of date only, so
// a late reading never lands on the next day's ledger.
func (s *LedgerSession) mergeSensorSteps(ctx context.Context, date string, n int) {
	if n < 0 {
		return
	}
	s.apply(ctx, date, stepsUpdater(n))
}

// AddWater adds ml milliliters to the day's water intake.
func (s *LedgerSession) AddWater(ctx context.Context, ml int) (*domain.Ledger, error) {
	if ml <= 0 {
		return nil, invalidf("water must be > 0 ml")
	}
	next, _ := s.Apply(ctx, func(l domain.Ledger) domain.Ledger {
		l.WaterIntake += ml
		return l
	})
	return next, nil
}

// SetSleepHours records last night's sleep, clamped to [0, 24] and rounded
// to one decimal.
func (s *LedgerSession) SetSleepHours(ctx context.Context, hours float64) (*domain.Ledger, error) {
	h := domain.ClampSleepHours(hours)
	next, _ := s.Apply(ctx, func(l domain.Ledger) domain.Ledger {
		l.SleepHours = h
		return l
	})
	return next, nil
}

func validateMeal(m domain.Meal) error {
	if m.Name == "" {
		return invalidf("meal name is required")
	}
	if !domain.ValidMealType(m.Type) {
		return invalidf("meal type %q is not one of breakfast, lunch, dinner, snack", m.Type)
	}
	if m.Calories < 0 || m.Macros.Protein < 0 || m.Macros.Carbs < 0 || m.Macros.Fat < 0 {
		return invalidf("meal calories and macros must be >= 0")
	}
	for k, v := range m.Micros {
		if v < 0 || math.IsNaN(v) {
			return invalidf("micronutrient %q must be >= 0", k)
		}
	}
	return nil
}

// AddMeal appends a meal with a fresh id and recomputes the day's totals.
func (s *LedgerSession) AddMeal(ctx context.Context, m domain.Meal) (*domain.Ledger, error) {
	if err := validateMeal(m); err != nil {
		return nil, err
	}
	m.ID = s.nextID()
	m.Micros = maps.Clone(m.Micros)
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().In(s.sync.Location())
	}
	next, _ := s.Apply(ctx, func(l domain.Ledger) domain.Ledger {
		l.Meals = append(l.Meals, m)
		l.RecomputeTotals()
		return l
	})
	return next, nil
}

// UpdateMeal replaces the meal with the given id, keeping its id and, when
// m has none, its timestamp.
func (s *LedgerSession) UpdateMeal(ctx context.Context, id int64, m domain.Meal) (*domain.Ledger, error) {
	if err := validateMeal(m); err != nil {
		return nil, err
	}
	m.Micros = maps.Clone(m.Micros)
	prev, next, ok := s.apply(ctx, "", func(l domain.Ledger) domain.Ledger {
		for i, old := range l.Meals {
			if old.ID != id {
				continue
			}
			updated := m
			updated.ID = id
			if updated.Timestamp.IsZero() {
				updated.Timestamp = old.Timestamp
			}
			l.Meals[i] = updated
		}
		l.RecomputeTotals()
		return l
	})
	if !ok {
		return nil, nil
	}
	if !hasMeal(prev, id) {
		return next, ErrEntryNotFound
	}
	return next, nil
}

// RemoveMeal deletes the meal with the given id and recomputes the totals.
func (s *LedgerSession) RemoveMeal(ctx context.Context, id int64) (*domain.Ledger, error) {
	prev, next, ok := s.apply(ctx, "", func(l domain.Ledger) domain.Ledger {
		kept := l.Meals[:0]
		for _, m := range l.Meals {
			if m.ID != id {
				kept = append(kept, m)
			}
		}
		l.Meals = kept
		l.RecomputeTotals()
		return l
	})
	if !ok {
		return nil, nil
	}
	if !hasMeal(prev, id) {
		return next, ErrEntryNotFound
	}
	return next, nil
}

func hasMeal(l *domain.Ledger, id int64) bool {
	for _, m := range l.Meals {
		if m.ID == id {
			return true
		}
	}
	return false
}

// RepeatMealsFrom copies every meal logged on date into today's ledger with
// fresh ids and timestamps. The source ledger is only read.
func (s *LedgerSession) RepeatMealsFrom(ctx context.Context, date string) (*domain.Ledger, error) {
	if !domain.ValidDate(date) {
		return nil, invalidf("date %q is not YYYY-MM-DD", date)
	}
	snap := s.Snapshot()
	if snap == nil {
		return nil, nil
	}
	if snap.Date == date {
		return nil, invalidf("cannot repeat meals from the active day")
	}
	src, ok := s.sync.Peek(ctx, s.userID, date)
	if !ok || len(src.Meals) == 0 {
		return nil, ErrEntryNotFound
	}

	stamp := s.now().In(s.sync.Location())
	copied := make([]domain.Meal, len(src.Meals))
	for i, m := range src.Meals {
		m.ID = s.nextID()
		m.Timestamp = stamp
		copied[i] = m
	}
	_, next, ok := s.apply(ctx, snap.Date, func(l domain.Ledger) domain.Ledger {
		l.Meals = append(l.Meals, copied...)
		l.RecomputeTotals()
		return l
	})
	if !ok {
		return nil, nil
	}
	return next, nil
}

func validateWorkout(w domain.Workout) error {
	if w.Name == "" {
		return invalidf("workout name is required")
	}
	if !domain.ValidWorkoutType(w.Type) {
		return invalidf("workout type %q is not one of cardio, strength, flexibility, sports, other", w.Type)
	}
	if w.Duration < 0 || w.CaloriesBurned < 0 {
		return invalidf("workout duration and calories must be >= 0")
	}
	return nil
}

// AddWorkout appends a workout with a fresh id.
func (s *LedgerSession) AddWorkout(ctx context.Context, w domain.Workout) (*domain.Ledger, error) {
	if err := validateWorkout(w); err != nil {
		return nil, err
	}
	w.ID = s.nextID()
	if w.Timestamp.IsZero() {
		w.Timestamp = s.now().In(s.sync.Location())
	}
	next, _ := s.Apply(ctx, func(l domain.Ledger) domain.Ledger {
		l.Workouts = append(l.Workouts, w)
		return l
	})
	return next, nil
}

// WorkoutSession is a completed, structured strength or cardio session.
type WorkoutSession struct {
	Name           string                   `json:"name"`
	Type           domain.WorkoutType       `json:"type"`
	StartTime      time.Time                `json:"startTime"`
	EndTime        time.Time                `json:"endTime"`
	CaloriesBurned float64                  `json:"caloriesBurned"`
	Exercises      []domain.SessionExercise `json:"exercises"`
}

// AddWorkoutSession records a completed session as a workout with details.
// Once committed, the last-lift index is updated from its sets.
func (s *LedgerSession) AddWorkoutSession(ctx context.Context, ws WorkoutSession) (*domain.Ledger, error) {
	if ws.Name == "" {
		ws.Name = "Workout"
	}
	if ws.Type == "" {
		ws.Type = domain.WorkoutStrength
	}
	if ws.StartTime.IsZero() || ws.EndTime.IsZero() || ws.EndTime.Before(ws.StartTime) {
		return nil, invalidf("session needs a start time before its end time")
	}
	for _, ex := range ws.Exercises {
		if ex.Name == "" {
			return nil, invalidf("exercise name is required")
		}
	}

	totalSets := 0
	for _, ex := range ws.Exercises {
		totalSets += len(ex.Sets)
	}
	w := domain.Workout{
		ID:             s.nextID(),
		Name:           ws.Name,
		Duration:       int(math.Round(ws.EndTime.Sub(ws.StartTime).Minutes())),
		CaloriesBurned: ws.CaloriesBurned,
		Type:           ws.Type,
		Timestamp:      ws.EndTime.In(s.sync.Location()),
		Details: &domain.WorkoutDetails{
			StartTime: ws.StartTime.In(s.sync.Location()),
			EndTime:   ws.EndTime.In(s.sync.Location()),
			Exercises: ws.Exercises,
			TotalSets: totalSets,
		},
	}
	if err := validateWorkout(w); err != nil {
		return nil, err
	}
	// The committed ledger gets its own copy of the exercise list.
	w = domain.Ledger{Workouts: []domain.Workout{w}}.Clone().Workouts[0]

	next, ok := s.Apply(ctx, func(l domain.Ledger) domain.Ledger {
		l.Workouts = append(l.Workouts, w)
		return l
	})
	if ok && s.lifts != nil {
		s.lifts.Record(ctx, s.userID, ws.Exercises, ws.EndTime)
	}
	return next, nil
}

// RemoveWorkout deletes the workout with the given id.
func (s *LedgerSession) RemoveWorkout(ctx context.Context, id int64) (*domain.Ledger, error) {
	prev, next, ok := s.apply(ctx, "", func(l domain.Ledger) domain.Ledger {
		kept := l.Workouts[:0]
		for _, w := range l.Workouts {
			if w.ID != id {
				kept = append(kept, w)
			}
		}
		l.Workouts = kept
		return l
	})
	if !ok {
		return nil, nil
	}
	for _, w := range prev.Workouts {
		if w.ID == id {
			return next, nil
		}
	}
	return next, ErrEntryNotFound
}

// LastLift returns the most recent weight and reps for an exercise, or nil.
func (s *LedgerSession) LastLift(ctx context.Context, name string) (*domain.LastLift, error) {
	if s.lifts == nil {
		return nil, nil
	}
	return s.lifts.Get(ctx, s.userID, name)
}
