package adapthttp

import (
	"errors"
	"net/http"

	"fitledger/internal/app"
	"fitledger/internal/domain"
)

// session returns the caller's running ledger session, starting it when the
// server restarted since sign-in.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*app.LedgerSession, bool) {
	user := userFromContext(r)
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	sess, err := s.ledgers.Acquire(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleLedgerToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeLedger(w, sess.Snapshot(), nil)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	p := sess.TodayProgress(s.goals)
	if p == nil {
		writeError(w, http.StatusConflict, errors.New("no active ledger"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Steps int `json:"steps"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.UpdateSteps(r.Context(), body.Steps)
	writeLedger(w, l, err)
}

func (s *Server) handleWater(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Ml int `json:"ml"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.AddWater(r.Context(), body.Ml)
	writeLedger(w, l, err)
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Hours float64 `json:"hours"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.SetSleepHours(r.Context(), body.Hours)
	writeLedger(w, l, err)
}

func (s *Server) handleAddMeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var meal domain.Meal
	if err := parseJSON(r, &meal); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.AddMeal(r.Context(), meal)
	writeLedger(w, l, err)
}

func (s *Server) handleUpdateMeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ID   int64       `json:"id"`
		Meal domain.Meal `json:"meal"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.UpdateMeal(r.Context(), body.ID, body.Meal)
	writeLedger(w, l, err)
}

func (s *Server) handleRemoveMeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ID int64 `json:"id"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.RemoveMeal(r.Context(), body.ID)
	writeLedger(w, l, err)
}

func (s *Server) handleRepeatMeals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Date string `json:"date"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.RepeatMealsFrom(r.Context(), body.Date)
	writeLedger(w, l, err)
}

func (s *Server) handleAddWorkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var workout domain.Workout
	if err := parseJSON(r, &workout); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.AddWorkout(r.Context(), workout)
	writeLedger(w, l, err)
}

func (s *Server) handleWorkoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var ws app.WorkoutSession
	if err := parseJSON(r, &ws); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.AddWorkoutSession(r.Context(), ws)
	writeLedger(w, l, err)
}

func (s *Server) handleRemoveWorkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ID int64 `json:"id"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	l, err := sess.RemoveWorkout(r.Context(), body.ID)
	writeLedger(w, l, err)
}

// handleLastLift reports the last weight and reps for an exercise. Weights
// are stored in kg; unit=lb converts on the way out.
func (s *Server) handleLastLift(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	unit := r.URL.Query().Get("unit")
	if unit == "" {
		unit = "kg"
	}
	if unit != "kg" && unit != "lb" {
		writeError(w, http.StatusBadRequest, errors.New("unit must be kg or lb"))
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	lift, err := sess.LastLift(r.Context(), name)
	if err != nil {
		writeLedger(w, nil, err)
		return
	}
	if lift == nil {
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "unit": unit, "lift": nil})
		return
	}
	if lift.Weight != nil {
		v := domain.RoundTo(domain.ConvertWeight(*lift.Weight, "kg", unit), 1)
		lift.Weight = &v
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "unit": unit, "lift": lift})
}

func (s *Server) handleSensorStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "sensor stream disabled", http.StatusNotFound)
		return
	}
	user := userFromContext(r)
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	// Make sure ingestion is subscribed before the device starts pushing.
	if _, ok := s.session(w, r); !ok {
		return
	}
	s.hub.ServeWs(w, r, user.ID)
}
