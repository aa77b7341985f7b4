package domain

import (
	"maps"
	"slices"
	"time"
)

// DayLayout is the calendar date format used as the ledger partition key.
const DayLayout = "2006-01-02"

// WorkoutType classifies a workout.
type WorkoutType string

const (
	WorkoutCardio      WorkoutType = "cardio"
	WorkoutStrength    WorkoutType = "strength"
	WorkoutFlexibility WorkoutType = "flexibility"
	WorkoutSports      WorkoutType = "sports"
	WorkoutOther       WorkoutType = "other"
)

// MealType classifies a meal by time of day.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// SetType classifies a single set within a strength session.
type SetType string

const (
	SetNormal  SetType = "normal"
	SetWarmup  SetType = "warmup"
	SetDrop    SetType = "drop"
	SetFailure SetType = "failure"
)

// Macros holds macronutrient grams.
type Macros struct {
	Protein float64 `json:"protein"`
	Carbs   float64 `json:"carbs"`
	Fat     float64 `json:"fat"`
}

// Add returns the element-wise sum of m and o.
func (m Macros) Add(o Macros) Macros {
	return Macros{Protein: m.Protein + o.Protein, Carbs: m.Carbs + o.Carbs, Fat: m.Fat + o.Fat}
}

// Meal is a single food entry within a day.
type Meal struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Calories  float64            `json:"calories"`
	Macros    Macros             `json:"macros"`
	Micros    map[string]float64 `json:"micros,omitempty"`
	Type      MealType           `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
}

// ExerciseSet is one set of an exercise. Reps is kept as entered ("5",
// "8-10", "AMRAP"); an empty string means no reps were recorded.
type ExerciseSet struct {
	Reps        string     `json:"reps,omitempty"`
	Weight      *float64   `json:"weight,omitempty"`
	RestSeconds int        `json:"restSeconds,omitempty"`
	Type        SetType    `json:"setType,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Recorded reports whether the set carries a weight or a rep count.
func (s ExerciseSet) Recorded() bool {
	return (s.Weight != nil && *s.Weight > 0) || s.Reps != ""
}

// SessionExercise is one exercise performed during a workout session.
type SessionExercise struct {
	Name string        `json:"name"`
	Sets []ExerciseSet `json:"sets"`
}

// WorkoutDetails is the structured record of a completed session.
type WorkoutDetails struct {
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Exercises []SessionExercise `json:"exercises"`
	TotalSets int               `json:"totalSets"`
}

// Workout is a single workout entry within a day.
type Workout struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Duration       int             `json:"duration"`
	CaloriesBurned float64         `json:"caloriesBurned"`
	Type           WorkoutType     `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	Details        *WorkoutDetails `json:"details,omitempty"`
}

// Ledger is the aggregated activity record for one user on one calendar
// date. TotalCalories, Macros and Micros are derived from Meals and are only
// written by RecomputeTotals.
type Ledger struct {
	UserID        string             `json:"userId"`
	Date          string             `json:"date"`
	Steps         int                `json:"steps"`
	WaterIntake   int                `json:"waterIntake"`
	SleepHours    float64            `json:"sleepHours"`
	Workouts      []Workout          `json:"workouts"`
	Meals         []Meal             `json:"meals"`
	TotalCalories float64            `json:"totalCalories"`
	Macros        Macros             `json:"macros"`
	Micros        map[string]float64 `json:"micros"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// DocumentID returns the remote document id for a user-day.
func DocumentID(userID, date string) string {
	return userID + "_" + date
}

// CacheKey returns the local cache key for a user-day.
func CacheKey(userID, date string) string {
	return "activity:" + userID + ":" + date
}

// NewLedger returns a zero-valued ledger for the given user and date.
func NewLedger(userID, date string, now time.Time) *Ledger {
	return &Ledger{
		UserID:    userID,
		Date:      date,
		Workouts:  []Workout{},
		Meals:     []Meal{},
		Micros:    map[string]float64{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the ledger.
func (l Ledger) Clone() Ledger {
	out := l
	out.Micros = maps.Clone(l.Micros)
	if out.Micros == nil {
		out.Micros = map[string]float64{}
	}

	out.Meals = make([]Meal, len(l.Meals))
	for i, m := range l.Meals {
		m.Micros = maps.Clone(m.Micros)
		out.Meals[i] = m
	}

	out.Workouts = make([]Workout, len(l.Workouts))
	for i, w := range l.Workouts {
		if w.Details != nil {
			d := *w.Details
			d.Exercises = make([]SessionExercise, len(w.Details.Exercises))
			for j, ex := range w.Details.Exercises {
				ex.Sets = slices.Clone(ex.Sets)
				d.Exercises[j] = ex
			}
			w.Details = &d
		}
		out.Workouts[i] = w
	}
	return out
}

// RecomputeTotals rebuilds the derived nutrition fields from Meals.
func (l *Ledger) RecomputeTotals() {
	var cal float64
	var macros Macros
	micros := map[string]float64{}
	for _, m := range l.Meals {
		cal += m.Calories
		macros = macros.Add(m.Macros)
		for k, v := range m.Micros {
			micros[k] += v
		}
	}
	l.TotalCalories = cal
	l.Macros = macros
	l.Micros = micros
}

// CaloriesBurned sums the calories burned across all workouts.
func (l Ledger) CaloriesBurned() float64 {
	var total float64
	for _, w := range l.Workouts {
		total += w.CaloriesBurned
	}
	return total
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DayLayout, s)
	return err == nil
}

// ValidMealType reports whether t is a known meal type.
func ValidMealType(t MealType) bool {
	switch t {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// ValidWorkoutType reports whether t is a known workout type.
func ValidWorkoutType(t WorkoutType) bool {
	switch t {
	case WorkoutCardio, WorkoutStrength, WorkoutFlexibility, WorkoutSports, WorkoutOther:
		return true
	}
	return false
}

// LastLift is the most recent weight and reps recorded for one exercise.
type LastLift struct {
	Weight    *float64  `json:"weight,omitempty"`
	Reps      string    `json:"reps,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LastLiftKey returns the local cache key of a user's last-lift index.
func LastLiftKey(userID string) string {
	return "lastLift:" + userID
}
