package app

import (
	"math"

	"fitledger/internal/domain"
)

// MacroProgress is one macronutrient against its target.
type MacroProgress struct {
	Grams   float64 `json:"grams"`
	Target  float64 `json:"target"`
	Percent int     `json:"percent"`
}

// Progress summarizes the active day against the user's goals.
type Progress struct {
	Date              string        `json:"date"`
	CaloriesConsumed  float64       `json:"caloriesConsumed"`
	CaloriesBurned    float64       `json:"caloriesBurned"`
	CalorieTarget     float64       `json:"calorieTarget"`
	CaloriesRemaining float64       `json:"caloriesRemaining"`
	Protein           MacroProgress `json:"protein"`
	Carbs             MacroProgress `json:"carbs"`
	Fat               MacroProgress `json:"fat"`
	Steps             int           `json:"steps"`
	WaterIntake       int           `json:"waterIntake"`
	SleepHours        float64       `json:"sleepHours"`
}

// TodayProgress reports consumed and remaining calories and the percentage
// of each macro target reached. It returns nil when no ledger is active.
func (s *LedgerSession) TodayProgress(goals domain.Goals) *Progress {
	l := s.Snapshot()
	if l == nil {
		return nil
	}
	return ComputeProgress(*l, goals)
}

// ComputeProgress derives a Progress from a ledger and goals.
func ComputeProgress(l domain.Ledger, goals domain.Goals) *Progress {
	return &Progress{
		Date:              l.Date,
		CaloriesConsumed:  l.TotalCalories,
		CaloriesBurned:    l.CaloriesBurned(),
		CalorieTarget:     goals.Calories,
		CaloriesRemaining: math.Max(0, goals.Calories-l.TotalCalories),
		Protein:           macroProgress(l.Macros.Protein, goals.Protein),
		Carbs:             macroProgress(l.Macros.Carbs, goals.Carbs),
		Fat:               macroProgress(l.Macros.Fat, goals.Fat),
		Steps:             l.Steps,
		WaterIntake:       l.WaterIntake,
		SleepHours:        l.SleepHours,
	}
}

func macroProgress(grams, target float64) MacroProgress {
	p := MacroProgress{Grams: domain.RoundTo(grams, 1), Target: target}
	if target > 0 {
		p.Percent = int(math.Round(grams / target * 100))
	}
	return p
}
