package app

import (
	"context"
	"errors"
	"time"

	"fitledger/internal/domain"
)

// ChartsService encapsulates chart data retrieval use cases.
type ChartsService struct {
	ledgers *SyncService
	now     func() time.Time
}

// NewChartsService creates a ChartsService reading ledgers through sync and
// sharing its clock.
func NewChartsService(sync *SyncService) *ChartsService {
	return &ChartsService{ledgers: sync, now: sync.now}
}

// DayPoint is a single data point returned by GetDaily. Days without a
// stored ledger have Logged set to false and zero values.
type DayPoint struct {
	Day         string  `json:"day"`
	Logged      bool    `json:"logged"`
	Steps       int     `json:"steps"`
	WaterIntake int     `json:"waterIntake"`
	Calories    float64 `json:"calories"`
	Burned      float64 `json:"burned"`
	SleepHours  float64 `json:"sleepHours"`
	Workouts    int     `json:"workouts"`
}

// GetDaily returns per-day chart data for the last days days, oldest first.
// History is read without creating ledgers for days that were never logged.
// Once the remote mirror fails, the remaining days come from the local cache
// only.
func (s *ChartsService) GetDaily(ctx context.Context, userID string, days int) ([]DayPoint, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if days <= 0 {
		return nil, errors.New("days must be > 0")
	}
	if days > 366 {
		days = 366
	}

	today := s.now().In(s.ledgers.Location())
	points := make([]DayPoint, 0, days)

	useRemote := true
	for i := days - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dayStr := today.AddDate(0, 0, -i).Format(domain.DayLayout)
		p := DayPoint{Day: dayStr}
		l, remoteErr := s.ledgers.peek(ctx, userID, dayStr, useRemote)
		if remoteErr != nil {
			useRemote = false
		}
		if l != nil {
			p.Logged = true
			p.Steps = l.Steps
			p.WaterIntake = l.WaterIntake
			p.Calories = l.TotalCalories
			p.Burned = l.CaloriesBurned()
			p.SleepHours = l.SleepHours
			p.Workouts = len(l.Workouts)
		}
		points = append(points, p)
	}
	return points, nil
}
