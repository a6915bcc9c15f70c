package dashboard

import (
	"time"

	"missioncontrol/internal/model"
)

// SprintWindow summarizes the sprint dates relative to today. Both ends are
// inclusive days.
type SprintWindow struct {
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	TotalDays     int    `json:"totalDays"`
	ElapsedDays   int    `json:"elapsedDays"`
	RemainingDays int    `json:"remainingDays"`
	Active        bool   `json:"active"`
	Features      int    `json:"features"`
}

// Sprint computes the window for scope as of now. Unparsable or inverted
// dates give a zero-length, inactive window.
func Sprint(scope model.SprintScope, now time.Time) SprintWindow {
	w := SprintWindow{
		StartDate: scope.StartDate,
		EndDate:   scope.EndDate,
		Features:  len(scope.Features),
	}
	start, err := model.ParseDate(scope.StartDate)
	if err != nil {
		return w
	}
	end, err := model.ParseDate(scope.EndDate)
	if err != nil {
		return w
	}
	total := daysBetween(start, end) + 1
	if total <= 0 {
		return w
	}
	w.TotalDays = total

	elapsed := daysBetween(start, now) + 1
	switch {
	case elapsed <= 0:
		w.RemainingDays = total
	case elapsed > total:
		w.ElapsedDays = total
	default:
		w.ElapsedDays = elapsed
		w.RemainingDays = total - elapsed
		w.Active = true
	}
	return w
}
