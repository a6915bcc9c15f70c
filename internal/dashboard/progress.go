// Package dashboard derives the values the dashboard displays from the
// stored document: project progress, sprint window, clocks and post feed.
package dashboard

import (
	"math"
	"time"

	"missioncontrol/internal/model"
)

// ProjectProgress is a Maestro project with its progress recomputed for a
// given day. The stored completionPercentage is ignored.
type ProjectProgress struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Phase                string  `json:"phase"`
	StartDate            string  `json:"startDate"`
	NumberOfWeeks        int     `json:"numberOfWeeks"`
	CompletionPercentage int     `json:"completionPercentage"`
	CurrentWeek          int     `json:"currentWeek"`
	WeekProgress         float64 `json:"weekProgress"`
	ProgressWidth        float64 `json:"progressWidth"`
}

// Progress computes progress for every project as of now. Days are counted
// in now's location.
func Progress(projects []model.MaestroProject, now time.Time) []ProjectProgress {
	out := make([]ProjectProgress, 0, len(projects))
	for _, p := range projects {
		week := CurrentWeek(p.StartDate, p.NumberOfWeeks, now)
		weekProgress := WeekProgress(p.StartDate, week, now)
		out = append(out, ProjectProgress{
			ID:                   p.ID,
			Name:                 p.Name,
			Phase:                p.Phase,
			StartDate:            p.StartDate,
			NumberOfWeeks:        p.NumberOfWeeks,
			CompletionPercentage: CompletionPercentage(p.StartDate, p.NumberOfWeeks, now),
			CurrentWeek:          week,
			WeekProgress:         weekProgress,
			ProgressWidth:        ProgressWidth(week, p.NumberOfWeeks, weekProgress),
		})
	}
	return out
}

// CompletionPercentage is the share of the project's days elapsed, rounded
// and clamped to 0..100. It is 0 before the start day and 100 from the day
// after the last week ends.
func CompletionPercentage(startDate string, weeks int, now time.Time) int {
	elapsed, ok := daysSinceStart(startDate, now)
	if !ok || weeks <= 0 || elapsed < 0 {
		return 0
	}
	total := weeks * 7
	if elapsed >= total {
		return 100
	}
	pct := int(math.Round(float64(elapsed) / float64(total) * 100))
	return min(100, max(0, pct))
}

// CurrentWeek is the zero-based week the project is in: -1 before it
// starts, weeks once it is over.
func CurrentWeek(startDate string, weeks int, now time.Time) int {
	elapsed, ok := daysSinceStart(startDate, now)
	if !ok || weeks <= 0 {
		return 0
	}
	if elapsed < 0 {
		return -1
	}
	week := elapsed / 7
	if week >= weeks {
		return weeks
	}
	return week
}

// WeekProgress is how far into currentWeek today is, from 0 to 1.
func WeekProgress(startDate string, currentWeek int, now time.Time) float64 {
	if currentWeek < 0 {
		return 0
	}
	elapsed, ok := daysSinceStart(startDate, now)
	if !ok {
		return 0
	}
	into := elapsed - currentWeek*7
	if into >= 7 {
		return 1
	}
	return math.Min(1, math.Max(0, float64(into)/7))
}

// ProgressWidth is the filled share of the week-divided progress bar, in
// percent.
func ProgressWidth(currentWeek, weeks int, weekProgress float64) float64 {
	if weeks <= 0 || currentWeek < 0 {
		return 0
	}
	if currentWeek >= weeks {
		return 100
	}
	weekWidth := 100 / float64(weeks)
	return float64(currentWeek)*weekWidth + weekWidth*weekProgress
}

// daysSinceStart counts whole calendar days from startDate to now's date.
func daysSinceStart(startDate string, now time.Time) (int, bool) {
	if startDate == "" {
		return 0, false
	}
	start, err := model.ParseDate(startDate)
	if err != nil {
		return 0, false
	}
	return daysBetween(start, now), true
}

// daysBetween compares civil dates so DST changes never shift the count.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
