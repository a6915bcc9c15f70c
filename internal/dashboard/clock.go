package dashboard

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone database for minimal containers
)

// Zone is one city shown on the world clock strip.
type Zone struct {
	Name  string
	Label string
}

// Zones are the world clocks in display order.
var Zones = []Zone{
	{Name: "Europe/Rome", Label: "TRN"},
	{Name: "Europe/London", Label: "LHR"},
	{Name: "America/New_York", Label: "JFK"},
	{Name: "America/Los_Angeles", Label: "SFO"},
}

type WorldClock struct {
	Label string `json:"label"`
	Zone  string `json:"zone"`
	Time  string `json:"time"`
}

// Board is the top-bar header: date, ISO week and world clocks.
type Board struct {
	Date     string       `json:"date"`
	Week     string       `json:"week"`
	Clocks   []WorldClock `json:"clocks"`
	Greeting string       `json:"greeting,omitempty"`
}

// NewBoard builds the header for now. The date and week are taken in now's
// location; name, when set, adds a greeting.
func NewBoard(now time.Time, name string) (Board, error) {
	clocks, err := Clocks(now)
	if err != nil {
		return Board{}, err
	}
	return Board{
		Date:     FormatDate(now),
		Week:     ISOWeek(now),
		Clocks:   clocks,
		Greeting: Greeting(name, now),
	}, nil
}

func Clocks(now time.Time) ([]WorldClock, error) {
	out := make([]WorldClock, 0, len(Zones))
	for _, z := range Zones {
		loc, err := time.LoadLocation(z.Name)
		if err != nil {
			return nil, fmt.Errorf("load zone %s: %w", z.Name, err)
		}
		out = append(out, WorldClock{Label: z.Label, Zone: z.Name, Time: FormatTime(now, loc)})
	}
	return out, nil
}

// ZoneLabel returns the short label for a zone name, or the name itself.
func ZoneLabel(name string) string {
	for _, z := range Zones {
		if z.Name == name {
			return z.Label
		}
	}
	return name
}

// ISOWeek formats the ISO-8601 week number as W01..W53.
func ISOWeek(t time.Time) string {
	_, week := t.ISOWeek()
	return fmt.Sprintf("W%02d", week)
}

// FormatDate renders dates like "Tue 10 Mar 2026".
func FormatDate(t time.Time) string {
	return t.Format("Mon 2 Jan 2006")
}

func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04:05")
}

func FormatTimeShort(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

// Greeting greets name by the hour of t. Empty name, empty greeting.
func Greeting(name string, t time.Time) string {
	if name == "" {
		return ""
	}
	hour := t.Hour()
	greeting := "Good Morning"
	switch {
	case hour >= 12 && hour < 17:
		greeting = "Good Afternoon"
	case hour >= 17 || hour < 5:
		greeting = "Good Evening"
	}
	return greeting + " " + name
}
