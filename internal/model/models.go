// Package model defines the synchronized Mission Control document.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/brunoga/deep"
)

// CurrentVersion is the format tag written into every document.
const CurrentVersion = "1.1.0"

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	dateLayout      = "2006-01-02"
)

var (
	ErrInvalidStructure = errors.New("document has no orgs")
	ErrUnknownOrg       = errors.New("unknown organization")
)

type OrgKey string

const (
	OrgMaestro OrgKey = "maestro"
	OrgOpcode  OrgKey = "opcode"
)

func ParseOrgKey(value string) (OrgKey, error) {
	switch OrgKey(value) {
	case OrgMaestro, OrgOpcode:
		return OrgKey(value), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOrg, value)
}

type TodoItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type TodoList struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Items []TodoItem `json:"items"`
}

type Photo struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption"`
	Sort     int    `json:"sort"`
}

type OpCodeMetrics struct {
	TasksCompletedThisWeek    int `json:"tasksCompletedThisWeek"`
	UniqueActiveUsersThisHour int `json:"uniqueActiveUsersThisHour"`
	ComponentsParsedSince2026 int `json:"componentsParsedSince2026"`
}

// MaestroProject.CompletionPercentage is kept for older clients only; the
// displayed value is recomputed from StartDate and NumberOfWeeks.
type MaestroProject struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Phase                string `json:"phase"`
	StartDate            string `json:"startDate"`
	NumberOfWeeks        int    `json:"numberOfWeeks"`
	CompletionPercentage int    `json:"completionPercentage"`
}

type Post struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
}

type SprintFeature struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Description string `json:"description"`
}

type SprintScope struct {
	StartDate string          `json:"startDate"`
	EndDate   string          `json:"endDate"`
	Features  []SprintFeature `json:"features"`
}

// Org is one organization's panel. OpCodeMetrics and SprintScope are only
// set for opcode, MaestroProjects only for maestro.
type Org struct {
	StrategicTargets string           `json:"strategicTargets"`
	TodoLists        []TodoList       `json:"todoLists"`
	Photos           []Photo          `json:"photos"`
	OpCodeMetrics    *OpCodeMetrics   `json:"opCodeMetrics,omitempty"`
	SprintScope      *SprintScope     `json:"sprintScope,omitempty"`
	MaestroProjects  []MaestroProject `json:"maestroProjects,omitempty"`
	Posts            []Post           `json:"posts,omitempty"`
}

type Orgs struct {
	Maestro Org `json:"maestro"`
	Opcode  Org `json:"opcode"`
}

// AppState is the single synchronized document.
type AppState struct {
	Version       string         `json:"version"`
	Settings      map[string]any `json:"settings,omitempty"`
	Orgs          Orgs           `json:"orgs"`
	LastUpdated   string         `json:"lastUpdated,omitempty"`
	LastUpdatedBy string         `json:"lastUpdatedBy,omitempty"`
}

// Clone returns a deep copy that shares no slices or maps with s.
func (s AppState) Clone() AppState {
	return deep.MustCopy(s)
}

func (s AppState) Org(key OrgKey) (Org, error) {
	switch key {
	case OrgMaestro:
		return s.Orgs.Maestro, nil
	case OrgOpcode:
		return s.Orgs.Opcode, nil
	}
	return Org{}, fmt.Errorf("%w: %q", ErrUnknownOrg, key)
}

func (s *AppState) SetOrg(key OrgKey, org Org) error {
	switch key {
	case OrgMaestro:
		s.Orgs.Maestro = org
	case OrgOpcode:
		s.Orgs.Opcode = org
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOrg, key)
	}
	return nil
}

// Stamp records who wrote the document and when.
func (s *AppState) Stamp(now time.Time, who string) {
	if who == "" {
		who = "Unknown"
	}
	s.LastUpdated = FormatTimestamp(now)
	s.LastUpdatedBy = who
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ParseDate accepts a YYYY-MM-DD date or a full RFC 3339 timestamp.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}
