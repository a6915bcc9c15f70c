package app

import (
	"context"
	"encoding/json"
	"time"

	"missioncontrol/internal/dashboard"
	"missioncontrol/internal/model"
	"missioncontrol/internal/state"
)

// documentStore is the part of state.Store and state.LocalStore the service
// needs.
type documentStore interface {
	State() model.AppState
	Status() state.Status
	Update(context.Context, state.Updater) model.AppState
	UpdateImmediate(context.Context, state.Updater) model.AppState
	Watch() (<-chan model.AppState, func())
	Ping(context.Context) error
}

type Service struct {
	store documentStore
	now   func() time.Time
}

func NewService(store documentStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Snapshot is the document with the synchronization status it was read at.
type Snapshot struct {
	State  model.AppState `json:"state"`
	Status state.Status   `json:"status"`
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{State: s.store.State(), Status: s.store.Status()}
}

func (s *Service) Status() state.Status {
	return s.store.Status()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Watch() (<-chan model.AppState, func()) {
	return s.store.Watch()
}

// mutate checks fn against a copy of the current document and, when it
// succeeds, applies it through the store. The store re-runs fn on its latest
// document; if that run fails the document is left as it was.
func (s *Service) mutate(ctx context.Context, immediate bool, fn func(*model.AppState) error) (model.AppState, error) {
	if s.store.Status().Loading {
		return model.AppState{}, errLoading()
	}
	probe := s.store.State()
	if err := fn(&probe); err != nil {
		return model.AppState{}, err
	}
	updater := func(doc model.AppState) model.AppState {
		next := doc.Clone()
		if err := fn(&next); err != nil {
			return doc
		}
		return next
	}
	if immediate {
		return s.store.UpdateImmediate(ctx, updater), nil
	}
	return s.store.Update(ctx, updater), nil
}

func (s *Service) withOrg(ctx context.Context, key model.OrgKey, immediate bool, fn func(*model.Org) error) (model.Org, error) {
	doc, err := s.mutate(ctx, immediate, func(doc *model.AppState) error {
		org, err := doc.Org(key)
		if err != nil {
			return err
		}
		if err := fn(&org); err != nil {
			return err
		}
		return doc.SetOrg(key, org)
	})
	if err != nil {
		return model.Org{}, err
	}
	return doc.Org(key)
}

// ReplaceState overwrites the whole document. The payload must carry orgs.
func (s *Service) ReplaceState(ctx context.Context, payload []byte) (model.AppState, error) {
	next, err := model.Decode(payload)
	if err != nil {
		verr := validationError("Document must contain orgs", nil)
		verr.Err = err
		return model.AppState{}, verr
	}
	if next.Version == "" {
		next.Version = model.CurrentVersion
	}
	return s.mutate(ctx, false, func(doc *model.AppState) error {
		*doc = next.Clone()
		return nil
	})
}

func (s *Service) GetOrg(key model.OrgKey) (model.Org, error) {
	return s.store.State().Org(key)
}

func (s *Service) ReplaceOrg(ctx context.Context, key model.OrgKey, org model.Org) (model.Org, error) {
	return s.withOrg(ctx, key, false, func(current *model.Org) error {
		*current = org
		return nil
	})
}

func (s *Service) SetStrategicTargets(ctx context.Context, key model.OrgKey, text string) (model.Org, error) {
	return s.withOrg(ctx, key, false, func(org *model.Org) error {
		org.StrategicTargets = text
		return nil
	})
}

type MetricsPatch struct {
	TasksCompletedThisWeek    *int `json:"tasksCompletedThisWeek"`
	UniqueActiveUsersThisHour *int `json:"uniqueActiveUsersThisHour"`
	ComponentsParsedSince2026 *int `json:"componentsParsedSince2026"`
}

func (s *Service) PatchMetrics(ctx context.Context, patch MetricsPatch) (model.Org, error) {
	for field, value := range map[string]*int{
		"tasksCompletedThisWeek":    patch.TasksCompletedThisWeek,
		"uniqueActiveUsersThisHour": patch.UniqueActiveUsersThisHour,
		"componentsParsedSince2026": patch.ComponentsParsedSince2026,
	} {
		if value != nil && *value < 0 {
			return model.Org{}, validationError("Counters cannot be negative", map[string]any{"field": field})
		}
	}
	return s.withOrg(ctx, model.OrgOpcode, false, func(org *model.Org) error {
		if org.OpCodeMetrics == nil {
			org.OpCodeMetrics = &model.OpCodeMetrics{}
		}
		if patch.TasksCompletedThisWeek != nil {
			org.OpCodeMetrics.TasksCompletedThisWeek = *patch.TasksCompletedThisWeek
		}
		if patch.UniqueActiveUsersThisHour != nil {
			org.OpCodeMetrics.UniqueActiveUsersThisHour = *patch.UniqueActiveUsersThisHour
		}
		if patch.ComponentsParsedSince2026 != nil {
			org.OpCodeMetrics.ComponentsParsedSince2026 = *patch.ComponentsParsedSince2026
		}
		return nil
	})
}

type SprintPatch struct {
	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`
}

// PatchSprint changes the sprint dates. Dates are YYYY-MM-DD; an empty
// string clears the date.
func (s *Service) PatchSprint(ctx context.Context, patch SprintPatch) (model.Org, error) {
	for field, value := range map[string]*string{"startDate": patch.StartDate, "endDate": patch.EndDate} {
		if value == nil || *value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", *value); err != nil {
			return model.Org{}, validationError("Dates must be YYYY-MM-DD", map[string]any{"field": field})
		}
	}
	return s.withOrg(ctx, model.OrgOpcode, false, func(org *model.Org) error {
		scope := sprintScope(org)
		if patch.StartDate != nil {
			scope.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil {
			scope.EndDate = *patch.EndDate
		}
		if scope.StartDate != "" && scope.EndDate != "" && scope.EndDate < scope.StartDate {
			return validationError("Sprint ends before it starts", nil)
		}
		return nil
	})
}

func (s *Service) AddItem(ctx context.Context, key model.OrgKey, name string, raw json.RawMessage) (any, error) {
	ops, err := lookupCollection(key, name)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var created any
	_, err = s.withOrg(ctx, key, false, func(org *model.Org) error {
		item, err := ops.add(org, raw, now)
		if err == nil {
			created = item
		}
		return err
	})
	return created, err
}

func (s *Service) ReplaceItem(ctx context.Context, key model.OrgKey, name, id string, raw json.RawMessage) (any, error) {
	ops, err := lookupCollection(key, name)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var replaced any
	_, err = s.withOrg(ctx, key, false, func(org *model.Org) error {
		item, err := ops.replace(org, id, raw, now)
		if err == nil {
			replaced = item
		}
		return err
	})
	return replaced, err
}

// DeleteItem removes an item and writes without the debounce delay.
func (s *Service) DeleteItem(ctx context.Context, key model.OrgKey, name, id string) error {
	ops, err := lookupCollection(key, name)
	if err != nil {
		return err
	}
	_, err = s.withOrg(ctx, key, true, func(org *model.Org) error {
		return ops.remove(org, id)
	})
	return err
}

func (s *Service) ProjectProgress() []dashboard.ProjectProgress {
	return dashboard.Progress(s.store.State().Orgs.Maestro.MaestroProjects, s.now())
}

func (s *Service) SprintWindow() dashboard.SprintWindow {
	scope := s.store.State().Orgs.Opcode.SprintScope
	if scope == nil {
		return dashboard.SprintWindow{}
	}
	return dashboard.Sprint(*scope, s.now())
}

func (s *Service) Feed(key model.OrgKey) ([]dashboard.FeedPost, error) {
	org, err := s.GetOrg(key)
	if err != nil {
		return nil, err
	}
	return dashboard.Feed(org.Posts, s.now()), nil
}

func (s *Service) Board(name string) (dashboard.Board, error) {
	return dashboard.NewBoard(s.now(), name)
}
