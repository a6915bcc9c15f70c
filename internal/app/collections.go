package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"missioncontrol/internal/dashboard"
	"missioncontrol/internal/model"
	"missioncontrol/internal/util"
)

// collection edits one list inside an org. Items are decoded from the
// request body and addressed by their string id.
type collection interface {
	add(org *model.Org, raw json.RawMessage, now time.Time) (any, error)
	replace(org *model.Org, id string, raw json.RawMessage, now time.Time) (any, error)
	remove(org *model.Org, id string) error
}

type itemList[T any] struct {
	name string
	// slice returns the list inside org, creating its parent when needed.
	slice func(org *model.Org) *[]T
	id    func(item *T) *string
	// prepare fills defaults on items being added or replaced.
	prepare func(item *T, list []T, now time.Time)
}

func (l itemList[T]) decode(raw json.RawMessage) (T, error) {
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return item, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return item, nil
}

func (l itemList[T]) add(org *model.Org, raw json.RawMessage, now time.Time) (any, error) {
	item, err := l.decode(raw)
	if err != nil {
		return nil, err
	}
	list := l.slice(org)
	*l.id(&item) = util.NewID()
	if l.prepare != nil {
		l.prepare(&item, *list, now)
	}
	*list = append(*list, item)
	return item, nil
}

func (l itemList[T]) replace(org *model.Org, id string, raw json.RawMessage, now time.Time) (any, error) {
	item, err := l.decode(raw)
	if err != nil {
		return nil, err
	}
	list := l.slice(org)
	for i := range *list {
		if *l.id(&(*list)[i]) != id {
			continue
		}
		*l.id(&item) = id
		if l.prepare != nil {
			l.prepare(&item, *list, now)
		}
		(*list)[i] = item
		return item, nil
	}
	return nil, l.notFound(id)
}

func (l itemList[T]) remove(org *model.Org, id string) error {
	list := l.slice(org)
	for i := range *list {
		if *l.id(&(*list)[i]) == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return nil
		}
	}
	return l.notFound(id)
}

func (l itemList[T]) notFound(id string) error {
	return domainError(http.StatusNotFound, "NOT_FOUND", l.name+" not found", map[string]any{"id": id})
}

func sprintScope(org *model.Org) *model.SprintScope {
	if org.SprintScope == nil {
		org.SprintScope = &model.SprintScope{}
	}
	return org.SprintScope
}

var collections = map[string]struct {
	orgs []model.OrgKey
	ops  collection
}{
	"todo-lists": {
		orgs: []model.OrgKey{model.OrgMaestro, model.OrgOpcode},
		ops: itemList[model.TodoList]{
			name:  "todo list",
			slice: func(org *model.Org) *[]model.TodoList { return &org.TodoLists },
			id:    func(item *model.TodoList) *string { return &item.ID },
			prepare: func(item *model.TodoList, _ []model.TodoList, _ time.Time) {
				if strings.TrimSpace(item.Name) == "" {
					item.Name = "New List"
				}
				if item.Items == nil {
					item.Items = []model.TodoItem{}
				}
				for i := range item.Items {
					if item.Items[i].ID == "" {
						item.Items[i].ID = util.NewID()
					}
				}
			},
		},
	},
	"photos": {
		orgs: []model.OrgKey{model.OrgMaestro, model.OrgOpcode},
		ops: itemList[model.Photo]{
			name:  "photo",
			slice: func(org *model.Org) *[]model.Photo { return &org.Photos },
			id:    func(item *model.Photo) *string { return &item.ID },
			// Photos without an explicit position keep their current one, or
			// go last when new.
			prepare: func(item *model.Photo, list []model.Photo, _ time.Time) {
				if item.Sort != 0 {
					return
				}
				next := 0
				for _, p := range list {
					if p.ID == item.ID {
						item.Sort = p.Sort
						return
					}
					if p.Sort >= next {
						next = p.Sort + 1
					}
				}
				item.Sort = next
			},
		},
	},
	"posts": {
		orgs: []model.OrgKey{model.OrgMaestro, model.OrgOpcode},
		ops: itemList[model.Post]{
			name:  "post",
			slice: func(org *model.Org) *[]model.Post { return &org.Posts },
			id:    func(item *model.Post) *string { return &item.ID },
			prepare: func(item *model.Post, _ []model.Post, now time.Time) {
				if item.Timestamp == "" {
					item.Timestamp = model.FormatTimestamp(now)
				}
			},
		},
	},
	"features": {
		orgs: []model.OrgKey{model.OrgOpcode},
		ops: itemList[model.SprintFeature]{
			name:  "feature",
			slice: func(org *model.Org) *[]model.SprintFeature { return &sprintScope(org).Features },
			id:    func(item *model.SprintFeature) *string { return &item.ID },
		},
	},
	"projects": {
		orgs: []model.OrgKey{model.OrgMaestro},
		ops: itemList[model.MaestroProject]{
			name:  "project",
			slice: func(org *model.Org) *[]model.MaestroProject { return &org.MaestroProjects },
			id:    func(item *model.MaestroProject) *string { return &item.ID },
			prepare: func(item *model.MaestroProject, _ []model.MaestroProject, now time.Time) {
				if strings.TrimSpace(item.Name) == "" {
					item.Name = "New Project"
				}
				if item.Phase == "" {
					item.Phase = "Planning"
				}
				if item.StartDate == "" {
					item.StartDate = now.Format("2006-01-02")
				}
				if item.NumberOfWeeks <= 0 {
					item.NumberOfWeeks = 4
				}
				item.CompletionPercentage = dashboard.CompletionPercentage(item.StartDate, item.NumberOfWeeks, now)
			},
		},
	},
}

func lookupCollection(org model.OrgKey, name string) (collection, error) {
	c, ok := collections[name]
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Unknown collection", map[string]any{"collection": name})
	}
	for _, allowed := range c.orgs {
		if allowed == org {
			return c.ops, nil
		}
	}
	return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Collection not available for organization", map[string]any{"collection": name, "org": org})
}
