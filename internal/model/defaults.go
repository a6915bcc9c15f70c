package model

import "time"

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// Default builds the document used when no stored document can be adopted.
// Relative dates are anchored at now.
func Default(now time.Time) AppState {
	ago := func(d time.Duration) string { return FormatTimestamp(now.Add(-d)) }

	return AppState{
		Version: CurrentVersion,
		Orgs: Orgs{
			Maestro: Org{
				StrategicTargets: "Q1 Product Launch\n\nTeam Alignment\n\nCustomer Acquisition",
				TodoLists:        []TodoList{},
				Photos: []Photo{
					{ID: "1", ImageURL: "https://images.unsplash.com/photo-1551288049-bebda4e38f71?w=1200", Caption: "Office workspace", Sort: 0},
				},
				MaestroProjects: []MaestroProject{
					{ID: "1", Name: "Academic Building", Phase: "Schematic Design", StartDate: FormatDate(now.Add(-2 * week)), NumberOfWeeks: 8, CompletionPercentage: 25},
					{ID: "2", Name: "Greenehaven", Phase: "Pre-Engineering Study", StartDate: FormatDate(now.Add(-4 * week)), NumberOfWeeks: 6, CompletionPercentage: 67},
					{ID: "3", Name: "Riverside Plaza", Phase: "Design Development", StartDate: FormatDate(now.Add(-6 * week)), NumberOfWeeks: 8, CompletionPercentage: 75},
					{ID: "4", Name: "Metro Station", Phase: "Construction Documents", StartDate: FormatDate(now.Add(-1 * week)), NumberOfWeeks: 12, CompletionPercentage: 8},
				},
				Posts: []Post{
					{ID: "1", Content: "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore.", Author: "John Doe", Timestamp: ago(30 * time.Minute)},
					{ID: "2", Content: "Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat.", Author: "Jane Smith", Timestamp: ago(2 * time.Hour)},
					{ID: "3", Content: "Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.", Author: "Mike Johnson", Timestamp: ago(5 * time.Hour)},
					{ID: "4", Content: "Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum.", Author: "Sarah Williams", Timestamp: ago(day)},
					{ID: "5", Content: "Sed ut perspiciatis unde omnis iste natus error sit voluptatem accusantium doloremque laudantium.", Author: "Robert Chen", Timestamp: ago(36 * time.Hour)},
				},
			},
			Opcode: Org{
				StrategicTargets: "Platform Stability\n\nFeature Development\n\nTeam Growth",
				TodoLists:        []TodoList{},
				Photos: []Photo{
					{ID: "1", ImageURL: "https://images.unsplash.com/photo-1460925895917-afdab827c52f?w=1200", Caption: "Development progress", Sort: 0},
				},
				OpCodeMetrics: &OpCodeMetrics{
					TasksCompletedThisWeek:    127,
					UniqueActiveUsersThisHour: 43,
					ComponentsParsedSince2026: 55020,
				},
				SprintScope: &SprintScope{
					StartDate: FormatDate(now),
					EndDate:   FormatDate(now.Add(2 * week)),
					Features: []SprintFeature{
						{ID: "1", Name: "User Authentication System", Owner: "John Doe", Description: "Implement secure user authentication with OAuth2 and JWT tokens. Includes login, logout, and password reset functionality."},
						{ID: "2", Name: "Dashboard Analytics", Owner: "Jane Smith", Description: "Build comprehensive analytics dashboard with real-time metrics, charts, and data visualization components."},
						{ID: "3", Name: "API Rate Limiting", Owner: "Mike Johnson", Description: "Add rate limiting middleware to prevent API abuse and ensure fair usage across all endpoints."},
					},
				},
				Posts: []Post{
					{ID: "1", Content: "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore.", Author: "Jane Smith", Timestamp: ago(15 * time.Minute)},
					{ID: "2", Content: "Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat.", Author: "Alex Chen", Timestamp: ago(time.Hour)},
					{ID: "3", Content: "Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.", Author: "David Kim", Timestamp: ago(3 * time.Hour)},
					{ID: "4", Content: "Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum.", Author: "Lisa Park", Timestamp: ago(6 * time.Hour)},
					{ID: "5", Content: "Sed ut perspiciatis unde omnis iste natus error sit voluptatem accusantium doloremque laudantium.", Author: "Tom Wilson", Timestamp: ago(12 * time.Hour)},
				},
			},
		},
	}
}
