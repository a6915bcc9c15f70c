package dashboard

import (
	"fmt"
	"sort"
	"time"

	"missioncontrol/internal/model"
)

// FeedPost is a post with its display age.
type FeedPost struct {
	model.Post
	Relative string `json:"relative"`
}

// Feed returns posts newest first with relative timestamps. Posts with an
// unparsable timestamp sort last, in their stored order.
func Feed(posts []model.Post, now time.Time) []FeedPost {
	sorted := SortPosts(posts)
	out := make([]FeedPost, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, FeedPost{Post: p, Relative: RelativeTime(p.Timestamp, now)})
	}
	return out
}

func SortPosts(posts []model.Post) []model.Post {
	type keyed struct {
		post model.Post
		at   time.Time
		ok   bool
	}
	items := make([]keyed, len(posts))
	for i, p := range posts {
		at, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		items[i] = keyed{post: p, at: at, ok: err == nil}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ok != items[j].ok {
			return items[i].ok
		}
		return items[i].at.After(items[j].at)
	})
	out := make([]model.Post, len(items))
	for i, item := range items {
		out[i] = item.post
	}
	return out
}

// RelativeTime renders "Just now", "5m ago", "3h ago" or "2d ago", and the
// plain date for anything a week or older.
func RelativeTime(timestamp string, now time.Time) string {
	at, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return timestamp
	}
	diff := now.Sub(at)
	switch mins := int(diff / time.Minute); {
	case mins < 1:
		return "Just now"
	case mins < 60:
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	}
	return at.In(now.Location()).Format("1/2/2006")
}
