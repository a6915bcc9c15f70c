package state

import (
	"sync"

	"missioncontrol/internal/model"
)

// broadcaster fans state snapshots out to watchers. Each watcher holds at
// most one undelivered snapshot; a newer one replaces it.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan model.AppState]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan model.AppState]struct{})}
}

func (b *broadcaster) watch(initial model.AppState) (<-chan model.AppState, func()) {
	ch := make(chan model.AppState, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- initial
	b.subs[ch] = struct{}{}
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

func (b *broadcaster) publish(doc model.AppState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- doc.Clone()
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan model.AppState]struct{})
}
