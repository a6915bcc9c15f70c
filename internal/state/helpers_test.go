package state

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"missioncontrol/internal/backend"
	"missioncontrol/internal/model"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves time forward and runs due timers on the calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// fakeBackend records writes and lets tests push notifications by hand.
type fakeBackend struct {
	mu        sync.Mutex
	writes    [][]byte
	writeErr  error
	subErr    error
	closed    bool
	notes     chan backend.Notification
	subClosed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{notes: make(chan backend.Notification)}
}

func (f *fakeBackend) Read(ctx context.Context) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil, false, nil
	}
	return f.writes[len(f.writes)-1], true, nil
}

func (f *fakeBackend) Write(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), payload...))
	return nil
}

func (f *fakeBackend) Subscribe(ctx context.Context) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	return fakeSubscription{f: f}, nil
}

func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeBackend) lastWrite(t *testing.T) model.AppState {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		t.Fatal("no writes recorded")
	}
	doc, err := model.Decode(f.writes[len(f.writes)-1])
	if err != nil {
		t.Fatalf("decode written document: %v", err)
	}
	return doc
}

func (f *fakeBackend) emit(t *testing.T, n backend.Notification) {
	t.Helper()
	select {
	case f.notes <- n:
	case <-time.After(2 * time.Second):
		t.Fatal("store did not receive notification")
	}
}

type fakeSubscription struct {
	f *fakeBackend
}

func (s fakeSubscription) C() <-chan backend.Notification { return s.f.notes }

func (s fakeSubscription) Close() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.subClosed = true
	return nil
}

func docPayload(t *testing.T, mutate func(*model.AppState)) []byte {
	t.Helper()
	doc := model.Default(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if mutate != nil {
		mutate(&doc)
	}
	payload, err := model.Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
