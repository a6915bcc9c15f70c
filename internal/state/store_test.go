package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"missioncontrol/internal/backend"
	"missioncontrol/internal/model"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memKV) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Close() error { return nil }

type harness struct {
	store   *Store
	backend *fakeBackend
	clock   *fakeClock
	metrics *Metrics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		backend: newFakeBackend(),
		clock:   newFakeClock(),
		metrics: NewMetrics(nil),
	}
	opts = append([]Option{WithClock(h.clock), WithMetrics(h.metrics)}, opts...)
	h.store = New(h.backend, opts...)
	if err := h.store.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.store.Close() })
	return h
}

// bootstrap delivers the first remote document and waits until it is adopted.
func (h *harness) bootstrap(t *testing.T, targets string) {
	t.Helper()
	h.backend.emit(t, backend.Notification{Exists: true, Payload: docPayload(t, func(s *model.AppState) {
		s.Orgs.Maestro.StrategicTargets = targets
	})})
	waitFor(t, "bootstrap", func() bool {
		return h.store.Status().Phase == PhaseLoaded && h.store.State().Orgs.Maestro.StrategicTargets == targets
	})
}

func setTargets(value string) Updater {
	return func(s model.AppState) model.AppState {
		s.Orgs.Maestro.StrategicTargets = value
		return s
	}
}

func TestEchoSuppressionWindow(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote A")
	ctx := context.Background()

	h.store.Update(ctx, setTargets("local edit"))
	h.clock.Advance(DefaultDebounce)
	if got := h.backend.writeCount(); got != 1 {
		t.Fatalf("expected 1 write, got %d", got)
	}

	other := backend.Notification{Exists: true, Payload: docPayload(t, func(s *model.AppState) {
		s.Orgs.Maestro.StrategicTargets = "other client"
	})}

	h.backend.emit(t, other)
	waitFor(t, "first echo", func() bool { return testutil.ToFloat64(h.metrics.echoes) == 1 })
	if got := h.store.State().Orgs.Maestro.StrategicTargets; got != "local edit" {
		t.Fatalf("echo changed local state to %q", got)
	}

	h.clock.Advance(99 * time.Millisecond)
	h.backend.emit(t, other)
	waitFor(t, "second echo", func() bool { return testutil.ToFloat64(h.metrics.echoes) == 2 })
	if got := h.store.State().Orgs.Maestro.StrategicTargets; got != "local edit" {
		t.Fatalf("notification inside window changed local state to %q", got)
	}

	h.clock.Advance(51 * time.Millisecond)
	h.backend.emit(t, other)
	waitFor(t, "remote merge", func() bool {
		return h.store.State().Orgs.Maestro.StrategicTargets == "other client"
	})
	if got := testutil.ToFloat64(h.metrics.echoes); got != 2 {
		t.Fatalf("expected 2 suppressed echoes, got %v", got)
	}
}

func TestDebounceCoalescesBurst(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if i > 0 {
			h.clock.Advance(100 * time.Millisecond)
		}
		state := h.store.Update(ctx, func(s model.AppState) model.AppState {
			s.Orgs.Opcode.OpCodeMetrics.TasksCompletedThisWeek++
			return s
		})
		if got := state.Orgs.Opcode.OpCodeMetrics.TasksCompletedThisWeek; got != 128+i {
			t.Fatalf("update %d: local value %d, want %d", i, got, 128+i)
		}
	}

	h.clock.Advance(DefaultDebounce - time.Millisecond)
	if got := h.backend.writeCount(); got != 0 {
		t.Fatalf("write issued before quiet period ended: %d", got)
	}
	h.clock.Advance(time.Millisecond)
	if got := h.backend.writeCount(); got != 1 {
		t.Fatalf("expected exactly 1 write, got %d", got)
	}
	written := h.backend.lastWrite(t)
	if got := written.Orgs.Opcode.OpCodeMetrics.TasksCompletedThisWeek; got != 132 {
		t.Fatalf("written counter = %d, want 132", got)
	}
}

func TestUpdateImmediateCancelsPendingWrite(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote")
	ctx := context.Background()

	h.store.Update(ctx, setTargets("draft"))
	h.clock.Advance(200 * time.Millisecond)
	h.store.UpdateImmediate(ctx, func(s model.AppState) model.AppState {
		posts := s.Orgs.Maestro.Posts[:0]
		for _, p := range s.Orgs.Maestro.Posts {
			if p.ID != "1" {
				posts = append(posts, p)
			}
		}
		s.Orgs.Maestro.Posts = posts
		return s
	})

	if got := h.backend.writeCount(); got != 1 {
		t.Fatalf("expected immediate write, got %d writes", got)
	}
	written := h.backend.lastWrite(t)
	if written.Orgs.Maestro.StrategicTargets != "draft" {
		t.Errorf("immediate write lost earlier edit: %q", written.Orgs.Maestro.StrategicTargets)
	}
	for _, p := range written.Orgs.Maestro.Posts {
		if p.ID == "1" {
			t.Errorf("deleted post still written")
		}
	}

	h.clock.Advance(DefaultDebounce)
	if got := h.backend.writeCount(); got != 1 {
		t.Fatalf("cancelled debounced write still fired: %d writes", got)
	}

	h.store.Update(ctx, setTargets("after"))
	h.clock.Advance(DefaultDebounce - time.Millisecond)
	if got := h.backend.writeCount(); got != 1 {
		t.Fatalf("new debounced write fired early: %d writes", got)
	}
	h.clock.Advance(time.Millisecond)
	if got := h.backend.writeCount(); got != 2 {
		t.Fatalf("expected second write, got %d", got)
	}
	if got := h.backend.lastWrite(t).Orgs.Maestro.StrategicTargets; got != "after" {
		t.Fatalf("second write targets = %q", got)
	}
}

func TestBootstrapWritesDefaultWhenDocumentMissing(t *testing.T) {
	h := newHarness(t, WithIdentity("kiosk@maestro.tech"))

	h.backend.emit(t, backend.Notification{Exists: false})
	waitFor(t, "default write", func() bool { return h.backend.writeCount() == 1 })

	written := h.backend.lastWrite(t)
	if written.Version != model.CurrentVersion {
		t.Errorf("version = %q", written.Version)
	}
	if written.LastUpdated != model.FormatTimestamp(h.clock.Now()) {
		t.Errorf("lastUpdated = %q", written.LastUpdated)
	}
	if written.LastUpdatedBy != "kiosk@maestro.tech" {
		t.Errorf("lastUpdatedBy = %q", written.LastUpdatedBy)
	}

	status := h.store.Status()
	if status.Phase != PhaseLoaded || !status.Connected || status.Loading {
		t.Fatalf("unexpected status %+v", status)
	}
	waitFor(t, "local stamp", func() bool {
		return h.store.Status().LastUpdatedBy == "kiosk@maestro.tech"
	})
	if got := h.store.Status().LastUpdated; got != written.LastUpdated {
		t.Errorf("local lastUpdated = %q, want %q", got, written.LastUpdated)
	}

	time.Sleep(20 * time.Millisecond)
	if got := h.backend.writeCount(); got != 1 {
		t.Fatalf("expected exactly one write, got %d", got)
	}
}

func TestBootstrapInvalidDocumentUsesDefaultWithoutRepair(t *testing.T) {
	h := newHarness(t)
	h.store.Update(context.Background(), setTargets("scratch"))

	h.backend.emit(t, backend.Notification{Exists: true, Payload: []byte(`{"version":"1.1.0"}`)})
	waitFor(t, "invalid payload", func() bool { return testutil.ToFloat64(h.metrics.invalidPayloads) == 1 })

	want := model.Default(h.clock.Now()).Orgs.Maestro.StrategicTargets
	if got := h.store.State().Orgs.Maestro.StrategicTargets; got != want {
		t.Fatalf("targets = %q, want default", got)
	}
	if status := h.store.Status(); status.Phase != PhaseLoaded || !status.Connected {
		t.Fatalf("unexpected status %+v", status)
	}
	if got := h.backend.writeCount(); got != 0 {
		t.Fatalf("invalid document was repaired with %d writes", got)
	}
}

func TestTimeoutFallsBackToOfflineDefault(t *testing.T) {
	mirror := newMemKV()
	h := newHarness(t, WithLocalMirror(mirror))

	status := h.store.Status()
	if !status.Loading || status.Phase != PhaseConnecting {
		t.Fatalf("unexpected initial status %+v", status)
	}

	h.clock.Advance(DefaultConnectTimeout)
	status = h.store.Status()
	if status.Phase != PhaseTimedOut || status.Connected || status.Loading {
		t.Fatalf("unexpected status after timeout %+v", status)
	}

	h.store.Update(context.Background(), setTargets("edited offline"))
	h.clock.Advance(DefaultDebounce)
	if got := h.backend.writeCount(); got != 0 {
		t.Fatalf("offline edit reached remote store: %d writes", got)
	}
	stored, found, _ := mirror.Get(context.Background(), StorageKey)
	if !found {
		t.Fatal("offline edit not saved locally")
	}
	if doc, err := model.Decode(stored); err != nil || doc.Orgs.Maestro.StrategicTargets != "edited offline" {
		t.Fatalf("local copy = %+v, %v", doc.Orgs.Maestro.StrategicTargets, err)
	}

	// The remote answers at 10.5s with an older document.
	h.backend.emit(t, backend.Notification{Exists: true, Payload: docPayload(t, func(s *model.AppState) {
		s.Orgs.Maestro.StrategicTargets = "late remote"
	})})
	waitFor(t, "late bootstrap push", func() bool { return h.backend.writeCount() == 1 })

	if got := h.store.State().Orgs.Maestro.StrategicTargets; got != "edited offline" {
		t.Fatalf("late response overwrote local edit: %q", got)
	}
	if got := h.backend.lastWrite(t).Orgs.Maestro.StrategicTargets; got != "edited offline" {
		t.Fatalf("pushed targets = %q", got)
	}
	if status := h.store.Status(); !status.Connected || status.Phase != PhaseLoaded {
		t.Fatalf("unexpected status after late response %+v", status)
	}
}

func TestLateBootstrapWithoutEditsAdoptsRemote(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(DefaultConnectTimeout)
	if h.store.Status().Phase != PhaseTimedOut {
		t.Fatal("expected timeout")
	}

	h.clock.Advance(500 * time.Millisecond)
	h.backend.emit(t, backend.Notification{Exists: true, Payload: docPayload(t, func(s *model.AppState) {
		s.Orgs.Maestro.StrategicTargets = "late remote"
	})})
	waitFor(t, "late adoption", func() bool {
		return h.store.State().Orgs.Maestro.StrategicTargets == "late remote"
	})
	if !h.store.Status().Connected {
		t.Fatal("expected connected after late response")
	}
}

func TestTimeoutAfterBootstrapIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote")
	h.clock.Advance(DefaultConnectTimeout)
	if status := h.store.Status(); status.Phase != PhaseLoaded || !status.Connected {
		t.Fatalf("timeout fired after bootstrap: %+v", status)
	}
	if got := h.store.State().Orgs.Maestro.StrategicTargets; got != "remote" {
		t.Fatalf("targets = %q", got)
	}
}

func TestSubscriptionErrorFallsBackToDefault(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote")
	h.store.Update(context.Background(), setTargets("edit"))

	h.backend.emit(t, backend.Notification{Err: errors.New("permission denied")})
	waitFor(t, "error phase", func() bool { return h.store.Status().Phase == PhaseError })

	if h.store.Status().Connected {
		t.Fatal("expected disconnected")
	}
	want := model.Default(h.clock.Now()).Orgs.Maestro.StrategicTargets
	if got := h.store.State().Orgs.Maestro.StrategicTargets; got != want {
		t.Fatalf("targets = %q, want default", got)
	}
}

func TestSubscribeFailureFallsBackToDefault(t *testing.T) {
	fb := newFakeBackend()
	fb.subErr = errors.New("database url missing")
	clock := newFakeClock()
	s := New(fb, WithClock(clock))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close()

	waitFor(t, "error phase", func() bool { return s.Status().Phase == PhaseError })
	status := s.Status()
	if status.Connected || status.Loading {
		t.Fatalf("unexpected status %+v", status)
	}

	// Local edits keep working.
	s.Update(context.Background(), setTargets("still editable"))
	if got := s.State().Orgs.Maestro.StrategicTargets; got != "still editable" {
		t.Fatalf("targets = %q", got)
	}
}

func TestUnavailableBackendServesOfflineDefault(t *testing.T) {
	s := New(backend.Unavailable(errors.New("dial tcp 127.0.0.1:6379: connection refused")), WithClock(newFakeClock()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close()

	waitFor(t, "error phase", func() bool { return s.Status().Phase == PhaseError })
	status := s.Status()
	if status.Connected || status.Loading {
		t.Fatalf("unexpected status %+v", status)
	}
	want := model.Default(time.Time{})
	got := s.State()
	if got.Version != model.CurrentVersion || got.Orgs.Maestro.StrategicTargets != want.Orgs.Maestro.StrategicTargets {
		t.Fatalf("state is not the default document: %+v", got.Orgs.Maestro)
	}
}

func TestOfflineEditWithoutMirrorStillTriesRemote(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(DefaultConnectTimeout)
	if status := h.store.Status(); status.Phase != PhaseTimedOut || status.Connected {
		t.Fatalf("unexpected status after timeout %+v", status)
	}

	h.store.Update(context.Background(), setTargets("no mirror"))
	h.clock.Advance(DefaultDebounce)
	waitFor(t, "remote write", func() bool { return h.backend.writeCount() == 1 })
	if got := h.backend.lastWrite(t).Orgs.Maestro.StrategicTargets; got != "no mirror" {
		t.Fatalf("written targets = %q", got)
	}
}

func TestWriteFailureKeepsLocalState(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote")
	h.backend.mu.Lock()
	h.backend.writeErr = errors.New("network unreachable")
	h.backend.mu.Unlock()

	h.store.Update(context.Background(), setTargets("kept"))
	h.clock.Advance(DefaultDebounce)

	if got := testutil.ToFloat64(h.metrics.writeFailures.WithLabelValues("remote")); got != 1 {
		t.Fatalf("write failures = %v", got)
	}
	if got := h.store.State().Orgs.Maestro.StrategicTargets; got != "kept" {
		t.Fatalf("targets = %q", got)
	}
	if h.store.Status().PendingWrite {
		t.Fatal("failed write should not be retried")
	}
}

func TestCloseFlushesLatestPendingWrite(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote")
	ctx := context.Background()

	h.store.Update(ctx, setTargets("first"))
	h.clock.Advance(100 * time.Millisecond)
	h.store.Update(ctx, setTargets("second"))

	if err := h.store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := h.backend.writeCount(); got != 1 {
		t.Fatalf("expected one flushed write, got %d", got)
	}
	if got := h.backend.lastWrite(t).Orgs.Maestro.StrategicTargets; got != "second" {
		t.Fatalf("flushed targets = %q, want second", got)
	}
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if !h.backend.closed || !h.backend.subClosed {
		t.Fatal("backend or subscription left open")
	}
}

func TestWriteStampsEditorAndIgnoresUpdaterStamp(t *testing.T) {
	h := newHarness(t, WithIdentity("kiosk"))
	h.bootstrap(t, "remote")

	ctx := WithEditor(context.Background(), "Dana")
	h.store.Update(ctx, func(s model.AppState) model.AppState {
		s.LastUpdatedBy = "spoofed"
		s.LastUpdated = "1999-01-01T00:00:00.000Z"
		return s
	})
	h.clock.Advance(DefaultDebounce)

	written := h.backend.lastWrite(t)
	if written.LastUpdatedBy != "Dana" {
		t.Errorf("lastUpdatedBy = %q", written.LastUpdatedBy)
	}
	if written.LastUpdated != model.FormatTimestamp(h.clock.Now()) {
		t.Errorf("lastUpdated = %q", written.LastUpdated)
	}
	if got := h.store.Status().LastUpdatedBy; got != "Dana" {
		t.Errorf("status lastUpdatedBy = %q", got)
	}

	h.store.Update(context.Background(), setTargets("anonymous"))
	h.clock.Advance(DefaultDebounce)
	if got := h.backend.lastWrite(t).LastUpdatedBy; got != "kiosk" {
		t.Errorf("fallback identity = %q", got)
	}
}

func TestWatchReceivesLatestVersion(t *testing.T) {
	h := newHarness(t)
	h.bootstrap(t, "remote")

	ch, cancel := h.store.Watch()
	defer cancel()
	first := <-ch
	if first.Orgs.Maestro.StrategicTargets != "remote" {
		t.Fatalf("initial watch value = %q", first.Orgs.Maestro.StrategicTargets)
	}

	h.store.Update(context.Background(), setTargets("one"))
	h.store.Update(context.Background(), setTargets("two"))
	select {
	case got := <-ch:
		if got.Orgs.Maestro.StrategicTargets != "two" {
			t.Fatalf("watch value = %q, want latest", got.Orgs.Maestro.StrategicTargets)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v", err)
	}
}
