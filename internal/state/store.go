// Package state keeps the Mission Control document in memory and
// synchronizes it with a remote document store.
//
// Edits are applied locally first and written to the remote store after a
// quiet period. Remote change notifications replace local state wholesale,
// except for echoes of this process's own writes, which arrive within a
// short window of the write and are dropped.
package state

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"missioncontrol/internal/backend"
	"missioncontrol/internal/model"
)

var (
	ErrAlreadyStarted = errors.New("state store already started")
	ErrStoreClosed    = errors.New("state store closed")

	errSubscriptionEnded = errors.New("subscription ended")
)

// Phase is the bootstrap state of a Store.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseLoaded     Phase = "loaded"
	PhaseTimedOut   Phase = "timed_out"
	PhaseError      Phase = "error"
	PhaseLocal      Phase = "local"
)

type Status struct {
	Phase         Phase  `json:"phase"`
	Loading       bool   `json:"loading"`
	Connected     bool   `json:"connected"`
	PendingWrite  bool   `json:"pendingWrite"`
	LastUpdated   string `json:"lastUpdated,omitempty"`
	LastUpdatedBy string `json:"lastUpdatedBy,omitempty"`
}

// Updater derives the next document from the current one. It receives a
// private copy and may modify it in place.
type Updater func(model.AppState) model.AppState

// Store owns the in-memory document and its remote backend.
type Store struct {
	backend backend.Backend
	opts    options
	writer  *writeScheduler
	watch   *broadcaster

	mu        sync.Mutex
	state     model.AppState
	seq       uint64
	remoteSeq uint64
	phase     Phase
	connected bool
	// resolved is the bootstrap latch: set once by whichever of the first
	// notification, the timeout or a subscription error happens first.
	resolved           bool
	editedAfterTimeout bool
	lastWriteAt        time.Time
	timeout            Timer
	started            bool
	closed             bool
	cancel             context.CancelFunc
	sub                backend.Subscription

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New builds a store over b. The store owns b and closes it on Close.
func New(b backend.Backend, opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		backend: b,
		opts:    o,
		watch:   newBroadcaster(),
		state:   model.Default(o.clock.Now()),
		seq:     1,
		phase:   PhaseConnecting,
		done:    make(chan struct{}),
	}
	s.writer = newWriteScheduler(o.clock, o.debounce, s.transmit)
	return s
}

// Start arms the connection timeout and subscribes to the remote document.
// It returns immediately; the store serves the default document until the
// bootstrap resolves.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.timeout = s.opts.clock.AfterFunc(s.opts.connectTimeout, s.onTimeout)
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

func (s *Store) run(ctx context.Context) {
	defer close(s.done)

	sub, err := s.backend.Subscribe(ctx)
	if err != nil {
		s.fail(err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				if ctx.Err() == nil {
					s.fail(errSubscriptionEnded)
				}
				return
			}
			if n.Err != nil {
				s.fail(n.Err)
				return
			}
			s.handle(n)
		}
	}
}

func (s *Store) handle(n backend.Notification) {
	now := s.opts.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	late := s.phase == PhaseTimedOut
	s.resolveLocked()
	s.phase = PhaseLoaded
	s.setConnectedLocked(true)

	if late {
		edited := s.editedAfterTimeout
		s.editedAfterTimeout = false
		if edited {
			p := s.snapshotLocked("")
			s.mu.Unlock()
			log.Printf("state: remote store answered after timeout, keeping local edits and pushing them")
			s.writer.immediate(p)
			return
		}
	}

	if now.Sub(s.lastWriteAt) < s.opts.echoWindow {
		s.mu.Unlock()
		s.opts.metrics.echoSuppressed()
		log.Printf("state: skipping echo of local write")
		return
	}

	if !n.Exists {
		// A local version: its stamp must land once the write completes.
		s.state = model.Default(now)
		s.seq++
		s.watch.publish(s.state)
		p := s.snapshotLocked("")
		s.mu.Unlock()
		log.Printf("state: no remote document, initializing with default")
		s.writer.immediate(p)
		return
	}

	doc, err := model.Decode(n.Payload)
	if err != nil {
		s.opts.metrics.invalidPayload()
		log.Printf("state: invalid remote document, using default: %v", err)
		doc = model.Default(now)
	} else {
		s.opts.metrics.merged()
	}
	s.replaceLocked(doc)
	s.mu.Unlock()
}

func (s *Store) onTimeout() {
	s.mu.Lock()
	if s.resolved || s.closed {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	s.timeout = nil
	s.phase = PhaseTimedOut
	s.setConnectedLocked(false)
	s.replaceLocked(model.Default(s.opts.clock.Now()))
	s.mu.Unlock()
	log.Printf("state: remote store did not answer within %s, continuing offline with default document", s.opts.connectTimeout)
}

// fail moves the store into the disconnected error mode. There is no
// automatic reconnect.
func (s *Store) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.resolveLocked()
	s.phase = PhaseError
	s.editedAfterTimeout = false
	s.setConnectedLocked(false)
	s.replaceLocked(model.Default(s.opts.clock.Now()))
	s.mu.Unlock()
	log.Printf("state: remote subscription failed, continuing offline: %v", err)
}

// Update applies fn locally and schedules a debounced write.
func (s *Store) Update(ctx context.Context, fn Updater) model.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.applyLocked(fn, editorFrom(ctx))
	if !s.closed {
		s.writer.schedule(p)
	}
	return s.state.Clone()
}

// UpdateImmediate applies fn locally and writes without delay, cancelling
// any pending debounced write. Use it for deletions.
func (s *Store) UpdateImmediate(ctx context.Context, fn Updater) model.AppState {
	s.mu.Lock()
	p := s.applyLocked(fn, editorFrom(ctx))
	out := s.state.Clone()
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.writer.immediate(p)
	}
	return out
}

func (s *Store) applyLocked(fn Updater, editor string) pendingWrite {
	next := fn(s.state.Clone())
	if s.phase == PhaseTimedOut {
		s.editedAfterTimeout = true
	}
	s.state = next
	s.seq++
	s.watch.publish(s.state)
	return s.snapshotLocked(editor)
}

func (s *Store) snapshotLocked(editor string) pendingWrite {
	return pendingWrite{seq: s.seq, doc: s.state.Clone(), editor: editor}
}

func (s *Store) replaceLocked(doc model.AppState) {
	s.state = doc
	s.seq++
	s.remoteSeq = s.seq
	s.watch.publish(s.state)
}

func (s *Store) resolveLocked() {
	if s.resolved {
		return
	}
	s.resolved = true
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
}

func (s *Store) setConnectedLocked(connected bool) {
	s.connected = connected
	s.opts.metrics.setConnected(connected)
}

// transmit stamps and writes one document version. While disconnected the
// version goes to the local mirror when one is configured. Failures are
// logged and dropped; local state stays authoritative.
func (s *Store) transmit(p pendingWrite) {
	now := s.opts.clock.Now()
	doc := p.doc
	editor := p.editor
	if editor == "" {
		editor = s.opts.identity
	}
	doc.Stamp(now, editor)

	payload, err := model.Encode(doc)
	if err != nil {
		log.Printf("state: failed to encode document: %v", err)
		return
	}

	s.mu.Lock()
	local := !s.connected && s.opts.mirror != nil
	if !local {
		s.lastWriteAt = now
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if local {
		if err := s.opts.mirror.Put(ctx, StorageKey, payload); err != nil {
			s.opts.metrics.writeFailed("local")
			log.Printf("state: failed to save document locally: %v", err)
			return
		}
		s.opts.metrics.wrote("local")
		s.applyStamp(p.seq, doc)
		return
	}

	if err := s.backend.Write(ctx, payload); err != nil {
		s.opts.metrics.writeFailed("remote")
		log.Printf("state: failed to save document to remote store: %v", err)
		return
	}
	s.opts.metrics.wrote("remote")
	s.applyStamp(p.seq, doc)
	for _, hook := range s.opts.hooks {
		go hook(context.Background(), doc.Clone())
	}
}

// applyStamp copies the write stamp into local state unless a remote
// document has replaced it since the version was produced.
func (s *Store) applyStamp(seq uint64, doc model.AppState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.remoteSeq {
		return
	}
	s.state.LastUpdated = doc.LastUpdated
	s.state.LastUpdatedBy = doc.LastUpdatedBy
	s.watch.publish(s.state)
}

// State returns a copy of the current document.
func (s *Store) State() model.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Phase:         s.phase,
		Loading:       !s.resolved,
		Connected:     s.connected,
		PendingWrite:  s.writer.hasPending(),
		LastUpdated:   s.state.LastUpdated,
		LastUpdatedBy: s.state.LastUpdatedBy,
	}
}

// Watch returns a channel that receives the current document and then every
// later version. Slow receivers only see the latest version. The cancel func
// closes the channel.
func (s *Store) Watch() (<-chan model.AppState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watch.watch(s.state.Clone())
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close writes any pending version, then releases the subscription and the
// backend.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.timeout != nil {
			s.timeout.Stop()
			s.timeout = nil
		}
		started := s.started
		cancel := s.cancel
		sub := s.sub
		s.mu.Unlock()

		if s.writer.flush() {
			log.Printf("state: flushed pending write on close")
		}
		if cancel != nil {
			cancel()
		}
		if sub != nil {
			_ = sub.Close()
		}
		if started {
			<-s.done
		}
		s.watch.close()
		s.closeErr = s.backend.Close()
	})
	return s.closeErr
}
