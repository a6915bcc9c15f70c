package state

import (
	"context"
	"log"
	"sync"

	"missioncontrol/internal/kv"
	"missioncontrol/internal/model"
)

// LocalStore keeps the document in local key-value storage only. There is
// no subscription and no echo handling; saves are debounced the same way as
// Store writes.
type LocalStore struct {
	kv     kv.Store
	opts   options
	writer *writeScheduler
	watch  *broadcaster

	mu     sync.Mutex
	state  model.AppState
	seq    uint64
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// OpenLocal loads the stored document. A missing or unreadable document, or
// one saved by a different schema version, is replaced by the default. The
// LocalStore owns store and closes it on Close.
func OpenLocal(ctx context.Context, store kv.Store, opts ...Option) (*LocalStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := &LocalStore{
		kv:    store,
		opts:  o,
		watch: newBroadcaster(),
		seq:   1,
	}
	l.writer = newWriteScheduler(o.clock, o.debounce, l.save)
	l.state = l.load(ctx)
	return l, nil
}

func (l *LocalStore) load(ctx context.Context) model.AppState {
	payload, found, err := l.kv.Get(ctx, StorageKey)
	if err != nil {
		log.Printf("state: failed to load local document: %v", err)
		return model.Default(l.opts.clock.Now())
	}
	if !found {
		return model.Default(l.opts.clock.Now())
	}
	doc, err := model.Decode(payload)
	if err != nil {
		log.Printf("state: local document unreadable, using default: %v", err)
		return model.Default(l.opts.clock.Now())
	}
	if doc.Version != model.CurrentVersion {
		log.Printf("state: local document has version %q, using default", doc.Version)
		return model.Default(l.opts.clock.Now())
	}
	return doc
}

func (l *LocalStore) save(p pendingWrite) {
	payload, err := model.Encode(p.doc)
	if err != nil {
		log.Printf("state: failed to encode document: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.kv.Put(ctx, StorageKey, payload); err != nil {
		l.opts.metrics.writeFailed("local")
		log.Printf("state: failed to save document locally: %v", err)
		return
	}
	l.opts.metrics.wrote("local")
}

// Update applies fn and schedules a debounced save.
func (l *LocalStore) Update(ctx context.Context, fn Updater) model.AppState {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.applyLocked(fn)
	if !l.closed {
		l.writer.schedule(p)
	}
	return l.state.Clone()
}

// UpdateImmediate applies fn and saves without waiting for the quiet period.
func (l *LocalStore) UpdateImmediate(ctx context.Context, fn Updater) model.AppState {
	l.mu.Lock()
	p := l.applyLocked(fn)
	out := l.state.Clone()
	closed := l.closed
	l.mu.Unlock()

	if !closed {
		l.writer.immediate(p)
	}
	return out
}

func (l *LocalStore) applyLocked(fn Updater) pendingWrite {
	l.state = fn(l.state.Clone())
	l.seq++
	l.watch.publish(l.state)
	return pendingWrite{seq: l.seq, doc: l.state.Clone()}
}

func (l *LocalStore) State() model.AppState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

func (l *LocalStore) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Phase:         PhaseLocal,
		PendingWrite:  l.writer.hasPending(),
		LastUpdated:   l.state.LastUpdated,
		LastUpdatedBy: l.state.LastUpdatedBy,
	}
}

func (l *LocalStore) Watch() (<-chan model.AppState, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watch.watch(l.state.Clone())
}

func (l *LocalStore) Ping(ctx context.Context) error {
	_, _, err := l.kv.Get(ctx, StorageKey)
	return err
}

// Close saves any pending version and closes the underlying storage.
func (l *LocalStore) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		l.writer.flush()
		l.watch.close()
		l.closeErr = l.kv.Close()
	})
	return l.closeErr
}
