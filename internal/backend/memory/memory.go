// Package memory is an in-process document backend. It backs the service
// when no remote store is configured and stands in for one in tests.
package memory

import (
	"context"
	"sync"

	"missioncontrol/internal/backend"
)

type Backend struct {
	mu       sync.Mutex
	payload  []byte
	exists   bool
	closed   bool
	writeErr error
	subs     map[*subscription]struct{}
}

func New() *Backend {
	return &Backend{subs: make(map[*subscription]struct{})}
}

// NewWithDocument returns a backend that already holds payload.
func NewWithDocument(payload []byte) *Backend {
	b := New()
	b.payload = append([]byte(nil), payload...)
	b.exists = true
	return b
}

// FailWrites makes every following Write return err. Pass nil to recover.
func (b *Backend) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// Break delivers err to every open subscription and closes them.
func (b *Backend) Break(err error) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(backend.Notification{Err: err})
		sub.finish()
	}
}

func (b *Backend) Read(ctx context.Context) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false, backend.ErrClosed
	}
	if !b.exists {
		return nil, false, nil
	}
	return append([]byte(nil), b.payload...), true, nil
}

func (b *Backend) Write(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return backend.ErrClosed
	}
	if b.writeErr != nil {
		err := b.writeErr
		b.mu.Unlock()
		return err
	}
	b.payload = append([]byte(nil), payload...)
	b.exists = true
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(backend.Notification{Payload: append([]byte(nil), payload...), Exists: true})
	}
	return nil
}

func (b *Backend) Subscribe(ctx context.Context) (backend.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, backend.ErrClosed
	}
	sub := newSubscription(func(s *subscription) {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	})
	b.subs[sub] = struct{}{}
	initial := backend.Notification{Exists: b.exists}
	if b.exists {
		initial.Payload = append([]byte(nil), b.payload...)
	}
	sub.push(initial)
	return sub, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.finish()
	}
	return nil
}

// subscription queues notifications without bounding so a slow consumer
// never blocks writers.
type subscription struct {
	mu      sync.Mutex
	queue   []backend.Notification
	closing bool
	wake    chan struct{}
	out     chan backend.Notification
	done    chan struct{}
	once    sync.Once
	onClose func(*subscription)
}

func newSubscription(onClose func(*subscription)) *subscription {
	s := &subscription{
		wake:    make(chan struct{}, 1),
		out:     make(chan backend.Notification),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go s.pump()
	return s
}

func (s *subscription) C() <-chan backend.Notification {
	return s.out
}

func (s *subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.onClose != nil {
		s.onClose(s)
	}
	return nil
}

// finish ends the subscription once queued notifications are delivered.
func (s *subscription) finish() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) push(n backend.Notification) {
	s.mu.Lock()
	s.queue = append(s.queue, n)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
