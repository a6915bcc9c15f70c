// Package redis stores the document under one Redis key and announces every
// write on a pub/sub channel.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"missioncontrol/internal/backend"
)

// DefaultKey is the key the document is stored under.
const DefaultKey = "mission-control-state"

var errChannelClosed = errors.New("redis change channel closed")

// Backend implements backend.Backend using Redis.
type Backend struct {
	client  *goredis.Client
	key     string
	channel string
	owned   bool
}

// New builds a backend for redisURL. It does not dial: an unreachable server
// surfaces from Subscribe, Read or Write. An empty key selects DefaultKey.
func New(redisURL, key string) (*Backend, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	b := NewWithClient(goredis.NewClient(opts), key)
	b.owned = true
	return b, nil
}

// NewWithClient builds a backend over an existing client. The caller keeps
// ownership of client.
func NewWithClient(client *goredis.Client, key string) *Backend {
	if key == "" {
		key = DefaultKey
	}
	return &Backend{
		client:  client,
		key:     key,
		channel: key + ":changes",
	}
}

// Channel is the pub/sub channel writes are announced on.
func (b *Backend) Channel() string {
	return b.channel
}

func (b *Backend) Read(ctx context.Context) ([]byte, bool, error) {
	payload, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document: %w", err)
	}
	return payload, true, nil
}

// Write replaces the document and publishes it in one transaction.
func (b *Backend) Write(ctx context.Context, payload []byte) error {
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, b.key, payload, 0)
		pipe.Publish(ctx, b.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// Subscribe listens on the change channel, then reads the current document
// so no write between the two is missed.
func (b *Backend) Subscribe(ctx context.Context) (backend.Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	payload, exists, err := b.Read(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &subscription{
		ps:   ps,
		out:  make(chan backend.Notification),
		done: make(chan struct{}),
	}
	go sub.forward(ctx, backend.Notification{Payload: payload, Exists: exists})
	return sub, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client when the backend created it.
func (b *Backend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

type subscription struct {
	ps   *goredis.PubSub
	out  chan backend.Notification
	done chan struct{}
	once sync.Once
}

func (s *subscription) C() <-chan backend.Notification {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *subscription) forward(ctx context.Context, initial backend.Notification) {
	defer close(s.out)
	if !s.send(ctx, initial) {
		return
	}
	messages := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				s.send(ctx, backend.Notification{Err: errChannelClosed})
				return
			}
			if !s.send(ctx, backend.Notification{Payload: []byte(msg.Payload), Exists: true}) {
				return
			}
		}
	}
}

func (s *subscription) send(ctx context.Context, n backend.Notification) bool {
	select {
	case s.out <- n:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
