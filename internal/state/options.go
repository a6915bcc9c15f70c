package state

import (
	"context"
	"time"

	"missioncontrol/internal/kv"
	"missioncontrol/internal/model"
)

const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultEchoWindow     = 100 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second

	// StorageKey is the key the document is kept under in local storage.
	StorageKey = "mission-control-state"

	writeTimeout = 10 * time.Second
)

// PersistHook observes every document successfully written to the remote
// store. Hooks run on their own goroutine.
type PersistHook func(ctx context.Context, doc model.AppState)

type options struct {
	clock          Clock
	identity       string
	debounce       time.Duration
	echoWindow     time.Duration
	connectTimeout time.Duration
	mirror         kv.Store
	metrics        *Metrics
	hooks          []PersistHook
}

type Option func(*options)

func defaultOptions() options {
	return options{
		clock:          realClock{},
		debounce:       DefaultDebounce,
		echoWindow:     DefaultEchoWindow,
		connectTimeout: DefaultConnectTimeout,
	}
}

func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithIdentity sets the writer name stamped on documents when an update
// carries no editor of its own.
func WithIdentity(name string) Option {
	return func(o *options) { o.identity = name }
}

func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

func WithEchoWindow(d time.Duration) Option {
	return func(o *options) { o.echoWindow = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithLocalMirror persists writes to local storage while the remote store
// is unreachable.
func WithLocalMirror(store kv.Store) Option {
	return func(o *options) { o.mirror = store }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithPersistHook(hook PersistHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hook) }
}

type editorKey struct{}

// WithEditor attaches the display name of the person making an edit.
func WithEditor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, editorKey{}, name)
}

func editorFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(editorKey{}).(string)
	return name
}
