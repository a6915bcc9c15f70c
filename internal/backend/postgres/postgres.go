// Package postgres stores the document as one row and announces writes with
// LISTEN/NOTIFY.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"missioncontrol/internal/backend"
)

const (
	// DefaultPath identifies the document row.
	DefaultPath = "mission-control/state"

	// NotifyChannel carries the path of every written document.
	NotifyChannel = "mission_control_changes"
)

type Backend struct {
	db          *sql.DB
	databaseURL string
	path        string

	schemaMu sync.Mutex
	migrated bool
}

// Open returns a backend for the document at path. It does not dial: the
// first Subscribe, Read or Write connects and applies the embedded
// migrations, and reports an unreachable server. An empty path selects
// DefaultPath.
func Open(databaseURL, path string) (*Backend, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if path == "" {
		path = DefaultPath
	}
	return &Backend{db: db, databaseURL: databaseURL, path: path}, nil
}

// ensureSchema applies migrations once per backend. A failed attempt is
// retried on the next call.
func (b *Backend) ensureSchema(ctx context.Context) error {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()
	if b.migrated {
		return nil
	}
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	if err := ApplyMigrations(ctx, b.db); err != nil {
		return err
	}
	b.migrated = true
	return nil
}

func (b *Backend) Path() string { return b.path }

func (b *Backend) Read(ctx context.Context) ([]byte, bool, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return nil, false, err
	}
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM mission_control_documents WHERE path = $1`, b.path).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document: %w", err)
	}
	return payload, true, nil
}

// Write upserts the row and notifies listeners when the transaction commits.
func (b *Backend) Write(ctx context.Context, payload []byte) error {
	if err := b.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mission_control_documents (path, payload, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (path) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, b.path, string(payload)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, b.path); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("notify document change: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated connection, starts listening and then reads
// the current row, so a write between the two is not missed.
func (b *Backend) Subscribe(ctx context.Context) (backend.Subscription, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	conn, err := pgx.Connect(ctx, b.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	initial, err := readRow(ctx, conn, b.path)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		conn:   conn,
		path:   b.path,
		out:    make(chan backend.Notification),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.listen(listenCtx, initial)
	return sub, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func readRow(ctx context.Context, conn *pgx.Conn, path string) (backend.Notification, error) {
	var payload []byte
	err := conn.QueryRow(ctx, `SELECT payload FROM mission_control_documents WHERE path = $1`, path).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.Notification{}, nil
	}
	if err != nil {
		return backend.Notification{}, fmt.Errorf("read document: %w", err)
	}
	return backend.Notification{Payload: payload, Exists: true}, nil
}

type subscription struct {
	conn   *pgx.Conn
	path   string
	out    chan backend.Notification
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) C() <-chan backend.Notification {
	return s.out
}

// Close stops the listener and closes its connection.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		err = s.conn.Close(context.Background())
	})
	return err
}

func (s *subscription) listen(ctx context.Context, initial backend.Notification) {
	defer close(s.done)
	defer close(s.out)

	if !s.send(ctx, initial) {
		return
	}
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.send(ctx, backend.Notification{Err: fmt.Errorf("wait for notification: %w", err)})
			}
			return
		}
		if n.Channel != NotifyChannel || n.Payload != s.path {
			continue
		}
		current, err := readRow(ctx, s.conn, s.path)
		if err != nil {
			if ctx.Err() == nil {
				s.send(ctx, backend.Notification{Err: err})
			}
			return
		}
		if !s.send(ctx, current) {
			return
		}
	}
}

func (s *subscription) send(ctx context.Context, n backend.Notification) bool {
	select {
	case s.out <- n:
		return true
	case <-ctx.Done():
		return false
	}
}
