// Package kv defines the local byte storage used for offline persistence.
package kv

import "context"

type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}
