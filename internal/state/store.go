package state

import "context"

// Store is the durable key/value surface the engine uses for exchange nonce
// persistence and idempotent order placement.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
