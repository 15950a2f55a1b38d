package state

import "context"

// Store is the durable key/value surface backing the position ledger,
// executor idempotency keys, the exchange nonce and operator bookkeeping.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}
