package sink

import (
	"context"
)

// Sink is an object store which never overwrites existing objects
type Sink interface {
	// PutIfAbsent writes body to key unless an object already exists there, returning whether it was written
	PutIfAbsent(ctx context.Context, key string, contentType string, body []byte) (bool, error)

	// Check tests that the store is reachable
	Check(ctx context.Context) error
}
