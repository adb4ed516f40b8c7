package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nyaruka/eventsink/core/models"
	"github.com/patrickmn/go-cache"
)

// Memory is a ledger that lives in process memory, it only deduplicates across warm invocations of
// the same process so is meant for testing and local use
type Memory struct {
	cache *cache.Cache
	ttl   time.Duration

	mutex sync.Mutex
	err   error
}

// NewMemory creates a new in-memory ledger. Expired items are dropped lazily so no janitor is started.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{cache: cache.New(ttl, 0), ttl: ttl}
}

// Snapshot returns all unexpired UUIDs
func (l *Memory) Snapshot(ctx context.Context) (Set, error) {
	if err := l.failure(); err != nil {
		return nil, err
	}

	items := l.cache.Items()
	snapshot := make(Set, len(items))
	for k := range items {
		snapshot[models.EventUUID(k)] = true
	}
	return snapshot, nil
}

// Mark records the passed in UUIDs with a fresh expiration
func (l *Memory) Mark(ctx context.Context, uuids []models.EventUUID) error {
	if err := l.failure(); err != nil {
		return err
	}

	for _, uuid := range uuids {
		l.cache.Set(string(uuid), string(uuid), l.ttl)
	}
	return nil
}

// Check returns any error set with SetError
func (l *Memory) Check(ctx context.Context) error {
	return l.failure()
}

// SetError makes all subsequent operations fail with the passed in error, nil restores normal operation
func (l *Memory) SetError(err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.err = err
}

func (l *Memory) failure() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, l.err)
	}
	return nil
}
