package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/nyaruka/eventsink/core/models"
)

// DefaultTTL is how long a UUID is remembered after being marked
const DefaultTTL = 7 * 24 * time.Hour

// ErrUnavailable is returned when the ledger store can't be reached
var ErrUnavailable = errors.New("dedup ledger unavailable")

// Ledger records the UUIDs of events which have already been exported
type Ledger interface {
	// Snapshot returns all the UUIDs which are currently live
	Snapshot(ctx context.Context) (Set, error)

	// Mark records the passed in UUIDs, resetting their expiration if they already exist
	Mark(ctx context.Context, uuids []models.EventUUID) error

	// Check tests that the ledger store is reachable
	Check(ctx context.Context) error
}

// Set is a set of event UUIDs
type Set map[models.EventUUID]bool

// NewSet creates a new set from the passed in UUIDs
func NewSet(uuids ...models.EventUUID) Set {
	s := make(Set, len(uuids))
	for _, u := range uuids {
		s[u] = true
	}
	return s
}

// Contains returns whether the passed in UUID is in this set
func (s Set) Contains(uuid models.EventUUID) bool {
	return s[uuid]
}
