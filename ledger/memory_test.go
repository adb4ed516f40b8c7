package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nyaruka/eventsink/core/models"
	"github.com/nyaruka/eventsink/ledger"
	"github.com/stretchr/testify/assert"
)

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()

	l := ledger.NewMemory(100 * time.Millisecond)
	assert.NoError(t, l.Check(ctx))

	snapshot, err := l.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Equal(t, ledger.Set{}, snapshot)

	err = l.Mark(ctx, []models.EventUUID{"key_1", "key_2"})
	assert.NoError(t, err)

	snapshot, err = l.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Equal(t, ledger.NewSet("key_1", "key_2"), snapshot)

	// after expiration they're gone
	time.Sleep(150 * time.Millisecond)

	snapshot, err = l.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Equal(t, ledger.Set{}, snapshot)

	l.SetError(errors.New("boom"))

	_, err = l.Snapshot(ctx)
	assert.EqualError(t, err, "dedup ledger unavailable: boom")
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.ErrorIs(t, l.Mark(ctx, []models.EventUUID{"key_3"}), ledger.ErrUnavailable)
	assert.ErrorIs(t, l.Check(ctx), ledger.ErrUnavailable)

	l.SetError(nil)
	assert.NoError(t, l.Mark(ctx, []models.EventUUID{"key_3"}))

	snapshot, err = l.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Equal(t, ledger.NewSet("key_3"), snapshot)
}
