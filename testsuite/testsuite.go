package testsuite

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nyaruka/eventsink/export"
	"github.com/nyaruka/eventsink/ledger"
	"github.com/nyaruka/eventsink/metrics"
	"github.com/nyaruka/eventsink/runtime"
	"github.com/nyaruka/eventsink/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// Runtime creates a runtime for testing with a Redis ledger served by miniredis, an in-memory sink and
// a spool in a temp directory
func Runtime(t *testing.T) (context.Context, *runtime.Runtime, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	cfg := runtime.NewDefaultConfig()
	cfg.Redis = "redis://" + mr.Addr() + "/15"
	cfg.SpoolDir = filepath.Join(t.TempDir(), "spool")

	rp, err := ledger.NewPool(cfg.Redis, 4)
	require.NoError(t, err)
	t.Cleanup(func() { rp.Close() })

	loc, err := cfg.Location()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()

	rt := &runtime.Runtime{
		Config:   cfg,
		RP:       rp,
		Ledger:   ledger.NewRedis(rp, cfg.LedgerKeyPrefix, cfg.TTL()),
		Spool:    ledger.NewSpool(cfg.SpoolDir),
		Sink:     sink.NewMemory(),
		Location: loc,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}
	require.NoError(t, rt.Spool.EnsureDir())

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	return context.Background(), rt, mr
}

// Sink returns the memory sink of a test runtime
func Sink(rt *runtime.Runtime) *sink.Memory {
	return rt.Sink.(*sink.Memory)
}

// SeedLedger adds the passed in UUIDs directly to the Redis ledger with a 7 day expiration
func SeedLedger(t *testing.T, mr *miniredis.Miniredis, uuids ...string) {
	db := mr.DB(15)
	for _, u := range uuids {
		require.NoError(t, db.Set(u, u))
		db.SetTTL(u, 7*24*time.Hour)
	}
}

// LedgerKeys returns the keys currently in the Redis ledger
func LedgerKeys(mr *miniredis.Miniredis) []string {
	return mr.DB(15).Keys()
}

// ReadExport reads the records of the exported file at key
func ReadExport(t *testing.T, rt *runtime.Runtime, key string) []export.Record {
	obj := Sink(rt).Get(key)
	require.NotNil(t, obj, "no exported file with key %s", key)

	records, err := export.Decode(obj.Body)
	require.NoError(t, err)
	return records
}
