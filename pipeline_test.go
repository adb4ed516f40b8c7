package eventsink_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nyaruka/eventsink"
	"github.com/nyaruka/eventsink/core/models"
	"github.com/nyaruka/eventsink/ledger"
	"github.com/nyaruka/eventsink/testsuite"
	"github.com/nyaruka/gocommon/dates"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 31, 1, 30, 0, 0, time.UTC)

func invocation(t *testing.T, body string) *eventsink.Invocation {
	inv := &eventsink.Invocation{}
	require.NoError(t, json.Unmarshal([]byte(body), inv))
	return inv
}

func result(t *testing.T, resp eventsink.Response) *eventsink.Result {
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, resp.Headers)

	r := &eventsink.Result{}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), r))
	return r
}

func TestProcess(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	testsuite.SeedLedger(t, mr, "key_1", "key_2")

	p := eventsink.NewPipeline(rt)

	resp := p.Process(ctx, invocation(t, `{"data": [
		{"event_uuid": "key_2", "event_name": "account:created", "created_at": 1711848600, "payload": {}},
		{"event_uuid": "e1", "event_name": "lesson:started", "created_at": 1711848600, "payload": {"c": "cc"}}
	]}`))

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{NumEventsProcessed: 2, NumDuplicateEvents: 1, Timestamp: 1711848600}, result(t, resp))
	assert.JSONEq(t, `{"num_events_processed": 2, "num_duplicate_events": 1, "num_invalid_events": 0, "timestamp": 1711848600}`, resp.Body)

	// only the new event was exported
	assert.Equal(t, []string{"date=2024-03-31/event_type=lesson/e1.parquet"}, testsuite.Sink(rt).Keys())

	records := testsuite.ReadExport(t, rt, "date=2024-03-31/event_type=lesson/e1.parquet")
	require.Len(t, records, 1)
	assert.Equal(t, "e1", records[0].EventUUID)
	assert.Equal(t, "started", records[0].EventSubtype)
	assert.Equal(t, `{"c":"cc"}`, records[0].Payload)

	// both events are now in the ledger, the duplicate with a refreshed expiration
	assert.ElementsMatch(t, []string{"key_1", "key_2", "e1"}, testsuite.LedgerKeys(mr))
	assert.Equal(t, 7*24*time.Hour, mr.DB(15).TTL("e1"))
	assert.Equal(t, 7*24*time.Hour, mr.DB(15).TTL("key_2"))

	assert.NoError(t, testutil.GatherAndCompare(rt.Registry, strings.NewReader(`
# HELP eventsink_invocations_total Number of invocations by outcome.
# TYPE eventsink_invocations_total counter
eventsink_invocations_total{outcome="success"} 1
`), "eventsink_invocations_total"))
}

func TestProcessEmptyBatch(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	testsuite.SeedLedger(t, mr, "key_1")
	p := eventsink.NewPipeline(rt)

	for _, body := range []string{`{"data": []}`, `{}`, `{"data": null}`} {
		resp := p.Process(ctx, invocation(t, body))

		assert.Equal(t, 400, resp.StatusCode, "status mismatch for %s", body)
		assert.Equal(t, &eventsink.Result{Message: "no events to process", Timestamp: 1711848600}, result(t, resp), "result mismatch for %s", body)
	}

	// a nil invocation is also an empty batch
	resp, err := p.Handle(ctx, nil)
	assert.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	assert.Len(t, testsuite.Sink(rt).Keys(), 0)
	assert.Equal(t, []string{"key_1"}, testsuite.LedgerKeys(mr))
}

func TestProcessLedgerUnavailable(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	mr.Close()

	resp := eventsink.NewPipeline(rt).Process(ctx, invocation(t, `{"data": [
		{"event_uuid": "e1", "event_name": "lesson:started", "created_at": 1711848600, "payload": {}}
	]}`))

	assert.Equal(t, 400, resp.StatusCode)

	r := result(t, resp)
	assert.Contains(t, r.Message, "unable to read dedup ledger: dedup ledger unavailable")
	assert.Equal(t, 0, r.NumEventsProcessed)
	assert.Equal(t, 0, r.NumDuplicateEvents)

	// nothing was written
	assert.Len(t, testsuite.Sink(rt).Keys(), 0)
}

func TestProcessExportFailure(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	testsuite.Sink(rt).SetError(errors.New("access denied"), 2)

	resp := eventsink.NewPipeline(rt).Process(ctx, invocation(t, `{"data": [
		{"event_uuid": "e1", "event_name": "account:created", "created_at": 1711848600, "payload": {}},
		{"event_uuid": "e2", "event_name": "lesson:started", "created_at": 1711848600, "payload": {}}
	]}`))

	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{
		Message:   "error exporting events: error exporting partition date=2024-03-31/event_type=lesson: access denied",
		Timestamp: 1711848600,
	}, result(t, resp))

	// the file written before the failure remains but nothing was marked
	assert.Equal(t, []string{"date=2024-03-31/event_type=account/e1.parquet"}, testsuite.Sink(rt).Keys())
	assert.Len(t, testsuite.LedgerKeys(mr), 0)

	// a retry of the same batch completes the export without duplicating the first file
	testsuite.Sink(rt).SetError(nil, 0)

	resp = eventsink.NewPipeline(rt).Process(ctx, invocation(t, `{"data": [
		{"event_uuid": "e1", "event_name": "account:created", "created_at": 1711848600, "payload": {}},
		{"event_uuid": "e2", "event_name": "lesson:started", "created_at": 1711848600, "payload": {}}
	]}`))

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{NumEventsProcessed: 2, NumDuplicateEvents: 0, Timestamp: 1711848600}, result(t, resp))
	assert.Equal(t, []string{"date=2024-03-31/event_type=account/e1.parquet", "date=2024-03-31/event_type=lesson/e2.parquet"}, testsuite.Sink(rt).Keys())
	assert.ElementsMatch(t, []string{"e1", "e2"}, testsuite.LedgerKeys(mr))
}

func TestProcessInvalidEvents(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	testsuite.SeedLedger(t, mr, "bad_1")

	resp := eventsink.NewPipeline(rt).Process(ctx, invocation(t, `{"data": [
		{"event_uuid": "e1", "event_name": "heartbeat", "created_at": "1711848600"},
		{"event_uuid": "bad_1", "event_name": "lesson:started", "created_at": "tomorrow", "payload": {}},
		{"event_name": "lesson:started", "created_at": 1711848600},
		"not an event"
	]}`))

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{NumEventsProcessed: 4, NumDuplicateEvents: 1, NumInvalidEvents: 3, Timestamp: 1711848600}, result(t, resp))

	// an event name without a colon has an empty subtype
	assert.Equal(t, []string{"date=2024-03-31/event_type=heartbeat/e1.parquet"}, testsuite.Sink(rt).Keys())
	records := testsuite.ReadExport(t, rt, "date=2024-03-31/event_type=heartbeat/e1.parquet")
	assert.Equal(t, "", records[0].EventSubtype)
	assert.Equal(t, "null", records[0].Payload)

	// invalid events aren't marked
	assert.ElementsMatch(t, []string{"bad_1", "e1"}, testsuite.LedgerKeys(mr))
}

func TestProcessIdempotence(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	batch := `{"data": [
		{"event_uuid": "e1", "event_name": "account:created", "created_at": 1711848600, "payload": {}},
		{"event_uuid": "e2", "event_name": "lesson:started", "created_at": 1711848600, "payload": {"c": "cc"}},
		{"event_uuid": "e3", "event_name": "payment:order:completed", "created_at": 1711848600, "payload": {"q": "qq", "v": "vv"}}
	]}`
	p := eventsink.NewPipeline(rt)

	resp := p.Process(ctx, invocation(t, batch))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 0, result(t, resp).NumDuplicateEvents)

	keys := testsuite.Sink(rt).Keys()
	assert.Equal(t, []string{
		"date=2024-03-31/event_type=account/e1.parquet",
		"date=2024-03-31/event_type=lesson/e2.parquet",
		"date=2024-03-31/event_type=payment/e3.parquet",
	}, keys)

	resp = p.Process(ctx, invocation(t, batch))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{NumEventsProcessed: 3, NumDuplicateEvents: 3, Timestamp: 1711848600}, result(t, resp))
	assert.Equal(t, keys, testsuite.Sink(rt).Keys())

	// once the ledger entries expire the events are no longer duplicates, but files aren't rewritten
	mr.FastForward(7*24*time.Hour + time.Second)

	resp = p.Process(ctx, invocation(t, batch))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 0, result(t, resp).NumDuplicateEvents)
	assert.Equal(t, keys, testsuite.Sink(rt).Keys())
}

func TestProcessRepeatedUUIDs(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	testsuite.SeedLedger(t, mr, "key_1", "key_2")

	resp := eventsink.NewPipeline(rt).Process(ctx, invocation(t, `{"data": [
		{"event_uuid": "key_2", "event_name": "account:created", "created_at": 1711848600, "payload": {}},
		{"event_uuid": "event_uuid", "event_name": "lesson:started", "created_at": 1711848600, "payload": {"c": "cc"}},
		{"event_uuid": "event_uuid", "event_name": "payment:order:completed", "created_at": 1711848600, "payload": {"q": "qq", "v": "vv"}},
		{"event_uuid": "event_uuid", "event_name": "account:created", "created_at": 1711848600, "payload": {"gjh": 543, "324": 324}},
		{"event_uuid": "event_uuid", "event_name": "lesson:started", "created_at": 1711848600, "payload": {"asfsad": "ehgr", "afae": "arfwefw"}}
	]}`))

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{NumEventsProcessed: 5, NumDuplicateEvents: 1, Timestamp: 1711848600}, result(t, resp))

	// events sharing a UUID aren't deduplicated against each other, except where they collide on a path
	assert.Equal(t, []string{
		"date=2024-03-31/event_type=account/event_uuid.parquet",
		"date=2024-03-31/event_type=lesson/event_uuid.parquet",
		"date=2024-03-31/event_type=payment/event_uuid.parquet",
	}, testsuite.Sink(rt).Keys())

	records := testsuite.ReadExport(t, rt, "date=2024-03-31/event_type=lesson/event_uuid.parquet")
	assert.Equal(t, `{"c":"cc"}`, records[0].Payload)
}

// a ledger whose marks always fail
type markFailingLedger struct {
	ledger.Ledger
}

func (l *markFailingLedger) Mark(ctx context.Context, uuids []models.EventUUID) error {
	return errors.New("connection reset")
}

func TestProcessMarkFailure(t *testing.T) {
	ctx, rt, mr := testsuite.Runtime(t)
	dates.SetNowFunc(dates.NewFixedNow(now))
	defer dates.SetNowFunc(time.Now)

	redisLedger := rt.Ledger
	rt.Ledger = &markFailingLedger{redisLedger}

	batch := `{"data": [
		{"event_uuid": "e1", "event_name": "account:created", "created_at": 1711848600, "payload": {}},
		{"event_uuid": "e2", "event_name": "lesson:started", "created_at": 1711848600, "payload": {}}
	]}`

	// export still succeeds
	resp := eventsink.NewPipeline(rt).Process(ctx, invocation(t, batch))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{NumEventsProcessed: 2, Timestamp: 1711848600}, result(t, resp))
	assert.Len(t, testsuite.Sink(rt).Keys(), 2)
	assert.Len(t, testsuite.LedgerKeys(mr), 0)

	// but the marks are spooled
	spooled, _ := filepath.Glob(filepath.Join(rt.Config.SpoolDir, "*.json"))
	assert.Len(t, spooled, 1)

	// and flushed by the next invocation before it reads the ledger
	rt.Ledger = redisLedger

	resp = eventsink.NewPipeline(rt).Process(ctx, invocation(t, batch))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, &eventsink.Result{NumEventsProcessed: 2, NumDuplicateEvents: 2, Timestamp: 1711848600}, result(t, resp))
	assert.ElementsMatch(t, []string{"e1", "e2"}, testsuite.LedgerKeys(mr))

	spooled, _ = filepath.Glob(filepath.Join(rt.Config.SpoolDir, "*.json"))
	assert.Len(t, spooled, 0)
}

func TestProcessTimestamp(t *testing.T) {
	ctx, rt, _ := testsuite.Runtime(t)

	// timestamps are absolute so identical whatever the timezone
	t1 := time.Date(2024, 7, 1, 12, 0, 0, 250000000, time.UTC)
	dates.SetNowFunc(dates.NewFixedNow(t1))
	defer dates.SetNowFunc(time.Now)

	resp := eventsink.NewPipeline(rt).Process(ctx, &eventsink.Invocation{})
	assert.Equal(t, 1719835200.25, result(t, resp).Timestamp)
}
