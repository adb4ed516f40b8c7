package eventsink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nyaruka/eventsink/core/models"
	"github.com/nyaruka/eventsink/export"
	"github.com/nyaruka/eventsink/metrics"
	"github.com/nyaruka/eventsink/runtime"
	"github.com/nyaruka/gocommon/dates"
)

// MessageNoEvents is the message of the response to an empty batch
const MessageNoEvents = "no events to process"

// Pipeline deduplicates and exports batches of events
type Pipeline struct {
	rt       *runtime.Runtime
	exporter *export.Exporter
}

// NewPipeline creates a new pipeline using the clients of the passed in runtime
func NewPipeline(rt *runtime.Runtime) *Pipeline {
	return &Pipeline{rt: rt, exporter: export.NewExporter(rt.Sink)}
}

// Handle is our Lambda handler, all failures are reported in the response rather than as errors
func (p *Pipeline) Handle(ctx context.Context, inv *Invocation) (Response, error) {
	if inv == nil {
		inv = &Invocation{}
	}
	return p.Process(ctx, inv), nil
}

// Process runs a batch through the pipeline: normalize, check the ledger, export, mark the ledger
func (p *Pipeline) Process(ctx context.Context, inv *Invocation) Response {
	start := time.Now()
	log := slog.With("comp", "pipeline")
	stats := &metrics.Invocation{}
	defer func() {
		stats.Elapsed = time.Since(start)
		p.rt.Metrics.Record(stats)
	}()

	if len(inv.Data) == 0 {
		log.Info("ignoring empty batch")
		stats.Outcome = metrics.OutcomeEmpty
		return newErrorResponse(MessageNoEvents, p.now())
	}

	outcomes := models.Normalize(inv.Data)
	rows := make([]*models.Row, 0, len(outcomes))
	invalid := 0

	for _, o := range outcomes {
		if o.Row != nil {
			rows = append(rows, o.Row)
		} else {
			invalid++
			log.Warn("invalid event will not be exported", "index", o.Defect.Index, "event_uuid", o.Defect.UUID, "reason", o.Defect.Reason)
		}
	}

	p.flushSpool(ctx)

	// our one snapshot is used both to count duplicates and to filter the export
	snapshot, err := p.rt.Ledger.Snapshot(ctx)
	if err != nil {
		log.Error("unable to read dedup ledger", "error", err)
		stats.Outcome = metrics.OutcomeError
		return newErrorResponse(fmt.Sprintf("unable to read dedup ledger: %s", err), p.now())
	}

	duplicates := 0
	for _, o := range outcomes {
		if uuid := o.UUID(); uuid != models.NilEventUUID && snapshot.Contains(uuid) {
			duplicates++
		}
	}

	result, err := p.exporter.Export(ctx, rows, snapshot)
	if err != nil {
		log.Error("error exporting events", "error", err, "written", result.Written)
		stats.Outcome = metrics.OutcomeError
		stats.Written = result.Written
		return newErrorResponse(fmt.Sprintf("error exporting events: %s", err), p.now())
	}

	// mark every row we exported or found to be a duplicate, the latter refreshing its expiration
	marks := make([]models.EventUUID, len(rows))
	for i, r := range rows {
		marks[i] = r.UUID
	}

	if err := p.rt.Ledger.Mark(ctx, marks); err != nil {
		log.Error("error marking exported events in ledger", "error", err, "count", len(marks))
		stats.MarkFailed = true

		if p.rt.Spool != nil {
			if err := p.rt.Spool.Write(marks); err != nil {
				log.Error("error writing marks to spool", "error", err)
			}
		}
	}

	*stats = metrics.Invocation{
		Outcome:    metrics.OutcomeSuccess,
		Processed:  len(inv.Data),
		Duplicates: duplicates,
		Invalid:    invalid,
		Written:    result.Written,
		Existing:   result.Existing,
		MarkFailed: stats.MarkFailed,
	}

	log.Info("batch processed", "events", len(inv.Data), "duplicates", duplicates, "invalid", invalid, "written", result.Written, "existing", result.Existing, "partitions", result.Partitions, "elapsed_ms", time.Since(start).Milliseconds())

	return newResponse(http.StatusOK, &Result{
		NumEventsProcessed: len(inv.Data),
		NumDuplicateEvents: duplicates,
		NumInvalidEvents:   invalid,
		Timestamp:          unixSeconds(p.now()),
	})
}

// marks which couldn't be written by an earlier invocation are retried before we take our snapshot
func (p *Pipeline) flushSpool(ctx context.Context) {
	if p.rt.Spool == nil {
		return
	}

	flushed, err := p.rt.Spool.Flush(ctx, p.rt.Ledger)
	if err != nil {
		slog.Error("error flushing ledger spool", "comp", "pipeline", "error", err)
	}
	if flushed > 0 {
		slog.Info("flushed spooled ledger marks", "comp", "pipeline", "count", flushed)
	}
}

func (p *Pipeline) now() time.Time {
	if p.rt.Location == nil {
		return dates.Now().UTC()
	}
	return dates.Now().In(p.rt.Location)
}
